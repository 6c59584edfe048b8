package domain

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// VenueKind identifies the AMM family a venue belongs to.
type VenueKind uint8

const (
	KindUnknown VenueKind = iota
	KindConstantProduct
	KindConcentrated
	KindBin
	KindBondingCurve
	KindOracle
)

var venueKindNames = map[VenueKind]string{
	KindConstantProduct: "constant_product",
	KindConcentrated:    "concentrated",
	KindBin:             "bin",
	KindBondingCurve:    "bonding_curve",
	KindOracle:          "oracle",
}

func (k VenueKind) String() string {
	if s, ok := venueKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseVenueKind maps a kind tag from the feed to a VenueKind.
func ParseVenueKind(s string) (VenueKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range venueKindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: unknown venue kind %q", ErrInvalidUpdate, s)
}

// Direction selects which side of a venue's pair is sold.
type Direction uint8

const (
	AToB Direction = iota
	BToA
)

func (d Direction) String() string {
	if d == AToB {
		return "a_to_b"
	}
	return "b_to_a"
}

// Valid reports whether d is one of the two defined directions.
func (d Direction) Valid() bool { return d == AToB || d == BToA }

// FeeParams describes the trade fee charged on input, in parts per million.
type FeeParams struct {
	RatePPM uint32 `json:"rate_ppm"`
}

// FeeDenominator is the fixed-point base of FeeParams.RatePPM.
const FeeDenominator = 1_000_000

// Attributes is the kind-specific state payload of a venue. The set of
// implementations is closed.
type Attributes interface {
	Kind() VenueKind
	clone() Attributes
}

// ConstantProductAttrs holds x*y=k reserves.
type ConstantProductAttrs struct {
	ReserveA uint64
	ReserveB uint64
}

func (ConstantProductAttrs) Kind() VenueKind     { return KindConstantProduct }
func (a ConstantProductAttrs) clone() Attributes { return a }

// LiquidityRange is a price interval with constant liquidity. Bounds are
// Q64.64 square roots of the B-per-A price.
type LiquidityRange struct {
	SqrtLowerX64 uint256.Int
	SqrtUpperX64 uint256.Int
	Liquidity    uint256.Int
}

// ConcentratedAttrs holds tick-based liquidity. Ranges are ascending and
// contiguous; SqrtPriceX64 lies inside one of them.
type ConcentratedAttrs struct {
	SqrtPriceX64 uint256.Int
	Ranges       []LiquidityRange
}

func (ConcentratedAttrs) Kind() VenueKind { return KindConcentrated }
func (a ConcentratedAttrs) clone() Attributes {
	a.Ranges = append([]LiquidityRange(nil), a.Ranges...)
	return a
}

// Bin is one discrete price level. PriceX64 is B per A in Q64.64.
type Bin struct {
	ID       int32
	PriceX64 uint256.Int
	ReserveA uint64
	ReserveB uint64
}

// BinAttrs holds bin-based liquidity, bins ascending by ID.
type BinAttrs struct {
	ActiveID int32
	Bins     []Bin
}

func (BinAttrs) Kind() VenueKind { return KindBin }
func (a BinAttrs) clone() Attributes {
	a.Bins = append([]Bin(nil), a.Bins...)
	return a
}

// BondingCurveAttrs is a virtual-reserve curve whose payouts are capped by
// the real reserves held by the venue.
type BondingCurveAttrs struct {
	VirtualA uint64
	VirtualB uint64
	RealA    uint64
	RealB    uint64
}

func (BondingCurveAttrs) Kind() VenueKind     { return KindBondingCurve }
func (a BondingCurveAttrs) clone() Attributes { return a }

// OracleAttrs describes a proprietary market maker quoting around an oracle
// price (B per A, Q64.64) with depth-limited size on each side.
type OracleAttrs struct {
	PriceX64 uint256.Int
	DepthA   uint64
	DepthB   uint64
}

func (OracleAttrs) Kind() VenueKind     { return KindOracle }
func (a OracleAttrs) clone() Attributes { return a }

// CloneAttributes returns a deep copy of attrs.
func CloneAttributes(attrs Attributes) Attributes {
	if attrs == nil {
		return nil
	}
	return attrs.clone()
}

// Quoter is the quoting capability of one venue state. It is bound once when
// the venue is stored and never changes afterwards.
type Quoter interface {
	Quote(dir Direction, amountIn uint64) (uint64, error)
	MaxInput(dir Direction) uint64
	SpotPrice(dir Direction) decimal.Decimal
}

// Venue is one tracked liquidity pool. Values stored in the registry are
// immutable.
type Venue struct {
	Address solana.PublicKey
	Kind    VenueKind
	MintA   solana.PublicKey
	MintB   solana.PublicKey
	Fee     FeeParams
	Attrs   Attributes
	Version uint64
	Quoter  Quoter
}

// DirectionFrom returns the direction that sells mint into the venue.
func (v *Venue) DirectionFrom(mint solana.PublicKey) (Direction, error) {
	switch {
	case mint.Equals(v.MintA):
		return AToB, nil
	case mint.Equals(v.MintB):
		return BToA, nil
	default:
		return 0, fmt.Errorf("%w: venue %s does not trade %s", ErrInvalidDirection, v.Address, mint)
	}
}

// OtherMint returns the counterpart of mint in the venue's pair.
func (v *Venue) OtherMint(mint solana.PublicKey) (solana.PublicKey, bool) {
	switch {
	case mint.Equals(v.MintA):
		return v.MintB, true
	case mint.Equals(v.MintB):
		return v.MintA, true
	default:
		return solana.PublicKey{}, false
	}
}

// VenueUpdate is a normalized state change delivered by the feed.
type VenueUpdate struct {
	Address solana.PublicKey
	Kind    VenueKind
	MintA   solana.PublicKey
	MintB   solana.PublicKey
	Fee     FeeParams
	Attrs   Attributes
	Version uint64
}

// Validate rejects structurally malformed updates before they reach the
// registry.
func (u VenueUpdate) Validate() error {
	switch {
	case u.Address.IsZero():
		return fmt.Errorf("%w: empty address", ErrInvalidUpdate)
	case u.MintA.IsZero() || u.MintB.IsZero():
		return fmt.Errorf("%w: venue %s: empty mint", ErrInvalidUpdate, u.Address)
	case u.MintA.Equals(u.MintB):
		return fmt.Errorf("%w: venue %s: identical mints", ErrInvalidUpdate, u.Address)
	case u.Attrs == nil:
		return fmt.Errorf("%w: venue %s: missing attributes", ErrInvalidUpdate, u.Address)
	case u.Attrs.Kind() != u.Kind:
		return fmt.Errorf("%w: venue %s: attributes of kind %s for %s venue", ErrInvalidUpdate, u.Address, u.Attrs.Kind(), u.Kind)
	case u.Fee.RatePPM >= FeeDenominator:
		return fmt.Errorf("%w: venue %s: fee rate %d ppm", ErrInvalidUpdate, u.Address, u.Fee.RatePPM)
	}
	return nil
}
