// Package feed turns raw venue-state records from Redis streams or a
// websocket into registry updates.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Record is the JSON form of a venue state. Amounts are decimal strings so
// that 128-bit fixed-point values survive JSON number handling. Exactly one
// of the kind payloads is set, matching Kind.
type Record struct {
	Address solana.PublicKey `json:"address"`
	Kind    string           `json:"kind"`
	MintA   solana.PublicKey `json:"mint_a"`
	MintB   solana.PublicKey `json:"mint_b"`
	FeePPM  uint32           `json:"fee_ppm"`
	Version uint64           `json:"version"`

	ConstantProduct *ConstantProductRecord `json:"constant_product,omitempty"`
	Concentrated    *ConcentratedRecord    `json:"concentrated,omitempty"`
	Bin             *BinRecord             `json:"bin,omitempty"`
	BondingCurve    *BondingCurveRecord    `json:"bonding_curve,omitempty"`
	Oracle          *OracleRecord          `json:"oracle,omitempty"`
}

type ConstantProductRecord struct {
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
}

type RangeRecord struct {
	SqrtLowerX64 string `json:"sqrt_lower_x64"`
	SqrtUpperX64 string `json:"sqrt_upper_x64"`
	Liquidity    string `json:"liquidity"`
}

type ConcentratedRecord struct {
	SqrtPriceX64 string        `json:"sqrt_price_x64"`
	Ranges       []RangeRecord `json:"ranges"`
}

type BinLevelRecord struct {
	ID       int32  `json:"id"`
	PriceX64 string `json:"price_x64"`
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
}

type BinRecord struct {
	ActiveID int32            `json:"active_id"`
	Bins     []BinLevelRecord `json:"bins"`
}

type BondingCurveRecord struct {
	VirtualA string `json:"virtual_a"`
	VirtualB string `json:"virtual_b"`
	RealA    string `json:"real_a"`
	RealB    string `json:"real_b"`
}

type OracleRecord struct {
	PriceX64 string `json:"price_x64"`
	DepthA   string `json:"depth_a"`
	DepthB   string `json:"depth_b"`
}

// Decode parses one JSON record. Every failure wraps domain.ErrInvalidUpdate.
func Decode(data []byte) (domain.VenueUpdate, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.VenueUpdate{}, fmt.Errorf("%w: %v", domain.ErrInvalidUpdate, err)
	}
	return r.Update()
}

// Update converts the record into a validated venue update.
func (r Record) Update() (domain.VenueUpdate, error) {
	kind, err := domain.ParseVenueKind(r.Kind)
	if err != nil {
		return domain.VenueUpdate{}, err
	}
	attrs, err := r.attributes(kind)
	if err != nil {
		return domain.VenueUpdate{}, fmt.Errorf("%w: venue %s: %v", domain.ErrInvalidUpdate, r.Address, err)
	}
	u := domain.VenueUpdate{
		Address: r.Address,
		Kind:    kind,
		MintA:   r.MintA,
		MintB:   r.MintB,
		Fee:     domain.FeeParams{RatePPM: r.FeePPM},
		Attrs:   attrs,
		Version: r.Version,
	}
	if err := u.Validate(); err != nil {
		return domain.VenueUpdate{}, err
	}
	return u, nil
}

func (r Record) attributes(kind domain.VenueKind) (domain.Attributes, error) {
	p := parser{}
	switch kind {
	case domain.KindConstantProduct:
		if r.ConstantProduct == nil {
			return nil, errMissing(kind)
		}
		a := domain.ConstantProductAttrs{
			ReserveA: p.u64("reserve_a", r.ConstantProduct.ReserveA),
			ReserveB: p.u64("reserve_b", r.ConstantProduct.ReserveB),
		}
		return a, p.err

	case domain.KindConcentrated:
		if r.Concentrated == nil {
			return nil, errMissing(kind)
		}
		a := domain.ConcentratedAttrs{
			SqrtPriceX64: p.u256("sqrt_price_x64", r.Concentrated.SqrtPriceX64),
			Ranges:       make([]domain.LiquidityRange, len(r.Concentrated.Ranges)),
		}
		for i, rr := range r.Concentrated.Ranges {
			a.Ranges[i] = domain.LiquidityRange{
				SqrtLowerX64: p.u256("sqrt_lower_x64", rr.SqrtLowerX64),
				SqrtUpperX64: p.u256("sqrt_upper_x64", rr.SqrtUpperX64),
				Liquidity:    p.u256("liquidity", rr.Liquidity),
			}
		}
		return a, p.err

	case domain.KindBin:
		if r.Bin == nil {
			return nil, errMissing(kind)
		}
		a := domain.BinAttrs{ActiveID: r.Bin.ActiveID, Bins: make([]domain.Bin, len(r.Bin.Bins))}
		for i, b := range r.Bin.Bins {
			a.Bins[i] = domain.Bin{
				ID:       b.ID,
				PriceX64: p.u256("price_x64", b.PriceX64),
				ReserveA: p.u64("reserve_a", b.ReserveA),
				ReserveB: p.u64("reserve_b", b.ReserveB),
			}
		}
		return a, p.err

	case domain.KindBondingCurve:
		if r.BondingCurve == nil {
			return nil, errMissing(kind)
		}
		a := domain.BondingCurveAttrs{
			VirtualA: p.u64("virtual_a", r.BondingCurve.VirtualA),
			VirtualB: p.u64("virtual_b", r.BondingCurve.VirtualB),
			RealA:    p.u64("real_a", r.BondingCurve.RealA),
			RealB:    p.u64("real_b", r.BondingCurve.RealB),
		}
		return a, p.err

	case domain.KindOracle:
		if r.Oracle == nil {
			return nil, errMissing(kind)
		}
		a := domain.OracleAttrs{
			PriceX64: p.u256("price_x64", r.Oracle.PriceX64),
			DepthA:   p.u64("depth_a", r.Oracle.DepthA),
			DepthB:   p.u64("depth_b", r.Oracle.DepthB),
		}
		return a, p.err
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}

func errMissing(kind domain.VenueKind) error {
	return fmt.Errorf("missing %s payload", kind)
}

// parser keeps the first conversion error so payloads read as plain struct
// literals.
type parser struct{ err error }

func (p *parser) u64(field, s string) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %q is not a uint64", field, s)
	}
	return v
}

func (p *parser) u256(field, s string) uint256.Int {
	if p.err != nil {
		return uint256.Int{}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %q: %v", field, s, err)
		return uint256.Int{}
	}
	return *v
}

// Encode renders a stored venue in the record format.
func Encode(v *domain.Venue) Record {
	r := Record{
		Address: v.Address,
		Kind:    v.Kind.String(),
		MintA:   v.MintA,
		MintB:   v.MintB,
		FeePPM:  v.Fee.RatePPM,
		Version: v.Version,
	}
	u64 := func(x uint64) string { return strconv.FormatUint(x, 10) }

	switch a := v.Attrs.(type) {
	case domain.ConstantProductAttrs:
		r.ConstantProduct = &ConstantProductRecord{ReserveA: u64(a.ReserveA), ReserveB: u64(a.ReserveB)}
	case domain.ConcentratedAttrs:
		c := &ConcentratedRecord{SqrtPriceX64: a.SqrtPriceX64.Dec(), Ranges: make([]RangeRecord, len(a.Ranges))}
		for i, rr := range a.Ranges {
			c.Ranges[i] = RangeRecord{
				SqrtLowerX64: rr.SqrtLowerX64.Dec(),
				SqrtUpperX64: rr.SqrtUpperX64.Dec(),
				Liquidity:    rr.Liquidity.Dec(),
			}
		}
		r.Concentrated = c
	case domain.BinAttrs:
		b := &BinRecord{ActiveID: a.ActiveID, Bins: make([]BinLevelRecord, len(a.Bins))}
		for i, bin := range a.Bins {
			b.Bins[i] = BinLevelRecord{ID: bin.ID, PriceX64: bin.PriceX64.Dec(), ReserveA: u64(bin.ReserveA), ReserveB: u64(bin.ReserveB)}
		}
		r.Bin = b
	case domain.BondingCurveAttrs:
		r.BondingCurve = &BondingCurveRecord{VirtualA: u64(a.VirtualA), VirtualB: u64(a.VirtualB), RealA: u64(a.RealA), RealB: u64(a.RealB)}
	case domain.OracleAttrs:
		r.Oracle = &OracleRecord{PriceX64: a.PriceX64.Dec(), DepthA: u64(a.DepthA), DepthB: u64(a.DepthB)}
	}
	return r
}
