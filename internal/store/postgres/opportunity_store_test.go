package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = 1
	return k
}

// fakeRow scans a fixed list of values into the destinations.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]string:
			*p = r.values[i].([]string)
		case *int32:
			*p = r.values[i].(int32)
		case *int:
			*p = r.values[i].(int)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *bool:
			*p = r.values[i].(bool)
		}
	}
	return nil
}

func rowFor(opp domain.Opportunity) fakeRow {
	return fakeRow{values: []any{
		opp.ID, opp.Base.String(), keyStrings(opp.Venues), keyStrings(opp.Mints),
		u64(opp.InputAmount), u64(opp.ExpectedOutput), u64(opp.ExpectedProfit),
		u64(opp.SnapshotVersion), u64s(opp.VenueVersions),
		int32(opp.SlippageBps), u64(opp.MinimumOutput), opp.Method, opp.Iterations,
		opp.DetectedAt, opp.Executed,
	}}
}

func TestScanOpportunity(t *testing.T) {
	want := domain.Opportunity{
		ID:              "0b7c",
		Base:            key(100),
		Venues:          []solana.PublicKey{key(1), key(2)},
		Mints:           []solana.PublicKey{key(100), key(101), key(100)},
		InputAmount:     18_000_000_000_000_000_000,
		ExpectedOutput:  18_000_000_000_000_000_100,
		ExpectedProfit:  100,
		SnapshotVersion: 77,
		VenueVersions:   []uint64{10, 1 << 63},
		SlippageBps:     50,
		MinimumOutput:   17_910_000_000_000_000_099,
		Method:          "brent_method",
		Iterations:      31,
		DetectedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Executed:        true,
	}

	got, err := scanOpportunity(rowFor(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScanOpportunityErrors(t *testing.T) {
	_, err := scanOpportunity(fakeRow{err: errors.New("conn reset")})
	assert.ErrorContains(t, err, "conn reset")

	opp := domain.Opportunity{ID: "x", Base: key(1), VenueVersions: []uint64{}}
	row := rowFor(opp)
	row.values[4] = "-5"
	_, err = scanOpportunity(row)
	assert.Error(t, err)

	row = rowFor(opp)
	row.values[1] = "not-base58!"
	_, err = scanOpportunity(row)
	assert.ErrorContains(t, err, "base mint")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "arb", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_opportunities.sql", "002_opportunities_base_index.sql"}, names)
}
