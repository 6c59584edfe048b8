package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore. Amounts are
// NUMERIC(20,0) columns exchanged as decimal text, since uint64 does not fit
// BIGINT.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a store backed by pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, base_mint, venues, mints,
	input_amount::text, expected_output::text, expected_profit::text,
	snapshot_version::text, venue_versions::text[],
	slippage_bps, minimum_output::text, method, iterations,
	detected_at, executed`

// Insert stores opp. Re-inserting an existing ID is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, base_mint, venues, mints,
			input_amount, expected_output, expected_profit,
			snapshot_version, venue_versions,
			slippage_bps, minimum_output, method, iterations,
			detected_at, executed
		) VALUES (
			$1, $2, $3, $4,
			$5::text::numeric, $6::text::numeric, $7::text::numeric,
			$8::text::numeric, $9::text[]::numeric[],
			$10, $11::text::numeric, $12, $13,
			$14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Base.String(), keyStrings(opp.Venues), keyStrings(opp.Mints),
		u64(opp.InputAmount), u64(opp.ExpectedOutput), u64(opp.ExpectedProfit),
		u64(opp.SnapshotVersion), u64s(opp.VenueVersions),
		int32(opp.SlippageBps), u64(opp.MinimumOutput), opp.Method, opp.Iterations,
		opp.DetectedAt, opp.Executed,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as executed by the sender.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	const query = `
		UPDATE opportunities SET
			executed    = TRUE,
			executed_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: opportunity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest opportunities first. limit <= 0 returns all.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return collect(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collect(rows)
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var out []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return out, nil
}

// opportunityRow is the text form of one row as selected by
// opportunitySelectCols.
type opportunityRow struct {
	id, base                              string
	venues, mints, versions               []string
	input, output, profit, seq, minOutput string
	slippage                              int32
	method                                string
	iterations                            int
	detectedAt                            time.Time
	executed                              bool
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var r opportunityRow
	if err := row.Scan(
		&r.id, &r.base, &r.venues, &r.mints,
		&r.input, &r.output, &r.profit,
		&r.seq, &r.versions,
		&r.slippage, &r.minOutput, &r.method, &r.iterations,
		&r.detectedAt, &r.executed,
	); err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: scan opportunity: %w", err)
	}
	opp, err := r.opportunity()
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: decode opportunity %s: %w", r.id, err)
	}
	return opp, nil
}

func (r opportunityRow) opportunity() (domain.Opportunity, error) {
	opp := domain.Opportunity{
		ID:          r.id,
		SlippageBps: uint32(r.slippage),
		Method:      r.method,
		Iterations:  r.iterations,
		DetectedAt:  r.detectedAt,
		Executed:    r.executed,
	}
	var err error
	if opp.Base, err = solana.PublicKeyFromBase58(r.base); err != nil {
		return opp, fmt.Errorf("base mint: %w", err)
	}
	if opp.Venues, err = parseKeys(r.venues); err != nil {
		return opp, fmt.Errorf("venues: %w", err)
	}
	if opp.Mints, err = parseKeys(r.mints); err != nil {
		return opp, fmt.Errorf("mints: %w", err)
	}
	if opp.VenueVersions, err = parseU64s(r.versions); err != nil {
		return opp, fmt.Errorf("venue versions: %w", err)
	}
	for dst, src := range map[*uint64]string{
		&opp.InputAmount:     r.input,
		&opp.ExpectedOutput:  r.output,
		&opp.ExpectedProfit:  r.profit,
		&opp.SnapshotVersion: r.seq,
		&opp.MinimumOutput:   r.minOutput,
	} {
		if *dst, err = strconv.ParseUint(src, 10, 64); err != nil {
			return opp, err
		}
	}
	return opp, nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func u64s(vs []uint64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = u64(v)
	}
	return out
}

func parseU64s(ss []string) ([]uint64, error) {
	out := make([]uint64, len(ss))
	for i, s := range ss {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func parseKeys(ss []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(ss))
	for i, s := range ss {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
