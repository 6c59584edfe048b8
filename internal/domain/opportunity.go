package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Opportunity is a fully evaluated cycle ready for the external sender. It is
// never mutated after the dispatcher creates it.
type Opportunity struct {
	ID              string             `json:"id"`
	Base            solana.PublicKey   `json:"base"`
	Venues          []solana.PublicKey `json:"venues"`
	Mints           []solana.PublicKey `json:"mints"`
	InputAmount     uint64             `json:"input_amount"`
	ExpectedOutput  uint64             `json:"expected_output"`
	ExpectedProfit  uint64             `json:"expected_profit"`
	SnapshotVersion uint64             `json:"snapshot_version"`
	VenueVersions   []uint64           `json:"venue_versions"`
	SlippageBps     uint32             `json:"slippage_bps,omitempty"`
	MinimumOutput   uint64             `json:"minimum_output,omitempty"`
	Method          string             `json:"method"`
	Iterations      int                `json:"iterations"`
	DetectedAt      time.Time          `json:"detected_at"`
	Executed        bool               `json:"executed"`
}

// Hops returns the number of venues the opportunity trades through.
func (o Opportunity) Hops() int { return len(o.Venues) }

// ExecutionResult is reported back by the sender after it broadcast an
// opportunity.
type ExecutionResult struct {
	OpportunityID string    `json:"opportunity_id"`
	Succeeded     bool      `json:"succeeded"`
	Signature     string    `json:"signature,omitempty"`
	Error         string    `json:"error,omitempty"`
	ReportedAt    time.Time `json:"reported_at"`
}

// EngineStatus is a summary of the engine's current operational state.
type EngineStatus struct {
	Mode          string          `json:"mode"`
	Base          string          `json:"base"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Venues        int             `json:"venues"`
	Routes        int             `json:"routes"`
	Seq           uint64          `json:"seq"`
	Dispatcher    DispatcherStats `json:"dispatcher"`
}

// DispatcherStats are cumulative counters of the dispatch loop.
type DispatcherStats struct {
	Cycles          uint64 `json:"cycles"`
	UpdatesApplied  uint64 `json:"updates_applied"`
	UpdatesStale    uint64 `json:"updates_stale"`
	UpdatesRejected uint64 `json:"updates_rejected"`
	RoutesEvaluated uint64 `json:"routes_evaluated"`
	Superseded      uint64 `json:"superseded"`
	Filtered        uint64 `json:"filtered"`
	Forwarded       uint64 `json:"forwarded"`
}
