package domain

import (
	"context"
	"time"
)

// OpportunityStore persists forwarded opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunitySink receives opportunities that passed validation. The
// dispatcher hands each opportunity to the sink exactly once.
type OpportunitySink interface {
	Submit(ctx context.Context, opp Opportunity) error
}
