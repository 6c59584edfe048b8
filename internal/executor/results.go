package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// DefaultResultsChannel is where the sender reports execution outcomes.
const DefaultResultsChannel = "execution_results"

// ResultFilter selects which execution outcomes are reported.
type ResultFilter struct {
	OnlySucceed bool
	OnlyFailed  bool
}

func (f ResultFilter) reports(r domain.ExecutionResult) bool {
	switch {
	case f.OnlySucceed:
		return r.Succeeded
	case f.OnlyFailed:
		return !r.Succeeded
	default:
		return true
	}
}

// ResultWatcher consumes execution outcomes reported by the sender. Outcomes
// never feed back into the registry; they only mark history and alert.
type ResultWatcher struct {
	bus      domain.SignalBus
	channel  string
	filter   ResultFilter
	store    domain.OpportunityStore
	notifier Notifier
	logger   *slog.Logger
}

// NewResultWatcher creates a watcher on channel. store and notifier may be
// nil.
func NewResultWatcher(bus domain.SignalBus, channel string, filter ResultFilter, store domain.OpportunityStore, notifier Notifier, logger *slog.Logger) *ResultWatcher {
	if channel == "" {
		channel = DefaultResultsChannel
	}
	return &ResultWatcher{
		bus:      bus,
		channel:  channel,
		filter:   filter,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "result_watcher")),
	}
}

// Run blocks until ctx is cancelled.
func (w *ResultWatcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, w.channel)
	if err != nil {
		return fmt.Errorf("executor: watch results: %w", err)
	}
	w.logger.Info("result watcher started", slog.String("channel", w.channel))
	for payload := range ch {
		if err := w.handle(ctx, payload); err != nil {
			w.logger.WarnContext(ctx, "execution result dropped", slog.String("error", err.Error()))
		}
	}
	return ctx.Err()
}

func (w *ResultWatcher) handle(ctx context.Context, payload []byte) error {
	var r domain.ExecutionResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if r.OpportunityID == "" {
		return errors.New("result without opportunity id")
	}

	if r.Succeeded && w.store != nil {
		if err := w.store.MarkExecuted(ctx, r.OpportunityID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("mark %s executed: %w", r.OpportunityID, err)
		}
	}
	if !w.filter.reports(r) {
		return nil
	}

	w.logger.InfoContext(ctx, "execution reported",
		slog.String("id", r.OpportunityID),
		slog.Bool("succeeded", r.Succeeded),
		slog.String("signature", r.Signature),
		slog.String("error", r.Error),
	)
	if !r.Succeeded && w.notifier != nil {
		msg := fmt.Sprintf("id %s\n%s", r.OpportunityID, r.Error)
		if err := w.notifier.Notify(ctx, "execution_failed", "Execution failed", msg); err != nil {
			w.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
