package channel

import (
	"context"
	"fmt"

	"siphon/internal/core/apperror"
	appctx "siphon/internal/core/context"
	"siphon/internal/core/id"
	"siphon/internal/core/tx"
	"siphon/internal/domain/ledger"
	"siphon/pkg/logger"
)

// Outcome classifies what happened to one event during a reconciliation run.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeErrored Outcome = "errored"
)

// EventOutcome is the per-event result line in a reconciliation report.
type EventOutcome struct {
	EventID               id.ID   `json:"eventId"`
	ExternalTransactionID string  `json:"externalTransactionId"`
	Outcome               Outcome `json:"outcome"`
	Error                 string  `json:"error,omitempty"`
}

// Report summarizes one reconciliation run.
type Report struct {
	MatchedCount int            `json:"matchedCount"`
	AppliedCount int            `json:"appliedCount"`
	SkippedCount int            `json:"skippedCount"`
	ErrorCount   int            `json:"errorCount"`
	Outcomes     []EventOutcome `json:"outcomes"`
}

func (r *Report) add(e *PendingEvent, outcome Outcome, err error) {
	o := EventOutcome{
		EventID:               e.ID,
		ExternalTransactionID: e.ExternalTransactionID,
		Outcome:               outcome,
	}
	if err != nil {
		o.Error = err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)

	switch outcome {
	case OutcomeMatched:
		r.MatchedCount++
	case OutcomeApplied:
		r.AppliedCount++
	case OutcomeSkipped:
		r.SkippedCount++
	case OutcomeErrored:
		r.ErrorCount++
	}
	reconcileEventsTotal.WithLabelValues(string(outcome)).Inc()
}

// Errors returns the error strings for errored events.
func (r *Report) Errors() []string {
	out := make([]string, 0, r.ErrorCount)
	for _, o := range r.Outcomes {
		if o.Outcome == OutcomeErrored && o.Error != "" {
			out = append(out, o.Error)
		}
	}
	return out
}

// Reconciler is the only component allowed to turn a pending event into a
// ledger entry. Runs are idempotent and safe to overlap: every transition is
// re-checked under a row lock inside a per-event transaction, so a second
// run (or a concurrent one) finds the event already moved on and skips it.
type Reconciler struct {
	events    EventRepository
	mappings  MappingRepository
	ledger    *ledger.Service
	txManager tx.Manager
	batchSize int
}

// NewReconciler creates a new reconciler.
func NewReconciler(events EventRepository, mappings MappingRepository, ledgerSvc *ledger.Service, txManager tx.Manager) *Reconciler {
	return &Reconciler{
		events:    events,
		mappings:  mappings,
		ledger:    ledgerSvc,
		txManager: txManager,
		batchSize: 500,
	}
}

// Run executes the match phase then the apply phase. Per-event failures are
// isolated: one bad event never blocks the rest of the run.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := &Report{Outcomes: make([]EventOutcome, 0)}

	if err := r.matchPhase(ctx, report); err != nil {
		return report, err
	}
	if err := r.applyPhase(ctx, report); err != nil {
		return report, err
	}

	logger.Info(ctx, "reconciliation run complete",
		"matched", report.MatchedCount,
		"applied", report.AppliedCount,
		"skipped", report.SkippedCount,
		"errored", report.ErrorCount,
	)
	return report, nil
}

// matchPhase back-fills products on unmatched events whose mapping has
// appeared since intake. Events with no mapping stay pending and visible;
// they are never dropped.
func (r *Reconciler) matchPhase(ctx context.Context, report *Report) error {
	events, err := r.events.ListByState(ctx, StateUnmatched, r.batchSize)
	if err != nil {
		return fmt.Errorf("list unmatched events: %w", err)
	}

	for i := range events {
		e := &events[i]

		mapping, err := r.mappings.GetByExternalCatalogID(ctx, e.ExternalCatalogID)
		if apperror.IsNotFound(err) {
			report.add(e, OutcomeSkipped, nil)
			continue
		}
		if err != nil {
			report.add(e, OutcomeErrored, err)
			continue
		}

		err = r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			locked, err := r.events.GetForUpdate(ctx, e.ID)
			if err != nil {
				return err
			}
			if locked.State != StateUnmatched {
				// Another run matched it already.
				return nil
			}
			if err := locked.Match(mapping.ProductID); err != nil {
				return err
			}
			return r.events.SetMatched(ctx, locked.ID, mapping.ProductID)
		})
		if err != nil {
			report.add(e, OutcomeErrored, err)
			continue
		}

		report.add(e, OutcomeMatched, nil)
	}

	return nil
}

// applyPhase writes one pos_sale movement per matched event and flips the
// event to applied in the same transaction. A crash between the two writes
// cannot happen; a crash before commit leaves the event matched, and the
// next run redoes it cleanly.
func (r *Reconciler) applyPhase(ctx context.Context, report *Report) error {
	events, err := r.events.ListByState(ctx, StateMatched, r.batchSize)
	if err != nil {
		return fmt.Errorf("list matched events: %w", err)
	}

	actor := appctx.ActorOrSystem(ctx)

	for i := range events {
		e := &events[i]

		// Bookkeeping happens after the transaction settles, so a commit
		// failure counts the event once, as errored.
		applied := false
		err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			locked, err := r.events.GetForUpdate(ctx, e.ID)
			if err != nil {
				return err
			}
			if locked.State != StateMatched {
				return nil
			}

			_, err = r.ledger.Append(ctx, ledger.AppendRequest{
				ProductID: *locked.ProductID,
				Kind:      ledger.KindPOSSale,
				Delta:     -locked.Quantity,
				Note:      fmt.Sprintf("pos transaction %s", locked.ExternalTransactionID),
				Actor:     actor,
			})
			if err != nil {
				return err
			}

			if err := r.events.SetApplied(ctx, locked.ID); err != nil {
				return err
			}

			applied = true
			return nil
		})
		if err != nil {
			report.add(e, OutcomeErrored, err)
			continue
		}

		if applied {
			report.add(e, OutcomeApplied, nil)
		} else {
			report.add(e, OutcomeSkipped, nil)
		}
	}

	return nil
}
