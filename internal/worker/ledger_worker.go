// Package worker processes ledger events published by the web process.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"cashbook/internal/amqp"
	"cashbook/internal/core"
	"cashbook/internal/journal"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
)

// Reconciler compares a user's stored balance with the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (ledger.Reconciliation, error)
}

// Stats counts what the worker has seen since start.
type Stats struct {
	Processed int64
	Dropped   int64
	Drifted   int64
	Journaled int64
}

// LedgerWorker reconciles the balance of every user whose ledger changed and
// copies the event to the journal when one is configured.
type LedgerWorker struct {
	reconciler Reconciler
	journal    journal.Writer

	processed atomic.Int64
	dropped   atomic.Int64
	drifted   atomic.Int64
	journaled atomic.Int64
}

// NewLedgerWorker creates a worker. journal may be nil.
func NewLedgerWorker(reconciler Reconciler, j journal.Writer) *LedgerWorker {
	return &LedgerWorker{reconciler: reconciler, journal: j}
}

// HandleLedgerEvent processes one message. A returned error requeues it.
func (w *LedgerWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	ev, err := msg.Event()
	if err != nil {
		// Redelivery cannot fix the payload.
		w.dropped.Add(1)
		slog.ErrorContext(ctx, "Dropping undecodable ledger event",
			"event_id", msg.EventID,
			"error", err)
		return nil
	}

	tx := ev.Transaction
	fields := applog.NewFields().
		WithComponent(applog.ComponentWorker).
		WithOperation(string(ev.Kind)).
		WithTransaction(ev.UserID, tx.ID, string(tx.Type), string(tx.PaymentMethod), tx.Amount.Cents).
		WithBalance(ev.Balance.Account.Cents, ev.Balance.Cash.Cents)
	fields["event_id"] = msg.EventID
	slog.InfoContext(ctx, "Processing ledger event", fields.ToSlice()...)

	if err := w.reconcile(ctx, ev); err != nil {
		return err
	}

	if w.journal != nil {
		if err := w.journal.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		w.journaled.Add(1)
	}

	w.processed.Add(1)
	return nil
}

func (w *LedgerWorker) reconcile(ctx context.Context, ev core.LedgerEvent) error {
	rec, err := w.reconciler.Reconcile(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("reconcile user %s: %w", ev.UserID, err)
	}
	if rec.Consistent() {
		slog.DebugContext(ctx, "Balance matches ledger",
			"user_id", ev.UserID,
			"transactions", rec.Transactions)
		return nil
	}

	w.drifted.Add(1)
	slog.WarnContext(ctx, "Balance drift detected",
		"user_id", ev.UserID,
		"transaction_id", ev.Transaction.ID,
		"stored_account", rec.Stored.Account.String(),
		"stored_cash", rec.Stored.Cash.String(),
		"implied_account", rec.Implied.Account.String(),
		"implied_cash", rec.Implied.Cash.String(),
		"drift_account", rec.Drift.Account.String(),
		"drift_cash", rec.Drift.Cash.String())
	return nil
}

// Stats returns the counters.
func (w *LedgerWorker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Dropped:   w.dropped.Load(),
		Drifted:   w.drifted.Load(),
		Journaled: w.journaled.Load(),
	}
}
