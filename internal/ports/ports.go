package ports

import (
	"context"
	"errors"

	"cashbook/internal/core"
)

var (
	// ErrNotFound is returned when a transaction does not exist for the user.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row changed between read and write.
	ErrConflict = errors.New("conflict")
)

// Ports for outbound adapters.
type (
	// BalanceReader returns the user's balance pair. A user without a stored
	// balance row gets the zero Balance and a nil error.
	BalanceReader interface {
		GetBalances(ctx context.Context, userID string) (core.Balance, error)
	}

	// BalanceWriter stores an absolute balance pair, creating the row when
	// it does not exist yet.
	BalanceWriter interface {
		UpdateBalances(ctx context.Context, userID string, b core.Balance) error
	}

	TransactionReader interface {
		// GetTransaction returns ErrNotFound when the id is unknown for the user.
		GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	}

	TransactionWriter interface {
		InsertTransaction(ctx context.Context, tx core.Transaction) error
		// UpdateTransaction changes the editable fields only.
		UpdateTransaction(ctx context.Context, userID, id string, amount core.Money, description string) error
		DeleteTransaction(ctx context.Context, userID, id string) error
	}

	// TransactionLister returns transactions ordered by date, newest first.
	TransactionLister interface {
		ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]core.Transaction, error)
	}

	// CategoryLister returns categories of one type ordered by name.
	CategoryLister interface {
		ListCategories(ctx context.Context, t core.TxType) ([]core.Category, error)
	}

	// Store is the full persistence surface the ledger needs.
	Store interface {
		BalanceReader
		BalanceWriter
		TransactionReader
		TransactionWriter
		TransactionLister
		CategoryLister
	}

	// AtomicLedger is implemented by stores that can persist a transaction
	// mutation and its balance increment in one datastore transaction.
	AtomicLedger interface {
		ApplyMutation(ctx context.Context, m core.Mutation) (core.Balance, error)
	}

	// LedgerSnapshot is implemented by stores that can read the balance pair
	// and every transaction of a user as of a single point in time.
	LedgerSnapshot interface {
		Snapshot(ctx context.Context, userID string) (core.Balance, []core.Transaction, error)
	}

	// EventPublisher announces persisted ledger mutations.
	EventPublisher interface {
		PublishLedgerEvent(ctx context.Context, ev core.LedgerEvent) error
	}
)

// TransactionFilter bounds a listing by transaction date. Nil bounds are open.
type TransactionFilter struct {
	StartDate *core.Date
	EndDate   *core.Date
}

// Contains reports whether d falls inside the filter bounds.
func (f TransactionFilter) Contains(d core.Date) bool {
	if f.StartDate != nil && d.Before(f.StartDate.Time) {
		return false
	}
	if f.EndDate != nil && d.After(f.EndDate.Time) {
		return false
	}
	return true
}
