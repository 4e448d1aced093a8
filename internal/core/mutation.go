package core

import "time"

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

type (
	MutationKind string

	// Mutation is one ledger change paired with its balance effect. Stores
	// that can apply both halves in a single datastore transaction receive
	// it whole.
	Mutation struct {
		Kind   MutationKind
		UserID string
		// Transaction is the row to insert (create), the original row
		// (update, delete).
		Transaction Transaction
		// NewAmount and NewDescription are set for updates.
		NewAmount      Money
		NewDescription string
		Delta          BalanceDelta
	}

	// LedgerEvent is published after a mutation has been persisted.
	// Transaction is the row after the change (the removed row for a
	// delete) and Delta is the effect that was applied to Balance.
	LedgerEvent struct {
		Kind        MutationKind
		UserID      string
		Transaction Transaction
		Delta       BalanceDelta
		Balance     Balance
		OccurredAt  time.Time
	}
)

// Updated returns the transaction as it looks after an update mutation.
func (m Mutation) Updated() Transaction {
	tx := m.Transaction
	tx.Amount = m.NewAmount
	tx.Description = m.NewDescription
	return tx
}
