package ledger

import (
	"errors"
	"fmt"
	"strings"

	"cashbook/internal/core"
	"cashbook/internal/ports"
)

var (
	// ErrNotFound is returned when the transaction does not exist for the user.
	ErrNotFound = ports.ErrNotFound
	// ErrConflict is returned when the transaction changed concurrently.
	ErrConflict = ports.ErrConflict
	// ErrMissingFields marks input where a required field is empty.
	ErrMissingFields = errors.New("required fields missing")
)

// ValidationError reports input rejected before any store call was made.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed write of the transaction/balance pair.
type PersistenceError struct {
	Op             core.MutationKind
	TransactionErr error
	BalanceErr     error
	// Compensated is true when the ledger was left consistent: either no
	// half was written or the half that was written has been undone.
	Compensated bool
}

func (e *PersistenceError) Error() string {
	var parts []string
	if e.TransactionErr != nil {
		parts = append(parts, "transaction: "+e.TransactionErr.Error())
	}
	if e.BalanceErr != nil {
		parts = append(parts, "balance: "+e.BalanceErr.Error())
	}
	msg := fmt.Sprintf("persist %s: %s", e.Op, strings.Join(parts, "; "))
	if !e.Compensated {
		msg += " (ledger may be inconsistent)"
	}
	return msg
}

func (e *PersistenceError) Unwrap() []error {
	var errs []error
	if e.TransactionErr != nil {
		errs = append(errs, e.TransactionErr)
	}
	if e.BalanceErr != nil {
		errs = append(errs, e.BalanceErr)
	}
	return errs
}

// UserMessage converts any error returned by the service into the message
// shown to the user.
func UserMessage(op core.MutationKind, err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrMissingFields):
		return "Please fill required fields"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Please enter valid amount"
	case errors.As(err, &verr):
		return "Invalid transaction: " + verr.Err.Error()
	case errors.Is(err, ErrNotFound):
		return "Transaction not found"
	case errors.Is(err, ErrConflict):
		return "Transaction was changed by another request, please retry"
	}
	switch op {
	case core.MutationCreate:
		return "Failed to add transaction"
	case core.MutationUpdate:
		return "Failed to update transaction"
	case core.MutationDelete:
		return "Failed to delete transaction"
	default:
		return "Something went wrong"
	}
}
