// Package ledger keeps the stored balance pair consistent with the
// transaction ledger. Every create, edit and delete of a transaction goes
// through Service, which applies the balance effect of the change exactly
// once and publishes the result.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cashbook/internal/core"
	applog "cashbook/internal/log"
	"cashbook/internal/ports"
)

const (
	defaultCompensationTimeout = 10 * time.Second

	// reconcileAttempts bounds the re-reads of a store without snapshots
	// while other processes keep mutating the ledger.
	reconcileAttempts = 3
)

// Service orchestrates ledger mutations across the transaction and balance
// stores.
type Service struct {
	store     ports.Store
	atomic    ports.AtomicLedger
	snapshot  ports.LedgerSnapshot
	publisher ports.EventPublisher
	locks     *userLocks

	now                 func() time.Time
	newID               func() string
	compensationTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher announces every persisted mutation on p.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source used for CreatedAt and default dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithCompensationTimeout bounds how long undoing a half-applied write may take.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) { s.compensationTimeout = d }
}

// NewService creates a ledger service on store. When store implements
// ports.AtomicLedger both halves of a mutation are committed in one
// datastore transaction.
func NewService(store ports.Store, opts ...Option) *Service {
	s := &Service{
		store:               store,
		locks:               newUserLocks(),
		now:                 time.Now,
		newID:               uuid.NewString,
		compensationTimeout: defaultCompensationTimeout,
	}
	if a, ok := store.(ports.AtomicLedger); ok {
		s.atomic = a
	}
	if snap, ok := store.(ports.LedgerSnapshot); ok {
		s.snapshot = snap
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type (
	// NewTransaction is the raw input of the add form.
	NewTransaction struct {
		Amount        string
		Type          string
		Category      string
		PaymentMethod string // empty selects account
		Description   string
		Date          string // YYYY-MM-DD, empty selects today
	}

	// Edit is the raw input of the edit form. Only amount and description
	// are editable.
	Edit struct {
		Amount      string
		Description string
	}

	// Result is a persisted transaction with the balance after the change.
	Result struct {
		Transaction core.Transaction
		Balance     core.Balance
	}

	// Reconciliation compares the stored balance with the ledger.
	Reconciliation struct {
		Stored       core.Balance
		Implied      core.Balance
		Drift        core.BalanceDelta
		Transactions int
	}
)

// Consistent reports whether the stored balance matches the ledger.
func (r Reconciliation) Consistent() bool {
	return r.Drift.IsZero()
}

// Create validates in, records the transaction and applies its balance effect.
func (s *Service) Create(ctx context.Context, userID string, in NewTransaction) (Result, error) {
	tx, err := s.buildTransaction(userID, in)
	if err != nil {
		return Result{}, &ValidationError{Err: err}
	}

	m := core.Mutation{
		Kind:        core.MutationCreate,
		UserID:      userID,
		Transaction: tx,
		Delta:       core.CreateDelta(tx.Amount, tx.Type, tx.PaymentMethod),
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	bal, err := s.persist(ctx, m)
	if err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "Transaction created", mutationFields(m.Kind, tx, bal).ToSlice()...)

	s.publish(ctx, m, tx, bal)
	return Result{Transaction: tx, Balance: bal}, nil
}

// Update changes the amount and description of a stored transaction and
// applies the difference to the balance the original was recorded against.
func (s *Service) Update(ctx context.Context, userID, id string, in Edit) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, &ValidationError{Err: core.ErrEmptyUser}
	}
	if strings.TrimSpace(in.Amount) == "" {
		return Result{}, &ValidationError{Err: fmt.Errorf("%w: %w", ErrMissingFields, core.ErrInvalidAmount)}
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return Result{}, &ValidationError{Err: err}
	}
	desc := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(desc) > core.MaxDescriptionLength {
		return Result{}, &ValidationError{Err: core.ErrDescriptionTooLong}
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	original, err := s.load(ctx, core.MutationUpdate, userID, id)
	if err != nil {
		return Result{}, err
	}

	m := core.Mutation{
		Kind:           core.MutationUpdate,
		UserID:         userID,
		Transaction:    original,
		NewAmount:      amount,
		NewDescription: desc,
		Delta:          core.UpdateDelta(original, amount),
	}

	bal, err := s.persist(ctx, m)
	if err != nil {
		return Result{}, err
	}

	updated := m.Updated()
	fields := mutationFields(m.Kind, updated, bal)
	fields["old_amount_cents"] = original.Amount.Cents
	slog.InfoContext(ctx, "Transaction updated", fields.ToSlice()...)

	s.publish(ctx, m, updated, bal)
	return Result{Transaction: updated, Balance: bal}, nil
}

// Delete removes a stored transaction and reverses its balance effect.
// The returned Result carries the removed transaction.
func (s *Service) Delete(ctx context.Context, userID, id string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, &ValidationError{Err: core.ErrEmptyUser}
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	original, err := s.load(ctx, core.MutationDelete, userID, id)
	if err != nil {
		return Result{}, err
	}

	m := core.Mutation{
		Kind:        core.MutationDelete,
		UserID:      userID,
		Transaction: original,
		Delta:       core.DeleteDelta(original),
	}

	bal, err := s.persist(ctx, m)
	if err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "Transaction deleted", mutationFields(m.Kind, original, bal).ToSlice()...)

	s.publish(ctx, m, original, bal)
	return Result{Transaction: original, Balance: bal}, nil
}

// Balances returns the stored balance pair of the user.
func (s *Service) Balances(ctx context.Context, userID string) (core.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return core.Balance{}, &ValidationError{Err: core.ErrEmptyUser}
	}
	b, err := s.store.GetBalances(ctx, userID)
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balances: %w", err)
	}
	return b, nil
}

// Calendar returns the month view of the user's transactions.
func (s *Service) Calendar(ctx context.Context, userID string, year, month int) (core.MonthCalendar, error) {
	if strings.TrimSpace(userID) == "" {
		return core.MonthCalendar{}, &ValidationError{Err: core.ErrEmptyUser}
	}
	first, last, err := core.MonthRange(year, month)
	if err != nil {
		return core.MonthCalendar{}, &ValidationError{Err: err}
	}
	txs, err := s.store.ListTransactions(ctx, userID, ports.TransactionFilter{StartDate: &first, EndDate: &last})
	if err != nil {
		return core.MonthCalendar{}, fmt.Errorf("list transactions: %w", err)
	}
	return core.BuildMonth(year, month, txs)
}

// Day returns the totals and the transactions of a single day.
func (s *Service) Day(ctx context.Context, userID, date string) (core.DaySummary, []core.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return core.DaySummary{}, nil, &ValidationError{Err: core.ErrEmptyUser}
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.DaySummary{}, nil, &ValidationError{Err: err}
	}
	txs, err := s.store.ListTransactions(ctx, userID, ports.TransactionFilter{StartDate: &d, EndDate: &d})
	if err != nil {
		return core.DaySummary{}, nil, fmt.Errorf("list transactions: %w", err)
	}
	return core.SummarizeDay(txs, d), txs, nil
}

// Categories lists the categories offered for a transaction type.
func (s *Service) Categories(ctx context.Context, txType string) ([]core.Category, error) {
	t, err := core.ParseTxType(txType)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	cats, err := s.store.ListCategories(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// Reconcile recomputes the balance implied by the user's full ledger and
// compares it with the stored pair. Both are read as of the same moment,
// also when another process is mutating the ledger.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	if strings.TrimSpace(userID) == "" {
		return Reconciliation{}, &ValidationError{Err: core.ErrEmptyUser}
	}

	// Keeps this process's own mutations out of the read window.
	unlock := s.locks.Lock(userID)
	defer unlock()

	stored, txs, err := s.readLedger(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	implied := core.Reconcile(txs)
	return Reconciliation{
		Stored:       stored,
		Implied:      implied,
		Drift:        core.Drift(stored, implied),
		Transactions: len(txs),
	}, nil
}

// readLedger returns the stored balance and the transactions it should
// match. Without a store snapshot the balance is read again after the
// listing and the pair is only accepted when it did not move.
func (s *Service) readLedger(ctx context.Context, userID string) (core.Balance, []core.Transaction, error) {
	if s.snapshot != nil {
		bal, txs, err := s.snapshot.Snapshot(ctx, userID)
		if err != nil {
			return core.Balance{}, nil, fmt.Errorf("read ledger snapshot: %w", err)
		}
		return bal, txs, nil
	}

	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		before, err := s.store.GetBalances(ctx, userID)
		if err != nil {
			return core.Balance{}, nil, fmt.Errorf("get balances: %w", err)
		}
		txs, err := s.store.ListTransactions(ctx, userID, ports.TransactionFilter{})
		if err != nil {
			return core.Balance{}, nil, fmt.Errorf("list transactions: %w", err)
		}
		after, err := s.store.GetBalances(ctx, userID)
		if err != nil {
			return core.Balance{}, nil, fmt.Errorf("get balances: %w", err)
		}
		if before == after {
			return after, txs, nil
		}
		slog.DebugContext(ctx, "Balance moved while reading ledger, retrying",
			"user_id", userID,
			"attempt", attempt)
	}
	return core.Balance{}, nil, fmt.Errorf("ledger of %s kept changing after %d reads: %w", userID, reconcileAttempts, ErrConflict)
}

func (s *Service) buildTransaction(userID string, in NewTransaction) (core.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return core.Transaction{}, core.ErrEmptyUser
	}
	if strings.TrimSpace(in.Amount) == "" {
		return core.Transaction{}, fmt.Errorf("%w: %w", ErrMissingFields, core.ErrInvalidAmount)
	}
	if strings.TrimSpace(in.Category) == "" {
		return core.Transaction{}, fmt.Errorf("%w: %w", ErrMissingFields, core.ErrEmptyCategory)
	}

	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	txType, err := core.ParseTxType(in.Type)
	if err != nil {
		return core.Transaction{}, err
	}
	method, err := core.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return core.Transaction{}, err
	}

	now := s.now()
	date := core.NewDate(now.Year(), int(now.Month()), now.Day())
	if strings.TrimSpace(in.Date) != "" {
		if date, err = core.ParseDate(in.Date); err != nil {
			return core.Transaction{}, err
		}
	}

	tx := core.Transaction{
		ID:            s.newID(),
		UserID:        userID,
		Amount:        amount,
		Type:          txType,
		Category:      strings.TrimSpace(in.Category),
		PaymentMethod: method,
		Description:   strings.TrimSpace(in.Description),
		Date:          date,
		CreatedAt:     now.UTC(),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func (s *Service) load(ctx context.Context, op core.MutationKind, userID, id string) (core.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return core.Transaction{}, fmt.Errorf("transaction id is empty: %w", ErrNotFound)
	}
	tx, err := s.store.GetTransaction(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, &PersistenceError{Op: op, TransactionErr: fmt.Errorf("load: %w", err), Compensated: true}
	}
	return tx, nil
}

// persist writes both halves of m and returns the balance after the change.
func (s *Service) persist(ctx context.Context, m core.Mutation) (core.Balance, error) {
	if s.atomic != nil {
		bal, err := s.atomic.ApplyMutation(ctx, m)
		switch {
		case err == nil:
			return bal, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
			return core.Balance{}, err
		default:
			// The datastore transaction was rolled back as a whole.
			return core.Balance{}, &PersistenceError{Op: m.Kind, TransactionErr: err, Compensated: true}
		}
	}
	return s.persistPair(ctx, m)
}

// persistPair writes the transaction and the absolute balance concurrently.
// A half failure is undone so that no balance change exists without its
// transaction and vice versa.
func (s *Service) persistPair(ctx context.Context, m core.Mutation) (core.Balance, error) {
	current, err := s.store.GetBalances(ctx, m.UserID)
	if err != nil {
		return core.Balance{}, &PersistenceError{
			Op:          m.Kind,
			BalanceErr:  fmt.Errorf("read: %w", err),
			Compensated: true,
		}
	}
	next := current.Apply(m.Delta)

	// Each half records its own error; neither cancels the other.
	var txErr, balErr error
	var g errgroup.Group
	g.Go(func() error {
		txErr = s.writeTransaction(ctx, m)
		return txErr
	})
	g.Go(func() error {
		balErr = s.store.UpdateBalances(ctx, m.UserID, next)
		return balErr
	})
	_ = g.Wait()

	if txErr == nil && balErr == nil {
		return next, nil
	}

	perr := &PersistenceError{Op: m.Kind, TransactionErr: txErr, BalanceErr: balErr}
	perr.Compensated = s.compensate(ctx, m, current, txErr, balErr)
	slog.ErrorContext(ctx, "Ledger mutation failed",
		"op", m.Kind,
		"user_id", m.UserID,
		"transaction_id", m.Transaction.ID,
		"transaction_error", txErr,
		"balance_error", balErr,
		"compensated", perr.Compensated)
	return core.Balance{}, perr
}

func (s *Service) writeTransaction(ctx context.Context, m core.Mutation) error {
	switch m.Kind {
	case core.MutationCreate:
		return s.store.InsertTransaction(ctx, m.Transaction)
	case core.MutationUpdate:
		return s.store.UpdateTransaction(ctx, m.UserID, m.Transaction.ID, m.NewAmount, m.NewDescription)
	case core.MutationDelete:
		return s.store.DeleteTransaction(ctx, m.UserID, m.Transaction.ID)
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// compensate undoes whichever half of m succeeded. It reports whether the
// ledger is consistent afterwards.
func (s *Service) compensate(ctx context.Context, m core.Mutation, previous core.Balance, txErr, balErr error) bool {
	if txErr != nil && balErr != nil {
		return true
	}

	// Runs even when the request context is already cancelled.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	var err error
	if balErr != nil {
		err = s.undoTransaction(cctx, m)
	} else {
		err = s.store.UpdateBalances(cctx, m.UserID, previous)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Compensation failed, ledger and balance disagree",
			"op", m.Kind,
			"user_id", m.UserID,
			"transaction_id", m.Transaction.ID,
			"error", err)
		return false
	}

	slog.WarnContext(ctx, "Compensated half-applied ledger mutation",
		"op", m.Kind,
		"user_id", m.UserID,
		"transaction_id", m.Transaction.ID)
	return true
}

func (s *Service) undoTransaction(ctx context.Context, m core.Mutation) error {
	switch m.Kind {
	case core.MutationCreate:
		return s.store.DeleteTransaction(ctx, m.UserID, m.Transaction.ID)
	case core.MutationUpdate:
		return s.store.UpdateTransaction(ctx, m.UserID, m.Transaction.ID, m.Transaction.Amount, m.Transaction.Description)
	case core.MutationDelete:
		return s.store.InsertTransaction(ctx, m.Transaction)
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

func mutationFields(kind core.MutationKind, tx core.Transaction, bal core.Balance) applog.LogFields {
	return applog.NewFields().
		WithComponent(applog.ComponentLedger).
		WithOperation(string(kind)).
		WithTransaction(tx.UserID, tx.ID, string(tx.Type), string(tx.PaymentMethod), tx.Amount.Cents).
		WithBalance(bal.Account.Cents, bal.Cash.Cents)
}

func (s *Service) publish(ctx context.Context, m core.Mutation, tx core.Transaction, bal core.Balance) {
	if s.publisher == nil {
		return
	}
	ev := core.LedgerEvent{
		Kind:        m.Kind,
		UserID:      tx.UserID,
		Transaction: tx,
		Delta:       m.Delta,
		Balance:     bal,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		// The mutation is already persisted; the event is best effort.
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"op", m.Kind,
			"user_id", tx.UserID,
			"transaction_id", tx.ID,
			"error", err)
	}
}
