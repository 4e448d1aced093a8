// Package supabase stores the ledger in a hosted Supabase (PostgREST)
// project using the transactions, user_balances and categories tables.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"cashbook/internal/core"
	"cashbook/internal/ports"
)

const (
	transactionsTable = "transactions"
	balancesTable     = "user_balances"
	categoriesTable   = "categories"
)

// Store implements ports.Store on PostgREST. It has no multi-table
// transactions, so the ledger service pairs its writes and compensates.
type Store struct {
	client *supabase.Client
}

func New(url, key string) (*Store, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Store{client: client}, nil
}

type (
	transactionRow struct {
		ID              string          `json:"id"`
		UserID          string          `json:"user_id"`
		Amount          decimal.Decimal `json:"amount"`
		Type            string          `json:"type"`
		Category        string          `json:"category"`
		PaymentMethod   string          `json:"payment_method"`
		Description     string          `json:"description"`
		TransactionDate string          `json:"transaction_date"`
		CreatedAt       time.Time       `json:"created_at"`
	}

	transactionPatch struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}

	balanceRow struct {
		UserID         string          `json:"user_id"`
		AccountBalance decimal.Decimal `json:"account_balance"`
		CashBalance    decimal.Decimal `json:"cash_balance"`
		UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	}

	categoryRow struct {
		ID    rowID  `json:"id"`
		Name  string `json:"name"`
		Type  string `json:"type"`
		Color string `json:"color"`
	}
)

// rowID accepts both numeric and text primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", b, err)
	}
	*id = rowID(n.String())
	return nil
}

func toTransactionRow(tx core.Transaction) transactionRow {
	return transactionRow{
		ID:              tx.ID,
		UserID:          tx.UserID,
		Amount:          tx.Amount.Decimal(),
		Type:            string(tx.Type),
		Category:        tx.Category,
		PaymentMethod:   string(tx.PaymentMethod),
		Description:     tx.Description,
		TransactionDate: tx.Date.String(),
		CreatedAt:       tx.CreatedAt.UTC(),
	}
}

func (r transactionRow) toCore() (core.Transaction, error) {
	date, err := core.ParseDate(r.TransactionDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: date %q: %w", r.ID, r.TransactionDate, err)
	}
	method := core.PaymentMethod(r.PaymentMethod)
	if method == "" {
		method = core.Account
	}
	return core.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		Amount:        core.MoneyFromDecimal(r.Amount),
		Type:          core.TxType(r.Type),
		Category:      r.Category,
		PaymentMethod: method,
		Description:   r.Description,
		Date:          date,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func (r balanceRow) toCore() core.Balance {
	return core.Balance{
		Account: core.MoneyFromDecimal(r.AccountBalance),
		Cash:    core.MoneyFromDecimal(r.CashBalance),
	}
}

func decodeTransactions(data []byte) ([]core.Transaction, error) {
	var rows []transactionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	// PostgREST orders by date only; created_at breaks ties.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func countRows(data []byte) (int, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return len(rows), nil
}

func (s *Store) GetBalances(ctx context.Context, userID string) (core.Balance, error) {
	data, _, err := s.client.From(balancesTable).
		Select("user_id,account_balance,cash_balance", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balances: %w", err)
	}
	var rows []balanceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return core.Balance{}, fmt.Errorf("decode balances: %w", err)
	}
	if len(rows) == 0 {
		return core.Balance{}, nil
	}
	return rows[0].toCore(), nil
}

func (s *Store) UpdateBalances(ctx context.Context, userID string, b core.Balance) error {
	now := time.Now().UTC()
	row := balanceRow{
		UserID:         userID,
		AccountBalance: b.Account.Decimal(),
		CashBalance:    b.Cash.Decimal(),
		UpdatedAt:      &now,
	}
	_, _, err := s.client.From(balancesTable).
		Insert(row, true, "user_id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upsert balances: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	data, _, err := s.client.From(transactionsTable).
		Select("*", "", false).
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	txs, err := decodeTransactions(data)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(txs) == 0 {
		return core.Transaction{}, ports.ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	_, _, err := s.client.From(transactionsTable).
		Insert(toTransactionRow(tx), false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	slog.DebugContext(ctx, "Transaction saved to Supabase",
		"transaction_id", tx.ID,
		"user_id", tx.UserID)
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, userID, id string, amount core.Money, description string) error {
	data, _, err := s.client.From(transactionsTable).
		Update(transactionPatch{Amount: amount.Decimal(), Description: description}, "representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectRow(data)
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	data, _, err := s.client.From(transactionsTable).
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return expectRow(data)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter ports.TransactionFilter) ([]core.Transaction, error) {
	query := s.client.From(transactionsTable).
		Select("*", "", false).
		Eq("user_id", userID)
	if filter.StartDate != nil {
		query = query.Gte("transaction_date", filter.StartDate.String())
	}
	if filter.EndDate != nil {
		query = query.Lte("transaction_date", filter.EndDate.String())
	}
	query = query.Order("transaction_date", &postgrest.OrderOpts{Ascending: false})

	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return decodeTransactions(data)
}

func (s *Store) ListCategories(ctx context.Context, t core.TxType) ([]core.Category, error) {
	data, _, err := s.client.From(categoriesTable).
		Select("id,name,type,color", "", false).
		Eq("type", string(t)).
		Order("name", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var rows []categoryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Category{
			ID:    string(row.ID),
			Name:  row.Name,
			Type:  core.TxType(row.Type),
			Color: row.Color,
		})
	}
	return out, nil
}

// Ping checks that the project answers queries.
func (s *Store) Ping(ctx context.Context) error {
	_, _, err := s.client.From(categoriesTable).
		Select("id", "", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("ping supabase: %w", err)
	}
	return nil
}

func expectRow(data []byte) error {
	n, err := countRows(data)
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}
