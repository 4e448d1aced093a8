package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cashbook/internal/core"
	"cashbook/internal/ports"

	_ "modernc.org/sqlite"
)

// createdAtLayout is fixed width so that created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

const transactionColumns = `id, user_id, amount_cents, type, category, payment_method, description, transaction_date, created_at`

// SQLiteRepository persists the ledger in a local SQLite database. It
// implements ports.Store, ports.AtomicLedger and ports.LedgerSnapshot.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time

	// betweenSnapshotReads runs inside Snapshot after the balance read.
	betweenSnapshotReads func()
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite has a single writer; one connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) GetBalances(ctx context.Context, userID string) (core.Balance, error) {
	return getBalances(ctx, r.db, userID)
}

func getBalances(ctx context.Context, q querier, userID string) (core.Balance, error) {
	var account, cash int64
	err := q.QueryRowContext(ctx,
		`SELECT account_balance, cash_balance FROM user_balances WHERE user_id = ?`, userID,
	).Scan(&account, &cash)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Balance{}, nil
	}
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balances: %w", err)
	}
	return core.Balance{Account: core.Money{Cents: account}, Cash: core.Money{Cents: cash}}, nil
}

func (r *SQLiteRepository) UpdateBalances(ctx context.Context, userID string, b core.Balance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, account_balance, cash_balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			account_balance = excluded.account_balance,
			cash_balance = excluded.cash_balance,
			updated_at = excluded.updated_at`,
		userID, b.Account.Cents, b.Cash.Cents, r.timestamp())
	if err != nil {
		return fmt.Errorf("update balances: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	if err := insertTransaction(ctx, r.db, tx); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"amount_cents", tx.Amount.Cents)
	return nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, userID, id string, amount core.Money, description string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET amount_cents = ?, description = ? WHERE id = ? AND user_id = ?`,
		amount.Cents, description, id, userID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, filter ports.TransactionFilter) ([]core.Transaction, error) {
	return listTransactions(ctx, r.db, userID, filter)
}

func listTransactions(ctx context.Context, q querier, userID string, filter ports.TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if filter.StartDate != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, filter.EndDate.String())
	}
	query += ` ORDER BY transaction_date DESC, created_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, t core.TxType) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, color FROM categories WHERE type = ? ORDER BY name`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			id    int64
			c     core.Category
			ctype string
		)
		if err := rows.Scan(&id, &c.Name, &ctype, &c.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.ID = fmt.Sprintf("%d", id)
		c.Type = core.TxType(ctype)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// ApplyMutation writes the transaction change and increments the balance row
// in one SQLite transaction. Updates and deletes only match the row when its
// amount still equals the one the delta was computed from.
func (r *SQLiteRepository) ApplyMutation(ctx context.Context, m core.Mutation) (core.Balance, error) {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Balance{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	switch m.Kind {
	case core.MutationCreate:
		err = insertTransaction(ctx, dbtx, m.Transaction)
	case core.MutationUpdate:
		err = guardedExec(ctx, dbtx, m,
			`UPDATE transactions SET amount_cents = ?, description = ?
			 WHERE id = ? AND user_id = ? AND amount_cents = ?`,
			m.NewAmount.Cents, m.NewDescription, m.Transaction.ID, m.UserID, m.Transaction.Amount.Cents)
	case core.MutationDelete:
		err = guardedExec(ctx, dbtx, m,
			`DELETE FROM transactions WHERE id = ? AND user_id = ? AND amount_cents = ?`,
			m.Transaction.ID, m.UserID, m.Transaction.Amount.Cents)
	default:
		err = fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	if err != nil {
		return core.Balance{}, err
	}

	var account, cash int64
	err = dbtx.QueryRowContext(ctx, `
		INSERT INTO user_balances (user_id, account_balance, cash_balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			account_balance = account_balance + excluded.account_balance,
			cash_balance = cash_balance + excluded.cash_balance,
			updated_at = excluded.updated_at
		RETURNING account_balance, cash_balance`,
		m.UserID, m.Delta.Account.Cents, m.Delta.Cash.Cents, r.timestamp(),
	).Scan(&account, &cash)
	if err != nil {
		return core.Balance{}, fmt.Errorf("increment balances: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return core.Balance{}, fmt.Errorf("commit: %w", err)
	}
	return core.Balance{Account: core.Money{Cents: account}, Cash: core.Money{Cents: cash}}, nil
}

// Snapshot reads the balance pair and the full ledger of the user inside one
// read-only transaction, so a writer on another connection or process
// commits either before both reads or after both.
func (r *SQLiteRepository) Snapshot(ctx context.Context, userID string) (core.Balance, []core.Transaction, error) {
	dbtx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return core.Balance{}, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer dbtx.Rollback()

	bal, err := getBalances(ctx, dbtx, userID)
	if err != nil {
		return core.Balance{}, nil, err
	}
	if r.betweenSnapshotReads != nil {
		r.betweenSnapshotReads()
	}
	txs, err := listTransactions(ctx, dbtx, userID, ports.TransactionFilter{})
	if err != nil {
		return core.Balance{}, nil, err
	}
	return bal, txs, nil
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(createdAtLayout)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func insertTransaction(ctx context.Context, db execer, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		tx.Amount.Cents,
		string(tx.Type),
		tx.Category,
		string(tx.PaymentMethod),
		tx.Description,
		tx.Date.String(),
		tx.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// guardedExec runs a statement that must touch exactly one row. When it
// touches none, the row is either gone or was changed since it was read.
func guardedExec(ctx context.Context, dbtx *sql.Tx, m core.Mutation, query string, args ...any) error {
	res, err := dbtx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s transaction: %w", m.Kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = dbtx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE id = ? AND user_id = ?`,
		m.Transaction.ID, m.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	if exists == 0 {
		return ports.ErrNotFound
	}
	return fmt.Errorf("transaction %s changed concurrently: %w", m.Transaction.ID, ports.ErrConflict)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx                        core.Transaction
		txType, method, date, cat string
		createdAt                 string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount.Cents, &txType, &cat, &method,
		&tx.Description, &date, &createdAt)
	if err != nil {
		return core.Transaction{}, err
	}

	tx.Type = core.TxType(txType)
	tx.PaymentMethod = core.PaymentMethod(method)
	tx.Category = cat
	if tx.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction_date %q: %w", date, err)
	}
	if tx.CreatedAt, err = time.Parse(createdAtLayout, strings.TrimSpace(createdAt)); err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return tx, nil
}
