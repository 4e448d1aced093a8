package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cashbook/internal/core"
	"cashbook/internal/ledger"
)

type transactionJSON struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	AmountCents   int64     `json:"amount_cents"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"payment_method"`
	Description   string    `json:"description"`
	Date          string    `json:"transaction_date"`
	CreatedAt     time.Time `json:"created_at"`
}

type balanceJSON struct {
	Account        string `json:"account_balance"`
	Cash           string `json:"cash_balance"`
	AccountCents   int64  `json:"account_cents"`
	CashCents      int64  `json:"cash_cents"`
	AccountDisplay string `json:"account_display"`
	CashDisplay    string `json:"cash_display"`
	Total          string `json:"total"`
	TotalDisplay   string `json:"total_display"`
}

type resultJSON struct {
	Transaction transactionJSON `json:"transaction"`
	Balance     balanceJSON     `json:"balance"`
	Message     string          `json:"message"`
}

type dayCellJSON struct {
	Date         string `json:"date"`
	Day          int    `json:"day"`
	TotalExpense string `json:"total_expense"`
	TotalIncome  string `json:"total_income"`
	HasExpense   bool   `json:"has_expense"`
	HasIncome    bool   `json:"has_income"`
}

type calendarJSON struct {
	Year          int               `json:"year"`
	Month         int               `json:"month"`
	Title         string            `json:"title"`
	LeadingBlanks int               `json:"leading_blanks"`
	Days          []dayCellJSON     `json:"days"`
	Transactions  []transactionJSON `json:"transactions"`
	Prev          monthRefJSON      `json:"prev"`
	Next          monthRefJSON      `json:"next"`
}

type monthRefJSON struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type dayJSON struct {
	Date         string            `json:"date"`
	TotalExpense string            `json:"total_expense"`
	TotalIncome  string            `json:"total_income"`
	Transactions []transactionJSON `json:"transactions"`
}

type categoryJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Color string `json:"color,omitempty"`
}

type reconcileJSON struct {
	Stored       balanceJSON `json:"stored"`
	Implied      balanceJSON `json:"implied"`
	DriftAccount string      `json:"drift_account"`
	DriftCash    string      `json:"drift_cash"`
	Transactions int         `json:"transactions"`
	Consistent   bool        `json:"consistent"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func toTransactionJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:            tx.ID,
		Amount:        tx.Amount.String(),
		AmountCents:   tx.Amount.Cents,
		Type:          string(tx.Type),
		Category:      tx.Category,
		PaymentMethod: string(tx.PaymentMethod),
		Description:   tx.Description,
		Date:          tx.Date.String(),
		CreatedAt:     tx.CreatedAt,
	}
}

func toTransactionsJSON(txs []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionJSON(tx))
	}
	return out
}

func toBalanceJSON(b core.Balance) balanceJSON {
	return balanceJSON{
		Account:        b.Account.String(),
		Cash:           b.Cash.String(),
		AccountCents:   b.Account.Cents,
		CashCents:      b.Cash.Cents,
		AccountDisplay: core.FormatRupees(b.Account),
		CashDisplay:    core.FormatRupees(b.Cash),
		Total:          b.Total().String(),
		TotalDisplay:   core.FormatRupees(b.Total()),
	}
}

func toCalendarJSON(cal core.MonthCalendar) calendarJSON {
	out := calendarJSON{
		Year:          cal.Year,
		Month:         cal.Month,
		Title:         time.Month(cal.Month).String() + " " + itoa(cal.Year),
		LeadingBlanks: cal.LeadingBlanks,
		Days:          make([]dayCellJSON, 0, len(cal.Days)),
		Transactions:  toTransactionsJSON(cal.Transactions),
	}
	for _, d := range cal.Days {
		out.Days = append(out.Days, dayCellJSON{
			Date:         d.Date.String(),
			Day:          d.Date.Day(),
			TotalExpense: d.TotalExpense.String(),
			TotalIncome:  d.TotalIncome.String(),
			HasExpense:   d.HasExpense,
			HasIncome:    d.HasIncome,
		})
	}
	out.Prev.Year, out.Prev.Month = core.ShiftMonth(cal.Year, cal.Month, -1)
	out.Next.Year, out.Next.Month = core.ShiftMonth(cal.Year, cal.Month, 1)
	return out
}

func toCategoriesJSON(cats []core.Category) []categoryJSON {
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryJSON{ID: c.ID, Name: c.Name, Type: string(c.Type), Color: c.Color})
	}
	return out
}

func toReconcileJSON(rec ledger.Reconciliation) reconcileJSON {
	return reconcileJSON{
		Stored:       toBalanceJSON(rec.Stored),
		Implied:      toBalanceJSON(rec.Implied),
		DriftAccount: rec.Drift.Account.String(),
		DriftCash:    rec.Drift.Cash.String(),
		Transactions: rec.Transactions,
		Consistent:   rec.Consistent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorJSON{Error: message})
}

// sanitizeInput trims and drops control characters except tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
