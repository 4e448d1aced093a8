package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cashbook/internal/core"
	"cashbook/internal/ledger"
	applog "cashbook/internal/log"
)

// amountField accepts 12.5, "12.5" and "12,50".
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or string")
	}
	*a = amountField(n.String())
	return nil
}

type createRequest struct {
	Amount        amountField `json:"amount"`
	Type          string      `json:"type"`
	Category      string      `json:"category"`
	PaymentMethod string      `json:"payment_method"`
	Description   string      `json:"description"`
	Date          string      `json:"transaction_date"`
}

type updateRequest struct {
	Amount      amountField `json:"amount"`
	Description string      `json:"description"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "backend unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.ledger.Create(r.Context(), userID, ledger.NewTransaction{
		Amount:        string(req.Amount),
		Type:          sanitizeInput(req.Type),
		Category:      sanitizeInput(req.Category),
		PaymentMethod: sanitizeInput(req.PaymentMethod),
		Description:   sanitizeInput(req.Description),
		Date:          sanitizeInput(req.Date),
	})
	if err != nil {
		s.writeLedgerError(w, r, core.MutationCreate, err)
		return
	}

	s.invalidateCalendars(r.Context(), userID)
	writeJSON(w, http.StatusCreated, resultJSON{
		Transaction: toTransactionJSON(res.Transaction),
		Balance:     toBalanceJSON(res.Balance),
		Message:     "Transaction added successfully",
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.ledger.Update(r.Context(), userID, r.PathValue("id"), ledger.Edit{
		Amount:      string(req.Amount),
		Description: sanitizeInput(req.Description),
	})
	if err != nil {
		s.writeLedgerError(w, r, core.MutationUpdate, err)
		return
	}

	s.invalidateCalendars(r.Context(), userID)
	writeJSON(w, http.StatusOK, resultJSON{
		Transaction: toTransactionJSON(res.Transaction),
		Balance:     toBalanceJSON(res.Balance),
		Message:     "Transaction updated successfully",
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.ledger.Delete(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, core.MutationDelete, err)
		return
	}

	s.invalidateCalendars(r.Context(), userID)
	writeJSON(w, http.StatusOK, resultJSON{
		Transaction: toTransactionJSON(res.Transaction),
		Balance:     toBalanceJSON(res.Balance),
		Message:     "Transaction deleted successfully",
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request, userID string) {
	year, month, err := parseMonthParams(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cal, err := s.calendar(r.Context(), userID, year, month)
	if err != nil {
		s.writeLedgerError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalendarJSON(cal))
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request, userID string) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = core.Today().String()
	}

	summary, txs, err := s.day(r.Context(), userID, date)
	if err != nil {
		s.writeLedgerError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, dayJSON{
		Date:         summary.Date.String(),
		TotalExpense: summary.TotalExpense.String(),
		TotalIncome:  summary.TotalIncome.String(),
		Transactions: toTransactionsJSON(txs),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.ledger.Balances(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceJSON(b))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := s.ledger.Reconcile(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, r, "", err)
		return
	}
	if !rec.Consistent() {
		slog.WarnContext(r.Context(), "Balance drift detected",
			"user_id", userID,
			"drift_account", rec.Drift.Account.String(),
			"drift_cash", rec.Drift.Cash.String())
	}
	writeJSON(w, http.StatusOK, toReconcileJSON(rec))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	txType := r.URL.Query().Get("type")
	if txType == "" {
		txType = string(core.Expense)
	}
	cats, err := s.ledger.Categories(r.Context(), txType)
	if err != nil {
		s.writeLedgerError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoriesJSON(cats))
}

// writeLedgerError maps service errors onto status codes. op selects the
// failure message of mutations; reads pass "".
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, op core.MutationKind, err error) {
	status := statusFor(err)
	if status >= 500 {
		applog.LogError(r.Context(), "Ledger operation failed", err, string(op), nil)
	}
	var verr *ledger.ValidationError
	if op == "" && errors.As(err, &verr) {
		writeError(w, status, "Invalid request: "+verr.Err.Error())
		return
	}
	writeError(w, status, ledger.UserMessage(op, err))
}

func statusFor(err error) int {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		slog.WarnContext(r.Context(), "Malformed request body", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return false
	}
	return true
}

// parseMonthParams reads year and month, defaulting to the current month.
func parseMonthParams(r *http.Request) (int, int, error) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return 0, 0, fmt.Errorf("invalid year %q", v)
		}
		year = y
	}
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, fmt.Errorf("invalid month %q", v)
		}
		month = m
	}
	return year, month, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
