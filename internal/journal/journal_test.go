package journal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goption "google.golang.org/api/option"

	"cashbook/internal/core"
)

func sampleEvent(kind core.MutationKind, t core.TxType) core.LedgerEvent {
	tx := core.Transaction{
		ID:            "tx-1",
		UserID:        "u1",
		Amount:        core.Money{Cents: 20000},
		Type:          t,
		Category:      "Food",
		PaymentMethod: core.Account,
		Description:   "groceries",
		Date:          core.NewDate(2025, 6, 3),
	}
	delta := core.CreateDelta(tx.Amount, tx.Type, tx.PaymentMethod)
	if kind == core.MutationDelete {
		delta = core.DeleteDelta(tx)
	}
	return core.LedgerEvent{
		Kind:        kind,
		UserID:      "u1",
		Transaction: tx,
		Delta:       delta,
		Balance:     core.Balance{Account: core.Money{Cents: 80000}},
		OccurredAt:  time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestRow(t *testing.T) {
	tests := []struct {
		name       string
		kind       core.MutationKind
		txType     core.TxType
		wantAmount string
	}{
		{"created expense is negative", core.MutationCreate, core.Expense, "-200.00"},
		{"created income is positive", core.MutationCreate, core.Income, "200.00"},
		{"deleted expense is positive", core.MutationDelete, core.Expense, "200.00"},
		{"deleted income is negative", core.MutationDelete, core.Income, "-200.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := Row(sampleEvent(tt.kind, tt.txType))
			if len(row) != len(Header) {
				t.Fatalf("row has %d cells, header %d", len(row), len(Header))
			}
			if row[8] != tt.wantAmount {
				t.Errorf("amount cell = %v, want %s", row[8], tt.wantAmount)
			}
			if row[0] != "2025-06-03T10:00:00Z" || row[4] != "2025-06-03" || row[10] != "800.00" {
				t.Errorf("row = %v", row)
			}
		})
	}
}

func TestRowUpdateJournalsDifference(t *testing.T) {
	// An expense edited from 200 to 250 takes another 50 off the account.
	ev := sampleEvent(core.MutationUpdate, core.Expense)
	ev.Transaction.Amount = core.Money{Cents: 25000}
	ev.Delta = core.UpdateDelta(sampleEvent(core.MutationCreate, core.Expense).Transaction, ev.Transaction.Amount)

	row := Row(ev)
	if row[8] != "-50.00" {
		t.Errorf("amount cell = %v, want -50.00", row[8])
	}
}

func TestRowEscapesFormulas(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"hyperlink", `=HYPERLINK("http://evil.example","click")`, `'=HYPERLINK("http://evil.example","click")`},
		{"plus", "+1+2", "'+1+2"},
		{"minus", "-2+3", "'-2+3"},
		{"at", "@SUM(A1)", "'@SUM(A1)"},
		{"tab", "\t=1", "'\t=1"},
		{"plain text", "groceries", "groceries"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := sampleEvent(core.MutationCreate, core.Expense)
			ev.Transaction.Description = tt.in
			ev.Transaction.Category = tt.in
			row := Row(ev)
			if row[9] != tt.want {
				t.Errorf("description cell = %q, want %q", row[9], tt.want)
			}
			if row[6] != tt.want {
				t.Errorf("category cell = %q, want %q", row[6], tt.want)
			}
		})
	}
}

func TestNewRequiresSpreadsheet(t *testing.T) {
	if _, err := New(context.Background(), " ", "Journal", Credentials{JSON: "{}"}); err == nil {
		t.Error("New() without spreadsheet id error = nil")
	}
	if _, err := New(context.Background(), "sheet-1", "Journal", Credentials{}); err == nil {
		t.Error("New() without credentials error = nil")
	}
}

func TestAppendEvent(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Values [][]any `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","updates":{"updatedRange":"Journal!A2:L2","updatedRows":1}}`)
	}))
	defer srv.Close()

	j, err := New(context.Background(), "sheet-1", "Journal", Credentials{},
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := j.AppendEvent(context.Background(), sampleEvent(core.MutationCreate, core.Expense)); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if !strings.HasSuffix(gotPath, "/values/Journal!A:L:append") {
		t.Errorf("request path = %q", gotPath)
	}
	if len(gotBody.Values) != 1 || gotBody.Values[0][3] != "tx-1" {
		t.Errorf("request values = %v", gotBody.Values)
	}
}
