// Package journal appends ledger events to a Google Sheets tab so the
// household can audit the ledger in a spreadsheet.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"cashbook/internal/core"
)

// Header is the first row of the journal tab.
var Header = []any{
	"Occurred At", "Event", "User", "Transaction", "Date", "Type",
	"Category", "Method", "Amount", "Description", "Account Balance", "Cash Balance",
}

// Writer appends one row per ledger event.
type Writer interface {
	AppendEvent(ctx context.Context, ev core.LedgerEvent) error
}

// Credentials selects the service account used to reach the Sheets API.
type Credentials struct {
	JSON string
	File string
}

// SheetsJournal writes journal rows with the Sheets values API.
type SheetsJournal struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
}

// New creates a journal on the given spreadsheet tab.
func New(ctx context.Context, spreadsheetID, sheet string, creds Credentials, opts ...goption.ClientOption) (*SheetsJournal, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheet) == "" {
		sheet = "Journal"
	}

	svc, err := newSheetsService(ctx, creds, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &SheetsJournal{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

// newSheetsService authenticates with service account credentials. Extra
// options (endpoint, HTTP client) replace the credentials when given.
func newSheetsService(ctx context.Context, creds Credentials, opts ...goption.ClientOption) (*gsheet.Service, error) {
	if len(opts) > 0 {
		return gsheet.NewService(ctx, opts...)
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(creds.JSON) != "":
		credentialsJSON = []byte(creds.JSON)
	case strings.TrimSpace(creds.File) != "":
		data, err := os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// EnsureHeader writes the header row when the tab is empty.
func (j *SheetsJournal) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:L1", j.sheet)
	resp, err := j.svc.Spreadsheets.Values.Get(j.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read journal header: %w", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}
	vr := &gsheet.ValueRange{Values: [][]any{Header}}
	_, err = j.svc.Spreadsheets.Values.Update(j.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	return nil
}

// AppendEvent adds one row after the last used row of the tab.
func (j *SheetsJournal) AppendEvent(ctx context.Context, ev core.LedgerEvent) error {
	rng := fmt.Sprintf("%s!A:L", j.sheet)
	vr := &gsheet.ValueRange{Values: [][]any{Row(ev)}}
	resp, err := j.svc.Spreadsheets.Values.Append(j.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append journal row: %w", err)
	}

	var updated string
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	slog.DebugContext(ctx, "Journal row appended",
		"transaction_id", ev.Transaction.ID,
		"kind", ev.Kind,
		"range", updated)
	return nil
}

// Row renders an event as journal cells. The amount is the change the
// event applied to the balance: the signed amount of a create, its
// reversal for a delete, and the difference for an update. Free text is
// escaped so the sheet never evaluates it as a formula.
func Row(ev core.LedgerEvent) []any {
	tx := ev.Transaction
	applied := ev.Delta.Account.Add(ev.Delta.Cash)
	return []any{
		ev.OccurredAt.UTC().Format(time.RFC3339),
		string(ev.Kind),
		textCell(ev.UserID),
		textCell(tx.ID),
		tx.Date.String(),
		string(tx.Type),
		textCell(tx.Category),
		string(tx.PaymentMethod),
		applied.String(),
		textCell(tx.Description),
		ev.Balance.Account.String(),
		ev.Balance.Cash.String(),
	}
}

// textCell quotes a value that USER_ENTERED input would parse as a formula.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
