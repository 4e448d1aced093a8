package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cashbook/internal/core"
)

// MessageVersion is the schema version of LedgerEventMessage.
const MessageVersion = 1

// LedgerEventMessage is the wire form of a persisted ledger mutation.
type LedgerEventMessage struct {
	Version     int                `json:"version"`
	EventID     string             `json:"event_id"`
	Kind        string             `json:"kind"`
	UserID      string             `json:"user_id"`
	Transaction TransactionPayload `json:"transaction"`
	Delta       BalancePayload     `json:"delta"`
	Balance     BalancePayload     `json:"balance"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

type TransactionPayload struct {
	ID            string    `json:"id"`
	AmountCents   int64     `json:"amount_cents"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"payment_method"`
	Description   string    `json:"description,omitempty"`
	Date          string    `json:"transaction_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// BalancePayload is a balance pair in cents: the applied delta or the
// balance after the mutation.
type BalancePayload struct {
	AccountCents int64 `json:"account_cents"`
	CashCents    int64 `json:"cash_cents"`
}

// NewLedgerEventMessage converts a ledger event for publishing.
func NewLedgerEventMessage(ev core.LedgerEvent) *LedgerEventMessage {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	tx := ev.Transaction
	return &LedgerEventMessage{
		Version: MessageVersion,
		EventID: uuid.NewString(),
		Kind:    string(ev.Kind),
		UserID:  ev.UserID,
		Transaction: TransactionPayload{
			ID:            tx.ID,
			AmountCents:   tx.Amount.Cents,
			Type:          string(tx.Type),
			Category:      tx.Category,
			PaymentMethod: string(tx.PaymentMethod),
			Description:   tx.Description,
			Date:          tx.Date.String(),
			CreatedAt:     tx.CreatedAt,
		},
		Delta: BalancePayload{
			AccountCents: ev.Delta.Account.Cents,
			CashCents:    ev.Delta.Cash.Cents,
		},
		Balance: BalancePayload{
			AccountCents: ev.Balance.Account.Cents,
			CashCents:    ev.Balance.Cash.Cents,
		},
		OccurredAt: occurred,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes and checks a message body.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *LedgerEventMessage) validate() error {
	if m.Version != MessageVersion {
		return fmt.Errorf("unsupported message version %d", m.Version)
	}
	switch core.MutationKind(m.Kind) {
	case core.MutationCreate, core.MutationUpdate, core.MutationDelete:
	default:
		return fmt.Errorf("unknown event kind %q", m.Kind)
	}
	if m.UserID == "" {
		return errors.New("missing user_id")
	}
	if m.Transaction.ID == "" {
		return errors.New("missing transaction id")
	}
	return nil
}

// Event converts the message back to a ledger event.
func (m *LedgerEventMessage) Event() (core.LedgerEvent, error) {
	date, err := core.ParseDate(m.Transaction.Date)
	if err != nil {
		return core.LedgerEvent{}, fmt.Errorf("transaction date %q: %w", m.Transaction.Date, err)
	}
	return core.LedgerEvent{
		Kind:   core.MutationKind(m.Kind),
		UserID: m.UserID,
		Transaction: core.Transaction{
			ID:            m.Transaction.ID,
			UserID:        m.UserID,
			Amount:        core.Money{Cents: m.Transaction.AmountCents},
			Type:          core.TxType(m.Transaction.Type),
			Category:      m.Transaction.Category,
			PaymentMethod: core.PaymentMethod(m.Transaction.PaymentMethod),
			Description:   m.Transaction.Description,
			Date:          date,
			CreatedAt:     m.Transaction.CreatedAt,
		},
		Delta: core.BalanceDelta{
			Account: core.Money{Cents: m.Delta.AccountCents},
			Cash:    core.Money{Cents: m.Delta.CashCents},
		},
		Balance: core.Balance{
			Account: core.Money{Cents: m.Balance.AccountCents},
			Cash:    core.Money{Cents: m.Balance.CashCents},
		},
		OccurredAt: m.OccurredAt,
	}, nil
}
