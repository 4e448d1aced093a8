package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2025 || d.Month() != 3 || d.Day() != 9 || d.String() != "2025-03-09" {
		t.Fatalf("unexpected date %v", d)
	}
	for _, in := range []string{"", "2025-13-01", "09/03/2025", "2025-02-30"} {
		if _, err := ParseDate(in); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q expected ErrInvalidDate, got %v", in, err)
		}
	}
}

func TestParseTypeAndMethod(t *testing.T) {
	if tt, err := ParseTxType(" Income "); err != nil || tt != Income {
		t.Fatalf("got %v %v", tt, err)
	}
	if _, err := ParseTxType("transfer"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if m, err := ParsePaymentMethod(""); err != nil || m != Account {
		t.Fatalf("empty method should default to account, got %v %v", m, err)
	}
	if m, err := ParsePaymentMethod("CASH"); err != nil || m != Cash {
		t.Fatalf("got %v %v", m, err)
	}
	if _, err := ParsePaymentMethod("card"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -500}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		UserID:        "u1",
		Amount:        Money{Cents: 100},
		Type:          Expense,
		Category:      "Food",
		PaymentMethod: Account,
		Date:          NewDate(2025, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		mutate func(*Transaction)
		want   error
	}{
		{func(tx *Transaction) { tx.UserID = " " }, ErrEmptyUser},
		{func(tx *Transaction) { tx.Amount = Money{} }, ErrInvalidAmount},
		{func(tx *Transaction) { tx.Type = "transfer" }, ErrInvalidType},
		{func(tx *Transaction) { tx.Category = "" }, ErrEmptyCategory},
		{func(tx *Transaction) { tx.PaymentMethod = "card" }, ErrInvalidMethod},
		{func(tx *Transaction) { tx.Description = strings.Repeat("x", MaxDescriptionLength+1) }, ErrDescriptionTooLong},
	}
	for i, tc := range cases {
		tx := good
		tc.mutate(&tx)
		if err := tx.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}

	zeroDate := good
	zeroDate.Date = Date{}
	if err := zeroDate.Validate(); err == nil {
		t.Fatalf("expected error for zero date")
	}

	// Each of these letters is three bytes in UTF-8.
	hindi := good
	hindi.Description = strings.Repeat("क", MaxDescriptionLength)
	if err := hindi.Validate(); err != nil {
		t.Fatalf("expected %d Devanagari characters to pass, got %v", MaxDescriptionLength, err)
	}
	hindi.Description += "ख"
	if err := hindi.Validate(); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong, got %v", err)
	}
}
