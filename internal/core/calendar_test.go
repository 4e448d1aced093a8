package core

import (
	"errors"
	"testing"
)

func TestMonthRange(t *testing.T) {
	first, last, err := MonthRange(2024, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.String() != "2024-02-01" || last.String() != "2024-02-29" {
		t.Fatalf("got %s..%s", first, last)
	}
	if _, _, err := MonthRange(2024, 13); !errors.Is(err, ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestShiftMonth(t *testing.T) {
	cases := []struct{ y, m, n, wy, wm int }{
		{2025, 1, -1, 2024, 12},
		{2025, 12, 1, 2026, 1},
		{2025, 6, 0, 2025, 6},
		{2025, 3, 14, 2026, 5},
	}
	for _, tc := range cases {
		y, m := ShiftMonth(tc.y, tc.m, tc.n)
		if y != tc.wy || m != tc.wm {
			t.Fatalf("ShiftMonth(%d,%d,%d) = %d-%d, want %d-%d", tc.y, tc.m, tc.n, y, m, tc.wy, tc.wm)
		}
	}
}

func TestBuildMonth(t *testing.T) {
	txs := []Transaction{
		{ID: "a", Amount: rupees(150), Type: Expense, Date: NewDate(2025, 6, 10)},
		{ID: "b", Amount: rupees(50), Type: Expense, Date: NewDate(2025, 6, 10)},
		{ID: "c", Amount: rupees(300), Type: Income, Date: NewDate(2025, 6, 10)},
		{ID: "d", Amount: rupees(20), Type: Income, Date: NewDate(2025, 6, 1)},
		{ID: "e", Amount: rupees(99), Type: Expense, Date: NewDate(2025, 7, 1)}, // other month
	}
	cal, err := BuildMonth(2025, 6, txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2025-06-01 is a Sunday
	if cal.LeadingBlanks != 0 {
		t.Fatalf("expected 0 leading blanks, got %d", cal.LeadingBlanks)
	}
	if len(cal.Days) != 30 {
		t.Fatalf("expected 30 days, got %d", len(cal.Days))
	}
	day10 := cal.Days[9]
	if day10.TotalExpense != rupees(200) || day10.TotalIncome != rupees(300) || !day10.HasExpense || !day10.HasIncome {
		t.Fatalf("unexpected day 10: %+v", day10)
	}
	day1 := cal.Days[0]
	if day1.HasExpense || !day1.HasIncome {
		t.Fatalf("unexpected day 1 markers: %+v", day1)
	}
	if cal.Days[1].HasExpense || cal.Days[1].HasIncome {
		t.Fatalf("day 2 should be empty: %+v", cal.Days[1])
	}
	if len(cal.Transactions) != 4 {
		t.Fatalf("expected 4 month transactions, got %d", len(cal.Transactions))
	}
	if got := cal.TransactionsOn(NewDate(2025, 6, 10)); len(got) != 3 {
		t.Fatalf("expected 3 transactions on day 10, got %d", len(got))
	}

	// 2025-05-01 is a Thursday
	may, _ := BuildMonth(2025, 5, nil)
	if may.LeadingBlanks != 4 || len(may.Days) != 31 {
		t.Fatalf("unexpected May layout: blanks=%d days=%d", may.LeadingBlanks, len(may.Days))
	}
}

func TestSummarizeDay(t *testing.T) {
	d := NewDate(2025, 6, 10)
	txs := []Transaction{
		{Amount: rupees(150), Type: Expense, Date: d},
		{Amount: rupees(300), Type: Income, Date: d},
		{Amount: rupees(7), Type: Expense, Date: NewDate(2025, 6, 11)},
	}
	s := SummarizeDay(txs, d)
	if s.TotalExpense != rupees(150) || s.TotalIncome != rupees(300) {
		t.Fatalf("unexpected summary %+v", s)
	}
}
