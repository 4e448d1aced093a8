package core

import "time"

// DayCell is one day of a calendar month with its totals.
type DayCell struct {
	Date         Date
	TotalExpense Money
	TotalIncome  Money
	HasExpense   bool
	HasIncome    bool
}

// MonthCalendar is the calendar view of a month of ledger activity.
type MonthCalendar struct {
	Year  int
	Month int // 1-12
	// LeadingBlanks is the weekday of the 1st (Sunday = 0), i.e. the number
	// of empty cells before day 1 in a Sunday-first grid.
	LeadingBlanks int
	Days          []DayCell
	// Transactions are ordered by date, newest first.
	Transactions []Transaction
}

// DaySummary holds the per-type totals of a single day.
type DaySummary struct {
	Date         Date
	TotalExpense Money
	TotalIncome  Money
}

// MonthRange returns the first and last day of a month.
func MonthRange(year, month int) (Date, Date, error) {
	if month < 1 || month > 12 {
		return Date{}, Date{}, ErrInvalidMonth
	}
	first := NewDate(year, month, 1)
	last := Date{Time: first.AddDate(0, 1, -1)}
	return first, last, nil
}

// ShiftMonth moves year/month by n months (negative goes back).
func ShiftMonth(year, month, n int) (int, int) {
	t := time.Date(year, time.Month(month)+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), int(t.Month())
}

// BuildMonth lays out a month grid and aggregates the given transactions per
// day. Transactions outside the month are ignored.
func BuildMonth(year, month int, txs []Transaction) (MonthCalendar, error) {
	first, last, err := MonthRange(year, month)
	if err != nil {
		return MonthCalendar{}, err
	}

	cal := MonthCalendar{
		Year:          year,
		Month:         month,
		LeadingBlanks: int(first.Weekday()),
		Days:          make([]DayCell, last.Day()),
	}
	for i := range cal.Days {
		cal.Days[i].Date = NewDate(year, month, i+1)
	}

	for _, tx := range txs {
		if tx.Date.Year() != year || tx.Date.Month() != month {
			continue
		}
		cell := &cal.Days[tx.Date.Day()-1]
		switch tx.Type {
		case Expense:
			cell.TotalExpense = cell.TotalExpense.Add(tx.Amount)
			cell.HasExpense = true
		case Income:
			cell.TotalIncome = cell.TotalIncome.Add(tx.Amount)
			cell.HasIncome = true
		}
		cal.Transactions = append(cal.Transactions, tx)
	}
	return cal, nil
}

// TransactionsOn returns the month's transactions dated d.
func (c MonthCalendar) TransactionsOn(d Date) []Transaction {
	var out []Transaction
	for _, tx := range c.Transactions {
		if tx.Date.Equal(d.Time) {
			out = append(out, tx)
		}
	}
	return out
}

// SummarizeDay totals expenses and incomes dated d.
func SummarizeDay(txs []Transaction, d Date) DaySummary {
	s := DaySummary{Date: d}
	for _, tx := range txs {
		if !tx.Date.Equal(d.Time) {
			continue
		}
		switch tx.Type {
		case Expense:
			s.TotalExpense = s.TotalExpense.Add(tx.Amount)
		case Income:
			s.TotalIncome = s.TotalIncome.Add(tx.Amount)
		}
	}
	return s
}
