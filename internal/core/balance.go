package core

type (
	// Balance is the per-user balance pair. A user without a stored balance
	// row has the zero Balance.
	Balance struct {
		Account Money
		Cash    Money
	}

	// BalanceDelta is the signed change a single mutation applies to a
	// Balance. At most one field is non-zero for any ledger operation.
	BalanceDelta struct {
		Account Money
		Cash    Money
	}
)

// Apply returns b with the delta added.
func (b Balance) Apply(d BalanceDelta) Balance {
	return Balance{
		Account: b.Account.Add(d.Account),
		Cash:    b.Cash.Add(d.Cash),
	}
}

// Total returns account + cash.
func (b Balance) Total() Money {
	return b.Account.Add(b.Cash)
}

// Neg inverts the delta.
func (d BalanceDelta) Neg() BalanceDelta {
	return BalanceDelta{Account: d.Account.Neg(), Cash: d.Cash.Neg()}
}

// IsZero reports whether the delta changes nothing.
func (d BalanceDelta) IsZero() bool {
	return d.Account.IsZero() && d.Cash.IsZero()
}

// CreateDelta is the effect of recording a transaction: expenses decrease
// and incomes increase the balance selected by the payment method.
// The amount may be negative, which is how update deltas flow through.
func CreateDelta(amount Money, t TxType, m PaymentMethod) BalanceDelta {
	signed := amount
	if t == Expense {
		signed = amount.Neg()
	}
	if m == Cash {
		return BalanceDelta{Cash: signed}
	}
	return BalanceDelta{Account: signed}
}

// DeleteDelta reverses the effect of a stored transaction.
func DeleteDelta(tx Transaction) BalanceDelta {
	return CreateDelta(tx.Amount, tx.Type, tx.PaymentMethod).Neg()
}

// UpdateDelta is the effect of changing a stored transaction's amount. Type
// and payment method are taken from the original transaction.
func UpdateDelta(original Transaction, newAmount Money) BalanceDelta {
	return CreateDelta(newAmount.Sub(original.Amount), original.Type, original.PaymentMethod)
}

// ApplyCreate returns the balance after recording a new transaction.
// It performs no validation; callers reject bad amounts first.
func ApplyCreate(current Balance, amount Money, t TxType, m PaymentMethod) Balance {
	return current.Apply(CreateDelta(amount, t, m))
}

// ApplyDelete returns the balance after removing a stored transaction.
func ApplyDelete(current Balance, tx Transaction) Balance {
	return current.Apply(DeleteDelta(tx))
}

// ApplyUpdate returns the balance after changing a stored transaction's
// amount to newAmount.
func ApplyUpdate(current Balance, original Transaction, newAmount Money) Balance {
	return current.Apply(UpdateDelta(original, newAmount))
}

// Reconcile computes the balance implied by a ledger, starting from zero.
func Reconcile(txs []Transaction) Balance {
	var b Balance
	for _, tx := range txs {
		b = ApplyCreate(b, tx.Amount, tx.Type, tx.PaymentMethod)
	}
	return b
}

// Drift returns stored minus implied. A zero drift means the stored balance
// agrees with the ledger.
func Drift(stored, implied Balance) BalanceDelta {
	return BalanceDelta{
		Account: stored.Account.Sub(implied.Account),
		Cash:    stored.Cash.Sub(implied.Cash),
	}
}
