package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts and balances are plain JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

type OperationType string

const (
	Deposit  OperationType = "deposit"
	Withdraw OperationType = "withdraw"
	Transfer OperationType = "transfer"
)

func (t OperationType) Valid() bool {
	switch t {
	case Deposit, Withdraw, Transfer:
		return true
	}
	return false
}

// Statement is one immutable ledger entry. Transfer entries are always the
// receiving leg; the sending leg is stored as a Withdraw.
type Statement struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	SenderID    *string         `json:"sender_id,omitempty"`
	Type        OperationType   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Signed returns the amount with the sign it contributes to the owner's balance.
func (s Statement) Signed() decimal.Decimal {
	if s.Type == Withdraw {
		return s.Amount.Neg()
	}
	return s.Amount
}

type Balance struct {
	Balance    decimal.Decimal `json:"balance"`
	Statements []Statement     `json:"statement"`
}

// SumBalance folds statements into a balance.
func SumBalance(statements []Statement) decimal.Decimal {
	total := decimal.Zero
	for _, s := range statements {
		total = total.Add(s.Signed())
	}
	return total
}
