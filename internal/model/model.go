// Package model defines the core domain records shared across the engine.
// All monetary values are asset.Amount, never float64 for money.
package model

import (
	"time"

	"github.com/atmx/flashloan/internal/asset"
)

// LiquidityPool is the per-asset reservoir loans are drawn against.
// Exactly one pool exists per asset; pools are never deleted.
//
// Balance is "capital ever deposited plus fees earned". Borrow does not
// decrement it and repay credits only the fee, so it drifts above actual
// custody over repeated loan cycles.
type LiquidityPool struct {
	ID              string       `json:"id" db:"id"`
	Asset           asset.ID     `json:"asset" db:"asset_id"`
	Balance         asset.Amount `json:"balance" db:"balance"`
	FeeRateBps      uint32       `json:"fee_rate_bps" db:"fee_rate_bps"`           // 1 = 0.01%
	MaxLoanRatioBps uint32       `json:"max_loan_ratio_bps" db:"max_loan_ratio_bps"` // cap on balance per loan
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// LoanRecord is a flash loan issued against a pool. Once created, only
// Repaid and RepaidAt ever change, and only once.
type LoanRecord struct {
	ID        string       `json:"id" db:"id"`
	PoolID    string       `json:"pool_id" db:"pool_id"`
	Borrower  string       `json:"borrower" db:"borrower"`
	Amount    asset.Amount `json:"amount" db:"amount"`
	Fee       asset.Amount `json:"fee" db:"fee"`
	Expiry    time.Time    `json:"expiry" db:"expiry"`
	Repaid    bool         `json:"repaid" db:"repaid"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	RepaidAt  *time.Time   `json:"repaid_at,omitempty" db:"repaid_at"`
}

// Expired reports whether the loan is at or past its expiry at now.
func (l *LoanRecord) Expired(now time.Time) bool {
	return !now.Before(l.Expiry)
}

// Repayment is the amount owed to settle the loan: principal plus fee.
func (l *LoanRecord) Repayment() (asset.Amount, error) {
	return l.Amount.Add(l.Fee)
}
