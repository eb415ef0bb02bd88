// Package limit implements the loan sizing limits enforced before a flash
// loan is issued.
//
// Every loan is capped at a fraction of its pool's tracked balance. An
// optional second cap bounds a borrower's aggregate unrepaid principal in
// one asset, so a single identity cannot chain many loans each individually
// under the pool ratio.
package limit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

var (
	// ErrRatioExceeded is returned when a loan is larger than the pool's
	// max-loan ratio of its balance.
	ErrRatioExceeded = errors.New("limit: loan exceeds maximum ratio of pool balance")

	// ErrOutstandingExceeded is returned when a loan would push a borrower's
	// unrepaid principal in one asset beyond the outstanding cap.
	ErrOutstandingExceeded = errors.New("limit: borrower outstanding principal limit exceeded")
)

// LoanLimiter enforces loan sizing limits.
type LoanLimiter struct {
	// MaxOutstanding is the maximum unrepaid principal a single borrower may
	// hold per asset, in whole units of that asset. Zero disables the cap.
	MaxOutstanding decimal.Decimal
}

// NewLoanLimiter creates a limiter. Pass decimal.Zero to disable the
// per-borrower outstanding cap.
func NewLoanLimiter(maxOutstanding decimal.Decimal) *LoanLimiter {
	if maxOutstanding.IsNegative() {
		maxOutstanding = decimal.Zero
	}
	return &LoanLimiter{MaxOutstanding: maxOutstanding}
}

// MaxLoan returns the largest principal a single loan may draw from pool:
// balance * max_loan_ratio_bps / 10000, truncated at the asset precision.
func MaxLoan(pool *model.LiquidityPool) asset.Amount {
	return pool.Balance.MulBps(pool.MaxLoanRatioBps)
}

// CheckLimit validates a loan request against the pool ratio and, when
// enabled, the borrower's outstanding principal.
//
// Parameters:
//   - pool: the funding pool
//   - amount: requested principal, same asset as the pool
//   - existing: the borrower's loans (any asset, any state)
//
// Returns nil if the loan is within limits. An amount exactly equal to the
// ratio cap is accepted.
func (l *LoanLimiter) CheckLimit(pool *model.LiquidityPool, amount asset.Amount, existing []model.LoanRecord) error {
	// 1. Pool ratio.
	maxLoan := MaxLoan(pool)
	cmp, err := amount.Cmp(maxLoan)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return fmt.Errorf("%w: %s > %s", ErrRatioExceeded, amount, maxLoan)
	}

	// 2. Outstanding principal across the borrower's unrepaid loans.
	if !l.MaxOutstanding.IsPositive() {
		return nil
	}
	outstanding := amount.Quantity
	for _, loan := range existing {
		if loan.Repaid || loan.Amount.Asset != amount.Asset {
			continue
		}
		outstanding = outstanding.Add(loan.Amount.Quantity)
	}
	if outstanding.GreaterThan(l.MaxOutstanding) {
		return fmt.Errorf("%w: %s > %s", ErrOutstandingExceeded,
			outstanding.StringFixed(int32(amount.Asset.Precision)), l.MaxOutstanding)
	}

	return nil
}
