package flashloan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/auth"
	"github.com/atmx/flashloan/internal/metrics"
	"github.com/atmx/flashloan/internal/model"
	"github.com/atmx/flashloan/internal/store"
)

// Borrow issues a loan of amount to borrower from the pool for amount's
// asset, due within duration.
//
// The loan record is written before the outgoing transfer so funds are
// never disbursed without a matching record; both sit in one unit of work,
// so a failed transfer also discards the record. The pool balance is not
// decremented.
func (e *Engine) Borrow(ctx context.Context, c auth.Capability, borrower string, amount asset.Amount, duration time.Duration) (*model.LoanRecord, error) {
	const op = "borrow"
	defer metrics.ObserveOperation(op, time.Now())

	if err := c.Authorizes(borrower); err != nil {
		return nil, e.fail(op, fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}
	if err := validatePositive(amount); err != nil {
		return nil, e.fail(op, err)
	}
	if duration < 0 {
		return nil, e.fail(op, fmt.Errorf("%w: %s", ErrInvalidDuration, duration))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var loan *model.LoanRecord
	err := e.store.Atomic(ctx, func(tx store.Store) error {
		pool, err := tx.GetPoolByAsset(ctx, amount.Asset)
		if err != nil {
			return mapStoreErr(err)
		}

		var existing []model.LoanRecord
		if e.limiter.MaxOutstanding.IsPositive() {
			if existing, err = tx.ListLoansByBorrower(ctx, borrower); err != nil {
				return err
			}
		}
		if err := e.limiter.CheckLimit(pool, amount, existing); err != nil {
			return fmt.Errorf("%w: %w", ErrLoanTooLarge, err)
		}

		now := e.clock.Now().UTC()
		loan = &model.LoanRecord{
			ID:        uuid.New().String(),
			PoolID:    pool.ID,
			Borrower:  borrower,
			Amount:    amount,
			Fee:       amount.MulBps(pool.FeeRateBps),
			Expiry:    now.Add(duration),
			Repaid:    false,
			CreatedAt: now,
		}
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}

		return e.move(ctx, e.account, borrower, amount, MemoLoan)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}

	assetLabel := amount.Asset.String()
	metrics.LoansIssued.WithLabelValues(assetLabel).Inc()
	metrics.PrincipalBorrowed.WithLabelValues(assetLabel).Add(amount.Quantity.InexactFloat64())
	e.logger.Info("loan issued",
		"loan_id", loan.ID,
		"pool", loan.PoolID,
		"borrower", borrower,
		"amount", loan.Amount.String(),
		"fee", loan.Fee.String(),
		"expiry", loan.Expiry,
	)
	e.publish(Event{Type: EventLoanIssued, PoolID: loan.PoolID, LoanID: loan.ID, Account: borrower, Amount: &loan.Amount, Fee: &loan.Fee})

	return loan, nil
}

// Repay settles a loan: borrower transfers principal plus fee back into
// custody, the pool is credited with the fee only, and the loan is marked
// repaid. A loan can be repaid once, by its borrower, even after expiry.
func (e *Engine) Repay(ctx context.Context, c auth.Capability, borrower, loanID string) (*model.LoanRecord, error) {
	const op = "repay"
	defer metrics.ObserveOperation(op, time.Now())

	if err := c.Authorizes(borrower); err != nil {
		return nil, e.fail(op, fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var loan *model.LoanRecord
	var pool *model.LiquidityPool
	err := e.store.Atomic(ctx, func(tx store.Store) error {
		l, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return mapStoreErr(err)
		}
		if l.Borrower != borrower {
			return fmt.Errorf("%w: loan %s belongs to %s", ErrNotBorrower, l.ID, l.Borrower)
		}
		if l.Repaid {
			return fmt.Errorf("%w: loan %s", ErrAlreadyRepaid, l.ID)
		}

		p, err := tx.GetPoolByAsset(ctx, l.Amount.Asset)
		if err != nil {
			return mapStoreErr(err)
		}

		total, err := l.Repayment()
		if err != nil {
			return err
		}

		// Only the fee is credited; the principal is not re-added.
		balance, err := p.Balance.Add(l.Fee)
		if err != nil {
			return err
		}
		if err := tx.UpdatePoolBalance(ctx, p.ID, balance); err != nil {
			return err
		}
		now := e.clock.Now().UTC()
		if err := tx.MarkLoanRepaid(ctx, l.ID, now); err != nil {
			return mapStoreErr(err)
		}

		p.Balance = balance
		l.Repaid = true
		l.RepaidAt = &now
		loan, pool = l, p

		return e.move(ctx, borrower, e.account, total, MemoRepayment)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}

	assetLabel := loan.Amount.Asset.String()
	metrics.LoansRepaid.WithLabelValues(assetLabel).Inc()
	metrics.FeesAccrued.WithLabelValues(assetLabel).Add(loan.Fee.Quantity.InexactFloat64())
	recordBalance(pool)
	e.logger.Info("loan repaid",
		"loan_id", loan.ID,
		"pool", pool.ID,
		"borrower", borrower,
		"fee", loan.Fee.String(),
		"balance", pool.Balance.String(),
	)
	e.publish(Event{Type: EventLoanRepaid, PoolID: pool.ID, LoanID: loan.ID, Account: borrower, Amount: &loan.Amount, Fee: &loan.Fee, Balance: &pool.Balance})

	return loan, nil
}

// CheckLoan returns the loan if it has not yet expired. At or after expiry
// it fails with ErrLoanExpired whether or not the loan was repaid. It has no
// side effects.
func (e *Engine) CheckLoan(ctx context.Context, loanID string) (*model.LoanRecord, error) {
	const op = "check_loan"
	defer metrics.ObserveOperation(op, time.Now())

	l, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, e.fail(op, mapStoreErr(err))
	}
	now := e.clock.Now().UTC()
	if l.Expired(now) {
		return nil, e.fail(op, fmt.Errorf("%w: loan %s expired at %s",
			ErrLoanExpired, l.ID, l.Expiry.Format(time.RFC3339)))
	}
	return l, nil
}
