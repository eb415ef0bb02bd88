package flashloan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/auth"
	"github.com/atmx/flashloan/internal/metrics"
	"github.com/atmx/flashloan/internal/model"
	"github.com/atmx/flashloan/internal/store"
)

// CreatePoolParams describes a new pool.
type CreatePoolParams struct {
	Asset           asset.ID     `json:"asset"`
	InitialBalance  asset.Amount `json:"initial_balance"`
	FeeRateBps      uint32       `json:"fee_rate_bps"`
	MaxLoanRatioBps uint32       `json:"max_loan_ratio_bps"`
}

func (p CreatePoolParams) validate() error {
	if p.Asset.IsZero() {
		return fmt.Errorf("%w: missing asset", ErrInvalidPoolParams)
	}
	if p.InitialBalance.Asset != p.Asset {
		return fmt.Errorf("%w: initial balance in %s, pool holds %s",
			ErrInvalidAmount, p.InitialBalance.Asset, p.Asset)
	}
	if err := p.InitialBalance.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if p.InitialBalance.IsNegative() {
		return fmt.Errorf("%w: negative initial balance %s", ErrInvalidAmount, p.InitialBalance)
	}
	if p.FeeRateBps > asset.BpsScale {
		return fmt.Errorf("%w: fee rate %d bps above %d", ErrInvalidPoolParams, p.FeeRateBps, asset.BpsScale)
	}
	if p.MaxLoanRatioBps > asset.BpsScale {
		return fmt.Errorf("%w: max loan ratio %d bps above %d", ErrInvalidPoolParams, p.MaxLoanRatioBps, asset.BpsScale)
	}
	return nil
}

// CreatePool inserts a new pool. Only the engine operator may create pools,
// and at most one pool exists per asset. The initial balance is recorded as
// given; no transfer is made.
func (e *Engine) CreatePool(ctx context.Context, c auth.Capability, params CreatePoolParams) (*model.LiquidityPool, error) {
	const op = "create_pool"
	defer metrics.ObserveOperation(op, time.Now())

	if err := c.Authorizes(e.account); err != nil {
		return nil, e.fail(op, fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}
	if err := params.validate(); err != nil {
		return nil, e.fail(op, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool := &model.LiquidityPool{
		ID:              uuid.New().String(),
		Asset:           params.Asset,
		Balance:         params.InitialBalance,
		FeeRateBps:      params.FeeRateBps,
		MaxLoanRatioBps: params.MaxLoanRatioBps,
		CreatedAt:       e.clock.Now().UTC(),
	}

	err := e.store.Atomic(ctx, func(tx store.Store) error {
		return tx.CreatePool(ctx, pool)
	})
	if err != nil {
		return nil, e.fail(op, mapStoreErr(err))
	}

	metrics.ActivePools.Inc()
	recordBalance(pool)
	e.logger.Info("pool created",
		"id", pool.ID,
		"asset", pool.Asset.String(),
		"balance", pool.Balance.String(),
		"fee_rate_bps", pool.FeeRateBps,
		"max_loan_ratio_bps", pool.MaxLoanRatioBps,
	)
	e.publish(Event{Type: EventPoolCreated, PoolID: pool.ID, Balance: &pool.Balance})

	return pool, nil
}

// Deposit moves amount from depositor into engine custody and credits the
// pool for amount's asset. The balance update is written first and discarded
// if the transfer fails.
func (e *Engine) Deposit(ctx context.Context, c auth.Capability, depositor string, amount asset.Amount) (*model.LiquidityPool, error) {
	const op = "deposit"
	defer metrics.ObserveOperation(op, time.Now())

	if err := c.Authorizes(depositor); err != nil {
		return nil, e.fail(op, fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}
	if err := validatePositive(amount); err != nil {
		return nil, e.fail(op, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var pool *model.LiquidityPool
	err := e.store.Atomic(ctx, func(tx store.Store) error {
		p, err := tx.GetPoolByAsset(ctx, amount.Asset)
		if err != nil {
			return mapStoreErr(err)
		}

		balance, err := p.Balance.Add(amount)
		if err != nil {
			return err
		}
		if err := tx.UpdatePoolBalance(ctx, p.ID, balance); err != nil {
			return err
		}
		p.Balance = balance
		pool = p

		// The transfer is the last step; a store failure never strands funds.
		return e.move(ctx, depositor, e.account, amount, MemoDeposit)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}

	metrics.Deposits.WithLabelValues(amount.Asset.String()).Inc()
	recordBalance(pool)
	e.logger.Info("deposit",
		"pool", pool.ID,
		"depositor", depositor,
		"amount", amount.String(),
		"balance", pool.Balance.String(),
	)
	e.publish(Event{Type: EventDeposit, PoolID: pool.ID, Account: depositor, Amount: &amount, Balance: &pool.Balance})

	return pool, nil
}

func validatePositive(a asset.Amount) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if !a.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, a)
	}
	return nil
}

// mapStoreErr translates store lookups into engine error kinds.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrPoolNotFound):
		return fmt.Errorf("%w: %w", ErrPoolNotFound, err)
	case errors.Is(err, store.ErrLoanNotFound):
		return fmt.Errorf("%w: %w", ErrLoanNotFound, err)
	case errors.Is(err, store.ErrDuplicatePool):
		return fmt.Errorf("%w: %w", ErrDuplicatePool, err)
	}
	return err
}
