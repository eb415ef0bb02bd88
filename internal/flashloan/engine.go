// Package flashloan implements the pool and loan lifecycle of the flash-loan
// accounting engine: pool creation, deposit, borrow, repay and expiry check.
//
// Every mutating operation takes an explicit auth.Capability, runs under a
// single engine-wide lock, and executes inside one store unit of work
// together with its external transfer. An error at any step, including a
// failed transfer, leaves both stores untouched.
package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/limit"
	"github.com/atmx/flashloan/internal/metrics"
	"github.com/atmx/flashloan/internal/model"
	"github.com/atmx/flashloan/internal/store"
	"github.com/atmx/flashloan/internal/transfer"
)

// Transfer memos recorded with each custody move.
const (
	MemoDeposit   = "Deposit to flash loan pool"
	MemoLoan      = "Flash loan"
	MemoRepayment = "Loan repayment"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Engine owns the pool and loan stores. The engine account is both the
// custody account funds move into and out of, and the operator identity
// allowed to create pools.
type Engine struct {
	account   string
	store     store.Store
	transfers transfer.Transferer
	limiter   *limit.LoanLimiter
	clock     Clock
	publisher Publisher
	logger    *slog.Logger

	// mu serializes mutating operations so they are totally ordered.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLimiter overrides the default limiter, which only enforces the pool
// ratio.
func WithLimiter(l *limit.LoanLimiter) Option { return func(e *Engine) { e.limiter = l } }

// WithPublisher sets where engine events are published.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine that holds custody in account.
func New(account string, st store.Store, xfer transfer.Transferer, opts ...Option) *Engine {
	e := &Engine{
		account:   account,
		store:     st,
		transfers: xfer,
		limiter:   limit.NewLoanLimiter(decimal.Zero),
		clock:     SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Account returns the engine's custody and operator account.
func (e *Engine) Account() string { return e.account }

// --- Read-only queries ---

// GetPool returns a pool by ID.
func (e *Engine) GetPool(ctx context.Context, id string) (*model.LiquidityPool, error) {
	p, err := e.store.GetPool(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return p, nil
}

// GetPoolByAsset returns the pool for an asset.
func (e *Engine) GetPoolByAsset(ctx context.Context, id asset.ID) (*model.LiquidityPool, error) {
	p, err := e.store.GetPoolByAsset(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return p, nil
}

// ListPools returns every pool.
func (e *Engine) ListPools(ctx context.Context) ([]model.LiquidityPool, error) {
	return e.store.ListPools(ctx)
}

// GetLoan returns a loan by ID without evaluating its expiry.
func (e *Engine) GetLoan(ctx context.Context, id string) (*model.LoanRecord, error) {
	l, err := e.store.GetLoan(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return l, nil
}

// ListLoansByBorrower returns a borrower's loan history, oldest first.
func (e *Engine) ListLoansByBorrower(ctx context.Context, borrower string) ([]model.LoanRecord, error) {
	return e.store.ListLoansByBorrower(ctx, borrower)
}

// --- Helpers ---

// fail records a rejected operation and returns err unchanged.
func (e *Engine) fail(op string, err error) error {
	reason := Reason(err)
	metrics.OperationErrors.WithLabelValues(op, reason).Inc()
	e.logger.Warn("operation rejected", "op", op, "reason", reason, "err", err)
	return err
}

// move calls the transfer collaborator, tagging any failure.
func (e *Engine) move(ctx context.Context, from, to string, amount asset.Amount, memo string) error {
	if err := e.transfers.Transfer(ctx, from, to, amount, memo); err != nil {
		return fmt.Errorf("%w: %s from %s to %s: %w", ErrTransferFailed, amount, from, to, err)
	}
	return nil
}

func (e *Engine) publish(ev Event) {
	if e.publisher == nil {
		return
	}
	ev.Timestamp = e.clock.Now().UTC()
	e.publisher.Publish(ev)
}

func recordBalance(p *model.LiquidityPool) {
	metrics.PoolBalance.WithLabelValues(p.Asset.String()).Set(p.Balance.Quantity.InexactFloat64())
}
