// Package store defines the persistence interface for the flash-loan engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

var (
	ErrPoolNotFound  = errors.New("store: pool not found")
	ErrLoanNotFound  = errors.New("store: loan not found")
	ErrDuplicatePool = errors.New("store: pool for asset already exists")
)

// Store is the persistence interface. It holds the Pool Store (indexed by
// id and by asset) and the Loan Store (indexed by id and by borrower).
type Store interface {
	// --- Pool operations ---

	// CreatePool persists a new pool. Fails with ErrDuplicatePool if a pool
	// for the same asset already exists.
	CreatePool(ctx context.Context, pool *model.LiquidityPool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.LiquidityPool, error)

	// GetPoolByAsset retrieves the pool for an asset.
	GetPoolByAsset(ctx context.Context, id asset.ID) (*model.LiquidityPool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.LiquidityPool, error)

	// UpdatePoolBalance sets the tracked balance of a pool.
	UpdatePoolBalance(ctx context.Context, id string, balance asset.Amount) error

	// --- Loan operations ---

	// CreateLoan persists a new loan record.
	CreateLoan(ctx context.Context, loan *model.LoanRecord) error

	// GetLoan retrieves a loan by its ID.
	GetLoan(ctx context.Context, id string) (*model.LoanRecord, error)

	// ListLoansByBorrower returns all loans of a borrower, oldest first.
	ListLoansByBorrower(ctx context.Context, borrower string) ([]model.LoanRecord, error)

	// MarkLoanRepaid flips the repaid flag and records when it happened.
	MarkLoanRepaid(ctx context.Context, id string, at time.Time) error

	// --- Unit of work ---

	// Atomic runs fn against a store view whose writes are committed only
	// if fn returns nil. Any error discards every write fn made.
	//
	// Only store writes are covered. Side effects fn performs elsewhere, such
	// as a custody transfer, are not undone if the final commit fails, so
	// callers make the external call the last step of fn.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
