package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Writes never populate the cache, so a rolled-back transaction cannot leave
// uncommitted state behind in Redis.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.LiquidityPool) error {
	return s.primary.CreatePool(ctx, p)
}

func (s *CachedStore) UpdatePoolBalance(ctx context.Context, id string, balance asset.Amount) error {
	if err := s.primary.UpdatePoolBalance(ctx, id, balance); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

func (s *CachedStore) CreateLoan(ctx context.Context, l *model.LoanRecord) error {
	return s.primary.CreateLoan(ctx, l)
}

func (s *CachedStore) MarkLoanRepaid(ctx context.Context, id string, at time.Time) error {
	if err := s.primary.MarkLoanRepaid(ctx, id, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, loanKey(id))
	return nil
}

// Atomic delegates the transaction to the primary and hands fn a cached
// view over the transactional store so invalidations still happen.
func (s *CachedStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	var touched []string
	err := s.primary.Atomic(ctx, func(tx Store) error {
		view := &txCachedStore{CachedStore: &CachedStore{primary: tx, rdb: s.rdb, ttl: s.ttl}, touched: &touched}
		return fn(view)
	})
	// Invalidate again after commit: a concurrent reader may have cached the
	// pre-transaction value between the in-transaction delete and the commit.
	if err == nil && len(touched) > 0 {
		s.rdb.Del(ctx, touched...)
	}
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.LiquidityPool, error) {
	var p model.LiquidityPool
	if s.getJSON(ctx, poolKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	pool, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, poolKey(id), pool)
	return pool, nil
}

func (s *CachedStore) GetPoolByAsset(ctx context.Context, id asset.ID) (*model.LiquidityPool, error) {
	// Try cache via asset→poolID mapping. The mapping is immutable once a
	// pool exists.
	poolID, err := s.rdb.Get(ctx, assetKey(id)).Result()
	if err == nil {
		return s.GetPool(ctx, poolID)
	}

	// Cache miss.
	pool, err := s.primary.GetPoolByAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	s.setJSON(ctx, poolKey(pool.ID), pool)
	s.rdb.Set(ctx, assetKey(id), pool.ID, s.ttl)
	return pool, nil
}

func (s *CachedStore) GetLoan(ctx context.Context, id string) (*model.LoanRecord, error) {
	var l model.LoanRecord
	if s.getJSON(ctx, loanKey(id), &l) {
		return &l, nil
	}

	loan, err := s.primary.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, loanKey(id), loan)
	return loan, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.LiquidityPool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListLoansByBorrower(ctx context.Context, borrower string) ([]model.LoanRecord, error) {
	return s.primary.ListLoansByBorrower(ctx, borrower)
}

// --- Cache helpers ---

func (s *CachedStore) getJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// txCachedStore is the view handed to fn inside Atomic. Reads bypass the
// cache so the transaction always sees its own writes; writes record the
// keys to invalidate after commit.
type txCachedStore struct {
	*CachedStore
	touched *[]string
}

func (s *txCachedStore) GetPool(ctx context.Context, id string) (*model.LiquidityPool, error) {
	return s.primary.GetPool(ctx, id)
}

func (s *txCachedStore) GetPoolByAsset(ctx context.Context, id asset.ID) (*model.LiquidityPool, error) {
	return s.primary.GetPoolByAsset(ctx, id)
}

func (s *txCachedStore) GetLoan(ctx context.Context, id string) (*model.LoanRecord, error) {
	return s.primary.GetLoan(ctx, id)
}

func (s *txCachedStore) UpdatePoolBalance(ctx context.Context, id string, balance asset.Amount) error {
	*s.touched = append(*s.touched, poolKey(id))
	return s.CachedStore.UpdatePoolBalance(ctx, id, balance)
}

func (s *txCachedStore) MarkLoanRepaid(ctx context.Context, id string, at time.Time) error {
	*s.touched = append(*s.touched, loanKey(id))
	return s.CachedStore.MarkLoanRepaid(ctx, id, at)
}

func (s *txCachedStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func poolKey(id string) string { return fmt.Sprintf("flashloan:pool:%s", id) }
func assetKey(id asset.ID) string { return fmt.Sprintf("flashloan:asset:%s", id) }
func loanKey(id string) string { return fmt.Sprintf("flashloan:loan:%s", id) }
