package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	pools   map[string]*model.LiquidityPool
	byAsset map[asset.ID]string // asset → pool ID
	loans   map[string]*model.LoanRecord
	byOwner map[string][]string // borrower → loan IDs in insertion order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   make(map[string]*model.LiquidityPool),
		byAsset: make(map[asset.ID]string),
		loans:   make(map[string]*model.LoanRecord),
		byOwner: make(map[string][]string),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.LiquidityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAsset[p.Asset]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, p.Asset)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	s.pools[p.ID] = &copy
	s.byAsset[p.Asset] = p.ID
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.LiquidityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPoolByAsset(_ context.Context, id asset.ID) (*model.LiquidityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	poolID, ok := s.byAsset[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrPoolNotFound, id)
	}
	copy := *s.pools[poolID]
	return &copy, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.LiquidityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.LiquidityPool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].CreatedAt.Before(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) UpdatePoolBalance(_ context.Context, id string, balance asset.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	if balance.Asset != p.Asset {
		return fmt.Errorf("%w: pool %s holds %s", asset.ErrAssetMismatch, id, p.Asset)
	}
	p.Balance = balance
	return nil
}

func (s *MemoryStore) CreateLoan(_ context.Context, l *model.LoanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loans[l.ID]; exists {
		return fmt.Errorf("loan %s already exists", l.ID)
	}
	copy := *l
	s.loans[l.ID] = &copy
	s.byOwner[l.Borrower] = append(s.byOwner[l.Borrower], l.ID)
	return nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id string) (*model.LoanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ListLoansByBorrower(_ context.Context, borrower string) ([]model.LoanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[borrower]
	loans := make([]model.LoanRecord, 0, len(ids))
	for _, id := range ids {
		loans = append(loans, *s.loans[id])
	}
	return loans, nil
}

func (s *MemoryStore) MarkLoanRepaid(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLoanNotFound, id)
	}
	repaidAt := at
	l.Repaid = true
	l.RepaidAt = &repaidAt
	return nil
}

// Atomic snapshots both stores, runs fn, and restores the snapshot if fn
// fails. Transactions are serialized with each other; plain reads from
// other goroutines may observe uncommitted writes.
func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	pools   map[string]model.LiquidityPool
	byAsset map[asset.ID]string
	loans   map[string]model.LoanRecord
	byOwner map[string][]string
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		pools:   make(map[string]model.LiquidityPool, len(s.pools)),
		byAsset: make(map[asset.ID]string, len(s.byAsset)),
		loans:   make(map[string]model.LoanRecord, len(s.loans)),
		byOwner: make(map[string][]string, len(s.byOwner)),
	}
	for id, p := range s.pools {
		snap.pools[id] = *p
	}
	for a, id := range s.byAsset {
		snap.byAsset[a] = id
	}
	for id, l := range s.loans {
		snap.loans[id] = *l
	}
	for b, ids := range s.byOwner {
		snap.byOwner[b] = append([]string(nil), ids...)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools = make(map[string]*model.LiquidityPool, len(snap.pools))
	for id, p := range snap.pools {
		p := p
		s.pools[id] = &p
	}
	s.byAsset = snap.byAsset
	s.loans = make(map[string]*model.LoanRecord, len(snap.loans))
	for id, l := range snap.loans {
		l := l
		s.loans[id] = &l
	}
	s.byOwner = snap.byOwner
}
