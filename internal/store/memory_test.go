package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/model"
)

var (
	eos = asset.MustParseID("4,EOS@eosio.token")
	sys = asset.MustParseID("4,SYS@eosio.token")
)

func seedPool(t *testing.T, s *MemoryStore, id string, a asset.ID, balance string) {
	t.Helper()
	pool := &model.LiquidityPool{
		ID:              id,
		Asset:           a,
		Balance:         asset.MustAmount(a, balance),
		FeeRateBps:      100,
		MaxLoanRatioBps: 5000,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.CreatePool(context.Background(), pool), "seed pool")
}

func TestMemoryStore_PoolIndexes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedPool(t, s, "pool-eos", eos, "1000")

	byID, err := s.GetPool(ctx, "pool-eos")
	require.NoError(t, err)
	byAsset, err := s.GetPoolByAsset(ctx, eos)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byAsset.ID)

	_, err = s.GetPoolByAsset(ctx, sys)
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestMemoryStore_DuplicateAssetRejected(t *testing.T) {
	s := NewMemoryStore()
	seedPool(t, s, "pool-1", eos, "1000")

	err := s.CreatePool(context.Background(), &model.LiquidityPool{
		ID:      "pool-2",
		Asset:   eos,
		Balance: asset.MustAmount(eos, "1"),
	})
	require.ErrorIs(t, err, ErrDuplicatePool)

	pools, _ := s.ListPools(context.Background())
	assert.Len(t, pools, 1)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedPool(t, s, "pool-eos", eos, "1000")

	p, _ := s.GetPool(context.Background(), "pool-eos")
	p.Balance = asset.MustAmount(eos, "1")

	again, _ := s.GetPool(context.Background(), "pool-eos")
	assert.Equal(t, "1000.0000 EOS", again.Balance.String(), "stored pool mutated through a returned copy")
}

func TestMemoryStore_UpdatePoolBalanceAssetMismatch(t *testing.T) {
	s := NewMemoryStore()
	seedPool(t, s, "pool-eos", eos, "1000")

	err := s.UpdatePoolBalance(context.Background(), "pool-eos", asset.MustAmount(sys, "5"))
	assert.ErrorIs(t, err, asset.ErrAssetMismatch)
}

func TestMemoryStore_LoansByBorrower(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, l := range []model.LoanRecord{
		{ID: "l1", Borrower: "alice", Amount: asset.MustAmount(eos, "1")},
		{ID: "l2", Borrower: "bob", Amount: asset.MustAmount(eos, "2")},
		{ID: "l3", Borrower: "alice", Amount: asset.MustAmount(eos, "3")},
	} {
		l := l
		require.NoError(t, s.CreateLoan(ctx, &l))
	}

	loans, err := s.ListLoansByBorrower(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "l1", loans[0].ID)
	assert.Equal(t, "l3", loans[1].ID)

	none, _ := s.ListLoansByBorrower(ctx, "carol")
	assert.Empty(t, none)
}

func TestMemoryStore_MarkLoanRepaid(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateLoan(ctx, &model.LoanRecord{ID: "l1", Borrower: "alice"}))

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkLoanRepaid(ctx, "l1", at))

	l, _ := s.GetLoan(ctx, "l1")
	assert.True(t, l.Repaid)
	require.NotNil(t, l.RepaidAt)
	assert.True(t, l.RepaidAt.Equal(at))

	assert.ErrorIs(t, s.MarkLoanRepaid(ctx, "missing", at), ErrLoanNotFound)
}

func TestMemoryStore_AtomicRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedPool(t, s, "pool-eos", eos, "1000")

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx Store) error {
		if err := tx.UpdatePoolBalance(ctx, "pool-eos", asset.MustAmount(eos, "2000")); err != nil {
			return err
		}
		if err := tx.CreateLoan(ctx, &model.LoanRecord{ID: "l1", Borrower: "alice"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, _ := s.GetPool(ctx, "pool-eos")
	assert.Equal(t, "1000.0000 EOS", p.Balance.String(), "balance not rolled back")

	_, err = s.GetLoan(ctx, "l1")
	assert.ErrorIs(t, err, ErrLoanNotFound, "loan not rolled back")

	loans, _ := s.ListLoansByBorrower(ctx, "alice")
	assert.Empty(t, loans, "borrower index not rolled back")
}

func TestMemoryStore_AtomicCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedPool(t, s, "pool-eos", eos, "1000")

	err := s.Atomic(ctx, func(tx Store) error {
		return tx.UpdatePoolBalance(ctx, "pool-eos", asset.MustAmount(eos, "1005"))
	})
	require.NoError(t, err)

	p, _ := s.GetPool(ctx, "pool-eos")
	assert.Equal(t, "1005.0000 EOS", p.Balance.String())
}
