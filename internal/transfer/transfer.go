// Package transfer models the external capability that moves custody of an
// asset between accounts. The engine only ever calls Transfer; it never
// inspects balances itself.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/flashloan/internal/asset"
)

var (
	ErrInsufficientFunds = errors.New("transfer: insufficient balance")
	ErrInvalidTransfer   = errors.New("transfer: invalid transfer")
)

// Transferer moves amount from one account to another. It either completes
// fully, in which case the move is final, or returns an error having moved
// nothing.
type Transferer interface {
	Transfer(ctx context.Context, from, to string, amount asset.Amount, memo string) error
}

// Record is one completed transfer.
type Record struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Amount asset.Amount `json:"amount"`
	Memo   string       `json:"memo"`
}

// Ledger is an in-memory custody ledger holding a balance per account and
// asset. Used by the development server and tests in place of a real token
// contract.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[asset.ID]decimal.Decimal
	history  []Record
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[asset.ID]decimal.Decimal)}
}

// Transfer implements Transferer.
func (l *Ledger) Transfer(_ context.Context, from, to string, amount asset.Amount, memo string) error {
	if from == "" || to == "" || from == to {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransfer, from, to)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrInvalidTransfer, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.balances[from][amount.Asset]
	if have.LessThan(amount.Quantity) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s",
			ErrInsufficientFunds, from, have.StringFixed(int32(amount.Asset.Precision)),
			amount.Asset.Symbol, amount)
	}

	l.add(from, amount.Asset, amount.Quantity.Neg())
	l.add(to, amount.Asset, amount.Quantity)
	l.history = append(l.history, Record{From: from, To: to, Amount: amount, Memo: memo})
	return nil
}

// Credit adds amount to account out of thin air. Used to fund accounts in
// development and tests.
func (l *Ledger) Credit(account string, amount asset.Amount) error {
	if account == "" || !amount.IsPositive() {
		return fmt.Errorf("%w: credit %s to %q", ErrInvalidTransfer, amount, account)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(account, amount.Asset, amount.Quantity)
	return nil
}

// Balance returns the balance account holds of id.
func (l *Ledger) Balance(account string, id asset.ID) asset.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return asset.Amount{Asset: id, Quantity: l.balances[account][id]}
}

// Balances returns every non-zero balance of account, ordered by asset.
func (l *Ledger) Balances(account string) []asset.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]asset.Amount, 0, len(l.balances[account]))
	for id, q := range l.balances[account] {
		if !q.IsZero() {
			out = append(out, asset.Amount{Asset: id, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Asset.String() < out[j].Asset.String()
	})
	return out
}

// History returns a copy of all completed transfers, oldest first.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.history...)
}

func (l *Ledger) add(account string, id asset.ID, delta decimal.Decimal) {
	byAsset, ok := l.balances[account]
	if !ok {
		byAsset = make(map[asset.ID]decimal.Decimal)
		l.balances[account] = byAsset
	}
	byAsset[id] = byAsset[id].Add(delta)
}
