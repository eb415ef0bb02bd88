package flashloan

import (
	"time"

	"github.com/atmx/flashloan/internal/asset"
)

// Event types published after an operation commits.
const (
	EventPoolCreated = "pool_created"
	EventDeposit     = "deposit"
	EventLoanIssued  = "loan_issued"
	EventLoanRepaid  = "loan_repaid"
)

// Event describes a committed state change.
type Event struct {
	Type      string        `json:"type"`
	PoolID    string        `json:"pool_id,omitempty"`
	LoanID    string        `json:"loan_id,omitempty"`
	Account   string        `json:"account,omitempty"`
	Amount    *asset.Amount `json:"amount,omitempty"`
	Fee       *asset.Amount `json:"fee,omitempty"`
	Balance   *asset.Amount `json:"balance,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Publisher receives engine events. Publish must not block; events are
// informational and dropping one never affects engine state.
type Publisher interface {
	Publish(Event)
}
