package flashloan

import "errors"

// Error kinds surfaced by the engine. Every error aborts the operation with
// no change to the pool or loan stores. Match with errors.Is; the returned
// error also wraps the underlying cause (store, limiter, transfer).
var (
	ErrUnauthorized   = errors.New("flashloan: unauthorized")
	ErrPoolNotFound   = errors.New("flashloan: pool for this token does not exist")
	ErrLoanNotFound   = errors.New("flashloan: loan not found")
	ErrLoanTooLarge   = errors.New("flashloan: loan exceeds maximum ratio")
	ErrNotBorrower    = errors.New("flashloan: not your loan")
	ErrAlreadyRepaid  = errors.New("flashloan: already repaid")
	ErrLoanExpired    = errors.New("flashloan: loan expired")
	ErrTransferFailed = errors.New("flashloan: transfer failed")

	ErrDuplicatePool     = errors.New("flashloan: pool for this token already exists")
	ErrInvalidAmount     = errors.New("flashloan: invalid amount")
	ErrInvalidPoolParams = errors.New("flashloan: invalid pool parameters")
	ErrInvalidDuration   = errors.New("flashloan: invalid loan duration")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrLoanNotFound, "loan_not_found"},
	{ErrLoanTooLarge, "loan_too_large"},
	{ErrNotBorrower, "not_borrower"},
	{ErrAlreadyRepaid, "already_repaid"},
	{ErrLoanExpired, "loan_expired"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrDuplicatePool, "duplicate_pool"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidPoolParams, "invalid_pool_params"},
	{ErrInvalidDuration, "invalid_duration"},
}

// Reason returns a short stable label for err, suitable for metrics.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
