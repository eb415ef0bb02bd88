// Package api exposes the flash-loan engine over HTTP: pool management,
// deposits, loans, ledger balances, and a WebSocket stream of engine events.
//
// Caller identity comes from the bearer token verified by auth.Middleware;
// request bodies name the account acting, and the engine checks the two match.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/auth"
	"github.com/atmx/flashloan/internal/flashloan"
	"github.com/atmx/flashloan/internal/model"
	"github.com/atmx/flashloan/internal/transfer"
)

// Service handles HTTP requests against one engine.
type Service struct {
	engine *flashloan.Engine
	ledger *transfer.Ledger // optional; enables the account endpoints
}

// NewService creates a new HTTP service.
// Pass nil for ledger when transfers go to an external system.
func NewService(engine *flashloan.Engine, ledger *transfer.Ledger) *Service {
	return &Service{engine: engine, ledger: ledger}
}

// Routes mounts the API under r. The hub, if non-nil, serves GET /ws.
func (s *Service) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.CreatePool)
	r.Get("/pools/{poolID}", s.GetPool)

	r.Post("/deposits", s.Deposit)

	r.Post("/loans", s.Borrow)
	r.Get("/loans/{loanID}", s.GetLoan)
	r.Post("/loans/{loanID}/repay", s.Repay)
	r.Get("/loans/{loanID}/check", s.CheckLoan)
	r.Get("/borrowers/{borrower}/loans", s.ListBorrowerLoans)

	if s.ledger != nil {
		r.Get("/accounts/{account}/balances", s.GetBalances)
		r.Post("/accounts/{account}/credit", s.Credit)
	}
}

// --- Request types ---

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest = flashloan.CreatePoolParams

// DepositRequest is the JSON body for POST /deposits.
type DepositRequest struct {
	Depositor string       `json:"depositor"`
	Amount    asset.Amount `json:"amount"`
}

// MaxDurationSeconds bounds a loan's duration to an unsigned 32-bit count
// of seconds, well inside what time.Duration can hold.
const MaxDurationSeconds int64 = math.MaxUint32

// BorrowRequest is the JSON body for POST /loans.
type BorrowRequest struct {
	Borrower        string       `json:"borrower"`
	Amount          asset.Amount `json:"amount"`
	DurationSeconds int64        `json:"duration_seconds"`
}

// RepayRequest is the JSON body for POST /loans/{loanID}/repay.
type RepayRequest struct {
	Borrower string `json:"borrower"`
}

// CreditRequest is the JSON body for POST /accounts/{account}/credit.
type CreditRequest struct {
	Amount asset.Amount `json:"amount"`
}

// --- Pools ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pool, err := s.engine.CreatePool(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.ListPools(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if pools == nil {
		pools = []model.LiquidityPool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// Deposit handles POST /api/v1/deposits
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Depositor == "" {
		writeError(w, "depositor is required", http.StatusBadRequest)
		return
	}

	pool, err := s.engine.Deposit(r.Context(), auth.FromContext(r.Context()), req.Depositor, req.Amount)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// --- Loans ---

// Borrow handles POST /api/v1/loans
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Borrower == "" {
		writeError(w, "borrower is required", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds < 0 || req.DurationSeconds > MaxDurationSeconds {
		writeError(w, fmt.Sprintf("duration_seconds must be between 0 and %d", MaxDurationSeconds), http.StatusBadRequest)
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	loan, err := s.engine.Borrow(r.Context(), auth.FromContext(r.Context()), req.Borrower, req.Amount, duration)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// GetLoan handles GET /api/v1/loans/{loanID}
func (s *Service) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.engine.GetLoan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Repay handles POST /api/v1/loans/{loanID}/repay
func (s *Service) Repay(w http.ResponseWriter, r *http.Request) {
	var req RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Borrower == "" {
		writeError(w, "borrower is required", http.StatusBadRequest)
		return
	}

	loan, err := s.engine.Repay(r.Context(), auth.FromContext(r.Context()), req.Borrower, chi.URLParam(r, "loanID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// CheckLoan handles GET /api/v1/loans/{loanID}/check
// Returns 410 Gone once the loan has reached its expiry.
func (s *Service) CheckLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.engine.CheckLoan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// ListBorrowerLoans handles GET /api/v1/borrowers/{borrower}/loans
func (s *Service) ListBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.engine.ListLoansByBorrower(r.Context(), chi.URLParam(r, "borrower"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if loans == nil {
		loans = []model.LoanRecord{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// --- Accounts ---

// GetBalances handles GET /api/v1/accounts/{account}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Balances(chi.URLParam(r, "account")))
}

// Credit handles POST /api/v1/accounts/{account}/credit
// Mints funds into an account on the local ledger. Operator only.
func (s *Service) Credit(w http.ResponseWriter, r *http.Request) {
	if err := auth.FromContext(r.Context()).Authorizes(s.engine.Account()); err != nil {
		writeEngineError(w, r, errors.Join(flashloan.ErrUnauthorized, err))
		return
	}

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	account := chi.URLParam(r, "account")
	if err := s.ledger.Credit(account, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("account credited", "account", account, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, s.ledger.Balance(account, req.Amount.Asset))
}

// --- Responses ---

// statusFor maps engine errors to HTTP status codes.
func statusFor(r *http.Request, err error) int {
	switch {
	case errors.Is(err, flashloan.ErrUnauthorized):
		if auth.FromContext(r.Context()).Subject() == "" {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, flashloan.ErrNotBorrower):
		return http.StatusForbidden
	case errors.Is(err, flashloan.ErrPoolNotFound),
		errors.Is(err, flashloan.ErrLoanNotFound):
		return http.StatusNotFound
	case errors.Is(err, flashloan.ErrDuplicatePool),
		errors.Is(err, flashloan.ErrAlreadyRepaid):
		return http.StatusConflict
	case errors.Is(err, flashloan.ErrLoanExpired):
		return http.StatusGone
	case errors.Is(err, flashloan.ErrLoanTooLarge),
		errors.Is(err, flashloan.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flashloan.ErrInvalidAmount),
		errors.Is(err, flashloan.ErrInvalidPoolParams),
		errors.Is(err, flashloan.ErrInvalidDuration):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(r, err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeErrorReason(w, msg, flashloan.Reason(err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorReason(w http.ResponseWriter, message, reason string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "reason": reason})
}
