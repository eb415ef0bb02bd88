package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/flashloan/internal/api"
	"github.com/atmx/flashloan/internal/asset"
	"github.com/atmx/flashloan/internal/auth"
	"github.com/atmx/flashloan/internal/flashloan"
	"github.com/atmx/flashloan/internal/model"
	"github.com/atmx/flashloan/internal/store"
	"github.com/atmx/flashloan/internal/transfer"
)

const operator = "flashloan"

var eos = asset.MustParseID("4,EOS@eosio.token")

func amt(q string) asset.Amount { return asset.MustAmount(eos, q) }

type testEnv struct {
	ledger *transfer.Ledger
	signer *auth.Signer
	router chi.Router
}

// newTestEnv creates an engine on an in-memory store behind a chi router
// with bearer-token auth.
func newTestEnv(t *testing.T, hub *api.WSHub) *testEnv {
	t.Helper()
	ledger := transfer.NewLedger()
	opts := []flashloan.Option{}
	if hub != nil {
		opts = append(opts, flashloan.WithPublisher(hub))
	}
	engine := flashloan.New(operator, store.NewMemoryStore(), ledger, opts...)
	svc := api.NewService(engine, ledger)
	signer := auth.NewSigner("test-secret", "flashloan-test", time.Hour)

	r := chi.NewRouter()
	r.Use(signer.Middleware)
	r.Route("/api/v1", func(r chi.Router) { svc.Routes(r, hub) })

	return &testEnv{ledger: ledger, signer: signer, router: r}
}

func (env *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := env.signer.Issue(subject, time.Now())
	require.NoError(t, err, "issue token")
	return tok
}

func (env *testEnv) do(t *testing.T, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body), "encode body")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+env.token(t, subject))
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) seedPool(t *testing.T) model.LiquidityPool {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/pools", operator, api.CreatePoolRequest{
		Asset:           eos,
		InitialBalance:  amt("1000"),
		FeeRateBps:      100,
		MaxLoanRatioBps: 5000,
	})
	require.Equal(t, http.StatusCreated, w.Code, "create pool: %s", w.Body.String())

	var pool model.LiquidityPool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pool))
	require.NoError(t, env.ledger.Credit(operator, amt("1000")), "fund custody")
	return pool
}

func decodeInto[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// --- Pools ---

func TestCreatePool_Valid(t *testing.T) {
	env := newTestEnv(t, nil)
	pool := env.seedPool(t)

	assert.NotEmpty(t, pool.ID)
	assert.Equal(t, "1000.0000 EOS", pool.Balance.String())

	w := env.do(t, "GET", "/api/v1/pools/"+pool.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreatePool_Auth(t *testing.T) {
	env := newTestEnv(t, nil)
	req := api.CreatePoolRequest{Asset: eos, InitialBalance: amt("1"), FeeRateBps: 1, MaxLoanRatioBps: 1}

	w := env.do(t, "POST", "/api/v1/pools", "", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "no token")

	w = env.do(t, "POST", "/api/v1/pools", "alice", req)
	assert.Equal(t, http.StatusForbidden, w.Code, "non-operator")
	assert.Equal(t, "unauthorized", decodeInto[map[string]string](t, w)["reason"])
}

func TestCreatePool_Duplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	w := env.do(t, "POST", "/api/v1/pools", operator, api.CreatePoolRequest{
		Asset: eos, InitialBalance: amt("1"), FeeRateBps: 1, MaxLoanRatioBps: 1,
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestCreatePool_InvalidParams(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/pools", operator, api.CreatePoolRequest{
		Asset: eos, InitialBalance: amt("1"), FeeRateBps: 20000, MaxLoanRatioBps: 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePool_BadBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/pools", strings.NewReader(`{"asset":"eos"}`))
	req.Header.Set("Authorization", "Bearer "+env.token(t, operator))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPools_Empty(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/v1/pools", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/v1/pools", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Deposits ---

func TestDeposit_NoPool(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.ledger.Credit("bob", amt("10")))

	w := env.do(t, "POST", "/api/v1/deposits", "bob", api.DepositRequest{Depositor: "bob", Amount: amt("10")})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, env.ledger.History(), "no transfer expected")
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	w := env.do(t, "POST", "/api/v1/deposits", "bob", api.DepositRequest{Depositor: "bob", Amount: amt("10")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "transfer_failed", decodeInto[map[string]string](t, w)["reason"])
}

// --- Loans ---

func TestLoanLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	pool := env.seedPool(t)

	w := env.do(t, "POST", "/api/v1/loans", "alice", api.BorrowRequest{
		Borrower: "alice", Amount: amt("500"), DurationSeconds: 3600,
	})
	require.Equal(t, http.StatusCreated, w.Code, "borrow: %s", w.Body.String())
	loan := decodeInto[model.LoanRecord](t, w)
	assert.Equal(t, "5.0000 EOS", loan.Fee.String())

	w = env.do(t, "POST", "/api/v1/loans", "alice", api.BorrowRequest{
		Borrower: "alice", Amount: amt("501"), DurationSeconds: 3600,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "oversized borrow")

	w = env.do(t, "GET", "/api/v1/loans/"+loan.ID+"/check", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "check")

	// Fund the fee via the operator credit endpoint.
	w = env.do(t, "POST", "/api/v1/accounts/alice/credit", operator, api.CreditRequest{Amount: amt("5")})
	require.Equal(t, http.StatusOK, w.Code, "credit: %s", w.Body.String())

	w = env.do(t, "POST", "/api/v1/loans/"+loan.ID+"/repay", "bob", api.RepayRequest{Borrower: "bob"})
	assert.Equal(t, http.StatusForbidden, w.Code, "foreign repay")

	w = env.do(t, "POST", "/api/v1/loans/"+loan.ID+"/repay", "alice", api.RepayRequest{Borrower: "alice"})
	require.Equal(t, http.StatusOK, w.Code, "repay: %s", w.Body.String())

	w = env.do(t, "POST", "/api/v1/loans/"+loan.ID+"/repay", "alice", api.RepayRequest{Borrower: "alice"})
	assert.Equal(t, http.StatusConflict, w.Code, "second repay")

	w = env.do(t, "GET", "/api/v1/pools/"+pool.ID, "", nil)
	after := decodeInto[model.LiquidityPool](t, w)
	assert.Equal(t, "1005.0000 EOS", after.Balance.String())

	w = env.do(t, "GET", "/api/v1/borrowers/alice/loans", "", nil)
	loans := decodeInto[[]model.LoanRecord](t, w)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].Repaid)
}

func TestBorrow_Unauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	w := env.do(t, "POST", "/api/v1/loans", "", api.BorrowRequest{
		Borrower: "alice", Amount: amt("1"), DurationSeconds: 60,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBorrow_DurationOutOfRange(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	for _, secs := range []int64{
		-1,
		api.MaxDurationSeconds + 1,
		18446744074, // ~584 years; overflows time.Duration once scaled to nanoseconds
	} {
		w := env.do(t, "POST", "/api/v1/loans", "alice", api.BorrowRequest{
			Borrower: "alice", Amount: amt("1"), DurationSeconds: secs,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, "duration_seconds=%d", secs)
	}

	loans := decodeInto[[]model.LoanRecord](t, env.do(t, "GET", "/api/v1/borrowers/alice/loans", "", nil))
	assert.Empty(t, loans)
	assert.Empty(t, env.ledger.History(), "no funds should move")
}

func TestBorrow_MaxDurationHonoured(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	before := time.Now()
	w := env.do(t, "POST", "/api/v1/loans", "alice", api.BorrowRequest{
		Borrower: "alice", Amount: amt("1"), DurationSeconds: api.MaxDurationSeconds,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	loan := decodeInto[model.LoanRecord](t, w)
	want := before.Add(time.Duration(api.MaxDurationSeconds) * time.Second)
	assert.WithinDuration(t, want, loan.Expiry, time.Minute)
}

func TestCheckLoan_Expired(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPool(t)

	w := env.do(t, "POST", "/api/v1/loans", "alice", api.BorrowRequest{
		Borrower: "alice", Amount: amt("1"), DurationSeconds: 0,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	loan := decodeInto[model.LoanRecord](t, w)

	w = env.do(t, "GET", "/api/v1/loans/"+loan.ID+"/check", "", nil)
	assert.Equal(t, http.StatusGone, w.Code)

	// The record itself is still readable.
	w = env.do(t, "GET", "/api/v1/loans/"+loan.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetLoan_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/v1/loans/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Accounts ---

func TestCredit_OperatorOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/accounts/alice/credit", "alice", api.CreditRequest{Amount: amt("5")})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, env.ledger.Balance("alice", eos).Quantity.IsZero(), "expected no credit")
}

func TestGetBalances(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.ledger.Credit("alice", amt("12.5")))

	w := env.do(t, "GET", "/api/v1/accounts/alice/balances", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	balances := decodeInto[[]asset.Amount](t, w)
	require.Len(t, balances, 1)
	assert.Equal(t, "12.5000 EOS", balances[0].String())
}

// --- WebSocket ---

func TestWebSocket_ReceivesEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	env := newTestEnv(t, hub)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial")
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond,
		"client never registered")

	env.seedPool(t)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev flashloan.Event
	require.NoError(t, conn.ReadJSON(&ev), "read event")
	assert.Equal(t, flashloan.EventPoolCreated, ev.Type)
	require.NotNil(t, ev.Balance)
	assert.Equal(t, "1000.0000 EOS", ev.Balance.String())
}
