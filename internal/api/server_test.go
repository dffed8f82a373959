package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/store"
	"github.com/gradient-trading/gradient/internal/wallet"
)

type stubMatcher struct {
	upserts []string
	removed []string
}

func (m *stubMatcher) Upsert(s *sniper.Sniper) { m.upserts = append(m.upserts, s.ID) }
func (m *stubMatcher) Remove(id string)        { m.removed = append(m.removed, id) }

type stubCloser struct {
	closed []string
	err    error
}

func (c *stubCloser) CloseManual(_ context.Context, id string) error {
	if c.err != nil {
		return c.err
	}
	c.closed = append(c.closed, id)
	return nil
}

type apiFixture struct {
	ts        *httptest.Server
	snipers   *store.MemorySniperStore
	positions *store.MemoryPositionStore
	wallets   *wallet.Service
	rpc       *solana.StubRPCClient
	matcher   *stubMatcher
	closer    *stubCloser
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		snipers:   store.NewMemorySniperStore(),
		positions: store.NewMemoryPositionStore(),
		rpc:       solana.NewStubRPCClient(),
		matcher:   &stubMatcher{},
		closer:    &stubCloser{},
	}
	f.wallets = wallet.NewService(wallet.NewStubRepository(), f.rpc, wallet.NewStubTransferBuilder())

	auth := NewStaticTokenAuthenticator(map[string]Identity{
		"tok-alice": {UserID: "alice"},
		"tok-bob":   {UserID: "bob"},
		"tok-admin": {UserID: "ops", Admin: true},
	})
	stats := NewStatsService(&stubMigrations{}, f.positions, f.snipers, nil)

	srv := NewServer(ServerConfig{}, stats, f.snipers, f.positions,
		f.matcher, f.closer, f.wallets, auth)
	f.ts = httptest.NewServer(srv.Router())
	t.Cleanup(f.ts.Close)
	return f
}

// fundedWallet creates a custody wallet for userID with the given balance.
func (f *apiFixture) fundedWallet(t *testing.T, userID string, sol float64) *wallet.Wallet {
	t.Helper()
	w, err := f.wallets.Create(context.Background(), userID, solana.Pubkey("Addr"+userID), "main")
	require.NoError(t, err)
	f.rpc.SetBalance(w.Address, solana.WalletBalance{SOL: decimal.NewFromFloat(sol)})
	return w
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, testEnvelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env testEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func validSniperReq(walletID string) CreateSniperRequest {
	return CreateSniperRequest{
		WalletID: walletID,
		Name:     "fast hands",
		Config: sniper.Config{
			BuyAmountSOL:  decimal.NewFromFloat(0.1),
			SlippageBps:   300,
			TakeProfitPct: 100,
			StopLossPct:   50,
		},
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	status, env := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, "GET", "/api/snipers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
	assert.Equal(t, ErrCodeUnauthorized, env.Code)

	status, _ = f.do(t, "GET", "/api/snipers", "bad-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSniperLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	w := f.fundedWallet(t, "alice", 1.0)

	// Create: starts paused.
	status, env := f.do(t, "POST", "/api/snipers", "tok-alice", validSniperReq(w.ID))
	require.Equal(t, http.StatusCreated, status)
	var created sniper.Sniper
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, sniper.StatusPaused, created.Status)
	assert.Equal(t, "alice", created.UserID)

	// Toggle on: balance is sufficient, matcher learns about it.
	status, env = f.do(t, "POST", "/api/snipers/"+created.ID+"/toggle", "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var toggled sniper.Sniper
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.Equal(t, sniper.StatusActive, toggled.Status)
	assert.Equal(t, []string{created.ID}, f.matcher.upserts)

	// Toggle off.
	status, env = f.do(t, "POST", "/api/snipers/"+created.ID+"/toggle", "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.Equal(t, sniper.StatusPaused, toggled.Status)

	// Holding an open position: delete archives instead of destroying.
	now := time.Now()
	require.NoError(t, f.positions.Create(context.Background(), &position.Position{
		ID:       "pos-1",
		SniperID: created.ID,
		UserID:   "alice",
		Status:   position.StatusOpen,
		OpenedAt: now,
	}))

	status, env = f.do(t, "DELETE", "/api/snipers/"+created.ID, "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var del struct {
		Archived bool `json:"archived"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &del))
	assert.True(t, del.Archived)
	assert.Equal(t, []string{created.ID}, f.matcher.removed)

	// Archived snipers disappear from the listing.
	status, env = f.do(t, "GET", "/api/snipers", "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var listed []sniper.Sniper
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Empty(t, listed)
}

func TestToggle_InsufficientBalance(t *testing.T) {
	f := newAPIFixture(t)
	w := f.fundedWallet(t, "alice", 0.05)

	status, env := f.do(t, "POST", "/api/snipers", "tok-alice", validSniperReq(w.ID))
	require.Equal(t, http.StatusCreated, status)
	var created sniper.Sniper
	require.NoError(t, json.Unmarshal(env.Data, &created))

	status, env = f.do(t, "POST", "/api/snipers/"+created.ID+"/toggle", "tok-alice", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeInsufficient, env.Code)
	assert.Empty(t, f.matcher.upserts)
}

func TestCreateSniper_Validation(t *testing.T) {
	f := newAPIFixture(t)
	w := f.fundedWallet(t, "alice", 1.0)

	// Another user's wallet is off limits.
	status, env := f.do(t, "POST", "/api/snipers", "tok-bob", validSniperReq(w.ID))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeForbidden, env.Code)

	// Admin may act on any wallet.
	status, _ = f.do(t, "POST", "/api/snipers", "tok-admin", validSniperReq(w.ID))
	assert.Equal(t, http.StatusCreated, status)

	// Config below minimums is rejected before it reaches execution.
	bad := validSniperReq(w.ID)
	bad.Config.BuyAmountSOL = decimal.NewFromFloat(0.001)
	status, env = f.do(t, "POST", "/api/snipers", "tok-alice", bad)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeInvalidInput, env.Code)

	// Unknown wallet.
	status, env = f.do(t, "POST", "/api/snipers", "tok-alice", validSniperReq("nope"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, ErrCodeNotFound, env.Code)
}

func TestClosePosition(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now()
	require.NoError(t, f.positions.Create(context.Background(), &position.Position{
		ID:       "pos-1",
		SniperID: "sn-1",
		UserID:   "alice",
		Status:   position.StatusOpen,
		OpenedAt: now,
	}))

	// Not bob's position.
	status, env := f.do(t, "POST", "/api/positions/pos-1/close", "tok-bob", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeForbidden, env.Code)
	assert.Empty(t, f.closer.closed)

	status, _ = f.do(t, "POST", "/api/positions/pos-1/close", "tok-alice", nil)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, []string{"pos-1"}, f.closer.closed)

	status, env = f.do(t, "POST", "/api/positions/missing/close", "tok-alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, ErrCodeNotFound, env.Code)
}

func TestListPositions_ScopedToUser(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.positions.Create(ctx, &position.Position{
		ID: "pos-a", UserID: "alice", Status: position.StatusOpen, OpenedAt: now,
	}))
	require.NoError(t, f.positions.Create(ctx, &position.Position{
		ID: "pos-b", UserID: "bob", Status: position.StatusOpen, OpenedAt: now,
	}))

	status, env := f.do(t, "GET", "/api/positions", "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var listed []position.Position
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "pos-a", listed[0].ID)
}

func TestWithdraw(t *testing.T) {
	f := newAPIFixture(t)
	w := f.fundedWallet(t, "alice", 1.0)

	status, env := f.do(t, "POST", "/api/wallets/"+w.ID+"/withdraw", "tok-alice",
		WithdrawRequest{To: "DestAddr", AmountSOL: decimal.NewFromFloat(0.5)})
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.NotEmpty(t, out.Signature)

	// Draining below the floor is rejected.
	status, env = f.do(t, "POST", "/api/wallets/"+w.ID+"/withdraw", "tok-alice",
		WithdrawRequest{To: "DestAddr", AmountSOL: decimal.NewFromFloat(0.998)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeInsufficient, env.Code)

	// Other users cannot touch the wallet.
	status, env = f.do(t, "POST", "/api/wallets/"+w.ID+"/withdraw", "tok-bob",
		WithdrawRequest{To: "DestAddr", AmountSOL: decimal.NewFromFloat(0.1)})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeForbidden, env.Code)
}

func TestWalletBalances(t *testing.T) {
	f := newAPIFixture(t)
	f.fundedWallet(t, "alice", 1.5)

	status, env := f.do(t, "GET", "/api/wallets/balances", "tok-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var wallets []wallet.Wallet
	require.NoError(t, json.Unmarshal(env.Data, &wallets))
	require.Len(t, wallets, 1)
	assert.True(t, wallets[0].LastBalanceSOL.Equal(decimal.NewFromFloat(1.5)))
}
