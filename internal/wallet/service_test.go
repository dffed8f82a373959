package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/solana"
)

func newTestService(t *testing.T) (*Service, *solana.StubRPCClient, *StubRepository) {
	t.Helper()
	rpc := solana.NewStubRPCClient()
	repo := NewStubRepository()
	return NewService(repo, rpc, NewStubTransferBuilder()), rpc, repo
}

func fund(rpc *solana.StubRPCClient, addr solana.Pubkey, sol float64) {
	rpc.SetBalance(addr, solana.WalletBalance{SOL: decimal.NewFromFloat(sol)})
}

func TestCreate_RequiresUserAndAddress(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", "Addr111", "main")
	assert.Error(t, err)

	_, err = svc.Create(ctx, "user-1", "", "main")
	assert.Error(t, err)

	w, err := svc.Create(ctx, "user-1", "Addr111", "main")
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, "user-1", w.UserID)
}

func TestBalances_RefreshesFromRPC(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user-1", "Addr111", "main")
	require.NoError(t, err)
	fund(rpc, w.Address, 1.5)

	wallets, err := svc.Balances(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.True(t, wallets[0].LastBalanceSOL.Equal(decimal.NewFromFloat(1.5)))
	assert.False(t, wallets[0].LastCheckedAt.IsZero())
}

func TestSufficientFor_Advisory(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user-1", "Addr111", "main")
	require.NoError(t, err)
	fund(rpc, w.Address, 0.2)

	ok, err := svc.SufficientFor(ctx, w.ID, decimal.NewFromFloat(0.1101))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.SufficientFor(ctx, w.ID, decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.SufficientFor(ctx, "missing", decimal.NewFromFloat(0.1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithdraw_RespectsFloor(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user-1", "Addr111", "main")
	require.NoError(t, err)
	fund(rpc, w.Address, 1.0)

	// 1.0 - 0.998 = 0.002 < floor 0.005.
	_, err = svc.Withdraw(ctx, w.ID, "Dest222", decimal.NewFromFloat(0.998))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	sig, err := svc.Withdraw(ctx, w.ID, "Dest222", decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.Equal(t, 1, rpc.SendCount())

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Withdrawals)
}

func TestWithdraw_RejectsNonPositiveAmount(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user-1", "Addr111", "main")
	require.NoError(t, err)
	fund(rpc, w.Address, 1.0)

	_, err = svc.Withdraw(ctx, w.ID, "Dest222", decimal.Zero)
	assert.Error(t, err)
	assert.Equal(t, 0, rpc.SendCount())
}
