package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
)

func newSniper(t *testing.T, userID string) *sniper.Sniper {
	t.Helper()
	s, err := sniper.New(userID, "wallet-1", "fresh-grads", sniper.Config{
		BuyAmountSOL: decimal.NewFromFloat(0.1),
		SlippageBps:  300,
	}, sniper.FilterSet{})
	require.NoError(t, err)
	return s
}

func TestMemorySniperStore_CRUD(t *testing.T) {
	s := NewMemorySniperStore()
	ctx := context.Background()

	sn := newSniper(t, "user-1")
	require.NoError(t, s.Create(ctx, sn))

	got, err := s.Get(ctx, sn.ID)
	require.NoError(t, err)
	assert.Equal(t, sn.Name, got.Name)
	assert.Equal(t, sniper.StatusPaused, got.Status)

	got.Status = sniper.StatusActive
	require.NoError(t, s.Update(ctx, got))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	byUser, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySniperStore_SoftDeleteHidesButKeepsRow(t *testing.T) {
	s := NewMemorySniperStore()
	ctx := context.Background()

	sn := newSniper(t, "user-1")
	require.NoError(t, s.Create(ctx, sn))
	require.NoError(t, s.SoftDelete(ctx, sn.ID))

	_, err := s.Get(ctx, sn.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	byUser, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, byUser)

	// Second soft delete is a no-op error.
	assert.ErrorIs(t, s.SoftDelete(ctx, sn.ID), ErrNotFound)
}

func TestMemoryPositionStore_OpenIncludesSelling(t *testing.T) {
	s := NewMemoryPositionStore()
	ctx := context.Background()

	open := &position.Position{
		ID: "pos-1", SniperID: "sniper-1", UserID: "user-1",
		TokenMint: "MintAAA", Status: position.StatusOpen,
		OpenedAt: time.Now().Add(-time.Minute),
	}
	selling := &position.Position{
		ID: "pos-2", SniperID: "sniper-1", UserID: "user-1",
		TokenMint: "MintBBB", Status: position.StatusSelling,
		OpenedAt: time.Now(),
	}
	closed := &position.Position{
		ID: "pos-3", SniperID: "sniper-2", UserID: "user-1",
		TokenMint: "MintCCC", Status: position.StatusClosed,
		OpenedAt: time.Now(),
	}
	require.NoError(t, s.Create(ctx, open))
	require.NoError(t, s.Create(ctx, selling))
	require.NoError(t, s.Create(ctx, closed))

	openList, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, openList, 2, "selling positions are still live")

	bySniper, err := s.ListBySniper(ctx, "sniper-1")
	require.NoError(t, err)
	assert.Len(t, bySniper, 2)

	byUser, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 3)
}

func TestMemoryPositionStore_UpdateMissing(t *testing.T) {
	s := NewMemoryPositionStore()
	err := s.Update(context.Background(), &position.Position{ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}
