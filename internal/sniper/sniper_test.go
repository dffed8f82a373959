package sniper

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		BuyAmountSOL:        decimal.NewFromFloat(0.1),
		SlippageBps:         300,
		PriorityFeeLamports: 100_000,
		TakeProfitPct:       100,
		StopLossPct:         50,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"buy amount at minimum", func(c *Config) { c.BuyAmountSOL = MinBuySOL }, false},
		{"buy amount below minimum", func(c *Config) { c.BuyAmountSOL = decimal.NewFromFloat(0.005) }, true},
		{"zero buy amount", func(c *Config) { c.BuyAmountSOL = decimal.Zero }, true},
		{"slippage below minimum", func(c *Config) { c.SlippageBps = 49 }, true},
		{"slippage at minimum", func(c *Config) { c.SlippageBps = MinSlippageBps }, false},
		{"take profit too high", func(c *Config) { c.TakeProfitPct = 1001 }, true},
		{"stop loss above 100", func(c *Config) { c.StopLossPct = 101 }, true},
		{"tp/sl disabled", func(c *Config) { c.TakeProfitPct = 0; c.StopLossPct = 0 }, false},
		{"trailing without distance", func(c *Config) { c.TrailingStopEnabled = true; c.TrailingStopPct = 0 }, true},
		{"trailing with distance", func(c *Config) { c.TrailingStopEnabled = true; c.TrailingStopPct = 20 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_StartsPaused(t *testing.T) {
	s, err := New("user-1", "wallet-1", "fast raydium", validConfig(), FilterSet{})
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, s.Status)
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.Active())
}

func TestNew_RejectsMissingOwner(t *testing.T) {
	_, err := New("", "wallet-1", "x", validConfig(), FilterSet{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New("user-1", "", "x", validConfig(), FilterSet{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRequiredBalanceSOL(t *testing.T) {
	s, err := New("user-1", "wallet-1", "x", validConfig(), FilterSet{})
	require.NoError(t, err)

	// 0.1 buy + 0.0001 priority fee + 0.01 buffer
	want := decimal.NewFromFloat(0.1101)
	assert.True(t, s.RequiredBalanceSOL().Equal(want),
		"got %s want %s", s.RequiredBalanceSOL(), want)
}

func TestFilterSet_Validate(t *testing.T) {
	lat := int64(-5)
	assert.ErrorIs(t, FilterSet{MaxDetectionLatencyMs: &lat}.Validate(), ErrInvalidConfig)

	lo := decimal.NewFromInt(100_000)
	hi := decimal.NewFromInt(50_000)
	assert.ErrorIs(t, FilterSet{MinMarketCapUSD: &lo, MaxMarketCapUSD: &hi}.Validate(), ErrInvalidConfig)

	bad := 150.0
	assert.ErrorIs(t, FilterSet{MaxDevHoldingsPct: &bad}.Validate(), ErrInvalidConfig)

	assert.NoError(t, FilterSet{}.Validate())
}
