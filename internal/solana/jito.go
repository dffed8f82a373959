package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Jito Bundle Client — MEV-protected submission via bundles with tips
// ---------------------------------------------------------------------------

const (
	jitoMainnetURL = "https://mainnet.block-engine.jito.wtf/api/v1"
	jitoBundlePath = "/bundles"
)

// Known Jito tip accounts (mainnet), used round-robin.
var jitoTipAccounts = []Pubkey{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4bVqkfRtQ7NmXwkiY8X9W5E",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSLuiv3Jhqzsg1dbE7B",
	"DfXygSm4jCyNCzbzYYR18MFJkvDVwVS7s3d7rZmLhRDd",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// JitoConfig configures the Jito bundle client.
type JitoConfig struct {
	Enabled        bool            `yaml:"enabled"`
	BlockEngineURL string          `yaml:"block_engine_url"`
	TipSOL         decimal.Decimal `yaml:"tip_sol"`
	// ConfirmWindowMs bounds how long a bundle may stay pending before the
	// caller falls back to standard submission.
	ConfirmWindowMs int `yaml:"confirm_window_ms"`
	PollIntervalMs  int `yaml:"poll_interval_ms"`
	TimeoutMs       int `yaml:"timeout_ms"`
}

// DefaultJitoConfig returns production defaults.
func DefaultJitoConfig() JitoConfig {
	return JitoConfig{
		Enabled:         false,
		BlockEngineURL:  jitoMainnetURL,
		TipSOL:          decimal.NewFromFloat(0.001),
		ConfirmWindowMs: 6000,
		PollIntervalMs:  500,
		TimeoutMs:       5000,
	}
}

// BundleStatus tracks the state of a submitted bundle.
type BundleStatus struct {
	BundleID  string `json:"bundle_id"`
	Status    string `json:"status"` // pending|landed|failed
	Slot      uint64 `json:"slot,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// BundleSubmitter is the protected-path submission capability.
// Implementations: JitoClient (real block engine), StubBundleSubmitter (tests).
type BundleSubmitter interface {
	SendBundle(ctx context.Context, transactions []string) (*BundleStatus, error)
	// WaitForLanding polls bundle status until it lands, fails, or the
	// configured confirmation window elapses. A window elapse returns an
	// error so the caller can fall back to the standard path.
	WaitForLanding(ctx context.Context, bundleID string) (*BundleStatus, error)
	Enabled() bool
}

// JitoClient sends transaction bundles through the Jito block engine.
type JitoClient struct {
	config     JitoConfig
	httpClient *http.Client
	tipAcctIdx atomic.Uint32

	bundlesSent   atomic.Int64
	bundlesLanded atomic.Int64
	bundlesFailed atomic.Int64
	tipLamports   atomic.Int64
}

// NewJitoClient creates a new Jito bundle client.
func NewJitoClient(config JitoConfig) *JitoClient {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if config.BlockEngineURL == "" {
		config.BlockEngineURL = jitoMainnetURL
	}
	return &JitoClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether protected submission is configured on.
func (c *JitoClient) Enabled() bool { return c.config.Enabled }

type bundleRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// SendBundle submits a list of base64-encoded signed transactions as a bundle.
func (c *JitoClient) SendBundle(ctx context.Context, transactions []string) (*BundleStatus, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("jito: bundles not enabled")
	}
	if len(transactions) == 0 {
		return nil, fmt.Errorf("jito: empty bundle")
	}

	req := bundleRequest{JSONRPC: "2.0", ID: 1, Method: "sendBundle", Params: []any{transactions}}
	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := c.post(ctx, req, &resp); err != nil {
		c.bundlesFailed.Add(1)
		return nil, err
	}
	if resp.Error != nil {
		c.bundlesFailed.Add(1)
		return nil, fmt.Errorf("jito: error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	c.bundlesSent.Add(1)
	c.tipLamports.Add(int64(SOLToLamports(c.config.TipSOL)))

	log.Info().
		Str("bundle_id", resp.Result).
		Str("tip_sol", c.config.TipSOL.String()).
		Int("tx_count", len(transactions)).
		Msg("jito: bundle submitted")

	return &BundleStatus{
		BundleID:  resp.Result,
		Status:    "pending",
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// WaitForLanding polls the bundle status within the confirmation window.
func (c *JitoClient) WaitForLanding(ctx context.Context, bundleID string) (*BundleStatus, error) {
	window := time.Duration(c.config.ConfirmWindowMs) * time.Millisecond
	if window == 0 {
		window = 6 * time.Second
	}
	poll := time.Duration(c.config.PollIntervalMs) * time.Millisecond
	if poll == 0 {
		poll = 500 * time.Millisecond
	}

	deadline := time.Now().Add(window)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			status, err := c.getBundleStatus(ctx, bundleID)
			if err != nil {
				log.Debug().Err(err).Str("bundle_id", bundleID).Msg("jito: status poll failed")
			} else if status.Status == "landed" {
				c.bundlesLanded.Add(1)
				return status, nil
			} else if status.Status == "failed" {
				c.bundlesFailed.Add(1)
				return status, fmt.Errorf("jito: bundle %s failed on-chain", bundleID)
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("jito: bundle %s not landed within %s", bundleID, window)
			}
		}
	}
}

func (c *JitoClient) getBundleStatus(ctx context.Context, bundleID string) (*BundleStatus, error) {
	req := bundleRequest{JSONRPC: "2.0", ID: 1, Method: "getBundleStatuses", Params: []any{[]string{bundleID}}}
	var resp struct {
		Result struct {
			Value []struct {
				BundleID           string `json:"bundle_id"`
				ConfirmationStatus string `json:"confirmation_status"`
				Slot               uint64 `json:"slot"`
				Err                any    `json:"err"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := c.post(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.Value) == 0 {
		return &BundleStatus{BundleID: bundleID, Status: "pending"}, nil
	}

	entry := resp.Result.Value[0]
	status := "pending"
	if entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized" {
		status = "landed"
	}
	if entry.Err != nil {
		status = "failed"
	}
	return &BundleStatus{
		BundleID:  bundleID,
		Status:    status,
		Slot:      entry.Slot,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (c *JitoClient) post(ctx context.Context, req bundleRequest, result any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("jito: marshal request: %w", err)
	}

	url := c.config.BlockEngineURL + jitoBundlePath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("jito: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("jito: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jito: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jito: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("jito: parse response: %w", err)
	}
	return nil
}

// NextTipAccount returns the next tip account (round-robin).
func (c *JitoClient) NextTipAccount() Pubkey {
	idx := c.tipAcctIdx.Add(1) - 1
	return jitoTipAccounts[idx%uint32(len(jitoTipAccounts))]
}

// JitoStats returns Jito client statistics.
type JitoStats struct {
	Enabled       bool    `json:"enabled"`
	BundlesSent   int64   `json:"bundles_sent"`
	BundlesLanded int64   `json:"bundles_landed"`
	BundlesFailed int64   `json:"bundles_failed"`
	LandRate      float64 `json:"land_rate_pct"`
	TotalTipSOL   string  `json:"total_tip_sol"`
}

// Stats returns a snapshot of bundle counters.
func (c *JitoClient) Stats() JitoStats {
	sent := c.bundlesSent.Load()
	landed := c.bundlesLanded.Load()
	landRate := 0.0
	if sent > 0 {
		landRate = float64(landed) / float64(sent) * 100.0
	}
	return JitoStats{
		Enabled:       c.config.Enabled,
		BundlesSent:   sent,
		BundlesLanded: landed,
		BundlesFailed: c.bundlesFailed.Load(),
		LandRate:      landRate,
		TotalTipSOL:   LamportsToSOL(uint64(c.tipLamports.Load())).String(),
	}
}

// ---------------------------------------------------------------------------
// Stub bundle submitter (tests)
// ---------------------------------------------------------------------------

// StubBundleSubmitter simulates the protected path for tests.
type StubBundleSubmitter struct {
	FailSend bool
	TimeOut  bool // WaitForLanding never lands within the window
	sent     atomic.Int64
	seq      atomic.Int64
}

// NewStubBundleSubmitter creates an always-enabled stub.
func NewStubBundleSubmitter() *StubBundleSubmitter { return &StubBundleSubmitter{} }

func (s *StubBundleSubmitter) Enabled() bool { return true }

func (s *StubBundleSubmitter) SendBundle(_ context.Context, txs []string) (*BundleStatus, error) {
	if s.FailSend {
		return nil, fmt.Errorf("stub: simulated bundle rejection")
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("stub: empty bundle")
	}
	s.sent.Add(1)
	id := fmt.Sprintf("STUB-BUNDLE-%04d", s.seq.Add(1))
	return &BundleStatus{BundleID: id, Status: "pending", Timestamp: time.Now().UnixMilli()}, nil
}

func (s *StubBundleSubmitter) WaitForLanding(_ context.Context, bundleID string) (*BundleStatus, error) {
	if s.TimeOut {
		return nil, fmt.Errorf("stub: bundle %s not landed within window", bundleID)
	}
	return &BundleStatus{BundleID: bundleID, Status: "landed", Timestamp: time.Now().UnixMilli()}, nil
}

// SentCount returns the number of bundles accepted by the stub.
func (s *StubBundleSubmitter) SentCount() int64 { return s.sent.Load() }
