package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API Client — quote, swap-transaction build, and price lookup
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	jupiterQuoteURL = "https://quote-api.jup.ag/v6/quote"
	jupiterSwapURL  = "https://quote-api.jup.ag/v6/swap"
	jupiterPriceURL = "https://price.jup.ag/v6/price"

	// Circuit opens after this many consecutive errors and half-opens after
	// the cooldown.
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

// APIClient is the Jupiter V6 API client.
type APIClient struct {
	httpClient *http.Client
	walletPub  string // base58 public key of the signing wallet

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64

	consecutiveErrors atomic.Int64
	circuitOpenedAt   atomic.Int64 // unix ms, 0 = closed
}

// NewAPIClient creates a new Jupiter API client.
func NewAPIClient(walletPubkey string) *APIClient {
	return &APIClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		walletPub:  walletPubkey,
	}
}

// QuoteResponse is the response from the Jupiter /quote endpoint.
type QuoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
	ContextSlot          uint64 `json:"contextSlot"`
}

// OutAmountDecimal returns OutAmount as a decimal in base units.
func (q *QuoteResponse) OutAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *APIClient) circuitOpen() bool {
	openedAt := c.circuitOpenedAt.Load()
	if openedAt == 0 {
		return false
	}
	if time.Since(time.UnixMilli(openedAt)) > circuitCooldown {
		// Half-open: allow a probe request.
		c.circuitOpenedAt.Store(0)
		return false
	}
	return true
}

func (c *APIClient) recordError() {
	c.errorCount.Add(1)
	if c.consecutiveErrors.Add(1) >= circuitThreshold {
		if c.circuitOpenedAt.CompareAndSwap(0, time.Now().UnixMilli()) {
			log.Warn().Msg("jupiter: circuit breaker opened")
		}
	}
}

func (c *APIClient) recordSuccess() {
	c.consecutiveErrors.Store(0)
}

// GetQuote fetches the best swap route from Jupiter.
// directOnly restricts routing to single-hop routes, which is faster and is
// what freshly-graduated tokens need (they live in exactly one pool).
func (c *APIClient) GetQuote(ctx context.Context, params solana.SwapParams, directOnly bool) (*QuoteResponse, error) {
	if c.circuitOpen() {
		return nil, fmt.Errorf("jupiter: circuit breaker open")
	}

	queryURL, err := url.Parse(jupiterQuoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}

	amountLamports := solana.SOLToLamports(params.AmountIn)
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", fmt.Sprintf("%d", amountLamports))
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("onlyDirectRoutes", fmt.Sprintf("%t", directOnly))
	queryURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("jupiter: quote HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("jupiter: read quote: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordError()
		return nil, fmt.Errorf("jupiter: quote HTTP %d: %s", resp.StatusCode, string(body))
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		c.recordError()
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}

	c.recordSuccess()
	c.quoteCount.Add(1)
	return &quote, nil
}

// BuildSwapTx asks Jupiter to build a signed-ready swap transaction for a
// quote. Returns the base64-encoded transaction.
func (c *APIClient) BuildSwapTx(ctx context.Context, quote *QuoteResponse, priorityFee uint64) (string, error) {
	if c.circuitOpen() {
		return "", fmt.Errorf("jupiter: circuit breaker open")
	}

	reqBody := map[string]any{
		"quoteResponse":             quote,
		"userPublicKey":             c.walletPub,
		"wrapAndUnwrapSol":          true,
		"prioritizationFeeLamports": priorityFee,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", jupiterSwapURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("jupiter: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return "", fmt.Errorf("jupiter: swap HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError()
		return "", fmt.Errorf("jupiter: read swap: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordError()
		return "", fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(respBody, &swapResp); err != nil {
		c.recordError()
		return "", fmt.Errorf("jupiter: parse swap: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		c.recordError()
		return "", fmt.Errorf("jupiter: empty swap transaction")
	}

	c.recordSuccess()
	c.swapCount.Add(1)
	return swapResp.SwapTransaction, nil
}

// GetPriceUSD fetches the current USD price for a mint.
func (c *APIClient) GetPriceUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	if c.circuitOpen() {
		return decimal.Zero, fmt.Errorf("jupiter: circuit breaker open")
	}

	queryURL, err := url.Parse(jupiterPriceURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("ids", string(mint))
	queryURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError()
		return decimal.Zero, fmt.Errorf("jupiter: read price: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordError()
		return decimal.Zero, fmt.Errorf("jupiter: price HTTP %d: %s", resp.StatusCode, string(body))
	}

	var priceResp struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		c.recordError()
		return decimal.Zero, fmt.Errorf("jupiter: parse price: %w", err)
	}

	entry, ok := priceResp.Data[string(mint)]
	if !ok {
		c.recordSuccess()
		return decimal.Zero, fmt.Errorf("jupiter: no price for %s", mint)
	}

	c.recordSuccess()
	return decimal.NewFromFloat(entry.Price), nil
}

// APIStats returns request counters.
type APIStats struct {
	Quotes int64 `json:"quotes"`
	Swaps  int64 `json:"swaps"`
	Errors int64 `json:"errors"`
}

// Stats returns a snapshot of API counters.
func (c *APIClient) Stats() APIStats {
	return APIStats{
		Quotes: c.quoteCount.Load(),
		Swaps:  c.swapCount.Load(),
		Errors: c.errorCount.Load(),
	}
}
