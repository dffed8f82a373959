package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client — standard-path transaction submission and balance reads
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: HTTPRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetWalletBalance returns SOL + SPL token balances for a wallet.
	GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)

	// SendTransaction submits a signed transaction to the network.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks confirmation of a submitted transaction.
	// Returns one of: processed|confirmed|finalized|failed|unknown.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error)

	// Health returns nil if the RPC endpoint is reachable.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint   string `yaml:"endpoint"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:   "https://api.mainnet-beta.solana.com",
		TimeoutMs:  10_000,
		MaxRetries: 3,
	}
}

// HTTPRPCClient talks JSON-RPC to a Solana node over HTTP.
type HTTPRPCClient struct {
	config     RPCConfig
	httpClient *http.Client
	reqID      atomic.Int64
}

// NewHTTPRPCClient creates an RPC client from config.
func NewHTTPRPCClient(config RPCConfig) *HTTPRPCClient {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPRPCClient) call(ctx context.Context, method string, params []any, result any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("rpc: parse response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc: error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc: parse result: %w", err)
		}
	}
	return nil
}

// GetWalletBalance returns the SOL balance for a wallet. SPL token accounts
// are resolved via getTokenAccountsByOwner.
func (c *HTTPRPCClient) GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error) {
	var balResult struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{string(wallet)}, &balResult); err != nil {
		return nil, err
	}

	bal := &WalletBalance{
		SOL:    LamportsToSOL(balResult.Value),
		Tokens: make(map[Pubkey]decimal.Decimal),
	}

	var tokResult struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{
		string(wallet),
		map[string]any{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
		map[string]any{"encoding": "jsonParsed"},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &tokResult); err != nil {
		// SOL balance alone is still useful when the token scan fails.
		return bal, nil
	}
	for _, v := range tokResult.Value {
		amount, err := decimal.NewFromString(v.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
		if err != nil {
			continue
		}
		bal.Tokens[Pubkey(v.Account.Data.Parsed.Info.Mint)] = amount
	}
	return bal, nil
}

// SendTransaction submits a base64-encoded signed transaction.
func (c *HTTPRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	var sig string
	params := []any{txBase64, map[string]any{"encoding": "base64", "skipPreflight": true}}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return Signature(sig), nil
}

// GetTransactionStatus checks confirmation of a submitted signature.
func (c *HTTPRPCClient) GetTransactionStatus(ctx context.Context, sig Signature) (string, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{string(sig)}, map[string]any{"searchTransactionHistory": false}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return "unknown", err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return "unknown", nil
	}
	entry := result.Value[0]
	if entry.Err != nil {
		return "failed", nil
	}
	if entry.ConfirmationStatus == "" {
		return "processed", nil
	}
	return entry.ConfirmationStatus, nil
}

// Health checks endpoint reachability via getHealth.
func (c *HTTPRPCClient) Health(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", []any{}, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("rpc: unhealthy: %s", status)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory RPC client for tests.
type StubRPCClient struct {
	mu        sync.Mutex
	balances  map[Pubkey]*WalletBalance
	statuses  map[Signature]string
	sendCount int
	failNext  bool
	sigSeq    int
}

// NewStubRPCClient creates a stub RPC client.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		balances: make(map[Pubkey]*WalletBalance),
		statuses: make(map[Signature]string),
	}
}

// SetBalance sets the stub balance for a wallet.
func (s *StubRPCClient) SetBalance(wallet Pubkey, bal WalletBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[wallet] = &bal
}

// SetStatus sets the confirmation status returned for a signature.
func (s *StubRPCClient) SetStatus(sig Signature, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = status
}

// SetFailNext makes the next SendTransaction call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SendCount returns how many transactions were submitted.
func (s *StubRPCClient) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCount
}

func (s *StubRPCClient) GetWalletBalance(_ context.Context, wallet Pubkey) (*WalletBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[wallet]; ok {
		return bal, nil
	}
	return &WalletBalance{SOL: decimal.Zero, Tokens: map[Pubkey]decimal.Decimal{}}, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, _ string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return "", fmt.Errorf("stub: simulated send failure")
	}
	s.sendCount++
	s.sigSeq++
	sig := Signature(fmt.Sprintf("STUB-SIG-%04d", s.sigSeq))
	s.statuses[sig] = "confirmed"
	return sig, nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, sig Signature) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[sig]; ok {
		return status, nil
	}
	return "unknown", nil
}

func (s *StubRPCClient) Health(_ context.Context) error { return nil }
