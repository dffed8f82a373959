package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
)

// Source is a single upstream real-time migration stream.
type Source interface {
	// Subscribe connects and starts emitting raw migration candidates.
	// The returned channel closes when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan RawEvent, error)
	// Connected reports current connection state.
	Connected() bool
	// Name identifies the source for logging and stats.
	Name() string
}

// decodeFunc turns one wire message into zero or one RawEvent.
// Returning (nil, nil) skips the message.
type decodeFunc func(data []byte) (*RawEvent, error)

// WSSourceConfig configures a websocket-backed source.
type WSSourceConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	BufferSize       int    `yaml:"buffer_size"`
}

// WSSource is a reconnecting websocket source. The subscribe payload and the
// message decoder are supplied by the concrete constructors below.
type WSSource struct {
	config    WSSourceConfig
	name      EventSource
	subscribe []any // JSON payloads sent after each (re)connect
	decode    decodeFunc

	mu   sync.Mutex
	conn *websocket.Conn

	out    chan RawEvent
	closed atomic.Bool

	connected    atomic.Bool
	messagesRecv atomic.Int64
	eventsOut    atomic.Int64
	reconnects   atomic.Int64
}

func newWSSource(config WSSourceConfig, name EventSource, subscribe []any, decode decodeFunc) *WSSource {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &WSSource{
		config:    config,
		name:      name,
		subscribe: subscribe,
		decode:    decode,
		out:       make(chan RawEvent, config.BufferSize),
	}
}

func (s *WSSource) Name() string    { return string(s.name) }
func (s *WSSource) Connected() bool { return s.connected.Load() }

// Subscribe starts the reconnect loop and returns the event channel.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan RawEvent, error) {
	if s.config.Endpoint == "" {
		return nil, fmt.Errorf("feed: %s: endpoint is required", s.name)
	}
	go s.runLoop(ctx)
	return s.out, nil
}

func (s *WSSource) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("source", string(s.name)).Msg("feed: runLoop panic recovered")
		}
		s.mu.Lock()
		if s.closed.CompareAndSwap(false, true) {
			close(s.out)
		}
		s.mu.Unlock()
	}()

	baseDelay := time.Duration(s.config.ReconnectDelayMs) * time.Millisecond
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	const maxDelay = 30 * time.Second
	delay := baseDelay

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Str("source", string(s.name)).Msg("feed: connection failed")
			s.reconnects.Add(1)
			select {
			case <-time.After(delay):
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		delay = baseDelay

		if err := s.sendSubscriptions(); err != nil {
			log.Warn().Err(err).Str("source", string(s.name)).Msg("feed: subscribe failed")
			s.disconnect()
			continue
		}

		s.readLoop(ctx)
	}
}

func (s *WSSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.config.Endpoint, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	log.Info().Str("source", string(s.name)).Str("endpoint", s.config.Endpoint).Msg("feed: connected")
	return nil
}

func (s *WSSource) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

func (s *WSSource) sendSubscriptions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	for _, payload := range s.subscribe {
		if err := s.conn.WriteJSON(payload); err != nil {
			return fmt.Errorf("feed: write subscribe: %w", err)
		}
	}
	return nil
}

func (s *WSSource) readLoop(ctx context.Context) {
	pingInterval := time.Duration(s.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			s.mu.Lock()
			conn := s.conn
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.mu.Unlock()
					log.Debug().Err(err).Str("source", string(s.name)).Msg("feed: ping failed")
					s.connected.Store(false)
					return
				}
			}
			s.mu.Unlock()
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Str("source", string(s.name)).Msg("feed: connection closed normally")
			} else {
				log.Warn().Err(err).Str("source", string(s.name)).Msg("feed: read error, reconnecting")
			}
			s.connected.Store(false)
			s.reconnects.Add(1)
			return
		}

		s.messagesRecv.Add(1)
		s.handleMessage(message)
	}
}

func (s *WSSource) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("source", string(s.name)).Msg("feed: handleMessage panic recovered")
		}
	}()

	event, err := s.decode(data)
	if err != nil {
		log.Debug().Err(err).Str("source", string(s.name)).Msg("feed: undecodable message")
		return
	}
	if event == nil {
		return
	}

	event.Source = s.name
	event.ReceivedAt = time.Now()
	if event.ObservedAt.IsZero() {
		event.ObservedAt = event.ReceivedAt
	}

	s.mu.Lock()
	if !s.closed.Load() {
		select {
		case s.out <- *event:
			s.eventsOut.Add(1)
		default:
			log.Warn().Str("source", string(s.name)).Msg("feed: source channel full, dropping event")
		}
	}
	s.mu.Unlock()
}

// SourceStats is a snapshot of per-source counters.
type SourceStats struct {
	Name         string `json:"name"`
	Connected    bool   `json:"connected"`
	MessagesRecv int64  `json:"messages_recv"`
	EventsOut    int64  `json:"events_out"`
	Reconnects   int64  `json:"reconnects"`
}

// Stats returns the per-source counters.
func (s *WSSource) Stats() SourceStats {
	return SourceStats{
		Name:         string(s.name),
		Connected:    s.connected.Load(),
		MessagesRecv: s.messagesRecv.Load(),
		EventsOut:    s.eventsOut.Load(),
		Reconnects:   s.reconnects.Load(),
	}
}

// ---------------------------------------------------------------------------
// PumpPortal source — JSON migration stream with mint/pool in the payload
// ---------------------------------------------------------------------------

// NewPumpPortalSource watches the pumpportal-style migration stream.
func NewPumpPortalSource(config WSSourceConfig) *WSSource {
	subscribe := []any{map[string]any{"method": "subscribeMigration"}}
	return newWSSource(config, SourcePumpPortal, subscribe, decodePumpPortal)
}

func decodePumpPortal(data []byte) (*RawEvent, error) {
	var msg struct {
		TxType      string  `json:"txType"`
		Mint        string  `json:"mint"`
		Pool        string  `json:"pool"`
		Signature   string  `json:"signature"`
		Name        string  `json:"name"`
		Symbol      string  `json:"symbol"`
		CreatedAtMs int64   `json:"createdTimestamp"`
		Timestamp   float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TxType != "migrate" || msg.Mint == "" {
		return nil, nil
	}

	event := &RawEvent{
		TokenMint:   solana.Pubkey(msg.Mint),
		PoolAddress: solana.Pubkey(msg.Pool),
		DEX:         "pumpswap",
		Signature:   msg.Signature,
		Name:        msg.Name,
		Symbol:      msg.Symbol,
	}
	if msg.CreatedAtMs > 0 {
		event.LaunchedAt = time.UnixMilli(msg.CreatedAtMs)
	}
	if msg.Timestamp > 0 {
		event.ObservedAt = time.UnixMilli(int64(msg.Timestamp * 1000))
	}
	return event, nil
}

// ---------------------------------------------------------------------------
// Raydium logs source — Solana logsSubscribe for pool initialization
// ---------------------------------------------------------------------------

const raydiumAMMProgram = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

// NewRaydiumLogsSource watches Raydium AMM program logs for pool inits.
func NewRaydiumLogsSource(config WSSourceConfig) *WSSource {
	subscribe := []any{map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{raydiumAMMProgram}},
			map[string]any{"commitment": "confirmed"},
		},
	}}
	return newWSSource(config, SourceRaydiumWS, subscribe, decodeRaydiumLogs)
}

func decodeRaydiumLogs(data []byte) (*RawEvent, error) {
	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string   `json:"signature"`
					Logs      []string `json:"logs"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &notification); err != nil {
		return nil, err
	}
	if notification.Method != "logsNotification" {
		return nil, nil
	}

	logs := notification.Params.Result.Value.Logs
	if !isPoolInitialization(logs) {
		return nil, nil
	}

	mint, pool := extractInitAccounts(logs)
	if mint == "" {
		return nil, nil
	}

	return &RawEvent{
		TokenMint:   solana.Pubkey(mint),
		PoolAddress: solana.Pubkey(pool),
		DEX:         "raydium",
		Signature:   notification.Params.Result.Value.Signature,
		Slot:        notification.Params.Result.Context.Slot,
	}, nil
}

// isPoolInitialization checks logs for Raydium pool init markers.
func isPoolInitialization(logs []string) bool {
	for _, l := range logs {
		if strings.Contains(l, "InitializeInstruction2") || strings.Contains(l, "initialize2") {
			return true
		}
	}
	return false
}

// extractInitAccounts pulls the coin mint and pool id out of the init log.
// Raydium logs them as "init_pc_amount ... coin_mint: <key> ... amm: <key>".
func extractInitAccounts(logs []string) (mint, pool string) {
	for _, l := range logs {
		if idx := strings.Index(l, "coin_mint: "); idx >= 0 {
			mint = firstToken(l[idx+len("coin_mint: "):])
		}
		if idx := strings.Index(l, "amm: "); idx >= 0 {
			pool = firstToken(l[idx+len("amm: "):])
		}
	}
	return mint, pool
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' || r == ',' || r == '}' {
			return s[:i]
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Stub source (tests)
// ---------------------------------------------------------------------------

// StubSource emits programmatically injected events.
type StubSource struct {
	name      EventSource
	out       chan RawEvent
	connected atomic.Bool
}

// NewStubSource creates a stub source for tests.
func NewStubSource(name EventSource) *StubSource {
	return &StubSource{name: name, out: make(chan RawEvent, 64)}
}

func (s *StubSource) Name() string    { return string(s.name) }
func (s *StubSource) Connected() bool { return s.connected.Load() }

func (s *StubSource) Subscribe(ctx context.Context) (<-chan RawEvent, error) {
	s.connected.Store(true)
	go func() {
		<-ctx.Done()
		s.connected.Store(false)
	}()
	return s.out, nil
}

// Emit injects a raw event as if it arrived from upstream.
func (s *StubSource) Emit(event RawEvent) {
	event.Source = s.name
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = event.ReceivedAt
	}
	s.out <- event
}
