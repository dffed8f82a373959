// Package api exposes the REST surface consumed by the dashboard: public
// platform stats plus authenticated sniper, position, and wallet management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/store"
	"github.com/gradient-trading/gradient/internal/wallet"
)

// MatcherControl is the live matcher's registration surface. Snipers changed
// through the API must be reflected in the in-memory matcher immediately,
// not on the next restart.
type MatcherControl interface {
	Upsert(s *sniper.Sniper)
	Remove(id string)
}

// PositionCloser triggers a manual market sell on an open position.
type PositionCloser interface {
	CloseManual(ctx context.Context, positionID string) error
}

// WalletService is the custody wallet surface used by the handlers.
// Implemented by wallet.Service.
type WalletService interface {
	Get(ctx context.Context, id string) (*wallet.Wallet, error)
	Balances(ctx context.Context, userID string) ([]*wallet.Wallet, error)
	SufficientFor(ctx context.Context, walletID string, required decimal.Decimal) (bool, error)
	Withdraw(ctx context.Context, walletID string, to solana.Pubkey, amountSOL decimal.Decimal) (solana.Signature, error)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *ServerConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the REST API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	config     ServerConfig

	stats     *StatsService
	snipers   store.SniperStore
	positions store.PositionStore
	matcher   MatcherControl
	closer    PositionCloser
	wallets   WalletService
	auth      Authenticator
}

// NewServer wires the router. Any of matcher, closer, wallets may be nil in
// partial deployments; the corresponding endpoints then return 500.
func NewServer(
	config ServerConfig,
	stats *StatsService,
	snipers store.SniperStore,
	positions store.PositionStore,
	matcher MatcherControl,
	closer PositionCloser,
	wallets WalletService,
	auth Authenticator,
) *Server {
	config.applyDefaults()

	s := &Server{
		router:    mux.NewRouter(),
		config:    config,
		stats:     stats,
		snipers:   snipers,
		positions: positions,
		matcher:   matcher,
		closer:    closer,
		wallets:   wallets,
		auth:      auth,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Public stats, no auth.
	s.router.HandleFunc("/api/platform-stats", s.handlePlatformStats).Methods("GET")
	s.router.HandleFunc("/api/top-performers", s.handleTopPerformers).Methods("GET")
	s.router.HandleFunc("/api/recent-migrations", s.handleRecentMigrations).Methods("GET")

	// Authenticated management surface.
	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(AuthMiddleware(s.auth))

	authed.HandleFunc("/snipers", s.handleListSnipers).Methods("GET")
	authed.HandleFunc("/snipers", s.handleCreateSniper).Methods("POST")
	authed.HandleFunc("/snipers/{id}/toggle", s.handleToggleSniper).Methods("POST")
	authed.HandleFunc("/snipers/{id}", s.handleDeleteSniper).Methods("DELETE")

	authed.HandleFunc("/positions", s.handleListPositions).Methods("GET")
	authed.HandleFunc("/positions/{id}/close", s.handleClosePosition).Methods("POST")

	authed.HandleFunc("/wallets/balances", s.handleWalletBalances).Methods("GET")
	authed.HandleFunc("/wallets/{id}/withdraw", s.handleWithdraw).Methods("POST")
}

// Router exposes the handler for tests and for mounting extra routes, such
// as the websocket upgrade and the metrics endpoint.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gradient-core",
	})
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("api server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("api server shutting down")
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
