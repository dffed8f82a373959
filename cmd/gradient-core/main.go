package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/adapters/jupiter"
	"github.com/gradient-trading/gradient/internal/api"
	"github.com/gradient-trading/gradient/internal/bus"
	"github.com/gradient-trading/gradient/internal/config"
	"github.com/gradient-trading/gradient/internal/enrich"
	"github.com/gradient-trading/gradient/internal/executor"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/notifier"
	"github.com/gradient-trading/gradient/internal/observability"
	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/store"
	"github.com/gradient-trading/gradient/internal/stream"
	"github.com/gradient-trading/gradient/internal/wallet"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub chain clients (no real Solana/Kafka connections)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("GRADIENT Core - Starting")
	log.Info().Msg("DETECT -> ENRICH -> MATCH -> SNIPE -> EXIT")
	log.Info().Msg("=============================================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Postgres: snipers, positions, wallets.
	db, err := store.NewPostgresDB(ctx, store.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		MaxConns: cfg.Postgres.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Postgres connection failed")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Postgres migration failed")
	}
	sniperStore := store.NewPostgresSniperStore(db)
	positionStore := store.NewPostgresPositionStore(db)
	walletRepo := store.NewPostgresWalletRepository(db)
	log.Info().
		Str("host", cfg.Postgres.Host).
		Str("database", cfg.Postgres.Database).
		Msg("Postgres connected")

	// 5. ClickHouse: activity log and migration archive.
	chClient, err := store.NewClickHouseClient(cfg.ClickHouse.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("ClickHouse connection failed")
	}
	defer chClient.Close()
	activity := store.NewActivityWriter(chClient, cfg.ClickHouse.Database,
		cfg.ClickHouse.BatchSize, ms(cfg.ClickHouse.FlushIntervalMs))
	activity.Start(ctx)
	defer activity.Close()
	migrationReader := store.NewMigrationReader(chClient, cfg.ClickHouse.Database)
	log.Info().
		Str("database", cfg.ClickHouse.Database).
		Int("batch_size", cfg.ClickHouse.BatchSize).
		Msg("ClickHouse activity writer started")

	// 6. Metrics.
	metrics := observability.NewMetrics()

	// 7. Kafka producer.
	var producer bus.Producer
	if *stubMode {
		producer = bus.NewStubProducer()
		log.Warn().Msg("STUB MODE: Kafka producer is in-memory")
	} else {
		kp, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithSchemaVersion(cfg.Kafka.SchemaVersion))
		if err != nil {
			log.Fatal().Err(err).Msg("Kafka producer init failed")
		}
		producer = kp
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka producer connected")
	}
	defer producer.Close()
	producer = &meteredProducer{Producer: producer, metrics: metrics}

	// 8. WebSocket hub and event fan-out.
	jwtAuth := api.NewJWTAuthenticator(cfg.API.JWTSecret)
	hub := stream.NewHub(jwtAuth.AuthFunc(), cfg.API.AllowedOrigins)
	go hub.Run()

	events := notifier.New(producer,
		&meteredActivity{ActivityWriter: activity, metrics: metrics},
		hub, cfg.General.InstanceID)

	// 9. Solana RPC and bundle submission.
	var rpc solana.RPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Warn().Msg("STUB MODE: no real Solana connection")
	} else {
		live := solana.NewHTTPRPCClient(solana.RPCConfig{
			Endpoint:   cfg.RPC.Endpoint,
			TimeoutMs:  cfg.RPC.TimeoutMs,
			MaxRetries: cfg.RPC.MaxRetries,
		})
		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := live.Health(healthCtx); err != nil {
			log.Warn().Err(err).Msg("RPC health check failed, continuing anyway")
		}
		healthCancel()
		rpc = live
		log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("Solana RPC connected")
	}

	var bundles solana.BundleSubmitter
	if cfg.Jito.Enabled {
		if *stubMode {
			bundles = solana.NewStubBundleSubmitter()
		} else {
			bundles = solana.NewJitoClient(solana.JitoConfig{
				Enabled:         true,
				BlockEngineURL:  cfg.Jito.BlockEngineURL,
				TipSOL:          decimal.NewFromFloat(cfg.Jito.TipSOL),
				ConfirmWindowMs: cfg.Jito.ConfirmWindowMs,
				PollIntervalMs:  cfg.Jito.PollIntervalMs,
				TimeoutMs:       cfg.Jito.TimeoutMs,
			})
		}
		log.Info().
			Str("block_engine", cfg.Jito.BlockEngineURL).
			Float64("tip_sol", cfg.Jito.TipSOL).
			Msg("Jito bundle submission enabled")
	}

	// 10. Swap venue.
	var venue executor.SwapVenue
	if *stubMode {
		venue = jupiter.NewStubVenue()
	} else {
		jup, err := jupiter.New(jupiter.Config{
			WalletPubkey:     cfg.Jupiter.WalletPubkey,
			DirectRoutesOnly: cfg.Jupiter.DirectRoutesOnly,
		}, rpc)
		if err != nil {
			log.Fatal().Err(err).Msg("Jupiter venue init failed")
		}
		venue = jup
	}
	log.Info().Str("venue", venue.Name()).Msg("Swap venue ready")

	// 11. Executor, position manager, matcher. The three reference each
	// other, so the executor's opener and the manager's sniper lookup are
	// attached late.
	var matcher *sniper.Matcher

	exec := executor.New(executor.Config{
		MaxAttempts:      cfg.Executor.MaxAttempts,
		ConfirmTimeoutMs: cfg.Executor.ConfirmTimeoutMs,
		ConfirmPollMs:    cfg.Executor.ConfirmPollMs,
		PlatformFeeBps:   cfg.Executor.PlatformFeeBps,
	}, venue, rpc, bundles,
		&snipeEvents{next: events, metrics: metrics},
		nil,
		func(sniperID string, success bool) {
			result := "failure"
			if success {
				result = "success"
			}
			metrics.SnipesTotal.WithLabelValues(result).Inc()
			matcher.RecordResult(sniperID, success)
		})

	manager := position.NewManager(position.Config{
		PriceCheckIntervalMs: cfg.Positions.PriceCheckIntervalMs,
	}, exec, venue,
		&positionEvents{store: positionStore, next: events, metrics: metrics},
		func(id string) *sniper.Sniper { return matcher.Get(id) })
	exec.SetOpener(manager)

	matcher = sniper.NewMatcher(sniper.MatcherConfig{
		Workers:            cfg.Matcher.Workers,
		AutoPauseThreshold: cfg.Matcher.AutoPauseThreshold,
	}, manager, exec,
		func(s *sniper.Sniper, ev *feed.MigrationEvent) {
			metrics.MatchesTotal.Inc()
			events.MigrationMatched(s, ev)
		},
		func(s *sniper.Sniper) {
			persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := sniperStore.Update(persistCtx, s); err != nil {
				log.Error().Err(err).Str("sniper_id", s.ID).Msg("Auto-pause persist failed")
			}
			persistCancel()
			events.SniperPaused(s)
		})

	// 12. Reload persisted state.
	activeSnipers, err := sniperStore.ListActive(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Active sniper reload failed")
	}
	for _, s := range activeSnipers {
		matcher.Upsert(s)
	}
	log.Info().Int("snipers", len(activeSnipers)).Msg("Active snipers loaded")

	openPositions, err := positionStore.ListOpen(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Open position reload failed")
	}
	manager.Restore(openPositions)

	matcher.Start(ctx)
	manager.Start(ctx)

	// 13. Enrichment pipeline.
	var providers []enrich.Provider
	if cfg.Enrichment.DexScreener.Enabled {
		providers = append(providers, &meteredProvider{
			Provider: enrich.NewDexScreenerProvider(enrich.DexScreenerConfig{
				BaseURL:      cfg.Enrichment.DexScreener.BaseURL,
				RateLimitRPS: cfg.Enrichment.DexScreener.RateLimitRPS,
				TimeoutMs:    cfg.Enrichment.DexScreener.TimeoutMs,
			}),
			metrics: metrics,
		})
	}
	if cfg.Enrichment.HolderScan.Enabled {
		providers = append(providers, &meteredProvider{
			Provider: enrich.NewHolderScanProvider(enrich.HolderScanConfig{
				BaseURL:      cfg.Enrichment.HolderScan.BaseURL,
				APIKey:       cfg.Enrichment.HolderScan.APIKey,
				RateLimitRPS: cfg.Enrichment.HolderScan.RateLimitRPS,
				TimeoutMs:    cfg.Enrichment.HolderScan.TimeoutMs,
			}),
			metrics: metrics,
		})
	}
	enricher := enrich.New(enrich.Config{
		Workers:          cfg.Enrichment.Workers,
		FetchTimeoutMs:   cfg.Enrichment.FetchTimeoutMs,
		RefreshDelayMs:   cfg.Enrichment.RefreshDelayMs,
		MaxRefreshRounds: cfg.Enrichment.MaxRefreshRounds,
	}, providers, func(ev *feed.MigrationEvent) {
		metrics.EnrichmentLagMs.Observe(float64(time.Since(ev.DetectedAt).Milliseconds()))
		matcher.OnEvent(ev)
	})
	enricher.Start(ctx)
	defer enricher.Stop()
	log.Info().
		Int("workers", cfg.Enrichment.Workers).
		Int("providers", len(providers)).
		Msg("Enrichment pipeline started")

	// 14. Migration feed.
	var sources []feed.Source
	if *stubMode {
		sources = append(sources, feed.NewStubSource(feed.SourcePumpPortal))
	} else {
		if cfg.Feed.PumpPortal.Enabled {
			sources = append(sources, feed.NewPumpPortalSource(feed.WSSourceConfig{
				Endpoint:         cfg.Feed.PumpPortal.Endpoint,
				ReconnectDelayMs: cfg.Feed.PumpPortal.ReconnectDelayMs,
				PingIntervalS:    cfg.Feed.PumpPortal.PingIntervalS,
				BufferSize:       cfg.Feed.PumpPortal.BufferSize,
			}))
		}
		if cfg.Feed.Raydium.Enabled {
			sources = append(sources, feed.NewRaydiumLogsSource(feed.WSSourceConfig{
				Endpoint:         cfg.Feed.Raydium.Endpoint,
				ReconnectDelayMs: cfg.Feed.Raydium.ReconnectDelayMs,
				PingIntervalS:    cfg.Feed.Raydium.PingIntervalS,
				BufferSize:       cfg.Feed.Raydium.BufferSize,
			}))
		}
	}
	if len(sources) == 0 {
		log.Fatal().Msg("No migration sources enabled")
	}

	migrationFeed := feed.New(feed.Config{
		DedupCapacity: cfg.Feed.DedupCapacity,
		BufferSize:    cfg.Feed.BufferSize,
	}, sources...)
	eventCh, err := migrationFeed.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration feed start failed")
	}
	log.Info().Int("sources", len(sources)).Msg("Migration feed started")

	// lastEventNs feeds the staleness health check.
	var lastEventNs atomic.Int64

	var wg sync.WaitGroup

	// 15. Pipeline: every deduplicated migration is published, matched
	// against unenriched data immediately, and queued for enrichment.
	// Enrichment merges trigger re-evaluation via the enricher callback.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range eventCh {
			ev := ev
			lastEventNs.Store(time.Now().UnixNano())
			metrics.MigrationsDetected.WithLabelValues(string(ev.Source)).Inc()
			metrics.DetectionLatencyMs.Observe(float64(ev.DetectionLatencyMs))

			events.MigrationDetected(&ev)
			matcher.OnEvent(&ev)
			enricher.Submit(&ev)
		}
	}()

	// 16. Wallet service.
	var transfer wallet.TransferBuilder = wallet.NewStubTransferBuilder()
	if !*stubMode {
		// Custody signing runs out of process; withdrawals here build
		// unsigned intents until the signer service is attached.
		log.Warn().Msg("No custody signer attached, withdrawals use the stub builder")
	}
	walletSvc := wallet.NewService(walletRepo, rpc, transfer)

	// 17. Public and authenticated HTTP API.
	var cache *api.Cache
	if cfg.Redis.Addr != "" {
		cache, err = api.NewCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ms(cfg.Redis.CacheTTLMs))
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, stats cache disabled")
			cache = nil
		} else {
			defer cache.Close()
		}
	}
	statsService := api.NewStatsService(migrationReader, positionStore, sniperStore, cache)

	apiServer := api.NewServer(api.ServerConfig{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		ReadTimeout:  ms(cfg.API.ReadTimeoutMs),
		WriteTimeout: ms(cfg.API.WriteTimeoutMs),
		IdleTimeout:  ms(cfg.API.IdleTimeoutMs),
	}, statsService, sniperStore, positionStore, matcher, manager, walletSvc, jwtAuth)
	apiServer.Router().HandleFunc("/ws", hub.ServeWs)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("host", cfg.API.Host).Int("port", cfg.API.Port).Msg("API server started")
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	// 18. Stream follower: tail the bus and mirror other instances' events
	// to local WebSocket clients. Per-instance consumer group so every
	// follower sees the full stream.
	var follower bus.Consumer
	if cfg.Kafka.FollowStream && !*stubMode {
		relay := stream.NewRelay(hub, cfg.General.InstanceID)
		follower, err = bus.NewConsumer(cfg.Kafka.Brokers,
			cfg.Kafka.GroupIDPrefix+".stream."+cfg.General.InstanceID,
			bus.StreamTopics())
		if err != nil {
			log.Fatal().Err(err).Msg("Stream follower init failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := follower.Consume(ctx, relay.Handle); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Stream follower stopped")
			}
		}()
		log.Info().Msg("Stream follower started")
	}

	// 19. Metrics and health endpoint.
	healthMonitor := observability.NewHealthMonitor(time.Duration(cfg.Metrics.HealthIntervalS) * time.Second)
	healthMonitor.Register("postgres", observability.PingCheck(db))
	healthMonitor.Register("clickhouse", observability.PingCheck(chClient))
	healthMonitor.Register("rpc", observability.PingCheck(observability.PingFunc(rpc.Health)))
	healthMonitor.Register("feed", observability.StalenessCheck(func() time.Time {
		ns := lastEventNs.Load()
		if ns == 0 {
			return time.Time{}
		}
		return time.Unix(0, ns)
	}, 10*time.Minute))
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	sampler := newStatsSampler(metrics, migrationFeed, matcher, manager, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sampler.run(ctx, 15*time.Second)
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsMux.Handle("/health", healthMonitor.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	// 20. Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fs := migrationFeed.Stats()
				mts := matcher.Stats()
				es := exec.Stats()
				ps := manager.Stats()
				ns := events.Stats()
				log.Info().
					Int64("detections", fs.Detections).
					Int64("duplicates", fs.Duplicates).
					Int64("evaluations", mts.Evaluations).
					Int64("matches", mts.Matches).
					Int64("buys", es.Buys).
					Int64("confirmed_buys", es.ConfirmedBuys).
					Int("open_positions", ps.Open).
					Int64("closed", ps.Closed).
					Int64("published", ns.Published).
					Int("ws_clients", hub.Stats().Connected).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("GRADIENT Core - Running")

	// 21. Block until shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	// 22. Graceful shutdown: stop intake first, then drain the trading
	// core, then flush the sinks.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	cancel()
	if follower != nil {
		follower.Close()
	}
	matcher.Stop()
	manager.Stop()

	if err := activity.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Final activity flush failed")
	}

	wg.Wait()

	fs := migrationFeed.Stats()
	es := exec.Stats()
	ps := manager.Stats()
	log.Info().
		Int64("detections", fs.Detections).
		Int64("buys", es.Buys).
		Int64("confirmed_buys", es.ConfirmedBuys).
		Int64("sells", es.Sells).
		Int64("positions_opened", ps.Opened).
		Int64("positions_closed", ps.Closed).
		Msg("GRADIENT Core - Final statistics")

	log.Info().Msg("GRADIENT Core - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "gradient-core").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "gradient-core").
			Str("instance", general.InstanceID).Logger()
	}
}
