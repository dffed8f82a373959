package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the gradient core.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	RPC        RPCConfig        `yaml:"rpc"`
	Jito       JitoConfig       `yaml:"jito"`
	Jupiter    JupiterConfig    `yaml:"jupiter"`
	Feed       FeedConfig       `yaml:"feed"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Positions  PositionsConfig  `yaml:"positions"`
	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	SchemaVersion string   `yaml:"schema_version"`
	GroupIDPrefix string   `yaml:"group_id_prefix"`
	// FollowStream tails the grad.* topics and mirrors other instances'
	// events to locally connected WebSocket clients.
	FollowStream bool `yaml:"follow_stream"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int    `yaml:"max_conns"`
}

type ClickHouseConfig struct {
	DSN             string `yaml:"dsn"`
	Database        string `yaml:"database"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	CacheTTLMs int    `yaml:"cache_ttl_ms"`
}

type RPCConfig struct {
	Endpoint   string `yaml:"endpoint"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
}

type JitoConfig struct {
	Enabled         bool    `yaml:"enabled"`
	BlockEngineURL  string  `yaml:"block_engine_url"`
	TipSOL          float64 `yaml:"tip_sol"`
	ConfirmWindowMs int     `yaml:"confirm_window_ms"`
	PollIntervalMs  int     `yaml:"poll_interval_ms"`
	TimeoutMs       int     `yaml:"timeout_ms"`
}

type JupiterConfig struct {
	WalletPubkey     string `yaml:"wallet_pubkey"`
	DirectRoutesOnly bool   `yaml:"direct_routes_only"`
}

type SourceConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Endpoint         string `yaml:"endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	BufferSize       int    `yaml:"buffer_size"`
}

type FeedConfig struct {
	DedupCapacity int          `yaml:"dedup_capacity"`
	BufferSize    int          `yaml:"buffer_size"`
	PumpPortal    SourceConfig `yaml:"pumpportal"`
	Raydium       SourceConfig `yaml:"raydium"`
}

type ProviderConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}

type EnrichmentConfig struct {
	Workers          int            `yaml:"workers"`
	FetchTimeoutMs   int            `yaml:"fetch_timeout_ms"`
	RefreshDelayMs   int            `yaml:"refresh_delay_ms"`
	MaxRefreshRounds int            `yaml:"max_refresh_rounds"`
	DexScreener      ProviderConfig `yaml:"dexscreener"`
	HolderScan       ProviderConfig `yaml:"holderscan"`
}

type MatcherConfig struct {
	Workers            int `yaml:"workers"`
	AutoPauseThreshold int `yaml:"auto_pause_threshold"`
}

type ExecutorConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	ConfirmTimeoutMs int `yaml:"confirm_timeout_ms"`
	ConfirmPollMs    int `yaml:"confirm_poll_ms"`
	PlatformFeeBps   int `yaml:"platform_fee_bps"`
}

type PositionsConfig struct {
	PriceCheckIntervalMs int `yaml:"price_check_interval_ms"`
}

type APIConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeoutMs   int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs  int      `yaml:"write_timeout_ms"`
	IdleTimeoutMs   int      `yaml:"idle_timeout_ms"`
	JWTSecret       string   `yaml:"jwt_secret"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	TopPerformersN  int      `yaml:"top_performers_n"`
	RecentMigsLimit int      `yaml:"recent_migrations_limit"`
}

type MetricsConfig struct {
	Enabled         bool `yaml:"enabled"`
	Port            int  `yaml:"port"`
	HealthIntervalS int  `yaml:"health_interval_s"`
}

// Load reads and parses a YAML configuration file. Environment variables
// in the file are expanded before parsing, so secrets stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "gradient-core"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.SchemaVersion == "" {
		cfg.Kafka.SchemaVersion = "1.0.0"
	}
	if cfg.Kafka.GroupIDPrefix == "" {
		cfg.Kafka.GroupIDPrefix = "gradient"
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "gradient"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}
	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/gradient"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "gradient"
	}
	if cfg.ClickHouse.BatchSize == 0 {
		cfg.ClickHouse.BatchSize = 500
	}
	if cfg.ClickHouse.FlushIntervalMs == 0 {
		cfg.ClickHouse.FlushIntervalMs = 5000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.CacheTTLMs == 0 {
		cfg.Redis.CacheTTLMs = 15_000
	}
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.TimeoutMs == 0 {
		cfg.RPC.TimeoutMs = 10_000
	}
	if cfg.RPC.MaxRetries == 0 {
		cfg.RPC.MaxRetries = 3
	}
	if cfg.Jito.TipSOL == 0 {
		cfg.Jito.TipSOL = 0.001
	}
	if cfg.Jito.ConfirmWindowMs == 0 {
		cfg.Jito.ConfirmWindowMs = 6000
	}
	if cfg.Feed.PumpPortal.Endpoint == "" {
		cfg.Feed.PumpPortal.Endpoint = "wss://pumpportal.fun/api/data"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.TopPerformersN == 0 {
		cfg.API.TopPerformersN = 10
	}
	if cfg.API.RecentMigsLimit == 0 {
		cfg.API.RecentMigsLimit = 20
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.HealthIntervalS == 0 {
		cfg.Metrics.HealthIntervalS = 30
	}
}
