// Package config defines the top-level configuration for the futures trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUTBOT_* environment variables.
type Config struct {
	Exchange Exchange `toml:"exchange"`
	Trading  Trading  `toml:"trading"`
	Monitor  Monitor  `toml:"monitor"`
	Safety   Safety   `toml:"safety"`
	Advisor  Advisor  `toml:"advisor"`
	Database Database `toml:"database"`
	Redis    Redis    `toml:"redis"`
	S3       S3       `toml:"s3"`
	Server   Server   `toml:"server"`
	Notify   Notify   `toml:"notify"`
	Paper    Paper    `toml:"paper"`
	Mode     string   `toml:"mode"`
	LogLevel string   `toml:"log_level"`
}

// Paper holds the simulated-venue parameters used in paper mode.
type Paper struct {
	StartingBalance float64  `toml:"starting_balance"`
	SlippageBps     float64  `toml:"slippage_bps"`
	PropagationLag  duration `toml:"propagation_lag"`
}

// Exchange holds venue credentials and connection parameters.
type Exchange struct {
	ApiKey              string  `toml:"api_key"`
	ApiSecret           string  `toml:"api_secret"`
	EncryptedSecretPath string  `toml:"encrypted_secret_path"`
	SecretPassword      string  `toml:"secret_password"`
	BaseURL             string  `toml:"base_url"`
	WsURL               string  `toml:"ws_url"`
	Testnet             bool    `toml:"testnet"`
	FeeRate             float64 `toml:"fee_rate"` // per-side taker fee fraction
}

// Trading holds admission and sizing parameters.
type Trading struct {
	Symbols []string `toml:"symbols"`

	// Sizing. "margin": capital_per_position is the margin and notional =
	// margin * leverage. "notional": capital_per_position is the notional and
	// margin = notional / leverage.
	SizingMode         string  `toml:"sizing_mode"`
	CapitalPerPosition float64 `toml:"capital_per_position"`
	Leverage           int     `toml:"leverage"`

	// Admission gates.
	MaxPositions          int      `toml:"max_positions"`
	MaxPositionsPerSymbol int      `toml:"max_positions_per_symbol"`
	MinConfidence         float64  `toml:"min_confidence"`
	MaxSignalAge          duration `toml:"max_signal_age"`
	MaxPriceDrift         float64  `toml:"max_price_drift"` // fraction of reference price
	CooldownWindow        duration `toml:"cooldown_window"`
	CooldownOverride      float64  `toml:"cooldown_override_confidence"`
	// Symbols whose win rate over win_rate_lookback drops below
	// poor_win_rate get min_confidence raised by confidence_penalty.
	PoorWinRate       float64  `toml:"poor_win_rate"`
	ConfidencePenalty float64  `toml:"confidence_penalty"`
	WinRateLookback   duration `toml:"win_rate_lookback"`

	// Exit thresholds, all in quote currency.
	TakeProfitUSD    float64 `toml:"take_profit_usd"`
	FloorActivateUSD float64 `toml:"floor_activate_usd"`
	FloorLockUSD     float64 `toml:"floor_lock_usd"`
	StopLossUSD      float64 `toml:"stop_loss_usd"`
	// MinGapFraction is the minimum distance between entry and TP/SL prices
	// as a fraction of entry, floored at the venue tick size.
	MinGapFraction float64 `toml:"min_gap_fraction"`
}

// Monitor holds the scheduling parameters for the two engine loops.
type Monitor struct {
	TickInterval      duration `toml:"tick_interval"`
	AdmissionInterval duration `toml:"admission_interval"`
	GracePeriod       duration `toml:"grace_period"`
	CallTimeout       duration `toml:"call_timeout"`
	MaxRetries        int      `toml:"max_retries"`
	RetryBackoff      duration `toml:"retry_backoff"`
}

// Safety holds the circuit-breaker thresholds.
type Safety struct {
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	WinRateWindow        int      `toml:"win_rate_window"`
	MinWinRate           float64  `toml:"min_win_rate"`
	AutoResumeAfter      duration `toml:"auto_resume_after"` // 0 = manual resume only
}

// Advisor holds the optional ML recommendation service endpoint.
type Advisor struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// Database holds PostgreSQL connection parameters.
type Database struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Redis holds Redis connection parameters.
type Redis struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// SignalStream is the stream the admission loop consumes candidates from.
	SignalStream string `toml:"signal_stream"`
}

// S3 holds S3-compatible object storage parameters for record archival.
type S3 struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// Server holds the telemetry HTTP surface parameters.
type Server struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Notify holds notification channel credentials.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: Exchange{
			BaseURL: "https://fapi.binance.com",
			WsURL:   "wss://fstream.binance.com",
			FeeRate: 0.0004,
		},
		Trading: Trading{
			Symbols:               []string{"BTCUSDT", "ETHUSDT"},
			SizingMode:            "margin",
			CapitalPerPosition:    200,
			Leverage:              10,
			MaxPositions:          5,
			MaxPositionsPerSymbol: 1,
			MinConfidence:         0.65,
			MaxSignalAge:          duration{90 * time.Second},
			MaxPriceDrift:         0.005,
			CooldownWindow:        duration{30 * time.Minute},
			CooldownOverride:      0.85,
			PoorWinRate:           0.40,
			ConfidencePenalty:     0.10,
			WinRateLookback:       duration{7 * 24 * time.Hour},
			TakeProfitUSD:         20,
			FloorActivateUSD:      8,
			FloorLockUSD:          3,
			StopLossUSD:           10,
			MinGapFraction:        0.0005,
		},
		Monitor: Monitor{
			TickInterval:      duration{2 * time.Second},
			AdmissionInterval: duration{20 * time.Second},
			GracePeriod:       duration{45 * time.Second},
			CallTimeout:       duration{5 * time.Second},
			MaxRetries:        3,
			RetryBackoff:      duration{500 * time.Millisecond},
		},
		Safety: Safety{
			MaxConsecutiveLosses: 4,
			WinRateWindow:        20,
			MinWinRate:           0.35,
			AutoResumeAfter:      duration{0},
		},
		Advisor: Advisor{
			Enabled: false,
			Timeout: duration{2 * time.Second},
		},
		Database: Database{
			Host:          "localhost",
			Port:          5432,
			Database:      "futuresbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			SignalStream: "signals",
		},
		S3: S3{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "futuresbot-data",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: Server{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: Notify{
			Events: []string{"position_opened", "position_closed", "breaker_tripped", "error"},
		},
		Paper: Paper{
			StartingBalance: 10_000,
			SlippageBps:     1,
			PropagationLag:  duration{3 * time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"live":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — live mode requires credentials; this is the only fatal
	// configuration class, caught here at startup.
	if strings.ToLower(c.Mode) == "live" {
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for live mode")
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 0.01 {
		errs = append(errs, fmt.Sprintf("exchange: fee_rate %.5f out of range [0, 0.01)", c.Exchange.FeeRate))
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	switch c.Trading.SizingMode {
	case "margin", "notional":
	default:
		errs = append(errs, fmt.Sprintf("trading: sizing_mode must be \"margin\" or \"notional\", got %q", c.Trading.SizingMode))
	}
	if c.Trading.CapitalPerPosition <= 0 {
		errs = append(errs, "trading: capital_per_position must be > 0")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be 1-125, got %d", c.Trading.Leverage))
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.MaxPositionsPerSymbol < 1 {
		errs = append(errs, "trading: max_positions_per_symbol must be >= 1")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		errs = append(errs, "trading: min_confidence must be in [0,1]")
	}
	if c.Trading.MaxSignalAge.Duration <= 0 {
		errs = append(errs, "trading: max_signal_age must be positive")
	}
	if c.Trading.MaxPriceDrift <= 0 {
		errs = append(errs, "trading: max_price_drift must be > 0")
	}
	if c.Trading.TakeProfitUSD <= 0 {
		errs = append(errs, "trading: take_profit_usd must be > 0")
	}
	if c.Trading.StopLossUSD <= 0 {
		errs = append(errs, "trading: stop_loss_usd must be > 0")
	}
	if c.Trading.FloorLockUSD >= c.Trading.FloorActivateUSD {
		errs = append(errs, fmt.Sprintf(
			"trading: floor_lock_usd (%.2f) must be below floor_activate_usd (%.2f)",
			c.Trading.FloorLockUSD, c.Trading.FloorActivateUSD))
	}
	if c.Trading.FloorActivateUSD >= c.Trading.TakeProfitUSD {
		errs = append(errs, fmt.Sprintf(
			"trading: floor_activate_usd (%.2f) must be below take_profit_usd (%.2f)",
			c.Trading.FloorActivateUSD, c.Trading.TakeProfitUSD))
	}

	// Monitor
	if c.Monitor.TickInterval.Duration <= 0 {
		errs = append(errs, "monitor: tick_interval must be positive")
	}
	if c.Monitor.AdmissionInterval.Duration <= 0 {
		errs = append(errs, "monitor: admission_interval must be positive")
	}
	if c.Monitor.GracePeriod.Duration < 0 {
		errs = append(errs, "monitor: grace_period must not be negative")
	}
	if c.Monitor.MaxRetries < 0 {
		errs = append(errs, "monitor: max_retries must not be negative")
	}

	// Safety
	if c.Safety.MaxConsecutiveLosses < 1 {
		errs = append(errs, "safety: max_consecutive_losses must be >= 1")
	}
	if c.Safety.WinRateWindow < 1 {
		errs = append(errs, "safety: win_rate_window must be >= 1")
	}
	if c.Safety.MinWinRate < 0 || c.Safety.MinWinRate > 1 {
		errs = append(errs, "safety: min_win_rate must be in [0,1]")
	}

	// Advisor
	if c.Advisor.Enabled && c.Advisor.URL == "" {
		errs = append(errs, "advisor: url is required when enabled")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.SignalStream == "" {
		errs = append(errs, "redis: signal_stream must not be empty")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
