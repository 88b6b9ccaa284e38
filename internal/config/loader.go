package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.ApiKey, "FUTBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "FUTBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "FUTBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "FUTBOT_EXCHANGE_SECRET_PASSWORD")
	setStr(&cfg.Exchange.BaseURL, "FUTBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "FUTBOT_EXCHANGE_WS_URL")
	setBool(&cfg.Exchange.Testnet, "FUTBOT_EXCHANGE_TESTNET")
	setFloat64(&cfg.Exchange.FeeRate, "FUTBOT_EXCHANGE_FEE_RATE")

	// ── Trading ──
	setStr(&cfg.Trading.SizingMode, "FUTBOT_TRADING_SIZING_MODE")
	setFloat64(&cfg.Trading.CapitalPerPosition, "FUTBOT_TRADING_CAPITAL_PER_POSITION")
	setInt(&cfg.Trading.Leverage, "FUTBOT_TRADING_LEVERAGE")
	setInt(&cfg.Trading.MaxPositions, "FUTBOT_TRADING_MAX_POSITIONS")
	setInt(&cfg.Trading.MaxPositionsPerSymbol, "FUTBOT_TRADING_MAX_POSITIONS_PER_SYMBOL")
	setFloat64(&cfg.Trading.MinConfidence, "FUTBOT_TRADING_MIN_CONFIDENCE")
	setFloat64(&cfg.Trading.TakeProfitUSD, "FUTBOT_TRADING_TAKE_PROFIT_USD")
	setFloat64(&cfg.Trading.StopLossUSD, "FUTBOT_TRADING_STOP_LOSS_USD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "FUTBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "FUTBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FUTBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FUTBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "FUTBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "FUTBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FUTBOT_DATABASE_SSLMODE")
	setBool(&cfg.Database.RunMigrations, "FUTBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FUTBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.SignalStream, "FUTBOT_REDIS_SIGNAL_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTBOT_S3_SECRET_KEY")

	// ── Advisor ──
	setBool(&cfg.Advisor.Enabled, "FUTBOT_ADVISOR_ENABLED")
	setStr(&cfg.Advisor.URL, "FUTBOT_ADVISOR_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTBOT_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top level ──
	setStr(&cfg.Mode, "FUTBOT_MODE")
	setStr(&cfg.LogLevel, "FUTBOT_LOG_LEVEL")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
