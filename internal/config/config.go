// Package config defines all configuration for the XEMM bot.
// Config is loaded from a YAML file (default: configs/config.yaml);
// credentials are read only from environment variables (env.go).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, loaded directly from the YAML
// file's key/value structure.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	Symbol string `mapstructure:"symbol"`

	Maker MakerConfig `mapstructure:"maker"`
	Taker TakerConfig `mapstructure:"taker"`

	ProfitRateBps            float64       `mapstructure:"profit_rate_bps"`
	ProfitCancelThresholdBps float64       `mapstructure:"profit_cancel_threshold_bps"`
	OrderNotionalUSD         float64       `mapstructure:"order_notional_usd"`
	OrderRefreshIntervalSecs int           `mapstructure:"order_refresh_interval_secs"`
	MaxBookAge               time.Duration `mapstructure:"max_book_age"`

	PingIntervalSecs  int `mapstructure:"ping_interval_secs"`
	ReconnectAttempts int `mapstructure:"reconnect_attempts"`

	Hedge   HedgeConfig   `mapstructure:"hedge"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MakerConfig holds Venue-M (Pacifica-style) connection and fee parameters.
// Credentials (AccountAddress, APIPublic, APIPrivate) are never read from
// the config file — see env.go.
type MakerConfig struct {
	RESTBaseURL         string  `mapstructure:"rest_base_url"`
	WSURL               string  `mapstructure:"ws_url"`
	FeeBps              float64 `mapstructure:"maker_fee_bps"`
	RESTPollIntervalSec int     `mapstructure:"rest_poll_interval_secs"`
	TickSize            float64 `mapstructure:"tick_size"`
	LotSize             float64 `mapstructure:"lot_size"`
}

// TakerConfig holds Venue-T (Hyperliquid-style) connection and fee
// parameters. Credentials (WalletAddress, PrivateKey) are env-sourced.
type TakerConfig struct {
	RESTBaseURL string  `mapstructure:"rest_base_url"`
	WSURL       string  `mapstructure:"ws_url"`
	FeeBps      float64 `mapstructure:"taker_fee_bps"`
	Slippage    float64 `mapstructure:"slippage"`
	ChainID     int     `mapstructure:"chain_id"`
}

// HedgeConfig tunes the hedge executor's retry ladder and post-hedge
// propagation wait. PropagationWait defaults to 20s but is exposed as a
// tunable since venue settlement latency varies.
type HedgeConfig struct {
	RetryBackoff     []time.Duration `mapstructure:"retry_backoff"`
	PropagationWait  time.Duration   `mapstructure:"propagation_wait"`
	ReconcileWindow  time.Duration   `mapstructure:"reconcile_window"`
}

// StoreConfig sets where the trade-history CSV is written.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file. Credentials are never read from
// this file; they come exclusively from environment variables via
// LoadCredentials.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("XEMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv("XEMM_DRY_RUN") == "true" || os.Getenv("XEMM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ping_interval_secs", 15)
	v.SetDefault("reconnect_attempts", 10)
	v.SetDefault("profit_cancel_threshold_bps", 3.0)
	v.SetDefault("order_refresh_interval_secs", 30)
	v.SetDefault("max_book_age", 2*time.Second)
	v.SetDefault("maker.rest_poll_interval_secs", 4)
	v.SetDefault("hedge.propagation_wait", 20*time.Second)
	v.SetDefault("hedge.reconcile_window", 10*time.Second)
	v.SetDefault("hedge.retry_backoff", []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("store.data_dir", "./data")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.PingIntervalSecs < 1 || c.PingIntervalSecs > 30 {
		return fmt.Errorf("ping_interval_secs must be in [1, 30], got %d", c.PingIntervalSecs)
	}
	if c.ProfitRateBps <= 0 {
		return fmt.Errorf("profit_rate_bps must be > 0")
	}
	if c.ProfitCancelThresholdBps <= 0 {
		return fmt.Errorf("profit_cancel_threshold_bps must be > 0")
	}
	if c.OrderNotionalUSD <= 0 {
		return fmt.Errorf("order_notional_usd must be > 0")
	}
	if c.Maker.RESTBaseURL == "" {
		return fmt.Errorf("maker.rest_base_url is required")
	}
	if c.Taker.RESTBaseURL == "" {
		return fmt.Errorf("taker.rest_base_url is required")
	}
	if c.Maker.TickSize <= 0 {
		return fmt.Errorf("maker.tick_size must be > 0")
	}
	if c.Maker.LotSize <= 0 {
		return fmt.Errorf("maker.lot_size must be > 0")
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect_attempts must be > 0")
	}
	return nil
}
