// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via CRAFT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Builder     BuilderConfig     `mapstructure:"builder"`
	Venue       VenueConfig       `mapstructure:"venue"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	CopyWatch   CopyWatchConfig   `mapstructure:"copy_watch"`
	Bus         BusConfig         `mapstructure:"bus"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Control     ControlConfig     `mapstructure:"control"`
	HTTPProxies []string          `mapstructure:"http_proxies"`
}

// WalletConfig holds the signer private key and Safe-relayer settings used
// to submit and sign orders. PrivateKey and the encryption passphrase are
// always sourced from the environment, never the file (spec.md §4.12).
type WalletConfig struct {
	PrivateKey           string `mapstructure:"-"`
	EncryptionPassphrase string `mapstructure:"-"`
	SafeFactoryAddress   string `mapstructure:"safe_factory_address"`
	QuoteTokenAddress    string `mapstructure:"quote_token_address"`
	SafeInitCodeHash     string `mapstructure:"safe_init_code_hash"`
}

// BuilderConfig holds the HMAC credentials used to authenticate every
// order submission and relayer call (spec.md §4.10 step 7).
type BuilderConfig struct {
	APIKey     string `mapstructure:"-"`
	Secret     string `mapstructure:"-"`
	Passphrase string `mapstructure:"-"`
}

// VenueConfig holds the CLOB/Gamma/WS/relayer base URLs and the exchange
// contract addresses chosen by NegRisk (spec.md §4.10 step 5, §4.11).
type VenueConfig struct {
	CLOBBaseURL          string `mapstructure:"clob_base_url"`
	GammaBaseURL         string `mapstructure:"gamma_base_url"`
	WSMarketURL          string `mapstructure:"ws_market_url"`
	RelayerBaseURL       string `mapstructure:"relayer_base_url"`
	VerifyingContract    string `mapstructure:"verifying_contract"`
	NegRiskContract      string `mapstructure:"neg_risk_contract"`
	NegRisk              bool   `mapstructure:"neg_risk"`
	MaxOrdersPerDay      float64 `mapstructure:"max_orders_per_day"`
}

// DiscoverySource is one (reference symbol, slot-duration) pairing the
// discovery task tracks (spec.md §4.3).
type DiscoverySource struct {
	Name             string `mapstructure:"name"`
	RefSymbol        string `mapstructure:"ref_symbol"`
	SlotDurationSecs int64  `mapstructure:"slot_duration_secs"`
}

// DiscoveryConfig tunes market discovery and tick synthesis cadence.
type DiscoveryConfig struct {
	Sources          []DiscoverySource `mapstructure:"sources"`
	IntervalSecs     int               `mapstructure:"interval_secs"`
	TickIntervalMS   int               `mapstructure:"tick_interval_ms"`
	PriceSymbols     []string          `mapstructure:"price_symbols"`
	PriceBaseURL     string            `mapstructure:"price_base_url"`
}

// ExecutionConfig tunes the execution queue and order-submission paths.
type ExecutionConfig struct {
	PaperMode bool `mapstructure:"paper_mode"`
}

// CopyWatchConfig lists the leader addresses the copy-watcher follows
// (spec.md §4.13).
type CopyWatchConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	LeaderAddresses []string `mapstructure:"leader_addresses"`
}

// BusConfig points at the Kafka message bus used for tick fan-out.
type BusConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// StorageConfig points at the three backing stores (spec.md's "domain
// stack" expansion: persistent store, key-value store, analytics store).
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	ClickhouseURL string `mapstructure:"clickhouse_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig configures the out-of-core control surface (spec.md §6).
type ControlConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Port      int           `mapstructure:"port"`
	JWTSecret string        `mapstructure:"-"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load reads config from a YAML file with env var overrides.
// Secrets are always sourced from CRAFT_* environment variables and are
// never read from the file: CRAFT_PRIVATE_KEY, CRAFT_ENCRYPTION_PASSPHRASE,
// CRAFT_BUILDER_API_KEY, CRAFT_BUILDER_SECRET, CRAFT_BUILDER_PASSPHRASE,
// CRAFT_CONTROL_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Wallet.PrivateKey = os.Getenv("CRAFT_PRIVATE_KEY")
	cfg.Wallet.EncryptionPassphrase = os.Getenv("CRAFT_ENCRYPTION_PASSPHRASE")
	cfg.Builder.APIKey = os.Getenv("CRAFT_BUILDER_API_KEY")
	cfg.Builder.Secret = os.Getenv("CRAFT_BUILDER_SECRET")
	cfg.Builder.Passphrase = os.Getenv("CRAFT_BUILDER_PASSPHRASE")
	cfg.Control.JWTSecret = os.Getenv("CRAFT_CONTROL_JWT_SECRET")

	if proxies := os.Getenv("CRAFT_HTTP_PROXIES"); proxies != "" {
		cfg.HTTPProxies = strings.Split(proxies, ",")
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("CRAFT_PRIVATE_KEY is required")
	}
	if c.Wallet.EncryptionPassphrase == "" {
		return fmt.Errorf("CRAFT_ENCRYPTION_PASSPHRASE is required")
	}
	if c.Builder.APIKey == "" || c.Builder.Secret == "" || c.Builder.Passphrase == "" {
		return fmt.Errorf("CRAFT_BUILDER_API_KEY, CRAFT_BUILDER_SECRET and CRAFT_BUILDER_PASSPHRASE are required")
	}
	if c.Venue.CLOBBaseURL == "" {
		return fmt.Errorf("venue.clob_base_url is required")
	}
	if c.Venue.GammaBaseURL == "" {
		return fmt.Errorf("venue.gamma_base_url is required")
	}
	if c.Venue.WSMarketURL == "" {
		return fmt.Errorf("venue.ws_market_url is required")
	}
	if c.Venue.MaxOrdersPerDay <= 0 {
		return fmt.Errorf("venue.max_orders_per_day must be > 0")
	}
	if len(c.Discovery.Sources) == 0 {
		return fmt.Errorf("discovery.sources must list at least one source")
	}
	if c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required")
	}
	if c.Storage.RedisAddr == "" {
		return fmt.Errorf("storage.redis_addr is required")
	}
	return nil
}
