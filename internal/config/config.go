// Package config loads the service configuration from YAML with environment
// overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	DocStore  DocStoreConfig       `yaml:"docstore"`
	Chain     ChainConfig          `yaml:"chain"`
	Auth      AuthConfig           `yaml:"auth"`
	Custodian CustodianConfig      `yaml:"custodian"`
	Media     MediaConfig          `yaml:"media"`
	PriceFeed PriceFeedConfig      `yaml:"pricefeed"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds redis settings. An empty address disables the realtime
// bridge.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DocStoreConfig holds document store settings. An empty URL keeps posts and
// notifications in the relational store.
type DocStoreConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	ServiceKey string `yaml:"service_key"`
}

// ChainConfig holds Hive access settings.
type ChainConfig struct {
	Nodes            []string      `yaml:"nodes"`
	ChainID          string        `yaml:"chain_id"`
	CustomJSONID     string        `yaml:"custom_json_id"`
	EscrowAccount    string        `yaml:"escrow_account"`
	MaxRetries       int           `yaml:"max_retries"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxBlocksPerTick int           `yaml:"max_blocks_per_tick"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Issuer    string        `yaml:"issuer"`
}

// CustodianConfig holds custodial wallet settings.
type CustodianConfig struct {
	// MasterKey derives the key-encryption key for stored wallet keys.
	MasterKey string `yaml:"master_key"`
}

// MediaConfig holds third-party media integration settings.
type MediaConfig struct {
	GifSearchURL   string        `yaml:"gif_search_url"`
	GifAPIKey      string        `yaml:"gif_api_key"`
	ImageGenURL    string        `yaml:"image_gen_url"`
	ImageGenKey    string        `yaml:"image_gen_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PriceFeedConfig holds price collection settings.
type PriceFeedConfig struct {
	SourceURL       string        `yaml:"source_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Default returns a runnable development configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  30,
		},
		Chain: ChainConfig{
			Nodes: []string{
				"https://api.hive.blog",
				"https://api.deathwing.me",
				"https://anyx.io",
			},
			ChainID:          "beeab0de00000000000000000000000000000000000000000000000000000000",
			CustomJSONID:     "sportsblock",
			MaxRetries:       2,
			PollInterval:     3 * time.Second,
			MaxBlocksPerTick: 100,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "sportsblock",
		},
		PriceFeed: PriceFeedConfig{
			SourceURL:       "https://api.coingecko.com/api/v3/simple/price",
			RefreshInterval: 5 * time.Minute,
		},
		Media: MediaConfig{
			RequestTimeout: 10 * time.Second,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. A missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-sensitive values from SPORTSBLOCK_* vars.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("SPORTSBLOCK_ADDR", &cfg.Server.Addr)
	setString("SPORTSBLOCK_DB_DSN", &cfg.Database.DSN)
	setString("SPORTSBLOCK_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SPORTSBLOCK_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("SPORTSBLOCK_DOCSTORE_URL", &cfg.DocStore.URL)
	setString("SPORTSBLOCK_DOCSTORE_KEY", &cfg.DocStore.ServiceKey)
	setString("SPORTSBLOCK_JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("SPORTSBLOCK_MASTER_KEY", &cfg.Custodian.MasterKey)
	setString("SPORTSBLOCK_ESCROW_ACCOUNT", &cfg.Chain.EscrowAccount)
	setString("SPORTSBLOCK_GIF_API_KEY", &cfg.Media.GifAPIKey)
	setString("SPORTSBLOCK_IMAGE_GEN_KEY", &cfg.Media.ImageGenKey)
	setString("SPORTSBLOCK_LOG_LEVEL", &cfg.Logging.Level)

	if v := os.Getenv("SPORTSBLOCK_CHAIN_NODES"); v != "" {
		var nodes []string
		for _, node := range strings.Split(v, ",") {
			if node = strings.TrimSpace(node); node != "" {
				nodes = append(nodes, node)
			}
		}
		if len(nodes) > 0 {
			cfg.Chain.Nodes = nodes
		}
	}
	if v := os.Getenv("SPORTSBLOCK_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if len(c.Chain.Nodes) == 0 {
		return fmt.Errorf("at least one chain node is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	if c.Chain.ChainID == "" {
		return fmt.Errorf("chain id is required")
	}
	return nil
}
