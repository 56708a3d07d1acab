package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trade_go/internal/domain"
)

const (
	// DefaultUserAgent identifies the bot to third-party HTTP services
	DefaultUserAgent = "trade_go/1.0"
)

// Config holds every application setting.
// After LoadConfig parses the file, secrets are overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Bot struct {
		APIURL  string `yaml:"api_url"`
		SteamID string `yaml:"steam_id"`
		Token   string `yaml:"token"`
	} `yaml:"bot"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	PriceFeed struct {
		WSURL string `yaml:"ws_url"`
	} `yaml:"pricefeed"`

	Listings struct {
		APIURL string `yaml:"api_url"`
		Token  string `yaml:"token"`
	} `yaml:"listings"`

	Bans struct {
		BackpackAPIKey    string `yaml:"backpack_api_key"`
		MarketplaceAPIKey string `yaml:"marketplace_api_key"`
		TimeoutSec        int    `yaml:"timeout_sec"`
		Sites             struct {
			Backpack    bool `yaml:"backpack"`
			SteamRep    bool `yaml:"steamrep"`
			Autobot     bool `yaml:"autobot"`
			Marketplace bool `yaml:"marketplace"`
		} `yaml:"sites"`
		URLs map[string]string `yaml:"urls"` // Optional per-site base URL override
	} `yaml:"bans"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Inventory struct {
		MaxStock int `yaml:"max_stock"`
	} `yaml:"inventory"`

	Autokeys struct {
		Enabled              bool            `yaml:"enabled"`
		MinKeys              int             `yaml:"min_keys"`
		MaxKeys              int             `yaml:"max_keys"`
		MinRef               decimal.Decimal `yaml:"min_ref"`
		MaxRef               decimal.Decimal `yaml:"max_ref"`
		RecomputeIntervalSec int             `yaml:"recompute_interval_sec"`
	} `yaml:"autokeys"`

	Pricing struct {
		PurchaseHistoryMaxAgeDays int `yaml:"purchase_history_max_age_days"`
		PruneIntervalSec          int `yaml:"prune_interval_sec"`
	} `yaml:"pricing"`

	Queue struct {
		ConfirmationTimeoutSec int `yaml:"confirmation_timeout_sec"` // 0 disables the watchdog
	} `yaml:"queue"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Bot.APIURL, "http://") && !hasPrefix(c.Bot.APIURL, "https://") {
		return &domain.ConfigError{Field: "bot.api_url", Err: fmt.Errorf("invalid URL %q", c.Bot.APIURL)}
	}
	if c.NATS.URL == "" {
		return &domain.ConfigError{Field: "nats.url", Err: errors.New("required")}
	}
	if c.PriceFeed.WSURL != "" && !hasPrefix(c.PriceFeed.WSURL, "ws://") && !hasPrefix(c.PriceFeed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "pricefeed.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.PriceFeed.WSURL)}
	}
	if c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required")}
	}

	ak := c.Autokeys
	if ak.Enabled {
		if ak.MinKeys < 0 || ak.MaxKeys < ak.MinKeys {
			return &domain.ConfigError{Field: "autokeys.max_keys", Err: errors.New("must be >= min_keys >= 0")}
		}
		if ak.MinRef.IsNegative() || ak.MaxRef.LessThan(ak.MinRef) {
			return &domain.ConfigError{Field: "autokeys.max_ref", Err: errors.New("must be >= min_ref >= 0")}
		}
	}
	if c.Queue.ConfirmationTimeoutSec < 0 {
		return &domain.ConfigError{Field: "queue.confirmation_timeout_sec", Err: errors.New("must not be negative")}
	}

	return nil
}

// SubjectPrefix returns the NATS subject prefix, "tradebot" when unset.
func (c *Config) SubjectPrefix() string {
	if p := strings.TrimSuffix(c.NATS.SubjectPrefix, "."); p != "" {
		return p
	}
	return "tradebot"
}

// RecomputeInterval is the period of the background rebalancing trigger.
func (c *Config) RecomputeInterval() time.Duration {
	return secondsOr(c.Autokeys.RecomputeIntervalSec, 5*time.Minute)
}

// PruneInterval is the period of the purchase history pruning trigger.
func (c *Config) PruneInterval() time.Duration {
	return secondsOr(c.Pricing.PruneIntervalSec, time.Hour)
}

// PurchaseHistoryMaxAge bounds how long a purchase price is honoured.
func (c *Config) PurchaseHistoryMaxAge() time.Duration {
	days := c.Pricing.PurchaseHistoryMaxAgeDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// ConfirmationTimeout is zero when the watchdog is disabled.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Queue.ConfirmationTimeoutSec) * time.Second
}

func secondsOr(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces secrets with environment values when present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TRADEBOT_BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("TRADEBOT_LISTINGS_TOKEN"); v != "" {
		cfg.Listings.Token = v
	}
	if v := os.Getenv("TRADEBOT_BPTF_API_KEY"); v != "" {
		cfg.Bans.BackpackAPIKey = v
	}
	if v := os.Getenv("TRADEBOT_MPTF_API_KEY"); v != "" {
		cfg.Bans.MarketplaceAPIKey = v
	}
	if v := os.Getenv("TRADEBOT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
}
