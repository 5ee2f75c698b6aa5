// Package config loads CLI configuration from .autobrowse.yaml and
// AUTOBROWSE_* environment variables on top of the library defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/relay"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

const (
	// EnvPrefix prefixes every environment variable, e.g.
	// AUTOBROWSE_TIMEOUTS_SHORT=10s.
	EnvPrefix = "AUTOBROWSE"
	// FileName is the config file name searched for in $HOME and the
	// working directory.
	FileName = ".autobrowse"
)

// Store drivers.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// StoreConfig selects the auth profile store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver" validate:"oneof=file sqlite"`
	// Path is the profile directory for the file store or the database
	// file for sqlite. Defaults to the user config directory.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	JSON  bool `mapstructure:"json" yaml:"json" json:"json"`
	Quiet bool `mapstructure:"quiet" yaml:"quiet" json:"quiet"`
}

// RelayConfig sends captcha screenshots to a chat webhook.
type RelayConfig struct {
	// Webhook is the endpoint URL. Empty disables the relay.
	Webhook string `mapstructure:"webhook" yaml:"webhook" json:"webhook,omitempty"`
	// Timeout bounds one screenshot plus delivery.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	// Cooldown suppresses repeat alerts for the same page.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown" json:"cooldown"`
}

// Config is the complete CLI configuration. Session settings sit at the
// top level of the file.
type Config struct {
	Session session.Config `mapstructure:",squash" yaml:",inline" json:"session"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store" json:"store"`
	Log     LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Relay   RelayConfig    `mapstructure:"relay" yaml:"relay" json:"relay"`
}

// New returns a viper instance with defaults, env binding and the config
// file search path set up. path overrides the search when non-empty.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v, session.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes and validates the
// result. A missing file is not an error; an explicitly named one is.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Session.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Store.Driver != StoreFile && cfg.Store.Driver != StoreSQLite {
		return Config{}, fmt.Errorf("%w: unknown store driver %q", session.ErrInvalidConfig, cfg.Store.Driver)
	}
	if _, err := NewRelay(cfg.Relay); err != nil {
		return Config{}, fmt.Errorf("%w: relay: %w", session.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d session.Config) {
	v.SetDefault("headless", d.Headless)
	v.SetDefault("channel", d.Channel)
	v.SetDefault("stealth", d.Stealth)
	v.SetDefault("block_trackers", d.BlockTrackers)
	v.SetDefault("proxy", d.Proxy)
	v.SetDefault("screenshot_dir", d.ScreenshotDir)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("auth_max_age", d.AuthMaxAge)

	v.SetDefault("timeouts.short", d.Timeouts.Short)
	v.SetDefault("timeouts.medium", d.Timeouts.Medium)
	v.SetDefault("timeouts.long", d.Timeouts.Long)
	v.SetDefault("timeouts.extra_long", d.Timeouts.ExtraLong)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.backoff_factor", d.Retry.BackoffFactor)

	v.SetDefault("human.enabled", d.Human.Enabled)
	v.SetDefault("human.mouse_steps", d.Human.MouseSteps)
	v.SetDefault("human.step_delay_min", d.Human.StepDelayMin)
	v.SetDefault("human.step_delay_max", d.Human.StepDelayMax)
	v.SetDefault("human.type_delay_min", d.Human.TypeDelayMin)
	v.SetDefault("human.type_delay_max", d.Human.TypeDelayMax)
	v.SetDefault("human.think_probability", d.Human.ThinkProbability)
	v.SetDefault("human.think_min", d.Human.ThinkMin)
	v.SetDefault("human.think_max", d.Human.ThinkMax)
	v.SetDefault("human.typo_probability", d.Human.TypoProbability)
	v.SetDefault("human.speed", d.Human.Speed)
	v.SetDefault("human.idle_max_actions", d.Human.IdleMaxActions)

	v.SetDefault("store.driver", StoreFile)
	v.SetDefault("store.path", "")
	v.SetDefault("log.json", false)
	v.SetDefault("log.quiet", false)
	v.SetDefault("relay.webhook", "")
	v.SetDefault("relay.timeout", time.Minute)
	v.SetDefault("relay.cooldown", time.Minute)
}

// NewRelay builds the captcha webhook relay. It returns nil, nil when no
// webhook is configured.
func NewRelay(c RelayConfig) (*relay.Webhook, error) {
	if c.Webhook == "" {
		return nil, nil
	}
	return relay.NewWebhook(c.Webhook, relay.WithCooldown(c.Cooldown))
}

// DefaultStoreDir is where profiles live when no path is configured.
func DefaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "autobrowse")
}

// OpenStore opens the configured auth store. The returned function
// releases it.
func OpenStore(c StoreConfig) (authstore.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Driver {
	case StoreSQLite:
		path := c.Path
		if path == "" {
			path = filepath.Join(DefaultStoreDir(), "profiles.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, noop, fmt.Errorf("failed to create store directory: %w", err)
		}
		s, err := authstore.NewSQLiteStore(path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case StoreFile, "":
		dir := c.Path
		if dir == "" {
			dir = filepath.Join(DefaultStoreDir(), "profiles")
		}
		s, err := authstore.NewFileStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}
