package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/human"
	"github.com/jmylchreest/autobrowse/pkg/retry"
)

// Timeouts are the budget tiers used by session operations.
type Timeouts struct {
	Short     time.Duration `mapstructure:"short" yaml:"short" json:"short" validate:"gt=0"`
	Medium    time.Duration `mapstructure:"medium" yaml:"medium" json:"medium" validate:"gtefield=Short"`
	Long      time.Duration `mapstructure:"long" yaml:"long" json:"long" validate:"gtefield=Medium"`
	ExtraLong time.Duration `mapstructure:"extra_long" yaml:"extra_long" json:"extra_long" validate:"gtefield=Long"`
}

// Config holds all session configuration. A Client holds one Config value
// and never mutates it.
type Config struct {
	Headless bool   `mapstructure:"headless" yaml:"headless" json:"headless"`
	Channel  string `mapstructure:"channel" yaml:"channel" json:"channel,omitempty" validate:"omitempty,oneof=chrome chromium msedge"`

	Timeouts Timeouts     `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Retry    retry.Policy `mapstructure:"retry" yaml:"retry" json:"retry"`
	Human    human.Config `mapstructure:"human" yaml:"human" json:"human"`

	Stealth       bool `mapstructure:"stealth" yaml:"stealth" json:"stealth"`
	BlockTrackers bool `mapstructure:"block_trackers" yaml:"block_trackers" json:"block_trackers"`

	// Proxy routes all browser traffic. "tor" is shorthand for TorProxy.
	Proxy string `mapstructure:"proxy" yaml:"proxy" json:"proxy,omitempty"`

	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir" json:"screenshot_dir"`
	Verbose       bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// SettleDelay is slept at the end of WaitForReady.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay" json:"settle_delay" validate:"gte=0"`
	// PollInterval is the default tick of FindElement and WaitForAny.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval" validate:"gt=0"`
	// AuthMaxAge is how old a saved auth profile may be before it is ignored.
	// Zero disables the check.
	AuthMaxAge time.Duration `mapstructure:"auth_max_age" yaml:"auth_max_age" json:"auth_max_age" validate:"gte=0"`

	// Launcher starts browsers. Defaults to the chromedp driver.
	Launcher driver.Launcher `mapstructure:"-" yaml:"-" json:"-"`
	// Store persists auth profiles. Optional.
	Store authstore.Store `mapstructure:"-" yaml:"-" json:"-"`
}

// TorProxy is the SOCKS endpoint of a local Tor daemon.
const TorProxy = "socks5://127.0.0.1:9050"

// resolveProxy expands the "tor" shorthand.
func resolveProxy(p string) string {
	if strings.EqualFold(strings.TrimSpace(p), "tor") {
		return TorProxy
	}
	return strings.TrimSpace(p)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless: true,
		Timeouts: Timeouts{
			Short:     5 * time.Second,
			Medium:    15 * time.Second,
			Long:      30 * time.Second,
			ExtraLong: 60 * time.Second,
		},
		Retry:         retry.DefaultPolicy(),
		Human:         human.DefaultConfig(),
		Stealth:       true,
		ScreenshotDir: "screenshots",
		SettleDelay:   500 * time.Millisecond,
		PollInterval:  100 * time.Millisecond,
		AuthMaxAge:    30 * 24 * time.Hour,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Option configures a Client.
type Option func(*Config)

// WithConfig replaces the whole configuration. Later options still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithHeadless sets whether browsers start without a window.
func WithHeadless(headless bool) Option {
	return func(c *Config) {
		c.Headless = headless
	}
}

// WithChannel selects the installed browser build.
func WithChannel(channel string) Option {
	return func(c *Config) {
		c.Channel = channel
	}
}

// WithTimeouts sets the timeout tiers.
func WithTimeouts(t Timeouts) Option {
	return func(c *Config) {
		c.Timeouts = t
	}
}

// WithRetry sets the retry policy for goto, click and type.
func WithRetry(p retry.Policy) Option {
	return func(c *Config) {
		c.Retry = p
	}
}

// WithHuman sets the human simulation timings.
func WithHuman(h human.Config) Option {
	return func(c *Config) {
		c.Human = h
	}
}

// WithStealth toggles fingerprint masking.
func WithStealth(on bool) Option {
	return func(c *Config) {
		c.Stealth = on
	}
}

// WithBlockTrackers toggles the ad and tracker request filter.
func WithBlockTrackers(on bool) Option {
	return func(c *Config) {
		c.BlockTrackers = on
	}
}

// WithProxy routes browser traffic through proxy.
func WithProxy(proxy string) Option {
	return func(c *Config) {
		c.Proxy = proxy
	}
}

// WithScreenshotDir sets where screenshots are written.
func WithScreenshotDir(dir string) Option {
	return func(c *Config) {
		c.ScreenshotDir = dir
	}
}

// WithVerbose enables debug logging in the CLI.
func WithVerbose(v bool) Option {
	return func(c *Config) {
		c.Verbose = v
	}
}

// WithSettleDelay sets the pause at the end of WaitForReady.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithPollInterval sets the default polling tick.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithAuthMaxAge sets the auth profile freshness threshold.
func WithAuthMaxAge(d time.Duration) Option {
	return func(c *Config) {
		c.AuthMaxAge = d
	}
}

// WithLauncher injects a browser launcher.
func WithLauncher(l driver.Launcher) Option {
	return func(c *Config) {
		c.Launcher = l
	}
}

// WithStore sets the auth profile store.
func WithStore(s authstore.Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}
