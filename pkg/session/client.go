// Package session is the browser automation facade: launching a stealthy,
// optionally authenticated browser and driving it with retried navigation,
// multi-selector element lookup, composite waits and issue detection.
package session

import (
	"github.com/jmylchreest/autobrowse/pkg/driver/cdp"
)

// Client launches sessions with an immutable configuration. Derive a
// client with different settings with With.
type Client struct {
	config Config
}

// New creates a client from DefaultConfig plus opts.
func New(opts ...Option) (*Client, error) {
	return build(DefaultConfig(), opts)
}

func build(cfg Config, opts []Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Launcher == nil {
		cfg.Launcher = cdp.Launch
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{config: cfg}, nil
}

// With returns a new client whose configuration is this client's with opts
// applied. The receiver is unchanged.
func (c *Client) With(opts ...Option) (*Client, error) {
	return build(c.config, opts)
}

// Config returns a copy of the configuration.
func (c *Client) Config() Config {
	return c.config
}
