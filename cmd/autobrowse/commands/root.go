// Package commands implements the CLI commands for autobrowse.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/autobrowse/internal/config"
	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/internal/output"
	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/relay"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

// appConfig is loaded once per invocation by loadConfig.
var appConfig config.Config

var rootCmd = &cobra.Command{
	Use:   "autobrowse",
	Short: "Stealthy, human-like browser sessions from the command line",
	Long: `Autobrowse drives Chrome through the DevTools protocol with a
fingerprinted, stealth-patched context, human-like input and saved
login profiles.

Examples:
  # Open a page and print its state and detected issues
  autobrowse open https://example.com --screenshot

  # Log in once with a visible browser and keep the session
  autobrowse auth login github --url https://github.com/login --headless=false

  # Reuse the saved profile
  autobrowse open https://github.com/settings --auth github

  # Check many URLs for captchas and blocks
  autobrowse scan -c 4 --rate 2 https://a.example https://b.example`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.autobrowse.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.StringP("output", "o", "text", "output format: text, json, jsonl, yaml")

	flags.Bool("headless", true, "run the browser without a window")
	flags.String("channel", "", "browser build: chrome, chromium, msedge")
	flags.Bool("stealth", true, "apply fingerprint and automation masking")
	flags.Bool("block-trackers", false, "block known tracker and ad hosts")
	flags.String("screenshot-dir", "", "directory for screenshots")
	flags.Bool("human", true, "simulate human mouse and keyboard input")
	flags.String("store", "", "auth store driver: file, sqlite")
	flags.String("store-path", "", "auth store directory or database file")
	flags.String("proxy", "", `browser proxy, e.g. socks5://127.0.0.1:1080 or "tor"`)
	flags.String("captcha-webhook", "", "post captcha screenshots to this webhook URL")
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"headless":        "headless",
	"channel":         "channel",
	"stealth":         "stealth",
	"block-trackers":  "block_trackers",
	"screenshot-dir":  "screenshot_dir",
	"human":           "human.enabled",
	"store":           "store.driver",
	"store-path":      "store.path",
	"quiet":           "log.quiet",
	"proxy":           "proxy",
	"captcha-webhook": "relay.webhook",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	v := config.New(path)
	for flag, key := range flagKeys {
		// Unchanged flags must not mask file or env values.
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		logError("%v", err)
		return err
	}
	appConfig = cfg

	debug, _ := cmd.Flags().GetBool("debug")
	logger.Init(logger.Options{
		Debug: debug || cfg.Session.Verbose,
		Quiet: cfg.Log.Quiet,
		JSON:  cfg.Log.JSON,
	})
	logger.Debug("config loaded", "file", v.ConfigFileUsed(), "store", cfg.Store.Driver)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newClient builds a session client from the loaded configuration. store
// may be nil.
func newClient(store authstore.Store) (*session.Client, error) {
	opts := []session.Option{session.WithConfig(appConfig.Session)}
	if store != nil {
		opts = append(opts, session.WithStore(store))
	}
	return session.New(opts...)
}

// captchaRelay returns the configured webhook relay, or nil when none is
// set. One relay per command shares the repeat-alert cooldown.
func captchaRelay() *relay.Webhook {
	w, err := config.NewRelay(appConfig.Relay)
	if err != nil {
		logger.Warn("captcha relay disabled", "error", err)
		return nil
	}
	return w
}

// watchCaptchas relays s's captchas through w until the returned function
// is called. w may be nil.
func watchCaptchas(w *relay.Webhook, s *session.Session) func() {
	if w == nil {
		return func() {}
	}
	return w.Watch(s, appConfig.Relay.Timeout)
}

// openStore opens the configured auth store; release must be called.
func openStore() (authstore.Store, func(), error) {
	store, closeFn, err := config.OpenStore(appConfig.Store)
	if err != nil {
		return nil, func() {}, err
	}
	return store, func() {
		if err := closeFn(); err != nil {
			logger.Warn("failed to close auth store", "error", err)
		}
	}, nil
}

// newWriter creates the output writer selected by --output.
func newWriter(cmd *cobra.Command) (output.Writer, error) {
	name, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return output.New(cmd.OutOrStdout(), format)
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
