package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

// openResult is the record printed by the open command.
type openResult struct {
	session.State `yaml:",inline"`
	SessionID     string `json:"session_id" yaml:"session_id"`
	Matched       string `json:"matched,omitempty" yaml:"matched,omitempty"`
	Screenshot    string `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	SavedProfile  string `json:"saved_profile,omitempty" yaml:"saved_profile,omitempty"`
}

func (r openResult) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", r.URL)
	fmt.Fprintf(&sb, "  Title:   %s\n", r.Title)
	fmt.Fprintf(&sb, "  Ready:   %s\n", r.ReadyState)
	if flags := r.Issues.Flags(); len(flags) > 0 {
		fmt.Fprintf(&sb, "  Issues:  %s\n", strings.Join(flags, ", "))
	} else {
		sb.WriteString("  Issues:  none\n")
	}
	if r.Issues.CaptchaType != "" {
		fmt.Fprintf(&sb, "  Captcha: %s\n", r.Issues.CaptchaType)
	}
	if r.Matched != "" {
		fmt.Fprintf(&sb, "  Matched: %s\n", r.Matched)
	}
	if r.Screenshot != "" {
		fmt.Fprintf(&sb, "  Shot:    %s\n", r.Screenshot)
	}
	if r.SavedProfile != "" {
		fmt.Fprintf(&sb, "  Saved:   %s\n", r.SavedProfile)
	}
	return sb.String()
}

var openCmd = &cobra.Command{
	Use:   "open URL",
	Short: "Open a page in a stealth session and report its state",
	Long: `Launch a browser session, navigate to URL with retries, wait for the
page to settle and print its URL, title, ready state and detected issues.

Examples:
  autobrowse open https://example.com
  autobrowse open https://example.com/app --auth work --wait-for "#dashboard" --wait-text "Welcome"
  autobrowse open https://example.com --headless=false --linger 30s --save-auth example`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)

	flags := openCmd.Flags()
	flags.String("auth", "", "auth profile to restore")
	flags.String("save-auth", "", "save the session's auth state under this profile before closing")
	flags.Int("retries", 0, "navigation attempts (default from config)")
	flags.Duration("timeout", 0, "total navigation budget (default from config)")
	flags.StringSlice("wait-for", nil, "CSS or XPath selectors to wait for (any)")
	flags.StringSlice("wait-text", nil, "page text to wait for (any)")
	flags.StringSlice("wait-url", nil, "URL substrings to wait for (any)")
	flags.Bool("screenshot", false, "save a screenshot after loading")
	flags.Bool("full-page", false, "capture the full scrollable page")
	flags.Duration("linger", 0, "keep the session open, idling like a user, before closing")
	flags.String("locale", "", "override the fingerprint locale, e.g. de-DE")
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	target := args[0]
	flags := cmd.Flags()
	auth, _ := flags.GetString("auth")
	saveAs, _ := flags.GetString("save-auth")
	locale, _ := flags.GetString("locale")

	w, err := newWriter(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	store, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	client, err := newClient(store)
	if err != nil {
		return err
	}

	s, err := client.Launch(ctx, session.LaunchOptions{
		Auth:    auth,
		Context: driver.ContextOptions{Locale: locale},
		OnCaptcha: func(_ driver.Page, info detect.CaptchaInfo) {
			logger.Warn("captcha on page", "type", info.Type, "selector", info.Selector)
		},
	})
	if err != nil {
		logError("%v", err)
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		if err := s.Close(closeCtx); err != nil {
			logger.Warn("session close reported errors", "error", err)
		}
	}()
	defer watchCaptchas(captchaRelay(), s)()

	retries, _ := flags.GetInt("retries")
	timeout, _ := flags.GetDuration("timeout")
	if err := s.Goto(ctx, target, session.GotoOptions{Retries: retries, Timeout: timeout}); err != nil {
		logError("%v", err)
		return err
	}

	res := openResult{SessionID: s.ID()}
	if conds := waitConditions(flags); len(conds) > 0 {
		wr := s.WaitForAny(ctx, conds, session.WaitOptions{})
		if wr.Matched {
			res.Matched = wr.Condition.String()
		} else {
			logger.Warn("no wait condition matched", "elapsed", wr.Elapsed)
		}
	}

	if shot, _ := flags.GetBool("screenshot"); shot {
		full, _ := flags.GetBool("full-page")
		res.Screenshot = s.Screenshot(ctx, hostLabel(target), session.ScreenshotOptions{FullPage: full})
	}

	if linger, _ := flags.GetDuration("linger"); linger > 0 {
		if err := s.Idle(ctx, linger); err != nil && ctx.Err() == nil {
			logger.Debug("idle interrupted", "error", err)
		}
	}

	res.State = s.State(ctx)

	if saveAs != "" {
		if err := s.SaveAuthState(ctx, saveAs); err != nil {
			logError("failed to save auth state: %v", err)
			return err
		}
		res.SavedProfile = saveAs
	}

	return w.Write(res)
}

func waitConditions(flags *pflag.FlagSet) []session.Condition {
	var conds []session.Condition
	sels, _ := flags.GetStringSlice("wait-for")
	for _, sel := range sels {
		conds = append(conds, session.Selector(sel))
	}
	texts, _ := flags.GetStringSlice("wait-text")
	for _, t := range texts {
		conds = append(conds, session.TextContains(t))
	}
	urls, _ := flags.GetStringSlice("wait-url")
	for _, u := range urls {
		conds = append(conds, session.URLContains(u))
	}
	return conds
}

// hostLabel turns a URL into a screenshot label.
func hostLabel(rawURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "page"
	}
	return s
}
