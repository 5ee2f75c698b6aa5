package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

// profileInfo describes one saved auth profile.
type profileInfo struct {
	Name    string    `json:"name" yaml:"name"`
	SavedAt time.Time `json:"saved_at" yaml:"saved_at"`
	Cookies int       `json:"cookies" yaml:"cookies"`
	Live    int       `json:"live_cookies" yaml:"live_cookies"`
	Origins int       `json:"origins" yaml:"origins"`
	Fresh   bool      `json:"fresh" yaml:"fresh"`
}

func (p profileInfo) Text() string {
	state := "fresh"
	if !p.Fresh {
		state = "stale"
	}
	return fmt.Sprintf("%-20s saved %-16s %d/%d cookies live, %d origins, %s",
		p.Name, humanize.Time(p.SavedAt), p.Live, p.Cookies, p.Origins, state)
}

func describeProfile(name string, st *authstore.State, maxAge time.Duration, now time.Time) profileInfo {
	return profileInfo{
		Name:    name,
		SavedAt: st.SavedAt,
		Cookies: len(st.Cookies),
		Live:    len(st.LiveCookies(now)),
		Origins: len(st.Origins),
		Fresh:   st.Fresh(maxAge, now),
	}
}

// Common login inputs, tried in order when no selectors are given.
var (
	defaultUsernameFields = []string{
		`input[autocomplete="username"]`,
		`input[type="email"]`,
		`input[name="username"]`,
		`input[name="email"]`,
		`input[name="login"]`,
		"#username",
		"#email",
	}
	defaultPasswordFields = []string{
		`input[autocomplete="current-password"]`,
		`input[type="password"]`,
	}
)

// credentialSetter is implemented by both bundled stores.
type credentialSetter interface {
	SetCredentials(ctx context.Context, service string, c authstore.Credentials) error
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage saved login profiles and credentials",
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved auth profiles",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

var authCheckCmd = &cobra.Command{
	Use:   "check PROFILE",
	Short: "Exit non-zero unless PROFILE exists and is younger than auth_max_age",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthCheck,
}

var authLoginCmd = &cobra.Command{
	Use:   "login SERVICE",
	Short: "Log in with stored credentials and save the session as a profile",
	Long: `Open the login page, fill the username and password fields from the
credentials stored for SERVICE, wait for a success marker and save the
cookies and localStorage under the profile name (SERVICE by default).

Without --success-url or --success-selector the command waits for the
page to navigate away from the login URL.

Examples:
  autobrowse auth set-credentials github --username me --password-stdin < pw.txt
  autobrowse auth login github --url https://github.com/login --success-url github.com/ --headless=false`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var authSetCredentialsCmd = &cobra.Command{
	Use:   "set-credentials SERVICE",
	Short: "Store login credentials for SERVICE",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSetCredentials,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authListCmd, authCheckCmd, authLoginCmd, authSetCredentialsCmd)

	lf := authLoginCmd.Flags()
	lf.String("url", "", "login page URL (required)")
	lf.String("profile", "", "profile name to save (default SERVICE)")
	lf.StringSlice("username-field", nil, "selectors for the username input")
	lf.StringSlice("password-field", nil, "selectors for the password input")
	lf.StringSlice("submit", nil, "selectors for the submit button (default: press Enter)")
	lf.StringSlice("success-url", nil, "URL substrings that mark a successful login")
	lf.StringSlice("success-selector", nil, "selectors that mark a successful login")
	lf.Duration("wait", 2*time.Minute, "how long to wait for a success marker")
	_ = authLoginCmd.MarkFlagRequired("url")

	cf := authSetCredentialsCmd.Flags()
	cf.String("username", "", "login username")
	cf.String("email", "", "login email")
	cf.String("password", "", "login password")
	cf.Bool("password-stdin", false, "read the password from stdin")
}

func runAuthList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	lister, ok := store.(authstore.Lister)
	if !ok {
		return fmt.Errorf("store %q cannot list profiles", appConfig.Store.Driver)
	}
	names, err := lister.Profiles(ctx)
	if err != nil {
		return err
	}

	w, err := newWriter(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	now := time.Now()
	for _, name := range names {
		st, err := store.Load(ctx, name)
		if err != nil {
			logger.Warn("skipping unreadable profile", "profile", name, "error", err)
			continue
		}
		if st == nil {
			continue
		}
		if err := w.Write(describeProfile(name, st, appConfig.Session.AuthMaxAge, now)); err != nil {
			return err
		}
	}
	return nil
}

func runAuthCheck(cmd *cobra.Command, args []string) error {
	store, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	name := args[0]
	st, err := store.Load(cmd.Context(), name)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	info := describeProfile(name, st, appConfig.Session.AuthMaxAge, time.Now())

	w, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if err := w.Write(info); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if !info.Fresh {
		return fmt.Errorf("profile %q is stale (saved %s)", name, humanize.Time(st.SavedAt))
	}
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	service := args[0]
	flags := cmd.Flags()
	loginURL, _ := flags.GetString("url")
	profile, _ := flags.GetString("profile")
	if profile == "" {
		profile = service
	}
	if err := authstore.ValidateName(profile); err != nil {
		return err
	}

	var fields session.LoginFields
	fields.Username, _ = flags.GetStringSlice("username-field")
	fields.Password, _ = flags.GetStringSlice("password-field")
	fields.Submit, _ = flags.GetStringSlice("submit")
	if len(fields.Username) == 0 {
		fields.Username = defaultUsernameFields
	}
	if len(fields.Password) == 0 {
		fields.Password = defaultPasswordFields
	}

	store, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	client, err := newClient(store)
	if err != nil {
		return err
	}
	s, err := client.Launch(ctx, session.LaunchOptions{Profile: profile})
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

	if err := s.Goto(ctx, loginURL, session.GotoOptions{}); err != nil {
		logError("%v", err)
		return err
	}
	if !s.AutoFillLogin(ctx, service, fields) {
		s.Screenshot(ctx, "login_failed_"+service, session.ScreenshotOptions{})
		return fmt.Errorf("could not fill the login form for %q", service)
	}

	var conds []session.Condition
	urls, _ := flags.GetStringSlice("success-url")
	for _, u := range urls {
		conds = append(conds, session.URLContains(u))
	}
	sels, _ := flags.GetStringSlice("success-selector")
	for _, sel := range sels {
		conds = append(conds, session.Selector(sel))
	}
	if len(conds) == 0 {
		conds = append(conds, session.Predicate("left login page", func(ctx context.Context, p driver.Page) (bool, error) {
			u, err := p.URL(ctx)
			return err == nil && u != "" && u != loginURL, err
		}))
	}

	wait, _ := flags.GetDuration("wait")
	res := s.WaitForAny(ctx, conds, session.WaitOptions{Timeout: wait})
	if !res.Matched {
		s.Screenshot(ctx, "login_timeout_"+service, session.ScreenshotOptions{})
		return fmt.Errorf("login for %q not confirmed after %s", service, wait)
	}
	if issues := s.DetectIssues(ctx); issues.Captcha {
		return errors.New("login page is showing a captcha; retry with --headless=false and solve it")
	}

	if err := s.SaveAuthState(ctx, profile); err != nil {
		return err
	}
	logger.Info("login saved", "service", service, "profile", profile, "matched", res.Condition.String())
	return nil
}

func runAuthSetCredentials(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var creds authstore.Credentials
	creds.Username, _ = flags.GetString("username")
	creds.Email, _ = flags.GetString("email")
	creds.Password, _ = flags.GetString("password")
	if fromStdin, _ := flags.GetBool("password-stdin"); fromStdin {
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		creds.Password = pw
	}
	if creds.Login() == "" || creds.Password == "" {
		return errors.New("a username or email and a password are required")
	}

	store, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	setter, ok := store.(credentialSetter)
	if !ok {
		return fmt.Errorf("store %q cannot save credentials", appConfig.Store.Driver)
	}
	if err := setter.SetCredentials(cmd.Context(), args[0], creds); err != nil {
		return err
	}
	logger.Info("credentials saved", "service", args[0], "login", creds.Login())
	return nil
}

// readPassword reads the first line of stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
