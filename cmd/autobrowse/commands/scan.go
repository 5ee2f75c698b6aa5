package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/relay"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

// scanResult is one line of scan output.
type scanResult struct {
	URL        string        `json:"url" yaml:"url"`
	FinalURL   string        `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	Title      string        `json:"title,omitempty" yaml:"title,omitempty"`
	Issues     detect.Report `json:"issues" yaml:"issues"`
	Screenshot string        `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64         `json:"duration_ms" yaml:"duration_ms"`
}

func (r scanResult) Text() string {
	status := "ok"
	switch {
	case r.Error != "":
		status = "error: " + r.Error
	case r.Issues.Any():
		status = strings.Join(r.Issues.Flags(), ",")
	}
	return fmt.Sprintf("%-8s %s (%s) %s", humanize.FormatInteger("#,###.", int(r.DurationMs))+"ms", r.URL, r.Title, status)
}

var scanCmd = &cobra.Command{
	Use:   "scan [URL...]",
	Short: "Open many URLs concurrently and report blocks, captchas and errors",
	Long: `Launch one session per URL, navigate, and report the page title and
any detected issues. Sessions run concurrently up to --concurrency and
are started no faster than --rate per second.

Examples:
  autobrowse scan https://a.example https://b.example
  autobrowse scan -f urls.txt -c 4 --rate 1 -o jsonl
  autobrowse scan -f urls.txt --metrics-addr :9090 --screenshot-issues`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringP("file", "f", "", "read URLs from file, one per line ('-' for stdin)")
	flags.IntP("concurrency", "c", 2, "concurrent browser sessions")
	flags.Float64("rate", 1, "session starts per second (0 = unlimited)")
	flags.String("auth", "", "auth profile to restore in every session")
	flags.Bool("screenshot-issues", false, "screenshot pages with detected issues")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while probing")
	flags.Bool("fail-on-issues", false, "exit non-zero when any page has issues")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := cmd.Flags()
	urls := append([]string(nil), args...)
	if file, _ := flags.GetString("file"); file != "" {
		fromFile, err := readURLs(file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return cmd.Help()
	}

	concurrency, _ := flags.GetInt("concurrency")
	perSecond, _ := flags.GetFloat64("rate")
	auth, _ := flags.GetString("auth")
	shootIssues, _ := flags.GetBool("screenshot-issues")
	failOnIssues, _ := flags.GetBool("fail-on-issues")

	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		stop := serveMetrics(addr)
		defer stop()
	}

	w, err := newWriter(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	authStore, release, err := openStore()
	if err != nil {
		return err
	}
	defer release()

	client, err := newClient(authStore)
	if err != nil {
		return err
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	hook := captchaRelay()

	logger.Info("probing", "urls", len(urls), "concurrency", concurrency, "rate", perSecond)

	var withIssues atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, u := range urls {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			res := scanOne(gctx, client, hook, u, auth, shootIssues)
			if res.Error != "" || res.Issues.Any() {
				withIssues.Add(1)
			}
			return w.Write(res)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	n := withIssues.Load()
	logger.Info("scan finished", "urls", len(urls), "with_issues", n)
	if failOnIssues && n > 0 {
		return fmt.Errorf("%d of %d pages reported issues", n, len(urls))
	}
	return nil
}

func scanOne(ctx context.Context, client *session.Client, hook *relay.Webhook, url, auth string, shootIssues bool) scanResult {
	start := time.Now()
	res := scanResult{URL: url}

	s, err := client.Launch(ctx, session.LaunchOptions{Auth: auth, Profile: "scan"})
	if err != nil {
		res.Error = err.Error()
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		if err := s.Close(closeCtx); err != nil {
			logger.Debug("scan session close", "url", url, "error", err)
		}
	}()
	defer watchCaptchas(hook, s)()

	if err := s.Goto(ctx, url, session.GotoOptions{}); err != nil {
		res.Error = err.Error()
	}
	st := s.State(ctx)
	res.FinalURL, res.Title, res.Issues = st.URL, st.Title, st.Issues
	if shootIssues && res.Issues.Any() {
		res.Screenshot = s.Screenshot(ctx, "scan_"+hostLabel(url), session.ScreenshotOptions{})
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func readURLs(path string) ([]string, error) {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("failed to open URL list: %w", err)
		}
		defer func() { _ = f.Close() }()
	}

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

// serveMetrics exposes the default Prometheus registry until stop is called.
func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
