// Package relay forwards captcha screenshots to a chat webhook so that a
// person can solve the challenge in the open browser.
//
// The request body is Discord-compatible multipart: a payload_json field
// holding {"content": "..."} and the PNG as the file part. Slack-style
// endpoints that only read the JSON still receive the message text.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/events"
	"github.com/jmylchreest/autobrowse/pkg/retry"
)

// ErrInvalidURL is returned by NewWebhook for anything but an absolute
// http or https URL.
var ErrInvalidURL = errors.New("invalid webhook url")

var metricAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autobrowse",
	Name:      "relay_alerts_total",
	Help:      "Captcha alerts sent to the webhook by result.",
}, []string{"result"})

// Alert is one captcha that needs a human.
type Alert struct {
	ID          string
	SessionID   string
	URL         string
	CaptchaType string
	Selector    string
	Time        time.Time
	// Image is a PNG screenshot. It may be empty when capture failed.
	Image []byte
}

// Source is the part of a session the relay watches.
type Source interface {
	ID() string
	Events() (<-chan events.Event, func())
	Capture(ctx context.Context, fullPage bool) ([]byte, error)
}

// Webhook posts alerts to one URL.
type Webhook struct {
	url      string
	client   *http.Client
	policy   retry.Policy
	cooldown time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(w *Webhook) {
		w.client = c
	}
}

// WithRetry sets the delivery retry policy.
func WithRetry(p retry.Policy) Option {
	return func(w *Webhook) {
		w.policy = p
	}
}

// WithCooldown suppresses repeat alerts for the same page and captcha
// type within d. Zero sends every alert.
func WithCooldown(d time.Duration) Option {
	return func(w *Webhook) {
		w.cooldown = d
	}
}

// NewWebhook validates rawURL and returns a relay for it.
func NewWebhook(rawURL string, opts ...Option) (*Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	w := &Webhook{
		url:      u.String(),
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   retry.DefaultPolicy(),
		cooldown: time.Minute,
		sent:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Send delivers a under the retry policy. A missing ID or Time is filled in.
func (w *Webhook) Send(ctx context.Context, a Alert) error {
	if a.ID == "" {
		a.ID = "captcha-" + uuid.NewString()[:8]
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	_, err := retry.Do(ctx, w.policy, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, w.post(ctx, a)
	})
	if err != nil {
		metricAlerts.WithLabelValues("failure").Inc()
		return err
	}
	metricAlerts.WithLabelValues("success").Inc()
	logger.Info("captcha alert sent", "id", a.ID, "url", a.URL, "type", a.CaptchaType)
	return nil
}

func (w *Webhook) post(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(map[string]string{"content": Message(a)})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("payload_json", string(payload)); err != nil {
		return fmt.Errorf("failed to write payload field: %w", err)
	}
	if len(a.Image) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s.png"`, a.ID))
		h.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create image part: %w", err)
		}
		if _, err := part.Write(a.Image); err != nil {
			return fmt.Errorf("failed to write image part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var instructions = map[string]string{
	detect.CaptchaRecaptcha:  "Tick \"I'm not a robot\" or select the matching images.",
	detect.CaptchaHCaptcha:   "Select all matching images.",
	detect.CaptchaCloudflare: "Complete the Cloudflare check.",
	detect.CaptchaTurnstile:  "Complete the Turnstile check.",
}

// Message renders the alert text.
func Message(a Alert) string {
	kind := a.CaptchaType
	if kind == "" {
		kind = detect.CaptchaGeneric
	}
	instruction, ok := instructions[kind]
	if !ok {
		instruction = "Solve the captcha shown."
	}

	var sb strings.Builder
	sb.WriteString("**Captcha needs solving**\n")
	fmt.Fprintf(&sb, "**ID:** `%s`\n", a.ID)
	fmt.Fprintf(&sb, "**Type:** %s\n", strings.ToUpper(kind))
	if a.URL != "" {
		fmt.Fprintf(&sb, "**Page:** %s\n", a.URL)
	}
	if a.SessionID != "" {
		fmt.Fprintf(&sb, "**Session:** %s\n", a.SessionID)
	}
	fmt.Fprintf(&sb, "\n%s", instruction)
	return sb.String()
}

// Watch relays every captcha event of src until stop is called or the
// session closes. Each alert carries a fresh screenshot; timeout bounds
// capture plus delivery.
func (w *Webhook) Watch(src Source, timeout time.Duration) (stop func()) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	ch, unsubscribe := src.Events()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type != events.CaptchaDetected {
				continue
			}
			w.relay(src, ev, timeout)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func (w *Webhook) relay(src Source, ev events.Event, timeout time.Duration) {
	if !w.claim(ev.URL+"|"+ev.Captcha.Type, ev.Time) {
		logger.Debug("captcha alert suppressed", "url", ev.URL, "type", ev.Captcha.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	image, err := src.Capture(ctx, false)
	if err != nil {
		logger.Warn("captcha screenshot failed, sending text only", "session", src.ID(), "error", err)
	}
	alert := Alert{
		SessionID:   src.ID(),
		URL:         ev.URL,
		CaptchaType: ev.Captcha.Type,
		Selector:    ev.Captcha.Selector,
		Time:        ev.Time,
		Image:       image,
	}
	if err := w.Send(ctx, alert); err != nil {
		logger.Error("captcha alert failed", "session", src.ID(), "url", ev.URL, "error", err)
	}
}

// claim reports whether an alert for key may be sent at t and records it.
func (w *Webhook) claim(key string, t time.Time) bool {
	if w.cooldown <= 0 {
		return true
	}
	if t.IsZero() {
		t = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.sent[key]; ok && t.Sub(last) < w.cooldown {
		return false
	}
	w.sent[key] = t
	return true
}
