package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/events"
	"github.com/jmylchreest/autobrowse/pkg/retry"
	"github.com/jmylchreest/autobrowse/pkg/session"
)

var _ Source = (*session.Session)(nil)

// received is one request seen by the test webhook.
type received struct {
	content  string
	filename string
	mimeType string
	image    []byte
}

type hook struct {
	mu       sync.Mutex
	requests []received
	status   []int
	got      chan struct{}
}

func newHook(t *testing.T, status ...int) (*hook, *httptest.Server) {
	t.Helper()
	h := &hook{status: status, got: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		code := http.StatusNoContent
		if len(h.status) > 0 {
			code, h.status = h.status[0], h.status[1:]
		}
		h.mu.Unlock()
		if code >= 300 {
			http.Error(w, "try later", code)
			return
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("payload_json")), &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec := received{content: payload.Content}
		if f, fh, err := r.FormFile("file"); err == nil {
			rec.filename = fh.Filename
			rec.mimeType = fh.Header.Get("Content-Type")
			rec.image, _ = io.ReadAll(f)
			_ = f.Close()
		}

		h.mu.Lock()
		h.requests = append(h.requests, rec)
		h.mu.Unlock()
		w.WriteHeader(code)
		h.got <- struct{}{}
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *hook) all() []received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.requests...)
}

func fastRetry(n int) retry.Policy {
	return retry.Policy{MaxRetries: n, BaseDelay: time.Millisecond, BackoffFactor: 1}
}

func TestNewWebhook_RejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "discord.com/api/webhooks/1", "ftp://host/x", "https://", "::"} {
		_, err := NewWebhook(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
	_, err := NewWebhook(" https://discord.com/api/webhooks/1/abc ")
	assert.NoError(t, err)
}

func TestSend_MultipartWithImage(t *testing.T) {
	h, srv := newHook(t)
	w, err := NewWebhook(srv.URL, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	err = w.Send(context.Background(), Alert{
		ID:          "captcha-1",
		SessionID:   "s-1",
		URL:         "https://shop.example.com/checkout",
		CaptchaType: detect.CaptchaHCaptcha,
		Image:       []byte("\x89PNG data"),
	})
	require.NoError(t, err)

	reqs := h.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "captcha-1.png", reqs[0].filename)
	assert.Equal(t, "image/png", reqs[0].mimeType)
	assert.Equal(t, []byte("\x89PNG data"), reqs[0].image)
	assert.Contains(t, reqs[0].content, "`captcha-1`")
	assert.Contains(t, reqs[0].content, "HCAPTCHA")
	assert.Contains(t, reqs[0].content, "https://shop.example.com/checkout")
	assert.Contains(t, reqs[0].content, "Select all matching images.")
}

func TestSend_RetriesServerErrors(t *testing.T) {
	h, srv := newHook(t, http.StatusBadGateway, http.StatusTooManyRequests, http.StatusOK)
	w, err := NewWebhook(srv.URL, WithRetry(fastRetry(3)))
	require.NoError(t, err)

	require.NoError(t, w.Send(context.Background(), Alert{URL: "https://a.test"}))
	reqs := h.all()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].image, "no image part without a screenshot")
	assert.Contains(t, reqs[0].content, "`captcha-")
}

func TestSend_GivesUp(t *testing.T) {
	_, srv := newHook(t, http.StatusInternalServerError, http.StatusInternalServerError)
	w, err := NewWebhook(srv.URL, WithRetry(fastRetry(2)))
	require.NoError(t, err)

	err = w.Send(context.Background(), Alert{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestMessage_GenericFallback(t *testing.T) {
	msg := Message(Alert{ID: "x"})
	assert.Contains(t, msg, "GENERIC")
	assert.Contains(t, msg, "Solve the captcha shown.")
	assert.NotContains(t, msg, "**Page:**")
}

type fakeSource struct {
	id    string
	bus   *events.Bus
	image []byte
	err   error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Events() (<-chan events.Event, func()) { return f.bus.Subscribe() }

func (f *fakeSource) Capture(context.Context, bool) ([]byte, error) { return f.image, f.err }

func waitFor(t *testing.T, h *hook, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("webhook received %d of %d alerts", i, n)
		}
	}
}

func TestWatch_RelaysCaptchaEvents(t *testing.T) {
	h, srv := newHook(t)
	w, err := NewWebhook(srv.URL, WithRetry(fastRetry(1)), WithCooldown(time.Minute))
	require.NoError(t, err)

	src := &fakeSource{id: "sess-1", bus: events.NewBus(8), image: []byte("png")}
	stop := w.Watch(src, time.Second)

	now := time.Now()
	captcha := detect.CaptchaInfo{Detected: true, Type: detect.CaptchaRecaptcha, Selector: ".g-recaptcha"}
	src.bus.Publish(events.Event{Type: events.PageLoaded, SessionID: "sess-1", URL: "https://a.test/"})
	src.bus.Publish(events.Event{Type: events.CaptchaDetected, SessionID: "sess-1", URL: "https://a.test/", Captcha: captcha, Time: now})
	src.bus.Publish(events.Event{Type: events.CaptchaDetected, SessionID: "sess-1", URL: "https://a.test/", Captcha: captcha, Time: now.Add(time.Second)})
	src.bus.Publish(events.Event{Type: events.CaptchaDetected, SessionID: "sess-1", URL: "https://b.test/", Captcha: captcha, Time: now.Add(2 * time.Second)})

	waitFor(t, h, 2)
	src.bus.Close()
	stop()
	stop()

	reqs := h.all()
	require.Len(t, reqs, 2, "repeat alert for the same page is suppressed")
	assert.Contains(t, reqs[0].content, "https://a.test/")
	assert.Contains(t, reqs[0].content, "sess-1")
	assert.Equal(t, []byte("png"), reqs[0].image)
	assert.Contains(t, reqs[1].content, "https://b.test/")
}

func TestWatch_SendsTextWhenCaptureFails(t *testing.T) {
	h, srv := newHook(t)
	w, err := NewWebhook(srv.URL, WithRetry(fastRetry(1)), WithCooldown(0))
	require.NoError(t, err)

	src := &fakeSource{id: "sess-2", bus: events.NewBus(4), err: errors.New("target closed")}
	stop := w.Watch(src, time.Second)
	defer stop()

	src.bus.Publish(events.Event{Type: events.CaptchaDetected, URL: "https://c.test/", Captcha: detect.CaptchaInfo{Detected: true, Type: detect.CaptchaTurnstile}})
	waitFor(t, h, 1)

	reqs := h.all()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].image)
	assert.Contains(t, reqs[0].content, "Turnstile")
}
