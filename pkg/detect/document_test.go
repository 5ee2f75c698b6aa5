package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCaptcha_Markup(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		provider string
		selector string
	}{
		{
			name:     "recaptcha iframe",
			html:     `<html><body><form><iframe src="https://www.google.com/recaptcha/api2/anchor?k=abc"></iframe></form></body></html>`,
			provider: CaptchaRecaptcha,
			selector: `iframe[src*="google.com/recaptcha"]`,
		},
		{
			name:     "hcaptcha widget",
			html:     `<html><body><div class="h-captcha" data-sitekey="x"></div></body></html>`,
			provider: CaptchaHCaptcha,
			selector: `.h-captcha`,
		},
		{
			name:     "cloudflare interstitial title",
			html:     `<html><head><title>Just a moment...</title></head><body></body></html>`,
			provider: CaptchaCloudflare,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectCaptcha(tt.html)
			assert.True(t, info.Detected)
			assert.Equal(t, tt.provider, info.Type)
			assert.Equal(t, tt.selector, info.Selector)
		})
	}
}

func TestDetectCaptcha_None(t *testing.T) {
	info := DetectCaptcha(`<html><body><h1>Hello</h1></body></html>`)
	assert.False(t, info.Detected)
}

func TestDetectDocument_IgnoresScriptText(t *testing.T) {
	html := `<html><body>
		<script>if (status === 429) { showBanner("too many requests"); }</script>
		<main><h1>Order history</h1><p>No orders yet.</p></main>
	</body></html>`

	report, captcha := DetectDocument("https://shop.example.com/orders", html)

	assert.False(t, report.RateLimit, "script contents must not count as page text")
	assert.False(t, captcha.Detected)
}

func TestDetectDocument_NavLoginLink(t *testing.T) {
	html := `<html><body><nav><a href="/login">login</a></nav><p>Latest news</p></body></html>`

	report, _ := DetectDocument("https://news.example.com/", html)

	assert.False(t, report.AuthExpired)
}

func TestDetectDocument_LoginLinksAreOneSignal(t *testing.T) {
	report, _ := DetectDocument("https://shop.example.com/", `<html><body><nav><a>Sign in</a> <a>or log in with Google</a></nav><p>New arrivals</p></body></html>`)
	assert.False(t, report.AuthExpired, "reasons: %v", report.Reasons)

	report, _ = DetectDocument("https://blog.example.com/author/jane", `<html><body><a>Sign in</a><p>Posts by Jane</p></body></html>`)
	assert.False(t, report.AuthExpired, "reasons: %v", report.Reasons)
}

func TestDetectDocument_CaptchaFromMarkupSetsReport(t *testing.T) {
	html := `<html><body><div class="cf-turnstile"></div><p>Verify you are human</p></body></html>`

	report, captcha := DetectDocument("https://example.com/", html)

	assert.True(t, report.Captcha)
	assert.Equal(t, CaptchaTurnstile, report.CaptchaType)
	assert.Equal(t, CaptchaTurnstile, captcha.Type)
	assert.Equal(t, ".cf-turnstile", captcha.Selector)
}
