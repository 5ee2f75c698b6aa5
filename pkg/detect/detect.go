// Package detect classifies the state of a loaded page: captcha walls,
// error pages, blocks, rate limits and expired logins.
//
// Every function here is pure and never panics. Any internal failure
// degrades to an all-false Report.
package detect

import (
	"strings"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// Captcha provider identifiers reported in Report.CaptchaType.
const (
	CaptchaRecaptcha  = "recaptcha"
	CaptchaHCaptcha   = "hcaptcha"
	CaptchaCloudflare = "cloudflare"
	CaptchaTurnstile  = "cloudflare-turnstile"
	CaptchaGeneric    = "generic"
)

// Report is the issue classification of a page.
type Report struct {
	Captcha     bool     `json:"captcha" yaml:"captcha"`
	Error       bool     `json:"error" yaml:"error"`
	Blocked     bool     `json:"blocked" yaml:"blocked"`
	RateLimit   bool     `json:"rate_limit" yaml:"rate_limit"`
	AuthExpired bool     `json:"auth_expired" yaml:"auth_expired"`
	CaptchaType string   `json:"captcha_type,omitempty" yaml:"captcha_type,omitempty"`
	Reasons     []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Any reports whether any flag is set.
func (r Report) Any() bool {
	return r.Captcha || r.Error || r.Blocked || r.RateLimit || r.AuthExpired
}

// Flags returns the names of the set flags in a stable order.
func (r Report) Flags() []string {
	var out []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"captcha", r.Captcha},
		{"error", r.Error},
		{"blocked", r.Blocked},
		{"rate_limit", r.RateLimit},
		{"auth_expired", r.AuthExpired},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

// signature is a substring that identifies a captcha provider in markup.
type signature struct {
	needle   string
	provider string
}

// Ordered most specific first so Turnstile is not reported as a plain
// Cloudflare challenge.
var captchaSignatures = []signature{
	{"challenges.cloudflare.com/turnstile", CaptchaTurnstile},
	{"cf-turnstile", CaptchaTurnstile},
	{"cf-challenge", CaptchaCloudflare},
	{"cf_chl_opt", CaptchaCloudflare},
	{"challenge-platform", CaptchaCloudflare},
	{"google.com/recaptcha", CaptchaRecaptcha},
	{"recaptcha/api", CaptchaRecaptcha},
	{"g-recaptcha", CaptchaRecaptcha},
	{"hcaptcha.com", CaptchaHCaptcha},
	{"h-captcha", CaptchaHCaptcha},
	{`class="captcha`, CaptchaGeneric},
	{`id="captcha`, CaptchaGeneric},
}

var (
	errorKeywords = []string{
		"500 internal server error",
		"internal server error",
		"something went wrong",
		"an error occurred",
		"an unexpected error",
		"404 not found",
		"page not found",
		"502 bad gateway",
		"503 service unavailable",
		"service unavailable",
	}
	errorURLKeywords = []string{"/error", "/500", "/404", "error="}

	blockedKeywords = []string{
		"access denied",
		"you have been blocked",
		"you've been blocked",
		"request blocked",
		"unusual traffic",
		"automated queries",
		"bot detection",
		"robot or human",
		"are you a robot",
		"attention required",
		"forbidden",
	}
	blockedURLKeywords = []string{"/blocked", "/denied", "/sorry/"}

	rateLimitKeywords = []string{
		"too many requests",
		"rate limit",
		"rate-limit",
		"ratelimited",
		"slow down",
		"try again later",
		"too many attempts",
		"error 429",
	}
	rateLimitURLKeywords = []string{"/429", "rate-limit", "ratelimit"}

	authURLKeywords  = []string{"login", "signin", "sign-in", "auth"}
	authBodyKeywords = []string{
		"sign in",
		"log in",
		"session expired",
		"session has expired",
		"authentication required",
	}
)

// Detect classifies a page from its URL and body. body may be visible
// text or raw markup; captcha signatures are matched against it as-is.
func Detect(pageURL, body string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("issue detection failed", "url", pageURL, "panic", r)
			report = Report{}
		}
	}()

	urlLower := strings.ToLower(pageURL)
	bodyLower := strings.ToLower(body)

	if provider := captchaProvider(bodyLower); provider != "" {
		report.Captcha = true
		report.CaptchaType = provider
		report.Reasons = append(report.Reasons, "captcha:"+provider)
	}

	if k := firstMatch(bodyLower, errorKeywords); k != "" {
		report.Error = true
		report.Reasons = append(report.Reasons, "error:"+k)
	} else if k := firstMatch(urlLower, errorURLKeywords); k != "" {
		report.Error = true
		report.Reasons = append(report.Reasons, "error-url:"+k)
	}

	if k := firstMatch(bodyLower, blockedKeywords); k != "" {
		report.Blocked = true
		report.Reasons = append(report.Reasons, "blocked:"+k)
	} else if k := firstMatch(urlLower, blockedURLKeywords); k != "" {
		report.Blocked = true
		report.Reasons = append(report.Reasons, "blocked-url:"+k)
	}

	if k := firstMatch(bodyLower, rateLimitKeywords); k != "" {
		report.RateLimit = true
		report.Reasons = append(report.Reasons, "rate-limit:"+k)
	} else if k := firstMatch(urlLower, rateLimitURLKeywords); k != "" {
		report.RateLimit = true
		report.Reasons = append(report.Reasons, "rate-limit-url:"+k)
	}

	if signals := authSignals(urlLower, bodyLower); len(signals) >= 2 {
		report.AuthExpired = true
		report.Reasons = append(report.Reasons, "auth-expired:"+strings.Join(signals, "+"))
	}

	return report
}

// authSignals collects distinct login-wall signals. The URL path and the
// body each contribute at most one, however many phrases the body holds.
func authSignals(urlLower, bodyLower string) []string {
	var signals []string
	if k := authPathSegment(pathAndQuery(urlLower)); k != "" {
		signals = append(signals, "url:"+k)
	}
	var phrases []string
	for _, k := range authBodyKeywords {
		if strings.Contains(bodyLower, k) {
			phrases = append(phrases, k)
		}
	}
	if len(phrases) > 0 {
		signals = append(signals, strings.Join(phrases, "|"))
	}
	return signals
}

// authPathSegment returns the login keyword that names a whole path
// segment, so /login/ matches and /author does not.
func authPathSegment(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for _, seg := range strings.Split(p, "/") {
		for _, k := range authURLKeywords {
			if seg == k {
				return k
			}
		}
	}
	return ""
}

// pathAndQuery drops scheme and host so a host such as auth.example.com
// does not count as a login URL on its own.
func pathAndQuery(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		return u[i:]
	}
	return ""
}

func captchaProvider(bodyLower string) string {
	for _, sig := range captchaSignatures {
		if strings.Contains(bodyLower, sig.needle) {
			return sig.provider
		}
	}
	return ""
}

func firstMatch(s string, keywords []string) string {
	if s == "" {
		return ""
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return k
		}
	}
	return ""
}
