package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// CaptchaInfo describes a captcha found in a document.
type CaptchaInfo struct {
	Detected bool   `json:"detected" yaml:"detected"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	// Selector locates the captcha element in the live page.
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
}

// captchaSelectors are checked in order; the first present wins.
var captchaSelectors = []struct {
	selector string
	provider string
}{
	{`iframe[src*="challenges.cloudflare.com/turnstile"]`, CaptchaTurnstile},
	{`.cf-turnstile`, CaptchaTurnstile},
	{`#challenge-form`, CaptchaCloudflare},
	{`#cf-challenge-running`, CaptchaCloudflare},
	{`iframe[src*="challenges.cloudflare.com"]`, CaptchaCloudflare},
	{`iframe[src*="google.com/recaptcha"]`, CaptchaRecaptcha},
	{`iframe[src*="recaptcha"]`, CaptchaRecaptcha},
	{`.g-recaptcha`, CaptchaRecaptcha},
	{`iframe[src*="hcaptcha.com"]`, CaptchaHCaptcha},
	{`.h-captcha`, CaptchaHCaptcha},
	{`.captcha`, CaptchaGeneric},
	{`#captcha`, CaptchaGeneric},
	{`img[src*="captcha"]`, CaptchaGeneric},
}

// cloudflareTitles are interstitial titles served while a challenge runs.
var cloudflareTitles = []string{"just a moment", "attention required", "checking your browser"}

// FindCaptcha inspects parsed markup for a known captcha widget.
func FindCaptcha(doc *goquery.Document) CaptchaInfo {
	if doc == nil {
		return CaptchaInfo{}
	}
	for _, c := range captchaSelectors {
		if doc.Find(c.selector).Length() > 0 {
			return CaptchaInfo{Detected: true, Type: c.provider, Selector: c.selector}
		}
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range cloudflareTitles {
		if strings.Contains(title, t) {
			return CaptchaInfo{Detected: true, Type: CaptchaCloudflare}
		}
	}
	return CaptchaInfo{}
}

// DetectCaptcha parses html and looks for a captcha widget. Parse failures
// are reported as "not detected".
func DetectCaptcha(html string) CaptchaInfo {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Debug("captcha check could not parse document", "error", err)
		return CaptchaInfo{}
	}
	return FindCaptcha(doc)
}

// DetectDocument classifies a page from its full markup. Keyword heuristics
// run against the visible text only, so words inside scripts and styles do
// not count; captcha detection uses the element tree.
func DetectDocument(pageURL, html string) (Report, CaptchaInfo) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Debug("issue detection could not parse document", "url", pageURL, "error", err)
		return Detect(pageURL, ""), CaptchaInfo{}
	}

	captcha := FindCaptcha(doc)
	report := Detect(pageURL, VisibleText(doc))

	if captcha.Detected && !report.Captcha {
		report.Captcha = true
		report.CaptchaType = captcha.Type
		report.Reasons = append(report.Reasons, "captcha-markup:"+captcha.Type)
	}
	if report.Captcha && !captcha.Detected {
		captcha = CaptchaInfo{Detected: true, Type: report.CaptchaType}
	}
	return report, captcha
}

// VisibleText returns the whitespace-normalised body text with scripts,
// styles and embedded frames removed. doc is modified.
func VisibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, svg").Remove()
	var parts []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}
