// Package stealth reduces the automation surface of a browser session:
// launch flags, a context init script that masks headless fingerprints,
// realistic request headers, and a tracker blocklist.
package stealth

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Fingerprint is a consistent set of browser identity values. Everything
// the init script and headers report comes from one Fingerprint so the
// values agree with each other.
type Fingerprint struct {
	UserAgent           string   `json:"userAgent" yaml:"user_agent"`
	Platform            string   `json:"platform" yaml:"platform"`
	Viewport            Viewport `json:"viewport" yaml:"viewport"`
	Locale              string   `json:"locale" yaml:"locale"`
	Languages           []string `json:"languages" yaml:"languages"`
	Timezone            string   `json:"timezone" yaml:"timezone"`
	HardwareConcurrency int      `json:"hardwareConcurrency" yaml:"hardware_concurrency"`
	DeviceMemory        int      `json:"deviceMemory" yaml:"device_memory"`
	WebGLVendor         string   `json:"webglVendor" yaml:"webgl_vendor"`
	WebGLRenderer       string   `json:"webglRenderer" yaml:"webgl_renderer"`
	// ChromeMajor feeds the sec-ch-ua header.
	ChromeMajor string `json:"chromeMajor" yaml:"chrome_major"`
	// CHPlatform is the sec-ch-ua-platform value without quotes.
	CHPlatform string `json:"chPlatform" yaml:"ch_platform"`
}

var fingerprintPool = []Fingerprint{
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Viewport:            Viewport{Width: 1920, Height: 1080},
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (NVIDIA)",
		WebGLRenderer:       "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 SUPER Direct3D11 vs_5_0 ps_5_0, D3D11)",
		ChromeMajor:         "131",
		CHPlatform:          "Windows",
	},
	{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Viewport:            Viewport{Width: 1366, Height: 768},
		HardwareConcurrency: 4,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (Intel)",
		WebGLRenderer:       "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		ChromeMajor:         "130",
		CHPlatform:          "Windows",
	},
	{
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		Viewport:            Viewport{Width: 1440, Height: 900},
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M1, OpenGL 4.1)",
		ChromeMajor:         "131",
		CHPlatform:          "macOS",
	},
	{
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		Viewport:            Viewport{Width: 1680, Height: 1050},
		HardwareConcurrency: 10,
		DeviceMemory:        16,
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M2 Pro, OpenGL 4.1)",
		ChromeMajor:         "129",
		CHPlatform:          "macOS",
	},
	{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		Viewport:            Viewport{Width: 1536, Height: 864},
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (Intel)",
		WebGLRenderer:       "ANGLE (Intel, Mesa Intel(R) Xe Graphics (TGL GT2), OpenGL 4.6)",
		ChromeMajor:         "131",
		CHPlatform:          "Linux",
	},
}

var (
	poolMu  sync.Mutex
	poolRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Pool returns a copy of the built-in fingerprint pool.
func Pool() []Fingerprint {
	out := make([]Fingerprint, len(fingerprintPool))
	for i, fp := range fingerprintPool {
		out[i] = fp.WithLocale(DefaultLocale)
	}
	return out
}

// DefaultLocale is used when no locale is requested.
const DefaultLocale = "en-US"

// PickFingerprint returns a random fingerprint from the pool with the
// default locale and timezone filled in.
func PickFingerprint() Fingerprint {
	poolMu.Lock()
	i := poolRNG.Intn(len(fingerprintPool))
	poolMu.Unlock()
	return fingerprintPool[i].WithLocale(DefaultLocale)
}

// WithLocale returns a copy of fp reporting locale and its base language.
func (fp Fingerprint) WithLocale(locale string) Fingerprint {
	if locale == "" {
		locale = DefaultLocale
	}
	fp.Locale = locale
	fp.Languages = []string{locale}
	if base, _, ok := strings.Cut(locale, "-"); ok {
		fp.Languages = append(fp.Languages, base)
	}
	if fp.Timezone == "" {
		fp.Timezone = "America/New_York"
	}
	return fp
}

// AcceptLanguage renders the languages as an Accept-Language value.
func (fp Fingerprint) AcceptLanguage() string {
	langs := fp.Languages
	if len(langs) == 0 {
		langs = []string{DefaultLocale, "en"}
	}
	var b strings.Builder
	for i, l := range langs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(l)
		if i > 0 {
			q := 1.0 - 0.1*float64(i)
			if q < 0.1 {
				q = 0.1
			}
			b.WriteString(";q=")
			b.WriteString(strconv.FormatFloat(q, 'f', 1, 64))
		}
	}
	return b.String()
}
