package stealth

import "fmt"

// Headers returns the extra HTTP headers sent with every page request.
// They match what a desktop Chrome of the fingerprint's version sends on a
// top-level navigation.
func Headers(fp Fingerprint) map[string]string {
	major := orString(fp.ChromeMajor, "131")
	platform := orString(fp.CHPlatform, "Windows")

	return map[string]string{
		"Accept":             "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":    fp.AcceptLanguage(),
		"Sec-Fetch-Dest":     "document",
		"Sec-Fetch-Mode":     "navigate",
		"Sec-Fetch-Site":     "none",
		"Sec-Fetch-User":     "?1",
		"sec-ch-ua":          fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", "Not_A Brand";v="24"`, major, major),
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": fmt.Sprintf("%q", platform),
	}
}
