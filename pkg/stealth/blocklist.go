package stealth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultBlockedHosts are ad and tracker hosts. A bare domain also blocks
// its subdomains; entries ending in ".*" match hosts starting with that
// label.
var DefaultBlockedHosts = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"google-analytics.com",
	"googletagmanager.com",
	"facebook.net",
	"taboola.com",
	"outbrain.com",
	"criteo.com",
	"adnxs.com",
	"pubmatic.com",
	"rubiconproject.com",
	"openx.net",
	"bidswitch.net",
	"casalemedia.com",
	"quantserve.com",
	"scorecardresearch.com",
	"amazon-adsystem.com",
	"ads.*",
	"adserver.*",
	"tracker.*",
	"tracking.*",
	"pixel.*",
	"beacon.*",
	"telemetry.*",
}

// DefaultBlockedPaths block executable downloads.
var DefaultBlockedPaths = []string{"*.exe", "*.scr", "*.bat", "*.cmd", "*.msi"}

// Blocklist matches request URLs against host and path glob patterns.
type Blocklist struct {
	hostPatterns []string
	hosts        []glob.Glob
	paths        []glob.Glob
}

// NewBlocklist compiles host and path patterns. A host pattern without
// glob syntax also matches every subdomain.
func NewBlocklist(hosts, paths []string) (*Blocklist, error) {
	b := &Blocklist{}
	for _, pattern := range hosts {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		expanded := []string{pattern}
		if !strings.ContainsAny(pattern, "*?[{") {
			expanded = append(expanded, "*."+pattern)
		}
		for _, p := range expanded {
			g, err := glob.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid host pattern '%s': %w", pattern, err)
			}
			b.hosts = append(b.hosts, g)
		}
		b.hostPatterns = append(b.hostPatterns, pattern)
	}
	for _, pattern := range paths {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern '%s': %w", pattern, err)
		}
		b.paths = append(b.paths, g)
	}
	return b, nil
}

// DefaultBlocklist returns the built-in ad and tracker blocklist.
func DefaultBlocklist() *Blocklist {
	b, err := NewBlocklist(DefaultBlockedHosts, DefaultBlockedPaths)
	if err != nil {
		panic(err)
	}
	return b
}

// Match reports whether a request to rawURL should be blocked. Only http
// and https URLs are ever blocked.
func (b *Blocklist) Match(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, g := range b.hosts {
		if g.Match(host) {
			return true
		}
	}
	path := strings.ToLower(u.Path)
	for _, g := range b.paths {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Len returns the number of host patterns.
func (b *Blocklist) Len() int {
	return len(b.hostPatterns)
}
