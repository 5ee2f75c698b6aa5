package cdp

import (
	"os/exec"
	"strings"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// Browser binaries by channel, most specific first. Entries are either
// names looked up on PATH or absolute paths.
var channelBinaries = map[string][]string{
	"chrome": {
		"google-chrome-stable",
		"google-chrome",
		"chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
	"chromium": {
		"chromium",
		"chromium-browser",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
	},
	"msedge": {
		"microsoft-edge-stable",
		"microsoft-edge",
		"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		"/usr/bin/microsoft-edge",
		`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
	},
}

// channelOrder is the search order when no channel is requested.
var channelOrder = []string{"chrome", "chromium", "msedge"}

// FindBrowserPath returns the first installed browser binary for channel,
// or for any known channel when channel is empty. It returns "" when none
// is found, leaving discovery to chromedp.
func FindBrowserPath(channel string) string {
	channels := channelOrder
	if channel != "" {
		channels = []string{strings.ToLower(channel)}
	}
	for _, ch := range channels {
		for _, name := range channelBinaries[ch] {
			if path, err := exec.LookPath(name); err == nil {
				logger.Debug("found browser binary", "channel", ch, "path", path)
				return path
			}
		}
	}
	logger.Warn("no browser binary found for channel", "channel", channel)
	return ""
}

// Channels lists the supported channel names.
func Channels() []string {
	return append([]string(nil), channelOrder...)
}
