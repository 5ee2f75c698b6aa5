package stealth

// LaunchFlags returns browser command-line switches that remove automation
// markers. Values are either bool (switch on or off) or string (switch
// value). The "headless" switch is left to the caller.
func LaunchFlags() map[string]any {
	return map[string]any{
		"disable-blink-features": "AutomationControlled",
		"disable-features":       "IsolateOrigins,site-per-process,Translate",
		"enable-automation":      false,

		"disable-infobars":         true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-default-apps":     true,
		"disable-popup-blocking":   true,
		"disable-translate":        true,
		"disable-sync":             true,

		"disable-save-password-bubble":           true,
		"disable-background-timer-throttling":    true,
		"disable-backgrounding-occluded-windows": true,
		"disable-renderer-backgrounding":         true,
		"disable-client-side-phishing-detection": true,
		"metrics-recording-only":                 true,
		"use-fake-ui-for-media-stream":           true,
	}
}

// BaseFlags are applied to every launch, stealth or not.
func BaseFlags() map[string]any {
	return map[string]any{
		"no-sandbox":            true,
		"disable-gpu":           true,
		"disable-dev-shm-usage": true,
	}
}
