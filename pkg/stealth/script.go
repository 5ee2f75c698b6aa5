package stealth

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
)

//go:embed evasions.js
var evasionsJS string

// persona is the JSON object the init script reads its values from.
type persona struct {
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	WebGLVendor         string   `json:"webglVendor"`
	WebGLRenderer       string   `json:"webglRenderer"`
	NoiseSeed           uint32   `json:"noiseSeed"`
}

// Script returns the context init script for fp. It must run before any
// page script, so it is registered once per browser context.
// noiseSeed varies the canvas noise; zero picks a random seed.
func Script(fp Fingerprint, noiseSeed uint32) string {
	if fp.Locale == "" || len(fp.Languages) == 0 {
		fp = fp.WithLocale(fp.Locale)
	}
	if noiseSeed == 0 {
		noiseSeed = rand.Uint32() | 1
	}
	p := persona{
		Platform:            fp.Platform,
		Languages:           fp.Languages,
		HardwareConcurrency: orDefault(fp.HardwareConcurrency, 4),
		DeviceMemory:        orDefault(fp.DeviceMemory, 8),
		WebGLVendor:         orString(fp.WebGLVendor, "Intel Inc."),
		WebGLRenderer:       orString(fp.WebGLRenderer, "Intel Iris OpenGL Engine"),
		NoiseSeed:           noiseSeed,
	}
	// Marshalling a struct of strings, ints and a string slice cannot fail.
	data, _ := json.Marshal(p)
	return fmt.Sprintf("(function() {\n    const persona = %s;\n%s})();\n", data, evasionsJS)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
