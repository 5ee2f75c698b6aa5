// Package output renders CLI results as JSON, JSON lines, YAML or plain
// text. Writers are safe for concurrent use so scan workers can emit
// records as they finish.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Format is an output encoding.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted --output values.
func Formats() []Format {
	return []Format{FormatText, FormatJSON, FormatJSONL, FormatYAML}
}

// ParseFormat accepts a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %q", s)
}

// Texter is implemented by records with a human-readable rendering.
// Records without it are printed as YAML in text mode.
type Texter interface {
	Text() string
}

// Writer emits records. Close must be called to finish buffered formats.
type Writer interface {
	Write(record any) error
	Close() error
}

// New creates a writer for format.
func New(w io.Writer, format Format) (Writer, error) {
	var enc encoder
	switch format {
	case FormatText:
		enc = &textEncoder{w: w}
	case FormatJSON:
		enc = &jsonEncoder{w: w}
	case FormatJSONL:
		enc = &jsonlEncoder{w: w}
	case FormatYAML:
		enc = newYAMLEncoder(w)
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
	return &syncWriter{enc: enc}, nil
}

type encoder interface {
	encode(record any) error
	finish() error
}

type syncWriter struct {
	mu     sync.Mutex
	enc    encoder
	closed bool
}

func (s *syncWriter) Write(record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("output: write after close")
	}
	return s.enc.encode(record)
}

func (s *syncWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.enc.finish()
}
