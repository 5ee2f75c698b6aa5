package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
)

type testRecord struct {
	URL    string `json:"url" yaml:"url"`
	Status int    `json:"status" yaml:"status"`
}

type textRecord struct{ name string }

func (r textRecord) Text() string { return "record " + r.name }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{" JSONL ", FormatJSONL, false},
		{"Yaml", FormatYAML, false},
		{"text", FormatText, false},
		{"csv", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Format("xml"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected error containing 'unsupported', got %v", err)
	}
}

func TestJSON_SingleRecordIsObject(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatJSON)
	if err := w.Write(testRecord{URL: "https://a.test", Status: 200}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Error("JSON output should be buffered until Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got testRecord
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not a JSON object: %v\n%s", err, buf.String())
	}
	if got.URL != "https://a.test" || got.Status != 200 {
		t.Errorf("got %+v", got)
	}
}

func TestJSON_SeveralRecordsAreArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatJSON)
	_ = w.Write(testRecord{URL: "a"})
	_ = w.Write(testRecord{URL: "b"})
	_ = w.Close()

	var got []testRecord
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(got) != 2 || got[1].URL != "b" {
		t.Errorf("got %+v", got)
	}
}

func TestJSON_EmptyWritesNothing(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatJSON)
	_ = w.Close()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestJSONL_StreamsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatJSONL)
	_ = w.Write(testRecord{URL: "a", Status: 1})
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("JSONL record should be written immediately")
	}
	_ = w.Write(testRecord{URL: "b", Status: 2})
	_ = w.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec testRecord
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil || rec.Status != 2 {
		t.Errorf("line 2 = %q (%v)", lines[1], err)
	}
}

func TestYAML_DocumentStream(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatYAML)
	_ = w.Write(testRecord{URL: "a", Status: 1})
	_ = w.Write(testRecord{URL: "b", Status: 2})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf.Bytes()))
	var docs []testRecord
	for {
		var rec testRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		docs = append(docs, rec)
	}
	if len(docs) != 2 || docs[0].URL != "a" || docs[1].Status != 2 {
		t.Errorf("decoded %+v from\n%s", docs, buf.String())
	}
}

func TestText_UsesTexterAndFallsBackToYAML(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatText)
	_ = w.Write(textRecord{name: "one"})
	_ = w.Write("plain line")
	_ = w.Write(testRecord{URL: "c", Status: 3})
	_ = w.Close()

	out := buf.String()
	for _, want := range []string{"record one\n", "plain line\n", "url: c\n", "status: 3\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, _ := New(&bytes.Buffer{}, FormatJSONL)
	_ = w.Close()
	if err := w.Write(testRecord{}); err == nil {
		t.Error("expected error writing after Close")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriter_ConcurrentWrites(t *testing.T) {
	buf := &bytes.Buffer{}
	w, _ := New(buf, FormatJSONL)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(testRecord{URL: fmt.Sprintf("u%d", i), Status: i})
		}()
	}
	wg.Wait()
	_ = w.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 50 {
		t.Fatalf("expected 50 lines, got %d", len(lines))
	}
	for _, line := range lines {
		var rec testRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("interleaved output: %q", line)
		}
	}
}
