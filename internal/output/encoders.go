package output

import (
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// jsonEncoder buffers records and writes them on finish: a single record
// as an object, several as an array.
type jsonEncoder struct {
	w     io.Writer
	items []any
}

func (e *jsonEncoder) encode(record any) error {
	e.items = append(e.items, record)
	return nil
}

func (e *jsonEncoder) finish() error {
	if len(e.items) == 0 {
		return nil
	}
	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	if len(e.items) == 1 {
		return enc.Encode(e.items[0])
	}
	return enc.Encode(e.items)
}

type jsonlEncoder struct {
	w io.Writer
}

func (e *jsonlEncoder) encode(record any) error {
	return json.NewEncoder(e.w).Encode(record)
}

func (e *jsonlEncoder) finish() error { return nil }

// yamlEncoder streams one document per record.
type yamlEncoder struct {
	enc *yaml.Encoder
}

func newYAMLEncoder(w io.Writer) *yamlEncoder {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &yamlEncoder{enc: enc}
}

func (e *yamlEncoder) encode(record any) error {
	return e.enc.Encode(record)
}

func (e *yamlEncoder) finish() error {
	return e.enc.Close()
}

type textEncoder struct {
	w io.Writer
}

func (e *textEncoder) encode(record any) error {
	var s string
	switch r := record.(type) {
	case Texter:
		s = r.Text()
	case string:
		s = r
	default:
		data, err := yaml.Marshal(record)
		if err != nil {
			return err
		}
		s = string(data)
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, err := io.WriteString(e.w, s)
	return err
}

func (e *textEncoder) finish() error { return nil }
