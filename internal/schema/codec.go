package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Format is a document encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Load decodes a state document. YAML input is converted to JSON with key
// order preserved, so both formats share one decoding path.
func Load(r io.Reader, format Format) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes a state document from memory.
func Parse(data []byte, format Format) (*Document, error) {
	if format == FormatAuto {
		format = detectFormat(data)
	}

	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML state: %w", err)
		}
		data = converted
	}

	doc := &Document{}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode state document: %w", err)
	}
	return doc, nil
}

// LoadFile reads a document, choosing the format by extension and
// falling back to content sniffing.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yaml", ".yml":
		format = FormatYAML
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func detectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

// JSON returns the indented JSON encoding of the document.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// YAML returns the YAML encoding of the document in canonical key order.
func (d *Document) YAML() ([]byte, error) {
	return ToYAML(d)
}

// ToYAML encodes any JSON-marshalable value as YAML, keeping the key order
// produced by its JSON encoding.
func ToYAML(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	ordered, err := decodeOrdered(dec)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(ordered)
}

// decodeOrdered reads one JSON value into yaml.MapSlice / []any / scalar.
func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			ms := yaml.MapSlice{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				v, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				ms = append(ms, yaml.MapItem{Key: kt.(string), Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return ms, nil
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// yamlToJSON converts YAML to JSON preserving mapping order.
func yamlToJSON(data []byte) ([]byte, error) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case yaml.MapSlice:
		buf.WriteByte('{')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(fmt.Sprint(item.Key))
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeJSON(buf, item.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[any]any:
		return fmt.Errorf("unexpected unordered mapping in YAML input")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("unsupported YAML value %v: %w", x, err)
		}
		buf.Write(b)
	}
	return nil
}
