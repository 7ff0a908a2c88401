package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/corbin/rewatch/internal/store"
)

// Renderer converts journal entries into display bytes.
type Renderer interface {
	Render(entries []*store.Entry) ([]byte, error)
}

// TextRenderer produces a compact human-readable table, one entry per
// line, newest last.
type TextRenderer struct{}

// Render formats the entries as aligned text lines.
func (TextRenderer) Render(entries []*store.Entry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte("no reloads recorded\n"), nil
	}

	var buf bytes.Buffer

	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "FAIL"
		}

		fmt.Fprintf(&buf, "#%-4d %s  %-4s %6dms", e.Seq, e.At.Format("2006-01-02 15:04:05"), status, e.ElapsedMs)

		if len(e.Loaded) > 0 {
			fmt.Fprintf(&buf, "  loaded=%s", strings.Join(e.Loaded, ","))
		}

		if len(e.Unloaded) > 0 {
			fmt.Fprintf(&buf, "  unloaded=%s", strings.Join(e.Unloaded, ","))
		}

		if e.Failed != "" {
			fmt.Fprintf(&buf, "  failed=%s", e.Failed)
		}

		if e.Error != "" {
			fmt.Fprintf(&buf, "  error=%q", e.Error)
		}

		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// YAMLRenderer marshals entries as a YAML document list.
type YAMLRenderer struct{}

// Render serializes the entries to YAML.
func (YAMLRenderer) Render(entries []*store.Entry) ([]byte, error) {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("rendering YAML: %w", err)
	}

	return data, nil
}

// JSONRenderer marshals entries as an indented JSON array.
type JSONRenderer struct{}

// Render serializes the entries to JSON.
func (JSONRenderer) Render(entries []*store.Entry) ([]byte, error) {
	if entries == nil {
		entries = []*store.Entry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering JSON: %w", err)
	}

	return append(data, '\n'), nil
}
