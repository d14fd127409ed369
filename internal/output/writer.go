// Package output renders run reports.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Appends reports whether the format is meant to accumulate records in one
// file across runs.
func (f Format) Appends() bool {
	return f == FormatJSONL
}

// Writer serialises reports.
type Writer interface {
	Write(data any) error
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	indent string
}

// WithIndent sets the JSON indentation; empty means compact.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{indent: "  "}
	for _, opt := range opts {
		opt(cfg)
	}

	bw := bufio.NewWriter(w)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", cfg.indent)
		return &jsonWriter{bw: bw, enc: enc}, nil
	case FormatJSONL:
		return &jsonWriter{bw: bw, enc: json.NewEncoder(bw)}, nil
	case FormatYAML:
		enc := yaml.NewEncoder(bw)
		enc.SetIndent(2)
		return &yamlWriter{bw: bw, enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// jsonWriter emits one JSON value per Write. With no indent this is JSONL.
type jsonWriter struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func (w *jsonWriter) Write(data any) error {
	if err := w.enc.Encode(data); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *jsonWriter) Close() error {
	return w.bw.Flush()
}

// yamlWriter emits one YAML document per Write.
type yamlWriter struct {
	bw  *bufio.Writer
	enc *yaml.Encoder
}

func (w *yamlWriter) Write(data any) error {
	if err := w.enc.Encode(data); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *yamlWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return err
	}
	return w.bw.Flush()
}
