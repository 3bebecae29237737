package exporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Exporter flattens records and writes them in one format.
type Exporter struct {
	path        string
	format      string
	writer      Writer
	flattenMode FlattenMode
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithFlattenMode sets the flattening mode for the exporter.
func WithFlattenMode(mode FlattenMode) ExporterOption {
	return func(e *Exporter) {
		e.flattenMode = mode
	}
}

// NewExporter creates a new exporter for the given path and format.
func NewExporter(path, format string, opts ...ExporterOption) (*Exporter, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, ok := Get(format)
	if !ok {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := f.Writer()
	if err := writer.Init(path); err != nil {
		return nil, fmt.Errorf("failed to initialize writer: %w", err)
	}

	e := &Exporter{
		path:        path,
		format:      format,
		writer:      writer,
		flattenMode: FlattenDefault,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exporter) Path() string   { return e.path }
func (e *Exporter) Format() string { return e.format }

// Write writes a single record, flattening based on the configured mode.
func (e *Exporter) Write(record Record) error {
	return e.writer.Write(FlattenRecordWithMode(record, e.flattenMode))
}

// WriteBatch writes multiple records, flattening each based on the configured mode.
func (e *Exporter) WriteBatch(records []Record) error {
	for i, r := range records {
		if err := e.Write(r); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return nil
}

func (e *Exporter) Flush() error { return e.writer.Flush() }
func (e *Exporter) Close() error { return e.writer.Close() }

// StaticPath is where WriteStatic puts the static record: the output path
// with its extensions replaced by "_static.json".
func (e *Exporter) StaticPath() string { return StaticPath(e.path) }

// StaticPath is the static record file that accompanies the record file at
// path: the base name up to its first "." plus "_static.json".
func StaticPath(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return filepath.Join(filepath.Dir(path), base+"_static.json")
}

// WriteStatic writes static metrics to a separate JSON file.
func (e *Exporter) WriteStatic(record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal static metrics: %w", err)
	}
	return os.WriteFile(e.StaticPath(), data, 0644)
}
