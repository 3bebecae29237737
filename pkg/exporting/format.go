// Package exporting writes collected records to jsonl, jsonl.zst, csv, tsv
// and parquet files and reads them back.
package exporting

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Record is one flattened or nested telemetry row.
type Record = map[string]interface{}

// Format pairs a file layout with its reader and writer.
type Format interface {
	Name() string
	// Extensions lists the file suffixes, preferred first.
	Extensions() []string
	Reader() Reader
	Writer() Writer
}

type Reader interface {
	Open(path string) error
	Read() ([]Record, error)
	Close() error
}

type Writer interface {
	Init(path string) error
	Write(record Record) error
	WriteBatch(records []Record) error
	Flush() error
	Close() error
	Path() string
}

var registry = struct {
	sync.RWMutex
	byName map[string]Format
	byExt  map[string]Format
}{byName: map[string]Format{}, byExt: map[string]Format{}}

// Register adds f under its lowercased name and extensions, replacing any
// earlier format registered under the same keys.
func Register(f Format) {
	registry.Lock()
	defer registry.Unlock()
	registry.byName[strings.ToLower(f.Name())] = f
	for _, ext := range f.Extensions() {
		registry.byExt[strings.ToLower(ext)] = f
	}
}

func Get(name string) (Format, bool) {
	registry.RLock()
	defer registry.RUnlock()
	f, ok := registry.byName[strings.ToLower(name)]
	return f, ok
}

// Names lists the registered format names in sorted order.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.byName))
	for n := range registry.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetByExtension accepts the extension with or without its leading dot.
func GetByExtension(ext string) (Format, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	registry.RLock()
	defer registry.RUnlock()
	f, ok := registry.byExt[ext]
	return f, ok
}

// GetByPath matches everything after the first "." of the base name
// before the last extension alone, so "run.jsonl.zst" is compressed jsonl.
func GetByPath(path string) (Format, bool) {
	base := strings.ToLower(filepath.Base(path))
	if i := strings.Index(base, "."); i >= 0 {
		if f, ok := GetByExtension(base[i:]); ok {
			return f, true
		}
	}
	return GetByExtension(filepath.Ext(path))
}

// GetExtension is the preferred extension of format, or ".jsonl" for an
// unknown name.
func GetExtension(format string) string {
	if f, ok := Get(format); ok {
		return f.Extensions()[0]
	}
	return ".jsonl"
}

// LoadRecords reads every record from path in the format its extension
// names.
func LoadRecords(path string) ([]Record, error) {
	f, ok := GetByPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported format for file: %s", path)
	}
	reader := f.Reader()
	if err := reader.Open(path); err != nil {
		return nil, err
	}
	defer reader.Close()

	records, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// SaveRecords writes records to path, replacing the file.
func SaveRecords(path string, records []Record) error {
	f, ok := GetByPath(path)
	if !ok {
		return fmt.Errorf("unsupported format for file: %s", path)
	}
	writer := f.Writer()
	if err := writer.Init(path); err != nil {
		return fmt.Errorf("failed to initialize writer: %w", err)
	}
	if err := writer.WriteBatch(records); err != nil {
		return errors.Join(fmt.Errorf("failed to write records: %w", err), writer.Close())
	}
	return writer.Close()
}
