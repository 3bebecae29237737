package exporting

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

func init() {
	Register(&delimitedFormat{name: "csv", ext: ".csv", comma: ','})
	Register(&delimitedFormat{name: "tsv", ext: ".tsv", comma: '\t'})
}

// leadingColumns open every delimited header, in this order, when present.
var leadingColumns = []string{"timestamp", "uuid", "hostname"}

// delimitedFormat is CSV or TSV, differing only in the separator.
type delimitedFormat struct {
	name  string
	ext   string
	comma rune
}

func (f *delimitedFormat) Name() string         { return f.name }
func (f *delimitedFormat) Extensions() []string { return []string{f.ext} }
func (f *delimitedFormat) Reader() Reader       { return &delimitedReader{comma: f.comma} }
func (f *delimitedFormat) Writer() Writer       { return &delimitedWriter{comma: f.comma} }

type delimitedReader struct {
	file   *os.File
	reader *csv.Reader
	header []string
	comma  rune
}

// Open opens path and consumes the header row.
func (r *delimitedReader) Open(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	r.file = file
	r.reader = csv.NewReader(file)
	r.reader.Comma = r.comma
	r.reader.FieldsPerRecord = -1
	r.reader.LazyQuotes = true

	if r.header, err = r.reader.Read(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to read header: %w", err)
	}
	return nil
}

func (r *delimitedReader) Read() ([]Record, error) {
	var records []Record
	for {
		row, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(records)+2, err)
		}
		record := make(Record, len(row))
		for i, cell := range row {
			if i < len(r.header) && cell != "" {
				record[r.header[i]] = parseCell(r.header[i], cell)
			}
		}
		records = append(records, record)
	}
}

// parseCell restores the type a cell was written from: integers, floats
// and booleans; JSON columns and everything else stay strings.
func parseCell(column, cell string) interface{} {
	if strings.HasSuffix(column, "Json") {
		return cell
	}
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(cell); err == nil && strings.EqualFold(cell, strconv.FormatBool(b)) {
		return b
	}
	return cell
}

func (r *delimitedReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// delimitedWriter fixes its columns from the first record. Columns that
// first appear later, such as a GPU hot-plugged mid-run, are dropped; a
// column missing from a later record is written empty.
type delimitedWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
	comma  rune
}

func (w *delimitedWriter) Init(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	w.path = path
	w.file = file
	w.writer = csv.NewWriter(file)
	w.writer.Comma = w.comma
	return nil
}

func (w *delimitedWriter) Write(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRow(record)
}

func (w *delimitedWriter) WriteBatch(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range records {
		if err := w.writeRow(r); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return nil
}

func (w *delimitedWriter) writeRow(record Record) error {
	if w.header == nil {
		w.header = headerFor(record)
		if err := w.writer.Write(w.header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	row := make([]string, len(w.header))
	for i, key := range w.header {
		if val, ok := record[key]; ok {
			row[i] = FormatValue(val)
		}
	}
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

// headerFor orders the leading columns first, then the rest by name.
func headerFor(record Record) []string {
	header := make([]string, 0, len(record))
	lead := make(map[string]bool, len(leadingColumns))
	for _, k := range leadingColumns {
		if _, ok := record[k]; ok {
			header = append(header, k)
			lead[k] = true
		}
	}
	rest := make([]string, 0, len(record))
	for k := range record {
		if !lead[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(header, rest...)
}

func (w *delimitedWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	w.writer.Flush()
	return w.writer.Error()
}

func (w *delimitedWriter) Close() error {
	flushErr := w.Flush()
	if w.file == nil {
		return flushErr
	}
	return errors.Join(flushErr, w.file.Close())
}

func (w *delimitedWriter) Path() string { return w.path }
