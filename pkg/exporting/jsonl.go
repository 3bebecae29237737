package exporting

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	DefaultBufferSize = 64 * 1024
	MaxLineSize       = 10 * 1024 * 1024
)

func init() {
	Register(&JSONLFormat{})
	Register(&JSONLFormat{Compressed: true})
}

// JSONLFormat handles JSON Lines, optionally zstd-compressed.
type JSONLFormat struct {
	Compressed bool
}

func (f *JSONLFormat) Name() string {
	if f.Compressed {
		return "jsonl.zst"
	}
	return "jsonl"
}

func (f *JSONLFormat) Extensions() []string {
	if f.Compressed {
		return []string{".jsonl.zst"}
	}
	return []string{".jsonl", ".json"}
}

func (f *JSONLFormat) Reader() Reader { return &JSONLReader{compressed: f.Compressed} }
func (f *JSONLFormat) Writer() Writer { return &JSONLWriter{compressed: f.Compressed} }

// JSONLReader reads JSONL files.
type JSONLReader struct {
	compressed bool
	file       *os.File
	decoder    *zstd.Decoder
	scanner    *bufio.Scanner
}

func (r *JSONLReader) Open(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	r.file = file

	var src io.Reader = file
	if r.compressed {
		r.decoder, err = zstd.NewReader(file)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		src = r.decoder
	}
	r.scanner = bufio.NewScanner(src)
	r.scanner.Buffer(make([]byte, DefaultBufferSize), MaxLineSize)
	return nil
}

// Read returns every well-formed line; malformed lines are skipped.
func (r *JSONLReader) Read() ([]Record, error) {
	var records []Record
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := r.scanner.Err(); err != nil {
		return records, fmt.Errorf("scanner error: %w", err)
	}
	return records, nil
}

func (r *JSONLReader) Close() error {
	if r.decoder != nil {
		r.decoder.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// JSONLWriter writes JSONL files.
type JSONLWriter struct {
	compressed bool
	path       string
	file       *os.File
	encoder    *zstd.Encoder
	writer     *bufio.Writer
	mu         sync.Mutex
}

func (w *JSONLWriter) Init(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	w.path = path
	w.file = file

	var dst io.Writer = file
	if w.compressed {
		w.encoder, err = zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to create zstd stream: %w", err)
		}
		dst = w.encoder
	}
	w.writer = bufio.NewWriterSize(dst, DefaultBufferSize)
	return nil
}

func (w *JSONLWriter) Write(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

func (w *JSONLWriter) WriteBatch(records []Record) error {
	for i, r := range records {
		if err := w.Write(r); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return nil
}

// Flush pushes buffered lines through to the file. A compressed stream
// ends the current zstd block.
func (w *JSONLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.encoder != nil {
		return w.encoder.Flush()
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.encoder != nil {
		if err := w.encoder.Close(); err != nil {
			return err
		}
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *JSONLWriter) Path() string {
	return w.path
}
