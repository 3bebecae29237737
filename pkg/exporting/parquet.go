package exporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
)

const ParquetBatchSize = 1000

func init() {
	Register(&ParquetFormat{})
}

// ParquetFormat handles Parquet files.
type ParquetFormat struct{}

func (f *ParquetFormat) Name() string         { return "parquet" }
func (f *ParquetFormat) Extensions() []string { return []string{".parquet"} }
func (f *ParquetFormat) Reader() Reader       { return &ParquetReader{} }
func (f *ParquetFormat) Writer() Writer       { return &ParquetWriter{} }

// ParquetReader reads Parquet files.
type ParquetReader struct {
	file  *os.File
	pfile *parquet.File
}

func (r *ParquetReader) Open(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	r.file = file

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to open parquet file: %w", err)
	}
	r.pfile = pf

	return nil
}

func (r *ParquetReader) Read() ([]Record, error) {
	if r.pfile == nil {
		return nil, fmt.Errorf("reader not initialized")
	}

	fields := r.pfile.Schema().Fields()
	fieldNames := make([]string, len(fields))
	for i, f := range fields {
		fieldNames[i] = f.Name()
	}

	records := make([]Record, 0, r.pfile.NumRows())
	rowBuf := make([]parquet.Row, 100)

	for _, rg := range r.pfile.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(rowBuf)
			for _, row := range rowBuf[:n] {
				record := make(Record, len(fields))
				for _, val := range row {
					col := val.Column()
					if col < 0 || col >= len(fieldNames) || val.IsNull() {
						continue
					}
					record[fieldNames[col]] = parquetValueToGo(val)
				}
				records = append(records, record)
			}
			if err != nil {
				rows.Close()
				if err != io.EOF {
					return nil, fmt.Errorf("failed to read rows: %w", err)
				}
				break
			}
			if n == 0 {
				rows.Close()
				break
			}
		}
	}
	return records, nil
}

func parquetValueToGo(v parquet.Value) interface{} {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

func (r *ParquetReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ParquetWriter writes Parquet files using the Row API. Records are
// buffered until the first flush so the schema covers every key seen in the
// first batch; keys first seen afterwards are dropped.
type ParquetWriter struct {
	path    string
	file    *os.File
	writer  *parquet.Writer
	columns []string
	kinds   []parquet.Kind
	pending []Record
	mu      sync.Mutex
}

func (w *ParquetWriter) Init(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	w.path = path
	w.file = file
	w.pending = make([]Record, 0, ParquetBatchSize)
	return nil
}

func (w *ParquetWriter) initSchema() {
	first := make(map[string]interface{})
	for _, r := range w.pending {
		for k, v := range r {
			if v == nil {
				if _, seen := first[k]; !seen {
					first[k] = nil
				}
				continue
			}
			if first[k] == nil {
				first[k] = v
			}
		}
	}

	w.columns = make([]string, 0, len(first))
	for k := range first {
		w.columns = append(w.columns, k)
	}
	sort.Strings(w.columns)

	group := make(parquet.Group, len(w.columns))
	w.kinds = make([]parquet.Kind, len(w.columns))
	for i, name := range w.columns {
		node := valueToParquetNode(first[name])
		group[name] = node
		w.kinds[i] = node.Type().Kind()
	}

	schema := parquet.NewSchema("record", group)
	w.writer = parquet.NewWriter(w.file, schema, parquet.Compression(&parquet.Snappy))
}

func valueToParquetNode(val interface{}) parquet.Node {
	switch val.(type) {
	case int, int32, int64, uint32, uint64:
		return parquet.Optional(parquet.Int(64))
	case float32, float64:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case bool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	default:
		return parquet.Optional(parquet.String())
	}
}

func (w *ParquetWriter) recordToRow(record Record) parquet.Row {
	row := make(parquet.Row, len(w.columns))
	for i, name := range w.columns {
		row[i] = toParquetValue(w.kinds[i], record[name], i)
	}
	return row
}

// toParquetValue converts val to the column kind, or to null when it
// cannot be represented.
func toParquetValue(kind parquet.Kind, val interface{}, col int) parquet.Value {
	null := parquet.NullValue().Level(0, 0, col)
	if val == nil {
		return null
	}
	switch kind {
	case parquet.Int64:
		if i, ok := ToInt64Ok(val); ok {
			return parquet.Int64Value(i).Level(0, 1, col)
		}
		if f, ok := ToFloat64Ok(val); ok {
			return parquet.Int64Value(int64(f)).Level(0, 1, col)
		}
		return null
	case parquet.Double:
		if f, ok := ToFloat64Ok(val); ok {
			return parquet.DoubleValue(f).Level(0, 1, col)
		}
		return null
	case parquet.Boolean:
		if b, ok := val.(bool); ok {
			return parquet.BooleanValue(b).Level(0, 1, col)
		}
		return null
	}
	return parquet.ByteArrayValue([]byte(FormatValue(val))).Level(0, 1, col)
}

func (w *ParquetWriter) Write(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, record)
	if len(w.pending) >= ParquetBatchSize {
		return w.flushPending()
	}
	return nil
}

func (w *ParquetWriter) WriteBatch(records []Record) error {
	for i, r := range records {
		if err := w.Write(r); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return nil
}

func (w *ParquetWriter) flushPending() error {
	if len(w.pending) == 0 {
		return nil
	}
	if w.writer == nil {
		w.initSchema()
	}

	rows := make([]parquet.Row, len(w.pending))
	for i, r := range w.pending {
		rows[i] = w.recordToRow(r)
	}
	if _, err := w.writer.WriteRows(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *ParquetWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushPending(); err != nil {
		return err
	}
	if w.writer != nil {
		return w.writer.Flush()
	}
	return nil
}

func (w *ParquetWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.writer != nil {
		if err := w.writer.Close(); err != nil {
			return err
		}
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *ParquetWriter) Path() string {
	return w.path
}
