package oifits

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ParquetCompression specifies internal Parquet compression.
type ParquetCompression int

// Parquet compression options.
const (
	ParquetCompressionNone ParquetCompression = iota
	ParquetCompressionSnappy
	ParquetCompressionGzip
)

// ParquetOption configures ExportParquet.
type ParquetOption func(*parquetExport)

// WithParquetCompression sets internal Parquet compression. Defaults to
// Snappy.
func WithParquetCompression(c ParquetCompression) ParquetOption {
	return func(p *parquetExport) { p.compression = c }
}

type parquetExport struct {
	compression ParquetCompression
}

// cellRef locates the cell feeding one parquet field.
type cellRef struct {
	col    *Column
	offset int
}

// ExportParquet writes the rows of t as a flat Parquet file. Columns wider
// than one cell become one field per cell, named NAME_0, NAME_1 and so on.
func ExportParquet(w io.Writer, t *Table, opts ...ParquetOption) error {
	cfg := parquetExport{compression: ParquetCompressionSnappy}
	for _, opt := range opts {
		opt(&cfg)
	}

	group := make(parquet.Group)
	cells := make(map[string]cellRef)
	for _, c := range t.columns {
		node := parquetNode(c.Type)
		if c.Width == 1 {
			group[c.Name] = node
			cells[c.Name] = cellRef{col: c}
			continue
		}
		for j := range c.Width {
			name := fmt.Sprintf("%s_%d", c.Name, j)
			group[name] = node
			cells[name] = cellRef{col: c, offset: j}
		}
	}
	if len(group) == 0 {
		return fmt.Errorf("oifits: export %s: no column: %w", t, ErrSchemaViolation)
	}
	schema := parquet.NewSchema(t.kind.String(), group)
	fields := schema.Fields()

	buf := parquet.NewBuffer(schema)
	for row := range t.rows {
		pr := make(parquet.Row, len(fields))
		for i, f := range fields {
			ref := cells[f.Name()]
			pr[i] = parquetValue(ref.col, row, ref.offset).Level(0, 0, i)
		}
		if _, err := buf.WriteRows([]parquet.Row{pr}); err != nil {
			return fmt.Errorf("oifits: export %s row %d: %w", t, row, err)
		}
	}

	var out bytes.Buffer
	pw := parquet.NewWriter(&out, schema, cfg.writerCompression())
	if _, err := pw.WriteRowGroup(buf); err != nil {
		_ = pw.Close()
		return fmt.Errorf("oifits: export %s: %w", t, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("oifits: export %s: %w", t, err)
	}
	_, err := io.Copy(w, &out)
	return err
}

func (p parquetExport) writerCompression() parquet.WriterOption {
	switch p.compression {
	case ParquetCompressionSnappy:
		return parquet.Compression(&parquet.Snappy)
	case ParquetCompressionGzip:
		return parquet.Compression(&parquet.Gzip)
	default:
		return parquet.Compression(&parquet.Uncompressed)
	}
}

func parquetNode(t ColumnType) parquet.Node {
	switch t {
	case ColumnFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case ColumnInt64:
		return parquet.Int(64)
	default:
		return parquet.String()
	}
}

func parquetValue(c *Column, row, offset int) parquet.Value {
	switch c.Type {
	case ColumnFloat64:
		return parquet.DoubleValue(c.floats[row*c.Width+offset])
	case ColumnInt64:
		return parquet.Int64Value(c.ints[row*c.Width+offset])
	default:
		return parquet.ByteArrayValue([]byte(c.strings[row]))
	}
}
