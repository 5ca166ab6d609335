package oifits

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

const maxScanTokenSize = 256 * 1024 * 1024

// -----------------------------------------------------------------------------
// Archive document
// -----------------------------------------------------------------------------

// Archive schema identifiers.
const (
	ArchiveSchemaName    = "oifits-archive"
	ArchiveFormatVersion = "1.0.0"
)

// Document is the codec-level form of an archived File.
type Document struct {
	Header Header
	Tables []TableRecord
}

// Header describes an archived file. It is always the first record.
type Header struct {
	SchemaName    string    `json:"schema_name"`
	FormatVersion string    `json:"format_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	TableCount    int       `json:"table_count"`
	Codec         string    `json:"codec"`
	Compressor    string    `json:"compressor"`
}

// TableRecord is one archived table.
type TableRecord struct {
	Extension string          `json:"extension"`
	ExtVer    int             `json:"ext_ver"`
	Rows      int             `json:"rows"`
	Keywords  []KeywordRecord `json:"keywords,omitempty"`
	Columns   []ColumnRecord  `json:"columns,omitempty"`
}

// KeywordRecord is one header keyword. Exactly one value field is set.
type KeywordRecord struct {
	Name   string      `json:"name"`
	String *string     `json:"s,omitempty"`
	Float  *floatValue `json:"f,omitempty"`
	Int    *int64      `json:"i,omitempty"`
}

// ColumnRecord is one column with its cells in row-major order.
type ColumnRecord struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Width    int          `json:"width"`
	Spectral bool         `json:"spectral,omitempty"`
	Floats   []floatValue `json:"floats,omitempty"`
	Ints     []int64      `json:"ints,omitempty"`
	Strings  []string     `json:"strings,omitempty"`
}

// floatValue encodes NaN and infinities as JSON strings.
type floatValue float64

func (f floatValue) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *floatValue) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("float %s: %w", b, err)
	}
	*f = floatValue(v)
	return nil
}

// -----------------------------------------------------------------------------
// Table <-> record
// -----------------------------------------------------------------------------

func tableToRecord(t *Table) TableRecord {
	rec := TableRecord{Extension: t.kind.String(), ExtVer: t.extVer, Rows: t.rows}
	for _, name := range t.kwOrder {
		kw := KeywordRecord{Name: name}
		switch v := t.keywords[name].(type) {
		case string:
			kw.String = &v
		case float64:
			fv := floatValue(v)
			kw.Float = &fv
		case int64:
			kw.Int = &v
		case bool:
			s := strconv.FormatBool(v)
			kw.String = &s
		default:
			s := fmt.Sprint(v)
			kw.String = &s
		}
		rec.Keywords = append(rec.Keywords, kw)
	}
	for _, c := range t.columns {
		cr := ColumnRecord{Name: c.Name, Type: c.Type.String(), Width: c.Width, Spectral: c.Spectral}
		switch c.Type {
		case ColumnFloat64:
			cr.Floats = make([]floatValue, len(c.floats))
			for i, v := range c.floats {
				cr.Floats[i] = floatValue(v)
			}
		case ColumnInt64:
			cr.Ints = c.ints
		default:
			cr.Strings = c.strings
		}
		rec.Columns = append(rec.Columns, cr)
	}
	return rec
}

func recordToTable(rec TableRecord) (*Table, error) {
	kind, err := ParseTableKind(rec.Extension)
	if err != nil {
		return nil, err
	}
	t := NewTable(kind, rec.Rows)
	t.extVer = rec.ExtVer
	for _, kw := range rec.Keywords {
		switch {
		case kw.String != nil:
			t.SetKeyword(kw.Name, *kw.String)
		case kw.Float != nil:
			t.SetKeyword(kw.Name, float64(*kw.Float))
		case kw.Int != nil:
			t.SetKeyword(kw.Name, *kw.Int)
		}
	}
	for _, cr := range rec.Columns {
		typ, err := parseColumnType(cr.Type)
		if err != nil {
			return nil, err
		}
		c := &Column{Name: cr.Name, Type: typ, Width: max(cr.Width, 1), Spectral: cr.Spectral}
		switch typ {
		case ColumnFloat64:
			c.floats = make([]float64, len(cr.Floats))
			for i, v := range cr.Floats {
				c.floats[i] = float64(v)
			}
		case ColumnInt64:
			c.ints = cr.Ints
		default:
			c.strings = cr.Strings
		}
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// -----------------------------------------------------------------------------
// JSONL Codec
// -----------------------------------------------------------------------------

// jsonlCodec writes the header then one table per line.
type jsonlCodec struct{}

// NewJSONLCodec creates a JSON Lines codec.
func NewJSONLCodec() Codec {
	return &jsonlCodec{}
}

func (j *jsonlCodec) Name() string {
	return "jsonl"
}

func (j *jsonlCodec) Encode(w io.Writer, doc *Document) error {
	enc := jsonCodec.NewEncoder(w)
	if err := enc.Encode(doc.Header); err != nil {
		return err
	}
	for i := range doc.Tables {
		if err := enc.Encode(&doc.Tables[i]); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonlCodec) Decode(r io.Reader) (*Document, error) {
	doc := &Document{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			if err := jsonCodec.Unmarshal(line, &doc.Header); err != nil {
				return nil, fmt.Errorf("%w: header: %w", ErrInvalidFormat, err)
			}
			first = false
			continue
		}
		var rec TableRecord
		if err := jsonCodec.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: table %d: %w", ErrInvalidFormat, len(doc.Tables), err)
		}
		doc.Tables = append(doc.Tables, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidFormat)
	}
	return doc, nil
}
