package oifits

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Table kinds
// -----------------------------------------------------------------------------

// TableKind identifies the role of a table inside a file.
type TableKind int

// Table kinds. Vis, Vis2, T3 and Flux carry measurements.
const (
	KindTarget TableKind = iota
	KindArray
	KindWavelength
	KindCorr
	KindVis
	KindVis2
	KindT3
	KindFlux

	kindCount
)

type kindInfo struct {
	extName string
	data    bool
	// nameKeyword is the keyword indexed for name-bearing kinds.
	nameKeyword string
	// staWidth is the STA_INDEX width of data kinds.
	staWidth int
}

var kinds = [kindCount]kindInfo{
	KindTarget:     {extName: "OI_TARGET"},
	KindArray:      {extName: "OI_ARRAY", nameKeyword: KeywordArrName},
	KindWavelength: {extName: "OI_WAVELENGTH", nameKeyword: KeywordInsName},
	KindCorr:       {extName: "OI_CORR", nameKeyword: KeywordCorrName},
	KindVis:        {extName: "OI_VIS", data: true, staWidth: 2},
	KindVis2:       {extName: "OI_VIS2", data: true, staWidth: 2},
	KindT3:         {extName: "OI_T3", data: true, staWidth: 3},
	KindFlux:       {extName: "OI_FLUX", data: true, staWidth: 1},
}

// String returns the FITS extension name of the kind.
func (k TableKind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("TableKind(%d)", int(k))
	}
	return kinds[k].extName
}

// IsData reports whether the kind carries measurements.
func (k TableKind) IsData() bool {
	return k >= 0 && k < kindCount && kinds[k].data
}

// ParseTableKind resolves a FITS extension name.
func ParseTableKind(extName string) (TableKind, error) {
	name := strings.ToUpper(strings.TrimSpace(extName))
	for k := range kindCount {
		if kinds[k].extName == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("oifits: %q: %w", extName, ErrUnknownKind)
}

// Keyword and column names of the table model.
const (
	KeywordInsName  = "INSNAME"
	KeywordArrName  = "ARRNAME"
	KeywordCorrName = "CORRNAME"
	KeywordDateObs  = "DATE-OBS"
	KeywordArrayX   = "ARRAYX"
	KeywordArrayY   = "ARRAYY"
	KeywordArrayZ   = "ARRAYZ"

	ColumnTargetID = "TARGET_ID"
	ColumnTarget   = "TARGET"
	ColumnRA       = "RAEP0"
	ColumnDec      = "DECEP0"
	ColumnStaName  = "STA_NAME"
	ColumnTelName  = "TEL_NAME"
	ColumnEffWave  = "EFF_WAVE"
	ColumnEffBand  = "EFF_BAND"
	ColumnMJD      = "MJD"
	ColumnStaIndex = "STA_INDEX"
	ColumnIIndex   = "IINDX"
	ColumnJIndex   = "JINDX"
	ColumnCorr     = "CORR"
)

// -----------------------------------------------------------------------------
// Columns
// -----------------------------------------------------------------------------

// ColumnType is the storage type of a column.
type ColumnType int

// Column storage types.
const (
	ColumnFloat64 ColumnType = iota
	ColumnInt64
	ColumnString
)

// String returns the type name used in archives.
func (c ColumnType) String() string {
	switch c {
	case ColumnFloat64:
		return "float64"
	case ColumnInt64:
		return "int64"
	case ColumnString:
		return "string"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(c))
	}
}

func parseColumnType(s string) (ColumnType, error) {
	switch s {
	case "float64":
		return ColumnFloat64, nil
	case "int64":
		return ColumnInt64, nil
	case "string":
		return ColumnString, nil
	}
	return 0, fmt.Errorf("oifits: column type %q: %w", s, ErrInvalidFormat)
}

// Column is a row-major table column. Each row holds Width cells.
//
// Spectral columns hold one cell per wavelength channel of the table's
// wavelength table.
type Column struct {
	Name     string
	Type     ColumnType
	Width    int
	Spectral bool

	floats  []float64
	ints    []int64
	strings []string
}

// NewFloatColumn creates a float column of the given row width.
func NewFloatColumn(name string, width int, values []float64) *Column {
	return &Column{Name: name, Type: ColumnFloat64, Width: max(width, 1), floats: values}
}

// NewSpectralColumn creates a float column with one cell per channel.
func NewSpectralColumn(name string, channels int, values []float64) *Column {
	c := NewFloatColumn(name, channels, values)
	c.Spectral = true
	return c
}

// NewIntColumn creates an integer column of the given row width.
func NewIntColumn(name string, width int, values []int64) *Column {
	return &Column{Name: name, Type: ColumnInt64, Width: max(width, 1), ints: values}
}

// NewStringColumn creates a single-cell string column.
func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Type: ColumnString, Width: 1, strings: values}
}

// Len returns the number of rows.
func (c *Column) Len() int {
	switch c.Type {
	case ColumnFloat64:
		return len(c.floats) / c.Width
	case ColumnInt64:
		return len(c.ints) / c.Width
	default:
		return len(c.strings)
	}
}

func (c *Column) cells() int {
	switch c.Type {
	case ColumnFloat64:
		return len(c.floats)
	case ColumnInt64:
		return len(c.ints)
	default:
		return len(c.strings)
	}
}

// Float64s returns the raw float cells.
func (c *Column) Float64s() []float64 { return c.floats }

// Int64s returns the raw integer cells.
func (c *Column) Int64s() []int64 { return c.ints }

// Strings returns the raw string cells.
func (c *Column) Strings() []string { return c.strings }

// Float returns the cell at (row, col) as a float, converting integers.
func (c *Column) Float(row, col int) float64 {
	i := row*c.Width + col
	switch c.Type {
	case ColumnFloat64:
		return c.floats[i]
	case ColumnInt64:
		return float64(c.ints[i])
	default:
		return math.NaN()
	}
}

// Int returns the integer cell at (row, col).
func (c *Column) Int(row, col int) int64 {
	i := row*c.Width + col
	if c.Type == ColumnFloat64 {
		return int64(c.floats[i])
	}
	return c.ints[i]
}

// StringAt returns the string cell of a row.
func (c *Column) StringAt(row int) string {
	if c.Type != ColumnString {
		return ""
	}
	return c.strings[row]
}

// take copies the given rows and, for spectral columns, the given channels.
// A nil channel list keeps every channel; channels beyond the column width
// are skipped.
func (c *Column) take(rows, channels []int) *Column {
	width := c.Width
	if c.Spectral && channels != nil {
		channels = slices.DeleteFunc(slices.Clone(channels), func(ch int) bool {
			return ch < 0 || ch >= width
		})
	}
	pick := func(base int, emit func(int)) {
		if c.Spectral && channels != nil {
			for _, ch := range channels {
				emit(base + ch)
			}
			return
		}
		for j := range width {
			emit(base + j)
		}
	}
	out := &Column{Name: c.Name, Type: c.Type, Width: width, Spectral: c.Spectral}
	if c.Spectral && channels != nil {
		out.Width = max(len(channels), 1)
	}
	switch c.Type {
	case ColumnFloat64:
		out.floats = make([]float64, 0, len(rows)*out.Width)
		for _, r := range rows {
			pick(r*width, func(i int) { out.floats = append(out.floats, c.floats[i]) })
		}
	case ColumnInt64:
		out.ints = make([]int64, 0, len(rows)*out.Width)
		for _, r := range rows {
			pick(r*width, func(i int) { out.ints = append(out.ints, c.ints[i]) })
		}
	default:
		out.strings = make([]string, 0, len(rows))
		for _, r := range rows {
			out.strings = append(out.strings, c.strings[r])
		}
	}
	return out
}

func (c *Column) appendRows(o *Column) {
	c.floats = append(c.floats, o.floats...)
	c.ints = append(c.ints, o.ints...)
	c.strings = append(c.strings, o.strings...)
}

// -----------------------------------------------------------------------------
// Tables
// -----------------------------------------------------------------------------

// Table is a typed binary table: header keywords plus columns of equal length.
type Table struct {
	kind   TableKind
	extNb  int
	extVer int
	file   *File
	rows   int

	keywords map[string]any
	kwOrder  []string
	columns  []*Column
	colIndex map[string]int
}

// NewTable creates an empty table of the given kind and row count.
func NewTable(kind TableKind, rows int) *Table {
	return &Table{
		kind:     kind,
		extNb:    -1,
		rows:     rows,
		keywords: make(map[string]any),
		colIndex: make(map[string]int),
	}
}

// Kind returns the table kind.
func (t *Table) Kind() TableKind { return t.kind }

// ExtNb returns the extension number assigned at registration, or -1.
func (t *Table) ExtNb() int { return t.extNb }

// ExtVer returns the per-kind extension version.
func (t *Table) ExtVer() int { return t.extVer }

// File returns the owning file, if any.
func (t *Table) File() *File { return t.file }

// NbRows returns the row count.
func (t *Table) NbRows() int { return t.rows }

// String returns "<EXTNAME>#<extNb>".
func (t *Table) String() string {
	return fmt.Sprintf("%s#%d", t.kind, t.extNb)
}

// SetKeyword sets a header keyword. Values are stored as string, float64
// or int64.
func (t *Table) SetKeyword(name string, value any) {
	name = strings.ToUpper(name)
	switch v := value.(type) {
	case int:
		value = int64(v)
	case int32:
		value = int64(v)
	case float32:
		value = float64(v)
	}
	if _, ok := t.keywords[name]; !ok {
		t.kwOrder = append(t.kwOrder, name)
	}
	t.keywords[name] = value
}

// DeleteKeyword removes a header keyword.
func (t *Table) DeleteKeyword(name string) {
	name = strings.ToUpper(name)
	if _, ok := t.keywords[name]; !ok {
		return
	}
	delete(t.keywords, name)
	for i, k := range t.kwOrder {
		if k == name {
			t.kwOrder = append(t.kwOrder[:i], t.kwOrder[i+1:]...)
			break
		}
	}
}

// Keyword returns a raw keyword value.
func (t *Table) Keyword(name string) (any, bool) {
	v, ok := t.keywords[strings.ToUpper(name)]
	return v, ok
}

// KeywordNames returns keyword names in insertion order.
func (t *Table) KeywordNames() []string {
	return append([]string(nil), t.kwOrder...)
}

// KeywordString returns a string keyword, or "" when absent.
func (t *Table) KeywordString(name string) string {
	v, _ := t.Keyword(name)
	s, _ := v.(string)
	return s
}

// KeywordFloat returns a numeric keyword as float64.
func (t *Table) KeywordFloat(name string) (float64, bool) {
	v, _ := t.Keyword(name)
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AddColumn appends a column. Its row count must match the table.
func (t *Table) AddColumn(c *Column) error {
	if c.cells()%c.Width != 0 || c.Len() != t.rows {
		return fmt.Errorf("oifits: column %s of %s has %d rows, want %d: %w",
			c.Name, t.kind, c.Len(), t.rows, ErrSchemaViolation)
	}
	name := strings.ToUpper(c.Name)
	c.Name = name
	if i, ok := t.colIndex[name]; ok {
		t.columns[i] = c
		return nil
	}
	t.colIndex[name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	i, ok := t.colIndex[strings.ToUpper(name)]
	if !ok {
		return nil
	}
	return t.columns[i]
}

// Columns returns the columns in declaration order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.columns...)
}

// -----------------------------------------------------------------------------
// Domain accessors
// -----------------------------------------------------------------------------

// Name returns the indexed name of a name-bearing table (INSNAME, ARRNAME
// or CORRNAME), or "" for other kinds.
func (t *Table) Name() string {
	if kw := kinds[t.kind].nameKeyword; kw != "" {
		return t.KeywordString(kw)
	}
	return ""
}

// InsName returns the INSNAME keyword.
func (t *Table) InsName() string { return t.KeywordString(KeywordInsName) }

// ArrName returns the ARRNAME keyword.
func (t *Table) ArrName() string { return t.KeywordString(KeywordArrName) }

// CorrName returns the CORRNAME keyword.
func (t *Table) CorrName() string { return t.KeywordString(KeywordCorrName) }

func (t *Table) floatColumn(name string) []float64 {
	c := t.Column(name)
	if c == nil || c.Type != ColumnFloat64 {
		return nil
	}
	return c.floats
}

// EffWave returns the EFF_WAVE column of a wavelength table.
func (t *Table) EffWave() []float64 { return t.floatColumn(ColumnEffWave) }

// EffBand returns the EFF_BAND column of a wavelength table.
func (t *Table) EffBand() []float64 { return t.floatColumn(ColumnEffBand) }

// NbChannels returns the channel count of a wavelength table.
func (t *Table) NbChannels() int { return len(t.EffWave()) }

// TargetIDs returns the TARGET_ID column.
func (t *Table) TargetIDs() []int64 {
	c := t.Column(ColumnTargetID)
	if c == nil || c.Type != ColumnInt64 {
		return nil
	}
	return c.ints
}

// MJD returns the observation date of a row. Tables without an MJD column
// fall back to DATE-OBS.
func (t *Table) MJD(row int) float64 {
	if c := t.Column(ColumnMJD); c != nil && row < c.Len() {
		return c.Float(row, 0)
	}
	if d, ok := parseDateObs(t.KeywordString(KeywordDateObs)); ok {
		return d
	}
	return math.NaN()
}

// StaIndex returns the station indexes of a row.
func (t *Table) StaIndex(row int) []int64 {
	c := t.Column(ColumnStaIndex)
	if c == nil || c.Type != ColumnInt64 || row >= c.Len() {
		return nil
	}
	return c.ints[row*c.Width : (row+1)*c.Width]
}

// Longitude returns the array longitude in degrees derived from the
// geocentric ARRAYX/ARRAYY keywords, or 0 when they are absent.
func (t *Table) Longitude() float64 {
	x, okX := t.KeywordFloat(KeywordArrayX)
	y, okY := t.KeywordFloat(KeywordArrayY)
	if !okX || !okY || (x == 0 && y == 0) {
		return 0
	}
	return math.Atan2(y, x) * 180 / math.Pi
}

// StationNames maps station indexes to names for an array table.
func (t *Table) StationNames() map[int64]string {
	idx := t.Column(ColumnStaIndex)
	names := t.Column(ColumnStaName)
	if idx == nil || names == nil {
		return nil
	}
	out := make(map[int64]string, idx.Len())
	for r := range idx.Len() {
		out[idx.Int(r, 0)] = strings.TrimSpace(names.StringAt(r))
	}
	return out
}

// Targets returns the target rows of a target table.
func (t *Table) Targets() map[int64]Target {
	ids := t.Column(ColumnTargetID)
	names := t.Column(ColumnTarget)
	if ids == nil || names == nil {
		return nil
	}
	ra := t.Column(ColumnRA)
	dec := t.Column(ColumnDec)
	out := make(map[int64]Target, ids.Len())
	for r := range ids.Len() {
		tg := Target{Name: strings.TrimSpace(names.StringAt(r)), RA: math.NaN(), Dec: math.NaN()}
		if ra != nil {
			tg.RA = ra.Float(r, 0)
		}
		if dec != nil {
			tg.Dec = dec.Float(r, 0)
		}
		out[ids.Int(r, 0)] = tg
	}
	return out
}

const mjdUnixEpoch = 40587.0

func parseDateObs(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return mjdOf(ts), true
		}
	}
	return 0, false
}

func mjdOf(ts time.Time) float64 {
	return mjdUnixEpoch + float64(ts.UnixNano())/float64(24*time.Hour)
}

// clone copies keywords and columns into a fresh unregistered table.
func (t *Table) clone() *Table {
	out := NewTable(t.kind, t.rows)
	for _, k := range t.kwOrder {
		out.SetKeyword(k, t.keywords[k])
	}
	for _, c := range t.columns {
		cp := *c
		out.colIndex[c.Name] = len(out.columns)
		out.columns = append(out.columns, &cp)
	}
	return out
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewTargetTable builds a target table from parallel columns.
func NewTargetTable(ids []int64, names []string, ra, dec []float64) (*Table, error) {
	t := NewTable(KindTarget, len(ids))
	for _, c := range []*Column{
		NewIntColumn(ColumnTargetID, 1, ids),
		NewStringColumn(ColumnTarget, names),
		NewFloatColumn(ColumnRA, 1, ra),
		NewFloatColumn(ColumnDec, 1, dec),
	} {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NewArrayTable builds an array table with its station list.
func NewArrayTable(arrName string, staIndex []int64, staNames []string) (*Table, error) {
	t := NewTable(KindArray, len(staIndex))
	t.SetKeyword(KeywordArrName, arrName)
	if err := t.AddColumn(NewIntColumn(ColumnStaIndex, 1, staIndex)); err != nil {
		return nil, err
	}
	if err := t.AddColumn(NewStringColumn(ColumnStaName, staNames)); err != nil {
		return nil, err
	}
	return t, nil
}

// NewWavelengthTable builds a wavelength table. Every EFF_WAVE must be a
// positive number.
func NewWavelengthTable(insName string, effWave, effBand []float64) (*Table, error) {
	if err := validateWavelengths(insName, effWave); err != nil {
		return nil, err
	}
	t := NewTable(KindWavelength, len(effWave))
	t.SetKeyword(KeywordInsName, insName)
	if err := t.AddColumn(NewFloatColumn(ColumnEffWave, 1, effWave)); err != nil {
		return nil, err
	}
	if err := t.AddColumn(NewFloatColumn(ColumnEffBand, 1, effBand)); err != nil {
		return nil, err
	}
	return t, nil
}

// validateWavelengths rejects non-positive and NaN channel wavelengths.
func validateWavelengths(insName string, effWave []float64) error {
	for i, w := range effWave {
		if !(w > 0) {
			return fmt.Errorf("oifits: %s channel %d: %g: %w", insName, i, w, ErrInvalidWavelength)
		}
	}
	return nil
}

// NewCorrTable builds a correlation table.
func NewCorrTable(corrName string, iindx, jindx []int64, corr []float64) (*Table, error) {
	t := NewTable(KindCorr, len(iindx))
	t.SetKeyword(KeywordCorrName, corrName)
	for _, c := range []*Column{
		NewIntColumn(ColumnIIndex, 1, iindx),
		NewIntColumn(ColumnJIndex, 1, jindx),
		NewFloatColumn(ColumnCorr, 1, corr),
	} {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NewDataTable builds a measurement table with its reference keywords and
// the per-row TARGET_ID, MJD and STA_INDEX columns. staIndex is row-major
// with the station width of the kind. Measurement columns are added with
// AddColumn.
func NewDataTable(kind TableKind, insName, arrName string, targetIDs []int64, mjd []float64, staIndex []int64) (*Table, error) {
	if !kind.IsData() {
		return nil, fmt.Errorf("oifits: %s is not a data kind: %w", kind, ErrSchemaViolation)
	}
	t := NewTable(kind, len(targetIDs))
	t.SetKeyword(KeywordInsName, insName)
	if arrName != "" {
		t.SetKeyword(KeywordArrName, arrName)
	}
	if err := t.AddColumn(NewIntColumn(ColumnTargetID, 1, targetIDs)); err != nil {
		return nil, err
	}
	if mjd != nil {
		if err := t.AddColumn(NewFloatColumn(ColumnMJD, 1, mjd)); err != nil {
			return nil, err
		}
	}
	if staIndex != nil {
		if err := t.AddColumn(NewIntColumn(ColumnStaIndex, kinds[kind].staWidth, staIndex)); err != nil {
			return nil, err
		}
	}
	return t, nil
}
