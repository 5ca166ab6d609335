package oifits

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"
)

// File is the registry of the tables of one OIFITS file.
//
// Registration assigns extension numbers and per-kind versions and keeps a
// name index for wavelength, array and correlation tables. A File is not
// safe for concurrent mutation; once built it may be read concurrently.
type File struct {
	path string
	log  *slog.Logger

	tables []*Table
	byKind [kindCount][]*Table
	names  [kindCount]map[string][]*Table

	waveMin, waveMax float64

	// granule index, filled by the owning collection
	granules     map[GranuleKey][]*Table
	granuleOrder []GranuleKey
}

// FileOption configures a File.
type FileOption func(*File)

// WithPath records the source path of a file.
func WithPath(path string) FileOption {
	return func(f *File) { f.path = path }
}

// WithFileLogger sets the logger used for registration warnings.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *File) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFile returns an empty file.
func NewFile(opts ...FileOption) *File {
	f := &File{
		log:     slog.Default(),
		waveMin: math.Inf(1),
		waveMax: math.Inf(-1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the source path, or "" for files built in memory.
func (f *File) Path() string { return f.path }

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// Register adds a table. A file holds at most one target table.
func (f *File) Register(t *Table) error {
	if t.file != nil {
		return fmt.Errorf("oifits: register %s: %w", t, ErrTableRegistered)
	}
	if t.kind == KindTarget && len(f.byKind[KindTarget]) > 0 {
		return fmt.Errorf("oifits: register %s: %w", t.kind, ErrTargetExists)
	}
	if t.kind == KindWavelength {
		if err := validateWavelengths(t.InsName(), t.EffWave()); err != nil {
			return fmt.Errorf("oifits: register %s: %w", t, err)
		}
	}

	t.file = f
	t.extNb = len(f.tables) + 1
	if t.extVer == 0 {
		t.extVer = len(f.byKind[t.kind]) + 1
	}
	f.tables = append(f.tables, t)
	f.byKind[t.kind] = append(f.byKind[t.kind], t)
	f.index(t)

	if t.kind == KindWavelength {
		f.updateBounds(t)
	}
	f.SetChanged()
	return nil
}

// Unregister removes a table and reports whether it was registered here.
// The remaining tables are renumbered 1..n in order, and name indexes and
// wavelength bounds are rebuilt from them.
func (f *File) Unregister(t *Table) bool {
	i := slices.Index(f.tables, t)
	if i < 0 {
		return false
	}
	f.tables = slices.Delete(f.tables, i, i+1)
	if j := slices.Index(f.byKind[t.kind], t); j >= 0 {
		f.byKind[t.kind] = slices.Delete(f.byKind[t.kind], j, j+1)
	}
	t.file = nil
	t.extNb = -1

	f.names = [kindCount]map[string][]*Table{}
	f.waveMin, f.waveMax = math.Inf(1), math.Inf(-1)
	for i, rt := range f.tables {
		rt.extNb = i + 1
		f.index(rt)
		if rt.kind == KindWavelength {
			f.updateBounds(rt)
		}
	}
	f.SetChanged()
	return true
}

func (f *File) index(t *Table) {
	if kinds[t.kind].nameKeyword == "" {
		return
	}
	name := t.Name()
	if name == "" {
		f.log.Warn("table registered without name",
			"table", t.String(), "keyword", kinds[t.kind].nameKeyword, "path", f.path)
		return
	}
	if f.names[t.kind] == nil {
		f.names[t.kind] = make(map[string][]*Table)
	}
	f.names[t.kind][name] = append(f.names[t.kind][name], t)
}

func (f *File) updateBounds(t *Table) {
	for _, w := range t.EffWave() {
		if w < f.waveMin {
			f.waveMin = w
		}
		if w > f.waveMax {
			f.waveMax = w
		}
	}
}

// SetChanged drops derived indexes after a structural change.
func (f *File) SetChanged() {
	f.granules = nil
	f.granuleOrder = nil
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Tables returns every registered table in registration order.
func (f *File) Tables() []*Table { return slices.Clone(f.tables) }

// TablesOf returns the tables of one kind in registration order.
func (f *File) TablesOf(kind TableKind) []*Table { return slices.Clone(f.byKind[kind]) }

// DataTables returns the measurement tables in registration order.
func (f *File) DataTables() []*Table {
	var out []*Table
	for _, t := range f.tables {
		if t.kind.IsData() {
			out = append(out, t)
		}
	}
	return out
}

// HasData reports whether the file holds measurements.
func (f *File) HasData() bool {
	for _, t := range f.tables {
		if t.kind.IsData() {
			return true
		}
	}
	return false
}

// Target returns the target table, or nil.
func (f *File) Target() *Table {
	if ts := f.byKind[KindTarget]; len(ts) > 0 {
		return ts[0]
	}
	return nil
}

// Lookup returns the first table of kind indexed under name.
func (f *File) Lookup(kind TableKind, name string) (*Table, bool) {
	ts := f.names[kind][name]
	if len(ts) == 0 {
		return nil, false
	}
	return ts[0], true
}

// NameCount returns how many tables of kind are indexed under name.
func (f *File) NameCount(kind TableKind, name string) int {
	return len(f.names[kind][name])
}

// AcceptedNames returns the sorted names indexed for kind.
func (f *File) AcceptedNames(kind TableKind) []string {
	out := make([]string, 0, len(f.names[kind]))
	for name := range f.names[kind] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// WavelengthBounds returns the smallest and largest EFF_WAVE over every
// wavelength table; ok is false when there is none.
func (f *File) WavelengthBounds() (lo, hi float64, ok bool) {
	if math.IsInf(f.waveMin, 1) {
		return math.NaN(), math.NaN(), false
	}
	return f.waveMin, f.waveMax, true
}

// Granules returns the granule keys indexed by the owning collection in
// first-seen order.
func (f *File) Granules() []GranuleKey { return slices.Clone(f.granuleOrder) }

// GranuleTables returns the data tables holding rows of a granule.
func (f *File) GranuleTables(k GranuleKey) []*Table { return slices.Clone(f.granules[k]) }

func (f *File) indexGranule(k GranuleKey, t *Table) {
	if f.granules == nil {
		f.granules = make(map[GranuleKey][]*Table)
	}
	ts, ok := f.granules[k]
	if !ok {
		f.granuleOrder = append(f.granuleOrder, k)
	}
	if !slices.Contains(ts, t) {
		f.granules[k] = append(ts, t)
	}
}

// Write persists the file through w.
func (f *File) Write(ctx context.Context, w FileWriter, path string) error {
	return w.Write(ctx, path, f)
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Check runs v, when not nil, and then the structural and cross-reference
// rules of the file. It never fails; defects are reported.
func (f *File) Check(v Validator) *Report {
	start := time.Now()
	report := NewReport()
	if v != nil {
		report.Merge(v.Validate(f))
	}

	if f.Target() == nil {
		report.addf(RuleTargetExist, SeverityError, nil, "no %s table", KindTarget)
	}
	if len(f.byKind[KindWavelength]) == 0 {
		report.addf(RuleWavelengthExist, SeverityError, nil, "no %s table", KindWavelength)
	}
	if tt := f.Target(); tt != nil && tt.NbRows() == 0 {
		report.addf(RuleTargetRowExist, SeverityError, tt, "no target row")
	}

	var ids map[int64]Target
	if tt := f.Target(); tt != nil {
		ids = tt.Targets()
	}
	for _, t := range f.DataTables() {
		f.checkRef(report, t, KindWavelength, t.InsName(), true, RuleInsNameRef, RuleInsNameUniq)
		f.checkRef(report, t, KindArray, t.ArrName(), false, RuleArrNameRef, RuleArrNameUniq)
		f.checkRef(report, t, KindCorr, t.CorrName(), false, RuleCorrNameRef, RuleCorrNameUniq)
		if ids != nil {
			for _, id := range t.TargetIDs() {
				if _, ok := ids[id]; !ok {
					report.addf(RuleTargetIDRef, SeverityError, t, "TARGET_ID %d not in %s", id, KindTarget)
					break
				}
			}
		}
	}

	f.log.Debug("file checked", "path", f.path, "failures", report.Len(), "duration", time.Since(start))
	return report
}

func (f *File) checkRef(r *Report, t *Table, kind TableKind, name string, required bool, refRule, uniqRule string) {
	keyword := kinds[kind].nameKeyword
	if name == "" {
		if required {
			r.addf(refRule, SeverityError, t, "missing %s", keyword)
		}
		return
	}
	switch n := f.NameCount(kind, name); {
	case n == 0:
		r.addf(refRule, SeverityError, t, "%s %q matches no %s table", keyword, name, kind)
	case n > 1:
		r.addf(uniqRule, SeverityError, t, "%s %q matches %d %s tables", keyword, name, n, kind)
	}
}
