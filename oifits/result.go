package oifits

import (
	"cmp"
	"slices"
)

// SelectorResult holds what a selection accepted: data tables, their
// granules, and the row and wavelength masks restricting them.
//
// Masks follow a three-state convention. A table without an entry is
// unconstrained; an entry holds the accepted indices; a nil entry rejects
// everything.
type SelectorResult struct {
	collection *Collection
	selector   *Selector

	tables        []*Table
	tableGranules map[*Table][]Granule
	granules      map[GranuleKey]Granule
	rowMasks      map[*Table]*IndexMask
	waveMasks     map[*Table]*IndexMask

	sortedTables  []*Table
	sortedGrans   []Granule
	targets       []Target
	modes         []InstrumentMode
	nights        []NightID
	sortedCached  bool
	distinctValid bool
}

// NewSelectorResult returns an empty result over c.
func NewSelectorResult(c *Collection) *SelectorResult {
	r := &SelectorResult{collection: c}
	r.Reset()
	return r
}

// Reset clears every accepted table, granule and mask.
func (r *SelectorResult) Reset() {
	r.selector = nil
	r.tables = nil
	r.tableGranules = make(map[*Table][]Granule)
	r.granules = make(map[GranuleKey]Granule)
	r.rowMasks = make(map[*Table]*IndexMask)
	r.waveMasks = make(map[*Table]*IndexMask)
	r.invalidate()
}

func (r *SelectorResult) invalidate() {
	r.sortedCached = false
	r.distinctValid = false
	r.sortedTables, r.sortedGrans = nil, nil
	r.targets, r.modes, r.nights = nil, nil, nil
}

// Collection returns the collection the result was drawn from.
func (r *SelectorResult) Collection() *Collection { return r.collection }

// Selector returns the selector used, or nil.
func (r *SelectorResult) Selector() *Selector { return r.selector }

// HasSelector reports whether a selector was used.
func (r *SelectorResult) HasSelector() bool { return r.selector != nil }

// SetSelector records the selector that produced the result.
func (r *SelectorResult) SetSelector(s *Selector) { r.selector = s }

// IsEmpty reports whether no data table was accepted.
func (r *SelectorResult) IsEmpty() bool { return len(r.tables) == 0 }

// AddTable accepts a data table with the granules of its accepted rows.
// Adding a table twice merges its granules.
func (r *SelectorResult) AddTable(t *Table, granules ...Granule) {
	if _, ok := r.tableGranules[t]; !ok {
		r.tables = append(r.tables, t)
		r.tableGranules[t] = nil
	}
	for _, g := range granules {
		k := g.Key()
		if _, ok := r.granules[k]; !ok {
			r.granules[k] = g
		}
		if !slices.ContainsFunc(r.tableGranules[t], func(o Granule) bool { return o.Key() == k }) {
			r.tableGranules[t] = append(r.tableGranules[t], g)
		}
	}
	r.invalidate()
}

// Tables returns the accepted tables in insertion order.
func (r *SelectorResult) Tables() []*Table { return slices.Clone(r.tables) }

// TableGranules returns the accepted granules of a table.
func (r *SelectorResult) TableGranules(t *Table) []Granule {
	return slices.Clone(r.tableGranules[t])
}

// HasGranule reports whether a granule was accepted.
func (r *SelectorResult) HasGranule(k GranuleKey) bool {
	_, ok := r.granules[k]
	return ok
}

// PutRowMask restricts the rows of a table. A nil mask rejects every row.
func (r *SelectorResult) PutRowMask(t *Table, m *IndexMask) { r.rowMasks[t] = m }

// RowMask returns the row mask of a table; ok is false when unconstrained.
func (r *SelectorResult) RowMask(t *Table) (m *IndexMask, ok bool) {
	m, ok = r.rowMasks[t]
	return m, ok
}

// PutWavelengthMask restricts the channels of a wavelength table. A nil
// mask rejects every channel.
func (r *SelectorResult) PutWavelengthMask(t *Table, m *IndexMask) { r.waveMasks[t] = m }

// WavelengthMask returns the channel mask of a wavelength table; ok is
// false when unconstrained.
func (r *SelectorResult) WavelengthMask(t *Table) (m *IndexMask, ok bool) {
	m, ok = r.waveMasks[t]
	return m, ok
}

// -----------------------------------------------------------------------------
// Sorted views
// -----------------------------------------------------------------------------

func (r *SelectorResult) sortViews() {
	if r.sortedCached {
		return
	}
	r.sortedTables = slices.Clone(r.tables)
	slices.SortStableFunc(r.sortedTables, func(a, b *Table) int {
		if c := cmp.Compare(r.fileRank(a.file), r.fileRank(b.file)); c != 0 {
			return c
		}
		return cmp.Compare(a.extNb, b.extNb)
	})
	r.sortedGrans = make([]Granule, 0, len(r.granules))
	for _, g := range r.granules {
		r.sortedGrans = append(r.sortedGrans, g)
	}
	slices.SortFunc(r.sortedGrans, CompareGranules)
	r.sortedCached = true
}

func (r *SelectorResult) fileRank(f *File) int {
	if r.collection == nil {
		return 0
	}
	return r.collection.rank(f)
}

func (r *SelectorResult) distinct() {
	if r.distinctValid {
		return
	}
	r.sortViews()
	tseen := make(map[string]struct{})
	mseen := make(map[string]struct{})
	nseen := make(map[NightID]struct{})
	for _, g := range r.sortedGrans {
		if _, ok := tseen[g.Target.Name]; !ok {
			tseen[g.Target.Name] = struct{}{}
			r.targets = append(r.targets, g.Target)
		}
		if _, ok := mseen[g.InsMode.Name]; !ok {
			mseen[g.InsMode.Name] = struct{}{}
			r.modes = append(r.modes, g.InsMode)
		}
		if _, ok := nseen[g.Night]; !ok {
			nseen[g.Night] = struct{}{}
			r.nights = append(r.nights, g.Night)
		}
	}
	slices.SortFunc(r.targets, CompareTargets)
	slices.SortFunc(r.modes, CompareInstrumentModes)
	slices.Sort(r.nights)
	r.distinctValid = true
}

// SortedTables returns the accepted tables by source file order, then
// extension number.
func (r *SelectorResult) SortedTables() []*Table {
	r.sortViews()
	return slices.Clone(r.sortedTables)
}

// SortedFiles returns the files of the accepted tables in collection order.
func (r *SelectorResult) SortedFiles() []*File {
	r.sortViews()
	var out []*File
	for _, t := range r.sortedTables {
		if len(out) == 0 || out[len(out)-1] != t.file {
			out = append(out, t.file)
		}
	}
	return out
}

// Granules returns the accepted granules, sorted.
func (r *SelectorResult) Granules() []Granule {
	r.sortViews()
	return slices.Clone(r.sortedGrans)
}

// DistinctTargets returns the targets of the accepted granules, sorted by
// case-insensitive name.
func (r *SelectorResult) DistinctTargets() []Target {
	r.distinct()
	return slices.Clone(r.targets)
}

// DistinctInstrumentModes returns the instrument modes of the accepted
// granules, sorted by case-insensitive name.
func (r *SelectorResult) DistinctInstrumentModes() []InstrumentMode {
	r.distinct()
	return slices.Clone(r.modes)
}

// DistinctNightIDs returns the nights of the accepted granules in
// ascending order.
func (r *SelectorResult) DistinctNightIDs() []NightID {
	r.distinct()
	return slices.Clone(r.nights)
}
