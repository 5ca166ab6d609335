package oifits

import (
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// SelectOption configures Select.
type SelectOption func(*selectConfig)

type selectConfig struct {
	parallelism int
}

// WithParallelism bounds the number of tables evaluated concurrently.
// Values below 1 mean GOMAXPROCS.
func WithParallelism(n int) SelectOption {
	return func(c *selectConfig) { c.parallelism = n }
}

// tableOutcome is the verdict on one data table.
type tableOutcome struct {
	accepted bool
	granules []Granule
	// rows is nil when every row passes
	rows *IndexMask
}

// Select evaluates s over every data table of c. A nil selector selects
// everything.
//
// Wavelength masks are computed once per wavelength table before data
// tables are evaluated in parallel; outcomes are gathered in collection
// order so the result does not depend on scheduling.
func Select(c *Collection, s *Selector, opts ...SelectOption) *SelectorResult {
	cfg := selectConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.parallelism < 1 {
		cfg.parallelism = runtime.GOMAXPROCS(0)
	}
	if s == nil {
		s = NewSelector()
	}

	r := NewSelectorResult(c)
	r.SetSelector(s)

	tables := c.DataTables()
	if s.hasWavelengthFilter() {
		for _, t := range tables {
			ti := c.info[t]
			if ti == nil || ti.wave == nil {
				continue
			}
			if _, done := r.waveMasks[ti.wave]; done {
				continue
			}
			if m, restricted := wavelengthMask(ti.wave, s); restricted {
				if m.IsEmpty() {
					m = nil
				}
				r.PutWavelengthMask(ti.wave, m)
			}
		}
	}

	outcomes := make([]tableOutcome, len(tables))
	var g errgroup.Group
	g.SetLimit(cfg.parallelism)
	for i, t := range tables {
		g.Go(func() error {
			outcomes[i] = evalTable(c, s, r.waveMasks, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range tables {
		o := outcomes[i]
		if !o.accepted {
			continue
		}
		r.AddTable(t, o.granules...)
		if o.rows != nil {
			r.PutRowMask(t, o.rows)
		}
	}
	c.log.Debug("selection done",
		"selector", s.String(), "tables", len(tables), "accepted", len(r.tables))
	return r
}

// wavelengthMask returns the channels of w passing the EFF_WAVE and
// EFF_BAND filters, and whether any channel was rejected.
func wavelengthMask(w *Table, s *Selector) (*IndexMask, bool) {
	wave, band := w.EffWave(), w.EffBand()
	waveRanges := s.Ranges(FilterEffWave)
	bandRanges := s.Ranges(FilterEffBand)
	keep := make([]int, 0, len(wave))
	for i, v := range wave {
		if waveRanges != nil && !inRanges(waveRanges, v) {
			continue
		}
		if bandRanges != nil && (i >= len(band) || !inRanges(bandRanges, band[i])) {
			continue
		}
		keep = append(keep, i)
	}
	if len(keep) == len(wave) {
		return nil, false
	}
	return NewIndexMask(len(wave), keep...), true
}

// evalTable applies every criterion of s to one data table. It only reads
// shared state.
func evalTable(c *Collection, s *Selector, waveMasks map[*Table]*IndexMask, t *Table) tableOutcome {
	ti := c.info[t]
	if ti == nil {
		return tableOutcome{}
	}

	var channels []int
	if s.hasWavelengthFilter() {
		if ti.wave == nil {
			return tableOutcome{}
		}
		m, ok := waveMasks[ti.wave]
		if ok && m == nil {
			return tableOutcome{}
		}
		if ok {
			channels = m.Indices()
		}
	}

	if f := s.filter(FilterStaConf); f != nil {
		conf := ti.staConf
		if conf == "" {
			conf = staConfOf(t, ti.array)
		}
		if !slices.Contains(f.values, conf) {
			return tableOutcome{}
		}
	}

	var stations map[int64]string
	baselines := s.filter(FilterStaIndex)
	if baselines != nil && ti.array != nil {
		stations = ti.array.StationNames()
	}

	type columnFilter struct {
		col    *Column
		ranges []Range
	}
	var mjdRanges []Range
	var columns []columnFilter
	for _, f := range s.filters {
		switch f.name {
		case FilterMJD:
			mjdRanges = f.ranges
		case FilterEffWave, FilterEffBand, FilterStaIndex, FilterStaConf:
		default:
			// tables lacking the column are not constrained by it
			if col := t.Column(f.name); col != nil && col.Type != ColumnString {
				columns = append(columns, columnFilter{col: col, ranges: f.ranges})
			}
		}
	}

	keep := make([]int, 0, t.NbRows())
	var granules []Granule
	seen := make(map[int]struct{})
	for row := range t.NbRows() {
		gi := ti.rowGranule[row]
		if gi < 0 {
			continue
		}
		g := ti.granules[gi]
		if uid, ok := s.TargetUID(); ok {
			name := g.Target.Name
			if s.targetMode == MatchExact {
				name = ti.rowTarget[row]
			}
			if name != uid {
				continue
			}
		}
		if uid, ok := s.InsModeUID(); ok {
			name := g.InsMode.Name
			if s.insModeMode == MatchExact {
				name = ti.rawMode.Name
			}
			if name != uid {
				continue
			}
		}
		if n, ok := s.NightID(); ok && g.Night != n {
			continue
		}
		if mjdRanges != nil && !inRanges(mjdRanges, t.MJD(row)) {
			continue
		}
		if baselines != nil && !slices.Contains(baselines.values, BaselineLabel(t.StaIndex(row), stations)) {
			continue
		}
		pass := true
		for _, cf := range columns {
			if !rowInRanges(cf.col, row, channels, cf.ranges) {
				pass = false
				break
			}
		}
		if !pass {
			continue
		}
		keep = append(keep, row)
		if _, ok := seen[gi]; !ok {
			seen[gi] = struct{}{}
			granules = append(granules, g)
		}
	}

	if len(keep) == 0 {
		return tableOutcome{}
	}
	out := tableOutcome{accepted: true, granules: granules}
	if len(keep) < t.NbRows() {
		out.rows = NewIndexMask(t.NbRows(), keep...)
	}
	return out
}

// rowInRanges reports whether any relevant cell of a row lies in ranges.
// Spectral columns only consider the masked channels.
func rowInRanges(col *Column, row int, channels []int, ranges []Range) bool {
	if col.Spectral && channels != nil {
		for _, ch := range channels {
			if ch < col.Width && inRanges(ranges, col.Float(row, ch)) {
				return true
			}
		}
		return false
	}
	for j := range col.Width {
		if inRanges(ranges, col.Float(row, j)) {
			return true
		}
	}
	return false
}
