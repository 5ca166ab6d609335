package oifits

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Collection is a set of files analysed for data fusion.
//
// Adding a file resolves every data table against the file's wavelength,
// array and target tables and maps each row onto a granule. Targets and
// instrument modes are canonicalised across files with the collection's
// MatchConfig: the first value of a match class represents it.
type Collection struct {
	cfg     MatchConfig
	log     *slog.Logger
	staConf bool

	files    []*File
	fileRank map[*File]int
	targets  *canon[Target, targetKey]
	modes    *canon[InstrumentMode, modeKey]
	info     map[*Table]*tableInfo
	failures []LoadFailure
	report   *Report
}

// tableInfo is the analysis of one data table. It is read-only once built.
type tableInfo struct {
	file  *File
	wave  *Table
	array *Table
	corr  *Table

	rawMode InstrumentMode
	mode    InstrumentMode
	staConf string

	granules []Granule
	// rowGranule indexes granules per row, -1 when the row has no target
	rowGranule []int
	// rowTarget is the target name as written in the file
	rowTarget []string
}

// LoadFailure records a path that could not be loaded into a collection.
type LoadFailure struct {
	Path string
	Err  error
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithMatchConfig sets the matchers used to canonicalise targets and modes.
func WithMatchConfig(cfg MatchConfig) CollectionOption {
	return func(c *Collection) { c.cfg = cfg.normalized() }
}

// WithLogger sets the collection logger.
func WithLogger(l *slog.Logger) CollectionOption {
	return func(c *Collection) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStaConfGranules splits granules by station configuration.
func WithStaConfGranules() CollectionOption {
	return func(c *Collection) { c.staConf = true }
}

// NewCollection returns an empty collection.
func NewCollection(opts ...CollectionOption) *Collection {
	c := &Collection{
		cfg:      DefaultMatchConfig(),
		log:      slog.Default(),
		fileRank: make(map[*File]int),
		info:     make(map[*Table]*tableInfo),
		report:   NewReport(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.targets = newTargetCanon(c.cfg.Target)
	c.modes = newModeCanon(c.cfg.InsMode)
	return c
}

// BuildCollection loads paths concurrently and adds the files in path
// order. With a non-nil validator every loaded file is checked and the
// reports are merged into Report. Paths that fail to load are recorded as failures
// and skipped; only context cancellation aborts the build.
func BuildCollection(ctx context.Context, loader Loader, v Validator, paths []string, opts ...CollectionOption) (*Collection, error) {
	c := NewCollection(opts...)
	start := time.Now()

	files := make([]*File, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			files[i], errs[i] = loader.Load(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("oifits: build collection: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("oifits: build collection: %w", err)
	}

	for i, p := range paths {
		if errs[i] != nil {
			c.log.Warn("skipping file", "path", p, "error", errs[i])
			c.failures = append(c.failures, LoadFailure{Path: p, Err: errs[i]})
			continue
		}
		if v != nil {
			report := files[i].Check(v)
			if report.Len() > 0 {
				c.log.Info("file has failures", "path", p, "failures", report.Len())
			}
			c.report.Merge(report)
		}
		c.AddFile(files[i])
	}

	c.log.Info("collection built",
		"files", len(c.files), "failures", len(c.failures),
		"granules", len(c.Granules()), "duration", time.Since(start))
	return c, nil
}

// AddFile analyses f and adds it. Adding a file twice is a no-op.
func (c *Collection) AddFile(f *File) {
	if _, ok := c.fileRank[f]; ok {
		return
	}
	c.fileRank[f] = len(c.files)
	c.files = append(c.files, f)
	c.analyse(f)
}

func (c *Collection) analyse(f *File) {
	f.SetChanged()

	var targets map[int64]Target
	if tt := f.Target(); tt != nil {
		targets = tt.Targets()
	}

	for _, t := range f.DataTables() {
		ti := &tableInfo{file: f, rawMode: UndefinedInstrumentMode}
		if w, ok := f.Lookup(KindWavelength, t.InsName()); ok {
			ti.wave = w
			ti.rawMode = InstrumentModeOf(w)
		} else {
			c.log.Warn("unresolved wavelength table", "table", t.String(), "insname", t.InsName(), "path", f.path)
		}
		ti.mode = c.modes.resolve(ti.rawMode)
		if a, ok := f.Lookup(KindArray, t.ArrName()); ok {
			ti.array = a
		}
		if cr, ok := f.Lookup(KindCorr, t.CorrName()); ok {
			ti.corr = cr
		}
		if c.staConf {
			ti.staConf = staConfOf(t, ti.array)
		}

		var lon float64
		if ti.array != nil {
			lon = ti.array.Longitude()
		}

		ids := t.TargetIDs()
		ti.rowGranule = make([]int, t.NbRows())
		ti.rowTarget = make([]string, t.NbRows())
		seen := make(map[GranuleKey]int)
		for row := range t.NbRows() {
			ti.rowGranule[row] = -1
			if row >= len(ids) {
				continue
			}
			raw, ok := targets[ids[row]]
			if !ok {
				continue
			}
			ti.rowTarget[row] = raw.Name
			mjd := t.MJD(row)
			if math.IsNaN(mjd) {
				continue
			}
			g := Granule{
				Target:  c.targets.resolve(raw),
				InsMode: ti.mode,
				Night:   NightOf(mjd, lon),
				StaConf: ti.staConf,
			}
			k := g.Key()
			gi, ok := seen[k]
			if !ok {
				gi = len(ti.granules)
				seen[k] = gi
				ti.granules = append(ti.granules, g)
				f.indexGranule(k, t)
			}
			ti.rowGranule[row] = gi
		}
		c.info[t] = ti
	}
}

// staConfOf returns the sorted, de-duplicated station labels of a table.
func staConfOf(t *Table, array *Table) string {
	var stations map[int64]string
	if array != nil {
		stations = array.StationNames()
	}
	set := make(map[string]struct{})
	for row := range t.NbRows() {
		set[BaselineLabel(t.StaIndex(row), stations)] = struct{}{}
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		if l != "" {
			labels = append(labels, l)
		}
	}
	slices.Sort(labels)
	return strings.Join(labels, " ")
}

// BaselineLabel renders station indexes as sorted station names joined by
// "-". Unknown stations use their index.
func BaselineLabel(idx []int64, stations map[int64]string) string {
	if len(idx) == 0 {
		return ""
	}
	names := make([]string, len(idx))
	for i, s := range idx {
		if n, ok := stations[s]; ok && n != "" {
			names[i] = n
		} else {
			names[i] = fmt.Sprintf("%d", s)
		}
	}
	slices.Sort(names)
	return strings.Join(names, "-")
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// MatchConfig returns the matchers of the collection.
func (c *Collection) MatchConfig() MatchConfig { return c.cfg }

// Files returns the files in insertion order.
func (c *Collection) Files() []*File { return slices.Clone(c.files) }

// IsEmpty reports whether no file was added.
func (c *Collection) IsEmpty() bool { return len(c.files) == 0 }

// Failures returns the paths BuildCollection could not load.
func (c *Collection) Failures() []LoadFailure { return slices.Clone(c.failures) }

// Report returns the merged check reports of the files loaded by
// BuildCollection.
func (c *Collection) Report() *Report { return c.report }

// DataTables returns every data table in file then registration order.
func (c *Collection) DataTables() []*Table {
	var out []*Table
	for _, f := range c.files {
		out = append(out, f.DataTables()...)
	}
	return out
}

// TableGranules returns the granules with rows in a data table.
func (c *Collection) TableGranules(t *Table) []Granule {
	if ti, ok := c.info[t]; ok {
		return slices.Clone(ti.granules)
	}
	return nil
}

// Granules returns every granule of the collection, sorted.
func (c *Collection) Granules() []Granule {
	seen := make(map[GranuleKey]struct{})
	var out []Granule
	for _, f := range c.files {
		for _, t := range f.DataTables() {
			ti := c.info[t]
			if ti == nil {
				continue
			}
			for _, g := range ti.granules {
				if _, ok := seen[g.Key()]; !ok {
					seen[g.Key()] = struct{}{}
					out = append(out, g)
				}
			}
		}
	}
	slices.SortFunc(out, CompareGranules)
	return out
}

// Targets returns the canonical targets, sorted.
func (c *Collection) Targets() []Target {
	out := c.targets.values()
	slices.SortFunc(out, CompareTargets)
	return out
}

// InstrumentModes returns the canonical instrument modes, sorted.
func (c *Collection) InstrumentModes() []InstrumentMode {
	out := c.modes.values()
	slices.SortFunc(out, CompareInstrumentModes)
	return out
}

func (c *Collection) rank(f *File) int {
	if r, ok := c.fileRank[f]; ok {
		return r
	}
	return len(c.files)
}
