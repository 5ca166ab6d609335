package oifits

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
)

// MergerState is the lifecycle stage of a Merger.
type MergerState int

// Merger states in order.
const (
	StateIdle MergerState = iota
	StateScanning
	StateDeduplicating
	StateRebuilding
	StateDone
)

func (s MergerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDeduplicating:
		return "deduplicating"
	case StateRebuilding:
		return "rebuilding"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("MergerState(%d)", int(s))
	}
}

// Merger turns the selection of a collection into one self-consistent file.
//
// A Merger processes once; later calls return ErrMergerDone.
type Merger struct {
	log         *slog.Logger
	parallelism int

	state  MergerState
	result *SelectorResult
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithMergerLogger sets the merger logger.
func WithMergerLogger(l *slog.Logger) MergerOption {
	return func(m *Merger) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMergerParallelism bounds the selection scan of the merger.
func WithMergerParallelism(n int) MergerOption {
	return func(m *Merger) { m.parallelism = n }
}

// NewMerger returns an idle merger.
func NewMerger(opts ...MergerOption) *Merger {
	m := &Merger{log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge selects s from c and merges the result with a fresh Merger.
func Merge(c *Collection, s *Selector, opts ...MergerOption) (*File, error) {
	return NewMerger(opts...).Process(c, s)
}

// State returns the current stage.
func (m *Merger) State() MergerState { return m.state }

// Result returns the selection the merger worked from, once scanned.
func (m *Merger) Result() *SelectorResult { return m.result }

// Process runs the selection and rebuilds the accepted data. It returns a
// nil file and no error when nothing was selected.
func (m *Merger) Process(c *Collection, s *Selector) (*File, error) {
	if m.state != StateIdle {
		return nil, fmt.Errorf("oifits: merge: %w", ErrMergerDone)
	}
	if c == nil {
		return nil, fmt.Errorf("oifits: merge: nil collection")
	}
	start := time.Now()

	m.state = StateScanning
	m.result = Select(c, s, WithParallelism(m.parallelism))
	if m.result.IsEmpty() {
		m.state = StateDone
		m.log.Info("nothing selected", "selector", m.result.Selector().String())
		return nil, nil
	}

	m.state = StateDeduplicating
	p := newMergePlan(c, m.result, m.log)
	if err := p.plan(); err != nil {
		m.state = StateDone
		return nil, fmt.Errorf("oifits: merge: %w", err)
	}

	m.state = StateRebuilding
	out, err := p.build()
	m.state = StateDone
	if err != nil {
		return nil, fmt.Errorf("oifits: merge: %w", err)
	}

	m.log.Info("merge done",
		"tables", len(m.result.Tables()),
		"targets", len(p.targetIDs),
		"wavelengths", len(p.layouts),
		"arrays", len(p.arrays),
		"groups", len(p.groups),
		"duration", time.Since(start))
	return out, nil
}

// -----------------------------------------------------------------------------
// Planning
// -----------------------------------------------------------------------------

// layout is an output wavelength table: the masked channels of a source
// wavelength table, shared by every compatible source.
type layout struct {
	name    string
	mode    string
	effWave []float64
	effBand []float64
}

func (l *layout) compatible(mode string, wave, band []float64) bool {
	if l.mode != mode || len(l.effWave) != len(wave) {
		return false
	}
	for i := range wave {
		prec := lambdaPrecision(at(l.effBand, i), at(band, i))
		if !withinPrecision(l.effWave[i], wave[i], prec) {
			return false
		}
	}
	return true
}

type outArray struct {
	name   string
	source *Table
	sig    string
}

type outCorr struct {
	name   string
	source *Table
}

type groupKey struct {
	kind    TableKind
	granule GranuleKey
	layout  int
	array   int
	corr    int
	columns string
}

type member struct {
	table    *Table
	rows     []int
	channels []int
}

type group struct {
	key     groupKey
	members []member
}

type mergePlan struct {
	c   *Collection
	r   *SelectorResult
	log *slog.Logger

	names     [kindCount]map[string]struct{}
	targetIDs map[string]int64
	targets   []Target

	layouts    []*layout
	waveLayout map[*Table]int
	arrays     []*outArray
	arrayOf    map[*Table]int
	corrs      []*outCorr
	corrOf     map[*Table]int

	groups  []*group
	groupOf map[groupKey]*group
}

func newMergePlan(c *Collection, r *SelectorResult, log *slog.Logger) *mergePlan {
	return &mergePlan{
		c:          c,
		r:          r,
		log:        log,
		targetIDs:  make(map[string]int64),
		waveLayout: make(map[*Table]int),
		arrayOf:    make(map[*Table]int),
		corrOf:     make(map[*Table]int),
		groupOf:    make(map[groupKey]*group),
	}
}

func (p *mergePlan) plan() error {
	for i, tg := range p.r.DistinctTargets() {
		p.targetIDs[tg.Name] = int64(i + 1)
		p.targets = append(p.targets, tg)
	}

	for _, t := range p.r.SortedTables() {
		ti := p.c.info[t]
		if err := checkSpectralWidths(t, ti.wave); err != nil {
			return err
		}
		lay, channels := p.layoutOf(ti)
		arr := p.arrayIndex(ti.array)
		corr := p.corrIndex(ti.corr)
		sig := columnSignature(t)

		rowMask, masked := p.r.RowMask(t)
		byGranule := make(map[int][]int)
		var order []int
		for row := range t.NbRows() {
			if masked && (rowMask == nil || !rowMask.Contains(row)) {
				continue
			}
			gi := ti.rowGranule[row]
			if gi < 0 || !p.r.HasGranule(ti.granules[gi].Key()) {
				continue
			}
			if _, ok := byGranule[gi]; !ok {
				order = append(order, gi)
			}
			byGranule[gi] = append(byGranule[gi], row)
		}

		for _, gi := range order {
			k := groupKey{
				kind:    t.kind,
				granule: ti.granules[gi].Key(),
				layout:  lay,
				array:   arr,
				corr:    corr,
				columns: sig,
			}
			g, ok := p.groupOf[k]
			if !ok {
				g = &group{key: k}
				p.groupOf[k] = g
				p.groups = append(p.groups, g)
			}
			g.members = append(g.members, member{table: t, rows: byGranule[gi], channels: channels})
		}
	}
	return nil
}

// checkSpectralWidths rejects data tables whose spectral columns disagree
// with the channel count of their wavelength table.
func checkSpectralWidths(t, wave *Table) error {
	if wave == nil {
		return nil
	}
	n := wave.NbChannels()
	for _, c := range t.columns {
		if c.Spectral && c.Width != n {
			return fmt.Errorf("%s in %s: %s has %d channels, %s has %d: %w",
				t, t.File().Path(), c.Name, c.Width, wave.InsName(), n, ErrSchemaViolation)
		}
	}
	return nil
}

// layoutOf returns the output wavelength layout of a data table and the
// source channels it keeps, nil meaning all.
func (p *mergePlan) layoutOf(ti *tableInfo) (int, []int) {
	if ti.wave == nil {
		return -1, nil
	}
	var channels []int
	wave, band := ti.wave.EffWave(), ti.wave.EffBand()
	if m, ok := p.r.WavelengthMask(ti.wave); ok && m != nil {
		channels = m.Indices()
		wave, band = pick(wave, channels), pick(band, channels)
	}
	if i, ok := p.waveLayout[ti.wave]; ok {
		return i, channels
	}
	for i, l := range p.layouts {
		if l.compatible(ti.mode.Name, wave, band) {
			p.waveLayout[ti.wave] = i
			return i, channels
		}
	}
	l := &layout{
		name:    p.claim(KindWavelength, ti.mode.Name),
		mode:    ti.mode.Name,
		effWave: slices.Clone(wave),
		effBand: slices.Clone(band),
	}
	p.layouts = append(p.layouts, l)
	p.waveLayout[ti.wave] = len(p.layouts) - 1
	return len(p.layouts) - 1, channels
}

func (p *mergePlan) arrayIndex(a *Table) int {
	if a == nil {
		return -1
	}
	if i, ok := p.arrayOf[a]; ok {
		return i
	}
	sig := arraySignature(a)
	for i, o := range p.arrays {
		if o.sig == sig {
			p.arrayOf[a] = i
			return i
		}
	}
	p.arrays = append(p.arrays, &outArray{name: p.claim(KindArray, a.ArrName()), source: a, sig: sig})
	p.arrayOf[a] = len(p.arrays) - 1
	return len(p.arrays) - 1
}

func (p *mergePlan) corrIndex(cr *Table) int {
	if cr == nil {
		return -1
	}
	if i, ok := p.corrOf[cr]; ok {
		return i
	}
	p.corrs = append(p.corrs, &outCorr{name: p.claim(KindCorr, cr.CorrName()), source: cr})
	p.corrOf[cr] = len(p.corrs) - 1
	return len(p.corrs) - 1
}

// claim reserves a unique output name among the tables of a kind.
func (p *mergePlan) claim(kind TableKind, name string) string {
	if p.names[kind] == nil {
		p.names[kind] = make(map[string]struct{})
	}
	name = uniqueName(name, p.names[kind])
	p.names[kind][name] = struct{}{}
	return name
}

func arraySignature(a *Table) string {
	stations := a.StationNames()
	ids := make([]int64, 0, len(stations))
	for id := range stations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var sb strings.Builder
	sb.WriteString(a.ArrName())
	for _, id := range ids {
		fmt.Fprintf(&sb, "|%d:%s", id, stations[id])
	}
	return sb.String()
}

// columnSignature identifies the column layout of a data table. Spectral
// widths are left out since layouts already compare channels.
func columnSignature(t *Table) string {
	var sb strings.Builder
	for _, c := range t.columns {
		if c.Spectral {
			fmt.Fprintf(&sb, "%s:%s:s;", c.Name, c.Type)
		} else {
			fmt.Fprintf(&sb, "%s:%s:%d;", c.Name, c.Type, c.Width)
		}
	}
	return sb.String()
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return math.NaN()
}

func pick[T any](values []T, idx []int) []T {
	out := make([]T, 0, len(idx))
	for _, i := range idx {
		if i < len(values) {
			out = append(out, values[i])
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Rebuilding
// -----------------------------------------------------------------------------

func (p *mergePlan) build() (*File, error) {
	out := NewFile()

	ids := make([]int64, len(p.targets))
	names := make([]string, len(p.targets))
	ra := make([]float64, len(p.targets))
	dec := make([]float64, len(p.targets))
	for i, tg := range p.targets {
		ids[i], names[i], ra[i], dec[i] = int64(i+1), tg.Name, tg.RA, tg.Dec
	}
	target, err := NewTargetTable(ids, names, ra, dec)
	if err != nil {
		return nil, err
	}
	if err := out.Register(target); err != nil {
		return nil, err
	}

	for _, a := range p.arrays {
		t := a.source.clone()
		t.SetKeyword(KeywordArrName, a.name)
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}
	for _, l := range p.layouts {
		t, err := NewWavelengthTable(l.name, l.effWave, l.effBand)
		if err != nil {
			return nil, err
		}
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}
	for _, cr := range p.corrs {
		t := cr.source.clone()
		t.SetKeyword(KeywordCorrName, cr.name)
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}

	for _, g := range p.groups {
		t, err := p.buildGroup(g)
		if err != nil {
			return nil, err
		}
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *mergePlan) buildGroup(g *group) (*Table, error) {
	first := g.members[0].table
	rows := 0
	for _, mb := range g.members {
		rows += len(mb.rows)
	}

	t := NewTable(g.key.kind, rows)
	for _, k := range first.kwOrder {
		switch k {
		case KeywordInsName, KeywordArrName, KeywordCorrName:
		default:
			t.SetKeyword(k, first.keywords[k])
		}
	}
	if g.key.layout >= 0 {
		t.SetKeyword(KeywordInsName, p.layouts[g.key.layout].name)
	} else {
		t.SetKeyword(KeywordInsName, first.InsName())
	}
	if g.key.array >= 0 {
		t.SetKeyword(KeywordArrName, p.arrays[g.key.array].name)
	}
	if g.key.corr >= 0 {
		t.SetKeyword(KeywordCorrName, p.corrs[g.key.corr].name)
	}

	id := p.targetIDs[g.key.granule.Target]
	for _, col := range first.columns {
		var merged *Column
		for _, mb := range g.members {
			src := mb.table.Column(col.Name)
			part := src.take(mb.rows, mb.channels)
			switch {
			case col.Name == ColumnTargetID:
				for i := range part.ints {
					part.ints[i] = id
				}
			case strings.HasPrefix(col.Name, corrIndexPrefix) && mb.channels != nil:
				p.shiftCorrIndex(mb, part)
			}
			if merged == nil {
				merged = part
			} else {
				merged.appendRows(part)
			}
		}
		if err := t.AddColumn(merged); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// corrIndexPrefix marks columns holding the 1-based position in the
// correlation matrix of the first channel of a row.
const corrIndexPrefix = "CORRINDX_"

// shiftCorrIndex moves correlation indexes onto the first kept channel. The
// correlation table is copied whole, so a gap in the kept channels leaves
// the later ones pointing at the wrong matrix entries.
func (p *mergePlan) shiftCorrIndex(mb member, part *Column) {
	if len(mb.channels) == 0 {
		return
	}
	first := int64(mb.channels[0])
	for i, v := range part.ints {
		if v > 0 {
			part.ints[i] = v + first
		}
	}
	for i := 1; i < len(mb.channels); i++ {
		if mb.channels[i] != mb.channels[i-1]+1 {
			p.log.Warn("correlation index kept for non-contiguous channels",
				"table", mb.table.String(), "path", mb.table.File().Path(),
				"column", part.Name, "channels", mb.channels)
			return
		}
	}
}
