package oifits

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tableNames(f *File) []string {
	var out []string
	for _, t := range f.Tables() {
		out = append(out, t.String())
	}
	return out
}

func TestMerge_GroupsByGranule(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()), buildFile(t, "b", defaultSample()))
	m := NewMerger()
	out, err := m.Process(c, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if m.State() != StateDone {
		t.Errorf("state = %s", m.State())
	}

	want := []string{"OI_TARGET#1", "OI_ARRAY#2", "OI_WAVELENGTH#3", "OI_VIS2#4", "OI_VIS2#5"}
	if diff := cmp.Diff(want, tableNames(out)); diff != "" {
		t.Fatalf("tables (-want +got):\n%s", diff)
	}

	data := out.DataTables()
	if data[0].NbRows() != 4 || data[1].NbRows() != 2 {
		t.Fatalf("rows = %d, %d", data[0].NbRows(), data[1].NbRows())
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 10, 11, 12, 0, 1, 2, 10, 11, 12}, data[0].Column("VIS2DATA").Float64s()); diff != "" {
		t.Errorf("VIS2DATA (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{58000.1, 58000.2, 58000.1, 58000.2}, data[0].Column(ColumnMJD).Float64s()); diff != "" {
		t.Errorf("MJD (-want +got):\n%s", diff)
	}
	for _, d := range data {
		if d.InsName() != "PIONIER" || d.ArrName() != "VLTI" {
			t.Errorf("%s refers to %q/%q", d, d.InsName(), d.ArrName())
		}
	}

	if r := out.Check(nil); r.Len() != 0 {
		t.Errorf("merged file fails its check:\n%s", r.Summary())
	}
}

func TestMerge_WavelengthSelection(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()))
	s := NewSelector()
	mustNil(t, s.AddRanges(FilterEffWave, Range{1.65e-6, 1.75e-6}))

	out, err := Merge(c, s)
	mustNil(t, err)
	w := out.TablesOf(KindWavelength)[0]
	if diff := cmp.Diff([]float64{1.7e-6}, w.EffWave()); diff != "" {
		t.Errorf("EFF_WAVE (-want +got):\n%s", diff)
	}
	var got []float64
	for _, d := range out.DataTables() {
		col := d.Column("VIS2DATA")
		if col.Width != 1 {
			t.Errorf("%s VIS2DATA width = %d", d, col.Width)
		}
		got = append(got, col.Float64s()...)
	}
	if diff := cmp.Diff([]float64{1, 11, 21}, got); diff != "" {
		t.Errorf("VIS2DATA (-want +got):\n%s", diff)
	}
}

func TestMerge_RowSelection(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()))
	s := NewSelector()
	mustNil(t, s.AddStrings(FilterStaIndex, "B1-C1"))

	out, err := Merge(c, s)
	mustNil(t, err)
	data := out.DataTables()
	if len(data) != 1 || data[0].NbRows() != 1 {
		t.Fatalf("data tables = %v", tableNames(out))
	}
	if diff := cmp.Diff([]int64{2, 3}, data[0].StaIndex(0)); diff != "" {
		t.Errorf("STA_INDEX (-want +got):\n%s", diff)
	}
}

func TestMerge_TargetIDsFollowSortedTargets(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.targets = []Target{{Name: "alpha", RA: 200, Dec: 10}}
	c := collectionOf(t, nil, buildFile(t, "a", a), buildFile(t, "b", b))

	out, err := Merge(c, nil)
	mustNil(t, err)
	targets := out.Target().Targets()
	if targets[1].Name != "alpha" || targets[2].Name != "HD1" {
		t.Fatalf("targets = %v", targets)
	}
	for _, d := range out.DataTables() {
		id := d.TargetIDs()[0]
		for _, v := range d.TargetIDs() {
			if v != id {
				t.Fatalf("%s mixes targets %v", d, d.TargetIDs())
			}
		}
		if id != 1 && id != 2 {
			t.Errorf("%s TARGET_ID %d", d, id)
		}
	}
	if r := out.Check(nil); r.Len() != 0 {
		t.Errorf("merged file fails its check:\n%s", r.Summary())
	}
}

func TestMerge_DistinctArraysAreRenamed(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.stations = []string{"D0", "E0", "G0"}
	c := collectionOf(t, nil, buildFile(t, "a", a), buildFile(t, "b", b))

	out, err := Merge(c, nil)
	mustNil(t, err)
	if diff := cmp.Diff([]string{"VLTI", "VLTI_2"}, out.AcceptedNames(KindArray)); diff != "" {
		t.Fatalf("arrays (-want +got):\n%s", diff)
	}
	var arrays []string
	for _, d := range out.DataTables() {
		arrays = append(arrays, d.ArrName())
	}
	if diff := cmp.Diff([]string{"VLTI", "VLTI", "VLTI_2", "VLTI_2"}, arrays); diff != "" {
		t.Errorf("data arrays (-want +got):\n%s", diff)
	}
}

func TestMerge_IncompatibleLayoutsAreRenamed(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.wave = []float64{2.0e-6, 2.1e-6, 2.2e-6}
	c := collectionOf(t, []CollectionOption{WithMatchConfig(ExactMatchConfig())},
		buildFile(t, "a", a), buildFile(t, "b", b))

	out, err := Merge(c, nil)
	mustNil(t, err)
	if diff := cmp.Diff([]string{"PIONIER", "PIONIER_2"}, out.AcceptedNames(KindWavelength)); diff != "" {
		t.Fatalf("wavelength tables (-want +got):\n%s", diff)
	}
	if r := out.Check(nil); r.Len() != 0 {
		t.Errorf("merged file fails its check:\n%s", r.Summary())
	}
}

func TestMerge_EmptySelection(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()))
	m := NewMerger()
	out, err := m.Process(c, NewSelector().SetTargetUID("nobody"))
	if err != nil || out != nil {
		t.Fatalf("Process = %v, %v; want nil, nil", out, err)
	}
	if m.State() != StateDone || !m.Result().IsEmpty() {
		t.Errorf("state = %s", m.State())
	}
}

func TestMerger_ProcessTwice(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()))
	m := NewMerger(WithMergerParallelism(2))
	_, err := m.Process(c, nil)
	mustNil(t, err)
	if _, err := m.Process(c, nil); !errors.Is(err, ErrMergerDone) {
		t.Fatalf("expected ErrMergerDone, got %v", err)
	}
}

func TestMerge_SourcesUntouched(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	c := collectionOf(t, nil, f)
	before := tableNames(f)
	d := f.DataTables()[0]
	ids := append([]int64(nil), d.TargetIDs()...)

	s := NewSelector()
	mustNil(t, s.AddRanges(FilterEffWave, Range{1.65e-6, 1.75e-6}))
	_, err := Merge(c, s)
	mustNil(t, err)

	if diff := cmp.Diff(before, tableNames(f)); diff != "" {
		t.Errorf("source tables changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, d.TargetIDs()); diff != "" {
		t.Errorf("source TARGET_ID changed (-want +got):\n%s", diff)
	}
	if d.Column("VIS2DATA").Width != 3 {
		t.Error("source VIS2DATA lost channels")
	}
}

func TestMerge_SpectralWidthMismatch_Rejected(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	d := f.DataTables()[0]
	mustNil(t, d.AddColumn(NewSpectralColumn("VIS2ERR", 2, []float64{0.1, 0.1, 0.2, 0.2, 0.3, 0.3})))
	c := collectionOf(t, nil, f)

	s := NewSelector()
	mustNil(t, s.AddRanges(FilterEffWave, Range{1.75e-6, 1.85e-6}))
	m := NewMerger()
	out, err := m.Process(c, s)
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if out != nil {
		t.Error("rejected merge returned a file")
	}
	if m.State() != StateDone {
		t.Errorf("state = %s", m.State())
	}

	if _, err := Merge(c, nil); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("unfiltered merge: expected ErrSchemaViolation, got %v", err)
	}
}

// corrFile adds a correlation table and a CORRINDX_VIS2DATA column to the
// default sample.
func corrFile(t *testing.T, corrIndex []int64) *File {
	t.Helper()
	f := buildFile(t, "a", defaultSample())
	d := f.DataTables()[0]
	d.SetKeyword(KeywordCorrName, "C1")
	mustNil(t, d.AddColumn(NewIntColumn("CORRINDX_VIS2DATA", 1, corrIndex)))
	corr, err := NewCorrTable("C1", []int64{1, 2}, []int64{2, 3}, []float64{0.1, 0.2})
	mustNil(t, err)
	mustNil(t, f.Register(corr))
	return f
}

func TestMerge_CorrIndexFollowsChannelMask(t *testing.T) {
	c := collectionOf(t, nil, corrFile(t, []int64{1, 4, 0}))
	s := NewSelector()
	mustNil(t, s.AddRanges(FilterEffWave, Range{1.65e-6, 1.85e-6}))

	out, err := Merge(c, s)
	mustNil(t, err)
	var got []int64
	for _, d := range out.DataTables() {
		got = append(got, d.Column("CORRINDX_VIS2DATA").Int64s()...)
	}
	if diff := cmp.Diff([]int64{2, 5, 0}, got); diff != "" {
		t.Errorf("CORRINDX_VIS2DATA (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"C1"}, out.AcceptedNames(KindCorr)); diff != "" {
		t.Errorf("corr tables (-want +got):\n%s", diff)
	}
}

func TestMerge_CorrIndexUnmaskedUnchanged(t *testing.T) {
	c := collectionOf(t, nil, corrFile(t, []int64{1, 4, 7}))
	out, err := Merge(c, nil)
	mustNil(t, err)
	var got []int64
	for _, d := range out.DataTables() {
		got = append(got, d.Column("CORRINDX_VIS2DATA").Int64s()...)
	}
	if diff := cmp.Diff([]int64{1, 4, 7}, got); diff != "" {
		t.Errorf("CORRINDX_VIS2DATA (-want +got):\n%s", diff)
	}
}

func TestMerge_CorrIndexGap_Warns(t *testing.T) {
	c := collectionOf(t, nil, corrFile(t, []int64{1, 4, 7}))
	s := NewSelector()
	mustNil(t, s.AddRanges(FilterEffWave,
		Range{1.55e-6, 1.65e-6}, Range{1.75e-6, 1.85e-6}))

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	_, err := Merge(c, s, WithMergerLogger(log))
	mustNil(t, err)
	if !strings.Contains(buf.String(), "non-contiguous channels") {
		t.Errorf("expected a non-contiguous channel warning, log:\n%s", buf.String())
	}
}
