package oifits

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCollection_GranulesPerNight(t *testing.T) {
	c := collectionOf(t, nil, buildFile(t, "a", defaultSample()))

	gs := c.Granules()
	if len(gs) != 2 {
		t.Fatalf("expected 2 granules, got %d: %v", len(gs), gs)
	}
	if gs[0].Night != 57999 || gs[1].Night != 58000 {
		t.Errorf("nights = %d, %d", gs[0].Night, gs[1].Night)
	}
	for _, g := range gs {
		if g.Target.Name != "HD1" || g.InsMode.Name != "PIONIER" {
			t.Errorf("granule %s", g)
		}
	}

	d := c.DataTables()[0]
	if n := len(c.TableGranules(d)); n != 2 {
		t.Errorf("table granules = %d", n)
	}
	f := d.File()
	if n := len(f.Granules()); n != 2 {
		t.Errorf("file granule index has %d keys", n)
	}
	if ts := f.GranuleTables(gs[0].Key()); len(ts) != 1 || ts[0] != d {
		t.Errorf("GranuleTables = %v", ts)
	}
}

func TestCollection_LikeTargetsAcrossFiles(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.targets = []Target{{Name: "HD 1", RA: 10, Dec: -20 + 0.3/3600}}
	c := collectionOf(t, nil, buildFile(t, "a", a), buildFile(t, "b", b))

	if diff := cmp.Diff([]string{"HD1"}, targetNames(c.Targets())); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if n := len(c.Granules()); n != 2 {
		t.Errorf("expected files to share 2 granules, got %d", n)
	}
}

func TestCollection_ExactConfigKeepsNames(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.targets = []Target{{Name: "HD 1", RA: 10, Dec: -20}}
	c := collectionOf(t, []CollectionOption{WithMatchConfig(ExactMatchConfig())},
		buildFile(t, "a", a), buildFile(t, "b", b))

	if diff := cmp.Diff([]string{"HD 1", "HD1"}, targetNames(c.Targets())); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
}

func TestCollection_DistinctTargetsSameName(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.targets = []Target{{Name: "HD1", RA: 200, Dec: 40}}
	c := collectionOf(t, nil, buildFile(t, "a", a), buildFile(t, "b", b))

	if diff := cmp.Diff([]string{"HD1", "HD1_2"}, targetNames(c.Targets())); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if n := len(c.Granules()); n != 4 {
		t.Errorf("expected 4 granules, got %d", n)
	}
}

func TestCollection_InstrumentModesLike(t *testing.T) {
	a := defaultSample()
	b := defaultSample()
	b.insName = "PIONIER_FREE"
	b.wave = []float64{1.61e-6, 1.71e-6, 1.81e-6}
	g := defaultSample()
	g.insName = "GRAVITY"
	g.wave = []float64{2.0e-6, 2.1e-6, 2.2e-6}
	c := collectionOf(t, nil, buildFile(t, "a", a), buildFile(t, "b", b), buildFile(t, "g", g))

	var names []string
	for _, m := range c.InstrumentModes() {
		names = append(names, m.Name)
	}
	if diff := cmp.Diff([]string{"GRAVITY", "PIONIER"}, names); diff != "" {
		t.Errorf("modes (-want +got):\n%s", diff)
	}
}

func TestCollection_UnresolvedRows(t *testing.T) {
	s := defaultSample()
	s.rows = []obs{
		{target: 1, mjd: 58000.1, sta: [2]int64{1, 2}},
		{target: 5, mjd: 58000.1, sta: [2]int64{1, 2}},
	}
	c := collectionOf(t, nil, buildFile(t, "a", s))
	ti := c.info[c.DataTables()[0]]
	if diff := cmp.Diff([]int{0, -1}, ti.rowGranule); diff != "" {
		t.Errorf("row granules (-want +got):\n%s", diff)
	}
}

func TestCollection_StaConfGranules(t *testing.T) {
	c := collectionOf(t, []CollectionOption{WithStaConfGranules()}, buildFile(t, "a", defaultSample()))
	for _, g := range c.Granules() {
		if g.StaConf != "A0-B1 A0-C1 B1-C1" {
			t.Errorf("StaConf = %q", g.StaConf)
		}
	}
}

func TestCollection_AddFileTwice(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	c := collectionOf(t, nil, f, f)
	if n := len(c.Files()); n != 1 {
		t.Errorf("expected 1 file, got %d", n)
	}
}

func TestBaselineLabel(t *testing.T) {
	stations := map[int64]string{1: "B1", 2: "A0"}
	if got := BaselineLabel([]int64{1, 2}, stations); got != "A0-B1" {
		t.Errorf("label = %q", got)
	}
	if got := BaselineLabel([]int64{1, 7}, stations); got != "7-B1" {
		t.Errorf("label with unknown station = %q", got)
	}
	if got := BaselineLabel(nil, stations); got != "" {
		t.Errorf("empty label = %q", got)
	}
}

// -----------------------------------------------------------------------------
// BuildCollection
// -----------------------------------------------------------------------------

type mapLoader map[string]*File

func (m mapLoader) Load(_ context.Context, path string) (*File, error) {
	if f, ok := m[path]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("load %s: %w", path, ErrNotFound)
}

func TestBuildCollection_RecordsFailures(t *testing.T) {
	loader := mapLoader{
		"a": buildFile(t, "a", defaultSample()),
		"b": buildFile(t, "b", defaultSample()),
	}
	c, err := BuildCollection(t.Context(), loader, nil, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatalf("BuildCollection: %v", err)
	}
	files := c.Files()
	if len(files) != 2 || files[0].Path() != "b" || files[1].Path() != "a" {
		t.Fatalf("files not in path order: %v", files)
	}
	fails := c.Failures()
	if len(fails) != 1 || fails[0].Path != "missing" || !errors.Is(fails[0].Err, ErrNotFound) {
		t.Errorf("failures = %+v", fails)
	}
	if c.Report().Len() != 0 {
		t.Errorf("unexpected check failures:\n%s", c.Report().Summary())
	}
}

func TestBuildCollection_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := BuildCollection(ctx, mapLoader{}, nil, []string{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func targetNames(ts []Target) []string {
	out := make([]string, len(ts))
	for i, tg := range ts {
		out[i] = tg.Name
	}
	return out
}

func TestBuildCollection_MergesValidatorReports(t *testing.T) {
	loader := mapLoader{
		"a": buildFile(t, "a", defaultSample()),
		"b": buildFile(t, "b", defaultSample()),
	}
	v := ValidatorFunc(func(f *File) *Report {
		r := NewReport()
		r.Add(Failure{Rule: "CUSTOM", Severity: SeverityWarning, Message: f.Path()})
		return r
	})
	c, err := BuildCollection(t.Context(), loader, v, []string{"a", "b"})
	if err != nil {
		t.Fatalf("BuildCollection: %v", err)
	}
	if n := c.Report().Count("CUSTOM"); n != 2 {
		t.Errorf("CUSTOM failures = %d, want 2", n)
	}
}
