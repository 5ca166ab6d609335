package oifits

import (
	"slices"
	"testing"
)

func TestGranule_EqualAndMatch(t *testing.T) {
	mode := InstrumentMode{Name: "PIONIER", NbChannels: 3, LambdaMin: 1.6e-6, LambdaMax: 1.8e-6, BandMin: 1e-7}
	a := Granule{Target: Target{Name: "HD1", RA: 10, Dec: 0}, InsMode: mode, Night: 57999}
	b := a
	b.Target = Target{Name: "HD 1", RA: 10, Dec: 0.2 / 3600}

	if a.Equal(b) {
		t.Error("granules with different target names are not equal")
	}
	if !a.Match(b, DefaultMatchConfig()) {
		t.Error("granules with like targets should match")
	}
	if a.Match(b, ExactMatchConfig()) {
		t.Error("exact config must compare target names")
	}

	c := a
	c.Night++
	if a.Match(c, DefaultMatchConfig()) {
		t.Error("nights compare exactly")
	}
	d := a
	d.StaConf = "A0-B1"
	if a.Match(d, MatchConfig{}) {
		t.Error("station configurations compare exactly")
	}
}

func TestCompareGranules(t *testing.T) {
	mode := InstrumentMode{Name: "M"}
	gs := []Granule{
		{Target: Target{Name: "b"}, InsMode: mode, Night: 1},
		{Target: Target{Name: "A"}, InsMode: mode, Night: 2},
		{Target: Target{Name: "A"}, InsMode: mode, Night: 1, StaConf: "x"},
		{Target: Target{Name: "A"}, InsMode: mode, Night: 1},
	}
	slices.SortFunc(gs, CompareGranules)
	var got []string
	for _, g := range gs {
		got = append(got, g.String())
	}
	want := []string{
		"A / M / night 1",
		"A / M / night 1 / x",
		"A / M / night 2",
		"b / M / night 1",
	}
	if !slices.Equal(want, got) {
		t.Errorf("order = %q, want %q", got, want)
	}
}
