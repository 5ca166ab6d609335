package oifits

import (
	"cmp"
	"fmt"
)

// Granule is the unit of data fusion: one target observed with one
// instrument mode during one night, optionally split by station
// configuration.
type Granule struct {
	Target  Target
	InsMode InstrumentMode
	Night   NightID
	StaConf string
}

// GranuleKey is the exact identity of a granule. Collections build granules
// from canonical targets and modes, whose names are unique, so the key
// distinguishes every granule of a collection.
type GranuleKey struct {
	Target  string
	InsMode string
	Night   NightID
	StaConf string
}

// Key returns the exact identity of g.
func (g Granule) Key() GranuleKey {
	return GranuleKey{Target: g.Target.Name, InsMode: g.InsMode.Name, Night: g.Night, StaConf: g.StaConf}
}

// Equal reports exact equality of every component.
func (g Granule) Equal(o Granule) bool {
	return g.Key() == o.Key()
}

// Match reports whether o denotes the same granule under the given
// matchers. Nights and station configurations always compare exactly.
func (g Granule) Match(o Granule, cfg MatchConfig) bool {
	cfg = cfg.normalized()
	return g.Night == o.Night &&
		g.StaConf == o.StaConf &&
		cfg.Target.Match(g.Target, o.Target) &&
		cfg.InsMode.Match(g.InsMode, o.InsMode)
}

func (g Granule) String() string {
	s := fmt.Sprintf("%s / %s / night %d", g.Target.Name, g.InsMode.Name, g.Night)
	if g.StaConf != "" {
		s += " / " + g.StaConf
	}
	return s
}

// CompareGranules orders granules by target, instrument mode, night and
// station configuration.
func CompareGranules(a, b Granule) int {
	if c := CompareTargets(a.Target, b.Target); c != 0 {
		return c
	}
	if c := CompareInstrumentModes(a.InsMode, b.InsMode); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Night, b.Night); c != 0 {
		return c
	}
	return cmp.Compare(a.StaConf, b.StaConf)
}
