package oifits

import (
	"cmp"
	"fmt"
	"math"
	"strings"
)

// Matcher decides whether two values denote the same thing. Implementations
// must be reflexive and symmetric; transitivity is not required.
type Matcher[T any] interface {
	Match(a, b T) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc[T any] func(a, b T) bool

// Match calls fn(a, b).
func (fn MatcherFunc[T]) Match(a, b T) bool { return fn(a, b) }

// -----------------------------------------------------------------------------
// Targets
// -----------------------------------------------------------------------------

// Target is an observed object: a name and equatorial coordinates in degrees.
type Target struct {
	Name string
	RA   float64
	Dec  float64
}

func (t Target) String() string { return t.Name }

// DefaultSeparationArcsec is the default like-match radius for targets.
const DefaultSeparationArcsec = 1.0

// TargetExact matches targets by name.
var TargetExact Matcher[Target] = MatcherFunc[Target](func(a, b Target) bool {
	return a.Name == b.Name
})

// TargetLike matches targets whose angular separation is at most
// SeparationArcsec, inclusive.
type TargetLike struct {
	SeparationArcsec float64
}

// Match implements Matcher.
func (m TargetLike) Match(a, b Target) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a.RA) || math.IsNaN(a.Dec) || math.IsNaN(b.RA) || math.IsNaN(b.Dec) {
		return a.Name == b.Name
	}
	// relative slack absorbs rounding at the boundary
	return Separation(a, b)*3600 <= m.SeparationArcsec*(1+1e-9)
}

// Separation returns the angular distance between two targets in degrees.
func Separation(a, b Target) float64 {
	const rad = math.Pi / 180
	ra1, dec1 := a.RA*rad, a.Dec*rad
	ra2, dec2 := b.RA*rad, b.Dec*rad
	sdDec := math.Sin((dec2 - dec1) / 2)
	sdRA := math.Sin((ra2 - ra1) / 2)
	h := sdDec*sdDec + math.Cos(dec1)*math.Cos(dec2)*sdRA*sdRA
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / rad
}

// CompareTargets orders targets by case-insensitive name, then position.
func CompareTargets(a, b Target) int {
	if c := compareFold(a.Name, b.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RA, b.RA); c != 0 {
		return c
	}
	return cmp.Compare(a.Dec, b.Dec)
}

// -----------------------------------------------------------------------------
// Instrument modes
// -----------------------------------------------------------------------------

// InstrumentMode describes a spectral setup derived from a wavelength table.
type InstrumentMode struct {
	Name       string
	NbChannels int
	LambdaMin  float64
	LambdaMax  float64
	ResPower   float64
	BandMin    float64
}

func (m InstrumentMode) String() string {
	return fmt.Sprintf("%s [%d ch, %.4g-%.4g m]", m.Name, m.NbChannels, m.LambdaMin, m.LambdaMax)
}

// UndefinedInstrumentMode stands in for data tables whose wavelength table
// cannot be resolved.
var UndefinedInstrumentMode = InstrumentMode{
	Name:      "UNDEFINED",
	LambdaMin: math.NaN(),
	LambdaMax: math.NaN(),
	ResPower:  math.NaN(),
	BandMin:   math.NaN(),
}

// InstrumentModeOf summarises a wavelength table.
func InstrumentModeOf(t *Table) InstrumentMode {
	wave, band := t.EffWave(), t.EffBand()
	m := InstrumentMode{
		Name:       t.InsName(),
		NbChannels: len(wave),
		LambdaMin:  math.Inf(1),
		LambdaMax:  math.Inf(-1),
		BandMin:    math.Inf(1),
		ResPower:   math.NaN(),
	}
	if len(wave) == 0 {
		m.LambdaMin, m.LambdaMax, m.BandMin = math.NaN(), math.NaN(), math.NaN()
		return m
	}
	var sum float64
	var n int
	for i, w := range wave {
		m.LambdaMin = math.Min(m.LambdaMin, w)
		m.LambdaMax = math.Max(m.LambdaMax, w)
		if i < len(band) && band[i] > 0 {
			m.BandMin = math.Min(m.BandMin, band[i])
			sum += w / band[i]
			n++
		}
	}
	if n > 0 {
		m.ResPower = sum / float64(n)
	} else {
		m.BandMin = math.NaN()
	}
	return m
}

// minLambdaPrecision floors the like-match wavelength tolerance.
const minLambdaPrecision = 1e-10

// lambdaPrecision returns the like-match tolerance for two band widths.
func lambdaPrecision(bandA, bandB float64) float64 {
	prec := 0.5 * math.Min(bandA, bandB)
	if math.IsNaN(prec) || prec < minLambdaPrecision {
		return minLambdaPrecision
	}
	return prec
}

func withinPrecision(a, b, prec float64) bool {
	if a == b || (math.IsNaN(a) && math.IsNaN(b)) {
		return true
	}
	return math.Abs(a-b) <= prec
}

// InsModeExact matches instrument modes by name.
var InsModeExact Matcher[InstrumentMode] = MatcherFunc[InstrumentMode](func(a, b InstrumentMode) bool {
	return a.Name == b.Name
})

// InsModeLike matches instrument modes with the same channel count whose
// wavelength bounds agree within half the narrowest band.
var InsModeLike Matcher[InstrumentMode] = MatcherFunc[InstrumentMode](func(a, b InstrumentMode) bool {
	if a.NbChannels != b.NbChannels {
		return false
	}
	prec := lambdaPrecision(a.BandMin, b.BandMin)
	return withinPrecision(a.LambdaMin, b.LambdaMin, prec) &&
		withinPrecision(a.LambdaMax, b.LambdaMax, prec)
})

// CompareInstrumentModes orders modes by case-insensitive name, channel
// count, then resolving power.
func CompareInstrumentModes(a, b InstrumentMode) int {
	if c := compareFold(a.Name, b.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NbChannels, b.NbChannels); c != 0 {
		return c
	}
	return cmp.Compare(a.ResPower, b.ResPower)
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// -----------------------------------------------------------------------------
// Nights
// -----------------------------------------------------------------------------

// NightID identifies an observing night: the integer day containing the
// local noon-to-noon period of an observation.
type NightID int

// NightOf returns the night of an MJD observed at a site of the given
// east longitude in degrees.
func NightOf(mjd, longitudeDeg float64) NightID {
	return NightID(math.Floor(mjd + longitudeDeg/360 - 0.5))
}

// -----------------------------------------------------------------------------
// Match configuration
// -----------------------------------------------------------------------------

// MatchConfig holds the matchers used to group targets and instrument modes.
type MatchConfig struct {
	Target  Matcher[Target]
	InsMode Matcher[InstrumentMode]
}

// DefaultMatchConfig groups targets within DefaultSeparationArcsec and
// instrument modes with compatible wavelength ranges.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Target:  TargetLike{SeparationArcsec: DefaultSeparationArcsec},
		InsMode: InsModeLike,
	}
}

// ExactMatchConfig groups targets and instrument modes by name only.
func ExactMatchConfig() MatchConfig {
	return MatchConfig{Target: TargetExact, InsMode: InsModeExact}
}

// WithSeparation returns a copy using a like target matcher of the given
// radius in arcseconds.
func (c MatchConfig) WithSeparation(arcsec float64) MatchConfig {
	c.Target = TargetLike{SeparationArcsec: arcsec}
	return c
}

func (c MatchConfig) normalized() MatchConfig {
	def := DefaultMatchConfig()
	if c.Target == nil {
		c.Target = def.Target
	}
	if c.InsMode == nil {
		c.InsMode = def.InsMode
	}
	return c
}

// -----------------------------------------------------------------------------
// Canonical registries
// -----------------------------------------------------------------------------

// canon maps values onto the first-seen representative of their match
// class. Representatives get unique names; a later class whose name is
// already taken is suffixed "_2", "_3" and so on. Resolved values are
// cached under key(v), which must be stable for NaN fields.
type canon[T any, K comparable] struct {
	match  Matcher[T]
	key    func(T) K
	name   func(T) string
	rename func(T, string) T

	reps  []T
	names map[string]struct{}
	seen  map[K]T
}

func newCanon[T any, K comparable](m Matcher[T], key func(T) K, name func(T) string, rename func(T, string) T) *canon[T, K] {
	return &canon[T, K]{
		match:  m,
		key:    key,
		name:   name,
		rename: rename,
		names:  make(map[string]struct{}),
		seen:   make(map[K]T),
	}
}

func (c *canon[T, K]) resolve(v T) T {
	k := c.key(v)
	if r, ok := c.seen[k]; ok {
		return r
	}
	for _, r := range c.reps {
		if c.match.Match(r, v) {
			c.seen[k] = r
			return r
		}
	}
	r := v
	if name := uniqueName(c.name(v), c.names); name != c.name(v) {
		r = c.rename(v, name)
	}
	c.names[c.name(r)] = struct{}{}
	c.reps = append(c.reps, r)
	c.seen[k] = r
	return r
}

func (c *canon[T, K]) values() []T {
	return append([]T(nil), c.reps...)
}

// uniqueName returns name, or name suffixed "_2", "_3"... when taken.
func uniqueName(name string, taken map[string]struct{}) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// floatKey maps every NaN onto one bit pattern so NaN fields still hit
// the cache.
func floatKey(f float64) uint64 {
	if math.IsNaN(f) {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(f)
}

type targetKey struct {
	name    string
	ra, dec uint64
}

func newTargetCanon(m Matcher[Target]) *canon[Target, targetKey] {
	return newCanon(m,
		func(t Target) targetKey { return targetKey{t.Name, floatKey(t.RA), floatKey(t.Dec)} },
		func(t Target) string { return t.Name },
		func(t Target, name string) Target { t.Name = name; return t })
}

type modeKey struct {
	name                      string
	channels                  int
	lo, hi, resPower, bandMin uint64
}

func newModeCanon(m Matcher[InstrumentMode]) *canon[InstrumentMode, modeKey] {
	return newCanon(m,
		func(im InstrumentMode) modeKey {
			return modeKey{im.Name, im.NbChannels,
				floatKey(im.LambdaMin), floatKey(im.LambdaMax), floatKey(im.ResPower), floatKey(im.BandMin)}
		},
		func(im InstrumentMode) string { return im.Name },
		func(im InstrumentMode, name string) InstrumentMode { im.Name = name; return im })
}
