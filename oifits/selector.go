package oifits

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Filter names understood by a Selector. Any other name is a range filter
// on the data column of that name.
const (
	FilterTargetID = "TARGET_ID"
	FilterInsName  = "INSNAME"
	FilterNightID  = "NIGHT_ID"
	FilterMJD      = "MJD"
	FilterEffWave  = "EFF_WAVE"
	FilterEffBand  = "EFF_BAND"
	FilterStaIndex = "STA_INDEX"
	FilterStaConf  = "STA_CONF"
)

// MatchMode selects how a selector compares a granule field.
type MatchMode int

// Match modes. MatchLike uses the collection's matchers through the
// canonical representative; MatchExact compares the name as written.
const (
	MatchLike MatchMode = iota
	MatchExact
)

func (m MatchMode) String() string {
	if m == MatchExact {
		return "exact"
	}
	return "like"
}

// Range is a closed interval [Min, Max].
type Range struct {
	Min, Max float64
}

// Contains reports whether v lies in r, bounds included.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func inRanges(rs []Range, v float64) bool {
	for _, r := range rs {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

type filter struct {
	name   string
	ranges []Range
	values []string
}

// Selector holds the criteria of a selection. The zero value selects
// everything.
type Selector struct {
	targetUID  string
	insModeUID string
	night      NightID
	hasNight   bool

	targetMode  MatchMode
	insModeMode MatchMode

	filters []filter
}

// NewSelector returns an empty selector.
func NewSelector() *Selector { return &Selector{} }

// SetTargetUID selects one canonical target name; "" clears it.
func (s *Selector) SetTargetUID(uid string) *Selector {
	s.targetUID = strings.TrimSpace(uid)
	return s
}

// SetInsModeUID selects one canonical instrument mode name; "" clears it.
func (s *Selector) SetInsModeUID(uid string) *Selector {
	s.insModeUID = strings.TrimSpace(uid)
	return s
}

// SetNightID selects one night.
func (s *Selector) SetNightID(n NightID) *Selector {
	s.night, s.hasNight = n, true
	return s
}

// ClearNightID removes the night criterion.
func (s *Selector) ClearNightID() *Selector {
	s.hasNight = false
	return s
}

// SetTargetMatch sets how the target UID is compared.
func (s *Selector) SetTargetMatch(m MatchMode) *Selector {
	s.targetMode = m
	return s
}

// SetInsModeMatch sets how the instrument mode UID is compared.
func (s *Selector) SetInsModeMatch(m MatchMode) *Selector {
	s.insModeMode = m
	return s
}

// TargetUID returns the target criterion.
func (s *Selector) TargetUID() (string, bool) { return s.targetUID, s.targetUID != "" }

// InsModeUID returns the instrument mode criterion.
func (s *Selector) InsModeUID() (string, bool) { return s.insModeUID, s.insModeUID != "" }

// NightID returns the night criterion.
func (s *Selector) NightID() (NightID, bool) { return s.night, s.hasNight }

// TargetMatch returns the target match mode.
func (s *Selector) TargetMatch() MatchMode { return s.targetMode }

// InsModeMatch returns the instrument mode match mode.
func (s *Selector) InsModeMatch() MatchMode { return s.insModeMode }

func normalizeFilterName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func isSetFilter(name string) bool {
	return name == FilterStaIndex || name == FilterStaConf
}

// AddFilter sets a filter from a []Range, a []string or a single Range.
// An empty value list removes the filter.
func (s *Selector) AddFilter(name string, values any) error {
	switch v := values.(type) {
	case []Range:
		return s.AddRanges(name, v...)
	case Range:
		return s.AddRanges(name, v)
	case []string:
		return s.AddStrings(name, v...)
	case nil:
		s.RemoveFilter(name)
		return nil
	default:
		return fmt.Errorf("oifits: filter %s: unsupported values %T: %w", name, values, ErrInvalidFilter)
	}
}

// AddRanges sets a range filter. Ranges must be ordered and not NaN.
func (s *Selector) AddRanges(name string, ranges ...Range) error {
	name = normalizeFilterName(name)
	switch {
	case name == "":
		return fmt.Errorf("oifits: empty filter name: %w", ErrInvalidFilter)
	case name == FilterTargetID || name == FilterInsName || name == FilterNightID || isSetFilter(name):
		return fmt.Errorf("oifits: filter %s does not take ranges: %w", name, ErrInvalidFilter)
	}
	for _, r := range ranges {
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return fmt.Errorf("oifits: filter %s: [%g, %g]: %w", name, r.Min, r.Max, ErrInvalidRange)
		}
	}
	if len(ranges) == 0 {
		s.RemoveFilter(name)
		return nil
	}
	s.setFilter(filter{name: name, ranges: slices.Clone(ranges)})
	return nil
}

// AddStrings sets a value-set filter (STA_INDEX or STA_CONF). Station
// labels are compared regardless of station order. Values containing ","
// are rejected so the filter survives DumpStrings and ParseStrings.
func (s *Selector) AddStrings(name string, values ...string) error {
	name = normalizeFilterName(name)
	if !isSetFilter(name) {
		return fmt.Errorf("oifits: filter %s does not take strings: %w", name, ErrInvalidFilter)
	}
	var norm []string
	for _, v := range values {
		if strings.Contains(v, ",") {
			return fmt.Errorf("oifits: filter %s value %q contains \",\": %w", name, v, ErrInvalidFilter)
		}
		if v = normalizeStations(v); v != "" && !slices.Contains(norm, v) {
			norm = append(norm, v)
		}
	}
	if len(norm) == 0 {
		s.RemoveFilter(name)
		return nil
	}
	s.setFilter(filter{name: name, values: norm})
	return nil
}

// normalizeStations sorts the "-"-separated stations of a baseline label
// and, for configurations, of each space-separated label.
func normalizeStations(v string) string {
	fields := strings.Fields(v)
	for i, f := range fields {
		parts := strings.Split(f, "-")
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}
		slices.Sort(parts)
		fields[i] = strings.Join(parts, "-")
	}
	slices.Sort(fields)
	return strings.Join(fields, " ")
}

func (s *Selector) setFilter(f filter) {
	for i := range s.filters {
		if s.filters[i].name == f.name {
			s.filters[i] = f
			return
		}
	}
	s.filters = append(s.filters, f)
}

// RemoveFilter drops a filter.
func (s *Selector) RemoveFilter(name string) {
	name = normalizeFilterName(name)
	s.filters = slices.DeleteFunc(s.filters, func(f filter) bool { return f.name == name })
}

// HasFilter reports whether a criterion is set under name, including the
// TARGET_ID, INSNAME and NIGHT_ID criteria.
func (s *Selector) HasFilter(name string) bool {
	switch name = normalizeFilterName(name); name {
	case FilterTargetID:
		return s.targetUID != ""
	case FilterInsName:
		return s.insModeUID != ""
	case FilterNightID:
		return s.hasNight
	}
	return s.filter(name) != nil
}

func (s *Selector) filter(name string) *filter {
	for i := range s.filters {
		if s.filters[i].name == name {
			return &s.filters[i]
		}
	}
	return nil
}

// Ranges returns the ranges of a range filter.
func (s *Selector) Ranges(name string) []Range {
	if f := s.filter(normalizeFilterName(name)); f != nil {
		return slices.Clone(f.ranges)
	}
	return nil
}

// Strings returns the values of a set filter.
func (s *Selector) Strings(name string) []string {
	if f := s.filter(normalizeFilterName(name)); f != nil {
		return slices.Clone(f.values)
	}
	return nil
}

// FilterNames returns the names of the column filters in insertion order.
func (s *Selector) FilterNames() []string {
	out := make([]string, len(s.filters))
	for i, f := range s.filters {
		out[i] = f.name
	}
	return out
}

// IsEmpty reports whether the selector has no criterion.
func (s *Selector) IsEmpty() bool {
	return s.targetUID == "" && s.insModeUID == "" && !s.hasNight && len(s.filters) == 0
}

func (s *Selector) hasWavelengthFilter() bool {
	return s.filter(FilterEffWave) != nil || s.filter(FilterEffBand) != nil
}

// String renders the selector in its argument form.
func (s *Selector) String() string {
	args := s.Args()
	if len(args) == 0 {
		return "Selector[]"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Key + "=" + a.Value
	}
	return "Selector[" + strings.Join(parts, " ") + "]"
}

// -----------------------------------------------------------------------------
// Arguments
// -----------------------------------------------------------------------------

// Arg is one key/value of the argument form of a selector.
type Arg struct {
	Key   string
	Value string
}

// Argument keys of the match modes.
const (
	ArgTargetMatch  = "target_match"
	ArgInsModeMatch = "insname_match"
)

// Args renders the selector as key/value pairs with lower-case filter
// names as keys. ParseArgs inverts it.
func (s *Selector) Args() []Arg {
	var out []Arg
	if s.targetUID != "" {
		out = append(out, Arg{strings.ToLower(FilterTargetID), s.targetUID})
		if s.targetMode != MatchLike {
			out = append(out, Arg{ArgTargetMatch, s.targetMode.String()})
		}
	}
	if s.insModeUID != "" {
		out = append(out, Arg{strings.ToLower(FilterInsName), s.insModeUID})
		if s.insModeMode != MatchLike {
			out = append(out, Arg{ArgInsModeMatch, s.insModeMode.String()})
		}
	}
	if s.hasNight {
		out = append(out, Arg{strings.ToLower(FilterNightID), strconv.Itoa(int(s.night))})
	}
	for _, f := range s.filters {
		v := DumpRanges(f.ranges)
		if f.values != nil {
			v = DumpStrings(f.values)
		}
		out = append(out, Arg{strings.ToLower(f.name), v})
	}
	return out
}

// ParseArgs builds a selector from its argument form.
func ParseArgs(args []Arg) (*Selector, error) {
	s := NewSelector()
	for _, a := range args {
		key := normalizeFilterName(a.Key)
		var err error
		switch key {
		case FilterTargetID:
			s.SetTargetUID(a.Value)
		case FilterInsName:
			s.SetInsModeUID(a.Value)
		case FilterNightID:
			var n int
			if n, err = strconv.Atoi(strings.TrimSpace(a.Value)); err == nil {
				s.SetNightID(NightID(n))
			}
		case strings.ToUpper(ArgTargetMatch):
			var m MatchMode
			if m, err = parseMatchMode(a.Value); err == nil {
				s.SetTargetMatch(m)
			}
		case strings.ToUpper(ArgInsModeMatch):
			var m MatchMode
			if m, err = parseMatchMode(a.Value); err == nil {
				s.SetInsModeMatch(m)
			}
		case FilterStaIndex, FilterStaConf:
			err = s.AddStrings(key, ParseStrings(a.Value)...)
		default:
			var rs []Range
			if rs, err = ParseRanges(a.Value); err == nil {
				err = s.AddRanges(key, rs...)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("oifits: argument %s=%q: %w", a.Key, a.Value, err)
		}
	}
	return s, nil
}

func parseMatchMode(v string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "like":
		return MatchLike, nil
	case "exact":
		return MatchExact, nil
	}
	return 0, fmt.Errorf("match mode %q: %w", v, ErrInvalidFilter)
}

// ParseRanges parses "min,max,min,max,...". An empty string yields no
// ranges.
func ParseRanges(s string) ([]Range, error) {
	tokens := ParseStrings(s)
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("oifits: %q: odd number of bounds: %w", s, ErrInvalidRange)
	}
	out := make([]Range, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		lo, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return nil, fmt.Errorf("oifits: %q: %w: %v", s, ErrInvalidRange, err)
		}
		hi, err := strconv.ParseFloat(tokens[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("oifits: %q: %w: %v", s, ErrInvalidRange, err)
		}
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return nil, fmt.Errorf("oifits: %q: [%g, %g]: %w", s, lo, hi, ErrInvalidRange)
		}
		out = append(out, Range{Min: lo, Max: hi})
	}
	return out, nil
}

// DumpRanges renders ranges as "min,max,..." with round-trip precision.
func DumpRanges(rs []Range) string {
	parts := make([]string, 0, 2*len(rs))
	for _, r := range rs {
		parts = append(parts,
			strconv.FormatFloat(r.Min, 'g', -1, 64),
			strconv.FormatFloat(r.Max, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

// ParseStrings splits on "," and trims each value, dropping empty ones. It
// inverts DumpStrings only for values without "," and without surrounding
// white space.
func ParseStrings(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DumpStrings joins values with ",". Values are not escaped; see
// ParseStrings.
func DumpStrings(values []string) string {
	return strings.Join(values, ",")
}
