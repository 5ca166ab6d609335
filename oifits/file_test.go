package oifits

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

func TestFile_Register_AssignsExtensions(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	var got []string
	for _, tbl := range f.Tables() {
		got = append(got, tbl.String())
	}
	want := []string{"OI_TARGET#1", "OI_ARRAY#2", "OI_WAVELENGTH#3", "OI_VIS2#4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tables (-want +got):\n%s", diff)
	}

	w2, err := NewWavelengthTable("GRAVITY", []float64{2.2e-6}, []float64{1e-7})
	mustNil(t, err)
	mustNil(t, f.Register(w2))
	if w2.ExtVer() != 2 {
		t.Errorf("second wavelength table ExtVer = %d, want 2", w2.ExtVer())
	}
}

func TestFile_Register_SecondTarget(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	tt, err := NewTargetTable([]int64{1}, []string{"X"}, []float64{0}, []float64{0})
	mustNil(t, err)
	if err := f.Register(tt); !errors.Is(err, ErrTargetExists) {
		t.Fatalf("expected ErrTargetExists, got %v", err)
	}
}

func TestFile_Register_Twice(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	other := NewFile()
	if err := other.Register(f.DataTables()[0]); !errors.Is(err, ErrTableRegistered) {
		t.Fatalf("expected ErrTableRegistered, got %v", err)
	}
}

func TestFile_Register_InvalidWavelength(t *testing.T) {
	w := NewTable(KindWavelength, 2)
	w.SetKeyword(KeywordInsName, "BROKEN")
	mustNil(t, w.AddColumn(NewFloatColumn(ColumnEffWave, 1, []float64{-1e-6, 0})))
	mustNil(t, w.AddColumn(NewFloatColumn(ColumnEffBand, 1, []float64{1e-7, 1e-7})))

	f := NewFile()
	if err := f.Register(w); !errors.Is(err, ErrInvalidWavelength) {
		t.Fatalf("expected ErrInvalidWavelength, got %v", err)
	}
	if w.File() != nil || len(f.Tables()) != 0 {
		t.Error("rejected table was registered")
	}
	if _, _, ok := f.WavelengthBounds(); ok {
		t.Error("rejected table contributed wavelength bounds")
	}
	if _, ok := f.Lookup(KindWavelength, "BROKEN"); ok {
		t.Error("rejected table is indexed")
	}
}

func TestFile_LookupAndBounds(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	if w, ok := f.Lookup(KindWavelength, "PIONIER"); !ok || w.Kind() != KindWavelength {
		t.Fatalf("Lookup(PIONIER) = %v, %v", w, ok)
	}
	if _, ok := f.Lookup(KindWavelength, "GRAVITY"); ok {
		t.Error("Lookup found an unknown name")
	}
	lo, hi, ok := f.WavelengthBounds()
	if !ok || lo != 1.6e-6 || hi != 1.8e-6 {
		t.Errorf("WavelengthBounds = %g %g %v", lo, hi, ok)
	}
	if diff := cmp.Diff([]string{"VLTI"}, f.AcceptedNames(KindArray)); diff != "" {
		t.Errorf("AcceptedNames (-want +got):\n%s", diff)
	}
}

func TestFile_Unregister_RebuildsIndexes(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	w, _ := f.Lookup(KindWavelength, "PIONIER")
	if !f.Unregister(w) {
		t.Fatal("Unregister returned false")
	}
	if f.Unregister(w) {
		t.Error("second Unregister returned true")
	}
	if _, ok := f.Lookup(KindWavelength, "PIONIER"); ok {
		t.Error("unregistered table still indexed")
	}
	if _, _, ok := f.WavelengthBounds(); ok {
		t.Error("bounds survive the last wavelength table")
	}
	if w.File() != nil || w.ExtNb() != -1 {
		t.Error("unregistered table keeps its registration")
	}
	mustNil(t, NewFile().Register(w))
}

func TestFile_Unregister_RenumbersExtensions(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	w, _ := f.Lookup(KindWavelength, "PIONIER")
	if !f.Unregister(w) {
		t.Fatal("Unregister returned false")
	}

	w2, err := NewWavelengthTable("GRAVITY", []float64{2.2e-6}, []float64{1e-7})
	mustNil(t, err)
	mustNil(t, f.Register(w2))

	var got []string
	for _, tbl := range f.Tables() {
		got = append(got, tbl.String())
	}
	want := []string{"OI_TARGET#1", "OI_ARRAY#2", "OI_VIS2#3", "OI_WAVELENGTH#4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tables (-want +got):\n%s", diff)
	}
}

// -----------------------------------------------------------------------------
// Check
// -----------------------------------------------------------------------------

func TestFile_Check_Clean(t *testing.T) {
	r := buildFile(t, "a", defaultSample()).Check(nil)
	if r.Len() != 0 {
		t.Fatalf("expected no failure, got:\n%s", r.Summary())
	}
	if r.Summary() != "no failure" {
		t.Errorf("Summary = %q", r.Summary())
	}
}

func TestFile_Check_MissingTables(t *testing.T) {
	f := NewFile()
	d, err := NewDataTable(KindVis2, "PIONIER", "", []int64{1}, []float64{58000}, nil)
	mustNil(t, err)
	mustNil(t, f.Register(d))

	r := f.Check(nil)
	for _, rule := range []string{RuleTargetExist, RuleWavelengthExist, RuleInsNameRef} {
		if !r.Has(rule) {
			t.Errorf("missing %s in:\n%s", rule, r.Summary())
		}
	}
	if r.Has(RuleArrNameRef) {
		t.Error("ARRNAME is optional and absent: no failure expected")
	}
}

func TestFile_Check_References(t *testing.T) {
	s := defaultSample()
	s.rows = append(s.rows, obs{target: 9, mjd: 58000.3, sta: [2]int64{1, 2}})
	f := buildFile(t, "a", s)

	dup, err := NewWavelengthTable("PIONIER", []float64{1e-6}, []float64{1e-7})
	mustNil(t, err)
	mustNil(t, f.Register(dup))
	d := f.DataTables()[0]
	d.SetKeyword(KeywordArrName, "CHARA")

	r := f.Check(nil)
	if r.Count(RuleInsNameUniq) != 1 {
		t.Errorf("INSNAME_UNIQ count = %d", r.Count(RuleInsNameUniq))
	}
	if r.Count(RuleArrNameRef) != 1 {
		t.Errorf("ARRNAME_REF count = %d", r.Count(RuleArrNameRef))
	}
	if r.Count(RuleTargetIDRef) != 1 {
		t.Errorf("TARGET_ID_REF count = %d", r.Count(RuleTargetIDRef))
	}
	for _, f := range r.Failures() {
		if f.Severity != SeverityError {
			t.Errorf("%s has severity %s", f.Rule, f.Severity)
		}
	}
}

func TestFile_Check_RunsValidator(t *testing.T) {
	f := buildFile(t, "a", defaultSample())
	v := ValidatorFunc(func(*File) *Report {
		r := NewReport()
		r.Add(Failure{Rule: "CUSTOM", Severity: SeverityWarning, Message: "custom"})
		return r
	})
	r := f.Check(v)
	if !r.Has("CUSTOM") {
		t.Fatalf("validator failure missing:\n%s", r.Summary())
	}
	if !strings.Contains(r.Summary(), "WARNING\tCUSTOM\tcustom") {
		t.Errorf("Summary = %q", r.Summary())
	}
}
