package oifits

import (
	"fmt"
	"slices"
	"strings"
)

// Rule codes reported by File.Check.
const (
	RuleTargetExist     = "OIFITS_OI_TARGET_EXIST"
	RuleWavelengthExist = "OIFITS_OI_WAVELENGTH_EXIST"
	RuleTargetRowExist  = "OI_TARGET_TARGET_EXIST"
	RuleInsNameRef      = "INSNAME_REF"
	RuleInsNameUniq     = "INSNAME_UNIQ"
	RuleArrNameRef      = "ARRNAME_REF"
	RuleArrNameUniq     = "ARRNAME_UNIQ"
	RuleCorrNameRef     = "CORRNAME_REF"
	RuleCorrNameUniq    = "CORRNAME_UNIQ"
	RuleTargetIDRef     = "TARGET_ID_REF"
)

// Severity ranks a failure.
type Severity int

// Severities in increasing order.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	default:
		return "SEVERE"
	}
}

// Failure is one defect found by a check.
type Failure struct {
	Rule     string
	Severity Severity
	Table    string
	Message  string
}

func (f Failure) String() string {
	if f.Table == "" {
		return fmt.Sprintf("%s\t%s\t%s", f.Severity, f.Rule, f.Message)
	}
	return fmt.Sprintf("%s\t%s\t%s: %s", f.Severity, f.Rule, f.Table, f.Message)
}

// Report accumulates failures.
type Report struct {
	failures []Failure
}

// NewReport returns an empty report.
func NewReport() *Report { return &Report{} }

// Add records a failure.
func (r *Report) Add(f Failure) { r.failures = append(r.failures, f) }

func (r *Report) addf(rule string, sev Severity, t *Table, format string, args ...any) {
	f := Failure{Rule: rule, Severity: sev, Message: fmt.Sprintf(format, args...)}
	if t != nil {
		f.Table = t.String()
	}
	r.Add(f)
}

// Failures returns the recorded failures in order.
func (r *Report) Failures() []Failure { return slices.Clone(r.failures) }

// Len returns the number of failures.
func (r *Report) Len() int { return len(r.failures) }

// Count returns the number of failures of a rule.
func (r *Report) Count(rule string) int {
	n := 0
	for _, f := range r.failures {
		if f.Rule == rule {
			n++
		}
	}
	return n
}

// Has reports whether any failure of the rule was recorded.
func (r *Report) Has(rule string) bool { return r.Count(rule) > 0 }

// Merge appends the failures of o.
func (r *Report) Merge(o *Report) {
	if o != nil {
		r.failures = append(r.failures, o.failures...)
	}
}

// Summary renders one failure per line.
func (r *Report) Summary() string {
	if len(r.failures) == 0 {
		return "no failure"
	}
	var sb strings.Builder
	for _, f := range r.failures {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
