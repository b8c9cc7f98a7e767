package plan

import (
	"fmt"
	"strings"
)

// Kind classifies a validation finding.
type Kind string

const (
	KindDuplicateID       Kind = "duplicate_id"
	KindMissingID         Kind = "missing_id"
	KindNamingConvention  Kind = "naming_convention"
	KindFieldShape        Kind = "field_shape"
	KindMissingReference  Kind = "missing_reference"
	KindSelfDependency    Kind = "self_dependency"
	KindCycle             Kind = "cycle"
	KindOrphanedValidator Kind = "orphaned_validator"
	KindNoGraph           Kind = "no_graph"
)

// hardKinds block orchestration; every other kind is advisory.
var hardKinds = map[Kind]bool{
	KindDuplicateID:      true,
	KindMissingID:        true,
	KindMissingReference: true,
	KindSelfDependency:   true,
	KindCycle:            true,
	KindNoGraph:          true,
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

func (k Kind) Severity() Severity {
	if hardKinds[k] {
		return SeverityError
	}
	return SeverityWarning
}

// Finding is one validation result: what is wrong, which tasks, and why.
type Finding struct {
	Kind    Kind
	TaskIDs []string
	Message string
}

func (f Finding) Severity() Severity {
	return f.Kind.Severity()
}

func (f Finding) IsHard() bool {
	return hardKinds[f.Kind]
}

func (f Finding) Error() string {
	if len(f.TaskIDs) == 0 {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", f.Kind, strings.Join(f.TaskIDs, ", "), f.Message)
}

// Result is the ordered list of findings from one validation pass.
// A Result with no findings is OK.
type Result struct {
	Findings []Finding
}

func (r *Result) Add(kind Kind, taskIDs []string, message string) {
	r.Findings = append(r.Findings, Finding{Kind: kind, TaskIDs: taskIDs, Message: message})
}

func (r *Result) OK() bool {
	return len(r.Findings) == 0
}

// HasHardFailure reports whether any finding must stop orchestration.
func (r *Result) HasHardFailure() bool {
	for _, f := range r.Findings {
		if f.IsHard() {
			return true
		}
	}
	return false
}

func (r *Result) Hard() []Finding {
	return r.filter(true)
}

func (r *Result) Advisory() []Finding {
	return r.filter(false)
}

// OfKind returns the findings of a single kind, in report order.
func (r *Result) OfKind(kind Kind) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (r *Result) filter(hard bool) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.IsHard() == hard {
			out = append(out, f)
		}
	}
	return out
}

func (r *Result) Error() string {
	msgs := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "\n")
}

func (r *Result) FormatStderr() string {
	var sb strings.Builder
	for _, f := range r.Findings {
		fmt.Fprintf(&sb, "%s: %s\n", f.Severity(), f.Error())
	}
	return sb.String()
}
