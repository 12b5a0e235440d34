package forms

import (
	"fmt"
	"sort"
)

// Target names the record table a form's submissions are written to.
type Target string

const (
	TargetSubmissions Target = "form_submissions"
	TargetTickets     Target = "ticket_form"
	TargetSeating     Target = "seating_requests"
)

// targetColumns lists the columns each target accepts from answers.
// Columns filled by the system (ids, timestamps, submitter email, payload
// snapshot, ticket status) are not mappable.
var targetColumns = map[Target][]string{
	TargetSubmissions: nil,
	TargetTickets: {
		"first_name", "surname", "student_number", "student_email",
		"grade_level", "ticket_type", "has_guest",
	},
	TargetSeating: {"request_type"},
}

// Columns returns the mappable columns of t.
func (t Target) Columns() []string {
	return append([]string(nil), targetColumns[t]...)
}

// Storage maps question ids to the storage columns of a target table.
type Storage struct {
	Target  Target            `json:"target,omitempty" yaml:"target,omitempty"`
	Columns map[string]string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// TargetOrDefault returns the target, defaulting to form_submissions.
func (s Storage) TargetOrDefault() Target {
	if s.Target == "" {
		return TargetSubmissions
	}
	return s.Target
}

// Validate checks that every mapped question exists in d, every column is
// known for the target, and no two questions share a column.
func (s Storage) Validate(d *Definition) error {
	target := s.TargetOrDefault()
	allowed, ok := targetColumns[target]
	if !ok {
		return fmt.Errorf("%w: form %s: unknown storage target %q", ErrInvalidDefinition, d.ID, s.Target)
	}
	used := make(map[string]string, len(s.Columns))
	for _, qid := range sortedKeys(s.Columns) {
		col := s.Columns[qid]
		if _, ok := d.Question(qid); !ok {
			return fmt.Errorf("%w: form %s: storage maps unknown question %s", ErrInvalidDefinition, d.ID, qid)
		}
		if !containsString(allowed, col) {
			return fmt.Errorf("%w: form %s: storage column %q is not writable on %s", ErrInvalidDefinition, d.ID, col, target)
		}
		if prev, dup := used[col]; dup {
			return fmt.Errorf("%w: form %s: questions %s and %s both map to column %s", ErrInvalidDefinition, d.ID, prev, qid, col)
		}
		used[col] = qid
	}
	return nil
}

// Apply projects answers onto columns. Unanswered mapped questions are
// omitted from the result.
func (s Storage) Apply(answers Answers) map[string]Value {
	out := make(map[string]Value, len(s.Columns))
	for qid, col := range s.Columns {
		if v, ok := answers[qid]; ok {
			out[col] = v
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
