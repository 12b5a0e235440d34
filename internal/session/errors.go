package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrQuestionHidden  = errors.New("question is not visible")
)

// ValidationError lists the visible fields that block navigation.
type ValidationError struct {
	MissingFields []string
	// InvalidFields maps question ids to a reason for answers that are
	// present but malformed.
	InvalidFields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		keys := make([]string, 0, len(e.InvalidFields))
		for k := range e.InvalidFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var invalid []string
		for _, k := range keys {
			invalid = append(invalid, fmt.Sprintf("%s %s", k, e.InvalidFields[k]))
		}
		parts = append(parts, "invalid fields: "+strings.Join(invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// SubmissionFailure wraps a record store error.
type SubmissionFailure struct {
	Reason string
	Err    error
}

func (e *SubmissionFailure) Error() string {
	return "submission failed: " + e.Reason
}

func (e *SubmissionFailure) Unwrap() error { return e.Err }

// StateError is returned when a transition is not allowed in the current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}
