package forms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDependencyCycle marks a dependsOn rule that points at itself, at a
	// later question or at a question that does not exist.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrInvalidDefinition marks any other malformed form definition.
	ErrInvalidDefinition = errors.New("invalid form definition")
	// ErrStepIndexOutOfRange is returned when a step index does not exist.
	ErrStepIndexOutOfRange = errors.New("step index out of range")
)

// Lifecycle is the publication state of a form.
type Lifecycle string

const (
	LifecycleActive   Lifecycle = "active"
	LifecycleUpcoming Lifecycle = "upcoming"
	LifecycleOverdue  Lifecycle = "overdue"
)

// DateLayout is the layout of Definition.DueDate.
const DateLayout = "2006-01-02"

// Step is a named subset of a form's questions shown together.
type Step struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	QuestionIDs []string `json:"questions" yaml:"questions"`
}

// Definition is a declarative form.
type Definition struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Questions   []Question `json:"questions" yaml:"questions"`
	Steps       []Step     `json:"steps,omitempty" yaml:"steps,omitempty"`
	DueDate     string     `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	Lifecycle   Lifecycle  `json:"lifecycle" yaml:"lifecycle"`
	Storage     Storage    `json:"storage" yaml:"storage,omitempty"`
}

// IsMultiStep reports whether the form declares explicit steps.
func (d *Definition) IsMultiStep() bool {
	return len(d.Steps) > 0
}

// StepCount returns the number of steps, counting a single-page form as one.
func (d *Definition) StepCount() int {
	if len(d.Steps) == 0 {
		return 1
	}
	return len(d.Steps)
}

// LastStep is the index of the final step.
func (d *Definition) LastStep() int {
	return d.StepCount() - 1
}

// Question looks up a question by id.
func (d *Definition) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// StepTitle returns the title of step i, or the form name for a single-page form.
func (d *Definition) StepTitle(i int) string {
	if i < 0 || i >= len(d.Steps) {
		return d.Name
	}
	return d.Steps[i].Title
}

// QuestionsForStep returns every question of step i in the form's master
// order, without applying visibility.
func (d *Definition) QuestionsForStep(i int) ([]Question, error) {
	if i < 0 || i >= d.StepCount() {
		return nil, fmt.Errorf("%w: form %s has %d step(s), requested %d", ErrStepIndexOutOfRange, d.ID, d.StepCount(), i)
	}
	if len(d.Steps) == 0 {
		return append([]Question(nil), d.Questions...), nil
	}
	ids := make(map[string]struct{}, len(d.Steps[i].QuestionIDs))
	for _, id := range d.Steps[i].QuestionIDs {
		ids[id] = struct{}{}
	}
	var out []Question
	for _, q := range d.Questions {
		if _, ok := ids[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// VisibleQuestionsForStep returns the visible questions of step i in the
// form's master order.
func VisibleQuestionsForStep(d *Definition, i int, answers Answers) ([]Question, error) {
	qs, err := d.QuestionsForStep(i)
	if err != nil {
		return nil, err
	}
	return VisibleQuestions(qs, answers), nil
}

// Displayed returns every question that belongs to some step. For a
// single-page form this is every question.
func (d *Definition) Displayed() []Question {
	if len(d.Steps) == 0 {
		return append([]Question(nil), d.Questions...)
	}
	inStep := make(map[string]struct{})
	for _, s := range d.Steps {
		for _, id := range s.QuestionIDs {
			inStep[id] = struct{}{}
		}
	}
	var out []Question
	for _, q := range d.Questions {
		if _, ok := inStep[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Dependents returns the ids of questions whose dependsOn names field.
func (d *Definition) Dependents(field string) []string {
	var out []string
	for _, q := range d.Questions {
		if q.DependsOn != nil && q.DependsOn.Field == field {
			out = append(out, q.ID)
		}
	}
	return out
}

// EffectiveLifecycle reports overdue for an active form past its due date.
func (d *Definition) EffectiveLifecycle(now time.Time) Lifecycle {
	if d.Lifecycle != LifecycleActive || d.DueDate == "" {
		return d.Lifecycle
	}
	due, err := time.Parse(DateLayout, d.DueDate)
	if err != nil {
		return d.Lifecycle
	}
	if now.UTC().After(due.Add(24 * time.Hour)) {
		return LifecycleOverdue
	}
	return d.Lifecycle
}

// Validate checks the structural invariants of a definition.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: form id is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: form %s: name is required", ErrInvalidDefinition, d.ID)
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("%w: form %s has no questions", ErrInvalidDefinition, d.ID)
	}
	switch d.Lifecycle {
	case LifecycleActive, LifecycleUpcoming, LifecycleOverdue:
	case "":
		d.Lifecycle = LifecycleActive
	default:
		return fmt.Errorf("%w: form %s: unknown lifecycle %q", ErrInvalidDefinition, d.ID, d.Lifecycle)
	}
	if d.DueDate != "" {
		if _, err := time.Parse(DateLayout, d.DueDate); err != nil {
			return fmt.Errorf("%w: form %s: dueDate must be YYYY-MM-DD", ErrInvalidDefinition, d.ID)
		}
	}
	seen := make(map[string]int, len(d.Questions))
	for i, q := range d.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("%w: form %s: question %d has no id", ErrInvalidDefinition, d.ID, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: form %s: duplicate question id %s", ErrInvalidDefinition, d.ID, q.ID)
		}
		if err := validateQuestion(q); err != nil {
			return fmt.Errorf("%w: form %s: question %s: %v", ErrInvalidDefinition, d.ID, q.ID, err)
		}
		if q.DependsOn != nil {
			if err := validateDependency(d, q, seen); err != nil {
				return err
			}
		}
		seen[q.ID] = i
	}
	if err := d.validateSteps(); err != nil {
		return err
	}
	return d.Storage.Validate(d)
}

func validateQuestion(q Question) error {
	spec, ok := Spec(q.Type)
	if !ok {
		return fmt.Errorf("unknown type %q", q.Type)
	}
	if strings.TrimSpace(q.Label) == "" {
		return fmt.Errorf("label is required")
	}
	if spec.NeedsOptions && len(q.Options) == 0 {
		return fmt.Errorf("type %s needs options", q.Type)
	}
	if !spec.AllowsOptions && len(q.Options) > 0 {
		return fmt.Errorf("type %s does not take options", q.Type)
	}
	opts := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		if _, dup := opts[o]; dup {
			return fmt.Errorf("duplicate option %q", o)
		}
		opts[o] = struct{}{}
	}
	return nil
}

// validateDependency enforces that a rule only refers to an earlier
// question. Forbidding forward references rules out cycles.
func validateDependency(d *Definition, q Question, earlier map[string]int) error {
	dep := q.DependsOn
	if dep.Field == q.ID {
		return fmt.Errorf("%w: form %s: question %s depends on itself", ErrDependencyCycle, d.ID, q.ID)
	}
	if _, ok := earlier[dep.Field]; !ok {
		if _, exists := d.Question(dep.Field); exists {
			return fmt.Errorf("%w: form %s: question %s depends on later question %s", ErrDependencyCycle, d.ID, q.ID, dep.Field)
		}
		return fmt.Errorf("%w: form %s: question %s depends on unknown question %s", ErrDependencyCycle, d.ID, q.ID, dep.Field)
	}
	if len(dep.Values) == 0 {
		return fmt.Errorf("%w: form %s: question %s: dependsOn.value is empty", ErrInvalidDefinition, d.ID, q.ID)
	}
	target, _ := d.Question(dep.Field)
	if len(target.Options) > 0 {
		for _, v := range dep.Values {
			if !containsString(target.Options, v) {
				return fmt.Errorf("%w: form %s: question %s depends on %s=%q which is not an option", ErrInvalidDefinition, d.ID, q.ID, dep.Field, v)
			}
		}
	}
	return nil
}

func (d *Definition) validateSteps() error {
	if len(d.Steps) == 0 {
		return nil
	}
	owner := make(map[string]int)
	for i, s := range d.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("%w: form %s: step %d has no title", ErrInvalidDefinition, d.ID, i)
		}
		if len(s.QuestionIDs) == 0 {
			return fmt.Errorf("%w: form %s: step %d has no questions", ErrInvalidDefinition, d.ID, i)
		}
		for _, id := range s.QuestionIDs {
			if _, ok := d.Question(id); !ok {
				return fmt.Errorf("%w: form %s: step %d lists unknown question %s", ErrInvalidDefinition, d.ID, i, id)
			}
			if prev, dup := owner[id]; dup {
				return fmt.Errorf("%w: form %s: question %s appears in steps %d and %d", ErrInvalidDefinition, d.ID, id, prev, i)
			}
			owner[id] = i
		}
	}
	for _, q := range d.Questions {
		if _, ok := owner[q.ID]; !ok && q.Required {
			return fmt.Errorf("%w: form %s: required question %s is not in any step", ErrInvalidDefinition, d.ID, q.ID)
		}
	}
	return nil
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
