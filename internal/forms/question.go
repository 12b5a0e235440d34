package forms

import (
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"
)

// QuestionType is the fixed set of field kinds a form can use.
type QuestionType string

const (
	TypeText     QuestionType = "text"
	TypeEmail    QuestionType = "email"
	TypeTel      QuestionType = "tel"
	TypeNumber   QuestionType = "number"
	TypeTextarea QuestionType = "textarea"
	TypeCheckbox QuestionType = "checkbox"
	TypeRadio    QuestionType = "radio"
	TypeSelect   QuestionType = "select"
)

// Question is one field of a form.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	Type          QuestionType `json:"type" yaml:"type"`
	Label         string       `json:"label" yaml:"label"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	Required      bool         `json:"required" yaml:"required"`
	Options       []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder   string       `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	CheckboxLabel string       `json:"checkboxLabel,omitempty" yaml:"checkboxLabel,omitempty"`
	DependsOn     *DependsOn   `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
}

// IsGroup reports whether a checkbox question collects a list of options
// rather than a single boolean.
func (q Question) IsGroup() bool {
	return q.Type == TypeCheckbox && len(q.Options) > 0
}

// Widget names how a client should render a question.
type Widget string

const (
	WidgetInput         Widget = "input"
	WidgetTextarea      Widget = "textarea"
	WidgetCheckbox      Widget = "checkbox"
	WidgetCheckboxGroup Widget = "checkbox-group"
	WidgetRadioGroup    Widget = "radio-group"
	WidgetSelect        Widget = "select"
)

// RenderHint is the client-facing rendering description of a question.
type RenderHint struct {
	Widget    Widget `json:"widget"`
	InputType string `json:"input_type,omitempty"`
	InputMode string `json:"input_mode,omitempty"`
	Multiple  bool   `json:"multiple,omitempty"`
}

// TypeSpec collects the per-type behaviour of a question kind.
type TypeSpec struct {
	// NeedsOptions is true when the type requires an options list.
	NeedsOptions bool
	// AllowsOptions is true when an options list is accepted.
	AllowsOptions bool
	Render        func(q Question) RenderHint
	// Coerce converts a raw decoded input into the canonical Value shape.
	Coerce func(q Question, raw any) (Value, error)
	// Check validates a non-empty value's content.
	Check func(q Question, v Value) error
}

var typeSpecs = map[QuestionType]TypeSpec{
	TypeText: {
		Render: inputHint("text", "text"),
		Coerce: coerceString,
		Check:  noCheck,
	},
	TypeTextarea: {
		Render: func(Question) RenderHint { return RenderHint{Widget: WidgetTextarea} },
		Coerce: coerceString,
		Check:  noCheck,
	},
	TypeEmail: {
		Render: inputHint("email", "email"),
		Coerce: coerceString,
		Check:  checkEmail,
	},
	TypeTel: {
		Render: inputHint("tel", "tel"),
		Coerce: coerceString,
		Check:  checkTel,
	},
	TypeNumber: {
		Render: inputHint("number", "decimal"),
		Coerce: coerceString,
		Check:  checkNumber,
	},
	TypeRadio: {
		NeedsOptions:  true,
		AllowsOptions: true,
		Render:        func(Question) RenderHint { return RenderHint{Widget: WidgetRadioGroup} },
		Coerce:        coerceString,
		Check:         checkOption,
	},
	TypeSelect: {
		NeedsOptions:  true,
		AllowsOptions: true,
		Render:        func(Question) RenderHint { return RenderHint{Widget: WidgetSelect} },
		Coerce:        coerceString,
		Check:         checkOption,
	},
	TypeCheckbox: {
		AllowsOptions: true,
		Render: func(q Question) RenderHint {
			if q.IsGroup() {
				return RenderHint{Widget: WidgetCheckboxGroup, Multiple: true}
			}
			return RenderHint{Widget: WidgetCheckbox}
		},
		Coerce: coerceCheckbox,
		Check:  checkCheckbox,
	},
}

// Spec returns the behaviour table entry for t.
func Spec(t QuestionType) (TypeSpec, bool) {
	s, ok := typeSpecs[t]
	return s, ok
}

// Types lists every supported question type.
func Types() []QuestionType {
	out := make([]QuestionType, 0, len(typeSpecs))
	for t := range typeSpecs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Render returns the rendering hint for q.
func (q Question) Render() RenderHint {
	spec, ok := Spec(q.Type)
	if !ok {
		return RenderHint{Widget: WidgetInput, InputType: "text"}
	}
	return spec.Render(q)
}

// Coerce converts raw input into a Value of the shape q expects.
func (q Question) Coerce(raw any) (Value, error) {
	spec, ok := Spec(q.Type)
	if !ok {
		return Value{}, fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	return spec.Coerce(q, raw)
}

// Check validates the content of a non-empty value. Empty values are
// accepted here; requiredness is enforced separately.
func (q Question) Check(v Value) error {
	if v.IsEmpty() {
		return nil
	}
	spec, ok := Spec(q.Type)
	if !ok {
		return fmt.Errorf("unknown type %q", q.Type)
	}
	return spec.Check(q, v)
}

func inputHint(inputType, mode string) func(Question) RenderHint {
	return func(Question) RenderHint {
		return RenderHint{Widget: WidgetInput, InputType: inputType, InputMode: mode}
	}
}

func coerceString(q Question, raw any) (Value, error) {
	v, err := FromRaw(raw)
	if err != nil {
		return Value{}, err
	}
	switch v.Kind() {
	case KindNone, KindString:
		return v, nil
	default:
		return Value{}, fmt.Errorf("question %s expects a string, got %s", q.ID, v.Kind())
	}
}

func coerceCheckbox(q Question, raw any) (Value, error) {
	if s, ok := raw.(string); ok && !q.IsGroup() {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("question %s expects true or false", q.ID)
		}
		return Bool(b), nil
	}
	v, err := FromRaw(raw)
	if err != nil {
		return Value{}, err
	}
	if v.Kind() == KindNone {
		return v, nil
	}
	if q.IsGroup() {
		if v.Kind() == KindString {
			return List(v.Str()), nil
		}
		if v.Kind() != KindList {
			return Value{}, fmt.Errorf("question %s expects a list of options", q.ID)
		}
		return v, nil
	}
	if v.Kind() != KindBool {
		return Value{}, fmt.Errorf("question %s expects true or false", q.ID)
	}
	return v, nil
}

func noCheck(Question, Value) error { return nil }

func checkEmail(_ Question, v Value) error {
	s := strings.TrimSpace(v.Str())
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("must be a valid email address")
	}
	at := strings.LastIndex(s, "@")
	if !strings.Contains(s[at+1:], ".") {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

func checkTel(_ Question, v Value) error {
	digits := 0
	for _, r := range v.Str() {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune(" +-()", r):
		default:
			return fmt.Errorf("must be a phone number")
		}
	}
	if digits == 0 {
		return fmt.Errorf("must be a phone number")
	}
	return nil
}

func checkNumber(_ Question, v Value) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64); err != nil {
		return fmt.Errorf("must be a number")
	}
	return nil
}

func checkOption(q Question, v Value) error {
	if !slices.Contains(q.Options, v.Str()) {
		return fmt.Errorf("must be one of %s", strings.Join(q.Options, ", "))
	}
	return nil
}

func checkCheckbox(q Question, v Value) error {
	if !q.IsGroup() {
		return nil
	}
	for _, item := range v.Items() {
		if !slices.Contains(q.Options, item) {
			return fmt.Errorf("%q is not one of %s", item, strings.Join(q.Options, ", "))
		}
	}
	return nil
}
