package forms

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DependsOn ties a question's visibility to an earlier question's answer.
// Value holds either a single accepted value or a set of accepted values.
type DependsOn struct {
	Field  string
	Values []string
	// Set records whether the rule was written as a list.
	Set bool
}

type dependsOnDoc struct {
	Field string `json:"field" yaml:"field"`
	Value any    `json:"value" yaml:"value"`
}

func (d DependsOn) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.doc())
}

func (d *DependsOn) UnmarshalJSON(data []byte) error {
	var doc dependsOnDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return d.fromDoc(doc)
}

func (d DependsOn) MarshalYAML() (any, error) {
	return d.doc(), nil
}

func (d *DependsOn) UnmarshalYAML(node *yaml.Node) error {
	var doc dependsOnDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	return d.fromDoc(doc)
}

func (d DependsOn) doc() dependsOnDoc {
	doc := dependsOnDoc{Field: d.Field}
	if d.Set || len(d.Values) != 1 {
		doc.Value = d.Values
	} else {
		doc.Value = d.Values[0]
	}
	return doc
}

func (d *DependsOn) fromDoc(doc dependsOnDoc) error {
	d.Field = doc.Field
	d.Values = nil
	d.Set = false
	switch v := doc.Value.(type) {
	case string:
		d.Values = []string{v}
	case bool:
		d.Values = []string{strconv.FormatBool(v)}
	case []any:
		d.Set = true
		for _, item := range v {
			switch s := item.(type) {
			case string:
				d.Values = append(d.Values, s)
			case bool:
				d.Values = append(d.Values, strconv.FormatBool(s))
			default:
				return fmt.Errorf("dependsOn.value items must be strings, got %T", item)
			}
		}
	case nil:
		return fmt.Errorf("dependsOn.value is required")
	default:
		return fmt.Errorf("dependsOn.value must be a string or a list of strings, got %T", doc.Value)
	}
	return nil
}

// Matches reports whether an answer satisfies the rule. A missing answer
// never matches. Booleans compare by their "true"/"false" form and a list
// answer matches when any of its items is accepted.
func (d DependsOn) Matches(v Value) bool {
	switch v.Kind() {
	case KindString:
		return slices.Contains(d.Values, v.Str())
	case KindBool:
		return slices.Contains(d.Values, strconv.FormatBool(v.BoolValue()))
	case KindList:
		for _, item := range v.Items() {
			if slices.Contains(d.Values, item) {
				return true
			}
		}
	}
	return false
}

// IsVisible reports whether q should be shown given the current answers.
func IsVisible(q Question, answers Answers) bool {
	if q.DependsOn == nil {
		return true
	}
	v, ok := answers[q.DependsOn.Field]
	if !ok {
		return false
	}
	return q.DependsOn.Matches(v)
}

// VisibleQuestions filters qs to the visible ones, keeping their order.
func VisibleQuestions(qs []Question, answers Answers) []Question {
	var out []Question
	for _, q := range qs {
		if IsVisible(q, answers) {
			out = append(out, q)
		}
	}
	return out
}
