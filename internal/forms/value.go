package forms

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueKind tags the shape held by a Value.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindString
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "none"
	}
}

// Value is a single answer: a string, a boolean or a list of strings.
// The zero Value means "no answer".
type Value struct {
	kind ValueKind
	str  string
	b    bool
	list []string
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func List(items ...string) Value {
	out := make([]string, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

func (v Value) Kind() ValueKind { return v.kind }

// IsSet reports whether v holds any answer at all.
func (v Value) IsSet() bool { return v.kind != KindNone }

// IsEmpty reports whether v counts as unanswered for required checks.
// An unchecked checkbox is empty.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindBool:
		return !v.b
	case KindList:
		return len(v.list) == 0
	default:
		return true
	}
}

func (v Value) Str() string { return v.str }

func (v Value) BoolValue() bool { return v.b }

func (v Value) Items() []string {
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// Text renders v as a single string, used for display and for storage
// columns that hold scalar text.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		b, _ := json.Marshal(v.list)
		return string(b)
	default:
		return ""
	}
}

// Equal compares kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
	}
	return true
}

// Raw returns the plain Go value (string, bool, []string or nil).
func (v Value) Raw() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindList:
		return v.Items()
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	return v.Raw(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromRaw converts a decoded JSON/YAML value into a Value. Numbers are
// kept as their decimal string form.
func FromRaw(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return String(strconv.FormatFloat(t, 'f', -1, 64)), nil
	case int:
		return String(strconv.Itoa(t)), nil
	case int64:
		return String(strconv.FormatInt(t, 10)), nil
	case json.Number:
		return String(t.String()), nil
	case []string:
		return List(t...), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list items must be strings, got %T", item)
			}
			items = append(items, s)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported answer type %T", raw)
	}
}

// Answers maps question ids to their current values.
type Answers map[string]Value

func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if v.kind == KindList {
			v = List(v.list...)
		}
		out[k] = v
	}
	return out
}

// Keys returns the answered question ids in sorted order.
func (a Answers) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both maps hold the same keys and values.
func (a Answers) Equal(o Answers) bool {
	if len(a) != len(o) {
		return false
	}
	for k, v := range a {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// RawMap converts answers to plain Go values for JSON payloads.
func (a Answers) RawMap() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.Raw()
	}
	return out
}

// AnswersFromRaw converts a decoded JSON object into Answers. Null values
// are dropped.
func AnswersFromRaw(raw map[string]any) (Answers, error) {
	out := make(Answers, len(raw))
	for k, item := range raw {
		v, err := FromRaw(item)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", k, err)
		}
		if v.IsSet() {
			out[k] = v
		}
	}
	return out, nil
}
