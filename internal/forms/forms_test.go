package forms

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func tableBooking() *Definition {
	return &Definition{
		ID:        "form-2",
		Name:      "Table Booking",
		Lifecycle: LifecycleActive,
		Questions: []Question{
			{ID: "table-configuration", Type: TypeRadio, Label: "Table", Required: true, Options: []string{"Single", "Couple"}},
			{ID: "guest-2-name", Type: TypeText, Label: "Guest", Required: true, DependsOn: &DependsOn{Field: "table-configuration", Values: []string{"Couple"}, Set: true}},
			{ID: "notes", Type: TypeTextarea, Label: "Notes"},
		},
		Steps: []Step{
			{Title: "Table", QuestionIDs: []string{"table-configuration"}},
			{Title: "Guests", QuestionIDs: []string{"notes", "guest-2-name"}},
		},
	}
}

func ids(qs []Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

func TestIsVisible(t *testing.T) {
	t.Parallel()
	single := Question{ID: "b", DependsOn: &DependsOn{Field: "a", Values: []string{"x"}}}
	set := Question{ID: "c", DependsOn: &DependsOn{Field: "a", Values: []string{"x", "y"}, Set: true}}
	boolean := Question{ID: "d", DependsOn: &DependsOn{Field: "flag", Values: []string{"true"}}}
	group := Question{ID: "e", DependsOn: &DependsOn{Field: "aspects", Values: []string{"Other"}, Set: true}}

	cases := []struct {
		name    string
		q       Question
		answers Answers
		want    bool
	}{
		{"no rule", Question{ID: "a"}, nil, true},
		{"missing answer hides", single, Answers{}, false},
		{"equal", single, Answers{"a": String("x")}, true},
		{"not equal", single, Answers{"a": String("z")}, false},
		{"set member", set, Answers{"a": String("y")}, true},
		{"set non member", set, Answers{"a": String("q")}, false},
		{"bool true", boolean, Answers{"flag": Bool(true)}, true},
		{"bool false", boolean, Answers{"flag": Bool(false)}, false},
		{"list any", group, Answers{"aspects": List("Food", "Other")}, true},
		{"list none", group, Answers{"aspects": List("Food")}, false},
	}
	for _, tc := range cases {
		if got := IsVisible(tc.q, tc.answers); got != tc.want {
			t.Errorf("%s: IsVisible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestVisibleQuestionsForStepKeepsMasterOrder(t *testing.T) {
	t.Parallel()
	def := tableBooking()
	got, err := VisibleQuestionsForStep(def, 1, Answers{"table-configuration": String("Couple")})
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if diff := cmp.Diff([]string{"guest-2-name", "notes"}, ids(got)); diff != "" {
		t.Fatalf("visible ids (-want +got):\n%s", diff)
	}
	got, err = VisibleQuestionsForStep(def, 1, Answers{"table-configuration": String("Single")})
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if diff := cmp.Diff([]string{"notes"}, ids(got)); diff != "" {
		t.Fatalf("visible ids (-want +got):\n%s", diff)
	}
	if _, err := VisibleQuestionsForStep(def, 2, nil); !errors.Is(err, ErrStepIndexOutOfRange) {
		t.Fatalf("expected ErrStepIndexOutOfRange, got %v", err)
	}
	if _, err := VisibleQuestionsForStep(def, -1, nil); !errors.Is(err, ErrStepIndexOutOfRange) {
		t.Fatalf("expected ErrStepIndexOutOfRange for negative index, got %v", err)
	}
}

func TestSinglePageFormIsOneImplicitStep(t *testing.T) {
	t.Parallel()
	def := tableBooking()
	def.Steps = nil
	got, err := VisibleQuestionsForStep(def, 0, Answers{"table-configuration": String("Single")})
	if err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if diff := cmp.Diff([]string{"table-configuration", "notes"}, ids(got)); diff != "" {
		t.Fatalf("visible ids (-want +got):\n%s", diff)
	}
	if _, err := VisibleQuestionsForStep(def, 1, nil); !errors.Is(err, ErrStepIndexOutOfRange) {
		t.Fatalf("expected ErrStepIndexOutOfRange, got %v", err)
	}
	if def.StepCount() != 1 || def.LastStep() != 0 {
		t.Fatalf("unexpected step count %d", def.StepCount())
	}
}

func TestValidateRejectsForwardAndSelfDependencies(t *testing.T) {
	t.Parallel()
	def := tableBooking()
	if err := def.Validate(); err != nil {
		t.Fatalf("valid form rejected: %v", err)
	}

	forward := tableBooking()
	forward.Questions[0], forward.Questions[1] = forward.Questions[1], forward.Questions[0]
	if err := forward.Validate(); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle for forward reference, got %v", err)
	}

	self := tableBooking()
	self.Questions[2].DependsOn = &DependsOn{Field: "notes", Values: []string{"x"}}
	if err := self.Validate(); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle for self reference, got %v", err)
	}

	unknown := tableBooking()
	unknown.Questions[2].DependsOn = &DependsOn{Field: "nope", Values: []string{"x"}}
	if err := unknown.Validate(); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle for unknown field, got %v", err)
	}

	badValue := tableBooking()
	badValue.Questions[1].DependsOn.Values = []string{"Triple"}
	if err := badValue.Validate(); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for non-option value, got %v", err)
	}
}

func TestValidateStructure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(d *Definition)
		msg    string
	}{
		{"duplicate id", func(d *Definition) { d.Questions[2].ID = "guest-2-name" }, "duplicate question id"},
		{"unknown type", func(d *Definition) { d.Questions[2].Type = "date" }, "unknown type"},
		{"radio without options", func(d *Definition) { d.Questions[0].Options = nil }, "needs options"},
		{"text with options", func(d *Definition) { d.Questions[2].Options = []string{"a"} }, "does not take options"},
		{"step lists unknown", func(d *Definition) { d.Steps[1].QuestionIDs = append(d.Steps[1].QuestionIDs, "ghost") }, "unknown question ghost"},
		{"question in two steps", func(d *Definition) { d.Steps[1].QuestionIDs = append(d.Steps[1].QuestionIDs, "table-configuration") }, "appears in steps 0 and 1"},
		{"required orphan", func(d *Definition) { d.Steps[1].QuestionIDs = []string{"notes"} }, "not in any step"},
		{"bad lifecycle", func(d *Definition) { d.Lifecycle = "archived" }, "unknown lifecycle"},
		{"bad due date", func(d *Definition) { d.DueDate = "15/06/2023" }, "dueDate"},
		{"unknown storage column", func(d *Definition) {
			d.Storage = Storage{Target: TargetSeating, Columns: map[string]string{"table-configuration": "form id"}}
		}, "not writable"},
		{"storage maps unknown question", func(d *Definition) {
			d.Storage = Storage{Target: TargetSeating, Columns: map[string]string{"table": "request_type"}}
		}, "unknown question table"},
	}
	for _, tc := range cases {
		def := tableBooking()
		tc.mutate(def)
		err := def.Validate()
		if !errors.Is(err, ErrInvalidDefinition) {
			t.Errorf("%s: expected ErrInvalidDefinition, got %v", tc.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.msg)
		}
	}
}

func TestDecodeDependsOnShapes(t *testing.T) {
	t.Parallel()
	doc := `{
  // seating form
  "id": "form-2",
  "name": "Table Booking",
  "lifecycle": "active",
  "questions": [
    {"id": "table-configuration", "type": "radio", "label": "Table", "required": true, "options": ["Single", "Couple"]},
    {"id": "guest-2-name", "type": "text", "label": "Guest", "required": true,
     "dependsOn": {"field": "table-configuration", "value": ["Couple"]}},
    {"id": "single-note", "type": "text", "label": "Note",
     "dependsOn": {"field": "table-configuration", "value": "Single"}},
  ],
}`
	def, err := Decode([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []*DependsOn{
		nil,
		{Field: "table-configuration", Values: []string{"Couple"}, Set: true},
		{Field: "table-configuration", Values: []string{"Single"}},
	}
	for i, q := range def.Questions {
		if diff := cmp.Diff(want[i], q.DependsOn); diff != "" {
			t.Errorf("question %s dependsOn (-want +got):\n%s", q.ID, diff)
		}
	}

	out, err := json.Marshal(def.Questions[2].DependsOn)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"field":"table-configuration","value":"Single"}` {
		t.Fatalf("single value should marshal as a string, got %s", out)
	}
}

func TestDecodeYAMLRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	doc := "id: f\nname: F\nquestions:\n  - {id: a, type: text, label: A, colour: red}\n"
	if _, err := Decode([]byte(doc), FormatYAML); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()
	defs, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	if diff := cmp.Diff([]string{"form-1", "form-2", "form-3", "form-4", "form-5", "form-6"}, func() []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.ID)
		}
		return out
	}()); diff != "" {
		t.Fatalf("catalog ids (-want +got):\n%s", diff)
	}
	seating := defs[1]
	if !seating.IsMultiStep() || seating.Storage.TargetOrDefault() != TargetSeating {
		t.Fatalf("form-2 should be a multi-step seating form")
	}
	if defs[0].Storage.TargetOrDefault() != TargetTickets {
		t.Fatalf("form-1 should write tickets")
	}
}

func TestQuestionChecks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		q     Question
		v     Value
		valid bool
	}{
		{Question{ID: "e", Type: TypeEmail}, String("jane.doe@student.edu"), true},
		{Question{ID: "e", Type: TypeEmail}, String("jane.doe"), false},
		{Question{ID: "e", Type: TypeEmail}, String("jane@localhost"), false},
		{Question{ID: "t", Type: TypeTel}, String("+852 (5) 123-4567"), true},
		{Question{ID: "t", Type: TypeTel}, String("call me"), false},
		{Question{ID: "n", Type: TypeNumber}, String("1200.50"), true},
		{Question{ID: "n", Type: TypeNumber}, String("lots"), false},
		{Question{ID: "r", Type: TypeRadio, Options: []string{"Yes", "No"}}, String("Yes"), true},
		{Question{ID: "r", Type: TypeRadio, Options: []string{"Yes", "No"}}, String("Maybe"), false},
		{Question{ID: "c", Type: TypeCheckbox, Options: []string{"Food", "Venue"}}, List("Food"), true},
		{Question{ID: "c", Type: TypeCheckbox, Options: []string{"Food", "Venue"}}, List("Music"), false},
		{Question{ID: "x", Type: TypeText}, String(""), true},
	}
	for _, tc := range cases {
		err := tc.q.Check(tc.v)
		if (err == nil) != tc.valid {
			t.Errorf("%s %v: Check error = %v, want valid=%v", tc.q.Type, tc.v.Raw(), err, tc.valid)
		}
	}
}

func TestCoerceShapes(t *testing.T) {
	t.Parallel()
	box := Question{ID: "ok", Type: TypeCheckbox}
	v, err := box.Coerce("true")
	if err != nil || v.Kind() != KindBool || !v.BoolValue() {
		t.Fatalf("checkbox coerce: %v %v", v.Raw(), err)
	}
	group := Question{ID: "g", Type: TypeCheckbox, Options: []string{"A", "B"}}
	v, err = group.Coerce([]any{"A", "B"})
	if err != nil || v.Kind() != KindList {
		t.Fatalf("group coerce: %v %v", v.Raw(), err)
	}
	if _, err := (Question{ID: "t", Type: TypeText}).Coerce(true); err == nil {
		t.Fatalf("text should reject booleans")
	}
	num := Question{ID: "n", Type: TypeNumber}
	v, err = num.Coerce(float64(42))
	if err != nil || v.Str() != "42" {
		t.Fatalf("number coerce: %v %v", v.Raw(), err)
	}
}

func TestRenderHints(t *testing.T) {
	t.Parallel()
	if got := (Question{Type: TypeEmail}).Render(); got.Widget != WidgetInput || got.InputType != "email" {
		t.Fatalf("email hint: %+v", got)
	}
	if got := (Question{Type: TypeCheckbox, Options: []string{"a"}}).Render(); got.Widget != WidgetCheckboxGroup || !got.Multiple {
		t.Fatalf("checkbox group hint: %+v", got)
	}
	if got := (Question{Type: TypeCheckbox}).Render(); got.Widget != WidgetCheckbox {
		t.Fatalf("checkbox hint: %+v", got)
	}
}

func TestEffectiveLifecycle(t *testing.T) {
	t.Parallel()
	def := &Definition{Lifecycle: LifecycleActive, DueDate: "2023-06-15"}
	if got := def.EffectiveLifecycle(time.Date(2023, 6, 15, 20, 0, 0, 0, time.UTC)); got != LifecycleActive {
		t.Fatalf("on due date: %s", got)
	}
	if got := def.EffectiveLifecycle(time.Date(2023, 6, 17, 0, 0, 0, 0, time.UTC)); got != LifecycleOverdue {
		t.Fatalf("after due date: %s", got)
	}
	upcoming := &Definition{Lifecycle: LifecycleUpcoming, DueDate: "2020-01-01"}
	if got := upcoming.EffectiveLifecycle(time.Now()); got != LifecycleUpcoming {
		t.Fatalf("upcoming should not turn overdue: %s", got)
	}
}

func TestDescriptionHTMLSanitises(t *testing.T) {
	t.Parallel()
	got := DescriptionHTML("Bring your **ticket**.<script>alert(1)</script>")
	if !strings.Contains(got, "<strong>ticket</strong>") {
		t.Fatalf("markdown not rendered: %s", got)
	}
	if strings.Contains(got, "script") {
		t.Fatalf("script not stripped: %s", got)
	}
	if DescriptionHTML("  ") != "" {
		t.Fatalf("blank description should render empty")
	}
}

func TestStorageApply(t *testing.T) {
	t.Parallel()
	s := Storage{Target: TargetTickets, Columns: map[string]string{"firstname": "first_name", "surname": "surname"}}
	got := s.Apply(Answers{"firstname": String("Jane"), "other": String("x")})
	if len(got) != 1 || got["first_name"].Str() != "Jane" {
		t.Fatalf("apply: %+v", got)
	}
}
