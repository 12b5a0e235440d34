package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"formline/internal/forms"
)

type memStore struct {
	mu      sync.Mutex
	records []SubmissionRecord
	fail    error
	// gate, when set, blocks Insert until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (m *memStore) Insert(ctx context.Context, rec SubmissionRecord) (string, error) {
	if m.entered != nil {
		close(m.entered)
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	rec.ID = fmt.Sprintf("sub-%d", len(m.records)+1)
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *memStore) QueryByFilter(ctx context.Context, f Filter) ([]SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SubmissionRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if f.FormID != "" && rec.FormID != f.FormID {
			continue
		}
		if f.SubmitterIdentity != "" && rec.SubmitterIdentity != f.SubmitterIdentity {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

type notice struct {
	Kind NoticeKind
	Msg  string
}

type recorder struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recorder) Notify(kind NoticeKind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{kind, msg})
}

func (r *recorder) last() notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return notice{}
	}
	return r.notices[len(r.notices)-1]
}

func seatingForm() *forms.Definition {
	return &forms.Definition{
		ID:        "form-2",
		Name:      "Table Booking",
		Lifecycle: forms.LifecycleActive,
		Questions: []forms.Question{
			{ID: "table-configuration", Type: forms.TypeRadio, Label: "Table", Required: true, Options: []string{"Single", "Couple"}},
			{ID: "guest-2-name", Type: forms.TypeText, Label: "Guest", Required: true, DependsOn: &forms.DependsOn{Field: "table-configuration", Values: []string{"Couple"}, Set: true}},
			{ID: "guest-2-email", Type: forms.TypeEmail, Label: "Guest email", DependsOn: &forms.DependsOn{Field: "guest-2-name", Values: []string{"Sam"}}},
		},
		Steps: []forms.Step{
			{Title: "Table", QuestionIDs: []string{"table-configuration"}},
			{Title: "Guest", QuestionIDs: []string{"guest-2-name", "guest-2-email"}},
		},
	}
}

func newSession(t *testing.T, store *memStore, opts Options) *Session {
	t.Helper()
	opts.Store = store
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	}
	s, err := New(context.Background(), seatingForm(), opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestSingleSkipsHiddenRequiredGuest(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newSession(t, store, Options{Identity: StaticIdentity("jane@student.edu")})

	if err := s.Answer("table-configuration", "Single"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if s.Step() != 1 {
		t.Fatalf("expected step 1, got %d", s.Step())
	}
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
	want := forms.Answers{"table-configuration": forms.String("Single")}
	if diff := cmp.Diff(want, store.records[0].Answers); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
	if store.records[0].SubmitterIdentity != "jane@student.edu" {
		t.Fatalf("identity not stamped: %+v", store.records[0])
	}
}

func TestCoupleWithoutGuestNameFailsValidation(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	notes := &recorder{}
	s := newSession(t, store, Options{Notifier: notes})

	if err := s.Answer("table-configuration", "Couple"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	err := s.Submit(ctx)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"guest-2-name"}, verr.MissingFields); diff != "" {
		t.Fatalf("missing fields (-want +got):\n%s", diff)
	}
	if s.State() != StateEditing || s.Step() != 1 {
		t.Fatalf("expected editing step 1, got %s step %d", s.State(), s.Step())
	}
	if len(store.records) != 0 {
		t.Fatalf("store must not be called")
	}
	if got := notes.last(); got.Kind != NoticeError {
		t.Fatalf("expected error notice, got %+v", got)
	}
}

func TestNextRefusesMissingRequiredOnActiveStep(t *testing.T) {
	s := newSession(t, &memStore{}, Options{})
	before := s.Answers()
	err := s.Next(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.MissingFields) != 1 || verr.MissingFields[0] != "table-configuration" {
		t.Fatalf("expected missing table-configuration, got %v", err)
	}
	if s.Step() != 0 {
		t.Fatalf("step changed to %d", s.Step())
	}
	if !before.Equal(s.Answers()) {
		t.Fatalf("answers changed")
	}
}

func TestTogglingPreconditionPurgesDependents(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newSession(t, store, Options{})
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	mustAnswer(t, s, "guest-2-email", "sam@example.com")
	if err := s.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	mustAnswer(t, s, "table-configuration", "Single")

	want := forms.Answers{"table-configuration": forms.String("Single")}
	if diff := cmp.Diff(want, s.Answers()); diff != "" {
		t.Fatalf("answers after toggle (-want +got):\n%s", diff)
	}
	mustAnswer(t, s, "table-configuration", "Couple")
	if _, ok := s.Answers()["guest-2-name"]; ok {
		t.Fatalf("purged answer must not come back")
	}
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Alex")
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, ok := store.records[0].Answers["guest-2-email"]; ok {
		t.Fatalf("hidden guest email submitted: %+v", store.records[0].Answers)
	}
}

func TestClearingAnswerHidesDependents(t *testing.T) {
	s := newSession(t, &memStore{}, Options{})
	mustAnswer(t, s, "table-configuration", "Couple")
	mustAnswer(t, s, "guest-2-name", "Sam")
	if err := s.Clear("table-configuration"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := len(s.Answers()); got != 0 {
		t.Fatalf("expected no answers, got %d", got)
	}
}

func TestAnswerRejectsHiddenAndUnknown(t *testing.T) {
	s := newSession(t, &memStore{}, Options{})
	if err := s.Answer("guest-2-name", "Sam"); !errors.Is(err, ErrQuestionHidden) {
		t.Fatalf("expected ErrQuestionHidden, got %v", err)
	}
	if err := s.Answer("nope", "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if err := s.Answer("table-configuration", true); err == nil {
		t.Fatalf("expected shape error for boolean radio answer")
	}
}

func TestPreviousThenNextRestoresStep(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, &memStore{}, Options{})
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	before := s.Answers()
	if err := s.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if s.Step() != 1 {
		t.Fatalf("expected step 1, got %d", s.Step())
	}
	if diff := cmp.Diff(before, s.Answers()); diff != "" {
		t.Fatalf("answers changed (-want +got):\n%s", diff)
	}
	if err := s.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	var serr *StateError
	if err := s.Previous(); !errors.As(err, &serr) {
		t.Fatalf("previous at step 0 should fail, got %v", err)
	}
}

func TestSubmitOnlyFromLastStep(t *testing.T) {
	s := newSession(t, &memStore{}, Options{})
	mustAnswer(t, s, "table-configuration", "Single")
	var serr *StateError
	if err := s.Submit(context.Background()); !errors.As(err, &serr) {
		t.Fatalf("submit at step 0 should be rejected, got %v", err)
	}
}

func TestNextOnLastStepSubmits(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newSession(t, store, Options{})
	mustAnswer(t, s, "table-configuration", "Single")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next on last step: %v", err)
	}
	if s.State() != StateCompleted || len(store.records) != 1 {
		t.Fatalf("expected a completed submission, got %s with %d records", s.State(), len(store.records))
	}
}

func TestEditAndCancelEditRestoreOriginal(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newSession(t, store, Options{})
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	original := store.records[0].Answers

	if err := s.Edit(); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if s.State() != StateEditing || s.Step() != 0 || !s.Editing() {
		t.Fatalf("expected editing at step 0, got %s step %d", s.State(), s.Step())
	}
	if diff := cmp.Diff(original, s.Answers()); diff != "" {
		t.Fatalf("edit answers (-want +got):\n%s", diff)
	}
	if err := s.CancelEdit(); err != nil {
		t.Fatalf("cancel edit: %v", err)
	}
	if s.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
	if diff := cmp.Diff(original, s.Answers()); diff != "" {
		t.Fatalf("answers after cancel (-want +got):\n%s", diff)
	}

	if err := s.Edit(); err != nil {
		t.Fatalf("edit: %v", err)
	}
	mustAnswer(t, s, "table-configuration", "Single")
	if err := s.CancelEdit(); err != nil {
		t.Fatalf("cancel edit: %v", err)
	}
	if diff := cmp.Diff(original, s.Answers()); diff != "" {
		t.Fatalf("in-session edits not discarded (-want +got):\n%s", diff)
	}
	rec, ok := s.Submission()
	if !ok || !rec.Answers.Equal(original) {
		t.Fatalf("submission record changed: %+v", rec)
	}
}

func TestEditedSubmissionReplacesOriginal(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newSession(t, store, Options{})
	mustAnswer(t, s, "table-configuration", "Single")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Edit(); err != nil {
		t.Fatalf("edit: %v", err)
	}
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if len(store.records) != 2 || store.records[1].Replaces != store.records[0].ID {
		t.Fatalf("expected second record to replace the first: %+v", store.records)
	}
	if s.Editing() {
		t.Fatalf("edit mode should end on submit")
	}
}

func TestFailedSubmitKeepsAnswersAndRetries(t *testing.T) {
	ctx := context.Background()
	store := &memStore{fail: errors.New("network unreachable")}
	notes := &recorder{}
	s := newSession(t, store, Options{Notifier: notes})
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	before := s.Answers()

	err := s.Submit(ctx)
	var fail *SubmissionFailure
	if !errors.As(err, &fail) || fail.Reason != "network unreachable" {
		t.Fatalf("expected SubmissionFailure, got %v", err)
	}
	if s.State() != StateFailed || s.Reason() != "network unreachable" {
		t.Fatalf("expected failed state, got %s (%q)", s.State(), s.Reason())
	}
	if diff := cmp.Diff(before, s.Answers()); diff != "" {
		t.Fatalf("answers lost (-want +got):\n%s", diff)
	}
	if got := notes.last(); got.Kind != NoticeError {
		t.Fatalf("expected error notice, got %+v", got)
	}
	var serr *StateError
	if err := s.Answer("guest-2-name", "Max"); !errors.As(err, &serr) {
		t.Fatalf("answer while failed should be rejected, got %v", err)
	}

	if err := s.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State() != StateEditing || s.Step() != 1 {
		t.Fatalf("expected editing last step, got %s step %d", s.State(), s.Step())
	}
	if diff := cmp.Diff(before, s.Answers()); diff != "" {
		t.Fatalf("answers changed by retry (-want +got):\n%s", diff)
	}
	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	if err := s.Submit(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := notes.last(); got.Kind != NoticeSuccess {
		t.Fatalf("expected success notice, got %+v", got)
	}
}

func TestMutationsRejectedWhileSubmitting(t *testing.T) {
	ctx := context.Background()
	store := &memStore{gate: make(chan struct{}), entered: make(chan struct{})}
	s := newSession(t, store, Options{})
	mustAnswer(t, s, "table-configuration", "Single")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Submit(ctx) }()
	<-store.entered

	if s.State() != StateSubmitting {
		t.Fatalf("expected submitting, got %s", s.State())
	}
	var serr *StateError
	if err := s.Answer("table-configuration", "Couple"); !errors.As(err, &serr) {
		t.Fatalf("answer should be rejected, got %v", err)
	}
	if err := s.Next(ctx); !errors.As(err, &serr) {
		t.Fatalf("next should be rejected, got %v", err)
	}
	if err := s.Previous(); !errors.As(err, &serr) {
		t.Fatalf("previous should be rejected, got %v", err)
	}
	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := s.Answers()["table-configuration"].Str(); got != "Single" {
		t.Fatalf("answer mutated during submit: %q", got)
	}
}

func TestNewSeedsFromPreviousSubmission(t *testing.T) {
	store := &memStore{records: []SubmissionRecord{{
		ID:                "sub-1",
		FormID:            "form-2",
		SubmitterIdentity: "jane@student.edu",
		Answers:           forms.Answers{"table-configuration": forms.String("Couple"), "guest-2-name": forms.String("Sam")},
	}}}
	s := newSession(t, store, Options{Identity: StaticIdentity("jane@student.edu")})
	if s.State() != StateEditing || s.Step() != 0 {
		t.Fatalf("expected editing at step 0")
	}
	if diff := cmp.Diff(store.records[0].Answers, s.Answers()); diff != "" {
		t.Fatalf("seeded answers (-want +got):\n%s", diff)
	}
	prior, ok := s.Prior()
	if !ok || prior.ID != "sub-1" {
		t.Fatalf("prior not recorded")
	}

	other := newSession(t, store, Options{Identity: StaticIdentity("someone@else.edu")})
	if len(other.Answers()) != 0 {
		t.Fatalf("other identities must start empty")
	}
	fresh := newSession(t, store, Options{Identity: StaticIdentity("jane@student.edu"), Fresh: true})
	if len(fresh.Answers()) != 0 {
		t.Fatalf("fresh session must start empty")
	}
}

func TestNewRejectsCyclicForm(t *testing.T) {
	form := seatingForm()
	form.Questions[0].DependsOn = &forms.DependsOn{Field: "guest-2-name", Values: []string{"Sam"}}
	_, err := New(context.Background(), form, Options{Store: &memStore{}})
	if !errors.Is(err, forms.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestInvalidContentBlocksSubmit(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, &memStore{}, Options{})
	mustAnswer(t, s, "table-configuration", "Couple")
	if err := s.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	mustAnswer(t, s, "guest-2-name", "Sam")
	mustAnswer(t, s, "guest-2-email", "not-an-email")
	err := s.Submit(ctx)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.InvalidFields["guest-2-email"] == "" {
		t.Fatalf("expected invalid guest-2-email, got %v", err)
	}
}

func mustAnswer(t *testing.T, s *Session, id string, v any) {
	t.Helper()
	if err := s.Answer(id, v); err != nil {
		t.Fatalf("answer %s: %v", id, err)
	}
}
