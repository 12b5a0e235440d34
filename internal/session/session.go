package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"formline/internal/forms"
)

// State is the phase of a form session.
type State int

const (
	StateEditing State = iota
	StateSubmitting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	Store    RecordStore
	Identity IdentityProvider
	Notifier Notifier
	Now      func() time.Time
	// Fresh skips seeding answers from the identity's latest submission.
	Fresh bool
}

// Session drives one user's pass through a form.
//
// A Session is safe for concurrent use. The record store call in Submit
// runs without the lock held, so mutations attempted meanwhile observe
// StateSubmitting and are rejected.
type Session struct {
	form     *forms.Definition
	store    RecordStore
	identity IdentityProvider
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	state    State
	step     int
	reason   string
	answers  forms.Answers
	prior    *SubmissionRecord
	record   *SubmissionRecord
	editing  bool
	snapshot forms.Answers
}

// New validates form and opens a session at step 0. Unless opts.Fresh is
// set, the answers are seeded from the identity's most recent submission.
func New(ctx context.Context, form *forms.Definition, opts Options) (*Session, error) {
	if form == nil {
		return nil, errors.New("form is required")
	}
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		form:     form,
		store:    opts.Store,
		identity: opts.Identity,
		notifier: opts.Notifier,
		now:      opts.Now,
		answers:  forms.Answers{},
	}
	if s.identity == nil {
		s.identity = StaticIdentity("")
	}
	if s.notifier == nil {
		s.notifier = discard{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Fresh {
		return s, nil
	}
	who, ok := s.identity.CurrentIdentity(ctx)
	if !ok {
		return s, nil
	}
	recs, err := s.store.QueryByFilter(ctx, Filter{FormID: form.ID, SubmitterIdentity: who, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load previous submission: %w", err)
	}
	if len(recs) > 0 {
		prior := recs[0]
		s.prior = &prior
		s.answers = s.purge(prior.Answers.Clone())
	}
	return s, nil
}

func (s *Session) Form() *forms.Definition { return s.form }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Step returns the active step index.
func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Reason returns the failure reason while in StateFailed.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Editing reports whether the session is editing a completed submission.
func (s *Session) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Answers returns a copy of the current answer state.
func (s *Session) Answers() forms.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// Prior returns the submission the session was seeded from, if any.
func (s *Session) Prior() (SubmissionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prior == nil {
		return SubmissionRecord{}, false
	}
	return *s.prior, true
}

// Submission returns the record stored by the last successful submit.
func (s *Session) Submission() (SubmissionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return SubmissionRecord{}, false
	}
	return *s.record, true
}

// Visible returns the visible questions of the active step.
func (s *Session) Visible() ([]forms.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return forms.VisibleQuestionsForStep(s.form, s.step, s.answers)
}

// IsLastStep reports whether the active step is the final one.
func (s *Session) IsLastStep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step == s.form.LastStep()
}

// Answer records a value for a visible question. An empty value clears
// the answer. Answers of questions that become hidden are removed.
func (s *Session) Answer(questionID string, raw any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return &StateError{Op: "answer", State: s.state}
	}
	q, ok := s.form.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !forms.IsVisible(q, s.answers) {
		return fmt.Errorf("%w: %s", ErrQuestionHidden, questionID)
	}
	v, err := q.Coerce(raw)
	if err != nil {
		return err
	}
	if v.IsEmpty() && v.Kind() != forms.KindBool {
		delete(s.answers, questionID)
	} else {
		s.answers[questionID] = v
	}
	s.answers = s.purge(s.answers)
	return nil
}

// Clear removes the answer to questionID.
func (s *Session) Clear(questionID string) error {
	return s.Answer(questionID, nil)
}

// Next validates the active step and advances. On the last step it submits.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateEditing {
		st := s.state
		s.mu.Unlock()
		return &StateError{Op: "next", State: st}
	}
	if s.step == s.form.LastStep() {
		s.mu.Unlock()
		return s.Submit(ctx)
	}
	qs, err := forms.VisibleQuestionsForStep(s.form, s.step, s.answers)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if verr := s.validate(qs); verr != nil {
		s.mu.Unlock()
		s.notifier.Notify(NoticeError, describe(verr))
		return verr
	}
	s.step++
	s.mu.Unlock()
	return nil
}

// Previous moves back one step keeping all answers.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing || s.step == 0 {
		return &StateError{Op: "previous", State: s.state}
	}
	s.step--
	return nil
}

// Submit validates every visible question of the form and hands the
// visible answers to the record store.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateEditing || s.step != s.form.LastStep() {
		st := s.state
		s.mu.Unlock()
		return &StateError{Op: "submit", State: st}
	}
	visible := forms.VisibleQuestions(s.form.Displayed(), s.answers)
	if verr := s.validate(visible); verr != nil {
		s.mu.Unlock()
		s.notifier.Notify(NoticeError, describe(verr))
		return verr
	}
	payload := forms.Answers{}
	for _, q := range visible {
		if v, ok := s.answers[q.ID]; ok {
			payload[q.ID] = v
		}
	}
	rec := SubmissionRecord{
		FormID:      s.form.ID,
		Answers:     payload,
		SubmittedAt: s.now().UTC(),
	}
	if who, ok := s.identity.CurrentIdentity(ctx); ok {
		rec.SubmitterIdentity = who
	}
	if s.editing && s.record != nil {
		rec.Replaces = s.record.ID
	} else if s.prior != nil {
		rec.Replaces = s.prior.ID
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	id, err := s.store.Insert(ctx, rec)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.reason = err.Error()
		s.mu.Unlock()
		s.notifier.Notify(NoticeError, "Submission failed: "+err.Error())
		return &SubmissionFailure{Reason: err.Error(), Err: err}
	}
	rec.ID = id
	rec.Answers = payload.Clone()
	s.record = &rec
	s.state = StateCompleted
	s.reason = ""
	s.editing = false
	s.snapshot = nil
	s.mu.Unlock()
	s.notifier.Notify(NoticeSuccess, fmt.Sprintf("%s submitted", s.form.Name))
	return nil
}

// Retry returns a failed session to its last step with answers intact.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return &StateError{Op: "retry", State: s.state}
	}
	s.state = StateEditing
	s.step = s.form.LastStep()
	s.reason = ""
	return nil
}

// Edit reopens a completed submission at step 0, seeded with its answers.
func (s *Session) Edit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCompleted || s.record == nil {
		return &StateError{Op: "edit", State: s.state}
	}
	s.snapshot = s.answers.Clone()
	s.answers = s.record.Answers.Clone()
	s.editing = true
	s.state = StateEditing
	s.step = 0
	return nil
}

// CancelEdit discards edits made since Edit and returns to StateCompleted.
func (s *Session) CancelEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing || !s.editing {
		return &StateError{Op: "cancel edit", State: s.state}
	}
	s.answers = s.snapshot
	s.snapshot = nil
	s.editing = false
	s.state = StateCompleted
	return nil
}

// validate checks requiredness and content of the given visible questions.
// Callers hold s.mu.
func (s *Session) validate(qs []forms.Question) *ValidationError {
	var verr ValidationError
	for _, q := range qs {
		v, ok := s.answers[q.ID]
		if !ok || v.IsEmpty() {
			if q.Required {
				verr.MissingFields = append(verr.MissingFields, q.ID)
			}
			continue
		}
		if err := q.Check(v); err != nil {
			if verr.InvalidFields == nil {
				verr.InvalidFields = make(map[string]string)
			}
			verr.InvalidFields[q.ID] = err.Error()
		}
	}
	if len(verr.MissingFields) == 0 && len(verr.InvalidFields) == 0 {
		return nil
	}
	return &verr
}

// purge drops answers of hidden questions. Rules only point backwards, so
// a single pass in master order also clears chains of dependents.
func (s *Session) purge(answers forms.Answers) forms.Answers {
	for _, q := range s.form.Questions {
		if _, ok := answers[q.ID]; !ok {
			continue
		}
		if !forms.IsVisible(q, answers) {
			delete(answers, q.ID)
		}
	}
	for id := range answers {
		if _, ok := s.form.Question(id); !ok {
			delete(answers, id)
		}
	}
	return answers
}

func describe(verr *ValidationError) string {
	if len(verr.MissingFields) > 0 {
		return "Please fill in all required fields: " + strings.Join(verr.MissingFields, ", ")
	}
	return "Please correct the highlighted fields: " + verr.Error()
}
