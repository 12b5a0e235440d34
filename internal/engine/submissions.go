package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"formline/internal/domain"
	"formline/internal/repo"
	"formline/internal/session"
)

// SessionOptions configures an interactive session.
type SessionOptions struct {
	FormID   string
	Email    string
	Notifier session.Notifier
	Fresh    bool
}

// OpenSession starts a session for formID backed by the engine's store.
func (e Engine) OpenSession(ctx context.Context, opts SessionOptions) (*session.Session, error) {
	def, err := e.GetForm(ctx, opts.FormID)
	if err != nil {
		return nil, err
	}
	return session.New(ctx, def, session.Options{
		Store:    e.Store(),
		Identity: session.StaticIdentity(repo.NormalizeEmail(opts.Email)),
		Notifier: opts.Notifier,
		Now:      e.now,
		Fresh:    opts.Fresh,
	})
}

// SubmitOptions are the inputs of a one-shot submission.
type SubmitOptions struct {
	FormID  string
	Email   string
	Answers map[string]any
}

// SubmitAnswers runs a session over a complete answer set: answers are
// applied in form order, steps are advanced and the form is submitted.
// Answers to questions that end up hidden are ignored.
func (e Engine) SubmitAnswers(ctx context.Context, opts SubmitOptions) (session.SubmissionRecord, error) {
	s, err := e.OpenSession(ctx, SessionOptions{FormID: opts.FormID, Email: opts.Email})
	if err != nil {
		return session.SubmissionRecord{}, err
	}
	def := s.Form()
	var unknown []string
	for id := range opts.Answers {
		if _, ok := def.Question(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return session.SubmissionRecord{}, fmt.Errorf("%w: %v", session.ErrUnknownQuestion, unknown)
	}
	invalid := map[string]string{}
	for _, q := range def.Displayed() {
		raw := opts.Answers[q.ID]
		err := s.Answer(q.ID, raw)
		switch {
		case err == nil, errors.Is(err, session.ErrQuestionHidden):
		case errors.As(err, new(*session.StateError)):
			return session.SubmissionRecord{}, err
		default:
			invalid[q.ID] = err.Error()
		}
	}
	if len(invalid) > 0 {
		return session.SubmissionRecord{}, &session.ValidationError{InvalidFields: invalid}
	}
	for !s.IsLastStep() {
		if err := s.Next(ctx); err != nil {
			return session.SubmissionRecord{}, err
		}
	}
	if err := s.Submit(ctx); err != nil {
		return session.SubmissionRecord{}, err
	}
	rec, _ := s.Submission()
	return rec, nil
}

// ListSubmissions lists the stored submissions of a form, newest first.
// An empty email lists every submitter.
func (e Engine) ListSubmissions(ctx context.Context, formID, email string, limit int) ([]domain.Submission, error) {
	def, err := e.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListSubmissions(ctx, def.Storage.TargetOrDefault(), repo.SubmissionFilter{
		FormID:    formID,
		UserEmail: repo.NormalizeEmail(email),
		Limit:     limit,
	})
}

func (e Engine) HasSubmitted(ctx context.Context, formID, email string) (bool, error) {
	def, err := e.GetForm(ctx, formID)
	if err != nil {
		return false, err
	}
	return e.Repo.HasSubmission(ctx, def.Storage.TargetOrDefault(), formID, repo.NormalizeEmail(email))
}

// LatestSubmission returns the newest record email submitted for formID.
func (e Engine) LatestSubmission(ctx context.Context, formID, email string) (session.SubmissionRecord, bool, error) {
	recs, err := e.Store().QueryByFilter(ctx, session.Filter{FormID: formID, SubmitterIdentity: email, Limit: 1})
	if err != nil || len(recs) == 0 {
		return session.SubmissionRecord{}, false, err
	}
	return recs[0], true, nil
}
