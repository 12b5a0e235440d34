package session

import (
	"context"
	"time"

	"formline/internal/forms"
)

// SubmissionRecord is the immutable snapshot handed to the record store.
type SubmissionRecord struct {
	ID                string        `json:"id"`
	FormID            string        `json:"form_id"`
	Answers           forms.Answers `json:"answers"`
	SubmittedAt       time.Time     `json:"submitted_at"`
	SubmitterIdentity string        `json:"submitter_identity,omitempty"`
	// Replaces is the id of the submission an edit was started from.
	Replaces string `json:"replaces,omitempty"`
}

// Filter narrows QueryByFilter results. Empty fields match everything.
type Filter struct {
	FormID            string
	SubmitterIdentity string
	Limit             int
}

// RecordStore persists submissions.
type RecordStore interface {
	Insert(ctx context.Context, rec SubmissionRecord) (string, error)
	QueryByFilter(ctx context.Context, f Filter) ([]SubmissionRecord, error)
}

// IdentityProvider reports who is filling the form, if anyone.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (string, bool)
}

// StaticIdentity is an IdentityProvider with a fixed identity. The empty
// string means anonymous.
type StaticIdentity string

func (s StaticIdentity) CurrentIdentity(context.Context) (string, bool) {
	return string(s), s != ""
}

// NoticeKind classifies a user-facing notification.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notifier receives fire-and-forget user feedback.
type Notifier interface {
	Notify(kind NoticeKind, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind NoticeKind, msg string)

func (f NotifierFunc) Notify(kind NoticeKind, msg string) { f(kind, msg) }

type discard struct{}

func (discard) Notify(NoticeKind, string) {}
