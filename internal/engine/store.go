package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/forms"
	"formline/internal/repo"
	"formline/internal/session"
)

// RecordStore persists session submissions into the table named by each
// form's storage target.
type RecordStore struct {
	e Engine
}

var _ session.RecordStore = RecordStore{}

func (e Engine) Store() RecordStore {
	return RecordStore{e: e}
}

func (s RecordStore) Insert(ctx context.Context, rec session.SubmissionRecord) (string, error) {
	def, err := s.e.GetForm(ctx, rec.FormID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec.Answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	id := uuid.New().String()
	email := repo.NormalizeEmail(rec.SubmitterIdentity)
	submittedAt := rec.SubmittedAt.UTC().Format(timeLayout)
	target := def.Storage.TargetOrDefault()
	cols := def.Storage.Apply(rec.Answers)

	tx, err := s.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	payload := events.EventPayload{"form_id": def.ID, "target": string(target)}
	if rec.Replaces != "" {
		payload["replaces"] = rec.Replaces
	}
	switch target {
	case forms.TargetTickets:
		code, err := s.e.Tickets.Code(id)
		if err != nil {
			return "", err
		}
		t := domain.Ticket{
			ID:             id,
			FormID:         def.ID,
			FirstName:      cols["first_name"].Text(),
			Surname:        cols["surname"].Text(),
			StudentNumber:  cols["student_number"].Text(),
			StudentEmail:   cols["student_email"].Text(),
			GradeLevel:     cols["grade_level"].Text(),
			TicketType:     cols["ticket_type"].Text(),
			UserEmail:      email,
			SubmissionData: data,
			HasGuest:       truthy(cols["has_guest"]),
			QRCode:         code,
			ReplacesID:     rec.Replaces,
			SubmittedAt:    submittedAt,
		}
		if err := s.e.Repo.InsertTicket(ctx, tx, t); err != nil {
			return "", err
		}
		if err := s.e.Events.Append(ctx, tx, events.TicketIssued, "ticket", id, email, events.EventPayload{
			"form_id":   def.ID,
			"has_guest": t.HasGuest,
		}); err != nil {
			return "", err
		}
	case forms.TargetSeating:
		req := domain.SeatingRequest{
			ID:             id,
			FormID:         def.ID,
			UserEmail:      email,
			RequestType:    cols["request_type"].Text(),
			RequestDetails: data,
			ReplacesID:     rec.Replaces,
			SubmittedAt:    submittedAt,
		}
		if email != "" {
			t, err := s.e.Repo.LatestTicketForEmail(ctx, tx, email)
			switch {
			case err == nil:
				req.AttendeeID = t.ID
			case !errors.Is(err, repo.ErrNotFound):
				return "", err
			}
		}
		if err := s.e.Repo.InsertSeatingRequest(ctx, tx, req); err != nil {
			return "", err
		}
		payload["request_type"] = req.RequestType
	default:
		if err := s.e.Repo.InsertFormSubmission(ctx, tx, domain.Submission{
			ID:          id,
			FormID:      def.ID,
			UserEmail:   email,
			Data:        data,
			ReplacesID:  rec.Replaces,
			SubmittedAt: submittedAt,
		}); err != nil {
			return "", err
		}
	}
	if err := s.e.Events.Append(ctx, tx, events.SubmissionCreated, "submission", id, email, payload); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// QueryByFilter returns matching records newest first. Without a form id
// every target table is searched.
func (s RecordStore) QueryByFilter(ctx context.Context, f session.Filter) ([]session.SubmissionRecord, error) {
	targets := []forms.Target{forms.TargetSubmissions, forms.TargetTickets, forms.TargetSeating}
	if f.FormID != "" {
		def, err := s.e.GetForm(ctx, f.FormID)
		if err != nil {
			return nil, err
		}
		targets = []forms.Target{def.Storage.TargetOrDefault()}
	}
	filter := repo.SubmissionFilter{
		FormID:    f.FormID,
		UserEmail: repo.NormalizeEmail(f.SubmitterIdentity),
		Limit:     f.Limit,
	}
	var subs []domain.Submission
	for _, target := range targets {
		items, err := s.e.Repo.ListSubmissions(ctx, target, filter)
		if err != nil {
			return nil, err
		}
		subs = append(subs, items...)
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmittedAt > subs[j].SubmittedAt })
	if f.Limit > 0 && len(subs) > f.Limit {
		subs = subs[:f.Limit]
	}
	res := make([]session.SubmissionRecord, 0, len(subs))
	for _, sub := range subs {
		rec, err := toRecord(sub)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

func toRecord(sub domain.Submission) (session.SubmissionRecord, error) {
	var answers forms.Answers
	if err := json.Unmarshal(sub.Data, &answers); err != nil {
		return session.SubmissionRecord{}, fmt.Errorf("decode submission %s: %w", sub.ID, err)
	}
	at, err := time.Parse(time.RFC3339, sub.SubmittedAt)
	if err != nil {
		return session.SubmissionRecord{}, fmt.Errorf("submission %s: bad timestamp: %w", sub.ID, err)
	}
	return session.SubmissionRecord{
		ID:                sub.ID,
		FormID:            sub.FormID,
		Answers:           answers,
		SubmittedAt:       at,
		SubmitterIdentity: sub.UserEmail,
		Replaces:          sub.ReplacesID,
	}, nil
}

// truthy reads yes/no style answers stored in boolean columns.
func truthy(v forms.Value) bool {
	if v.Kind() == forms.KindBool {
		return v.BoolValue()
	}
	switch strings.ToLower(strings.TrimSpace(v.Text())) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
