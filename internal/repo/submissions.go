package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"formline/internal/domain"
	"formline/internal/forms"
)

// SubmissionFilter narrows submission listings. Empty fields match all.
type SubmissionFilter struct {
	FormID    string
	UserEmail string
	Limit     int
}

func (f SubmissionFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.FormID != "" {
		clauses = append(clauses, "form_id=?")
		args = append(args, f.FormID)
	}
	if f.UserEmail != "" {
		clauses = append(clauses, "user_email=?")
		args = append(args, f.UserEmail)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (f SubmissionFilter) limit(args []any) (string, []any) {
	if f.Limit <= 0 {
		return "", args
	}
	return " LIMIT ?", append(args, f.Limit)
}

func (r Repo) InsertFormSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO form_submissions(id,form_id,user_email,submission_data,replaces_id,submitted_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.FormID, nullable(s.UserEmail), string(s.Data), nullable(s.ReplacesID), s.SubmittedAt)
	return conflictOr(err, "submission "+s.ID)
}

func (r Repo) InsertTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	if t.PaymentStatus == "" {
		t.PaymentStatus = domain.PaymentPending
	}
	if t.AttendanceStatus == "" {
		t.AttendanceStatus = domain.AttendanceNotCheckedIn
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO ticket_form(id,form_id,first_name,surname,student_number,student_email,grade_level,ticket_type,user_email,submission_data,has_guest,payment_status,attendance_status,scan_count,qr_code,replaces_id,submitted_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.FormID, t.FirstName, t.Surname, t.StudentNumber, t.StudentEmail, t.GradeLevel, t.TicketType, nullable(t.UserEmail),
		string(t.SubmissionData), boolInt(t.HasGuest), t.PaymentStatus, t.AttendanceStatus, t.ScanCount, nullable(t.QRCode), nullable(t.ReplacesID), t.SubmittedAt)
	return conflictOr(err, "ticket "+t.ID)
}

func (r Repo) InsertSeatingRequest(ctx context.Context, tx *sql.Tx, s domain.SeatingRequest) error {
	if s.RequestType == "" {
		s.RequestType = "unknown"
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO seating_requests(id,form_id,attendee_id,user_email,request_type,request_details,replaces_id,submitted_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.FormID, nullable(s.AttendeeID), nullable(s.UserEmail), s.RequestType, string(s.RequestDetails), nullable(s.ReplacesID), s.SubmittedAt)
	return conflictOr(err, "seating request "+s.ID)
}

// ListSubmissions returns submissions stored in target, newest first.
func (r Repo) ListSubmissions(ctx context.Context, target forms.Target, f SubmissionFilter) ([]domain.Submission, error) {
	var dataCol string
	switch target {
	case forms.TargetSubmissions, forms.TargetTickets:
		dataCol = "submission_data"
	case forms.TargetSeating:
		dataCol = "request_details"
	default:
		return nil, fmt.Errorf("unknown submission target %q", target)
	}
	where, args := f.where()
	lim, args := f.limit(args)
	query := fmt.Sprintf(`SELECT id,form_id,COALESCE(user_email,''),%s,COALESCE(replaces_id,''),submitted_at FROM %s %s ORDER BY submitted_at DESC, rowid DESC%s`,
		dataCol, string(target), where, lim)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var data string
		if err := rows.Scan(&s.ID, &s.FormID, &s.UserEmail, &data, &s.ReplacesID, &s.SubmittedAt); err != nil {
			return nil, err
		}
		s.Target = string(target)
		s.Data = json.RawMessage(data)
		res = append(res, s)
	}
	return res, rows.Err()
}

// HasSubmission reports whether email has any submission for a form.
func (r Repo) HasSubmission(ctx context.Context, target forms.Target, formID, email string) (bool, error) {
	subs, err := r.ListSubmissions(ctx, target, SubmissionFilter{FormID: formID, UserEmail: email, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(subs) > 0, nil
}

func (r Repo) ListSeatingRequests(ctx context.Context, f SubmissionFilter) ([]domain.SeatingRequest, error) {
	where, args := f.where()
	lim, args := f.limit(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,form_id,COALESCE(attendee_id,''),COALESCE(user_email,''),request_type,request_details,COALESCE(replaces_id,''),submitted_at
FROM seating_requests `+where+` ORDER BY submitted_at DESC, rowid DESC`+lim, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SeatingRequest
	for rows.Next() {
		var s domain.SeatingRequest
		var details string
		if err := rows.Scan(&s.ID, &s.FormID, &s.AttendeeID, &s.UserEmail, &s.RequestType, &details, &s.ReplacesID, &s.SubmittedAt); err != nil {
			return nil, err
		}
		s.RequestDetails = json.RawMessage(details)
		res = append(res, s)
	}
	return res, rows.Err()
}
