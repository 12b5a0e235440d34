package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"formline/internal/domain"
)

const ticketColumns = `id,form_id,first_name,surname,student_number,student_email,grade_level,ticket_type,COALESCE(user_email,''),submission_data,has_guest,payment_status,attendance_status,scan_count,COALESCE(qr_code,''),COALESCE(replaces_id,''),submitted_at,COALESCE(checked_in_at,'')`

func scanTicket(s scanner) (domain.Ticket, error) {
	var t domain.Ticket
	var data string
	var hasGuest int
	err := s.Scan(&t.ID, &t.FormID, &t.FirstName, &t.Surname, &t.StudentNumber, &t.StudentEmail, &t.GradeLevel, &t.TicketType, &t.UserEmail,
		&data, &hasGuest, &t.PaymentStatus, &t.AttendanceStatus, &t.ScanCount, &t.QRCode, &t.ReplacesID, &t.SubmittedAt, &t.CheckedInAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.SubmissionData = json.RawMessage(data)
	t.HasGuest = hasGuest != 0
	return t, nil
}

func (r Repo) GetTicket(ctx context.Context, tx *sql.Tx, id string) (domain.Ticket, error) {
	return scanTicket(r.q(tx).QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM ticket_form WHERE id=?`, id))
}

func (r Repo) GetTicketByCode(ctx context.Context, tx *sql.Tx, code string) (domain.Ticket, error) {
	return scanTicket(r.q(tx).QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM ticket_form WHERE qr_code=?`, code))
}

// LatestTicketForEmail returns the newest ticket submitted by email.
func (r Repo) LatestTicketForEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Ticket, error) {
	return scanTicket(r.q(tx).QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM ticket_form WHERE user_email=? ORDER BY submitted_at DESC, rowid DESC LIMIT 1`, email))
}

func (r Repo) ListTickets(ctx context.Context, f SubmissionFilter) ([]domain.Ticket, error) {
	where, args := f.where()
	lim, args := f.limit(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ticketColumns+` FROM ticket_form `+where+` ORDER BY submitted_at DESC, rowid DESC`+lim, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// RecordTicketScan bumps scan_count and, when checkedInAt is set, marks
// the attendee checked in.
func (r Repo) RecordTicketScan(ctx context.Context, tx *sql.Tx, id, checkedInAt string) error {
	return recordScan(ctx, r.q(tx), "ticket_form", id, checkedInAt)
}

func (r Repo) RecordGuestScan(ctx context.Context, tx *sql.Tx, id, checkedInAt string) error {
	return recordScan(ctx, r.q(tx), "guests", id, checkedInAt)
}

func recordScan(ctx context.Context, q querier, table, id, checkedInAt string) error {
	var (
		res sql.Result
		err error
	)
	if checkedInAt != "" {
		res, err = q.ExecContext(ctx, `UPDATE `+table+` SET scan_count=scan_count+1, attendance_status=?, checked_in_at=? WHERE id=?`,
			domain.AttendanceCheckedIn, checkedInAt, id)
	} else {
		res, err = q.ExecContext(ctx, `UPDATE `+table+` SET scan_count=scan_count+1 WHERE id=?`, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatus updates a ticket and its guests.
func (r Repo) SetPaymentStatus(ctx context.Context, tx *sql.Tx, ticketID, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE ticket_form SET payment_status=? WHERE id=?`, status, ticketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE guests SET payment_status=? WHERE attendee_id=?`, status, ticketID)
	return err
}

const guestColumns = `id,attendee_id,first_name,surname,COALESCE(guest_email,''),COALESCE(qr_code,''),payment_status,attendance_status,scan_count,submitted_at,COALESCE(checked_in_at,'')`

func scanGuest(s scanner) (domain.Guest, error) {
	var g domain.Guest
	err := s.Scan(&g.ID, &g.AttendeeID, &g.FirstName, &g.Surname, &g.GuestEmail, &g.QRCode, &g.PaymentStatus, &g.AttendanceStatus, &g.ScanCount, &g.SubmittedAt, &g.CheckedInAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) InsertGuest(ctx context.Context, tx *sql.Tx, g domain.Guest) error {
	if g.PaymentStatus == "" {
		g.PaymentStatus = domain.PaymentPending
	}
	if g.AttendanceStatus == "" {
		g.AttendanceStatus = domain.AttendanceNotCheckedIn
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO guests(id,attendee_id,first_name,surname,guest_email,qr_code,payment_status,attendance_status,scan_count,submitted_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.AttendeeID, g.FirstName, g.Surname, nullable(g.GuestEmail), nullable(g.QRCode), g.PaymentStatus, g.AttendanceStatus, g.ScanCount, g.SubmittedAt)
	return conflictOr(err, "guest "+g.ID)
}

func (r Repo) GetGuestByCode(ctx context.Context, tx *sql.Tx, code string) (domain.Guest, error) {
	return scanGuest(r.q(tx).QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE qr_code=?`, code))
}

func (r Repo) ListGuests(ctx context.Context, attendeeID string) ([]domain.Guest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE attendee_id=? ORDER BY submitted_at ASC, rowid ASC`, attendeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}
