package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/repo"
)

// Verification messages returned to scanners.
const (
	MsgInvalidTicket  = "Invalid ticket"
	MsgNotPaid        = "Ticket not paid"
	MsgCheckedIn      = "Check-in successful"
	MsgAlreadyScanned = "Ticket already scanned"
)

const (
	kindAttendee     = "attendee"
	kindGuest        = "guest"
	entityKindTicket = "ticket"
	entityKindGuest  = "guest"
)

// VerifyTicket scans an attendee or guest code. Unknown or forged codes
// yield an invalid result rather than an error. Every scan of a known code
// is counted; the first paid scan checks the holder in.
func (e Engine) VerifyTicket(ctx context.Context, code, actorID string) (domain.TicketVerification, error) {
	res := domain.TicketVerification{Message: MsgInvalidTicket}
	if _, err := e.Tickets.Parse(code); err != nil {
		return res, nil
	}
	code = strings.TrimSpace(code)
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTicketByCode(ctx, tx, code)
		if err == nil {
			return e.scanTicket(ctx, tx, t, actorID, &res)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		g, err := e.Repo.GetGuestByCode(ctx, tx, code)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return e.scanGuest(ctx, tx, g, actorID, &res)
	})
	if err != nil {
		return domain.TicketVerification{}, err
	}
	return res, nil
}

func (e Engine) scanTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket, actorID string, res *domain.TicketVerification) error {
	checkIn, msg, valid := scanOutcome(t.PaymentStatus, t.AttendanceStatus)
	stamp := ""
	if checkIn {
		stamp = e.stamp()
	}
	if err := e.Repo.RecordTicketScan(ctx, tx, t.ID, stamp); err != nil {
		return err
	}
	t, err := e.Repo.GetTicket(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	*res = domain.TicketVerification{
		ID:               t.ID,
		Kind:             kindAttendee,
		FirstName:        t.FirstName,
		Surname:          t.Surname,
		StudentNumber:    t.StudentNumber,
		GradeLevel:       t.GradeLevel,
		ScanCount:        t.ScanCount,
		SubmissionData:   t.SubmissionData,
		PaymentStatus:    t.PaymentStatus,
		AttendanceStatus: t.AttendanceStatus,
		IsValid:          valid,
		Message:          msg,
	}
	return e.Events.Append(ctx, tx, events.TicketScanned, entityKindTicket, t.ID, actorID, events.EventPayload{
		"valid":      valid,
		"message":    msg,
		"scan_count": t.ScanCount,
	})
}

func (e Engine) scanGuest(ctx context.Context, tx *sql.Tx, g domain.Guest, actorID string, res *domain.TicketVerification) error {
	checkIn, msg, valid := scanOutcome(g.PaymentStatus, g.AttendanceStatus)
	stamp := ""
	if checkIn {
		stamp = e.stamp()
	}
	if err := e.Repo.RecordGuestScan(ctx, tx, g.ID, stamp); err != nil {
		return err
	}
	g, err := e.Repo.GetGuestByCode(ctx, tx, g.QRCode)
	if err != nil {
		return err
	}
	*res = domain.TicketVerification{
		ID:               g.ID,
		Kind:             kindGuest,
		FirstName:        g.FirstName,
		Surname:          g.Surname,
		ScanCount:        g.ScanCount,
		PaymentStatus:    g.PaymentStatus,
		AttendanceStatus: g.AttendanceStatus,
		IsValid:          valid,
		Message:          msg,
	}
	return e.Events.Append(ctx, tx, events.TicketScanned, entityKindGuest, g.ID, actorID, events.EventPayload{
		"valid":       valid,
		"message":     msg,
		"scan_count":  g.ScanCount,
		"attendee_id": g.AttendeeID,
	})
}

func scanOutcome(payment, attendance string) (checkIn bool, msg string, valid bool) {
	switch {
	case payment != domain.PaymentPaid:
		return false, MsgNotPaid, false
	case attendance == domain.AttendanceCheckedIn:
		return false, MsgAlreadyScanned, true
	default:
		return true, MsgCheckedIn, true
	}
}

// MarkTicketPaid confirms payment for a ticket and its guests.
func (e Engine) MarkTicketPaid(ctx context.Context, ticketID, actorID string) (domain.Ticket, error) {
	var t domain.Ticket
	err := withTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.Repo.SetPaymentStatus(ctx, tx, ticketID, domain.PaymentPaid); err != nil {
			return fmt.Errorf("ticket %s: %w", ticketID, err)
		}
		var err error
		t, err = e.Repo.GetTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TicketPaid, entityKindTicket, t.ID, actorID, events.EventPayload{
			"payment_status": t.PaymentStatus,
		})
	})
	return t, err
}

func (e Engine) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, nil, id)
	if err != nil {
		return t, fmt.Errorf("ticket %s: %w", id, err)
	}
	return t, nil
}

// ListTickets lists tickets, optionally only those of email.
func (e Engine) ListTickets(ctx context.Context, email string, limit int) ([]domain.Ticket, error) {
	return e.Repo.ListTickets(ctx, repo.SubmissionFilter{UserEmail: repo.NormalizeEmail(email), Limit: limit})
}

// GuestOptions describe a guest attached to an attendee ticket.
type GuestOptions struct {
	AttendeeID string
	FirstName  string
	Surname    string
	Email      string
}

// AddGuest registers a guest with their own ticket code. The guest
// inherits the attendee's payment status.
func (e Engine) AddGuest(ctx context.Context, opts GuestOptions, actorID string) (domain.Guest, error) {
	if strings.TrimSpace(opts.FirstName) == "" || strings.TrimSpace(opts.Surname) == "" {
		return domain.Guest{}, errors.New("guest first name and surname are required")
	}
	g := domain.Guest{
		ID:          uuid.New().String(),
		AttendeeID:  opts.AttendeeID,
		FirstName:   strings.TrimSpace(opts.FirstName),
		Surname:     strings.TrimSpace(opts.Surname),
		GuestEmail:  repo.NormalizeEmail(opts.Email),
		SubmittedAt: e.stamp(),
	}
	code, err := e.Tickets.Code(g.ID)
	if err != nil {
		return domain.Guest{}, err
	}
	g.QRCode = code
	err = withTx(ctx, e.DB, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTicket(ctx, tx, opts.AttendeeID)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", opts.AttendeeID, err)
		}
		g.PaymentStatus = t.PaymentStatus
		if err := e.Repo.InsertGuest(ctx, tx, g); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.GuestAdded, entityKindGuest, g.ID, actorID, events.EventPayload{
			"attendee_id": g.AttendeeID,
		})
	})
	if err != nil {
		return domain.Guest{}, err
	}
	g.AttendanceStatus = domain.AttendanceNotCheckedIn
	return g, nil
}

func (e Engine) ListGuests(ctx context.Context, attendeeID string) ([]domain.Guest, error) {
	if _, err := e.GetTicket(ctx, attendeeID); err != nil {
		return nil, err
	}
	return e.Repo.ListGuests(ctx, attendeeID)
}
