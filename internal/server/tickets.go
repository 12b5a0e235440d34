package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"formline/internal/domain"
	"formline/internal/engine"
	"formline/internal/engine/auth"
)

type ticketOutput struct {
	Body domain.Ticket `json:"body"`
}

type ticketsOutput struct {
	Body []domain.Ticket `json:"body"`
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets/mine",
		Summary:     "Caller's tickets",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*ticketsOutput, error) {
		principal, err := requirePermission(ctx, e, auth.PermTicketsReadOwn)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListTickets(ctx, principal.Email, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List all tickets",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Email string `query:"email"`
		Limit int    `query:"limit" default:"50"`
	}) (*ticketsOutput, error) {
		if _, err := requirePermission(ctx, e, auth.PermTicketsReadAll); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListTickets(ctx, input.Email, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Get a ticket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*ticketOutput, error) {
		t, err := ownedTicket(ctx, e, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ticket-qr",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/qr",
		Summary:     "Ticket code to encode as a QR image",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body QRCodeResponse `json:"body"`
	}, error) {
		t, err := ownedTicket(ctx, e, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QRCodeResponse `json:"body"`
		}{Body: QRCodeResponse{TicketID: t.ID, Code: t.QRCode}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/verify",
		Summary:     "Scan a ticket or guest code at the door",
		Description: "Unknown or forged codes return is_valid=false rather than an error.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body VerifyTicketRequest
	}) (*struct {
		Body domain.TicketVerification `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermTicketsVerify)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.VerifyTicket(ctx, input.Body.Code, principal.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TicketVerification `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pay-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/pay",
		Summary:     "Mark a ticket paid",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*ticketOutput, error) {
		principal, err := requirePermission(ctx, e, auth.PermTicketsPay)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.MarkTicketPaid(ctx, input.TicketID, principal.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &ticketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-guest",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/guests",
		Summary:     "Add a guest to a ticket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
		Body     AddGuestRequest
	}) (*struct {
		Body domain.Guest `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermGuestsManage)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := ownedTicket(ctx, e, input.TicketID); err != nil {
			return nil, handleError(err)
		}
		g, err := e.AddGuest(ctx, engine.GuestOptions{
			AttendeeID: input.TicketID,
			FirstName:  input.Body.FirstName,
			Surname:    input.Body.Surname,
			Email:      input.Body.Email,
		}, principal.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Guest `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-guests",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/guests",
		Summary:     "Guests on a ticket",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body []domain.Guest `json:"body"`
	}, error) {
		if _, err := ownedTicket(ctx, e, input.TicketID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListGuests(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Guest `json:"body"`
		}{Body: items}, nil
	})
}

// ownedTicket loads a ticket the caller may see: their own, or any ticket
// when they can read all tickets.
func ownedTicket(ctx context.Context, e engine.Engine, id string) (domain.Ticket, error) {
	principal, err := requirePermission(ctx, e, auth.PermTicketsReadOwn)
	if err != nil {
		return domain.Ticket{}, err
	}
	t, err := e.GetTicket(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.UserEmail == principal.Email {
		return t, nil
	}
	ok, err := hasPermission(ctx, e, principal, auth.PermTicketsReadAll)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !ok {
		return domain.Ticket{}, auth.ForbiddenError{Permission: auth.PermTicketsReadAll}
	}
	return t, nil
}
