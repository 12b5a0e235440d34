package formlinesdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/engine"
	"formline/internal/migrate"
	"formline/internal/server"
	"formline/internal/ticket"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.Admins = []string{"door@school.edu"}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.JWTSecret = []byte("sdk-secret")
	if e.Tickets, err = ticket.NewMinter("FL1", []byte("sdk-ticket-secret")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.ImportConfig(ctx, cfg, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SeedForms(ctx, workspace, "tester"); err != nil {
		t.Fatal(err)
	}
	h, err := server.New(server.Config{Engine: e, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientTicketFlow(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()

	attendee := New(srv.URL)
	if _, err := attendee.Register(ctx, "ada@school.edu", "analytical"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := attendee.Login(ctx, "ada@school.edu", "analytical"); err != nil {
		t.Fatalf("login: %v", err)
	}
	step, err := attendee.VisibleStep(ctx, "form-1", 0, map[string]any{"paying-for-guest": "Yes"})
	if err != nil {
		t.Fatalf("visible step: %v", err)
	}
	if len(step.Questions) == 0 {
		t.Fatalf("no questions on first step")
	}
	sub, err := attendee.Submit(ctx, "form-1", map[string]any{
		"firstname":        "Ada",
		"surname":          "Lovelace",
		"student-number":   "S1234",
		"student-email":    "ada@school.edu",
		"grade-level":      "Senior Grade 12",
		"ticket-type":      "Regular Ticket HK$750",
		"paying-for-guest": "No",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tickets, err := attendee.MyTickets(ctx)
	if err != nil || len(tickets) != 1 {
		t.Fatalf("tickets %v: %v", tickets, err)
	}

	_, err = attendee.Verify(ctx, tickets[0].QRCode)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	door := New(srv.URL)
	if _, err := door.Register(ctx, "door@school.edu", "gatekeeper"); err != nil {
		t.Fatal(err)
	}
	if _, err := door.Login(ctx, "door@school.edu", "gatekeeper"); err != nil {
		t.Fatal(err)
	}
	if _, err := door.MarkPaid(ctx, sub.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	v, err := door.Verify(ctx, tickets[0].QRCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.IsValid || v.ScanCount != 1 {
		t.Fatalf("verification: %+v", v)
	}
	page, err := door.EventsPage(ctx, 10, "0")
	if err != nil || len(page.Items) == 0 {
		t.Fatalf("events %+v: %v", page, err)
	}
}
