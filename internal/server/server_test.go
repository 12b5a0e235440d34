package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/engine"
	"formline/internal/migrate"
	"formline/internal/ticket"
)

const organiser = "organiser@school.edu"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, hooks ...config.WebhookConfig) engine.Engine {
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
	cfg.Auth.Admins = []string{organiser}
	cfg.Webhooks = hooks
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.JWTSecret = []byte("server-test-secret")
	if e.Tickets, err = ticket.NewMinter("FL1", []byte("ticket-secret")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.ImportConfig(ctx, cfg, "tester"); err != nil {
		t.Fatalf("import config: %v", err)
	}
	if _, err := e.SeedForms(ctx, workspace, "tester"); err != nil {
		t.Fatalf("seed forms: %v", err)
	}
	return e
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String() + "/v0",
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// login registers email and returns bearer headers for it.
func login(t *testing.T, srv *testServer, email string) map[string]string {
	t.Helper()
	creds := map[string]any{"email": email, "password": "correct horse"}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/register", creds, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/login", creds, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, body)
	}
	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok.Token}
}

func errorCode(t *testing.T, body []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, body)
	}
	return env.Error.Code, env.Error.Details
}

func registration() map[string]any {
	return map[string]any{
		"firstname":        "Ada",
		"surname":          "Lovelace",
		"student-number":   "S1234",
		"student-email":    "ada@school.edu",
		"grade-level":      "Senior Grade 12",
		"ticket-type":      "Regular Ticket HK$750",
		"paying-for-guest": "No",
	}
}

func TestRequiresAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/forms", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/forms", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}
}

func TestSubmitAndListForms(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ada := login(t, srv, "ada@school.edu")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-1/submissions",
		map[string]any{"answers": registration()}, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, body)
	}
	var sub SubmissionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Target != "tickets" || sub.UserEmail != "ada@school.edu" {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/forms", nil, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, body)
	}
	var list []FormResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	completed := map[string]bool{}
	for _, f := range list {
		completed[f.ID] = f.Completed
	}
	if !completed["form-1"] || completed["form-2"] {
		t.Fatalf("completion flags: %v", completed)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tickets/mine", nil, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tickets status %d: %s", res.StatusCode, body)
	}
	var tickets []domain.Ticket
	if err := json.Unmarshal(body, &tickets); err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 1 || tickets[0].ID != sub.ID {
		t.Fatalf("tickets: %+v", tickets)
	}
}

func TestMissingRequiredAnswer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ada := login(t, srv, "ada@school.edu")
	answers := registration()
	delete(answers, "surname")
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-1/submissions",
		map[string]any{"answers": answers}, ada)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	code, details := errorCode(t, body)
	if code != "validation_error" {
		t.Fatalf("code %q", code)
	}
	missing, _ := details["missing_fields"].([]any)
	if diff := cmp.Diff([]any{"surname"}, missing); diff != "" {
		t.Fatalf("missing fields (-want +got):\n%s", diff)
	}
}

func TestVerifyNeedsPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ada := login(t, srv, "ada@school.edu")
	admin := login(t, srv, organiser)

	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-1/submissions",
		map[string]any{"answers": registration()}, ada)
	var sub SubmissionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tickets/"+sub.ID+"/qr", nil, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("qr status %d: %s", res.StatusCode, body)
	}
	var qr QRCodeResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatal(err)
	}

	verify := map[string]any{"code": qr.Code}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tickets/verify", verify, ada)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user verify status %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tickets/verify", verify, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, body)
	}
	var v domain.TicketVerification
	_ = json.Unmarshal(body, &v)
	if v.IsValid || v.Message != engine.MsgNotPaid {
		t.Fatalf("unpaid ticket verified: %+v", v)
	}

	if res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tickets/"+sub.ID+"/pay", nil, admin); res.StatusCode != http.StatusOK {
		t.Fatalf("pay status %d: %s", res.StatusCode, body)
	}
	_, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tickets/verify", verify, admin)
	_ = json.Unmarshal(body, &v)
	if !v.IsValid || v.Message != engine.MsgCheckedIn || v.ScanCount != 1 {
		t.Fatalf("paid ticket: %+v", v)
	}

	_, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tickets/verify", map[string]any{"code": "FL1-bogus"}, admin)
	_ = json.Unmarshal(body, &v)
	if v.IsValid || v.Message != engine.MsgInvalidTicket {
		t.Fatalf("bogus code: %+v", v)
	}
}

func TestOtherUsersTicketHidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ada := login(t, srv, "ada@school.edu")
	bob := login(t, srv, "bob@school.edu")
	admin := login(t, srv, organiser)
	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-1/submissions",
		map[string]any{"answers": registration()}, ada)
	var sub SubmissionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tickets/"+sub.ID, nil, bob); res.StatusCode != http.StatusForbidden {
		t.Fatalf("bob status %d", res.StatusCode)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tickets/"+sub.ID, nil, admin); res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d", res.StatusCode)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/forms/form-1/submissions", nil, bob); res.StatusCode != http.StatusForbidden {
		t.Fatalf("list all status %d", res.StatusCode)
	}
}

func TestVisibleStepEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ada := login(t, srv, "ada@school.edu")
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-2/steps/1/visible",
		map[string]any{"answers": map[string]any{"table-configuration": "Half Table (5 People)"}}, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	var step VisibleStepResponse
	if err := json.Unmarshal(body, &step); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, q := range step.Questions {
		ids = append(ids, q.ID)
	}
	if diff := cmp.Diff([]string{"party-members", "accessibility", "additional-notes"}, ids); diff != "" {
		t.Fatalf("visible (-want +got):\n%s", diff)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/forms/form-2/steps/9/visible",
		map[string]any{"answers": map[string]any{}}, ada)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range status %d: %s", res.StatusCode, body)
	}
	if code, _ := errorCode(t, body); code != "step_out_of_range" {
		t.Fatalf("code %q", code)
	}
}

func TestImportFormYAML(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, organiser)
	ada := login(t, srv, "ada@school.edu")
	doc := `id: form-survey
name: Playlist survey
questions:
  - id: song
    type: text
    label: Song request
    required: true
`
	post := func(headers map[string]string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/forms", strings.NewReader(doc))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/yaml")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		res, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		return res
	}
	if res := post(ada); res.StatusCode != http.StatusForbidden {
		t.Fatalf("user import status %d", res.StatusCode)
	}
	if res := post(admin); res.StatusCode != http.StatusOK {
		t.Fatalf("admin import status %d", res.StatusCode)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/forms/form-survey", nil, ada)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, organiser)
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/me/api-keys", map[string]any{"name": "door scanner"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create key status %d: %s", res.StatusCode, body)
	}
	var key APIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatal(err)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, body)
	}
	var me UserResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != organiser || me.Role != "admin" {
		t.Fatalf("me: %+v", me)
	}
	if res, body := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/me/api-keys/"+key.ID, nil, admin); res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", res.StatusCode, body)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": key.Key}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d", res.StatusCode)
	}

	ada := login(t, srv, "ada@school.edu")
	if res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/me/api-keys", map[string]any{"name": "mine"}, ada); res.StatusCode != http.StatusForbidden {
		t.Fatalf("user key status %d", res.StatusCode)
	}
}

func TestEventsCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, organiser)
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/events?after=0&limit=2", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, body)
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("page: %+v", page)
	}
	if res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/events?after=x", nil, admin); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor status %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
		sigs     []string
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, r.Header.Get("X-Formline-Event"))
		if sig := r.Header.Get("X-Formline-Signature"); sig != "sha256="+signPayload("hook-secret", body) {
			sigs = append(sigs, sig)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	e := newTestEngine(t, config.WebhookConfig{URL: receiver.URL, Events: []string{"ticket.*"}, Secret: "hook-secret"})
	d := newWebhookDispatcher(e, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if d == nil {
		t.Fatal("dispatcher not built")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.dispatch(ctx) // primes cursors past seed events

	if _, err := e.SubmitAnswers(ctx, engine.SubmitOptions{FormID: "form-1", Email: "ada@school.edu", Answers: registration()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d.dispatch(ctx)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"ticket.issued"}, received); diff != "" {
		t.Fatalf("delivered (-want +got):\n%s", diff)
	}
	if len(sigs) != 0 {
		t.Fatalf("bad signatures: %v", sigs)
	}
}

func TestEventMatcher(t *testing.T) {
	m := newEventMatcher([]string{"ticket.*", "guest.added"})
	for typ, want := range map[string]bool{
		"ticket.issued":      true,
		"ticket.scanned":     true,
		"guest.added":        true,
		"submission.created": false,
	} {
		if got := m.match(typ); got != want {
			t.Errorf("match(%q) = %v, want %v", typ, got, want)
		}
	}
	if !newEventMatcher(nil).match("anything") {
		t.Fatal("empty matcher should match all")
	}
}
