package formlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Formline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents an account.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Form represents the API form model (partial).
type Form struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Lifecycle string `json:"lifecycle"`
	MultiStep bool   `json:"multi_step"`
	Completed bool   `json:"completed"`
}

// Question is a visible question of a step.
type Question struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Step is the visible slice of a form for a set of answers.
type Step struct {
	Index     int        `json:"index"`
	Title     string     `json:"title"`
	Last      bool       `json:"last"`
	Questions []Question `json:"questions"`
}

// Submission is a stored set of answers.
type Submission struct {
	ID          string         `json:"id"`
	FormID      string         `json:"form_id"`
	Target      string         `json:"target"`
	UserEmail   string         `json:"user_email"`
	Answers     map[string]any `json:"answers"`
	ReplacesID  string         `json:"replaces_id,omitempty"`
	SubmittedAt string         `json:"submitted_at"`
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID               string `json:"id"`
	FormID           string `json:"form_id"`
	FirstName        string `json:"first_name"`
	Surname          string `json:"surname"`
	UserEmail        string `json:"user_email"`
	PaymentStatus    string `json:"payment_status"`
	AttendanceStatus string `json:"attendance_status"`
	ScanCount        int    `json:"scan_count"`
	QRCode           string `json:"qr_code"`
}

// Verification is the result of scanning a code at the door.
type Verification struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	FirstName string `json:"first_name"`
	Surname   string `json:"surname"`
	ScanCount int    `json:"scan_count"`
	IsValid   bool   `json:"is_valid"`
	Message   string `json:"message"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "auth/register", map[string]any{"email": email, "password": password}, &resp)
	return resp, err
}

// Me returns the authenticated user with their permissions.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Forms lists forms with the caller's completion state.
func (c *Client) Forms(ctx context.Context) ([]Form, error) {
	var resp []Form
	err := c.do(ctx, http.MethodGet, "forms", nil, &resp)
	return resp, err
}

// VisibleStep returns the questions of step index given answers so far.
func (c *Client) VisibleStep(ctx context.Context, formID string, index int, answers map[string]any) (Step, error) {
	var resp Step
	endpoint := fmt.Sprintf("forms/%s/steps/%d/visible", url.PathEscape(formID), index)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"answers": answers}, &resp)
	return resp, err
}

// Submit stores answers for a form, replacing the caller's previous ones.
func (c *Client) Submit(ctx context.Context, formID string, answers map[string]any) (Submission, error) {
	var resp Submission
	endpoint := fmt.Sprintf("forms/%s/submissions", url.PathEscape(formID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"answers": answers}, &resp)
	return resp, err
}

// MyTickets lists the caller's tickets.
func (c *Client) MyTickets(ctx context.Context) ([]Ticket, error) {
	var resp []Ticket
	err := c.do(ctx, http.MethodGet, "tickets/mine", nil, &resp)
	return resp, err
}

// Verify scans a ticket or guest code.
func (c *Client) Verify(ctx context.Context, code string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodPost, "tickets/verify", map[string]any{"code": code}, &resp)
	return resp, err
}

// MarkPaid confirms payment for a ticket.
func (c *Client) MarkPaid(ctx context.Context, ticketID string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tickets/%s/pay", url.PathEscape(ticketID)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage reads the log forward from cursor. An empty cursor returns
// the newest events.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
