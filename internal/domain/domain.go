package domain

import "encoding/json"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	PaymentPending = "pending"
	PaymentPaid    = "paid"

	AttendanceNotCheckedIn = "not checked in"
	AttendanceCheckedIn    = "checked in"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"admin,user"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// FormSummary is the listing view of a stored form.
type FormSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Lifecycle string `json:"lifecycle" enum:"active,upcoming,overdue"`
	DueDate   string `json:"due_date,omitempty"`
	Target    string `json:"target"`
	Steps     int    `json:"steps"`
	Questions int    `json:"questions"`
	Completed bool   `json:"completed"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Ticket struct {
	ID               string          `json:"id"`
	FormID           string          `json:"form_id"`
	FirstName        string          `json:"first_name"`
	Surname          string          `json:"surname"`
	StudentNumber    string          `json:"student_number"`
	StudentEmail     string          `json:"student_email"`
	GradeLevel       string          `json:"grade_level"`
	TicketType       string          `json:"ticket_type"`
	UserEmail        string          `json:"user_email,omitempty"`
	SubmissionData   json.RawMessage `json:"submission_data"`
	HasGuest         bool            `json:"has_guest"`
	PaymentStatus    string          `json:"payment_status" enum:"pending,paid"`
	AttendanceStatus string          `json:"attendance_status"`
	ScanCount        int             `json:"scan_count"`
	QRCode           string          `json:"qr_code,omitempty"`
	ReplacesID       string          `json:"replaces_id,omitempty"`
	SubmittedAt      string          `json:"submitted_at" format:"date-time"`
	CheckedInAt      string          `json:"checked_in_at,omitempty" format:"date-time"`
}

type Guest struct {
	ID               string `json:"id"`
	AttendeeID       string `json:"attendee_id"`
	FirstName        string `json:"first_name"`
	Surname          string `json:"surname"`
	GuestEmail       string `json:"guest_email,omitempty"`
	QRCode           string `json:"qr_code,omitempty"`
	PaymentStatus    string `json:"payment_status"`
	AttendanceStatus string `json:"attendance_status"`
	ScanCount        int    `json:"scan_count"`
	SubmittedAt      string `json:"submitted_at" format:"date-time"`
	CheckedInAt      string `json:"checked_in_at,omitempty" format:"date-time"`
}

type SeatingRequest struct {
	ID             string          `json:"id"`
	FormID         string          `json:"form_id"`
	AttendeeID     string          `json:"attendee_id,omitempty"`
	UserEmail      string          `json:"user_email,omitempty"`
	RequestType    string          `json:"request_type"`
	RequestDetails json.RawMessage `json:"request_details"`
	ReplacesID     string          `json:"replaces_id,omitempty"`
	SubmittedAt    string          `json:"submitted_at" format:"date-time"`
}

// Submission is the table-independent view of any stored submission.
type Submission struct {
	ID          string          `json:"id"`
	FormID      string          `json:"form_id"`
	Target      string          `json:"target"`
	UserEmail   string          `json:"user_email,omitempty"`
	Data        json.RawMessage `json:"submission_data"`
	ReplacesID  string          `json:"replaces_id,omitempty"`
	SubmittedAt string          `json:"submitted_at" format:"date-time"`
}

// TicketVerification is the result of scanning a ticket code.
type TicketVerification struct {
	ID               string          `json:"id,omitempty"`
	Kind             string          `json:"kind,omitempty" enum:"attendee,guest"`
	FirstName        string          `json:"first_name,omitempty"`
	Surname          string          `json:"surname,omitempty"`
	StudentNumber    string          `json:"student_number,omitempty"`
	GradeLevel       string          `json:"grade_level,omitempty"`
	ScanCount        int             `json:"scan_count"`
	SubmissionData   json.RawMessage `json:"submission_data,omitempty"`
	PaymentStatus    string          `json:"payment_status,omitempty"`
	AttendanceStatus string          `json:"attendance_status,omitempty"`
	IsValid          bool            `json:"is_valid"`
	Message          string          `json:"message"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
