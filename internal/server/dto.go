package server

import (
	"encoding/json"
	"time"

	"formline/internal/domain"
	"formline/internal/forms"
	"formline/internal/session"
)

// Request payloads

type CredentialsRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"1"`
}

type AnswersRequest struct {
	Answers map[string]any `json:"answers"`
}

type VerifyTicketRequest struct {
	Code string `json:"code" minLength:"1"`
}

type AddGuestRequest struct {
	FirstName string `json:"first_name" minLength:"1"`
	Surname   string `json:"surname" minLength:"1"`
	Email     string `json:"email,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	CreatedAt   string   `json:"created_at,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type TokenResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}

type DependsOnResponse struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

type RenderHintResponse struct {
	Widget    string `json:"widget"`
	InputType string `json:"input_type,omitempty"`
	InputMode string `json:"input_mode,omitempty"`
	Multiple  bool   `json:"multiple,omitempty"`
}

type QuestionResponse struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Label         string             `json:"label"`
	Description   string             `json:"description,omitempty"`
	Required      bool               `json:"required"`
	Options       []string           `json:"options,omitempty"`
	Placeholder   string             `json:"placeholder,omitempty"`
	CheckboxLabel string             `json:"checkbox_label,omitempty"`
	DependsOn     *DependsOnResponse `json:"depends_on,omitempty"`
	Render        RenderHintResponse `json:"render"`
}

type StepResponse struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Questions   []string `json:"questions"`
}

type FormResponse struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	DescriptionHTML string             `json:"description_html,omitempty"`
	Lifecycle       string             `json:"lifecycle" enum:"active,upcoming,overdue"`
	DueDate         string             `json:"due_date,omitempty"`
	Target          string             `json:"target"`
	MultiStep       bool               `json:"multi_step"`
	Completed       bool               `json:"completed"`
	Questions       []QuestionResponse `json:"questions"`
	Steps           []StepResponse     `json:"steps"`
}

type VisibleStepResponse struct {
	Index     int                `json:"index"`
	Title     string             `json:"title"`
	Last      bool               `json:"last"`
	Questions []QuestionResponse `json:"questions"`
}

type SubmissionResponse struct {
	ID          string         `json:"id"`
	FormID      string         `json:"form_id"`
	Target      string         `json:"target,omitempty"`
	UserEmail   string         `json:"user_email,omitempty"`
	Answers     map[string]any `json:"answers"`
	ReplacesID  string         `json:"replaces_id,omitempty"`
	SubmittedAt string         `json:"submitted_at" format:"date-time"`
}

type QRCodeResponse struct {
	TicketID string `json:"ticket_id"`
	Code     string `json:"code"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func userResponse(u domain.User, perms []string) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt, Permissions: perms}
}

func questionResponse(q forms.Question) QuestionResponse {
	hint := q.Render()
	resp := QuestionResponse{
		ID:            q.ID,
		Type:          string(q.Type),
		Label:         q.Label,
		Description:   q.Description,
		Required:      q.Required,
		Options:       q.Options,
		Placeholder:   q.Placeholder,
		CheckboxLabel: q.CheckboxLabel,
		Render: RenderHintResponse{
			Widget:    string(hint.Widget),
			InputType: hint.InputType,
			InputMode: hint.InputMode,
			Multiple:  hint.Multiple,
		},
	}
	if q.DependsOn != nil {
		resp.DependsOn = &DependsOnResponse{Field: q.DependsOn.Field, Values: q.DependsOn.Values}
	}
	return resp
}

func questionResponses(qs []forms.Question) []QuestionResponse {
	res := make([]QuestionResponse, 0, len(qs))
	for _, q := range qs {
		res = append(res, questionResponse(q))
	}
	return res
}

func formResponse(def *forms.Definition, now time.Time, completed bool) FormResponse {
	resp := FormResponse{
		ID:              def.ID,
		Name:            def.Name,
		Description:     def.Description,
		DescriptionHTML: forms.DescriptionHTML(def.Description),
		Lifecycle:       string(def.EffectiveLifecycle(now)),
		DueDate:         def.DueDate,
		Target:          string(def.Storage.TargetOrDefault()),
		MultiStep:       def.IsMultiStep(),
		Completed:       completed,
		Questions:       questionResponses(def.Questions),
		Steps:           []StepResponse{},
	}
	for i, st := range def.Steps {
		resp.Steps = append(resp.Steps, StepResponse{
			Index:       i,
			Title:       st.Title,
			Description: st.Description,
			Questions:   st.QuestionIDs,
		})
	}
	return resp
}

func submissionResponse(s domain.Submission) (SubmissionResponse, error) {
	answers := map[string]any{}
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &answers); err != nil {
			return SubmissionResponse{}, err
		}
	}
	return SubmissionResponse{
		ID:          s.ID,
		FormID:      s.FormID,
		Target:      s.Target,
		UserEmail:   s.UserEmail,
		Answers:     answers,
		ReplacesID:  s.ReplacesID,
		SubmittedAt: s.SubmittedAt,
	}, nil
}

func recordResponse(rec session.SubmissionRecord, target forms.Target) SubmissionResponse {
	return SubmissionResponse{
		ID:          rec.ID,
		FormID:      rec.FormID,
		Target:      string(target),
		UserEmail:   rec.SubmitterIdentity,
		Answers:     rec.Answers.RawMap(),
		ReplacesID:  rec.Replaces,
		SubmittedAt: rec.SubmittedAt.UTC().Format(time.RFC3339),
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
