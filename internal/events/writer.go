package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	FormImported      = "form.imported"
	SubmissionCreated = "submission.created"
	TicketIssued      = "ticket.issued"
	TicketPaid        = "ticket.paid"
	TicketScanned     = "ticket.scanned"
	GuestAdded        = "guest.added"
	UserRegistered    = "user.registered"
	UserRoleChanged   = "user.role_changed"
	APIKeyCreated     = "apikey.created"
	APIKeyRevoked     = "apikey.revoked"
	ConfigImported    = "config.imported"
)

// Types lists every event type the log can hold.
var Types = []string{
	FormImported, SubmissionCreated,
	TicketIssued, TicketPaid, TicketScanned, GuestAdded,
	UserRegistered, UserRoleChanged, APIKeyCreated, APIKeyRevoked,
	ConfigImported,
}

// ValidPattern reports whether a subscription pattern (an exact type,
// "<kind>.*" or "*") can match any type in Types.
func ValidPattern(p string) bool {
	if p == "*" {
		return true
	}
	prefix, wildcard := strings.CutSuffix(p, "*")
	for _, t := range Types {
		if (wildcard && strings.HasSuffix(prefix, ".") && strings.HasPrefix(t, prefix)) || (!wildcard && t == p) {
			return true
		}
	}
	return false
}

// tsLayout matches the engine's stored timestamps so both sort together.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

type EventPayload map[string]any

// Writer appends to the event log inside the caller's transaction, so an
// event exists exactly when the change it describes was committed.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if tx == nil {
		return fmt.Errorf("append %s: transaction required", evtType)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "anonymous"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", evtType, err)
	}
	var entity any
	if entityID != "" {
		entity = entityID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(tsLayout), evtType, entityKind, entity, actorID, string(data))
	return err
}
