package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formline/internal/config"
	"formline/internal/domain"
	"formline/internal/engine"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100
)

// hookState is the delivery position of one configured webhook.
type hookState struct {
	hook   config.WebhookConfig
	match  eventMatcher
	client *http.Client
	cursor int64
	primed bool
}

type webhookDispatcher struct {
	engine engine.Engine
	logger *slog.Logger
	hooks  []*hookState
}

// StartWebhooks delivers newly appended events to every enabled webhook
// until ctx is done. Delivery starts after the newest event present at
// startup. A failed delivery is retried on the next tick and blocks later
// events for that hook, so each receiver sees events in log order.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e, logger)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, logger *slog.Logger) *webhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &webhookDispatcher{engine: e, logger: logger.With("component", "webhooks")}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := webhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			hook:   hook,
			match:  newEventMatcher(hook.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(webhookInterval)
	defer ticker.Stop()
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatch(ctx context.Context) {
	for _, st := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		if !st.primed {
			latest, err := d.engine.Repo.LatestEventID(ctx)
			if err != nil {
				d.logger.Error("init webhook cursor", "url", st.hook.URL, "err", err)
				continue
			}
			st.cursor, st.primed = latest, true
			continue
		}
		d.deliverPending(ctx, st)
	}
}

func (d *webhookDispatcher) deliverPending(ctx context.Context, st *hookState) {
	evts, err := d.engine.Repo.EventsAfter(ctx, webhookBatch, st.cursor)
	if err != nil {
		d.logger.Error("fetch events", "err", err)
		return
	}
	for _, evt := range evts {
		if st.match.match(evt.Type) {
			if err := d.post(ctx, st, evt); err != nil {
				d.logger.Warn("webhook delivery failed", "url", st.hook.URL, "event_id", evt.ID, "err", err)
				return
			}
			d.logger.Debug("webhook delivered", "url", st.hook.URL, "event_id", evt.ID, "type", evt.Type)
		}
		st.cursor = evt.ID
	}
}

type webhookPayload struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, st *hookState, evt domain.Event) error {
	data, err := json.Marshal(webhookPayload{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    eventResponse(evt).Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Formline-Event", evt.Type)
	req.Header.Set("X-Formline-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(st.hook.Secret); secret != "" {
		req.Header.Set("X-Formline-Signature", "sha256="+signPayload(secret, data))
	}
	res, err := st.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// signPayload is the hex HMAC-SHA256 of body under secret.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// eventMatcher selects event types. Patterns are exact types or a
// "kind.*" prefix; an empty list matches everything.
type eventMatcher struct {
	exact    map[string]struct{}
	prefixes []string
}

func newEventMatcher(patterns []string) eventMatcher {
	m := eventMatcher{exact: map[string]struct{}{}}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			return eventMatcher{}
		case strings.HasSuffix(p, ".*"):
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		default:
			m.exact[p] = struct{}{}
		}
	}
	if len(m.exact) == 0 && len(m.prefixes) == 0 {
		return eventMatcher{}
	}
	return m
}

func (m eventMatcher) match(eventType string) bool {
	if m.exact == nil {
		return true
	}
	if _, ok := m.exact[eventType]; ok {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}
