package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"formline/internal/engine"
	"formline/internal/engine/auth"
	"formline/internal/repo"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
		Description: "Without a cursor the newest events are returned first. With `after` the log is read forward from that id.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		After      string `query:"after"`
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var (
			cursor int64
			err    error
		)
		if input.After != "" {
			cursor, err = strconv.ParseInt(input.After, 10, 64)
			if err != nil || cursor < 0 {
				return nil, huma.Error400BadRequest("invalid cursor")
			}
		}
		var page paginatedEvents
		if input.After == "" {
			evts, err := e.Repo.LatestEvents(ctx, limit, repo.EventFilter{
				Type:       input.Type,
				EntityKind: input.EntityKind,
				EntityID:   input.EntityID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			for _, evt := range evts {
				page.Items = append(page.Items, eventResponse(evt))
			}
		} else {
			evts, err := e.Repo.EventsAfter(ctx, limit, cursor)
			if err != nil {
				return nil, handleError(err)
			}
			for _, evt := range evts {
				page.Items = append(page.Items, eventResponse(evt))
			}
			if len(evts) > 0 {
				page.NextCursor = strconv.FormatInt(evts[len(evts)-1].ID, 10)
			} else {
				page.NextCursor = input.After
			}
		}
		if page.Items == nil {
			page.Items = []EventResponse{}
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: page}, nil
	})
}
