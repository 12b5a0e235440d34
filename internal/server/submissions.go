package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"formline/internal/engine"
	"formline/internal/engine/auth"
)

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-form",
		Method:      http.MethodPost,
		Path:        "/forms/{form_id}/submissions",
		Summary:     "Submit answers for a form",
		Description: "Answers replace any previous submission of the same form by the caller.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
		Body   AnswersRequest
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermSubmissionsCreate)
		if err != nil {
			return nil, handleError(err)
		}
		def, err := e.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.SubmitAnswers(ctx, engine.SubmitOptions{
			FormID:  input.FormID,
			Email:   principal.Email,
			Answers: input.Body.Answers,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: recordResponse(rec, def.Storage.TargetOrDefault())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-submissions",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/submissions/mine",
		Summary:     "Caller's submissions for a form",
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []SubmissionResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermSubmissionsReadOwn)
		if err != nil {
			return nil, handleError(err)
		}
		return listSubmissions(ctx, e, input.FormID, principal.Email, input.Limit)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}/submissions",
		Summary:     "All submissions for a form",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
		Email  string `query:"email"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []SubmissionResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermSubmissionsReadAll); err != nil {
			return nil, handleError(err)
		}
		return listSubmissions(ctx, e, input.FormID, input.Email, input.Limit)
	})
}

func listSubmissions(ctx context.Context, e engine.Engine, formID, email string, limit int) (*struct {
	Body []SubmissionResponse `json:"body"`
}, error) {
	if _, err := e.GetForm(ctx, formID); err != nil {
		return nil, handleError(err)
	}
	subs, err := e.ListSubmissions(ctx, formID, email, normalizeLimit(limit))
	if err != nil {
		return nil, handleError(err)
	}
	res := make([]SubmissionResponse, 0, len(subs))
	for _, s := range subs {
		item, err := submissionResponse(s)
		if err != nil {
			return nil, handleError(err)
		}
		res = append(res, item)
	}
	return &struct {
		Body []SubmissionResponse `json:"body"`
	}{Body: res}, nil
}
