package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"formline/internal/engine"
	"formline/internal/engine/auth"
	"formline/internal/forms"
)

func registerForms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-forms",
		Method:      http.MethodGet,
		Path:        "/forms",
		Summary:     "List forms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []FormResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermFormsRead)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListForms(ctx, principal.Email)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]FormResponse, 0, len(items))
		for _, item := range items {
			def, err := e.GetForm(ctx, item.ID)
			if err != nil {
				return nil, handleError(err)
			}
			res = append(res, formResponse(def, e.Clock(), item.Completed))
		}
		return &struct {
			Body []FormResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-form",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}",
		Summary:     "Get a form definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermFormsRead)
		if err != nil {
			return nil, handleError(err)
		}
		def, err := e.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		done, err := e.HasSubmitted(ctx, def.ID, principal.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(def, e.Clock(), done)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-form",
		Method:      http.MethodPost,
		Path:        "/forms",
		Summary:     "Import or replace a form definition (JSON, JSONC or YAML)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, auth.PermFormsImport)
		if err != nil {
			return nil, handleError(err)
		}
		format := forms.FormatJSON
		if strings.Contains(input.ContentType, "yaml") {
			format = forms.FormatYAML
		}
		def, err := forms.Decode(input.RawBody, format)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.ImportForm(ctx, def, principal.Email); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(def, e.Clock(), false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "visible-step",
		Method:      http.MethodPost,
		Path:        "/forms/{form_id}/steps/{index}/visible",
		Summary:     "Visible questions of a step for the given answers",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID string `path:"form_id"`
		Index  int    `path:"index"`
		Body   AnswersRequest
	}) (*struct {
		Body VisibleStepResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermFormsRead); err != nil {
			return nil, handleError(err)
		}
		def, err := e.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		qs, err := e.VisibleStep(ctx, input.FormID, input.Index, input.Body.Answers)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VisibleStepResponse `json:"body"`
		}{Body: VisibleStepResponse{
			Index:     input.Index,
			Title:     def.StepTitle(input.Index),
			Last:      input.Index == def.LastStep(),
			Questions: questionResponses(qs),
		}}, nil
	})
}
