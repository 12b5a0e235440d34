package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"formline/internal/domain"
	"formline/internal/events"
	"formline/internal/forms"
	"formline/internal/repo"
)

// ImportForm validates def and stores it, replacing any earlier version.
func (e Engine) ImportForm(ctx context.Context, def *forms.Definition, actorID string) error {
	if def == nil {
		return fmt.Errorf("%w: form is nil", forms.ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertForm(ctx, tx, def, e.stamp()); err != nil {
		return fmt.Errorf("store form %s: %w", def.ID, err)
	}
	if err := e.Events.Append(ctx, tx, events.FormImported, "form", def.ID, actorID, events.EventPayload{
		"name":   def.Name,
		"steps":  def.StepCount(),
		"target": string(def.Storage.TargetOrDefault()),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedForms imports the built-in catalog (when enabled) and every file
// listed under forms.paths. Relative paths resolve against workspace.
func (e Engine) SeedForms(ctx context.Context, workspace, actorID string) ([]string, error) {
	var defs []*forms.Definition
	if e.Config.Forms.Builtin {
		builtin, err := forms.Builtin()
		if err != nil {
			return nil, err
		}
		defs = append(defs, builtin...)
	}
	for _, p := range e.Config.Forms.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(workspace, p)
		}
		def, err := forms.LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		if err := e.ImportForm(ctx, def, actorID); err != nil {
			return ids, err
		}
		ids = append(ids, def.ID)
	}
	return ids, nil
}

func (e Engine) GetForm(ctx context.Context, id string) (*forms.Definition, error) {
	stored, err := e.Repo.GetForm(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("form %s: %w", id, err)
	}
	return stored.Definition, nil
}

// ListForms summarises every stored form. When email is set, Completed
// reports whether that user has submitted the form.
func (e Engine) ListForms(ctx context.Context, email string) ([]domain.FormSummary, error) {
	stored, err := e.Repo.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	res := make([]domain.FormSummary, 0, len(stored))
	for _, sf := range stored {
		def := sf.Definition
		sum := domain.FormSummary{
			ID:        def.ID,
			Name:      def.Name,
			Lifecycle: string(def.EffectiveLifecycle(now)),
			DueDate:   def.DueDate,
			Target:    string(def.Storage.TargetOrDefault()),
			Steps:     def.StepCount(),
			Questions: len(def.Questions),
			UpdatedAt: sf.UpdatedAt,
		}
		if email != "" {
			done, err := e.Repo.HasSubmission(ctx, def.Storage.TargetOrDefault(), def.ID, repo.NormalizeEmail(email))
			if err != nil {
				return nil, err
			}
			sum.Completed = done
		}
		res = append(res, sum)
	}
	return res, nil
}

// VisibleStep returns the questions of step index that are visible under
// the supplied answers, in form order.
func (e Engine) VisibleStep(ctx context.Context, formID string, index int, raw map[string]any) ([]forms.Question, error) {
	def, err := e.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	answers, err := forms.AnswersFromRaw(raw)
	if err != nil {
		return nil, err
	}
	return forms.VisibleQuestionsForStep(def, index, answers)
}
