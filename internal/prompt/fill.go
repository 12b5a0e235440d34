package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"formline/internal/forms"
	"formline/internal/session"
)

// Step navigation choices.
const (
	ActionNext       = "Next"
	ActionSubmit     = "Submit"
	ActionBack       = "Back"
	ActionRevise     = "Change answers"
	ActionCancelEdit = "Discard edits"
	ActionQuit       = "Quit"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	faintStyle = lipgloss.NewStyle().Faint(true)

	noticeStyles = map[session.NoticeKind]lipgloss.Style{
		session.NoticeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		session.NoticeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		session.NoticeError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// Notifier prints session notices to w.
func Notifier(w io.Writer) session.Notifier {
	return session.NotifierFunc(func(kind session.NoticeKind, msg string) {
		style, ok := noticeStyles[kind]
		if !ok {
			style = faintStyle
		}
		fmt.Fprintln(w, style.Render(msg))
	})
}

// Filler walks a user through a session one step at a time.
type Filler struct {
	Driver Driver
	Out    io.Writer
}

// Run drives s until it is completed and the user declines to edit, or
// until the user quits. Validation failures re-prompt the active step.
// A failed submission offers a retry with the answers intact.
func (f Filler) Run(ctx context.Context, s *session.Session) (session.SubmissionRecord, error) {
	if f.Out == nil {
		f.Out = io.Discard
	}
	if prior, ok := s.Prior(); ok {
		fmt.Fprintln(f.Out, faintStyle.Render(fmt.Sprintf("Loaded your answers from %s.", prior.SubmittedAt.Format("2 Jan 2006 15:04"))))
	}
	for {
		if err := ctx.Err(); err != nil {
			return session.SubmissionRecord{}, err
		}
		switch st := s.State(); st {
		case session.StateCompleted:
			rec, _ := s.Submission()
			again, err := f.Driver.Confirm(ctx, ConfirmConfig{Message: "Edit your answers?"})
			if err != nil {
				return rec, err
			}
			if !again {
				return rec, nil
			}
			if err := s.Edit(); err != nil {
				return rec, err
			}
		case session.StateFailed:
			reason := s.Reason()
			retry, err := f.Driver.Confirm(ctx, ConfirmConfig{Message: "Try submitting again?", Default: true})
			if err != nil {
				return session.SubmissionRecord{}, err
			}
			if !retry {
				return session.SubmissionRecord{}, &session.SubmissionFailure{Reason: reason, Err: errors.New(reason)}
			}
			if err := s.Retry(); err != nil {
				return session.SubmissionRecord{}, err
			}
		case session.StateEditing:
			if err := f.fillStep(ctx, s); err != nil {
				return session.SubmissionRecord{}, err
			}
			if err := f.navigate(ctx, s); err != nil {
				return session.SubmissionRecord{}, err
			}
		default:
			return session.SubmissionRecord{}, &session.StateError{Op: "fill", State: st}
		}
	}
}

func (f Filler) navigate(ctx context.Context, s *session.Session) error {
	options := []string{ActionNext}
	if s.IsLastStep() {
		options[0] = ActionSubmit
	}
	if s.Step() > 0 {
		options = append(options, ActionBack)
	}
	options = append(options, ActionRevise)
	if s.Editing() {
		options = append(options, ActionCancelEdit)
	}
	options = append(options, ActionQuit)
	idx, err := f.Driver.Select(ctx, SelectConfig{Message: "What next?", Options: options})
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(options) {
		return nil
	}
	switch options[idx] {
	case ActionNext, ActionSubmit:
		err := s.Next(ctx)
		var verr *session.ValidationError
		var failure *session.SubmissionFailure
		if errors.As(err, &verr) || errors.As(err, &failure) {
			// already reported through the notifier
			return nil
		}
		return err
	case ActionBack:
		return s.Previous()
	case ActionCancelEdit:
		return s.CancelEdit()
	case ActionQuit:
		return ErrAborted
	}
	return nil
}

// fillStep prompts for every visible question of the active step. The
// visible set is recomputed after each answer so questions revealed by
// it are asked in form order.
func (f Filler) fillStep(ctx context.Context, s *session.Session) error {
	def := s.Form()
	if def.IsMultiStep() {
		fmt.Fprintln(f.Out, titleStyle.Render(fmt.Sprintf("Step %d of %d: %s", s.Step()+1, def.StepCount(), def.StepTitle(s.Step()))))
		if desc := strings.TrimSpace(def.Steps[s.Step()].Description); desc != "" {
			fmt.Fprintln(f.Out, faintStyle.Render(desc))
		}
	} else {
		fmt.Fprintln(f.Out, titleStyle.Render(def.Name))
	}
	asked := map[string]bool{}
	for {
		qs, err := s.Visible()
		if err != nil {
			return err
		}
		var q *forms.Question
		for i := range qs {
			if !asked[qs[i].ID] {
				q = &qs[i]
				break
			}
		}
		if q == nil {
			return nil
		}
		asked[q.ID] = true
		raw, err := f.ask(ctx, *q, s.Answers()[q.ID])
		if err != nil {
			return err
		}
		if err := s.Answer(q.ID, raw); err != nil {
			if errors.Is(err, session.ErrQuestionHidden) {
				continue
			}
			fmt.Fprintln(f.Out, noticeStyles[session.NoticeError].Render(err.Error()))
			asked[q.ID] = false
		}
	}
}

func (f Filler) ask(ctx context.Context, q forms.Question, cur forms.Value) (any, error) {
	msg := q.Label
	if q.Required {
		msg += " *"
	}
	help := q.Description
	if help == "" {
		help = q.Placeholder
	}
	switch q.Render().Widget {
	case forms.WidgetTextarea:
		return f.Driver.TextArea(ctx, TextAreaConfig{Message: msg, Default: cur.Str(), Help: help})
	case forms.WidgetCheckbox:
		if q.CheckboxLabel != "" {
			msg = q.CheckboxLabel
		}
		return f.Driver.Confirm(ctx, ConfirmConfig{Message: msg, Default: cur.BoolValue(), Help: help})
	case forms.WidgetCheckboxGroup:
		idx, err := f.Driver.MultiSelect(ctx, SelectConfig{
			Message:  msg,
			Options:  q.Options,
			Defaults: indicesOf(q.Options, cur.Items()),
			Help:     help,
		})
		if err != nil {
			return nil, err
		}
		return pick(q.Options, idx), nil
	case forms.WidgetRadioGroup, forms.WidgetSelect:
		idx, err := f.Driver.Select(ctx, SelectConfig{
			Message:      msg,
			Options:      q.Options,
			DefaultIndex: indexOf(q.Options, cur.Str()),
			Help:         help,
		})
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(q.Options) {
			return nil, nil
		}
		return q.Options[idx], nil
	default:
		return f.Driver.Input(ctx, InputConfig{
			Message: msg,
			Default: cur.Str(),
			Help:    help,
			Validator: func(ans string) error {
				if strings.TrimSpace(ans) == "" {
					return nil
				}
				v, err := q.Coerce(ans)
				if err != nil {
					return err
				}
				return q.Check(v)
			},
		})
	}
}
