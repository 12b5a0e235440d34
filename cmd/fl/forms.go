package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"formline/internal/engine"
	"formline/internal/forms"
	"formline/internal/prompt"
	"formline/internal/session"
)

func formsCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "forms",
		Short: "Manage form definitions",
		Long:  "Forms are validated on import: unknown question types, dependsOn rules pointing forward or at themselves and steps that miss or repeat questions are rejected.",
	}
	f.AddCommand(formsSeedCmd())
	f.AddCommand(formsImportCmd())
	f.AddCommand(formsListCmd())
	f.AddCommand(formsShowCmd())
	return f
}

func formsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Import the built-in and configured forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.SeedForms(ctx, viper.GetString("workspace"), viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				fmt.Printf("Seeded %d forms: %s\n", len(ids), strings.Join(ids, ", "))
				return nil
			})
		},
	}
}

func formsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import or replace forms from YAML or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for _, path := range args {
					def, err := forms.LoadFile(path)
					if err != nil {
						return err
					}
					if err := e.ImportForm(ctx, def, viper.GetString("as")); err != nil {
						return err
					}
					fmt.Printf("Imported %s (%s)\n", def.ID, def.Name)
				}
				return nil
			})
		},
	}
}

func formsListCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListForms(ctx, email)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := table.Row{"ID", "Name", "Lifecycle", "Due", "Steps", "Stored in"}
				if email != "" {
					header = append(header, "Done")
				}
				tw.AppendHeader(header)
				for _, f := range items {
					row := table.Row{f.ID, f.Name, f.Lifecycle, f.DueDate, f.Steps, f.Target}
					if email != "" {
						row = append(row, checkmark(f.Completed))
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "show completion for this submitter")
	return cmd
}

func formsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <form-id>",
		Short: "Show a form's questions and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := e.GetForm(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(def)
				}
				fmt.Printf("%s: %s [%s]\n", def.ID, def.Name, def.EffectiveLifecycle(e.Clock()))
				if desc := strings.TrimSpace(def.Description); desc != "" {
					fmt.Println(desc)
				}
				step := map[string]string{}
				for _, st := range def.Steps {
					for _, id := range st.QuestionIDs {
						step[id] = st.Title
					}
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Label", "Required", "Shown when", "Step"})
				for _, q := range def.Questions {
					when := ""
					if q.DependsOn != nil {
						when = fmt.Sprintf("%s = %s", q.DependsOn.Field, strings.Join(q.DependsOn.Values, " | "))
					}
					tw.AppendRow(table.Row{q.ID, q.Render().Widget, q.Label, checkmark(q.Required), when, step[q.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func fillCmd() *cobra.Command {
	var email string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "fill <form-id>",
		Short: "Fill in a form interactively",
		Long:  "Walks through the form one step at a time. Previous answers by the same email are loaded unless --fresh is set; submitting again replaces them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.OpenSession(ctx, engine.SessionOptions{
					FormID:   args[0],
					Email:    email,
					Notifier: prompt.Notifier(os.Stdout),
					Fresh:    fresh,
				})
				if err != nil {
					return err
				}
				filler := prompt.Filler{Driver: prompt.NewSurveyDriver(), Out: os.Stdout}
				rec, err := filler.Run(ctx, s)
				if err != nil {
					return err
				}
				return printRecord(os.Stdout, s.Form(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "submitter email")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "start from empty answers")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func submitCmd() *cobra.Command {
	var email, file string
	cmd := &cobra.Command{
		Use:   "submit <form-id>",
		Short: "Submit answers from a JSON file",
		Long:  "Reads a JSON object of question id to answer (comments allowed, '-' for stdin) and submits it in one go, replacing any earlier submission by the same email.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := readAnswers(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.SubmitAnswers(ctx, engine.SubmitOptions{FormID: args[0], Email: email, Answers: answers})
				if err != nil {
					return err
				}
				def, err := e.GetForm(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(os.Stdout, def, rec)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "submitter email")
	cmd.Flags().StringVarP(&file, "answers", "f", "-", "answers file")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readAnswers(path string) (map[string]any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var answers map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &answers); err != nil {
		return nil, fmt.Errorf("answers must be a JSON object: %w", err)
	}
	return answers, nil
}

func printRecord(w io.Writer, def *forms.Definition, rec session.SubmissionRecord) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"id":           rec.ID,
			"form_id":      rec.FormID,
			"answers":      rec.Answers.RawMap(),
			"replaces_id":  rec.Replaces,
			"submitted_at": rec.SubmittedAt,
		})
	}
	fmt.Fprintf(w, "Submission %s for %s\n", rec.ID, def.Name)
	if rec.Replaces != "" {
		fmt.Fprintf(w, "Replaces %s\n", rec.Replaces)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Question", "Answer"})
	for _, q := range def.Displayed() {
		v, ok := rec.Answers[q.ID]
		if !ok {
			continue
		}
		answer := v.Text()
		if v.Kind() == forms.KindList {
			answer = strings.Join(v.Items(), ", ")
		}
		tw.AppendRow(table.Row{q.Label, answer})
	}
	tw.Render()
	return nil
}

func submissionsCmd() *cobra.Command {
	s := &cobra.Command{Use: "submissions", Short: "Stored submissions"}
	s.AddCommand(submissionsListCmd())
	return s
}

func submissionsListCmd() *cobra.Command {
	var formID, email string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions of a form, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				subs, err := e.ListSubmissions(ctx, formID, email, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Stored in", "Submitted", "Replaces"})
				for _, s := range subs {
					tw.AppendRow(table.Row{s.ID, s.UserEmail, s.Target, ago(s.SubmittedAt), s.ReplacesID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&formID, "form", "", "form id")
	cmd.Flags().StringVar(&email, "email", "", "submitter email")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	_ = cmd.MarkFlagRequired("form")
	return cmd
}

func checkmark(ok bool) string {
	if ok {
		return "yes"
	}
	return ""
}

// ago renders a stored timestamp relative to now.
func ago(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
