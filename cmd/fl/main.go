package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"formline/internal/app"
	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Formline CLI",
	Long: `Formline runs declarative multi-step forms for school events.
Core concepts:
- Workspace: a directory holding .formline/formline.db, an optional formline.yml and a .env with secrets.
- Forms: YAML or JSON definitions with typed questions, steps and dependsOn visibility rules.
- Sessions: one person's pass through a form; answers of hidden questions are dropped and never stored.
- Storage: a form's answers land in tickets, seating requests or generic submissions, per the form's storage block.
- Tickets: registrations get a signed QR code; organisers confirm payment and scan codes at the door.
- Event log: every change is recorded, view it with 'fl log tail' or stream it to webhooks from 'fl serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		setupLogger()
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FORMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "local-operator", "actor recorded in the event log")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(formsCmd())
	rootCmd.AddCommand(fillCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(submissionsCmd())
	rootCmd.AddCommand(ticketsCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadDotEnv reads <workspace>/.env without overriding variables already
// set in the environment.
func loadDotEnv(workspace string) error {
	err := godotenv.Load(envPath(workspace))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func envPath(workspace string) string {
	return filepath.Join(workspace, ".env")
}

// ensureSecret writes a random value for key into the workspace .env
// unless the environment or the file already provides one.
func ensureSecret(workspace, key string) (bool, error) {
	if os.Getenv(key) != "" {
		return false, nil
	}
	path := envPath(workspace)
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		values = map[string]string{}
	}
	if values[key] != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, err
	}
	values[key] = hex.EncodeToString(buf)
	if err := godotenv.Write(values, path); err != nil {
		return false, err
	}
	return true, os.Setenv(key, values[key])
}

func initCmd() *cobra.Command {
	var eventName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace",
		Long:  "Writes formline.yml and a .env with fresh secrets (both only when missing), creates the database and seeds the configured forms.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(eventName)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			for _, key := range []string{cfg.Auth.JWTSecretEnv, cfg.Tickets.SecretEnv} {
				created, err := ensureSecret(workspace, key)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("Generated %s in %s\n", key, envPath(workspace))
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.SeedForms(ctx, workspace, viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace": workspace, "forms": ids})
				}
				fmt.Printf("Workspace ready at %s with %d forms: %s\n", workspace, len(ids), strings.Join(ids, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventName, "event-name", "Student Formal", "event name written to formline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
		Long:  "formline.yml seeds the database on first use. After that the stored copy is authoritative; edit the file and run 'fl config import' to apply changes.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			_, err := config.FromFile(file)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/formline.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config and role permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg, viper.GetString("as")); err != nil {
					return err
				}
				fmt.Printf("Imported %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/formline.yml)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, err := app.OpenEngine(ctx, viper.GetString("workspace"), viper.GetString("as"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
