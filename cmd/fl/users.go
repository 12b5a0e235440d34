package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"formline/internal/engine"
	"formline/internal/prompt"
)

func usersCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "users",
		Short: "Accounts and roles",
		Long:  "Users sign in to the HTTP API. Emails listed under auth.admins in formline.yml become admins when they register.",
	}
	u.AddCommand(usersRegisterCmd())
	u.AddCommand(usersLoginCmd())
	u.AddCommand(usersRoleCmd())
	u.AddCommand(usersListCmd())
	return u
}

// readPassword falls back to a masked prompt when no password flag is set.
func readPassword(ctx context.Context, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	return prompt.NewSurveyDriver().Password(ctx, prompt.InputConfig{Message: "Password"})
}

func usersRegisterCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd.Context(), password)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Register(ctx, args[0], pw)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("Registered %s as %s\n", u.Email, u.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

func usersLoginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Print a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd.Context(), password)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, token, err := e.Login(ctx, args[0], pw)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "user": u})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

func usersRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <email> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.SetUserRole(ctx, args[0], args[1], viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("%s is now %s\n", u.Email, u.Role)
				return nil
			})
		},
	}
}

func usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Role", "Joined"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Role, ago(u.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "API keys for scripts and door scanners",
	}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				plain, key, err := e.CreateAPIKey(ctx, u.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": plain, "created_at": key.CreatedAt})
				}
				fmt.Printf("Key %s for %s:\n%s\n", key.ID, u.Email, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "owner email")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				items, err := e.Repo.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, ago(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "owner email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				if err := e.RevokeAPIKey(ctx, u.ID, args[0], viper.GetString("as")); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "owner email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
