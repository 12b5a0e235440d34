package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"formline/internal/domain"
	"formline/internal/engine"
)

var (
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	invalidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func ticketsCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "tickets",
		Short: "Tickets, payments and door scanning",
		Long:  "Tickets are issued when a registration form is submitted. Codes are signed, so a scanned code that was not minted by this workspace is rejected before any lookup.",
	}
	t.AddCommand(ticketsListCmd())
	t.AddCommand(ticketsShowCmd())
	t.AddCommand(ticketsQRCmd())
	t.AddCommand(ticketsVerifyCmd())
	t.AddCommand(ticketsPayCmd())
	t.AddCommand(ticketsGuestsCmd())
	t.AddCommand(ticketsAddGuestCmd())
	t.AddCommand(ticketsStatsCmd())
	return t
}

func ticketsListCmd() *cobra.Command {
	var email string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTickets(ctx, email, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Type", "Payment", "Attendance", "Scans", "Submitted"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.FirstName + " " + t.Surname, t.UserEmail, t.TicketType, t.PaymentStatus, t.AttendanceStatus, t.ScanCount, ago(t.SubmittedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "only tickets submitted by this email")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func ticketsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func ticketsQRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr <ticket-id>",
		Short: "Print the code to encode in the ticket's QR image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"ticket_id": t.ID, "code": t.QRCode})
				}
				fmt.Println(t.QRCode)
				return nil
			})
		},
	}
}

func ticketsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>",
		Short: "Scan a ticket or guest code at the door",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.VerifyTicket(ctx, args[0], viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printVerification(res)
				return nil
			})
		},
	}
}

func printVerification(res domain.TicketVerification) {
	style := invalidStyle
	if res.IsValid {
		style = validStyle
	}
	fmt.Println(style.Render(res.Message))
	if res.ID == "" {
		return
	}
	fmt.Printf("%s %s (%s)\n", res.FirstName, res.Surname, res.Kind)
	if res.StudentNumber != "" {
		fmt.Printf("Student %s, %s\n", res.StudentNumber, res.GradeLevel)
	}
	fmt.Printf("Payment: %s, attendance: %s, scanned %s\n", res.PaymentStatus, res.AttendanceStatus, humanize.Ordinal(res.ScanCount)+" time")
}

func ticketsPayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <ticket-id>",
		Short: "Confirm payment for a ticket and its guests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MarkTicketPaid(ctx, args[0], viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Ticket %s for %s %s marked %s\n", t.ID, t.FirstName, t.Surname, t.PaymentStatus)
				return nil
			})
		},
	}
}

func ticketsGuestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guests <ticket-id>",
		Short: "List guests on a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListGuests(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Payment", "Attendance", "Code"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.FirstName + " " + g.Surname, g.GuestEmail, g.PaymentStatus, g.AttendanceStatus, g.QRCode})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func ticketsAddGuestCmd() *cobra.Command {
	var opts engine.GuestOptions
	cmd := &cobra.Command{
		Use:   "add-guest <ticket-id>",
		Short: "Attach a guest to a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.AttendeeID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.AddGuest(ctx, opts, viper.GetString("as"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Guest %s %s added, code %s\n", g.FirstName, g.Surname, g.QRCode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "guest first name")
	cmd.Flags().StringVar(&opts.Surname, "surname", "", "guest surname")
	cmd.Flags().StringVar(&opts.Email, "email", "", "guest email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("surname")
	return cmd
}

func ticketsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tickets by payment and attendance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTickets(ctx, "", 0)
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, t := range items {
					counts[t.PaymentStatus+" / "+t.AttendanceStatus]++
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Payment / attendance", "Tickets"})
				for _, k := range sortedKeys(counts) {
					tw.AppendRow(table.Row{k, humanize.Comma(int64(counts[k]))})
				}
				tw.AppendFooter(table.Row{"Total", humanize.Comma(int64(len(items)))})
				tw.Render()
				return nil
			})
		},
	}
}
