package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"librarium/internal/circulation"
)

func (c *cli) borrowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "borrow MEMBER_ID BOOK_ID",
		Short: "Lend one copy of a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loan, err := c.client.Circulation.Borrow(cmd.Context(), args[0], args[1], optionalInt(cmd, "days"))
			if err != nil {
				return err
			}
			return c.render(loan, loanRows(loan))
		},
	}
	cmd.Flags().Int("days", circulation.DefaultLoanDays, "loan period in days")
	return cmd
}

func (c *cli) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Close a loan and put the copy back on the shelf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loan, err := c.client.Circulation.Return(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(loan, loanRows(loan))
		},
	}
}

func (c *cli) loansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter circulation.LoanFilter
			filter.MemberID, _ = cmd.Flags().GetString("member")
			if cmd.Flags().Changed("active") {
				active, _ := cmd.Flags().GetBool("active")
				filter.Active = &active
			}

			loans, err := c.client.Circulation.ListLoans(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return c.render(loans, loanRows(loans...))
		},
	}
	cmd.Flags().String("member", "", "only loans of this member id")
	cmd.Flags().Bool("active", false, "only open (true) or returned (false) loans")

	active := &cobra.Command{
		Use:   "active",
		Short: "List open loans with book and member details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := c.client.Circulation.ActiveLoans(cmd.Context())
			if err != nil {
				return err
			}
			return c.render(views, activeLoanRows(views))
		},
	}

	byEmail := &cobra.Command{
		Use:   "by-email EMAIL",
		Short: "List every loan of the member with an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := c.client.Circulation.LoansByMemberEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(views, loanViewRows(views))
		},
	}

	history := &cobra.Command{
		Use:   "history LOAN_ID",
		Short: "Show the journal of a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := c.client.Circulation.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(events, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "VERSION\tTYPE\tAT")
				for _, e := range events {
					fmt.Fprintf(w, "%d\t%s\t%s\n", e.Version, e.EventType, e.CreatedAt)
				}
			})
		},
	}

	cmd.AddCommand(active, byEmail, history)
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check copy counters against open loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.client.Circulation.Audit(cmd.Context())
			if err != nil {
				return err
			}
			return c.render(report, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "books checked\t%d\n", report.BooksChecked)
				fmt.Fprintf(w, "open loans\t%d\n", report.OutstandingLoans)
				fmt.Fprintf(w, "consistent\t%t\n", report.Consistent)
				for _, d := range report.Discrepancies {
					fmt.Fprintf(w, "%s\t%s: %s\n", d.BookID, d.Title, d.Reason)
				}
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and store status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			return c.render(status, func(w *tabwriter.Writer) {
				for _, key := range []string{"backend", "database", "driver", "connection_status", "database_url", "database_name"} {
					fmt.Fprintf(w, "%s\t%v\n", key, status[key])
				}
			})
		},
	}
}
