package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// render prints v as indented JSON, or through table when tables are on.
func (c *cli) render(v any, table func(w *tabwriter.Writer)) error {
	if !c.tables() || table == nil {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func bookRows(books ...*catalog.Book) func(*tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tAVAILABLE\tTAGS")
		for _, b := range books {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				b.ID, b.Title, b.Author, b.AvailableCopies, b.TotalCopies, strings.Join(b.Tags, ","))
		}
	}
}

func memberRows(members ...*membership.Member) func(*tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tACTIVE")
		for _, m := range members {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", m.ID, m.Name, m.Email, m.IsActive)
		}
	}
}

func loanRows(loans ...*circulation.Loan) func(*tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tMEMBER\tBOOK\tDUE\tRETURNED")
		for _, l := range loans {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", l.ID, l.MemberID, l.BookID, l.DueDate, l.Returned)
		}
	}
}

func activeLoanRows(views []*circulation.ActiveLoanView) func(*tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tMEMBER\tBOOK\tDUE")
		for _, v := range views {
			member, book := "-", "-"
			if v.Member != nil {
				member = v.Member.Email
			}
			if v.Book != nil {
				book = v.Book.Title
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, member, book, v.DueDate)
		}
	}
}

func loanViewRows(views []*circulation.LoanView) func(*tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tBOOK\tDUE\tRETURNED")
		for _, v := range views {
			book := "-"
			if v.Book != nil {
				book = v.Book.Title
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", v.ID, book, v.DueDate, v.Returned)
		}
	}
}
