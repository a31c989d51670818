package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"librarium/internal/catalog"
)

func (c *cli) booksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Add, find, edit and delete books",
	}
	cmd.AddCommand(c.bookAddCmd(), c.bookGetCmd(), c.bookSearchCmd(), c.bookUpdateCmd(), c.bookDeleteCmd())
	return cmd
}

func optionalString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func bookFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "book title")
	cmd.Flags().String("author", "", "author name")
	cmd.Flags().String("isbn", "", "ISBN")
	cmd.Flags().String("category", "", "genre or category")
	cmd.Flags().Int("copies", 1, "total copies owned")
	cmd.Flags().Int("available", 0, "copies on the shelf (defaults to --copies on add)")
	cmd.Flags().StringSlice("tags", nil, "comma separated tags")
}

func (c *cli) bookAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := catalog.BookInput{
				ISBN:            optionalString(cmd, "isbn"),
				Category:        optionalString(cmd, "category"),
				TotalCopies:     optionalInt(cmd, "copies"),
				AvailableCopies: optionalInt(cmd, "available"),
			}
			in.Title, _ = cmd.Flags().GetString("title")
			in.Author, _ = cmd.Flags().GetString("author")
			in.Tags, _ = cmd.Flags().GetStringSlice("tags")
			if in.AvailableCopies == nil {
				in.AvailableCopies = in.TotalCopies
			}

			book, err := c.client.Catalog.AddBook(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.render(book, bookRows(book))
		},
	}
	bookFlags(cmd)
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("author")
	return cmd
}

func (c *cli) bookGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get BOOK_ID",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := c.client.Catalog.GetBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(book, bookRows(book))
		},
	}
}

func (c *cli) bookSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [QUERY...]",
		Short: "Search title, author, category and tags; no query lists every book",
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := c.client.Catalog.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return c.render(books, bookRows(books...))
		},
	}
}

func (c *cli) bookUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update BOOK_ID",
		Short: "Edit the given fields of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := catalog.BookPatch{
				Title:           optionalString(cmd, "title"),
				Author:          optionalString(cmd, "author"),
				ISBN:            optionalString(cmd, "isbn"),
				Category:        optionalString(cmd, "category"),
				TotalCopies:     optionalInt(cmd, "copies"),
				AvailableCopies: optionalInt(cmd, "available"),
			}
			if cmd.Flags().Changed("tags") {
				tags, _ := cmd.Flags().GetStringSlice("tags")
				patch.Tags = &tags
			}

			book, err := c.client.Catalog.UpdateBook(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return c.render(book, bookRows(book))
		},
	}
	bookFlags(cmd)
	return cmd
}

func (c *cli) bookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete BOOK_ID",
		Short: "Delete a book without active loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.Catalog.DeleteBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %s\n", args[0])
			return nil
		},
	}
}
