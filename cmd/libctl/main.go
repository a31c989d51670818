// Command libctl administers a running librarium server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"librarium/internal/clients"
)

const (
	outputAuto  = "auto"
	outputJSON  = "json"
	outputTable = "table"
)

type cli struct {
	server string
	output string
	out    io.Writer
	client *clients.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "libctl",
		Short:         "Manage books, members and loans of a librarium server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch c.output {
			case outputAuto, outputJSON, outputTable:
			default:
				return fmt.Errorf("unknown output %q, want auto, json or table", c.output)
			}
			c.client = clients.New(c.server)
			return nil
		},
	}
	root.SetOut(out)

	defaultServer := os.Getenv("LIBRARIUM_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&c.server, "server", defaultServer, "server base URL (LIBRARIUM_URL)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputAuto, "output format: auto, json or table")

	root.AddCommand(
		c.booksCmd(),
		c.membersCmd(),
		c.borrowCmd(),
		c.returnCmd(),
		c.loansCmd(),
		c.auditCmd(),
		c.statusCmd(),
	)
	return root
}

// tables reports whether results are printed as tables.
func (c *cli) tables() bool {
	switch c.output {
	case outputTable:
		return true
	case outputJSON:
		return false
	}
	f, ok := c.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
