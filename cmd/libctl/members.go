package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarium/internal/membership"
)

func (c *cli) membersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Register and look up members",
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Register a member, or show the existing member with that email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := membership.MemberInput{Phone: optionalString(cmd, "phone")}
			in.Name, _ = cmd.Flags().GetString("name")
			in.Email, _ = cmd.Flags().GetString("email")

			member, created, err := c.client.Membership.RegisterMember(cmd.Context(), in)
			if err != nil {
				return err
			}
			if !created && c.tables() {
				fmt.Fprintln(c.out, "member already registered")
			}
			return c.render(member, memberRows(member))
		},
	}
	register.Flags().String("name", "", "full name")
	register.Flags().String("email", "", "email address")
	register.Flags().String("phone", "", "phone number")
	register.MarkFlagRequired("name")
	register.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := c.client.Membership.ListMembers(cmd.Context())
			if err != nil {
				return err
			}
			return c.render(members, memberRows(members...))
		},
	}

	get := &cobra.Command{
		Use:   "get MEMBER_ID",
		Short: "Show one member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, err := c.client.Membership.GetMember(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(member, memberRows(member))
		},
	}

	find := &cobra.Command{
		Use:   "find EMAIL",
		Short: "Show the member with an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, err := c.client.Membership.GetMemberByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(member, memberRows(member))
		},
	}

	cmd.AddCommand(register, list, get, find)
	return cmd
}
