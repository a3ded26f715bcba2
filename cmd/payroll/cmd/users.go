package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/payrollportal/client"
	"github.com/jmcleod/payrollportal/session"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Register and list accounts",
}

var newUser client.NewUser

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new account",
	Long:  `Registers an account with the API. The new account is not logged in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			u, err := c.CreateUser(cmd.Context(), newUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s, %s)\n", u.Username, u.Email, u.Role)
			return nil
		})
	},
}

var usersPage client.Page

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts (admin only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			list, err := c.ListUsers(cmd.Context(), usersPage)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tEMAIL\tROLE")
			for _, u := range list.Users {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, u.Email, u.Role)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d", len(list.Users), list.TotalCount)
			if list.HasMore {
				fmt.Fprintf(cmd.OutOrStdout(), " (next: --offset %d)", list.Offset+len(list.Users))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersAddCmd, usersListCmd)

	f := usersAddCmd.Flags()
	f.StringVarP(&newUser.Username, "username", "u", "", "Username")
	f.StringVarP(&newUser.Password, "password", "p", "", "Password")
	f.StringVar(&newUser.Email, "email", "", "Email address")
	f.StringVar(&newUser.Role, "role", "", "Role: user (default) or admin")

	usersListCmd.Flags().IntVar(&usersPage.Limit, "limit", 0, "Page size (server default when 0)")
	usersListCmd.Flags().IntVar(&usersPage.Offset, "offset", 0, "Number of accounts to skip")
}
