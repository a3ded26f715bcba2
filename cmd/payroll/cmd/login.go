package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/payrollportal/client"
	"github.com/jmcleod/payrollportal/session"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session for later commands",
	Long: `Exchanges a username and password for a bearer token and keeps the
token and user in the session store. The password is read from stdin when
--password is omitted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" && loginUsername != "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			p, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			password = p
		}

		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			sess, err := c.Login(cmd.Context(), client.Credentials{
				Username: loginUsername,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.User.Username, sess.User.Role)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		})
	},
}

var whoamiVerify bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Long: `Prints the user held in the session store. With --verify the token is
checked against the API first; a rejected token logs you out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, store *session.Store) error {
			out := cmd.OutOrStdout()
			if whoamiVerify {
				user, err := c.VerifyToken(cmd.Context())
				if errors.Is(err, client.ErrUnauthenticated) {
					fmt.Fprintln(out, "Not logged in.")
					return nil
				}
				if err != nil {
					return err
				}
				printUser(out, user, store)
				return nil
			}

			sess, ok, err := c.Session(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Not logged in.")
				return nil
			}
			printUser(out, sess.User, store)
			return nil
		})
	},
}

func printUser(w io.Writer, u session.User, store *session.Store) {
	fmt.Fprintf(w, "Username: %s\n", u.Username)
	fmt.Fprintf(w, "Email:    %s\n", u.Email)
	fmt.Fprintf(w, "Role:     %s\n", u.Role)
	fmt.Fprintf(w, "Profile:  %s", store.Namespace())
	if store.Sealed() {
		fmt.Fprint(w, " (sealed)")
	}
	fmt.Fprintln(w)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (read from stdin when omitted)")
	whoamiCmd.Flags().BoolVar(&whoamiVerify, "verify", false, "Check the token with the API")
}
