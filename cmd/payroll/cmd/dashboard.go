package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/payrollportal/client"
	"github.com/jmcleod/payrollportal/session"
)

// protectedData is the shape of the demo API's protected resource. Other
// servers may return anything; unknown shapes are printed as JSON.
type protectedData struct {
	Message        string `json:"message"`
	BackendStatus  string `json:"backend_status"`
	DeploymentInfo struct {
		Environment  string `json:"environment"`
		GoVersion    string `json:"go_version"`
		Framework    string `json:"framework"`
		Architecture string `json:"architecture"`
	} `json:"deployment_info"`
	Timestamp string `json:"timestamp"`
}

// renderDashboard writes the welcome view for user and the protected data.
func renderDashboard(w io.Writer, user session.User, raw json.RawMessage) error {
	fmt.Fprintf(w, "JNF Payroll Dashboard\n\n")
	fmt.Fprintf(w, "Welcome, %s!\n", user.Username)
	fmt.Fprintf(w, "  Email: %s\n", user.Email)
	fmt.Fprintf(w, "  Role:  %s\n", user.Role)
	if user.IsAdmin() {
		fmt.Fprintln(w, "  You have administrator access.")
	}
	fmt.Fprintln(w)

	var data protectedData
	if err := json.Unmarshal(raw, &data); err != nil || data.Message == "" {
		fmt.Fprintln(w, "Protected data:")
		return writeIndented(w, raw)
	}

	fmt.Fprintln(w, data.Message)
	if data.BackendStatus != "" {
		fmt.Fprintf(w, "Backend:      %s\n", data.BackendStatus)
	}
	info := data.DeploymentInfo
	if info.Environment != "" {
		fmt.Fprintf(w, "Environment:  %s\n", info.Environment)
	}
	if info.Framework != "" {
		fmt.Fprintf(w, "Framework:    %s (%s)\n", info.Framework, info.GoVersion)
	}
	if info.Architecture != "" {
		fmt.Fprintf(w, "Architecture: %s\n", info.Architecture)
	}
	if data.Timestamp != "" {
		fmt.Fprintf(w, "Fetched at:   %s\n", data.Timestamp)
	}
	return nil
}

func writeIndented(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the welcome view with protected data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			raw, err := c.FetchProtected(cmd.Context())
			if err != nil {
				return err
			}
			sess, _, err := c.Session(cmd.Context())
			if err != nil {
				return err
			}
			return renderDashboard(cmd.OutOrStdout(), sess.User, raw)
		})
	},
}

var protectedCmd = &cobra.Command{
	Use:   "protected",
	Short: "Print the raw protected resource as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			raw, err := c.FetchProtected(cmd.Context())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), raw)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the API is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client.Client, _ *session.Store) error {
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", h.Status, h.Message)
			if !h.Healthy() {
				return fmt.Errorf("api at %s reports %q", c.BaseURL(), h.Status)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd, protectedCmd, healthCmd)
}
