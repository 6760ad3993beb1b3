// Package cli implements the tenantguard command tree. Every command reads
// its configuration from TENANTGUARD_* environment variables.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Execute creates the root command tree and runs it
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenantguard",
		Short: "Multi-tenant role and scope authorization engine",
		Long: `tenantguard answers whether a user may perform an action on a resource.

Roles are resolved from active assignments and checked against the role
table; concrete targets are further checked against the PMC, landlord,
tenant or vendor scope the user's relationships give them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newRolesCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tenantguard %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the environment and builds the process logger. Logs
// go to w so that command output on stdout stays machine readable.
func loadConfig(w io.Writer) (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.NewLogger(cfg.Observability.LogLevel, w), nil
}
