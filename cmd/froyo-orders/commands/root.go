package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, v, commit, buildDate string) error {
	version = v
	rootCmd := newRootCommand(v, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-orders",
		Short: "Policy-gated content transfer work orders",
		Long: `froyo-orders manages deferred content transfers ("work orders").

Each work order carries one or more packages, a priority and a policy
expression over named rule sets. A scheduling pass orders work orders by
priority, services cancel/suspend/resume requests, evaluates policies and
binds every runnable work order to a storage backend.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file or CUE package directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "work order database (overrides store.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newActionCommand("cancel", "Cancel a work order"))
	rootCmd.AddCommand(newActionCommand("suspend", "Suspend a work order"))
	rootCmd.AddCommand(newActionCommand("resume", "Resume a suspended work order"))
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
