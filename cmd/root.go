package cmd

import (
	"github.com/spf13/cobra"
)

// New creates the root command with all subcommands registered.
func New() *cobra.Command {
	opts := NewOptions()

	rootCmd := &cobra.Command{
		Use:   "ghvault [USER...]",
		Short: "GitHub backup agent",
		Long: `Back up GitHub repositories and their metadata (issues, pull
requests, releases, and more) using a GitHub App or personal token.

With a GitHub App credential every accessible installation is backed
up; positional USER arguments narrow the run to those accounts.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, args, opts)
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// Add backup flags to root command so `ghvault` and `ghvault backup`
	// work identically
	addBackupFlags(rootCmd, opts)

	// Register subcommands
	rootCmd.AddCommand(NewCmdBackup(opts))
	rootCmd.AddCommand(NewCmdInstallations(opts))
	rootCmd.AddCommand(NewCmdConfig())
	rootCmd.AddCommand(NewCmdVersion())
	rootCmd.AddCommand(NewCmdRateLimit(opts))

	return rootCmd
}
