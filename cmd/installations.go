package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spiffcs/ghvault/config"
	"github.com/spiffcs/ghvault/internal/auth"
	"github.com/spiffcs/ghvault/internal/backup"
	"github.com/spiffcs/ghvault/internal/log"
)

// NewCmdInstallations creates the installations command.
func NewCmdInstallations(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installations",
		Short: "List GitHub App installations",
		Long: `Lists every installation of the configured GitHub App, with the
account it is bound to and its installation ID.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstallations(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.AppID, "app-id", 0, "GitHub App ID")
	cmd.Flags().StringVar(&opts.PrivateKey, "private-key", "", "GitHub App private key (file:// path, bare path, or inline PEM)")
	cmd.Flags().StringVar(&opts.Host, "github-host", "", "GitHub Enterprise hostname (defaults to github.com)")
	cmd.Flags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v debug)")

	return cmd
}

func runInstallations(cmd *cobra.Command, opts *Options) error {
	log.Initialize(opts.Verbosity, os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyConfig(cmd, opts, cfg)

	resolve := resolveOptions(opts)
	resolve.Token = ""
	resolve.InstallationID = 0
	cred, err := auth.ResolveCredential(resolve)
	if err != nil {
		return err
	}

	runner := backup.NewRunner(cred, runnerOptions(nil, opts))
	installations, err := runner.DiscoverInstallations(cmd.Context())
	if err != nil {
		return err
	}

	if len(installations) == 0 {
		fmt.Println("No installations found.")
		return nil
	}

	color.New(color.Bold).Printf("%d installation(s):\n", len(installations))
	for _, inst := range installations {
		fmt.Printf("  - %s: %s (installation ID: %d, %s repositories)\n",
			inst.Account.Type, inst.Account.Login, inst.ID, inst.RepositorySelection)
	}
	return nil
}
