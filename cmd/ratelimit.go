package cmd

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/spf13/cobra"
	"github.com/spiffcs/ghvault/config"
	"github.com/spiffcs/ghvault/internal/api"
	"github.com/spiffcs/ghvault/internal/auth"
	"github.com/spiffcs/ghvault/internal/backup"
	"golang.org/x/oauth2"
)

// NewCmdRateLimit creates the ratelimit command.
func NewCmdRateLimit(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Check GitHub API rate limit status",
		Long:  `Display current GitHub API rate limit status including remaining quota and reset time.`,
	}
	cmd.AddCommand(NewCmdRateLimitStatus(opts))
	return cmd
}

// NewCmdRateLimitStatus creates the ratelimit status subcommand.
func NewCmdRateLimitStatus(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current rate limit status",
		Long:  `Display the current GitHub API rate limit status for core and search APIs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRateLimitStatus(cmd, opts)
		},
	}
}

func runRateLimitStatus(cmd *cobra.Command, opts *Options) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyConfig(cmd, opts, cfg)

	cred, err := auth.ResolveCredential(resolveOptions(opts))
	if err != nil {
		return err
	}

	token, err := concreteToken(ctx, cred, opts)
	if err != nil {
		return err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := gh.NewClient(oauth2.NewClient(ctx, ts))
	if opts.Host != "" {
		client, err = client.WithEnterpriseURLs(api.BaseURL(opts.Host), api.BaseURL(opts.Host))
		if err != nil {
			return err
		}
	}

	limits, _, err := client.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get rate limits: %w", err)
	}

	fmt.Println("GitHub API Rate Limits:")
	fmt.Println()

	if limits.Core != nil {
		printLimit("Core API:  ", limits.Core)
	}
	if limits.Search != nil {
		printLimit("Search API:", limits.Search)
	}

	return nil
}

// concreteToken turns the resolved credential into a usable bearer token.
// App identities mint an installation token for the configured (or first
// discovered) installation; rate limits are scoped per installation.
func concreteToken(ctx context.Context, cred auth.Credential, opts *Options) (string, error) {
	switch c := cred.(type) {
	case auth.StaticToken:
		return c.Value, nil

	case auth.AppIdentity:
		installationID := c.InstallationID
		if installationID == 0 {
			runner := backup.NewRunner(cred, runnerOptions(nil, opts))
			installations, err := runner.DiscoverInstallations(ctx)
			if err != nil {
				return "", err
			}
			if len(installations) == 0 {
				return "", fmt.Errorf("the GitHub App has no installations")
			}
			installationID = installations[0].ID
		}

		cache := auth.NewTokenCache(c, api.BaseURL(opts.Host), "ghvault/"+version, nil)
		return cache.Token(ctx, installationID)
	}
	return "", fmt.Errorf("unsupported credential type %T", cred)
}

func printLimit(label string, rate *gh.Rate) {
	resetIn := time.Until(rate.Reset.Time).Round(time.Second)
	if resetIn < 0 {
		resetIn = 0
	}
	fmt.Printf("%s %d/%d remaining (resets in %s)\n", label, rate.Remaining, rate.Limit, resetIn)
}
