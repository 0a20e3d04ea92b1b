package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spiffcs/ghvault/config"
	"github.com/spiffcs/ghvault/internal/auth"
	"github.com/spiffcs/ghvault/internal/backup"
	"github.com/spiffcs/ghvault/internal/log"
)

// NewCmdBackup creates the backup command.
func NewCmdBackup(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [USER...]",
		Short: "Back up repositories and metadata (same as root ghvault)",
		Long: `Enumerates every repository the credential can reach and backs up
the selected artifacts under the output directory.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, args, opts)
		},
	}

	addBackupFlags(cmd, opts)
	return cmd
}

// addBackupFlags adds the backup flags to a command.
func addBackupFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.OutputDir, "output-directory", "o", ".", "Directory backups are written to")
	cmd.Flags().StringVar(&opts.Host, "github-host", "", "GitHub Enterprise hostname (defaults to github.com)")
	cmd.Flags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v debug)")

	// Credentials (fall back to GITHUB_TOKEN / GITHUB_APP_* env vars)
	cmd.Flags().StringVarP(&opts.Token, "token", "t", "", "Personal access token")
	cmd.Flags().Int64Var(&opts.AppID, "app-id", 0, "GitHub App ID")
	cmd.Flags().StringVar(&opts.PrivateKey, "private-key", "", "GitHub App private key (file:// path, bare path, or inline PEM)")
	cmd.Flags().Int64Var(&opts.InstallationID, "installation-id", 0, "Back up a single App installation")

	// Artifact selection
	cmd.Flags().BoolVar(&opts.Everything, "all", false, "Back up every artifact type")
	cmd.Flags().BoolVar(&opts.Repos, "repositories", true, "Clone repositories")
	cmd.Flags().BoolVar(&opts.Wikis, "wikis", false, "Clone wikis")
	cmd.Flags().BoolVar(&opts.Issues, "issues", false, "Save issues")
	cmd.Flags().BoolVar(&opts.IssueComments, "issue-comments", false, "Embed comments in saved issues")
	cmd.Flags().BoolVar(&opts.IssueEvents, "issue-events", false, "Embed events in saved issues")
	cmd.Flags().BoolVar(&opts.Pulls, "pulls", false, "Save pull requests")
	cmd.Flags().BoolVar(&opts.PullComments, "pull-comments", false, "Embed comments in saved pull requests")
	cmd.Flags().BoolVar(&opts.PullCommits, "pull-commits", false, "Embed commit lists in saved pull requests")
	cmd.Flags().BoolVar(&opts.PullDetails, "pull-details", false, "Fetch full detail for each pull request (slow)")
	cmd.Flags().BoolVar(&opts.Labels, "labels", false, "Save labels")
	cmd.Flags().BoolVar(&opts.Milestones, "milestones", false, "Save milestones")
	cmd.Flags().BoolVar(&opts.Hooks, "hooks", false, "Save webhooks")
	cmd.Flags().BoolVar(&opts.Releases, "releases", false, "Save releases")
	cmd.Flags().BoolVar(&opts.Assets, "assets", false, "Download release assets")

	// Repository selection
	cmd.Flags().StringVarP(&opts.Repository, "repository", "R", "", "Back up a single repository (name or owner/name)")
	cmd.Flags().StringVar(&opts.NameRegex, "name-regex", "", "Only repositories whose name matches the pattern")
	cmd.Flags().StringSliceVar(&opts.Languages, "languages", nil, "Only repositories in these languages")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "Skip the named repositories")

	// Release selection
	cmd.Flags().IntVar(&opts.LatestReleases, "number-of-latest-releases", 0, "Only the N most recent releases")
	cmd.Flags().BoolVar(&opts.SkipPrerelease, "skip-prerelease", false, "Skip prerelease and draft releases")

	// Pacing
	cmd.Flags().IntVar(&opts.ThrottleLimit, "throttle-limit", 0, "Pause once remaining API quota drops this low")
	cmd.Flags().Float64Var(&opts.ThrottlePause, "throttle-pause", 30, "Seconds to pause when throttled")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "Installations to back up in parallel")

	// Behavior
	cmd.Flags().BoolVar(&opts.Incremental, "incremental", false, "Skip entities unchanged since the last backup")
	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false, "Skip repositories already cloned on disk")
	cmd.Flags().BoolVar(&opts.Bare, "bare", false, "Mirror clone without a working tree")
	cmd.Flags().BoolVar(&opts.NoPrune, "no-prune", false, "Keep refs deleted upstream")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "List what would be backed up without doing it")
}

func runBackup(cmd *cobra.Command, args []string, opts *Options) error {
	log.Initialize(opts.Verbosity, os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyConfig(cmd, opts, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred, err := auth.ResolveCredential(resolveOptions(opts))
	if err != nil {
		return err
	}

	runner := backup.NewRunner(cred, runnerOptions(args, opts))

	if opts.DryRun {
		return printPlan(ctx, runner)
	}

	start := time.Now()
	summary, err := runner.Run(ctx)
	if summary != nil {
		printSummary(summary, time.Since(start))
	}
	return err
}

// applyConfig fills in options the user did not set on the command line.
func applyConfig(cmd *cobra.Command, opts *Options, cfg *config.Config) {
	flags := cmd.Flags()

	if !flags.Changed("output-directory") && cfg.OutputDirectory != "" {
		opts.OutputDir = cfg.OutputDirectory
	}
	if !flags.Changed("github-host") && cfg.GitHubHost != "" {
		opts.Host = cfg.GitHubHost
	}
	if !flags.Changed("app-id") && cfg.AppID != 0 {
		opts.AppID = cfg.AppID
	}
	if !flags.Changed("private-key") && cfg.PrivateKey != "" {
		opts.PrivateKey = cfg.PrivateKey
	}
	if !flags.Changed("installation-id") && cfg.InstallationID != 0 {
		opts.InstallationID = cfg.InstallationID
	}
	if !flags.Changed("throttle-limit") && cfg.ThrottleLimit != 0 {
		opts.ThrottleLimit = cfg.ThrottleLimit
	}
	if !flags.Changed("throttle-pause") && cfg.ThrottlePause != 0 {
		opts.ThrottlePause = cfg.ThrottlePause
	}
	if !flags.Changed("workers") && cfg.Workers != 0 {
		opts.Workers = cfg.Workers
	}
	if !flags.Changed("incremental") && cfg.Incremental {
		opts.Incremental = true
	}
	if !flags.Changed("bare") && cfg.Bare {
		opts.Bare = true
	}
	if !flags.Changed("no-prune") && cfg.NoPrune {
		opts.NoPrune = true
	}
	if !flags.Changed("name-regex") && cfg.NameRegex != "" {
		opts.NameRegex = cfg.NameRegex
	}
	if !flags.Changed("languages") && len(cfg.Languages) > 0 {
		opts.Languages = cfg.Languages
	}
	if !flags.Changed("exclude") && len(cfg.ExcludeRepos) > 0 {
		opts.Exclude = cfg.ExcludeRepos
	}
}

// resolveOptions maps CLI options onto credential inputs.
func resolveOptions(opts *Options) auth.ResolveOptions {
	ro := auth.ResolveOptions{
		Token:          opts.Token,
		PrivateKey:     opts.PrivateKey,
		InstallationID: opts.InstallationID,
	}
	if opts.AppID != 0 {
		ro.AppID = strconv.FormatInt(opts.AppID, 10)
	}
	return ro
}

func runnerOptions(users []string, opts *Options) backup.Options {
	return backup.Options{
		OutputDir: opts.OutputDir,
		Host:      opts.Host,
		Users:     users,
		Include: backup.Include{
			Everything:    opts.Everything,
			Repository:    opts.Repos,
			Wiki:          opts.Wikis,
			Issues:        opts.Issues,
			IssueComments: opts.IssueComments,
			IssueEvents:   opts.IssueEvents,
			Pulls:         opts.Pulls,
			PullComments:  opts.PullComments,
			PullCommits:   opts.PullCommits,
			PullDetails:   opts.PullDetails,
			Labels:        opts.Labels,
			Milestones:    opts.Milestones,
			Hooks:         opts.Hooks,
			Releases:      opts.Releases,
			Assets:        opts.Assets,
		},
		Filters: backup.Filters{
			Repository: opts.Repository,
			NameRegex:  opts.NameRegex,
			Languages:  opts.Languages,
			Exclude:    opts.Exclude,
		},
		LatestReleases: opts.LatestReleases,
		SkipPrerelease: opts.SkipPrerelease,
		Incremental:    opts.Incremental,
		SkipExisting:   opts.SkipExisting,
		Bare:           opts.Bare,
		NoPrune:        opts.NoPrune,
		Workers:        opts.Workers,
		ThrottleLimit:  opts.ThrottleLimit,
		ThrottlePause:  time.Duration(opts.ThrottlePause * float64(time.Second)),
		UserAgent:      "ghvault/" + version,
	}
}

func printPlan(ctx context.Context, runner *backup.Runner) error {
	plan, err := runner.Plan(ctx)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	for _, entry := range plan {
		if entry.InstallationID != 0 {
			bold.Printf("%s (installation %d)\n", entry.Account, entry.InstallationID)
		} else {
			bold.Printf("%s\n", entry.Account)
		}
		for _, repo := range entry.Repositories {
			fmt.Printf("  %s\n", repo)
		}
	}
	return nil
}

func printSummary(summary *backup.Summary, elapsed time.Duration) {
	fmt.Println()
	color.New(color.Bold).Printf("Backed up %d repositories across %d account(s) in %s\n",
		summary.Repositories, summary.Accounts, elapsed.Round(time.Second))

	if len(summary.Failures) > 0 {
		red := color.New(color.FgRed)
		red.Printf("%d account(s) had failures:\n", len(summary.Failures))
		for _, f := range summary.Failures {
			red.Printf("  %s: %v\n", f.Account, f.Err)
		}
	}
}
