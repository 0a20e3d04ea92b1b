// Package backup orchestrates the end-to-end run: installation
// discovery, repository enumeration, metadata fetch, and git mirroring.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spiffcs/ghvault/internal/api"
	"github.com/spiffcs/ghvault/internal/auth"
	"github.com/spiffcs/ghvault/internal/log"
)

// Options configures a backup run.
type Options struct {
	OutputDir      string
	Host           string // github.com or an Enterprise hostname
	Users          []string
	Include        Include
	Filters        Filters
	LatestReleases int
	SkipPrerelease bool
	Incremental    bool
	SkipExisting   bool
	Bare           bool
	NoPrune        bool
	Workers        int
	ThrottleLimit  int
	ThrottlePause  time.Duration
	UserAgent      string
}

// Runner executes backups for one resolved credential. Installations
// are processed as independent workers that share only the token cache
// and the read-only options.
type Runner struct {
	cred    auth.Credential
	opts    Options
	baseURL string
	cache   *auth.TokenCache // nil for static tokens
}

// NewRunner builds a runner. For App identities it owns the installation
// token cache for the life of the run.
func NewRunner(cred auth.Credential, opts Options) *Runner {
	r := &Runner{
		cred:    cred,
		opts:    opts,
		baseURL: api.BaseURL(opts.Host),
	}
	if app, ok := cred.(auth.AppIdentity); ok {
		r.cache = auth.NewTokenCache(app, r.baseURL, opts.UserAgent, nil)
	}
	return r
}

// newWalker builds a walker with its own governor. Pacing state is
// scoped to the walk it is attached to, not shared across workers.
func (r *Runner) newWalker(source api.TokenSource) *api.Walker {
	gov := api.NewGovernor(r.opts.ThrottleLimit, r.opts.ThrottlePause)
	return &api.Walker{Client: api.NewClient(r.baseURL, source, gov, r.opts.UserAgent)}
}

// target is one unit of backup work: an account plus the token source
// scoped to it. Static-token runs have a single target with a zero
// installation ID.
type target struct {
	installationID int64
	account        Account
	source         api.TokenSource
}

func (t target) label() string {
	if t.account.Login != "" {
		return t.account.Login
	}
	if t.installationID != 0 {
		return fmt.Sprintf("installation %d", t.installationID)
	}
	return "authenticated user"
}

// DiscoverInstallations walks /app/installations authenticated with a
// fresh app assertion.
func (r *Runner) DiscoverInstallations(ctx context.Context) ([]Installation, error) {
	app, ok := r.cred.(auth.AppIdentity)
	if !ok {
		return nil, fmt.Errorf("installation discovery requires a GitHub App credential")
	}

	w := r.newWalker(api.AppTokenSource(app))
	records, err := w.FetchAll(ctx, "/app/installations", nil)
	if err != nil {
		return nil, fmt.Errorf("discover installations: %w", err)
	}

	installations := make([]Installation, 0, len(records))
	for _, rec := range records {
		var inst Installation
		if err := json.Unmarshal(rec, &inst); err != nil {
			return nil, fmt.Errorf("decode installation: %w", err)
		}
		installations = append(installations, inst)
	}
	log.Info("discovered installations", "count", len(installations))
	return installations, nil
}

// Failure records one account's error so sibling accounts keep going.
type Failure struct {
	Account        string
	InstallationID int64
	Err            error
}

// Summary reports what a run accomplished.
type Summary struct {
	Accounts     int
	Repositories int
	Failures     []Failure
}

// Run backs up every matching installation. Per-account failures are
// collected into the summary; the returned error is non-nil only when
// the run was cancelled or made no progress at all.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	targets, err := r.targets(ctx)
	if err != nil {
		return nil, err
	}

	workers := r.opts.Workers
	if workers <= 0 {
		workers = 1
	}

	summary := &Summary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tgt := range targets {
		g.Go(func() error {
			count, err := r.backupTarget(gctx, tgt)
			mu.Lock()
			defer mu.Unlock()
			summary.Accounts++
			summary.Repositories += count
			if err != nil {
				summary.Failures = append(summary.Failures, Failure{
					Account:        tgt.label(),
					InstallationID: tgt.installationID,
					Err:            err,
				})
				log.Error("account backup failed", "account", tgt.label(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Repositories == 0 && len(summary.Failures) > 0 {
		return summary, fmt.Errorf("backup made no progress: %d account(s) failed", len(summary.Failures))
	}
	return summary, nil
}

// PlanEntry describes what one account's backup would cover.
type PlanEntry struct {
	Account        string
	InstallationID int64
	Repositories   []string
}

// Plan enumerates repositories without fetching metadata or cloning.
func (r *Runner) Plan(ctx context.Context) ([]PlanEntry, error) {
	targets, err := r.targets(ctx)
	if err != nil {
		return nil, err
	}

	var plan []PlanEntry
	for _, tgt := range targets {
		repos, err := r.listRepositories(ctx, tgt)
		if err != nil {
			return plan, err
		}
		filtered, err := r.opts.Filters.Apply(repos)
		if err != nil {
			return plan, err
		}
		entry := PlanEntry{Account: tgt.label(), InstallationID: tgt.installationID}
		for _, repo := range filtered {
			entry.Repositories = append(entry.Repositories, repo.FullName)
		}
		plan = append(plan, entry)
	}
	return plan, nil
}

func (r *Runner) targets(ctx context.Context) ([]target, error) {
	switch cred := r.cred.(type) {
	case auth.StaticToken:
		return []target{{source: api.StaticTokenSource(cred.Value)}}, nil

	case auth.AppIdentity:
		if cred.InstallationID != 0 {
			return []target{{
				installationID: cred.InstallationID,
				source:         api.InstallationTokenSource(r.cache, cred.InstallationID),
			}}, nil
		}
		installations, err := r.DiscoverInstallations(ctx)
		if err != nil {
			return nil, err
		}
		var targets []target
		for _, inst := range installations {
			if len(r.opts.Users) > 0 && !containsFold(r.opts.Users, inst.Account.Login) {
				log.Info("skipping installation, not in filter list",
					"account", inst.Account.Login, "installation", inst.ID)
				continue
			}
			targets = append(targets, target{
				installationID: inst.ID,
				account:        inst.Account,
				source:         api.InstallationTokenSource(r.cache, inst.ID),
			})
		}
		if len(targets) == 0 {
			log.Warn("no GitHub App installations matched")
		}
		return targets, nil
	}
	return nil, fmt.Errorf("unsupported credential type %T", r.cred)
}

// backupTarget enumerates and backs up one account's repositories.
// A single repository's failure is logged and does not stop the rest.
func (r *Runner) backupTarget(ctx context.Context, tgt target) (int, error) {
	walker := r.newWalker(tgt.source)

	repos, err := r.listRepositoriesWith(ctx, walker, tgt)
	if err != nil {
		return 0, err
	}
	filtered, err := r.opts.Filters.Apply(repos)
	if err != nil {
		return 0, err
	}
	log.Info("backing up repositories",
		"account", tgt.label(), "count", len(filtered), "total", len(repos))

	count := 0
	var repoErrs []error
	for i, repo := range filtered {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		log.Progress("backing up %s (%d/%d)", repo.FullName, i+1, len(filtered))
		if err := r.backupRepository(ctx, walker, tgt, repo); err != nil {
			repoErrs = append(repoErrs, fmt.Errorf("%s: %w", repo.FullName, err))
			log.Error("repository backup failed", "repo", repo.FullName, "error", err)
			continue
		}
		count++
	}
	log.ProgressDone()
	return count, errors.Join(repoErrs...)
}

func (r *Runner) listRepositories(ctx context.Context, tgt target) ([]Repository, error) {
	return r.listRepositoriesWith(ctx, r.newWalker(tgt.source), tgt)
}

func (r *Runner) listRepositoriesWith(ctx context.Context, walker *api.Walker, tgt target) ([]Repository, error) {
	path := "/installation/repositories"
	if tgt.installationID == 0 {
		path = "/user/repos"
	}

	records, err := walker.FetchAll(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list repositories for %s: %w", tgt.label(), err)
	}

	repos := make([]Repository, 0, len(records))
	for _, rec := range records {
		var repo Repository
		if err := json.Unmarshal(rec, &repo); err != nil {
			return nil, fmt.Errorf("decode repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
