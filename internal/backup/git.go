package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spiffcs/ghvault/internal/log"
)

type gitOptions struct {
	Bare         bool
	NoPrune      bool
	SkipExisting bool
}

func cloneURL(host, token, remotePath string) string {
	if host == "" {
		host = "github.com"
	}
	return fmt.Sprintf("https://x-access-token:%s@%s/%s", token, host, remotePath)
}

// maskRemote hides the embedded access token for log output.
func maskRemote(remote string) string {
	u, err := url.Parse(remote)
	if err != nil || u.User == nil {
		return remote
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "*****")
	}
	return u.String()
}

// fetchRepository clones remote into dir, or updates an existing clone
// in place. Mirror clones are used so refs survive force pushes.
func fetchRepository(ctx context.Context, name, remote, dir string, opts gitOptions) error {
	exists, err := cloneExists(ctx, dir)
	if err != nil {
		return err
	}
	if exists && opts.SkipExisting {
		log.Debug("clone already on disk, skipping", "repo", name)
		return nil
	}

	// An empty wiki reports 128 from ls-remote until its first page is
	// written; treat that as nothing to back up.
	if err := runGit(ctx, "", remote, "ls-remote", remote); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 128 {
			log.Info("remote is not initialized, skipping", "repo", name, "remote", maskRemote(remote))
			return nil
		}
		return err
	}

	if exists {
		log.Progress("updating %s", name)
		if err := runGit(ctx, dir, remote, "remote", "set-url", "origin", remote); err != nil {
			return err
		}
		args := []string{"fetch", "--all", "--force", "--tags"}
		if !opts.NoPrune {
			args = append(args, "--prune")
		}
		return runGit(ctx, dir, remote, args...)
	}

	log.Progress("cloning %s", name)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	args := []string{"clone"}
	if opts.Bare {
		args = append(args, "--mirror")
	}
	args = append(args, remote, dir)
	return runGit(ctx, "", remote, args...)
}

func cloneExists(ctx context.Context, dir string) (bool, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	// The directory exists without .git; it may be a bare clone from a
	// previous run.
	err := runGit(ctx, dir, "", "rev-parse", "--is-bare-repository")
	return err == nil, nil
}

// runGit executes git with output captured, scrubbing the remote's
// access token from anything that ends up in an error.
func runGit(ctx context.Context, dir, remote string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if remote != "" {
			msg = strings.ReplaceAll(msg, remote, maskRemote(remote))
		}
		if msg != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
