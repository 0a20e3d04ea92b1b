package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spiffcs/ghvault/internal/api"
	"github.com/spiffcs/ghvault/internal/log"
)

// entityMeta is the slice of an entity document needed for file naming,
// incremental skipping, and release selection.
type entityMeta struct {
	Number      int             `json:"number"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PullRequest json.RawMessage `json:"pull_request"`
	TagName     string          `json:"tag_name"`
	Prerelease  bool            `json:"prerelease"`
	Draft       bool            `json:"draft"`
	CreatedAt   time.Time       `json:"created_at"`
	AssetsURL   string          `json:"assets_url"`
}

// repoBackup carries the state for one repository's backup.
type repoBackup struct {
	runner *Runner
	walker *api.Walker
	target target
	repo   Repository
	dir    string // {out}/{owner}/repositories/{name}
	writer *Writer
}

func (r *Runner) backupRepository(ctx context.Context, walker *api.Walker, tgt target, repo Repository) error {
	b := &repoBackup{
		runner: r,
		walker: walker,
		target: tgt,
		repo:   repo,
		dir:    filepath.Join(r.opts.OutputDir, repo.Owner.Login, "repositories", repo.Name),
		writer: &Writer{Incremental: r.opts.Incremental},
	}
	inc := r.opts.Include

	if inc.repository() {
		if err := b.clone(ctx, repo.FullName+".git", filepath.Join(b.dir, "repository")); err != nil {
			return err
		}
	}
	if inc.wiki() && repo.HasWiki {
		if err := b.clone(ctx, repo.FullName+".wiki.git", filepath.Join(b.dir, "wiki")); err != nil {
			return err
		}
	}
	if inc.issues() {
		if err := b.issues(ctx); err != nil {
			return err
		}
	}
	if inc.pulls() {
		if err := b.pulls(ctx); err != nil {
			return err
		}
	}
	if inc.milestones() {
		if err := b.milestones(ctx); err != nil {
			return err
		}
	}
	if inc.labels() {
		if err := b.labels(ctx); err != nil {
			return err
		}
	}
	if inc.hooks() {
		if err := b.hooks(ctx); err != nil {
			return err
		}
	}
	if inc.releases() {
		if err := b.releases(ctx); err != nil {
			return err
		}
	}
	return nil
}

// clone mirrors the git repository (or its wiki) under dir.
func (b *repoBackup) clone(ctx context.Context, remotePath, dir string) error {
	token, err := b.target.source.Token(ctx)
	if err != nil {
		return err
	}
	remote := cloneURL(b.runner.opts.Host, token, remotePath)
	return fetchRepository(ctx, b.repo.Name, remote, dir, gitOptions{
		Bare:         b.runner.opts.Bare,
		NoPrune:      b.runner.opts.NoPrune,
		SkipExisting: b.runner.opts.SkipExisting,
	})
}

func (b *repoBackup) issues(ctx context.Context) error {
	dir := filepath.Join(b.dir, "issues")
	base := "/repos/" + b.repo.FullName + "/issues"
	inc := b.runner.opts.Include

	log.Debug("retrieving issues", "repo", b.repo.FullName)

	// Pull requests come back from the issues endpoint too; skip them
	// here when they are being backed up in their own right.
	skipPulls := inc.pulls()
	issues := map[int]json.RawMessage{}
	skipped := 0
	for _, state := range []string{"open", "closed"} {
		query := url.Values{"filter": {"all"}, "state": {state}}
		records, err := b.walker.FetchAll(ctx, base, query)
		if err != nil {
			return err
		}
		for _, rec := range records {
			meta, err := decodeMeta(rec)
			if err != nil {
				return err
			}
			if skipPulls && meta.PullRequest != nil {
				skipped++
				continue
			}
			issues[meta.Number] = rec
		}
	}
	log.Info("saving issues", "repo", b.repo.FullName, "count", len(issues), "skipped_pulls", skipped)

	for number, rec := range issues {
		path := filepath.Join(dir, fmt.Sprintf("%d.json", number))
		meta, err := decodeMeta(rec)
		if err != nil {
			return err
		}
		if b.writer.ShouldSkip(path, meta.UpdatedAt) {
			log.Debug("issue unchanged since last backup", "repo", b.repo.FullName, "number", number)
			continue
		}

		doc := rec
		if inc.issueComments() {
			doc, err = b.attachCollection(ctx, doc, "comment_data", fmt.Sprintf("%s/%d/comments", base, number))
			if err != nil {
				return err
			}
		}
		if inc.issueEvents() {
			doc, err = b.attachCollection(ctx, doc, "event_data", fmt.Sprintf("%s/%d/events", base, number))
			if err != nil {
				return err
			}
		}
		if err := b.writer.WriteEntity(path, doc); err != nil {
			return err
		}
	}
	return nil
}

func (b *repoBackup) pulls(ctx context.Context) error {
	dir := filepath.Join(b.dir, "pulls")
	base := "/repos/" + b.repo.FullName + "/pulls"
	issueBase := "/repos/" + b.repo.FullName + "/issues"
	inc := b.runner.opts.Include

	log.Debug("retrieving pull requests", "repo", b.repo.FullName)

	pulls := map[int]json.RawMessage{}
	if inc.PullDetails {
		// The list endpoint omits review and merge fields; fetch each
		// pull request individually.
		query := url.Values{"state": {"all"}, "sort": {"updated"}, "direction": {"desc"}}
		records, err := b.walker.FetchAll(ctx, base, query)
		if err != nil {
			return err
		}
		for _, rec := range records {
			meta, err := decodeMeta(rec)
			if err != nil {
				return err
			}
			detail, err := b.walker.FetchOne(ctx, fmt.Sprintf("%s/%d", base, meta.Number), nil)
			if err != nil {
				return err
			}
			pulls[meta.Number] = detail
		}
	} else {
		for _, state := range []string{"open", "closed"} {
			query := url.Values{"state": {state}, "sort": {"updated"}, "direction": {"desc"}}
			records, err := b.walker.FetchAll(ctx, base, query)
			if err != nil {
				return err
			}
			for _, rec := range records {
				meta, err := decodeMeta(rec)
				if err != nil {
					return err
				}
				pulls[meta.Number] = rec
			}
		}
	}
	log.Info("saving pull requests", "repo", b.repo.FullName, "count", len(pulls))

	for number, rec := range pulls {
		path := filepath.Join(dir, fmt.Sprintf("%d.json", number))
		meta, err := decodeMeta(rec)
		if err != nil {
			return err
		}
		if b.writer.ShouldSkip(path, meta.UpdatedAt) {
			log.Debug("pull request unchanged since last backup", "repo", b.repo.FullName, "number", number)
			continue
		}

		doc := rec
		if inc.pullComments() {
			// Regular comments live on the issues API; the pulls API
			// only serves review comments.
			doc, err = b.attachCollection(ctx, doc, "comment_regular_data", fmt.Sprintf("%s/%d/comments", issueBase, number))
			if err != nil {
				return err
			}
			doc, err = b.attachCollection(ctx, doc, "comment_data", fmt.Sprintf("%s/%d/comments", base, number))
			if err != nil {
				return err
			}
		}
		if inc.pullCommits() {
			doc, err = b.attachCollection(ctx, doc, "commit_data", fmt.Sprintf("%s/%d/commits", base, number))
			if err != nil {
				return err
			}
		}
		if err := b.writer.WriteEntity(path, doc); err != nil {
			return err
		}
	}
	return nil
}

func (b *repoBackup) milestones(ctx context.Context) error {
	dir := filepath.Join(b.dir, "milestones")
	log.Debug("retrieving milestones", "repo", b.repo.FullName)

	records, err := b.walker.FetchAll(ctx, "/repos/"+b.repo.FullName+"/milestones",
		url.Values{"state": {"all"}})
	if err != nil {
		return err
	}
	log.Info("saving milestones", "repo", b.repo.FullName, "count", len(records))

	for _, rec := range records {
		meta, err := decodeMeta(rec)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.json", meta.Number))
		if err := b.writer.WriteEntity(path, rec); err != nil {
			return err
		}
	}
	return nil
}

func (b *repoBackup) labels(ctx context.Context) error {
	log.Debug("retrieving labels", "repo", b.repo.FullName)
	records, err := b.walker.FetchAll(ctx, "/repos/"+b.repo.FullName+"/labels", nil)
	if err != nil {
		return err
	}
	return b.writer.WriteEntity(filepath.Join(b.dir, "labels", "labels.json"), records)
}

// hooks tolerates denied access: hook visibility varies per repository
// and per installation permission set, and a 403/404 here must not sink
// the rest of the repository's backup.
func (b *repoBackup) hooks(ctx context.Context) error {
	log.Debug("retrieving hooks", "repo", b.repo.FullName)
	records, err := b.walker.FetchAll(ctx, "/repos/"+b.repo.FullName+"/hooks", nil)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.StatusCode {
			case http.StatusNotFound:
				log.Info("unable to read hooks, skipping", "repo", b.repo.FullName)
				return nil
			case http.StatusForbidden:
				log.Warn("access denied to hooks, skipping", "repo", b.repo.FullName)
				return nil
			}
		}
		return err
	}
	return b.writer.WriteEntity(filepath.Join(b.dir, "hooks", "hooks.json"), records)
}

func (b *repoBackup) releases(ctx context.Context) error {
	dir := filepath.Join(b.dir, "releases")
	opts := b.runner.opts
	log.Debug("retrieving releases", "repo", b.repo.FullName)

	records, err := b.walker.FetchAll(ctx, "/repos/"+b.repo.FullName+"/releases", nil)
	if err != nil {
		return err
	}

	type release struct {
		meta entityMeta
		doc  json.RawMessage
	}
	var releases []release
	for _, rec := range records {
		meta, err := decodeMeta(rec)
		if err != nil {
			return err
		}
		if opts.SkipPrerelease && (meta.Prerelease || meta.Draft) {
			continue
		}
		releases = append(releases, release{meta: meta, doc: rec})
	}
	if opts.LatestReleases > 0 && opts.LatestReleases < len(releases) {
		sort.Slice(releases, func(i, j int) bool {
			return releases[i].meta.CreatedAt.After(releases[j].meta.CreatedAt)
		})
		releases = releases[:opts.LatestReleases]
	}
	log.Info("saving releases", "repo", b.repo.FullName, "count", len(releases))

	for _, rel := range releases {
		safeName := strings.ReplaceAll(rel.meta.TagName, "/", "__")
		if err := b.writer.WriteEntity(filepath.Join(dir, safeName+".json"), rel.doc); err != nil {
			return err
		}
		if !b.runner.opts.Include.assets() || rel.meta.AssetsURL == "" {
			continue
		}
		assets, err := b.walker.FetchAll(ctx, rel.meta.AssetsURL, nil)
		if err != nil {
			return err
		}
		for _, asset := range assets {
			var a struct {
				Name string `json:"name"`
				URL  string `json:"url"`
			}
			if err := json.Unmarshal(asset, &a); err != nil {
				return fmt.Errorf("decode release asset: %w", err)
			}
			b.downloadAsset(ctx, a.URL, filepath.Join(dir, safeName, a.Name))
		}
	}
	return nil
}

// downloadAsset streams one release asset to disk. Assets already on
// disk are kept so repeat runs don't redownload; download failures are
// logged and skipped rather than failing the release backup.
func (b *repoBackup) downloadAsset(ctx context.Context, rawURL, path string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	resp, err := b.walker.Client.Download(ctx, rawURL)
	if err != nil {
		log.Warn("skipping asset download", "url", rawURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("skipping asset download", "url", rawURL, "error", err)
		return
	}
	tmp := path + ".temp"
	f, err := os.Create(tmp)
	if err != nil {
		log.Warn("skipping asset download", "url", rawURL, "error", err)
		return
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		log.Warn("skipping asset download", "url", rawURL, "error", errors.Join(copyErr, closeErr))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		log.Warn("skipping asset download", "url", rawURL, "error", err)
	}
}

// attachCollection fetches a related collection and embeds it into the
// entity document under key.
func (b *repoBackup) attachCollection(ctx context.Context, doc json.RawMessage, key, path string) (json.RawMessage, error) {
	items, err := b.walker.FetchAll(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode entity for %s: %w", key, err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	m[key] = items
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func decodeMeta(rec json.RawMessage) (entityMeta, error) {
	var meta entityMeta
	if err := json.Unmarshal(rec, &meta); err != nil {
		return entityMeta{}, fmt.Errorf("decode entity: %w", err)
	}
	return meta, nil
}
