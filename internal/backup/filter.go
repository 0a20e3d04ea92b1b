package backup

import (
	"fmt"
	"regexp"
	"strings"
)

// Filters narrows the set of repositories a run operates on. All
// configured filters must match for a repository to be kept.
type Filters struct {
	// Repository keeps only the named repository ("name" or "owner/name").
	Repository string
	// NameRegex keeps repositories whose name matches the pattern.
	NameRegex string
	// Languages keeps repositories whose primary language is listed.
	Languages []string
	// Exclude drops the named repositories outright.
	Exclude []string
}

func (f Filters) Apply(repos []Repository) ([]Repository, error) {
	var nameRe *regexp.Regexp
	if f.NameRegex != "" {
		var err error
		nameRe, err = regexp.Compile(f.NameRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid repository name pattern %q: %w", f.NameRegex, err)
		}
	}

	var kept []Repository
	for _, repo := range repos {
		if f.Repository != "" && !strings.EqualFold(f.Repository, repo.Name) && !strings.EqualFold(f.Repository, repo.FullName) {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(repo.Name) {
			continue
		}
		if len(f.Languages) > 0 && !containsFold(f.Languages, repo.Language) {
			continue
		}
		if containsFold(f.Exclude, repo.Name) || containsFold(f.Exclude, repo.FullName) {
			continue
		}
		kept = append(kept, repo)
	}
	return kept, nil
}
