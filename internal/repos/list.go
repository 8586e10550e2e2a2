// Package repos maintains the canonical repository table: extracting
// repository URLs from the current distribution manifests, cloning the
// working copies, and sweeping clone and content problems into status
// flags.
package repos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// forbiddenKeys mark URL variants that never identify the primary source
// repository: release mirrors, defunct hosts, svn frontends.
var forbiddenKeys = []string{"-release", "ros.org", "svn", "code.google.com"}

// Lister extracts the per-repository source URLs from the checked-out
// manifest repository.
type Lister struct {
	manifestPath string
	distros      *rosdistro.DistroIndex
	resolver     rosdistro.SourceResolver
	logger       *slog.Logger
}

// NewLister builds a lister over a manifest working copy. The resolver
// may be nil; release-only entries are then skipped.
func NewLister(manifestPath string, distros *rosdistro.DistroIndex, resolver rosdistro.SourceResolver, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}

	return &Lister{
		manifestPath: manifestPath,
		distros:      distros,
		resolver:     resolver,
		logger:       logger.With("component", "repos"),
	}
}

// RawURLs maps repository name → distro → lower-cased source URL across
// every current distribution manifest. Source and doc URLs are taken
// directly; release-only entries go through tracks resolution.
func (l *Lister) RawURLs(ctx context.Context) (map[string]map[string]string, error) {
	all := make(map[string]map[string]string)

	for _, distro := range l.distros.All() {
		path := filepath.Join(l.manifestPath, distro, "distribution.yaml")

		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var manifest struct {
			Repositories map[string]struct {
				Source  struct{ URL string } `yaml:"source"`
				Doc     struct{ URL string } `yaml:"doc"`
				Release struct{ URL string } `yaml:"release"`
			} `yaml:"repositories"`
		}

		err = yaml.Unmarshal(raw, &manifest)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		for name, entry := range manifest.Repositories {
			url := entry.Source.URL
			if url == "" {
				url = entry.Doc.URL
			}

			if url == "" && entry.Release.URL != "" && l.resolver != nil {
				resolved, resolveErr := l.resolver.SourceURL(ctx, distro, entry.Release.URL)
				if resolveErr != nil {
					l.logger.Debug("tracks resolution failed", "repo", name, "error", resolveErr)

					continue
				}

				url = resolved
			}

			if url == "" {
				continue
			}

			if all[name] == nil {
				all[name] = make(map[string]string)
			}

			all[name][distro] = strings.ToLower(url)
		}
	}

	return all, nil
}

// twoSubstringMatch implements the URL disambiguation rule for name
// collisions: given exactly two URLs where substr appears in exactly one,
// return the other (or the matching one with wantMatch).
func twoSubstringMatch(urls []string, substr string, wantMatch bool) string {
	if len(urls) != 2 {
		return ""
	}

	a, b := urls[0], urls[1]
	inA := strings.Contains(a, substr)
	inB := strings.Contains(b, substr)

	switch {
	case inA && !inB:
		if wantMatch {
			return a
		}

		return b
	case inB && !inA:
		if wantMatch {
			return b
		}

		return a
	default:
		return ""
	}
}

// hasForbiddenKey reports whether the URL contains any non-primary marker.
func hasForbiddenKey(url string) bool {
	for _, key := range forbiddenKeys {
		if strings.Contains(url, key) {
			return true
		}
	}

	return false
}

// cleanURLs reduces a repository's URL variants to the ones worth
// tracking. A single clean URL passes through; a pair split between the
// two distribution generations keeps both; a pair where one side carries
// a forbidden marker keeps the matching side. Anything else is dropped.
func cleanURLs(urls []string) []string {
	if len(urls) == 1 {
		if hasForbiddenKey(urls[0]) {
			return nil
		}

		return urls
	}

	if twoSubstringMatch(urls, "ros2", false) != "" {
		return urls
	}

	for _, key := range forbiddenKeys {
		match := twoSubstringMatch(urls, key, false)
		if match != "" {
			return []string{match}
		}
	}

	return nil
}

// UpdateRepoList inserts any newly seen (name, url) pair into the repos
// table with a fresh id. Existing rows are never touched.
func UpdateRepoList(db *metricdb.DB, allRepos map[string]map[string]string) error {
	names := make([]string, 0, len(allRepos))
	for name := range allRepos {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		urlSet := make(map[string]struct{})
		for _, url := range allRepos[name] {
			urlSet[url] = struct{}{}
		}

		urls := make([]string, 0, len(urlSet))
		for url := range urlSet {
			urls = append(urls, url)
		}

		sort.Strings(urls)

		for _, url := range cleanURLs(urls) {
			identity := hosting.MatchHost(url)
			if identity == nil {
				continue
			}

			existing, err := db.Lookup("id", "repos", fmt.Sprintf("WHERE key=%q AND url=%q", name, url))
			if err != nil {
				return err
			}

			if existing != nil {
				continue
			}

			_, err = db.GetOrCreateID("repos", metricdb.Row{
				"key":    name,
				"url":    url,
				"server": identity.Server,
				"org":    identity.Org,
				"repo":   identity.Repo,
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}
