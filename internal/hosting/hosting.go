// Package hosting resolves raw VCS URLs into canonical repository
// identities across the URL grammars of every hosting provider that has
// ever appeared in the distribution manifests, including long-dead ones.
package hosting

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// Repo status values persisted to the repos table. A null status means
// active (or not yet checked).
const (
	StatusMissing   = "missing"
	StatusNoAccess  = "no_access"
	StatusMercurial = "mercurial"
	StatusNotROS    = "not_ros"
	StatusDupe      = "dupe"
	StatusRemap     = "remap"
)

// Identity is the canonical (server, org, repo) tuple for a repository.
type Identity struct {
	Server string
	Org    string
	Repo   string
}

// hostGrammar pairs a URL pattern with its name for diagnostics. The
// patterns use named captures so reordering fields cannot silently break
// extraction.
type hostGrammar struct {
	name    string
	pattern *regexp.Regexp
}

// hostGrammars is tried in order; earlier grammars are more specific than
// later ones, so the order is load-bearing.
var hostGrammars = []hostGrammar{
	{"github-https", regexp.MustCompile(`^https?://(?P<server>github\.com)/(?P<org>[^/]+)/(?P<repo>.+?)(?:\.git)?/?$`)},
	{"github-ssh", regexp.MustCompile(`^git@(?P<server>github\.com):(?P<org>[^/]+)/(?P<repo>.+)\.git$`)},
	{"github-git", regexp.MustCompile(`^git://(?P<server>github\.com)/(?P<org>[^/]+)/(?P<repo>.+?)(?:\.git)?$`)},
	{"bitbucket", regexp.MustCompile(`^https://(?P<server>bitbucket\.org)/(?P<org>.*)/(?P<repo>.+)$`)},
	{"gitlab-https", regexp.MustCompile(`^https?://(?P<server>gitlab\.[^/]+)/(?P<org>[^/]+)/(?P<repo>.+)\.git$`)},
	{"gitlab-ssh", regexp.MustCompile(`^git@(?P<server>gitlab\.[^/]+):(?P<org>[^/]+)/(?P<repo>.+)\.git$`)},
	{"googlecode", regexp.MustCompile(`^https?://(?P<org>[^.]+)\.(?P<server>googlecode\.com)/svn/.*/(?P<repo>.+)$`)},
	{"kforge", regexp.MustCompile(`^https?://(?P<server>kforge\.ros\.org)/(?P<org>[^/]+)/(?P<repo>.+)$`)},
	{"code-ros", regexp.MustCompile(`^https?://(?P<server>code\.ros\.org)/svn/(?P<org>[^/]+)/stacks/(?P<repo>.+)/trunk$`)},
	{"sourceforge", regexp.MustCompile(`^https?://svn\.(?P<server>code\.sf\.net)/p/(?P<org>[^/]+)/code/trunk/(?:stacks/)?(?P<repo>.+)$`)},
}

// MatchHost maps a URL onto the first matching host grammar and returns
// the lower-cased identity captures, or nil when no grammar matches.
func MatchHost(url string) *Identity {
	if url == "" {
		return nil
	}

	for _, grammar := range hostGrammars {
		match := grammar.pattern.FindStringSubmatch(url)
		if match == nil {
			continue
		}

		identity := &Identity{}

		for i, name := range grammar.pattern.SubexpNames() {
			value := strings.ToLower(match[i])

			switch name {
			case "server":
				identity.Server = value
			case "org":
				identity.Org = value
			case "repo":
				identity.Repo = value
			}
		}

		return identity
	}

	return nil
}

// CacheFolder returns the working-copy path for an identity under the
// given cache root.
func CacheFolder(cacheRoot string, identity *Identity) string {
	return filepath.Join(cacheRoot, identity.Org, identity.Repo)
}

// CanonicalID looks up an existing repo row matching all identity fields.
// Returns (0, false) when no row matches; the caller decides whether to
// create one via the store's GetOrCreateID.
func CanonicalID(db *metricdb.DB, identity *Identity) (int64, bool, error) {
	rows, err := db.Query(
		"SELECT id FROM repos WHERE server=? AND org=? AND repo=? LIMIT 1",
		identity.Server, identity.Org, identity.Repo,
	)
	if err != nil {
		return 0, false, err
	}

	if len(rows) == 0 {
		return 0, false, nil
	}

	id, ok := rows[0]["id"].(int64)
	if !ok {
		return 0, false, nil
	}

	return id, true, nil
}
