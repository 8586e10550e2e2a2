package rosdistro

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// defaultTagValue is the sentinel recorded when a repository has neither
// a release version nor a source branch at a checkpoint.
const defaultTagValue = "default"

// SourceResolver turns a release-repo URL into the real source URL for a
// distro by consulting the release tooling's tracks descriptor. The
// resolution needs a network fetch and clone, so implementations memoize.
type SourceResolver interface {
	SourceURL(ctx context.Context, distro, releaseURL string) (string, error)
}

// tagValue is the effective (tag, is_release) pair for one repository at
// one checkpoint. A nil Tag means the version was indeterminate.
type tagValue struct {
	Tag       any
	IsRelease any
}

// TagChecker records the version/branch timeline of every tracked
// repository as a compacted change-point series.
type TagChecker struct {
	db       *metricdb.DB
	resolver SourceResolver
	logger   *slog.Logger
}

// NewTagChecker returns a checker writing through the given store. The
// resolver may be nil, in which case release-only entries fall back to
// their release URL identity with an indeterminate tag.
func NewTagChecker(db *metricdb.DB, resolver SourceResolver, logger *slog.Logger) *TagChecker {
	if logger == nil {
		logger = slog.Default()
	}

	return &TagChecker{db: db, resolver: resolver, logger: logger.With("component", "tagcheck")}
}

// Check runs one tag checkpoint over a reconstructed snapshot, recording
// a change-point row per (repo, distro) whose effective value moved.
func (t *TagChecker) Check(ctx context.Context, snap DistroSnapshot, date int64) error {
	// Deterministic order keeps id assignment stable across runs.
	distros := make([]string, 0, len(snap))
	for distro := range snap {
		distros = append(distros, distro)
	}

	sort.Strings(distros)

	for _, distro := range distros {
		repos := snap[distro]

		names := make([]string, 0, len(repos))
		for name := range repos {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return ctxErr
			}

			err := t.checkEntry(ctx, distro, name, repos[name], date)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// checkEntry resolves one repository entry to its effective URL and tag
// value and records the change-point if it moved.
func (t *TagChecker) checkEntry(ctx context.Context, distro, name string, sections map[string]RepoDescriptor, date int64) error {
	url, value := t.effectiveValue(ctx, distro, sections)
	if url == "" {
		return nil
	}

	identity := hosting.MatchHost(url)
	if identity == nil {
		return nil
	}

	repoID, err := t.repoID(identity, name, url)
	if err != nil {
		return err
	}

	return t.recordChangePoint(repoID, distro, value, date)
}

// effectiveValue picks the entry's source URL and (tag, is_release) pair.
// An explicit source or doc URL wins; otherwise the release URL is
// followed through the tracks descriptor. A failed resolution falls back
// to the release URL itself with an indeterminate tag.
func (t *TagChecker) effectiveValue(ctx context.Context, distro string, sections map[string]RepoDescriptor) (string, tagValue) {
	value := tagValue{Tag: defaultTagValue}

	release, hasRelease := sections["release"]
	source, hasSource := sections["source"]
	doc, hasDoc := sections["doc"]

	if hasRelease && release.Version != "" {
		value = tagValue{Tag: release.Version, IsRelease: true}
	} else if hasSource && source.Version != "" {
		value = tagValue{Tag: source.Version, IsRelease: false}
	}

	switch {
	case hasSource && source.URL != "":
		return source.URL, value
	case hasDoc && doc.URL != "":
		return doc.URL, value
	case hasRelease && release.URL != "":
		if t.resolver != nil {
			resolved, err := t.resolver.SourceURL(ctx, distro, release.URL)
			if err == nil && resolved != "" {
				return resolved, value
			}

			t.logger.Debug("tracks resolution failed", "distro", distro, "url", release.URL, "error", err)
		}

		// The release repo is still a known identity; its version just
		// cannot be pinned at this point in time.
		return release.URL, tagValue{}
	default:
		return "", tagValue{}
	}
}

// repoID finds or creates the canonical repo row for an identity.
func (t *TagChecker) repoID(identity *hosting.Identity, name, url string) (int64, error) {
	id, found, err := hosting.CanonicalID(t.db, identity)
	if err != nil {
		return 0, err
	}

	if found {
		return id, nil
	}

	return t.db.GetOrCreateID("repos", metricdb.Row{
		"server": identity.Server,
		"org":    identity.Org,
		"repo":   identity.Repo,
		"key":    name,
		"url":    url,
	})
}

// recordChangePoint applies the compaction rule: skip when the latest
// row at or before date already holds the value; pull an identical
// future row's date backward instead of duplicating it; else insert.
func (t *TagChecker) recordChangePoint(repoID int64, distro string, value tagValue, date int64) error {
	rows, err := t.db.Query(
		"SELECT id, tag, is_release, date FROM tags WHERE repo_id=? AND distro=? ORDER BY date",
		repoID, distro,
	)
	if err != nil {
		return err
	}

	var previous, next metricdb.Row

	for _, row := range rows {
		rowDate, _ := row["date"].(int64)
		if rowDate <= date {
			previous = row
		} else if next == nil {
			next = row
		}
	}

	if previous != nil && sameTagValue(previous, value) {
		return nil
	}

	if next != nil && sameTagValue(next, value) {
		return t.db.Execute("UPDATE tags SET date=? WHERE id=?", date, next["id"])
	}

	id, err := t.db.NextID("tags")
	if err != nil {
		return err
	}

	insertErr := t.db.Insert("tags", metricdb.Row{
		"id":         id,
		"repo_id":    repoID,
		"distro":     distro,
		"tag":        value.Tag,
		"is_release": value.IsRelease,
		"date":       date,
	})
	if insertErr != nil {
		return fmt.Errorf("insert tag row: %w", insertErr)
	}

	return nil
}

// sameTagValue compares a stored tags row against an effective value,
// treating sqlite's integer booleans and nulls as equivalent forms.
func sameTagValue(row metricdb.Row, value tagValue) bool {
	if !equalNullable(row["tag"], value.Tag) {
		return false
	}

	return equalBoolish(row["is_release"], value.IsRelease)
}

func equalNullable(stored, effective any) bool {
	if stored == nil || effective == nil {
		return stored == nil && effective == nil
	}

	return fmt.Sprint(stored) == fmt.Sprint(effective)
}

func equalBoolish(stored, effective any) bool {
	if stored == nil || effective == nil {
		return stored == nil && effective == nil
	}

	storedBool := toBool(stored)
	effectiveBool := toBool(effective)

	return storedBool == effectiveBool
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
