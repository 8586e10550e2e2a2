package repos

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// URLResolver follows permanent redirects to a URL's current home.
type URLResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Remapper re-checks repo URLs for permanent relocations and collapses
// moved identities onto their replacement rows. The old row keeps its id
// so historical foreign keys stay valid; the remap table records the
// old → new supersession.
type Remapper struct {
	db       *metricdb.DB
	resolver URLResolver
	logger   *slog.Logger
}

// NewRemapper wires a remapper over the repos table.
func NewRemapper(db *metricdb.DB, resolver URLResolver, logger *slog.Logger) *Remapper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Remapper{db: db, resolver: resolver, logger: logger.With("component", "remapper")}
}

// MarkRemapped resolves the URL of every active or missing repo and,
// when the URL has permanently moved to a different canonical identity,
// flags the old row as remapped and records its replacement. Resolution
// failures are logged and retried on a later run; a relocated URL that
// matches no host grammar leaves the row untouched.
func (r *Remapper) MarkRemapped(ctx context.Context) error {
	rows, err := r.db.Query(
		"SELECT id, url, key FROM repos WHERE status IS NULL OR status=? ORDER BY id",
		hosting.StatusMissing,
	)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		id, _ := row["id"].(int64)
		url, _ := row["url"].(string)
		key, _ := row["key"].(string)

		resolved, resolveErr := r.resolver.Resolve(ctx, url)
		if resolveErr != nil {
			if errors.Is(resolveErr, context.Canceled) || errors.Is(resolveErr, context.DeadlineExceeded) {
				return resolveErr
			}

			r.logger.Warn("resolve failed", "url", url, "error", resolveErr)

			continue
		}

		if resolved == url {
			continue
		}

		identity := hosting.MatchHost(resolved)
		if identity == nil {
			r.logger.Debug("relocated url matches no host grammar", "url", url, "resolved", resolved)

			continue
		}

		newID, idErr := r.targetID(identity, key, resolved)
		if idErr != nil {
			return idErr
		}

		// A scheme or suffix change that resolves back to the same
		// canonical row is not a relocation.
		if newID == id {
			continue
		}

		insertErr := r.db.Insert("remap", metricdb.Row{"old_id": id, "new_id": newID})
		if insertErr != nil {
			return insertErr
		}

		statusErr := r.db.Update("repos", metricdb.Row{"id": id, "status": hosting.StatusRemap})
		if statusErr != nil {
			return statusErr
		}

		r.logger.Info("repo remapped", "url", url, "resolved", resolved, "old_id", id, "new_id", newID)
	}

	return nil
}

// targetID finds or creates the canonical row for a relocated identity.
func (r *Remapper) targetID(identity *hosting.Identity, key, url string) (int64, error) {
	id, found, err := hosting.CanonicalID(r.db, identity)
	if err != nil {
		return 0, err
	}

	if found {
		return id, nil
	}

	return r.db.GetOrCreateID("repos", metricdb.Row{
		"key":    key,
		"url":    url,
		"server": identity.Server,
		"org":    identity.Org,
		"repo":   identity.Repo,
	})
}
