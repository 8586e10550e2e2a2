package rosdistro

import (
	"fmt"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// allDistrosKey is the sentinel distro name for the union count row.
const allDistrosKey = "all"

// writeRepoCounts replaces the repo_count rows for one sampled commit
// with fresh per-distro counts from the reconstructed snapshot. The
// union row only appears while a first-generation distro is present;
// a second-generation-only snapshot would conflate two independently
// versioned ecosystems.
func writeRepoCounts(db *metricdb.DB, snap DistroSnapshot, commitID int64, distros *DistroIndex) error {
	return db.Transaction(func() error {
		err := db.Execute("DELETE FROM repo_count WHERE commit_id=?", commitID)
		if err != nil {
			return err
		}

		union := make(map[string]struct{})
		hasFirstGen := false

		for distro, repos := range snap {
			if distros.FirstGeneration(distro) {
				hasFirstGen = true
			}

			for name := range repos {
				union[name] = struct{}{}
			}

			insertErr := db.Insert("repo_count", metricdb.Row{
				"commit_id": commitID,
				"distro":    distro,
				"count":     len(repos),
			})
			if insertErr != nil {
				return fmt.Errorf("insert repo count for %s: %w", distro, insertErr)
			}
		}

		if len(union) > 0 && hasFirstGen {
			insertErr := db.Insert("repo_count", metricdb.Row{
				"commit_id": commitID,
				"distro":    allDistrosKey,
				"count":     len(union),
			})
			if insertErr != nil {
				return fmt.Errorf("insert union repo count: %w", insertErr)
			}
		}

		return nil
	})
}
