package repos

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/cheggaaa/pb.v1"

	"github.com/Sumatoshi-tech/rosmetrics/internal/gitlib"
	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// Cloner materializes working copies for every active repo row and
// records clone failures as status flags.
type Cloner struct {
	db        *metricdb.DB
	cacheRoot string
	resolver  *hosting.Resolver
	progress  bool
	logger    *slog.Logger
}

// NewCloner wires a cloner over the repos table.
func NewCloner(db *metricdb.DB, cacheRoot string, resolver *hosting.Resolver, progress bool, logger *slog.Logger) *Cloner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cloner{
		db:        db,
		cacheRoot: cacheRoot,
		resolver:  resolver,
		progress:  progress,
		logger:    logger.With("component", "cloner"),
	}
}

// repoRow is the slice of a repos row the sweeps need.
type repoRow struct {
	ID  int64
	Org string
	URL string
	Key string

	identity hosting.Identity
}

func (c *Cloner) activeRepos() ([]repoRow, error) {
	rows, err := c.db.Query("SELECT id, server, org, repo, url, key FROM repos WHERE status IS NULL ORDER BY id")
	if err != nil {
		return nil, err
	}

	repos := make([]repoRow, 0, len(rows))

	for _, row := range rows {
		id, _ := row["id"].(int64)
		url, _ := row["url"].(string)
		key, _ := row["key"].(string)
		server, _ := row["server"].(string)
		org, _ := row["org"].(string)
		repo, _ := row["repo"].(string)

		repos = append(repos, repoRow{
			ID:       id,
			Org:      org,
			URL:      url,
			Key:      key,
			identity: hosting.Identity{Server: server, Org: org, Repo: repo},
		})
	}

	return repos, nil
}

func (c *Cloner) setStatus(id int64, status string) error {
	return c.db.Update("repos", metricdb.Row{"id": id, "status": status})
}

// CloneAll clones every active repo that has no working copy yet.
// Classifiable clone failures become status flags; an unclassifiable
// failure aborts the sweep so the new failure mode gets looked at.
func (c *Cloner) CloneAll(ctx context.Context) error {
	repos, err := c.activeRepos()
	if err != nil {
		return err
	}

	var toClone []repoRow

	for _, repo := range repos {
		folder := hosting.CacheFolder(c.cacheRoot, &repo.identity)

		_, statErr := os.Stat(folder)
		if statErr != nil {
			toClone = append(toClone, repo)
		}
	}

	if len(toClone) == 0 {
		return nil
	}

	var bar *pb.ProgressBar
	if c.progress {
		bar = pb.New(len(toClone)).Start()
		defer bar.Finish()
	}

	for _, repo := range toClone {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if bar != nil {
			bar.Increment()
		}

		folder := hosting.CacheFolder(c.cacheRoot, &repo.identity)

		cloned, cloneErr := gitlib.Clone(repo.URL, folder)
		if cloneErr == nil {
			cloned.Free()

			continue
		}

		classified := hosting.ClassifyCloneFailure(ctx, c.resolver, repo.URL, cloneErr)

		var failure *hosting.CloneFailure
		if !errors.As(classified, &failure) {
			return classified
		}

		c.logger.Info("clone failed", "url", repo.URL, "status", failure.Status)

		statusErr := c.setStatus(repo.ID, failure.Status)
		if statusErr != nil {
			return statusErr
		}
	}

	return nil
}

// UpdateAll fetches every active repo that already has a working copy.
// Fetch failures are logged and skipped; transient network trouble must
// not poison the status column.
func (c *Cloner) UpdateAll(ctx context.Context) error {
	repos, err := c.activeRepos()
	if err != nil {
		return err
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		folder := hosting.CacheFolder(c.cacheRoot, &repo.identity)

		opened, openErr := gitlib.OpenRepository(folder)
		if openErr != nil {
			continue
		}

		fetchErr := opened.Fetch()
		if fetchErr != nil {
			c.logger.Warn("fetch failed", "url", repo.URL, "error", fetchErr)
		}

		opened.Free()
	}

	return nil
}

// MarkDuplicates flags all but the lowest-id active row sharing a URL.
func (c *Cloner) MarkDuplicates() error {
	repos, err := c.activeRepos()
	if err != nil {
		return err
	}

	byURL := make(map[string][]repoRow)
	for _, repo := range repos {
		byURL[repo.URL] = append(byURL[repo.URL], repo)
	}

	urls := make([]string, 0, len(byURL))
	for url := range byURL {
		urls = append(urls, url)
	}

	sort.Strings(urls)

	for _, url := range urls {
		matches := byURL[url]
		if len(matches) < 2 {
			continue
		}

		sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

		for _, dupe := range matches[1:] {
			statusErr := c.setStatus(dupe.ID, hosting.StatusDupe)
			if statusErr != nil {
				return statusErr
			}
		}
	}

	return nil
}

// MarkNotROS flags cloned repos whose working copy contains no package
// or stack manifest anywhere in its tree.
func (c *Cloner) MarkNotROS() error {
	repos, err := c.activeRepos()
	if err != nil {
		return err
	}

	for _, repo := range repos {
		folder := hosting.CacheFolder(c.cacheRoot, &repo.identity)

		_, statErr := os.Stat(folder)
		if statErr != nil {
			continue
		}

		if containsPackageManifest(folder) {
			continue
		}

		statusErr := c.setStatus(repo.ID, hosting.StatusNotROS)
		if statusErr != nil {
			return statusErr
		}
	}

	return nil
}

// containsPackageManifest reports whether any package.xml or manifest.xml
// exists under root.
func containsPackageManifest(root string) bool {
	found := errors.New("found")

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()
		if name == "package.xml" || name == "manifest.xml" {
			return found
		}

		return nil
	})

	return errors.Is(walkErr, found)
}
