package rosdistro

import (
	"context"
	"errors"
	"log/slog"

	"gopkg.in/cheggaaa/pb.v1"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// Default sampling strides and the dense-sampling window. The window
// covers the stretch of history where one distribution family briefly
// lived on a side lineage, so the coarse stride would miss its counts.
const (
	DefaultSampleStride = 100
	DefaultTagStride    = 1000

	denseWindowStart int64 = 1485907200 // 2017-02-01
	denseWindowEnd   int64 = 1512864000 // 2017-12-10
)

// Options tunes a walk. Zero values fall back to the defaults above.
type Options struct {
	SampleStride int
	TagStride    int
	DenseStart   int64
	DenseEnd     int64
	ShowProgress bool
}

func (o Options) withDefaults() Options {
	if o.SampleStride <= 0 {
		o.SampleStride = DefaultSampleStride
	}

	if o.TagStride <= 0 {
		o.TagStride = DefaultTagStride
	}

	if o.DenseStart == 0 && o.DenseEnd == 0 {
		o.DenseStart = denseWindowStart
		o.DenseEnd = denseWindowEnd
	}

	return o
}

// Summary reports what one walk did.
type Summary struct {
	Commits         int
	AlreadyDone     int
	NewlyClassified int
	RepoCounts      int
	TagChecks       int
}

// Walker drives the chronological classification walk: every commit gets
// a metadata row and, when classifiable, an atomic set of change rows;
// sampled commits additionally get repo-count and tag checkpoints. Each
// of the three concerns resumes independently from what is already in
// the store.
type Walker struct {
	db         *metricdb.DB
	history    History
	classifier *Classifier
	distros    *DistroIndex
	tags       *TagChecker
	opts       Options
	logger     *slog.Logger
}

// NewWalker wires a walker. The tag checker may be nil to skip tag
// checkpoints entirely.
func NewWalker(db *metricdb.DB, history History, distros *DistroIndex, tags *TagChecker, opts Options, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Walker{
		db:         db,
		history:    history,
		classifier: NewClassifier(distros),
		distros:    distros,
		tags:       tags,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "walker"),
	}
}

// Walk runs the full pass. Cancellation is honored between commits; the
// store is left consistent and a later walk resumes where this one
// stopped.
func (w *Walker) Walk(ctx context.Context) (Summary, error) {
	var summary Summary

	commits, err := w.history.Commits(ctx)
	if err != nil {
		return summary, err
	}

	summary.Commits = len(commits)

	classified, err := w.doneSet("changes")
	if err != nil {
		return summary, err
	}

	counted, err := w.doneSet("repo_count")
	if err != nil {
		return summary, err
	}

	tagged, err := w.doneSet("tag_checks")
	if err != nil {
		return summary, err
	}

	byHash := make(map[string]Commit, len(commits))
	for _, commit := range commits {
		byHash[commit.Hash] = commit
	}

	var bar *pb.ProgressBar
	if w.opts.ShowProgress {
		bar = pb.New(len(commits)).Start()
		defer bar.Finish()
	}

	mainPath := make(map[string]struct{}, len(commits))

	for i, commit := range commits {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		id := int64(i)
		mainPath[commit.Hash] = struct{}{}

		if bar != nil {
			bar.Increment()
		}

		if _, done := classified[id]; done {
			summary.AlreadyDone++
		} else {
			classifyErr := w.classifyAndStore(ctx, mainPath, byHash, commit, id, &summary)
			if classifyErr != nil {
				return summary, classifyErr
			}
		}

		_, hasCount := counted[id]
		if !hasCount && w.shouldCountRepos(id, commit.Date) {
			countErr := w.countRepos(ctx, commit, id)
			if countErr != nil {
				// A hole in the sampled series is recoverable; the next
				// walk retries this commit id.
				w.logger.Warn("repo count failed", "commit", commit.Hash, "error", countErr)
			} else {
				summary.RepoCounts++
			}
		}

		_, hasTags := tagged[id]
		if w.tags != nil && !hasTags && id%int64(w.opts.TagStride) == 0 {
			tagErr := w.checkTags(ctx, commit, id)
			if tagErr != nil {
				if errors.Is(tagErr, context.Canceled) || errors.Is(tagErr, context.DeadlineExceeded) {
					return summary, tagErr
				}

				w.logger.Warn("tag check failed", "commit", commit.Hash, "error", tagErr)
			} else {
				summary.TagChecks++
			}
		}
	}

	return summary, nil
}

// doneSet loads the commit ids a concern has already covered.
func (w *Walker) doneSet(table string) (map[int64]struct{}, error) {
	ids, err := w.db.LookupInts("commit_id", table, "")
	if err != nil {
		return nil, err
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set, nil
}

// classifyAndStore classifies one commit and lands its metadata and
// change set as a single transaction.
func (w *Walker) classifyAndStore(ctx context.Context, mainPath map[string]struct{}, byHash map[string]Commit, commit Commit, id int64, summary *Summary) error {
	row, changes, complete := w.classifyCommit(ctx, mainPath, byHash, commit, id)

	err := w.db.Transaction(func() error {
		updateErr := w.db.Update("commits", row)
		if updateErr != nil {
			return updateErr
		}

		if !complete {
			return nil
		}

		for _, change := range changes {
			insertErr := w.db.Insert("changes", change)
			if insertErr != nil {
				return insertErr
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if complete && len(changes) > 0 {
		summary.NewlyClassified++
	}

	return nil
}

// classifyCommit turns one commit into its metadata row and change rows.
// The returned bool reports whether the change set is complete; an
// incomplete commit stores metadata only and is retried on later walks.
func (w *Walker) classifyCommit(ctx context.Context, mainPath map[string]struct{}, byHash map[string]Commit, commit Commit, id int64) (metricdb.Row, []metricdb.Row, bool) {
	row := metricdb.Row{
		"id":     id,
		"hash":   commit.Hash,
		"date":   commit.Date,
		"author": commit.Author,
		"email":  commit.Email,
	}

	// The root commit has nothing to diff against.
	if len(commit.Parents) == 0 {
		return row, nil, false
	}

	if len(commit.Parents) > 1 {
		var unseen []string

		for _, parent := range commit.Parents {
			if _, ok := mainPath[parent]; !ok {
				unseen = append(unseen, parent)
			}
		}

		switch len(unseen) {
		case 0:
			merge := metricdb.Row{"commit_id": id, "change_index": 0, "verb": VerbMerge}

			return row, []metricdb.Row{merge}, true
		case 1:
			// A merge that brings in exactly one off-lineage commit whose
			// own parent is on the lineage: classify that commit instead,
			// attributing the work to its real author.
			parent, known := byHash[unseen[0]]
			if !known || len(parent.Parents) != 1 {
				return row, nil, false
			}

			if _, ok := mainPath[parent.Parents[0]]; !ok {
				return row, nil, false
			}

			commit = parent
			row["author"] = commit.Author
			row["email"] = commit.Email
		default:
			return row, nil, false
		}
	}

	files, err := w.history.Diff(ctx, commit.Parents[0], commit.Hash)
	if err != nil {
		w.logger.Warn("diff failed", "commit", commit.Hash, "error", err)

		return row, nil, false
	}

	complete := true
	seen := make(map[Triple]struct{})

	var changes []metricdb.Row

	for _, file := range files {
		result, classifyErr := w.classifier.ClassifyFile(file)

		if classifyErr != nil {
			if errors.Is(classifyErr, ErrManifestParse) {
				changes = append(changes, metricdb.Row{
					"commit_id":    id,
					"change_index": len(changes),
					"noun":         NounError,
				})

				continue
			}

			w.logger.Warn("classification failed", "path", file.Path, "error", classifyErr)

			complete = false

			continue
		}

		if result.Unknown {
			complete = false
		}

		for _, triple := range result.Triples {
			if _, dup := seen[triple]; dup {
				continue
			}

			seen[triple] = struct{}{}

			change := metricdb.Row{
				"commit_id":    id,
				"change_index": len(changes),
				"verb":         triple.Verb,
				"noun":         triple.Noun,
			}

			if triple.Detail != "" {
				change["detail"] = triple.Detail
			}

			changes = append(changes, change)
		}
	}

	return row, changes, complete
}

// freeTree releases tree readers backed by native resources.
func freeTree(tree TreeReader) {
	if freer, ok := tree.(interface{ Free() }); ok {
		freer.Free()
	}
}

// shouldCountRepos applies the sampling rule: every Nth commit, plus
// every commit inside the dense window.
func (w *Walker) shouldCountRepos(id, date int64) bool {
	if id%int64(w.opts.SampleStride) == 0 {
		return true
	}

	return date >= w.opts.DenseStart && date <= w.opts.DenseEnd
}

// countRepos reconstructs the snapshot at one commit and records its
// repo-count checkpoint.
func (w *Walker) countRepos(ctx context.Context, commit Commit, id int64) error {
	tree, err := w.history.Snapshot(ctx, commit.Hash)
	if err != nil {
		return err
	}
	defer freeTree(tree)

	snap, err := ReconstructSnapshot(tree, w.distros)
	if err != nil {
		return err
	}

	return writeRepoCounts(w.db, snap, id, w.distros)
}

// checkTags runs one tag checkpoint and marks the commit id done.
func (w *Walker) checkTags(ctx context.Context, commit Commit, id int64) error {
	tree, err := w.history.Snapshot(ctx, commit.Hash)
	if err != nil {
		return err
	}
	defer freeTree(tree)

	snap, err := ReconstructSnapshot(tree, w.distros)
	if err != nil {
		return err
	}

	checkErr := w.tags.Check(ctx, snap, commit.Date)
	if checkErr != nil {
		return checkErr
	}

	return w.db.Insert("tag_checks", metricdb.Row{"commit_id": id})
}
