package rosdistro_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

const testSchema = `
tables:
  commits: [id, hash, date, author, email]
  changes: [commit_id, change_index, verb, noun, detail]
  repo_count: [commit_id, distro, count]
  repos: [id, key, url, server, org, repo, status]
  tags: [id, repo_id, distro, tag, is_release, date]
  tag_checks: [commit_id]
special_types:
  id: integer
  commit_id: integer
  change_index: integer
  date: integer
  count: integer
  repo_id: integer
  is_release: integer
`

func newTestStore(t *testing.T) *metricdb.DB {
	t.Helper()

	schema, err := metricdb.ParseSchema([]byte(testSchema))
	require.NoError(t, err)

	db, err := metricdb.OpenWithSchema(filepath.Join(t.TempDir(), "rosdistro.db"), "rosdistro", schema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

// fakeTree serves file contents from a flat path → content map and
// derives directory listings from the paths.
type fakeTree struct {
	files map[string]string
}

func (f *fakeTree) Read(path string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such path %s", path)
	}

	return []byte(content), nil
}

func (f *fakeTree) List(dir string) ([]rosdistro.TreeEntry, error) {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	seen := make(map[string]bool)

	var entries []rosdistro.TreeEntry

	for path := range f.files {
		if prefix != "" && len(path) <= len(prefix) {
			continue
		}

		if prefix != "" && path[:len(prefix)] != prefix {
			continue
		}

		rest := path[len(prefix):]

		name := rest
		isDir := false

		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				name = rest[:i]
				isDir = true

				break
			}
		}

		if seen[name] {
			continue
		}

		seen[name] = true
		entries = append(entries, rosdistro.TreeEntry{Name: name, IsDir: isDir})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// fakeHistory serves a scripted commit list, diffs and snapshots.
type fakeHistory struct {
	commits []rosdistro.Commit
	diffs   map[string][]rosdistro.FileChange
	trees   map[string]*fakeTree
}

func diffKey(parent, child string) string {
	return parent + ".." + child
}

func (f *fakeHistory) Commits(_ context.Context) ([]rosdistro.Commit, error) {
	return f.commits, nil
}

func (f *fakeHistory) Diff(_ context.Context, parent, child string) ([]rosdistro.FileChange, error) {
	changes, ok := f.diffs[diffKey(parent, child)]
	if !ok {
		return nil, fmt.Errorf("no diff for %s..%s", parent, child)
	}

	return changes, nil
}

func (f *fakeHistory) Snapshot(_ context.Context, hash string) (rosdistro.TreeReader, error) {
	tree, ok := f.trees[hash]
	if !ok {
		return &fakeTree{}, nil
	}

	return tree, nil
}

const (
	manifestV1 = "repositories:\n  nav:\n    release:\n      version: 1.0.0-0\n"
	manifestV2 = "repositories:\n  nav:\n    release:\n      version: 1.0.1-0\n"
)

// fiveCommitHistory builds a small manifest history: root, channel
// creation, a patch bump, a merge, and a readme touch.
func fiveCommitHistory() *fakeHistory {
	commits := []rosdistro.Commit{
		{Hash: "c0", Author: "alice", Email: "alice@example.com", Date: 1000},
		{Hash: "c1", Author: "alice", Email: "alice@example.com", Date: 2000, Parents: []string{"c0"}},
		{Hash: "c2", Author: "bob", Email: "bob@example.com", Date: 3000, Parents: []string{"c1"}},
		{Hash: "c3", Author: "carol", Email: "carol@example.com", Date: 4000, Parents: []string{"c2", "c1"}},
		{Hash: "c4", Author: "bob", Email: "bob@example.com", Date: 5000, Parents: []string{"c3"}},
	}

	diffs := map[string][]rosdistro.FileChange{
		diffKey("c0", "c1"): {{Path: "melodic/distribution.yaml", After: []byte(manifestV1)}},
		diffKey("c1", "c2"): {{Path: "melodic/distribution.yaml", Before: []byte(manifestV1), After: []byte(manifestV2)}},
		diffKey("c3", "c4"): {{Path: "README.md", Before: []byte("a"), After: []byte("b")}},
	}

	trees := map[string]*fakeTree{
		"c0": {},
		"c4": {files: map[string]string{"melodic/distribution.yaml": manifestV2}},
	}

	return &fakeHistory{commits: commits, diffs: diffs, trees: trees}
}

func walkOptions() rosdistro.Options {
	// A dense window outside the test dates keeps sampling on the stride.
	return rosdistro.Options{SampleStride: 100, TagStride: 1000, DenseStart: 1, DenseEnd: 2}
}

func TestWalkFiveCommits(t *testing.T) {
	db := newTestStore(t)
	history := fiveCommitHistory()

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	summary, err := walker.Walk(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Commits)
	assert.Equal(t, 0, summary.AlreadyDone)
	assert.Equal(t, 4, summary.NewlyClassified)

	commitCount, err := db.Count("commits", "")
	require.NoError(t, err)
	assert.Equal(t, 5, commitCount)

	rows, err := db.Query("SELECT commit_id, change_index, verb, noun, detail FROM changes ORDER BY commit_id, change_index")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, int64(1), rows[0]["commit_id"])
	assert.Equal(t, rosdistro.VerbAdd, rows[0]["verb"])
	assert.Equal(t, rosdistro.NounRosdistro, rows[0]["noun"])
	assert.Equal(t, "melodic", rows[0]["detail"])

	assert.Equal(t, int64(2), rows[1]["commit_id"])
	assert.Equal(t, rosdistro.VerbBump, rows[1]["verb"])
	assert.Equal(t, "patch", rows[1]["noun"])

	assert.Equal(t, int64(3), rows[2]["commit_id"])
	assert.Equal(t, rosdistro.VerbMerge, rows[2]["verb"])

	assert.Equal(t, int64(4), rows[3]["commit_id"])
	assert.Equal(t, rosdistro.NounMisc, rows[3]["noun"])
	assert.Nil(t, rows[3]["detail"])
}

func TestWalkAssignsMonotonicIDs(t *testing.T) {
	db := newTestStore(t)

	walker := rosdistro.NewWalker(db, fiveCommitHistory(), rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	rows, err := db.Query("SELECT id, date FROM commits ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 5)

	for i, row := range rows {
		assert.Equal(t, int64(i), row["id"])

		if i > 0 {
			prev, _ := rows[i-1]["date"].(int64)
			current, _ := row["date"].(int64)
			assert.GreaterOrEqual(t, current, prev)
		}
	}
}

func TestWalkIsIdempotent(t *testing.T) {
	db := newTestStore(t)
	history := fiveCommitHistory()

	first := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := first.Walk(context.Background())
	require.NoError(t, err)

	before, err := db.Query("SELECT * FROM changes ORDER BY commit_id, change_index")
	require.NoError(t, err)

	beforeCounts, err := db.Query("SELECT * FROM repo_count ORDER BY commit_id, distro")
	require.NoError(t, err)

	second := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	summary, err := second.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NewlyClassified)

	after, err := db.Query("SELECT * FROM changes ORDER BY commit_id, change_index")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	afterCounts, err := db.Query("SELECT * FROM repo_count ORDER BY commit_id, distro")
	require.NoError(t, err)
	assert.Equal(t, beforeCounts, afterCounts)
}

func TestWalkUnknownFileVoidsCommit(t *testing.T) {
	db := newTestStore(t)

	history := &fakeHistory{
		commits: []rosdistro.Commit{
			{Hash: "c0", Date: 1000},
			{Hash: "c1", Date: 2000, Parents: []string{"c0"}},
		},
		diffs: map[string][]rosdistro.FileChange{
			diffKey("c0", "c1"): {
				{Path: "melodic/distribution.yaml", After: []byte(manifestV1)},
				{Path: "mystery/file.yaml", Before: []byte("a: 1\n"), After: []byte("a: 2\n")},
			},
		},
		trees: map[string]*fakeTree{"c0": {}},
	}

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	// Metadata lands, but no partial change set does.
	commitCount, err := db.Count("commits", "")
	require.NoError(t, err)
	assert.Equal(t, 2, commitCount)

	changeCount, err := db.Count("changes", "")
	require.NoError(t, err)
	assert.Equal(t, 0, changeCount)
}

func TestWalkParseErrorRecordsErrorChange(t *testing.T) {
	db := newTestStore(t)

	history := &fakeHistory{
		commits: []rosdistro.Commit{
			{Hash: "c0", Date: 1000},
			{Hash: "c1", Date: 2000, Parents: []string{"c0"}},
		},
		diffs: map[string][]rosdistro.FileChange{
			diffKey("c0", "c1"): {
				{Path: "melodic/distribution.yaml", Before: []byte(manifestV1), After: []byte("repositories: [broken\n")},
			},
		},
		trees: map[string]*fakeTree{"c0": {}},
	}

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	rows, err := db.Query("SELECT verb, noun FROM changes")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, rosdistro.NounError, rows[0]["noun"])
	assert.Nil(t, rows[0]["verb"])
}

func TestWalkWeirdMergeSubstitutesSideCommit(t *testing.T) {
	db := newTestStore(t)

	// The side commit c2 is timestamped after the merge c3, so the walk
	// reaches the merge before its second parent is on the lineage.
	history := &fakeHistory{
		commits: []rosdistro.Commit{
			{Hash: "c0", Date: 1000},
			{Hash: "c1", Date: 2000, Parents: []string{"c0"}},
			{Hash: "c3", Author: "merger", Email: "merger@example.com", Date: 4000, Parents: []string{"c1", "c2"}},
			{Hash: "c2", Author: "dev", Email: "dev@example.com", Date: 4500, Parents: []string{"c1"}},
		},
		diffs: map[string][]rosdistro.FileChange{
			diffKey("c0", "c1"): {{Path: "README.md", After: []byte("a")}},
			diffKey("c1", "c2"): {{Path: "melodic/distribution.yaml", Before: []byte(manifestV1), After: []byte(manifestV2)}},
		},
		trees: map[string]*fakeTree{"c0": {}},
	}

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	// The merge is classified as the side commit's diff, attributed to
	// its real author.
	rows, err := db.Query("SELECT verb, noun FROM changes WHERE commit_id=2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rosdistro.VerbBump, rows[0]["verb"])

	author, err := db.Lookup("author", "commits", "WHERE id=2")
	require.NoError(t, err)
	assert.Equal(t, "dev", author)
}

func TestWalkAddedRepoRaisesCheckpointCount(t *testing.T) {
	db := newTestStore(t)

	manifestTwoRepos := manifestV1 + "  slam:\n    release:\n      version: 2.0.0-1\n"

	history := &fakeHistory{
		commits: []rosdistro.Commit{
			{Hash: "c0", Date: 1000},
			{Hash: "c1", Date: 2000, Parents: []string{"c0"}},
			{Hash: "c2", Date: 3000, Parents: []string{"c1"}},
		},
		diffs: map[string][]rosdistro.FileChange{
			diffKey("c0", "c1"): {{Path: "melodic/distribution.yaml", After: []byte(manifestV1)}},
			diffKey("c1", "c2"): {{Path: "melodic/distribution.yaml", Before: []byte(manifestV1), After: []byte(manifestTwoRepos)}},
		},
		trees: map[string]*fakeTree{
			"c0": {},
			"c1": {files: map[string]string{"melodic/distribution.yaml": manifestV1}},
			"c2": {files: map[string]string{"melodic/distribution.yaml": manifestTwoRepos}},
		},
	}

	// Checkpoint every commit so the counts bracket the addition.
	opts := rosdistro.Options{SampleStride: 1, TagStride: 1000, DenseStart: 1, DenseEnd: 2}
	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, opts, nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	rows, err := db.Query("SELECT verb, noun, detail FROM changes WHERE commit_id=2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rosdistro.VerbAdd, rows[0]["verb"])
	assert.Equal(t, rosdistro.NounPackage, rows[0]["noun"])
	assert.Equal(t, "melodic", rows[0]["detail"])

	before, err := db.DictLookup("distro", "count", "repo_count", "WHERE commit_id=1")
	require.NoError(t, err)

	after, err := db.DictLookup("distro", "count", "repo_count", "WHERE commit_id=2")
	require.NoError(t, err)

	assert.Equal(t, int64(1), before["melodic"])
	assert.Equal(t, int64(2), after["melodic"])
}

func TestWalkRepoCountCheckpoint(t *testing.T) {
	db := newTestStore(t)

	history := &fakeHistory{
		commits: []rosdistro.Commit{{Hash: "c0", Date: 1000}},
		trees: map[string]*fakeTree{
			"c0": {files: map[string]string{
				"melodic/distribution.yaml": manifestV1,
				"foxy/distribution.yaml":    manifestV1,
			}},
		},
	}

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	counts, err := db.DictLookup("distro", "count", "repo_count", "WHERE commit_id=0")
	require.NoError(t, err)

	assert.Equal(t, int64(1), counts["melodic"])
	assert.Equal(t, int64(1), counts["foxy"])
	// A first-generation distro is present, so the union row appears.
	assert.Equal(t, int64(1), counts["all"])
}

func TestWalkRepoCountSkipsUnionWithoutFirstGeneration(t *testing.T) {
	db := newTestStore(t)

	history := &fakeHistory{
		commits: []rosdistro.Commit{{Hash: "c0", Date: 1000}},
		trees: map[string]*fakeTree{
			"c0": {files: map[string]string{
				"foxy/distribution.yaml":   manifestV1,
				"humble/distribution.yaml": manifestV1,
			}},
		},
	}

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(context.Background())
	require.NoError(t, err)

	counts, err := db.DictLookup("distro", "count", "repo_count", "WHERE commit_id=0")
	require.NoError(t, err)

	assert.Equal(t, int64(1), counts["foxy"])
	assert.Equal(t, int64(1), counts["humble"])
	assert.NotContains(t, counts, "all")
}

func TestWalkCancellationLeavesResumableStore(t *testing.T) {
	db := newTestStore(t)
	history := fiveCommitHistory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	walker := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	_, err := walker.Walk(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Nothing landed; a fresh walk completes the whole history.
	resumed := rosdistro.NewWalker(db, history, rosdistro.DefaultDistros(), nil, walkOptions(), nil)

	summary, err := resumed.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.NewlyClassified)
}
