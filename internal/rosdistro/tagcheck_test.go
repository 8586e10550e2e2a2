package rosdistro_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// fakeResolver maps release URLs straight to source URLs.
type fakeResolver struct {
	urls map[string]string
}

func (f *fakeResolver) SourceURL(_ context.Context, _, releaseURL string) (string, error) {
	resolved, ok := f.urls[releaseURL]
	if !ok {
		return "", fmt.Errorf("no tracks entry for %s", releaseURL)
	}

	return resolved, nil
}

func sourceSnapshot(distro, name, url, version string) rosdistro.DistroSnapshot {
	return rosdistro.DistroSnapshot{
		distro: {
			name: {
				"source": {URL: url, Version: version},
			},
		},
	}
}

func tagRows(t *testing.T, db *metricdb.DB) []metricdb.Row {
	t.Helper()

	rows, err := db.Query("SELECT repo_id, distro, tag, is_release, date FROM tags ORDER BY date")
	require.NoError(t, err)

	return rows
}

func TestTagCheckRecordsFirstValue(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "melodic-devel")

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)

	assert.Equal(t, "melodic", rows[0]["distro"])
	assert.Equal(t, "melodic-devel", rows[0]["tag"])
	assert.Equal(t, int64(0), rows[0]["is_release"])
	assert.Equal(t, int64(1000), rows[0]["date"])
}

func TestTagCheckSkipsUnchangedValue(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "melodic-devel")

	require.NoError(t, checker.Check(context.Background(), snap, 1000))
	require.NoError(t, checker.Check(context.Background(), snap, 2000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1000), rows[0]["date"])
}

func TestTagCheckInsertsOnChange(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	before := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "melodic-devel")
	after := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "master")

	require.NoError(t, checker.Check(context.Background(), before, 1000))
	require.NoError(t, checker.Check(context.Background(), after, 2000))

	rows := tagRows(t, db)
	require.Len(t, rows, 2)
	assert.Equal(t, "melodic-devel", rows[0]["tag"])
	assert.Equal(t, "master", rows[1]["tag"])
}

func TestTagCheckPullsMatchingFutureRowBackward(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "melodic-devel")

	// Checkpoints can run out of order when a walk resumes; an identical
	// future row moves backward instead of duplicating.
	require.NoError(t, checker.Check(context.Background(), snap, 3000))
	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1000), rows[0]["date"])
}

func TestTagCheckReleaseVersionWins(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := rosdistro.DistroSnapshot{
		"melodic": {
			"nav": {
				"release": {URL: "https://github.com/ros-gbp/nav-release.git", Version: "1.2.3-0"},
				"source":  {URL: "https://github.com/ros/nav.git", Version: "melodic-devel"},
			},
		},
	}

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, "1.2.3-0", rows[0]["tag"])
	assert.Equal(t, int64(1), rows[0]["is_release"])
}

func TestTagCheckDefaultSentinel(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "")

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, "default", rows[0]["tag"])
	assert.Nil(t, rows[0]["is_release"])
}

func TestTagCheckUnresolvableReleaseKeepsIdentity(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := rosdistro.DistroSnapshot{
		"melodic": {
			"nav": {
				"release": {URL: "https://github.com/ros-gbp/nav-release.git", Version: "1.2.3-0"},
			},
		},
	}

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	// The release repo is recorded under its own identity, but the
	// version cannot be pinned without the tracks descriptor.
	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["tag"])
	assert.Nil(t, rows[0]["is_release"])

	repo, err := db.Lookup("repo", "repos", "WHERE id=0")
	require.NoError(t, err)
	assert.Equal(t, "nav-release", repo)
}

func TestTagCheckResolvesThroughTracks(t *testing.T) {
	db := newTestStore(t)

	resolver := &fakeResolver{urls: map[string]string{
		"https://github.com/ros-gbp/nav-release.git": "https://github.com/ros/nav.git",
	}}
	checker := rosdistro.NewTagChecker(db, resolver, nil)

	snap := rosdistro.DistroSnapshot{
		"melodic": {
			"nav": {
				"release": {URL: "https://github.com/ros-gbp/nav-release.git", Version: "1.2.3-0"},
			},
		},
	}

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	rows := tagRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, "1.2.3-0", rows[0]["tag"])

	// The identity comes from the resolved source URL, not the release
	// repo.
	repo, err := db.Lookup("repo", "repos", "WHERE id=0")
	require.NoError(t, err)
	assert.Equal(t, "nav", repo)
}

func TestTagCheckAssignsIDsInDistroOrder(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	snap := rosdistro.DistroSnapshot{
		"melodic": {
			"nav": {"source": {URL: "https://github.com/ros/nav.git", Version: "melodic-devel"}},
		},
		"foxy": {
			"slam": {"source": {URL: "https://github.com/ros/slam.git", Version: "foxy-devel"}},
		},
	}

	require.NoError(t, checker.Check(context.Background(), snap, 1000))

	// Distros are visited in sorted order, so foxy's repo takes the
	// first id regardless of map iteration order.
	repo, err := db.Lookup("repo", "repos", "WHERE id=0")
	require.NoError(t, err)
	assert.Equal(t, "slam", repo)

	repo, err = db.Lookup("repo", "repos", "WHERE id=1")
	require.NoError(t, err)
	assert.Equal(t, "nav", repo)
}

func TestTagCheckReusesCanonicalIdentity(t *testing.T) {
	db := newTestStore(t)
	checker := rosdistro.NewTagChecker(db, nil, nil)

	melodic := sourceSnapshot("melodic", "nav", "https://github.com/ros/nav.git", "melodic-devel")
	noetic := sourceSnapshot("noetic", "nav", "https://github.com/ros/nav.git", "noetic-devel")

	require.NoError(t, checker.Check(context.Background(), melodic, 1000))
	require.NoError(t, checker.Check(context.Background(), noetic, 2000))

	count, err := db.Count("repos", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows := tagRows(t, db)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0]["repo_id"], rows[1]["repo_id"])
}
