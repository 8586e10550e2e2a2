package rosdistro

import (
	"context"

	"github.com/Sumatoshi-tech/rosmetrics/internal/gitlib"
)

// GitHistory adapts a local working copy of the manifest repository to
// the walker's History interface.
type GitHistory struct {
	repo *gitlib.Repository
}

// NewGitHistory wraps an opened repository.
func NewGitHistory(repo *gitlib.Repository) *GitHistory {
	return &GitHistory{repo: repo}
}

// Commits returns every commit oldest first.
func (g *GitHistory) Commits(_ context.Context) ([]Commit, error) {
	infos, err := g.repo.CommitsOldestFirst()
	if err != nil {
		return nil, err
	}

	commits := make([]Commit, len(infos))
	for i, info := range infos {
		commits[i] = Commit{
			Hash:    info.Hash,
			Author:  info.Author,
			Email:   info.Email,
			Date:    info.Date,
			Parents: info.Parents,
		}
	}

	return commits, nil
}

// Diff returns the file changes between a parent and child commit.
func (g *GitHistory) Diff(_ context.Context, parentHash, childHash string) ([]FileChange, error) {
	diffs, err := g.repo.DiffCommits(parentHash, childHash)
	if err != nil {
		return nil, err
	}

	changes := make([]FileChange, len(diffs))
	for i, diff := range diffs {
		changes[i] = FileChange{Path: diff.Path, Before: diff.Before, After: diff.After}
	}

	return changes, nil
}

// Snapshot returns a reader over the tree at the given commit.
func (g *GitHistory) Snapshot(_ context.Context, hash string) (TreeReader, error) {
	snap, err := g.repo.SnapshotAt(hash)
	if err != nil {
		return nil, err
	}

	return &gitTree{snap: snap}, nil
}

// gitTree narrows a gitlib snapshot to the TreeReader interface.
type gitTree struct {
	snap *gitlib.Snapshot
}

// Free releases the underlying tree.
func (t *gitTree) Free() {
	t.snap.Free()
}

func (t *gitTree) Read(path string) ([]byte, error) {
	return t.snap.Read(path)
}

func (t *gitTree) List(path string) ([]TreeEntry, error) {
	entries, err := t.snap.List(path)
	if err != nil {
		return nil, err
	}

	out := make([]TreeEntry, len(entries))
	for i, entry := range entries {
		out[i] = TreeEntry{Name: entry.Name, IsDir: entry.IsDir}
	}

	return out, nil
}
