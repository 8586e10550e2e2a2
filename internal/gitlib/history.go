package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// CommitInfo is the walker-facing view of one commit.
type CommitInfo struct {
	Hash    string
	Author  string
	Email   string
	Date    int64
	Parents []string
}

// FileChange is one changed file in a commit diff, with full contents on
// both sides. Before is nil for added files, After is nil for deleted ones.
type FileChange struct {
	Path   string
	Before []byte
	After  []byte
}

// CommitsOldestFirst walks every commit reachable from the head and
// returns them in chronological order. This is the order the walker
// assigns sequential ids in.
func (r *Repository) CommitsOldestFirst() ([]CommitInfo, error) {
	headOid, err := r.headOid()
	if err != nil {
		return nil, err
	}

	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}
	defer walk.Free()

	err = walk.Push(headOid)
	if err != nil {
		return nil, fmt.Errorf("push head to revwalk: %w", err)
	}

	walk.Sorting(git2go.SortTime | git2go.SortReverse)

	var commits []CommitInfo

	for {
		oid := new(git2go.Oid)

		nextErr := walk.Next(oid)
		if nextErr != nil {
			if git2go.IsErrorCode(nextErr, git2go.ErrorCodeIterOver) {
				break
			}

			return nil, fmt.Errorf("revwalk next: %w", nextErr)
		}

		commit, lookupErr := r.repo.LookupCommit(oid)
		if lookupErr != nil {
			continue
		}

		commits = append(commits, commitInfo(commit))
		commit.Free()
	}

	return commits, nil
}

// commitInfo flattens a libgit2 commit into a CommitInfo.
func commitInfo(commit *git2go.Commit) CommitInfo {
	author := commit.Author()
	parents := make([]string, commit.ParentCount())

	for i := range parents {
		parents[i] = commit.ParentId(uint(i)).String()
	}

	return CommitInfo{
		Hash:    commit.Id().String(),
		Author:  author.Name,
		Email:   author.Email,
		Date:    author.When.Unix(),
		Parents: parents,
	}
}

// DiffCommits diffs a commit against its parent file by file and returns
// the changed paths with full before/after blob contents.
func (r *Repository) DiffCommits(parentHash, childHash string) ([]FileChange, error) {
	parentTree, err := r.commitTree(parentHash)
	if err != nil {
		return nil, err
	}
	defer parentTree.Free()

	childTree, err := r.commitTree(childHash)
	if err != nil {
		return nil, err
	}
	defer childTree.Free()

	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	diff, err := r.repo.DiffTreeToTree(parentTree, childTree, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	defer func() {
		_ = diff.Free()
	}()

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return nil, fmt.Errorf("get num deltas: %w", err)
	}

	changes := make([]FileChange, 0, numDeltas)

	for i := 0; i < numDeltas; i++ {
		delta, deltaErr := diff.Delta(i)
		if deltaErr != nil {
			return nil, fmt.Errorf("get delta: %w", deltaErr)
		}

		change := FileChange{Path: delta.NewFile.Path}
		if change.Path == "" {
			change.Path = delta.OldFile.Path
		}

		change.Before, err = r.blobContents(delta.OldFile.Oid)
		if err != nil {
			return nil, err
		}

		change.After, err = r.blobContents(delta.NewFile.Oid)
		if err != nil {
			return nil, err
		}

		changes = append(changes, change)
	}

	return changes, nil
}

// commitTree returns the tree of the commit with the given hash.
func (r *Repository) commitTree(hash string) (*git2go.Tree, error) {
	oid, err := git2go.NewOid(hash)
	if err != nil {
		return nil, fmt.Errorf("parse hash %s: %w", hash, err)
	}

	commit, err := r.repo.LookupCommit(oid)
	if err != nil {
		return nil, fmt.Errorf("lookup commit %s: %w", hash, err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}

	return tree, nil
}

// blobContents reads full blob contents, returning nil for the zero oid
// (the absent side of an add or delete).
func (r *Repository) blobContents(oid *git2go.Oid) ([]byte, error) {
	if oid == nil || oid.IsZero() {
		return nil, nil
	}

	blob, err := r.repo.LookupBlob(oid)
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}
	defer blob.Free()

	contents := blob.Contents()
	copied := make([]byte, len(contents))
	copy(copied, contents)

	return copied, nil
}
