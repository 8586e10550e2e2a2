// Package gitlib wraps libgit2 with the narrow surface the manifest
// walker needs: opening or cloning a working copy, walking its history in
// chronological order, diffing commits file by file with full blob
// contents, and reading tree snapshots at arbitrary commits.
package gitlib

import (
	"fmt"
	"os"

	git2go "github.com/libgit2/git2go/v34"
)

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Clone clones url into path and returns the opened repository.
func Clone(url, path string) (*Repository, error) {
	repo, err := git2go.Clone(url, path, &git2go.CloneOptions{})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// CloneOrOpen opens the repository at path, cloning it first when the
// path does not exist yet.
func CloneOrOpen(url, path string) (*Repository, error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		return OpenRepository(path)
	}

	return Clone(url, path)
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Fetch updates the origin remote. The walk reads from the remote head,
// so a fetch is all an update needs.
func (r *Repository) Fetch() error {
	remote, err := r.repo.Remotes.Lookup("origin")
	if err != nil {
		return fmt.Errorf("lookup origin: %w", err)
	}
	defer remote.Free()

	err = remote.Fetch(nil, nil, "")
	if err != nil {
		return fmt.Errorf("fetch origin: %w", err)
	}

	return nil
}

// headOid returns the commit id the walk starts from: the fetched remote
// head when present, else the local HEAD.
func (r *Repository) headOid() (*git2go.Oid, error) {
	remoteHead, err := r.repo.References.Lookup("refs/remotes/origin/HEAD")
	if err == nil {
		defer remoteHead.Free()

		resolved, resolveErr := remoteHead.Resolve()
		if resolveErr == nil {
			defer resolved.Free()

			return resolved.Target(), nil
		}
	}

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("get HEAD: %w", err)
	}
	defer head.Free()

	return head.Target(), nil
}

// Native returns the underlying libgit2 repository for advanced operations.
func (r *Repository) Native() *git2go.Repository {
	return r.repo
}
