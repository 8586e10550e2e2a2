package gitlib

import (
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrNotExist is returned when a snapshot path does not exist at that commit.
var ErrNotExist = errors.New("path does not exist at commit")

// SnapshotEntry is one directory entry in a tree snapshot.
type SnapshotEntry struct {
	Name  string
	IsDir bool
}

// Snapshot reads files and directories as they existed at one commit.
type Snapshot struct {
	repo *Repository
	tree *git2go.Tree
}

// SnapshotAt returns a reader over the tree of the given commit.
func (r *Repository) SnapshotAt(hash string) (*Snapshot, error) {
	tree, err := r.commitTree(hash)
	if err != nil {
		return nil, err
	}

	return &Snapshot{repo: r, tree: tree}, nil
}

// Free releases the snapshot's tree.
func (s *Snapshot) Free() {
	if s.tree != nil {
		s.tree.Free()
		s.tree = nil
	}
}

// Read returns the contents of the file at path, or ErrNotExist.
func (s *Snapshot) Read(path string) ([]byte, error) {
	entry, err := s.tree.EntryByPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}

	if entry.Type != git2go.ObjectBlob {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotExist, path)
	}

	return s.repo.blobContents(entry.Id)
}

// List returns the entries of the directory at path; the empty path lists
// the snapshot root.
func (s *Snapshot) List(path string) ([]SnapshotEntry, error) {
	tree := s.tree

	if path != "" {
		entry, err := s.tree.EntryByPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}

		if entry.Type != git2go.ObjectTree {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrNotExist, path)
		}

		subtree, lookupErr := s.repo.repo.LookupTree(entry.Id)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup tree: %w", lookupErr)
		}
		defer subtree.Free()

		tree = subtree
	}

	count := tree.EntryCount()
	entries := make([]SnapshotEntry, 0, count)

	for i := uint64(0); i < count; i++ {
		entry := tree.EntryByIndex(i)
		if entry == nil {
			continue
		}

		entries = append(entries, SnapshotEntry{
			Name:  entry.Name,
			IsDir: entry.Type == git2go.ObjectTree,
		})
	}

	return entries, nil
}
