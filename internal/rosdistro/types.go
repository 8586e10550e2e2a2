// Package rosdistro walks the commit history of the distribution manifest
// repository, classifies each commit's file-level diffs into semantic
// change records, and reconstructs the repository universe at sampled
// checkpoints for repo counting and version-timeline tracking.
package rosdistro

import "context"

// Change verbs.
const (
	VerbAdd    = "add"
	VerbDel    = "del"
	VerbUpdate = "update"
	VerbBump   = "bump"
	VerbMerge  = "merge"
)

// Change nouns.
const (
	NounDep             = "dep"
	NounRelease         = "release"
	NounSource          = "source"
	NounSrc             = "src"
	NounDoc             = "doc"
	NounPackage         = "package"
	NounMisc            = "misc"
	NounStatus          = "status"
	NounRosdistro       = "rosdistro"
	NounReleasePkgs     = "release_packages"
	NounReleasePlatform = "release_platforms"
	NounError           = "error"
)

// Commit is one commit of the manifest repository's history.
type Commit struct {
	Hash    string
	Author  string
	Email   string
	Date    int64
	Parents []string
}

// FileChange is one changed file in a commit's diff, with full contents
// on both sides. Before is nil for added files, After for deleted ones.
type FileChange struct {
	Path   string
	Before []byte
	After  []byte
}

// TreeEntry is one directory entry in a historical tree snapshot.
type TreeEntry struct {
	Name  string
	IsDir bool
}

// TreeReader reads file contents and directory listings as they existed
// at a single commit.
type TreeReader interface {
	// Read returns the file contents at path, or an error when the path
	// does not exist at that commit.
	Read(path string) ([]byte, error)
	// List returns the entries of the directory at path; the empty path
	// lists the root.
	List(path string) ([]TreeEntry, error)
}

// History is the walker's view of the manifest repository. Content
// retrieval is an external collaborator capability; the walker itself
// never touches the VCS directly.
type History interface {
	// Commits returns every commit reachable from the head, oldest first.
	// This order is the id-assignment order.
	Commits(ctx context.Context) ([]Commit, error)
	// Diff returns the file changes between a parent and child commit.
	Diff(ctx context.Context, parentHash, childHash string) ([]FileChange, error)
	// Snapshot returns a reader over the tree at the given commit.
	Snapshot(ctx context.Context, hash string) (TreeReader, error)
}

// Triple is one (verb, noun, detail) classification. An empty Detail is
// persisted as null.
type Triple struct {
	Verb   string
	Noun   string
	Detail string
}

// FileClassification is the outcome of classifying a single changed file:
// a finite list of triples, possibly flagged Unknown when at least one
// leaf of the diff matched no rule. Unknown voids the owning commit's
// whole change set; the triples are still returned for diagnostics.
type FileClassification struct {
	Triples []Triple
	Unknown bool
}
