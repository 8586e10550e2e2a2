// Package version carries build identification stamped in via ldflags.
package version

var (
	// Version is the release version of the binary.
	Version = "dev"
	// Commit is the git hash the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)
