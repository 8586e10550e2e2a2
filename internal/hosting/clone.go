package hosting

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCloneUnclassified marks a clone failure that matches no known reason.
// Callers abort the run on it rather than persisting a misleading status.
var ErrCloneUnclassified = errors.New("unclassified clone failure")

// CloneFailure is a clone outcome mapped to a repo status value.
type CloneFailure struct {
	Status string
	cause  error
}

// Error implements the error interface.
func (f *CloneFailure) Error() string {
	return fmt.Sprintf("clone failed (%s): %v", f.Status, f.cause)
}

// Unwrap returns the underlying clone error.
func (f *CloneFailure) Unwrap() error {
	return f.cause
}

// cloneMessages maps distinctive substrings of clone error output to the
// status they imply. Checked in order.
var cloneMessages = []struct {
	status  string
	message string
}{
	{StatusMercurial, "Mercurial (hg) is required"},
	{StatusNoAccess, "HTTP Basic: Access denied"},
	{StatusNoAccess, "Permission denied"},
	{StatusNoAccess, "Connection refused"},
	{StatusMissing, "not found"},
}

// ClassifyCloneFailure maps a failed clone onto one of the closed set of
// repo statuses. A non-SSH URL is first probed for a plain 404, which
// confirms the repository is gone regardless of what the clone error said.
// Failures matching nothing return ErrCloneUnclassified, which aborts the
// run so the new failure mode gets looked at instead of silently retried
// forever.
func ClassifyCloneFailure(ctx context.Context, resolver *Resolver, url string, cloneErr error) error {
	if cloneErr == nil {
		return nil
	}

	if !strings.HasPrefix(url, "git@") && resolver != nil {
		gone, probeErr := resolver.ProbeNotFound(ctx, url)
		if probeErr == nil && gone {
			return &CloneFailure{Status: StatusMissing, cause: cloneErr}
		}
	}

	text := cloneErr.Error()

	for _, entry := range cloneMessages {
		if strings.Contains(text, entry.message) {
			return &CloneFailure{Status: entry.status, cause: cloneErr}
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrCloneUnclassified, url, cloneErr)
}
