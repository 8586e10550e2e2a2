package hosting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxRedirectHops bounds how many 301 responses Resolve will follow; real
// relocation chains are one or two hops, anything deeper is a loop.
const maxRedirectHops = 16

// defaultResolveTimeout is the per-request timeout for redirect resolution.
const defaultResolveTimeout = 3 * time.Second

// Resolution failures the caller tells apart.
var (
	// ErrResolveTimeout marks a connection timeout; retryable on a later run.
	ErrResolveTimeout = errors.New("resolve timed out")
	// ErrTooManyRedirects marks a redirect chain longer than maxRedirectHops.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Resolver follows permanent redirects to find the current home of a URL.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a resolver with the given per-request timeout
// (zero means the default). Redirects are followed manually so that only
// 301 responses move the URL.
func NewResolver(timeout time.Duration) *Resolver {
	if timeout == 0 {
		timeout = defaultResolveTimeout
	}

	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Resolve follows HTTP 301 redirects until a non-301 response and returns
// the final URL. SSH-style URLs are returned unchanged since no redirect
// resolution is possible. A trailing slash or .git suffix present on the
// input is restored if the redirect chain dropped it.
func (r *Resolver) Resolve(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "git@") {
		return url, nil
	}

	current := url

	for hop := 0; hop < maxRedirectHops; hop++ {
		location, redirected, err := r.step(ctx, current)
		if err != nil {
			return "", err
		}

		if !redirected {
			return restoreSuffix(url, current), nil
		}

		current = location
	}

	return "", fmt.Errorf("%w: %s", ErrTooManyRedirects, url)
}

// step performs one request and reports whether a 301 redirect was issued.
func (r *Resolver) step(ctx context.Context, url string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", false, fmt.Errorf("%w: %s", ErrResolveTimeout, url)
		}

		return "", false, fmt.Errorf("resolve %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		return "", false, nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", false, nil
	}

	return location, true, nil
}

// ProbeNotFound checks, without following redirects, whether the URL
// answers 404. Used to confirm a failed clone really targets a repository
// that no longer exists.
func (r *Resolver) ProbeNotFound(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return false, fmt.Errorf("%w: %s", ErrResolveTimeout, url)
		}

		return false, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusNotFound, nil
}

// isTimeout reports whether the request error is a connection timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// restoreSuffix re-applies a trailing slash or .git suffix the redirect
// chain dropped from the original URL.
func restoreSuffix(original, resolved string) string {
	if strings.HasSuffix(original, "/") && !strings.HasSuffix(resolved, "/") {
		return resolved + "/"
	}

	if strings.HasSuffix(original, ".git") && !strings.HasSuffix(resolved, ".git") {
		return resolved + ".git"
	}

	return resolved
}
