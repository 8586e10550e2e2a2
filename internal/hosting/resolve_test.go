package hosting_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
)

func TestResolveFollowsPermanentRedirects(t *testing.T) {
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old/repo", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/mid/repo", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/mid/repo", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new/repo", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/repo", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resolver := hosting.NewResolver(time.Second)

	resolved, err := resolver.Resolve(context.Background(), server.URL+"/old/repo")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new/repo", resolved)
}

func TestResolveIgnoresTemporaryRedirects(t *testing.T) {
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/repo", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/elsewhere", http.StatusFound)
	})

	resolver := hosting.NewResolver(time.Second)

	resolved, err := resolver.Resolve(context.Background(), server.URL+"/repo")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/repo", resolved)
}

func TestResolveRestoresGitSuffix(t *testing.T) {
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old/repo.git", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new/repo", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/repo", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resolver := hosting.NewResolver(time.Second)

	resolved, err := resolver.Resolve(context.Background(), server.URL+"/old/repo.git")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new/repo.git", resolved)
}

func TestResolvePassesThroughSSHURLs(t *testing.T) {
	resolver := hosting.NewResolver(time.Second)

	resolved, err := resolver.Resolve(context.Background(), "git@github.com:ros/navigation.git")
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:ros/navigation.git", resolved)
}

func TestResolveRejectsRedirectLoops(t *testing.T) {
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/a", http.StatusMovedPermanently)
	})

	resolver := hosting.NewResolver(time.Second)

	_, err := resolver.Resolve(context.Background(), server.URL+"/a")
	assert.ErrorIs(t, err, hosting.ErrTooManyRedirects)
}

func TestProbeNotFound(t *testing.T) {
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/gone", http.NotFound)
	mux.HandleFunc("/alive", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resolver := hosting.NewResolver(time.Second)

	gone, err := resolver.ProbeNotFound(context.Background(), server.URL+"/gone")
	require.NoError(t, err)
	assert.True(t, gone)

	gone, err = resolver.ProbeNotFound(context.Background(), server.URL+"/alive")
	require.NoError(t, err)
	assert.False(t, gone)
}
