package repos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/rosmetrics/internal/gitlib"
	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
)

// ErrNoTrack means the release repository's tracks descriptor has no
// entry for the requested distro.
var ErrNoTrack = errors.New("no track for distro")

// TracksResolver resolves a release-repo URL to the real source URL for
// a distro by cloning the release repo and reading its tracks.yaml.
// Resolutions are memoized in memory and persisted to an lz4-compressed
// cache file, since each miss costs a network clone.
type TracksResolver struct {
	cacheRoot string
	cachePath string
	logger    *slog.Logger

	mu    sync.Mutex
	memo  map[string]map[string]string
	dirty bool
}

// NewTracksResolver loads the resolver's persisted cache if present.
// cacheRoot is where release repos get cloned; cachePath is the
// compressed memo file.
func NewTracksResolver(cacheRoot, cachePath string, logger *slog.Logger) *TracksResolver {
	if logger == nil {
		logger = slog.Default()
	}

	resolver := &TracksResolver{
		cacheRoot: cacheRoot,
		cachePath: cachePath,
		logger:    logger.With("component", "tracks"),
		memo:      make(map[string]map[string]string),
	}

	loadErr := resolver.load()
	if loadErr != nil {
		resolver.logger.Warn("tracks cache unreadable, starting fresh", "path", cachePath, "error", loadErr)
	}

	return resolver
}

// SourceURL returns the source URL the release repository's tracks
// descriptor names for the distro.
func (t *TracksResolver) SourceURL(ctx context.Context, distro, releaseURL string) (string, error) {
	key := strings.ToLower(releaseURL)

	t.mu.Lock()
	cached, ok := t.memo[key][distro]
	t.mu.Unlock()

	if ok {
		if cached == "" {
			return "", fmt.Errorf("%w: %s in %s", ErrNoTrack, distro, releaseURL)
		}

		return cached, nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	tracks, err := t.fetchTracks(releaseURL)
	if err != nil {
		return "", err
	}

	t.mu.Lock()

	if t.memo[key] == nil {
		t.memo[key] = make(map[string]string)
	}

	for trackDistro, url := range tracks {
		t.memo[key][trackDistro] = url
	}

	// A negative entry stops us recloning for a distro the descriptor
	// simply does not cover.
	resolved, covered := tracks[distro]
	if !covered {
		t.memo[key][distro] = ""
	}

	t.dirty = true
	t.mu.Unlock()

	if !covered || resolved == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNoTrack, distro, releaseURL)
	}

	return resolved, nil
}

// fetchTracks clones (or opens) the release repo and parses its
// tracks.yaml into distro → vcs_uri.
func (t *TracksResolver) fetchTracks(releaseURL string) (map[string]string, error) {
	identity := hosting.MatchHost(releaseURL)
	if identity == nil {
		return nil, fmt.Errorf("unrecognized release url %s", releaseURL)
	}

	folder := hosting.CacheFolder(t.cacheRoot, identity)

	repo, err := gitlib.CloneOrOpen(releaseURL, folder)
	if err != nil {
		return nil, fmt.Errorf("clone release repo: %w", err)
	}
	repo.Free()

	raw, err := os.ReadFile(filepath.Join(folder, "tracks.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read tracks descriptor: %w", err)
	}

	var descriptor struct {
		Tracks map[string]struct {
			VcsURI string `yaml:"vcs_uri"`
		} `yaml:"tracks"`
	}

	err = yaml.Unmarshal(raw, &descriptor)
	if err != nil {
		return nil, fmt.Errorf("parse tracks descriptor: %w", err)
	}

	tracks := make(map[string]string, len(descriptor.Tracks))
	for distro, track := range descriptor.Tracks {
		tracks[distro] = strings.ToLower(track.VcsURI)
	}

	return tracks, nil
}

// Save persists the memo when it changed since load.
func (t *TracksResolver) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}

	raw, err := yaml.Marshal(t.memo)
	if err != nil {
		return fmt.Errorf("encode tracks cache: %w", err)
	}

	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)

	_, err = writer.Write(raw)
	if err != nil {
		return fmt.Errorf("compress tracks cache: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("compress tracks cache: %w", err)
	}

	mkdirErr := os.MkdirAll(filepath.Dir(t.cachePath), 0o755)
	if mkdirErr != nil {
		return mkdirErr
	}

	writeErr := os.WriteFile(t.cachePath, buf.Bytes(), 0o644)
	if writeErr != nil {
		return fmt.Errorf("write tracks cache: %w", writeErr)
	}

	t.dirty = false

	return nil
}

// load reads the persisted memo. A missing file is a clean start.
func (t *TracksResolver) load() error {
	raw, err := os.ReadFile(t.cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}

	decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return fmt.Errorf("decompress tracks cache: %w", err)
	}

	return yaml.Unmarshal(decompressed, &t.memo)
}
