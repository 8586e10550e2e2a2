// Package commands implements the rosmetrics subcommands.
package commands

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/internal/config"
	"github.com/Sumatoshi-tech/rosmetrics/internal/hosting"
	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
	"github.com/Sumatoshi-tech/rosmetrics/internal/repos"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// manifestCacheName is the directory under the cache root holding the
// manifest repository working copy.
const manifestCacheName = "rosdistro"

// reposCacheName is the directory under the cache root holding cloned
// repository working copies.
const reposCacheName = "repos"

// tracksCacheName is the compressed tracks-resolution memo file.
const tracksCacheName = "tracks.lz4"

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.InheritedFlags().GetString("config")
	}

	return config.LoadConfig(path)
}

func openStore(cfg *config.Config) (*metricdb.DB, error) {
	return metricdb.Open(cfg.DataDir, cfg.DBName)
}

func loadDistros(cfg *config.Config) (*rosdistro.DistroIndex, error) {
	if cfg.Manifest.ConstantsPath == "" {
		return rosdistro.DefaultDistros(), nil
	}

	return rosdistro.LoadDistros(cfg.Manifest.ConstantsPath)
}

func manifestPath(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, manifestCacheName)
}

func newResolver(cfg *config.Config) *hosting.Resolver {
	timeout := time.Duration(cfg.Network.ResolveTimeoutSeconds) * time.Second

	return hosting.NewResolver(timeout)
}

func newTracksResolver(cfg *config.Config, logger *slog.Logger) *repos.TracksResolver {
	return repos.NewTracksResolver(
		filepath.Join(cfg.CacheDir, reposCacheName),
		filepath.Join(cfg.CacheDir, tracksCacheName),
		logger,
	)
}
