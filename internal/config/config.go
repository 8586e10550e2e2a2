// Package config loads tool configuration from file, environment and
// defaults.
package config

import "errors"

// Defaults for every knob. The strides match the sampling density the
// stored metrics were built with; changing them on an existing store
// only affects commits not yet sampled.
const (
	DefaultDataDir  = "data"
	DefaultCacheDir = "cache"
	DefaultDBName   = "rosdistro"

	DefaultManifestURL = "https://github.com/ros/rosdistro.git"

	DefaultSampleStride = 100
	DefaultTagStride    = 1000

	DefaultResolveTimeoutSeconds = 3

	DefaultProgress = true
)

// Config is the top-level configuration struct.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	CacheDir string `mapstructure:"cache_dir"`
	DBName   string `mapstructure:"db_name"`

	Manifest ManifestConfig `mapstructure:"manifest"`
	Walk     WalkConfig     `mapstructure:"walk"`
	Network  NetworkConfig  `mapstructure:"network"`
	Progress bool           `mapstructure:"progress"`
}

// ManifestConfig locates the distribution manifest repository and the
// optional constants file overriding the distro rosters.
type ManifestConfig struct {
	URL           string `mapstructure:"url"`
	ConstantsPath string `mapstructure:"constants_path"`
}

// WalkConfig tunes the walker's sampling strides and dense window.
type WalkConfig struct {
	SampleStride int   `mapstructure:"sample_stride"`
	TagStride    int   `mapstructure:"tag_stride"`
	DenseStart   int64 `mapstructure:"dense_start"`
	DenseEnd     int64 `mapstructure:"dense_end"`
	Tags         bool  `mapstructure:"tags"`
}

// NetworkConfig tunes the redirect resolver.
type NetworkConfig struct {
	ResolveTimeoutSeconds int `mapstructure:"resolve_timeout_seconds"`
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}

	if c.CacheDir == "" {
		return errors.New("cache_dir must not be empty")
	}

	if c.DBName == "" {
		return errors.New("db_name must not be empty")
	}

	if c.Walk.SampleStride < 0 || c.Walk.TagStride < 0 {
		return errors.New("sampling strides must not be negative")
	}

	if c.Network.ResolveTimeoutSeconds <= 0 {
		return errors.New("resolve_timeout_seconds must be positive")
	}

	return nil
}
