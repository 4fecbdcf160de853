// Package config loads the pak CLI configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/meigma/pak/compression"
)

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheDisk   = "disk"
)

// Mount kinds.
const (
	KindPak    = "pak"
	KindStargz = "stargz"
)

// Defaults applied by Default and Load.
const (
	DefaultMaxBlocks          = 4096
	DefaultBlockSize          = "64KiB"
	DefaultDiskMaxBytes       = "1GiB"
	DefaultManifestCacheSize  = 256
	DefaultPreloadConcurrency = 8
	DefaultLogLevel           = "info"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration.
type Config struct {
	LooseRoot          string  `yaml:"loose_root"`
	DefaultPolicy      string  `yaml:"default_policy"`
	LogLevel           string  `yaml:"log_level"`
	ManifestCacheSize  int     `yaml:"manifest_cache_size"`
	PreloadConcurrency int     `yaml:"preload_concurrency"`
	Cache              Cache   `yaml:"cache"`
	Patches            Patches `yaml:"patches"`
	S3                 S3      `yaml:"s3"`
	Mounts             []Mount `yaml:"mounts"`
}

// Cache configures the block cache placed in front of mounted sources.
type Cache struct {
	Kind      string `yaml:"kind"`
	MaxBlocks int    `yaml:"max_blocks"`
	BlockSize string `yaml:"block_size"`
	Dir       string `yaml:"dir"`
	MaxBytes  string `yaml:"max_bytes"`
}

// Patches configures the XML data patcher.
type Patches struct {
	File    string `yaml:"file"`
	Enabled *bool  `yaml:"enabled"`
	DumpDir string `yaml:"dump_dir"`
}

// S3 holds connection settings shared by s3 mounts.
type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// Mount describes one archive to mount. Its source is a local Path, an
// HTTP URL, or an S3 Bucket and Key; exactly one must be set.
type Mount struct {
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
	Policy string `yaml:"policy"`
	Shared bool   `yaml:"shared"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen config path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML data, applies defaults, and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ManifestCacheSize == 0 {
		c.ManifestCacheSize = DefaultManifestCacheSize
	}
	if c.PreloadConcurrency == 0 {
		c.PreloadConcurrency = DefaultPreloadConcurrency
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = CacheMemory
	}
	if c.Cache.MaxBlocks == 0 {
		c.Cache.MaxBlocks = DefaultMaxBlocks
	}
	if c.Cache.BlockSize == "" {
		c.Cache.BlockSize = DefaultBlockSize
	}
	if c.Cache.MaxBytes == "" {
		c.Cache.MaxBytes = DefaultDiskMaxBytes
	}
	for i := range c.Mounts {
		if c.Mounts[i].Kind == "" {
			c.Mounts[i].Kind = KindPak
		}
	}
}

// Validate checks field values and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := c.Level(); err != nil {
		bad("log_level: %v", err)
	}
	if _, err := compression.ParseConflictResolution(c.DefaultPolicy); err != nil {
		bad("default_policy: %v", err)
	}
	if c.ManifestCacheSize < 0 {
		bad("manifest_cache_size %d must be positive", c.ManifestCacheSize)
	}
	if c.PreloadConcurrency < 0 {
		bad("preload_concurrency %d must be positive", c.PreloadConcurrency)
	}

	switch c.Cache.Kind {
	case CacheNone:
	case CacheMemory:
		if c.Cache.MaxBlocks < 0 {
			bad("cache.max_blocks %d must be positive", c.Cache.MaxBlocks)
		}
	case CacheDisk:
		if c.Cache.Dir == "" {
			bad("cache.dir is required for a disk cache")
		}
	default:
		bad("cache.kind %q", c.Cache.Kind)
	}
	if _, err := c.Cache.BlockSizeBytes(); err != nil {
		bad("cache.block_size: %v", err)
	}
	if _, err := c.Cache.MaxBytesValue(); err != nil {
		bad("cache.max_bytes: %v", err)
	}
	if c.Patches.DumpDir != "" && c.Patches.File == "" {
		bad("patches.dump_dir requires patches.file")
	}

	for i, m := range c.Mounts {
		sources := 0
		for _, set := range []bool{m.Path != "", m.URL != "", m.Bucket != "" || m.Key != ""} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			bad("mounts[%d]: needs exactly one source", i)
		}
		if (m.Bucket == "") != (m.Key == "") {
			bad("mounts[%d]: bucket and key must be set together", i)
		}
		if m.Kind != KindPak && m.Kind != KindStargz {
			bad("mounts[%d]: kind %q", i, m.Kind)
		}
		if _, err := compression.ParseConflictResolution(m.Policy); err != nil {
			bad("mounts[%d]: policy: %v", i, err)
		}
	}
	return errors.Join(errs...)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// Policy returns the parsed default conflict resolution.
func (c *Config) Policy() compression.ConflictResolution {
	p, _ := compression.ParseConflictResolution(c.DefaultPolicy)
	return p
}

// PatchingEnabled reports whether patches apply. It defaults to true.
func (p Patches) PatchingEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// BlockSizeBytes parses BlockSize, such as "64KiB".
func (c Cache) BlockSizeBytes() (int64, error) {
	return parseSize(c.BlockSize)
}

// MaxBytesValue parses MaxBytes, such as "1GiB".
func (c Cache) MaxBytesValue() (int64, error) {
	return parseSize(c.MaxBytes)
}

// ConflictResolution returns the mount's parsed conflict resolution.
func (m Mount) ConflictResolution() compression.ConflictResolution {
	p, _ := compression.ParseConflictResolution(m.Policy)
	return p
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(n), nil
}
