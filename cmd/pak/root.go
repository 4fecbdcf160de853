package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/pak"
	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/cache/disk"
	"github.com/meigma/pak/cache/memory"
	"github.com/meigma/pak/internal/config"
	"github.com/meigma/pak/patch"
	pakhttp "github.com/meigma/pak/source/http"
	paks3 "github.com/meigma/pak/source/s3"
	"github.com/meigma/pak/stargz"
)

// app holds global flags and state shared by subcommands.
type app struct {
	configPath string
	logLevel   string
	looseRoot  string
	mounts     []string
	policy     string
	noCache    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "pak",
		Short:         "Create and stream pak archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.looseRoot, "loose-root", "", "directory of loose files")
	flags.StringArrayVarP(&a.mounts, "mount", "m", nil, "archive to mount as PATH[:PREFIX] or URL[#PREFIX]; .stargz names mount as eStargz layers")
	flags.StringVar(&a.policy, "policy", "", "conflict resolution for flag mounts (prefer-file, prefer-archive, archive-only)")
	flags.BoolVar(&a.noCache, "no-cache", false, "disable the block cache")

	cmd.AddCommand(
		newCreateCmd(a),
		newLsCmd(a),
		newCatCmd(a),
		newStatCmd(a),
		newPatchCmd(a),
		newPreloadCmd(a),
		newExtractCmd(a),
	)
	return cmd
}

// load reads the configuration and applies flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("loose-root") {
		cfg.LooseRoot = a.looseRoot
	}
	if a.noCache {
		cfg.Cache.Kind = config.CacheNone
	}
	for _, spec := range a.mounts {
		m := parseMountFlag(spec)
		m.Policy = a.policy
		cfg.Mounts = append(cfg.Mounts, m)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	a.cfg = cfg
	return nil
}

// parseMountFlag turns a --mount value into a config mount. Local paths
// take the prefix after the first ':'; http(s) URLs take it after '#'.
func parseMountFlag(spec string) config.Mount {
	var m config.Mount
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		m.URL, m.Prefix, _ = strings.Cut(spec, "#")
	} else {
		m.Path, m.Prefix, _ = strings.Cut(spec, ":")
	}
	m.Kind = config.KindPak
	if strings.HasSuffix(m.Path+m.URL, ".stargz") {
		m.Kind = config.KindStargz
	}
	return m
}

// openStreamer builds a Streamer from the configuration and mounts every
// configured archive.
func (a *app) openStreamer(ctx context.Context) (*pak.Streamer, cache.BlockCache, error) {
	cfg := a.cfg
	bc, err := a.blockCache()
	if err != nil {
		return nil, nil, err
	}

	patchOpts := []patch.Option{
		patch.WithLogger(a.logger),
		patch.WithEnabled(cfg.Patches.PatchingEnabled()),
	}
	if cfg.Patches.DumpDir != "" {
		patchOpts = append(patchOpts, patch.WithDumpHook(patch.DumpToDir(cfg.Patches.DumpDir, func(err error) {
			a.logger.Warn("patch dump failed", "error", err)
		})))
	}

	opts := []pak.Option{
		pak.WithLogger(a.logger),
		pak.WithPatcher(patch.New(patchOpts...)),
		pak.WithDefaultConflictResolution(cfg.Policy()),
		pak.WithManifestCacheSize(cfg.ManifestCacheSize),
		pak.WithPreloadConcurrency(cfg.PreloadConcurrency),
	}
	if bc != nil {
		opts = append(opts, pak.WithBlockCache(bc))
	}
	if cfg.LooseRoot != "" {
		opts = append(opts, pak.WithLooseRoot(cfg.LooseRoot))
	}
	s, err := pak.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Patches.File != "" {
		if err := s.LoadPatchFile(cfg.Patches.File); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
	}
	for _, m := range cfg.Mounts {
		if err := a.mount(ctx, s, m); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
	}
	return s, bc, nil
}

func (a *app) blockCache() (cache.BlockCache, error) {
	c := a.cfg.Cache
	blockSize, err := c.BlockSizeBytes()
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case config.CacheMemory:
		return memory.New(
			memory.WithMaxBlocks(c.MaxBlocks),
			memory.WithNominalBlockSize(blockSize),
			memory.WithLogger(a.logger),
		)
	case config.CacheDisk:
		maxBytes, err := c.MaxBytesValue()
		if err != nil {
			return nil, err
		}
		return disk.New(c.Dir, disk.WithMaxBytes(maxBytes), disk.WithLogger(a.logger))
	default:
		return nil, nil
	}
}

func (a *app) mount(ctx context.Context, s *pak.Streamer, m config.Mount) error {
	open := opener(m, a.logger)
	switch {
	case m.Path != "":
		_, err := s.MountFile(m.Path, open)
		return err
	case m.URL != "":
		src, err := pakhttp.NewSource(ctx, m.URL, pakhttp.WithConditionalHeaders(), pakhttp.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("mount %s: %w", m.URL, err)
		}
		_, err = s.Mount(src, open)
		return err
	default:
		client, err := paks3.NewClient(ctx, paks3.ClientConfig{
			Endpoint:  a.cfg.S3.Endpoint,
			Region:    a.cfg.S3.Region,
			AccessKey: a.cfg.S3.AccessKey,
			SecretKey: a.cfg.S3.SecretKey,
			PathStyle: a.cfg.S3.PathStyle,
		})
		if err != nil {
			return err
		}
		src, err := paks3.NewSource(ctx, client, m.Bucket, m.Key, paks3.WithIfMatch(), paks3.WithLogger(a.logger))
		if err != nil {
			return err
		}
		_, err = s.Mount(src, open)
		return err
	}
}

func opener(m config.Mount, logger *slog.Logger) pak.Opener {
	if m.Kind == config.KindStargz {
		opts := []stargz.Option{
			stargz.WithMountPrefix(m.Prefix),
			stargz.WithConflictResolution(m.ConflictResolution()),
			stargz.WithLogger(logger),
		}
		if m.Name != "" {
			opts = append(opts, stargz.WithName(m.Name))
		}
		return pak.StargzOpener(opts...)
	}
	opts := []archive.Option{
		archive.WithMountPrefix(m.Prefix),
		archive.WithConflictResolution(m.ConflictResolution()),
		archive.WithSharedPak(m.Shared),
		archive.WithLogger(logger),
	}
	if m.Name != "" {
		opts = append(opts, archive.WithName(m.Name))
	}
	return pak.ArchiveOpener(opts...)
}
