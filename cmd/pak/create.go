package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/compression"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		codec       string
		skipPacked  bool
		minSize     string
		maxFiles    int
		maxFileSize string
	)
	cmd := &cobra.Command{
		Use:   "create DIR OUTPUT",
		Short: "Pack a directory into a pak archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := compression.ParseTag(codec)
			if err != nil {
				return err
			}
			opts := []archive.CreateOption{
				archive.CreateWithCompression(tag),
				archive.CreateWithMaxFiles(maxFiles),
				archive.CreateWithLogger(a.logger),
			}
			if skipPacked {
				n, err := humanize.ParseBytes(minSize)
				if err != nil {
					return fmt.Errorf("--min-size: %w", err)
				}
				opts = append(opts, archive.CreateWithSkipCompression(archive.DefaultSkipCompression(int64(n)))) //nolint:gosec // parsed sizes fit int64
			}
			if maxFileSize != "" {
				n, err := humanize.ParseBytes(maxFileSize)
				if err != nil {
					return fmt.Errorf("--max-file-size: %w", err)
				}
				opts = append(opts, archive.CreateWithMaxFileSize(n))
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := archive.Create(cmd.Context(), args[0], out, opts...); err != nil {
				out.Close()
				_ = os.Remove(args[1])
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			f, err := archive.OpenFile(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files, %s data, %s\n",
				args[1], f.Len(), humanize.IBytes(f.DataSize()), f.DataDigest())
			return nil
		},
	}
	cmd.Flags().StringVar(&codec, "compression", "zstd", "codec for stored files (none, zstd, zlib, gzip, s2)")
	cmd.Flags().BoolVar(&skipPacked, "skip-compressed", true, "store already-compressed assets and small files raw")
	cmd.Flags().StringVar(&minSize, "min-size", "1KiB", "files smaller than this are stored raw with --skip-compressed")
	cmd.Flags().IntVar(&maxFiles, "max-files", archive.DefaultMaxFiles, "maximum number of files")
	cmd.Flags().StringVar(&maxFileSize, "max-file-size", "", "maximum size of a single file")
	return cmd
}
