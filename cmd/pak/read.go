package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/patch"
)

func newCatCmd(a *app) *cobra.Command {
	var offset, length uint64
	cmd := &cobra.Command{
		Use:   "cat PATH...",
		Short: "Print files through the mounted archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.openStreamer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rng := byterange.EntireFile()
			if cmd.Flags().Changed("offset") || cmd.Flags().Changed("length") {
				if offset > byterange.MaxOffset || length > byterange.MaxOffset-offset {
					return fmt.Errorf("range %d+%d out of bounds", offset, length)
				}
				if length == 0 {
					rng = byterange.New(offset, byterange.MaxOffset-offset)
				} else {
					rng = byterange.New(offset, length)
				}
			}
			for _, p := range args {
				data, err := s.ReadRange(p, rng)
				if err != nil {
					return err
				}
				if _, err := cmd.OutOrStdout().Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "first byte to print")
	cmd.Flags().Uint64Var(&length, "length", 0, "number of bytes to print (0 = to end)")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat PATH...",
		Short: "Show where and how files are stored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.openStreamer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range args {
				fi, err := s.Stat(p)
				if err != nil {
					return err
				}
				info, packed := s.CompressionInfo(p)
				if !packed {
					fmt.Fprintf(tw, "%s\tloose\t%s\n", p, humanize.IBytes(uint64(fi.Size()))) //nolint:gosec // sizes are non-negative
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\t@%d\t%s\n",
					p, info.ArchivePath, info.Tag,
					humanize.IBytes(info.CompressedSize), humanize.IBytes(info.UncompressedSize),
					info.Offset, info.ConflictResolution)
			}
			return tw.Flush()
		},
	}
}

func newPatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patch PATH",
		Short: "Print an XML file with the data patches applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.openStreamer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := s.LoadXML(args[0])
			if err != nil {
				return err
			}
			out, err := patch.EncodeXML(doc)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			if failures := s.Patcher().Failures(); failures > 0 {
				a.logger.Warn("some patches did not apply", "path", args[0], "failures", failures)
			}
			return err
		},
	}
}

func newPreloadCmd(a *app) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "preload [PATH...]",
		Short: "Read files into the block cache",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 && len(dirs) == 0 {
				return errors.New("nothing to preload")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, bc, err := a.openStreamer(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			for _, d := range dirs {
				if err := s.PreloadDir(cmd.Context(), d); err != nil {
					return err
				}
			}
			if err := s.Preload(cmd.Context(), args...); err != nil {
				return err
			}
			if bc == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d files (no block cache)\n", len(args))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d files, cache %s of %s\n",
				len(args), humanize.IBytes(uint64(bc.SizeBytes())), humanize.IBytes(uint64(bc.MaxBytes()))) //nolint:gosec // sizes are non-negative
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&dirs, "dir", nil, "directory to prefetch from every mounted pak")
	return cmd
}
