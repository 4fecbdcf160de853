package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/pak/archive"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		dir       string
		overwrite bool
		times     bool
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE DEST",
		Short: "Unpack files from a pak archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := archive.OpenFile(args[0], archive.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer f.Close()

			err = f.Extract(cmd.Context(), dir, args[1],
				archive.ExtractWithOverwrite(overwrite),
				archive.ExtractWithPreserveTimes(times),
				archive.ExtractWithWorkers(workers),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %s to %s\n", dir, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory inside the archive to extract")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	cmd.Flags().BoolVar(&times, "preserve-times", false, "keep modification times from the archive")
	cmd.Flags().IntVar(&workers, "workers", 0, "files decoded concurrently (0 for the default)")
	return cmd
}
