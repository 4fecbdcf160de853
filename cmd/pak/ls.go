package main

import (
	"fmt"
	"path"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/dirtree"
)

func newLsCmd(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls ARCHIVE [DIR]",
		Short: "List the files of a pak archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := archive.OpenFile(args[0], archive.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer f.Close()

			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}
			sub, ok := f.Tree().LookupDir(dir)
			if !ok {
				return fmt.Errorf("%s: no such directory", dir)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			err = sub.Walk(func(p string, e *dirtree.FileEntry) error {
				name := path.Join(dir, p)
				if !long {
					_, err := fmt.Fprintln(tw, name)
					return err
				}
				_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					humanize.IBytes(e.UncompressedSize),
					humanize.IBytes(e.Range.Size()),
					compression.Tag(e.Compressor),
					name)
				return err
			})
			if err != nil {
				return err
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show sizes and codec")
	return cmd
}
