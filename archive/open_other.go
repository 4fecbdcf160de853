//go:build !unix

package archive

import (
	"errors"
	"io/fs"
	"os"
)

// errSymlink marks a symbolic link found while walking the input tree.
var errSymlink = errors.New("symbolic link")

// openNoFollow opens name under root, refusing symbolic links.
func openNoFollow(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, errSymlink
	}
	return root.Open(name)
}
