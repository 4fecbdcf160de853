//go:build unix

package archive

import (
	"errors"
	"os"
	"syscall"
)

// errSymlink marks a symbolic link found while walking the input tree.
var errSymlink = errors.New("symbolic link")

// openNoFollow opens name under root without following a final symlink.
func openNoFollow(root *os.Root, name string) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if errors.Is(err, syscall.ELOOP) {
		return nil, errSymlink
	}
	return f, err
}
