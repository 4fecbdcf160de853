package pak

import "errors"

// Sentinel errors.
var (
	// ErrNotMounted is returned when a MountID does not name a current mount.
	ErrNotMounted = errors.New("pak: not mounted")

	// ErrClosed is returned by operations on a closed Streamer.
	ErrClosed = errors.New("pak: streamer closed")

	// ErrNilSource is returned when mounting a nil source or opener.
	ErrNilSource = errors.New("pak: nil source")
)
