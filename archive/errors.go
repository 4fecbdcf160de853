package archive

import "errors"

var (
	// ErrInvalidArchive is returned when the trailer, index, or an entry's
	// byte range is inconsistent with the source.
	ErrInvalidArchive = errors.New("pak: invalid archive")

	// ErrHashMismatch is returned when file content does not match its hash.
	ErrHashMismatch = errors.New("pak: hash mismatch")

	// ErrFileTooLarge is returned when an entry exceeds the configured
	// maximum file size.
	ErrFileTooLarge = errors.New("pak: file too large")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("pak: size overflow")

	// ErrTooManyFiles is returned when the file count exceeds the configured limit.
	ErrTooManyFiles = errors.New("pak: too many files")
)
