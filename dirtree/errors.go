package dirtree

import (
	"errors"
	"fmt"
)

// ErrCode classifies errors returned by Tree mutations.
type ErrCode int

// Error codes returned by Code.
const (
	// OK means no error.
	OK ErrCode = iota
	// Unknown is returned by Code for errors that did not come from this package.
	Unknown
	// NameConflict means a path component names a file where a directory was
	// expected, a directory where a file was expected, or a leaf that already exists.
	NameConflict
	// InvalidPath means the path is empty or contains an empty, "." or ".." element.
	InvalidPath
)

func (c ErrCode) String() string {
	switch c {
	case OK:
		return "OK"
	case NameConflict:
		return "NameConflict"
	case InvalidPath:
		return "InvalidPath"
	default:
		return "Unknown"
	}
}

// Sentinel errors for use with errors.Is.
var (
	ErrNameConflict = errors.New("dirtree: name conflict")
	ErrInvalidPath  = errors.New("dirtree: invalid path")
)

// treeError carries an ErrCode alongside a descriptive message.
type treeError struct {
	code ErrCode
	s    string
}

func (e *treeError) Error() string {
	return e.s
}

func (e *treeError) Is(target error) bool {
	switch target {
	case ErrNameConflict:
		return e.code == NameConflict
	case ErrInvalidPath:
		return e.code == InvalidPath
	}
	return false
}

// Code returns the error code of err if it was returned by a Tree method,
// OK for nil, or Unknown for any other error.
func Code(err error) ErrCode {
	if err == nil {
		return OK
	}
	var te *treeError
	if !errors.As(err, &te) {
		return Unknown
	}
	return te.code
}

func errorf(c ErrCode, format string, args ...any) error {
	return &treeError{
		code: c,
		s:    "dirtree: " + fmt.Sprintf(format, args...),
	}
}
