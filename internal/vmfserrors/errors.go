// Package vmfserrors defines the sentinel error values shared by every
// layer of the VMFS reader, so callers can test failure classes with
// errors.Is instead of string matching.
package vmfserrors

import "errors"

var (
	// ErrInvalidHeader is returned when a magic number or signature does
	// not match what the on-disk structure requires.
	ErrInvalidHeader = errors.New("vmfs: invalid header")

	// ErrFileNotFound is returned when a path component cannot be resolved
	// in a directory.
	ErrFileNotFound = errors.New("vmfs: file not found")

	// ErrNotADirectory is returned when a path operation expects a
	// directory file descriptor and finds something else.
	ErrNotADirectory = errors.New("vmfs: not a directory")

	// ErrIsADirectory is returned when an operation that requires a
	// regular file is given a directory.
	ErrIsADirectory = errors.New("vmfs: is a directory")

	// ErrNotASymlink is returned when Readlink is called on a path whose
	// file descriptor type is not Symlink.
	ErrNotASymlink = errors.New("vmfs: not a symlink")

	// ErrNotAnRDMFile marks a file descriptor whose type is not RDM. No
	// function in this module returns it; there is no RDM mapping accessor.
	ErrNotAnRDMFile = errors.New("vmfs: not an RDM file")

	// ErrVolumeNotAvailable is returned when a spanned volume is missing
	// one or more of its member devices.
	ErrVolumeNotAvailable = errors.New("vmfs: volume not available")

	// ErrUnsupportedAddress is returned when an address's kind does not
	// match what the calling context expects.
	ErrUnsupportedAddress = errors.New("vmfs: unsupported address kind")
)
