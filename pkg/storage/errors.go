package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrFileNotFound indicates the requested file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrPathEscape indicates a filename or path resolved outside its
	// conversation directory (directory traversal attempt).
	ErrPathEscape = errors.New("path escapes conversation directory")

	// ErrMalformedArchive indicates a dump archive that cannot be restored:
	// bad gzip/tar framing, unsafe entry paths, or missing metadata.
	ErrMalformedArchive = errors.New("malformed archive")
)
