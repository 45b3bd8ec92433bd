package storage

import (
	"io"
)

// File is the underlying storage of an output file.
type File interface {
	io.WriteSeeker

	// Finalize finalizes the file, making it read-only.
	// It must always be called to release resources.
	Finalize() error

	// Remove removes the file.
	Remove()

	// Reader returns a ReadCloser to read the file.
	// Close() must always be called to avoid a memory leak.
	Reader() (io.ReadCloser, error)

	// Size returns the size of the file.
	Size() uint64
}
