// Package storage contains the storage mechanism of output files.
package storage

// Factory allows to allocate the storage of output files.
type Factory interface {
	// NewFile allocates a file at the given path.
	// Any pre-existing file at the same path is replaced.
	NewFile(fpath string) (File, error)
}
