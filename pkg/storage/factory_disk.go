package storage

import (
	"path/filepath"
)

type factoryDisk struct {
	dirPath string
}

// NewFactoryDisk allocates a disk-backed factory.
// Relative paths are resolved against dirPath, if not empty.
func NewFactoryDisk(dirPath string) Factory {
	return &factoryDisk{
		dirPath: dirPath,
	}
}

// NewFile implements Factory.
func (s *factoryDisk) NewFile(fpath string) (File, error) {
	if s.dirPath != "" && !filepath.IsAbs(fpath) {
		fpath = filepath.Join(s.dirPath, fpath)
	}
	return newFileDisk(fpath)
}
