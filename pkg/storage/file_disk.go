package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type fileDisk struct {
	fpath     string
	f         *os.File
	finalSize uint64
}

func newFileDisk(fpath string) (File, error) {
	err := os.Remove(fpath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unable to remove existing file: %w", err)
	}

	f, err := os.Create(fpath)
	if err != nil {
		return nil, err
	}

	return &fileDisk{
		fpath: fpath,
		f:     f,
	}, nil
}

// Write implements io.Writer.
func (s *fileDisk) Write(p []byte) (int, error) {
	if s.f == nil {
		return 0, fmt.Errorf("file has been finalized")
	}
	return s.f.Write(p)
}

// Seek implements io.Seeker.
func (s *fileDisk) Seek(offset int64, whence int) (int64, error) {
	if s.f == nil {
		return 0, fmt.Errorf("file has been finalized")
	}
	return s.f.Seek(offset, whence)
}

// Finalize implements File.
func (s *fileDisk) Finalize() error {
	if s.f == nil {
		return nil
	}

	fi, err := s.f.Stat()
	if err == nil {
		s.finalSize = uint64(fi.Size())
	}

	err2 := s.f.Close()
	s.f = nil

	if err != nil {
		return err
	}
	return err2
}

// Remove implements File.
func (s *fileDisk) Remove() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	os.Remove(s.fpath)
}

// Reader implements File.
func (s *fileDisk) Reader() (io.ReadCloser, error) {
	if s.f != nil {
		return nil, fmt.Errorf("file has not been finalized yet")
	}

	return os.Open(s.fpath)
}

// Size implements File.
func (s *fileDisk) Size() uint64 {
	if s.f != nil {
		fi, err := s.f.Stat()
		if err != nil {
			return 0
		}
		return uint64(fi.Size())
	}
	return s.finalSize
}
