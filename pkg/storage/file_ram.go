package storage

import (
	"fmt"
	"io"

	"github.com/orcaman/writerseeker"
)

type fileRAM struct {
	buf       *writerseeker.WriterSeeker
	finalized bool
	onRemove  func()
}

func newFileRAM(onRemove func()) *fileRAM {
	return &fileRAM{
		buf:      &writerseeker.WriterSeeker{},
		onRemove: onRemove,
	}
}

// Write implements io.Writer.
func (s *fileRAM) Write(p []byte) (int, error) {
	if s.finalized {
		return 0, fmt.Errorf("file has been finalized")
	}
	return s.buf.Write(p)
}

// Seek implements io.Seeker.
func (s *fileRAM) Seek(offset int64, whence int) (int64, error) {
	if s.finalized {
		return 0, fmt.Errorf("file has been finalized")
	}
	return s.buf.Seek(offset, whence)
}

// Finalize implements File.
func (s *fileRAM) Finalize() error {
	s.finalized = true
	return nil
}

// Remove implements File.
func (s *fileRAM) Remove() {
	s.finalized = true
	s.buf = &writerseeker.WriterSeeker{}
	s.onRemove()
}

// Reader implements File.
func (s *fileRAM) Reader() (io.ReadCloser, error) {
	if !s.finalized {
		return nil, fmt.Errorf("file has not been finalized yet")
	}

	return io.NopCloser(s.buf.BytesReader()), nil
}

// Size implements File.
func (s *fileRAM) Size() uint64 {
	return uint64(s.buf.BytesReader().Len())
}
