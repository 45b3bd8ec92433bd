package storage

import (
	"sync"
)

// FactoryRAM is a RAM-backed factory.
// Files are kept in memory and can be retrieved by path.
type FactoryRAM struct {
	mutex sync.Mutex
	files map[string]*fileRAM
}

// NewFactoryRAM allocates a RAM-backed factory.
func NewFactoryRAM() *FactoryRAM {
	return &FactoryRAM{
		files: make(map[string]*fileRAM),
	}
}

// NewFile implements Factory.
func (s *FactoryRAM) NewFile(fpath string) (File, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f := newFileRAM(func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.files, fpath)
	})
	s.files[fpath] = f
	return f, nil
}

// File returns a file previously allocated with NewFile.
func (s *FactoryRAM) File(fpath string) (File, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f, ok := s.files[fpath]
	if !ok {
		return nil, false
	}
	return f, true
}
