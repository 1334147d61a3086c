package fsstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrioni/nessie/internal/versioned"
)

// objectStore keeps one file per commit, named by the commit hash.
type objectStore struct {
	dir string // path to objects/ directory
}

func newObjectStore(dir string) (*objectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &objectStore{dir: dir}, nil
}

func (s *objectStore) path(h versioned.Hash) string {
	return filepath.Join(s.dir, h.String())
}

// put writes data under h. If the object already exists, this is a no-op.
func (s *objectStore) put(h versioned.Hash, data []byte) error {
	path := s.path(h)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := safeWrite(path, data, 0644); err != nil {
		return fmt.Errorf("write object %s: %w", h, err)
	}
	return nil
}

// get reads the object stored under h and checks that its content still
// hashes to h.
func (s *objectStore) get(h versioned.Hash) ([]byte, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("%w: empty hash", versioned.ErrNotFound)
	}
	data, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: commit %s", versioned.ErrNotFound, h)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %v", versioned.ErrBackend, h, err)
	}
	got, err := versioned.HashOf(data)
	if err != nil {
		return nil, err
	}
	if got != h {
		return nil, fmt.Errorf("%w: object %s is corrupt (hashes to %s)", versioned.ErrBackend, h, got)
	}
	return data, nil
}
