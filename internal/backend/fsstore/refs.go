package fsstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrioni/nessie/internal/versioned"
)

// refStore keeps one file per ref under refs/branches and refs/tags. Each
// file holds the hash text of the commit the ref points to.
type refStore struct {
	dirs map[versioned.RefKind]string
}

func newRefStore(dir string) (*refStore, error) {
	r := &refStore{dirs: map[versioned.RefKind]string{
		versioned.BranchKind: filepath.Join(dir, "branches"),
		versioned.TagKind:    filepath.Join(dir, "tags"),
	}}
	for _, d := range r.dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create refs dir: %w", err)
		}
	}
	return r, nil
}

// refFilename escapes a ref name into a single path element. A leading dot
// is escaped too, which keeps "." / ".." out and leaves dotfiles to temp
// files.
func refFilename(name string) string {
	s := url.PathEscape(name)
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}

func refNameFromFilename(filename string) (string, error) {
	return url.PathUnescape(filename)
}

func (r *refStore) path(ref versioned.NamedRef) string {
	return filepath.Join(r.dirs[ref.Kind], refFilename(ref.Name))
}

// get returns the ref's hash and whether it exists.
func (r *refStore) get(ref versioned.NamedRef) (versioned.Hash, bool, error) {
	data, err := os.ReadFile(r.path(ref))
	if os.IsNotExist(err) {
		return versioned.NoHash, false, nil
	}
	if err != nil {
		return versioned.NoHash, false, fmt.Errorf("%w: read %s: %v", versioned.ErrBackend, ref, err)
	}
	h, err := versioned.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return versioned.NoHash, false, fmt.Errorf("%w: decode %s: %v", versioned.ErrBackend, ref, err)
	}
	return h, true, nil
}

func (r *refStore) set(ref versioned.NamedRef, h versioned.Hash) error {
	if err := safeWrite(r.path(ref), []byte(h.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", versioned.ErrBackend, ref, err)
	}
	return nil
}

func (r *refStore) remove(ref versioned.NamedRef) error {
	if err := os.Remove(r.path(ref)); err != nil {
		return fmt.Errorf("%w: remove %s: %v", versioned.ErrBackend, ref, err)
	}
	return syncDir(r.dirs[ref.Kind])
}

func (r *refStore) list() ([]versioned.RefEntry, error) {
	var out []versioned.RefEntry
	for _, kind := range []versioned.RefKind{versioned.BranchKind, versioned.TagKind} {
		entries, err := os.ReadDir(r.dirs[kind])
		if err != nil {
			return nil, fmt.Errorf("%w: list refs: %v", versioned.ErrBackend, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			name, err := refNameFromFilename(e.Name())
			if err != nil {
				continue
			}
			ref := versioned.NamedRef{Kind: kind, Name: name}
			h, ok, err := r.get(ref)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, versioned.RefEntry{Ref: ref, Hash: h})
			}
		}
	}
	return out, nil
}
