// Package fsstore is a versioned.Backend that keeps commits and refs as
// plain files:
//
//	<root>/objects/<hash>          canonical commit JSON
//	<root>/refs/branches/<name>    hash text
//	<root>/refs/tags/<name>        hash text
//
// Every write goes through an atomic rename. Ref updates are serialized
// within one process only; two processes must not open the same root.
package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrioni/nessie/internal/versioned"
)

type Backend struct {
	root    string
	objects *objectStore
	refs    *refStore
	locks   *versioned.RefLocks
}

var _ versioned.Backend = (*Backend)(nil)

// Open opens or creates a store rooted at root.
func Open(root string) (*Backend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", root, err)
	}
	objects, err := newObjectStore(filepath.Join(root, "objects"))
	if err != nil {
		return nil, err
	}
	refs, err := newRefStore(filepath.Join(root, "refs"))
	if err != nil {
		return nil, err
	}
	return &Backend{
		root:    root,
		objects: objects,
		refs:    refs,
		locks:   versioned.NewRefLocks(),
	}, nil
}

// Root returns the directory the store lives in.
func (b *Backend) Root() string {
	return b.root
}

func (b *Backend) lock(ref versioned.NamedRef) func() {
	return b.locks.Lock(ref)
}

func (b *Backend) PutCommit(ctx context.Context, rec *versioned.CommitRecord) (versioned.Hash, error) {
	data, h, err := versioned.EncodeCommit(rec)
	if err != nil {
		return versioned.NoHash, err
	}
	if err := b.objects.put(h, data); err != nil {
		return versioned.NoHash, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	return h, nil
}

func (b *Backend) GetCommit(ctx context.Context, h versioned.Hash) (*versioned.CommitRecord, error) {
	data, err := b.objects.get(h)
	if err != nil {
		return nil, err
	}
	rec, err := versioned.DecodeCommit(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	return rec, nil
}

func (b *Backend) GetRef(ctx context.Context, ref versioned.NamedRef) (versioned.Hash, error) {
	h, ok, err := b.refs.get(ref)
	if err != nil {
		return versioned.NoHash, err
	}
	if !ok {
		return versioned.NoHash, fmt.Errorf("%w: %s", versioned.ErrNotFound, ref)
	}
	return h, nil
}

func (b *Backend) CASRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation, newHash versioned.Hash) error {
	unlock := b.lock(ref)
	defer unlock()

	current, ok, err := b.refs.get(ref)
	if err != nil {
		return err
	}
	if err := expect.Check(ref, current, ok); err != nil {
		return err
	}
	return b.refs.set(ref, newHash)
}

func (b *Backend) DeleteRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation) error {
	unlock := b.lock(ref)
	defer unlock()

	current, ok, err := b.refs.get(ref)
	if err != nil {
		return err
	}
	if err := expect.Check(ref, current, ok); err != nil {
		return err
	}
	return b.refs.remove(ref)
}

func (b *Backend) ListRefs(ctx context.Context) ([]versioned.RefEntry, error) {
	return b.refs.list()
}

func (b *Backend) Close() error {
	return nil
}
