// Package pebblestore is a versioned.Backend on a pebble LSM database.
// Pebble takes an exclusive lock on its directory, so the per-ref mutexes
// here are enough to make ref updates atomic.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cockroachdb/pebble"

	"github.com/andrioni/nessie/internal/versioned"
)

const (
	commitPrefix = 'C'
	refPrefix    = 'R'
)

// CKey is the database key of a commit: 'C' followed by the binary hash.
func CKey(h versioned.Hash) []byte {
	return append([]byte{commitPrefix}, h.Bytes()...)
}

// RKey is the database key of a ref: 'R', the kind byte, then the name.
func RKey(ref versioned.NamedRef) []byte {
	key := make([]byte, 0, 2+len(ref.Name))
	key = append(key, refPrefix, byte(ref.Kind))
	return append(key, ref.Name...)
}

// RKeyRef is the inverse of RKey.
func RKeyRef(key []byte) (versioned.NamedRef, bool) {
	if len(key) < 3 || key[0] != refPrefix {
		return versioned.NamedRef{}, false
	}
	kind := versioned.RefKind(key[1])
	if kind != versioned.BranchKind && kind != versioned.TagKind {
		return versioned.NamedRef{}, false
	}
	return versioned.NamedRef{Kind: kind, Name: string(key[2:])}, true
}

type Backend struct {
	db    *pebble.DB
	locks *versioned.RefLocks
}

var _ versioned.Backend = (*Backend)(nil)

// WriteOptions makes every write durable before it returns.
var WriteOptions = pebble.Sync

// Open opens or creates a database in dir.
func Open(dir string) (*Backend, error) {
	return OpenWithOptions(dir, &pebble.Options{})
}

func OpenWithOptions(dir string, opts *pebble.Options) (*Backend, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Backend{
		db:    db,
		locks: versioned.NewRefLocks(),
	}, nil
}

func (b *Backend) lock(ref versioned.NamedRef) func() {
	return b.locks.Lock(ref)
}

// get copies the value under key; ok is false when the key is absent.
func (b *Backend) get(key []byte) (val []byte, ok bool, err error) {
	data, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	val = slices.Clone(data)
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	return val, true, nil
}

func (b *Backend) PutCommit(ctx context.Context, rec *versioned.CommitRecord) (versioned.Hash, error) {
	data, h, err := versioned.EncodeCommit(rec)
	if err != nil {
		return versioned.NoHash, err
	}
	key := CKey(h)
	if _, ok, err := b.get(key); err != nil {
		return versioned.NoHash, err
	} else if ok {
		return h, nil
	}
	if err := b.db.Set(key, data, WriteOptions); err != nil {
		return versioned.NoHash, fmt.Errorf("%w: put commit %s: %v", versioned.ErrBackend, h, err)
	}
	return h, nil
}

func (b *Backend) GetCommit(ctx context.Context, h versioned.Hash) (*versioned.CommitRecord, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("%w: empty hash", versioned.ErrNotFound)
	}
	data, ok, err := b.get(CKey(h))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: commit %s", versioned.ErrNotFound, h)
	}
	rec, err := versioned.DecodeCommit(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	return rec, nil
}

func (b *Backend) readRef(ref versioned.NamedRef) (versioned.Hash, bool, error) {
	data, ok, err := b.get(RKey(ref))
	if err != nil || !ok {
		return versioned.NoHash, false, err
	}
	h, err := versioned.HashFromBytes(data)
	if err != nil {
		return versioned.NoHash, false, fmt.Errorf("%w: decode %s: %v", versioned.ErrBackend, ref, err)
	}
	return h, true, nil
}

func (b *Backend) GetRef(ctx context.Context, ref versioned.NamedRef) (versioned.Hash, error) {
	h, ok, err := b.readRef(ref)
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

	current, ok, err := b.readRef(ref)
	if err != nil {
		return err
	}
	if err := expect.Check(ref, current, ok); err != nil {
		return err
	}
	if err := b.db.Set(RKey(ref), newHash.Bytes(), WriteOptions); err != nil {
		return fmt.Errorf("%w: set %s: %v", versioned.ErrBackend, ref, err)
	}
	return nil
}

func (b *Backend) DeleteRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation) error {
	unlock := b.lock(ref)
	defer unlock()

	current, ok, err := b.readRef(ref)
	if err != nil {
		return err
	}
	if err := expect.Check(ref, current, ok); err != nil {
		return err
	}
	if err := b.db.Delete(RKey(ref), WriteOptions); err != nil {
		return fmt.Errorf("%w: delete %s: %v", versioned.ErrBackend, ref, err)
	}
	return nil
}

// ListRefs scans the ref keyspace of a point-in-time snapshot.
func (b *Backend) ListRefs(ctx context.Context) (out []versioned.RefEntry, err error) {
	snap := b.db.NewSnapshot()
	defer snap.Close()

	it, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: []byte{refPrefix},
		UpperBound: []byte{refPrefix + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", versioned.ErrBackend, err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", versioned.ErrBackend, cerr)
		}
	}()

	for it.First(); it.Valid(); it.Next() {
		ref, ok := RKeyRef(it.Key())
		if !ok {
			continue
		}
		h, err := versioned.HashFromBytes(slices.Clone(it.Value()))
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", versioned.ErrBackend, ref, err)
		}
		out = append(out, versioned.RefEntry{Ref: ref, Hash: h})
	}
	return out, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
