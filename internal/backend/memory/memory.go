// Package memory is an in-process versioned.Backend. Nothing survives the
// process; it is the reference implementation the other backends are tested
// against.
package memory

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/andrioni/nessie/internal/versioned"
)

type Backend struct {
	commits *xsync.MapOf[versioned.Hash, []byte]
	refs    *xsync.MapOf[versioned.NamedRef, versioned.Hash]
}

var _ versioned.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		commits: xsync.NewMapOf[versioned.Hash, []byte](),
		refs:    xsync.NewMapOf[versioned.NamedRef, versioned.Hash](),
	}
}

func (b *Backend) PutCommit(ctx context.Context, rec *versioned.CommitRecord) (versioned.Hash, error) {
	data, h, err := versioned.EncodeCommit(rec)
	if err != nil {
		return versioned.NoHash, err
	}
	b.commits.LoadOrStore(h, data)
	return h, nil
}

func (b *Backend) GetCommit(ctx context.Context, h versioned.Hash) (*versioned.CommitRecord, error) {
	data, ok := b.commits.Load(h)
	if !ok {
		return nil, fmt.Errorf("%w: commit %s", versioned.ErrNotFound, h)
	}
	return versioned.DecodeCommit(data)
}

func (b *Backend) GetRef(ctx context.Context, ref versioned.NamedRef) (versioned.Hash, error) {
	h, ok := b.refs.Load(ref)
	if !ok {
		return versioned.NoHash, fmt.Errorf("%w: %s", versioned.ErrNotFound, ref)
	}
	return h, nil
}

// CASRef checks and swaps inside one Compute call, which xsync runs under
// the lock of the ref's bucket only.
func (b *Backend) CASRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation, newHash versioned.Hash) error {
	var casErr error
	b.refs.Compute(ref, func(current versioned.Hash, loaded bool) (versioned.Hash, bool) {
		if casErr = expect.Check(ref, current, loaded); casErr != nil {
			return current, !loaded
		}
		return newHash, false
	})
	return casErr
}

func (b *Backend) DeleteRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation) error {
	var casErr error
	b.refs.Compute(ref, func(current versioned.Hash, loaded bool) (versioned.Hash, bool) {
		if casErr = expect.Check(ref, current, loaded); casErr != nil {
			return current, !loaded
		}
		return versioned.NoHash, true
	})
	return casErr
}

func (b *Backend) ListRefs(ctx context.Context) ([]versioned.RefEntry, error) {
	var out []versioned.RefEntry
	b.refs.Range(func(ref versioned.NamedRef, h versioned.Hash) bool {
		out = append(out, versioned.RefEntry{Ref: ref, Hash: h})
		return true
	})
	return out, nil
}

func (b *Backend) Close() error {
	return nil
}
