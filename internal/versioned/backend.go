package versioned

import (
	"context"
	"fmt"
)

// Backend is the storage engine under a Store. Implementations must make
// PutCommit durable before returning, and CASRef/DeleteRef atomic with
// respect to every other writer of the same ref.
type Backend interface {
	// PutCommit persists rec and returns its content hash. Storing identical
	// content twice is a no-op.
	PutCommit(ctx context.Context, rec *CommitRecord) (Hash, error)
	// GetCommit returns the record stored under h, or ErrNotFound.
	GetCommit(ctx context.Context, h Hash) (*CommitRecord, error)

	// GetRef returns the hash ref points to, or ErrNotFound.
	GetRef(ctx context.Context, ref NamedRef) (Hash, error)
	// CASRef points ref at newHash if its current state satisfies expect.
	// It fails with ErrAlreadyExists, ErrNotFound or ErrConflict as
	// Expectation.Check describes.
	CASRef(ctx context.Context, ref NamedRef, expect Expectation, newHash Hash) error
	// DeleteRef removes ref if its current state satisfies expect.
	DeleteRef(ctx context.Context, ref NamedRef, expect Expectation) error
	// ListRefs returns every ref that exists at the time of the call.
	ListRefs(ctx context.Context) ([]RefEntry, error)

	Close() error
}

// RefEntry is one row of Backend.ListRefs.
type RefEntry struct {
	Ref  NamedRef
	Hash Hash
}

// CommitRecord is the byte-level form of a commit as a Backend sees it.
type CommitRecord struct {
	Parent     Hash
	Metadata   []byte
	Operations []RecordOp
}

// IsRoot reports whether rec has no parent.
func (rec *CommitRecord) IsRoot() bool {
	return rec.Parent.IsZero()
}

// RecordOp is a serialized Operation.
type RecordOp struct {
	Kind  OpKind
	Key   Key
	Value []byte
}

type expectMode uint8

const (
	expectAbsent expectMode = iota
	expectAny
	expectHash
)

// Expectation is the precondition of a ref update.
type Expectation struct {
	mode expectMode
	hash Hash
}

// ExpectAbsent requires that the ref does not exist yet (creation).
func ExpectAbsent() Expectation { return Expectation{mode: expectAbsent} }

// ExpectAny requires that the ref exists, whatever it points to.
func ExpectAny() Expectation { return Expectation{mode: expectAny} }

// ExpectHash requires that the ref exists and points to h.
func ExpectHash(h Hash) Expectation { return Expectation{mode: expectHash, hash: h} }

// expectOptional maps an optional caller-supplied hash to an Expectation.
func expectOptional(h Hash) Expectation {
	if h.IsZero() {
		return ExpectAny()
	}
	return ExpectHash(h)
}

// Check evaluates the expectation against the ref's current state. Backends
// call it while holding whatever makes the update atomic.
func (e Expectation) Check(ref NamedRef, current Hash, exists bool) error {
	switch e.mode {
	case expectAbsent:
		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, ref)
		}
	case expectAny:
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
	case expectHash:
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		if current != e.hash {
			return fmt.Errorf("%w: %s is at %s, expected %s", ErrConflict, ref, current, e.hash)
		}
	}
	return nil
}

func (e Expectation) String() string {
	switch e.mode {
	case expectAbsent:
		return "absent"
	case expectAny:
		return "any"
	default:
		return e.hash.String()
	}
}
