// Package backendtest is the contract every versioned.Backend must meet.
// Backend packages call Run from their own tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrioni/nessie/internal/versioned"
)

// Factory returns a fresh, empty backend. Run closes it.
type Factory func(t *testing.T) versioned.Backend

// Run executes the contract suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b versioned.Backend)
	}{
		{"CommitRoundTrip", testCommitRoundTrip},
		{"CommitIdempotent", testCommitIdempotent},
		{"CommitMissing", testCommitMissing},
		{"RefCreate", testRefCreate},
		{"RefCAS", testRefCAS},
		{"RefDelete", testRefDelete},
		{"RefKindsAreSeparate", testRefKindsAreSeparate},
		{"ListRefs", testListRefs},
		{"ConcurrentCAS", testConcurrentCAS},
		{"StoreScenario", testStoreScenario},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			defer b.Close()
			tt.fn(t, b)
		})
	}
}

func sampleRecord(parent versioned.Hash, msg string) *versioned.CommitRecord {
	return &versioned.CommitRecord{
		Parent:   parent,
		Metadata: []byte(msg),
		Operations: []versioned.RecordOp{
			{Kind: versioned.OpPut, Key: versioned.MustKey("db", "table"), Value: []byte("s3://bucket/v1.json")},
			{Kind: versioned.OpDelete, Key: versioned.MustKey("old")},
			{Kind: versioned.OpUnchanged, Key: versioned.MustKey("db", "other")},
		},
	}
}

func putRoot(t *testing.T, b versioned.Backend) versioned.Hash {
	t.Helper()
	h, err := b.PutCommit(context.Background(), versioned.RootRecord())
	require.NoError(t, err)
	return h
}

func testCommitRoundTrip(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)
	rec := sampleRecord(root, "first")

	h, err := b.PutCommit(ctx, rec)
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	got, err := b.GetCommit(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, root, got.Parent)
	assert.Equal(t, []byte("first"), got.Metadata)
	require.Len(t, got.Operations, 3)
	for i, op := range rec.Operations {
		assert.Equal(t, op.Kind, got.Operations[i].Kind)
		assert.True(t, op.Key.Equal(got.Operations[i].Key), "key %d", i)
		assert.Equal(t, string(op.Value), string(got.Operations[i].Value))
	}

	rootRec, err := b.GetCommit(ctx, root)
	require.NoError(t, err)
	assert.True(t, rootRec.IsRoot())
	assert.Equal(t, versioned.RootMetadata, rootRec.Metadata)
}

func testCommitIdempotent(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)

	h1, err := b.PutCommit(ctx, sampleRecord(root, "same"))
	require.NoError(t, err)
	h2, err := b.PutCommit(ctx, sampleRecord(root, "same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, want, err := versioned.EncodeCommit(sampleRecord(root, "same"))
	require.NoError(t, err)
	assert.Equal(t, want, h1, "backends must address commits through the shared codec")

	h3, err := b.PutCommit(ctx, sampleRecord(h1, "same"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "a different parent must give a different hash")
}

func testCommitMissing(t *testing.T, b versioned.Backend) {
	missing, err := versioned.HashOf([]byte("never stored"))
	require.NoError(t, err)
	_, err = b.GetCommit(context.Background(), missing)
	assert.ErrorIs(t, err, versioned.ErrNotFound)
}

func testRefCreate(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)
	main := versioned.Branch("main")

	_, err := b.GetRef(ctx, main)
	assert.ErrorIs(t, err, versioned.ErrNotFound)

	require.NoError(t, b.CASRef(ctx, main, versioned.ExpectAbsent(), root))
	got, err := b.GetRef(ctx, main)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	err = b.CASRef(ctx, main, versioned.ExpectAbsent(), root)
	assert.ErrorIs(t, err, versioned.ErrAlreadyExists)
}

func testRefCAS(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)
	next, err := b.PutCommit(ctx, sampleRecord(root, "next"))
	require.NoError(t, err)
	main := versioned.Branch("main")

	assert.ErrorIs(t, b.CASRef(ctx, main, versioned.ExpectAny(), root), versioned.ErrNotFound)
	assert.ErrorIs(t, b.CASRef(ctx, main, versioned.ExpectHash(root), next), versioned.ErrNotFound)

	require.NoError(t, b.CASRef(ctx, main, versioned.ExpectAbsent(), root))
	assert.ErrorIs(t, b.CASRef(ctx, main, versioned.ExpectHash(next), next), versioned.ErrConflict)

	got, err := b.GetRef(ctx, main)
	require.NoError(t, err)
	assert.Equal(t, root, got, "failed CAS must not move the ref")

	require.NoError(t, b.CASRef(ctx, main, versioned.ExpectHash(root), next))
	require.NoError(t, b.CASRef(ctx, main, versioned.ExpectAny(), root))
	got, err = b.GetRef(ctx, main)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func testRefDelete(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)
	next, err := b.PutCommit(ctx, sampleRecord(root, "next"))
	require.NoError(t, err)
	tag := versioned.Tag("v1")

	assert.ErrorIs(t, b.DeleteRef(ctx, tag, versioned.ExpectAny()), versioned.ErrNotFound)

	require.NoError(t, b.CASRef(ctx, tag, versioned.ExpectAbsent(), root))
	assert.ErrorIs(t, b.DeleteRef(ctx, tag, versioned.ExpectHash(next)), versioned.ErrConflict)
	require.NoError(t, b.DeleteRef(ctx, tag, versioned.ExpectHash(root)))

	_, err = b.GetRef(ctx, tag)
	assert.ErrorIs(t, err, versioned.ErrNotFound)

	// The commit outlives the tag.
	_, err = b.GetCommit(ctx, root)
	assert.NoError(t, err)
}

func testRefKindsAreSeparate(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)

	require.NoError(t, b.CASRef(ctx, versioned.Branch("foo"), versioned.ExpectAbsent(), root))

	_, err := b.GetRef(ctx, versioned.Tag("foo"))
	assert.ErrorIs(t, err, versioned.ErrNotFound)
	assert.ErrorIs(t, b.DeleteRef(ctx, versioned.Tag("foo"), versioned.ExpectAny()), versioned.ErrNotFound)

	require.NoError(t, b.CASRef(ctx, versioned.Tag("foo"), versioned.ExpectAbsent(), root))
	require.NoError(t, b.DeleteRef(ctx, versioned.Tag("foo"), versioned.ExpectAny()))

	_, err = b.GetRef(ctx, versioned.Branch("foo"))
	assert.NoError(t, err, "deleting the tag must leave the branch alone")
}

func testListRefs(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)

	refs, err := b.ListRefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)

	want := map[versioned.NamedRef]bool{
		versioned.Branch("b1"):          true,
		versioned.Branch("b2"):          true,
		versioned.Branch("feature/x.y"): true,
		versioned.Tag("t1"):             true,
		versioned.Tag(".hidden"):        true,
	}
	for ref := range want {
		require.NoError(t, b.CASRef(ctx, ref, versioned.ExpectAbsent(), root))
	}

	refs, err = b.ListRefs(ctx)
	require.NoError(t, err)
	got := make(map[versioned.NamedRef]bool)
	for _, e := range refs {
		assert.Equal(t, root, e.Hash)
		got[e.Ref] = true
	}
	assert.Equal(t, want, got)

	require.NoError(t, b.DeleteRef(ctx, versioned.Branch("b2"), versioned.ExpectAny()))
	refs, err = b.ListRefs(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, len(want)-1, "ListRefs must re-read current state")
}

func testConcurrentCAS(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	root := putRoot(t, b)
	main := versioned.Branch("main")
	require.NoError(t, b.CASRef(ctx, main, versioned.ExpectAbsent(), root))

	const writers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := b.PutCommit(ctx, sampleRecord(root, fmt.Sprintf("writer %d", i)))
			if err != nil {
				t.Errorf("PutCommit: %v", err)
				return
			}
			err = b.CASRef(ctx, main, versioned.ExpectHash(root), h)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, versioned.ErrConflict):
			default:
				t.Errorf("CASRef: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "exactly one writer may win the same CAS")
}

// testStoreScenario runs the branch/commit/history flow through a Store.
func testStoreScenario(t *testing.T, b versioned.Backend) {
	ctx := context.Background()
	store := versioned.New[string, string](b,
		versioned.NewWorker[string, string](versioned.StringSerializer{}, versioned.StringSerializer{}),
		versioned.Options{})
	defer store.Close()

	foo := versioned.Branch("foo")
	hi := versioned.MustKey("hi")
	require.NoError(t, store.Create(ctx, foo, versioned.NoHash))

	c1, err := store.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[string]{versioned.Put(hi, "hello world")})
	require.NoError(t, err)
	c2, err := store.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[string]{versioned.Put(hi, "goodbye world")})
	require.NoError(t, err)

	commits, err := store.CollectCommits(ctx, foo)
	require.NoError(t, err)
	var messages []string
	for _, c := range commits {
		messages = append(messages, c.Value)
	}
	assert.Equal(t, []string{"c2", "c1", "none"}, messages)
	assert.Equal(t, c2, commits[0].Hash)
	assert.Equal(t, c1, commits[1].Hash)

	v, ok, err := store.GetValue(ctx, c1, hi)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world", v)

	v, ok, err = store.GetValue(ctx, c2, hi)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "goodbye world", v)
}
