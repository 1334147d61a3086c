package versioned_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrioni/nessie/internal/backend/memory"
	"github.com/andrioni/nessie/internal/versioned"
)

// racingBackend lets a test move a ref right before the store's CAS, the
// way a second process sharing the backend would.
type racingBackend struct {
	versioned.Backend

	mu         sync.Mutex
	intrusions int
	done       int
}

func (b *racingBackend) CASRef(ctx context.Context, ref versioned.NamedRef, expect versioned.Expectation, h versioned.Hash) error {
	b.mu.Lock()
	intrude := b.intrusions > 0
	if intrude {
		b.intrusions--
		b.done++
	}
	b.mu.Unlock()

	if intrude {
		head, err := b.Backend.GetRef(ctx, ref)
		if err != nil {
			return err
		}
		other, err := b.Backend.PutCommit(ctx, &versioned.CommitRecord{
			Parent:   head,
			Metadata: []byte("intruder"),
			Operations: []versioned.RecordOp{
				{Kind: versioned.OpPut, Key: bye, Value: []byte(fmt.Sprintf("theirs %d", b.done))},
			},
		})
		if err != nil {
			return err
		}
		if err := b.Backend.CASRef(ctx, ref, versioned.ExpectHash(head), other); err != nil {
			return err
		}
	}
	return b.Backend.CASRef(ctx, ref, expect, h)
}

func (b *racingBackend) intrude(n int) {
	b.mu.Lock()
	b.intrusions = n
	b.mu.Unlock()
}

func newRacingStore(t *testing.T, attempts int) (*stringStore, *racingBackend) {
	t.Helper()
	b := &racingBackend{Backend: memory.New()}
	s := versioned.New[string, string](b,
		versioned.NewWorker[string, string](versioned.StringSerializer{}, versioned.StringSerializer{}),
		versioned.Options{CommitAttempts: attempts})
	t.Cleanup(func() { s.Close() })
	return s, b
}

func TestCommitRetriesAfterForeignWriter(t *testing.T) {
	ctx := context.Background()
	s, b := newRacingStore(t, 3)
	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	base, err := s.ToHash(ctx, foo)
	require.NoError(t, err)

	b.intrude(1)
	h, err := s.Commit(ctx, foo, base, "mine", ops(put(hi, "v")))
	require.NoError(t, err)
	assert.Equal(t, []string{"mine", "intruder", "none"}, messages(t, s, foo))

	v, ok := value(t, s, h, bye)
	assert.True(t, ok, "the retried commit builds on the foreign one")
	assert.Equal(t, "theirs 1", v)
}

func TestCommitRetryRechecksKeys(t *testing.T) {
	ctx := context.Background()
	s, b := newRacingStore(t, 3)
	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	base, err := s.ToHash(ctx, foo)
	require.NoError(t, err)

	b.intrude(1)
	_, err = s.Commit(ctx, foo, base, "mine", ops(put(bye, "mine")))
	assert.ErrorIs(t, err, versioned.ErrConflict)
	assert.Equal(t, []string{"intruder", "none"}, messages(t, s, foo))
}

func TestCommitGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	s, b := newRacingStore(t, 3)
	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))

	b.intrude(100)
	_, err := s.Commit(ctx, foo, versioned.NoHash, "mine", ops(put(hi, "v")))
	assert.ErrorIs(t, err, versioned.ErrConflict)
	assert.Equal(t, 3, b.done)
}

func TestConcurrentCommits(t *testing.T) {
	forEachBackend(t, map[string]func(*testing.T, openBackend){
		"SameBranch": testConcurrentCommitsSameBranch,
		"SameBase":   testConcurrentCommitsFromSameBase,
		"Branches":   testConcurrentBranches,
	})
}

func testConcurrentCommitsSameBranch(t *testing.T, open openBackend) {
	ctx := context.Background()
	s := newStore(t, open)
	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := versioned.MustKey("k", fmt.Sprint(i))
			if _, err := s.Commit(ctx, foo, versioned.NoHash, fmt.Sprint(i), ops(put(k, "v"))); err != nil {
				t.Errorf("commit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	commits, err := s.CollectCommits(ctx, foo)
	require.NoError(t, err)
	assert.Len(t, commits, writers+1, "no commit may be lost")
	keys, err := s.GetKeys(ctx, foo)
	require.NoError(t, err)
	assert.Len(t, keys, writers)
}

func testConcurrentCommitsFromSameBase(t *testing.T, open openBackend) {
	ctx := context.Background()
	s := newStore(t, open)
	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	base := commit(t, s, foo, "base", put(hi, "0"))

	const writers = 10
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		// Disjoint keys always succeed.
		go func(i int) {
			defer wg.Done()
			k := versioned.MustKey("own", fmt.Sprint(i))
			if _, err := s.Commit(ctx, foo, base, "own", ops(put(k, "v"))); err != nil {
				t.Errorf("disjoint commit %d: %v", i, err)
			}
		}(i)
		// The shared key has exactly one winner.
		go func(i int) {
			defer wg.Done()
			_, err := s.Commit(ctx, foo, base, "shared", ops(put(hi, fmt.Sprint(i))))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, versioned.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("shared commit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}

func testConcurrentBranches(t *testing.T, open openBackend) {
	ctx := context.Background()
	s := newStore(t, open)

	const branches = 8
	var wg sync.WaitGroup
	for i := 0; i < branches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			br := versioned.Branch(fmt.Sprintf("b%d", i))
			if err := s.Create(ctx, br, versioned.NoHash); err != nil {
				t.Errorf("create %s: %v", br, err)
				return
			}
			for j := 0; j < 5; j++ {
				if _, err := s.Commit(ctx, br, versioned.NoHash, fmt.Sprint(j), ops(put(hi, fmt.Sprint(j)))); err != nil {
					t.Errorf("commit %s: %v", br, err)
				}
			}
		}(i)
	}
	wg.Wait()

	refs, err := s.GetNamedRefs(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, branches)
	for _, r := range refs {
		v, _ := value(t, s, r.Value, hi)
		assert.Equal(t, "4", v, r.Value.String())
	}
}

// assetWorker stores values as lists of asset names and records deletions.
type assetWorker struct {
	mu      sync.Mutex
	deleted []versioned.AssetKey
	fail    bool
}

func (w *assetWorker) ValueSerializer() versioned.Serializer[[]string] {
	return versioned.JSONSerializer[[]string]{}
}

func (w *assetWorker) MetadataSerializer() versioned.Serializer[string] {
	return versioned.StringSerializer{}
}

func (w *assetWorker) AssetKeys(v []string) []versioned.AssetKey {
	keys := make([]versioned.AssetKey, len(v))
	for i, a := range v {
		keys[i] = versioned.AssetKey(a)
	}
	return keys
}

func (w *assetWorker) DeleteAsset(_ context.Context, key versioned.AssetKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("asset store down")
	}
	w.deleted = append(w.deleted, key)
	return nil
}

func (w *assetWorker) takeDeleted() []versioned.AssetKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.deleted
	w.deleted = nil
	slices.Sort(out)
	return out
}

func TestAssetsDeletedWhenSuperseded(t *testing.T) {
	ctx := context.Background()
	w := &assetWorker{}
	s := versioned.New[[]string, string](memory.New(), w, versioned.Options{AssetWorkers: 2})
	defer s.Close()

	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	put := func(k versioned.Key, assets ...string) versioned.Operation[[]string] {
		return versioned.Put(k, assets)
	}

	_, err := s.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[[]string]{put(tableT1, "a", "b"), put(hi, "x")})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Empty(t, w.takeDeleted(), "new keys supersede nothing")

	_, err = s.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[[]string]{put(tableT1, "b", "c")})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Equal(t, []versioned.AssetKey{"a"}, w.takeDeleted())

	_, err = s.Commit(ctx, foo, versioned.NoHash, "c3", []versioned.Operation[[]string]{
		versioned.Delete[[]string](tableT1),
		versioned.Unchanged[[]string](hi),
	})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Equal(t, []versioned.AssetKey{"b", "c"}, w.takeDeleted())
}

func TestAssetsKeptOnRejectedCommit(t *testing.T) {
	ctx := context.Background()
	w := &assetWorker{}
	s := versioned.New[[]string, string](memory.New(), w, versioned.Options{})
	defer s.Close()

	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	base, err := s.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[[]string]{versioned.Put(hi, []string{"a"})})
	require.NoError(t, err)
	_, err = s.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[[]string]{versioned.Put(bye, []string{"z"})})
	require.NoError(t, err)
	_, err = s.Commit(ctx, foo, versioned.NoHash, "c3", []versioned.Operation[[]string]{versioned.Put(hi, []string{"b"})})
	require.NoError(t, err)
	s.WaitAssets()
	require.Equal(t, []versioned.AssetKey{"a"}, w.takeDeleted())

	_, err = s.Commit(ctx, foo, base, "stale", []versioned.Operation[[]string]{versioned.Put(hi, []string{"c"})})
	require.ErrorIs(t, err, versioned.ErrConflict)
	s.WaitAssets()
	assert.Empty(t, w.takeDeleted())
}

func TestAssetDeleteFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	w := &assetWorker{fail: true}
	s := versioned.New[[]string, string](memory.New(), w, versioned.Options{})

	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	_, err := s.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[[]string]{versioned.Put(hi, []string{"a"})})
	require.NoError(t, err)
	_, err = s.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[[]string]{versioned.Delete[[]string](hi)})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Empty(t, w.takeDeleted())
}

func TestAssetsSharedByKeysAreKept(t *testing.T) {
	ctx := context.Background()
	w := &assetWorker{}
	s := versioned.New[[]string, string](memory.New(), w, versioned.Options{})
	defer s.Close()

	foo := versioned.Branch("foo")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	_, err := s.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[[]string]{
		versioned.Put(tableT1, []string{"a"}),
		versioned.Put(hi, []string{"a"}),
	})
	require.NoError(t, err)

	_, err = s.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[[]string]{versioned.Put(tableT1, []string{"b"})})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Empty(t, w.takeDeleted(), "hi still points at a")

	_, err = s.Commit(ctx, foo, versioned.NoHash, "c3", []versioned.Operation[[]string]{versioned.Delete[[]string](hi)})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Equal(t, []versioned.AssetKey{"a"}, w.takeDeleted())
}

func TestAssetsHeldByOtherRefsAreKept(t *testing.T) {
	ctx := context.Background()
	w := &assetWorker{}
	s := versioned.New[[]string, string](memory.New(), w, versioned.Options{})
	defer s.Close()

	foo := versioned.Branch("foo")
	release := versioned.Tag("release")
	bar := versioned.Branch("bar")
	require.NoError(t, s.Create(ctx, foo, versioned.NoHash))
	c1, err := s.Commit(ctx, foo, versioned.NoHash, "c1", []versioned.Operation[[]string]{versioned.Put(tableT1, []string{"a", "x"})})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, release, c1))
	require.NoError(t, s.Create(ctx, bar, c1))

	_, err = s.Commit(ctx, foo, versioned.NoHash, "c2", []versioned.Operation[[]string]{versioned.Put(tableT1, []string{"b"})})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Empty(t, w.takeDeleted(), "the tag and bar still see a and x")

	v, ok, err := s.GetValue(ctx, release, tableT1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "x"}, v)

	require.NoError(t, s.Delete(ctx, release, versioned.NoHash))
	_, err = s.Commit(ctx, foo, versioned.NoHash, "c3", []versioned.Operation[[]string]{versioned.Put(tableT1, []string{"c"})})
	require.NoError(t, err)
	s.WaitAssets()
	assert.Equal(t, []versioned.AssetKey{"b"}, w.takeDeleted(), "b was only ever on foo")
}
