// Package versioned is a Git-like version store for opaque keyed values:
// branches, tags, content-addressed commits and per-key optimistic
// concurrency on commit.
package versioned

import (
	"context"
	"fmt"

	"github.com/andrioni/nessie/internal/logging"
)

type Options struct {
	// CacheSize bounds both the decoded-commit cache and the value
	// resolution cache.
	CacheSize int
	// CommitAttempts is how many times a commit re-reads the head after
	// losing the backend CAS to a writer outside this Store.
	CommitAttempts int
	// AssetWorkers bounds concurrent DeleteAsset calls.
	AssetWorkers int
	Logger       logging.Logger
}

func (o *Options) SetDefaults() {
	if o.CacheSize <= 0 {
		o.CacheSize = 4096
	}
	if o.CommitAttempts <= 0 {
		o.CommitAttempts = 5
	}
	if o.AssetWorkers <= 0 {
		o.AssetWorkers = 4
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// Store is the version store. It is safe for concurrent use. Writes to the
// same ref are serialized; writes to different refs and all reads proceed
// independently.
type Store[V, M any] struct {
	backend  Backend
	worker   Worker[V, M]
	opts     Options
	log      logging.Logger
	graph    *graph
	resolver *resolver
	locks    *RefLocks
	reaper   *assetReaper
}

// New returns a Store over backend. The Store does not own the backend;
// Close leaves it open.
func New[V, M any](backend Backend, worker Worker[V, M], opts Options) *Store[V, M] {
	opts.SetDefaults()
	g := newGraph(backend, opts.CacheSize)
	return &Store[V, M]{
		backend:  backend,
		worker:   worker,
		opts:     opts,
		log:      opts.Logger,
		graph:    g,
		resolver: newResolver(g, opts.CacheSize),
		locks:    NewRefLocks(),
		reaper:   newAssetReaper(worker.DeleteAsset, opts.AssetWorkers, opts.Logger),
	}
}

// Close waits for pending asset deletions and stops accepting new ones.
func (s *Store[V, M]) Close() error {
	s.reaper.close()
	return nil
}

// WaitAssets blocks until every asset deletion dispatched so far finished.
func (s *Store[V, M]) WaitAssets() {
	s.reaper.wait()
}

// lockRef serializes writers of one ref and returns the unlock func.
func (s *Store[V, M]) lockRef(ref NamedRef) func() {
	return s.locks.Lock(ref)
}

// resolve turns a Ref into the commit hash it designates. A Hash resolves to
// itself if the commit exists.
func (s *Store[V, M]) resolve(ctx context.Context, ref Ref) (Hash, error) {
	switch r := ref.(type) {
	case Hash:
		if _, err := s.graph.get(ctx, r); err != nil {
			return NoHash, err
		}
		return r, nil
	case NamedRef:
		return s.ToHash(ctx, r)
	case nil:
		return NoHash, fmt.Errorf("%w: nil ref", ErrInvalidArgument)
	default:
		return NoHash, fmt.Errorf("%w: unsupported ref %T", ErrInvalidArgument, ref)
	}
}

func (s *Store[V, M]) decodeValue(data []byte) (V, error) {
	v, err := s.worker.ValueSerializer().FromBytes(data)
	if err != nil {
		return v, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

func (s *Store[V, M]) decodeMetadata(rec *CommitRecord) (M, error) {
	m, err := s.worker.MetadataSerializer().FromBytes(rec.Metadata)
	if err != nil {
		if rec.IsRoot() {
			var zero M
			return zero, nil
		}
		return m, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
