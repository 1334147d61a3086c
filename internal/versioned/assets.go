package versioned

import (
	"context"
	"sync"

	"github.com/andrioni/nessie/internal/logging"
)

// assetReaper runs Worker.DeleteAsset in the background after commits that
// drop asset references. At most `workers` deletions run at once.
type assetReaper struct {
	deleteFn func(context.Context, AssetKey) error
	log      logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func newAssetReaper(deleteFn func(context.Context, AssetKey) error, workers int, log logging.Logger) *assetReaper {
	ctx, cancel := context.WithCancel(context.Background())
	return &assetReaper{
		deleteFn: deleteFn,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, workers),
	}
}

// dispatch schedules deletion of keys and returns immediately.
func (r *assetReaper) dispatch(keys []AssetKey) {
	if len(keys) == 0 {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn("asset reaper closed, dropping deletions", "count", len(keys))
		return
	}
	r.pending.Add(len(keys))
	r.mu.Unlock()

	for _, k := range keys {
		go r.run(k)
	}
}

func (r *assetReaper) run(key AssetKey) {
	defer r.pending.Done()
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	err := r.deleteFn(r.ctx, key)
	AssetDeleteCount.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		r.log.Warn("asset delete failed", "asset", string(key), "err", err)
		return
	}
	r.log.Debug("asset deleted", "asset", string(key))
}

// wait blocks until every dispatched deletion has finished.
func (r *assetReaper) wait() {
	r.pending.Wait()
}

// close refuses new work and waits for the queued deletions.
func (r *assetReaper) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.pending.Wait()
	r.cancel()
}

// supersededAssets lists the assets old refers to that new does not.
func supersededAssets(old, new []AssetKey) []AssetKey {
	if len(old) == 0 {
		return nil
	}
	keep := make(map[AssetKey]struct{}, len(new))
	for _, k := range new {
		keep[k] = struct{}{}
	}
	var dropped []AssetKey
	for _, k := range old {
		if _, ok := keep[k]; ok {
			continue
		}
		keep[k] = struct{}{}
		dropped = append(dropped, k)
	}
	return dropped
}
