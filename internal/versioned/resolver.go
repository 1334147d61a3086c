package versioned

import (
	"context"
	"iter"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resolution is the value of one key at one commit.
type resolution struct {
	value []byte
	found bool
}

type resolutionKey struct {
	commit Hash
	key    string
}

// resolver reconstructs snapshot state from commit deltas. A commit only
// records the keys it touched, so lookups walk parent links until the first
// Put or Delete of the key and memoize the answer for every commit passed.
type resolver struct {
	graph    *graph
	resolved *lru.Cache[resolutionKey, resolution]
}

func newResolver(g *graph, cacheSize int) *resolver {
	resolved, _ := lru.New[resolutionKey, resolution](cacheSize)
	return &resolver{graph: g, resolved: resolved}
}

// valueAt returns the serialized value of key at commit h.
func (r *resolver) valueAt(ctx context.Context, h Hash, key Key) ([]byte, bool, error) {
	id := key.String()
	var (
		walked []Hash
		res    resolution
	)
	for cur := h; !cur.IsZero(); {
		if cached, ok := r.resolved.Get(resolutionKey{cur, id}); ok {
			res = cached
			break
		}
		node, err := r.graph.get(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		walked = append(walked, cur)
		if op, ok := node.op(id); ok && op.Kind != OpUnchanged {
			if op.Kind == OpPut {
				res = resolution{value: op.Value, found: true}
			}
			break
		}
		cur = node.rec.Parent
	}
	for _, w := range walked {
		r.resolved.Add(resolutionKey{w, id}, res)
	}
	return res.value, res.found, nil
}

// ancestry yields h, its parent, and so on down to the root. Each range
// over the result starts a fresh walk.
func (r *resolver) ancestry(ctx context.Context, h Hash) iter.Seq2[*commitNode, error] {
	return func(yield func(*commitNode, error) bool) {
		for cur := h; !cur.IsZero(); {
			node, err := r.graph.get(ctx, cur)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(node, nil) {
				return
			}
			cur = node.rec.Parent
		}
	}
}

type snapshotEntry struct {
	key   Key
	value []byte
}

// snapshot materializes every live key at h. It replays the full history
// and is only used for enumeration, never for point lookups.
func (r *resolver) snapshot(ctx context.Context, h Hash) (map[string]snapshotEntry, error) {
	seen := make(map[string]struct{})
	live := make(map[string]snapshotEntry)
	for node, err := range r.ancestry(ctx, h) {
		if err != nil {
			return nil, err
		}
		for _, op := range node.rec.Operations {
			if op.Kind == OpUnchanged {
				continue
			}
			id := op.Key.String()
			if _, done := seen[id]; done {
				continue
			}
			seen[id] = struct{}{}
			if op.Kind == OpPut {
				live[id] = snapshotEntry{key: op.Key, value: op.Value}
			}
		}
	}
	return live, nil
}

func sortedKeys(entries map[string]snapshotEntry) []Key {
	keys := make([]Key, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	slices.SortFunc(keys, Key.Compare)
	return keys
}
