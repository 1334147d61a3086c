package versioned

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// commitNode is a decoded commit plus a key index over its operations.
// Nodes are shared through the cache and must never be modified.
type commitNode struct {
	hash  Hash
	rec   *CommitRecord
	index map[string]int // Key.String() -> position in rec.Operations
}

func newCommitNode(h Hash, rec *CommitRecord) *commitNode {
	n := &commitNode{hash: h, rec: rec, index: make(map[string]int, len(rec.Operations))}
	for i, op := range rec.Operations {
		n.index[op.Key.String()] = i
	}
	return n
}

// op returns the operation this commit applies to key, if any.
func (n *commitNode) op(key string) (RecordOp, bool) {
	i, ok := n.index[key]
	if !ok {
		return RecordOp{}, false
	}
	return n.rec.Operations[i], true
}

// graph is the content-addressed commit log on top of a Backend. It holds
// no conflict logic.
type graph struct {
	backend Backend
	nodes   *lru.Cache[Hash, *commitNode]
}

func newGraph(backend Backend, cacheSize int) *graph {
	nodes, _ := lru.New[Hash, *commitNode](cacheSize)
	return &graph{backend: backend, nodes: nodes}
}

// put stores a new commit and returns its hash.
func (g *graph) put(ctx context.Context, rec *CommitRecord) (Hash, error) {
	h, err := g.backend.PutCommit(ctx, rec)
	if err != nil {
		return NoHash, fmt.Errorf("put commit: %w", err)
	}
	g.nodes.Add(h, newCommitNode(h, rec))
	return h, nil
}

// get loads the commit stored under h.
func (g *graph) get(ctx context.Context, h Hash) (*commitNode, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("%w: empty hash", ErrNotFound)
	}
	if n, ok := g.nodes.Get(h); ok {
		return n, nil
	}
	rec, err := g.backend.GetCommit(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", h, err)
	}
	n := newCommitNode(h, rec)
	g.nodes.Add(h, n)
	return n, nil
}
