package versioned

import (
	"bytes"
	"context"
	"iter"
	"slices"
)

// KeyValue is the result of looking up one key.
type KeyValue[V any] struct {
	Key   Key
	Value V
	Found bool
}

// KeyDiff describes a key whose value differs between two snapshots.
type KeyDiff[V any] struct {
	Key  Key
	From KeyValue[V]
	To   KeyValue[V]
}

// GetValue returns the value of key at ref, and whether it is present.
func (s *Store[V, M]) GetValue(ctx context.Context, ref Ref, key Key) (V, bool, error) {
	var zero V
	h, err := s.resolve(ctx, ref)
	if err != nil {
		return zero, false, err
	}
	data, found, err := s.resolver.valueAt(ctx, h, key)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := s.decodeValue(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetValues looks up several keys against one resolved commit.
func (s *Store[V, M]) GetValues(ctx context.Context, ref Ref, keys []Key) ([]KeyValue[V], error) {
	h, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]KeyValue[V], len(keys))
	for i, k := range keys {
		out[i].Key = k
		data, found, err := s.resolver.valueAt(ctx, h, k)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if out[i].Value, err = s.decodeValue(data); err != nil {
			return nil, err
		}
		out[i].Found = true
	}
	return out, nil
}

// GetValueHash returns the hash a Put's MatchingValue compares against for
// key at ref: NoHash when the key is absent.
func (s *Store[V, M]) GetValueHash(ctx context.Context, ref Ref, key Key) (Hash, error) {
	h, err := s.resolve(ctx, ref)
	if err != nil {
		return NoHash, err
	}
	data, found, err := s.resolver.valueAt(ctx, h, key)
	if err != nil {
		return NoHash, err
	}
	return valueHash(data, found)
}

// HashValue returns the value hash v would have once stored.
func (s *Store[V, M]) HashValue(v V) (Hash, error) {
	data, err := s.worker.ValueSerializer().ToBytes(v)
	if err != nil {
		return NoHash, err
	}
	return HashOf(data)
}

// GetKeys lists every key present at ref, sorted.
func (s *Store[V, M]) GetKeys(ctx context.Context, ref Ref) ([]Key, error) {
	h, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	live, err := s.resolver.snapshot(ctx, h)
	if err != nil {
		return nil, err
	}
	return sortedKeys(live), nil
}

// GetCommits resolves ref and returns its history, newest first, ending
// with the root commit. The sequence is lazy and every range over it walks
// again from the same starting hash.
func (s *Store[V, M]) GetCommits(ctx context.Context, ref Ref) (iter.Seq2[WithHash[M], error], error) {
	h, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return func(yield func(WithHash[M], error) bool) {
		for node, err := range s.resolver.ancestry(ctx, h) {
			if err != nil {
				yield(WithHash[M]{}, err)
				return
			}
			m, err := s.decodeMetadata(node.rec)
			if err != nil {
				yield(WithHash[M]{Hash: node.hash}, err)
				return
			}
			if !yield(WithHash[M]{Hash: node.hash, Value: m}, nil) {
				return
			}
		}
	}, nil
}

// CollectCommits drains GetCommits into a slice.
func (s *Store[V, M]) CollectCommits(ctx context.Context, ref Ref) ([]WithHash[M], error) {
	seq, err := s.GetCommits(ctx, ref)
	if err != nil {
		return nil, err
	}
	var out []WithHash[M]
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Diff lists the keys whose values differ between from and to, sorted.
func (s *Store[V, M]) Diff(ctx context.Context, from, to Ref) ([]KeyDiff[V], error) {
	fromHash, err := s.resolve(ctx, from)
	if err != nil {
		return nil, err
	}
	toHash, err := s.resolve(ctx, to)
	if err != nil {
		return nil, err
	}
	if fromHash == toHash {
		return nil, nil
	}
	before, err := s.resolver.snapshot(ctx, fromHash)
	if err != nil {
		return nil, err
	}
	after, err := s.resolver.snapshot(ctx, toHash)
	if err != nil {
		return nil, err
	}

	var diffs []KeyDiff[V]
	add := func(id string) error {
		b, inBefore := before[id]
		a, inAfter := after[id]
		if inBefore && inAfter && bytes.Equal(b.value, a.value) {
			return nil
		}
		d := KeyDiff[V]{Key: b.key}
		if !inBefore {
			d.Key = a.key
		}
		if inBefore {
			v, err := s.decodeValue(b.value)
			if err != nil {
				return err
			}
			d.From = KeyValue[V]{Key: d.Key, Value: v, Found: true}
		} else {
			d.From = KeyValue[V]{Key: d.Key}
		}
		if inAfter {
			v, err := s.decodeValue(a.value)
			if err != nil {
				return err
			}
			d.To = KeyValue[V]{Key: d.Key, Value: v, Found: true}
		} else {
			d.To = KeyValue[V]{Key: d.Key}
		}
		diffs = append(diffs, d)
		return nil
	}
	for id := range before {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	for id := range after {
		if _, ok := before[id]; ok {
			continue
		}
		if err := add(id); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(diffs, func(x, y KeyDiff[V]) int { return x.Key.Compare(y.Key) })
	return diffs, nil
}
