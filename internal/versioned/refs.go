package versioned

import (
	"context"
	"errors"
	"fmt"
)

// Create makes a new ref. A branch without a target starts at a fresh root
// commit; a tag always needs an existing target.
func (s *Store[V, M]) Create(ctx context.Context, ref NamedRef, target Hash) (err error) {
	defer func() { RefUpdateCount.WithLabelValues("create", resultLabel(err)).Inc() }()
	if err := ref.validate(); err != nil {
		return err
	}

	unlock := s.lockRef(ref)
	defer unlock()
	// An existing name wins over a bad target.
	if _, err := s.backend.GetRef(ctx, ref); err == nil {
		return fmt.Errorf("create %s: %w", ref, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("create %s: %w", ref, err)
	}

	if target.IsZero() {
		if ref.Kind == TagKind {
			return fmt.Errorf("%w: %s needs a target commit", ErrNotFound, ref)
		}
		root, err := s.graph.put(ctx, RootRecord())
		if err != nil {
			return err
		}
		target = root
	} else if _, err := s.graph.get(ctx, target); err != nil {
		return err
	}

	if err := s.backend.CASRef(ctx, ref, ExpectAbsent(), target); err != nil {
		return fmt.Errorf("create %s: %w", ref, err)
	}
	s.log.Debug("ref created", "ref", ref.String(), "hash", target.String())
	return nil
}

// Delete removes ref. With a non-zero expected hash the ref must still point
// there.
func (s *Store[V, M]) Delete(ctx context.Context, ref NamedRef, expected Hash) (err error) {
	defer func() { RefUpdateCount.WithLabelValues("delete", resultLabel(err)).Inc() }()
	if err := ref.validate(); err != nil {
		return err
	}

	unlock := s.lockRef(ref)
	defer unlock()
	if err := s.backend.DeleteRef(ctx, ref, expectOptional(expected)); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	s.log.Debug("ref deleted", "ref", ref.String())
	return nil
}

// Assign repoints an existing branch or tag at newHash.
func (s *Store[V, M]) Assign(ctx context.Context, ref NamedRef, expected Hash, newHash Hash) (err error) {
	defer func() { RefUpdateCount.WithLabelValues("assign", resultLabel(err)).Inc() }()
	if err := ref.validate(); err != nil {
		return err
	}
	if _, err := s.graph.get(ctx, newHash); err != nil {
		return err
	}

	unlock := s.lockRef(ref)
	defer unlock()
	if err := s.backend.CASRef(ctx, ref, expectOptional(expected), newHash); err != nil {
		return fmt.Errorf("assign %s: %w", ref, err)
	}
	s.log.Debug("ref assigned", "ref", ref.String(), "hash", newHash.String())
	return nil
}

// ToHash returns the commit ref currently points to.
func (s *Store[V, M]) ToHash(ctx context.Context, ref NamedRef) (Hash, error) {
	if err := ref.validate(); err != nil {
		return NoHash, err
	}
	h, err := s.backend.GetRef(ctx, ref)
	if err != nil {
		return NoHash, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return h, nil
}

// GetNamedRefs lists every ref with its current hash, read fresh on each call.
func (s *Store[V, M]) GetNamedRefs(ctx context.Context) ([]WithHash[NamedRef], error) {
	entries, err := s.backend.ListRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	refs := make([]WithHash[NamedRef], len(entries))
	for i, e := range entries {
		refs[i] = WithHash[NamedRef]{Hash: e.Hash, Value: e.Ref}
	}
	return refs, nil
}
