package versioned

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrioni/nessie/internal/logging"
)

// Commit appends ops to branch and returns the new head.
//
// With expected == NoHash the commit is unconditional. Otherwise every key
// the operations touch (Put, Delete or Unchanged) must have the same value
// at the current head as at expected, or the commit fails with ErrConflict.
// The new commit's parent is always the current head, never expected.
//
// Only branches accept commits; a tag fails with ErrNotFound.
func (s *Store[V, M]) Commit(ctx context.Context, branch NamedRef, expected Hash, metadata M, ops []Operation[V]) (h Hash, err error) {
	start := time.Now()
	defer func() {
		CommitCount.WithLabelValues(resultLabel(err)).Inc()
		CommitDuration.Observe(time.Since(start).Seconds())
	}()

	if err := branch.validate(); err != nil {
		return NoHash, err
	}
	if branch.Kind != BranchKind {
		return NoHash, fmt.Errorf("%w: %s is not a branch", ErrNotFound, branch)
	}
	if err := validateOperations(ops); err != nil {
		return NoHash, err
	}

	metaBytes, err := s.worker.MetadataSerializer().ToBytes(metadata)
	if err != nil {
		return NoHash, fmt.Errorf("%w: encode metadata: %v", ErrInvalidArgument, err)
	}
	recOps := make([]RecordOp, len(ops))
	for i, op := range ops {
		recOps[i] = RecordOp{Kind: op.Kind, Key: op.Key}
		if op.Kind != OpPut {
			continue
		}
		if recOps[i].Value, err = s.worker.ValueSerializer().ToBytes(op.Value); err != nil {
			return NoHash, fmt.Errorf("%w: encode value for %s: %v", ErrInvalidArgument, op.Key, err)
		}
	}

	unlock := s.lockRef(branch)
	defer unlock()

	ctx = logging.WithDefaultArgs(ctx, "branch", branch.Name)
	for attempt := 1; ; attempt++ {
		head, err := s.ToHash(ctx, branch)
		if err != nil {
			return NoHash, err
		}
		if err := s.checkPreconditions(ctx, expected, head, ops); err != nil {
			s.log.DebugCtx(ctx, "commit rejected", "head", head.String(), "expected", expected.String(), "err", err)
			return NoHash, err
		}
		dropped := s.droppedAssets(ctx, head, ops)

		rec := &CommitRecord{Parent: head, Metadata: metaBytes, Operations: recOps}
		h, err := s.graph.put(ctx, rec)
		if err != nil {
			return NoHash, err
		}

		err = s.backend.CASRef(ctx, branch, ExpectHash(head), h)
		if err == nil {
			s.reaper.dispatch(s.unreachableAssets(ctx, dropped))
			s.log.DebugCtx(ctx, "committed", "hash", h.String(), "parent", head.String(), "ops", len(ops))
			return h, nil
		}
		// Only a writer outside this Store can move the head under our lock.
		// Re-running against the new head is the same as having queued
		// behind that writer.
		if !errors.Is(err, ErrConflict) || attempt >= s.opts.CommitAttempts {
			return NoHash, fmt.Errorf("commit to %s: %w", branch, err)
		}
		CommitAttempts.Inc()
		s.log.WarnCtx(ctx, "head moved during commit, retrying", "attempt", attempt)
	}
}

// checkPreconditions runs the per-key conflict check between expected and
// head, then any per-key value hashes set with MatchingValue.
func (s *Store[V, M]) checkPreconditions(ctx context.Context, expected, head Hash, ops []Operation[V]) error {
	if !expected.IsZero() && expected != head {
		if _, err := s.graph.get(ctx, expected); err != nil {
			return err
		}
		for _, op := range ops {
			was, wasFound, err := s.resolver.valueAt(ctx, expected, op.Key)
			if err != nil {
				return err
			}
			now, nowFound, err := s.resolver.valueAt(ctx, head, op.Key)
			if err != nil {
				return err
			}
			if wasFound != nowFound || !bytes.Equal(was, now) {
				return fmt.Errorf("%w: key %s changed between %s and %s", ErrConflict, op.Key, expected, head)
			}
		}
	}

	for _, op := range ops {
		want, ok := op.ExpectedValue()
		if !ok {
			continue
		}
		data, found, err := s.resolver.valueAt(ctx, head, op.Key)
		if err != nil {
			return err
		}
		got, err := valueHash(data, found)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: key %s has value %s, expected %s", ErrConflict, op.Key, got, want)
		}
	}
	return nil
}

// droppedAssets lists assets referenced at head by values this commit
// overwrites or deletes and not referenced by the replacement value. Other
// keys and refs may still hold them; see unreachableAssets.
// Failures only cost a missed cleanup, so they are logged and skipped.
func (s *Store[V, M]) droppedAssets(ctx context.Context, head Hash, ops []Operation[V]) []AssetKey {
	var dropped []AssetKey
	for _, op := range ops {
		if op.Kind == OpUnchanged {
			continue
		}
		data, found, err := s.resolver.valueAt(ctx, head, op.Key)
		if err != nil || !found {
			continue
		}
		old, err := s.decodeValue(data)
		if err != nil {
			s.log.WarnCtx(ctx, "skip asset scan", "key", op.Key.String(), "err", err)
			continue
		}
		var kept []AssetKey
		if op.Kind == OpPut {
			kept = s.worker.AssetKeys(op.Value)
		}
		dropped = append(dropped, supersededAssets(s.worker.AssetKeys(old), kept)...)
	}
	return dropped
}

// unreachableAssets filters candidates down to the assets no live key of any
// ref head still references. The commit's own head is one of those refs.
// If any head cannot be scanned nothing is returned.
func (s *Store[V, M]) unreachableAssets(ctx context.Context, candidates []AssetKey) []AssetKey {
	if len(candidates) == 0 {
		return nil
	}
	pending := make(map[AssetKey]struct{}, len(candidates))
	for _, k := range candidates {
		pending[k] = struct{}{}
	}

	refs, err := s.backend.ListRefs(ctx)
	if err != nil {
		s.log.WarnCtx(ctx, "skip asset cleanup", "err", err)
		return nil
	}
	scanned := make(map[Hash]struct{}, len(refs))
	for _, r := range refs {
		if _, ok := scanned[r.Hash]; ok {
			continue
		}
		scanned[r.Hash] = struct{}{}
		live, err := s.resolver.snapshot(ctx, r.Hash)
		if err != nil {
			s.log.WarnCtx(ctx, "skip asset cleanup", "ref", r.Ref.String(), "err", err)
			return nil
		}
		for _, e := range live {
			v, err := s.decodeValue(e.value)
			if err != nil {
				s.log.WarnCtx(ctx, "skip asset cleanup", "ref", r.Ref.String(), "key", e.key.String(), "err", err)
				return nil
			}
			for _, k := range s.worker.AssetKeys(v) {
				delete(pending, k)
			}
			if len(pending) == 0 {
				return nil
			}
		}
	}

	var out []AssetKey
	for _, k := range candidates {
		if _, ok := pending[k]; ok {
			out = append(out, k)
			delete(pending, k)
		}
	}
	return out
}

// valueHash is the hash MatchingValue compares against: NoHash for an
// absent key, otherwise the hash of the serialized value.
func valueHash(data []byte, found bool) (Hash, error) {
	if !found {
		return NoHash, nil
	}
	return HashOf(data)
}
