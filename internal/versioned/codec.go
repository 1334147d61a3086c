package versioned

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const commitFormatVersion = 1

// RootMetadata is stored in the root commit every new branch starts from.
var RootMetadata = []byte("none")

// commitEnvelope is the on-disk format of a commit.
type commitEnvelope struct {
	V          int          `json:"v"`
	Parent     string       `json:"parent,omitempty"`
	Metadata   []byte       `json:"metadata"`
	Operations []opEnvelope `json:"operations"`
}

type opEnvelope struct {
	Op    string   `json:"op"`
	Key   []string `json:"key"`
	Value []byte   `json:"value,omitempty"`
}

// RootRecord returns the empty, parentless commit a fresh branch points to.
func RootRecord() *CommitRecord {
	return &CommitRecord{Metadata: RootMetadata}
}

// EncodeCommit serializes rec canonically and returns the bytes and their hash.
// Every Backend stores and addresses commits through this function.
func EncodeCommit(rec *CommitRecord) ([]byte, Hash, error) {
	env := commitEnvelope{
		V:          commitFormatVersion,
		Parent:     rec.Parent.String(),
		Metadata:   rec.Metadata,
		Operations: make([]opEnvelope, 0, len(rec.Operations)),
	}
	if env.Metadata == nil {
		env.Metadata = []byte{}
	}
	for _, op := range rec.Operations {
		env.Operations = append(env.Operations, opEnvelope{
			Op:    op.Kind.String(),
			Key:   op.Key.Elements(),
			Value: op.Value,
		})
	}
	data, err := CanonicalJSON(env)
	if err != nil {
		return nil, NoHash, fmt.Errorf("serialize commit: %w", err)
	}
	h, err := HashOf(data)
	if err != nil {
		return nil, NoHash, err
	}
	return data, h, nil
}

// DecodeCommit is the inverse of EncodeCommit.
func DecodeCommit(data []byte) (*CommitRecord, error) {
	var env commitEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	if env.V != commitFormatVersion {
		return nil, fmt.Errorf("unsupported commit version %d", env.V)
	}
	rec := &CommitRecord{Metadata: env.Metadata}
	if env.Parent != "" {
		parent, err := ParseHash(env.Parent)
		if err != nil {
			return nil, fmt.Errorf("commit parent: %w", err)
		}
		rec.Parent = parent
	}
	rec.Operations = make([]RecordOp, 0, len(env.Operations))
	for i, op := range env.Operations {
		kind, err := parseOpKind(op.Op)
		if err != nil {
			return nil, fmt.Errorf("commit operation %d: %w", i, err)
		}
		key, err := NewKey(op.Key...)
		if err != nil {
			return nil, fmt.Errorf("commit operation %d: %w", i, err)
		}
		rec.Operations = append(rec.Operations, RecordOp{Kind: kind, Key: key, Value: op.Value})
	}
	return rec, nil
}

// CanonicalJSON marshals v with object keys sorted at every level, so equal
// values always give equal bytes. Numbers are copied through as written.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCanonical appends the decoded JSON tree to buf. Scalars, including
// json.Number, go back through json.Marshal unchanged.
func writeCanonical(buf *bytes.Buffer, node any) error {
	switch n := node.(type) {
	case map[string]any:
		names := make([]string, 0, len(n))
		for name := range n {
			names = append(names, name)
		}
		sort.Strings(names)
		buf.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				buf.WriteByte(',')
			}
			quoted, err := json.Marshal(name)
			if err != nil {
				return err
			}
			buf.Write(quoted)
			buf.WriteByte(':')
			if err := writeCanonical(buf, n[name]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range n {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		scalar, err := json.Marshal(n)
		if err != nil {
			return err
		}
		buf.Write(scalar)
	}
	return nil
}
