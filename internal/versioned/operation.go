package versioned

import "fmt"

// OpKind is the kind of change an Operation makes to its key.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
	OpUnchanged
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

func parseOpKind(s string) (OpKind, error) {
	switch s {
	case "put":
		return OpPut, nil
	case "delete":
		return OpDelete, nil
	case "unchanged":
		return OpUnchanged, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Operation is one change in a commit.
type Operation[V any] struct {
	Kind  OpKind
	Key   Key
	Value V

	matchValue bool
	expected   Hash
}

// Put sets key to value.
func Put[V any](key Key, value V) Operation[V] {
	return Operation[V]{Kind: OpPut, Key: key, Value: value}
}

// Delete removes key.
func Delete[V any](key Key) Operation[V] {
	return Operation[V]{Kind: OpDelete, Key: key}
}

// Unchanged declares that the commit relies on key's current value without
// modifying it.
func Unchanged[V any](key Key) Operation[V] {
	return Operation[V]{Kind: OpUnchanged, Key: key}
}

// MatchingValue adds a per-key precondition to a Put: at commit time the
// ValueHash of the value at the branch head must equal expected. Pass NoHash
// to require the key to be absent.
func (o Operation[V]) MatchingValue(expected Hash) Operation[V] {
	o.matchValue = true
	o.expected = expected
	return o
}

// ExpectedValue returns the per-key precondition set by MatchingValue.
func (o Operation[V]) ExpectedValue() (Hash, bool) {
	return o.expected, o.matchValue
}

func validateOperations[V any](ops []Operation[V]) error {
	seen := make(map[string]struct{}, len(ops))
	for i, op := range ops {
		if op.Kind != OpPut && op.Kind != OpDelete && op.Kind != OpUnchanged {
			return fmt.Errorf("%w: operation %d has no kind", ErrInvalidArgument, i)
		}
		if op.Key.IsZero() {
			return fmt.Errorf("%w: operation %d has an empty key", ErrInvalidArgument, i)
		}
		if op.matchValue && op.Kind != OpPut {
			return fmt.Errorf("%w: operation %d: only put can match a value", ErrInvalidArgument, i)
		}
		id := op.Key.String()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: key %s appears more than once", ErrInvalidArgument, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
