package versioned

import "fmt"

// RefKind distinguishes branches from tags. It is part of a ref's identity.
type RefKind uint8

const (
	BranchKind RefKind = iota + 1
	TagKind
)

func (k RefKind) String() string {
	switch k {
	case BranchKind:
		return "branch"
	case TagKind:
		return "tag"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// ParseRefKind is the inverse of RefKind.String.
func ParseRefKind(s string) (RefKind, error) {
	switch s {
	case "branch":
		return BranchKind, nil
	case "tag":
		return TagKind, nil
	}
	return 0, fmt.Errorf("%w: unknown ref kind %q", ErrInvalidArgument, s)
}

// NamedRef is a (kind, name) pair. Two refs with the same name and different
// kinds are unrelated.
type NamedRef struct {
	Kind RefKind
	Name string
}

// Branch returns the branch ref with the given name.
func Branch(name string) NamedRef {
	return NamedRef{Kind: BranchKind, Name: name}
}

// Tag returns the tag ref with the given name.
func Tag(name string) NamedRef {
	return NamedRef{Kind: TagKind, Name: name}
}

func (r NamedRef) String() string {
	return r.Kind.String() + ":" + r.Name
}

func (r NamedRef) validate() error {
	if r.Kind != BranchKind && r.Kind != TagKind {
		return fmt.Errorf("%w: ref %q has no kind", ErrInvalidArgument, r.Name)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalidArgument, r.Kind)
	}
	return nil
}

func (NamedRef) isRef() {}

// Ref is either a NamedRef or a Hash.
type Ref interface {
	isRef()
}

// WithHash pairs a value with the commit hash it belongs to.
type WithHash[T any] struct {
	Hash  Hash
	Value T
}
