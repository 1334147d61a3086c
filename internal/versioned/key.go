package versioned

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Key addresses a value inside a snapshot. It is a hierarchical path of one
// or more non-empty segments.
type Key struct {
	elements []string
}

var segmentEscaper = strings.NewReplacer("%", "%25", ".", "%2E", "/", "%2F")

// NewKey builds a Key from its segments.
func NewKey(elements ...string) (Key, error) {
	if len(elements) == 0 {
		return Key{}, fmt.Errorf("%w: key has no elements", ErrInvalidArgument)
	}
	for i, e := range elements {
		if e == "" {
			return Key{}, fmt.Errorf("%w: key element %d is empty", ErrInvalidArgument, i)
		}
	}
	return Key{elements: slices.Clone(elements)}, nil
}

// MustKey is NewKey for literals; it panics on an invalid key.
func MustKey(elements ...string) Key {
	k, err := NewKey(elements...)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKey parses the dotted form produced by Key.String.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	parts := strings.Split(s, ".")
	for i, p := range parts {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return Key{}, fmt.Errorf("%w: key %q: %v", ErrInvalidArgument, s, err)
		}
		parts[i] = unescaped
	}
	return NewKey(parts...)
}

// Elements returns a copy of the key's segments.
func (k Key) Elements() []string {
	return slices.Clone(k.elements)
}

// Len returns the number of segments.
func (k Key) Len() int {
	return len(k.elements)
}

// IsZero reports whether k has no segments.
func (k Key) IsZero() bool {
	return len(k.elements) == 0
}

// String joins the escaped segments with dots. Segments never contain a
// literal '.', '/' or '%' in this form, so the result is usable as a filename.
func (k Key) String() string {
	escaped := make([]string, len(k.elements))
	for i, e := range k.elements {
		escaped[i] = segmentEscaper.Replace(e)
	}
	return strings.Join(escaped, ".")
}

// Equal compares segment-wise.
func (k Key) Equal(other Key) bool {
	return slices.Equal(k.elements, other.elements)
}

// Compare orders keys segment by segment.
func (k Key) Compare(other Key) int {
	return slices.Compare(k.elements, other.elements)
}
