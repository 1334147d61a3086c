package versioned

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Hash identifies a commit by content. It is a CIDv1 (raw codec) over a
// SHA2-256 multihash of the commit's canonical encoding.
type Hash struct {
	c gocid.Cid
}

// NoHash is the zero Hash. Optional hash arguments use it to mean "absent".
var NoHash Hash

// HashOf computes the Hash of data.
func HashOf(data []byte) (Hash, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return NoHash, fmt.Errorf("multihash: %w", err)
	}
	return Hash{c: gocid.NewCidV1(gocid.Raw, mh)}, nil
}

// ParseHash decodes the multibase text form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	_, raw, err := multibase.Decode(s)
	if err != nil {
		return NoHash, fmt.Errorf("%w: decode hash %q: %v", ErrInvalidArgument, s, err)
	}
	return HashFromBytes(raw)
}

// HashFromBytes casts binary CID bytes back into a Hash.
func HashFromBytes(raw []byte) (Hash, error) {
	c, err := gocid.Cast(raw)
	if err != nil {
		return NoHash, fmt.Errorf("%w: cast hash: %v", ErrInvalidArgument, err)
	}
	return Hash{c: c}, nil
}

// IsZero reports whether h is NoHash.
func (h Hash) IsZero() bool {
	return !h.c.Defined()
}

// Bytes returns the binary CID, or nil for NoHash.
func (h Hash) Bytes() []byte {
	if h.IsZero() {
		return nil
	}
	return h.c.Bytes()
}

// String returns the base32 multibase encoding. It is safe to use as a filename.
func (h Hash) String() string {
	if h.IsZero() {
		return ""
	}
	encoded, _ := multibase.Encode(multibase.Base32, h.c.Bytes())
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text yields NoHash.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = NoHash
		return nil
	}
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (Hash) isRef() {}
