package assets

import (
	"context"
	"encoding/json"
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/andrioni/nessie/internal/logging"
	"github.com/andrioni/nessie/internal/versioned"
)

// Manifest is the part of a value document the asset worker reads. Other
// fields in the document are preserved by the store but ignored here.
type Manifest struct {
	Assets []string `json:"assets"`
}

// ParseManifest reads the assets array of a JSON value. Values that are not
// JSON objects have no assets.
func ParseManifest(value []byte) (Manifest, bool) {
	var m Manifest
	if err := json.Unmarshal(value, &m); err != nil {
		return Manifest{}, false
	}
	return m, true
}

// Bytes encodes m as a canonical value document.
func (m Manifest) Bytes() ([]byte, error) {
	return versioned.CanonicalJSON(m)
}

// Worker is a versioned.Worker for raw-byte values whose JSON manifests
// reference IPFS content.
type Worker struct {
	kubo *Client
	log  logging.Logger
}

var _ versioned.Worker[[]byte, string] = (*Worker)(nil)

func NewWorker(kubo *Client, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{kubo: kubo, log: log}
}

func (w *Worker) ValueSerializer() versioned.Serializer[[]byte] {
	return versioned.BytesSerializer{}
}

func (w *Worker) MetadataSerializer() versioned.Serializer[string] {
	return versioned.StringSerializer{}
}

// AssetKeys lists the valid CIDs in v's manifest. Invalid entries are
// skipped so a malformed document never unpins anything.
func (w *Worker) AssetKeys(v []byte) []versioned.AssetKey {
	m, ok := ParseManifest(v)
	if !ok {
		return nil
	}
	var keys []versioned.AssetKey
	for _, s := range m.Assets {
		c, err := gocid.Decode(s)
		if err != nil {
			w.log.Debug("ignore asset entry", "entry", s, "err", err)
			continue
		}
		keys = append(keys, versioned.AssetKey(c.String()))
	}
	return keys
}

func (w *Worker) DeleteAsset(ctx context.Context, key versioned.AssetKey) error {
	c, err := gocid.Decode(string(key))
	if err != nil {
		return fmt.Errorf("asset %s: %w", key, err)
	}
	return w.kubo.Unpin(ctx, c)
}

// Upload adds content to IPFS, pins it and returns the key to list in a
// manifest.
func (w *Worker) Upload(ctx context.Context, content []byte) (versioned.AssetKey, error) {
	c, err := w.kubo.Add(ctx, content)
	if err != nil {
		return "", err
	}
	if err := w.kubo.Pin(ctx, c); err != nil {
		return "", err
	}
	w.log.Debug("asset uploaded", "cid", c.String(), "size", len(content))
	return versioned.AssetKey(c.String()), nil
}
