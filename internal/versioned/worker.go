package versioned

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
)

// Serializer converts typed values to the opaque bytes a Backend stores.
type Serializer[T any] interface {
	ToBytes(T) ([]byte, error)
	FromBytes([]byte) (T, error)
}

// AssetKey names a large object stored outside the version store.
type AssetKey string

// Worker bundles what a Store needs to know about its value and metadata
// types.
type Worker[V, M any] interface {
	ValueSerializer() Serializer[V]
	MetadataSerializer() Serializer[M]
	// AssetKeys lists the external assets v refers to.
	AssetKeys(v V) []AssetKey
	// DeleteAsset removes an asset that no value refers to anymore. The
	// store calls it off the commit path.
	DeleteAsset(ctx context.Context, key AssetKey) error
}

// NewWorker returns a Worker whose values reference no assets.
func NewWorker[V, M any](values Serializer[V], metadata Serializer[M]) Worker[V, M] {
	return simpleWorker[V, M]{values: values, metadata: metadata}
}

type simpleWorker[V, M any] struct {
	values   Serializer[V]
	metadata Serializer[M]
}

func (w simpleWorker[V, M]) ValueSerializer() Serializer[V]    { return w.values }
func (w simpleWorker[V, M]) MetadataSerializer() Serializer[M] { return w.metadata }
func (w simpleWorker[V, M]) AssetKeys(V) []AssetKey            { return nil }

func (w simpleWorker[V, M]) DeleteAsset(context.Context, AssetKey) error {
	return errors.New("versioned: worker has no asset store")
}

// StringSerializer stores strings as UTF-8 bytes.
type StringSerializer struct{}

func (StringSerializer) ToBytes(s string) ([]byte, error)   { return []byte(s), nil }
func (StringSerializer) FromBytes(b []byte) (string, error) { return string(b), nil }

// BytesSerializer stores byte slices as they are.
type BytesSerializer struct{}

func (BytesSerializer) ToBytes(b []byte) ([]byte, error)   { return slices.Clone(b), nil }
func (BytesSerializer) FromBytes(b []byte) ([]byte, error) { return slices.Clone(b), nil }

// JSONSerializer stores values as canonical JSON, so equal values always
// produce equal bytes.
type JSONSerializer[T any] struct{}

func (JSONSerializer[T]) ToBytes(v T) ([]byte, error) {
	return CanonicalJSON(v)
}

func (JSONSerializer[T]) FromBytes(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
