package versioned

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommitCanonical(t *testing.T) {
	data, h, err := EncodeCommit(RootRecord())
	require.NoError(t, err)
	assert.Equal(t, `{"metadata":"bm9uZQ==","operations":[],"v":1}`, string(data))

	again, h2, err := EncodeCommit(&CommitRecord{Metadata: []byte("none")})
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, h, h2)
}

func TestDecodeCommit(t *testing.T) {
	root, err := HashOf([]byte("parent"))
	require.NoError(t, err)
	rec := &CommitRecord{
		Parent:   root,
		Metadata: []byte("msg"),
		Operations: []RecordOp{
			{Kind: OpPut, Key: MustKey("a", "b.c"), Value: []byte("v")},
			{Kind: OpDelete, Key: MustKey("d")},
			{Kind: OpUnchanged, Key: MustKey("e")},
		},
	}
	data, _, err := EncodeCommit(rec)
	require.NoError(t, err)

	got, err := DecodeCommit(data)
	require.NoError(t, err)
	assert.Equal(t, root, got.Parent)
	assert.False(t, got.IsRoot())
	assert.Equal(t, []byte("msg"), got.Metadata)
	require.Len(t, got.Operations, 3)
	assert.Equal(t, OpPut, got.Operations[0].Kind)
	assert.Equal(t, []string{"a", "b.c"}, got.Operations[0].Key.Elements())
	assert.Equal(t, []byte("v"), got.Operations[0].Value)
	assert.Equal(t, OpDelete, got.Operations[1].Kind)
	assert.Equal(t, OpUnchanged, got.Operations[2].Kind)
}

func TestDecodeCommitRejectsBadInput(t *testing.T) {
	for name, input := range map[string]string{
		"not json":    `{`,
		"old version": `{"v":0,"metadata":"","operations":[]}`,
		"bad parent":  `{"v":1,"parent":"!bad","metadata":"","operations":[]}`,
		"bad op":      `{"v":1,"metadata":"","operations":[{"op":"merge","key":["a"]}]}`,
		"empty key":   `{"v":1,"metadata":"","operations":[{"op":"put","key":[]}]}`,
	} {
		_, err := DecodeCommit([]byte(input))
		assert.Error(t, err, name)
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1}`, string(data))
}

func TestCanonicalJSONKeepsNumbers(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"n": json.RawMessage(`[1e400,-0.50,12345678901234567890]`)})
	require.NoError(t, err)
	assert.Equal(t, `{"n":[1e400,-0.50,12345678901234567890]}`, string(data))
}

type snapshotRef struct {
	SnapshotID int64  `json:"snapshot_id"`
	Location   string `json:"location"`
}

func TestJSONSerializerKeepsLargeIntegers(t *testing.T) {
	in := snapshotRef{SnapshotID: 1<<53 + 1, Location: "s3://bucket/t1/v2.json"}
	s := JSONSerializer[snapshotRef]{}

	data, err := s.ToBytes(in)
	require.NoError(t, err)
	assert.Equal(t, `{"location":"s3://bucket/t1/v2.json","snapshot_id":9007199254740993}`, string(data))

	out, err := s.FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	lowest := snapshotRef{SnapshotID: -1 << 63}
	data, err = s.ToBytes(lowest)
	require.NoError(t, err)
	out, err = s.FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, lowest, out)
}

func TestSupersededAssets(t *testing.T) {
	assert.Nil(t, supersededAssets(nil, []AssetKey{"a"}))
	assert.Equal(t, []AssetKey{"a"}, supersededAssets([]AssetKey{"a", "b"}, []AssetKey{"b", "c"}))
	assert.Equal(t, []AssetKey{"a", "b"}, supersededAssets([]AssetKey{"a", "b", "a"}, nil))
}
