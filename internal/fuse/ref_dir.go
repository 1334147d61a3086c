package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/versioned"
)

// RefDir is one branch or tag. Contains "HEAD", "keys/" and "log/".
type RefDir struct {
	fs.Inode
	store Store
	reads *ReadLog
	ref   versioned.NamedRef
}

var _ = (fs.NodeLookuper)((*RefDir)(nil))
var _ = (fs.NodeReaddirer)((*RefDir)(nil))
var _ = (fs.NodeGetattrer)((*RefDir)(nil))

func (d *RefDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(refPath(d.ref))
	return fs.OK
}

func (d *RefDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	base := refPath(d.ref)
	entries := []fuse.DirEntry{
		{Name: "HEAD", Mode: syscall.S_IFREG, Ino: stableIno(base + "/HEAD")},
		{Name: "keys", Mode: syscall.S_IFDIR, Ino: stableIno(base + "/keys")},
		{Name: "log", Mode: syscall.S_IFDIR, Ino: stableIno(base + "/log")},
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *RefDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	base := refPath(d.ref)
	switch name {
	case "HEAD":
		f := &DataFile{path: base + "/HEAD", volatile: true, load: func(ctx context.Context) ([]byte, error) {
			return headBytes(ctx, d.store, d.ref)
		}}
		child := d.NewInode(ctx, f, fs.StableAttr{
			Mode: syscall.S_IFREG,
			Ino:  stableIno(f.path),
		})
		return child, fs.OK

	case "keys":
		dir := &KeysDir{store: d.store, reads: d.reads, ref: d.ref}
		child := d.NewInode(ctx, dir, fs.StableAttr{
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(base + "/keys"),
		})
		return child, fs.OK

	case "log":
		dir := &LogDir{store: d.store, ref: d.ref}
		child := d.NewInode(ctx, dir, fs.StableAttr{
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(base + "/log"),
		})
		return child, fs.OK

	default:
		return nil, syscall.ENOENT
	}
}

func headBytes(ctx context.Context, store Store, ref versioned.NamedRef) ([]byte, error) {
	h, err := store.ToHash(ctx, ref)
	if err != nil {
		return nil, err
	}
	return []byte(h.String() + "\n"), nil
}

// KeysDir lists the keys present at the ref's current head.
type KeysDir struct {
	fs.Inode
	store Store
	reads *ReadLog
	ref   versioned.NamedRef
}

var _ = (fs.NodeLookuper)((*KeysDir)(nil))
var _ = (fs.NodeReaddirer)((*KeysDir)(nil))
var _ = (fs.NodeGetattrer)((*KeysDir)(nil))

func (d *KeysDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(refPath(d.ref) + "/keys")
	return fs.OK
}

func (d *KeysDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	keys, err := d.store.GetKeys(ctx, d.ref)
	if err != nil {
		return nil, errno(err)
	}
	base := refPath(d.ref) + "/keys/"
	entries := make([]fuse.DirEntry, len(keys))
	for i, k := range keys {
		name := k.String()
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno(base + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *KeysDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	key, err := versioned.ParseKey(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if _, err := valueBytes(ctx, d.store, d.ref, key); err != nil {
		return nil, errno(err)
	}
	f := d.valueFile(name, key)
	child := d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(f.path),
	})
	return child, fs.OK
}

// valueFile is the keys/<name> file of key.
func (d *KeysDir) valueFile(name string, key versioned.Key) *DataFile {
	return &DataFile{
		path:     refPath(d.ref) + "/keys/" + name,
		volatile: true,
		load: func(ctx context.Context) ([]byte, error) {
			return valueBytes(ctx, d.store, d.ref, key)
		},
		onRead: func() { d.reads.Log(d.ref, key) },
	}
}

// valueBytes reads key at ref; an absent key is ErrNotFound.
func valueBytes(ctx context.Context, store Store, ref versioned.NamedRef, key versioned.Key) ([]byte, error) {
	v, ok, err := store.GetValue(ctx, ref, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, versioned.ErrNotFound
	}
	return v, nil
}
