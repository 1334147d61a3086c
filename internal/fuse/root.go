package fuse

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/versioned"
)

// RootNode is the mountpoint directory. Contains "branches/" and "tags/".
type RootNode struct {
	fs.Inode
	store Store
	reads *ReadLog
}

var _ = (fs.NodeOnAdder)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) OnAdd(ctx context.Context) {
	for _, kind := range []versioned.RefKind{versioned.BranchKind, versioned.TagKind} {
		name := kindDir(kind)
		dir := &RefsDir{store: r.store, reads: r.reads, kind: kind}
		child := r.NewPersistentInode(ctx, dir, fs.StableAttr{
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(name),
		})
		r.AddChild(name, child, true)
	}
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("/")
	return fs.OK
}

func kindDir(kind versioned.RefKind) string {
	if kind == versioned.TagKind {
		return "tags"
	}
	return "branches"
}

// refPath is the directory of ref relative to the mount root. Ref names may
// contain '/', so they are escaped into one path element.
func refPath(ref versioned.NamedRef) string {
	return kindDir(ref.Kind) + "/" + url.PathEscape(ref.Name)
}

// errno maps store errors onto the codes a file system caller expects.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case errors.Is(err, versioned.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, versioned.ErrInvalidArgument):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// RefsDir lists the refs of one kind.
type RefsDir struct {
	fs.Inode
	store Store
	reads *ReadLog
	kind  versioned.RefKind
}

var _ = (fs.NodeLookuper)((*RefsDir)(nil))
var _ = (fs.NodeReaddirer)((*RefsDir)(nil))
var _ = (fs.NodeGetattrer)((*RefsDir)(nil))

func (d *RefsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(kindDir(d.kind))
	return fs.OK
}

// refNames returns the escaped names of every ref of kind, sorted.
func refNames(ctx context.Context, store Store, kind versioned.RefKind) ([]string, error) {
	refs, err := store.GetNamedRefs(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range refs {
		if r.Value.Kind == kind {
			names = append(names, url.PathEscape(r.Value.Name))
		}
	}
	slices.Sort(names)
	return names, nil
}

func (d *RefsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := refNames(ctx, d.store, d.kind)
	if err != nil {
		return nil, errno(err)
	}
	entries := make([]fuse.DirEntry, len(names))
	for i, name := range names {
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(kindDir(d.kind) + "/" + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *RefsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	refName, err := url.PathUnescape(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	ref := versioned.NamedRef{Kind: d.kind, Name: refName}
	if _, err := d.store.ToHash(ctx, ref); err != nil {
		return nil, errno(err)
	}
	dir := &RefDir{store: d.store, reads: d.reads, ref: ref}
	child := d.NewInode(ctx, dir, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno(refPath(ref)),
	})
	return child, fs.OK
}
