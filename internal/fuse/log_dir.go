package fuse

import (
	"context"
	"fmt"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/versioned"
)

const maxLogEntries = 64

// LogDir exposes recent commits of a ref as files.
// Layout: log/0 (newest commit), log/1, ...
type LogDir struct {
	fs.Inode
	store Store
	ref   versioned.NamedRef
}

var _ = (fs.NodeLookuper)((*LogDir)(nil))
var _ = (fs.NodeReaddirer)((*LogDir)(nil))
var _ = (fs.NodeGetattrer)((*LogDir)(nil))

func (d *LogDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(refPath(d.ref) + "/log")
	return fs.OK
}

// recentCommits returns up to n commits of ref, newest first.
func recentCommits(ctx context.Context, store Store, ref versioned.NamedRef, n int) ([]versioned.WithHash[string], error) {
	seq, err := store.GetCommits(ctx, ref)
	if err != nil {
		return nil, err
	}
	var out []versioned.WithHash[string]
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if len(out) >= n {
			break
		}
	}
	return out, nil
}

func (d *LogDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	commits, err := recentCommits(ctx, d.store, d.ref, maxLogEntries)
	if err != nil {
		return nil, errno(err)
	}
	base := refPath(d.ref) + "/log/"
	entries := make([]fuse.DirEntry, len(commits))
	for i := range commits {
		name := strconv.Itoa(i)
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno(base + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *LogDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= maxLogEntries || strconv.Itoa(idx) != name {
		return nil, syscall.ENOENT
	}
	commits, err := recentCommits(ctx, d.store, d.ref, idx+1)
	if err != nil {
		return nil, errno(err)
	}
	if idx >= len(commits) {
		return nil, syscall.ENOENT
	}

	// The entry is pinned to the commit seen here, not to whatever the
	// ref points to when it is read.
	data := logEntryBytes(commits[idx])
	f := &DataFile{path: refPath(d.ref) + "/log/" + name, load: func(context.Context) ([]byte, error) {
		return data, nil
	}}
	child := d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(f.path),
	})
	return child, fs.OK
}

func logEntryBytes(c versioned.WithHash[string]) []byte {
	return []byte(fmt.Sprintf("%s\n%s\n", c.Hash, c.Value))
}
