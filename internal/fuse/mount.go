// Package fuse mounts a read-only view of a version store:
//
//	branches/<name>/HEAD        commit hash
//	branches/<name>/keys/<key>  value bytes, key in dotted form
//	branches/<name>/log/<n>     n-th newest commit: hash, then metadata
//	tags/<name>/...             same shape
//
// Every read resolves the ref again, so the view follows commits made
// while it is mounted.
package fuse

import (
	"context"
	"iter"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrioni/nessie/internal/versioned"
)

// Store is the part of versioned.Store the view reads.
type Store interface {
	GetNamedRefs(ctx context.Context) ([]versioned.WithHash[versioned.NamedRef], error)
	ToHash(ctx context.Context, ref versioned.NamedRef) (versioned.Hash, error)
	GetKeys(ctx context.Context, ref versioned.Ref) ([]versioned.Key, error)
	GetValue(ctx context.Context, ref versioned.Ref, key versioned.Key) ([]byte, bool, error)
	GetCommits(ctx context.Context, ref versioned.Ref) (iter.Seq2[versioned.WithHash[string], error], error)
}

var _ Store = (*versioned.Store[[]byte, string])(nil)

// MountOptions tune a mount.
type MountOptions struct {
	Debug bool
	// ReadLog, if set, records every value read.
	ReadLog *ReadLog
}

// MountFS mounts the view of store at mountpoint.
// Returns the server (call server.Wait() to block, server.Unmount() to stop).
func MountFS(mountpoint string, store Store, mo MountOptions) (*gofuse.Server, error) {
	root := &RootNode{store: store, reads: mo.ReadLog}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:        "nessie",
			Name:          "nessie",
			DisableXAttrs: true,
			Debug:         mo.Debug,
			Options:       []string{"ro"},
		},
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}
