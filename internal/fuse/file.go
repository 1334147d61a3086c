package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DataFile is a read-only file whose content comes from load. Volatile
// files bypass the kernel page cache because their content follows a ref.
// onRead, if set, runs once per read that starts at offset 0.
type DataFile struct {
	fs.Inode
	path     string
	volatile bool
	load     func(ctx context.Context) ([]byte, error)
	onRead   func()
}

var _ = (fs.NodeGetattrer)((*DataFile)(nil))
var _ = (fs.NodeReader)((*DataFile)(nil))
var _ = (fs.NodeOpener)((*DataFile)(nil))

func (f *DataFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	data, err := f.load(ctx)
	if err != nil {
		return errno(err)
	}
	out.Mode = 0444
	out.Size = uint64(len(data))
	out.Ino = stableIno(f.path)
	return fs.OK
}

func (f *DataFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if f.volatile {
		return nil, fuse.FOPEN_DIRECT_IO, fs.OK
	}
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (f *DataFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.load(ctx)
	if err != nil {
		return nil, errno(err)
	}
	if off == 0 && f.onRead != nil {
		f.onRead()
	}
	return fuse.ReadResultData(readAt(data, dest, off)), fs.OK
}

// readAt returns the slice of data a read of len(dest) bytes at off sees.
func readAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}
