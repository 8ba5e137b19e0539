package vfs

import (
	"errors"
	"sync"
)

// ErrClosed is returned by any operation attempted on a descriptor
// after Close.
var ErrClosed = errors.New("vfs: descriptor is closed")

// FileDescriptor is the open-file handle every caller operates on, be
// it a regular file, a directory, a fifo, or a registered device.
// Its behavior comes entirely from ops; FileDescriptor itself only
// owns the fields every kind of open file shares (name, mode/type,
// seek offset, refcount, lock), matching file_descriptor_t.
type FileDescriptor struct {
	mu sync.Mutex

	Filename string
	Type     uint32 // one of the Type* bits
	Mode     uint32 // OR of Mode* bits

	offset   int64
	refCount int
	closed   bool

	ops fileOps
}

func newDescriptor(name string, typ uint32, mode uint32, ops fileOps) *FileDescriptor {
	return &FileDescriptor{Filename: name, Type: typ, Mode: mode, refCount: 1, ops: ops}
}

// Read reads into p starting at the descriptor's current offset,
// advancing it by the number of bytes actually read.
func (fd *FileDescriptor) Read(p []byte) (int, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return 0, ErrClosed
	}
	n, err := fd.ops.Read(fd, p)
	fd.offset += int64(n)
	return n, err
}

// Write writes p at the descriptor's current offset (or at the file's
// end, if ModeAppend is set), advancing the offset by the number of
// bytes actually written.
func (fd *FileDescriptor) Write(p []byte) (int, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return 0, ErrClosed
	}
	n, err := fd.ops.Write(fd, p)
	fd.offset += int64(n)
	return n, err
}

// Seek repositions the descriptor's offset through ops.Seek: regular
// files resolve SeekCur against the current offset and SeekEnd against
// the file's size, and descriptors that do not support seeking (pipes)
// reject it outright.
func (fd *FileDescriptor) Seek(offset int64, whence int) (int64, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return 0, ErrClosed
	}
	pos, err := fd.ops.Seek(fd, offset, whence)
	if err != nil {
		return fd.offset, err
	}
	fd.offset = pos
	return pos, nil
}

// Truncate resizes the underlying file to size.
func (fd *FileDescriptor) Truncate(size uint64) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return ErrClosed
	}
	return fd.ops.Truncate(fd, size)
}

// Stat reports the descriptor's current metadata.
func (fd *FileDescriptor) Stat() (Stat, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return Stat{}, ErrClosed
	}
	return fd.ops.Stat(fd)
}

// Ioctl issues a device-specific control request; regular files and
// directories reject every request code.
func (fd *FileDescriptor) Ioctl(request uint32, arg []byte) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return ErrClosed
	}
	return fd.ops.Ioctl(fd, request, arg)
}

// CanRead and CanWrite report whether Read/Write would make progress
// without blocking, used by select/poll-style callers.
func (fd *FileDescriptor) CanRead() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return false
	}
	return fd.ops.CanRead(fd)
}

func (fd *FileDescriptor) CanWrite() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return false
	}
	return fd.ops.CanWrite(fd)
}

// Duplicate returns a new FileDescriptor sharing this one's
// underlying file but with an independent offset, starting at this
// one's current offset, mirroring filesystem_duplicate's deep copy of
// a file_descriptor_t.
func (fd *FileDescriptor) Duplicate() (*FileDescriptor, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return nil, ErrClosed
	}
	dupOps, err := fd.ops.Duplicate(fd)
	if err != nil {
		return nil, err
	}
	nfd := newDescriptor(fd.Filename, fd.Type, fd.Mode, dupOps)
	nfd.offset = fd.offset
	return nfd, nil
}

// Close releases the descriptor. Calling it more than once is a no-op
// after the first.
func (fd *FileDescriptor) Close() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return nil
	}
	fd.closed = true
	return fd.ops.Close(fd)
}
