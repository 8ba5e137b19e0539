// Package blockdev implements the block-device port the rest of the
// core filesystem stack is built on: a seekable, byte-addressed,
// mutex-serialized logical volume.
package blockdev

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrShortIO is returned when a read or write transfers fewer bytes
// than requested and the underlying device gives no other reason.
var ErrShortIO = errors.New("blockdev: short transfer")

// BlockDev is a seekable byte-addressed partition. Every multi-step
// read-modify-write sequence (bitmap flip, directory splice, inode
// update) is expected to happen inside one Lock/Unlock critical
// section so it cannot be interleaved with another such sequence.
type BlockDev interface {
	io.ReaderAt
	io.WriterAt
	Lock()
	Unlock()
	Seek(offset int64, whence int) (int64, error)
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Size() int64
}

// FileDev backs a BlockDev with a raw disk-image file on the host.
type FileDev struct {
	mu   sync.Mutex
	f    *os.File
	pos  int64
	size int64
}

// OpenFile opens path as a block device image. If exclusive is true,
// an advisory exclusive lock (flock) is taken for the lifetime of the
// device, matching the single-owner critical section the core assumes
// of its block-device port.
func OpenFile(path string, exclusive bool) (*FileDev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if exclusive {
		mode := unix.LOCK_EX | unix.LOCK_NB
		if err := unix.Flock(int(f.Fd()), mode); err != nil {
			f.Close()
			return nil, err
		}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDev{f: f, size: fi.Size()}, nil
}

// CreateFile creates a new disk-image file of the given size, suitable
// for mkfs to format.
func CreateFile(path string, size int64) (*FileDev, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// Fallocate isn't supported on every filesystem; fall back to
		// a plain truncate, which still reserves the logical size.
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	}
	return &FileDev{f: f, size: size}, nil
}

func (d *FileDev) Lock()   { d.mu.Lock() }
func (d *FileDev) Unlock() { d.mu.Unlock() }

func (d *FileDev) Size() int64 { return d.size }

func (d *FileDev) Seek(offset int64, whence int) (int64, error) {
	pos, err := d.f.Seek(offset, whence)
	if err == nil {
		d.pos = pos
	}
	return pos, err
}

func (d *FileDev) Read(buf []byte) (int, error) {
	n, err := d.f.Read(buf)
	d.pos += int64(n)
	return n, err
}

func (d *FileDev) Write(buf []byte) (int, error) {
	n, err := d.f.Write(buf)
	d.pos += int64(n)
	return n, err
}

func (d *FileDev) ReadAt(buf []byte, off int64) (int, error) {
	return d.f.ReadAt(buf, off)
}

func (d *FileDev) WriteAt(buf []byte, off int64) (int, error) {
	return d.f.WriteAt(buf, off)
}

// Sync flushes the backing file.
func (d *FileDev) Sync() error {
	return d.f.Sync()
}

// Close releases the advisory lock (if any) and closes the file.
func (d *FileDev) Close() error {
	return d.f.Close()
}

// MemDev is an in-memory BlockDev, used by the package test suites so
// they do not need to touch a real disk image.
type MemDev struct {
	mu   sync.Mutex
	buf  []byte
	pos  int64
}

// NewMemDev allocates a zero-filled in-memory volume of the given size.
func NewMemDev(size int64) *MemDev {
	return &MemDev{buf: make([]byte, size)}
}

func (d *MemDev) Lock()   { d.mu.Lock() }
func (d *MemDev) Unlock() { d.mu.Unlock() }

func (d *MemDev) Size() int64 { return int64(len(d.buf)) }

func (d *MemDev) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = d.pos
	case io.SeekEnd:
		base = int64(len(d.buf))
	default:
		return 0, errors.New("blockdev: invalid whence")
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("blockdev: negative position")
	}
	d.pos = pos
	return pos, nil
}

func (d *MemDev) Read(buf []byte) (int, error) {
	n, err := d.ReadAt(buf, d.pos)
	d.pos += int64(n)
	return n, err
}

func (d *MemDev) Write(buf []byte) (int, error) {
	n, err := d.WriteAt(buf, d.pos)
	d.pos += int64(n)
	return n, err
}

func (d *MemDev) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.buf)) {
		return 0, io.EOF
	}
	n := copy(buf, d.buf[off:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MemDev) WriteAt(buf []byte, off int64) (int, error) {
	need := off + int64(len(buf))
	if need > int64(len(d.buf)) {
		grown := make([]byte, need)
		copy(grown, d.buf)
		d.buf = grown
	}
	return copy(d.buf[off:], buf), nil
}
