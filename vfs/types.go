// Package vfs implements the polymorphic file-descriptor layer sitting
// above the ext2 driver and the named-pipe subsystem: a single
// FileDescriptor type whose behavior is supplied by an fileOps
// implementation chosen at open time (regular file, directory, fifo,
// or a registered device), mirroring file_descriptor_t's vtable of
// function pointers in kernel/syscalls/descriptor.h.
package vfs

import "io"

// Mode bits, POSIX-style (syscalls/descriptor.h's FILE_MODE_*).
const (
	ModeRead           = 0x01
	ModeWrite          = 0x02
	ModeAppend         = 0x04
	ModeCreate         = 0x08
	ModeTruncate       = 0x10
	ModeDeleteOnClose  = 0x20
	ModeExclusive      = 0x40
	ModeNonblocking    = 0x80
)

// Type bits, matching POSIX octal S_IF* values (FILE_TYPE_*).
const (
	TypeFIFO      = 0010000
	TypeCharacter = 0020000
	TypeDirectory = 0040000
	TypeBlock     = 0060000
	TypeRegular   = 0100000
	TypeSymbolic  = 0120000
	TypeSocket    = 0140000

	typeMask = 0170000
)

// Whence values for Seek (kept distinct from io.Seek* so descriptor
// consumers can use either the POSIX or the io spelling).
const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

// Stat mirrors sys_stat_type: the subset of inode metadata a caller of
// FileDescriptor.Stat can observe.
type Stat struct {
	DeviceID     uint32
	InodeNum     uint32
	Mode         uint32
	LinkCount    uint16
	UID, GID     uint16
	Size         uint64
	BlockSize    uint32
	Num512Blocks uint32
	Atime, Mtime, Ctime uint32
}

// fileOps is the vtable a FileDescriptor dispatches through. Every
// method takes the owning *FileDescriptor so an implementation can
// reach the mode/offset state the descriptor itself owns, the way the
// source's function pointers take the file_descriptor_t* as their
// first argument.
type fileOps interface {
	Read(fd *FileDescriptor, p []byte) (int, error)
	Write(fd *FileDescriptor, p []byte) (int, error)
	Seek(fd *FileDescriptor, offset int64, whence int) (int64, error)
	Truncate(fd *FileDescriptor, size uint64) error
	Stat(fd *FileDescriptor) (Stat, error)
	Ioctl(fd *FileDescriptor, request uint32, arg []byte) error
	CanRead(fd *FileDescriptor) bool
	CanWrite(fd *FileDescriptor) bool
	Duplicate(fd *FileDescriptor) (fileOps, error)
	Close(fd *FileDescriptor) error
}
