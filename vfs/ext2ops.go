package vfs

import (
	"io"

	"github.com/nsingh/neilfs/ext2"
)

// ext2FileOps backs a regular-file FileDescriptor with an ext2 inode.
type ext2FileOps struct {
	fs  *ext2.FileSystem
	ino *ext2.Inode
}

func (o *ext2FileOps) Read(fd *FileDescriptor, p []byte) (int, error) {
	n, err := o.fs.ReadAt(o.ino, p, uint64(fd.offset))
	if n == 0 && err == nil && fd.offset >= int64(o.ino.Raw.Size64()) {
		return 0, io.EOF
	}
	return n, err
}

// Write writes at the file's current end when ModeAppend is set,
// otherwise at fd's current offset. The caller (FileDescriptor.Write)
// advances fd.offset by the returned n after this returns, so when
// appending, fd.offset is rewound to the write's start position here
// first, making that generic += n land on the correct end offset.
func (o *ext2FileOps) Write(fd *FileDescriptor, p []byte) (int, error) {
	off := fd.offset
	if fd.Mode&ModeAppend != 0 {
		off = int64(o.ino.Raw.Size64())
		fd.offset = off
	}
	return o.fs.WriteAt(o.ino, p, uint64(off))
}

// Seek repositions fd past the file's current size is allowed; on a
// writable descriptor this immediately extends the file to pos via
// Truncate, zero-filling the gap the way a following write would
// otherwise leave un-zeroed (spec.md §4.6's lseek-past-EOF behavior).
func (o *ext2FileOps) Seek(fd *FileDescriptor, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = fd.offset
	case SeekEnd:
		base = int64(o.ino.Raw.Size64())
	}
	pos := base + offset
	if pos < 0 {
		pos = 0
	}
	if fd.Mode&ModeWrite != 0 && pos > int64(o.ino.Raw.Size64()) {
		if err := o.fs.Truncate(o.ino, uint64(pos)); err != nil {
			return fd.offset, err
		}
	}
	return pos, nil
}

func (o *ext2FileOps) Truncate(fd *FileDescriptor, size uint64) error {
	return o.fs.Truncate(o.ino, size)
}

func (o *ext2FileOps) Stat(fd *FileDescriptor) (Stat, error) {
	r := o.ino.Raw
	sb := o.fs.Superblock()
	// num_512_blocks = (size>>9)+1 for a non-empty file: preserved
	// source off-by-one. An empty file reports 0.
	var num512 uint32
	if r.Size64() > 0 {
		num512 = uint32(r.Size64()>>9) + 1
	}
	return Stat{
		DeviceID:     o.fs.DeviceID(),
		InodeNum:     o.ino.Num,
		Mode:         uint32(r.Mode),
		LinkCount:    r.LinkCount,
		UID:          r.UID,
		GID:          r.GID,
		Size:         r.Size64(),
		BlockSize:    sb.BlockSize(),
		Num512Blocks: num512,
		Atime:        r.Atime,
		Mtime:        r.Mtime,
		Ctime:        r.Ctime,
	}, nil
}

func (o *ext2FileOps) Ioctl(fd *FileDescriptor, request uint32, arg []byte) error {
	return ErrUnsupported
}

func (o *ext2FileOps) CanRead(fd *FileDescriptor) bool  { return true }
func (o *ext2FileOps) CanWrite(fd *FileDescriptor) bool { return true }

func (o *ext2FileOps) Duplicate(fd *FileDescriptor) (fileOps, error) {
	ino := *o.ino
	return &ext2FileOps{fs: o.fs, ino: &ino}, nil
}

func (o *ext2FileOps) Close(fd *FileDescriptor) error {
	if fd.Mode&ModeDeleteOnClose != 0 {
		// Unlink the path this descriptor was opened under.
		parent, err := o.fs.Resolve(ext2.Parent(fd.Filename))
		if err != nil {
			return err
		}
		return o.fs.Unlink(parent, ext2.LastComponent(fd.Filename), false)
	}
	return nil
}

// ext2DirOps backs a directory FileDescriptor, exposing iteration via
// ReadDir rather than Read (matching descriptor.h's directories
// never being read as a byte stream).
type ext2DirOps struct {
	fs  *ext2.FileSystem
	ino *ext2.Inode
}

func (o *ext2DirOps) Read(fd *FileDescriptor, p []byte) (int, error)  { return 0, ErrIsDirectory }
func (o *ext2DirOps) Write(fd *FileDescriptor, p []byte) (int, error) { return 0, ErrIsDirectory }

func (o *ext2DirOps) Seek(fd *FileDescriptor, offset int64, whence int) (int64, error) {
	return 0, nil
}

func (o *ext2DirOps) Truncate(fd *FileDescriptor, size uint64) error { return ErrIsDirectory }

func (o *ext2DirOps) Stat(fd *FileDescriptor) (Stat, error) {
	r := o.ino.Raw
	sb := o.fs.Superblock()
	return Stat{
		DeviceID:     o.fs.DeviceID(),
		InodeNum:     o.ino.Num,
		Mode:         uint32(r.Mode),
		LinkCount:    r.LinkCount,
		UID:          r.UID,
		GID:          r.GID,
		Size:         r.Size64(),
		BlockSize:    sb.BlockSize(),
		Num512Blocks: uint32(r.Size64()>>9) + 1,
		Atime:        r.Atime,
		Mtime:        r.Mtime,
		Ctime:        r.Ctime,
	}, nil
}

func (o *ext2DirOps) Ioctl(fd *FileDescriptor, request uint32, arg []byte) error {
	return ErrUnsupported
}
func (o *ext2DirOps) CanRead(fd *FileDescriptor) bool  { return true }
func (o *ext2DirOps) CanWrite(fd *FileDescriptor) bool { return false }

func (o *ext2DirOps) Duplicate(fd *FileDescriptor) (fileOps, error) {
	ino := *o.ino
	return &ext2DirOps{fs: o.fs, ino: &ino}, nil
}

func (o *ext2DirOps) Close(fd *FileDescriptor) error { return nil }

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name     string
	InodeNum uint32
	FileType uint8
}

// ReadDir lists the entries of a directory descriptor, skipping "."
// and "..".
func ReadDir(fd *FileDescriptor) ([]DirEntry, error) {
	o, ok := fd.ops.(*ext2DirOps)
	if !ok {
		return nil, ErrNotDirectory
	}
	it, err := o.fs.NewDirIter(o.ino)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	for {
		e, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, DirEntry{Name: e.Name, InodeNum: e.Inode, FileType: e.FileType})
	}
}
