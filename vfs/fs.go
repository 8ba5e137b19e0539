package vfs

import (
	"github.com/nsingh/neilfs/ext2"
	"github.com/nsingh/neilfs/fifo"
)

// FileSystem is the mount-wide context every Open/Create call runs
// against: the backing ext2 volume, the named-pipe registry, and the
// device registry consulted for special files, mirroring
// filesystem.c's role of gluing the ext2 driver to descriptor.h's
// polymorphic descriptors.
type FileSystem struct {
	ext2    *ext2.FileSystem
	pipes   *fifo.Registry
	devices *DeviceRegistry
}

// New wraps an already-mounted ext2 volume as a vfs.FileSystem.
func New(ext2fs *ext2.FileSystem) *FileSystem {
	return &FileSystem{
		ext2:    ext2fs,
		pipes:   fifo.NewRegistry(),
		devices: NewDeviceRegistry(),
	}
}

// Devices exposes the device registry so callers can Add handlers
// before any path resolving to their inode is opened.
func (fs *FileSystem) Devices() *DeviceRegistry { return fs.devices }

// Open resolves path and returns a descriptor appropriate to what it
// names: a device handler if the resolved inode is registered, a
// directory descriptor if the inode is a directory, a fifo handle if
// it is a named pipe, or a plain regular-file descriptor otherwise.
// ModeCreate creates a missing regular file; ModeExclusive paired with
// ModeCreate fails if the file already exists.
func (fs *FileSystem) Open(path string, mode uint32) (*FileDescriptor, error) {
	ino, err := fs.ext2.Resolve(path)
	if err == ext2.ErrNotFound {
		if mode&ModeCreate == 0 {
			return nil, ErrNotFound
		}
		return fs.create(path, mode)
	}
	if err != nil {
		return nil, mapExt2Err(err)
	}
	if mode&ModeCreate != 0 && mode&ModeExclusive != 0 {
		return nil, ErrExists
	}

	if open, ok := fs.devices.lookup(ino.Num); ok {
		ops, err := open(ext2.LastComponent(path), mode)
		if err != nil {
			return nil, err
		}
		return newDescriptor(path, uint32(ino.Raw.Mode)&typeMask, mode, ops), nil
	}

	switch {
	case ino.Raw.IsDir():
		return newDescriptor(path, TypeDirectory, mode, &ext2DirOps{fs: fs.ext2, ino: ino}), nil
	case ino.Raw.IsFifo():
		h, err := fs.pipes.Open(path, fifoModeFor(mode), mode&ModeNonblocking != 0)
		if err != nil {
			return nil, err
		}
		return newDescriptor(path, TypeFIFO, mode, &fifoFileOps{h: h}), nil
	default:
		if mode&ModeTruncate != 0 {
			if err := fs.ext2.Truncate(ino, 0); err != nil {
				return nil, err
			}
		}
		fd := newDescriptor(path, TypeRegular, mode, &ext2FileOps{fs: fs.ext2, ino: ino})
		if mode&ModeAppend != 0 {
			fd.offset = int64(ino.Raw.Size64())
		}
		return fd, nil
	}
}

func fifoModeFor(mode uint32) fifo.Mode {
	if mode&ModeWrite != 0 {
		return fifo.ModeWrite
	}
	return fifo.ModeRead
}

func (fs *FileSystem) create(path string, mode uint32) (*FileDescriptor, error) {
	parentPath := ext2.Parent(path)
	name := ext2.LastComponent(path)
	parent, err := fs.ext2.Resolve(parentPath)
	if err != nil {
		return nil, mapExt2Err(err)
	}
	ino, err := fs.ext2.Create(parent, name, uint16(ext2RegularMode))
	if err != nil {
		return nil, mapExt2Err(err)
	}
	fd := newDescriptor(path, TypeRegular, mode, &ext2FileOps{fs: fs.ext2, ino: ino})
	return fd, nil
}

const ext2RegularMode = 0x8000 | 0644 // ModeReg | rw-r--r--

// Mkdir creates a new directory at path.
func (fs *FileSystem) Mkdir(path string) error {
	parentPath := ext2.Parent(path)
	name := ext2.LastComponent(path)
	parent, err := fs.ext2.Resolve(parentPath)
	if err != nil {
		return mapExt2Err(err)
	}
	_, err = fs.ext2.Create(parent, name, 0x4000|0755)
	return mapExt2Err(err)
}

// MkFIFO creates a new named pipe at path.
func (fs *FileSystem) MkFIFO(path string) error {
	parentPath := ext2.Parent(path)
	name := ext2.LastComponent(path)
	parent, err := fs.ext2.Resolve(parentPath)
	if err != nil {
		return mapExt2Err(err)
	}
	_, err = fs.ext2.Create(parent, name, 0x1000|0644)
	return mapExt2Err(err)
}

// Remove unlinks name from its parent directory; force, when true,
// removes a non-empty directory without the emptiness check (the
// fsunlinkalways/fsunlink distinction).
func (fs *FileSystem) Remove(path string, force bool) error {
	parentPath := ext2.Parent(path)
	name := ext2.LastComponent(path)
	parent, err := fs.ext2.Resolve(parentPath)
	if err != nil {
		return mapExt2Err(err)
	}
	return mapExt2Err(fs.ext2.Unlink(parent, name, force))
}

// Link creates a hard link at newPath pointing at oldPath's inode.
func (fs *FileSystem) Link(oldPath, newPath string) error {
	target, err := fs.ext2.Resolve(oldPath)
	if err != nil {
		return mapExt2Err(err)
	}
	parentPath := ext2.Parent(newPath)
	name := ext2.LastComponent(newPath)
	parent, err := fs.ext2.Resolve(parentPath)
	if err != nil {
		return mapExt2Err(err)
	}
	return mapExt2Err(fs.ext2.Link(parent, name, target))
}

func mapExt2Err(err error) error {
	switch err {
	case ext2.ErrNotFound:
		return ErrNotFound
	case ext2.ErrExists:
		return ErrExists
	case ext2.ErrNotDirectory:
		return ErrNotDirectory
	case ext2.ErrIsDirectory:
		return ErrIsDirectory
	default:
		return err
	}
}

