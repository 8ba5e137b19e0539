package ext2

import (
	"strings"
	"time"

	"github.com/nsingh/neilfs/blockdev"
)

// FileSystem is a mounted ext2 volume: the in-core superblock plus the
// block device backing it. There is no inode or block cache - every
// operation reads and writes through to dev, matching the ownership
// rules the original kernel driver followed (a caller holding an Inode
// must call SetInode to persist any change).
type FileSystem struct {
	sb  Superblock
	dev blockdev.BlockDev

	devID               uint32
	errorPolicyOverride *uint16
}

// Open reads and validates the superblock at SuperblockAddress and
// returns a mounted FileSystem.
func Open(dev blockdev.BlockDev, opts ...Option) (*FileSystem, error) {
	buf := make([]byte, 1024)
	if _, err := dev.ReadAt(buf, SuperblockAddress); err != nil {
		return nil, err
	}
	fs := &FileSystem{dev: dev, devID: 1}
	if err := fs.sb.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	if fs.errorPolicyOverride != nil {
		fs.sb.Error = *fs.errorPolicyOverride
	}
	return fs, nil
}

// Superblock returns a copy of the volume's current superblock.
func (fs *FileSystem) Superblock() Superblock { return fs.sb }

// DeviceID returns the device id this mount reports in Stat results.
func (fs *FileSystem) DeviceID() uint32 { return fs.devID }

// RootInode returns the filesystem's root directory inode.
func (fs *FileSystem) RootInode() (*Inode, error) {
	return fs.GetInode(InodeRoot)
}

// now returns the current time truncated to the wire's 32-bit Unix
// timestamp resolution.
func now() uint32 {
	return uint32(time.Now().Unix())
}

// Lookup resolves a slash-separated path starting at dir, following
// one component at a time via directory entry scans. An empty path
// resolves to dir itself.
func (fs *FileSystem) Lookup(dir *Inode, path string) (*Inode, error) {
	ino := dir
	for _, comp := range splitPath(path) {
		if !ino.Raw.IsDir() {
			return nil, ErrNotDirectory
		}
		e, err := fs.findEntry(ino, comp)
		if err != nil {
			return nil, err
		}
		ino, err = fs.GetInode(e.Inode)
		if err != nil {
			return nil, err
		}
	}
	return ino, nil
}

// Resolve walks path from the root inode.
func (fs *FileSystem) Resolve(path string) (*Inode, error) {
	root, err := fs.RootInode()
	if err != nil {
		return nil, err
	}
	return fs.Lookup(root, path)
}

func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func fileTypeFor(mode uint16) uint8 {
	switch mode & modeTypeMask {
	case ModeDir:
		return FTDir
	case ModeReg:
		return FTRegFile
	case ModeFifo:
		return FTFifo
	case ModeChr:
		return FTChrDev
	case ModeBlk:
		return FTBlkDev
	case ModeLink:
		return FTSymlink
	case ModeSock:
		return FTSock
	default:
		return FTUnknown
	}
}

// Create allocates a new inode of the given mode under parent, named
// name, and links it in. Directories are seeded with "." and ".."
// entries; every allocation made before a failing step is unwound.
func (fs *FileSystem) Create(parent *Inode, name string, mode uint16) (*Inode, error) {
	if !parent.Raw.IsDir() {
		return nil, ErrNotDirectory
	}
	if len(name) == 0 || len(name) > MaxNameSize {
		return nil, ErrInvalidName
	}
	if _, err := fs.findEntry(parent, name); err == nil {
		return nil, ErrExists
	} else if err != ErrNotFound {
		return nil, err
	}

	isDir := mode&modeTypeMask == ModeDir
	num, err := fs.allocateInode(isDir)
	if err != nil {
		return nil, err
	}

	ino := &Inode{Num: num}
	ino.Raw.Mode = mode
	ino.Raw.LinkCount = 1
	ts := now()
	ino.Raw.Atime, ino.Raw.Ctime, ino.Raw.Mtime = ts, ts, ts

	if isDir {
		ino.Raw.LinkCount = 2 // "." plus the parent's link to this entry
		if err := fs.initDirBlock(ino, parent.Num); err != nil {
			fs.deallocInode(num, isDir)
			return nil, err
		}
	}

	if err := fs.SetInode(ino); err != nil {
		if isDir {
			fs.deallocBlock(ino.Raw.Blocks[0])
		}
		fs.deallocInode(num, isDir)
		return nil, err
	}

	if err := fs.linkEntry(parent, name, num, fileTypeFor(mode)); err != nil {
		if isDir {
			fs.deallocBlock(ino.Raw.Blocks[0])
		}
		fs.deallocInode(num, isDir)
		return nil, err
	}

	if isDir {
		parent.Raw.LinkCount++
		if err := fs.SetInode(parent); err != nil {
			parent.Raw.LinkCount--
			fs.unlinkEntry(parent, name)
			fs.deallocBlock(ino.Raw.Blocks[0])
			fs.deallocInode(num, isDir)
			return nil, err
		}
	}

	return ino, nil
}

// initDirBlock allocates a directory's first data block and seeds it
// with "." (self) and ".." (parentNum) entries.
func (fs *FileSystem) initDirBlock(dir *Inode, parentNum uint32) error {
	block, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	blockSize := fs.sb.BlockSize()
	buf := make([]byte, blockSize)

	dotLen := alignedSize(1)
	dot := DirEntry{Inode: dir.Num, RecLen: dotLen, FileType: FTDir, Name: "."}
	copy(buf, encodeDirEntry(dot))

	dotdotLen := uint16(blockSize) - dotLen
	dotdot := DirEntry{Inode: parentNum, RecLen: dotdotLen, FileType: FTDir, Name: ".."}
	copy(buf[dotLen:], encodeDirEntry(dotdot))

	if _, err := fs.dev.WriteAt(buf, int64(block)*int64(blockSize)); err != nil {
		fs.deallocBlock(block)
		return err
	}

	dir.Raw.Blocks[0] = block
	dir.Raw.NumBlocks = blockSize / 512
	dir.Raw.SetSize64(uint64(blockSize))
	return nil
}

// Unlink removes name from dir. If the target is a directory, it must
// be empty (only "." and ".." remain) unless force is set, matching
// the fsunlink/fsunlinkalways distinction in the original driver.
func (fs *FileSystem) Unlink(dir *Inode, name string, force bool) error {
	if name == "." || name == ".." {
		return ErrInvalidName
	}
	e, err := fs.findEntry(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.GetInode(e.Inode)
	if err != nil {
		return err
	}

	if target.Raw.IsDir() && !force {
		empty, err := fs.dirIsEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	if err := fs.unlinkEntry(dir, name); err != nil {
		return err
	}

	if target.Raw.IsDir() {
		dir.Raw.LinkCount--
		if err := fs.SetInode(dir); err != nil {
			return err
		}
	}

	target.Raw.LinkCount--
	if target.Raw.LinkCount == 0 {
		if err := fs.freeInodeData(target); err != nil {
			return err
		}
		target.Raw.Dtime = now()
		if err := fs.SetInode(target); err != nil {
			return err
		}
		return fs.deallocInode(target.Num, target.Raw.IsDir())
	}
	return fs.SetInode(target)
}

// RemoveDir is the checked form of Unlink used by callers that must
// refuse to remove a non-empty directory.
func (fs *FileSystem) RemoveDir(dir *Inode, name string) error {
	return fs.Unlink(dir, name, false)
}

func (fs *FileSystem) dirIsEmpty(dir *Inode) (bool, error) {
	it, err := fs.NewDirIter(dir)
	if err != nil {
		return false, err
	}
	for {
		e, ok, err := it.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
}

// Link adds an additional directory entry pointing at an existing
// inode (hard link). Directories cannot be hard-linked.
func (fs *FileSystem) Link(dir *Inode, name string, target *Inode) error {
	if target.Raw.IsDir() {
		return ErrIsDirectory
	}
	if len(name) == 0 || len(name) > MaxNameSize {
		return ErrInvalidName
	}
	if _, err := fs.findEntry(dir, name); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}
	if err := fs.linkEntry(dir, name, target.Num, fileTypeFor(target.Raw.Mode)); err != nil {
		return err
	}
	target.Raw.LinkCount++
	return fs.SetInode(target)
}

// freeInodeData releases every data block (direct and indirect)
// reachable from ino, called once its link count drops to zero.
func (fs *FileSystem) freeInodeData(ino *Inode) error {
	for i := 0; i < NumDirect; i++ {
		if ino.Raw.Blocks[i] != BlockIDInvalid {
			if err := fs.deallocBlockErr(ino.Raw.Blocks[i]); err != nil {
				return err
			}
			ino.Raw.Blocks[i] = BlockIDInvalid
		}
	}
	e := fs.entriesPerBlock()
	for depth := uint32(1); depth <= 3; depth++ {
		slot := NumDirect - 1 + depth
		root := ino.Raw.Blocks[slot]
		if root == BlockIDInvalid {
			continue
		}
		if err := fs.freeChain(root, depth, e); err != nil {
			return err
		}
		ino.Raw.Blocks[slot] = BlockIDInvalid
	}
	ino.Raw.SetSize64(0)
	ino.Raw.NumBlocks = 0
	return nil
}

func (fs *FileSystem) freeChain(block uint32, depth uint32, e uint32) error {
	if depth > 1 {
		buf := make([]byte, fs.sb.BlockSize())
		if _, err := fs.dev.ReadAt(buf, int64(block)*int64(fs.sb.BlockSize())); err != nil {
			return err
		}
		for i := uint32(0); i < e; i++ {
			child, err := fs.readBlockPtr(block, i)
			if err != nil {
				return err
			}
			if child == BlockIDInvalid {
				continue
			}
			if err := fs.freeChain(child, depth-1, e); err != nil {
				return err
			}
		}
	}
	return fs.deallocBlockErr(block)
}
