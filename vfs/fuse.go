//go:build fuse

package vfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nsingh/neilfs/ext2"
)

// FuseNode adapts a vfs.FileSystem path onto go-fuse's high-level
// fs.Inode API, the optional mount personality named in SPEC_FULL's
// domain stack: everything else in this package is usable without
// FUSE or this build tag at all.
type FuseNode struct {
	fs.Inode

	fsys *FileSystem
	ino  *ext2.Inode
	path string
}

var (
	_ fs.NodeLookuper  = (*FuseNode)(nil)
	_ fs.NodeGetattrer = (*FuseNode)(nil)
	_ fs.NodeOpener    = (*FuseNode)(nil)
	_ fs.NodeReader    = (*FuseNode)(nil)
	_ fs.NodeReaddirer = (*FuseNode)(nil)
)

// NewFuseRoot builds the root FuseNode for mounting fsys with go-fuse.
func NewFuseRoot(fsys *FileSystem) (*FuseNode, error) {
	root, err := fsys.ext2.RootInode()
	if err != nil {
		return nil, err
	}
	return &FuseNode{fsys: fsys, ino: root, path: "/"}, nil
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (n *FuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.path, name)
	ino, err := n.fsys.ext2.Resolve(p)
	if err != nil {
		return nil, syscall.ENOENT
	}
	child := &FuseNode{fsys: n.fsys, ino: ino, path: p}
	fillAttr(&out.Attr, ino)
	stable := fs.StableAttr{Mode: modeToFuse(ino.Raw.Mode), Ino: uint64(ino.Num)}
	return n.NewInode(ctx, child, stable), 0
}

func (n *FuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.ino)
	return 0
}

func (n *FuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *FuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.fsys.ext2.ReadAt(n.ino, dest, uint64(off))
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *FuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	it, err := n.fsys.ext2.NewDirIter(n.ino)
	if err != nil {
		return nil, syscall.EIO
	}
	var entries []fuse.DirEntry
	for {
		e, ok, err := it.Next()
		if err != nil {
			return nil, syscall.EIO
		}
		if !ok {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: e.Name, Ino: uint64(e.Inode), Mode: dentryTypeToFuse(e.FileType)})
	}
	return fs.NewListDirStream(entries), 0
}

func fillAttr(attr *fuse.Attr, ino *ext2.Inode) {
	r := ino.Raw
	attr.Ino = uint64(ino.Num)
	attr.Size = r.Size64()
	attr.Mode = modeToFuse(r.Mode)
	attr.Nlink = uint32(r.LinkCount)
	attr.Atime = r.Atime
	attr.Mtime = r.Mtime
	attr.Ctime = r.Ctime
}

func modeToFuse(mode uint16) uint32 {
	return uint32(mode)
}

func dentryTypeToFuse(ft uint8) uint32 {
	switch ft {
	case FTDirFuse:
		return syscall.S_IFDIR
	case FTRegFileFuse:
		return syscall.S_IFREG
	case FTFifoFuse:
		return syscall.S_IFIFO
	default:
		return 0
	}
}

// Local aliases so this file does not need to import the ext2 package
// twice over for its dentry file-type constants.
const (
	FTDirFuse     = 2
	FTRegFileFuse = 1
	FTFifoFuse    = 5
)
