package ext2_test

import (
	"bytes"
	"testing"

	"github.com/nsingh/neilfs/blockdev"
	"github.com/nsingh/neilfs/ext2"
)

func mkfsMem(t *testing.T, size int64) *ext2.FileSystem {
	t.Helper()
	dev := blockdev.NewMemDev(size)
	fs, err := ext2.Mkfs(dev, uint64(size), ext2.WithBlockSize(1024))
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	return fs
}

func TestMkfsAndRootLookup(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)

	root, err := fs.RootInode()
	if err != nil {
		t.Fatalf("RootInode: %v", err)
	}
	if !root.Raw.IsDir() {
		t.Fatalf("root inode is not a directory")
	}
	if root.Num != ext2.InodeRoot {
		t.Fatalf("root inode number = %d, want %d", root.Num, ext2.InodeRoot)
	}
}

func TestCreateLookupAndUnlink(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()

	file, err := fs.Create(root, "hello.txt", 0x8000|0644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := fs.Resolve("/hello.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if found.Num != file.Num {
		t.Fatalf("resolved inode %d, want %d", found.Num, file.Num)
	}

	if _, err := fs.Create(root, "hello.txt", 0x8000|0644); err != ext2.ErrExists {
		t.Fatalf("duplicate Create: got %v, want ErrExists", err)
	}

	if err := fs.Unlink(root, "hello.txt", false); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := fs.Resolve("/hello.txt"); err != ext2.ErrNotFound {
		t.Fatalf("Resolve after unlink: got %v, want ErrNotFound", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()
	file, err := fs.Create(root, "data.bin", 0x8000|0644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := bytes.Repeat([]byte("neilfs-ext2-"), 200) // spans multiple blocks at 1KiB block size
	if _, err := fs.WriteAt(file, want, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(want))
	n, err := fs.ReadAt(file, got, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: read %d bytes", n)
	}
}

func TestReadHoleReturnsZeros(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()
	file, _ := fs.Create(root, "sparse.bin", 0x8000|0644)

	// Write near the start, then a second write far past it, leaving a
	// hole whose logical blocks were never allocated.
	if _, err := fs.WriteAt(file, []byte("A"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := fs.WriteAt(file, []byte("B"), 8192); err != nil {
		t.Fatalf("WriteAt far offset: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := fs.ReadAt(file, buf, 4096); err != nil {
		t.Fatalf("ReadAt hole: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("hole byte = %d, want 0", buf[0])
	}
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()
	file, _ := fs.Create(root, "shrink.bin", 0x8000|0644)

	data := bytes.Repeat([]byte{0x7A}, 4096)
	if _, err := fs.WriteAt(file, data, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	before := file.Raw.NumBlocks

	if err := fs.Truncate(file, 100); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if file.Raw.Size64() != 100 {
		t.Fatalf("size after truncate = %d, want 100", file.Raw.Size64())
	}
	if file.Raw.NumBlocks >= before {
		t.Fatalf("NumBlocks after shrink = %d, want < %d", file.Raw.NumBlocks, before)
	}
}

func TestMkdirAndRemoveDirRejectsNonEmpty(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()

	dir, err := fs.Create(root, "sub", 0x4000|0755)
	if err != nil {
		t.Fatalf("Create dir: %v", err)
	}
	if _, err := fs.Create(dir, "inner.txt", 0x8000|0644); err != nil {
		t.Fatalf("Create inner file: %v", err)
	}

	if err := fs.Unlink(root, "sub", false); err != ext2.ErrNotEmpty {
		t.Fatalf("Unlink non-empty dir: got %v, want ErrNotEmpty", err)
	}
	if err := fs.Unlink(root, "sub", true); err != nil {
		t.Fatalf("force Unlink: %v", err)
	}
}

func TestLinkAddsHardLink(t *testing.T) {
	fs := mkfsMem(t, 4*1024*1024)
	root, _ := fs.RootInode()
	file, _ := fs.Create(root, "orig.txt", 0x8000|0644)

	if err := fs.Link(root, "alias.txt", file); err != nil {
		t.Fatalf("Link: %v", err)
	}
	ino, err := fs.Resolve("/alias.txt")
	if err != nil {
		t.Fatalf("Resolve alias: %v", err)
	}
	if ino.Num != file.Num {
		t.Fatalf("alias resolves to inode %d, want %d", ino.Num, file.Num)
	}
	if ino.Raw.LinkCount != 2 {
		t.Fatalf("LinkCount = %d, want 2", ino.Raw.LinkCount)
	}
}
