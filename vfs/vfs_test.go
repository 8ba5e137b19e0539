package vfs_test

import (
	"bytes"
	"testing"

	"github.com/nsingh/neilfs/blockdev"
	"github.com/nsingh/neilfs/ext2"
	"github.com/nsingh/neilfs/vfs"
)

func newFS(t *testing.T) *vfs.FileSystem {
	t.Helper()
	dev := blockdev.NewMemDev(4 * 1024 * 1024)
	efs, err := ext2.Mkfs(dev, 4*1024*1024, ext2.WithBlockSize(1024))
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	return vfs.New(efs)
}

func TestCreateWriteReadFile(t *testing.T) {
	v := newFS(t)

	fd, err := v.Open("/greeting.txt", vfs.ModeCreate|vfs.ModeWrite|vfs.ModeRead)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	if _, err := fd.Write([]byte("hi there")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := fd.Seek(0, vfs.SeekSet); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 8)
	n, err := fd.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte("hi there")) {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	fd.Close()
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	v := newFS(t)
	if _, err := v.Open("/nope.txt", vfs.ModeRead); err != vfs.ErrNotFound {
		t.Fatalf("Open missing: got %v, want ErrNotFound", err)
	}
}

func TestMkdirAndReadDir(t *testing.T) {
	v := newFS(t)
	if err := v.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := v.Open("/docs/a.txt", vfs.ModeCreate|vfs.ModeWrite); err != nil {
		t.Fatalf("Open create in subdir: %v", err)
	}

	dirFd, err := v.Open("/docs", vfs.ModeRead)
	if err != nil {
		t.Fatalf("Open dir: %v", err)
	}
	defer dirFd.Close()

	entries, err := vfs.ReadDir(dirFd)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("ReadDir = %+v, want one entry a.txt", entries)
	}
}

func TestAppendModeWritesAtEnd(t *testing.T) {
	v := newFS(t)
	fd, _ := v.Open("/log.txt", vfs.ModeCreate|vfs.ModeWrite)
	fd.Write([]byte("first"))
	fd.Close()

	fd2, err := v.Open("/log.txt", vfs.ModeWrite|vfs.ModeAppend)
	if err != nil {
		t.Fatalf("Open append: %v", err)
	}
	fd2.Write([]byte("second"))
	fd2.Close()

	fd3, _ := v.Open("/log.txt", vfs.ModeRead)
	buf := make([]byte, 64)
	n, _ := fd3.Read(buf)
	if string(buf[:n]) != "firstsecond" {
		t.Fatalf("appended content = %q, want %q", buf[:n], "firstsecond")
	}
}

func TestExclusiveCreateFailsIfExists(t *testing.T) {
	v := newFS(t)
	v.Open("/x.txt", vfs.ModeCreate|vfs.ModeWrite)
	_, err := v.Open("/x.txt", vfs.ModeCreate|vfs.ModeExclusive|vfs.ModeWrite)
	if err != vfs.ErrExists {
		t.Fatalf("exclusive create of existing file: got %v, want ErrExists", err)
	}
}

func TestSeekPastEOFExtendsFile(t *testing.T) {
	v := newFS(t)
	fd, err := v.Open("/sparse.bin", vfs.ModeCreate|vfs.ModeWrite|vfs.ModeRead)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	fd.Write([]byte("A"))

	if _, err := fd.Seek(10, vfs.SeekSet); err != nil {
		t.Fatalf("Seek past EOF: %v", err)
	}
	if _, err := fd.Write([]byte("B")); err != nil {
		t.Fatalf("Write after seek: %v", err)
	}

	st, err := fd.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 11 {
		t.Fatalf("Size = %d, want 11", st.Size)
	}

	buf := make([]byte, 9)
	if _, err := fd.Seek(1, vfs.SeekSet); err != nil {
		t.Fatalf("Seek to gap: %v", err)
	}
	n, err := fd.Read(buf)
	if err != nil || n != 9 {
		t.Fatalf("Read gap: %d, %v", n, err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("gap byte %d = %d, want 0", i, b)
		}
	}
	fd.Close()
}

func TestMkFIFOOpensAsPipe(t *testing.T) {
	v := newFS(t)
	if err := v.MkFIFO("/p"); err != nil {
		t.Fatalf("MkFIFO: %v", err)
	}

	wfd, err := v.Open("/p", vfs.ModeWrite|vfs.ModeNonblocking)
	if err != nil {
		t.Fatalf("Open fifo write: %v", err)
	}
	defer wfd.Close()

	rfd, err := v.Open("/p", vfs.ModeRead|vfs.ModeNonblocking)
	if err != nil {
		t.Fatalf("Open fifo read: %v", err)
	}
	defer rfd.Close()

	if _, err := wfd.Write([]byte("ping")); err != nil {
		t.Fatalf("Write to fifo: %v", err)
	}
	buf := make([]byte, 4)
	n, err := rfd.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read from fifo = %q, %v", buf[:n], err)
	}
}
