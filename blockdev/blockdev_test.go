package blockdev_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/nsingh/neilfs/blockdev"
)

func TestMemDevReadWriteAt(t *testing.T) {
	d := blockdev.NewMemDev(4096)

	want := []byte("hello, neilfs")
	if _, err := d.WriteAt(want, 100); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := d.ReadAt(got, 100); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAt = %q, want %q", got, want)
	}
}

func TestMemDevGrowsOnWrite(t *testing.T) {
	d := blockdev.NewMemDev(10)
	if _, err := d.WriteAt([]byte("abc"), 20); err != nil {
		t.Fatalf("WriteAt past end: %v", err)
	}
	if d.Size() != 23 {
		t.Fatalf("Size after grow = %d, want 23", d.Size())
	}
}

func TestMemDevReadPastEndIsEOF(t *testing.T) {
	d := blockdev.NewMemDev(10)
	buf := make([]byte, 4)
	_, err := d.ReadAt(buf, 100)
	if err != io.EOF {
		t.Fatalf("ReadAt past end: got %v, want io.EOF", err)
	}
}

func TestMemDevSeek(t *testing.T) {
	d := blockdev.NewMemDev(100)
	if pos, err := d.Seek(10, io.SeekStart); err != nil || pos != 10 {
		t.Fatalf("Seek(10, Start) = %d, %v", pos, err)
	}
	if pos, err := d.Seek(5, io.SeekCurrent); err != nil || pos != 15 {
		t.Fatalf("Seek(5, Current) = %d, %v", pos, err)
	}
	if _, err := d.Seek(-1000, io.SeekStart); err == nil {
		t.Fatalf("Seek to negative position should fail")
	}
}

func TestMemDevLockUnlockDoesNotPanic(t *testing.T) {
	d := blockdev.NewMemDev(10)
	d.Lock()
	d.Unlock()
}
