package kheap_test

import (
	"bytes"
	"testing"

	"github.com/nsingh/neilfs/kheap"
	"github.com/nsingh/neilfs/pages"
)

func newHeap() *kheap.Heap {
	p := pages.NewAllocator(64*1024, 16*1024*1024)
	return kheap.New(p)
}

func TestKmallocKfreeRoundTrip(t *testing.T) {
	h := newHeap()

	buf, err := h.Kmalloc(64)
	if err != nil {
		t.Fatalf("Kmalloc: %v", err)
	}
	if len(buf) < 64 {
		t.Fatalf("got %d usable bytes, want at least 64", len(buf))
	}
	copy(buf, bytes.Repeat([]byte{0x5A}, len(buf)))

	if err := h.Kfree(buf); err != nil {
		t.Fatalf("Kfree: %v", err)
	}
}

func TestKmallocManySmallBlocksDontCollide(t *testing.T) {
	h := newHeap()

	var bufs [][]byte
	for i := 0; i < 32; i++ {
		b, err := h.Kmalloc(48)
		if err != nil {
			t.Fatalf("Kmalloc #%d: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		for _, c := range b {
			if c != 0 {
				t.Fatalf("block %d not zero-initialized", i)
			}
		}
	}
	for i, b := range bufs {
		for j := range b {
			b[j] = byte(i + 1)
		}
	}
	for i, b := range bufs {
		for _, c := range b {
			if c != byte(i+1) {
				t.Fatalf("block %d overlaps another allocation", i)
			}
		}
	}
	for i, b := range bufs {
		if err := h.Kfree(b); err != nil {
			t.Fatalf("Kfree #%d: %v", i, err)
		}
	}
}

func TestKmallocLargeFallsThroughToPages(t *testing.T) {
	h := newHeap()

	buf, err := h.Kmalloc(128 * 1024) // above the 64KiB block ceiling
	if err != nil {
		t.Fatalf("Kmalloc large: %v", err)
	}
	if len(buf) < 128*1024 {
		t.Fatalf("got %d bytes, want at least 131072", len(buf))
	}
	if err := h.Kfree(buf); err != nil {
		t.Fatalf("Kfree large: %v", err)
	}
}

func TestKmallocGrowsNewSlabWhenFirstIsFull(t *testing.T) {
	h := newHeap()

	var bufs [][]byte
	for i := 0; i < 63*2; i++ {
		b, err := h.Kmalloc(60 * 1024) // rounds up to a whole 64KiB block, 63 to a slab
		if err != nil {
			t.Fatalf("Kmalloc #%d: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		if err := h.Kfree(b); err != nil {
			t.Fatalf("Kfree: %v", err)
		}
	}
}

func TestKfreeOfForeignSliceFails(t *testing.T) {
	h := newHeap()
	foreign := make([]byte, 64)
	if err := h.Kfree(foreign); err == nil {
		t.Fatalf("Kfree of a slice never returned by Kmalloc should fail")
	}
}
