package pages_test

import (
	"testing"

	"github.com/nsingh/neilfs/pages"
)

func TestAllocateAndFreeRoundTrip(t *testing.T) {
	a := pages.NewAllocator(64*1024, 1024*1024) // 64KiB leaf, 1MiB root for a fast test

	buf, err := a.Get(64 * 1024)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(buf) != 64*1024 {
		t.Fatalf("got %d bytes, want 65536", len(buf))
	}
	if a.SpaceUsed() != 64*1024 {
		t.Fatalf("SpaceUsed = %d, want 65536", a.SpaceUsed())
	}

	if err := a.Free(buf); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if a.SpaceUsed() != 0 {
		t.Fatalf("SpaceUsed after Free = %d, want 0", a.SpaceUsed())
	}
}

func TestAllocateRoundsUpAndSplits(t *testing.T) {
	a := pages.NewAllocator(64*1024, 1024*1024)

	buf, err := a.Get(100 * 1024) // rounds up to 128KiB
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(buf) != 128*1024 {
		t.Fatalf("got %d bytes, want 131072", len(buf))
	}

	// A second 64KiB allocation should still fit in the remaining half
	// of the root.
	buf2, err := a.Get(64 * 1024)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if len(buf2) != 64*1024 {
		t.Fatalf("got %d bytes, want 65536", len(buf2))
	}
}

func TestOutOfMemory(t *testing.T) {
	a := pages.NewAllocator(64*1024, 128*1024)

	if _, err := a.Get(128 * 1024); err != nil {
		t.Fatalf("Get full root: %v", err)
	}
	if _, err := a.Get(64 * 1024); err != pages.ErrOutOfMemory {
		t.Fatalf("Get after exhaustion: got %v, want ErrOutOfMemory", err)
	}
}

func TestFreeUnallocatedAddress(t *testing.T) {
	a := pages.NewAllocator(64*1024, 1024*1024)
	if err := a.PhysicalFree(0); err != pages.ErrNotAllocated {
		t.Fatalf("PhysicalFree of unallocated addr: got %v, want ErrNotAllocated", err)
	}
}

func TestAlignedFourKBPool(t *testing.T) {
	a := pages.NewAllocator(64*1024, 8*1024*1024)

	buf, err := a.GetAlignedFourKB()
	if err != nil {
		t.Fatalf("GetAlignedFourKB: %v", err)
	}
	if len(buf) != pages.FourKB {
		t.Fatalf("got %d bytes, want %d", len(buf), pages.FourKB)
	}
	if err := a.FreeAlignedFourKB(buf); err != nil {
		t.Fatalf("FreeAlignedFourKB: %v", err)
	}
}
