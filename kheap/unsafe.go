package kheap

import "unsafe"

// ptrOffset returns the byte offset of sub within base's backing
// array, or -1 if sub does not alias base. Every heap allocation is a
// sub-slice of a block carved out of a page-allocator slab, so this
// is the direct analogue of the source's raw pointer-difference
// arithmetic used to recover which heap block a freed pointer belongs
// to.
func ptrOffset(base, sub []byte) int {
	if len(base) == 0 || len(sub) == 0 {
		return -1
	}
	baseAddr := uintptr(unsafe.Pointer(&base[0]))
	subAddr := uintptr(unsafe.Pointer(&sub[0]))
	if subAddr < baseAddr || subAddr >= baseAddr+uintptr(len(base)) {
		return -1
	}
	return int(subAddr - baseAddr)
}

// extendBefore returns a slice that starts n bytes before p within
// the same backing array (used to recover the provenance tag word
// that precedes every payload Kmalloc hands out), or nil if doing so
// would run off the front of the array.
func extendBefore(p []byte, n int) []byte {
	if len(p) == 0 {
		return nil
	}
	base := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(&p[0]))-uintptr(n))), n+len(p))
	return base
}
