// Package kheap implements the kernel small-object heap described in
// kernel/memory/allocation/heap.c: each 4MiB page-allocator slab holds
// 63 independent 64KiB buddy trees (32B leaf), and allocations above
// 64KiB fall through to the page-frame allocator. Every returned
// allocation carries a one-word provenance tag so Free can dispatch
// correctly without the caller naming which path produced it.
package kheap

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/nsingh/neilfs/pages"
)

const (
	minSize = 32                   // MIN_SIZE
	maxSize = 1024 * 1024 / 16     // MAX_SIZE, 64KiB
	tagSize = 4                    // sizeof(uint32_t) provenance tag
	slabSize = 4 * 1024 * 1024     // one 4MiB page-allocator page
)

// provenance tag values, matching heap.c's *(ret++) = 0/1.
const (
	tagHeap uint32 = 0
	tagPage uint32 = 1
)

var errCorrupt = errors.New("kheap: pointer was not allocated by this heap")

// buddyBytes mirrors pages' packed 2-bit buddy tree but is embedded
// inline in each heap block rather than allocated separately.
type buddyBytes []byte

func newBuddyBytes(numNodes uint32) buddyBytes {
	b := make(buddyBytes, (numNodes+3)/4)
	for i := range b {
		b[i] = 0xAA
	}
	return b
}

func (b buddyBytes) get(node uint32) uint8 {
	return (b[node>>2] >> ((node & 0x3) << 1)) & 0x3
}

func (b buddyBytes) set(node uint32, val uint8) {
	shift := (node & 0x3) << 1
	idx := node >> 2
	b[idx] = (b[idx] &^ (0x3 << shift)) | (val << shift)
}

const (
	nodeFree         uint8 = 0
	nodeUsed         uint8 = 1
	nodeUsedIndirect uint8 = 2
)

func leftChild(n uint32) uint32  { return (n << 1) + 1 }
func rightChild(n uint32) uint32 { return (n << 1) + 2 }
func isRight(n uint32) bool      { return n&1 == 0 }
func parentOf(n uint32) uint32   { return (n - 1) >> 1 }
func buddyOf(n uint32) uint32 {
	if isRight(n) {
		return n - 1
	}
	return n + 1
}
func nodesInLevel(l uint32) uint32 {
	if l == 0 {
		return 1
	}
	return 2 << (l - 1)
}
func indexedNodeAtLevel(l, n uint32) uint32 {
	if l == 0 {
		return 0
	}
	return n + ((2 << (l - 1)) - 1)
}
func indexOfNodeAtLevel(node, l uint32) uint32 {
	if l == 0 {
		return 0
	}
	return node + 1 - (2 << (l - 1))
}
func log2(v uint32) uint32 {
	for z := uint32(0); z < 32; z++ {
		if (v>>z)&1 != 0 {
			return z
		}
	}
	return 0xFFFFFFFF
}

// block is one 64KiB heap within a slab.
type block struct {
	buddy     buddyBytes
	spaceUsed uint32
	data      []byte // maxSize bytes, backing every allocation from this block
}

const numNodesPerBlock = 2 * (maxSize / minSize) / 4 * 4

func newBlock() *block {
	b := &block{
		buddy: newBuddyBytes(numNodesPerBlock),
		data:  make([]byte, maxSize),
	}
	b.buddy.set(0, nodeFree)
	return b
}

// slab is one 4MiB page-allocator page holding numHeapsPerSlab blocks.
type slab struct {
	raw    []byte // the whole 4MiB page-allocator allocation
	blocks []*block
	next   *slab
	prev   *slab
}

// headerOverhead is the per-block bookkeeping heap.c's heap_block_t
// reserves ahead of each MAX_SIZE data region: two linked-list
// pointers and a space_used counter (12 bytes) plus the packed buddy
// bitmap (numNodesPerBlock/4 bytes). heap.c's own sizing comment
// computes 4194304 / 66572 = 63.007, i.e. exactly 63 whole blocks fit
// per 4MiB slab once this overhead is accounted for - one fewer than
// the clean slabSize/maxSize division that ignores it.
const headerOverhead = 12 + numNodesPerBlock/4

const numHeapsPerSlab = slabSize / (maxSize + headerOverhead)

// Heap is the kernel small-object allocator. Pages supplies the 4MiB
// slabs it partitions.
type Heap struct {
	mu    sync.Mutex
	pages *pages.Allocator
	head  *slab
}

// New creates a heap backed by the given page-frame allocator.
func New(p *pages.Allocator) *Heap {
	return &Heap{pages: p}
}

// Kmalloc returns a slice of n usable bytes, or an error if none of
// the heap slabs (and ultimately the page allocator) can satisfy it.
func (h *Heap) Kmalloc(n uint32) ([]byte, error) {
	realSize := n + tagSize

	if realSize > maxSize {
		// Falls through to the page allocator; one page-allocator unit
		// per MEMORY_PAGE_SIZE-sized chunk, tagged tagPage.
		buf, err := h.pages.Get(realSize)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf, tagPage)
		return buf[tagSize:], nil
	}
	if realSize < minSize {
		realSize = minSize
	}

	size := uint32(maxSize)
	level := int32(0)
	for realSize <= size {
		size >>= 1
		level++
	}
	size <<= 1
	level--

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := h.head; s != nil; s = s.next {
		for _, blk := range s.blocks {
			if buf, ok := blk.alloc(size, uint32(level)); ok {
				binary.LittleEndian.PutUint32(buf, tagHeap)
				return buf[tagSize:], nil
			}
		}
	}

	// No existing slab had room: grow by one 4MiB page and retry once,
	// exactly as kmalloc's single-retry fallthrough does.
	if err := h.growLocked(); err != nil {
		return nil, err
	}
	for s := h.head; s != nil; s = s.next {
		for _, blk := range s.blocks {
			if buf, ok := blk.alloc(size, uint32(level)); ok {
				binary.LittleEndian.PutUint32(buf, tagHeap)
				return buf[tagSize:], nil
			}
		}
	}
	return nil, errors.New("kheap: allocation failed after growing a new slab")
}

func (h *Heap) growLocked() error {
	raw, err := h.pages.GetFourMB(1)
	if err != nil {
		return err
	}
	s := &slab{raw: raw}
	for i := 0; i < numHeapsPerSlab; i++ {
		blk := newBlock()
		blk.data = raw[i*maxSize : (i+1)*maxSize]
		s.blocks = append(s.blocks, blk)
	}
	if h.head == nil {
		h.head = s
	} else {
		s.next = h.head
		h.head.prev = s
		h.head = s
	}
	return nil
}

// alloc tries to satisfy a request of the given power-of-two size at
// the given level within this block; returns the raw (tag-sized)
// buffer on success.
func (blk *block) alloc(size uint32, level uint32) ([]byte, bool) {
	var node, nodeIndex uint32
	found := false
	for l := int32(level); l >= 0; l-- {
		numNodes := nodesInLevel(uint32(l))
		for z := uint32(0); z < numNodes; z++ {
			node = indexedNodeAtLevel(uint32(l), z)
			if int(node>>2) >= len(blk.buddy) {
				continue
			}
			if blk.buddy.get(node) == nodeFree {
				found = true
				nodeIndex = z
				level = uint32(l)
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return nil, false
	}

	blk.spaceUsed += size
	nodeSize := uint32(maxSize) >> level
	if nodeSize == size {
		blk.buddy.set(node, nodeUsed)
		off := nodeIndex * nodeSize
		return blk.data[off : off+nodeSize], true
	}

	targetLevel := log2(maxSize / size)
	dl := targetLevel - level
	leftNode := node
	for i := uint32(0); i < dl; i++ {
		right := rightChild(leftNode)
		blk.buddy.set(right, nodeFree)
		leftNode = leftChild(leftNode)
		if i == dl-1 {
			blk.buddy.set(leftNode, nodeUsed)
		} else {
			blk.buddy.set(leftNode, nodeUsedIndirect)
		}
	}
	blk.buddy.set(node, nodeUsedIndirect)

	off := indexOfNodeAtLevel(leftNode, targetLevel) * size
	return blk.data[off : off+size], true
}

// Kfree releases a buffer previously returned by Kmalloc.
func (h *Heap) Kfree(p []byte) error {
	if len(p) < tagSize {
		return errCorrupt
	}
	// The caller holds the payload slice; the tag sits tagSize bytes
	// before it in the same backing array, recovered the same way the
	// page allocator locates a sub-slice's offset.
	raw := extendBefore(p, tagSize)
	if raw == nil {
		return errCorrupt
	}
	tag := binary.LittleEndian.Uint32(raw)
	if tag == tagPage {
		return h.pages.Free(raw)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := h.head; s != nil; s = s.next {
		for _, blk := range s.blocks {
			if off := sliceOffset(blk.data, raw); off >= 0 {
				return h.freeFromBlock(s, blk, uint32(off))
			}
		}
	}
	return errCorrupt
}

func (h *Heap) freeFromBlock(s *slab, blk *block, naddr uint32) error {
	if naddr%minSize != 0 {
		return errCorrupt
	}
	size := uint32(minSize)
	node := indexedNodeAtLevel(log2(maxSize/minSize), naddr/minSize)

	if blk.buddy.get(node) == nodeFree {
		return errCorrupt
	}

	found := false
	for node != 0 {
		if blk.buddy.get(node) == nodeUsed {
			found = true
			break
		}
		if isRight(node) {
			break
		}
		node = parentOf(node)
		size <<= 1
	}
	if !found {
		if blk.buddy.get(0) == nodeUsed && naddr == 0 {
			blk.buddy.set(0, nodeFree)
			blk.spaceUsed -= maxSize
			return nil
		}
		return errCorrupt
	}

	blk.buddy.set(node, nodeFree)
	blk.spaceUsed -= size

	if blk.spaceUsed == 0 {
		if h.slabFullyFreeLocked(s) {
			h.unlinkSlab(s)
			return h.pages.Free(s.raw)
		}
	}

	for node != 0 {
		bud := buddyOf(node)
		if blk.buddy.get(node) == nodeFree && blk.buddy.get(bud) == nodeFree {
			blk.buddy.set(node, nodeUsedIndirect)
			blk.buddy.set(bud, nodeUsedIndirect)
			parent := parentOf(node)
			blk.buddy.set(parent, nodeFree)
			node = parent
		} else {
			break
		}
	}
	return nil
}

func (h *Heap) slabFullyFreeLocked(s *slab) bool {
	for _, blk := range s.blocks {
		if blk.spaceUsed != 0 {
			return false
		}
	}
	return true
}

func (h *Heap) unlinkSlab(s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	if h.head == s {
		h.head = s.next
	}
}

// sliceOffset returns the byte offset of sub within base, or -1 if
// sub does not alias base's backing array.
func sliceOffset(base, sub []byte) int {
	if len(base) == 0 || len(sub) == 0 {
		return -1
	}
	return ptrOffset(base, sub)
}
