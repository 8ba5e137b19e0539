package pages

import (
	"errors"
	"sync"
	"unsafe"
)

// Default sizing per spec: 64KiB leaf, 1GiB root, 4MiB "page" granule
// used by the side-pool and by the level that the kernel heap slabs
// out of.
const (
	DefaultMinSize  = 1024 * 1024 / 16   // 64KiB
	DefaultMaxSize  = 1024 * 1024 * 1024 // 1GiB
	FourKB          = 4 * 1024
	FourMB          = 4 * 1024 * 1024
	levelPageShift4 = 8 // level giving 4MiB nodes when root is 1GiB/64KiB
)

// ErrOutOfMemory is returned when no buddy node of sufficient size is free.
var ErrOutOfMemory = errors.New("pages: out of memory")

// ErrNotAllocated is returned when Free/PhysicalFree is asked to
// release an address that was never handed out.
var ErrNotAllocated = errors.New("pages: address was not allocated")

// Allocator is the buddy page-frame allocator described in
// kernel/memory/allocation/page_allocator.c. It hands out power-of-two
// sized regions of a backing arena; addresses are offsets into that
// arena rather than real physical memory (there is no MMU in this
// host-process realization, so the virtual-memory mapping step the
// original performs is a no-op here - callers get a byte slice back
// directly).
type Allocator struct {
	mu        sync.Mutex
	minSize   uint32
	maxSize   uint32
	buddy     buddyTree
	arena     []byte
	spaceUsed uint32

	fourKB fourKBPool
}

// NewAllocator creates an allocator over an arena of maxSize bytes,
// doling out chunks no smaller than minSize. Both must be powers of
// two and minSize must divide maxSize evenly in powers of two.
func NewAllocator(minSize, maxSize uint32) *Allocator {
	numNodes := 2 * (maxSize / minSize) / 4 * 4 // matches BUDDY_SIZE rounding in the source (node-space, not byte-space)
	if numNodes == 0 {
		numNodes = 4
	}
	a := &Allocator{
		minSize: minSize,
		maxSize: maxSize,
		buddy:   newBuddyTree(numNodes),
		arena:   make([]byte, maxSize),
	}
	a.buddy.set(0, nodeFree)
	a.fourKB.parent = a
	return a
}

// levelForSize returns the tree level whose nodes are size bytes
// (level 0 is the maxSize root).
func (a *Allocator) levelForSize(size uint32) uint32 {
	level := uint32(0)
	s := a.maxSize
	for size <= s {
		s >>= 1
		level++
	}
	level--
	return level
}

// Get allocates size bytes (rounded up to a power of two no smaller
// than minSize) and returns the backing slice. It is the host-process
// analogue of page_get: in the kernel this also installs a virtual
// mapping, which has no equivalent here.
func (a *Allocator) Get(size uint32) ([]byte, error) {
	addr, actual, err := a.PhysicalGet(size)
	if err != nil {
		return nil, err
	}
	return a.arena[addr : addr+actual], nil
}

// PhysicalGet is the bare allocation primitive: it returns the byte
// offset into the arena and the actual (power-of-two, >= minSize)
// size reserved.
func (a *Allocator) PhysicalGet(size uint32) (addr uint32, actual uint32, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.physicalGetLocked(size)
}

// physicalGetLocked is PhysicalGet's body, callable by code (such as
// the 4KiB side pool) that already holds a.mu.
func (a *Allocator) physicalGetLocked(size uint32) (addr uint32, actual uint32, err error) {
	if size == 0 {
		return 0, 0, nil
	}
	if size > a.maxSize {
		return 0, 0, ErrOutOfMemory
	}
	if size < a.minSize {
		size = a.minSize
	}

	// Find the smallest power-of-two size >= size.
	psize := a.maxSize
	level := int32(0)
	for size <= psize {
		psize >>= 1
		level++
	}
	psize <<= 1
	level--

	var node, nodeIndex uint32
	found := false
	for l := level; l >= 0; l-- {
		numNodes := nodesInLevel(uint32(l))
		for z := uint32(0); z < numNodes; z++ {
			node = indexedNodeAtLevel(uint32(l), z)
			if int(node>>2) >= len(a.buddy) {
				continue
			}
			if a.buddy.get(node) == nodeFree {
				found = true
				nodeIndex = z
				break
			}
		}
		if found {
			level = l
			break
		}
	}
	if !found {
		return 0, 0, ErrOutOfMemory
	}

	a.spaceUsed += psize
	nodeSize := a.maxSize >> uint32(level)
	if nodeSize == psize {
		a.buddy.set(node, nodeUsed)
		return nodeIndex * nodeSize, psize, nil
	}

	// Split down to the requested size, keeping only the leftmost
	// child chain and freeing the siblings along the way.
	dl := a.levelForSize(psize) - uint32(level)
	leftNode := node
	for i := uint32(0); i < dl; i++ {
		right := rightChild(leftNode)
		a.buddy.set(right, nodeFree)
		leftNode = leftChild(leftNode)
		if i == dl-1 {
			a.buddy.set(leftNode, nodeUsed)
		} else {
			a.buddy.set(leftNode, nodeUsedIndirect)
		}
	}
	a.buddy.set(node, nodeUsedIndirect)

	ret := indexOfNodeAtLevel(leftNode, a.levelForSize(psize)) * psize
	return ret, psize, nil
}

// Free releases a slice previously returned by Get.
func (a *Allocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	off := capOffset(a.arena, buf)
	if off < 0 {
		return ErrNotAllocated
	}
	return a.PhysicalFree(uint32(off))
}

// PhysicalFree releases the region at addr, merging buddies bottom-up
// exactly as page_physical_free_impl does.
func (a *Allocator) PhysicalFree(addr uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.physicalFreeLocked(addr)
}

// physicalFreeLocked is PhysicalFree's body, callable by code (such as
// the 4KiB side pool) that already holds a.mu.
func (a *Allocator) physicalFreeLocked(addr uint32) error {
	size := a.minSize
	topLevel := log2(a.maxSize / a.minSize)
	node := indexedNodeAtLevel(topLevel, addr/a.minSize)

	if a.buddy.get(node) == nodeFree {
		return ErrNotAllocated
	}

	found := false
	for node != 0 {
		if a.buddy.get(node) == nodeUsed {
			found = true
			break
		}
		if isRightChild(node) {
			break
		}
		node = parentOf(node)
		size <<= 1
	}
	if !found {
		if !(a.buddy.get(0) == nodeUsed && addr == 0) {
			return ErrNotAllocated
		}
	}

	a.buddy.set(node, nodeFree)
	a.spaceUsed -= size

	for node != 0 {
		bud := buddyOf(node)
		if a.buddy.get(node) == nodeFree && a.buddy.get(bud) == nodeFree {
			a.buddy.set(node, nodeUsedIndirect)
			a.buddy.set(bud, nodeUsedIndirect)
			parent := parentOf(node)
			a.buddy.set(parent, nodeFree)
			node = parent
		} else {
			break
		}
	}
	return nil
}

// SpaceUsed reports the number of bytes currently allocated.
func (a *Allocator) SpaceUsed() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spaceUsed
}

// GetFourMB is the common case of allocating num contiguous 4MiB
// pages, used by the kernel heap to grow a new slab.
func (a *Allocator) GetFourMB(num uint32) ([]byte, error) {
	return a.Get(num * FourMB / a.minSize * a.minSize)
}

// capOffset returns the offset of sub within base's backing array, or
// -1 if sub does not alias base. Both slices always originate from
// this package's own arena allocation, so pointer arithmetic here is
// the direct analogue of the source's raw physical-address math.
func capOffset(base, sub []byte) int {
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
