package pages

// fourKBSlotsPerPage is the number of 4KiB-aligned slots inside one
// 4MiB page: 4MiB / 4KiB = 1024.
const fourKBSlotsPerPage = FourMB / FourKB

// fourKBPage is one 4MiB page carved into 1024 4KiB slots, tracked by
// a simple occupancy array rather than a nested buddy tree - ported
// from page_four_kb_t in page_allocator.c, whose side-pool exists
// because the main buddy tree's minimum leaf (minSize, normally 64KiB)
// is too coarse for single 4KiB-page callers such as a process's page
// tables.
type fourKBPage struct {
	addr     uint32 // offset into the parent Allocator's arena
	occupied [fourKBSlotsPerPage]bool
	numFree  uint32
	next     *fourKBPage
}

// fourKBPool is a linked list of fourKBPage entries, growing by
// pulling a fresh 4MiB page from the parent Allocator whenever every
// existing page is full.
type fourKBPool struct {
	parent *Allocator
	head   *fourKBPage
}

// getAligned4KB returns the arena offset of a free 4KiB-aligned slot,
// pulling a new backing 4MiB page from the buddy tree if none of the
// pool's existing pages has room.
func (p *fourKBPool) getAligned4KB() (uint32, error) {
	for pg := p.head; pg != nil; pg = pg.next {
		if pg.numFree == 0 {
			continue
		}
		for i := range pg.occupied {
			if !pg.occupied[i] {
				pg.occupied[i] = true
				pg.numFree--
				return pg.addr + uint32(i)*FourKB, nil
			}
		}
	}

	addr, _, err := p.parent.physicalGetLocked(FourMB)
	if err != nil {
		return 0, err
	}
	pg := &fourKBPage{addr: addr, numFree: fourKBSlotsPerPage - 1, next: p.head}
	pg.occupied[0] = true
	p.head = pg
	return addr, nil
}

// freeAligned4KB returns a previously issued 4KiB slot to its page,
// releasing the whole backing 4MiB page back to the buddy tree once
// every slot in it is free again.
func (p *fourKBPool) freeAligned4KB(addr uint32) error {
	var prev *fourKBPage
	for pg := p.head; pg != nil; pg = pg.next {
		if addr < pg.addr || addr >= pg.addr+FourMB {
			prev = pg
			continue
		}
		idx := (addr - pg.addr) / FourKB
		if !pg.occupied[idx] {
			return ErrNotAllocated
		}
		pg.occupied[idx] = false
		pg.numFree++
		if pg.numFree == fourKBSlotsPerPage {
			if prev == nil {
				p.head = pg.next
			} else {
				prev.next = pg.next
			}
			return p.parent.physicalFreeLocked(pg.addr)
		}
		return nil
	}
	return ErrNotAllocated
}

// GetAlignedFourKB allocates one 4KiB-aligned chunk from the side pool
// and returns it as a slice into the parent allocator's arena.
func (a *Allocator) GetAlignedFourKB() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, err := a.fourKB.getAligned4KB()
	if err != nil {
		return nil, err
	}
	return a.arena[addr : addr+FourKB], nil
}

// FreeAlignedFourKB releases a chunk obtained from GetAlignedFourKB.
func (a *Allocator) FreeAlignedFourKB(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	off := capOffset(a.arena, buf)
	if off < 0 {
		return ErrNotAllocated
	}
	return a.fourKB.freeAligned4KB(uint32(off))
}
