package ext2

import "fmt"

// GroupDescriptor exposes group descriptor g to callers outside the
// package (cmd/neilfsutil's fsck), beyond the package-internal
// getGroup used by the allocators.
func (fs *FileSystem) GroupDescriptor(g uint32) (*GroupDescriptor, error) {
	return fs.getGroup(g)
}

// GroupCount is a convenience wrapper over Superblock().GroupCount().
func (fs *FileSystem) GroupCount() uint32 {
	return fs.sb.GroupCount()
}

// CheckGroup verifies one block group's internal consistency: that its
// block and inode bitmaps' free-bit counts agree with the group
// descriptor's FreeBlocks/FreeInodes counters. It performs no writes
// and is safe to call concurrently with CheckGroup on other groups.
func (fs *FileSystem) CheckGroup(g uint32) []error {
	var errs []error

	gd, err := fs.getGroup(g)
	if err != nil {
		return []error{fmt.Errorf("group %d: reading descriptor: %w", g, err)}
	}

	blockBitmap := make([]byte, fs.sb.BlocksPerGroup/8)
	off := int64(gd.BlockBitmap) * int64(fs.sb.BlockSize())
	if _, err := fs.dev.ReadAt(blockBitmap, off); err != nil {
		errs = append(errs, fmt.Errorf("group %d: reading block bitmap: %w", g, err))
	} else if free := countFreeBits(blockBitmap, fs.sb.BlocksPerGroup); free != uint32(gd.FreeBlocks) {
		errs = append(errs, fmt.Errorf("group %d: block bitmap reports %d free blocks, descriptor says %d", g, free, gd.FreeBlocks))
	}

	inodeBitmap := make([]byte, fs.sb.InodesPerGroup/8)
	off = int64(gd.InodeBitmap) * int64(fs.sb.BlockSize())
	if _, err := fs.dev.ReadAt(inodeBitmap, off); err != nil {
		errs = append(errs, fmt.Errorf("group %d: reading inode bitmap: %w", g, err))
	} else if free := countFreeBits(inodeBitmap, fs.sb.InodesPerGroup); free != uint32(gd.FreeInodes) {
		errs = append(errs, fmt.Errorf("group %d: inode bitmap reports %d free inodes, descriptor says %d", g, free, gd.FreeInodes))
	}

	return errs
}

func countFreeBits(bitmap []byte, total uint32) uint32 {
	free := uint32(0)
	for i := uint32(0); i < total; i++ {
		if bitmap[i/8]&(1<<uint(i%8)) == 0 {
			free++
		}
	}
	return free
}
