package ext2

import "encoding/binary"

// findFreeBit scans a bitmap buffer word-at-a-time, skipping every
// all-ones (0xFFFFFFFF) word, and returns the index of the first zero
// bit, or -1 if the bitmap is full.
func findFreeBit(bitmap []byte) int {
	words := len(bitmap) / 4
	for w := 0; w < words; w++ {
		word := binary.LittleEndian.Uint32(bitmap[w*4:])
		if word == 0xFFFFFFFF {
			continue
		}
		for b := 0; b < 32; b++ {
			if word&(1<<uint(b)) == 0 {
				return w*32 + b
			}
		}
	}
	return -1
}

func setBit(bitmap []byte, idx int) {
	bitmap[idx/8] |= 1 << uint(idx%8)
}

func clearBit(bitmap []byte, idx int) {
	bitmap[idx/8] &^= 1 << uint(idx%8)
}

// allocateBlock scans group descriptors in order, skipping groups
// with no free blocks, flips the first free bit in that group's block
// bitmap, and persists the bitmap, group descriptor and superblock
// (whose write fans out to the sparse-super backups). Newly allocated
// blocks are not zeroed - callers that need zeroed data call
// zeroBlock explicitly.
func (fs *FileSystem) allocateBlock() (uint32, error) {
	numGroups := fs.sb.GroupCount()
	for g := uint32(0); g < numGroups; g++ {
		gd, err := fs.getGroup(g)
		if err != nil {
			return 0, err
		}
		if gd.FreeBlocks == 0 {
			continue
		}

		bitmapSize := fs.sb.BlocksPerGroup / 8
		bitmap := make([]byte, bitmapSize)
		off := int64(gd.BlockBitmap) * int64(fs.sb.BlockSize())

		fs.dev.Lock()
		_, err = fs.dev.ReadAt(bitmap, off)
		if err != nil {
			fs.dev.Unlock()
			return 0, err
		}

		idx := findFreeBit(bitmap)
		if idx < 0 {
			fs.dev.Unlock()
			continue
		}
		setBit(bitmap, idx)

		_, err = fs.dev.WriteAt(bitmap, off)
		fs.dev.Unlock()
		if err != nil {
			return 0, err
		}

		gd.FreeBlocks--
		if err := fs.setGroup(g, gd); err != nil {
			return 0, err
		}
		fs.sb.FreeBlockCount--
		if err := fs.writeSuperblock(); err != nil {
			return 0, err
		}

		blockID := g*fs.sb.BlocksPerGroup + uint32(idx) + fs.sb.FirstDataBlock
		return blockID, nil
	}
	return 0, ErrNoSpace
}

// deallocBlock returns a previously allocated block to the free pool.
// Errors are swallowed by callers performing best-effort undo (e.g.
// SetBlockID's unwind path); higher-level callers that need the error
// should call deallocBlockErr.
func (fs *FileSystem) deallocBlock(block uint32) {
	_ = fs.deallocBlockErr(block)
}

func (fs *FileSystem) deallocBlockErr(block uint32) error {
	local := block - fs.sb.FirstDataBlock
	g := local / fs.sb.BlocksPerGroup
	idx := local % fs.sb.BlocksPerGroup

	gd, err := fs.getGroup(g)
	if err != nil {
		return err
	}

	bitmapSize := fs.sb.BlocksPerGroup / 8
	bitmap := make([]byte, bitmapSize)
	off := int64(gd.BlockBitmap) * int64(fs.sb.BlockSize())

	fs.dev.Lock()
	_, err = fs.dev.ReadAt(bitmap, off)
	if err != nil {
		fs.dev.Unlock()
		return err
	}
	clearBit(bitmap, int(idx))

	_, err = fs.dev.WriteAt(bitmap, off)
	fs.dev.Unlock()
	if err != nil {
		return err
	}

	gd.FreeBlocks++
	if err := fs.setGroup(g, gd); err != nil {
		return err
	}
	fs.sb.FreeBlockCount++
	return fs.writeSuperblock()
}

// allocateInode mirrors allocateBlock over the inode bitmap, bumping
// used_dirs_count when the new inode will host a directory.
func (fs *FileSystem) allocateInode(isDir bool) (uint32, error) {
	numGroups := fs.sb.GroupCount()
	for g := uint32(0); g < numGroups; g++ {
		gd, err := fs.getGroup(g)
		if err != nil {
			return 0, err
		}
		if gd.FreeInodes == 0 {
			continue
		}

		bitmapSize := fs.sb.InodesPerGroup / 8
		bitmap := make([]byte, bitmapSize)
		off := int64(gd.InodeBitmap) * int64(fs.sb.BlockSize())

		fs.dev.Lock()
		_, err = fs.dev.ReadAt(bitmap, off)
		if err != nil {
			fs.dev.Unlock()
			return 0, err
		}

		idx := findFreeBit(bitmap)
		if idx < 0 {
			fs.dev.Unlock()
			continue
		}
		setBit(bitmap, idx)

		_, err = fs.dev.WriteAt(bitmap, off)
		fs.dev.Unlock()
		if err != nil {
			return 0, err
		}

		gd.FreeInodes--
		if isDir {
			gd.UsedDirsCount++
		}
		if err := fs.setGroup(g, gd); err != nil {
			return 0, err
		}
		fs.sb.FreeInodeCount--
		if err := fs.writeSuperblock(); err != nil {
			return 0, err
		}

		return g*fs.sb.InodesPerGroup + uint32(idx) + 1, nil
	}
	return 0, ErrNoSpace
}

func (fs *FileSystem) deallocInode(num uint32, wasDir bool) error {
	local := num - 1
	g := local / fs.sb.InodesPerGroup
	idx := local % fs.sb.InodesPerGroup

	gd, err := fs.getGroup(g)
	if err != nil {
		return err
	}

	bitmapSize := fs.sb.InodesPerGroup / 8
	bitmap := make([]byte, bitmapSize)
	off := int64(gd.InodeBitmap) * int64(fs.sb.BlockSize())

	fs.dev.Lock()
	_, err = fs.dev.ReadAt(bitmap, off)
	if err != nil {
		fs.dev.Unlock()
		return err
	}
	clearBit(bitmap, int(idx))

	_, err = fs.dev.WriteAt(bitmap, off)
	fs.dev.Unlock()
	if err != nil {
		return err
	}

	gd.FreeInodes++
	if wasDir && gd.UsedDirsCount > 0 {
		gd.UsedDirsCount--
	}
	if err := fs.setGroup(g, gd); err != nil {
		return err
	}
	fs.sb.FreeInodeCount++
	return fs.writeSuperblock()
}
