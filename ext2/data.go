package ext2

// ReadAt reads len(p) bytes of ino's data starting at off, following
// spec.md's read semantics: bytes past the inode's recorded size are
// not read, and an unallocated hole in the middle of the file reads
// back as zeros.
func (fs *FileSystem) ReadAt(ino *Inode, p []byte, off uint64) (int, error) {
	size := ino.Raw.Size64()
	if off >= size {
		return 0, nil
	}
	if uint64(len(p)) > size-off {
		p = p[:size-off]
	}

	blockSize := uint64(fs.sb.BlockSize())
	n := 0
	for n < len(p) {
		pos := off + uint64(n)
		logical := uint32(pos / blockSize)
		inBlock := pos % blockSize
		want := blockSize - inBlock
		if want > uint64(len(p)-n) {
			want = uint64(len(p) - n)
		}

		block, err := fs.GetBlockID(ino, logical)
		if err != nil {
			return n, err
		}
		if block == BlockIDInvalid {
			// Hole: read back as zero without touching the device.
			for i := uint64(0); i < want; i++ {
				p[uint64(n)+i] = 0
			}
		} else {
			buf := make([]byte, want)
			if _, err := fs.dev.ReadAt(buf, int64(block)*int64(blockSize)+int64(inBlock)); err != nil {
				return n, err
			}
			copy(p[n:], buf)
		}
		n += int(want)
	}
	return n, nil
}

// WriteAt writes len(p) bytes of ino's data starting at off, allocating
// new blocks as needed and growing the inode's recorded size.
//
// Preserved bug: when off is past the inode's current size, the gap
// between the old size and off is never zero-filled - only the newly
// written blocks that happen to be allocated are touched, so a reader
// that later reads through the gap on a block that was already
// allocated (e.g. shared with a previous, shorter write) sees whatever
// was already on disk rather than zeros. The original ext2_write_data
// has the same defect; it is kept here rather than silently fixed.
func (fs *FileSystem) WriteAt(ino *Inode, p []byte, off uint64) (int, error) {
	blockSize := uint64(fs.sb.BlockSize())
	n := 0
	for n < len(p) {
		pos := off + uint64(n)
		logical := uint32(pos / blockSize)
		inBlock := pos % blockSize
		want := blockSize - inBlock
		if want > uint64(len(p)-n) {
			want = uint64(len(p) - n)
		}

		block, err := fs.GetBlockID(ino, logical)
		if err != nil {
			return n, err
		}
		if block == BlockIDInvalid {
			block, err = fs.allocateBlock()
			if err != nil {
				return n, err
			}
			if err := fs.SetBlockID(ino, logical, block); err != nil {
				fs.deallocBlock(block)
				return n, err
			}
			ino.Raw.NumBlocks += uint32(blockSize / 512)
		}

		if _, err := fs.dev.WriteAt(p[n:uint64(n)+want], int64(block)*int64(blockSize)+int64(inBlock)); err != nil {
			return n, err
		}
		n += int(want)
	}

	newEnd := off + uint64(n)
	if newEnd > ino.Raw.Size64() {
		ino.Raw.SetSize64(newEnd)
	}
	ino.Raw.Mtime = now()
	if err := fs.SetInode(ino); err != nil {
		return n, err
	}
	return n, nil
}

// Truncate changes ino's recorded size to newSize. Shrinking releases
// every data block wholly past the new size. Growing never allocates
// blocks up front - per spec.md, the gap simply reads as zero (holes)
// until something writes into it, same as a freshly-extended file; the
// unused tail of an already-allocated last block is zeroed first.
func (fs *FileSystem) Truncate(ino *Inode, newSize uint64) error {
	oldSize := ino.Raw.Size64()
	if newSize == oldSize {
		return nil
	}
	if newSize > oldSize {
		blockSize := uint64(fs.sb.BlockSize())
		if tail := oldSize % blockSize; tail != 0 {
			block, err := fs.GetBlockID(ino, uint32(oldSize/blockSize))
			if err != nil {
				return err
			}
			if block != BlockIDInvalid {
				zeros := make([]byte, blockSize-tail)
				if _, err := fs.dev.WriteAt(zeros, int64(block)*int64(blockSize)+int64(tail)); err != nil {
					return err
				}
			}
		}
		ino.Raw.SetSize64(newSize)
		ino.Raw.Ctime = now()
		return fs.SetInode(ino)
	}

	blockSize := uint64(fs.sb.BlockSize())
	firstFreedBlock := uint32(newSize / blockSize)
	if newSize%blockSize != 0 {
		firstFreedBlock++
	}
	lastBlock := uint32((oldSize + blockSize - 1) / blockSize)

	for logical := firstFreedBlock; logical < lastBlock; logical++ {
		block, err := fs.GetBlockID(ino, logical)
		if err != nil {
			return err
		}
		if block == BlockIDInvalid {
			continue
		}
		if err := fs.SetBlockID(ino, logical, BlockIDInvalid); err != nil {
			return err
		}
		if err := fs.deallocBlockErr(block); err != nil {
			return err
		}
		ino.Raw.NumBlocks -= uint32(blockSize / 512)
	}

	ino.Raw.SetSize64(newSize)
	ino.Raw.Ctime = now()
	return fs.SetInode(ino)
}
