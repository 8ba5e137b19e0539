package ext2

import (
	"encoding/binary"
)

// DirEntry is one decoded directory record. Inode == 0 marks an empty
// (unused) slot whose rec_len still participates in the block's
// packing.
type DirEntry struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string

	// block and offset locate this entry's position on disk, so a
	// caller holding a DirEntry can splice/delete it in place without
	// re-scanning from the start of the block.
	block  uint32
	offset uint32
}

// alignedSize returns the 4-byte aligned size of BaseDentrySize+nameLen.
func alignedSize(nameLen int) uint16 {
	n := BaseDentrySize + nameLen
	return uint16((n + 3) &^ 3)
}

func decodeDirEntry(buf []byte, block, offset uint32) (DirEntry, error) {
	if len(buf) < BaseDentrySize {
		return DirEntry{}, ErrCorruptDirectory
	}
	e := DirEntry{
		Inode:    binary.LittleEndian.Uint32(buf[0:4]),
		RecLen:   binary.LittleEndian.Uint16(buf[4:6]),
		NameLen:  buf[6],
		FileType: buf[7],
		block:    block,
		offset:   offset,
	}
	if int(e.NameLen) > len(buf)-BaseDentrySize {
		return DirEntry{}, ErrCorruptDirectory
	}
	e.Name = string(buf[BaseDentrySize : BaseDentrySize+int(e.NameLen)])
	return e, nil
}

func encodeDirEntry(e DirEntry) []byte {
	buf := make([]byte, BaseDentrySize+len(e.Name))
	binary.LittleEndian.PutUint32(buf[0:4], e.Inode)
	binary.LittleEndian.PutUint16(buf[4:6], e.RecLen)
	buf[6] = byte(len(e.Name))
	buf[7] = e.FileType
	copy(buf[8:], e.Name)
	return buf
}

// DirIter walks the directory entries of an inode's data blocks in
// packed order, refusing to emit a record that would cross a block
// boundary (spec.md §9's "safe iterator" design note).
type DirIter struct {
	fs        *FileSystem
	ino       *Inode
	blockIdx  uint32 // logical block index within the inode
	block     uint32 // physical block id
	buf       []byte
	pos       uint32 // byte offset within buf
	done      bool
}

// NewDirIter starts an iterator at the first data block of a
// directory inode.
func (fs *FileSystem) NewDirIter(ino *Inode) (*DirIter, error) {
	if !ino.Raw.IsDir() {
		return nil, ErrNotDirectory
	}
	it := &DirIter{fs: fs, ino: ino}
	if err := it.loadBlock(0); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *DirIter) loadBlock(logicalIdx uint32) error {
	block, err := it.fs.GetBlockID(it.ino, logicalIdx)
	if err != nil {
		return err
	}
	if block == BlockIDInvalid {
		it.done = true
		return nil
	}
	buf := make([]byte, it.fs.sb.BlockSize())
	if _, err := it.fs.dev.ReadAt(buf, int64(block)*int64(it.fs.sb.BlockSize())); err != nil {
		return err
	}
	it.blockIdx = logicalIdx
	it.block = block
	it.buf = buf
	it.pos = 0
	return nil
}

// Next returns the next directory entry, or (DirEntry{}, false, nil)
// once every data block has been exhausted.
func (it *DirIter) Next() (DirEntry, bool, error) {
	for {
		if it.done {
			return DirEntry{}, false, nil
		}
		if it.pos >= uint32(len(it.buf)) {
			if err := it.loadBlock(it.blockIdx + 1); err != nil {
				return DirEntry{}, false, err
			}
			continue
		}
		e, err := decodeDirEntry(it.buf[it.pos:], it.block, it.pos)
		if err != nil {
			return DirEntry{}, false, err
		}
		if e.RecLen == 0 || it.pos+uint32(e.RecLen) > uint32(len(it.buf)) {
			return DirEntry{}, false, ErrCorruptDirectory
		}
		it.pos += uint32(e.RecLen)
		if e.Inode == InodeInvalid-1 || e.Inode == 0 {
			continue // empty slot, skip to next record
		}
		return e, true, nil
	}
}

// findEntry scans a directory inode's blocks for name, returning the
// matching entry or ErrNotFound.
func (fs *FileSystem) findEntry(dir *Inode, name string) (DirEntry, error) {
	it, err := fs.NewDirIter(dir)
	if err != nil {
		return DirEntry{}, err
	}
	for {
		e, ok, err := it.Next()
		if err != nil {
			return DirEntry{}, err
		}
		if !ok {
			return DirEntry{}, ErrNotFound
		}
		if e.Name == name {
			return e, nil
		}
	}
}

// linkEntry inserts (name -> inodeNum) into dir's directory blocks: it
// first looks for slack in an existing record's rec_len large enough
// to host the new entry; failing that, it allocates a new directory
// block, extending the previous last block's tail entry to end-of-
// block and seeding the new block with the entry followed by one
// empty record spanning the remainder.
func (fs *FileSystem) linkEntry(dir *Inode, name string, inodeNum uint32, fileType uint8) error {
	needed := alignedSize(len(name))
	blockSize := fs.sb.BlockSize()

	numBlocks := fs.logicalBlockCount(dir)
	for li := uint32(0); li < numBlocks; li++ {
		block, err := fs.GetBlockID(dir, li)
		if err != nil {
			return err
		}
		if block == BlockIDInvalid {
			continue
		}

		ok, err := fs.spliceIntoBlock(block, blockSize, needed, inodeNum, fileType, name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return fs.linkEntryNewBlock(dir, name, inodeNum, fileType, numBlocks)
}

// spliceIntoBlock holds fs.dev's lock across the read-modify-write of
// one directory block, trying to place (name -> inodeNum) in existing
// slack. It returns false, nil if the block has no room, leaving the
// caller to try the next block or allocate a new one.
func (fs *FileSystem) spliceIntoBlock(block uint32, blockSize uint32, needed uint16, inodeNum uint32, fileType uint8, name string) (bool, error) {
	fs.dev.Lock()
	defer fs.dev.Unlock()

	buf := make([]byte, blockSize)
	if _, err := fs.dev.ReadAt(buf, int64(block)*int64(blockSize)); err != nil {
		return false, err
	}

	pos := uint32(0)
	for pos < blockSize {
		e, err := decodeDirEntry(buf[pos:], block, pos)
		if err != nil {
			return false, err
		}
		used := alignedSize(int(e.NameLen))
		if e.Inode != 0 {
			slack := e.RecLen - used
			if slack >= needed {
				// Split this record: shrink it to `used`, place
				// the new entry in the freed tail.
				newEntry := DirEntry{Inode: inodeNum, RecLen: slack, FileType: fileType, Name: name}
				binary.LittleEndian.PutUint16(buf[pos+4:pos+6], used)
				copy(buf[pos+uint32(used):], encodeDirEntry(newEntry))
				_, err := fs.dev.WriteAt(buf, int64(block)*int64(blockSize))
				return true, err
			}
		} else if e.RecLen >= needed {
			// Empty slot large enough to reuse directly; split
			// off any remaining slack into a fresh empty record.
			remaining := e.RecLen - needed
			newEntry := DirEntry{Inode: inodeNum, RecLen: needed, FileType: fileType, Name: name}
			copy(buf[pos:], encodeDirEntry(newEntry))
			if remaining >= BaseDentrySize {
				emptyEntry := DirEntry{Inode: 0, RecLen: remaining}
				copy(buf[pos+uint32(needed):], encodeDirEntry(emptyEntry))
			} else {
				binary.LittleEndian.PutUint16(buf[pos+4:pos+6], e.RecLen)
			}
			_, err := fs.dev.WriteAt(buf, int64(block)*int64(blockSize))
			return true, err
		}
		pos += uint32(e.RecLen)
	}
	return false, nil
}

// linkEntryNewBlock is only reached from linkEntry once no existing
// block had room. It does not hold fs.dev's lock itself across the
// whole sequence - extendLastEntryToEOB and allocateBlock each guard
// their own read-modify-write with it, and a Mutex-backed BlockDev
// cannot be re-entered from within one of its own critical sections.
func (fs *FileSystem) linkEntryNewBlock(dir *Inode, name string, inodeNum uint32, fileType uint8, numBlocks uint32) error {
	blockSize := fs.sb.BlockSize()

	if numBlocks > 0 {
		prevBlock, err := fs.GetBlockID(dir, numBlocks-1)
		if err != nil {
			return err
		}
		if prevBlock != BlockIDInvalid {
			if err := fs.extendLastEntryToEOB(prevBlock, blockSize); err != nil {
				return err
			}
		}
	}

	newBlock, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	buf := make([]byte, blockSize)
	needed := alignedSize(len(name))
	entry := DirEntry{Inode: inodeNum, RecLen: needed, FileType: fileType, Name: name}
	copy(buf, encodeDirEntry(entry))
	remaining := uint16(blockSize) - needed
	if remaining > 0 {
		empty := DirEntry{Inode: 0, RecLen: remaining}
		copy(buf[needed:], encodeDirEntry(empty))
	}

	fs.dev.Lock()
	_, err = fs.dev.WriteAt(buf, int64(newBlock)*int64(blockSize))
	fs.dev.Unlock()
	if err != nil {
		fs.deallocBlock(newBlock)
		return err
	}

	if err := fs.SetBlockID(dir, numBlocks, newBlock); err != nil {
		fs.deallocBlock(newBlock)
		return err
	}
	dir.Raw.NumBlocks += blockSize / 512
	dir.Raw.SetSize64(dir.Raw.Size64() + uint64(blockSize))
	return fs.SetInode(dir)
}

// extendLastEntryToEOB extends the final record in a directory block
// so its rec_len reaches the end of the block, preserving the
// packing invariant before a new block is appended. Self-contained:
// holds fs.dev's lock across its own read-modify-write only.
func (fs *FileSystem) extendLastEntryToEOB(block uint32, blockSize uint32) error {
	fs.dev.Lock()
	defer fs.dev.Unlock()

	buf := make([]byte, blockSize)
	if _, err := fs.dev.ReadAt(buf, int64(block)*int64(blockSize)); err != nil {
		return err
	}
	pos := uint32(0)
	lastPos := uint32(0)
	for pos < blockSize {
		e, err := decodeDirEntry(buf[pos:], block, pos)
		if err != nil {
			return err
		}
		lastPos = pos
		pos += uint32(e.RecLen)
	}
	newLen := uint16(blockSize - lastPos)
	binary.LittleEndian.PutUint16(buf[lastPos+4:lastPos+6], newLen)
	_, err := fs.dev.WriteAt(buf, int64(block)*int64(blockSize))
	return err
}

// unlinkEntry removes name from dir. If every other entry sharing the
// block is empty, the whole block is freed and its inode block
// pointer cleared; otherwise the entry is zeroed in place except for
// rec_len, which is left for a future linkEntry to discover as slack.
func (fs *FileSystem) unlinkEntry(dir *Inode, name string) error {
	blockSize := fs.sb.BlockSize()
	numBlocks := fs.logicalBlockCount(dir)

	for li := uint32(0); li < numBlocks; li++ {
		block, err := fs.GetBlockID(dir, li)
		if err != nil {
			return err
		}
		if block == BlockIDInvalid {
			continue
		}

		freeBlock, found, err := fs.unlinkFromBlock(block, blockSize, name)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if freeBlock {
			if err := fs.SetBlockID(dir, li, BlockIDInvalid); err != nil {
				return err
			}
			if err := fs.SetInode(dir); err != nil {
				return err
			}
			return fs.deallocBlockErr(block)
		}
		return nil
	}
	return ErrNotFound
}

// unlinkFromBlock holds fs.dev's lock across the read-modify-write of
// one directory block, looking for name and, if found, either zeroing
// it in place (leaving rec_len as slack for a future linkEntry) or
// reporting that the block holds no other live entries and can be
// freed by the caller - which must happen after this lock is released,
// since deallocBlockErr/SetBlockID take fs.dev's lock themselves.
func (fs *FileSystem) unlinkFromBlock(block uint32, blockSize uint32, name string) (freeBlock bool, found bool, err error) {
	fs.dev.Lock()
	defer fs.dev.Unlock()

	buf := make([]byte, blockSize)
	if _, err := fs.dev.ReadAt(buf, int64(block)*int64(blockSize)); err != nil {
		return false, false, err
	}

	pos := uint32(0)
	foundPos := int64(-1)
	otherLive := false
	for pos < blockSize {
		e, derr := decodeDirEntry(buf[pos:], block, pos)
		if derr != nil {
			return false, false, derr
		}
		if e.Inode != 0 {
			if e.Name == name {
				foundPos = int64(pos)
			} else {
				otherLive = true
			}
		}
		pos += uint32(e.RecLen)
	}
	if foundPos < 0 {
		return false, false, nil
	}
	if !otherLive {
		return true, true, nil
	}

	// Zero everything but rec_len.
	p := uint32(foundPos)
	recLen := binary.LittleEndian.Uint16(buf[p+4 : p+6])
	for i := uint32(0); i < uint32(recLen); i++ {
		buf[p+i] = 0
	}
	binary.LittleEndian.PutUint16(buf[p+4:p+6], recLen)
	if _, err := fs.dev.WriteAt(buf, int64(block)*int64(blockSize)); err != nil {
		return false, true, err
	}
	return false, true, nil
}

// logicalBlockCount returns the number of logical data blocks an
// inode currently spans, derived from its 512-byte block count.
func (fs *FileSystem) logicalBlockCount(ino *Inode) uint32 {
	unitsPerBlock := fs.sb.BlockSize() / 512
	if unitsPerBlock == 0 {
		return 0
	}
	return ino.Raw.NumBlocks / unitsPerBlock
}
