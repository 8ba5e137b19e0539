package ext2

import (
	"github.com/nsingh/neilfs/blockdev"
)

const defaultInodeRatio = 4096 // one inode per 4096 bytes of volume, e2fsprogs' default

// Mkfs formats dev as a fresh ext2 volume of the given byte size and
// returns it mounted. It lays out the group descriptor table (as many
// blocks as the group count needs) with sparse-super backups, marks the
// metadata blocks (superblock, group descriptor table, bitmaps, inode
// table) used in each group's block bitmap, and seeds the root
// directory.
func Mkfs(dev blockdev.BlockDev, totalSize uint64, opts ...MkfsOption) (*FileSystem, error) {
	p := &mkfsParams{
		blockSize:    1024,
		blocksPerGrp: 8192,
		inodesPerGrp: 0, // computed below once blockSize is known
		reservedPct:  5,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.blocksPerGrp = p.blockSize * 8 // one bit per block in one block-sized bitmap

	totalBlocks := uint32(totalSize / uint64(p.blockSize))
	numGroups := (totalBlocks + p.blocksPerGrp - 1) / p.blocksPerGrp
	if numGroups == 0 {
		numGroups = 1
	}

	totalInodeSlots := uint32(totalSize / defaultInodeRatio)
	if totalInodeSlots == 0 {
		totalInodeSlots = numGroups * 8
	}
	inodesPerGrp := (totalInodeSlots + numGroups - 1) / numGroups
	inodesPerGrp = (inodesPerGrp + 7) &^ 7 // round to a whole byte of bitmap

	sb := Superblock{
		InodeCount:     inodesPerGrp * numGroups,
		BlockCount:     totalBlocks,
		RBlockCount:    totalBlocks * p.reservedPct / 100,
		FreeBlockCount: 0, // filled in as metadata is marked used
		FreeInodeCount: inodesPerGrp*numGroups - 10,
		FirstDataBlock: firstDataBlockFor(p.blockSize),
		LogBlockSize:   log2(p.blockSize) - baseBlockSizeBits,
		LogFragSize:    int32(log2(p.blockSize) - baseBlockSizeBits),
		BlocksPerGroup: p.blocksPerGrp,
		FragsPerGroup:  p.blocksPerGrp,
		InodesPerGroup: inodesPerGrp,
		MaxMntCount:    20,
		Magic:          Magic,
		State:          StateValid,
		Error:          ErrPolicyContinue,
		RevLevel:       1,
		FirstInode:     11,
		InodeSize:      uint16(rawInodeSize),
		FeaturesRO:     FeatureROSparseSuper,
	}
	copy(sb.VolumeName[:], p.volumeLabel)

	fs := &FileSystem{sb: sb, dev: dev, devID: 1}

	bitmapBlocksPerGroup := uint32(1) // one block-sized bitmap covers blocksPerGrp bits exactly
	inodeBitmapBlocksPerGroup := uint32(1)
	inodeTableBlocksPerGroup := (inodesPerGrp*rawInodeSize + p.blockSize - 1) / p.blockSize
	gdBlocks := (numGroups*groupDescSize + p.blockSize - 1) / p.blockSize

	for g := uint32(0); g < numGroups; g++ {
		groupBase := sb.FirstDataBlock + g*p.blocksPerGrp
		cursor := groupBase
		if g == 0 || isSparseSuperGroup(g) {
			cursor++ // superblock's own block
			cursor += gdBlocks
		}

		gd := &GroupDescriptor{
			BlockBitmap: cursor,
			InodeBitmap: cursor + bitmapBlocksPerGroup,
			InodeTable:  cursor + bitmapBlocksPerGroup + inodeBitmapBlocksPerGroup,
		}
		metaBlocks := bitmapBlocksPerGroup + inodeBitmapBlocksPerGroup + inodeTableBlocksPerGroup
		reservedInGroup := cursor - groupBase + metaBlocks

		blockBitmap := make([]byte, p.blocksPerGrp/8)
		for i := uint32(0); i < reservedInGroup; i++ {
			setBit(blockBitmap, int(i))
		}
		groupBlocks := p.blocksPerGrp
		if g == numGroups-1 {
			groupBlocks = totalBlocks - g*p.blocksPerGrp
		}
		for i := groupBlocks; i < p.blocksPerGrp; i++ {
			setBit(blockBitmap, int(i)) // pad past the volume's real end
		}
		gd.FreeBlocks = uint16(groupBlocks - reservedInGroup)
		sb.FreeBlockCount += uint32(gd.FreeBlocks)

		inodeBitmap := make([]byte, inodesPerGrp/8)
		gd.FreeInodes = uint16(inodesPerGrp)
		if g == 0 {
			for i := uint32(0); i < 10; i++ { // reserve the 10 well-known low inode numbers
				setBit(inodeBitmap, int(i))
			}
			gd.FreeInodes -= 10
		}

		dev.Lock()
		if _, err := dev.WriteAt(blockBitmap, int64(gd.BlockBitmap)*int64(p.blockSize)); err != nil {
			dev.Unlock()
			return nil, err
		}
		if _, err := dev.WriteAt(inodeBitmap, int64(gd.InodeBitmap)*int64(p.blockSize)); err != nil {
			dev.Unlock()
			return nil, err
		}
		dev.Unlock()

		fs.sb = sb
		if err := fs.setGroup(g, gd); err != nil {
			return nil, err
		}
	}

	fs.sb = sb
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}

	root := &Inode{Num: InodeRoot}
	root.Raw.Mode = rootDirDefaultMode
	root.Raw.LinkCount = 2
	ts := now()
	root.Raw.Atime, root.Raw.Ctime, root.Raw.Mtime = ts, ts, ts
	if err := fs.initDirBlock(root, InodeRoot); err != nil {
		return nil, err
	}
	if err := fs.SetInode(root); err != nil {
		return nil, err
	}

	return fs, nil
}

// log2 returns the log base 2 of a power-of-two block size.
func log2(v uint32) uint32 {
	n := uint32(0)
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func firstDataBlockFor(blockSize uint32) uint32 {
	if blockSize == 1024 {
		return 1 // block 0 holds the boot sector when blocks are 1KiB
	}
	return 0
}

func isSparseSuperGroup(g uint32) bool {
	return g == 1 || g%3 == 0 || g%5 == 0 || g%7 == 0
}
