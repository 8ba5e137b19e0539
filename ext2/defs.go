// Package ext2 implements the on-disk and semantic layers of an ext2
// filesystem: superblock and group-descriptor access with sparse-super
// backup replication, inode and block bitmap allocation, the direct/
// indirect block index, directory entry packing, and path-based
// create/open/link/unlink/truncate. Ported from
// kernel/drivers/filesystem/ext2/{defs.h,ext2.c,inode.c,block.c}.
package ext2

// Unique inodes.
const (
	InodeInvalid = 0x1 // bad inode
	InodeRoot    = 0x2 // root ("/") inode
)

// BlockIDInvalid marks the end of a block list / an unallocated slot.
const BlockIDInvalid = 0x0

const (
	Magic               = 0xEF53
	SuperblockAddress   = 1024
	baseBlockSizeBits   = 10
	indexSizeBits       = 2 // 4 bytes per block-id entry
	inodeBlockCountBits = 9 // 512-byte units
	MaxNameSize         = 255
)

// Filesystem state.
const (
	StateValid = 0x1
	StateError = 0x2
)

// Error-handling policy.
const (
	ErrPolicyContinue = 0x1
	ErrPolicyReadOnly = 0x2
	ErrPolicyPanic    = 0x3
)

// Read-only compatible feature flags.
const (
	FeatureROSparseSuper = 0x1
	FeatureROLargeFile   = 0x2
	FeatureROBTreeDir    = 0x4
)

// Dentry file types.
const (
	FTUnknown = 0
	FTRegFile = 1
	FTDir     = 2
	FTChrDev  = 3
	FTBlkDev  = 4
	FTFifo    = 5
	FTSock    = 6
	FTSymlink = 7
)

// BaseDentrySize is sizeof(inode)+sizeof(rec_len)+sizeof(name_len)+sizeof(file_type).
const BaseDentrySize = 8

// Inode block-pointer layout.
const (
	NumDirect       = 12
	SingleIndirect  = 12
	DoubleIndirect  = 13
	TripleIndirect  = 14
	NumBlockPtrs    = 15
)

// Inode mode bits (type + permission), matching Linux/ext2 encoding.
const (
	ModeSock  = 0xC000
	ModeLink  = 0xA000
	ModeReg   = 0x8000
	ModeBlk   = 0x6000
	ModeDir   = 0x4000
	ModeChr   = 0x2000
	ModeFifo  = 0x1000
	ModeSUID  = 0x0800
	ModeSGID  = 0x0400
	ModeSticky = 0x0200

	ModeUserRead    = 0x0100
	ModeUserWrite   = 0x0080
	ModeUserExecute = 0x0040
	ModeGroupRead    = 0x0020
	ModeGroupWrite   = 0x0010
	ModeGroupExecute = 0x0008
	ModeOtherRead    = 0x0004
	ModeOtherWrite   = 0x0002
	ModeOtherExecute = 0x0001
	ModeAttrAll      = 0x01FF

	modeTypeMask = 0xF000
)

const rawInodeSize = 128 // sizeof(ext_inode_info_t) on the wire

const rootDirDefaultMode = ModeDir | ModeAttrAll
const regularDefaultMode = ModeReg | ModeAttrAll
const fifoDefaultMode = ModeFifo | ModeAttrAll
