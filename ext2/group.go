package ext2

import (
	"bytes"
	"encoding/binary"
)

// groupDescSize is the on-disk size of GroupDescriptor (32 bytes,
// packed: 3 uint32 + 3 uint16 + 1 uint16 pad + 3 uint32 reserved).
const groupDescSize = 32

// GroupDescriptor describes one block group: where its block bitmap,
// inode bitmap and inode table start, and its free-space counters.
type GroupDescriptor struct {
	BlockBitmap   uint32
	InodeBitmap   uint32
	InodeTable    uint32
	FreeBlocks    uint16
	FreeInodes    uint16
	UsedDirsCount uint16
	Padding       uint16
	Reserved      [3]uint32
}

func (g *GroupDescriptor) unmarshal(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, g)
}

func (g *GroupDescriptor) marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// groupTableBlock is the block immediately following the superblock's
// block, where the group descriptor table begins.
func groupTableBlock(sb *Superblock) uint32 {
	return sb.FirstDataBlock + 1
}

// getGroup reads group descriptor g from the primary group descriptor
// table.
func (fs *FileSystem) getGroup(g uint32) (*GroupDescriptor, error) {
	off := int64(groupTableBlock(&fs.sb))*int64(fs.sb.BlockSize()) + int64(g)*groupDescSize
	buf := make([]byte, groupDescSize)
	if _, err := fs.dev.ReadAt(buf, off); err != nil {
		return nil, err
	}
	gd := &GroupDescriptor{}
	if err := gd.unmarshal(buf); err != nil {
		return nil, err
	}
	return gd, nil
}

// setGroup writes group descriptor g to the primary table and to
// every sparse-super backup location.
func (fs *FileSystem) setGroup(g uint32, gd *GroupDescriptor) error {
	buf, err := gd.marshal()
	if err != nil {
		return err
	}

	fs.dev.Lock()
	defer fs.dev.Unlock()

	numGroups := fs.sb.GroupCount()
	primary := int64(groupTableBlock(&fs.sb))*int64(fs.sb.BlockSize()) + int64(g)*groupDescSize
	if _, err := fs.dev.WriteAt(buf, primary); err != nil {
		return err
	}

	for _, backupGroup := range sparseSuperGroups(numGroups) {
		backupBase := fs.sb.FirstDataBlock + backupGroup*fs.sb.BlocksPerGroup
		off := int64(backupBase+1)*int64(fs.sb.BlockSize()) + int64(g)*groupDescSize
		if _, err := fs.dev.WriteAt(buf, off); err != nil {
			return err
		}
	}
	return nil
}

// writeSuperblock persists the in-core superblock to its primary
// location and to every sparse-super backup group, temporarily
// overriding BlockGroupNr to the backup's own group number as the
// original does before restoring it.
func (fs *FileSystem) writeSuperblock() error {
	fs.dev.Lock()
	defer fs.dev.Unlock()

	orig := fs.sb.BlockGroupNr
	defer func() { fs.sb.BlockGroupNr = orig }()

	fs.sb.BlockGroupNr = 0
	buf, err := fs.sb.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := fs.dev.WriteAt(buf, SuperblockAddress); err != nil {
		return err
	}

	numGroups := fs.sb.GroupCount()
	for _, g := range sparseSuperGroups(numGroups) {
		fs.sb.BlockGroupNr = uint16(g)
		buf, err := fs.sb.MarshalBinary()
		if err != nil {
			return err
		}
		base := fs.sb.FirstDataBlock + g*fs.sb.BlocksPerGroup
		off := int64(base) * int64(fs.sb.BlockSize())
		if _, err := fs.dev.WriteAt(buf, off); err != nil {
			return err
		}
	}
	return nil
}
