package vfs

import "github.com/nsingh/neilfs/fifo"

// fifoFileOps backs a named-pipe FileDescriptor with a fifo.Handle.
type fifoFileOps struct {
	h *fifo.Handle
}

func (o *fifoFileOps) Read(fd *FileDescriptor, p []byte) (int, error)  { return o.h.Read(p) }
func (o *fifoFileOps) Write(fd *FileDescriptor, p []byte) (int, error) { return o.h.Write(p) }

func (o *fifoFileOps) Seek(fd *FileDescriptor, offset int64, whence int) (int64, error) {
	return o.h.Seek(offset, whence)
}

func (o *fifoFileOps) Truncate(fd *FileDescriptor, size uint64) error { return ErrUnsupported }

func (o *fifoFileOps) Stat(fd *FileDescriptor) (Stat, error) {
	s := o.h.Stat()
	return Stat{
		DeviceID:     s.DeviceID,
		BlockSize:    s.BlockSize,
		Size:         uint64(s.Size),
		Num512Blocks: s.Num512Blocks,
	}, nil
}

func (o *fifoFileOps) Ioctl(fd *FileDescriptor, request uint32, arg []byte) error {
	return ErrUnsupported
}

func (o *fifoFileOps) CanRead(fd *FileDescriptor) bool  { return o.h.CanRead() }
func (o *fifoFileOps) CanWrite(fd *FileDescriptor) bool { return o.h.CanWrite() }

func (o *fifoFileOps) Duplicate(fd *FileDescriptor) (fileOps, error) {
	return &fifoFileOps{h: o.h.Duplicate()}, nil
}

func (o *fifoFileOps) Close(fd *FileDescriptor) error { return o.h.Close() }
