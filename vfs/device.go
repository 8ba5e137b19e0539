package vfs

import "sync"

// DeviceOpenFunc builds the fileOps for a device-backed descriptor
// when the inode holding a device's major/minor pair is opened. It is
// consulted after ext2 resolves the path to an inode number but
// before the default regular-file/directory descriptor is built,
// mirroring device_file_add/open_fn in the original driver. name is
// the basename the path resolved through (e.g. "tty0"), letting one
// handler registered under several inodes tell them apart.
type DeviceOpenFunc func(name string, mode uint32) (fileOps, error)

// DeviceRegistry maps inode numbers carrying device nodes to the
// handler that knows how to open them.
type DeviceRegistry struct {
	mu      sync.Mutex
	devices map[uint32]DeviceOpenFunc
}

// NewDeviceRegistry creates an empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[uint32]DeviceOpenFunc)}
}

// Add registers open as the handler for inode number ino. It is an
// error to register the same inode twice.
func (r *DeviceRegistry) Add(ino uint32, open DeviceOpenFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[ino]; exists {
		return ErrDeviceExists
	}
	r.devices[ino] = open
	return nil
}

// Remove unregisters a device inode.
func (r *DeviceRegistry) Remove(ino uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, ino)
}

// lookup returns the handler for ino, if any.
func (r *DeviceRegistry) lookup(ino uint32) (DeviceOpenFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.devices[ino]
	return fn, ok
}
