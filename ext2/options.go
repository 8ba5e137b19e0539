package ext2

// Option configures a FileSystem at mount (Open) time; Mkfs takes
// MkfsOption values instead. Both follow the functional-options pattern used throughout the
// retrieved stack (e.g. squashfs.Option, squashfs.WriterOption).
type Option func(*FileSystem) error

// WithDeviceID sets the device id reported in Stat results. The
// original source hard-codes this to 1 for its single mounted volume;
// this lets a process mounting more than one neilfs volume give each
// a distinct id.
func WithDeviceID(id uint32) Option {
	return func(fs *FileSystem) error {
		fs.devID = id
		return nil
	}
}

// WithErrorPolicy overrides the superblock's on-error behavior
// (ErrPolicyContinue / ErrPolicyReadOnly / ErrPolicyPanic) at mount
// time instead of trusting whatever the on-disk superblock carries.
func WithErrorPolicy(policy uint16) Option {
	return func(fs *FileSystem) error {
		fs.errorPolicyOverride = &policy
		return nil
	}
}

// MkfsOption configures Mkfs's layout decisions.
type MkfsOption func(*mkfsParams) error

type mkfsParams struct {
	blockSize     uint32
	blocksPerGrp  uint32
	inodesPerGrp  uint32
	reservedPct   uint32
	volumeLabel   string
}

// WithBlockSize selects 1024, 2048 or 4096 as the filesystem's block
// size; the default is 1024, matching the original's base block size.
func WithBlockSize(size uint32) MkfsOption {
	return func(p *mkfsParams) error {
		p.blockSize = size
		return nil
	}
}

// WithVolumeLabel sets the 16-byte volume name field.
func WithVolumeLabel(label string) MkfsOption {
	return func(p *mkfsParams) error {
		p.volumeLabel = label
		return nil
	}
}
