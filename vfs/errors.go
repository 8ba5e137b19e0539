package vfs

import "errors"

var (
	ErrIsDirectory   = errors.New("vfs: is a directory")
	ErrNotDirectory  = errors.New("vfs: not a directory")
	ErrUnsupported   = errors.New("vfs: operation not supported on this descriptor")
	ErrExists        = errors.New("vfs: file exists")
	ErrNotFound      = errors.New("vfs: no such file or directory")
	ErrNoDevice      = errors.New("vfs: no such device")
	ErrDeviceExists  = errors.New("vfs: device already registered")
)
