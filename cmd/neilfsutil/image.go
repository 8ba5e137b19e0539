package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/nsingh/neilfs/blockdev"
)

// openBlockDev opens path as a neilfs block device. A plain image
// opens read-write in place; a .img.gz or .img.xz image is inflated
// into an anonymous in-memory device (blockdev.MemDev) since neither
// compressed-stream format supports random-access writes, so a
// compressed container is necessarily a read-only view.
func openBlockDev(path string) (blockdev.BlockDev, func() error, error) {
	switch {
	case strings.HasSuffix(path, ".img.gz"):
		dev, err := inflateToMemDev(path, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
		return dev, func() error { return nil }, err
	case strings.HasSuffix(path, ".img.xz"):
		dev, err := inflateToMemDev(path, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
		return dev, func() error { return nil }, err
	default:
		f, err := blockdev.OpenFile(path, false)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}

func inflateToMemDev(path string, wrap func(io.Reader) (io.Reader, error)) (blockdev.BlockDev, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := wrap(f)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	dev := blockdev.NewMemDev(int64(len(data)))
	if _, err := dev.WriteAt(data, 0); err != nil {
		return nil, err
	}
	return dev, nil
}

// parseSize parses a byte count with an optional K/M/G suffix (base
// 1024), as accepted by the mkfs subcommand's <size> argument.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
