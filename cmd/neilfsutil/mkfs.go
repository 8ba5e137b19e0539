package main

import (
	"fmt"

	"github.com/nsingh/neilfs/blockdev"
	"github.com/nsingh/neilfs/ext2"
)

func cmdMkfs(imagePath, sizeArg string) error {
	size, err := parseSize(sizeArg)
	if err != nil {
		return err
	}

	dev, err := blockdev.CreateFile(imagePath, size)
	if err != nil {
		return fmt.Errorf("create %s: %w", imagePath, err)
	}
	defer dev.Close()

	if _, err := ext2.Mkfs(dev, uint64(size)); err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	if err := dev.Sync(); err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d bytes\n", imagePath, size)
	return nil
}
