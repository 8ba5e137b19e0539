// Command neilfsutil inspects, formats and checks neilfs ext2 disk
// images from the host, in the spirit of cmd/sqfs's read-only
// inspection tool but for a mutable, mountable filesystem.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nsingh/neilfs/ext2"
	"github.com/nsingh/neilfs/vfs"
)

const usage = `neilfsutil - neilfs ext2 disk image tool

Usage:
  neilfsutil ls <image> [<path>]            List directory contents
  neilfsutil cat <image> <file>             Print a file's contents
  neilfsutil info <image>                   Show superblock/group summary
  neilfsutil mkfs <image> <size>            Format a new image of <size> bytes (supports K/M/G suffix)
  neilfsutil fsck <image>                   Check filesystem invariants
  neilfsutil help                           Show this help message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "ls":
		if len(os.Args) < 3 {
			err = fmt.Errorf("missing image path")
		} else {
			path := "/"
			if len(os.Args) > 3 {
				path = os.Args[3]
			}
			err = cmdLs(os.Args[2], path)
		}
	case "cat":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image path or file")
		} else {
			err = cmdCat(os.Args[2], os.Args[3])
		}
	case "info":
		if len(os.Args) < 3 {
			err = fmt.Errorf("missing image path")
		} else {
			err = cmdInfo(os.Args[2])
		}
	case "mkfs":
		if len(os.Args) < 4 {
			err = fmt.Errorf("missing image path or size")
		} else {
			err = cmdMkfs(os.Args[2], os.Args[3])
		}
	case "fsck":
		if len(os.Args) < 3 {
			err = fmt.Errorf("missing image path")
		} else {
			err = cmdFsck(os.Args[2])
		}
	case "help":
		fmt.Println(usage)
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openImage(path string) (*ext2.FileSystem, func() error, error) {
	dev, closer, err := openBlockDev(path)
	if err != nil {
		return nil, nil, err
	}
	fs, err := ext2.Open(dev)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return fs, closer, nil
}

func cmdLs(imagePath, path string) error {
	efs, closer, err := openImage(imagePath)
	if err != nil {
		return err
	}
	defer closer()

	v := vfs.New(efs)
	fd, err := v.Open(path, vfs.ModeRead)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fd.Close()

	entries, err := vfs.ReadDir(fd)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Println(e.Name)
	}
	return nil
}

func cmdCat(imagePath, path string) error {
	efs, closer, err := openImage(imagePath)
	if err != nil {
		return err
	}
	defer closer()

	v := vfs.New(efs)
	fd, err := v.Open(path, vfs.ModeRead)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fd.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := fd.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			break
		}
	}
	return nil
}

func cmdInfo(imagePath string) error {
	efs, closer, err := openImage(imagePath)
	if err != nil {
		return err
	}
	defer closer()

	sb := efs.Superblock()
	fmt.Println("neilfs ext2 image")
	fmt.Println("=================")
	fmt.Printf("Block size:       %d bytes\n", sb.BlockSize())
	fmt.Printf("Blocks:           %d (%d free)\n", sb.BlockCount, sb.FreeBlockCount)
	fmt.Printf("Inodes:           %d (%d free)\n", sb.InodeCount, sb.FreeInodeCount)
	fmt.Printf("Groups:           %d\n", sb.GroupCount())
	fmt.Printf("Last mount:       %s\n", time.Unix(int64(sb.Mtime), 0).Format(time.RFC1123))
	return nil
}
