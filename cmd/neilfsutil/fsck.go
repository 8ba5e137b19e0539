package main

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// cmdFsck checks every block group's invariants concurrently via
// errgroup, reporting every failure found rather than stopping at the
// first one.
func cmdFsck(imagePath string) error {
	efs, closer, err := openImage(imagePath)
	if err != nil {
		return err
	}
	defer closer()

	numGroups := efs.GroupCount()

	var mu sync.Mutex
	var findings []error

	g, _ := errgroup.WithContext(context.Background())
	for i := uint32(0); i < numGroups; i++ {
		group := i
		g.Go(func() error {
			errs := efs.CheckGroup(group)
			if len(errs) > 0 {
				mu.Lock()
				findings = append(findings, errs...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(findings) == 0 {
		fmt.Println("fsck: clean")
		return nil
	}
	fmt.Printf("fsck: %d problem(s) found\n", len(findings))
	for _, e := range findings {
		fmt.Println(" -", e)
	}
	return fmt.Errorf("%d inconsistencies found", len(findings))
}

