//go:build linux

package mmio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapFile maps size bytes of f (a PCI resource file such as
// /sys/bus/pci/devices/<dev>/resource0) read-write and shared. If size
// is 0 the whole file is mapped.
func MapFile(f *os.File, size int) (Region, error) {
	if size == 0 {
		st, err := f.Stat()
		if err != nil {
			return Region{}, fmt.Errorf("stat %q: %w", f.Name(), err)
		}
		size = int(st.Size())
	}
	b, err := unix.Mmap(
		int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return Region{}, fmt.Errorf("mmap %q: %w", f.Name(), err)
	}
	return NewRegion(b), nil
}

// MapAnon maps an anonymous, page-backed, pre-faulted region. Used for
// DMA-capable host buffers; the mapping is page aligned by construction.
func MapAnon(size int) ([]byte, error) {
	b, err := unix.Mmap(
		-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap anon: %w", err)
	}
	return b, nil
}

// Unmap releases a mapping created by MapFile or MapAnon.
func Unmap(b []byte) error {
	return unix.Munmap(b)
}

// PageSize returns the host page size.
func PageSize() int { return os.Getpagesize() }
