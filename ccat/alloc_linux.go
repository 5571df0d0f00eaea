//go:build linux

package ccat

import (
	"unsafe"

	"github.com/kthaler/ccatlink/mmio"
)

// MmapAllocator allocates DMA buffers from anonymous, pre-faulted,
// page-aligned mappings. The mapping's virtual address doubles as the
// bus address, matching how the controller's translation window is
// programmed from user space.
type MmapAllocator struct{}

func (MmapAllocator) Alloc(size int) (DMABuffer, error) {
	b, err := mmio.MapAnon(size)
	if err != nil {
		return DMABuffer{}, err
	}
	return DMABuffer{
		Data: b,
		Addr: uint64(uintptr(unsafe.Pointer(&b[0]))),
	}, nil
}

func (MmapAllocator) Free(b DMABuffer) error {
	return mmio.Unmap(b.Data)
}

func (MmapAllocator) PageSize() int { return mmio.PageSize() }
