package ccat

import (
	"fmt"

	"github.com/kthaler/ccatlink/mmio"
)

// DMABuffer is a block of DMA-capable host memory together with the
// bus address the controller uses to reach Data[0].
type DMABuffer struct {
	Data []byte
	Addr uint64
}

// Allocator provides host memory the controller can DMA into. The
// production allocator mmaps anonymous pages; tests substitute plain
// slices with synthetic bus addresses.
type Allocator interface {
	Alloc(size int) (DMABuffer, error)
	Free(DMABuffer) error
	PageSize() int
}

// Channel binds a ring's host memory to one controller DMA channel.
//
// The controller exposes one address-translation window per channel at
// 0x1000 + 8*channel in the DMA configuration space. Writing all-ones
// and reading back yields the window's alignment mask, from which the
// window size follows. The host buffer is overallocated so that a
// page-aligned, fully-translated window of memSize bytes always fits.
type Channel struct {
	// Buf is the whole host allocation.
	Buf DMABuffer

	// Ring is the translated window within Buf: the controller and the
	// driver address ring slots relative to Ring[0].
	Ring []byte

	// Number is the controller DMA channel number.
	Number uint8

	alloc Allocator
	pool  ChannelPool
}

const dmaWindowBase = 0x1000

// OpenChannel probes the translation window of the given channel,
// allocates host memory for it, reserves the channel and programs the
// translated base address into the channel's address register.
//
// On channel-reservation failure the allocated memory is released
// before the error is returned; the caller never owns a half-open
// channel.
func OpenChannel(dma mmio.Region, channel uint8, alloc Allocator, pool ChannelPool) (*Channel, error) {
	off := dmaWindowBase + 8*int(channel)

	// Learn the window's alignment and size.
	dma.Store32(off, 0xffffffff)
	mmio.Fence()
	memTranslate := dma.Load32(off) &^ 0x3
	memSize := uint64(^memTranslate) + 1
	pageSize := uint64(alloc.PageSize())
	if memTranslate == 0 || memSize <= pageSize {
		return nil, fmt.Errorf("%w: channel %d reports mask %#x", ErrWindowTooSmall, channel, memTranslate)
	}

	size := 2*memSize - pageSize
	buf, err := alloc.Alloc(int(size))
	if err != nil {
		return nil, fmt.Errorf("allocating DMA%d memory: %w", channel, err)
	}

	if err := pool.Request(channel); err != nil {
		_ = alloc.Free(buf)
		return nil, fmt.Errorf("requesting DMA channel %d: %w", channel, err)
	}

	// Page-aligned translated base inside the allocation. The mask is
	// widened to 64 bits so host addresses above 4 GiB keep their high
	// bits; only the in-window offset is aligned away.
	translated := (buf.Addr + memSize - pageSize) &^ (memSize - 1)
	dma.Store64(off, translated)

	start := translated - buf.Addr
	return &Channel{
		Buf:    buf,
		Ring:   buf.Data[start : start+memSize],
		Number: channel,
		alloc:  alloc,
		pool:   pool,
	}, nil
}

// Close releases the channel reservation and frees the host memory.
// The caller must have reset the ring trigger first so the controller
// no longer touches the buffer.
func (c *Channel) Close() error {
	c.pool.Release(c.Number)
	return c.alloc.Free(c.Buf)
}
