// Package mmio provides access to memory-mapped device register windows.
//
// A Region wraps a byte slice that is shared with a device (a mapped PCI
// BAR, DMA-coherent host memory, or a simulated device model) and offers
// fixed-width little-endian loads and stores plus bulk copies.
//
// Ordering model:
//
//   - Store32/Store64 and Load32/Load64 are sequentially consistent; a
//     trigger-register store therefore publishes every plain write made
//     before it.
//   - Fence is an explicit write barrier for the cases where a device
//     must observe prior writes without a subsequent trigger store.
//   - 8- and 16-bit accessors are plain; pair them with Fence when the
//     device reads them asynchronously.
//
// The byte layout is little-endian, matching the controller; 32- and
// 64-bit offsets must be naturally aligned.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// StoreHook observes 32- and 64-bit stores into a Region. Device models
// install one to react to trigger-register writes synchronously. The
// offset is relative to the hooked Region; width is 4 or 8.
type StoreHook func(off, width int)

// Region is a window of device-visible memory.
//
// The zero Region is not valid; it reports Len() == 0 and IsValid() ==
// false, which callers use for "this ring has no trigger register".
type Region struct {
	b    []byte
	hook StoreHook
}

// NewRegion wraps b as a device register window.
func NewRegion(b []byte) Region { return Region{b: b} }

// WithHook returns a copy of r that invokes hook after every 32- and
// 64-bit store.
func (r Region) WithHook(hook StoreHook) Region {
	r.hook = hook
	return r
}

// IsValid reports whether the region is backed by memory.
func (r Region) IsValid() bool { return r.b != nil }

// Len returns the window size in bytes.
func (r Region) Len() int { return len(r.b) }

// Slice returns the sub-window [off, off+n). Store hooks keep firing
// with offsets relative to the sub-window.
func (r Region) Slice(off, n int) Region {
	sub := Region{b: r.b[off : off+n : off+n]}
	if r.hook != nil {
		parent := r.hook
		sub.hook = func(o, w int) { parent(off+o, w) }
	}
	return sub
}

// From returns the sub-window starting at off and reaching to the end
// of the region.
func (r Region) From(off int) Region { return r.Slice(off, len(r.b)-off) }

// Bytes exposes the backing memory. Intended for device models and
// tests, not for driver data paths.
func (r Region) Bytes() []byte { return r.b }

func (r Region) Load8(off int) uint8 { return r.b[off] }

func (r Region) Store8(off int, v uint8) { r.b[off] = v }

func (r Region) Load16(off int) uint16 {
	_ = r.b[off+1]
	return uint16(r.b[off]) | uint16(r.b[off+1])<<8
}

func (r Region) Store16(off int, v uint16) {
	_ = r.b[off+1]
	r.b[off] = byte(v)
	r.b[off+1] = byte(v >> 8)
}

func (r Region) Load32(off int) uint32 {
	return atomic.LoadUint32(r.p32(off))
}

func (r Region) Store32(off int, v uint32) {
	atomic.StoreUint32(r.p32(off), v)
	if r.hook != nil {
		r.hook(off, 4)
	}
}

func (r Region) Load64(off int) uint64 {
	return atomic.LoadUint64(r.p64(off))
}

func (r Region) Store64(off int, v uint64) {
	atomic.StoreUint64(r.p64(off), v)
	if r.hook != nil {
		r.hook(off, 8)
	}
}

// ReadAt copies n bytes starting at off into dst (memcpy_fromio).
func (r Region) ReadAt(dst []byte, off int) {
	copy(dst, r.b[off:off+len(dst)])
}

// WriteAt copies src into the window at off (memcpy_toio). The copy is
// plain; follow it with a trigger store or Fence before handing the
// slot to the device.
func (r Region) WriteAt(off int, src []byte) {
	copy(r.b[off:off+len(src)], src)
}

var fence atomic.Uint32

// Fence is a write memory barrier: all writes issued before Fence are
// ordered before any store issued after it.
func Fence() {
	fence.Add(1)
}

func (r Region) p32(off int) *uint32 {
	if off&3 != 0 {
		panic("mmio: misaligned 32-bit access")
	}
	return (*uint32)(unsafe.Pointer(&r.b[off]))
}

func (r Region) p64(off int) *uint64 {
	if off&7 != 0 {
		panic("mmio: misaligned 64-bit access")
	}
	return (*uint64)(unsafe.Pointer(&r.b[off]))
}
