package ccatnet

import (
	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/mmio"
)

// fifoResetOffset is the write-only reset register of a ring trigger.
const fifoResetOffset = 0x8

// fifo is a fixed-length ring of frame slots with a wrapping cursor.
// The backing storage belongs to the backend: host DMA memory for the
// DMA backend, a mapped register window for the memory-mapped one. The
// ring never reallocates after initialization.
type fifo struct {
	// reg is the ring's trigger register; the zero Region for rings
	// without one (the memory-mapped RX ring).
	reg mmio.Region

	slots int
	cur   int

	// arm re-arms the current slot, nil for rings that need none.
	arm func(*fifo)

	// Backend storage, exactly one in use per ring.
	dma *ccat.Channel // DMA: channel binding (owned by the backend)
	mem []byte        // DMA: ring base within the channel window
	win mmio.Region   // memory-mapped: the register window
}

// advance moves the cursor to the next slot, wrapping to the ring's
// start after the last one.
func (f *fifo) advance() {
	f.cur++
	if f.cur >= f.slots {
		f.cur = 0
	}
}

// slotOff returns the byte offset of the cursor slot within the ring.
func (f *fifo) slotOff() int { return f.cur * frame.SlotSize }

// slot returns the cursor slot of a DMA ring.
func (f *fifo) slot() []byte {
	off := f.slotOff()
	return f.mem[off : off+frame.SlotSize]
}

// resetTrigger disables the ring's hardware trigger.
func (f *fifo) resetTrigger() {
	if f.reg.IsValid() {
		f.reg.Store32(fifoResetOffset, 0)
		mmio.Fence()
	}
}

// reset disables the hardware trigger and, for rings with an arm
// operation, walks one full revolution re-arming every slot. Mandatory
// after initial bring-up and after every link-up before any traffic is
// accepted.
func (f *fifo) reset() {
	f.resetTrigger()

	if f.arm == nil {
		return
	}
	f.cur = 0
	for {
		f.arm(f)
		f.advance()
		if f.cur == 0 {
			return
		}
	}
}
