package ccatnet

import (
	"fmt"

	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/mmio"
)

// iomemBackend uses the controller's memory windows directly as ring
// storage; no host memory is allocated. Receive readiness is inferred
// from the slot length field, transmit readiness from the MAC fifo
// level.
type iomemBackend struct {
	reg ccat.Registers
}

func newIOMemBackend(fn *ccat.Function, reg ccat.Registers) (backend, *fifo, *fifo, error) {
	b := &iomemBackend{reg: reg}

	rxWin, rxSlots, err := ringWindow(reg.RxMem, fn.Info.RxWindowSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rx memory window: %w", err)
	}
	txWin, txSlots, err := ringWindow(reg.TxMem, fn.Info.TxWindowSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tx memory window: %w", err)
	}

	rx := &fifo{
		slots: rxSlots,
		win:   rxWin,
		arm:   b.armRx,
	}
	tx := &fifo{
		reg:   reg.TxFifo,
		slots: txSlots,
		win:   txWin,
		// No per-slot arm work is needed; the walk still rewinds the
		// cursor to slot 0 on every reset.
		arm: func(*fifo) {},
	}
	rx.reset()
	tx.reset()
	return b, rx, tx, nil
}

// ringWindow slices the ring storage out of a memory window. A zero
// size from the function info selects the default ring length.
func ringWindow(mem mmio.Region, size uint32) (mmio.Region, int, error) {
	n := int(size)
	if n == 0 {
		n = frame.FifoLength * frame.SlotSize
	}
	slots := n / frame.SlotSize
	if slots == 0 || mem.Len() < slots*frame.SlotSize {
		return mmio.Region{}, 0, fmt.Errorf("%w: %d bytes", ccat.ErrWindowTooSmall, n)
	}
	return mem.Slice(0, slots*frame.SlotSize), slots, nil
}

// rxAvail reads the cursor slot's length field; readiness is the length
// alone, clamped below the header size.
func (b *iomemBackend) rxAvail(rx *fifo) int {
	return frame.IOMemRxAvail(rx.win.Load16(rx.slotOff() + frame.IOMemLengthOff))
}

// txReady reports whether the MAC fifo has no pending entries.
func (b *iomemBackend) txReady(*fifo) bool {
	return b.reg.TxFifoEmpty()
}

// armRx returns the cursor slot to the controller by zeroing its length
// field. The window itself is the storage, so no trigger write is
// needed, only a barrier.
func (b *iomemBackend) armRx(rx *fifo) {
	rx.win.Store16(rx.slotOff()+frame.IOMemLengthOff, 0)
	mmio.Fence()
}

func (b *iomemBackend) copyOut(rx *fifo, dst []byte) {
	rx.win.ReadAt(dst, rx.slotOff()+frame.IOMemHeaderSize)
}

// enqueue writes the header length and payload into the mapped slot,
// then hands the slot's window offset to the ring trigger.
func (b *iomemBackend) enqueue(tx *fifo, payload []byte) {
	off := tx.slotOff()
	tx.win.Store16(off+frame.IOMemLengthOff, uint16(len(payload)))
	tx.win.WriteAt(off+frame.IOMemHeaderSize, payload)
	mmio.Fence()
	tx.reg.Store32(0, uint32(off))
}

// teardown resets the ring triggers; the windows belong to the
// controller, so there is nothing to release.
func (b *iomemBackend) teardown(rx, tx *fifo) error {
	rx.resetTrigger()
	tx.resetTrigger()
	return nil
}
