package ccatnet

import (
	"errors"
	"fmt"

	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/mmio"
)

// dmaBackend binds both rings to controller DMA channels over
// host-coherent memory. Slot ownership is negotiated through the
// received/sent bits of the per-slot descriptor header.
type dmaBackend struct {
	rxChan *ccat.Channel
	txChan *ccat.Channel
}

const ringBytes = frame.FifoLength * frame.SlotSize

func newDMABackend(fn *ccat.Function, reg ccat.Registers) (backend, *fifo, *fifo, error) {
	if fn.Alloc == nil || fn.Channels == nil {
		return nil, nil, nil, ErrNoAllocator
	}

	rxChan, err := ccat.OpenChannel(fn.DMA, fn.Info.RxDMAChan, fn.Alloc, fn.Channels)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init RX DMA memory: %w", err)
	}
	txChan, err := ccat.OpenChannel(fn.DMA, fn.Info.TxDMAChan, fn.Alloc, fn.Channels)
	if err != nil {
		_ = rxChan.Close()
		return nil, nil, nil, fmt.Errorf("init TX DMA memory: %w", err)
	}
	if len(rxChan.Ring) < ringBytes || len(txChan.Ring) < ringBytes {
		_ = rxChan.Close()
		_ = txChan.Close()
		return nil, nil, nil, fmt.Errorf("%w: need %d ring bytes", ccat.ErrWindowTooSmall, ringBytes)
	}

	b := &dmaBackend{rxChan: rxChan, txChan: txChan}

	rx := &fifo{
		reg:   reg.RxFifo,
		slots: frame.FifoLength,
		dma:   rxChan,
		mem:   rxChan.Ring[:ringBytes],
		arm:   b.armRx,
	}
	tx := &fifo{
		reg:   reg.TxFifo,
		slots: frame.FifoLength,
		dma:   txChan,
		mem:   txChan.Ring[:ringBytes],
		arm:   b.armTx,
	}
	rx.reset()
	tx.reset()
	return b, rx, tx, nil
}

// rxAvail reports the payload length available in the cursor slot, zero
// when the slot has not been received yet or its header is stale.
func (b *dmaBackend) rxAvail(rx *fifo) int {
	return frame.DMA(rx.slot()).RxAvail()
}

// txReady reports whether the cursor slot has been transmitted and is
// free for reuse.
func (b *dmaBackend) txReady(tx *fifo) bool {
	return frame.DMA(tx.slot()).Done()
}

// armRx hands the cursor slot back to the controller: clear the receive
// flags, then publish the slot's address through the ring trigger. The
// barrier keeps the flag clear visible before the controller is told
// the slot is available again.
func (b *dmaBackend) armRx(rx *fifo) {
	frame.DMA(rx.slot()).SetRxFlags(0)
	mmio.Fence()
	rx.reg.Store32(0, 1<<31|uint32(rx.slotOff()))
}

// armTx marks the cursor slot as already sent so it is immediately
// reusable after a ring reset.
func (b *dmaBackend) armTx(tx *fifo) {
	frame.DMA(tx.slot()).SetTxFlags(frame.Sent)
}

func (b *dmaBackend) copyOut(rx *fifo, dst []byte) {
	copy(dst, frame.DMA(rx.slot()).Payload())
}

// enqueue places the payload into the cursor slot and hands it to the
// controller. The trigger word carries the descriptor offset of the
// length field and the total slot length in 8-byte words; the
// controller ignores the first 8 descriptor bytes.
func (b *dmaBackend) enqueue(tx *fifo, payload []byte) {
	h := frame.DMA(tx.slot())
	h.SetTxFlags(0)
	h.SetLength(uint16(len(payload)))
	copy(h.Payload(), payload)

	trigger := uint32(frame.DMALengthOffset + tx.slotOff())
	trigger += uint32((len(payload)+frame.DMAHeaderSize)/8) << 24
	mmio.Fence()
	tx.reg.Store32(0, trigger)
}

// teardown resets both ring triggers and only then releases the
// channels and their memory, so no further device access can occur
// after the resources are gone.
func (b *dmaBackend) teardown(rx, tx *fifo) error {
	rx.resetTrigger()
	tx.resetTrigger()
	return errors.Join(b.rxChan.Close(), b.txChan.Close())
}
