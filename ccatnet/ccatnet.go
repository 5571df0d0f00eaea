// Package ccatnet implements the Ethernet transport of a CCAT
// communication controller function.
//
// The controller moves Ethernet frames through two fixed-length rings
// of 2 KiB slots, one for each direction, behind one of two backends
// selected once at setup:
//
//   - DMA: the rings live in host memory bound to controller DMA
//     channels; slot ownership is handed back and forth through
//     received/sent flag bits in a per-slot descriptor header.
//   - memory-mapped: the rings are controller register windows used
//     directly as storage; receive readiness is inferred from the slot
//     length field and transmit readiness from the MAC fifo level.
//
// The controller raises no interrupts. A 100 microsecond poll timer
// drives link detection, RX draining and TX queue wakeup.
package ccatnet

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/pacer"
)

// PollPeriod is the fixed poll timer period. The controller generates
// no interrupts, so all liveness depends on this timer.
const PollPeriod = 100 * time.Microsecond

var (
	// ErrTxBusy is returned when Transmit is called while the TX ring is
	// not ready. The stack must not submit once the queue is stopped;
	// the frame is preserved at the caller.
	ErrTxBusy = errors.New("tx ring not ready")

	ErrUnsupportedFunction = errors.New("unsupported function type")
	ErrNoAllocator         = errors.New("dma function requires an allocator and a channel pool")
	ErrAlreadyOpen         = errors.New("interface already open")
)

// Stack is the networking-stack collaborator that consumes received
// frames and observes carrier transitions.
type Stack interface {
	// AllocInbound returns a buffer of at least n bytes for a received
	// frame, or nil when allocation fails (the frame is then dropped and
	// counted).
	AllocInbound(n int) []byte

	// Inbound hands a populated receive buffer to the stack.
	Inbound(b []byte)

	// LinkChanged reports carrier transitions.
	LinkChanged(up bool)
}

// Frame is an outgoing stack frame. A frame with extra fragments is
// non-contiguous and cannot be handed to the controller.
type Frame struct {
	Buf   []byte
	Frags [][]byte
}

// backend is the transport strategy bound to the interface's rings,
// chosen once at setup from the function type and immutable thereafter.
type backend interface {
	rxAvail(rx *fifo) int
	txReady(tx *fifo) bool
	armRx(rx *fifo)
	copyOut(rx *fifo, dst []byte)
	enqueue(tx *fifo, payload []byte)
	teardown(rx, tx *fifo) error
}

// Interface is one Ethernet/EtherCAT master function presented to the
// networking stack.
//
// Transmit may be called concurrently with the poll timer; the TX path
// and the poll wakeup reason only about the same cursor slot's
// readiness bit, and rely on the stack never submitting once the queue
// has been stopped.
type Interface struct {
	fn    *ccat.Function
	reg   ccat.Registers
	stack Stack

	be backend
	rx *fifo
	tx *fifo

	hwaddr [6]byte

	rxBytes   atomic.Uint64
	rxDropped atomic.Uint64
	txBytes   atomic.Uint64
	txDropped atomic.Uint64

	carrier atomic.Bool
	stopped atomic.Bool // tx queue state

	pollStop chan struct{}
	pollDone chan struct{}
}

// New resolves the function's register set, initializes the backend
// selected by the function type and brings both rings into their armed
// state. The queue starts stopped and the carrier off; Open starts the
// poll timer.
func New(fn *ccat.Function, stack Stack) (*Interface, error) {
	reg, err := ccat.MapRegisters(fn.Config)
	if err != nil {
		return nil, fmt.Errorf("resolving register set: %w", err)
	}

	i := &Interface{fn: fn, reg: reg, stack: stack}
	i.stopped.Store(true)

	switch fn.Info.Type {
	case ccat.FunctionEtherCATMasterDMA:
		i.be, i.rx, i.tx, err = newDMABackend(fn, reg)
	case ccat.FunctionEtherCATMasterNoDMA:
		i.be, i.rx, i.tx, err = newIOMemBackend(fn, reg)
	default:
		err = fmt.Errorf("%w: %#x", ErrUnsupportedFunction, uint16(fn.Info.Type))
	}
	if err != nil {
		return nil, err
	}

	reg.DisableMACFilter()
	i.hwaddr = reg.HardwareAddr()
	return i, nil
}

// HardwareAddr returns the function's MAC address.
func (i *Interface) HardwareAddr() [6]byte { return i.hwaddr }

// Carrier reports the link state as last seen by the poller.
func (i *Interface) Carrier() bool { return i.carrier.Load() }

// QueueStopped reports whether the TX queue is stopped. The stack must
// not call Transmit while it is.
func (i *Interface) QueueStopped() bool { return i.stopped.Load() }

// Open starts the poll timer.
func (i *Interface) Open() error {
	if i.pollStop != nil {
		return ErrAlreadyOpen
	}
	i.pollStop = make(chan struct{})
	i.pollDone = make(chan struct{})
	go i.pollLoop(i.pollStop, i.pollDone)
	return nil
}

// Stop stops the queue and cancels the poll timer. It returns only
// after any in-flight tick has completed, so backend resources can be
// released safely afterwards.
func (i *Interface) Stop() {
	i.stopQueue()
	if i.pollStop == nil {
		return
	}
	close(i.pollStop)
	<-i.pollDone
	i.pollStop = nil
	i.pollDone = nil
}

// Close tears the interface down: the timer is cancelled, both rings'
// hardware state is reset and the backend storage is released, in that
// order. Closing twice is a no-op.
func (i *Interface) Close() error {
	i.Stop()
	if i.be == nil {
		return nil
	}
	err := i.be.teardown(i.rx, i.tx)
	i.be = nil
	return err
}

// Transmit accepts one outgoing frame.
//
// Non-contiguous or oversized frames are dropped, counted and reported
// as accepted so the stack does not retry them. Calling Transmit while
// the TX ring is not ready is a protocol violation: the queue is
// stopped and ErrTxBusy is returned without consuming the frame.
func (i *Interface) Transmit(f *Frame) error {
	if len(f.Frags) != 0 {
		glog.Warning("ccatnet: non-linear frame not supported, dropping")
		i.txDropped.Add(1)
		return nil
	}
	if len(f.Buf) > frame.MaxPayload {
		glog.Warningf("ccatnet: frame length %d exceeds %d, dropping", len(f.Buf), frame.MaxPayload)
		i.txDropped.Add(1)
		return nil
	}
	if !i.be.txReady(i.tx) {
		glog.Errorf("ccatnet: BUG: tx ring full while queue awake")
		i.stopQueue()
		return ErrTxBusy
	}

	i.be.enqueue(i.tx, f.Buf)
	i.txBytes.Add(uint64(len(f.Buf)))

	i.tx.advance()
	// Submission runs one slot ahead of readiness: stop the queue as
	// soon as the new cursor slot is not free.
	if !i.be.txReady(i.tx) {
		i.stopQueue()
	}
	return nil
}

// xmitRaw transmits a raw byte buffer, e.g. the forwarding-enable
// control frame sent on link-up.
func (i *Interface) xmitRaw(b []byte) {
	buf := make([]byte, len(b))
	copy(buf, b)
	if err := i.Transmit(&Frame{Buf: buf}); err != nil {
		glog.Warningf("ccatnet: raw transmit failed: %v", err)
	}
}

func (i *Interface) stopQueue() { i.stopped.Store(true) }
func (i *Interface) wakeQueue() { i.stopped.Store(false) }

// Stats are the interface's counters. Software byte/drop counters are
// maintained by the driver; packet and error counters are read live
// from the MAC/error register block at snapshot time. No cross-counter
// consistency is guaranteed.
type Stats struct {
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	RxDropped uint64
	TxDropped uint64

	RxErrors uint64
	TxErrors uint64

	RxLengthErrors uint64
	RxOverErrors   uint64
	RxCRCErrors    uint64
	RxFrameErrors  uint64
	RxFifoErrors   uint64
}

// Stats snapshots the interface counters.
func (i *Interface) Stats() Stats {
	mac := ccat.ReadMACCounters(i.reg.MAC)
	return Stats{
		RxPackets: uint64(mac.RxFrames),
		TxPackets: uint64(mac.TxFrames),
		RxBytes:   i.rxBytes.Load(),
		TxBytes:   i.txBytes.Load(),
		RxDropped: i.rxDropped.Load(),
		TxDropped: i.txDropped.Load(),

		RxErrors: uint64(mac.FrameLenErrors) + uint64(mac.RxMemFull) +
			uint64(mac.CRCErrors) + uint64(mac.RxErrors),
		TxErrors: uint64(mac.TxMemFull),

		RxLengthErrors: uint64(mac.FrameLenErrors),
		RxOverErrors:   uint64(mac.RxMemFull),
		RxCRCErrors:    uint64(mac.CRCErrors),
		RxFrameErrors:  uint64(mac.RxErrors),
		RxFifoErrors:   uint64(mac.RxMemFull),
	}
}

// MACCounters reads the raw hardware counter block.
func (i *Interface) MACCounters() ccat.MACCounters {
	return ccat.ReadMACCounters(i.reg.MAC)
}

// pollLoop is the poll scheduler: one tick per PollPeriod, each tick
// running link poll, RX drain and TX wakeup in fixed order.
func (i *Interface) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	p := pacer.New(PollPeriod)
	for {
		select {
		case <-stop:
			return
		default:
		}
		p.Tick()
		i.pollOnce()
	}
}

func (i *Interface) pollOnce() {
	i.pollLink()
	i.pollRx()
	i.pollTx()
}
