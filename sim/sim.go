// Package sim implements an in-process model of the CCAT Ethernet
// function for tests and demos.
//
// The model exposes the same bus contract as real hardware: a function
// register window with the 7-word info block, MII/MAC/trigger
// registers and ring memory windows, plus a DMA configuration space
// with per-channel address-translation windows. Register stores are
// observed through mmio store hooks, so the device reacts to trigger
// writes synchronously on the writer's goroutine.
package sim

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/mmio"
)

// Function window layout.
const (
	offMII    = 0x100
	offTxFifo = 0x200
	offRxFifo = offTxFifo + 0x10
	offMAC    = 0x300
	offMisc   = 0x400
	offRxMem  = 0x1000
	offTxMem  = offRxMem + ringBytes

	ringBytes      = frame.FifoLength * frame.SlotSize
	funcWindowSize = offTxMem + ringBytes

	fifoResetOff = 0x8
)

// MAC block offsets the model maintains.
const (
	macRxMemFull = 0x08
	macTxFrames  = 0x10
	macRxFrames  = 0x14
	macFifoLevel = 0x20
	macConnected = 0x78
)

// DMA configuration space.
const (
	bar2Size   = 0x1000 + 8*64
	dmaMemSize = 0x40000 // translation window size per channel

	rxChannel = 3
	txChannel = 4
)

// Config selects the modelled function variant and its behavior.
type Config struct {
	// DMA selects the DMA-capable function type; otherwise the
	// memory-mapped-only variant is modelled.
	DMA bool

	// Loopback echoes every transmitted frame back into the RX ring.
	Loopback bool

	// ManualTx queues TX triggers until CompleteTx is called instead of
	// transmitting immediately, so tests can exercise backpressure. In
	// the memory-mapped variant the MAC fifo level tracks the queue
	// depth.
	ManualTx bool

	// MAC is the function's hardware address; a default is used when
	// zero.
	MAC [6]byte
}

// Device is one simulated CCAT Ethernet function.
type Device struct {
	mu  sync.Mutex
	cfg Config

	bar0 mmio.Region
	bar2 mmio.Region
	fn   *ccat.Function

	chans ccat.ChannelSet

	// Allocator state (DMA variant).
	nextAddr uint64
	bufs     []ccat.DMABuffer

	// Device-side ring state.
	rxRing []byte // DMA: host ring resolved from channel programming
	txRing []byte
	rxCur  int
	txCur  int

	pending []int // ManualTx: queued TX slot offsets
	sent    [][]byte
}

// New creates a simulated function.
func New(cfg Config) *Device {
	if cfg.MAC == ([6]byte{}) {
		cfg.MAC = [6]byte{0x00, 0x01, 0x05, 0x10, 0x20, 0x30}
	}
	d := &Device{cfg: cfg, nextAddr: 0x1000000}

	b0 := make([]byte, funcWindowSize)
	d.bar0 = mmio.NewRegion(b0).WithHook(d.bar0Store)

	le := binary.LittleEndian
	le.PutUint32(b0[4:], offMII)
	le.PutUint32(b0[8:], offTxFifo)
	le.PutUint32(b0[12:], offMAC)
	le.PutUint32(b0[16:], offRxMem)
	le.PutUint32(b0[20:], offTxMem)
	le.PutUint32(b0[24:], offMisc)
	copy(b0[offMII+0x8:], cfg.MAC[:])
	b0[offMAC+macConnected] = 1

	info := ccat.FunctionInfo{Revision: 14}
	fn := &ccat.Function{Config: d.bar0}
	if cfg.DMA {
		info.Type = ccat.FunctionEtherCATMasterDMA
		info.RxDMAChan = rxChannel
		info.TxDMAChan = txChannel
		d.bar2 = mmio.NewRegion(make([]byte, bar2Size)).WithHook(d.bar2Store)
		fn.DMA = d.bar2
		fn.Alloc = d
		fn.Channels = &d.chans
	} else {
		info.Type = ccat.FunctionEtherCATMasterNoDMA
		info.RxWindowSize = ringBytes
		info.TxWindowSize = ringBytes
	}
	fn.Info = info
	d.fn = fn
	return d
}

// Function returns the bus-enumeration view of the device.
func (d *Device) Function() *ccat.Function { return d.fn }

// SetLink raises or drops the carrier bit in the management register.
func (d *Device) SetLink(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.bar0.Load32(offMII + 0xc)
	if up {
		v |= 1 << 24
	} else {
		v &^= 1 << 24
	}
	d.bar0.Store32(offMII+0xc, v)
}

// DeliverRx places one received frame into the next armed RX slot.
// Returns false, counting a receive-memory-full error, when the slot is
// still owned by software.
func (d *Device) DeliverRx(payload []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliverLocked(payload)
}

// CompleteTx transmits all queued TX slots (ManualTx mode) and returns
// how many were processed.
func (d *Device) CompleteTx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.pending)
	for _, off := range d.pending {
		d.transmitLocked(off)
	}
	d.pending = nil
	d.setFifoLevelLocked(0)
	return n
}

// Sent returns the frames transmitted since the last call.
func (d *Device) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.sent
	d.sent = nil
	return out
}

// SetTxFifoLevel overrides the MAC fifo level byte (memory-mapped TX
// backpressure).
func (d *Device) SetTxFifoLevel(level uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bar0.Store8(offMAC+macFifoLevel, level)
}

// SetErrorCounters seeds the MAC error counter bytes.
func (d *Device) SetErrorCounters(frameLen, rxErr, crc, rxMemFull, txMemFull uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bar0.Store8(0x00+offMAC, frameLen)
	d.bar0.Store8(0x01+offMAC, rxErr)
	d.bar0.Store8(0x02+offMAC, crc)
	d.bar0.Store8(macRxMemFull+offMAC, rxMemFull)
	d.bar0.Store8(0x28+offMAC, txMemFull)
}

/*---- ccat.Allocator ----*/

func (d *Device) Alloc(size int) (ccat.DMABuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := ccat.DMABuffer{Data: make([]byte, size), Addr: d.nextAddr}
	d.nextAddr += uint64((size + 0xfff) &^ 0xfff)
	d.bufs = append(d.bufs, buf)
	return buf, nil
}

func (d *Device) Free(buf ccat.DMABuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.bufs {
		if b.Addr == buf.Addr {
			d.bufs = append(d.bufs[:i], d.bufs[i+1:]...)
			return nil
		}
	}
	return errors.New("sim: unknown dma buffer")
}

func (d *Device) PageSize() int { return 0x1000 }

/*---- Register store hooks ----*/

// bar2Store models the per-channel address-translation windows: the
// all-ones probe reads back as the window's alignment mask, and a
// 64-bit store programs the channel's ring base address.
func (d *Device) bar2Store(off, width int) {
	if off < 0x1000 || (off-0x1000)%8 != 0 {
		return
	}
	ch := uint8((off - 0x1000) / 8)

	d.mu.Lock()
	defer d.mu.Unlock()
	raw := d.bar2.Bytes()
	switch width {
	case 4:
		if binary.LittleEndian.Uint32(raw[off:]) == 0xffffffff {
			binary.LittleEndian.PutUint32(raw[off:], ^uint32(dmaMemSize-1))
		}
	case 8:
		addr := binary.LittleEndian.Uint64(raw[off:])
		ring := d.lookupLocked(addr)
		switch ch {
		case rxChannel:
			d.rxRing = ring
			d.rxCur = 0
		case txChannel:
			d.txRing = ring
			d.txCur = 0
		}
	}
}

func (d *Device) lookupLocked(addr uint64) []byte {
	for _, b := range d.bufs {
		if addr >= b.Addr && addr-b.Addr+ringBytes <= uint64(len(b.Data)) {
			return b.Data[addr-b.Addr:][:ringBytes]
		}
	}
	return nil
}

// bar0Store watches the ring trigger and reset registers.
func (d *Device) bar0Store(off, width int) {
	switch off {
	case offTxFifo:
		if width != 4 {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		v := binary.LittleEndian.Uint32(d.bar0.Bytes()[offTxFifo:])
		slotOff := int(v)
		if d.cfg.DMA {
			slotOff = int(v&0x00ffffff) - frame.DMALengthOffset
		}
		if d.cfg.ManualTx {
			d.pending = append(d.pending, slotOff)
			d.setFifoLevelLocked(len(d.pending))
			return
		}
		d.transmitLocked(slotOff)

	case offTxFifo + fifoResetOff:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.txCur, d.rxCur = 0, 0
		d.pending = nil
		d.setFifoLevelLocked(0)

	case offRxFifo + fifoResetOff:
		d.mu.Lock()
		defer d.mu.Unlock()
		d.rxCur = 0
	}
	// RX arm triggers (offRxFifo) carry no state the model needs; slot
	// ownership is read from the ring itself.
}

/*---- Device-side ring processing ----*/

func (d *Device) transmitLocked(slotOff int) {
	var payload []byte
	now := uint64(time.Now().UnixNano())

	if d.cfg.DMA {
		if d.txRing == nil || slotOff < 0 || slotOff+frame.SlotSize > len(d.txRing) {
			return
		}
		h := frame.DMA(d.txRing[slotOff : slotOff+frame.SlotSize])
		n := int(h.Length())
		if n > len(h.Payload()) {
			return
		}
		payload = append([]byte(nil), h.Payload()[:n]...)
		h.SetTimestamp(now)
		h.SetTxFlags(frame.Sent)
	} else {
		win := d.bar0.Bytes()[offTxMem : offTxMem+ringBytes]
		if slotOff < 0 || slotOff+frame.SlotSize > len(win) {
			return
		}
		slot := win[slotOff : slotOff+frame.SlotSize]
		n := int(binary.LittleEndian.Uint16(slot))
		if n > frame.SlotSize-frame.IOMemHeaderSize {
			return
		}
		payload = append([]byte(nil), slot[frame.IOMemHeaderSize:frame.IOMemHeaderSize+n]...)
		binary.LittleEndian.PutUint64(slot[frame.IOMemTimeOff:], now)
	}

	d.sent = append(d.sent, payload)
	d.bump32Locked(offMAC + macTxFrames)

	if d.cfg.Loopback {
		d.deliverLocked(payload)
	}
}

func (d *Device) deliverLocked(payload []byte) bool {
	if len(payload) > frame.MaxPayload {
		return false
	}
	now := uint64(time.Now().UnixNano())

	if d.cfg.DMA {
		if d.rxRing == nil {
			return false
		}
		off := d.rxCur * frame.SlotSize
		h := frame.DMA(d.rxRing[off : off+frame.SlotSize])
		if h.Received() {
			d.bump8Locked(offMAC + macRxMemFull)
			return false
		}
		copy(h.Payload(), payload)
		h.SetLength(uint16(len(payload) + frame.DMARxOverhead))
		h.SetTimestamp(now)
		h.SetRxFlags(frame.Received)
	} else {
		win := d.bar0.Bytes()[offRxMem : offRxMem+ringBytes]
		slot := win[d.rxCur*frame.SlotSize:]
		if binary.LittleEndian.Uint16(slot) != 0 {
			d.bump8Locked(offMAC + macRxMemFull)
			return false
		}
		copy(slot[frame.IOMemHeaderSize:], payload)
		binary.LittleEndian.PutUint64(slot[frame.IOMemTimeOff:], now)
		binary.LittleEndian.PutUint16(slot, uint16(len(payload)+frame.IOMemHeaderSize))
	}

	d.bump32Locked(offMAC + macRxFrames)
	d.rxCur++
	if d.rxCur >= frame.FifoLength {
		d.rxCur = 0
	}
	return true
}

func (d *Device) setFifoLevelLocked(n int) {
	if !d.cfg.DMA {
		if n > 0x3f {
			n = 0x3f
		}
		d.bar0.Store8(offMAC+macFifoLevel, uint8(n))
	}
}

func (d *Device) bump32Locked(off int) {
	d.bar0.Store32(off, d.bar0.Load32(off)+1)
}

func (d *Device) bump8Locked(off int) {
	d.bar0.Store8(off, d.bar0.Load8(off)+1)
}
