// Package frame defines the on-wire slot layout of the CCAT Ethernet
// function and the codecs for its two frame-header variants.
//
// Every ring slot is a fixed 2 KiB region: a header followed by the raw
// Ethernet frame bytes. The DMA backend prefixes each slot with a
// 24-byte descriptor header; the memory-mapped backend uses a 16-byte
// header without receive flags. All multi-byte fields are little-endian
// at fixed offsets.
package frame

import "encoding/binary"

const (
	// SlotSize is the fixed size of one ring slot, header included.
	SlotSize = 0x800

	// FifoLength is the number of slots in one ring.
	FifoLength = 64

	// DMAHeaderSize is the size of the DMA descriptor header.
	DMAHeaderSize = 24

	// IOMemHeaderSize is the size of the memory-mapped header.
	IOMemHeaderSize = 16

	// MaxPayload is the largest Ethernet frame either backend can carry:
	// slot size minus the larger of the two headers.
	MaxPayload = SlotSize - DMAHeaderSize

	// Received is bit 0 of the DMA receive-flags word; the controller
	// sets it once it has written a frame into the slot.
	Received = 0x1

	// Sent is bit 0 of the transmit-flags word; the controller sets it
	// once the slot's frame has left the wire.
	Sent = 0x1
)

// DMA header field offsets. The first word is reserved and always zero.
const (
	dmaRxFlagsOff = 4
	dmaLengthOff  = 8
	dmaTxFlagsOff = 12
	dmaTimeOff    = 16

	// DMARxOverhead is the byte distance from the start of the header to
	// the receive-flags word. The controller reports received lengths
	// relative to this offset.
	DMARxOverhead = dmaRxFlagsOff

	// DMALengthOffset locates the length field within the descriptor
	// header; TX trigger words are built relative to it because the
	// controller ignores the first 8 descriptor bytes.
	DMALengthOffset = dmaLengthOff
)

// DMA is the 24-byte descriptor header of a DMA ring slot, viewed over
// host-coherent memory. The slice must span the whole slot.
type DMA []byte

func (h DMA) RxFlags() uint32     { return binary.LittleEndian.Uint32(h[dmaRxFlagsOff:]) }
func (h DMA) SetRxFlags(v uint32) { binary.LittleEndian.PutUint32(h[dmaRxFlagsOff:], v) }

func (h DMA) Length() uint16     { return binary.LittleEndian.Uint16(h[dmaLengthOff:]) }
func (h DMA) SetLength(v uint16) { binary.LittleEndian.PutUint16(h[dmaLengthOff:], v) }

func (h DMA) TxFlags() uint32     { return binary.LittleEndian.Uint32(h[dmaTxFlagsOff:]) }
func (h DMA) SetTxFlags(v uint32) { binary.LittleEndian.PutUint32(h[dmaTxFlagsOff:], v) }

func (h DMA) Timestamp() uint64     { return binary.LittleEndian.Uint64(h[dmaTimeOff:]) }
func (h DMA) SetTimestamp(v uint64) { binary.LittleEndian.PutUint64(h[dmaTimeOff:], v) }

// Received reports whether the controller has finished writing a frame
// into this slot.
func (h DMA) Received() bool { return h.RxFlags()&Received != 0 }

// Done reports whether the controller has finished transmitting this
// slot, i.e. the slot is free for reuse.
func (h DMA) Done() bool { return h.TxFlags()&Sent != 0 }

// Payload returns the frame bytes of the slot.
func (h DMA) Payload() []byte { return h[DMAHeaderSize:SlotSize] }

// RxAvail decodes the available receive payload length: the header
// length field minus the receive overhead, clamped at zero. A stale or
// zeroed header therefore reads as "no frame", never as an error.
func (h DMA) RxAvail() int {
	if !h.Received() {
		return 0
	}
	n := int(h.Length())
	if n < DMARxOverhead {
		return 0
	}
	return n - DMARxOverhead
}

// Memory-mapped header field offsets.
const (
	iomLengthOff  = 0
	iomTxFlagsOff = 4
	iomTimeOff    = 8
)

// IOMemRxAvail decodes the available receive payload from a
// memory-mapped header length field: length minus the full header size,
// clamped at zero. Readiness is inferred from the length alone; the
// memory-mapped header carries no receive flags.
func IOMemRxAvail(length uint16) int {
	n := int(length)
	if n < IOMemHeaderSize {
		return 0
	}
	return n - IOMemHeaderSize
}

// IOMemLengthOff, IOMemTxFlagsOff and IOMemTimeOff locate the
// memory-mapped header fields within a slot; the backend reads and
// writes them through the register window rather than via a byte slice.
const (
	IOMemLengthOff  = iomLengthOff
	IOMemTxFlagsOff = iomTxFlagsOff
	IOMemTimeOff    = iomTimeOff
)
