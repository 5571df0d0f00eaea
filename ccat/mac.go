package ccat

import "github.com/kthaler/ccatlink/mmio"

// MAC/error counter block layout, offsets relative to the MAC register
// window.
const (
	macFrameLenErr = 0x00
	macRxErr       = 0x01
	macCRCErr      = 0x02
	macLinkLostErr = 0x03
	macRxMemFull   = 0x08
	macTxFrames    = 0x10
	macRxFrames    = 0x14
	macFifoLevel   = 0x20
	macTxMemFull   = 0x28
	macConnected   = 0x78

	// TxFifoLevelMask selects the 6 valid bits of the TX fifo level
	// byte; the ring is empty of pending entries when they are all zero.
	TxFifoLevelMask = 0x3f
)

// MACCounters is a snapshot of the hardware error/frame counter block.
// Counters are read live from the device on every snapshot, never
// cached; no cross-counter consistency is guaranteed.
type MACCounters struct {
	FrameLenErrors uint8
	RxErrors       uint8
	CRCErrors      uint8
	LinkLostErrors uint8
	RxMemFull      uint8
	TxMemFull      uint8
	TxFrames       uint32
	RxFrames       uint32
	TxFifoLevel    uint8
	MIIConnected   bool
}

// ReadMACCounters snapshots the MAC/error register block.
func ReadMACCounters(mac mmio.Region) MACCounters {
	return MACCounters{
		FrameLenErrors: mac.Load8(macFrameLenErr),
		RxErrors:       mac.Load8(macRxErr),
		CRCErrors:      mac.Load8(macCRCErr),
		LinkLostErrors: mac.Load8(macLinkLostErr),
		RxMemFull:      mac.Load8(macRxMemFull),
		TxMemFull:      mac.Load8(macTxMemFull),
		TxFrames:       mac.Load32(macTxFrames),
		RxFrames:       mac.Load32(macRxFrames),
		TxFifoLevel:    mac.Load8(macFifoLevel) & TxFifoLevelMask,
		MIIConnected:   mac.Load8(macConnected) != 0,
	}
}

// TxFifoEmpty reports whether the memory-mapped TX ring has no pending
// entries.
func (r Registers) TxFifoEmpty() bool {
	return r.MAC.Load8(macFifoLevel)&TxFifoLevelMask == 0
}
