// Package ccat models the Ethernet/EtherCAT master function of a
// Beckhoff CCAT communication controller.
//
// The bus-enumeration collaborator (PCI resource mapping in production,
// a device model in tests) hands the driver a Function: the function's
// register window, the controller's DMA configuration space and the
// function info. This package resolves the register set from the
// function's 7-word info block, binds host memory to controller DMA
// channels and snapshots the MAC error/frame counter block.
package ccat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kthaler/ccatlink/mmio"
)

var (
	ErrShortInfoBlock  = errors.New("function window too small for info block")
	ErrBadRegisterOffs = errors.New("info block offset outside function window")
	ErrChannelInUse    = errors.New("dma channel already in use")
	ErrWindowTooSmall  = errors.New("dma translation window too small")
)

// FunctionType identifies a CCAT function in the controller's function
// table.
type FunctionType uint16

const (
	// FunctionEtherCATMasterDMA is the DMA-capable Ethernet/EtherCAT
	// master function.
	FunctionEtherCATMasterDMA FunctionType = 0x0005

	// FunctionEtherCATMasterNoDMA is the memory-mapped-only variant.
	FunctionEtherCATMasterNoDMA FunctionType = 0x0014
)

// FunctionInfo is the per-function information block read from the
// controller's function table by the bus collaborator.
type FunctionInfo struct {
	Type     FunctionType
	Revision uint16

	// Addr is the byte offset of the function's register window within
	// BAR0. The Config region already points at it; the offset is kept
	// for diagnostics.
	Addr uint32

	// RxDMAChan and TxDMAChan select the controller DMA channels. Only
	// meaningful for the DMA-capable function type.
	RxDMAChan uint8
	TxDMAChan uint8

	// RxWindowSize and TxWindowSize are the memory-mapped ring window
	// sizes in bytes. Zero means "use the default ring length". Only
	// meaningful for the memory-mapped function type.
	RxWindowSize uint32
	TxWindowSize uint32
}

// Function is the bus-enumeration collaborator contract: everything the
// transport needs to drive one Ethernet/EtherCAT master function.
// Selection between the DMA and memory-mapped backends happens once,
// from Info.Type, and is immutable thereafter.
type Function struct {
	Info FunctionInfo

	// Config is the function's register window (BAR0 at Info.Addr). The
	// info block sits at its start.
	Config mmio.Region

	// DMA is the controller's DMA configuration space (BAR2). Zero for
	// memory-mapped-only functions.
	DMA mmio.Region

	// Alloc provides DMA-capable host memory. Required for the
	// DMA-capable function type.
	Alloc Allocator

	// Channels arbitrates controller DMA channel ownership. Required for
	// the DMA-capable function type.
	Channels ChannelPool
}

// Info block word indices, one 32-bit word each: reserved, mii,
// tx-fifo, mac, rx-mem, tx-mem, misc.
const (
	infoBlockWords = 7
	infoMII        = 1
	infoTxFifo     = 2
	infoMAC        = 3
	infoRxMem      = 4
	infoTxMem      = 5
	infoMisc       = 6

	// The RX ring trigger register sits 0x10 above the TX one.
	rxFifoRegOffset = 0x10
)

// Registers is the function's resolved register set. The offsets are
// read once at setup and are immutable for the life of the interface.
type Registers struct {
	MII    mmio.Region // management/mii register block
	TxFifo mmio.Region // TX ring trigger register
	RxFifo mmio.Region // RX ring trigger register
	MAC    mmio.Region // MAC/error counter block
	RxMem  mmio.Region // RX memory window base
	TxMem  mmio.Region // TX memory window base
	Misc   mmio.Region // miscellaneous register
}

// MapRegisters reads the function's info block and resolves the
// register set relative to the function window.
func MapRegisters(cfg mmio.Region) (Registers, error) {
	if cfg.Len() < infoBlockWords*4 {
		return Registers{}, ErrShortInfoBlock
	}
	var offs [infoBlockWords]uint32
	for i := range offs {
		offs[i] = cfg.Load32(i * 4)
	}
	window := func(word int, extra uint32) (mmio.Region, error) {
		off := offs[word] + extra
		if int(off) >= cfg.Len() {
			return mmio.Region{}, fmt.Errorf("%w: word %d offset %#x", ErrBadRegisterOffs, word, off)
		}
		return cfg.From(int(off)), nil
	}

	var reg Registers
	var err error
	if reg.MII, err = window(infoMII, 0); err != nil {
		return Registers{}, err
	}
	if reg.TxFifo, err = window(infoTxFifo, 0); err != nil {
		return Registers{}, err
	}
	if reg.RxFifo, err = window(infoTxFifo, rxFifoRegOffset); err != nil {
		return Registers{}, err
	}
	if reg.MAC, err = window(infoMAC, 0); err != nil {
		return Registers{}, err
	}
	if reg.RxMem, err = window(infoRxMem, 0); err != nil {
		return Registers{}, err
	}
	if reg.TxMem, err = window(infoTxMem, 0); err != nil {
		return Registers{}, err
	}
	if reg.Misc, err = window(infoMisc, 0); err != nil {
		return Registers{}, err
	}
	return reg, nil
}

// MII block layout: the MAC address sits at +0x8, the MAC filter byte
// at +0x8+6 and the link status word at +0x8+4 with the carrier in
// bit 24.
const (
	miiMACAddr   = 0x8
	miiMACFilter = 0x8 + 6
	miiLinkWord  = 0x8 + 4
	miiLinkUp    = 1 << 24
)

// LinkUp reads the carrier state from the management register. One
// register read is the only source of truth; there is no debouncing.
func (r Registers) LinkUp() bool {
	return r.MII.Load32(miiLinkWord)&miiLinkUp == miiLinkUp
}

// HardwareAddr reads the function's MAC address.
func (r Registers) HardwareAddr() (mac [6]byte) {
	r.MII.ReadAt(mac[:], miiMACAddr)
	return mac
}

// DisableMACFilter turns promiscuous reception on. Done once at setup
// for both backends.
func (r Registers) DisableMACFilter() {
	r.MII.Store8(miiMACFilter, 0)
	mmio.Fence()
}

// ChannelPool arbitrates exclusive ownership of controller DMA
// channels.
type ChannelPool interface {
	Request(ch uint8) error
	Release(ch uint8)
}

// ChannelSet is the in-process ChannelPool.
type ChannelSet struct {
	mu   sync.Mutex
	used map[uint8]bool
}

func (s *ChannelSet) Request(ch uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used[ch] {
		return fmt.Errorf("%w: channel %d", ErrChannelInUse, ch)
	}
	if s.used == nil {
		s.used = make(map[uint8]bool)
	}
	s.used[ch] = true
	return nil
}

func (s *ChannelSet) Release(ch uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.used, ch)
}
