package ccat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kthaler/ccatlink/mmio"
)

// newFunctionWindow builds a register window with a populated info
// block.
func newFunctionWindow(t *testing.T) mmio.Region {
	t.Helper()
	b := make([]byte, 0x2000)
	le := binary.LittleEndian
	le.PutUint32(b[4:], 0x100)  // mii
	le.PutUint32(b[8:], 0x200)  // tx fifo
	le.PutUint32(b[12:], 0x300) // mac
	le.PutUint32(b[16:], 0x800) // rx mem
	le.PutUint32(b[20:], 0x900) // tx mem
	le.PutUint32(b[24:], 0x400) // misc
	return mmio.NewRegion(b)
}

func TestMapRegisters(t *testing.T) {
	cfg := newFunctionWindow(t)
	reg, err := MapRegisters(cfg)
	require.NoError(t, err)

	// Each resolved window aliases the function window at its info-block
	// offset; the RX trigger sits 0x10 above the TX one.
	reg.MII.Store8(0, 0xaa)
	require.Equal(t, uint8(0xaa), cfg.Load8(0x100))

	reg.TxFifo.Store32(0, 0x11223344)
	require.Equal(t, uint32(0x11223344), cfg.Load32(0x200))

	reg.RxFifo.Store32(0, 0x55667788)
	require.Equal(t, uint32(0x55667788), cfg.Load32(0x210))

	reg.MAC.Store8(0, 0xbb)
	require.Equal(t, uint8(0xbb), cfg.Load8(0x300))

	reg.RxMem.Store8(0, 0xcc)
	require.Equal(t, uint8(0xcc), cfg.Load8(0x800))

	reg.TxMem.Store8(0, 0xdd)
	require.Equal(t, uint8(0xdd), cfg.Load8(0x900))

	reg.Misc.Store8(0, 0xee)
	require.Equal(t, uint8(0xee), cfg.Load8(0x400))
}

func TestMapRegistersShortWindow(t *testing.T) {
	_, err := MapRegisters(mmio.NewRegion(make([]byte, 16)))
	require.ErrorIs(t, err, ErrShortInfoBlock)
}

func TestMapRegistersBadOffset(t *testing.T) {
	b := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(b[4:], 0x1000) // mii outside the window
	_, err := MapRegisters(mmio.NewRegion(b))
	require.ErrorIs(t, err, ErrBadRegisterOffs)
}

func TestLinkAndHardwareAddr(t *testing.T) {
	cfg := newFunctionWindow(t)
	reg, err := MapRegisters(cfg)
	require.NoError(t, err)

	mac := [6]byte{0x00, 0x01, 0x05, 0x10, 0x20, 0x30}
	copy(cfg.Bytes()[0x108:], mac[:])
	require.Equal(t, mac, reg.HardwareAddr())

	// Carrier is bit 24 of the link status word; the word shares bytes
	// with the tail of the MAC address.
	require.False(t, reg.LinkUp())
	cfg.Store32(0x10c, cfg.Load32(0x10c)|1<<24)
	require.True(t, reg.LinkUp())
	require.Equal(t, mac, reg.HardwareAddr())

	cfg.Store8(0x10e, 0x7f) // any other bit does not count as carrier
	cfg.Store8(0x10f, 0xfe)
	require.False(t, reg.LinkUp())
}

func TestDisableMACFilter(t *testing.T) {
	cfg := newFunctionWindow(t)
	reg, err := MapRegisters(cfg)
	require.NoError(t, err)

	cfg.Store8(0x10e, 0xff)
	reg.DisableMACFilter()
	require.Equal(t, uint8(0), cfg.Load8(0x10e))
}

func TestReadMACCounters(t *testing.T) {
	cfg := newFunctionWindow(t)
	reg, err := MapRegisters(cfg)
	require.NoError(t, err)

	mac := cfg.Bytes()[0x300:]
	mac[0x00] = 3  // frame length errors
	mac[0x01] = 4  // rx errors
	mac[0x02] = 5  // crc errors
	mac[0x03] = 6  // link lost
	mac[0x08] = 7  // rx memory full
	mac[0x28] = 8  // tx memory full
	mac[0x78] = 1  // mii connected
	mac[0x20] = 0xc5
	binary.LittleEndian.PutUint32(mac[0x10:], 1000)
	binary.LittleEndian.PutUint32(mac[0x14:], 2000)

	c := ReadMACCounters(reg.MAC)
	require.Equal(t, uint8(3), c.FrameLenErrors)
	require.Equal(t, uint8(4), c.RxErrors)
	require.Equal(t, uint8(5), c.CRCErrors)
	require.Equal(t, uint8(6), c.LinkLostErrors)
	require.Equal(t, uint8(7), c.RxMemFull)
	require.Equal(t, uint8(8), c.TxMemFull)
	require.Equal(t, uint32(1000), c.TxFrames)
	require.Equal(t, uint32(2000), c.RxFrames)
	require.True(t, c.MIIConnected)

	// Only the low 6 bits of the fifo level byte are valid.
	require.Equal(t, uint8(0x05), c.TxFifoLevel)
	require.False(t, reg.TxFifoEmpty())
	mac[0x20] = 0xc0
	require.True(t, reg.TxFifoEmpty())
}

func TestChannelSet(t *testing.T) {
	var s ChannelSet
	require.NoError(t, s.Request(3))
	require.NoError(t, s.Request(4))
	require.ErrorIs(t, s.Request(3), ErrChannelInUse)

	s.Release(3)
	require.NoError(t, s.Request(3))
}

/*---- OpenChannel ----*/

const testMemSize = 0x40000

// testDMASpace models the channel translation windows: the all-ones
// probe reads back as the alignment mask of a testMemSize window.
func testDMASpace() mmio.Region {
	b := make([]byte, 0x1000+8*64)
	var r mmio.Region
	r = mmio.NewRegion(b).WithHook(func(off, width int) {
		if width == 4 && off >= 0x1000 && r.Load32(off) == 0xffffffff {
			r.Store32(off, ^uint32(testMemSize-1))
		}
	})
	return r
}

type testAlloc struct {
	pageSize int
	next     uint64
	frees    int
}

func (a *testAlloc) Alloc(size int) (DMABuffer, error) {
	buf := DMABuffer{Data: make([]byte, size), Addr: a.next}
	a.next += uint64(size)
	return buf, nil
}

func (a *testAlloc) Free(DMABuffer) error { a.frees++; return nil }
func (a *testAlloc) PageSize() int        { return a.pageSize }

func TestOpenChannel(t *testing.T) {
	dma := testDMASpace()
	// A deliberately misaligned bus address above 4 GiB.
	alloc := &testAlloc{pageSize: 0x1000, next: 0x1_2345_6000}
	var pool ChannelSet

	ch, err := OpenChannel(dma, 3, alloc, &pool)
	require.NoError(t, err)

	// The allocation covers every possible alignment of the window.
	require.Len(t, ch.Buf.Data, 2*testMemSize-0x1000)
	require.Len(t, ch.Ring, testMemSize)

	// The programmed base is window-aligned, inside the allocation and
	// keeps the high address bits.
	translated := dma.Load64(0x1000 + 8*3)
	require.Zero(t, translated&(testMemSize-1))
	require.GreaterOrEqual(t, translated, ch.Buf.Addr)
	require.LessOrEqual(t, translated+testMemSize, ch.Buf.Addr+uint64(len(ch.Buf.Data)))

	// Ring aliases the translated window within the allocation.
	start := translated - ch.Buf.Addr
	ch.Ring[0] = 0xab
	require.Equal(t, uint8(0xab), ch.Buf.Data[start])

	// The channel is reserved until Close.
	require.ErrorIs(t, pool.Request(3), ErrChannelInUse)
	require.NoError(t, ch.Close())
	require.NoError(t, pool.Request(3))
	require.Equal(t, 1, alloc.frees)
}

func TestOpenChannelReservationRollback(t *testing.T) {
	dma := testDMASpace()
	alloc := &testAlloc{pageSize: 0x1000, next: 0x10000}
	var pool ChannelSet
	require.NoError(t, pool.Request(5))

	_, err := OpenChannel(dma, 5, alloc, &pool)
	require.ErrorIs(t, err, ErrChannelInUse)
	require.Equal(t, 1, alloc.frees)
}

func TestOpenChannelDeadWindow(t *testing.T) {
	// A channel whose probe reads back zero (no translation window
	// behind it) is rejected before any allocation happens.
	dead := mmio.NewRegion(make([]byte, 0x1000+8*64))
	hooked := dead.WithHook(func(off, width int) {
		if width == 4 {
			dead.Store32(off, 0)
		}
	})
	alloc := &testAlloc{pageSize: 0x1000}
	var pool ChannelSet

	_, err := OpenChannel(hooked, 2, alloc, &pool)
	require.ErrorIs(t, err, ErrWindowTooSmall)
	require.Equal(t, 0, alloc.frees)
}

func TestOpenChannelTinyWindow(t *testing.T) {
	// A window no larger than a page cannot hold the ring.
	dead := mmio.NewRegion(make([]byte, 0x1000+8*64))
	hooked := dead.WithHook(func(off, width int) {
		if width == 4 && dead.Load32(off) == 0xffffffff {
			dead.Store32(off, ^uint32(0x1000-1))
		}
	})
	alloc := &testAlloc{pageSize: 0x1000}
	var pool ChannelSet

	_, err := OpenChannel(hooked, 2, alloc, &pool)
	require.ErrorIs(t, err, ErrWindowTooSmall)
}
