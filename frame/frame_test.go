package frame

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDMAHeaderLayout(t *testing.T) {
	slot := make([]byte, SlotSize)
	h := DMA(slot)

	h.SetRxFlags(0xaabbccdd)
	h.SetLength(0x1234)
	h.SetTxFlags(0x55667788)
	h.SetTimestamp(0x1122334455667788)

	// Fields sit at fixed little-endian offsets; the first word stays
	// untouched.
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(slot[0:]))
	require.Equal(t, uint32(0xaabbccdd), binary.LittleEndian.Uint32(slot[4:]))
	require.Equal(t, uint16(0x1234), binary.LittleEndian.Uint16(slot[8:]))
	require.Equal(t, uint32(0x55667788), binary.LittleEndian.Uint32(slot[12:]))
	require.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(slot[16:]))

	require.Equal(t, uint32(0xaabbccdd), h.RxFlags())
	require.Equal(t, uint16(0x1234), h.Length())
	require.Equal(t, uint32(0x55667788), h.TxFlags())
	require.Equal(t, uint64(0x1122334455667788), h.Timestamp())
}

func TestDMAPayloadSpansSlot(t *testing.T) {
	slot := make([]byte, SlotSize)
	p := DMA(slot).Payload()
	require.Len(t, p, SlotSize-DMAHeaderSize)

	p[0] = 0xab
	require.Equal(t, byte(0xab), slot[DMAHeaderSize])
}

func TestDMAOwnershipBits(t *testing.T) {
	h := DMA(make([]byte, SlotSize))

	require.False(t, h.Received())
	require.False(t, h.Done())

	h.SetRxFlags(Received)
	h.SetTxFlags(Sent)
	require.True(t, h.Received())
	require.True(t, h.Done())
}

func TestDMARxAvail(t *testing.T) {
	h := DMA(make([]byte, SlotSize))

	// Not received yet: no frame regardless of the length field.
	h.SetLength(100)
	require.Equal(t, 0, h.RxAvail())

	// Received lengths include the receive overhead.
	h.SetRxFlags(Received)
	require.Equal(t, 100-DMARxOverhead, h.RxAvail())

	// A length below the overhead clamps to zero instead of going
	// negative.
	h.SetLength(DMARxOverhead - 1)
	require.Equal(t, 0, h.RxAvail())
	h.SetLength(0)
	require.Equal(t, 0, h.RxAvail())
}

func TestIOMemRxAvail(t *testing.T) {
	require.Equal(t, 0, IOMemRxAvail(0))
	require.Equal(t, 0, IOMemRxAvail(IOMemHeaderSize-1))
	require.Equal(t, 0, IOMemRxAvail(IOMemHeaderSize))
	require.Equal(t, 84, IOMemRxAvail(100))
}

func TestMaxPayload(t *testing.T) {
	// The larger header bounds the payload for both backends.
	require.Equal(t, 2024, MaxPayload)
	require.Greater(t, DMAHeaderSize, IOMemHeaderSize)
}

func TestForwardingEnableFrame(t *testing.T) {
	require.Len(t, ForwardingEnable, 30)

	// Multicast destination, fixed source, EtherCAT ethertype.
	require.Equal(t, []byte{0x01, 0x01, 0x05, 0x01, 0x00, 0x00}, ForwardingEnable[0:6])
	require.Equal(t, []byte{0x00, 0x1b, 0x21, 0x36, 0x1b, 0xce}, ForwardingEnable[6:12])
	require.Equal(t, []byte{0x88, 0xa4}, ForwardingEnable[12:14])

	// Broadcast-write datagram to register 0x0100 on all terminals.
	require.Equal(t, byte(0x08), ForwardingEnable[16])
	require.Equal(t, []byte{0x00, 0x01}, ForwardingEnable[20:22])
	require.Equal(t, []byte{0x02, 0x00}, ForwardingEnable[22:24])
}
