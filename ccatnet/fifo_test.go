package ccatnet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kthaler/ccatlink/frame"
)

func TestFifoAdvanceClosure(t *testing.T) {
	f := &fifo{slots: frame.FifoLength, cur: 5}

	// One full revolution returns the cursor to its starting slot.
	for n := 0; n < frame.FifoLength; n++ {
		f.advance()
	}
	require.Equal(t, 5, f.cur)

	f.cur = frame.FifoLength - 1
	require.Equal(t, (frame.FifoLength-1)*frame.SlotSize, f.slotOff())
	f.advance()
	require.Equal(t, 0, f.cur)
	require.Equal(t, 0, f.slotOff())
}

func TestFifoResetWalksEverySlotOnce(t *testing.T) {
	visited := make(map[int]int)
	f := &fifo{slots: frame.FifoLength, cur: 7}
	f.arm = func(f *fifo) { visited[f.cur]++ }

	f.reset()

	require.Len(t, visited, frame.FifoLength)
	for i, n := range visited {
		require.Equal(t, 1, n, "slot %d", i)
	}
	require.Equal(t, 0, f.cur)
}

func TestFifoResetWithoutArm(t *testing.T) {
	// Rings without an arm operation only reset their trigger; the
	// cursor is untouched.
	f := &fifo{slots: frame.FifoLength, cur: 3}
	f.reset()
	require.Equal(t, 3, f.cur)
}
