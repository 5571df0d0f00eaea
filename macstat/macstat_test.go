package macstat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kthaler/ccatlink/ccatnet"
)

type fixedSource struct{ st ccatnet.Stats }

func (f fixedSource) Stats() ccatnet.Stats { return f.st }

func TestSnapshotSelectsCounters(t *testing.T) {
	srcs := map[string]Source{
		"ccat0": fixedSource{ccatnet.Stats{TxPackets: 10, TxBytes: 640, RxPackets: 3}},
	}

	s := Snapshot(srcs, TxPackets, TxBytes)
	require.Equal(t, IfaceStats{TxPackets: 10, TxBytes: 640}, s["ccat0"])
	_, ok := s["ccat0"][RxPackets]
	require.False(t, ok)
}

func TestSince(t *testing.T) {
	old := Stats{"ccat0": IfaceStats{TxPackets: 10, RxPackets: 5}}
	now := Stats{"ccat0": IfaceStats{TxPackets: 25, RxPackets: 5}}

	d := now.Since(old)
	require.Equal(t, uint64(15), d["ccat0"][TxPackets])
	require.Equal(t, uint64(0), d["ccat0"][RxPackets])

	// Interfaces missing from the old snapshot diff against zero.
	now["ccat1"] = IfaceStats{TxPackets: 7}
	d = now.Since(old)
	require.Equal(t, uint64(7), d["ccat1"][TxPackets])
}

func TestCounterNames(t *testing.T) {
	require.Equal(t, "tx_packets", TxPackets.String())
	require.Equal(t, "rx_over_errors", RxOverErrors.String())
	require.Equal(t, "", Counter(-1).String())
}

func TestPrint(t *testing.T) {
	s := Stats{
		"ccat1": IfaceStats{TxPackets: 2, TxBytes: 128},
		"ccat0": IfaceStats{
			TxPackets: 1000, TxBytes: 64000,
			RxPackets: 900, RxBytes: 57600,
			RxCRCErrors: 3, TxDropped: 1,
		},
	}

	var b strings.Builder
	require.NoError(t, Print(&b, s, map[string]string{"ccat0": "master"}))
	out := b.String()

	// Sorted by name, aliases shown, error line only when non-zero.
	require.Less(t, strings.Index(out, "ccat0"), strings.Index(out, "ccat1"))
	require.Contains(t, out, "ccat0 (master):")
	require.Contains(t, out, "ccat1 :")
	require.Contains(t, out, "1000")
	require.Contains(t, out, "64,000")
	require.Equal(t, 1, strings.Count(out, "ERR"))
	require.Contains(t, out, "dropped 1")
}
