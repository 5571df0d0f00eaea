// Package macstat snapshots, diffs and prints interface counters.
package macstat

import (
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/kthaler/ccatlink/ccatnet"
)

type Counter int

const (
	TxPackets Counter = iota
	TxBytes
	RxPackets
	RxBytes
	TxDropped
	RxDropped
	RxCRCErrors
	RxLengthErrors
	RxFrameErrors
	RxOverErrors
	TxErrors
)

func (c Counter) String() string {
	switch c {
	case TxPackets:
		return "tx_packets"
	case TxBytes:
		return "tx_bytes"
	case RxPackets:
		return "rx_packets"
	case RxBytes:
		return "rx_bytes"
	case TxDropped:
		return "tx_dropped"
	case RxDropped:
		return "rx_dropped"
	case RxCRCErrors:
		return "rx_crc_errors"
	case RxLengthErrors:
		return "rx_length_errors"
	case RxFrameErrors:
		return "rx_frame_errors"
	case RxOverErrors:
		return "rx_over_errors"
	case TxErrors:
		return "tx_errors"
	}
	return ""
}

func value(st ccatnet.Stats, c Counter) uint64 {
	switch c {
	case TxPackets:
		return st.TxPackets
	case TxBytes:
		return st.TxBytes
	case RxPackets:
		return st.RxPackets
	case RxBytes:
		return st.RxBytes
	case TxDropped:
		return st.TxDropped
	case RxDropped:
		return st.RxDropped
	case RxCRCErrors:
		return st.RxCRCErrors
	case RxLengthErrors:
		return st.RxLengthErrors
	case RxFrameErrors:
		return st.RxFrameErrors
	case RxOverErrors:
		return st.RxOverErrors
	case TxErrors:
		return st.TxErrors
	}
	return 0
}

// Source is anything that can snapshot interface counters, typically a
// *ccatnet.Interface.
type Source interface {
	Stats() ccatnet.Stats
}

// Per-interface values.
type IfaceStats map[Counter]uint64

// Multi-interface stats.
type Stats map[string]IfaceStats

// Snapshot reads the selected counters from all sources.
func Snapshot(srcs map[string]Source, counters ...Counter) Stats {
	s := make(Stats, len(srcs))
	for name, src := range srcs {
		st := src.Stats()
		vals := make(IfaceStats, len(counters))
		for _, c := range counters {
			vals[c] = value(st, c)
		}
		s[name] = vals
	}
	return s
}

// Since computes s(now) - old.
func (s Stats) Since(old Stats) Stats {
	out := make(Stats)
	for ifc, now := range s {
		prev := old[ifc]
		diff := make(IfaceStats, len(now))
		for ctr, v := range now {
			diff[ctr] = v - prev[ctr]
		}
		out[ifc] = diff
	}
	return out
}

// Print writes a human-readable counter report, one block per
// interface, sorted by name.
func Print(w io.Writer, s Stats, aliases map[string]string) error {
	ifaces := make([]string, 0, len(s))
	for iface := range s {
		ifaces = append(ifaces, iface)
	}
	slices.Sort(ifaces)

	for _, iface := range ifaces {
		stats := s[iface]

		if alias, ok := aliases[iface]; ok {
			fmt.Fprintf(w, "%s (%s):\n", iface, alias)
		} else {
			fmt.Fprintf(w, "%s :\n", iface)
		}

		fmt.Fprintf(w, "  TX   %-12d  ≈ %-8s (%s)\n",
			stats[TxPackets],
			humanize.Bytes(stats[TxBytes]), humanize.Comma(int64(stats[TxBytes])),
		)
		fmt.Fprintf(w, "  RX   %-12d  ≈ %-8s (%s)\n",
			stats[RxPackets],
			humanize.Bytes(stats[RxBytes]), humanize.Comma(int64(stats[RxBytes])),
		)

		errs := stats[RxCRCErrors] + stats[RxLengthErrors] +
			stats[RxFrameErrors] + stats[RxOverErrors] + stats[TxErrors]
		drops := stats[TxDropped] + stats[RxDropped]
		if errs != 0 || drops != 0 {
			fmt.Fprintf(w, "  ERR  %-12d  dropped %d\n", errs, drops)
		}
	}

	return nil
}
