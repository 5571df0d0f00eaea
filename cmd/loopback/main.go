// Command loopback brings a ccatnet interface up on a simulated CCAT
// function in loopback mode, transmits paced sequence-numbered frames
// and verifies that every frame comes back intact and in order.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kthaler/ccatlink/ccatnet"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/macstat"
	"github.com/kthaler/ccatlink/pacer"
	"github.com/kthaler/ccatlink/sim"
)

const ethHdrLen = 14

type verifier struct {
	received atomic.Uint64
	bytes    atomic.Uint64
	control  atomic.Uint64
	errors   atomic.Uint64
	nextSeq  atomic.Uint64

	carrierC chan bool
}

func (v *verifier) AllocInbound(n int) []byte { return make([]byte, n) }

func (v *verifier) Inbound(b []byte) {
	// The link-up control frame is echoed back too.
	if len(b) == 30 && b[0] == 0x01 {
		v.control.Add(1)
		return
	}
	if len(b) < ethHdrLen+4 {
		v.errors.Add(1)
		return
	}
	seq := uint64(binary.BigEndian.Uint32(b[ethHdrLen:]))
	if seq != v.nextSeq.Load() {
		v.errors.Add(1)
	}
	v.nextSeq.Store(seq + 1)
	v.received.Add(1)
	v.bytes.Add(uint64(len(b)))
}

func (v *verifier) LinkChanged(up bool) {
	select {
	case v.carrierC <- up:
	default:
	}
}

func buildFrame(buf []byte, src [6]byte, seq uint32) {
	for i := range buf[:6] {
		buf[i] = 0xff
	}
	copy(buf[6:12], src[:])
	buf[12], buf[13] = 0x88, 0xa4
	binary.BigEndian.PutUint32(buf[ethHdrLen:], seq)
}

func main() {
	fDMA := flag.Bool("dma", true, "use the DMA function type")
	fCount := flag.Uint64("n", 10000, "frame count")
	fRate := flag.Uint64("r", 0, "rate limit in PPS (0 = unlimited)")
	fSize := flag.Int("l", 64, "frame size")
	flag.Parse()

	if *fSize < ethHdrLen+4 || *fSize > frame.MaxPayload {
		fmt.Fprintf(os.Stderr, "frame size must be within [%d, %d]\n",
			ethHdrLen+4, frame.MaxPayload)
		os.Exit(1)
	}

	dev := sim.New(sim.Config{DMA: *fDMA, Loopback: true})
	v := &verifier{carrierC: make(chan bool, 1)}

	ifc, err := ccatnet.New(dev.Function(), v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing interface: %v\n", err)
		os.Exit(1)
	}
	defer ifc.Close()

	if err := ifc.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "starting poll timer: %v\n", err)
		os.Exit(1)
	}

	hw := ifc.HardwareAddr()
	fmt.Fprintf(os.Stderr, "loopback: dma=%t hwaddr=%s count=%d size=%d\n",
		*fDMA, net.HardwareAddr(hw[:]), *fCount, *fSize)

	dev.SetLink(true)
	select {
	case <-v.carrierC:
	case <-time.After(time.Second):
		fmt.Fprint(os.Stderr, "timed out waiting for carrier\n")
		os.Exit(1)
	}

	srcs := map[string]macstat.Source{"sim0": ifc}
	start := macstat.Snapshot(srcs,
		macstat.TxPackets, macstat.TxBytes,
		macstat.RxPackets, macstat.RxBytes,
		macstat.TxDropped, macstat.RxDropped)
	began := time.Now()

	var p *pacer.Pacer
	if *fRate > 0 {
		p = pacer.New(time.Second / time.Duration(*fRate))
	}

	buf := make([]byte, *fSize)
	var sent uint64
	for seq := uint32(0); uint64(seq) < *fCount; {
		p.Tick()
		if ifc.QueueStopped() {
			// TX ring full; the poll timer wakes the queue.
			time.Sleep(ccatnet.PollPeriod)
			continue
		}
		buildFrame(buf, hw, seq)
		if err := ifc.Transmit(&ccatnet.Frame{Buf: buf}); err != nil {
			continue
		}
		sent++
		seq++
	}

	// Drain: everything transmitted comes back through the poll timer.
	deadline := time.Now().Add(2 * time.Second)
	for v.received.Load() < sent && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	elapsed := time.Since(began)
	ifc.Stop()

	final := macstat.Snapshot(srcs,
		macstat.TxPackets, macstat.TxBytes,
		macstat.RxPackets, macstat.RxBytes,
		macstat.TxDropped, macstat.RxDropped).Since(start)
	macstat.Print(os.Stderr, final, map[string]string{"sim0": "simulated ccat"})

	pr := message.NewPrinter(language.English)
	pr.Fprintf(os.Stderr, "sent=%d received=%d control=%d errors=%d in %.2fs (%.0f pps)\n",
		sent, v.received.Load(), v.control.Load(), v.errors.Load(),
		elapsed.Seconds(), float64(v.received.Load())/elapsed.Seconds())

	if v.received.Load() != sent || v.errors.Load() != 0 {
		os.Exit(1)
	}
}
