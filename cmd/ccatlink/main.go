//go:build linux

// Command ccatlink drives the Ethernet function of a CCAT communication
// controller through its PCI resource files: it maps the register BARs,
// brings the interface up, optionally generates paced test traffic and
// reports interface counters periodically and on exit.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/kthaler/ccatlink/ccat"
	"github.com/kthaler/ccatlink/ccatnet"
	"github.com/kthaler/ccatlink/frame"
	"github.com/kthaler/ccatlink/macstat"
	"github.com/kthaler/ccatlink/mmio"
	"github.com/kthaler/ccatlink/pacer"
)

type Config struct {
	Device struct {
		// Resource0 is the function register BAR (PCI resource0 sysfs
		// file), Resource2 the DMA configuration BAR. Resource2 is only
		// needed for the DMA function type.
		Resource0 string `yaml:"resource0"`
		Resource2 string `yaml:"resource2"`

		// FunctionOffset is the byte offset of the Ethernet function's
		// register window within resource0.
		FunctionOffset uint32 `yaml:"function-offset"`

		// FunctionType selects the backend: "dma" or "iomem".
		FunctionType string `yaml:"function-type"`

		RxDMAChannel uint8 `yaml:"rx-dma-channel"`
		TxDMAChannel uint8 `yaml:"tx-dma-channel"`

		// Ring window sizes for the iomem type; 0 selects the default.
		RxWindowSize uint32 `yaml:"rx-window-size"`
		TxWindowSize uint32 `yaml:"tx-window-size"`
	} `yaml:"device"`

	Generator struct {
		Enabled bool   `yaml:"enabled"`
		RatePPS uint64 `yaml:"rate-pps"` // 0 = one frame per poll wakeup
		Size    int    `yaml:"size"`
		Count   uint64 `yaml:"count"` // 0 = until shutdown
	} `yaml:"generator"`

	Interval time.Duration `yaml:"interval"`
	Duration time.Duration `yaml:"duration"` // 0 = run until signal
}

func loadConfig() (*Config, error) {
	fConfig := flag.String("config", "ccatlink.yaml", "path to config YAML file")
	fType := flag.String("t", "", "function type override (dma/iomem)")
	fInterval := flag.Duration("i", 0, "stats interval override")
	fDuration := flag.Duration("d", -1, "run duration override (0 = until signal)")
	fGen := flag.Bool("gen", false, "enable the traffic generator (override)")
	flag.Parse()

	b, err := os.ReadFile(*fConfig)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var conf Config
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if *fType != "" {
		conf.Device.FunctionType = *fType
	}
	if *fInterval != 0 {
		conf.Interval = *fInterval
	}
	if *fDuration >= 0 {
		conf.Duration = *fDuration
	}
	if *fGen {
		conf.Generator.Enabled = true
	}

	// Basic validation
	if conf.Device.Resource0 == "" {
		return nil, errors.New("device.resource0 must be set")
	}
	switch conf.Device.FunctionType {
	case "dma":
		if conf.Device.Resource2 == "" {
			return nil, errors.New("device.resource2 must be set for the dma function type")
		}
	case "iomem":
	default:
		return nil, fmt.Errorf("unsupported device.function-type %q", conf.Device.FunctionType)
	}
	if conf.Generator.Size == 0 {
		conf.Generator.Size = 64
	}
	if conf.Generator.Size < 14 || conf.Generator.Size > frame.MaxPayload {
		return nil, fmt.Errorf("generator.size must be within [14, %d]", frame.MaxPayload)
	}
	if conf.Interval == 0 {
		conf.Interval = time.Second
	}

	return &conf, nil
}

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

func mapResource(path string) (mmio.Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_SYNC, 0)
	if err != nil {
		return mmio.Region{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return mmio.Region{}, err
	}
	return mmio.MapFile(f, int(st.Size()))
}

// stack counts inbound frames; the frames themselves are discarded. A
// fresh buffer per frame keeps the ring slot reusable immediately.
type stack struct {
	rxFrames atomic.Uint64
	linkUps  atomic.Uint64
	carrier  atomic.Bool
}

func (s *stack) AllocInbound(n int) []byte { return make([]byte, n) }

func (s *stack) Inbound([]byte) { s.rxFrames.Add(1) }

func (s *stack) LinkChanged(up bool) {
	s.carrier.Store(up)
	if up {
		s.linkUps.Add(1)
	}
	fmt.Fprintf(os.Stderr, "link changed: up=%t\n", up)
}

// generate transmits broadcast test frames until count (0 = unlimited)
// or stop. It respects the interface's queue state; frames refused by a
// stopped queue are retried on the next tick.
func generate(ifc *ccatnet.Interface, conf *Config, stop <-chan struct{}) uint64 {
	payload := make([]byte, conf.Generator.Size)
	for i := range payload[:6] {
		payload[i] = 0xff
	}
	hw := ifc.HardwareAddr()
	copy(payload[6:12], hw[:])
	payload[12], payload[13] = 0x88, 0xa4

	var p *pacer.Pacer
	if conf.Generator.RatePPS > 0 {
		p = pacer.New(time.Second / time.Duration(conf.Generator.RatePPS))
	} else {
		p = pacer.New(ccatnet.PollPeriod)
	}

	var sent uint64
	for conf.Generator.Count == 0 || sent < conf.Generator.Count {
		select {
		case <-stop:
			return sent
		default:
		}
		p.Tick()
		if !ifc.Carrier() || ifc.QueueStopped() {
			continue
		}
		if err := ifc.Transmit(&ccatnet.Frame{Buf: payload}); err != nil {
			continue
		}
		sent++
	}
	return sent
}

func main() {
	conf, err := loadConfig()
	fatalIf(err, "loading config")

	bar0, err := mapResource(conf.Device.Resource0)
	fatalIf(err, "mapping %q", conf.Device.Resource0)
	defer mmio.Unmap(bar0.Bytes())

	fn := &ccat.Function{
		Info: ccat.FunctionInfo{
			Addr: conf.Device.FunctionOffset,
		},
		Config: bar0.From(int(conf.Device.FunctionOffset)),
	}
	switch conf.Device.FunctionType {
	case "dma":
		bar2, err := mapResource(conf.Device.Resource2)
		fatalIf(err, "mapping %q", conf.Device.Resource2)
		defer mmio.Unmap(bar2.Bytes())

		fn.Info.Type = ccat.FunctionEtherCATMasterDMA
		fn.Info.RxDMAChan = conf.Device.RxDMAChannel
		fn.Info.TxDMAChan = conf.Device.TxDMAChannel
		fn.DMA = bar2
		fn.Alloc = ccat.MmapAllocator{}
		fn.Channels = &ccat.ChannelSet{}
	case "iomem":
		fn.Info.Type = ccat.FunctionEtherCATMasterNoDMA
		fn.Info.RxWindowSize = conf.Device.RxWindowSize
		fn.Info.TxWindowSize = conf.Device.TxWindowSize
	}

	st := &stack{}
	ifc, err := ccatnet.New(fn, st)
	fatalIf(err, "initializing interface")
	defer ifc.Close()

	hw := ifc.HardwareAddr()
	fmt.Fprintf(os.Stderr, "ccatlink: type=%s hwaddr=%s poll=%s\n",
		conf.Device.FunctionType, net.HardwareAddr(hw[:]), ccatnet.PollPeriod)

	err = ifc.Open()
	fatalIf(err, "starting poll timer")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	stopGen := make(chan struct{})
	genDone := make(chan uint64, 1)
	if conf.Generator.Enabled {
		go func() { genDone <- generate(ifc, conf, stopGen) }()
	}

	srcs := map[string]macstat.Source{"ccat0": ifc}
	counters := []macstat.Counter{
		macstat.TxPackets, macstat.TxBytes,
		macstat.RxPackets, macstat.RxBytes,
		macstat.TxDropped, macstat.RxDropped,
		macstat.RxCRCErrors, macstat.RxLengthErrors,
		macstat.RxFrameErrors, macstat.RxOverErrors,
		macstat.TxErrors,
	}
	start := macstat.Snapshot(srcs, counters...)
	prev := start
	began := time.Now()

	ticker := time.NewTicker(conf.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if conf.Duration > 0 {
		deadline = time.After(conf.Duration)
	}

loop:
	for {
		select {
		case <-ticker.C:
			cur := macstat.Snapshot(srcs, counters...)
			macstat.Print(os.Stderr, cur.Since(prev), nil)
			prev = cur
		case sig := <-sigC:
			fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
			break loop
		case <-deadline:
			break loop
		}
	}

	close(stopGen)
	var generated uint64
	if conf.Generator.Enabled {
		generated = <-genDone
	}
	ifc.Stop()

	elapsed := time.Since(began)
	final := macstat.Snapshot(srcs, counters...).Since(start)

	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stderr, "\n--- total (%.1fs) ---\n", elapsed.Seconds())
	macstat.Print(os.Stderr, final, nil)
	p.Fprintf(os.Stderr, "stack: rx_delivered=%d link_ups=%d generated=%d\n",
		st.rxFrames.Load(), st.linkUps.Load(), generated)
}
