package ccatnet

import (
	"github.com/golang/glog"

	"github.com/kthaler/ccatlink/frame"
)

// pollLink compares the carrier bit in the management register against
// the last observed state and runs the up/down transition when they
// differ. One register read per tick is the only source of truth.
func (i *Interface) pollLink() {
	up := i.reg.LinkUp()
	if up == i.carrier.Load() {
		return
	}
	if up {
		i.linkUp()
	} else {
		i.linkDown()
	}
}

// linkUp re-arms both rings, transmits the forwarding-enable control
// frame and only then signals carrier-on and re-enables the queue.
func (i *Interface) linkUp() {
	glog.Infof("ccatnet: link is up")

	i.rx.reset()
	i.tx.reset()

	i.xmitRaw(frame.ForwardingEnable[:])

	i.carrier.Store(true)
	i.stack.LinkChanged(true)
	i.wakeQueue()
}

func (i *Interface) linkDown() {
	glog.Infof("ccatnet: link is down")
	i.stopQueue()
	i.carrier.Store(false)
	i.stack.LinkChanged(false)
}

// pollRx drains every currently ready slot in one pass. The loop is
// bounded only by ring exhaustion; under sustained traffic it can run
// for a long time within one tick.
func (i *Interface) pollRx() {
	rx := i.rx
	for {
		n := i.be.rxAvail(rx)
		if n == 0 {
			return
		}
		i.receive(n)
		i.be.armRx(rx)
		rx.advance()
	}
}

// receive copies the cursor slot's payload into a stack buffer and
// delivers it. An allocation failure loses only this frame; the slot is
// still reclaimed by the caller.
func (i *Interface) receive(n int) {
	buf := i.stack.AllocInbound(n)
	if buf == nil {
		glog.Warning("ccatnet: rx buffer allocation failed, dropping frame")
		i.rxDropped.Add(1)
		return
	}
	buf = buf[:n]
	i.be.copyOut(i.rx, buf)
	i.rxBytes.Add(uint64(n))
	i.stack.Inbound(buf)
}

// pollTx re-enables the queue once the cursor slot is ready again.
func (i *Interface) pollTx() {
	if i.be.txReady(i.tx) {
		i.wakeQueue()
	}
}
