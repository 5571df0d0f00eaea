// Package pacer provides a fixed-period tick pacer for poll loops.
package pacer

import "time"

// Pacer paces a loop to one tick per fixed period on average.
// Not safe for concurrent use.
type Pacer struct {
	period time.Duration
	start  time.Time
	ticks  int64
}

// New creates a pacer with the given period.
// If period == 0, pacing is disabled and Tick returns immediately.
func New(period time.Duration) *Pacer {
	if period == 0 {
		return nil
	}
	return &Pacer{
		period: period,
		start:  time.Now(),
	}
}

// Tick blocks until the next period boundary. Deadlines are derived
// from the initial start time, so sleep jitter does not accumulate.
// When the loop falls behind schedule the pacer re-arms from the
// current time instead of replaying missed ticks.
func (p *Pacer) Tick() {
	if p == nil {
		return
	}

	p.ticks++
	next := p.start.Add(time.Duration(p.ticks) * p.period)

	if now := time.Now(); now.Before(next) {
		time.Sleep(next.Sub(now))
		return
	}

	// Behind schedule: skip the missed ticks.
	p.start = time.Now()
	p.ticks = 0
}
