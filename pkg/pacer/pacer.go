// Package pacer releases queued packets to the board no faster than the
// board can execute them.
//
// The board buffers only a few commands, so the next packet is sent once
// the previous one is nearly finished: when the time since the last send
// exceeds the previous packet's duration minus a lead margin.
package pacer

import (
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/protocol"
	"plotbot-go/pkg/queue"
)

// DefaultMargin is how long before the previous move ends the next one is sent.
const DefaultMargin = 500 * time.Millisecond

// Pacer drains a queue into a link, one packet per qualifying tick.
type Pacer struct {
	queue   *queue.Queue
	link    boardlink.Link
	margin  time.Duration
	log     *log.Logger
	metrics *metrics.PlotterMetrics

	lastDuration time.Duration
	elapsed      time.Duration
	lastTick     time.Duration
	sent         uint64
}

// New returns a pacer. m may be nil.
func New(q *queue.Queue, link boardlink.Link, margin time.Duration, m *metrics.PlotterMetrics) *Pacer {
	return &Pacer{
		queue:   q,
		link:    link,
		margin:  margin,
		log:     log.GetLogger("pacer"),
		metrics: m,
	}
}

// Tick advances the pacer's clock to now and sends at most one packet.
// now must not go backwards between calls. A packet is removed from the
// queue only once it has been written; on a send error it stays at the
// head and is retried on a later tick.
func (p *Pacer) Tick(now time.Duration) (bool, error) {
	p.elapsed += now - p.lastTick
	p.lastTick = now

	cmd, ok := p.queue.Front()
	if !ok || p.elapsed <= p.lastDuration-p.margin {
		return false, nil
	}

	// Length is checked before sending: if the API appends meanwhile the
	// trailing pen-up is still correct for what was queued at this tick.
	last := p.queue.Len() == 1

	if err := p.link.Send(cmd.Text); err != nil {
		return false, err
	}
	if last {
		if err := p.link.Send(protocol.PenUp); err != nil {
			p.log.WithError(err).Warn("trailing pen up failed")
		}
	}
	p.queue.PopFront()

	p.lastDuration = time.Duration(cmd.DurationMillis) * time.Millisecond
	p.elapsed = 0
	p.sent++
	if p.metrics != nil {
		p.metrics.PacketsPaced.Inc(nil)
	}
	p.log.WithFields(log.Fields{"duration_ms": cmd.DurationMillis, "left": p.queue.Len()}).
		Debugf("sent %q", cmd.Text)
	return true, nil
}

// Advance moves the clock to now without sending. The board keeps
// executing the last packet while sends are held, so the time still
// counts toward the next send.
func (p *Pacer) Advance(now time.Duration) {
	p.elapsed += now - p.lastTick
	p.lastTick = now
}

// Reset forgets the previous packet, as after homing.
func (p *Pacer) Reset(now time.Duration) {
	p.lastDuration = 0
	p.elapsed = 0
	p.lastTick = now
}

// Sent returns the number of packets released.
func (p *Pacer) Sent() uint64 {
	return p.sent
}

// Busy reports whether the last packet sent is presumably still running.
func (p *Pacer) Busy() bool {
	return p.elapsed < p.lastDuration
}
