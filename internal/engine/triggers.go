package engine

import (
	"context"
	"time"
)

// run is the single runner goroutine started by Init. All trigger
// sources funnel into the command channel; the runner drains it one
// cycle at a time, which keeps the single-in-flight guard trivially
// satisfied for triggered cycles. Direct SyncAll callers still contend
// through beginCycle.
func (e *Engine) run() {
	defer close(e.done)

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var online <-chan bool
	if e.collab.Network != nil {
		online = e.collab.Network.Watch()
	}

	for {
		select {
		case <-e.stop:
			return

		case opts := <-e.commands:
			if _, err := e.SyncAll(context.Background(), opts); err != nil {
				e.logger.Warn("triggered cycle failed", "err", err)
			}

		case <-tick:
			// The recurring timer is a safety net for missed local
			// mutations; it only flushes outbound state.
			e.enqueueTrigger(Options{Direction: DirectionUpload}, "timer")

		case isOnline, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if isOnline {
				e.enqueueTrigger(Options{Direction: DirectionBidirectional}, "connectivity")
			}
		}
	}
}

// enqueueTrigger submits a cycle request without blocking the producer.
// If the command channel is full the request is dropped; the pending
// state it would have flushed is picked up by the next cycle anyway.
func (e *Engine) enqueueTrigger(opts Options, reason string) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}

	select {
	case e.commands <- opts:
		e.logger.Debug("cycle triggered", "reason", reason,
			"direction", opts.Direction.String())
	default:
		e.logger.Warn("trigger dropped, command queue full", "reason", reason)
	}
}
