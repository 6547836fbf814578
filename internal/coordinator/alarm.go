package coordinator

import (
	"context"
	"fmt"
	"time"

	"heizbox/internal/repository"
)

// onAlarm is the liveness check. The slot is consumed; a new alarm is only
// scheduled while the device is still considered on.
func (c *Coordinator) onAlarm(ctx context.Context) {
	c.stopTimer()
	c.alarmAt = time.Time{}
	if err := c.store.DeleteAlarm(ctx); err != nil {
		c.log.Warnw("alarm_clear_failed", "err", err)
	}

	now := c.opts.Now()
	silence := now.UnixMilli() - c.state.LastSeenAtMs
	outcome := "idle"
	if c.state.IsOn {
		outcome = "online"
		if silence > c.opts.OfflineThreshold.Milliseconds() {
			if err := c.store.Put(ctx, repository.KeyIsOn, false); err != nil {
				// stays on, so the reschedule below retries the check
				c.log.Errorw("offline_persist_failed", "err", err)
			} else {
				c.setOn(false)
				outcome = "offline"
				c.log.Infow("device_offline", "silence_ms", silence)
				c.broadcastStatus()
			}
		}
	}
	c.metrics.Alarm(outcome)

	if c.state.IsOn {
		next := now.Add(c.opts.OfflineThreshold)
		if err := c.scheduleAlarm(ctx, next); err != nil {
			// keep checking in process; the next check retries the durable write
			c.log.Errorw("alarm_reschedule_failed", "err", err)
			c.alarmAt = next
			c.armTimer(next)
		}
	}
}

// ensureAlarm schedules a check one threshold from now unless one is pending.
func (c *Coordinator) ensureAlarm(ctx context.Context) error {
	if !c.alarmAt.IsZero() {
		return nil
	}
	return c.scheduleAlarm(ctx, c.opts.Now().Add(c.opts.OfflineThreshold))
}

// scheduleAlarm writes the durable slot first, then arms the in-process timer.
func (c *Coordinator) scheduleAlarm(ctx context.Context, at time.Time) error {
	if err := c.store.SetAlarm(ctx, at); err != nil {
		return fmt.Errorf("schedule alarm: %w", err)
	}
	c.alarmAt = at
	c.armTimer(at)
	return nil
}

func (c *Coordinator) armTimer(at time.Time) {
	c.stopTimer()
	c.timerGen++
	gen := c.timerGen
	delay := at.Sub(c.opts.Now())
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fire runs on the timer goroutine and queues the check. A timer that was
// replaced or stopped after it started firing is ignored by generation.
func (c *Coordinator) fire(gen uint64) {
	task := func() {
		if gen != c.timerGen || c.timer == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), internalOpTimeout)
		defer cancel()
		c.onAlarm(ctx)
	}
	select {
	case c.mailbox <- task:
	case <-c.quit:
	}
}
