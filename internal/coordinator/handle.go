package coordinator

import (
	"context"
	"errors"
	"fmt"

	"heizbox/internal/models"
	"heizbox/internal/repository"
	"heizbox/internal/service"
)

func (c *Coordinator) dispatch(ctx context.Context, sub Subscriber, msg Message) error {
	if sub.Role() != RoleDevice {
		// observers may only relay stash changes
		if m, ok := msg.(StashUpdated); ok {
			c.fanout(TypeStashUpdated, m.Raw)
			return nil
		}
		c.log.Debugw("frontend_message_ignored", "type", msg.MessageType())
		return nil
	}

	switch m := msg.(type) {
	case Heartbeat:
		return c.touch(ctx, true)
	case StatusUpdate:
		if err := c.touch(ctx, false); err != nil {
			return err
		}
		// an explicit isOn from the device wins over the implicit online flip
		patch := m.Patch
		if patch.IsOn == nil {
			on := true
			patch.IsOn = &on
		}
		_, err := c.applyPatch(ctx, patch)
		return err
	case HeatCycleCompleted:
		if err := c.touch(ctx, true); err != nil {
			c.log.Warnw("liveness_update_failed", "err", err)
		}
		c.reply(sub, c.completeHeatCycle(ctx, m.Duration, m.Cycle))
		return nil
	case StashUpdated:
		if err := c.touch(ctx, true); err != nil {
			c.log.Warnw("liveness_update_failed", "err", err)
		}
		c.fanout(TypeStashUpdated, m.Raw)
		return nil
	default:
		return fmt.Errorf("%w: unhandled type %s", ErrInvalidMessage, msg.MessageType())
	}
}

// touch records a liveness signal: lastSeen is persisted, the device is
// flipped on when forceOn is set, and the alarm is made sure to be pending.
func (c *Coordinator) touch(ctx context.Context, forceOn bool) error {
	now := c.opts.Now().UnixMilli()
	if err := c.store.Put(ctx, repository.KeyLastSeen, now); err != nil {
		return fmt.Errorf("persist %s: %w", repository.KeyLastSeen, err)
	}
	c.state.LastSeenAtMs = now

	if forceOn && !c.state.IsOn {
		if err := c.store.Put(ctx, repository.KeyIsOn, true); err != nil {
			return fmt.Errorf("persist %s: %w", repository.KeyIsOn, err)
		}
		c.setOn(true)
		c.broadcastStatus()
	}
	return c.ensureAlarm(ctx)
}

// applyPatch persists then applies every field that differs and broadcasts
// once if anything changed.
func (c *Coordinator) applyPatch(ctx context.Context, p StatusPatch) (bool, error) {
	changed := false
	var err error

	if p.IsOn != nil && *p.IsOn != c.state.IsOn {
		if err = c.store.Put(ctx, repository.KeyIsOn, *p.IsOn); err == nil {
			c.setOn(*p.IsOn)
			changed = true
		} else {
			err = fmt.Errorf("persist %s: %w", repository.KeyIsOn, err)
		}
	}
	if err == nil && p.IsHeating != nil && *p.IsHeating != c.state.IsHeating {
		if err = c.store.Put(ctx, repository.KeyIsHeating, *p.IsHeating); err == nil {
			c.state.IsHeating = *p.IsHeating
			changed = true
		} else {
			err = fmt.Errorf("persist %s: %w", repository.KeyIsHeating, err)
		}
	}

	if changed {
		c.broadcastStatus()
	}
	return changed, err
}

func (c *Coordinator) setOn(on bool) {
	if c.state.IsOn == on {
		return
	}
	c.state.IsOn = on
	c.metrics.DeviceOnline(on)
}

func (c *Coordinator) completeHeatCycle(ctx context.Context, duration float64, cycle int) Ack {
	if err := service.ValidateHeatCycle(duration, cycle); err != nil {
		c.log.Infow("heat_cycle_rejected", "err", err)
		c.metrics.HeatCycle(ReasonInvalid)
		return ackFail(ReasonInvalid)
	}

	key := cycleKey{duration: duration, cycle: cycle}
	if c.recent.contains(key) {
		c.log.Infow("heat_cycle_duplicate", "layer", "cache", "duration", duration, "cycle", cycle)
		c.metrics.Duplicate("cache")
		c.metrics.HeatCycle(ReasonDuplicate)
		return ackFail(ReasonDuplicate)
	}

	rec, err := c.cycles.Record(ctx, duration, cycle)
	switch {
	case errors.Is(err, service.ErrDuplicateHeatCycle):
		c.log.Infow("heat_cycle_duplicate", "layer", "store", "duration", duration, "cycle", cycle)
		c.metrics.Duplicate("store")
		c.metrics.HeatCycle(ReasonDuplicate)
		return ackFail(ReasonDuplicate)
	case errors.Is(err, service.ErrInvalidHeatCycle):
		c.metrics.HeatCycle(ReasonInvalid)
		return ackFail(ReasonInvalid)
	case err != nil:
		c.log.Errorw("heat_cycle_persist_failed", "err", err, "duration", duration, "cycle", cycle)
		c.metrics.HeatCycle(ReasonDBError)
		return ackFail(ReasonDBError)
	}

	c.recent.add(key)
	c.session.invalidate()
	c.metrics.HeatCycle("stored")
	c.log.Infow("heat_cycle_stored", "id", rec.ID, "duration", duration, "cycle", cycle)

	data, err := c.sessionData(ctx)
	if err != nil {
		// the row is stored; subscribers catch up on the next change
		c.log.Errorw("session_data_failed", "err", err)
		return ackOK()
	}
	c.broadcast(TypeSessionData, sessionDataEvent{Type: TypeSessionData, SessionData: data})
	return ackOK()
}

func (c *Coordinator) attach(ctx context.Context, sub Subscriber) error {
	c.subs[sub] = struct{}{}
	c.metrics.SubscriberAdded(string(sub.Role()))
	c.log.Infow("subscriber_attached", "role", sub.Role(), "subscribers", len(c.subs))

	if !c.sendEvent(sub, TypeStatusUpdate, c.statusEvent()) {
		return ErrSubscriberGone
	}
	if sub.Role() != RoleDevice {
		return nil
	}
	if !c.sendEvent(sub, TypeHeartbeat, heartbeatEvent{Type: TypeHeartbeat}) {
		return ErrSubscriberGone
	}
	data, err := c.sessionData(ctx)
	if err != nil {
		c.log.Errorw("session_data_failed", "err", err)
		return nil
	}
	if !c.sendEvent(sub, TypeSessionData, sessionDataEvent{Type: TypeSessionData, SessionData: data}) {
		return ErrSubscriberGone
	}
	return nil
}

func (c *Coordinator) sessionData(ctx context.Context) (models.SessionData, error) {
	now := c.opts.Now()
	if data, ok := c.session.get(now); ok {
		return data, nil
	}
	data, err := c.sessions.CurrentSessionData(ctx)
	if err != nil {
		return models.SessionData{}, fmt.Errorf("session data: %w", err)
	}
	c.session.set(data, now)
	return data, nil
}
