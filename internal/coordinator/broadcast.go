package coordinator

import (
	"encoding/json"
	"errors"
)

// ErrSubscriberGone is returned by Attach when the snapshot could not be delivered.
var ErrSubscriberGone = errors.New("subscriber send failed")

func (c *Coordinator) statusEvent() statusEvent {
	return statusEvent{Type: TypeStatusUpdate, IsOn: c.state.IsOn, IsHeating: c.state.IsHeating}
}

func (c *Coordinator) broadcastStatus() {
	c.broadcast(TypeStatusUpdate, c.statusEvent())
}

// broadcast serializes ev once and fans it out. With nobody listening it does nothing.
func (c *Coordinator) broadcast(eventType string, ev any) {
	if len(c.subs) == 0 && c.sink == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		c.log.Errorw("broadcast_marshal_failed", "type", eventType, "err", err)
		return
	}
	c.fanout(eventType, raw)
}

// fanout sends raw to every subscriber. Device-role subscribers get sessionData
// without the history field. A failed send drops that subscriber only.
func (c *Coordinator) fanout(eventType string, raw []byte) {
	if len(c.subs) == 0 && c.sink == nil {
		return
	}
	c.metrics.Broadcast(eventType)

	if c.sink != nil {
		if err := c.sink.Publish(c.id, eventType, raw); err != nil {
			c.log.Warnw("event_sink_publish_failed", "type", eventType, "err", err)
		}
	}

	var deviceCopy []byte
	for sub := range c.subs {
		msg := raw
		if eventType == TypeSessionData && sub.Role() == RoleDevice {
			if deviceCopy == nil {
				deviceCopy = c.shape(raw)
			}
			msg = deviceCopy
		}
		if err := sub.Send(msg); err != nil {
			c.dropSubscriber(sub, err)
		}
	}
}

// sendEvent delivers one event to a single subscriber with role shaping.
// It reports false and drops the subscriber when the send fails.
func (c *Coordinator) sendEvent(sub Subscriber, eventType string, ev any) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.log.Errorw("event_marshal_failed", "type", eventType, "err", err)
		return true
	}
	if eventType == TypeSessionData && sub.Role() == RoleDevice {
		raw = c.shape(raw)
	}
	if err := sub.Send(raw); err != nil {
		c.dropSubscriber(sub, err)
		return false
	}
	return true
}

// reply answers the submitter of a message.
func (c *Coordinator) reply(sub Subscriber, ack Ack) {
	c.sendEvent(sub, TypeAck, ack)
}

func (c *Coordinator) shape(raw []byte) []byte {
	out, err := stripField(raw, historyField)
	if err != nil {
		c.log.Errorw("strip_history_failed", "err", err)
		return raw
	}
	return out
}

func (c *Coordinator) dropSubscriber(sub Subscriber, cause error) {
	if _, ok := c.subs[sub]; !ok {
		return
	}
	c.log.Infow("subscriber_dropped", "role", sub.Role(), "err", cause)
	c.metrics.SubscriberDropped(string(sub.Role()))
	c.removeSubscriber(sub)
	sub.Close()
}

func (c *Coordinator) removeSubscriber(sub Subscriber) {
	if _, ok := c.subs[sub]; !ok {
		return
	}
	delete(c.subs, sub)
	c.metrics.SubscriberRemoved(string(sub.Role()))
	c.log.Infow("subscriber_detached", "role", sub.Role(), "subscribers", len(c.subs))
}
