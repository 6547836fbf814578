// Package mqtt mirrors device events onto an MQTT broker.
package mqtt

import "strings"

// Publisher publishes device events to MQTT.
type Publisher interface {
	// Publish sends one serialized event for deviceID.
	// Returns error if publishing fails; callers log and carry on.
	Publish(deviceID, eventType string, payload []byte) error

	// Close disconnects from the broker.
	Close() error
}

const eventsSuffix = "events"

// Topic returns <prefix>/<deviceID>/events.
func Topic(prefix, deviceID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return deviceID + "/" + eventsSuffix
	}
	return prefix + "/" + deviceID + "/" + eventsSuffix
}
