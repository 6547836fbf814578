package mqtt

import (
	"errors"
	"fmt"
	"time"

	"heizbox/internal/logger"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout       = 10 * time.Second
	publishTimeout       = 5 * time.Second
	connectRetryInterval = 5 * time.Second
	disconnectQuiesceMs  = 1000
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
	log    *logger.Logger
}

// NewRealPublisher connects to broker and returns a publisher writing under prefix.
func NewRealPublisher(broker, clientID, prefix string, log *logger.Logger) (*RealPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client, prefix: prefix, log: log}, nil
}

// Publish hands the payload to paho and returns without waiting for the broker.
// Delivery failures are logged from a separate goroutine so a slow broker never
// stalls the caller.
func (p *RealPublisher) Publish(deviceID, eventType string, payload []byte) error {
	if !p.client.IsConnected() {
		return errors.New("mqtt not connected")
	}
	topic := Topic(p.prefix, deviceID)

	// QoS 0 (at-most-once), not retained
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			if p.log != nil {
				p.log.Warnw("mqtt_publish_timeout", "topic", topic, "type", eventType)
			}
			return
		}
		if err := token.Error(); err != nil && p.log != nil {
			p.log.Warnw("mqtt_publish_failed", "topic", topic, "type", eventType, "err", err)
		}
	}()
	return nil
}

func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesceMs)
	return nil
}
