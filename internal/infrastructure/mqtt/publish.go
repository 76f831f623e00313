package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps message size (1MB), in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to topic.
//
// QoS 0 is fire-and-forget, 1 at-least-once, 2 exactly-once. Retained
// messages are kept by the broker for new subscribers; use them for status
// topics, not events.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, qos, retained)
}

// PublishEvent publishes v as a non-retained event with the configured QoS.
func (c *Client) PublishEvent(topic string, v any) error {
	return c.PublishJSON(topic, v, byte(c.cfg.QoS), false)
}
