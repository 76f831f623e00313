package mqtt

import "errors"

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: not connected")

	// ErrPublishFailed covers timeouts, broker rejections, oversized
	// payloads and values that cannot be encoded as JSON.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
)
