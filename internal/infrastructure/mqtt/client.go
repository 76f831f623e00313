package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cragline/cragline-core/internal/infrastructure/config"
)

// Client publishes Cragline security events and the service status to an
// MQTT broker. It never subscribes.
//
// All methods are safe for concurrent use. The zero value is a closed client.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// up is set by the paho connect handler and cleared on connection loss.
	up atomic.Bool

	onConnect    atomic.Pointer[func()]
	onDisconnect atomic.Pointer[func(error)]
}

// Connect dials the broker and waits for the first connection.
//
// The retained LWT on cragline/system/status reports a crash; every
// (re)connect republishes "online" there. Auto-reconnect is enabled, so a
// later broker outage only drops events until the link is back.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.linkUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.linkDown(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine.
	c.up.Store(true)
	return c, nil
}

func (c *Client) linkUp() {
	c.up.Store(true)
	c.announce(buildOnlinePayload(c.cfg.Broker.ClientID))

	if fn := c.onConnect.Load(); fn != nil {
		(*fn)()
	}
}

func (c *Client) linkDown(err error) {
	c.up.Store(false)

	if fn := c.onDisconnect.Load(); fn != nil {
		(*fn)(err)
	}
}

// announce publishes a retained status message and returns its token.
func (c *Client) announce(payload string) pahomqtt.Token {
	return c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close publishes a graceful offline status, which subscribers can tell
// apart from the crash LWT, then disconnects after a quiesce period.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.announce(buildOfflinePayload(c.cfg.Broker.ClientID)).WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.up.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.onConnect.Store(&callback)
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.onDisconnect.Store(&callback)
}
