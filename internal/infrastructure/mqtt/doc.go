// Package mqtt publishes Cragline security events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - JSON event publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// Other gym services (front-desk dashboards, the alerting bridge) subscribe
// to cragline/auth/events/# to watch logins, refresh failures and session
// revocations without polling the API.
//
//	Cragline Core → MQTT Broker → dashboards, alerting
//
// # Security Considerations
//
//   - TLS is expected in production (cfg.Broker.TLS=true)
//   - Event payloads never carry passwords or token secrets
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.AuthEvent("login"), event, 1, false)
package mqtt
