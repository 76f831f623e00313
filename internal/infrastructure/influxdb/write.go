package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAuthEvents   = "auth_events"
	MeasurementAuthSessions = "auth_sessions"
)

// WriteAuthEvent records one security event.
//
//	client.WriteAuthEvent("login_failed", "failure")
func (c *Client) WriteAuthEvent(action, outcome string) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(authEventPoint(action, outcome, time.Now()))
}

// WriteSessionGauge records the number of live refresh tokens and how many
// expired ones the last sweep removed.
func (c *Client) WriteSessionGauge(active int, reaped int64) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(sessionGaugePoint(active, reaped, time.Now()))
}

func authEventPoint(action, outcome string, ts time.Time) *write.Point {
	if outcome == "" {
		outcome = "success"
	}
	return write.NewPoint(
		MeasurementAuthEvents,
		map[string]string{
			"action":  action,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		ts,
	)
}

func sessionGaugePoint(active int, reaped int64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuthSessions,
		nil,
		map[string]interface{}{
			"active": active,
			"reaped": reaped,
		},
		ts,
	)
}
