// Package influxdb records Cragline authentication metrics in InfluxDB.
//
// Two measurements are written:
//
//	auth_events    tags: action, outcome        field: count=1
//	auth_sessions  tags: none                   fields: active, reaped
//
// auth_events gets one point per security event (login, login_failed,
// refresh, session_revoke, ...). auth_sessions is a gauge written after
// each expired-token sweep.
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; failures surface through SetOnError.
package influxdb
