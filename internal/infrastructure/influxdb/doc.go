// Package influxdb records device state history in InfluxDB v2.
//
// Every state the bridge publishes is also written as one point in the
// "gree_state" measurement, tagged with the device id. Writes are
// non-blocking and batched by the client library; failures surface
// through the SetOnError callback.
//
//	influxdb:
//	  enabled: true
//	  url: "http://localhost:8086"
//	  org: "home"
//	  bucket: "greemqtt"
//
// The integration is optional: Connect returns ErrDisabled when it is
// switched off and callers skip history writes.
package influxdb
