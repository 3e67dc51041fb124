package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// StateMeasurement is the measurement device states are written to.
const StateMeasurement = "gree_state"

// WriteDeviceState records one published state. Numeric values become float
// fields, booleans stay booleans and other values are stored as strings.
// The last_seen field is skipped since the point carries its own time.
func (c *Client) WriteDeviceState(deviceID string, state map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	fields := stateFields(state)
	if len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		StateMeasurement,
		map[string]string{"device_id": deviceID},
		fields,
		at,
	))
}

func stateFields(state map[string]any) map[string]any {
	fields := make(map[string]any, len(state))
	for k, v := range state {
		if k == "last_seen" {
			continue
		}
		switch n := v.(type) {
		case float64:
			fields[k] = n
		case float32:
			fields[k] = float64(n)
		case int:
			fields[k] = float64(n)
		case int64:
			fields[k] = float64(n)
		case bool, string:
			fields[k] = n
		case nil:
		default:
			continue
		}
	}
	return fields
}
