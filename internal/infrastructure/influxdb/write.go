package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateChange records one state transition observed by the registry.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Non-numeric values should be coerced by the caller (booleans to 0/1,
// enums to their wire integer) before reaching here.
//
// Parameters:
//   - deviceUUID: Device identifier
//   - subdeviceID: Hub child identifier, empty for the device itself
//   - changeType: Dotted feature.field name (e.g., "toggle.isOn")
//   - channel: Channel index the change applies to
//   - value: The numeric value after the transition
//   - ts: When the transition was observed
func (c *Client) WriteStateChange(deviceUUID, subdeviceID, changeType string, channel int, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device":  deviceUUID,
		"type":    changeType,
		"channel": strconv.Itoa(channel),
	}
	if subdeviceID != "" {
		tags["subdevice"] = subdeviceID
	}

	point := write.NewPoint(
		"state_changes",
		tags,
		map[string]interface{}{
			"value": value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WriteElectricity records one instant power reading from a metering plug.
//
// Values stay in wire units: milliwatts, millivolts, milliamps. Converting
// at the dashboard keeps the stored series integer-exact.
//
// Parameters:
//   - deviceUUID: Device identifier
//   - channel: Metered channel index
//   - powerMW: Instant power draw in milliwatts
//   - voltageMV: Line voltage in millivolts
//   - currentMA: Line current in milliamps
func (c *Client) WriteElectricity(deviceUUID string, channel int, powerMW, voltageMV, currentMA float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"electricity",
		map[string]string{
			"device":  deviceUUID,
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"power_mw":   powerMW,
			"voltage_mv": voltageMV,
			"current_ma": currentMA,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandSample records one device command round trip for latency
// dashboards: which namespace, which verb, and whether a reply arrived.
//
// Parameters:
//   - namespace: Command namespace (e.g., "Appliance.Control.ToggleX")
//   - method: Command verb ("GET" or "SET")
//   - latency: Reply latency; zero when the command was dropped
//   - dropped: True when the deadline fired before any reply
func (c *Client) WriteCommandSample(namespace, method string, latency time.Duration, dropped bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"commands",
		map[string]string{
			"namespace": namespace,
			"method":    method,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
			"dropped":    dropped,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("session_stats",
//	    map[string]string{"account": "user@example.com"},
//	    map[string]interface{}{"pending": 3, "reconnects": 1})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
