package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	measurementStatus       = "node_status"
	measurementConnectivity = "node_connectivity"
)

// RecordStatus writes one heartbeat status document as a point tagged with
// the node name. Non-numeric fields are written as strings by the client.
//
// Parameters:
//   - node: Node identity (tag)
//   - fields: Status document fields
func (c *Client) RecordStatus(node string, fields map[string]any) {
	c.writePoint(measurementStatus, map[string]string{"node": node}, fields, time.Now())
}

// RecordConnectivity writes a link or session transition.
//
// Parameters:
//   - node: Node identity (tag)
//   - layer: "link" or "session" (tag)
//   - state: New state name
//   - failures: Consecutive failures at the time of the transition
func (c *Client) RecordConnectivity(node, layer, state string, failures int) {
	c.writePoint(measurementConnectivity,
		map[string]string{"node": node, "layer": layer},
		map[string]any{"state": state, "failures": failures},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
