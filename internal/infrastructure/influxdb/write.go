package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point stamped with the current time.
//
// It satisfies bridge.MetricsWriter. Points written while disconnected
// are dropped, as are points with no fields (InfluxDB rejects them).
//
// Example:
//
//	client.WritePoint("link",
//	    map[string]string{"bridge": "left-seat"},
//	    map[string]interface{}{"connected": true, "state": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() || measurement == "" || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
