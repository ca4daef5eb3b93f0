// Package influxdb records cockpit bridge telemetry in InfluxDB v2.
//
// Measurements written by the bridge:
//   - link: connected flag and state on every state change
//   - property: simulator property values as they change
//   - input_edge: switch transitions
//   - key_event: keypad presses and releases
//
// Every point carries a bridge tag plus the default service tag.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("telemetry", "error", err) })
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller.
package influxdb
