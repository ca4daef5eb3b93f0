// Package mqtt publishes the cockpit bridge's status and events to an
// MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and topic validation
//   - Last Will and Testament (LWT) so a crashed bridge shows offline
//   - Replay of retained status after a broker reconnect
//
// # Architecture
//
// The bridge core is single-threaded; paho runs its own goroutines.
// Nothing here calls back into the core: Publish is the only inbound edge,
// and the bridge treats every publish error as non-fatal.
//
//	bridge.Bridge → mqtt.Client → broker → dashboards
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:   bridge.StatusTopic(id),
//	    Payload: lwtPayload,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(bridge.StatusTopic(id), payload, 1, true)
package mqtt
