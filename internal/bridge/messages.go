package bridge

import (
	"fmt"
	"time"
)

// TopicPrefix is the root of every topic the bridge publishes to.
const TopicPrefix = "cockpit"

// StatusTopic returns the retained status topic of a bridge.
//
// Example: cockpit/status/flightdeck
func StatusTopic(bridgeID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, bridgeID)
}

// EventTopic returns the topic carrying input and key events.
//
// Example: cockpit/event/flightdeck
func EventTopic(bridgeID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, bridgeID)
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the simulator link is up and synchronised.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is (re)connecting or syncing.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the simulator is unreachable.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge process is gone (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// StatusMessage is the retained status document.
// Topic: cockpit/status/{bridge}
// QoS: 1, Retained: Yes
type StatusMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Status is the overall health.
	Status HealthStatus `json:"status"`

	// State is the orchestrator state name.
	State string `json:"state"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Session identifies the current simulator connection.
	Session string `json:"session,omitempty"`

	// Simulator describes the simulator link.
	Simulator *LinkStatus `json:"simulator,omitempty"`

	// Statistics contains operational counters.
	Statistics *Statistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded/unhealthy).
	Reason string `json:"reason,omitempty"`
}

// LinkStatus describes the simulator connection.
type LinkStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the simulator host:port.
	Address string `json:"address"`

	// ConnectedSince is when the current session started.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// Statistics contains bridge counters.
type Statistics struct {
	LinesReceived   uint64 `json:"lines_received"`
	LinesSent       uint64 `json:"lines_sent"`
	LinkErrors      uint64 `json:"link_errors"`
	Reconnects      uint64 `json:"reconnects"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	DroppedCommands uint64 `json:"dropped_commands"`
	InputEdges      uint64 `json:"input_edges"`
	KeyEvents       uint64 `json:"key_events"`
	DriverErrors    uint64 `json:"driver_errors"`
	DecodeErrors    uint64 `json:"decode_errors"`
}

// EventKind classifies an EventMessage.
type EventKind string

const (
	// EventInput is a GPIO input edge.
	EventInput EventKind = "input"

	// EventKey is a keypad press or release.
	EventKey EventKind = "key"
)

// EventMessage reports one hardware event.
// Topic: cockpit/event/{bridge}
// QoS: 0, Retained: No
type EventMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session,omitempty"`
	Kind      EventKind `json:"kind"`

	// Name is the input name or key name.
	Name string `json:"name"`

	// Level is the new input level, or true for a key press.
	Level bool `json:"level"`

	// Command is the simulator line queued for the event, if any.
	Command string `json:"command,omitempty"`
}

// NewLWTMessage creates the offline status used as the MQTT last will.
func NewLWTMessage(bridgeID string) StatusMessage {
	return StatusMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected disconnect",
	}
}
