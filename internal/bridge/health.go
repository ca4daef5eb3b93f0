package bridge

import (
	"context"
	"encoding/json"
	"time"
)

// Publisher sends messages to the status broker.
// This is implemented by the MQTT client.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// MetricsWriter records telemetry points.
// This is implemented by the InfluxDB client; writes never block.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Journal keeps an append-only record of bridge events.
type Journal interface {
	Record(ctx context.Context, session, kind, detail string) error
}

// Journal entry kinds.
const (
	JournalState         = "state"
	JournalSyncFailure   = "sync_failure"
	JournalProtocolError = "protocol_error"
	JournalLinkError     = "link_error"
)

// Telemetry measurements.
const (
	measurementLink     = "link"
	measurementProperty = "property"
	measurementEdge     = "input_edge"
	measurementKey      = "key_event"
)

// determineStatus maps the orchestrator state to a health status.
func (b *Bridge) determineStatus() (HealthStatus, string) {
	switch b.state {
	case StateSteady:
		return HealthHealthy, ""
	case StateConnecting:
		return HealthDegraded, "connecting to simulator"
	case StateSyncing:
		return HealthDegraded, "reading initial state"
	case StateBackoff:
		reason := "simulator unreachable"
		if b.lastErr != nil {
			reason = b.lastErr.Error()
		}
		return HealthUnhealthy, reason
	default:
		return HealthStarting, "bridge starting"
	}
}

// StatusMessage builds the current status document.
func (b *Bridge) StatusMessage(status HealthStatus, reason string) StatusMessage {
	now := b.now()
	link := b.client.Stats()

	msg := StatusMessage{
		Bridge:        b.opts.BridgeID,
		Timestamp:     now.UTC(),
		Status:        status,
		State:         b.state.String(),
		Version:       b.opts.Version,
		UptimeSeconds: int64(now.Sub(b.startTime).Seconds()),
		Session:       b.session,
		Reason:        reason,
		Simulator: &LinkStatus{
			Status:  "disconnected",
			Address: b.client.Address(),
		},
	}
	if link.Connected {
		since := b.sessionStart.UTC()
		msg.Simulator.Status = "connected"
		msg.Simulator.ConnectedSince = &since
	}

	stats := &Statistics{
		LinesReceived:   link.LinesRx,
		LinesSent:       link.LinesTx,
		LinkErrors:      link.ErrorsTotal,
		Reconnects:      b.reconnects.Load(),
		ProtocolErrors:  b.protocolErrors.Load(),
		DroppedCommands: b.droppedCommands.Load(),
		InputEdges:      b.inputEdges.Load(),
		KeyEvents:       b.keyEvents.Load(),
	}
	for _, p := range b.pollers {
		stats.DriverErrors += p.Stats().DriverErrors
	}
	for _, d := range b.decoders {
		stats.DecodeErrors += d.Stats().DecodeErrors
	}
	msg.Statistics = stats

	return msg
}

// publishStatus publishes the status for the current state.
func (b *Bridge) publishStatus() {
	status, reason := b.determineStatus()
	b.publish(status, reason)
}

func (b *Bridge) publish(status HealthStatus, reason string) {
	b.lastStatus = b.now()

	if b.opts.Publisher == nil || !b.opts.Publisher.IsConnected() {
		return
	}

	payload, err := json.Marshal(b.StatusMessage(status, reason))
	if err != nil {
		b.logError("failed to encode status", err)
		return
	}

	// QoS 1, retained so late subscribers see the current state.
	if err := b.opts.Publisher.Publish(StatusTopic(b.opts.BridgeID), payload, 1, true); err != nil {
		b.logDebug("status publish failed", "error", err)
	}
}

// publishEvent publishes a hardware event, best effort.
func (b *Bridge) publishEvent(kind EventKind, name string, level bool, command string) {
	if b.opts.Publisher == nil || !b.opts.Publisher.IsConnected() {
		return
	}

	payload, err := json.Marshal(EventMessage{
		Bridge:    b.opts.BridgeID,
		Timestamp: b.now().UTC(),
		Session:   b.session,
		Kind:      kind,
		Name:      name,
		Level:     level,
		Command:   command,
	})
	if err != nil {
		return
	}

	if err := b.opts.Publisher.Publish(EventTopic(b.opts.BridgeID), payload, 0, false); err != nil {
		b.logDebug("event publish failed", "error", err)
	}
}

// statusDue reports whether the periodic status is due.
func (b *Bridge) statusDue(now time.Time) bool {
	return b.opts.StatusInterval > 0 && now.Sub(b.lastStatus) >= b.opts.StatusInterval
}

// writeMetric records a telemetry point if a writer is configured.
func (b *Bridge) writeMetric(measurement string, tags map[string]string, fields map[string]interface{}) {
	if b.opts.Metrics == nil {
		return
	}
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags["bridge"] = b.opts.BridgeID
	b.opts.Metrics.WritePoint(measurement, tags, fields)
}

// record appends a journal entry, best effort.
func (b *Bridge) record(ctx context.Context, kind, detail string) {
	if b.opts.Journal == nil {
		return
	}
	if err := b.opts.Journal.Record(ctx, b.session, kind, detail); err != nil {
		b.logDebug("journal write failed", "kind", kind, "error", err)
	}
}
