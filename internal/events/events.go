package events

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-orm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-orm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-orm/internal/persistence"
)

// Websocket channels a Relay broadcasts on.
const (
	// ChannelEntityChanged carries one ChangeMessage per written row.
	ChannelEntityChanged = "entity.changed"

	// ChannelFlushCommitted carries one FlushSummary per committed flush.
	ChannelFlushCommitted = "flush.committed"
)

// ChangeMessage is the payload published for one committed change.
type ChangeMessage struct {
	Unit     string         `json:"unit"`
	Revision string         `json:"revision"`
	Actor    string         `json:"actor,omitempty"`
	Entity   string         `json:"entity"`
	ID       int64          `json:"id"`
	Op       persistence.Op `json:"op"`
	Values   map[string]any `json:"values,omitempty"`
	At       time.Time      `json:"at"`
}

// FlushSummary is the payload published once per committed flush.
type FlushSummary struct {
	Unit       string  `json:"unit"`
	SessionID  string  `json:"session_id"`
	Revision   string  `json:"revision"`
	Inserts    int     `json:"inserts"`
	Updates    int     `json:"updates"`
	Deletes    int     `json:"deletes"`
	DurationMS float64 `json:"duration_ms"`
}

// Messages splits a flush event into one message per change.
func Messages(ev persistence.FlushEvent) []ChangeMessage {
	out := make([]ChangeMessage, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		out = append(out, ChangeMessage{
			Unit:     ev.Unit,
			Revision: ev.Revision,
			Actor:    ev.Actor,
			Entity:   c.Entity,
			ID:       c.ID,
			Op:       c.Op,
			Values:   c.Values,
			At:       ev.At,
		})
	}
	return out
}

// Summarise counts the writes of a flush event.
func Summarise(ev persistence.FlushEvent) FlushSummary {
	s := FlushSummary{
		Unit:       ev.Unit,
		SessionID:  ev.SessionID,
		Revision:   ev.Revision,
		DurationMS: float64(ev.Duration.Microseconds()) / 1000,
	}
	for _, c := range ev.Changes {
		switch c.Op {
		case persistence.OpInsert:
			s.Inserts++
		case persistence.OpUpdate:
			s.Updates++
		case persistence.OpDelete:
			s.Deletes++
		}
	}
	return s
}

// JSONPublisher is the part of mqtt.Client the Publisher needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// Publisher announces committed changes over MQTT.
type Publisher struct {
	client JSONPublisher
	topics mqtt.Topics
	logger *logging.Logger
}

// NewPublisher creates a publisher. A nil logger discards output.
func NewPublisher(client JSONPublisher, topics mqtt.Topics, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{client: client, topics: topics, logger: logger.With("component", "events.mqtt")}
}

// OnFlush implements persistence.Listener.
func (p *Publisher) OnFlush(_ context.Context, ev persistence.FlushEvent) {
	for _, msg := range Messages(ev) {
		p.publish(p.topics.EntityChange(msg.Entity, string(msg.Op)), msg)
	}
	p.publish(p.topics.Flush(ev.Unit), Summarise(ev))
}

func (p *Publisher) publish(topic string, v any) {
	err := p.client.PublishJSON(topic, v)
	switch {
	case err == nil:
	case errors.Is(err, mqtt.ErrNotConnected):
		p.logger.Debug("change not published, broker offline", "topic", topic)
	default:
		p.logger.Warn("publishing change failed", "topic", topic, "error", err)
	}
}

// MetricsWriter is the part of influxdb.Client the FlushRecorder needs.
type MetricsWriter interface {
	WriteFlushMetric(m influxdb.FlushMetric)
}

// FlushRecorder writes flush statistics to InfluxDB.
type FlushRecorder struct {
	writer MetricsWriter
}

// NewFlushRecorder creates a recorder.
func NewFlushRecorder(writer MetricsWriter) *FlushRecorder {
	return &FlushRecorder{writer: writer}
}

// OnFlush implements persistence.Listener.
func (r *FlushRecorder) OnFlush(_ context.Context, ev persistence.FlushEvent) {
	s := Summarise(ev)
	r.writer.WriteFlushMetric(influxdb.FlushMetric{
		Unit:      ev.Unit,
		SessionID: ev.SessionID,
		Inserts:   s.Inserts,
		Updates:   s.Updates,
		Deletes:   s.Deletes,
		Duration:  ev.Duration,
		At:        ev.At,
		Changes:   countChanges(ev.Changes),
	})
}

// countChanges groups changes by entity type and operation, in order of
// first appearance.
func countChanges(changes []persistence.Change) []influxdb.ChangeCount {
	var counts []influxdb.ChangeCount
	index := make(map[[2]string]int)
	for _, c := range changes {
		key := [2]string{c.Entity, string(c.Op)}
		i, ok := index[key]
		if !ok {
			i = len(counts)
			index[key] = i
			counts = append(counts, influxdb.ChangeCount{Entity: c.Entity, Op: string(c.Op)})
		}
		counts[i].Count++
	}
	return counts
}

// Broadcaster is the part of the websocket hub the Relay needs.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Relay pushes committed changes to websocket subscribers.
type Relay struct {
	hub Broadcaster
}

// NewRelay creates a relay onto hub.
func NewRelay(hub Broadcaster) *Relay {
	return &Relay{hub: hub}
}

// OnFlush implements persistence.Listener.
func (r *Relay) OnFlush(_ context.Context, ev persistence.FlushEvent) {
	for _, msg := range Messages(ev) {
		r.hub.Broadcast(ChannelEntityChanged, msg)
	}
	r.hub.Broadcast(ChannelFlushCommitted, Summarise(ev))
}
