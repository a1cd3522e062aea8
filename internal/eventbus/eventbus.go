// Package eventbus mirrors TelemetryBroadcaster events onto Kafka topics for
// external consumers. Purely additive — the in-process broadcaster remains
// the source of truth.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/dronefleet/fleetctl/internal/supervisor"
	"github.com/dronefleet/fleetctl/internal/telemetry"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Topic names for the two Kafka streams this producer writes.
const (
	DroneEventsTopic = "drone-events"
	AlertEventsTopic = "alert-events"
)

// EventType names the wire event using a dotted taxonomy.
type EventType string

const (
	EventDroneStateChanged  EventType = "drone.status.changed"
	EventDroneTaskCompleted EventType = "drone.task.completed"
	EventAlertSafety        EventType = "alert.safety.violation"
)

// Event is the JSON envelope published to Kafka.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Config carries the broker list and producer tunables.
type Config struct {
	Brokers          []string
	CommitInterval   time.Duration
	CompressionCodec string
}

func DefaultConfig() Config {
	return Config{Brokers: []string{"localhost:9092"}, CommitInterval: time.Second, CompressionCodec: "snappy"}
}

func (c Config) compression() kafkago.Compression {
	switch c.CompressionCodec {
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}

// Publisher writes mirrored events to Kafka, implementing
// supervisor.EventSink so it can sit alongside the TelemetryBroadcaster as
// a second subscriber to supervisor events.
type Publisher struct {
	writer   *kafkago.Writer
	registry telemetry.Registry
	logger   *logger.Logger
}

func NewPublisher(cfg Config, registry telemetry.Registry, log *logger.Logger) *Publisher {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		Compression:  cfg.compression(),
		BatchTimeout: cfg.CommitInterval,
		Async:        true, // event mirroring is best-effort, never blocks the supervisor
	}
	return &Publisher{writer: writer, registry: registry, logger: log}
}

// Publish implements supervisor.EventSink.
func (p *Publisher) Publish(e supervisor.Event) {
	topic := DroneEventsTopic
	evtType := EventDroneStateChanged
	switch e.Kind {
	case supervisor.EventTaskCompleted:
		evtType = EventDroneTaskCompleted
	case supervisor.EventSafetyViolation:
		topic = AlertEventsTopic
		evtType = EventAlertSafety
	}

	data := map[string]interface{}{"drone_id": string(e.DroneID), "detail": e.Detail}
	if rec, ok := p.registry.All()[e.DroneID]; ok {
		data["connection_state"] = string(rec.ConnectionState)
		data["flight_state"] = string(rec.FlightState)
		data["battery"] = rec.Battery
	}

	evt := Event{
		ID:        fmt.Sprintf("%s-%d", e.DroneID, e.At.UnixNano()),
		Type:      evtType,
		Source:    "fleetctl",
		Timestamp: e.At,
		Data:      data,
	}
	p.send(topic, string(e.DroneID), evt)
}

func (p *Publisher) send(topic, key string, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WithError(err).Error("eventbus: failed to marshal event")
		return
	}
	msg := kafkago.Message{Topic: topic, Key: []byte(key), Value: payload, Time: time.Now()}
	if err := p.writer.WriteMessages(context.Background(), msg); err != nil {
		p.logger.WithError(err).WithField("topic", topic).Warn("eventbus: failed to publish event")
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
