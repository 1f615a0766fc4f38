package jetbus

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	PublishStart EventType = "publish_start"
	PublishDone  EventType = "publish_done"
	ConsumeStart EventType = "consume_start"
	ConsumeDone  EventType = "consume_done"
	Ack          EventType = "ack"
	Nack         EventType = "nack"
	Error        EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	MessageID string
	EventName string
	Duration  time.Duration
	Err       error
}

// Metrics defines observable telemetry for the bus.
type Metrics struct {
	Published           uint64
	Consumed            uint64
	Acked               uint64
	Nacked              uint64
	Errors              uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates bus health for Kubernetes probes.
type HealthStatus struct {
	Status      string // "healthy", "degraded", "unhealthy"
	Metrics     Metrics
	Outstanding int
	Timestamp   time.Time
	Message     string
}
