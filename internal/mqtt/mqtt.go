// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// Topic is the MQTT topic for watering session transitions.
const Topic = "irrigation/watering/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "irrigation/watering/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a watering transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN", "HEARTBEAT", "OFFLINE", "RECONNECTED"
	Reason     string // e.g., "SIGTERM" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Watering WateringPayload `json:"watering"`
}

// WateringPayload contains the transition details.
type WateringPayload struct {
	Timestamp       string `json:"timestamp"`
	Event           string `json:"event"`
	EntryID         string `json:"entry_id"`
	EntryTime       string `json:"entry_time"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// FormatPayload creates the JSON payload for a watering transition.
// The timestamp keeps the event's own zone.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Watering: WateringPayload{
			Timestamp:       event.Timestamp.Format(time.RFC3339),
			Event:           string(event.Type),
			EntryID:         event.EntryID,
			EntryTime:       event.EntryTime.String(),
			DurationSeconds: int64(event.Duration / time.Second),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is used for simple events (LWT, RECONNECTED) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is registered as the broker's last will on the system topic.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "connection lost"}})
	return data
}
