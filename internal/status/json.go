package status

import (
	"math"
	"time"

	"github.com/goccy/go-json"
)

// DeviceStatus is the body of GET /status polled by the valve controller.
// Duracao, Restante and Inicio are present only while watering.
type DeviceStatus struct {
	Regar     bool   `json:"regar"`
	Duracao   int    `json:"duracao,omitempty"`
	Restante  int    `json:"restante,omitempty"`
	Inicio    string `json:"inicio,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Device builds the device view of snap.
func Device(snap Snapshot) DeviceStatus {
	ds := DeviceStatus{Timestamp: snap.Now.Format(time.RFC3339)}
	if !snap.Watering() {
		return ds
	}
	ds.Regar = true
	ds.Duracao = int(snap.Session.Duration / time.Second)
	ds.Restante = ceilSeconds(snap.Remaining())
	ds.Inicio = snap.Session.StartedAt.In(snap.Now.Location()).Format(time.RFC3339)
	return ds
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Watering      bool         `json:"watering"`
	Session       *SessionJSON `json:"session,omitempty"`
	LastCompleted string       `json:"last_completed,omitempty"`
	ValveOpen     bool         `json:"valve_open"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastTick      string       `json:"last_tick,omitempty"`
	Store         StoreJSON    `json:"store"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Config        ConfigJSON   `json:"config"`
}

// SessionJSON describes the running session.
type SessionJSON struct {
	EntryID          string `json:"entry_id"`
	EntryTime        string `json:"entry_time"`
	DurationSeconds  int64  `json:"duration_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
	StartedAt        string `json:"started_at"`
	EndsAt           string `json:"ends_at"`
}

// StoreJSON reports schedule store health.
type StoreJSON struct {
	Healthy   bool   `json:"healthy"`
	Driver    string `json:"driver"`
	LastError string `json:"last_error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of session counters.
type CountsJSON struct {
	Started    int `json:"started"`
	Completed  int `json:"completed"`
	Suppressed int `json:"suppressed"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Timezone     string `json:"timezone"`
	PollSchedule string `json:"poll_schedule"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	Listen       string `json:"listen"`
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	loc := snap.Now.Location()
	inner := StatusInner{
		State:         "IDLE",
		Watering:      snap.Watering(),
		ValveOpen:     snap.ValveOpen,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime, loc),
		Timestamp:     snap.Now.Format(time.RFC3339),
		LastTick:      formatTime(snap.LastTick, loc),
		Store: StoreJSON{
			Healthy:   snap.StoreHealthy,
			Driver:    snap.Config.StoreDriver,
			LastError: snap.LastError,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Started:    snap.Counts.Started,
			Completed:  snap.Counts.Completed,
			Suppressed: snap.Counts.Suppressed,
		},
		Config: ConfigJSON{
			Timezone:     snap.Config.Timezone,
			PollSchedule: snap.Config.PollSchedule,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			Broker:       snap.Config.Broker,
			Listen:       snap.Config.Listen,
		},
	}

	if inner.Watering {
		s := snap.Session
		inner.State = "ACTIVE"
		inner.Session = &SessionJSON{
			EntryID:          s.EntryID,
			EntryTime:        s.EntryTime.String(),
			DurationSeconds:  int64(s.Duration / time.Second),
			RemainingSeconds: ceilSeconds(snap.Remaining()),
			StartedAt:        formatTime(s.StartedAt, loc),
			EndsAt:           formatTime(s.EndsAt, loc),
		}
	}
	if snap.Session.Completed {
		inner.LastCompleted = formatTime(snap.Session.CompletedAt, loc)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
