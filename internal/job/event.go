package job

import (
	"encoding/json"
	"time"
)

// EventKind discriminates live update events.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventLog      EventKind = "log"
	EventComplete EventKind = "complete"
)

// LogLevel classifies a host-scoped log line.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LiveEvent is one ephemeral update on a job's live channel. Events are
// not persisted; observers that disconnect resynchronize from the stored
// job and host-result state.
type LiveEvent struct {
	Kind    EventKind
	Status  Status    // status and complete events
	TS      time.Time // log events
	Level   LogLevel
	Host    string
	Message string
}

// StatusEvent builds a status event carrying the new aggregate job status.
func StatusEvent(status Status) LiveEvent {
	return LiveEvent{Kind: EventStatus, Status: status}
}

// CompleteEvent builds the terminal event, emitted exactly once per job.
func CompleteEvent(status Status) LiveEvent {
	return LiveEvent{Kind: EventComplete, Status: status}
}

// LogEvent builds a host-scoped log line event.
func LogEvent(level LogLevel, host, message string) LiveEvent {
	return LiveEvent{Kind: EventLog, TS: time.Now().UTC(), Level: level, Host: host, Message: message}
}

type statusWire struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
}

type logWire struct {
	Type    string `json:"type"`
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Host    string `json:"host,omitempty"`
	Message string `json:"message"`
}

// MarshalJSON renders the transport shape consumed by observers:
//
//	{"type":"status","status":<status>}
//	{"type":"log","ts":<ISO8601>,"level":...,"host":...,"message":...}
//	{"type":"complete","status":<terminal status>}
func (e LiveEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == EventLog {
		return json.Marshal(logWire{
			Type:    string(EventLog),
			TS:      e.TS.Format(time.RFC3339Nano),
			Level:   string(e.Level),
			Host:    e.Host,
			Message: e.Message,
		})
	}
	return json.Marshal(statusWire{Type: string(e.Kind), Status: e.Status})
}
