package live

import (
	"encoding/json"

	"github.com/tracksync/tracksync/internal/model"
)

type EventType string

const (
	EventLog      EventType = "log"
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventStats    EventType = "stats"
)

// Event is a single push message. Only the fields of its Type are encoded.
type Event struct {
	Type     EventType
	Line     string
	Status   string
	Error    string
	Progress Progress
	Stats    model.Counts
}

func LogEvent(line string) Event {
	return Event{Type: EventLog, Line: line}
}

func StatusEvent(status, errMsg string) Event {
	return Event{Type: EventStatus, Status: status, Error: errMsg}
}

func ProgressEvent(p Progress) Event {
	return Event{Type: EventProgress, Progress: p}
}

func StatsEvent(c model.Counts) Event {
	return Event{Type: EventStats, Stats: c}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventLog:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Line string    `json:"line"`
		}{e.Type, e.Line})
	case EventStatus:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Status string    `json:"status"`
			Error  string    `json:"error,omitempty"`
		}{e.Type, e.Status, e.Error})
	case EventProgress:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Progress
		}{e.Type, e.Progress})
	case EventStats:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			model.Counts
		}{e.Type, e.Stats})
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
	}{e.Type})
}
