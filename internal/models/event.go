package models

// EventType tags a push message.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// EventData is the payload of a push message. Results is set only for
// completed events and Error only for failed ones.
type EventData struct {
	StatusView
	Results []SubjectResult `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event is one message on a session's push channel.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

// EventFor builds the event matching the session's current status.
func EventFor(s Session) Event {
	data := EventData{StatusView: s.View()}
	switch s.Status {
	case StatusCompleted:
		data.Results = cloneResults(s.Results)
		return Event{Type: EventCompleted, Data: data}
	case StatusFailed:
		data.Error = s.Error
		return Event{Type: EventFailed, Data: data}
	default:
		return Event{Type: EventProgress, Data: data}
	}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
