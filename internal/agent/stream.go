package agent

import "github.com/slyngg/adpilot/internal/tools"

// EventType identifies a stream event.
type EventType string

const (
	// EventToolStatus reports a tool call starting, finishing, or failing.
	EventToolStatus EventType = "tool_status"
	// EventChart carries a visualization spec produced by a tool.
	EventChart EventType = "chart"
	// EventText carries an incremental chunk of assistant text.
	EventText EventType = "text"
	// EventSuggestions offers follow-up replies after the final text.
	EventSuggestions EventType = "suggestions"
	// EventDone terminates a successful turn.
	EventDone EventType = "done"
	// EventError terminates a failed turn.
	EventError EventType = "error"
)

// Tool call status values for EventToolStatus.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Event is one entry in a turn's ordered stream. Exactly one of done
// or error ends the sequence; a client that disconnects gets a silent
// close instead.
type Event struct {
	Type EventType `json:"type"`

	// tool_status fields
	Tool    string `json:"tool,omitempty"`
	Status  string `json:"status,omitempty"`
	Summary string `json:"summary,omitempty"`

	// chart payload
	Chart *tools.ChartSpec `json:"chart,omitempty"`

	// text chunk
	Text string `json:"text,omitempty"`

	// suggestions payload
	Suggestions []string `json:"suggestions,omitempty"`

	// done payload
	ConversationID string `json:"conversation_id,omitempty"`

	// error payload
	Message string `json:"message,omitempty"`
}

// Emitter delivers events to the caller. Emit must make the event
// visible immediately (flush, not buffer); returning an error means
// the caller is gone and the turn should wind down.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event) error

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) error { return f(e) }
