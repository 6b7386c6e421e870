package model

import "encoding/json"

// Stream event names
const (
	EventConnect     = "connect"
	EventConnected   = "connected"
	EventAgentOutput = "agent_output"
	EventDisconnect  = "disconnect"
	EventPing        = "ping"
	EventPong        = "pong"
)

// Envelope is the frame carried on the presentation stream.
type Envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AgentOutput is the payload of an agent_output event. It also appears
// verbatim in the logs array of the history snapshot.
type AgentOutput struct {
	Type        string   `json:"type" validate:"required,oneof=log log_metadata worker_progress slide terminal"`
	ID          string   `json:"id,omitempty"`
	Author      string   `json:"author,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Content     string   `json:"content,omitempty"`
	IsComplete  bool     `json:"is_complete,omitempty"`
	SlideNumber *int     `json:"slide_number,omitempty"`
	Thinking    *string  `json:"thinking,omitempty"`
	HTMLContent *string  `json:"html_content,omitempty"`
	Status      string   `json:"status,omitempty"`
	Error       string   `json:"error,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// NewEnvelope marshals data under the given event name.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
