package model

import "time"

// LogEntry is one unit of narration from a generation worker.
type LogEntry struct {
	ID         string `json:"id"`
	Author     string `json:"author"`
	Timestamp  string `json:"timestamp"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// Key returns the identity of the entry: the explicit ID when present,
// otherwise author and timestamp joined.
func (e LogEntry) Key() string {
	return LogKey(e.ID, e.Author, e.Timestamp)
}

// LogKey is the single place the id fallback rule lives.
func LogKey(id, author, timestamp string) string {
	if id != "" {
		return id
	}
	return author + "@" + timestamp
}

// SlideRecord is one generated slide, identified by SlideNumber.
type SlideRecord struct {
	SlideNumber int     `json:"slide_number" validate:"min=1"`
	Thinking    *string `json:"thinking,omitempty"`
	HTMLContent *string `json:"html_content,omitempty"`
	IsComplete  bool    `json:"is_complete"`
}

// Metadata is free-form session data, replaced wholesale on receipt.
type Metadata map[string]any

// State is the snapshot held by a state store.
type State struct {
	JobID    string        `json:"job_id,omitempty"`
	Phase    Phase         `json:"phase"`
	Error    string        `json:"error,omitempty"`
	Logs     []LogEntry    `json:"logs"`
	Slides   []SlideRecord `json:"slides"`
	Metadata Metadata      `json:"metadata,omitempty"`
}

// Clone returns a deep enough copy for readers: slices and the metadata
// map are not shared with the receiver.
func (s State) Clone() State {
	out := State{JobID: s.JobID, Phase: s.Phase, Error: s.Error}
	if s.Logs != nil {
		out.Logs = append([]LogEntry(nil), s.Logs...)
	}
	if s.Slides != nil {
		out.Slides = append([]SlideRecord(nil), s.Slides...)
	}
	if s.Metadata != nil {
		out.Metadata = make(Metadata, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// FindLog returns the index of the entry with the given key, or -1.
func (s State) FindLog(key string) int {
	for i, e := range s.Logs {
		if e.Key() == key {
			return i
		}
	}
	return -1
}

// FindSlide returns the index of the record for slideNumber, or -1.
func (s State) FindSlide(slideNumber int) int {
	for i, sl := range s.Slides {
		if sl.SlideNumber == slideNumber {
			return i
		}
	}
	return -1
}

// StatusResponse is returned by GET /presentation-status/{jobId}
type StatusResponse struct {
	PID    string `json:"p_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StartResponse acknowledges POST /start-presentation/{jobId}
type StartResponse struct {
	PID    string `json:"p_id"`
	Status Phase  `json:"status"`
}

// HistoryResponse is returned by GET /logs?p_id={jobId}
type HistoryResponse struct {
	PID    string        `json:"p_id" validate:"required"`
	Status string        `json:"status" validate:"required"`
	Logs   []AgentOutput `json:"logs"`
	Slides []SlideRecord `json:"slides"`
}

// Presentation is the server-side job record.
type Presentation struct {
	ID          string     `json:"id"`
	Status      Phase      `json:"status"`
	Error       *string    `json:"error,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	SlideCount  int        `json:"slideCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// GenerationPayload is the task payload handed to the generation worker.
type GenerationPayload struct {
	PresentationID string `json:"presentationId"`
	SlideCount     int    `json:"slideCount"`
	Topic          string `json:"topic,omitempty"`
}
