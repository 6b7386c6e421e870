package model

import "fmt"

// Phase is the lifecycle phase of a presentation job.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

var ValidPhases = []Phase{
	PhaseQueued, PhaseProcessing, PhaseCompleted, PhaseFailed,
}

// ParsePhase maps a status string reported by the server to a Phase.
// Unknown values are an error, never a silent default.
func ParsePhase(s string) (Phase, error) {
	for _, p := range ValidPhases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unrecognized presentation status %q", s)
}

// Terminal reports whether no further progress is expected.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// AllowsStream reports whether a live channel may be held open in this phase.
func (p Phase) AllowsStream() bool {
	return p == PhaseQueued || p == PhaseProcessing
}

// Agent output record types
const (
	OutputTypeLog            = "log"
	OutputTypeLogMetadata    = "log_metadata"
	OutputTypeWorkerProgress = "worker_progress"
	OutputTypeSlide          = "slide"
	OutputTypeTerminal       = "terminal"
)
