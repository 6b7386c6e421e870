package parser

import (
	"fmt"

	"github.com/makeasinger/deckflow/internal/model"
)

// Kind tags the variant carried by a Mutation.
type Kind int

const (
	KindAppendLog Kind = iota + 1
	KindUpdateLog
	KindCreateOrUpdateSlide
	KindSetMetadata
	KindSetPhase
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindAppendLog:
		return "append_log"
	case KindUpdateLog:
		return "update_log"
	case KindCreateOrUpdateSlide:
		return "create_or_update_slide"
	case KindSetMetadata:
		return "set_metadata"
	case KindSetPhase:
		return "set_phase"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SlideOp says whether a slide mutation creates a record or updates one.
type SlideOp int

const (
	SlideCreate SlideOp = iota + 1
	SlideUpdate
)

// Mutation is one typed change to the state store. Only the fields that
// belong to Kind are meaningful.
type Mutation struct {
	Kind Kind

	// Index of the entry or slide being updated.
	Index int

	Log      model.LogEntry
	Slide    model.SlideRecord
	SlideOp  SlideOp
	Metadata model.Metadata

	// Phase is the target of SetPhase and the final phase of Terminal.
	Phase model.Phase
	Error string
}

// Apply folds m into s. Slide creation for a number that already exists
// lands on the existing record, and out-of-range updates are ignored, so a
// stale mutation can never duplicate or corrupt a record.
func Apply(s *model.State, m Mutation) {
	switch m.Kind {
	case KindAppendLog:
		s.Logs = append(s.Logs, m.Log)
	case KindUpdateLog:
		if m.Index >= 0 && m.Index < len(s.Logs) {
			s.Logs[m.Index] = m.Log
		}
	case KindCreateOrUpdateSlide:
		idx := m.Index
		if m.SlideOp == SlideCreate {
			idx = s.FindSlide(m.Slide.SlideNumber)
		}
		switch {
		case idx < 0:
			s.Slides = append(s.Slides, m.Slide)
		case idx < len(s.Slides) && s.Slides[idx].SlideNumber == m.Slide.SlideNumber:
			s.Slides[idx] = m.Slide
		}
	case KindSetMetadata:
		s.Metadata = cloneMetadata(m.Metadata)
	case KindSetPhase:
		s.Phase = m.Phase
	case KindTerminal:
		s.Phase = m.Phase
		if m.Phase == model.PhaseFailed {
			s.Error = m.Error
		}
	}
}

func cloneMetadata(md model.Metadata) model.Metadata {
	if md == nil {
		return nil
	}
	out := make(model.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
