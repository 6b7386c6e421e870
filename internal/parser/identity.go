package parser

import (
	"fmt"

	"github.com/makeasinger/deckflow/internal/model"
)

// matchLog resolves which existing entry, if any, a record refers to.
//
//  1. explicit id equal to an entry's id
//  2. author and (non-empty) timestamp equal to an entry's
//  3. the author's in-progress entry
//
// Steps 1 and 2 make replays idempotent. Step 3 keeps incremental updates
// from one author on a single entry.
func matchLog(out model.AgentOutput, state model.State) int {
	if out.ID != "" {
		for i, e := range state.Logs {
			if e.ID == out.ID {
				return i
			}
		}
	}
	if out.Timestamp != "" {
		for i, e := range state.Logs {
			if e.Author == out.Author && e.Timestamp == out.Timestamp {
				return i
			}
		}
	}
	for i := len(state.Logs) - 1; i >= 0; i-- {
		e := state.Logs[i]
		if e.Author == out.Author && !e.IsComplete {
			return i
		}
	}
	return -1
}

func logMutation(out model.AgentOutput, state model.State) (Mutation, error) {
	if out.Author == "" {
		return Mutation{}, fmt.Errorf("%w: %s record without author", model.ErrParse, out.Type)
	}

	entry := model.LogEntry{
		ID:        model.LogKey(out.ID, out.Author, out.Timestamp),
		Author:    out.Author,
		Timestamp: out.Timestamp,
		Content:   out.Content,
		// narration records land whole; only worker progress streams in
		IsComplete: out.Type != model.OutputTypeWorkerProgress || out.IsComplete,
	}

	idx := matchLog(out, state)
	if idx < 0 {
		return Mutation{Kind: KindAppendLog, Log: entry}, nil
	}

	existing := state.Logs[idx]
	entry.ID = existing.ID
	if existing.IsComplete && !entry.IsComplete {
		entry.IsComplete = true
	}
	return Mutation{Kind: KindUpdateLog, Index: idx, Log: entry}, nil
}

func slideMutation(out model.AgentOutput, state model.State) (Mutation, error) {
	if out.SlideNumber == nil || *out.SlideNumber < 1 {
		return Mutation{}, fmt.Errorf("%w: slide record without a valid slide_number", model.ErrParse)
	}
	n := *out.SlideNumber

	idx := state.FindSlide(n)
	if idx < 0 {
		return Mutation{
			Kind:    KindCreateOrUpdateSlide,
			SlideOp: SlideCreate,
			Index:   -1,
			Slide: model.SlideRecord{
				SlideNumber: n,
				Thinking:    out.Thinking,
				HTMLContent: out.HTMLContent,
				IsComplete:  out.IsComplete,
			},
		}, nil
	}

	merged := state.Slides[idx]
	if out.Thinking != nil {
		merged.Thinking = out.Thinking
	}
	if out.HTMLContent != nil {
		merged.HTMLContent = out.HTMLContent
	}
	merged.IsComplete = merged.IsComplete || out.IsComplete
	return Mutation{Kind: KindCreateOrUpdateSlide, SlideOp: SlideUpdate, Index: idx, Slide: merged}, nil
}
