// Package history fetches the snapshot of everything that happened before
// the client attached and normalizes it into live-store shape.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/parser"
)

var validate = validator.New()

// Fetcher returns the raw history payload for a job.
type Fetcher interface {
	FetchHistory(ctx context.Context, jobID string) ([]byte, error)
}

// Snapshot is a normalized history payload.
type Snapshot struct {
	JobID    string
	Status   model.Phase
	Logs     []model.LogEntry
	Slides   []model.SlideRecord
	Metadata model.Metadata
	// Dropped counts records that failed to parse.
	Dropped int
}

// Loader loads and normalizes history snapshots.
type Loader struct {
	fetcher Fetcher
	logger  *zap.Logger
}

func NewLoader(fetcher Fetcher, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, logger: logger}
}

// Load fetches the snapshot for jobID. Transport failures wrap
// model.ErrTransport, shape failures model.ErrParse.
func (l *Loader) Load(ctx context.Context, jobID string) (*Snapshot, error) {
	raw, err := l.fetcher.FetchHistory(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", jobID, err)
	}

	snap, err := Normalize(raw, jobID)
	if err != nil {
		return nil, err
	}
	if snap.Dropped > 0 {
		l.logger.Warn("dropped malformed history records",
			zap.String("job_id", jobID), zap.Int("dropped", snap.Dropped))
	}
	return snap, nil
}

// Normalize validates raw and folds every record through the event parser,
// so identities match exactly what live events will resolve to. Individual
// malformed records are dropped and counted.
func Normalize(raw []byte, jobID string) (*Snapshot, error) {
	var resp model.HistoryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode history: %v", model.ErrParse, err)
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, fmt.Errorf("%w: invalid history: %v", model.ErrParse, err)
	}
	if resp.PID != jobID {
		return nil, fmt.Errorf("%w: history for %q, want %q", model.ErrParse, resp.PID, jobID)
	}
	status, err := model.ParsePhase(resp.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	snap := &Snapshot{JobID: jobID, Status: status}
	var state model.State

	fold := func(out model.AgentOutput) {
		muts, err := parser.ParseOutput(out, state)
		if err != nil {
			snap.Dropped++
			return
		}
		for _, m := range muts {
			switch m.Kind {
			case parser.KindSetPhase, parser.KindTerminal:
				// the snapshot's status field is authoritative
				continue
			}
			parser.Apply(&state, m)
		}
	}

	for _, out := range resp.Logs {
		fold(out)
	}
	for _, sl := range resp.Slides {
		if err := validate.Struct(&sl); err != nil {
			snap.Dropped++
			continue
		}
		n := sl.SlideNumber
		fold(model.AgentOutput{
			Type:        model.OutputTypeSlide,
			SlideNumber: &n,
			Thinking:    sl.Thinking,
			HTMLContent: sl.HTMLContent,
			IsComplete:  sl.IsComplete,
		})
	}

	snap.Logs = state.Logs
	snap.Slides = state.Slides
	snap.Metadata = state.Metadata
	return snap, nil
}

// ApplyTo merges the snapshot into st. Records st already holds win over
// the snapshot's copy of the same identity; metadata is only filled in
// when st has none.
func (s *Snapshot) ApplyTo(st *model.State) {
	for _, e := range s.Logs {
		if st.FindLog(e.Key()) < 0 {
			st.Logs = append(st.Logs, e)
		}
	}
	for _, sl := range s.Slides {
		if st.FindSlide(sl.SlideNumber) < 0 {
			st.Slides = append(st.Slides, sl)
		}
	}
	if st.Metadata == nil && s.Metadata != nil {
		st.Metadata = make(model.Metadata, len(s.Metadata))
		for k, v := range s.Metadata {
			st.Metadata[k] = v
		}
	}
}
