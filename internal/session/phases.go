package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
)

const defaultFailureMessage = "presentation generation failed"

// handleQueued attaches to a job that has not started yet: it kicks the job
// off and opens the stream.
func (s *Session) handleQueued(ctx context.Context, t ticket, _ *model.StatusResponse) error {
	if !s.setPhase(t, model.PhaseQueued) {
		return nil
	}

	s.setLoading(t, 1)
	err := s.api.StartPresentation(ctx, t.jobID)
	s.setLoading(t, -1)
	if !s.current(t) {
		return nil
	}
	if err != nil {
		s.logger.Error("failed to start presentation", zap.String("job_id", t.jobID), zap.Error(err))
		s.fail(t, fmt.Sprintf("could not start presentation: %v", err))
		return fmt.Errorf("start presentation %s: %w", t.jobID, err)
	}

	return s.openStream(t)
}

// handleProcessing applies the backlog before any live event can reach the
// store, then opens the stream. A backlog reporting the job as finished
// means it ended after the status call, so no stream is opened.
func (s *Session) handleProcessing(ctx context.Context, t ticket, _ *model.StatusResponse) error {
	if !s.setPhase(t, model.PhaseProcessing) {
		return nil
	}

	switch s.applyHistory(ctx, t) {
	case model.PhaseCompleted:
		s.logger.Info("presentation finished while attaching", zap.String("job_id", t.jobID))
		s.setPhase(t, model.PhaseCompleted)
		return nil
	case model.PhaseFailed:
		s.logger.Info("presentation failed while attaching", zap.String("job_id", t.jobID))
		s.fail(t, defaultFailureMessage)
		return nil
	}
	return s.openStream(t)
}

// handleCompleted marks the job completed and loads the final backlog; no
// stream is ever opened.
func (s *Session) handleCompleted(ctx context.Context, t ticket, _ *model.StatusResponse) error {
	if !s.setPhase(t, model.PhaseCompleted) {
		return nil
	}
	s.applyHistory(ctx, t)
	return nil
}

// handleFailedStatus surfaces a failure the server already reported.
func (s *Session) handleFailedStatus(_ context.Context, t ticket, status *model.StatusResponse) error {
	msg := status.Error
	if msg == "" {
		msg = defaultFailureMessage
	}
	s.fail(t, msg)
	return nil
}

// fail moves t's job to the failed phase: the stream is closed and pending
// timers are cancelled. Only an explicit Retry leaves this phase.
func (s *Session) fail(t ticket, msg string) {
	if msg == "" {
		msg = defaultFailureMessage
	}
	s.mu.Lock()
	if s.currentLocked(t) {
		s.stopTimersLocked()
		s.closeChannelLocked()
		s.events.Reset()
	}
	s.mu.Unlock()

	s.update(t, func(st *model.State) {
		st.Phase = model.PhaseFailed
		st.Error = msg
	})
}

func (s *Session) setPhase(t ticket, phase model.Phase) bool {
	return s.update(t, func(st *model.State) {
		st.Phase = phase
	})
}

// applyHistory merges the job's backlog into the store and returns the
// phase the backlog reports, or "" when nothing was applied. A failed load
// is logged and skipped: live updates matter more than a complete backlog.
func (s *Session) applyHistory(ctx context.Context, t ticket) model.Phase {
	log := s.logger.With(zap.String("job_id", t.jobID))

	s.setLoading(t, 1)
	snap, err := s.history.Load(ctx, t.jobID)
	s.setLoading(t, -1)
	if err != nil {
		if s.current(t) {
			log.Warn("history unavailable; continuing without backlog", zap.Error(err))
		}
		return ""
	}

	if !s.update(t, snap.ApplyTo) {
		log.Debug("discarding stale history")
		return ""
	}
	log.Debug("applied history",
		zap.String("status", string(snap.Status)),
		zap.Int("logs", len(snap.Logs)),
		zap.Int("slides", len(snap.Slides)),
		zap.Int("dropped", snap.Dropped))
	return snap.Status
}
