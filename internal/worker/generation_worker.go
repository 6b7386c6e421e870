package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
)

// JobStore persists job state and emitted records.
type JobStore interface {
	MarkProcessing(ctx context.Context, jobID string) (*model.Presentation, error)
	AppendEvent(ctx context.Context, jobID string, out model.AgentOutput) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, msg string) error
}

// Broadcaster pushes records to live subscribers.
type Broadcaster interface {
	BroadcastOutput(jobID string, out model.AgentOutput)
}

// GenerationWorker processes presentation generation jobs. The deck it
// produces is simulated; what matters is the event sequence it emits.
type GenerationWorker struct {
	store     JobStore
	hub       Broadcaster
	stepDelay time.Duration
	logger    *zap.Logger
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(store JobStore, hub Broadcaster, stepDelay time.Duration, logger *zap.Logger) *GenerationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationWorker{
		store:     store,
		hub:       hub,
		stepDelay: stepDelay,
		logger:    logger,
	}
}

// ProcessTask handles generation task processing
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal generation payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.PresentationID
	log := w.logger.With(zap.String("job_id", jobID))
	log.Info("starting generation job", zap.Int("slides", payload.SlideCount))

	if _, err := w.store.MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	if err := w.generate(ctx, jobID, payload); err != nil {
		msg := "generation interrupted"
		if ctx.Err() == nil {
			msg = err.Error()
		}
		w.failJob(jobID, msg)
		return err
	}

	if err := w.store.CompleteJob(ctx, jobID); err != nil {
		w.failJob(jobID, "failed to save result")
		return err
	}
	w.emitTerminal(jobID, model.AgentOutput{Type: model.OutputTypeTerminal, Status: string(model.PhaseCompleted)})

	log.Info("generation job completed")
	return nil
}

func (w *GenerationWorker) generate(ctx context.Context, jobID string, payload model.GenerationPayload) error {
	topic := payload.Topic
	if topic == "" {
		topic = "untitled deck"
	}

	steps := []model.AgentOutput{
		{
			Type:      model.OutputTypeLog,
			ID:        uuid.New().String(),
			Author:    "planner",
			Timestamp: now(),
			Content:   fmt.Sprintf("Outlining %d slides on %q", payload.SlideCount, topic),
		},
		{
			Type:      model.OutputTypeLogMetadata,
			ID:        uuid.New().String(),
			Author:    "planner",
			Timestamp: now(),
			Content:   "Outline ready",
			Metadata: model.Metadata{
				"topic":       topic,
				"slide_count": payload.SlideCount,
			},
		},
	}
	for _, out := range steps {
		if err := w.step(ctx, jobID, out); err != nil {
			return err
		}
	}

	for n := 1; n <= payload.SlideCount; n++ {
		progressID := fmt.Sprintf("designer-%d", n)
		slide := n
		thinking := fmt.Sprintf("Slide %d should cover part %d of %s.", n, n, topic)
		html := fmt.Sprintf("<section><h1>%s</h1><p>Part %d</p></section>", topic, n)

		for _, out := range []model.AgentOutput{
			{
				Type:      model.OutputTypeWorkerProgress,
				ID:        progressID,
				Author:    "designer",
				Timestamp: now(),
				Content:   fmt.Sprintf("Drafting slide %d", n),
			},
			{Type: model.OutputTypeSlide, SlideNumber: &slide, Thinking: &thinking},
			{Type: model.OutputTypeSlide, SlideNumber: &slide, HTMLContent: &html, IsComplete: true},
			{
				Type:       model.OutputTypeWorkerProgress,
				ID:         progressID,
				Author:     "designer",
				Timestamp:  now(),
				Content:    fmt.Sprintf("Slide %d done", n),
				IsComplete: true,
			},
		} {
			if err := w.step(ctx, jobID, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// step persists and broadcasts out, then waits the configured delay.
func (w *GenerationWorker) step(ctx context.Context, jobID string, out model.AgentOutput) error {
	select {
	case <-ctx.Done():
		w.logger.Info("generation job cancelled", zap.String("job_id", jobID))
		return ctx.Err()
	default:
	}

	if err := w.store.AppendEvent(ctx, jobID, out); err != nil {
		return err
	}
	w.hub.BroadcastOutput(jobID, out)

	if w.stepDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *GenerationWorker) failJob(jobID, errMsg string) {
	// the task context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.FailJob(ctx, jobID, errMsg); err != nil {
		w.logger.Error("failed to mark job as failed", zap.String("job_id", jobID), zap.Error(err))
	}
	w.emitTerminalCtx(ctx, jobID, model.AgentOutput{
		Type:   model.OutputTypeTerminal,
		Status: string(model.PhaseFailed),
		Error:  errMsg,
	})
}

func (w *GenerationWorker) emitTerminal(jobID string, out model.AgentOutput) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.emitTerminalCtx(ctx, jobID, out)
}

func (w *GenerationWorker) emitTerminalCtx(ctx context.Context, jobID string, out model.AgentOutput) {
	if err := w.store.AppendEvent(ctx, jobID, out); err != nil {
		w.logger.Warn("failed to persist terminal record", zap.String("job_id", jobID), zap.Error(err))
	}
	w.hub.BroadcastOutput(jobID, out)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
