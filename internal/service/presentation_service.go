package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
)

// TaskTypeGenerate is the asynq task that runs one presentation job.
const TaskTypeGenerate = "presentation:generate"

// QueuePresentations is the asynq queue generation tasks are enqueued on.
const QueuePresentations = "presentations"

const jobTTL = 24 * time.Hour

var (
	ErrJobNotFound = errors.New("presentation not found")
	ErrJobFinished = errors.New("presentation already finished")
)

// PresentationService owns presentation job records and their event
// history in redis.
type PresentationService struct {
	redis         *redis.Client
	asynqClient   *asynq.Client
	defaultSlides int
	logger        *zap.Logger
}

// NewPresentationService creates the service. defaultSlides is used when a
// create request does not name a slide count.
func NewPresentationService(redisClient *redis.Client, asynqClient *asynq.Client, defaultSlides int, logger *zap.Logger) *PresentationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultSlides <= 0 {
		defaultSlides = 5
	}
	return &PresentationService{
		redis:         redisClient,
		asynqClient:   asynqClient,
		defaultSlides: defaultSlides,
		logger:        logger,
	}
}

// Create registers a queued presentation job. Nothing runs until Start.
func (s *PresentationService) Create(ctx context.Context, req *model.CreatePresentationRequest) (*model.Presentation, error) {
	slides := req.SlideCount
	if slides == 0 {
		slides = s.defaultSlides
	}
	job := &model.Presentation{
		ID:         uuid.New().String(),
		Status:     model.PhaseQueued,
		Topic:      req.Topic,
		SlideCount: slides,
		CreatedAt:  time.Now(),
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save presentation: %w", err)
	}
	return job, nil
}

// Start enqueues the generation task of a queued job. Starting a job that
// is already enqueued or running only acknowledges it.
func (s *PresentationService) Start(ctx context.Context, jobID string) (*model.StartResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, ErrJobFinished
	}
	if job.Status != model.PhaseQueued {
		return &model.StartResponse{PID: job.ID, Status: job.Status}, nil
	}

	payload, err := json.Marshal(model.GenerationPayload{
		PresentationID: job.ID,
		SlideCount:     job.SlideCount,
		Topic:          job.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeGenerate, payload),
		asynq.Queue(QueuePresentations),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		s.logger.Debug("generation task already enqueued", zap.String("job_id", job.ID))
	case err != nil:
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	default:
		s.logger.Info("generation task enqueued", zap.String("job_id", job.ID))
	}

	return &model.StartResponse{PID: job.ID, Status: job.Status}, nil
}

// GetStatus returns the current phase of a job.
func (s *PresentationService) GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := &model.StatusResponse{PID: job.ID, Status: string(job.Status)}
	if job.Error != nil {
		resp.Error = *job.Error
	}
	return resp, nil
}

// GetHistory returns everything the job emitted so far: narration and
// progress records in order, and one merged record per slide.
func (s *PresentationService) GetHistory(ctx context.Context, jobID string) (*model.HistoryResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	events, err := s.Events(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.HistoryResponse{
		PID:    job.ID,
		Status: string(job.Status),
		Logs:   []model.AgentOutput{},
		Slides: []model.SlideRecord{},
	}
	slideIdx := make(map[int]int)
	for _, ev := range events {
		switch ev.Type {
		case model.OutputTypeTerminal:
			continue
		case model.OutputTypeSlide:
			if ev.SlideNumber == nil {
				continue
			}
			n := *ev.SlideNumber
			i, ok := slideIdx[n]
			if !ok {
				slideIdx[n] = len(resp.Slides)
				resp.Slides = append(resp.Slides, model.SlideRecord{SlideNumber: n})
				i = slideIdx[n]
			}
			sl := &resp.Slides[i]
			if ev.Thinking != nil {
				sl.Thinking = ev.Thinking
			}
			if ev.HTMLContent != nil {
				sl.HTMLContent = ev.HTMLContent
			}
			sl.IsComplete = sl.IsComplete || ev.IsComplete
		default:
			resp.Logs = append(resp.Logs, ev)
		}
	}
	return resp, nil
}

// AppendEvent persists one emitted record to the job's history.
func (s *PresentationService) AppendEvent(ctx context.Context, jobID string, out model.AgentOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	key := eventsKey(jobID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Events returns the job's persisted records in emission order.
func (s *PresentationService) Events(ctx context.Context, jobID string) ([]model.AgentOutput, error) {
	raw, err := s.redis.LRange(ctx, eventsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	events := make([]model.AgentOutput, 0, len(raw))
	for _, r := range raw {
		var out model.AgentOutput
		if err := json.Unmarshal([]byte(r), &out); err != nil {
			s.logger.Warn("skipping corrupt event record", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		events = append(events, out)
	}
	return events, nil
}

// MarkProcessing records that a worker picked the job up.
func (s *PresentationService) MarkProcessing(ctx context.Context, jobID string) (*model.Presentation, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job.Status = model.PhaseProcessing
	job.StartedAt = &now
	return job, s.saveJob(ctx, job)
}

// CompleteJob marks a job completed.
func (s *PresentationService) CompleteJob(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, model.PhaseCompleted, nil)
}

// FailJob marks a job failed with msg.
func (s *PresentationService) FailJob(ctx context.Context, jobID, msg string) error {
	return s.finish(ctx, jobID, model.PhaseFailed, &msg)
}

func (s *PresentationService) finish(ctx context.Context, jobID string, phase model.Phase, msg *string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	job.Status = phase
	job.Error = msg
	job.CompletedAt = &now
	return s.saveJob(ctx, job)
}

// Helper methods

func (s *PresentationService) saveJob(ctx context.Context, job *model.Presentation) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *PresentationService) getJob(ctx context.Context, jobID string) (*model.Presentation, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Presentation
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("presentation:job:%s", jobID)
}

func eventsKey(jobID string) string {
	return fmt.Sprintf("presentation:events:%s", jobID)
}
