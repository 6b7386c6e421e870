package server_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/deckflow/internal/config"
	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/server"
	"github.com/makeasinger/deckflow/internal/service"
	"github.com/makeasinger/deckflow/internal/session"
	ws "github.com/makeasinger/deckflow/internal/websocket"
	"github.com/makeasinger/deckflow/internal/worker"
)

// startServer serves the app on a loopback port with a live hub and an
// in-process generation worker.
func startServer(t *testing.T, stepDelay time.Duration) (string, *memoryPresentations) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	svc := newMemoryPresentations()
	hub := ws.NewHub(svc, nil)
	go hub.Run(ctx)

	gen := worker.NewGenerationWorker(svc, hub, stepDelay, nil)
	svc.run = func(jobID string) {
		svc.mu.Lock()
		job := *svc.jobs[jobID]
		svc.mu.Unlock()
		_ = gen.ProcessTask(ctx, generationTask(job))
	}

	app := server.New(server.Options{
		Presentations: svc,
		Hub:           hub,
		JWTSecret:     testJWTSecret,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()

	t.Cleanup(func() {
		cancel()
		svc.wg.Wait()
		_ = app.Shutdown()
	})
	return "http://" + ln.Addr().String(), svc
}

func generationTask(job model.Presentation) *asynq.Task {
	payload, _ := json.Marshal(model.GenerationPayload{
		PresentationID: job.ID,
		SlideCount:     job.SlideCount,
		Topic:          job.Topic,
	})
	return asynq.NewTask(service.TaskTypeGenerate, payload)
}

func clientConfig(baseURL, token string) *config.Config {
	return &config.Config{
		Client: config.ClientConfig{
			BaseURL:        baseURL,
			AuthToken:      token,
			RequestTimeout: 5 * time.Second,
		},
		Stream: config.StreamConfig{
			MaxAttempts:      3,
			BaseDelay:        10 * time.Millisecond,
			MaxDelay:         50 * time.Millisecond,
			CloseGrace:       20 * time.Millisecond,
			HandshakeTimeout: 2 * time.Second,
		},
	}
}

func waitFor(t *testing.T, s *session.Session, cond func(session.View) bool) session.View {
	t.Helper()
	var v session.View
	require.Eventually(t, func() bool {
		v = s.View()
		return cond(v)
	}, 10*time.Second, 10*time.Millisecond, "last view: phase=%s logs=%d slides=%d", v.Phase, len(v.Logs), len(v.Slides))
	return v
}

func TestSession_QueuedJobEndToEnd(t *testing.T) {
	baseURL, svc := startServer(t, 5*time.Millisecond)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseQueued, SlideCount: 3, Topic: "otters"})

	s := session.New(clientConfig(baseURL, authToken(t)), session.Deps{})
	defer s.Close()

	require.NoError(t, s.Initialize(context.Background(), "job-1"))

	v := waitFor(t, s, func(v session.View) bool { return v.Phase == model.PhaseCompleted })
	assert.Empty(t, v.Error)
	assert.Len(t, v.Logs, 5)
	require.Len(t, v.Slides, 3)
	for i, sl := range v.Slides {
		assert.Equal(t, i+1, sl.SlideNumber)
		assert.True(t, sl.IsComplete)
		require.NotNil(t, sl.HTMLContent)
		assert.Contains(t, *sl.HTMLContent, "otters")
	}
	assert.Equal(t, "otters", v.Metadata["topic"])

	waitFor(t, s, func(v session.View) bool { return !v.IsStreamConnected })
}

func TestSession_ProcessingJobCatchesUp(t *testing.T) {
	baseURL, svc := startServer(t, 0)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseQueued, SlideCount: 2})

	// run the job to the end server side, then pretend it is still running
	svc.run("job-1")
	_, err := svc.setStatus("job-1", model.PhaseProcessing, nil)
	require.NoError(t, err)

	s := session.New(clientConfig(baseURL, authToken(t)), session.Deps{})
	defer s.Close()
	require.NoError(t, s.Initialize(context.Background(), "job-1"))

	// history plus the replayed backlog must not duplicate anything
	v := waitFor(t, s, func(v session.View) bool { return v.Phase == model.PhaseCompleted })
	assert.Len(t, v.Logs, 4)
	assert.Len(t, v.Slides, 2)
}

func TestSession_CompletedJobLoadsHistoryOnly(t *testing.T) {
	baseURL, svc := startServer(t, 0)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseQueued, SlideCount: 1})
	svc.run("job-1")

	s := session.New(clientConfig(baseURL, authToken(t)), session.Deps{})
	defer s.Close()
	require.NoError(t, s.Initialize(context.Background(), "job-1"))

	v := s.View()
	assert.Equal(t, model.PhaseCompleted, v.Phase)
	assert.Len(t, v.Logs, 3)
	assert.False(t, v.IsStreamConnected)
}

func TestSession_UnknownJobFails(t *testing.T) {
	baseURL, _ := startServer(t, 0)

	s := session.New(clientConfig(baseURL, authToken(t)), session.Deps{})
	defer s.Close()

	err := s.Initialize(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrTransport)
	v := s.View()
	assert.Equal(t, model.PhaseFailed, v.Phase)
	assert.Contains(t, v.Error, "404")
}
