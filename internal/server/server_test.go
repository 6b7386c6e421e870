package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/deckflow/internal/middleware"
	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/server"
	"github.com/makeasinger/deckflow/internal/service"
	ws "github.com/makeasinger/deckflow/internal/websocket"
	"github.com/makeasinger/deckflow/internal/worker"
)

const testJWTSecret = "test-secret-for-server"

// memoryPresentations keeps jobs and events in process. Start runs the
// generation worker on its own goroutine instead of going through asynq.
type memoryPresentations struct {
	mu     sync.Mutex
	jobs   map[string]*model.Presentation
	events map[string][]model.AgentOutput

	run func(jobID string)
	wg  sync.WaitGroup
}

func newMemoryPresentations() *memoryPresentations {
	return &memoryPresentations{
		jobs:   make(map[string]*model.Presentation),
		events: make(map[string][]model.AgentOutput),
	}
}

func (m *memoryPresentations) add(job *model.Presentation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *memoryPresentations) Create(_ context.Context, req *model.CreatePresentationRequest) (*model.Presentation, error) {
	job := &model.Presentation{ID: uuid.New().String(), Status: model.PhaseQueued, SlideCount: req.SlideCount, Topic: req.Topic}
	m.add(job)
	return job, nil
}

func (m *memoryPresentations) Start(_ context.Context, jobID string) (*model.StartResponse, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil, service.ErrJobNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return nil, service.ErrJobFinished
	}
	status := job.Status
	m.mu.Unlock()

	if status == model.PhaseQueued && m.run != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(jobID)
		}()
	}
	return &model.StartResponse{PID: jobID, Status: status}, nil
}

func (m *memoryPresentations) GetStatus(_ context.Context, jobID string) (*model.StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	resp := &model.StatusResponse{PID: job.ID, Status: string(job.Status)}
	if job.Error != nil {
		resp.Error = *job.Error
	}
	return resp, nil
}

func (m *memoryPresentations) GetHistory(_ context.Context, jobID string) (*model.HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	resp := &model.HistoryResponse{PID: job.ID, Status: string(job.Status), Logs: []model.AgentOutput{}}
	for _, ev := range m.events[jobID] {
		if ev.Type != model.OutputTypeTerminal {
			resp.Logs = append(resp.Logs, ev)
		}
	}
	return resp, nil
}

func (m *memoryPresentations) Events(_ context.Context, jobID string) ([]model.AgentOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AgentOutput(nil), m.events[jobID]...), nil
}

func (m *memoryPresentations) MarkProcessing(_ context.Context, jobID string) (*model.Presentation, error) {
	return m.setStatus(jobID, model.PhaseProcessing, nil)
}

func (m *memoryPresentations) AppendEvent(_ context.Context, jobID string, out model.AgentOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[jobID] = append(m.events[jobID], out)
	return nil
}

func (m *memoryPresentations) CompleteJob(_ context.Context, jobID string) error {
	_, err := m.setStatus(jobID, model.PhaseCompleted, nil)
	return err
}

func (m *memoryPresentations) FailJob(_ context.Context, jobID, msg string) error {
	_, err := m.setStatus(jobID, model.PhaseFailed, &msg)
	return err
}

func (m *memoryPresentations) setStatus(jobID string, phase model.Phase, msg *string) (*model.Presentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	job.Status = phase
	job.Error = msg
	return job, nil
}

var (
	_ worker.JobStore = (*memoryPresentations)(nil)
	_ ws.EventSource  = (*memoryPresentations)(nil)
)

func setupApp(t *testing.T) (*fiber.App, *memoryPresentations) {
	t.Helper()
	svc := newMemoryPresentations()
	app := server.New(server.Options{
		Presentations: svc,
		Hub:           ws.NewHub(svc, nil),
		JWTSecret:     testJWTSecret,
	})
	return app, svc
}

func authToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.NewAuthMiddleware(testJWTSecret).GenerateToken("test-client", time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, token string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	app, _ := setupApp(t)
	resp := doRequest(t, app, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", parseJSON(t, resp)["status"])
}

func TestAuth(t *testing.T) {
	app, svc := setupApp(t)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseQueued})

	resp := doRequest(t, app, http.MethodGet, "/presentation-status/job-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/presentation-status/job-1", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrong, err := middleware.NewAuthMiddleware("other-secret").GenerateToken("x", time.Hour)
	require.NoError(t, err)
	resp = doRequest(t, app, http.MethodGet, "/presentation-status/job-1", "", wrong)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// websocket handshakes may authenticate through the query string
	resp = doRequest(t, app, http.MethodGet, "/presentation-status/job-1?token="+authToken(t), "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndStatus(t *testing.T) {
	app, _ := setupApp(t)
	token := authToken(t)

	resp := doRequest(t, app, http.MethodPost, "/presentations", `{"slideCount": 3, "topic": "otters"}`, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := parseJSON(t, resp)
	id, _ := created["p_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "queued", created["status"])

	resp = doRequest(t, app, http.MethodGet, "/presentation-status/"+id, "", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := parseJSON(t, resp)
	assert.Equal(t, id, status["p_id"])
	assert.Equal(t, "queued", status["status"])
}

func TestCreate_InvalidBody(t *testing.T) {
	app, _ := setupApp(t)
	token := authToken(t)

	resp := doRequest(t, app, http.MethodPost, "/presentations", `{"slideCount": 500}`, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/presentations", `{`, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatus_NotFound(t *testing.T) {
	app, _ := setupApp(t)
	resp := doRequest(t, app, http.MethodGet, "/presentation-status/missing", "", authToken(t))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := parseJSON(t, resp)
	errBody, _ := body["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestStart(t *testing.T) {
	app, svc := setupApp(t)
	token := authToken(t)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseQueued})
	svc.add(&model.Presentation{ID: "job-2", Status: model.PhaseCompleted})

	resp := doRequest(t, app, http.MethodPost, "/start-presentation/job-1", "", token)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/start-presentation/job-2", "", token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, app, http.MethodPost, "/start-presentation/missing", "", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogs(t *testing.T) {
	app, svc := setupApp(t)
	token := authToken(t)
	svc.add(&model.Presentation{ID: "job-1", Status: model.PhaseProcessing})
	require.NoError(t, svc.AppendEvent(context.Background(), "job-1", model.AgentOutput{
		Type: model.OutputTypeLog, Author: "planner", Timestamp: "t1", Content: "outline",
	}))

	resp := doRequest(t, app, http.MethodGet, "/logs?p_id=job-1", "", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseJSON(t, resp)
	assert.Equal(t, "job-1", body["p_id"])
	assert.Equal(t, "processing", body["status"])
	logs, _ := body["logs"].([]interface{})
	assert.Len(t, logs, 1)

	resp = doRequest(t, app, http.MethodGet, "/logs", "", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/logs?p_id="+strings.Repeat("x", 200), "", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamRequiresUpgrade(t *testing.T) {
	app, _ := setupApp(t)
	resp := doRequest(t, app, http.MethodGet, "/ws/presentations/job-1", "", authToken(t))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
