package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/deckflow/internal/model"
)

type fetchFunc func(ctx context.Context, jobID string) ([]byte, error)

func (f fetchFunc) FetchHistory(ctx context.Context, jobID string) ([]byte, error) {
	return f(ctx, jobID)
}

const snapshotJSON = `{
	"p_id": "job-1",
	"status": "processing",
	"logs": [
		{"type": "log", "author": "planner", "timestamp": "t1", "content": "outline"},
		{"type": "log", "author": "planner", "timestamp": "t1", "content": "outline"},
		{"type": "worker_progress", "id": "w-1", "author": "designer", "timestamp": "t2", "content": "slide 1"},
		{"type": "worker_progress", "id": "w-1", "author": "designer", "timestamp": "t3", "content": "slide 1 and 2"},
		{"type": "log", "content": "no author"},
		{"type": "log_metadata", "author": "planner", "timestamp": "t4", "content": "deck", "metadata": {"deck": "d-9"}},
		{"type": "terminal", "status": "completed"}
	],
	"slides": [
		{"slide_number": 1, "thinking": "title", "is_complete": true},
		{"slide_number": 2, "thinking": "agenda"},
		{"slide_number": 2, "html_content": "<ul></ul>"},
		{"slide_number": 0}
	]
}`

func TestNormalize(t *testing.T) {
	snap, err := Normalize([]byte(snapshotJSON), "job-1")
	require.NoError(t, err)

	assert.Equal(t, model.PhaseProcessing, snap.Status)
	assert.Equal(t, 2, snap.Dropped)

	require.Len(t, snap.Logs, 3)
	assert.Equal(t, "planner@t1", snap.Logs[0].ID)
	assert.Equal(t, "w-1", snap.Logs[1].ID)
	assert.Equal(t, "slide 1 and 2", snap.Logs[1].Content)
	assert.False(t, snap.Logs[1].IsComplete)
	assert.Equal(t, "d-9", snap.Metadata["deck"])

	require.Len(t, snap.Slides, 2)
	assert.Equal(t, 1, snap.Slides[0].SlideNumber)
	assert.Equal(t, 2, snap.Slides[1].SlideNumber)
	assert.Equal(t, "agenda", *snap.Slides[1].Thinking)
	assert.Equal(t, "<ul></ul>", *snap.Slides[1].HTMLContent)
}

func TestNormalize_ShapeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `[`},
		{"missing p_id", `{"status":"processing"}`},
		{"other job", `{"p_id":"job-2","status":"processing"}`},
		{"unknown status", `{"p_id":"job-1","status":"paused"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw), "job-1")
			assert.ErrorIs(t, err, model.ErrParse)
		})
	}
}

func TestLoad(t *testing.T) {
	l := NewLoader(fetchFunc(func(_ context.Context, jobID string) ([]byte, error) {
		assert.Equal(t, "job-1", jobID)
		return []byte(snapshotJSON), nil
	}), nil)

	snap, err := l.Load(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, snap.Slides, 2)
}

func TestLoad_TransportFailure(t *testing.T) {
	l := NewLoader(fetchFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.Join(model.ErrTransport, errors.New("connection refused"))
	}), nil)

	_, err := l.Load(context.Background(), "job-1")
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestSnapshotApplyTo_ExistingRecordsWin(t *testing.T) {
	live := "live"
	old := "old"
	st := model.State{
		Logs:     []model.LogEntry{{ID: "a", Content: "live"}},
		Slides:   []model.SlideRecord{{SlideNumber: 2, HTMLContent: &live}},
		Metadata: model.Metadata{"session_id": "s-1"},
	}
	snap := &Snapshot{
		Logs:     []model.LogEntry{{ID: "a", Content: "old"}, {ID: "b", Content: "new"}},
		Slides:   []model.SlideRecord{{SlideNumber: 1}, {SlideNumber: 2, HTMLContent: &old}},
		Metadata: model.Metadata{"session_id": "s-0"},
	}

	snap.ApplyTo(&st)

	require.Len(t, st.Logs, 2)
	assert.Equal(t, "live", st.Logs[0].Content)
	assert.Equal(t, "new", st.Logs[1].Content)
	require.Len(t, st.Slides, 2)
	assert.Equal(t, "live", *st.Slides[0].HTMLContent)
	assert.Equal(t, 1, st.Slides[1].SlideNumber)
	assert.Equal(t, "s-1", st.Metadata["session_id"])
}
