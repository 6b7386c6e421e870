package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/deckflow/internal/model"
)

type fakeSource struct {
	events []model.AgentOutput
}

func (f fakeSource) Events(context.Context, string) ([]model.AgentOutput, error) {
	return f.events, nil
}

func narration(content string) model.AgentOutput {
	return model.AgentOutput{Type: model.OutputTypeLog, Author: "planner", Timestamp: content, Content: content}
}

func decode(t *testing.T, raw []byte) model.Envelope {
	t.Helper()
	var env model.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHub_RegisterSendsWelcomeAndBacklog(t *testing.T) {
	hub := NewHub(fakeSource{events: []model.AgentOutput{narration("outline")}}, nil)
	client := &Client{JobID: "job-1", SessionID: "session-1"}

	hub.Register(context.Background(), client)
	assert.Equal(t, 1, hub.Subscribers("job-1"))
	assert.Zero(t, hub.Subscribers("job-2"))

	welcome := decode(t, receive(t, client.Send))
	assert.Equal(t, model.EventConnected, welcome.Event)
	var meta model.Metadata
	require.NoError(t, json.Unmarshal(welcome.Data, &meta))
	assert.Equal(t, "session-1", meta["session_id"])
	assert.Equal(t, "job-1", meta["p_id"])

	backlog := decode(t, receive(t, client.Send))
	assert.Equal(t, model.EventAgentOutput, backlog.Event)
	var out model.AgentOutput
	require.NoError(t, json.Unmarshal(backlog.Data, &out))
	assert.Equal(t, "outline", out.Content)

	hub.Unregister(client)
	assert.Zero(t, hub.Subscribers("job-1"))
	_, ok := <-client.Send
	assert.False(t, ok)
}

func TestHub_BroadcastReachesOnlyJobSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	one := &Client{JobID: "job-1", SessionID: "a"}
	two := &Client{JobID: "job-2", SessionID: "b"}
	hub.Register(ctx, one)
	hub.Register(ctx, two)
	receive(t, one.Send)
	receive(t, two.Send)

	hub.BroadcastOutput("job-1", narration("slide 1"))

	env := decode(t, receive(t, one.Send))
	assert.Equal(t, model.EventAgentOutput, env.Event)
	assert.Never(t, func() bool { return len(two.Send) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHub_BroadcastDoesNotBlockWithoutRunner(t *testing.T) {
	hub := NewHub(nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2*cap(hub.broadcast); i++ {
			hub.BroadcastOutput("job-1", narration("tick"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastOutput blocked on a full queue")
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
