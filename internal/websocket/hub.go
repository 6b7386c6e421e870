package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/model"
)

// EventSource returns the records a job already emitted, so late
// subscribers can catch up.
type EventSource interface {
	Events(ctx context.Context, jobID string) ([]model.AgentOutput, error)
}

// Client represents a WebSocket client
type Client struct {
	JobID     string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	source EventSource
	logger *zap.Logger

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub. source may be nil, in which case subscribers
// only see events broadcast after they attach.
func NewHub(source EventSource, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[string]map[*Client]bool),
		broadcast: make(chan *BroadcastMessage, 256),
		source:    source,
		logger:    logger,
	}
}

// Run delivers broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[msg.JobID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.Send <- msg.Message:
		default:
			h.logger.Warn("dropping slow stream client",
				zap.String("job_id", msg.JobID), zap.String("session_id", client.SessionID))
			close(client.Send)
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, msg.JobID)
	}
}

// Register adds a client and queues the welcome event followed by the
// job's backlog. Broadcasts are held off meanwhile, so every record
// emitted after the backlog was read still reaches the client.
func (h *Hub) Register(ctx context.Context, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var backlog []model.AgentOutput
	if h.source != nil {
		events, err := h.source.Events(ctx, client.JobID)
		if err != nil {
			h.logger.Warn("backlog unavailable for new subscriber",
				zap.String("job_id", client.JobID), zap.Error(err))
		}
		backlog = events
	}

	client.Send = make(chan []byte, 256+len(backlog))
	welcome, err := model.NewEnvelope(model.EventConnected, model.Metadata{
		"session_id": client.SessionID,
		"p_id":       client.JobID,
	})
	if err == nil {
		client.Send <- welcome
	}
	for _, out := range backlog {
		data, err := model.NewEnvelope(model.EventAgentOutput, out)
		if err != nil {
			continue
		}
		client.Send <- data
	}

	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]bool)
	}
	h.clients[client.JobID][client] = true
	h.logger.Info("stream client registered",
		zap.String("job_id", client.JobID),
		zap.String("session_id", client.SessionID),
		zap.Int("backlog", len(backlog)))
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.JobID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.clients, client.JobID)
			}
		}
	}
	h.logger.Info("stream client unregistered", zap.String("job_id", client.JobID))
}

// Subscribers returns the number of clients attached to jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastOutput sends an agent_output record to all job subscribers
func (h *Hub) BroadcastOutput(jobID string, out model.AgentOutput) {
	data, err := model.NewEnvelope(model.EventAgentOutput, out)
	if err != nil {
		h.logger.Error("failed to marshal agent output", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		// subscribers that miss it catch up from the backlog on reconnect
		h.logger.Warn("broadcast queue full; dropping agent output",
			zap.String("job_id", jobID), zap.String("type", out.Type))
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID:     jobID,
		SessionID: uuid.New().String(),
		Conn:      c,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.Register(ctx, client)
	cancel()
	defer h.Unregister(client)

	done := make(chan struct{})
	defer close(done)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("stream client error", zap.String("job_id", jobID), zap.Error(err))
			}
			break
		}

		// Handle client messages (ping/pong)
		var env model.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		if env.Event == model.EventPing {
			pong, err := model.NewEnvelope(model.EventPong, nil)
			if err != nil {
				continue
			}
			h.mu.RLock()
			if h.clients[jobID][client] {
				select {
				case client.Send <- pong:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
