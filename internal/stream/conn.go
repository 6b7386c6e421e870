// Package stream manages the live channel for one presentation job.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"
)

// State of a Conn.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyOpened is returned by a second Open on the same Conn.
var ErrAlreadyOpened = errors.New("stream already opened")

// Handlers receive transport events. All of them run on the connection's
// own goroutine, one at a time.
type Handlers struct {
	// OnConnect runs after every successful (re)connect.
	OnConnect func()
	// OnFrame receives every application frame in arrival order.
	OnFrame func(raw []byte)
	// OnDisconnect runs when an established connection drops.
	OnDisconnect func(err error)
	// OnGiveUp runs once when reconnect attempts are exhausted.
	OnGiveUp func(err error)
}

// Options configure a Conn.
type Options struct {
	// BaseURL is the ws:// or wss:// service root.
	BaseURL          string
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	// ShouldReconnect is consulted after a drop; false ends the connection.
	ShouldReconnect func() bool
	Logger          *zap.Logger
}

// Conn is one channel for one job. It is single use: Open once, Close any
// number of times.
type Conn struct {
	opts     Options
	handlers Handlers
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	ws     *websocket.Conn
	opened bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Conn; nothing is dialed until Open.
func New(opts Options, handlers Handlers) *Conn {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		opts:     opts,
		handlers: handlers,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Open starts connecting to the stream of jobID in the background.
func (c *Conn) Open(ctx context.Context, jobID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return ErrAlreadyOpened
	}
	c.opened = true

	ctx, c.cancel = context.WithCancel(ctx)
	target := Endpoint(c.opts.BaseURL, jobID, token)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	go c.run(ctx, target, header, jobID)
	return nil
}

// Close tears the channel down. Safe to call repeatedly and from handlers;
// it never waits for the connection goroutine (use Done for that).
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws, cancel := c.ws, c.cancel
	if !c.opened {
		c.opened = true
		close(c.done)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}
}

// Done is closed once the connection goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// State reports the current transport state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the channel is currently established.
func (c *Conn) Connected() bool {
	return c.State() == Connected
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) run(ctx context.Context, target string, header http.Header, jobID string) {
	defer close(c.done)
	defer c.setState(Disconnected)

	log := c.logger.With(zap.String("job_id", jobID))
	attempt := 0

	for ctx.Err() == nil {
		c.setState(Connecting)
		ws, _, err := c.dialer.DialContext(ctx, target, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			log.Warn("stream connect failed", zap.Int("attempt", attempt), zap.Error(err))
			if attempt >= c.opts.MaxAttempts {
				c.giveUp(fmt.Errorf("stream connect: %w", err))
				return
			}
			if !c.sleep(ctx, Backoff(attempt, c.opts.BaseDelay, c.opts.MaxDelay)) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.state = Connected
		c.mu.Unlock()

		log.Debug("stream connected")
		if c.handlers.OnConnect != nil {
			c.handlers.OnConnect()
		}

		frames, err := c.read(ws)

		c.mu.Lock()
		c.ws = nil
		c.state = Disconnected
		c.mu.Unlock()
		_ = ws.Close()

		if ctx.Err() != nil {
			return
		}
		log.Info("stream disconnected", zap.Int("frames", frames), zap.Error(err))
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(err)
		}
		// without a gate a normal closure is final; with one, the gate decides
		if c.opts.ShouldReconnect == nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
		} else if !c.opts.ShouldReconnect() {
			return
		}

		// a connection that delivered data proved healthy
		if frames > 0 {
			attempt = 0
		}
		attempt++
		if attempt >= c.opts.MaxAttempts {
			c.giveUp(fmt.Errorf("stream dropped: %w", err))
			return
		}
		if !c.sleep(ctx, Backoff(attempt, c.opts.BaseDelay, c.opts.MaxDelay)) {
			return
		}
	}
}

func (c *Conn) read(ws *websocket.Conn) (int, error) {
	frames := 0
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return frames, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		frames++
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(data)
		}
	}
}

func (c *Conn) giveUp(err error) {
	c.logger.Error("stream gave up reconnecting", zap.Error(err))
	if c.handlers.OnGiveUp != nil {
		c.handlers.OnGiveUp(err)
	}
}

func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Backoff returns the wait before reconnect attempt n (1-based): base
// doubled per attempt, capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Endpoint builds the stream URL of jobID.
func Endpoint(base, jobID, token string) string {
	u := strings.TrimRight(base, "/") + "/ws/presentations/" + url.PathEscape(jobID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}
