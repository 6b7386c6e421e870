// Package session tracks one presentation job at a time: it resolves the
// job's phase, runs the matching phase handler and feeds live stream
// events into the state store in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/api"
	"github.com/makeasinger/deckflow/internal/buffer"
	"github.com/makeasinger/deckflow/internal/config"
	"github.com/makeasinger/deckflow/internal/history"
	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/parser"
	"github.com/makeasinger/deckflow/internal/store"
	"github.com/makeasinger/deckflow/internal/stream"
)

// ErrClosed is returned by calls on a closed Session.
var ErrClosed = errors.New("session closed")

// API is the REST surface the session depends on.
type API interface {
	FetchStatus(ctx context.Context, jobID string) (*model.StatusResponse, error)
	StartPresentation(ctx context.Context, jobID string) error
	FetchHistory(ctx context.Context, jobID string) ([]byte, error)
}

// HistoryLoader returns the normalized backlog of a job.
type HistoryLoader interface {
	Load(ctx context.Context, jobID string) (*history.Snapshot, error)
}

// Channel is one live connection to a job's event stream.
type Channel interface {
	Open(ctx context.Context, jobID, token string) error
	Close()
	Connected() bool
}

// ChannelFactory creates an unopened Channel. shouldReconnect is consulted
// by the channel after every drop.
type ChannelFactory func(handlers stream.Handlers, shouldReconnect func() bool) Channel

// Deps are the session's collaborators. Nil fields get the defaults built
// from the configuration.
type Deps struct {
	API      API
	History  HistoryLoader
	Store    store.Store
	Channels ChannelFactory
	Logger   *zap.Logger
}

// View is the read-only picture a UI renders.
type View struct {
	JobID             string
	Phase             model.Phase
	Error             string
	Loading           bool
	IsStreamConnected bool
	Logs              []model.LogEntry
	Slides            []model.SlideRecord
	Metadata          model.Metadata
}

// Err returns a model.ErrJobFailed error when the view is in the failed
// phase, nil otherwise.
func (v View) Err() error {
	if v.Phase != model.PhaseFailed {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrJobFailed, v.Error)
}

// ticket identifies one initialization of one job. Results carrying a
// ticket that is no longer current are discarded.
type ticket struct {
	jobID string
	epoch uint64
}

type frame struct {
	t   ticket
	raw []byte
}

type phaseHandler func(ctx context.Context, t ticket, status *model.StatusResponse) error

// Session is the orchestrator for one job at a time.
type Session struct {
	client   config.ClientConfig
	grace    time.Duration
	api      API
	history  HistoryLoader
	store    store.Store
	channels ChannelFactory
	logger   *zap.Logger
	phases   map[model.Phase]phaseHandler
	events   *buffer.Buffer[frame]

	// base outlives Initialize's ctx; channels run until Close.
	base       context.Context
	cancelBase context.CancelFunc

	mu          sync.Mutex
	jobID       string
	epoch       uint64
	initialized bool
	phase       model.Phase
	loading     int
	channel     Channel
	graceTimer  *time.Timer
	closed      bool

	subMu   sync.Mutex
	subs    map[int]chan View
	nextSub int
}

// New creates a Session. Nothing touches the network until Initialize.
func New(cfg *config.Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.API == nil {
		deps.API = api.New(cfg.Client.BaseURL, cfg.Client.AuthToken, cfg.Client.RequestTimeout)
	}
	if deps.History == nil {
		deps.History = history.NewLoader(deps.API, logger)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Channels == nil {
		deps.Channels = StreamChannels(cfg, logger)
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:     cfg.Client,
		grace:      cfg.Stream.CloseGrace,
		api:        deps.API,
		history:    deps.History,
		store:      deps.Store,
		channels:   deps.Channels,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		subs:       make(map[int]chan View),
	}
	s.phases = map[model.Phase]phaseHandler{
		model.PhaseQueued:     s.handleQueued,
		model.PhaseProcessing: s.handleProcessing,
		model.PhaseCompleted:  s.handleCompleted,
		model.PhaseFailed:     s.handleFailedStatus,
	}
	s.events = buffer.New(s.handleFrame, logger)
	return s
}

// StreamChannels returns a ChannelFactory backed by websocket connections.
func StreamChannels(cfg *config.Config, logger *zap.Logger) ChannelFactory {
	return func(handlers stream.Handlers, shouldReconnect func() bool) Channel {
		return stream.New(stream.Options{
			BaseURL:          cfg.Client.StreamBaseURL(),
			MaxAttempts:      cfg.Stream.MaxAttempts,
			BaseDelay:        cfg.Stream.BaseDelay,
			MaxDelay:         cfg.Stream.MaxDelay,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			ShouldReconnect:  shouldReconnect,
			Logger:           logger,
		}, handlers)
	}
}

// Initialize attaches the session to jobID. A repeated call for the job
// already attached is a no-op; a different jobID resets everything first.
// Job failures are reported through View, not the returned error.
func (s *Session) Initialize(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", model.ErrConfiguration)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.initialized && s.jobID == jobID {
		s.mu.Unlock()
		s.logger.Debug("session already initialized", zap.String("job_id", jobID))
		return nil
	}
	t := s.beginLocked(jobID)
	s.mu.Unlock()

	s.notify()
	return s.resolve(ctx, t)
}

// Retry clears the current job's state and resolves it again from scratch.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.jobID == "" {
		s.mu.Unlock()
		return errors.New("retry: no job initialized")
	}
	t := s.beginLocked(s.jobID)
	s.mu.Unlock()

	s.logger.Info("retrying session", zap.String("job_id", t.jobID))
	s.notify()
	return s.resolve(ctx, t)
}

// View returns the current picture of the job.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	st := s.store.Snapshot()
	return View{
		JobID:             s.jobID,
		Phase:             st.Phase,
		Error:             st.Error,
		Loading:           s.loading > 0,
		IsStreamConnected: s.channel != nil && s.channel.Connected(),
		Logs:              st.Logs,
		Slides:            st.Slides,
		Metadata:          st.Metadata,
	}
}

// Subscribe returns a channel that receives the latest View after every
// change. Slow readers only miss intermediate views. The returned func
// unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Close detaches from the current job, tears the stream down and closes
// every subscription. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.stopTimersLocked()
	s.closeChannelLocked()
	s.events.Reset()
	s.cancelBase()
	s.mu.Unlock()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()
}

// beginLocked invalidates every in-flight operation and resets the store
// for a fresh resolution of jobID.
func (s *Session) beginLocked(jobID string) ticket {
	s.epoch++
	s.jobID = jobID
	s.initialized = true
	s.phase = ""
	s.loading = 0
	s.stopTimersLocked()
	s.closeChannelLocked()
	s.events.Reset()
	s.store.Reset()
	s.store.Update(func(st *model.State) {
		st.JobID = jobID
	})
	return ticket{jobID: jobID, epoch: s.epoch}
}

func (s *Session) currentLocked(t ticket) bool {
	return !s.closed && s.epoch == t.epoch && s.jobID == t.jobID
}

func (s *Session) current(t ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(t)
}

// resolve queries the job status and dispatches to the phase handler.
func (s *Session) resolve(ctx context.Context, t ticket) error {
	log := s.logger.With(zap.String("job_id", t.jobID))

	if err := s.client.Validate(); err != nil {
		log.Warn("session is not configured; no requests will be made", zap.Error(err))
		s.fail(t, err.Error())
		return err
	}

	s.setLoading(t, 1)
	status, err := s.api.FetchStatus(ctx, t.jobID)
	s.setLoading(t, -1)
	if !s.current(t) {
		log.Debug("discarding stale status response")
		return nil
	}
	if err != nil {
		log.Error("failed to resolve presentation status", zap.Error(err))
		s.fail(t, fmt.Sprintf("could not resolve presentation status: %v", err))
		return fmt.Errorf("resolve status of %s: %w", t.jobID, err)
	}

	phase, err := model.ParsePhase(status.Status)
	if err != nil {
		log.Error("unrecognized presentation status", zap.String("status", status.Status))
		s.fail(t, err.Error())
		return fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	log.Info("resolved presentation status", zap.String("phase", string(phase)))
	return s.phases[phase](ctx, t, status)
}

func (s *Session) setLoading(t ticket, delta int) {
	s.mu.Lock()
	if s.currentLocked(t) {
		s.loading += delta
		if s.loading < 0 {
			s.loading = 0
		}
	}
	s.mu.Unlock()
	s.notify()
}

// update applies fn to the store and tracks phase changes, only while t is
// current. It reports whether fn ran.
func (s *Session) update(t ticket, fn func(st *model.State)) bool {
	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return false
	}
	var phase model.Phase
	s.store.Update(func(st *model.State) {
		fn(st)
		phase = st.Phase
	})
	s.phase = phase
	s.mu.Unlock()

	s.notify()
	return true
}

// handleFrame is the buffer's handler: it decodes one raw frame and
// applies its mutations against the current store contents.
func (s *Session) handleFrame(f frame) {
	log := s.logger.With(zap.String("job_id", f.t.jobID))

	env, err := parser.DecodeEnvelope(f.raw)
	if err != nil {
		log.Warn("dropping malformed stream frame", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.currentLocked(f.t) {
		s.mu.Unlock()
		log.Debug("discarding stale stream frame", zap.String("event", env.Event))
		return
	}
	muts, err := parser.Parse(env, s.store.Snapshot())
	if err != nil {
		s.mu.Unlock()
		log.Warn("dropping unparseable stream event", zap.String("event", env.Event), zap.Error(err))
		return
	}
	for _, m := range muts {
		s.applyLocked(f.t, m)
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Session) applyLocked(t ticket, m parser.Mutation) {
	s.store.Update(func(st *model.State) {
		parser.Apply(st, m)
	})

	switch m.Kind {
	case parser.KindSetPhase:
		s.phase = m.Phase
	case parser.KindTerminal:
		s.phase = m.Phase
		s.logger.Info("presentation reached terminal phase",
			zap.String("job_id", t.jobID), zap.String("phase", string(m.Phase)))
		s.scheduleCloseLocked(t)
	}
}

// scheduleCloseLocked closes the stream after the grace delay so frames
// already in flight are still applied.
func (s *Session) scheduleCloseLocked(t ticket) {
	if s.graceTimer != nil {
		return
	}
	s.graceTimer = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		if s.currentLocked(t) {
			s.graceTimer = nil
			s.closeChannelLocked()
		}
		s.mu.Unlock()
		s.notify()
	})
}

// openStream attaches a live channel for t, replacing any previous one.
func (s *Session) openStream(t ticket) error {
	s.mu.Lock()
	if !s.currentLocked(t) || !s.phase.AllowsStream() {
		s.mu.Unlock()
		return nil
	}
	s.closeChannelLocked()

	log := s.logger.With(zap.String("job_id", t.jobID))
	ch := s.channels(stream.Handlers{
		OnConnect: func() {
			log.Debug("stream connected")
			s.events.Drain()
			s.notify()
		},
		OnFrame: func(raw []byte) {
			s.events.Push(frame{t: t, raw: raw})
		},
		OnDisconnect: func(err error) {
			log.Info("stream disconnected", zap.Error(err))
			s.notify()
		},
		OnGiveUp: func(err error) {
			log.Error("stream unavailable; live updates stopped", zap.Error(err))
			s.notify()
		},
	}, func() bool {
		return s.streamAllowed(t)
	})
	s.channel = ch
	s.mu.Unlock()

	if err := ch.Open(s.base, t.jobID, s.client.AuthToken); err != nil {
		if errors.Is(err, stream.ErrAlreadyOpened) {
			// closed by a newer initialization before it could open
			return nil
		}
		return fmt.Errorf("%w: open stream for %s: %v", model.ErrTransport, t.jobID, err)
	}
	return nil
}

func (s *Session) streamAllowed(t ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(t) && s.phase.AllowsStream()
}

func (s *Session) closeChannelLocked() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
}

func (s *Session) stopTimersLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// notify pushes the latest View to every subscriber without blocking.
func (s *Session) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	v := s.View()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
