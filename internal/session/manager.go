package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"backend-formcoach/internal/metrics"
	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/profile"
	"backend-formcoach/internal/squat"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SourceStream = "stream"
	SourceHTTP   = "http"
	SourceBatch  = "batch"
)

type Config struct {
	Registry      *profile.Registry
	Detector      pose.Detector
	DefaultMode   string
	MinVisibility float64
	Sink          SummarySink
	Logger        zerolog.Logger
}

type Manager struct {
	registry      *profile.Registry
	detector      pose.Detector
	defaultMode   string
	minVisibility float64
	sink          SummarySink
	logger        zerolog.Logger
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	received  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	created   atomic.Int64
	active    atomic.Int64
}

type entry struct {
	mu        sync.Mutex
	id        string
	opts      Options
	machine   *squat.Machine
	startedAt time.Time
	lastFrame time.Time
	// lastActive is wall-clock time of the last call touching the session.
	lastActive time.Time
	received   int
	processed  int
	failed     int
	dropped    int
	closed     bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Registry == nil {
		cfg.Registry = profile.DefaultRegistry()
	}
	if cfg.Detector == nil {
		cfg.Detector = pose.NopDetector{}
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = profile.ModeBeginner
	}
	if cfg.MinVisibility <= 0 {
		cfg.MinVisibility = pose.DefaultMinVisibility
	}
	return &Manager{
		registry:      cfg.Registry,
		detector:      cfg.Detector,
		defaultMode:   cfg.DefaultMode,
		minVisibility: cfg.MinVisibility,
		sink:          cfg.Sink,
		logger:        cfg.Logger.With().Str("component", "session").Logger(),
		now:           time.Now,
		sessions:      map[string]*entry{},
	}
}

// Create opens a session with the profile for opts.Mode, or the default mode when empty.
func (m *Manager) Create(ctx context.Context, opts Options) (string, error) {
	mode, err := m.ResolveMode(opts.Mode)
	if err != nil {
		return "", err
	}
	opts.Mode = mode
	if opts.Source == "" {
		opts.Source = SourceHTTP
	}
	p, err := m.registry.Get(mode)
	if err != nil {
		return "", err
	}

	e := &entry{
		id:        uuid.NewString(),
		opts:      opts,
		machine:   squat.NewMachine(p),
		startedAt: m.now(),
	}
	e.lastActive = e.startedAt

	m.mu.Lock()
	m.sessions[e.id] = e
	m.mu.Unlock()

	m.created.Add(1)
	m.active.Add(1)
	metrics.ActiveSessions.Inc()
	metrics.SessionsTotal.WithLabelValues(opts.Source).Inc()

	m.logger.Info().
		Str("session_id", e.id).
		Str("mode", opts.Mode).
		Str("source", opts.Source).
		Msg("session created")
	return e.id, nil
}

// ResolveMode returns the mode a session created with mode would use, or
// profile.ErrUnknownMode.
func (m *Manager) ResolveMode(mode string) (string, error) {
	if mode == "" {
		mode = m.defaultMode
	}
	if _, err := m.registry.Get(mode); err != nil {
		return "", err
	}
	return mode, nil
}

// SwitchMode replaces the session's profile and starts a fresh state machine. Unknown
// modes are rejected before anything changes.
func (m *Manager) SwitchMode(id, mode string) error {
	p, err := m.registry.Get(mode)
	if err != nil {
		return err
	}
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.machine = squat.NewMachine(p)
	e.opts.Mode = mode
	e.lastActive = m.now()

	m.logger.Info().Str("session_id", id).Str("mode", mode).Msg("mode switched")
	return nil
}

// ProcessFrame runs one frame through detection and the session's state machine. Frames
// for one session are applied in call order. A frame without a usable body still advances
// the machine as an invalid observation; only detector failures return ErrInvalidFrame.
func (m *Manager) ProcessFrame(ctx context.Context, id string, f Frame) (squat.FrameResult, error) {
	e, err := m.lookup(id)
	if err != nil {
		return squat.FrameResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return squat.FrameResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	start := time.Now()
	defer func() {
		metrics.FrameDuration.WithLabelValues(e.opts.Source).Observe(time.Since(start).Seconds())
	}()

	e.received++
	e.lastActive = m.now()
	m.received.Add(1)
	metrics.FramesTotal.WithLabelValues("received").Inc()

	now := f.Timestamp
	if now.IsZero() {
		now = m.now()
	}
	e.lastFrame = now

	landmarks := f.Landmarks
	var detectErr error
	if landmarks == nil {
		if len(f.Image) == 0 {
			detectErr = fmt.Errorf("%w: empty frame", ErrInvalidFrame)
		} else {
			ls, found, err := m.detector.Detect(ctx, f.Image)
			switch {
			case err != nil:
				detectErr = fmt.Errorf("%w: %v", ErrInvalidFrame, err)
			case found:
				landmarks = ls
			}
		}
	}

	res := e.machine.Update(pose.ComputeAngles(landmarks, m.minVisibility), now)
	if !res.Valid {
		e.failed++
		m.failed.Add(1)
		metrics.FramesTotal.WithLabelValues("failed").Inc()
	} else {
		e.processed++
		m.processed.Add(1)
		metrics.FramesTotal.WithLabelValues("processed").Inc()
	}

	if res.RepCompleted {
		quality := "incorrect"
		if res.RepCorrect {
			quality = "correct"
		}
		metrics.RepsTotal.WithLabelValues(e.opts.Mode, quality).Inc()
	}

	if detectErr != nil {
		m.logger.Debug().Err(detectErr).Str("session_id", id).Msg("frame rejected")
		return res, detectErr
	}
	return res, nil
}

// RecordDropped accounts for a frame the transport discarded before it reached the session.
func (m *Manager) RecordDropped(id string) {
	e, err := m.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.received++
	e.failed++
	e.dropped++
	e.lastActive = m.now()
	e.mu.Unlock()

	m.received.Add(1)
	m.failed.Add(1)
	metrics.FramesTotal.WithLabelValues("dropped").Inc()
}

// Destroy removes the session, waiting for any in-flight frame, and returns its final
// summary. The summary is handed to the sink; sink failures are logged only.
func (m *Manager) Destroy(ctx context.Context, id string) (Summary, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return m.finish(ctx, e), nil
}

// finish closes a session already removed from the registry.
func (m *Manager) finish(ctx context.Context, e *entry) Summary {
	e.mu.Lock()
	e.closed = true
	ended := m.now()
	summary := e.summary()
	summary.EndedAt = &ended
	e.mu.Unlock()

	m.active.Add(-1)
	metrics.ActiveSessions.Dec()

	if m.sink != nil {
		if err := m.sink.SaveSummary(ctx, summary); err != nil {
			m.logger.Error().Err(err).Str("session_id", e.id).Msg("save session summary")
		}
	}

	m.logger.Info().
		Str("session_id", e.id).
		Int("correct", summary.Counters.Correct).
		Int("incorrect", summary.Counters.Incorrect).
		Int("frames", summary.FramesReceived).
		Msg("session closed")
	return summary
}

// ReapIdle destroys HTTP sessions untouched for longer than after and returns their
// summaries. Streaming and batch sessions are closed by the code that owns them.
func (m *Manager) ReapIdle(ctx context.Context, after time.Duration) []Summary {
	cutoff := m.now().Add(-after)

	m.mu.RLock()
	var candidates []*entry
	for _, e := range m.sessions {
		if e.opts.Source == SourceHTTP {
			candidates = append(candidates, e)
		}
	}
	m.mu.RUnlock()

	var reaped []Summary
	for _, e := range candidates {
		e.mu.Lock()
		stale := !e.closed && e.lastActive.Before(cutoff)
		if stale {
			e.closed = true
		}
		e.mu.Unlock()
		if !stale {
			continue
		}

		m.mu.Lock()
		owned := m.sessions[e.id] == e
		if owned {
			delete(m.sessions, e.id)
		}
		m.mu.Unlock()
		if !owned {
			continue
		}

		m.logger.Warn().Str("session_id", e.id).Dur("idle", after).Msg("idle session reaped")
		reaped = append(reaped, m.finish(ctx, e))
	}
	return reaped
}

// RunReaper calls ReapIdle every half idle period until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, after time.Duration) {
	interval := after / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(context.Background(), after)
		}
	}
}

func (m *Manager) Summary(id string) (Summary, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary(), nil
}

// List returns summaries of all live sessions, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.summary())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) Totals() Totals {
	return Totals{
		FramesReceived:  m.received.Load(),
		FramesProcessed: m.processed.Load(),
		FramesFailed:    m.failed.Load(),
		SessionsTotal:   m.created.Load(),
		ActiveSessions:  m.active.Load(),
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// summary must be called with e.mu held.
func (e *entry) summary() Summary {
	s := Summary{
		ID:              e.id,
		Mode:            e.opts.Mode,
		AthleteID:       e.opts.AthleteID,
		Source:          e.opts.Source,
		Phase:           e.machine.Phase(),
		Counters:        e.machine.Counters(),
		FramesReceived:  e.received,
		FramesProcessed: e.processed,
		FramesFailed:    e.failed,
		FramesDropped:   e.dropped,
		StartedAt:       e.startedAt,
	}
	if !e.lastFrame.IsZero() {
		last := e.lastFrame
		s.LastFrameAt = &last
		if elapsed := last.Sub(e.startedAt).Seconds(); elapsed > 0 {
			s.FPS = float64(e.processed) / elapsed
		}
	}
	return s
}
