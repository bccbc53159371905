package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"backend-formcoach/internal/auth"
	"backend-formcoach/internal/metrics"
	"backend-formcoach/internal/session"
	"backend-formcoach/internal/squat"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

var ErrIdleTimeout = errors.New("idle timeout")

const longFrameInterval = time.Second

type Config struct {
	IdleTimeout   time.Duration
	FrameBuffer   int
	StatsInterval time.Duration
}

type Handler struct {
	sessions *session.Manager
	hub      *Hub
	cfg      Config
	logger   zerolog.Logger
}

func NewHandler(sessions *session.Manager, hub *Hub, cfg Config, logger zerolog.Logger) *Handler {
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 8
	}
	return &Handler{
		sessions: sessions,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Get("/ws", websocket.New(h.serveSession))
	r.Get("/stream/watch/:sessionID", websocket.New(h.watch))
}

type startedReply struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

type frameReply struct {
	squat.FrameResult
	SessionID       string `json:"session_id"`
	SquatsCorrect   int    `json:"squats_correct"`
	SquatsIncorrect int    `json:"squats_incorrect"`
	ProcessTimeMS   int64  `json:"process_time_ms"`
}

type modeReply struct {
	ModeChanged string `json:"mode_changed"`
}

type statusReply struct {
	Status string `json:"status"`
}

type errorReply struct {
	Error string `json:"error"`
}

// conn serialises writes; the reader and the processor both reply on it.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *conn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// serveSession hosts one evaluator session for the lifetime of the connection. Frames
// queue on a bounded inbox and are dropped when it is full; control messages wait.
func (h *Handler) serveSession(ws *websocket.Conn) {
	athleteID, _ := ws.Locals(auth.LocalAthleteID).(string)
	c := &conn{ws: ws}

	id, err := h.sessions.Create(context.Background(), session.Options{
		Mode:      ws.Query("mode"),
		AthleteID: athleteID,
		Source:    session.SourceStream,
	})
	if err != nil {
		_ = c.writeJSON(errorReply{Error: err.Error()})
		c.close(websocket.ClosePolicyViolation, "invalid mode")
		return
	}
	summary, _ := h.sessions.Summary(id)
	logger := h.logger.With().Str("session_id", id).Logger()
	logger.Info().Str("remote", ws.RemoteAddr().String()).Msg("connection accepted")
	_ = c.writeJSON(startedReply{SessionID: id, Mode: summary.Mode})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := make(chan Message, h.cfg.FrameBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.process(ctx, c, id, inbox, logger)
	}()
	if h.cfg.StatsInterval > 0 {
		go h.logStats(id, done, logger)
	}

	reason := h.read(c, id, inbox, logger)
	if !errors.Is(reason, ErrIdleTimeout) {
		cancel()
	}
	close(inbox)
	<-done

	label := "client_closed"
	if errors.Is(reason, ErrIdleTimeout) {
		label = "idle_timeout"
		c.close(websocket.CloseGoingAway, ErrIdleTimeout.Error())
	}
	metrics.Disconnects.WithLabelValues(label).Inc()

	final, err := h.sessions.Destroy(context.Background(), id)
	if err != nil {
		logger.Error().Err(err).Msg("destroy session")
		return
	}
	logger.Info().
		Str("reason", label).
		Int("received", final.FramesReceived).
		Int("processed", final.FramesProcessed).
		Int("failed", final.FramesFailed).
		Dur("duration", final.EndedAt.Sub(final.StartedAt)).
		Msg("connection closed")
}

// read pumps client messages into inbox until the connection fails or idles out.
func (h *Handler) read(c *conn, id string, inbox chan<- Message, logger zerolog.Logger) error {
	for {
		if h.cfg.IdleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		}
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn().Dur("idle", h.cfg.IdleTimeout).Msg("connection timed out")
				return ErrIdleTimeout
			}
			return err
		}

		msg, err := DecodeMessage(raw)
		if err != nil {
			if errors.Is(err, ErrUnknownMessage) {
				logger.Warn().Err(err).Msg("unrecognised message")
				continue
			}
			h.sessions.RecordDropped(id)
			_ = c.writeJSON(errorReply{Error: "frame processing error: " + err.Error()})
			continue
		}

		if msg.Kind == KindFrame {
			select {
			case inbox <- msg:
			default:
				h.sessions.RecordDropped(id)
				logger.Debug().Msg("inbox full, frame dropped")
			}
			continue
		}
		inbox <- msg
	}
}

func (h *Handler) process(ctx context.Context, c *conn, id string, inbox <-chan Message, logger zerolog.Logger) {
	var lastFrame time.Time
	for msg := range inbox {
		var err error
		switch msg.Kind {
		case KindHeartbeat:
			err = c.writeJSON(statusReply{Status: "ok"})
		case KindMode:
			if switchErr := h.sessions.SwitchMode(id, msg.Mode); switchErr != nil {
				err = c.writeJSON(errorReply{Error: switchErr.Error()})
				break
			}
			logger.Info().Str("mode", msg.Mode).Msg("mode changed")
			err = c.writeJSON(modeReply{ModeChanged: msg.Mode})
		case KindFrame:
			now := time.Now()
			if !lastFrame.IsZero() && now.Sub(lastFrame) > longFrameInterval {
				logger.Warn().Dur("interval", now.Sub(lastFrame)).Msg("long frame interval")
			}
			lastFrame = now
			err = h.processFrame(ctx, c, id, msg)
		}
		if err != nil {
			logger.Debug().Err(err).Msg("write reply")
		}
	}
}

func (h *Handler) processFrame(ctx context.Context, c *conn, id string, msg Message) error {
	start := time.Now()
	res, err := h.sessions.ProcessFrame(ctx, id, session.Frame{
		Image:     msg.Image,
		Landmarks: msg.Landmarks,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return c.writeJSON(errorReply{Error: "frame processing error: " + err.Error()})
	}

	payload, err := json.Marshal(frameReply{
		FrameResult:     res,
		SessionID:       id,
		SquatsCorrect:   res.Counters.Correct,
		SquatsIncorrect: res.Counters.Incorrect,
		ProcessTimeMS:   time.Since(start).Milliseconds(),
	})
	if err != nil {
		return err
	}
	if h.hub != nil {
		h.hub.Broadcast(id, payload)
	}
	return c.write(payload)
}

func (h *Handler) logStats(id string, done <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(h.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s, err := h.sessions.Summary(id)
			if err != nil {
				return
			}
			if s.FramesReceived == 0 {
				continue
			}
			logger.Info().
				Int("received", s.FramesReceived).
				Int("processed", s.FramesProcessed).
				Int("failed", s.FramesFailed).
				Int("dropped", s.FramesDropped).
				Float64("fps", s.FPS).
				Str("mode", s.Mode).
				Msg("connection stats")
		}
	}
}

// watch relays a session's frame results to an observer.
func (h *Handler) watch(c *websocket.Conn) {
	client := h.hub.Register(c.Params("sessionID"))
	defer h.hub.Unregister(client)

	done := make(chan struct{})
	go func() {
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		close(done)
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(client)
	<-done
}
