package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	channelPrefix = "formcoach:"
	channelSuffix = ":results"
)

// Hub fans a session's frame results out to its observers. With a redis client the
// results are also relayed to observers connected to other instances.
type Hub struct {
	redis   *redis.Client
	origin  string
	logger  zerolog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	pubsub  *redis.PubSub
	done    chan struct{}
}

type Client struct {
	SessionID string
	Send      chan []byte
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client, logger zerolog.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}

	ctx := context.Background()
	h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	if _, err := h.pubsub.Receive(ctx); err != nil {
		h.logger.Error().Err(err).Msg("redis subscribe")
	}
	go h.subscribeRedis()
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Observers returns the number of local observers of a session.
func (h *Hub) Observers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Broadcast delivers payload to local observers without blocking; slow observers miss
// messages. The payload is also published for other instances.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(relayEnvelope{Origin: h.origin, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode relay envelope")
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(sessionID), msg).Err(); err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("redis publish")
	}
}

// Close stops the redis relay.
func (h *Hub) Close() {
	if h.pubsub != nil {
		_ = h.pubsub.Close()
	}
	<-h.done
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)

	for msg := range h.pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		if sessionID == "" {
			continue
		}
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed relay message")
			continue
		}
		if env.Origin == h.origin {
			continue
		}
		h.deliver(sessionID, env.Payload)
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	// formcoach:{session}:results
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
