package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chirp/cmd/internal/auth/session"
	v1 "chirp/shared/contracts/realtime/v1"

	"github.com/google/uuid"
)

// Hub tracks live connections by user and pushes account events to them.
// It implements session.Notifier.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	byUser map[session.UserID]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		byUser: make(map[session.UserID]map[string]*Client),
	}
}

var _ session.Notifier = (*Hub)(nil)

// Register adds c. When the user is at the connection cap the oldest
// connection is closed to make room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byUser[c.UserID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
	}

	if len(conns) >= maxConnsPerUser {
		var oldest *Client
		for _, other := range conns {
			if oldest == nil || other.ConnectedAt.Before(oldest.ConnectedAt) {
				oldest = other
			}
		}
		delete(conns, oldest.ID)
		oldest.Close()
		h.log.Info("ws.evict", "user_id", string(c.UserID), "conn_id", oldest.ID)
	}
	conns[c.ID] = c
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byUser[c.UserID]
	if conns == nil {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(h.byUser, c.UserID)
	}
}

// Count returns the number of live connections for userID.
func (h *Hub) Count(userID session.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// NotifySessionRevoked queues a session_revoked envelope on every connection
// of userID. Connections whose queue is full are closed outright. The
// gateway closes each socket after writing the envelope.
func (h *Hub) NotifySessionRevoked(ctx context.Context, userID session.UserID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(v1.SessionRevokedPayload{Message: message})
	if err != nil {
		return err
	}
	env := newEnvelope(v1.TypeSessionRevoked, payload, time.Now().UTC())

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Offer(env) {
			c.Close()
		}
	}

	h.log.Info("ws.session_revoked", "user_id", string(userID), "conns", len(targets))
	return nil
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}
