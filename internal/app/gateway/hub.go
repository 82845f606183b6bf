package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
)

type delivery struct {
	sessionID string
	payload   []byte
	result    chan bool
}

// Hub owns the set of live connections, one per session. All map access
// happens on the Run goroutine.
type Hub struct {
	clients map[string]*Client
	log     *slog.Logger

	RegisterCh   chan *Client
	UnregisterCh chan *Client
	deliverCh    chan delivery
	done         chan struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:      make(map[string]*Client),
		log:          log,
		RegisterCh:   make(chan *Client),
		UnregisterCh: make(chan *Client),
		deliverCh:    make(chan delivery),
		done:         make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.close(c)
			}
			return nil
		case c := <-h.RegisterCh:
			if old, ok := h.clients[c.SessionID]; ok {
				h.log.Info("session reconnected, closing previous connection", "session", c.SessionID)
				h.close(old)
			}
			h.clients[c.SessionID] = c
			h.log.Info("registered client", "session", c.SessionID)
		case c := <-h.UnregisterCh:
			if cur, ok := h.clients[c.SessionID]; ok && cur == c {
				delete(h.clients, c.SessionID)
			}
			h.close(c)
			h.log.Info("unregistered client", "session", c.SessionID)
		case d := <-h.deliverCh:
			d.result <- h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d delivery) bool {
	c, ok := h.clients[d.sessionID]
	if !ok {
		return false
	}
	select {
	case c.send <- d.payload:
		return true
	default:
		h.log.Warn("client send buffer full, dropping message", "session", d.sessionID)
		return false
	}
}

func (h *Hub) close(c *Client) {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.log.Warn("error closing client websocket conn", "session", c.SessionID, "err", err)
	}
}

// Deliver queues payload for the session's connection and reports whether
// the session was connected.
func (h *Hub) Deliver(ctx context.Context, sessionID string, payload []byte) bool {
	d := delivery{sessionID: sessionID, payload: payload, result: make(chan bool, 1)}
	select {
	case h.deliverCh <- d:
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
	select {
	case ok := <-d.result:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) Register(ctx context.Context, c *Client) bool {
	select {
	case h.RegisterCh <- c:
		return true
	case <-ctx.Done():
	case <-h.done:
	}
	h.close(c)
	return false
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
		h.close(c)
	}
}
