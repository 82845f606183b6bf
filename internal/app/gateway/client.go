package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	pingInterval   = 10 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBuffer     = 8
)

var upgrader = websocket.Upgrader{}

// Client is one live websocket connection, addressed by session id.
type Client struct {
	conn      *websocket.Conn
	SessionID string
	send      chan []byte
	log       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewClient(w http.ResponseWriter, r *http.Request, sessionID string, log *slog.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	return &Client{
		conn:      conn,
		SessionID: sessionID,
		send:      make(chan []byte, sendBuffer),
		log:       log.With("session", sessionID),
	}, nil
}

// Run pumps the connection until it fails or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.PingLoop(gCtx) })
	eg.Go(func() error { return c.writePump(gCtx) })
	eg.Go(func() error {
		err := c.readPump(gCtx)
		if err == nil {
			// peer went away, stop the other pumps
			return errClientClosed
		}
		return err
	})
	err := eg.Wait()
	if errors.Is(err, errClientClosed) {
		return nil
	}
	return err
}

var errClientClosed = errors.New("client closed connection")

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) PingLoop(ctx context.Context) error {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.write(websocket.PingMessage, []byte("PING")); err != nil {
				return fmt.Errorf("ws{%s} failed to send PING - %v", c.SessionID, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("failed to write to websocket - %v", err)
			}
		}
	}
}

// readPump only watches for the peer closing; the gateway does not accept
// inbound messages.
func (c *Client) readPump(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
			c.log.Debug("ignoring inbound websocket message")
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Info("websocket connection closed by the client")
			return nil
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
			c.log.Warn("websocket unexpectedly closed", "err", err)
		}
		return err
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
