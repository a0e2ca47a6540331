package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"ratiowatch/internal/model"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 16 * time.Second
)

// WebSocketClient streams quotes pushed by a WebSocket server.
type WebSocketClient struct {
	logger    *slog.Logger
	url       string
	subscribe string
	dialer    *websocket.Dialer
}

// NewWebSocketClient creates a new WebSocketClient. If subscribe is not empty it is sent as a
// text message after every successful connect.
func NewWebSocketClient(logger *slog.Logger, url, subscribe string) *WebSocketClient {
	return &WebSocketClient{
		logger:    logger,
		url:       url,
		subscribe: subscribe,
		dialer:    websocket.DefaultDialer,
	}
}

func (w *WebSocketClient) Name() string {
	return "websocket"
}

// Stream connects to the server and pushes decoded quotes to out, reconnecting with exponential
// backoff until ctx is cancelled.
func (w *WebSocketClient) Stream(ctx context.Context, out chan<- []model.Observation) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			w.logger.Info("WebSocketClient: context cancelled, shutting down")
			return nil
		}

		w.logger.Info("WebSocketClient: connecting", "url", w.url, "backoff", backoff)
		c, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			w.logger.Error("WebSocketClient: connection failed", "error", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if w.subscribe != "" {
			if err := c.WriteMessage(websocket.TextMessage, []byte(w.subscribe)); err != nil {
				w.logger.Error("WebSocketClient: failed to send subscription", "error", err)
				c.Close()
				if !sleep(ctx, backoff) {
					return nil
				}
				backoff = nextBackoff(backoff)
				continue
			}
		}

		backoff = initialBackoff
		w.logger.Info("WebSocketClient: connected successfully")

		if done := w.readLoop(ctx, c, out); done {
			return nil
		}
	}
}

// readLoop reads until the connection fails or ctx is cancelled. It reports whether the
// stream should stop.
func (w *WebSocketClient) readLoop(ctx context.Context, c *websocket.Conn, out chan<- []model.Observation) bool {
	// ReadMessage does not take a context, so closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("WebSocketClient: context cancelled, closing connection")
				return true
			}
			w.logger.Error("WebSocketClient: failed to read message", "error", err)
			return false
		}

		observations, err := DecodeQuotes(message)
		if err != nil {
			w.logger.Warn("WebSocketClient: failed to parse message", "error", err)
			continue
		}
		if len(observations) == 0 {
			continue
		}

		select {
		case out <- observations:
			w.logger.Debug("WebSocketClient: sent observations", "count", len(observations))
		case <-ctx.Done():
			w.logger.Info("WebSocketClient: context cancelled while sending observations")
			return true
		}
	}
}

func nextBackoff(b time.Duration) time.Duration {
	return min(b*2, maxBackoff)
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
