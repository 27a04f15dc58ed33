package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"anima/internal/logging"
	"anima/internal/loop"
)

const (
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second
)

// NextBackoff returns the delay to wait after a failed connection
// attempt: doubling from one second up to the thirty-second cap.
func NextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return backoffInitial
	}
	next := current * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// EventClient subscribes to a remote /ws endpoint and delivers each
// event to a handler, reconnecting with exponential backoff.
type EventClient struct {
	URL     string
	Header  map[string][]string
	OnEvent func(loop.Event)
}

// Run dials and re-dials until the context ends. A successful
// connection resets the backoff.
func (c *EventClient) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, c.Header)
		if err != nil {
			backoff = NextBackoff(backoff)
			logging.Server().Debugw("websocket dial failed, retrying",
				"url", c.URL, "backoff", backoff.String(), "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		c.readLoop(ctx, conn)
	}
}

func (c *EventClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		var ev loop.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}
