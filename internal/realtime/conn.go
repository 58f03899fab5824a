package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/baechuer/activity-sync/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 64
)

var (
	errConnClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
)

// conn is one live socket: a read pump dispatching frames and a write pump
// that owns every write to the socket.
type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	onEvent func(Frame)

	mu      sync.Mutex
	pending map[string]chan Frame

	done     chan struct{} // asks the write pump to stop
	stopOnce sync.Once
	closed   chan struct{} // read pump exited; socket is gone
}

func dial(ctx context.Context, url, token string, onEvent func(Frame)) (*conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := &conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		onEvent: onEvent,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *conn) readPump() {
	defer func() {
		c.stop()
		c.ws.Close()
		close(c.closed)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn().Err(err).Msg("channel_read_failed")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			logger.Log.Warn().Err(err).Msg("channel_frame_invalid")
			continue
		}
		c.handle(f)
	}
}

func (c *conn) handle(f Frame) {
	switch f.Type {
	case FrameCompletion:
		c.mu.Lock()
		ch, ok := c.pending[f.InvocationID]
		delete(c.pending, f.InvocationID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case FrameEvent:
		if c.onEvent != nil {
			c.onEvent(f)
		}
	default:
		logger.Log.Debug().Str("type", string(f.Type)).Msg("channel_frame_ignored")
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// invoke sends target(args...) and waits for its completion.
func (c *conn) invoke(ctx context.Context, target string, args ...any) error {
	encoded, err := encodeArgs(args...)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	data, err := json.Marshal(Frame{
		Type:         FrameInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    encoded,
	})
	if err != nil {
		return err
	}

	reply := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.send <- data:
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errSendFull
	}

	select {
	case f := <-reply:
		if f.Error != "" {
			return errors.New(f.Error)
		}
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// close stops the pumps and waits for the socket to go away.
func (c *conn) close() {
	c.stop()
	select {
	case <-c.closed:
	case <-time.After(writeWait):
		c.ws.Close()
		<-c.closed
	}
}
