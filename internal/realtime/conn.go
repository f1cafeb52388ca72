package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

// Conn represents a websocket connection to the channel service
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to url
type Dialer func(ctx context.Context, url string) (Conn, error)

// websocketConn implements Conn using gorilla/websocket
type websocketConn struct {
	conn      *websocket.Conn
	writeChan chan []byte
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
	closeChan chan struct{}
	writeWait time.Duration
}

// NewWebSocketConn wraps conn with a single writer goroutine
func NewWebSocketConn(conn *websocket.Conn, maxMsgSize int64, writeWait time.Duration, writeChanSize int) *websocketConn {
	c := &websocketConn{
		conn:      conn,
		writeChan: make(chan []byte, writeChanSize),
		closeChan: make(chan struct{}),
		writeWait: writeWait,
	}

	conn.SetReadLimit(maxMsgSize)

	go c.writeLoop()

	return c
}

// WebSocketDialer returns a Dialer backed by gorilla/websocket
func WebSocketDialer(maxMsgSize int64, writeWait time.Duration, writeChanSize int) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return NewWebSocketConn(conn, maxMsgSize, writeWait, writeChanSize), nil
	}
}

// writeLoop handles all writes to the connection (single writer pattern)
func (c *websocketConn) writeLoop() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.writeChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("realtime write message error: %v", err)
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// ReadMessage reads a message from the connection
func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	return message, err
}

// WriteMessage queues a message to be written
func (c *websocketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.writeChan <- data:
		return nil
	default:
		return ErrWriteChannelFull
	}
}

// Close closes the connection
func (c *websocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		close(c.writeChan)
		c.writeMu.Unlock()

		close(c.closeChan)
		// unblock a reader waiting on a silent peer
		c.conn.SetReadDeadline(time.Now())
	})
	return nil
}
