package websocket

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 1024
	outboxSize   = 4096
	maxBackoff   = 30 * time.Second
	firstBackoff = time.Second
	writeWait    = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine and
// transparent reconnects.
type connection struct {
	mu        sync.Mutex
	conn      *ws.Conn
	linkDone  chan struct{} // closed when conn is torn down
	connected bool
	sendCh    chan []byte
	done      chan struct{} // closed on shutdown
	closed    bool

	wsURL        string
	secret       string
	maxReconnect int // 0 retries forever
	backoff      time.Duration

	// onMessage receives every inbound frame on the read goroutine.
	onMessage func([]byte)
	// onDisconnect runs once per lost link, before reconnecting starts.
	onDisconnect func()
	// replay returns frames written on a fresh link before normal traffic resumes.
	replay func() [][]byte
	// onReconnect runs after the read/write loops restarted.
	onReconnect func()

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		backoff: firstBackoff,
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.linkDone = make(chan struct{})
	linkDone := c.linkDone
	c.connected = true
	c.mu.Unlock()

	go c.writeLoop(conn, linkDone)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// writeLoop drains sendCh and writes messages to conn.
// Only one writeLoop runs at a time; it returns on error, link loss or shutdown.
func (c *connection) writeLoop(conn *ws.Conn, linkDone <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-linkDone:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop hands every inbound frame to onMessage.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// reconnect re-establishes the link with exponential backoff. Both loops of a
// broken link call it; only the first call for that link does anything.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.linkDone)
	c.connected = false
	c.mu.Unlock()

	if c.onDisconnect != nil {
		c.onDisconnect()
	}

	backoff := c.backoff
	for attempt := 1; c.maxReconnect == 0 || attempt <= c.maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if !c.replayOn(conn) {
			_ = conn.Close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.linkDone = make(chan struct{})
		linkDone := c.linkDone
		c.connected = true
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn, linkDone)
		go c.readLoop(conn)
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", c.maxReconnect)
}

// replayOn writes the replay frames straight to a fresh link.
func (c *connection) replayOn(conn *ws.Conn) bool {
	if c.replay == nil {
		return true
	}
	for _, frame := range c.replay() {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warn("Failed to set deadline for replay", "error", err)
			return false
		}
		if err := conn.WriteMessage(ws.TextMessage, frame); err != nil {
			c.logger.Warn("Failed to replay after reconnect", "error", err)
			return false
		}
	}
	return true
}

// send pushes data to the write loop. Non-blocking; reports false if the
// channel is full or the connection is shut down.
func (c *connection) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
