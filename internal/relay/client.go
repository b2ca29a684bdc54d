package relay

import (
	"encoding/json"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shardfall/shardfall/internal/storage"
)

// client is one connected store client.
type client struct {
	id      string
	conn    *ws.Conn
	send    chan []byte
	limiter *rate.Limiter
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[string]storage.Unsubscribe

	once sync.Once
	done chan struct{}
}

// push queues a message. A client that cannot keep up is disconnected; it
// gets full state again when it resubscribes.
func (c *client) push(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode outbound message")
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Warn().Str("conn", c.id).Msg("Client too slow, disconnecting")
		c.shutdown()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = c.conn.Close()
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.shutdown()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) addSub(id string, unsub storage.Unsubscribe) {
	c.mu.Lock()
	prev := c.subs[id]
	c.subs[id] = unsub
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (c *client) removeSub(id string) {
	c.mu.Lock()
	unsub := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *client) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]storage.Unsubscribe)
	c.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}
