// Package relay exposes a storage.Backend to remote clients over WebSocket.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shardfall/shardfall/internal/dispatcher"
	"github.com/shardfall/shardfall/internal/logging"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/pkg/streaming"
)

const (
	clientSendSize = 512
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Config holds relay settings.
type Config struct {
	Secret         string        // required as ?secret= when set
	WriteRate      float64       // writes per second per connection, 0 for unlimited
	WriteBurst     int
	RequestTimeout time.Duration // per request backend deadline
}

// Server serves the store protocol on /ws and a health check on /healthz.
type Server struct {
	backend    storage.Backend
	cfg        Config
	log        zerolog.Logger
	dispatcher *dispatcher.Dispatcher
	upgrader   ws.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a relay in front of backend. The backend must already be initialised.
func New(cfg Config, backend storage.Backend, log zerolog.Logger) (*Server, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	d, err := dispatcher.New(logging.NewDispatcherLogger(log))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	s := &Server{
		backend:    backend,
		cfg:        cfg,
		log:        log,
		dispatcher: d,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	s.registerHandlers()
	return s, nil
}

func (s *Server) registerHandlers() {
	timeout := dispatcher.Timeout(s.cfg.RequestTimeout)
	s.dispatcher.Register(streaming.TypeRead, s.handleRead, timeout, dispatcher.Logged())
	s.dispatcher.Register(streaming.TypeWrite, s.handleWrite, timeout, dispatcher.Logged())
	s.dispatcher.Register(streaming.TypeSubscribe, s.handleSubscribe, dispatcher.Logged())
	s.dispatcher.Register(streaming.TypeUnsubscribe, s.handleUnsubscribe, dispatcher.Logged())
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.Clients(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret != "" && r.URL.Query().Get("secret") != s.cfg.Secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
		subs: make(map[string]storage.Unsubscribe),
		done: make(chan struct{}),
		log:  s.log,
	}
	if s.cfg.WriteRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.WriteRate), max(1, s.cfg.WriteBurst))
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info().Str("conn", c.id).Str("remote", r.RemoteAddr).Msg("Client connected")

	go c.writePump()
	s.readPump(c)

	c.shutdown()
	c.unsubscribeAll()
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.Info().Str("conn", c.id).Msg("Client disconnected")
}

func (s *Server) client(id string) (*client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.log.Warn().Err(err).Str("conn", c.id).Msg("Read error")
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debug().Str("conn", c.id).Msg("Dropping undecodable frame")
			continue
		}

		ack := streaming.AckMessage{Type: streaming.TypeAck, For: env.Type, ID: env.ID}
		if env.Type == streaming.TypeWrite && c.limiter != nil && !c.limiter.Allow() {
			ack.Error = "rate limited"
			c.push(ack)
			continue
		}

		result, err := s.dispatcher.Dispatch(context.Background(), dispatcher.Event{
			Command:   env.Type,
			ID:        env.ID,
			ConnID:    c.id,
			Payload:   env.Payload,
			Timestamp: time.Now(),
		})
		if err != nil {
			ack.Error = err.Error()
		} else if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				ack.Error = err.Error()
			} else {
				ack.Result = raw
			}
		}
		c.push(ack)
	}
}

func (s *Server) handleRead(ctx context.Context, e dispatcher.Event) (any, error) {
	var req streaming.ReadRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("bad read payload: %w", err)
	}
	snap, err := s.backend.Read(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	return streaming.ReadResult{Path: snap.Path, Value: snap.Value, Children: snap.Children}, nil
}

func (s *Server) handleWrite(ctx context.Context, e dispatcher.Event) (any, error) {
	var req streaming.WriteRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("bad write payload: %w", err)
	}
	return nil, s.backend.Write(ctx, req.Path, req.Value)
}

func (s *Server) handleSubscribe(_ context.Context, e dispatcher.Event) (any, error) {
	var req streaming.SubscribeRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("bad subscribe payload: %w", err)
	}
	if req.SubID == "" {
		return nil, fmt.Errorf("subscribe without subId")
	}
	c, ok := s.client(e.ConnID)
	if !ok {
		return nil, fmt.Errorf("unknown connection %s", e.ConnID)
	}

	subID := req.SubID
	unsub, err := s.backend.Subscribe(req.Path, func(snap storage.Snapshot) {
		c.push(streaming.ChangeMessage{Type: streaming.TypeChange, SubID: subID, Path: snap.Path, Value: snap.Value})
	})
	if err != nil {
		return nil, err
	}
	c.addSub(subID, unsub)
	return nil, nil
}

func (s *Server) handleUnsubscribe(_ context.Context, e dispatcher.Event) (any, error) {
	var req streaming.UnsubscribeRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("bad unsubscribe payload: %w", err)
	}
	c, ok := s.client(e.ConnID)
	if !ok {
		return nil, fmt.Errorf("unknown connection %s", e.ConnID)
	}
	c.removeSub(req.SubID)
	return nil, nil
}
