// Package websocket implements storage.Backend as a client of the relay
// server. Requests are correlated with acks by id; writes made while the link
// is down are kept in an outbox (latest value per path) and flushed after the
// next reconnect, together with a replay of every open subscription.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shardfall/shardfall/internal/queue"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL          string
	Secret       string
	Timeout      time.Duration // per request when the caller's context has no deadline
	MaxReconnect int           // 0 retries forever
}

type subscription struct {
	path string
	fn   storage.ChangeFunc
}

// Backend talks to a relay server over one WebSocket.
type Backend struct {
	conn   *connection
	cfg    Config
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]chan streaming.AckMessage

	subsMu sync.RWMutex
	subs   map[string]subscription

	outbox *queue.Queue[string, json.RawMessage]
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	b := &Backend{
		conn:    newConnection(logger),
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan streaming.AckMessage),
		subs:    make(map[string]subscription),
		outbox:  queue.New[string, json.RawMessage](outboxSize),
	}
	b.conn.maxReconnect = cfg.MaxReconnect
	b.conn.onMessage = b.handleMessage
	b.conn.onDisconnect = b.failPending
	b.conn.replay = b.subscribeFrames
	b.conn.onReconnect = b.flushOutbox
	return b
}

// Init connects to the relay server and sends any writes queued before it.
func (b *Backend) Init() error {
	if err := b.conn.dial(b.cfg.URL, b.cfg.Secret); err != nil {
		return err
	}
	b.flushOutbox()
	return nil
}

// Close disconnects from the relay server.
func (b *Backend) Close() error {
	err := b.conn.close()
	b.failPending()
	return err
}

// Connected reports whether the link is currently up.
func (b *Backend) Connected() bool {
	return b.conn.isConnected()
}

// Queued returns the number of writes waiting for the link to come back.
func (b *Backend) Queued() int {
	return b.outbox.Len()
}

// Read fetches the value at path from the relay.
func (b *Backend) Read(ctx context.Context, path string) (storage.Snapshot, error) {
	if _, err := storage.ParsePath(path); err != nil {
		return storage.Snapshot{}, err
	}
	ack, err := b.request(ctx, streaming.TypeRead, streaming.ReadRequest{Path: path})
	if err != nil {
		return storage.Snapshot{}, err
	}
	var res streaming.ReadResult
	if len(ack.Result) > 0 {
		if err := json.Unmarshal(ack.Result, &res); err != nil {
			return storage.Snapshot{}, fmt.Errorf("decode read result: %w", err)
		}
	}
	return storage.Snapshot{Path: path, Value: res.Value, Children: res.Children}, nil
}

// Write sends the value to the relay and waits for its ack. While the link is
// down the write is queued and nil is returned.
func (b *Backend) Write(ctx context.Context, path string, value json.RawMessage) error {
	p, err := storage.ParsePath(path)
	if err != nil {
		return err
	}
	if p.IsCollection() {
		return storage.ErrInvalidPath
	}
	if !b.Connected() {
		b.enqueue(path, value)
		return nil
	}
	_, err = b.request(ctx, streaming.TypeWrite, streaming.WriteRequest{Path: path, Value: value})
	if errors.Is(err, storage.ErrDisconnected) {
		b.enqueue(path, value)
		return nil
	}
	return err
}

func (b *Backend) enqueue(path string, value json.RawMessage) {
	if b.outbox.Push(path, append(json.RawMessage(nil), value...)) {
		b.logger.Warn("Outbox full, dropped oldest queued write")
	}
	b.logger.Debug("Write queued while disconnected", "path", path, "queued", b.outbox.Len())
}

// Subscribe registers fn and asks the relay to stream path. The relay replays
// current state on every (re)subscribe.
func (b *Backend) Subscribe(path string, fn storage.ChangeFunc) (storage.Unsubscribe, error) {
	if _, err := storage.ParsePath(path); err != nil {
		return nil, err
	}
	subID := uuid.NewString()

	b.subsMu.Lock()
	b.subs[subID] = subscription{path: path, fn: fn}
	b.subsMu.Unlock()

	if b.Connected() {
		data, err := streaming.Marshal(streaming.TypeSubscribe, subID, streaming.SubscribeRequest{SubID: subID, Path: path})
		if err != nil {
			return nil, err
		}
		b.conn.send(data)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, subID)
			b.subsMu.Unlock()
			if data, err := streaming.Marshal(streaming.TypeUnsubscribe, subID, streaming.UnsubscribeRequest{SubID: subID}); err == nil && b.Connected() {
				b.conn.send(data)
			}
		})
	}, nil
}

// request sends one envelope and waits for the matching ack.
func (b *Backend) request(ctx context.Context, msgType string, payload any) (streaming.AckMessage, error) {
	if !b.Connected() {
		return streaming.AckMessage{}, storage.ErrDisconnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	id := uuid.NewString()
	data, err := streaming.Marshal(msgType, id, payload)
	if err != nil {
		return streaming.AckMessage{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	ch := make(chan streaming.AckMessage, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	if !b.conn.send(data) {
		return streaming.AckMessage{}, storage.ErrDisconnected
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return streaming.AckMessage{}, storage.ErrDisconnected
		}
		if ack.Error != "" {
			return ack, fmt.Errorf("%s rejected: %s", msgType, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return streaming.AckMessage{}, fmt.Errorf("timeout waiting for ack of %q: %w", msgType, ctx.Err())
	}
}

// failPending releases every waiting request with ErrDisconnected.
func (b *Backend) failPending() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}

func (b *Backend) handleMessage(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		b.logger.Debug("Undecodable message received", "raw", string(data))
		return
	}

	switch head.Type {
	case streaming.TypeAck:
		var ack streaming.AckMessage
		if err := json.Unmarshal(data, &ack); err != nil {
			return
		}
		b.pendingMu.Lock()
		ch, ok := b.pending[ack.ID]
		if ok {
			delete(b.pending, ack.ID)
		}
		b.pendingMu.Unlock()
		if ok {
			ch <- ack
		} else if ack.Error != "" {
			b.logger.Warn("Relay rejected request", "for", ack.For, "error", ack.Error)
		}

	case streaming.TypeChange:
		var change streaming.ChangeMessage
		if err := json.Unmarshal(data, &change); err != nil {
			return
		}
		b.subsMu.RLock()
		sub, ok := b.subs[change.SubID]
		b.subsMu.RUnlock()
		if ok {
			sub.fn(storage.Snapshot{Path: change.Path, Value: change.Value})
		}

	default:
		b.logger.Debug("Unknown message type received", "type", head.Type)
	}
}

// subscribeFrames re-opens every live subscription on a fresh link.
func (b *Backend) subscribeFrames() [][]byte {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	frames := make([][]byte, 0, len(b.subs))
	for id, sub := range b.subs {
		data, err := streaming.Marshal(streaming.TypeSubscribe, id, streaming.SubscribeRequest{SubID: id, Path: sub.path})
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

// flushOutbox sends queued writes fire-and-forget; the relay acks them but
// nobody waits.
func (b *Backend) flushOutbox() {
	items := b.outbox.GetAndEmpty()
	if len(items) == 0 {
		return
	}
	b.logger.Info("Flushing queued writes", "count", len(items))
	for _, item := range items {
		data, err := streaming.Marshal(streaming.TypeWrite, uuid.NewString(), streaming.WriteRequest{Path: item.Key, Value: item.Value})
		if err != nil {
			continue
		}
		if !b.conn.send(data) {
			b.enqueue(item.Key, item.Value)
		}
	}
}
