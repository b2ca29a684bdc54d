package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/internal/storage/memory"
	"github.com/shardfall/shardfall/pkg/streaming"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Server, *memory.Backend) {
	t.Helper()
	mem := memory.New()
	s, err := New(cfg, mem, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv, s, mem
}

func dial(t *testing.T, srv *httptest.Server, query string) *ws.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	c, _, err := ws.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *ws.Conn, msgType, id string, payload any) {
	t.Helper()
	data, err := streaming.Marshal(msgType, id, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(ws.TextMessage, data))
}

// next reads frames until one with the wanted type arrives.
func next(t *testing.T, c *ws.Conn, wantType string) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &m))
		var typ string
		require.NoError(t, json.Unmarshal(m["type"], &typ))
		if typ == wantType {
			return m
		}
	}
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestSecretRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Secret: "abc"})
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?secret=nope"
	_, resp, err := ws.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, srv, "?secret=abc")
}

func TestWriteThenRead(t *testing.T) {
	srv, _, mem := newTestServer(t, Config{})
	c := dial(t, srv, "")

	send(t, c, streaming.TypeWrite, "w1", streaming.WriteRequest{Path: "players/p1", Value: json.RawMessage(`{"x":1}`)})
	ack := next(t, c, streaming.TypeAck)
	assert.Equal(t, "w1", str(t, ack["id"]))
	assert.Nil(t, ack["error"])

	snap, err := mem.Read(context.Background(), "players/p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(snap.Value))

	send(t, c, streaming.TypeRead, "r1", streaming.ReadRequest{Path: "players"})
	ack = next(t, c, streaming.TypeAck)
	var res streaming.ReadResult
	require.NoError(t, json.Unmarshal(ack["result"], &res))
	assert.JSONEq(t, `{"x":1}`, string(res.Children["p1"]))
}

func TestBadRequestsAreAckedWithError(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	c := dial(t, srv, "")

	send(t, c, "teleport", "t1", map[string]string{})
	ack := next(t, c, streaming.TypeAck)
	assert.Contains(t, str(t, ack["error"]), "unknown command")

	send(t, c, streaming.TypeWrite, "w1", streaming.WriteRequest{Path: "players", Value: json.RawMessage(`{}`)})
	ack = next(t, c, streaming.TypeAck)
	assert.Contains(t, str(t, ack["error"]), "invalid path")
}

func TestSubscribePushesChanges(t *testing.T) {
	srv, s, mem := newTestServer(t, Config{})
	ctx := context.Background()
	require.NoError(t, mem.Write(ctx, "resources/r1", json.RawMessage(`{"v":1}`)))

	c := dial(t, srv, "")
	send(t, c, streaming.TypeSubscribe, "s1", streaming.SubscribeRequest{SubID: "sub-a", Path: "resources"})

	change := next(t, c, streaming.TypeChange)
	assert.Equal(t, "sub-a", str(t, change["subId"]))
	assert.Equal(t, "resources/r1", str(t, change["path"]))
	next(t, c, streaming.TypeAck)

	require.NoError(t, mem.Write(ctx, "resources/r2", json.RawMessage(`{"v":2}`)))
	change = next(t, c, streaming.TypeChange)
	assert.Equal(t, "resources/r2", str(t, change["path"]))

	send(t, c, streaming.TypeUnsubscribe, "u1", streaming.UnsubscribeRequest{SubID: "sub-a"})
	next(t, c, streaming.TypeAck)
	assert.Equal(t, 1, s.Clients())
}

func TestWriteRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{WriteRate: 0.001, WriteBurst: 1})
	c := dial(t, srv, "")

	send(t, c, streaming.TypeWrite, "w1", streaming.WriteRequest{Path: "players/p", Value: json.RawMessage(`1`)})
	ack := next(t, c, streaming.TypeAck)
	assert.Nil(t, ack["error"])

	send(t, c, streaming.TypeWrite, "w2", streaming.WriteRequest{Path: "players/p", Value: json.RawMessage(`2`)})
	ack = next(t, c, streaming.TypeAck)
	assert.Equal(t, "rate limited", str(t, ack["error"]))
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	srv, s, mem := newTestServer(t, Config{})
	c := dial(t, srv, "")
	send(t, c, streaming.TypeSubscribe, "s1", streaming.SubscribeRequest{SubID: "x", Path: "players"})
	next(t, c, streaming.TypeAck)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// writing after the client left must not block or panic
	require.NoError(t, mem.Write(context.Background(), "players/p", json.RawMessage(`1`)))
}
