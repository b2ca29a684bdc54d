// Package streaming defines the WebSocket protocol between store clients and
// the relay server.
package streaming

import (
	"encoding/json"
)

// Message type constants matching the streaming protocol.
const (
	TypeRead        = "read"
	TypeWrite       = "write"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeChange      = "change"
	TypeAck         = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // request id, echoed in the ack
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's response to a request envelope.
type AckMessage struct {
	Type   string          `json:"type"` // always "ack"
	For    string          `json:"for"`  // the message type being acknowledged
	ID     string          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ReadRequest asks for the value at Path.
type ReadRequest struct {
	Path string `json:"path"`
}

// ReadResult is the Result of a read ack.
type ReadResult struct {
	Path     string                     `json:"path"`
	Value    json.RawMessage            `json:"value,omitempty"`
	Children map[string]json.RawMessage `json:"children,omitempty"`
}

// WriteRequest replaces the value at Path.
type WriteRequest struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// SubscribeRequest opens a subscription identified by the client chosen SubID.
type SubscribeRequest struct {
	SubID string `json:"subId"`
	Path  string `json:"path"`
}

// UnsubscribeRequest closes a subscription.
type UnsubscribeRequest struct {
	SubID string `json:"subId"`
}

// ChangeMessage is pushed by the server for every change on a subscription.
type ChangeMessage struct {
	Type  string          `json:"type"` // always "change"
	SubID string          `json:"subId"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, ID: id, Payload: raw})
}
