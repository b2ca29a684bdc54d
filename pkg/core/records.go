package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Collection names in the shared store.
const (
	PlayersCollection   = "players"
	ResourcesCollection = "resources"
)

// ErrMalformedRecord is returned when a store value does not have the expected shape.
var ErrMalformedRecord = errors.New("malformed record")

// PlayerRecord is the value stored at players/{id}. Only its owner writes it.
type PlayerRecord struct {
	Position       Position        `json:"position"`
	TargetPosition *TargetPosition `json:"targetPosition"`
	IsMoving       bool            `json:"isMoving"`
	DisplayName    string          `json:"displayName"`
	Color          string          `json:"color"`
	LastUpdated    int64           `json:"lastUpdated"`
}

// ResourceRecord is the value stored at resources/{id}.
type ResourceRecord struct {
	Position            Position `json:"position"`
	Rarity              Rarity   `json:"rarity"`
	IsBeingGathered     bool     `json:"isBeingGathered"`
	IsGathered          bool     `json:"isGathered"`
	GatheringPlayerID   *string  `json:"gatheringPlayerId"`
	GatheringPlayerName *string  `json:"gatheringPlayerName"`
	LastUpdated         int64    `json:"lastUpdated"`
}

// Claimant returns the gathering player id, or "" when nobody holds the node.
func (r ResourceRecord) Claimant() string {
	if r.GatheringPlayerID == nil {
		return ""
	}
	return *r.GatheringPlayerID
}

// ClaimantName returns the gathering player name, or "".
func (r ResourceRecord) ClaimantName() string {
	if r.GatheringPlayerName == nil {
		return ""
	}
	return *r.GatheringPlayerName
}

// PlayerPath is the store path of a player record.
func PlayerPath(id string) string {
	return PlayersCollection + "/" + id
}

// ResourcePath is the store path of a resource record.
func ResourcePath(id string) string {
	return ResourcesCollection + "/" + id
}

// ResourceID derives the stable key of a node from its rounded position and tier,
// so every client computes the same id for the same catalog entry.
func ResourceID(pos Position, rarity Rarity) string {
	return fmt.Sprintf("res_%d_%d_%d", int64(math.Round(pos.X)), int64(math.Round(pos.Y)), int(rarity))
}

// Millis converts t to the epoch-millisecond stamps carried by records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// wire shapes use pointers so missing fields can be told apart from zero values

type wirePosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (w *wirePosition) value() (Position, bool) {
	if w == nil || w.X == nil || w.Y == nil {
		return Position{}, false
	}
	return Position{X: *w.X, Y: *w.Y}, true
}

type wireTarget struct {
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Timestamp *int64   `json:"timestamp"`
}

type wirePlayer struct {
	Position       *wirePosition `json:"position"`
	TargetPosition *wireTarget   `json:"targetPosition"`
	IsMoving       *bool         `json:"isMoving"`
	DisplayName    *string       `json:"displayName"`
	Color          *string       `json:"color"`
	LastUpdated    *int64        `json:"lastUpdated"`
}

type wireResource struct {
	Position            *wirePosition `json:"position"`
	Rarity              *int          `json:"rarity"`
	IsBeingGathered     *bool         `json:"isBeingGathered"`
	IsGathered          *bool         `json:"isGathered"`
	GatheringPlayerID   *string       `json:"gatheringPlayerId"`
	GatheringPlayerName *string       `json:"gatheringPlayerName"`
	LastUpdated         *int64        `json:"lastUpdated"`
}

// DecodePlayerRecord validates raw store data into a PlayerRecord.
func DecodePlayerRecord(data []byte) (PlayerRecord, error) {
	var w wirePlayer
	if err := json.Unmarshal(data, &w); err != nil {
		return PlayerRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	pos, ok := w.Position.value()
	if !ok {
		return PlayerRecord{}, fmt.Errorf("%w: player position missing", ErrMalformedRecord)
	}
	if w.IsMoving == nil || w.LastUpdated == nil {
		return PlayerRecord{}, fmt.Errorf("%w: player isMoving/lastUpdated missing", ErrMalformedRecord)
	}
	rec := PlayerRecord{
		Position:    pos,
		IsMoving:    *w.IsMoving,
		LastUpdated: *w.LastUpdated,
	}
	if w.DisplayName != nil {
		rec.DisplayName = *w.DisplayName
	}
	if w.Color != nil {
		rec.Color = *w.Color
	}
	if t := w.TargetPosition; t != nil {
		if t.X == nil || t.Y == nil {
			return PlayerRecord{}, fmt.Errorf("%w: player target incomplete", ErrMalformedRecord)
		}
		rec.TargetPosition = &TargetPosition{X: *t.X, Y: *t.Y}
		if t.Timestamp != nil {
			rec.TargetPosition.Timestamp = *t.Timestamp
		}
	}
	return rec, nil
}

// DecodeResourceRecord validates raw store data into a ResourceRecord.
func DecodeResourceRecord(data []byte) (ResourceRecord, error) {
	var w wireResource
	if err := json.Unmarshal(data, &w); err != nil {
		return ResourceRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	pos, ok := w.Position.value()
	if !ok {
		return ResourceRecord{}, fmt.Errorf("%w: resource position missing", ErrMalformedRecord)
	}
	if w.Rarity == nil || !Rarity(*w.Rarity).Valid() {
		return ResourceRecord{}, fmt.Errorf("%w: resource rarity missing or unknown", ErrMalformedRecord)
	}
	rec := ResourceRecord{
		Position:            pos,
		Rarity:              Rarity(*w.Rarity),
		GatheringPlayerID:   w.GatheringPlayerID,
		GatheringPlayerName: w.GatheringPlayerName,
	}
	if w.IsBeingGathered != nil {
		rec.IsBeingGathered = *w.IsBeingGathered
	}
	if w.IsGathered != nil {
		rec.IsGathered = *w.IsGathered
	}
	if w.LastUpdated != nil {
		rec.LastUpdated = *w.LastUpdated
	}
	if rec.IsBeingGathered && rec.Claimant() == "" {
		return ResourceRecord{}, fmt.Errorf("%w: resource claimed without claimant", ErrMalformedRecord)
	}
	return rec, nil
}

// EncodeRecord marshals a record for a store write.
func EncodeRecord(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// StringPtr is a helper for the nullable claimant fields.
func StringPtr(s string) *string {
	return &s
}
