package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceID_Deterministic(t *testing.T) {
	a := ResourceID(Position{X: 100.4, Y: -20.6}, Rare)
	b := ResourceID(Position{X: 100.2, Y: -21.0}, Rare)
	assert.Equal(t, "res_100_-21_2", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ResourceID(Position{X: 100, Y: -21}, Common))
}

func TestDecodePlayerRecord(t *testing.T) {
	raw := `{
		"position": {"x": 10, "y": 20},
		"targetPosition": {"x": 30, "y": 40, "timestamp": 1700000000000},
		"isMoving": true,
		"displayName": "Ada",
		"color": "#ff0000",
		"lastUpdated": 1700000000001
	}`
	rec, err := DecodePlayerRecord([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, Position{X: 10, Y: 20}, rec.Position)
	require.NotNil(t, rec.TargetPosition)
	assert.Equal(t, Position{X: 30, Y: 40}, rec.TargetPosition.Position())
	assert.Equal(t, int64(1700000000000), rec.TargetPosition.Timestamp)
	assert.True(t, rec.IsMoving)
	assert.Equal(t, "Ada", rec.DisplayName)
	assert.Equal(t, int64(1700000000001), rec.LastUpdated)
}

func TestDecodePlayerRecord_NullTarget(t *testing.T) {
	rec, err := DecodePlayerRecord([]byte(`{"position":{"x":1,"y":2},"targetPosition":null,"isMoving":false,"lastUpdated":5}`))
	require.NoError(t, err)
	assert.Nil(t, rec.TargetPosition)
	assert.False(t, rec.IsMoving)
}

func TestDecodePlayerRecord_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"no position":     `{"isMoving":false,"lastUpdated":1}`,
		"partial pos":     `{"position":{"x":1},"isMoving":false,"lastUpdated":1}`,
		"no lastUpdated":  `{"position":{"x":1,"y":2},"isMoving":false}`,
		"partial target":  `{"position":{"x":1,"y":2},"targetPosition":{"x":3},"isMoving":true,"lastUpdated":1}`,
		"string position": `{"position":"here","isMoving":false,"lastUpdated":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePlayerRecord([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestDecodeResourceRecord(t *testing.T) {
	raw := `{
		"position": {"x": 5, "y": 6},
		"rarity": 3,
		"isBeingGathered": true,
		"isGathered": false,
		"gatheringPlayerId": "p1",
		"gatheringPlayerName": "Ada",
		"lastUpdated": 42
	}`
	rec, err := DecodeResourceRecord([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, Epic, rec.Rarity)
	assert.True(t, rec.IsBeingGathered)
	assert.Equal(t, "p1", rec.Claimant())
	assert.Equal(t, "Ada", rec.ClaimantName())
	assert.Equal(t, int64(42), rec.LastUpdated)
}

func TestDecodeResourceRecord_Malformed(t *testing.T) {
	cases := map[string]string{
		"unknown rarity":     `{"position":{"x":1,"y":2},"rarity":7}`,
		"missing rarity":     `{"position":{"x":1,"y":2}}`,
		"claim w/o claimant": `{"position":{"x":1,"y":2},"rarity":0,"isBeingGathered":true}`,
		"missing position":   `{"rarity":0}`,
		"rarity is a string": `{"position":{"x":1,"y":2},"rarity":"RARE"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeResourceRecord([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestResourceRecord_EncodesNullClaimant(t *testing.T) {
	b, err := EncodeRecord(ResourceRecord{Position: Position{X: 1, Y: 2}, Rarity: Common, LastUpdated: 9})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "gatheringPlayerId")
	assert.Nil(t, m["gatheringPlayerId"])
	assert.Nil(t, m["gatheringPlayerName"])
	assert.Equal(t, float64(0), m["rarity"])
}

func TestPlayerRecord_EncodesNullTarget(t *testing.T) {
	b, err := EncodeRecord(PlayerRecord{Position: Position{X: 1, Y: 2}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"targetPosition":null`)
}
