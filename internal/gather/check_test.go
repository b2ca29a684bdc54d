package gather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shardfall/shardfall/pkg/core"
)

func TestEvaluate(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	at := func(ago time.Duration) int64 { return core.Millis(now.Add(-ago)) }

	tests := []struct {
		name     string
		rec      *core.ResourceRecord
		claimed  bool
		by       string
		depleted bool
	}{
		{name: "no record", rec: nil, claimed: true},
		{
			name:    "available",
			rec:     &core.ResourceRecord{Rarity: core.Common, LastUpdated: at(0)},
			claimed: true,
		},
		{
			name: "foreign claim",
			rec: &core.ResourceRecord{
				Rarity: core.Rare, IsBeingGathered: true, LastUpdated: at(time.Second),
				GatheringPlayerID: core.StringPtr("bob"), GatheringPlayerName: core.StringPtr("Bob"),
			},
			by: "bob",
		},
		{
			name: "own claim",
			rec: &core.ResourceRecord{
				Rarity: core.Rare, IsBeingGathered: true, LastUpdated: at(time.Second),
				GatheringPlayerID: core.StringPtr("me"), GatheringPlayerName: core.StringPtr("Me"),
			},
			claimed: true,
		},
		{
			name: "expired foreign claim",
			rec: &core.ResourceRecord{
				Rarity: core.Rare, IsBeingGathered: true, LastUpdated: at(6 * time.Second),
				GatheringPlayerID: core.StringPtr("bob"), GatheringPlayerName: core.StringPtr("Bob"),
			},
			claimed: true,
		},
		{
			name:     "depleted",
			rec:      &core.ResourceRecord{Rarity: core.Common, IsGathered: true, LastUpdated: at(9 * time.Second)},
			depleted: true,
		},
		{
			name:    "depleted and refilled since",
			rec:     &core.ResourceRecord{Rarity: core.Common, IsGathered: true, LastUpdated: at(10 * time.Second)},
			claimed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.rec, "me", now, 2*time.Second)
			assert.Equal(t, tt.claimed, res.Claimed())
			assert.Equal(t, tt.by, res.RejectedBy)
			assert.Equal(t, tt.depleted, res.Depleted)
			if tt.by != "" {
				assert.Equal(t, "Bob", res.RejectedByName)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "claimed", CheckClaimed.String())
	assert.Equal(t, "rejected", CheckRejected.String())
}
