package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRarity_Durations(t *testing.T) {
	tests := []struct {
		rarity Rarity
		gather time.Duration
		refill time.Duration
	}{
		{Common, 1 * time.Second, 10 * time.Second},
		{Uncommon, 2 * time.Second, 25 * time.Second},
		{Rare, 3 * time.Second, 50 * time.Second},
		{Epic, 5 * time.Second, 100 * time.Second},
		{Legendary, 8 * time.Second, 250 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.rarity.String(), func(t *testing.T) {
			assert.Equal(t, tt.gather, tt.rarity.GatherDuration())
			assert.Equal(t, tt.refill, tt.rarity.RefillDuration())
			assert.Equal(t, int(tt.refill/time.Second), tt.rarity.ShardValue())
		})
	}
}

func TestRarity_Invalid(t *testing.T) {
	r := Rarity(9)
	assert.False(t, r.Valid())
	assert.Equal(t, "RARITY(9)", r.String())
	assert.Zero(t, r.GatherDuration())
	assert.Zero(t, r.RefillDuration())
}

func TestParseRarity(t *testing.T) {
	r, err := ParseRarity(" epic ")
	require.NoError(t, err)
	assert.Equal(t, Epic, r)

	_, err = ParseRarity("mythic")
	assert.Error(t, err)
}
