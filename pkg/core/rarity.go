package core

import (
	"fmt"
	"strings"
	"time"
)

// Rarity is the tier of a resource node. The ordinal is what the shared store carries.
type Rarity int

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
)

// Rarities lists every tier in ordinal order.
var Rarities = []Rarity{Common, Uncommon, Rare, Epic, Legendary}

type tierInfo struct {
	name   string
	gather time.Duration
	shards int
}

var tiers = [...]tierInfo{
	Common:    {"COMMON", 1 * time.Second, 10},
	Uncommon:  {"UNCOMMON", 2 * time.Second, 25},
	Rare:      {"RARE", 3 * time.Second, 50},
	Epic:      {"EPIC", 5 * time.Second, 100},
	Legendary: {"LEGENDARY", 8 * time.Second, 250},
}

// Valid reports whether r is a known tier.
func (r Rarity) Valid() bool {
	return r >= Common && int(r) < len(tiers)
}

func (r Rarity) String() string {
	if !r.Valid() {
		return fmt.Sprintf("RARITY(%d)", int(r))
	}
	return tiers[r].name
}

// GatherDuration is how long a claimant must keep gathering to deplete the node.
func (r Rarity) GatherDuration() time.Duration {
	if !r.Valid() {
		return 0
	}
	return tiers[r].gather
}

// ShardValue is the worth of one gathered unit of this tier.
func (r Rarity) ShardValue() int {
	if !r.Valid() {
		return 0
	}
	return tiers[r].shards
}

// RefillDuration is how long a depleted node stays empty: one second per shard.
func (r Rarity) RefillDuration() time.Duration {
	return time.Duration(r.ShardValue()) * time.Second
}

// ParseRarity accepts a tier name (any case) as used in catalog files.
func ParseRarity(s string) (Rarity, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range Rarities {
		if tiers[r].name == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}
