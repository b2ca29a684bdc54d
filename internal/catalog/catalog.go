// Package catalog provides the fixed resource layout of a world, from a YAML
// file or generated from a seed.
package catalog

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/pkg/core"
)

// Entry is one node of the layout.
type Entry struct {
	X      float64     `yaml:"x"`
	Y      float64     `yaml:"y"`
	Rarity core.Rarity `yaml:"-"`
	Tier   string      `yaml:"rarity"`
}

type file struct {
	Resources []Entry `yaml:"resources"`
}

// Load reads a catalog file such as:
//
//	resources:
//	  - {x: 120, y: 80, rarity: common}
//	  - {x: 640, y: 410, rarity: legendary}
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	if len(f.Resources) == 0 {
		return nil, fmt.Errorf("catalog %s has no resources", path)
	}
	for i := range f.Resources {
		r, err := core.ParseRarity(f.Resources[i].Tier)
		if err != nil {
			return nil, fmt.Errorf("catalog %s entry %d: %w", path, i, err)
		}
		f.Resources[i].Rarity = r
	}
	return f.Resources, nil
}

// Save writes entries in the format Load reads.
func Save(path string, entries []Entry) error {
	out := file{Resources: make([]Entry, len(entries))}
	for i, e := range entries {
		e.Tier = e.Rarity.String()
		out.Resources[i] = e
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// weights of each tier in generated layouts, in Rarities order
var weights = []int{50, 25, 14, 8, 3}

// Generate lays out count nodes in a width x height world. The same seed
// always yields the same layout, so clients without a shared catalog still
// agree on node ids.
func Generate(seed int64, count int, width, height float64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	total := 0
	for _, w := range weights {
		total += w
	}

	entries := make([]Entry, 0, count)
	seen := make(map[string]bool, count)
	for attempts := 0; len(entries) < count && attempts < count*10; attempts++ {
		roll := rng.Intn(total)
		r := core.Common
		for i, w := range weights {
			if roll < w {
				r = core.Rarities[i]
				break
			}
			roll -= w
		}
		e := Entry{
			X:      math.Round(rng.Float64() * width),
			Y:      math.Round(rng.Float64() * height),
			Rarity: r,
		}
		id := core.ResourceID(core.Position{X: e.X, Y: e.Y}, r)
		if seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, e)
	}
	return entries
}

// Nodes turns entries into fresh Available nodes.
func Nodes(entries []Entry) []*resource.Node {
	nodes := make([]*resource.Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, resource.NewNode(core.Position{X: e.X, Y: e.Y}, e.Rarity))
	}
	return nodes
}
