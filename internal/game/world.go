package game

import (
	"context"
	"fmt"

	"github.com/shardfall/shardfall/internal/catalog"
	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/pkg/core"
)

// WorldSource says where the resource layout came from.
type WorldSource string

const (
	FromStore     WorldSource = "store"
	FromCatalog   WorldSource = "catalog"
	FromGenerator WorldSource = "generated"
)

type world struct {
	source  WorldSource
	nodes   []*resource.Node
	records map[string]core.ResourceRecord // store state to apply, keyed by node id
	seed    bool                           // store was reachable but empty
}

// loadWorld reads the resources collection. When it holds no usable node the
// layout comes from the catalog file, else from the generator.
func (s *Session) loadWorld(ctx context.Context) world {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	w := world{records: make(map[string]core.ResourceRecord)}
	snap, err := s.store.Read(ctx, core.ResourcesCollection)
	if err != nil {
		s.log.Warn("reading resources failed, using local layout", "error", err)
	} else {
		for key, raw := range snap.Children {
			rec, err := core.DecodeResourceRecord(raw)
			if err != nil {
				s.log.Warn("dropping resource record", "node", key, "error", err)
				continue
			}
			node := resource.NewNode(rec.Position, rec.Rarity)
			if node.ID != key {
				s.log.Warn("resource key does not match its record", "key", key, "derived", node.ID)
				continue
			}
			w.nodes = append(w.nodes, node)
			w.records[key] = rec
		}
		if len(w.nodes) > 0 {
			w.source = FromStore
			return w
		}
		w.seed = true
	}

	w.source, w.nodes = s.localLayout()
	return w
}

func (s *Session) localLayout() (WorldSource, []*resource.Node) {
	wc := s.cfg.World
	if wc.CatalogPath != "" {
		entries, err := catalog.Load(wc.CatalogPath)
		if err == nil {
			return FromCatalog, catalog.Nodes(entries)
		}
		s.log.Warn("catalog unavailable, generating layout", "path", wc.CatalogPath, "error", err)
	}
	return FromGenerator, catalog.Nodes(catalog.Generate(wc.Seed, wc.NodeCount, wc.Width, wc.Height))
}

// seedWorld writes the local layout into an empty store. Ids are derived from
// position and tier, so clients seeding at the same time write the same keys.
func (s *Session) seedWorld(ctx context.Context) error {
	now := s.clock()
	for _, node := range s.registry.All() {
		value, err := core.EncodeRecord(s.coord.Record(node, now))
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err = s.store.Write(wctx, core.ResourcePath(node.ID), value)
		cancel()
		if err != nil {
			return fmt.Errorf("seeding %s: %w", node.ID, err)
		}
	}
	return nil
}
