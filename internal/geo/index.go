package geo

import (
	"errors"

	"github.com/peterstace/simplefeatures/rtree"

	"github.com/shardfall/shardfall/pkg/core"
)

// Index is a static spatial index over a set of points. Record ids are the
// positions' indexes in the slice passed to NewIndex.
type Index struct {
	tree   *rtree.RTree
	points []core.Position
}

func pointBox(p core.Position) rtree.Box {
	return rtree.Box{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

// NewIndex bulk loads points into an R-tree.
func NewIndex(points []core.Position) *Index {
	items := make([]rtree.BulkItem, len(points))
	for i, p := range points {
		items[i] = rtree.BulkItem{Box: pointBox(p), RecordID: i}
	}
	return &Index{
		tree:   rtree.BulkLoad(items),
		points: append([]core.Position(nil), points...),
	}
}

// Len returns the number of indexed points.
func (x *Index) Len() int {
	return len(x.points)
}

// Within returns the ids of all points at most r from center.
func (x *Index) Within(center core.Position, r float64) []int {
	box := rtree.Box{MinX: center.X - r, MinY: center.Y - r, MaxX: center.X + r, MaxY: center.Y + r}
	var ids []int
	_ = x.tree.RangeSearch(box, func(id int) error {
		if Within(center, x.points[id], r) {
			ids = append(ids, id)
		}
		return nil
	})
	return ids
}

// Nearest returns the closest point to center that accept approves.
// A nil accept approves everything.
func (x *Index) Nearest(center core.Position, accept func(id int) bool) (int, bool) {
	found := -1
	err := x.tree.PrioritySearch(pointBox(center), func(id int) error {
		if accept == nil || accept(id) {
			found = id
			return rtree.Stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, rtree.Stop) {
		return 0, false
	}
	return found, found >= 0
}
