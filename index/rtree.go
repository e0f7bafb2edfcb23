package index

import (
	"math"

	"github.com/tidwall/rtree"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// geoIndex answers DWithin over 2-element point fields with an r-tree.
type geoIndex struct {
	base
	tree   rtree.RTreeG[idset.IdType]
	points map[idset.IdType][2]float64
}

func newRTree(name string, opts Opts, fields payload.FieldsSet) *geoIndex {
	return &geoIndex{
		base:   newBase(name, KindRTree, variant.TypeDouble, opts, fields),
		points: make(map[idset.IdType][2]float64),
	}
}

func (g *geoIndex) IsOrdered() bool  { return false }
func (g *geoIndex) IsFulltext() bool { return false }

func pointOf(keys []variant.Variant) ([2]float64, bool) {
	if len(keys) < 2 {
		return [2]float64{}, false
	}
	x, y := keys[0].AsDouble(), keys[1].AsDouble()
	if math.IsNaN(x) || math.IsNaN(y) {
		return [2]float64{}, false
	}
	return [2]float64{x, y}, true
}

func (g *geoIndex) Upsert(keys []variant.Variant, id idset.IdType) error {
	g.cache.Clear()
	pt, ok := pointOf(keys)
	if !ok {
		return nil
	}
	if old, exists := g.points[id]; exists {
		g.tree.Delete(old, old, id)
	}
	g.tree.Insert(pt, pt, id)
	g.points[id] = pt
	return nil
}

func (g *geoIndex) Delete(keys []variant.Variant, id idset.IdType) error {
	g.cache.Clear()
	pt, exists := g.points[id]
	if !exists {
		return nil
	}
	g.tree.Delete(pt, pt, id)
	delete(g.points, id)
	return nil
}

func (g *geoIndex) SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	if cond != query.CondDWithin {
		return SelectKeyResult{}, errs.Params("rtree index '%s' supports only DWITHIN, got %s", g.name, cond)
	}
	if len(keys) < 2 {
		return SelectKeyResult{}, errs.Params("DWITHIN on '%s' needs (point, radius)", g.name)
	}
	center := keys[0].Tuple()
	if len(center) < 2 {
		return SelectKeyResult{}, errs.Params("DWITHIN on '%s': first argument must be a point", g.name)
	}
	cx, cy := center[0].AsDouble(), center[1].AsDouble()
	r := keys[1].AsDouble()
	out := idset.New()
	g.tree.Search([2]float64{cx - r, cy - r}, [2]float64{cx + r, cy + r}, func(min, max [2]float64, id idset.IdType) bool {
		dx, dy := min[0]-cx, min[1]-cy
		if math.Sqrt(dx*dx+dy*dy) <= r {
			out.Add(id)
		}
		return true
	})
	return NewIdsResult(out), nil
}

func (g *geoIndex) Commit() {}

func (g *geoIndex) UpdateSortedIds(sortOrders []idset.IdType, sortID int) {}

func (g *geoIndex) Clone() Index {
	c := newRTree(g.name, g.opts, g.fields)
	for id, pt := range g.points {
		c.tree.Insert(pt, pt, id)
		c.points[id] = pt
	}
	return c
}
