package engine

import (
	"sort"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/query"
)

// aggregate computes the requested aggregations over the matched rows
// before the limit window is applied.
func (sc *selection) aggregate(rows []matchedRow, aggs []query.AggregateEntry) ([]AggResult, error) {
	if len(aggs) == 0 {
		return nil, nil
	}
	out := make([]AggResult, 0, len(aggs))
	for _, agg := range aggs {
		res, err := sc.aggregateOne(rows, agg)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (sc *selection) aggregateOne(rows []matchedRow, agg query.AggregateEntry) (AggResult, error) {
	res := AggResult{Type: agg.Type.String(), Fields: agg.Fields}
	switch agg.Type {
	case query.AggCount, query.AggCountCached:
		v := float64(len(rows))
		res.Value = &v
		return res, nil
	case query.AggDistinct:
		res.Distincts = append([]string(nil), sc.distinctVals...)
		return res, nil
	case query.AggFacet:
		return sc.aggregateFacet(rows, agg)
	}
	if len(agg.Fields) != 1 {
		return AggResult{}, errs.Params("%s wants exactly one field", agg.Type)
	}
	getter, _, err := sc.getterFor(agg.Fields[0])
	if err != nil {
		return AggResult{}, err
	}
	var (
		acc   float64
		count int
		first = true
	)
	for i := range rows {
		for _, v := range getter(rows[i].pv) {
			if v.IsNull() {
				continue
			}
			f := v.AsDouble()
			count++
			switch agg.Type {
			case query.AggSum, query.AggAvg:
				acc += f
			case query.AggMin:
				if first || f < acc {
					acc = f
				}
			case query.AggMax:
				if first || f > acc {
					acc = f
				}
			}
			first = false
		}
	}
	if agg.Type == query.AggAvg && count > 0 {
		acc /= float64(count)
	}
	if count > 0 || agg.Type == query.AggSum {
		res.Value = &acc
	}
	return res, nil
}

func (sc *selection) aggregateFacet(rows []matchedRow, agg query.AggregateEntry) (AggResult, error) {
	if len(agg.Fields) == 0 {
		return AggResult{}, errs.Params("FACET wants at least one field")
	}
	getters := make([]fieldGetter, len(agg.Fields))
	for i, f := range agg.Fields {
		g, _, err := sc.getterFor(f)
		if err != nil {
			return AggResult{}, err
		}
		getters[i] = g
	}
	counts := make(map[string]*FacetResult)
	var order []string
	for ri := range rows {
		vals := make([]string, len(getters))
		for i, g := range getters {
			vs := g(rows[ri].pv)
			if len(vs) > 0 {
				vals[i] = vs[0].String()
			}
		}
		key := strings.Join(vals, "\x00")
		f, ok := counts[key]
		if !ok {
			f = &FacetResult{Values: vals}
			counts[key] = f
			order = append(order, key)
		}
		f.Count++
	}
	facets := make([]FacetResult, 0, len(order))
	for _, key := range order {
		facets = append(facets, *counts[key])
	}

	if len(agg.Sort) > 0 {
		cmps := make([]func(a, b *FacetResult) int, 0, len(agg.Sort))
		for _, se := range agg.Sort {
			se := se
			if se.Expression == "count" {
				cmps = append(cmps, func(a, b *FacetResult) int {
					c := a.Count - b.Count
					if se.Desc {
						return -c
					}
					return c
				})
				continue
			}
			fi := -1
			for i, f := range agg.Fields {
				if f == se.Expression {
					fi = i
					break
				}
			}
			if fi < 0 {
				return AggResult{}, errs.Params("FACET sort field '%s' is not faceted", se.Expression)
			}
			cmps = append(cmps, func(a, b *FacetResult) int {
				c := strings.Compare(a.Values[fi], b.Values[fi])
				if se.Desc {
					return -c
				}
				return c
			})
		}
		sort.SliceStable(facets, func(i, j int) bool {
			for _, cmp := range cmps {
				if c := cmp(&facets[i], &facets[j]); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if agg.Offset > 0 {
		if agg.Offset >= len(facets) {
			facets = nil
		} else {
			facets = facets[agg.Offset:]
		}
	}
	if agg.Limit >= 0 && agg.Limit < len(facets) {
		facets = facets[:agg.Limit]
	}
	res := AggResult{Type: agg.Type.String(), Fields: agg.Fields, Facets: facets}
	return res, nil
}
