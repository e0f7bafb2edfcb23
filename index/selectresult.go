package index

import (
	"github.com/thedenisnikulin/reindexer/idset"
)

// SingleKeyResult is one index answer: either an id set or a comparator
// to post-filter rows with.
type SingleKeyResult struct {
	Ids        *idset.Set
	Comparator *Comparator
	// Ranks holds fulltext percent ranks parallel to Ids iteration order.
	Ranks []int
}

// SelectKeyResult is the full answer of one SelectKey call.
type SelectKeyResult struct {
	Results []SingleKeyResult
}

// NewIdsResult wraps a single id set.
func NewIdsResult(ids *idset.Set) SelectKeyResult {
	return SelectKeyResult{Results: []SingleKeyResult{{Ids: ids}}}
}

// NewComparatorResult wraps a comparator fallback.
func NewComparatorResult(c *Comparator) SelectKeyResult {
	return SelectKeyResult{Results: []SingleKeyResult{{Comparator: c}}}
}

// HasComparator reports whether any result is a comparator.
func (r SelectKeyResult) HasComparator() bool {
	for _, s := range r.Results {
		if s.Comparator != nil {
			return true
		}
	}
	return false
}

// MaxIterations estimates the iteration cost: the summed id counts, or
// limit for comparator results (a comparator visits every candidate row).
func (r SelectKeyResult) MaxIterations(limit int) int {
	total := 0
	for _, s := range r.Results {
		if s.Comparator != nil {
			return limit
		}
		if s.Ids != nil {
			total += s.Ids.Size()
		}
	}
	return total
}

// MergeIds folds all id sets into one sorted set.
func (r SelectKeyResult) MergeIds() *idset.Set {
	switch len(r.Results) {
	case 0:
		return idset.New()
	case 1:
		if r.Results[0].Ids != nil {
			return r.Results[0].Ids
		}
		return idset.New()
	}
	out := idset.New()
	for _, s := range r.Results {
		if s.Ids == nil {
			continue
		}
		s.Ids.ForEach(func(id idset.IdType) bool {
			out.Add(id)
			return true
		})
	}
	return out
}
