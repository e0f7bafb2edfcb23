package index

import (
	"math"
	"strings"

	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Comparator post-filters rows when no index can answer structurally.
// The executor binds Getter to read the compared values out of a payload
// (a payload field or a tags path for sparse and non-indexed fields).
type Comparator struct {
	IndexName string
	Fields    payload.FieldsSet
	Cond      query.CondType
	Values    []variant.Variant
	Collate   variant.Collate
	Getter    func(pv *payload.Value) []variant.Variant

	distinct map[string]struct{}
}

// Match reports whether the row's values satisfy the condition. With
// distinct tracking enabled, repeated values fail the match.
func (c *Comparator) Match(pv *payload.Value) bool {
	vals := c.Getter(pv)
	if !MatchCondition(vals, c.Cond, c.Values, c.Collate) {
		return false
	}
	if c.distinct != nil {
		seen := true
		for _, v := range vals {
			k := MapKey(v, c.Collate)
			if _, ok := c.distinct[k]; !ok {
				c.distinct[k] = struct{}{}
				seen = false
			}
		}
		if seen && len(vals) > 0 {
			return false
		}
	}
	return true
}

// EnableDistinct makes the comparator drop rows whose values were all
// seen before.
func (c *Comparator) EnableDistinct() {
	c.distinct = make(map[string]struct{})
}

// MatchCondition checks one item's values against a condition. Array
// fields match when any element satisfies it, except AllSet which wants
// every key present.
func MatchCondition(vals []variant.Variant, cond query.CondType, keys []variant.Variant, collate variant.Collate) bool {
	switch cond {
	case query.CondAny:
		for _, v := range vals {
			if !v.IsNull() {
				return true
			}
		}
		return false
	case query.CondEmpty:
		for _, v := range vals {
			if !v.IsNull() {
				return false
			}
		}
		return true
	case query.CondEq, query.CondSet:
		for _, v := range vals {
			for _, k := range keys {
				if v.EqualTo(k, collate) {
					return true
				}
			}
		}
		return false
	case query.CondAllSet:
		for _, k := range keys {
			found := false
			for _, v := range vals {
				// null elements match any key
				if v.IsNull() || v.EqualTo(k, collate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return len(keys) > 0
	case query.CondLt, query.CondLe, query.CondGt, query.CondGe:
		if len(keys) == 0 {
			return false
		}
		for _, v := range vals {
			c := v.Compare(keys[0], collate)
			switch cond {
			case query.CondLt:
				if c < 0 {
					return true
				}
			case query.CondLe:
				if c <= 0 {
					return true
				}
			case query.CondGt:
				if c > 0 {
					return true
				}
			case query.CondGe:
				if c >= 0 {
					return true
				}
			}
		}
		return false
	case query.CondRange:
		if len(keys) < 2 {
			return false
		}
		for _, v := range vals {
			if v.Compare(keys[0], collate) >= 0 && v.Compare(keys[1], collate) <= 0 {
				return true
			}
		}
		return false
	case query.CondLike:
		if len(keys) == 0 {
			return false
		}
		pattern := keys[0].Str()
		for _, v := range vals {
			if likeMatch(v.Str(), pattern) {
				return true
			}
		}
		return false
	case query.CondDWithin:
		return dWithin(vals, keys)
	}
	return false
}

// likeMatch implements SQL LIKE: % matches any run, _ one rune.
func likeMatch(s, pattern string) bool {
	return likeRunes([]rune(strings.ToLower(s)), []rune(strings.ToLower(pattern)))
}

func likeRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && likeRunes(s[1:], p[1:])
	default:
		return len(s) > 0 && s[0] == p[0] && likeRunes(s[1:], p[1:])
	}
}

// dWithin checks a 2-element point field against (point, radius) keys.
func dWithin(vals []variant.Variant, keys []variant.Variant) bool {
	if len(vals) < 2 || len(keys) < 2 {
		return false
	}
	pt := keys[0].Tuple()
	if len(pt) < 2 {
		return false
	}
	dx := vals[0].AsDouble() - pt[0].AsDouble()
	dy := vals[1].AsDouble() - pt[1].AsDouble()
	r := keys[1].AsDouble()
	return math.Sqrt(dx*dx+dy*dy) <= r
}
