package engine

import (
	"context"
	"encoding/json"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// joinRow is one preselected row of the joined namespace: its rendered
// JSON plus the right-hand values of every ON term, extracted while the
// joined namespace's read lock was held.
type joinRow struct {
	json json.RawMessage
	vals [][]variant.Variant
}

// joinCacheEntry is the preselect result cached on the joined
// namespace; any write there clears it.
type joinCacheEntry struct {
	rows []joinRow
}

// joinHashThreshold switches the probe from a linear walk over the
// preselect to a hash lookup on the first EQ term.
const joinHashThreshold = 32

type joinState struct {
	jq   *query.JoinedQuery
	name string

	rows []joinRow

	leftGetters []fieldGetter

	// eqTerm is the ON term index used for hashing, -1 for linear probe.
	eqTerm  int
	eqIndex map[string][]int

	lastID      idset.IdType
	lastValid   bool
	lastMatches []int
}

func (js *joinState) rightName() string { return js.name }

func joinCacheKey(jq *query.JoinedQuery) string {
	sub := jq.Query
	sub.Type = query.QuerySelect
	key := sub.SQL()
	for _, on := range jq.On {
		key += "\x00" + on.RightField
	}
	return key
}

func newJoinState(ctx context.Context, left *selection, jq *query.JoinedQuery, resolve NamespaceResolver) (*joinState, error) {
	if resolve == nil {
		return nil, errs.Params("join on '%s' needs a namespace resolver", jq.Namespace)
	}
	if len(jq.On) == 0 {
		return nil, errs.Params("join on '%s' has no ON conditions", jq.Namespace)
	}
	rns, err := resolve(jq.Namespace)
	if err != nil {
		return nil, err
	}
	js := &joinState{jq: jq, name: jq.Namespace, eqTerm: -1, lastID: -1}
	for _, on := range jq.On {
		getter, _, err := left.getterFor(on.LeftField)
		if err != nil {
			return nil, err
		}
		js.leftGetters = append(js.leftGetters, getter)
	}

	key := joinCacheKey(jq)
	if ent, ok := rns.joinCache.Get(key); ok {
		js.rows = ent.rows
	} else {
		rows, err := preselectJoin(ctx, rns, jq, resolve)
		if err != nil {
			return nil, err
		}
		js.rows = rows
		rns.joinCache.Set(key, joinCacheEntry{rows: rows})
	}

	for t, on := range jq.On {
		if on.Cond == query.CondEq && on.Op != query.OpOr && len(js.rows) >= joinHashThreshold {
			js.eqTerm = t
			js.eqIndex = make(map[string][]int, len(js.rows))
			for i, row := range js.rows {
				for _, v := range row.vals[t] {
					k := index.MapKey(v, variant.Collate{})
					js.eqIndex[k] = append(js.eqIndex[k], i)
				}
			}
			break
		}
	}
	return js, nil
}

// preselectJoin runs the joined query without its ON terms and captures
// everything later row probes need.
func preselectJoin(ctx context.Context, rns *Namespace, jq *query.JoinedQuery, resolve NamespaceResolver) ([]joinRow, error) {
	sub := jq.Query
	sub.Type = query.QuerySelect
	sub.Limit = -1
	sub.Offset = 0

	rns.mu.RLock()
	defer rns.mu.RUnlock()
	if err := rns.checkValid(); err != nil {
		return nil, err
	}
	rsel, err := rns.prepareSelection(ctx, &sub, resolve, nil)
	if err != nil {
		return nil, err
	}
	matched, err := rsel.run(ctx)
	if err != nil {
		return nil, err
	}
	getters := make([]fieldGetter, len(jq.On))
	for i, on := range jq.On {
		g, _, err := rsel.getterFor(on.RightField)
		if err != nil {
			return nil, err
		}
		getters[i] = g
	}
	rows := make([]joinRow, 0, len(matched))
	for _, m := range matched {
		data, err := rsel.codec.ToJSON(m.pv)
		if err != nil {
			return nil, err
		}
		vals := make([][]variant.Variant, len(getters))
		for i, g := range getters {
			vals[i] = g(m.pv)
		}
		rows = append(rows, joinRow{json: json.RawMessage(data), vals: vals})
	}
	return rows, nil
}

// matchesFor returns the preselect row indexes satisfying the ON terms
// for one left row, caching the answer for the render phase.
func (js *joinState) matchesFor(pv *payload.Value, id idset.IdType) []int {
	if js.lastValid && js.lastID == id {
		return js.lastMatches
	}
	leftVals := make([][]variant.Variant, len(js.leftGetters))
	for i, g := range js.leftGetters {
		leftVals[i] = g(pv)
	}
	var matches []int
	probe := func(i int) {
		if js.onTermsMatch(leftVals, &js.rows[i]) {
			matches = append(matches, i)
		}
	}
	if js.eqTerm >= 0 {
		seen := make(map[int]struct{})
		for _, lv := range leftVals[js.eqTerm] {
			for _, i := range js.eqIndex[index.MapKey(lv, variant.Collate{})] {
				if _, dup := seen[i]; dup {
					continue
				}
				seen[i] = struct{}{}
				probe(i)
			}
		}
	} else {
		for i := range js.rows {
			probe(i)
		}
	}
	js.lastID, js.lastValid, js.lastMatches = id, true, matches
	return matches
}

func (js *joinState) onTermsMatch(leftVals [][]variant.Variant, row *joinRow) bool {
	acc := true
	for t, on := range js.jq.On {
		v := index.MatchCondition(leftVals[t], on.Cond, row.vals[t], variant.Collate{})
		if on.Op == query.OpNot {
			v = !v
		}
		if t == 0 {
			acc = v
			continue
		}
		if on.Op == query.OpOr {
			acc = acc || v
		} else {
			acc = acc && v
		}
	}
	return acc
}

// rowMatches answers the filter entry of an inner join.
func (js *joinState) rowMatches(pv *payload.Value, id idset.IdType) (bool, error) {
	if js.jq.JoinType == query.JoinLeft {
		return true, nil
	}
	return len(js.matchesFor(pv, id)) > 0, nil
}

// joinedJSON returns the rendered joined rows for one left row.
func (js *joinState) joinedJSON(pv *payload.Value, id idset.IdType) ([]json.RawMessage, error) {
	matches := js.matchesFor(pv, id)
	if len(matches) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(matches))
	for _, i := range matches {
		out = append(out, js.rows[i].json)
	}
	return out, nil
}
