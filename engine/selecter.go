package engine

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/internal/ctxutil"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// NamespaceResolver looks up another namespace for joins and merges.
type NamespaceResolver func(name string) (*Namespace, error)

const cancelCheckStride = 512

// Select runs a read query and materializes the matching rows to JSON
// while the read lock is held.
func (ns *Namespace) Select(ctx context.Context, q *query.Query, resolve NamespaceResolver) (*QueryResults, error) {
	if q.Type != query.QuerySelect {
		return nil, errs.Params("Select expects a SELECT query, got %s", q.Type)
	}
	expl := newExplainBuilder(q.Explain)

	rows, aggs, total, err := ns.selectRows(ctx, q, resolve, expl)
	if err != nil {
		return nil, err
	}

	for _, mq := range q.Merges {
		if resolve == nil {
			return nil, errs.Params("merge query on '%s' needs a namespace resolver", mq.Namespace)
		}
		mns, err := resolve(mq.Namespace)
		if err != nil {
			return nil, err
		}
		sub := mq.Query
		sub.Type = query.QuerySelect
		sub.Limit = -1
		sub.Offset = 0
		sub.TotalMode = q.TotalMode
		mrows, _, mtotal, err := mns.selectRows(ctx, &sub, resolve, nil)
		if err != nil {
			return nil, err
		}
		rows = append(rows, mrows...)
		if total >= 0 && mtotal >= 0 {
			total += mtotal
		}
		// Merged sets only keep a rank order.
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank > rows[j].Rank })
	}

	rows = applyWindow(rows, q.Offset, q.Limit)
	expl.postprocDone()

	qr := &QueryResults{
		Items:      rows,
		AggResults: aggs,
		TotalCount: total,
		Explain:    expl.finish(),
	}
	return qr, nil
}

// applyWindow slices rows by offset and limit. Limit -1 means all.
func applyWindow(rows []ResultItem, offset, limit int) []ResultItem {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// selectRows runs the filter, join, sort and aggregation phases for one
// namespace and returns all matching rows before the outer window.
func (ns *Namespace) selectRows(ctx context.Context, q *query.Query, resolve NamespaceResolver, expl *explainBuilder) ([]ResultItem, []AggResult, int, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return nil, nil, -1, err
	}

	sel, err := ns.prepareSelection(ctx, q, resolve, expl)
	if err != nil {
		return nil, nil, -1, err
	}
	matched, err := sel.run(ctx)
	if err != nil {
		return nil, nil, -1, err
	}
	expl.loopDone()

	if err := sel.sortRows(matched); err != nil {
		return nil, nil, -1, err
	}
	expl.sortDone()
	expl.addSelectors(sel.explSel)

	total := -1
	switch q.TotalMode {
	case query.TotalAccurate:
		total = len(matched)
	case query.TotalCached:
		key := totalCacheKey(q)
		if ent, ok := ns.queryCountCache.Get(key); ok {
			total = ent.Total
		} else {
			total = len(matched)
			ns.queryCountCache.Set(key, cache.QueryCountEntry{Total: total})
		}
	}

	aggs, err := sel.aggregate(matched, q.Aggregations)
	if err != nil {
		return nil, nil, -1, err
	}

	rows, err := sel.render(matched, q)
	if err != nil {
		return nil, nil, -1, err
	}
	return rows, aggs, total, nil
}

func totalCacheKey(q *query.Query) string {
	c := *q
	c.Limit = -1
	c.Offset = 0
	c.TotalMode = query.TotalNone
	c.Explain = false
	return c.SQL()
}

// matchedRow pairs an id with the payload observed during the loop.
type matchedRow struct {
	id   idset.IdType
	pv   *payload.Value
	rank int
}

type selection struct {
	ns    *Namespace
	q     *query.Query
	codec *cjson.Codec

	root  []evalEntry
	joins []*joinState
	ranks map[idset.IdType]int

	// candidates is nil when the plan degraded to a full scan.
	candidates  *idset.Set
	hasFulltext bool

	distinctField  string
	distinctGetter fieldGetter
	distinctSeen   map[string]struct{}
	distinctVals   []string

	explSel []ExplainSelector
}

type fieldGetter func(pv *payload.Value) []variant.Variant

type evalEntry struct {
	op          query.OpType
	leaf        *leafEval
	children    []evalEntry
	eqPos       []eqPosCheck
	join        *joinState
	alwaysFalse bool
}

type leafEval struct {
	ids     *idset.Set
	cmp     *index.Comparator
	between *betweenEval
	expl    *ExplainSelector
}

func (sc *selection) newExplain(field string, cond query.CondType, method string, keys, cost int) *ExplainSelector {
	return &ExplainSelector{
		Field:     field,
		Condition: cond.String(),
		Method:    method,
		Keys:      keys,
		Cost:      cost,
	}
}

// prepareSelection resolves every filter entry against the index
// registry, collecting id sets, comparators and join states.
func (ns *Namespace) prepareSelection(ctx context.Context, q *query.Query, resolve NamespaceResolver, expl *explainBuilder) (*selection, error) {
	sel := &selection{
		ns:    ns,
		q:     q,
		codec: ns.codec(),
		ranks: make(map[idset.IdType]int),
	}
	for _, agg := range q.Aggregations {
		if agg.Type != query.AggDistinct {
			continue
		}
		if len(agg.Fields) != 1 {
			return nil, errs.Params("DISTINCT wants exactly one field")
		}
		getter, _, err := sel.getterFor(agg.Fields[0])
		if err != nil {
			return nil, err
		}
		sel.distinctField = agg.Fields[0]
		sel.distinctGetter = getter
		sel.distinctSeen = make(map[string]struct{})
	}
	for i := range q.Joins {
		js, err := newJoinState(ctx, sel, &q.Joins[i], resolve)
		if err != nil {
			return nil, err
		}
		sel.joins = append(sel.joins, js)
	}
	expl.prepareDone()

	root, err := sel.buildEntries(q.Entries, q.EqualPositions)
	if err != nil {
		return nil, err
	}
	sel.root = root
	expl.indexesDone()

	if set, ok := seedOf(root); ok {
		set.Commit()
		sel.candidates = set
	}
	sel.collectExplain(root)
	return sel, nil
}

func (sc *selection) collectExplain(entries []evalEntry) {
	for _, e := range entries {
		switch {
		case e.leaf != nil && e.leaf.expl != nil:
			sc.explSel = append(sc.explSel, *e.leaf.expl)
		case len(e.children) > 0:
			inner := &selection{}
			inner.collectExplain(e.children)
			sc.explSel = append(sc.explSel, ExplainSelector{Selectors: inner.explSel})
		}
	}
}

// getterFor binds a value getter for a field name: an indexed payload
// field, a composite key, a sparse tags path or a raw document path.
func (sc *selection) getterFor(field string) (fieldGetter, bool, error) {
	ns := sc.ns
	if pos, ok := ns.byName[field]; ok {
		idx := ns.indexes[pos]
		fields := idx.Fields()
		switch {
		case idx.KeyType() == variant.TypeComposite:
			return func(pv *payload.Value) []variant.Variant {
				return []variant.Variant{pv.CompositeKey(fields)}
			}, true, nil
		case idx.Opts().Sparse:
			codec := sc.codec
			return func(pv *payload.Value) []variant.Variant {
				var out []variant.Variant
				for _, tp := range fields.TagsPaths() {
					vals, err := codec.GetByTagsPath(pv, tp)
					if err != nil {
						continue
					}
					out = append(out, vals...)
				}
				return out
			}, true, nil
		default:
			slot := fields.Fields()[0]
			return func(pv *payload.Value) []variant.Variant {
				return pv.Get(slot)
			}, true, nil
		}
	}
	switch sc.q.Strict {
	case query.StrictIndexes:
		return nil, false, errs.QueryExec("field '%s' is not indexed in namespace '%s' (strict_mode=indexes)", field, ns.name)
	case query.StrictNames:
		if _, err := ns.tm.Path2Tags(field, false); err != nil {
			return nil, false, errs.QueryExec("field '%s' is not known in namespace '%s' (strict_mode=names)", field, ns.name)
		}
	}
	tp, err := ns.tm.Path2Tags(field, false)
	if err != nil {
		// Unknown path never matches; strict modes already errored.
		return func(*payload.Value) []variant.Variant { return nil }, false, nil
	}
	codec := sc.codec
	return func(pv *payload.Value) []variant.Variant {
		vals, err := codec.GetByTagsPath(pv, tp)
		if err != nil {
			return nil
		}
		return vals
	}, false, nil
}

func (sc *selection) buildEntries(entries []query.Entry, eqPositions [][]string) ([]evalEntry, error) {
	out := make([]evalEntry, 0, len(entries))
	for i := range entries {
		e, err := sc.buildEntry(&entries[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for _, group := range eqPositions {
		chk, err := sc.buildEqPos(entries, group)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			out = append(out, evalEntry{op: query.OpAnd, leaf: &leafEval{}})
		}
		out[0].eqPos = append(out[0].eqPos, chk)
	}
	return out, nil
}

func (sc *selection) buildEntry(e *query.Entry) (evalEntry, error) {
	switch {
	case e.AlwaysFalse:
		return evalEntry{op: e.Op, alwaysFalse: true}, nil
	case e.Bracket != nil:
		children, err := sc.buildEntries(e.Bracket.Entries, e.Bracket.EqualPositions)
		if err != nil {
			return evalEntry{}, err
		}
		ee := evalEntry{op: e.Op, children: children}
		// Hoist bracket-level equal positions onto the bracket itself.
		if len(children) > 0 && len(children[0].eqPos) > 0 {
			ee.eqPos = children[0].eqPos
			children[0].eqPos = nil
		}
		return ee, nil
	case e.JoinRef >= 0:
		if e.JoinRef >= len(sc.joins) {
			return evalEntry{}, errs.Params("join reference %d is out of range", e.JoinRef)
		}
		return evalEntry{op: e.Op, join: sc.joins[e.JoinRef]}, nil
	case e.BetweenFields != nil:
		return sc.buildBetweenFields(e.Op, e.BetweenFields)
	case e.Condition != nil:
		return sc.buildCondition(e.Op, e.Condition)
	}
	return evalEntry{}, errs.Params("empty filter entry")
}

func (sc *selection) buildBetweenFields(op query.OpType, bf *query.BetweenFields) (evalEntry, error) {
	left, _, err := sc.getterFor(bf.LeftField)
	if err != nil {
		return evalEntry{}, err
	}
	right, _, err := sc.getterFor(bf.RightField)
	if err != nil {
		return evalEntry{}, err
	}
	leaf := &leafEval{between: &betweenEval{left: left, right: right, cond: bf.Cond}}
	leaf.expl = sc.newExplain(bf.LeftField+"/"+bf.RightField, bf.Cond, explainMethodComparator, 0, sc.ns.repl.DataCount)
	return evalEntry{op: op, leaf: leaf}, nil
}

// betweenEval compares two fields of the same row.
type betweenEval struct {
	left  fieldGetter
	right fieldGetter
	cond  query.CondType
}

func (b *betweenEval) match(pv *payload.Value) bool {
	return index.MatchCondition(b.left(pv), b.cond, b.right(pv), variant.Collate{})
}

func (sc *selection) buildCondition(op query.OpType, c *query.Condition) (evalEntry, error) {
	ns := sc.ns
	pos, indexed := ns.byName[c.Field]
	if !indexed {
		return sc.buildScanCondition(op, c)
	}
	idx := ns.indexes[pos]
	keys, err := conditionKeys(idx, c)
	if err != nil {
		return evalEntry{}, err
	}
	opts := index.SelectOpts{
		ItemsCount:    ns.repl.DataCount,
		MaxIterations: ns.repl.DataCount,
		Distinct:      c.Field == sc.distinctField,
	}
	if ns.sortOrders != nil {
		opts.SortID = sortOrdersID
	}
	res, err := idx.SelectKey(keys, c.Cond, opts)
	if err != nil {
		return evalEntry{}, err
	}
	leaf := &leafEval{}
	if res.HasComparator() {
		cmp := res.Results[0].Comparator
		getter, _, err := sc.getterFor(c.Field)
		if err != nil {
			return evalEntry{}, err
		}
		cmp.Getter = getter
		if c.Field == sc.distinctField {
			cmp.EnableDistinct()
		}
		leaf.cmp = cmp
		leaf.expl = sc.newExplain(c.Field, c.Cond, explainMethodComparator, len(keys), ns.repl.DataCount)
	} else {
		ids := res.MergeIds()
		ids.Commit()
		leaf.ids = ids
		if idx.IsFulltext() {
			sc.hasFulltext = true
			for _, r := range res.Results {
				recordRanks(sc.ranks, r)
			}
		}
		leaf.expl = sc.newExplain(c.Field, c.Cond, explainMethodIndex, len(keys), ids.Size())
	}
	return evalEntry{op: op, leaf: leaf}, nil
}

func recordRanks(ranks map[idset.IdType]int, r index.SingleKeyResult) {
	if r.Ids == nil || len(r.Ranks) == 0 {
		return
	}
	i := 0
	r.Ids.ForEach(func(id idset.IdType) bool {
		if i < len(r.Ranks) {
			ranks[id] = r.Ranks[i]
		}
		i++
		return true
	})
}

func (sc *selection) buildScanCondition(op query.OpType, c *query.Condition) (evalEntry, error) {
	getter, _, err := sc.getterFor(c.Field)
	if err != nil {
		return evalEntry{}, err
	}
	cmp := &index.Comparator{
		IndexName: c.Field,
		Cond:      c.Cond,
		Values:    c.Values,
		Getter:    getter,
	}
	if c.Field == sc.distinctField {
		cmp.EnableDistinct()
	}
	leaf := &leafEval{cmp: cmp}
	leaf.expl = sc.newExplain(c.Field, c.Cond, explainMethodScan, len(c.Values), sc.ns.repl.DataCount)
	return evalEntry{op: op, leaf: leaf}, nil
}

// conditionKeys converts literal values into the index key domain.
func conditionKeys(idx index.Index, c *query.Condition) ([]variant.Variant, error) {
	if c.Cond == query.CondAny || c.Cond == query.CondEmpty {
		return nil, nil
	}
	if c.Cond == query.CondDWithin || idx.IsFulltext() {
		return c.Values, nil
	}
	if idx.KeyType() == variant.TypeComposite {
		keys := make([]variant.Variant, len(c.Values))
		for i, v := range c.Values {
			if v.Type() == variant.TypeTuple {
				keys[i] = variant.NewComposite(v.Tuple()...)
			} else {
				keys[i] = v
			}
		}
		return keys, nil
	}
	keys := make([]variant.Variant, len(c.Values))
	for i, v := range c.Values {
		cv, err := v.Convert(idx.KeyType())
		if err != nil {
			return nil, errs.Params("condition on '%s': %v", c.Field, err)
		}
		keys[i] = cv
	}
	return keys, nil
}

// eqPosCheck verifies that a group of array fields matches the bracket's
// conditions at one shared array position.
type eqPosCheck struct {
	getters []fieldGetter
	conds   []query.CondType
	values  [][]variant.Variant
}

func (sc *selection) buildEqPos(entries []query.Entry, fields []string) (eqPosCheck, error) {
	if len(fields) < 2 {
		return eqPosCheck{}, errs.Params("equal_position needs at least two fields")
	}
	chk := eqPosCheck{}
	for _, f := range fields {
		var cond *query.Condition
		for i := range entries {
			if entries[i].Condition != nil && entries[i].Condition.Field == f {
				cond = entries[i].Condition
				break
			}
		}
		if cond == nil {
			return eqPosCheck{}, errs.Params("equal_position field '%s' has no condition in its bracket", f)
		}
		getter, _, err := sc.getterFor(f)
		if err != nil {
			return eqPosCheck{}, err
		}
		chk.getters = append(chk.getters, getter)
		chk.conds = append(chk.conds, cond.Cond)
		chk.values = append(chk.values, cond.Values)
	}
	return chk, nil
}

func (chk *eqPosCheck) match(pv *payload.Value) bool {
	cols := make([][]variant.Variant, len(chk.getters))
	maxLen := 0
	for i, g := range chk.getters {
		cols[i] = g(pv)
		if len(cols[i]) > maxLen {
			maxLen = len(cols[i])
		}
	}
	for p := 0; p < maxLen; p++ {
		all := true
		for i := range cols {
			if p >= len(cols[i]) ||
				!index.MatchCondition(cols[i][p:p+1], chk.conds[i], chk.values[i], variant.Collate{}) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// seedOf derives a candidate superset from the entry list: the union
// over OR groups of each group's cheapest positive id set. A group with
// no id-backed positive entry makes the whole plan a full scan.
func seedOf(entries []evalEntry) (*idset.Set, bool) {
	if len(entries) == 0 {
		return nil, false
	}
	union := idset.New()
	var best *idset.Set
	haveBest := false
	flush := func() bool {
		if !haveBest {
			return false
		}
		best.ForEach(func(id idset.IdType) bool {
			union.Add(id)
			return true
		})
		best, haveBest = nil, false
		return true
	}
	for i, e := range entries {
		if i > 0 && e.op == query.OpOr {
			// previous group ends here only when this entry opens a new
			// OR branch; groups accumulate until the list ends.
			if !flush() {
				return nil, false
			}
		}
		if e.op == query.OpNot {
			continue
		}
		var s *idset.Set
		switch {
		case e.alwaysFalse:
			s = idset.New()
		case e.leaf != nil && e.leaf.ids != nil:
			s = e.leaf.ids
		case len(e.children) > 0:
			sub, ok := seedOf(e.children)
			if !ok {
				continue
			}
			s = sub
		default:
			continue
		}
		if !haveBest || s.Size() < best.Size() {
			best, haveBest = s, true
		}
	}
	if !flush() {
		return nil, false
	}
	return union, true
}

// run walks the candidates and keeps rows the filter tree accepts.
func (sc *selection) run(ctx context.Context) ([]matchedRow, error) {
	var out []matchedRow
	ns := sc.ns
	visit := func(id idset.IdType) error {
		pv := ns.items[id]
		if pv == nil {
			return nil
		}
		ok, err := sc.matchEntries(sc.root, pv, id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if sc.distinctGetter != nil && !sc.admitDistinct(pv) {
			return nil
		}
		out = append(out, matchedRow{id: id, pv: pv, rank: sc.ranks[id]})
		return nil
	}
	n := 0
	if sc.candidates != nil {
		it := sc.candidates.Iter()
		for id, ok := it.Next(); ok; id, ok = it.Next() {
			if int(id) >= len(ns.items) {
				continue
			}
			if n%cancelCheckStride == 0 {
				if err := ctxutil.Check(ctx); err != nil {
					return nil, err
				}
			}
			n++
			if err := visit(id); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	for i := range ns.items {
		if n%cancelCheckStride == 0 {
			if err := ctxutil.Check(ctx); err != nil {
				return nil, err
			}
		}
		n++
		if err := visit(idset.IdType(i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (sc *selection) admitDistinct(pv *payload.Value) bool {
	vals := sc.distinctGetter(pv)
	admitted := false
	for _, v := range vals {
		k := index.MapKey(v, variant.Collate{})
		if _, seen := sc.distinctSeen[k]; !seen {
			sc.distinctSeen[k] = struct{}{}
			sc.distinctVals = append(sc.distinctVals, v.String())
			admitted = true
		}
	}
	return admitted
}

func (sc *selection) matchEntries(entries []evalEntry, pv *payload.Value, id idset.IdType) (bool, error) {
	acc := true
	for i := range entries {
		e := &entries[i]
		v, err := sc.matchEntry(e, pv, id)
		if err != nil {
			return false, err
		}
		if e.op == query.OpNot {
			v = !v
		}
		if i == 0 {
			acc = v
			continue
		}
		if e.op == query.OpOr {
			acc = acc || v
		} else {
			acc = acc && v
		}
	}
	return acc, nil
}

func (sc *selection) matchEntry(e *evalEntry, pv *payload.Value, id idset.IdType) (bool, error) {
	var ok bool
	var err error
	switch {
	case e.alwaysFalse:
		ok = false
	case e.join != nil:
		ok, err = e.join.rowMatches(pv, id)
	case len(e.children) > 0:
		ok, err = sc.matchEntries(e.children, pv, id)
	case e.leaf != nil:
		switch {
		case e.leaf.between != nil:
			ok = e.leaf.between.match(pv)
		case e.leaf.ids != nil:
			ok = e.leaf.ids.Contains(id)
		case e.leaf.cmp != nil:
			ok = e.leaf.cmp.Match(pv)
		default:
			ok = true
		}
	default:
		ok = true
	}
	if err != nil || !ok {
		return false, err
	}
	for i := range e.eqPos {
		if !e.eqPos[i].match(pv) {
			return false, nil
		}
	}
	return true, nil
}

// render serializes matched rows and their joined rows to JSON.
func (sc *selection) render(rows []matchedRow, q *query.Query) ([]ResultItem, error) {
	out := make([]ResultItem, 0, len(rows))
	for _, r := range rows {
		data, err := sc.codec.ToJSON(r.pv)
		if err != nil {
			return nil, err
		}
		item := ResultItem{
			ID:        r.id,
			Namespace: sc.ns.name,
			JSON:      json.RawMessage(data),
		}
		if q.WithRank || sc.hasFulltext {
			item.Rank = r.rank
		}
		for _, js := range sc.joins {
			joined, err := js.joinedJSON(r.pv, r.id)
			if err != nil {
				return nil, err
			}
			if len(joined) == 0 {
				continue
			}
			if item.Joined == nil {
				item.Joined = make(map[string][]json.RawMessage)
			}
			item.Joined[js.rightName()] = append(item.Joined[js.rightName()], joined...)
		}
		out = append(out, item)
	}
	return out, nil
}
