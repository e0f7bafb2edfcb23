package engine

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

// updateStatementThreshold is the affected-row count from which a pure
// SET-by-value update replicates as one statement record instead of
// per-row item records.
const updateStatementThreshold = 5

// DeleteQuery removes every item the filter matches and returns the
// removed rows.
func (ns *Namespace) DeleteQuery(ctx context.Context, q *query.Query, resolve NamespaceResolver, originLSN wal.LSN) (*QueryResults, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return nil, err
	}
	return ns.deleteQueryLocked(ctx, q, resolve, originLSN, false)
}

func (ns *Namespace) deleteQueryLocked(ctx context.Context, q *query.Query, resolve NamespaceResolver, originLSN wal.LSN, inTx bool) (*QueryResults, error) {
	if q.Type != query.QueryDelete {
		return nil, errs.Params("DeleteQuery expects a DELETE query, got %s", q.Type)
	}
	matched, sel, err := ns.matchForWrite(ctx, q, resolve)
	if err != nil {
		return nil, err
	}
	items := make([]ResultItem, 0, len(matched))
	for _, m := range matched {
		data, err := sel.codec.ToJSON(m.pv)
		if err != nil {
			return nil, err
		}
		items = append(items, ResultItem{ID: m.id, Namespace: ns.name, JSON: json.RawMessage(data)})
		if err := ns.removeItemLocked(m.id); err != nil {
			return nil, err
		}
		if ns.store != nil {
			if err := ns.store.Remove(ctx, itemKey(m.id)); err != nil {
				return nil, err
			}
		}
	}
	if len(matched) > 0 {
		ns.addWAL(wal.Record{Type: wal.RecDeleteQuery, Data: []byte(q.SQL()), InTransaction: inTx}, originLSN)
	}
	return &QueryResults{Items: items, TotalCount: -1}, nil
}

// UpdateQuery applies the SET/DROP entries to every matching item and
// returns the rows as they look afterwards.
func (ns *Namespace) UpdateQuery(ctx context.Context, q *query.Query, resolve NamespaceResolver, originLSN wal.LSN) (*QueryResults, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return nil, err
	}
	return ns.updateQueryLocked(ctx, q, resolve, originLSN, false)
}

func (ns *Namespace) updateQueryLocked(ctx context.Context, q *query.Query, resolve NamespaceResolver, originLSN wal.LSN, inTx bool) (*QueryResults, error) {
	if q.Type != query.QueryUpdate {
		return nil, errs.Params("UpdateQuery expects an UPDATE query, got %s", q.Type)
	}
	if len(q.Updates) == 0 {
		return nil, errs.Params("UPDATE query on '%s' has no SET or DROP entries", ns.name)
	}
	matched, sel, err := ns.matchForWrite(ctx, q, resolve)
	if err != nil {
		return nil, err
	}

	statement := len(matched) >= updateStatementThreshold && q.Limit < 0 && q.Offset == 0
	for _, ue := range q.Updates {
		if ue.Mode == query.UpdateExpression || ue.Mode == query.UpdateJSON {
			statement = false
		}
	}

	type updated struct {
		id   idset.IdType
		data []byte
	}
	var written []updated
	items := make([]ResultItem, 0, len(matched))
	for _, m := range matched {
		doc, err := sel.codec.ToJSON(m.pv)
		if err != nil {
			return nil, err
		}
		var obj map[string]any
		if err := json.Unmarshal(doc, &obj); err != nil {
			return nil, errs.Logic("namespace '%s': item %d is not a JSON object", ns.name, m.id)
		}
		for i := range q.Updates {
			if err := sel.applyUpdateEntry(obj, &q.Updates[i], m); err != nil {
				return nil, err
			}
		}
		newDoc, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		newPv, err := sel.codec.FromJSON(newDoc)
		if err != nil {
			return nil, err
		}
		if err := ns.unindexLocked(m.id); err != nil {
			return nil, err
		}
		ns.items[m.id] = newPv
		ns.repl.DataHash ^= newPv.Hash()
		for i := range ns.indexes {
			keys, err := ns.indexKeys(i, newPv)
			if err != nil {
				return nil, err
			}
			if err := ns.indexes[i].Upsert(keys, m.id); err != nil {
				return nil, err
			}
		}
		cj, err := ns.codec().ToCJSON(newPv)
		if err != nil {
			return nil, err
		}
		if !statement {
			rec := wal.Record{Type: wal.RecItemUpdate, Data: cj, InTransaction: inTx}
			lsn := ns.addWAL(rec, originLSN)
			if ns.store != nil {
				if err := ns.store.Write(ctx, itemKey(m.id), wal.Pack(lsn, rec)); err != nil {
					return nil, err
				}
			}
		} else {
			written = append(written, updated{id: m.id, data: cj})
		}
		outJSON, err := ns.codec().ToJSON(newPv)
		if err != nil {
			return nil, err
		}
		items = append(items, ResultItem{ID: m.id, Namespace: ns.name, JSON: json.RawMessage(outJSON)})
	}
	if statement && len(matched) > 0 {
		lsn := ns.addWAL(wal.Record{Type: wal.RecUpdateQuery, Data: []byte(q.SQL()), InTransaction: inTx}, originLSN)
		if ns.store != nil {
			for _, w := range written {
				rec := wal.Record{Type: wal.RecItemUpdate, Data: w.data}
				if err := ns.store.Write(ctx, itemKey(w.id), wal.Pack(lsn, rec)); err != nil {
					return nil, err
				}
			}
		}
	}
	if len(matched) > 0 {
		ns.dropCachesLocked()
	}
	return &QueryResults{Items: items, TotalCount: -1}, nil
}

// matchForWrite runs the select phases under the already-held write
// lock and applies the query's own limit window.
func (ns *Namespace) matchForWrite(ctx context.Context, q *query.Query, resolve NamespaceResolver) ([]matchedRow, *selection, error) {
	sub := *q
	sub.Type = query.QuerySelect
	sel, err := ns.prepareSelection(ctx, &sub, resolve, nil)
	if err != nil {
		return nil, nil, err
	}
	matched, err := sel.run(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := sel.sortRows(matched); err != nil {
		return nil, nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit >= 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, sel, nil
}

func (sc *selection) applyUpdateEntry(obj map[string]any, ue *query.UpdateEntry, row matchedRow) error {
	switch ue.Mode {
	case query.UpdateDrop:
		dropJSONPath(obj, strings.Split(ue.Field, "."))
		return nil
	case query.UpdateJSON:
		var sub any
		if err := json.Unmarshal([]byte(ue.Expression), &sub); err != nil {
			return errs.Params("SET %s: bad JSON value: %v", ue.Field, err)
		}
		setJSONPath(obj, strings.Split(ue.Field, "."), sub)
		return nil
	case query.UpdateExpression:
		node, err := parseSortExpr(ue.Expression)
		if err != nil {
			return err
		}
		f, err := node.eval(sc, &row)
		if err != nil {
			return err
		}
		setJSONPath(obj, strings.Split(ue.Field, "."), numberJSON(f))
		return nil
	}
	if ue.IsArray || len(ue.Values) > 1 {
		arr := make([]any, len(ue.Values))
		for i, v := range ue.Values {
			arr[i] = variantJSON(v)
		}
		setJSONPath(obj, strings.Split(ue.Field, "."), arr)
		return nil
	}
	if len(ue.Values) == 0 {
		setJSONPath(obj, strings.Split(ue.Field, "."), nil)
		return nil
	}
	setJSONPath(obj, strings.Split(ue.Field, "."), variantJSON(ue.Values[0]))
	return nil
}

// numberJSON keeps integral results integral so int fields stay ints.
func numberJSON(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func variantJSON(v variant.Variant) any {
	switch v.Type() {
	case variant.TypeBool:
		return v.Bool()
	case variant.TypeInt, variant.TypeInt64:
		return v.AsInt64()
	case variant.TypeDouble:
		return v.AsDouble()
	case variant.TypeString:
		return v.Str()
	case variant.TypeTuple, variant.TypeComposite:
		out := make([]any, len(v.Tuple()))
		for i, e := range v.Tuple() {
			out[i] = variantJSON(e)
		}
		return out
	}
	return nil
}

func setJSONPath(obj map[string]any, path []string, value any) {
	for i := 0; i < len(path)-1; i++ {
		next, ok := obj[path[i]].(map[string]any)
		if !ok {
			next = make(map[string]any)
			obj[path[i]] = next
		}
		obj = next
	}
	obj[path[len(path)-1]] = value
}

func dropJSONPath(obj map[string]any, path []string) {
	for i := 0; i < len(path)-1; i++ {
		next, ok := obj[path[i]].(map[string]any)
		if !ok {
			return
		}
		obj = next
	}
	delete(obj, path[len(path)-1])
}
