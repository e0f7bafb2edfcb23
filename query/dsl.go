package query

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

// The DSL is the bijective JSON form of the AST: Query -> DSL -> Query
// is the identity, and so is DSL -> Query -> DSL modulo key order.

type dslQuery struct {
	Namespace       string      `json:"namespace"`
	Type            string      `json:"type,omitempty"`
	Limit           *int        `json:"limit,omitempty"`
	Offset          int         `json:"offset,omitempty"`
	ReqTotal        string      `json:"req_total,omitempty"`
	Explain         bool        `json:"explain,omitempty"`
	WithRank        bool        `json:"with_rank,omitempty"`
	StrictMode      string      `json:"strict_mode,omitempty"`
	DebugLevel      int         `json:"debug_level,omitempty"`
	SelectFilter    []string    `json:"select_filter,omitempty"`
	SelectFunctions []string    `json:"select_functions,omitempty"`
	Filters         []dslFilter `json:"filters,omitempty"`
	Sort            []dslSort   `json:"sort,omitempty"`
	Aggregations    []dslAgg    `json:"aggregations,omitempty"`
	EqualPositions  [][]string  `json:"equal_positions,omitempty"`
	MergeQueries    []dslJoined `json:"merge_queries,omitempty"`
	UpdateFields    []dslUpdate `json:"update_fields,omitempty"`
	DropFields      []string    `json:"drop_fields,omitempty"`
}

type dslFilter struct {
	Op             string      `json:"op,omitempty"`
	Field          string      `json:"field,omitempty"`
	Cond           string      `json:"cond,omitempty"`
	Value          any         `json:"value,omitempty"`
	Filters        []dslFilter `json:"filters,omitempty"`
	EqualPositions [][]string  `json:"equal_positions,omitempty"`
	JoinQuery      *dslJoined  `json:"join_query,omitempty"`
	FirstField     string      `json:"first_field,omitempty"`
	SecondField    string      `json:"second_field,omitempty"`
	AlwaysFalse    bool        `json:"always_false,omitempty"`
}

type dslJoined struct {
	dslQuery
	JoinType string  `json:"join_type,omitempty"`
	On       []dslOn `json:"on,omitempty"`
}

type dslOn struct {
	Op         string `json:"op,omitempty"`
	LeftField  string `json:"left_field"`
	Cond       string `json:"cond"`
	RightField string `json:"right_field"`
}

type dslSort struct {
	Field  string `json:"field"`
	Desc   bool   `json:"desc,omitempty"`
	Values []any  `json:"values,omitempty"`
}

type dslAgg struct {
	Type   string    `json:"type"`
	Fields []string  `json:"fields"`
	Sort   []dslSort `json:"sort,omitempty"`
	Limit  *int      `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

type dslUpdate struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	IsArray    bool   `json:"is_array,omitempty"`
	Values     []any  `json:"values,omitempty"`
	Expression string `json:"expression,omitempty"`
}

var condNames = map[CondType]string{
	CondAny: "any", CondEq: "eq", CondLt: "lt", CondLe: "le",
	CondGt: "gt", CondGe: "ge", CondRange: "range", CondSet: "set",
	CondAllSet: "allset", CondEmpty: "empty", CondLike: "like",
	CondDWithin: "dwithin",
}

var condByName = func() map[string]CondType {
	m := make(map[string]CondType, len(condNames))
	for k, v := range condNames {
		m[v] = k
	}
	return m
}()

var opNames = map[OpType]string{OpAnd: "and", OpOr: "or", OpNot: "not"}

var aggNames = map[AggType]string{
	AggSum: "sum", AggAvg: "avg", AggMin: "min", AggMax: "max",
	AggCount: "count", AggCountCached: "count_cached", AggFacet: "facet",
	AggDistinct: "distinct",
}

var aggByName = func() map[string]AggType {
	m := make(map[string]AggType, len(aggNames))
	for k, v := range aggNames {
		m[v] = k
	}
	return m
}()

// DSL renders the query as its JSON form.
func (q *Query) DSL() ([]byte, error) {
	return json.Marshal(q.toDSL())
}

func (q *Query) toDSL() dslQuery {
	d := dslQuery{
		Namespace:       q.Namespace,
		Offset:          q.Offset,
		Explain:         q.Explain,
		WithRank:        q.WithRank,
		DebugLevel:      q.Debug,
		SelectFilter:    q.SelectFilter,
		SelectFunctions: q.SelectFuncs,
		EqualPositions:  q.EqualPositions,
	}
	switch q.Type {
	case QueryUpdate:
		d.Type = "update"
	case QueryDelete:
		d.Type = "delete"
	case QueryTruncate:
		d.Type = "truncate"
	}
	if q.Limit >= 0 {
		d.Limit = &q.Limit
	}
	switch q.TotalMode {
	case TotalAccurate:
		d.ReqTotal = "enabled"
	case TotalCached:
		d.ReqTotal = "cached"
	}
	switch q.Strict {
	case StrictNames:
		d.StrictMode = "names"
	case StrictIndexes:
		d.StrictMode = "indexes"
	}
	d.Filters = q.entriesToDSL(q.Entries)
	refd := make(map[int]bool)
	markJoinRefs(q.Entries, refd)
	for i := range q.Joins {
		if !refd[i] {
			jd := q.joinToDSL(i)
			d.Filters = append(d.Filters, dslFilter{Op: "and", JoinQuery: &jd})
		}
	}
	for i, se := range q.Sort {
		ds := dslSort{Field: se.Expression, Desc: se.Desc}
		if i == 0 {
			for _, v := range q.ForcedOrder {
				ds.Values = append(ds.Values, variantToJSON(v))
			}
		}
		d.Sort = append(d.Sort, ds)
	}
	for _, agg := range q.Aggregations {
		da := dslAgg{Type: aggNames[agg.Type], Fields: agg.Fields, Offset: agg.Offset}
		if agg.Limit >= 0 {
			lim := agg.Limit
			da.Limit = &lim
		}
		for _, se := range agg.Sort {
			da.Sort = append(da.Sort, dslSort{Field: se.Expression, Desc: se.Desc})
		}
		d.Aggregations = append(d.Aggregations, da)
	}
	for i := range q.Merges {
		md := q.Merges[i].toDSLJoined()
		md.JoinType = ""
		d.MergeQueries = append(d.MergeQueries, md)
	}
	for _, ue := range q.Updates {
		if ue.Mode == UpdateDrop {
			d.DropFields = append(d.DropFields, ue.Field)
			continue
		}
		du := dslUpdate{Name: ue.Field, IsArray: ue.IsArray}
		switch ue.Mode {
		case UpdateExpression:
			du.Type = "expression"
			du.Expression = ue.Expression
		case UpdateJSON:
			du.Type = "object"
			du.Expression = ue.Expression
		default:
			du.Type = "value"
			for _, v := range ue.Values {
				du.Values = append(du.Values, variantToJSON(v))
			}
		}
		d.UpdateFields = append(d.UpdateFields, du)
	}
	return d
}

func markJoinRefs(entries []Entry, refd map[int]bool) {
	for _, e := range entries {
		if e.Bracket != nil {
			markJoinRefs(e.Bracket.Entries, refd)
		} else if e.Condition == nil && e.BetweenFields == nil && !e.AlwaysFalse && e.JoinRef >= 0 {
			refd[e.JoinRef] = true
		}
	}
}

func (q *Query) entriesToDSL(entries []Entry) []dslFilter {
	var out []dslFilter
	for _, e := range entries {
		f := dslFilter{Op: opNames[e.Op]}
		switch {
		case e.Bracket != nil:
			f.Filters = q.entriesToDSL(e.Bracket.Entries)
			f.EqualPositions = e.Bracket.EqualPositions
		case e.Condition != nil:
			f.Field = e.Condition.Field
			f.Cond = condNames[e.Condition.Cond]
			f.Value = valuesToJSON(e.Condition.Values, e.Condition.Cond)
		case e.BetweenFields != nil:
			f.FirstField = e.BetweenFields.LeftField
			f.Cond = condNames[e.BetweenFields.Cond]
			f.SecondField = e.BetweenFields.RightField
		case e.AlwaysFalse:
			f.AlwaysFalse = true
		case e.JoinRef >= 0:
			jd := q.joinToDSL(e.JoinRef)
			f.JoinQuery = &jd
		}
		out = append(out, f)
	}
	return out
}

func (q *Query) joinToDSL(idx int) dslJoined {
	return q.Joins[idx].toDSLJoined()
}

func (jq *JoinedQuery) toDSLJoined() dslJoined {
	d := dslJoined{dslQuery: jq.Query.toDSL()}
	switch jq.JoinType {
	case JoinInner:
		d.JoinType = "inner"
	case JoinLeft:
		d.JoinType = "left"
	case JoinOrInner:
		d.JoinType = "orinner"
	}
	for _, on := range jq.On {
		d.On = append(d.On, dslOn{
			Op:         opNames[on.Op],
			LeftField:  on.LeftField,
			Cond:       condNames[on.Cond],
			RightField: on.RightField,
		})
	}
	return d
}

// valuesToJSON keeps single-value conditions as a scalar and multi-value
// conditions as an array.
func valuesToJSON(values []variant.Variant, cond CondType) any {
	switch cond {
	case CondAny, CondEmpty:
		return nil
	case CondSet, CondAllSet, CondRange, CondDWithin:
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = variantToJSON(v)
		}
		return out
	}
	if len(values) == 0 {
		return nil
	}
	return variantToJSON(values[0])
}

func variantToJSON(v variant.Variant) any {
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
		for i, sub := range v.Tuple() {
			out[i] = variantToJSON(sub)
		}
		return out
	}
	return nil
}

// ParseDSL parses the JSON form back into the AST.
func ParseDSL(data []byte) (*Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d dslQuery
	if err := dec.Decode(&d); err != nil {
		return nil, errs.ParseBin("bad query dsl: %s", err.Error())
	}
	return d.toQuery()
}

func (d *dslQuery) toQuery() (*Query, error) {
	q := New(d.Namespace)
	switch d.Type {
	case "", "select":
	case "update":
		q.Type = QueryUpdate
	case "delete":
		q.Type = QueryDelete
	case "truncate":
		q.Type = QueryTruncate
	default:
		return nil, errs.ParseBin("unknown query type '%s'", d.Type)
	}
	if d.Limit != nil {
		q.Limit = *d.Limit
	}
	q.Offset = d.Offset
	q.Explain = d.Explain
	q.WithRank = d.WithRank
	q.Debug = d.DebugLevel
	q.SelectFilter = d.SelectFilter
	q.SelectFuncs = d.SelectFunctions
	q.EqualPositions = d.EqualPositions
	switch d.ReqTotal {
	case "":
	case "enabled":
		q.TotalMode = TotalAccurate
	case "cached":
		q.TotalMode = TotalCached
	default:
		return nil, errs.ParseBin("unknown req_total '%s'", d.ReqTotal)
	}
	switch d.StrictMode {
	case "", "none":
	case "names":
		q.Strict = StrictNames
	case "indexes":
		q.Strict = StrictIndexes
	default:
		return nil, errs.ParseBin("unknown strict_mode '%s'", d.StrictMode)
	}
	entries, err := filtersToEntries(q, d.Filters)
	if err != nil {
		return nil, err
	}
	q.Entries = entries
	for i, ds := range d.Sort {
		q.Sort = append(q.Sort, SortEntry{Expression: ds.Field, Desc: ds.Desc})
		if i == 0 {
			for _, raw := range ds.Values {
				v, err := jsonToVariant(raw)
				if err != nil {
					return nil, err
				}
				q.ForcedOrder = append(q.ForcedOrder, v)
			}
		}
	}
	for _, da := range d.Aggregations {
		agg, ok := aggByName[strings.ToLower(da.Type)]
		if !ok {
			return nil, errs.ParseBin("unknown aggregation '%s'", da.Type)
		}
		ae := AggregateEntry{Type: agg, Fields: da.Fields, Offset: da.Offset, Limit: -1}
		if da.Limit != nil {
			ae.Limit = *da.Limit
		}
		for _, ds := range da.Sort {
			ae.Sort = append(ae.Sort, SortEntry{Expression: ds.Field, Desc: ds.Desc})
		}
		q.Aggregations = append(q.Aggregations, ae)
	}
	for i := range d.MergeQueries {
		jq, err := d.MergeQueries[i].toJoined()
		if err != nil {
			return nil, err
		}
		jq.JoinType = JoinMerge
		q.Merges = append(q.Merges, jq)
	}
	for _, du := range d.UpdateFields {
		ue := UpdateEntry{Field: du.Name, IsArray: du.IsArray}
		switch du.Type {
		case "", "value":
			for _, raw := range du.Values {
				v, err := jsonToVariant(raw)
				if err != nil {
					return nil, err
				}
				ue.Values = append(ue.Values, v)
			}
		case "expression":
			ue.Mode = UpdateExpression
			ue.Expression = du.Expression
		case "object":
			ue.Mode = UpdateJSON
			ue.Expression = du.Expression
		default:
			return nil, errs.ParseBin("unknown update type '%s'", du.Type)
		}
		q.Updates = append(q.Updates, ue)
	}
	for _, f := range d.DropFields {
		q.Updates = append(q.Updates, UpdateEntry{Field: f, Mode: UpdateDrop})
	}
	return q, nil
}

func filtersToEntries(q *Query, filters []dslFilter) ([]Entry, error) {
	var out []Entry
	for _, f := range filters {
		op := OpAnd
		switch strings.ToLower(f.Op) {
		case "", "and":
		case "or":
			op = OpOr
		case "not":
			op = OpNot
		default:
			return nil, errs.ParseBin("unknown filter op '%s'", f.Op)
		}
		switch {
		case f.JoinQuery != nil:
			jq, err := f.JoinQuery.toJoined()
			if err != nil {
				return nil, err
			}
			idx := len(q.Joins)
			q.Joins = append(q.Joins, jq)
			if jq.JoinType != JoinLeft {
				if jq.JoinType == JoinOrInner {
					op = OpOr
				}
				out = append(out, NewJoinRefEntry(op, idx))
			}
		case f.Filters != nil:
			sub, err := filtersToEntries(q, f.Filters)
			if err != nil {
				return nil, err
			}
			e := NewBracketEntry(op, sub...)
			e.Bracket.EqualPositions = f.EqualPositions
			out = append(out, e)
		case f.FirstField != "":
			cond, ok := condByName[strings.ToLower(f.Cond)]
			if !ok {
				return nil, errs.ParseBin("unknown condition '%s'", f.Cond)
			}
			out = append(out, Entry{Op: op, BetweenFields: &BetweenFields{
				LeftField: f.FirstField, Cond: cond, RightField: f.SecondField,
			}, JoinRef: -1})
		case f.AlwaysFalse:
			out = append(out, Entry{Op: op, AlwaysFalse: true, JoinRef: -1})
		default:
			cond, ok := condByName[strings.ToLower(f.Cond)]
			if !ok {
				return nil, errs.ParseBin("unknown condition '%s'", f.Cond)
			}
			values, err := jsonToValues(f.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, NewConditionEntry(op, f.Field, cond, values...))
		}
	}
	return out, nil
}

func (d *dslJoined) toJoined() (JoinedQuery, error) {
	q, err := d.dslQuery.toQuery()
	if err != nil {
		return JoinedQuery{}, err
	}
	jq := JoinedQuery{Query: *q}
	switch d.JoinType {
	case "", "inner":
		jq.JoinType = JoinInner
	case "left":
		jq.JoinType = JoinLeft
	case "orinner":
		jq.JoinType = JoinOrInner
	default:
		return JoinedQuery{}, errs.ParseBin("unknown join type '%s'", d.JoinType)
	}
	for _, on := range d.On {
		op := OpAnd
		if strings.EqualFold(on.Op, "or") {
			op = OpOr
		}
		cond, ok := condByName[strings.ToLower(on.Cond)]
		if !ok {
			return JoinedQuery{}, errs.ParseBin("unknown condition '%s'", on.Cond)
		}
		jq.On = append(jq.On, OnCondition{
			Op: op, LeftField: on.LeftField, Cond: cond, RightField: on.RightField,
		})
	}
	return jq, nil
}

func jsonToValues(raw any) ([]variant.Variant, error) {
	if raw == nil {
		return nil, nil
	}
	if arr, ok := raw.([]any); ok {
		out := make([]variant.Variant, len(arr))
		for i, el := range arr {
			v, err := jsonToVariant(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	v, err := jsonToVariant(raw)
	if err != nil {
		return nil, err
	}
	return []variant.Variant{v}, nil
}

func jsonToVariant(raw any) (variant.Variant, error) {
	switch t := raw.(type) {
	case nil:
		return variant.NewNull(), nil
	case bool:
		return variant.NewBool(t), nil
	case string:
		return variant.NewString(t), nil
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			f, err := t.Float64()
			if err != nil {
				return variant.Variant{}, errs.ParseBin("bad number '%s'", t.String())
			}
			return variant.NewDouble(f), nil
		}
		n, err := t.Int64()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad number '%s'", t.String())
		}
		return variant.NewInt64(n), nil
	case float64:
		return variant.NewDouble(t), nil
	case []any:
		sub := make([]variant.Variant, len(t))
		for i, el := range t {
			v, err := jsonToVariant(el)
			if err != nil {
				return variant.Variant{}, err
			}
			sub[i] = v
		}
		return variant.NewTuple(sub...), nil
	}
	return variant.Variant{}, errs.ParseBin("unsupported value in query dsl")
}
