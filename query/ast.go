// Package query defines the canonical query AST shared by the SQL
// parser, the JSON DSL and the binary wire codec, and implements all
// three round-trippable surfaces over it.
package query

import (
	"github.com/thedenisnikulin/reindexer/variant"
)

// CondType is a filter condition.
type CondType int

const (
	CondAny CondType = iota
	CondEq
	CondLt
	CondLe
	CondGt
	CondGe
	CondRange
	CondSet
	CondAllSet
	CondEmpty
	CondLike
	CondDWithin
)

func (c CondType) String() string {
	switch c {
	case CondAny:
		return "ANY"
	case CondEq:
		return "="
	case CondLt:
		return "<"
	case CondLe:
		return "<="
	case CondGt:
		return ">"
	case CondGe:
		return ">="
	case CondRange:
		return "RANGE"
	case CondSet:
		return "IN"
	case CondAllSet:
		return "ALLSET"
	case CondEmpty:
		return "EMPTY"
	case CondLike:
		return "LIKE"
	case CondDWithin:
		return "DWITHIN"
	}
	return "?"
}

// OpType joins a filter entry to its left neighbor.
type OpType int

const (
	OpAnd OpType = iota
	OpOr
	OpNot
)

func (o OpType) String() string {
	switch o {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	}
	return "?"
}

// JoinType is the kind of a joined or merged sub-query.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinOrInner
	JoinMerge
)

func (j JoinType) String() string {
	switch j {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	case JoinOrInner:
		return "OR INNER JOIN"
	case JoinMerge:
		return "MERGE"
	}
	return "?"
}

// AggType is an aggregation kind.
type AggType int

const (
	AggSum AggType = iota
	AggAvg
	AggMin
	AggMax
	AggCount
	AggCountCached
	AggFacet
	AggDistinct
)

func (a AggType) String() string {
	switch a {
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggCount:
		return "COUNT"
	case AggCountCached:
		return "COUNT_CACHED"
	case AggFacet:
		return "FACET"
	case AggDistinct:
		return "DISTINCT"
	}
	return "?"
}

// TotalMode controls how the total row count is computed.
type TotalMode int

const (
	TotalNone TotalMode = iota
	TotalAccurate
	TotalCached
)

// StrictMode controls how unknown filter fields are treated.
type StrictMode int

const (
	// StrictNone permits comparator walks over non-indexed fields.
	StrictNone StrictMode = iota
	// StrictNames errors on fields absent from both indexes and documents.
	StrictNames
	// StrictIndexes errors on any filter over a non-indexed field.
	StrictIndexes
)

// Entry is one node of the filter tree.
type Entry struct {
	Op OpType

	// Exactly one of the following forms is set.
	Condition     *Condition
	BetweenFields *BetweenFields
	Bracket       *Bracket
	JoinRef       int // index into Query.Joins, -1 when unset
	AlwaysFalse   bool
}

// Condition filters one field against values.
type Condition struct {
	Field  string
	Cond   CondType
	Values []variant.Variant
}

// BetweenFields compares two fields of the same item.
type BetweenFields struct {
	LeftField  string
	Cond       CondType
	RightField string
}

// Bracket groups sub-entries and scopes equal-position constraints.
type Bracket struct {
	Entries        []Entry
	EqualPositions [][]string
}

// NewConditionEntry makes a leaf filter entry.
func NewConditionEntry(op OpType, field string, cond CondType, values ...variant.Variant) Entry {
	return Entry{Op: op, Condition: &Condition{Field: field, Cond: cond, Values: values}, JoinRef: -1}
}

// NewBracketEntry makes a bracket entry.
func NewBracketEntry(op OpType, entries ...Entry) Entry {
	return Entry{Op: op, Bracket: &Bracket{Entries: entries}, JoinRef: -1}
}

// NewJoinRefEntry makes an entry referencing Query.Joins[idx].
func NewJoinRefEntry(op OpType, idx int) Entry {
	return Entry{Op: op, JoinRef: idx}
}

// SortEntry is one ORDER BY term. Expression may be a plain field name or
// a sort expression (arithmetic over fields, rank(), ST_Distance).
type SortEntry struct {
	Expression string
	Desc       bool
}

// AggregateEntry is one aggregation request.
type AggregateEntry struct {
	Type   AggType
	Fields []string
	Sort   []SortEntry
	Limit  int
	Offset int
}

// OnCondition is one ON term of a join.
type OnCondition struct {
	Op         OpType
	LeftField  string
	Cond       CondType
	RightField string
}

// UpdateMode is the kind of one SET/DROP update entry.
type UpdateMode int

const (
	UpdateValue UpdateMode = iota
	UpdateExpression
	UpdateJSON
	UpdateDrop
)

// UpdateEntry is one SET/DROP clause of an update query.
type UpdateEntry struct {
	Field   string
	Mode    UpdateMode
	Values  []variant.Variant
	IsArray bool
	// Expression holds the raw text for expression and JSON modes.
	Expression string
}

// QueryType is the statement kind of a query.
type QueryType int

const (
	QuerySelect QueryType = iota
	QueryUpdate
	QueryDelete
	QueryTruncate
)

func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "SELECT"
	case QueryUpdate:
		return "UPDATE"
	case QueryDelete:
		return "DELETE"
	case QueryTruncate:
		return "TRUNCATE"
	}
	return "UNKNOWN"
}

// Query is the canonical AST.
type Query struct {
	Type      QueryType
	Namespace string
	Entries   []Entry

	Offset    int
	Limit     int
	TotalMode TotalMode

	Aggregations []AggregateEntry
	Sort         []SortEntry
	ForcedOrder  []variant.Variant

	SelectFilter   []string
	SelectFuncs    []string
	EqualPositions [][]string

	Joins  []JoinedQuery
	Merges []JoinedQuery

	Updates []UpdateEntry

	Strict   StrictMode
	Explain  bool
	WithRank bool
	Debug    int
}

// JoinedQuery is a sub-query plus its join kind and ON terms.
type JoinedQuery struct {
	Query
	JoinType JoinType
	On       []OnCondition
}

// New creates a select query on a namespace with no limit.
func New(namespace string) *Query {
	return &Query{Namespace: namespace, Limit: -1}
}

// Where appends an AND condition.
func (q *Query) Where(field string, cond CondType, values ...variant.Variant) *Query {
	q.Entries = append(q.Entries, NewConditionEntry(OpAnd, field, cond, values...))
	return q
}

// OrWhere appends an OR condition.
func (q *Query) OrWhere(field string, cond CondType, values ...variant.Variant) *Query {
	q.Entries = append(q.Entries, NewConditionEntry(OpOr, field, cond, values...))
	return q
}

// Not appends a negated condition.
func (q *Query) Not(field string, cond CondType, values ...variant.Variant) *Query {
	q.Entries = append(q.Entries, NewConditionEntry(OpNot, field, cond, values...))
	return q
}

// SortBy appends a sort entry.
func (q *Query) SortBy(expression string, desc bool) *Query {
	q.Sort = append(q.Sort, SortEntry{Expression: expression, Desc: desc})
	return q
}

// Aggregate appends an aggregation.
func (q *Query) Aggregate(t AggType, fields ...string) *Query {
	q.Aggregations = append(q.Aggregations, AggregateEntry{Type: t, Fields: fields, Limit: -1})
	return q
}

// ReqTotal asks for an accurate total count.
func (q *Query) ReqTotal() *Query {
	q.TotalMode = TotalAccurate
	return q
}

// CachedTotal asks for a cached total count.
func (q *Query) CachedTotal() *Query {
	q.TotalMode = TotalCached
	return q
}

// Join attaches a joined sub-query and plants a reference entry.
func (q *Query) Join(jq JoinedQuery) *Query {
	idx := len(q.Joins)
	q.Joins = append(q.Joins, jq)
	op := OpAnd
	if jq.JoinType == JoinOrInner {
		op = OpOr
	}
	if jq.JoinType != JoinLeft {
		q.Entries = append(q.Entries, NewJoinRefEntry(op, idx))
	}
	return q
}

// Merge attaches a merged sub-query.
func (q *Query) Merge(mq JoinedQuery) *Query {
	mq.JoinType = JoinMerge
	q.Merges = append(q.Merges, mq)
	return q
}
