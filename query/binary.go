package query

import (
	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Wire record tags. The stream is the query type, the namespace string,
// tagged records and a tagEnd terminator; then the joined and the merged
// sub-query lists follow, each prefixed by its count, with every
// sub-query stream prefixed by its join type.
const (
	tagEnd uint64 = iota
	tagCondition
	tagBetweenFieldsCondition
	tagAlwaysFalseCondition
	tagJoinCondition
	tagOpenBracket
	tagCloseBracket
	tagEqualPosition
	tagSortIndex
	tagAggregation
	tagSelectFilter
	tagSelectFunction
	tagLimit
	tagOffset
	tagReqTotal
	tagStrictMode
	tagExplain
	tagWithRank
	tagDebugLevel
	tagJoinOn
	tagUpdateField
	tagUpdateFieldV2
	tagUpdateObject
	tagDropField
)

// Binary serializes the query to its wire form.
func (q *Query) Binary() []byte {
	ser := cjson.NewSerializer()
	q.encodeStream(ser, nil)
	ser.PutUvarint(uint64(len(q.Joins)))
	for i := range q.Joins {
		jq := &q.Joins[i]
		ser.PutUvarint(uint64(jq.JoinType))
		jq.encodeStream(ser, jq.On)
	}
	ser.PutUvarint(uint64(len(q.Merges)))
	for i := range q.Merges {
		mq := &q.Merges[i]
		ser.PutUvarint(uint64(mq.JoinType))
		mq.encodeStream(ser, mq.On)
	}
	return ser.Bytes()
}

func (q *Query) encodeStream(ser *cjson.Serializer, on []OnCondition) {
	ser.PutUvarint(uint64(q.Type))
	ser.PutVString(q.Namespace)
	encodeEntries(ser, q.Entries, q.EqualPositions)
	for _, oc := range on {
		ser.PutUvarint(tagJoinOn)
		ser.PutUvarint(uint64(oc.Op))
		ser.PutUvarint(uint64(oc.Cond))
		ser.PutVString(oc.LeftField)
		ser.PutVString(oc.RightField)
	}
	for i, se := range q.Sort {
		ser.PutUvarint(tagSortIndex)
		ser.PutVString(se.Expression)
		ser.PutBool(se.Desc)
		if i == 0 {
			ser.PutUvarint(uint64(len(q.ForcedOrder)))
			for _, v := range q.ForcedOrder {
				encodeVariant(ser, v)
			}
		} else {
			ser.PutUvarint(0)
		}
	}
	for _, agg := range q.Aggregations {
		ser.PutUvarint(tagAggregation)
		ser.PutUvarint(uint64(agg.Type))
		ser.PutUvarint(uint64(len(agg.Fields)))
		for _, f := range agg.Fields {
			ser.PutVString(f)
		}
		ser.PutUvarint(uint64(len(agg.Sort)))
		for _, se := range agg.Sort {
			ser.PutVString(se.Expression)
			ser.PutBool(se.Desc)
		}
		ser.PutVarint(int64(agg.Limit))
		ser.PutVarint(int64(agg.Offset))
	}
	for _, f := range q.SelectFilter {
		ser.PutUvarint(tagSelectFilter)
		ser.PutVString(f)
	}
	for _, fn := range q.SelectFuncs {
		ser.PutUvarint(tagSelectFunction)
		ser.PutVString(fn)
	}
	if q.Limit >= 0 {
		ser.PutUvarint(tagLimit)
		ser.PutVarint(int64(q.Limit))
	}
	if q.Offset > 0 {
		ser.PutUvarint(tagOffset)
		ser.PutVarint(int64(q.Offset))
	}
	if q.TotalMode != TotalNone {
		ser.PutUvarint(tagReqTotal)
		ser.PutUvarint(uint64(q.TotalMode))
	}
	if q.Strict != StrictNone {
		ser.PutUvarint(tagStrictMode)
		ser.PutUvarint(uint64(q.Strict))
	}
	if q.Explain {
		ser.PutUvarint(tagExplain)
	}
	if q.WithRank {
		ser.PutUvarint(tagWithRank)
	}
	if q.Debug > 0 {
		ser.PutUvarint(tagDebugLevel)
		ser.PutVarint(int64(q.Debug))
	}
	for _, ue := range q.Updates {
		encodeUpdate(ser, ue)
	}
	ser.PutUvarint(tagEnd)
}

func encodeEntries(ser *cjson.Serializer, entries []Entry, eqPos [][]string) {
	for _, e := range entries {
		switch {
		case e.Bracket != nil:
			ser.PutUvarint(tagOpenBracket)
			ser.PutUvarint(uint64(e.Op))
			encodeEntries(ser, e.Bracket.Entries, e.Bracket.EqualPositions)
			ser.PutUvarint(tagCloseBracket)
		case e.Condition != nil:
			ser.PutUvarint(tagCondition)
			ser.PutUvarint(uint64(e.Op))
			ser.PutVString(e.Condition.Field)
			ser.PutUvarint(uint64(e.Condition.Cond))
			ser.PutUvarint(uint64(len(e.Condition.Values)))
			for _, v := range e.Condition.Values {
				encodeVariant(ser, v)
			}
		case e.BetweenFields != nil:
			ser.PutUvarint(tagBetweenFieldsCondition)
			ser.PutUvarint(uint64(e.Op))
			ser.PutVString(e.BetweenFields.LeftField)
			ser.PutUvarint(uint64(e.BetweenFields.Cond))
			ser.PutVString(e.BetweenFields.RightField)
		case e.AlwaysFalse:
			ser.PutUvarint(tagAlwaysFalseCondition)
			ser.PutUvarint(uint64(e.Op))
		case e.JoinRef >= 0:
			ser.PutUvarint(tagJoinCondition)
			ser.PutUvarint(uint64(e.Op))
			ser.PutUvarint(uint64(e.JoinRef))
		}
	}
	for _, group := range eqPos {
		ser.PutUvarint(tagEqualPosition)
		ser.PutUvarint(uint64(len(group)))
		for _, f := range group {
			ser.PutVString(f)
		}
	}
}

func encodeUpdate(ser *cjson.Serializer, ue UpdateEntry) {
	switch ue.Mode {
	case UpdateDrop:
		ser.PutUvarint(tagDropField)
		ser.PutVString(ue.Field)
	case UpdateJSON:
		ser.PutUvarint(tagUpdateObject)
		ser.PutVString(ue.Field)
		ser.PutVString(ue.Expression)
	case UpdateExpression:
		ser.PutUvarint(tagUpdateFieldV2)
		ser.PutVString(ue.Field)
		ser.PutUvarint(uint64(UpdateExpression))
		ser.PutBool(false)
		ser.PutUvarint(1)
		ser.PutVString(ue.Expression)
	default:
		ser.PutUvarint(tagUpdateFieldV2)
		ser.PutVString(ue.Field)
		ser.PutUvarint(uint64(UpdateValue))
		ser.PutBool(ue.IsArray)
		ser.PutUvarint(uint64(len(ue.Values)))
		for _, v := range ue.Values {
			encodeVariant(ser, v)
		}
	}
}

func encodeVariant(ser *cjson.Serializer, v variant.Variant) {
	ser.PutUvarint(uint64(v.Type()))
	switch v.Type() {
	case variant.TypeBool:
		ser.PutBool(v.Bool())
	case variant.TypeInt, variant.TypeInt64:
		ser.PutVarint(v.AsInt64())
	case variant.TypeDouble:
		ser.PutDouble(v.AsDouble())
	case variant.TypeString:
		ser.PutVString(v.Str())
	case variant.TypeTuple, variant.TypeComposite:
		t := v.Tuple()
		ser.PutUvarint(uint64(len(t)))
		for _, e := range t {
			encodeVariant(ser, e)
		}
	}
}

// ParseBinary decodes a query from its wire form.
func ParseBinary(data []byte) (*Query, error) {
	des := cjson.NewDeserializer(data)
	q := &Query{Limit: -1}
	if err := q.decodeStream(des, nil); err != nil {
		return nil, err
	}
	njoins, err := des.GetUvarint()
	if err != nil {
		return nil, errs.ParseBin("bad join count: %v", err)
	}
	for i := uint64(0); i < njoins; i++ {
		jq, err := decodeSubQuery(des)
		if err != nil {
			return nil, err
		}
		q.Joins = append(q.Joins, jq)
	}
	nmerges, err := des.GetUvarint()
	if err != nil {
		return nil, errs.ParseBin("bad merge count: %v", err)
	}
	for i := uint64(0); i < nmerges; i++ {
		mq, err := decodeSubQuery(des)
		if err != nil {
			return nil, err
		}
		q.Merges = append(q.Merges, mq)
	}
	if !des.Eof() {
		return nil, errs.ParseBin("trailing bytes at position %d", des.Pos())
	}
	return q, nil
}

func decodeSubQuery(des *cjson.Deserializer) (JoinedQuery, error) {
	jt, err := des.GetUvarint()
	if err != nil {
		return JoinedQuery{}, errs.ParseBin("bad join type: %v", err)
	}
	if jt > uint64(JoinMerge) {
		return JoinedQuery{}, errs.ParseBin("unknown join type %d", jt)
	}
	jq := JoinedQuery{Query: Query{Limit: -1}, JoinType: JoinType(jt)}
	if err := jq.decodeStream(des, &jq.On); err != nil {
		return JoinedQuery{}, err
	}
	return jq, nil
}

type binFrame struct {
	op      OpType
	entries []Entry
	eqPos   [][]string
}

func (q *Query) decodeStream(des *cjson.Deserializer, on *[]OnCondition) error {
	qt, err := des.GetUvarint()
	if err != nil {
		return errs.ParseBin("bad query type: %v", err)
	}
	if qt > uint64(QueryTruncate) {
		return errs.ParseBin("unknown query type %d", qt)
	}
	q.Type = QueryType(qt)
	if q.Namespace, err = des.GetVString(); err != nil {
		return errs.ParseBin("bad namespace: %v", err)
	}
	stack := []*binFrame{{}}
	top := func() *binFrame { return stack[len(stack)-1] }
	for {
		tag, err := des.GetUvarint()
		if err != nil {
			return errs.ParseBin("bad record tag: %v", err)
		}
		switch tag {
		case tagEnd:
			if len(stack) != 1 {
				return errs.ParseBin("unbalanced brackets")
			}
			q.Entries = stack[0].entries
			q.EqualPositions = stack[0].eqPos
			return nil
		case tagOpenBracket:
			op, err := decodeOp(des)
			if err != nil {
				return err
			}
			stack = append(stack, &binFrame{op: op})
		case tagCloseBracket:
			if len(stack) < 2 {
				return errs.ParseBin("close bracket without open")
			}
			f := top()
			stack = stack[:len(stack)-1]
			top().entries = append(top().entries, Entry{
				Op:      f.op,
				Bracket: &Bracket{Entries: f.entries, EqualPositions: f.eqPos},
				JoinRef: -1,
			})
		case tagCondition:
			e, err := decodeCondition(des)
			if err != nil {
				return err
			}
			top().entries = append(top().entries, e)
		case tagBetweenFieldsCondition:
			op, err := decodeOp(des)
			if err != nil {
				return err
			}
			left, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad field: %v", err)
			}
			cond, err := decodeCond(des)
			if err != nil {
				return err
			}
			right, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad field: %v", err)
			}
			top().entries = append(top().entries, Entry{
				Op:            op,
				BetweenFields: &BetweenFields{LeftField: left, Cond: cond, RightField: right},
				JoinRef:       -1,
			})
		case tagAlwaysFalseCondition:
			op, err := decodeOp(des)
			if err != nil {
				return err
			}
			top().entries = append(top().entries, Entry{Op: op, AlwaysFalse: true, JoinRef: -1})
		case tagJoinCondition:
			op, err := decodeOp(des)
			if err != nil {
				return err
			}
			ref, err := des.GetUvarint()
			if err != nil {
				return errs.ParseBin("bad join ref: %v", err)
			}
			top().entries = append(top().entries, Entry{Op: op, JoinRef: int(ref)})
		case tagEqualPosition:
			n, err := des.GetUvarint()
			if err != nil {
				return errs.ParseBin("bad equal position count: %v", err)
			}
			group := make([]string, 0, n)
			for i := uint64(0); i < n; i++ {
				f, err := des.GetVString()
				if err != nil {
					return errs.ParseBin("bad equal position field: %v", err)
				}
				group = append(group, f)
			}
			top().eqPos = append(top().eqPos, group)
		case tagSortIndex:
			se := SortEntry{}
			if se.Expression, err = des.GetVString(); err != nil {
				return errs.ParseBin("bad sort expression: %v", err)
			}
			if se.Desc, err = des.GetBool(); err != nil {
				return errs.ParseBin("bad sort direction: %v", err)
			}
			nforced, err := des.GetUvarint()
			if err != nil {
				return errs.ParseBin("bad forced order count: %v", err)
			}
			for i := uint64(0); i < nforced; i++ {
				v, err := decodeVariant(des)
				if err != nil {
					return err
				}
				q.ForcedOrder = append(q.ForcedOrder, v)
			}
			q.Sort = append(q.Sort, se)
		case tagAggregation:
			agg, err := decodeAggregation(des)
			if err != nil {
				return err
			}
			q.Aggregations = append(q.Aggregations, agg)
		case tagSelectFilter:
			f, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad select filter: %v", err)
			}
			q.SelectFilter = append(q.SelectFilter, f)
		case tagSelectFunction:
			fn, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad select function: %v", err)
			}
			q.SelectFuncs = append(q.SelectFuncs, fn)
		case tagLimit:
			n, err := des.GetVarint()
			if err != nil {
				return errs.ParseBin("bad limit: %v", err)
			}
			q.Limit = int(n)
		case tagOffset:
			n, err := des.GetVarint()
			if err != nil {
				return errs.ParseBin("bad offset: %v", err)
			}
			q.Offset = int(n)
		case tagReqTotal:
			m, err := des.GetUvarint()
			if err != nil || m > uint64(TotalCached) {
				return errs.ParseBin("bad total mode")
			}
			q.TotalMode = TotalMode(m)
		case tagStrictMode:
			m, err := des.GetUvarint()
			if err != nil || m > uint64(StrictIndexes) {
				return errs.ParseBin("bad strict mode")
			}
			q.Strict = StrictMode(m)
		case tagExplain:
			q.Explain = true
		case tagWithRank:
			q.WithRank = true
		case tagDebugLevel:
			n, err := des.GetVarint()
			if err != nil {
				return errs.ParseBin("bad debug level: %v", err)
			}
			q.Debug = int(n)
		case tagJoinOn:
			if on == nil {
				return errs.ParseBin("join-on record outside joined query")
			}
			oc, err := decodeJoinOn(des)
			if err != nil {
				return err
			}
			*on = append(*on, oc)
		case tagUpdateField, tagUpdateFieldV2:
			ue, err := decodeUpdateField(des, tag == tagUpdateFieldV2)
			if err != nil {
				return err
			}
			q.Updates = append(q.Updates, ue)
		case tagUpdateObject:
			field, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad update field: %v", err)
			}
			expr, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad update object: %v", err)
			}
			q.Updates = append(q.Updates, UpdateEntry{Field: field, Mode: UpdateJSON, Expression: expr})
		case tagDropField:
			field, err := des.GetVString()
			if err != nil {
				return errs.ParseBin("bad drop field: %v", err)
			}
			q.Updates = append(q.Updates, UpdateEntry{Field: field, Mode: UpdateDrop})
		default:
			return errs.ParseBin("unknown record tag %d at position %d", tag, des.Pos())
		}
	}
}

func decodeOp(des *cjson.Deserializer) (OpType, error) {
	op, err := des.GetUvarint()
	if err != nil || op > uint64(OpNot) {
		return 0, errs.ParseBin("bad operation")
	}
	return OpType(op), nil
}

func decodeCond(des *cjson.Deserializer) (CondType, error) {
	c, err := des.GetUvarint()
	if err != nil || c > uint64(CondDWithin) {
		return 0, errs.ParseBin("bad condition")
	}
	return CondType(c), nil
}

func decodeCondition(des *cjson.Deserializer) (Entry, error) {
	op, err := decodeOp(des)
	if err != nil {
		return Entry{}, err
	}
	field, err := des.GetVString()
	if err != nil {
		return Entry{}, errs.ParseBin("bad field: %v", err)
	}
	cond, err := decodeCond(des)
	if err != nil {
		return Entry{}, err
	}
	n, err := des.GetUvarint()
	if err != nil {
		return Entry{}, errs.ParseBin("bad value count: %v", err)
	}
	var values []variant.Variant
	for i := uint64(0); i < n; i++ {
		v, err := decodeVariant(des)
		if err != nil {
			return Entry{}, err
		}
		values = append(values, v)
	}
	return Entry{
		Op:        op,
		Condition: &Condition{Field: field, Cond: cond, Values: values},
		JoinRef:   -1,
	}, nil
}

func decodeJoinOn(des *cjson.Deserializer) (OnCondition, error) {
	op, err := decodeOp(des)
	if err != nil {
		return OnCondition{}, err
	}
	cond, err := decodeCond(des)
	if err != nil {
		return OnCondition{}, err
	}
	left, err := des.GetVString()
	if err != nil {
		return OnCondition{}, errs.ParseBin("bad join field: %v", err)
	}
	right, err := des.GetVString()
	if err != nil {
		return OnCondition{}, errs.ParseBin("bad join field: %v", err)
	}
	return OnCondition{Op: op, Cond: cond, LeftField: left, RightField: right}, nil
}

func decodeAggregation(des *cjson.Deserializer) (AggregateEntry, error) {
	at, err := des.GetUvarint()
	if err != nil || at > uint64(AggDistinct) {
		return AggregateEntry{}, errs.ParseBin("bad aggregation type")
	}
	agg := AggregateEntry{Type: AggType(at)}
	nfields, err := des.GetUvarint()
	if err != nil {
		return AggregateEntry{}, errs.ParseBin("bad aggregation field count: %v", err)
	}
	for i := uint64(0); i < nfields; i++ {
		f, err := des.GetVString()
		if err != nil {
			return AggregateEntry{}, errs.ParseBin("bad aggregation field: %v", err)
		}
		agg.Fields = append(agg.Fields, f)
	}
	nsort, err := des.GetUvarint()
	if err != nil {
		return AggregateEntry{}, errs.ParseBin("bad aggregation sort count: %v", err)
	}
	for i := uint64(0); i < nsort; i++ {
		se := SortEntry{}
		if se.Expression, err = des.GetVString(); err != nil {
			return AggregateEntry{}, errs.ParseBin("bad aggregation sort: %v", err)
		}
		if se.Desc, err = des.GetBool(); err != nil {
			return AggregateEntry{}, errs.ParseBin("bad aggregation sort: %v", err)
		}
		agg.Sort = append(agg.Sort, se)
	}
	limit, err := des.GetVarint()
	if err != nil {
		return AggregateEntry{}, errs.ParseBin("bad aggregation limit: %v", err)
	}
	offset, err := des.GetVarint()
	if err != nil {
		return AggregateEntry{}, errs.ParseBin("bad aggregation offset: %v", err)
	}
	agg.Limit = int(limit)
	agg.Offset = int(offset)
	return agg, nil
}

// decodeUpdateField reads both field-update encodings. The older one
// carries a per-value mode and no array bit; arrays are inferred from
// the value count.
func decodeUpdateField(des *cjson.Deserializer, v2 bool) (UpdateEntry, error) {
	field, err := des.GetVString()
	if err != nil {
		return UpdateEntry{}, errs.ParseBin("bad update field: %v", err)
	}
	ue := UpdateEntry{Field: field}
	if v2 {
		mode, err := des.GetUvarint()
		if err != nil || mode > uint64(UpdateDrop) {
			return UpdateEntry{}, errs.ParseBin("bad update mode")
		}
		ue.Mode = UpdateMode(mode)
		if ue.IsArray, err = des.GetBool(); err != nil {
			return UpdateEntry{}, errs.ParseBin("bad update array bit: %v", err)
		}
		n, err := des.GetUvarint()
		if err != nil {
			return UpdateEntry{}, errs.ParseBin("bad update value count: %v", err)
		}
		if ue.Mode == UpdateExpression {
			if n != 1 {
				return UpdateEntry{}, errs.ParseBin("expression update needs one value, got %d", n)
			}
			if ue.Expression, err = des.GetVString(); err != nil {
				return UpdateEntry{}, errs.ParseBin("bad update expression: %v", err)
			}
			return ue, nil
		}
		for i := uint64(0); i < n; i++ {
			v, err := decodeVariant(des)
			if err != nil {
				return UpdateEntry{}, err
			}
			ue.Values = append(ue.Values, v)
		}
		return ue, nil
	}
	n, err := des.GetUvarint()
	if err != nil {
		return UpdateEntry{}, errs.ParseBin("bad update value count: %v", err)
	}
	ue.IsArray = n > 1
	for i := uint64(0); i < n; i++ {
		mode, err := des.GetUvarint()
		if err != nil || mode > uint64(UpdateExpression) {
			return UpdateEntry{}, errs.ParseBin("bad update mode")
		}
		if UpdateMode(mode) == UpdateExpression {
			if ue.Expression, err = des.GetVString(); err != nil {
				return UpdateEntry{}, errs.ParseBin("bad update expression: %v", err)
			}
			ue.Mode = UpdateExpression
			continue
		}
		v, err := decodeVariant(des)
		if err != nil {
			return UpdateEntry{}, err
		}
		ue.Values = append(ue.Values, v)
	}
	return ue, nil
}

func decodeVariant(des *cjson.Deserializer) (variant.Variant, error) {
	t, err := des.GetUvarint()
	if err != nil || t > uint64(variant.TypeComposite) {
		return variant.Variant{}, errs.ParseBin("bad value type")
	}
	switch variant.Type(t) {
	case variant.TypeNull, variant.TypeUndefined:
		return variant.NewNull(), nil
	case variant.TypeBool:
		b, err := des.GetBool()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad bool value: %v", err)
		}
		return variant.NewBool(b), nil
	case variant.TypeInt:
		i, err := des.GetVarint()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad int value: %v", err)
		}
		return variant.NewInt(int(i)), nil
	case variant.TypeInt64:
		i, err := des.GetVarint()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad int64 value: %v", err)
		}
		return variant.NewInt64(i), nil
	case variant.TypeDouble:
		f, err := des.GetDouble()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad double value: %v", err)
		}
		return variant.NewDouble(f), nil
	case variant.TypeString:
		s, err := des.GetVString()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad string value: %v", err)
		}
		return variant.NewString(s), nil
	default:
		n, err := des.GetUvarint()
		if err != nil {
			return variant.Variant{}, errs.ParseBin("bad tuple length: %v", err)
		}
		elems := make([]variant.Variant, 0, n)
		for i := uint64(0); i < n; i++ {
			e, err := decodeVariant(des)
			if err != nil {
				return variant.Variant{}, err
			}
			elems = append(elems, e)
		}
		if variant.Type(t) == variant.TypeComposite {
			return variant.NewComposite(elems...), nil
		}
		return variant.NewTuple(elems...), nil
	}
}
