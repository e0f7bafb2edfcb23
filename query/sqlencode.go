package query

import (
	"strconv"
	"strings"

	"github.com/thedenisnikulin/reindexer/variant"
)

// SQL renders the query back to its SQL form.
func (q *Query) SQL() string {
	var b strings.Builder
	q.writeSQL(&b)
	return b.String()
}

func (q *Query) writeSQL(b *strings.Builder) {
	switch q.Type {
	case QueryTruncate:
		b.WriteString("TRUNCATE ")
		b.WriteString(q.Namespace)
		return
	case QueryDelete:
		b.WriteString("DELETE FROM ")
		b.WriteString(q.Namespace)
		q.writeTail(b)
		return
	case QueryUpdate:
		b.WriteString("UPDATE ")
		b.WriteString(q.Namespace)
		q.writeUpdates(b)
		q.writeTail(b)
		return
	}
	b.WriteString("SELECT ")
	q.writeSelectList(b)
	b.WriteString(" FROM ")
	b.WriteString(q.Namespace)
	for i := range q.Joins {
		if q.Joins[i].JoinType == JoinLeft {
			b.WriteByte(' ')
			q.writeJoin(b, i)
		}
	}
	q.writeTail(b)
	for i := range q.Merges {
		b.WriteString(" MERGE (")
		q.Merges[i].writeSQL(b)
		b.WriteByte(')')
	}
}

func (q *Query) writeSelectList(b *strings.Builder) {
	var parts []string
	for _, agg := range q.Aggregations {
		var ab strings.Builder
		ab.WriteString(agg.Type.String())
		ab.WriteByte('(')
		ab.WriteString(strings.Join(agg.Fields, ", "))
		for _, se := range agg.Sort {
			ab.WriteString(" ORDER BY ")
			ab.WriteString(sortExprSQL(se.Expression))
			if se.Desc {
				ab.WriteString(" DESC")
			}
		}
		if agg.Limit >= 0 {
			ab.WriteString(" LIMIT ")
			ab.WriteString(strconv.Itoa(agg.Limit))
		}
		if agg.Offset > 0 {
			ab.WriteString(" OFFSET ")
			ab.WriteString(strconv.Itoa(agg.Offset))
		}
		ab.WriteByte(')')
		parts = append(parts, ab.String())
	}
	switch q.TotalMode {
	case TotalAccurate:
		parts = append(parts, "COUNT(*)")
	case TotalCached:
		parts = append(parts, "COUNT_CACHED(*)")
	}
	parts = append(parts, q.SelectFilter...)
	if len(parts) == 0 {
		parts = []string{"*"}
	}
	b.WriteString(strings.Join(parts, ", "))
}

func (q *Query) writeUpdates(b *strings.Builder) {
	drop := len(q.Updates) > 0 && q.Updates[0].Mode == UpdateDrop
	if drop {
		b.WriteString(" DROP ")
	} else {
		b.WriteString(" SET ")
	}
	for i, ue := range q.Updates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ue.Field)
		if ue.Mode == UpdateDrop {
			continue
		}
		b.WriteString(" = ")
		switch ue.Mode {
		case UpdateExpression:
			b.WriteString(ue.Expression)
		case UpdateJSON:
			b.WriteString(quoteSQLString(ue.Expression))
		default:
			if ue.IsArray {
				b.WriteByte('[')
				for j, v := range ue.Values {
					if j > 0 {
						b.WriteString(", ")
					}
					b.WriteString(valueSQL(v))
				}
				b.WriteByte(']')
			} else if len(ue.Values) > 0 {
				b.WriteString(valueSQL(ue.Values[0]))
			}
		}
	}
}

func (q *Query) writeTail(b *strings.Builder) {
	whereParts := q.whereSQL()
	if len(whereParts) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(whereParts)
	}
	if len(q.Sort) > 0 {
		b.WriteString(" ORDER BY ")
		for i, se := range q.Sort {
			if i > 0 {
				b.WriteString(", ")
			}
			if i == 0 && len(q.ForcedOrder) > 0 {
				b.WriteString("FIELD(")
				b.WriteString(se.Expression)
				for _, v := range q.ForcedOrder {
					b.WriteString(", ")
					b.WriteString(valueSQL(v))
				}
				b.WriteByte(')')
			} else {
				b.WriteString(sortExprSQL(se.Expression))
			}
			if se.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if q.Limit >= 0 && !(q.Limit == 0 && q.TotalMode != TotalNone) {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(q.Offset))
	}
}

func (q *Query) whereSQL() string {
	var b strings.Builder
	q.writeEntries(&b, q.Entries, q.EqualPositions)
	return b.String()
}

func (q *Query) writeEntries(b *strings.Builder, entries []Entry, eqPos [][]string) {
	first := b.Len() == 0
	for _, e := range entries {
		if !first {
			switch e.Op {
			case OpOr:
				b.WriteString(" OR ")
			default:
				b.WriteString(" AND ")
			}
		}
		if e.Op == OpNot {
			b.WriteString("NOT ")
		}
		first = false
		switch {
		case e.Bracket != nil:
			b.WriteByte('(')
			var inner strings.Builder
			q.writeEntries(&inner, e.Bracket.Entries, e.Bracket.EqualPositions)
			b.WriteString(inner.String())
			b.WriteByte(')')
		case e.Condition != nil:
			writeCondition(b, e.Condition)
		case e.BetweenFields != nil:
			b.WriteString(e.BetweenFields.LeftField)
			b.WriteByte(' ')
			b.WriteString(e.BetweenFields.Cond.String())
			b.WriteByte(' ')
			b.WriteString(e.BetweenFields.RightField)
		case e.AlwaysFalse:
			b.WriteByte('0')
		case e.JoinRef >= 0:
			q.writeJoin(b, e.JoinRef)
		}
	}
	for _, group := range eqPos {
		if !first {
			b.WriteString(" AND ")
		}
		first = false
		b.WriteString("equal_position(")
		b.WriteString(strings.Join(group, ", "))
		b.WriteByte(')')
	}
}

func writeCondition(b *strings.Builder, c *Condition) {
	switch c.Cond {
	case CondEmpty:
		b.WriteString(c.Field)
		b.WriteString(" IS NULL")
	case CondAny:
		b.WriteString(c.Field)
		b.WriteString(" IS NOT NULL")
	case CondSet, CondAllSet, CondRange:
		b.WriteString(c.Field)
		switch c.Cond {
		case CondSet:
			b.WriteString(" IN (")
		case CondAllSet:
			b.WriteString(" ALLSET (")
		default:
			b.WriteString(" RANGE(")
		}
		for i, v := range c.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(valueSQL(v))
		}
		b.WriteByte(')')
	case CondDWithin:
		b.WriteString("ST_DWithin(")
		b.WriteString(c.Field)
		b.WriteString(", ")
		writeGeomSQL(b, c.Values)
		b.WriteByte(')')
	case CondLike:
		b.WriteString(c.Field)
		b.WriteString(" LIKE ")
		if len(c.Values) > 0 {
			b.WriteString(valueSQL(c.Values[0]))
		}
	default:
		b.WriteString(c.Field)
		b.WriteByte(' ')
		b.WriteString(c.Cond.String())
		b.WriteByte(' ')
		if len(c.Values) > 0 {
			b.WriteString(valueSQL(c.Values[0]))
		}
	}
}

func writeGeomSQL(b *strings.Builder, values []variant.Variant) {
	if len(values) < 2 {
		return
	}
	pt := values[0].Tuple()
	b.WriteString("ST_GeomFromText('point(")
	if len(pt) == 2 {
		b.WriteString(formatDoubleSQL(pt[0].AsDouble()))
		b.WriteByte(' ')
		b.WriteString(formatDoubleSQL(pt[1].AsDouble()))
	}
	b.WriteString(")'), ")
	b.WriteString(formatDoubleSQL(values[1].AsDouble()))
}

func (q *Query) writeJoin(b *strings.Builder, idx int) {
	jq := &q.Joins[idx]
	switch jq.JoinType {
	case JoinLeft:
		b.WriteString("LEFT JOIN ")
	default:
		b.WriteString("INNER JOIN ")
	}
	b.WriteString(jq.Namespace)
	b.WriteString(" ON ")
	multi := len(jq.On) > 1
	if multi {
		b.WriteByte('(')
	}
	for i, on := range jq.On {
		if i > 0 {
			if on.Op == OpOr {
				b.WriteString(" OR ")
			} else {
				b.WriteString(" AND ")
			}
		}
		b.WriteString(q.Namespace)
		b.WriteByte('.')
		b.WriteString(on.LeftField)
		b.WriteByte(' ')
		b.WriteString(on.Cond.String())
		b.WriteByte(' ')
		b.WriteString(jq.Namespace)
		b.WriteByte('.')
		b.WriteString(on.RightField)
	}
	if multi {
		b.WriteByte(')')
	}
}

func sortExprSQL(expr string) string {
	for _, r := range expr {
		if !isIdentRune(r) {
			return quoteSQLString(expr)
		}
	}
	return expr
}

func quoteSQLString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}

func formatDoubleSQL(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func valueSQL(v variant.Variant) string {
	switch v.Type() {
	case variant.TypeString:
		return quoteSQLString(v.Str())
	case variant.TypeBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case variant.TypeNull, variant.TypeUndefined:
		return "NULL"
	case variant.TypeDouble:
		return formatDoubleSQL(v.AsDouble())
	default:
		return strconv.FormatInt(v.AsInt64(), 10)
	}
}
