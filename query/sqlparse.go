package query

import (
	"strconv"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

// ParseSQL parses a SELECT, UPDATE, DELETE or TRUNCATE statement into
// the canonical AST.
func ParseSQL(src string) (*Query, error) {
	lex, err := newLexer(src)
	if err != nil {
		return nil, err
	}
	p := &sqlParser{lex: lex}
	q, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if t := lex.peek(); t.kind != tokEOF {
		return nil, errs.ParseSQL("unexpected '%s' at position %d", t.text, t.pos)
	}
	return q, nil
}

type sqlParser struct {
	lex *lexer
}

func (p *sqlParser) parseStatement() (*Query, error) {
	switch {
	case p.lex.tryKeyword("SELECT"):
		return p.parseSelect()
	case p.lex.tryKeyword("UPDATE"):
		return p.parseUpdate()
	case p.lex.tryKeyword("DELETE"):
		return p.parseDelete()
	case p.lex.tryKeyword("TRUNCATE"):
		name, err := p.ident("namespace")
		if err != nil {
			return nil, err
		}
		q := New(name)
		q.Type = QueryTruncate
		return q, nil
	}
	t := p.lex.peek()
	return nil, errs.ParseSQL("expected SELECT, UPDATE, DELETE or TRUNCATE, got '%s'", t.text)
}

func (p *sqlParser) ident(what string) (string, error) {
	t := p.lex.take()
	if t.kind != tokIdent && t.kind != tokString {
		return "", errs.ParseSQL("expected %s, got '%s' at position %d", what, t.text, t.pos)
	}
	return t.text, nil
}

func (p *sqlParser) parseSelect() (*Query, error) {
	q := New("")
	if err := p.parseSelectList(q); err != nil {
		return nil, err
	}
	if err := p.lex.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	ns, err := p.ident("namespace")
	if err != nil {
		return nil, err
	}
	q.Namespace = ns
	return q, p.parseTail(q, true)
}

var aggKeywords = map[string]AggType{
	"SUM": AggSum, "AVG": AggAvg, "MIN": AggMin, "MAX": AggMax,
	"FACET": AggFacet, "DISTINCT": AggDistinct,
}

func (p *sqlParser) parseSelectList(q *Query) error {
	for {
		t := p.lex.take()
		if t.kind != tokIdent {
			return errs.ParseSQL("expected select field, got '%s' at position %d", t.text, t.pos)
		}
		upper := strings.ToUpper(t.text)
		switch {
		case t.text == "*":
		case upper == "COUNT" || upper == "COUNT_CACHED":
			if err := p.lex.expectPunct("("); err != nil {
				return err
			}
			if _, err := p.ident("*"); err != nil {
				return err
			}
			if err := p.lex.expectPunct(")"); err != nil {
				return err
			}
			if upper == "COUNT" {
				q.TotalMode = TotalAccurate
			} else {
				q.TotalMode = TotalCached
			}
			q.Limit = 0
		case p.lex.tryPunct("("):
			agg, ok := aggKeywords[upper]
			if !ok {
				return errs.ParseSQL("unknown aggregation '%s'", t.text)
			}
			entry := AggregateEntry{Type: agg, Limit: -1}
			for {
				f, err := p.ident("aggregation field")
				if err != nil {
					return err
				}
				entry.Fields = append(entry.Fields, f)
				if !p.lex.tryPunct(",") {
					break
				}
			}
			for {
				switch {
				case p.lex.tryKeyword("ORDER"):
					if err := p.lex.expectKeyword("BY"); err != nil {
						return err
					}
					se, err := p.parseSortEntry(nil)
					if err != nil {
						return err
					}
					entry.Sort = append(entry.Sort, se)
					continue
				case p.lex.tryKeyword("LIMIT"):
					n, err := p.number()
					if err != nil {
						return err
					}
					entry.Limit = n
					continue
				case p.lex.tryKeyword("OFFSET"):
					n, err := p.number()
					if err != nil {
						return err
					}
					entry.Offset = n
					continue
				}
				break
			}
			if err := p.lex.expectPunct(")"); err != nil {
				return err
			}
			q.Aggregations = append(q.Aggregations, entry)
		default:
			q.SelectFilter = append(q.SelectFilter, t.text)
		}
		if !p.lex.tryPunct(",") {
			return nil
		}
	}
}

func (p *sqlParser) number() (int, error) {
	t := p.lex.take()
	if t.kind != tokNumber {
		return 0, errs.ParseSQL("expected number, got '%s' at position %d", t.text, t.pos)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, errs.ParseSQL("bad number '%s': %s", t.text, err.Error())
	}
	return n, nil
}

// parseTail handles the clauses shared by SELECT, UPDATE and DELETE:
// joins, WHERE, ORDER BY, LIMIT, OFFSET and MERGE.
func (p *sqlParser) parseTail(q *Query, allowJoins bool) error {
	for {
		switch {
		case allowJoins && p.peekJoin():
			e, hasEntry, err := p.parseJoin(q, OpAnd)
			if err != nil {
				return err
			}
			if hasEntry {
				q.Entries = append(q.Entries, e)
			}
		case p.lex.tryKeyword("WHERE"):
			if err := p.parseWhere(q, allowJoins); err != nil {
				return err
			}
		case p.lex.tryKeyword("ORDER"):
			if err := p.lex.expectKeyword("BY"); err != nil {
				return err
			}
			for {
				se, err := p.parseSortEntry(q)
				if err != nil {
					return err
				}
				q.Sort = append(q.Sort, se)
				if !p.lex.tryPunct(",") {
					break
				}
			}
		case p.lex.tryKeyword("LIMIT"):
			n, err := p.number()
			if err != nil {
				return err
			}
			q.Limit = n
		case p.lex.tryKeyword("OFFSET"):
			n, err := p.number()
			if err != nil {
				return err
			}
			q.Offset = n
		case p.lex.tryKeyword("MERGE"):
			if err := p.lex.expectPunct("("); err != nil {
				return err
			}
			if err := p.lex.expectKeyword("SELECT"); err != nil {
				return err
			}
			sub, err := p.parseSelect()
			if err != nil {
				return err
			}
			if err := p.lex.expectPunct(")"); err != nil {
				return err
			}
			q.Merges = append(q.Merges, JoinedQuery{Query: *sub, JoinType: JoinMerge})
		default:
			return nil
		}
	}
}

func (p *sqlParser) peekJoin() bool {
	t := p.lex.peek()
	if t.kind != tokIdent {
		return false
	}
	switch strings.ToUpper(t.text) {
	case "JOIN", "INNER", "LEFT":
		return true
	}
	return false
}

// parseJoin parses one join clause, appends it to q.Joins and returns
// the filter entry that references it. Left joins produce no entry.
func (p *sqlParser) parseJoin(q *Query, op OpType) (Entry, bool, error) {
	jt := JoinInner
	switch {
	case p.lex.tryKeyword("LEFT"):
		jt = JoinLeft
	case p.lex.tryKeyword("INNER"):
		if op == OpOr {
			jt = JoinOrInner
		}
	}
	if err := p.lex.expectKeyword("JOIN"); err != nil {
		return Entry{}, false, err
	}
	ns, err := p.ident("namespace")
	if err != nil {
		return Entry{}, false, err
	}
	jq := JoinedQuery{Query: *New(ns), JoinType: jt}
	if err := p.lex.expectKeyword("ON"); err != nil {
		return Entry{}, false, err
	}
	paren := p.lex.tryPunct("(")
	onOp := OpAnd
	for {
		first, err := p.ident("join field")
		if err != nil {
			return Entry{}, false, err
		}
		cond, err := p.parseCondOperator()
		if err != nil {
			return Entry{}, false, err
		}
		second, err := p.ident("join field")
		if err != nil {
			return Entry{}, false, err
		}
		f1, joined1 := stripNsPrefix(first, ns)
		f2, joined2 := stripNsPrefix(second, ns)
		if joined1 && !joined2 {
			f1, f2 = f2, f1
			cond = invertCond(cond)
		}
		f1, _ = stripNsPrefix(f1, q.Namespace)
		f2, _ = stripNsPrefix(f2, q.Namespace)
		jq.On = append(jq.On, OnCondition{Op: onOp, LeftField: f1, Cond: cond, RightField: f2})
		switch {
		case paren && p.lex.tryKeyword("AND"):
			onOp = OpAnd
		case paren && p.lex.tryKeyword("OR"):
			onOp = OpOr
		default:
			if paren {
				if err := p.lex.expectPunct(")"); err != nil {
					return Entry{}, false, err
				}
			}
			idx := len(q.Joins)
			q.Joins = append(q.Joins, jq)
			if jt == JoinLeft {
				return Entry{}, false, nil
			}
			if jt == JoinOrInner {
				op = OpOr
			}
			return NewJoinRefEntry(op, idx), true, nil
		}
	}
}

func stripNsPrefix(a, ns string) (string, bool) {
	if ns != "" && strings.HasPrefix(a, ns+".") {
		return a[len(ns)+1:], true
	}
	return a, false
}

func invertCond(c CondType) CondType {
	switch c {
	case CondLt:
		return CondGt
	case CondLe:
		return CondGe
	case CondGt:
		return CondLt
	case CondGe:
		return CondLe
	}
	return c
}

func (p *sqlParser) parseCondOperator() (CondType, error) {
	t := p.lex.take()
	switch {
	case t.kind == tokPunct:
		switch t.text {
		case "=":
			return CondEq, nil
		case "<":
			return CondLt, nil
		case "<=":
			return CondLe, nil
		case ">":
			return CondGt, nil
		case ">=":
			return CondGe, nil
		}
	case t.kind == tokIdent:
		switch strings.ToUpper(t.text) {
		case "IN":
			return CondSet, nil
		case "ALLSET":
			return CondAllSet, nil
		case "RANGE":
			return CondRange, nil
		case "LIKE":
			return CondLike, nil
		}
	}
	return 0, errs.ParseSQL("expected condition, got '%s' at position %d", t.text, t.pos)
}

func (p *sqlParser) parseWhere(q *Query, allowJoins bool) error {
	entries, eqPos, err := p.parseFilterList(q, allowJoins, false)
	if err != nil {
		return err
	}
	q.Entries = append(q.Entries, entries...)
	q.EqualPositions = append(q.EqualPositions, eqPos...)
	return nil
}

var tailKeywords = map[string]bool{
	"ORDER": true, "LIMIT": true, "OFFSET": true, "MERGE": true,
	"JOIN": true, "INNER": true, "LEFT": true,
}

func (p *sqlParser) parseFilterList(q *Query, allowJoins, inBracket bool) ([]Entry, [][]string, error) {
	var entries []Entry
	var eqPos [][]string
	op := OpAnd
	first := true
	for {
		t := p.lex.peek()
		if t.kind == tokEOF {
			if inBracket {
				return nil, nil, errs.ParseSQL("missing ')'")
			}
			if first {
				return nil, nil, errs.ParseSQL("empty filter list at position %d", t.pos)
			}
			return entries, eqPos, nil
		}
		if !first {
			switch {
			case p.lex.tryKeyword("AND"):
				op = OpAnd
			case p.lex.tryKeyword("OR"):
				op = OpOr
			case inBracket && p.lex.tryPunct(")"):
				return entries, eqPos, nil
			default:
				if !inBracket && t.kind == tokIdent && tailKeywords[strings.ToUpper(t.text)] {
					return entries, eqPos, nil
				}
				return nil, nil, errs.ParseSQL("expected AND or OR, got '%s' at position %d", t.text, t.pos)
			}
		}
		if p.lex.tryKeyword("NOT") {
			op = OpNot
		}
		first = false
		switch {
		case p.lex.tryPunct("("):
			sub, subEq, err := p.parseFilterList(q, false, true)
			if err != nil {
				return nil, nil, err
			}
			br := NewBracketEntry(op, sub...)
			br.Bracket.EqualPositions = subEq
			entries = append(entries, br)
		case allowJoins && p.peekJoin():
			e, hasEntry, err := p.parseJoin(q, op)
			if err != nil {
				return nil, nil, err
			}
			if hasEntry {
				entries = append(entries, e)
			}
		default:
			e, ep, err := p.parseCondition(op)
			if err != nil {
				return nil, nil, err
			}
			if ep != nil {
				eqPos = append(eqPos, ep)
			} else {
				entries = append(entries, e)
			}
		}
		op = OpAnd
	}
}

// parseCondition parses one leaf: a field condition, ST_DWithin, or an
// equal_position marker which is returned separately.
func (p *sqlParser) parseCondition(op OpType) (Entry, []string, error) {
	t := p.lex.take()
	if t.kind == tokNumber && t.text == "0" {
		return Entry{Op: op, AlwaysFalse: true, JoinRef: -1}, nil, nil
	}
	if t.kind != tokIdent && t.kind != tokString {
		return Entry{}, nil, errs.ParseSQL("expected field, got '%s' at position %d", t.text, t.pos)
	}
	upper := strings.ToUpper(t.text)
	if upper == "ST_DWITHIN" {
		e, err := p.parseDWithin(op)
		return e, nil, err
	}
	if upper == "EQUAL_POSITION" {
		fields, err := p.parseIdentList()
		return Entry{}, fields, err
	}
	field := t.text

	if p.lex.tryKeyword("IS") {
		negated := p.lex.tryKeyword("NOT")
		if err := p.lex.expectKeyword("NULL"); err != nil {
			return Entry{}, nil, err
		}
		cond := CondEmpty
		if negated {
			cond = CondAny
		}
		return NewConditionEntry(op, field, cond), nil, nil
	}

	cond, err := p.parseCondOperator()
	if err != nil {
		return Entry{}, nil, err
	}
	switch cond {
	case CondSet, CondAllSet, CondRange:
		if err := p.lex.expectPunct("("); err != nil {
			return Entry{}, nil, err
		}
		var values []variant.Variant
		for {
			v, err := p.parseValue()
			if err != nil {
				return Entry{}, nil, err
			}
			values = append(values, v)
			if p.lex.tryPunct(",") {
				continue
			}
			break
		}
		if err := p.lex.expectPunct(")"); err != nil {
			return Entry{}, nil, err
		}
		if cond == CondRange && len(values) != 2 {
			return Entry{}, nil, errs.ParseSQL("RANGE needs exactly 2 values, got %d", len(values))
		}
		return NewConditionEntry(op, field, cond, values...), nil, nil
	default:
		nt := p.lex.peek()
		if nt.kind == tokIdent && !isBareWordValue(nt.text) {
			p.lex.take()
			return Entry{Op: op, BetweenFields: &BetweenFields{
				LeftField: field, Cond: cond, RightField: nt.text,
			}, JoinRef: -1}, nil, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return Entry{}, nil, err
		}
		return NewConditionEntry(op, field, cond, v), nil, nil
	}
}

func (p *sqlParser) parseIdentList() ([]string, error) {
	if err := p.lex.expectPunct("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		f, err := p.ident("field")
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.lex.tryPunct(",") {
			continue
		}
		break
	}
	return out, p.lex.expectPunct(")")
}

// parseDWithin parses ST_DWithin(field, ST_GeomFromText('point(x y)'), radius).
func (p *sqlParser) parseDWithin(op OpType) (Entry, error) {
	if err := p.lex.expectPunct("("); err != nil {
		return Entry{}, err
	}
	var field string
	var point variant.Variant
	havePoint := false
	for i := 0; i < 2; i++ {
		if p.lex.tryKeyword("ST_GeomFromText") {
			pt, err := p.parseGeomFromText()
			if err != nil {
				return Entry{}, err
			}
			point, havePoint = pt, true
		} else {
			f, err := p.ident("geometry field")
			if err != nil {
				return Entry{}, err
			}
			field = f
		}
		if err := p.lex.expectPunct(","); err != nil {
			return Entry{}, err
		}
	}
	if field == "" || !havePoint {
		return Entry{}, errs.ParseSQL("ST_DWithin needs a field and a point")
	}
	rt := p.lex.take()
	if rt.kind != tokNumber {
		return Entry{}, errs.ParseSQL("ST_DWithin radius must be a number, got '%s'", rt.text)
	}
	radius, err := strconv.ParseFloat(rt.text, 64)
	if err != nil {
		return Entry{}, errs.ParseSQL("bad radius '%s'", rt.text)
	}
	if err := p.lex.expectPunct(")"); err != nil {
		return Entry{}, err
	}
	return NewConditionEntry(op, field, CondDWithin, point, variant.NewDouble(radius)), nil
}

func (p *sqlParser) parseGeomFromText() (variant.Variant, error) {
	if err := p.lex.expectPunct("("); err != nil {
		return variant.Variant{}, err
	}
	t := p.lex.take()
	if t.kind != tokString {
		return variant.Variant{}, errs.ParseSQL("ST_GeomFromText needs a quoted point, got '%s'", t.text)
	}
	text := strings.TrimSpace(strings.ToLower(t.text))
	if !strings.HasPrefix(text, "point") {
		return variant.Variant{}, errs.ParseSQL("unsupported geometry '%s'", t.text)
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, "point"))
	text = strings.TrimPrefix(text, "(")
	text = strings.TrimSuffix(text, ")")
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return variant.Variant{}, errs.ParseSQL("point needs two coordinates, got '%s'", t.text)
	}
	x, errX := strconv.ParseFloat(parts[0], 64)
	y, errY := strconv.ParseFloat(parts[1], 64)
	if errX != nil || errY != nil {
		return variant.Variant{}, errs.ParseSQL("bad point coordinates '%s'", t.text)
	}
	if err := p.lex.expectPunct(")"); err != nil {
		return variant.Variant{}, err
	}
	return variant.NewTuple(variant.NewDouble(x), variant.NewDouble(y)), nil
}

func isBareWordValue(s string) bool {
	switch strings.ToUpper(s) {
	case "TRUE", "FALSE", "NULL":
		return true
	}
	return false
}

func (p *sqlParser) parseValue() (variant.Variant, error) {
	t := p.lex.take()
	switch t.kind {
	case tokString:
		return variant.NewString(t.text), nil
	case tokNumber:
		if strings.ContainsAny(t.text, ".eE") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return variant.Variant{}, errs.ParseSQL("bad number '%s'", t.text)
			}
			return variant.NewDouble(f), nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return variant.Variant{}, errs.ParseSQL("bad number '%s'", t.text)
		}
		return variant.NewInt64(n), nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return variant.NewBool(true), nil
		case "FALSE":
			return variant.NewBool(false), nil
		case "NULL":
			return variant.NewNull(), nil
		}
	}
	return variant.Variant{}, errs.ParseSQL("expected value, got '%s' at position %d", t.text, t.pos)
}

// parseSortEntry parses `field [ASC|DESC]`, a quoted sort expression, or
// FIELD(name, v1, v2, …) which records a forced order on q.
func (p *sqlParser) parseSortEntry(q *Query) (SortEntry, error) {
	t := p.lex.take()
	if t.kind != tokIdent && t.kind != tokString {
		return SortEntry{}, errs.ParseSQL("expected sort expression, got '%s' at position %d", t.text, t.pos)
	}
	se := SortEntry{Expression: t.text}
	if strings.EqualFold(t.text, "FIELD") && q != nil && p.lex.tryPunct("(") {
		f, err := p.ident("sort field")
		if err != nil {
			return SortEntry{}, err
		}
		se.Expression = f
		for p.lex.tryPunct(",") {
			v, err := p.parseValue()
			if err != nil {
				return SortEntry{}, err
			}
			q.ForcedOrder = append(q.ForcedOrder, v)
		}
		if err := p.lex.expectPunct(")"); err != nil {
			return SortEntry{}, err
		}
	}
	switch {
	case p.lex.tryKeyword("DESC"):
		se.Desc = true
	case p.lex.tryKeyword("ASC"):
	}
	return se, nil
}

func (p *sqlParser) parseUpdate() (*Query, error) {
	ns, err := p.ident("namespace")
	if err != nil {
		return nil, err
	}
	q := New(ns)
	q.Type = QueryUpdate
	switch {
	case p.lex.tryKeyword("SET"):
		for {
			ue, err := p.parseSetEntry()
			if err != nil {
				return nil, err
			}
			q.Updates = append(q.Updates, ue)
			if !p.lex.tryPunct(",") {
				break
			}
		}
	case p.lex.tryKeyword("DROP"):
		for {
			f, err := p.ident("field")
			if err != nil {
				return nil, err
			}
			q.Updates = append(q.Updates, UpdateEntry{Field: f, Mode: UpdateDrop})
			if !p.lex.tryPunct(",") {
				break
			}
		}
	default:
		t := p.lex.peek()
		return nil, errs.ParseSQL("expected SET or DROP, got '%s' at position %d", t.text, t.pos)
	}
	return q, p.parseTail(q, false)
}

func (p *sqlParser) parseSetEntry() (UpdateEntry, error) {
	field, err := p.ident("field")
	if err != nil {
		return UpdateEntry{}, err
	}
	if err := p.lex.expectPunct("="); err != nil {
		return UpdateEntry{}, err
	}
	ue := UpdateEntry{Field: field, Mode: UpdateValue}
	switch {
	case p.lex.tryPunct("["):
		ue.IsArray = true
		if p.lex.tryPunct("]") {
			return ue, nil
		}
		for {
			v, err := p.parseValue()
			if err != nil {
				return UpdateEntry{}, err
			}
			ue.Values = append(ue.Values, v)
			if p.lex.tryPunct(",") {
				continue
			}
			break
		}
		return ue, p.lex.expectPunct("]")
	case p.lex.tryPunct("{"):
		return UpdateEntry{}, errs.ParseSQL("json object updates must be quoted")
	default:
		t := p.lex.peek()
		if t.kind == tokString && strings.HasPrefix(strings.TrimSpace(t.text), "{") {
			p.lex.take()
			ue.Mode = UpdateJSON
			ue.Expression = t.text
			return ue, nil
		}
		v, err := p.parseValue()
		if err == nil {
			if nt := p.lex.peek(); isExprPunct(nt.text) {
				return p.parseSetExpression(field, t)
			}
			ue.Values = []variant.Variant{v}
			return ue, nil
		}
		return p.parseSetExpression(field, t)
	}
}

func isExprPunct(s string) bool {
	switch s {
	case "+", "-", "*", "/", "(":
		return true
	}
	return false
}

// parseSetExpression re-reads tokens from the first value token and
// collects the raw arithmetic expression text.
func (p *sqlParser) parseSetExpression(field string, first sqlToken) (UpdateEntry, error) {
	for p.lex.peek().pos > first.pos && p.lex.next > 0 {
		p.lex.back()
	}
	var parts []string
	depth := 0
	for {
		t := p.lex.peek()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokIdent && tailKeywords[strings.ToUpper(t.text)] && depth == 0 {
			break
		}
		if strings.EqualFold(t.text, "WHERE") && depth == 0 {
			break
		}
		if t.kind == tokPunct {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
			case ",":
				if depth == 0 {
					goto done
				}
			}
			if depth < 0 {
				break
			}
		}
		if t.kind != tokPunct && !isExprPunct(t.text) && t.kind != tokNumber && t.kind != tokIdent {
			break
		}
		parts = append(parts, t.text)
		p.lex.take()
	}
done:
	if len(parts) == 0 {
		return UpdateEntry{}, errs.ParseSQL("empty update expression for field '%s'", field)
	}
	return UpdateEntry{Field: field, Mode: UpdateExpression, Expression: strings.Join(parts, " ")}, nil
}

func (p *sqlParser) parseDelete() (*Query, error) {
	if err := p.lex.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	ns, err := p.ident("namespace")
	if err != nil {
		return nil, err
	}
	q := New(ns)
	q.Type = QueryDelete
	return q, p.parseTail(q, false)
}
