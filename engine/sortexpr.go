package engine

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/variant"
)

// sortRows orders matched rows: by rank for fulltext queries without an
// explicit sort, by the forced value order for ORDER BY FIELD(), and by
// the sort expressions otherwise.
func (sc *selection) sortRows(rows []matchedRow) error {
	q := sc.q
	if len(q.Sort) == 0 {
		if sc.hasFulltext {
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].rank > rows[j].rank })
		}
		return nil
	}

	type rowKey struct {
		vals  []variant.Variant
		nums  []float64
		force int
	}
	keys := make([]rowKey, len(rows))

	var forcedGetter fieldGetter
	var forcedRank map[string]int
	if len(q.ForcedOrder) > 0 {
		g, _, err := sc.getterFor(q.Sort[0].Expression)
		if err != nil {
			return err
		}
		forcedGetter = g
		forcedRank = make(map[string]int, len(q.ForcedOrder))
		for i, v := range q.ForcedOrder {
			forcedRank[index.MapKey(v, variant.Collate{})] = i
		}
	}

	type sortEval struct {
		simple  fieldGetter
		collate variant.Collate
		expr    *sortExprNode
		desc    bool
	}
	evals := make([]sortEval, 0, len(q.Sort))
	for si, se := range q.Sort {
		if si == 0 && forcedGetter != nil {
			continue
		}
		if isPlainField(se.Expression) {
			g, _, err := sc.getterFor(se.Expression)
			if err != nil {
				return err
			}
			collate := variant.Collate{}
			if pos, ok := sc.ns.byName[se.Expression]; ok {
				collate = sc.ns.indexes[pos].Opts().Collate
			}
			evals = append(evals, sortEval{simple: g, collate: collate, desc: se.Desc})
			continue
		}
		node, err := parseSortExpr(se.Expression)
		if err != nil {
			return err
		}
		evals = append(evals, sortEval{expr: node, desc: se.Desc})
	}

	for i := range rows {
		k := &keys[i]
		if forcedGetter != nil {
			k.force = len(q.ForcedOrder)
			for _, v := range forcedGetter(rows[i].pv) {
				if r, ok := forcedRank[index.MapKey(v, variant.Collate{})]; ok && r < k.force {
					k.force = r
				}
			}
		}
		for _, ev := range evals {
			if ev.simple != nil {
				vals := ev.simple(rows[i].pv)
				if len(vals) > 0 {
					k.vals = append(k.vals, vals[0])
				} else {
					k.vals = append(k.vals, variant.Null())
				}
				k.nums = append(k.nums, 0)
				continue
			}
			n, err := ev.expr.eval(sc, &rows[i])
			if err != nil {
				return err
			}
			k.vals = append(k.vals, variant.Variant{})
			k.nums = append(k.nums, n)
		}
	}

	firstDesc := q.Sort[0].Desc
	sort.SliceStable(rows, func(a, b int) bool {
		ka, kb := &keys[a], &keys[b]
		if forcedGetter != nil {
			if ka.force != kb.force {
				if firstDesc {
					return ka.force > kb.force
				}
				return ka.force < kb.force
			}
		}
		for e := range evals {
			var c int
			if evals[e].simple != nil {
				c = ka.vals[e].Compare(kb.vals[e], evals[e].collate)
			} else {
				switch {
				case ka.nums[e] < kb.nums[e]:
					c = -1
				case ka.nums[e] > kb.nums[e]:
					c = 1
				}
			}
			if c == 0 {
				continue
			}
			if evals[e].desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if forcedGetter != nil {
		sc.explSel = append(sc.explSel, ExplainSelector{Field: q.Sort[0].Expression, Method: "forced_sort"})
	}
	return nil
}

func isPlainField(expr string) bool {
	if expr == "" {
		return false
	}
	for i, r := range expr {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '.' || r == '+') {
			continue
		}
		return false
	}
	return true
}

// sortExprNode is one node of a parsed sort expression. Expressions
// combine field values, numeric literals, rank() and ST_Distance()
// with the four arithmetic operators.
type sortExprNode struct {
	op    byte // 0 leaf, else '+', '-', '*', '/'
	left  *sortExprNode
	right *sortExprNode

	value   float64
	field   string
	rank    bool
	absOf   *sortExprNode
	distLhs string
	distRhs string
	isDist  bool
}

func (n *sortExprNode) eval(sc *selection, row *matchedRow) (float64, error) {
	switch n.op {
	case 0:
	case '+':
		l, err := n.left.eval(sc, row)
		if err != nil {
			return 0, err
		}
		r, err := n.right.eval(sc, row)
		if err != nil {
			return 0, err
		}
		return l + r, nil
	case '-':
		l, err := n.left.eval(sc, row)
		if err != nil {
			return 0, err
		}
		r, err := n.right.eval(sc, row)
		if err != nil {
			return 0, err
		}
		return l - r, nil
	case '*':
		l, err := n.left.eval(sc, row)
		if err != nil {
			return 0, err
		}
		r, err := n.right.eval(sc, row)
		if err != nil {
			return 0, err
		}
		return l * r, nil
	case '/':
		l, err := n.left.eval(sc, row)
		if err != nil {
			return 0, err
		}
		r, err := n.right.eval(sc, row)
		if err != nil {
			return 0, err
		}
		if r == 0 {
			return 0, errs.QueryExec("division by zero in sort expression")
		}
		return l / r, nil
	}
	switch {
	case n.rank:
		return float64(row.rank), nil
	case n.absOf != nil:
		v, err := n.absOf.eval(sc, row)
		if err != nil {
			return 0, err
		}
		return math.Abs(v), nil
	case n.isDist:
		return sc.stDistance(row, n.distLhs, n.distRhs)
	case n.field != "":
		g, _, err := sc.getterFor(n.field)
		if err != nil {
			return 0, err
		}
		vals := g(row.pv)
		if len(vals) == 0 {
			return 0, nil
		}
		return vals[0].AsDouble(), nil
	}
	return n.value, nil
}

func (sc *selection) stDistance(row *matchedRow, lhs, rhs string) (float64, error) {
	lx, ly, err := sc.pointArg(row, lhs)
	if err != nil {
		return 0, err
	}
	rx, ry, err := sc.pointArg(row, rhs)
	if err != nil {
		return 0, err
	}
	return math.Hypot(lx-rx, ly-ry), nil
}

// pointArg resolves an ST_Distance argument: a field holding a point or
// a 'point(x y)' literal.
func (sc *selection) pointArg(row *matchedRow, arg string) (float64, float64, error) {
	if strings.HasPrefix(strings.ToLower(arg), "st_geomfromtext") || strings.HasPrefix(strings.ToLower(arg), "point") {
		return parsePointLiteral(arg)
	}
	g, _, err := sc.getterFor(arg)
	if err != nil {
		return 0, 0, err
	}
	vals := g(row.pv)
	if len(vals) < 2 {
		return 0, 0, errs.QueryExec("field '%s' is not a point", arg)
	}
	return vals[0].AsDouble(), vals[1].AsDouble(), nil
}

func parsePointLiteral(s string) (float64, float64, error) {
	open := strings.LastIndex(s, "(")
	close_ := strings.Index(s, ")")
	if open < 0 || close_ < open {
		return 0, 0, errs.ParseSQL("bad point literal %q", s)
	}
	parts := strings.Fields(s[open+1 : close_])
	if len(parts) != 2 {
		return 0, 0, errs.ParseSQL("bad point literal %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, errs.ParseSQL("bad point literal %q", s)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, errs.ParseSQL("bad point literal %q", s)
	}
	return x, y, nil
}

type sortExprParser struct {
	src string
	pos int
}

func parseSortExpr(src string) (*sortExprNode, error) {
	p := &sortExprParser{src: src}
	node, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, errs.ParseSQL("unexpected %q in sort expression", p.src[p.pos:])
	}
	return node, nil
}

func (p *sortExprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *sortExprParser) parseSum() (*sortExprNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '+' && p.src[p.pos] != '-') {
			return left, nil
		}
		op := p.src[p.pos]
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &sortExprNode{op: op, left: left, right: right}
	}
}

func (p *sortExprParser) parseProduct() (*sortExprNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '*' && p.src[p.pos] != '/') {
			return left, nil
		}
		op := p.src[p.pos]
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &sortExprNode{op: op, left: left, right: right}
	}
}

func (p *sortExprParser) parseFactor() (*sortExprNode, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, errs.ParseSQL("unexpected end of sort expression")
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		node, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return nil, errs.ParseSQL("missing ')' in sort expression")
		}
		p.pos++
		return node, nil
	case c == '-':
		p.pos++
		node, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &sortExprNode{op: '-', left: &sortExprNode{}, right: node}, nil
	case c >= '0' && c <= '9':
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return nil, errs.ParseSQL("bad number in sort expression: %v", err)
		}
		return &sortExprNode{value: f}, nil
	}
	start := p.pos
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if r == '+' || r == '-' || r == '*' || r == '/' || r == ' ' || r == '\t' || r == '(' || r == ')' || r == ',' {
			break
		}
		p.pos++
	}
	word := p.src[start:p.pos]
	if word == "" {
		return nil, errs.ParseSQL("bad sort expression near %q", p.src[start:])
	}
	lower := strings.ToLower(word)
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		switch lower {
		case "rank":
			if len(args) != 0 {
				return nil, errs.ParseSQL("rank() takes no arguments")
			}
			return &sortExprNode{rank: true}, nil
		case "abs":
			if len(args) != 1 {
				return nil, errs.ParseSQL("abs() takes one argument")
			}
			inner, err := parseSortExpr(args[0])
			if err != nil {
				return nil, err
			}
			return &sortExprNode{absOf: inner}, nil
		case "st_distance":
			if len(args) != 2 {
				return nil, errs.ParseSQL("ST_Distance() takes two arguments")
			}
			return &sortExprNode{isDist: true, distLhs: args[0], distRhs: args[1]}, nil
		}
		return nil, errs.ParseSQL("unknown sort function %q", word)
	}
	return &sortExprNode{field: word}, nil
}

// parseArgs consumes a parenthesized, comma-separated argument list,
// honoring nested parentheses and single quotes.
func (p *sortExprParser) parseArgs() ([]string, error) {
	p.pos++ // '('
	var args []string
	depth := 0
	inQuote := false
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				arg := strings.TrimSpace(strings.Trim(strings.TrimSpace(p.src[start:p.pos]), "'"))
				if arg != "" {
					args = append(args, arg)
				}
				p.pos++
				return args, nil
			}
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(strings.Trim(strings.TrimSpace(p.src[start:p.pos]), "'")))
			start = p.pos + 1
		}
		p.pos++
	}
	return nil, errs.ParseSQL("missing ')' in sort expression")
}
