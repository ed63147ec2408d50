package cypher

import (
	"fmt"
	"strings"
)

// The lowerer turns the concrete parse tree into the typed AST: it resolves
// variables against a scope stack, gives anonymous pattern positions fresh
// internal names, canonicalizes relationship direction, and rejects the
// constructs the grammar recognizes but the translator does not support.

// anonPrefix starts every internal fresh name. "@" is not a legal Cypher
// identifier character, so generated names can never collide with user
// variables.
const anonPrefix = "@"

// aggFuncs are the aggregate function names, uppercase.
var aggFuncs = map[string]bool{
	"COUNT":   true,
	"SUM":     true,
	"AVG":     true,
	"MIN":     true,
	"MAX":     true,
	"COLLECT": true,
}

// binding records one in-scope variable.
type binding struct {
	name string
	kind EntityKind
	at   Span
}

// environment is an insertion-ordered variable scope.
type environment struct {
	order  []string
	byName map[string]*binding
}

func newEnvironment() *environment {
	return &environment{byName: make(map[string]*binding)}
}

func (e *environment) lookup(name string) *binding {
	return e.byName[name]
}

func (e *environment) add(b *binding) {
	e.order = append(e.order, b.name)
	e.byName[b.name] = b
}

func (e *environment) clone() *environment {
	c := newEnvironment()
	for _, name := range e.order {
		c.add(e.byName[name])
	}

	return c
}

type lowerer struct {
	env       *environment
	params    []string
	paramSeen map[string]bool
	anonNodes int
	anonRels  int
}

// exprContext carries where-are-we flags through expression lowering.
type exprContext struct {
	allowAggregate  bool
	insideAggregate bool
}

// lowerStatement lowers a parsed statement to a Query. The statement must
// consist of reading clauses and end in RETURN.
func lowerStatement(stmt *cstStatement) (*Query, error) {
	l := &lowerer{
		env:       newEnvironment(),
		paramSeen: make(map[string]bool),
	}

	q := &Query{node: node{At: spanAt(stmt.Pos, 0)}}
	readable := false

	for i, c := range stmt.Clauses {
		last := i == len(stmt.Clauses)-1

		switch {
		case c.Unsupported != nil:
			kw := strings.ToUpper(c.Unsupported.Keyword)

			return nil, lowerErr(UnsupportedConstruct, spanAt(c.Unsupported.Pos, len(c.Unsupported.Keyword)),
				"%s is not supported: the translator is read-only", kw)

		case c.Match != nil:
			m, err := l.lowerMatch(c.Match)
			if err != nil {
				return nil, err
			}

			readable = true

			q.Clauses = append(q.Clauses, m)

		case c.Unwind != nil:
			u, err := l.lowerUnwind(c.Unwind)
			if err != nil {
				return nil, err
			}

			readable = true

			q.Clauses = append(q.Clauses, u)

		case c.With != nil:
			w, err := l.lowerWith(c.With)
			if err != nil {
				return nil, err
			}

			q.Clauses = append(q.Clauses, w)

		case c.Return != nil:
			if !last {
				return nil, lowerErr(UnsupportedConstruct, spanAt(c.Return.Pos, len("RETURN")),
					"RETURN must be the final clause")
			}

			r, err := l.lowerReturn(c.Return)
			if err != nil {
				return nil, err
			}

			q.Clauses = append(q.Clauses, r)
		}
	}

	if len(q.Clauses) == 0 {
		return nil, lowerErr(UnsupportedConstruct, spanAt(stmt.Pos, 0), "empty query")
	}

	if _, ok := q.Clauses[len(q.Clauses)-1].(*Return); !ok {
		return nil, lowerErr(UnsupportedConstruct, spanAt(stmt.Pos, 0),
			"query must end with a RETURN clause")
	}

	if !readable {
		return nil, lowerErr(UnsupportedConstruct, spanAt(stmt.Pos, 0),
			"query must contain at least one MATCH or UNWIND clause")
	}

	q.Params = l.params

	return q, nil
}

func (l *lowerer) recordParam(name string) {
	if !l.paramSeen[name] {
		l.paramSeen[name] = true
		l.params = append(l.params, name)
	}
}

// bind adds name to the scope, or validates the existing binding when the
// name is already in scope. Rebinding to a different entity kind is an
// error pointing back at the first binding.
func (l *lowerer) bind(name string, kind EntityKind, at Span) error {
	if existing := l.env.lookup(name); existing != nil {
		if existing.kind != kind {
			e := lowerErr(VariableKindConflict, at,
				"variable %q is already bound as a %s", name, existing.kind)
			e.Related = &existing.at

			return e
		}

		return nil
	}

	l.env.add(&binding{name: name, kind: kind, at: at})

	return nil
}

func (l *lowerer) freshNode() string {
	name := fmt.Sprintf("%sn%d", anonPrefix, l.anonNodes)
	l.anonNodes++

	return name
}

func (l *lowerer) freshRel() string {
	name := fmt.Sprintf("%se%d", anonPrefix, l.anonRels)
	l.anonRels++

	return name
}

func (l *lowerer) lowerMatch(cm *cstMatch) (*Match, error) {
	m := &Match{
		node:     node{At: spanAt(cm.Pos, len("MATCH"))},
		Optional: cm.Optional,
	}

	for _, cp := range cm.Patterns {
		pat, err := l.lowerPattern(cp)
		if err != nil {
			return nil, err
		}

		m.Patterns = append(m.Patterns, pat)
	}

	if cm.Where != nil {
		where, err := l.lowerExpr(cm.Where, exprContext{})
		if err != nil {
			return nil, err
		}

		m.Where = where
	}

	return m, nil
}

func (l *lowerer) lowerPattern(cp *cstPattern) (*Pattern, error) {
	if cp.PathVar != nil {
		return nil, lowerErr(UnsupportedConstruct, spanAt(cp.PathVar.Pos, len(cp.PathVar.Name)),
			"path variables are not supported")
	}

	if cp.Shortest != nil {
		return nil, lowerErr(UnsupportedConstruct, spanAt(cp.Shortest.Pos, len(cp.Shortest.Name)),
			"%s is not supported", cp.Shortest.Name)
	}

	pat := &Pattern{node: node{At: Span{Start: cp.Head.Pos, End: cp.Head.EndPos}}}

	if _, err := l.lowerNode(pat, cp.Head); err != nil {
		return nil, err
	}

	prev := 0

	for _, hop := range cp.Chain {
		rel, dir, err := l.lowerRel(hop.Rel)
		if err != nil {
			return nil, err
		}

		cur, err := l.lowerNode(pat, hop.Node)
		if err != nil {
			return nil, err
		}

		seg := &Segment{Rel: rel}

		// Direction canonicalization: an incoming arrow becomes an
		// outgoing edge with swapped endpoints. Undirected stays as
		// written.
		switch dir {
		case DirectionIn:
			seg.Source, seg.Target = cur, prev
			rel.Direction = DirectionOut
		case DirectionOut, DirectionBoth:
			seg.Source, seg.Target = prev, cur
			rel.Direction = dir
		}

		pat.Segments = append(pat.Segments, seg)
		pat.At.End = hop.Node.EndPos
		prev = cur
	}

	return pat, nil
}

func (l *lowerer) lowerNode(pat *Pattern, cn *cstNode) (int, error) {
	at := Span{Start: cn.Pos, End: cn.EndPos}

	name := ""
	if cn.Variable != nil && *cn.Variable != "_" {
		name = *cn.Variable
	}

	if name == "" {
		name = l.freshNode()
	}

	if err := l.bind(name, KindNode, at); err != nil {
		return 0, err
	}

	props, err := l.lowerPropMap(cn.Props)
	if err != nil {
		return 0, err
	}

	pat.Nodes = append(pat.Nodes, &NodePattern{
		node:     node{At: at},
		Variable: name,
		Labels:   cn.Labels,
		Props:    props,
	})

	return len(pat.Nodes) - 1, nil
}

func (l *lowerer) lowerRel(cr *cstRel) (*RelPattern, Direction, error) {
	at := Span{Start: cr.Pos, End: cr.EndPos}

	if cr.Left && cr.Right {
		return nil, 0, lowerErr(UnsupportedConstruct, at,
			"relationship pattern with arrowheads on both ends")
	}

	dir := DirectionBoth

	switch {
	case cr.Right:
		dir = DirectionOut
	case cr.Left:
		dir = DirectionIn
	}

	rel := &RelPattern{node: node{At: at}, Length: Length{}}

	var err error
	if cr.Body != nil {
		if cr.Body.Variable != nil && *cr.Body.Variable != "_" {
			rel.Variable = *cr.Body.Variable
		}

		rel.Types = cr.Body.Types

		rel.Length, err = lowerLength(cr.Body.Length)
		if err != nil {
			return nil, 0, err
		}

		rel.Props, err = l.lowerPropMap(cr.Body.Props)
		if err != nil {
			return nil, 0, err
		}
	}

	if rel.Variable == "" {
		rel.Variable = l.freshRel()
	}

	kind := KindRelationship
	if rel.Length.Variable {
		kind = KindPath
	}

	if err := l.bind(rel.Variable, kind, at); err != nil {
		return nil, 0, err
	}

	return rel, dir, nil
}

func lowerLength(cl *cstLength) (Length, error) {
	if cl == nil {
		return Length{}, nil
	}

	at := Span{Start: cl.Pos, End: cl.EndPos}
	length := Length{Variable: true}

	if cl.Min != nil {
		m := int(*cl.Min)
		length.Min = &m
	}

	if cl.Max != nil {
		m := int(*cl.Max)
		length.Max = &m
	}

	// `*n` with no dots means exactly n hops.
	if !cl.Dots && cl.Min != nil {
		length.Max = length.Min
	}

	if length.Min != nil && *length.Min < 1 {
		return Length{}, lowerErr(UnsupportedConstruct, at,
			"zero-length variable relationships are not supported")
	}

	if length.Min != nil && length.Max != nil && *length.Max < *length.Min {
		return Length{}, lowerErr(UnsupportedConstruct, at,
			"relationship length range is empty (%d..%d)", *length.Min, *length.Max)
	}

	return length, nil
}

// lowerPropMap lowers a pattern property map. Values must be literals or
// parameters: pattern maps are equality constraints, not general expressions.
func (l *lowerer) lowerPropMap(cm *cstMap) ([]PropEntry, error) {
	if cm == nil {
		return nil, nil
	}

	entries := make([]PropEntry, 0, len(cm.Entries))

	for _, e := range cm.Entries {
		value, err := l.lowerExpr(e.Value, exprContext{})
		if err != nil {
			return nil, err
		}

		switch value.(type) {
		case *Literal, *Parameter:
		default:
			return nil, lowerErr(UnsupportedConstruct, spanAt(e.Pos, len(e.Key)),
				"property values in patterns must be literals or parameters")
		}

		entries = append(entries, PropEntry{Key: e.Key, Value: value})
	}

	return entries, nil
}

func (l *lowerer) lowerUnwind(cu *cstUnwind) (*Unwind, error) {
	expr, err := l.lowerExpr(cu.Expr, exprContext{})
	if err != nil {
		return nil, err
	}

	at := spanAt(cu.Pos, len("UNWIND"))
	if err := l.bind(cu.As, KindValue, at); err != nil {
		return nil, err
	}

	return &Unwind{node: node{At: at}, Expr: expr, As: cu.As}, nil
}

func (l *lowerer) lowerWith(cw *cstWith) (*With, error) {
	w := &With{
		node:     node{At: spanAt(cw.Pos, len("WITH"))},
		Distinct: cw.Distinct,
	}

	items, err := l.lowerProjections(cw.Star, cw.Items, spanAt(cw.Pos, len("WITH")), true)
	if err != nil {
		return nil, err
	}

	w.Items = items

	// ORDER BY inside a WITH sees both the projected names and the
	// underlying bindings; resolve against the merged scope.
	merged := l.projectedEnv(items, true)

	w.OrderBy, err = l.lowerOrderBy(cw.Order, merged)
	if err != nil {
		return nil, err
	}

	w.Skip, w.Limit, err = l.lowerSkipLimit(cw.Skip, cw.Limit)
	if err != nil {
		return nil, err
	}

	// WITH is a scope boundary: from here on only the projected names
	// are visible, and its WHERE filters the projected rows.
	l.env = l.projectedEnv(items, false)

	if cw.Where != nil {
		w.Where, err = l.lowerExpr(cw.Where, exprContext{})
		if err != nil {
			return nil, err
		}
	}

	return w, nil
}

func (l *lowerer) lowerReturn(cr *cstReturn) (*Return, error) {
	r := &Return{
		node:     node{At: spanAt(cr.Pos, len("RETURN"))},
		Distinct: cr.Distinct,
	}

	items, err := l.lowerProjections(cr.Star, cr.Items, spanAt(cr.Pos, len("RETURN")), false)
	if err != nil {
		return nil, err
	}

	r.Items = items

	merged := l.projectedEnv(items, true)

	r.OrderBy, err = l.lowerOrderBy(cr.Order, merged)
	if err != nil {
		return nil, err
	}

	r.Skip, r.Limit, err = l.lowerSkipLimit(cr.Skip, cr.Limit)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// lowerProjections lowers the item list of a WITH or RETURN. A star expands
// to the node and relationship variables currently in scope, in binding
// order. When aliasRequired is set (WITH), every non-variable item must
// carry an explicit alias.
func (l *lowerer) lowerProjections(star bool, items []*cstProjection, at Span, aliasRequired bool) ([]*Projection, error) {
	if star {
		var out []*Projection

		for _, name := range l.env.order {
			b := l.env.byName[name]
			if strings.HasPrefix(b.name, anonPrefix) {
				continue
			}

			if b.kind != KindNode && b.kind != KindRelationship {
				continue
			}

			out = append(out, &Projection{
				node:  node{At: at},
				Expr:  &Variable{node: node{At: at}, Name: b.name, Kind: b.kind},
				Alias: b.name,
				Kind:  b.kind,
			})
		}

		if len(out) == 0 {
			return nil, lowerErr(UnsupportedConstruct, at, "* expands to no variables here")
		}

		return out, nil
	}

	out := make([]*Projection, 0, len(items))
	seen := make(map[string]bool)

	for _, item := range items {
		expr, err := l.lowerExpr(item.Expr, exprContext{allowAggregate: true})
		if err != nil {
			return nil, err
		}

		p := &Projection{
			node: node{At: spanAt(item.Pos, 1)},
			Expr: expr,
			Kind: KindValue,
		}

		if v, ok := expr.(*Variable); ok {
			p.Alias = v.Name
			p.Kind = v.Kind
		}

		if item.Alias != nil {
			p.Alias = *item.Alias
		}

		if p.Alias == "" && aliasRequired {
			return nil, lowerErr(UnsupportedConstruct, p.At,
				"expression in WITH must be aliased (use AS)")
		}

		if p.Alias != "" {
			if seen[p.Alias] {
				return nil, lowerErr(VariableKindConflict, p.At,
					"duplicate projection name %q", p.Alias)
			}

			seen[p.Alias] = true
		}

		out = append(out, p)
	}

	return out, nil
}

// projectedEnv builds the scope defined by a projection list. With merge
// set, the current scope remains visible underneath the projected names.
func (l *lowerer) projectedEnv(items []*Projection, merge bool) *environment {
	env := newEnvironment()
	if merge {
		env = l.env.clone()
	}

	for _, p := range items {
		if p.Alias == "" {
			continue
		}

		if env.lookup(p.Alias) != nil {
			continue
		}

		env.add(&binding{name: p.Alias, kind: p.Kind, at: p.At})
	}

	return env
}

func (l *lowerer) lowerOrderBy(items []*cstOrderItem, env *environment) ([]*OrderItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	saved := l.env
	l.env = env

	defer func() { l.env = saved }()

	out := make([]*OrderItem, 0, len(items))

	for _, item := range items {
		expr, err := l.lowerExpr(item.Expr, exprContext{allowAggregate: true})
		if err != nil {
			return nil, err
		}

		desc := item.Dir != nil && strings.HasPrefix(strings.ToUpper(*item.Dir), "DESC")
		out = append(out, &OrderItem{node: node{At: spanAt(item.Pos, 1)}, Expr: expr, Desc: desc})
	}

	return out, nil
}

func (l *lowerer) lowerSkipLimit(skip, limit *cstExpr) (Expr, Expr, error) {
	var skipExpr, limitExpr Expr

	var err error
	if skip != nil {
		skipExpr, err = l.lowerExpr(skip, exprContext{})
		if err != nil {
			return nil, nil, err
		}
	}

	if limit != nil {
		limitExpr, err = l.lowerExpr(limit, exprContext{})
		if err != nil {
			return nil, nil, err
		}
	}

	return skipExpr, limitExpr, nil
}

// Expression lowering.

func (l *lowerer) lowerExpr(ce *cstExpr, ctx exprContext) (Expr, error) {
	left, err := l.lowerAnd(ce.First, ctx)
	if err != nil {
		return nil, err
	}

	for _, rhs := range ce.Rest {
		right, err := l.lowerAnd(rhs, ctx)
		if err != nil {
			return nil, err
		}

		left = &BinaryOp{node: node{At: left.Span()}, Op: OpOr, Left: left, Right: right}
	}

	return left, nil
}

func (l *lowerer) lowerAnd(ca *cstAnd, ctx exprContext) (Expr, error) {
	left, err := l.lowerNot(ca.First, ctx)
	if err != nil {
		return nil, err
	}

	for _, rhs := range ca.Rest {
		right, err := l.lowerNot(rhs, ctx)
		if err != nil {
			return nil, err
		}

		left = &BinaryOp{node: node{At: left.Span()}, Op: OpAnd, Left: left, Right: right}
	}

	return left, nil
}

func (l *lowerer) lowerNot(cn *cstNot, ctx exprContext) (Expr, error) {
	expr, err := l.lowerCompare(cn.Cmp, ctx)
	if err != nil {
		return nil, err
	}

	for range cn.Nots {
		expr = &Not{node: node{At: spanAt(cn.Pos, len("NOT"))}, Operand: expr}
	}

	return expr, nil
}

var cmpOps = map[string]BinOp{
	"=":  OpEq,
	"<>": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

// lowerCompare lowers a comparison chain. Chained comparisons follow Cypher
// semantics: `a < b < c` means `a < b AND b < c`.
func (l *lowerer) lowerCompare(cc *cstCompare, ctx exprContext) (Expr, error) {
	prev, err := l.lowerAdd(cc.Left, ctx)
	if err != nil {
		return nil, err
	}

	if len(cc.Ops) == 0 {
		return prev, nil
	}

	var acc Expr

	for _, rhs := range cc.Ops {
		var cmp Expr

		switch {
		case rhs.IsNull != nil:
			cmp = &IsNull{node: node{At: spanAt(rhs.Pos, 2)}, Operand: prev, Negated: rhs.IsNull.Not}

		default:
			right, err := l.lowerAdd(rhs.Right, ctx)
			if err != nil {
				return nil, err
			}

			op, ok := cmpOps[rhs.Op]

			switch {
			case ok:
			case strings.EqualFold(rhs.Op, "IN"):
				op = OpIn
			case strings.EqualFold(rhs.Op, "CONTAINS"):
				op = OpContains
			case rhs.Starts:
				op = OpStartsWith
			case rhs.Ends:
				op = OpEndsWith
			default:
				return nil, lowerErr(UnsupportedConstruct, spanAt(rhs.Pos, len(rhs.Op)),
					"unsupported comparison operator %q", rhs.Op)
			}

			cmp = &BinaryOp{node: node{At: prev.Span()}, Op: op, Left: prev, Right: right}
			prev = right
		}

		if acc == nil {
			acc = cmp
		} else {
			acc = &BinaryOp{node: node{At: acc.Span()}, Op: OpAnd, Left: acc, Right: cmp}
		}
	}

	return acc, nil
}

func (l *lowerer) lowerAdd(ca *cstAdd, ctx exprContext) (Expr, error) {
	left, err := l.lowerMul(ca.Left, ctx)
	if err != nil {
		return nil, err
	}

	for _, rhs := range ca.Ops {
		right, err := l.lowerMul(rhs.Right, ctx)
		if err != nil {
			return nil, err
		}

		op := OpAdd
		if rhs.Op == "-" {
			op = OpSub
		}

		left = &BinaryOp{node: node{At: left.Span()}, Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (l *lowerer) lowerMul(cm *cstMul, ctx exprContext) (Expr, error) {
	left, err := l.lowerUnary(cm.Left, ctx)
	if err != nil {
		return nil, err
	}

	for _, rhs := range cm.Ops {
		right, err := l.lowerUnary(rhs.Right, ctx)
		if err != nil {
			return nil, err
		}

		op := OpMul

		switch rhs.Op {
		case "/":
			op = OpDiv
		case "%":
			op = OpMod
		}

		left = &BinaryOp{node: node{At: left.Span()}, Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (l *lowerer) lowerUnary(cu *cstUnary, ctx exprContext) (Expr, error) {
	expr, err := l.lowerPostfix(cu.Post, ctx)
	if err != nil {
		return nil, err
	}

	if cu.Sign == nil || *cu.Sign == "+" {
		return expr, nil
	}

	// Fold a negation sign into numeric literals.
	if lit, ok := expr.(*Literal); ok {
		switch lit.Kind {
		case LiteralInt:
			return &Literal{node: lit.node, Kind: LiteralInt, Int: -lit.Int}, nil
		case LiteralFloat:
			return &Literal{node: lit.node, Kind: LiteralFloat, Float: -lit.Float}, nil
		}
	}

	return &Neg{node: node{At: spanAt(cu.Pos, 1)}, Operand: expr}, nil
}

func (l *lowerer) lowerPostfix(cp *cstPostfix, ctx exprContext) (Expr, error) {
	expr, err := l.lowerAtom(cp.Atom, ctx)
	if err != nil {
		return nil, err
	}

	for _, access := range cp.Ops {
		at := Span{Start: access.Pos, End: access.EndPos}

		switch {
		case access.Prop != nil:
			subject, err := entitySubject(expr, at, "property access")
			if err != nil {
				return nil, err
			}

			expr = &PropertyAccess{node: node{At: at}, Subject: subject, Property: *access.Prop}

		case access.Label != nil:
			subject, err := entitySubject(expr, at, "label test")
			if err != nil {
				return nil, err
			}

			expr = &LabelTest{node: node{At: at}, Subject: subject, Label: *access.Label}

		case access.Index != nil:
			return nil, lowerErr(UnsupportedConstruct, at, "index access is not supported")
		}
	}

	return expr, nil
}

// entitySubject checks that expr is a node or relationship variable. A
// variable-length relationship is a path, not an edge, so dereferencing one
// is rejected.
func entitySubject(expr Expr, at Span, what string) (*Variable, error) {
	v, ok := expr.(*Variable)
	if !ok {
		return nil, lowerErr(InvalidPropertyAccess, at,
			"%s requires a node or relationship variable", what)
	}

	switch v.Kind {
	case KindNode, KindRelationship:
		return v, nil
	case KindPath:
		e := lowerErr(InvalidPropertyAccess, at,
			"%q is a variable-length relationship; %s on paths is not supported", v.Name, what)
		related := v.Span()
		e.Related = &related

		return nil, e
	default:
		return nil, lowerErr(InvalidPropertyAccess, at,
			"%s requires a node or relationship variable, %q is a %s", what, v.Name, v.Kind)
	}
}

func (l *lowerer) lowerAtom(ca *cstAtom, ctx exprContext) (Expr, error) {
	at := Span{Start: ca.Pos, End: ca.EndPos}

	switch {
	case ca.Case != nil:
		return l.lowerCase(ca.Case, ctx)

	case ca.Exists != nil:
		return l.lowerExists(ca.Exists)

	case ca.Func != nil:
		return l.lowerFunc(ca.Func, ctx)

	case ca.Lit != nil:
		return lowerLiteral(ca.Lit), nil

	case ca.Param != nil:
		l.recordParam(*ca.Param)

		return &Parameter{node: node{At: at}, Name: *ca.Param}, nil

	case ca.List != nil:
		items := make([]Expr, 0, len(ca.List.Items))

		for _, item := range ca.List.Items {
			e, err := l.lowerExpr(item, ctx)
			if err != nil {
				return nil, err
			}

			items = append(items, e)
		}

		return &ListExpr{node: node{At: at}, Items: items}, nil

	case ca.Map != nil:
		entries := make([]MapEntry, 0, len(ca.Map.Entries))

		for _, e := range ca.Map.Entries {
			value, err := l.lowerExpr(e.Value, ctx)
			if err != nil {
				return nil, err
			}

			entries = append(entries, MapEntry{Key: e.Key, Value: value})
		}

		return &MapExpr{node: node{At: at}, Entries: entries}, nil

	case ca.Sub != nil:
		return l.lowerExpr(ca.Sub, ctx)

	case ca.Var != nil:
		b := l.env.lookup(*ca.Var)
		if b == nil {
			return nil, lowerErr(UnknownVariable, spanAt(ca.Pos, len(*ca.Var)),
				"variable %q is not defined", *ca.Var)
		}

		return &Variable{node: node{At: spanAt(ca.Pos, len(*ca.Var))}, Name: b.name, Kind: b.kind}, nil
	}

	return nil, lowerErr(UnsupportedConstruct, at, "unsupported expression")
}

func lowerLiteral(cl *cstLiteral) *Literal {
	lit := &Literal{node: node{At: Span{Start: cl.Pos, End: cl.EndPos}}}

	switch {
	case cl.Str != nil:
		lit.Kind = LiteralString
		lit.Str = string(*cl.Str)
	case cl.Float != nil:
		lit.Kind = LiteralFloat
		lit.Float = *cl.Float
	case cl.Int != nil:
		lit.Kind = LiteralInt
		lit.Int = *cl.Int
	case cl.True:
		lit.Kind = LiteralBool
		lit.Bool = true
	case cl.False:
		lit.Kind = LiteralBool
	case cl.Null:
		lit.Kind = LiteralNull
	}

	return lit
}

func (l *lowerer) lowerFunc(cf *cstFunc, ctx exprContext) (Expr, error) {
	at := Span{Start: cf.Pos, End: cf.EndPos}
	upper := strings.ToUpper(cf.Name)

	if !aggFuncs[upper] {
		if cf.Star {
			return nil, lowerErr(UnsupportedConstruct, at, "%s(*) is not supported", cf.Name)
		}

		if cf.Distinct {
			return nil, lowerErr(UnsupportedConstruct, at,
				"DISTINCT is only valid inside aggregate functions")
		}

		args := make([]Expr, 0, len(cf.Args))

		for _, arg := range cf.Args {
			e, err := l.lowerExpr(arg, ctx)
			if err != nil {
				return nil, err
			}

			args = append(args, e)
		}

		return &FuncCall{node: node{At: at}, Name: cf.Name, Args: args}, nil
	}

	if !ctx.allowAggregate {
		return nil, lowerErr(UnsupportedConstruct, at,
			"aggregate %s is only allowed in WITH and RETURN items", upper)
	}

	if ctx.insideAggregate {
		return nil, lowerErr(NestedAggregate, at,
			"aggregate %s cannot be nested inside another aggregate", upper)
	}

	agg := &Aggregate{node: node{At: at}, Name: upper, Distinct: cf.Distinct}

	if cf.Star {
		if upper != "COUNT" {
			return nil, lowerErr(UnsupportedConstruct, at, "%s(*) is not supported", upper)
		}

		if cf.Distinct {
			return nil, lowerErr(UnsupportedConstruct, at, "COUNT(DISTINCT *) is not supported")
		}

		agg.Star = true

		return agg, nil
	}

	if len(cf.Args) != 1 {
		return nil, lowerErr(UnsupportedConstruct, at,
			"%s takes exactly one argument", upper)
	}

	inner := ctx
	inner.insideAggregate = true

	arg, err := l.lowerExpr(cf.Args[0], inner)
	if err != nil {
		return nil, err
	}

	agg.Arg = arg

	return agg, nil
}

func (l *lowerer) lowerCase(cc *cstCase, ctx exprContext) (Expr, error) {
	at := Span{Start: cc.Pos, End: cc.EndPos}
	out := &CaseExpr{node: node{At: at}}

	var err error
	if cc.Operand != nil {
		out.Operand, err = l.lowerExpr(cc.Operand, ctx)
		if err != nil {
			return nil, err
		}
	}

	for _, w := range cc.Whens {
		cond, err := l.lowerExpr(w.Cond, ctx)
		if err != nil {
			return nil, err
		}

		then, err := l.lowerExpr(w.Then, ctx)
		if err != nil {
			return nil, err
		}

		out.Whens = append(out.Whens, CaseWhen{Cond: cond, Then: then})
	}

	if cc.Else != nil {
		out.Else, err = l.lowerExpr(cc.Else, ctx)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// lowerExists lowers an existential subquery. The inner pattern sees the
// outer scope - variables bound outside become correlations - while names
// bound inside stay local to the subquery.
func (l *lowerer) lowerExists(ce *cstExists) (Expr, error) {
	at := Span{Start: ce.Pos, End: ce.EndPos}

	saved := l.env
	l.env = saved.clone()

	defer func() { l.env = saved }()

	var m *Match

	var err error

	switch {
	case ce.Match != nil:
		m, err = l.lowerMatch(ce.Match)
		if err != nil {
			return nil, err
		}

	default:
		m = &Match{node: node{At: at}}

		for _, cp := range ce.Patterns {
			pat, err := l.lowerPattern(cp)
			if err != nil {
				return nil, err
			}

			m.Patterns = append(m.Patterns, pat)
		}
	}

	if ce.Where != nil {
		where, err := l.lowerExpr(ce.Where, exprContext{})
		if err != nil {
			return nil, err
		}

		if m.Where == nil {
			m.Where = where
		} else {
			m.Where = &BinaryOp{node: node{At: at}, Op: OpAnd, Left: m.Where, Right: where}
		}
	}

	return &Exists{node: node{At: at}, Match: m}, nil
}
