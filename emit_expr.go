package cypher

import (
	"strconv"
	"strings"
)

// Expression emission. Fragments carry the inferred SQL type alongside the
// text so comparisons can decide coercion by inspecting both operands:
// property accessors read JSON as text and are cast on demand when the other
// operand is numeric or boolean; unknown or mixed comparisons stay textual.

type fragType int

const (
	ftUnknown fragType = iota
	ftText
	ftNumeric
	ftBool
	ftNull
	ftID
	ftList
)

// Operator precedence levels for minimal parenthesization.
const (
	precOr = iota
	precAnd
	precNot
	precCmp
	precAdd
	precMul
	precUnary
	precAtom
)

type fragment struct {
	sql      string
	typ      fragType
	jsonText bool
	prec     int
}

func (f fragment) wrap(minPrec int) string {
	if f.prec < minPrec {
		return "(" + f.sql + ")"
	}

	return f.sql
}

func (f fragment) boolSQL() string { return f.sql }

// numericSQL renders the fragment for a numeric context, casting JSON text
// accessors.
func (f fragment) numericSQL() string {
	if f.jsonText {
		return "(" + f.sql + ")::numeric"
	}

	return f.wrap(precUnary)
}

func atom(sql string, typ fragType) fragment {
	return fragment{sql: sql, typ: typ, prec: precAtom}
}

// sqlString renders a string constant with quote doubling.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func boolSQL(b bool) string {
	if b {
		return "TRUE"
	}

	return "FALSE"
}

func formatFloat(f float64) string {
	out := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(out, ".eE") {
		out += ".0"
	}

	return out
}

func (em *emitter) emitExpr(expr Expr) (fragment, error) {
	switch e := expr.(type) {
	case *Literal:
		return emitLiteral(e), nil

	case *Parameter:
		return atom(em.placeholder(e), ftUnknown), nil

	case *Variable:
		return em.emitVariable(e)

	case *PropertyAccess:
		return em.emitPropertyAccess(e)

	case *LabelTest:
		v, err := em.resolve(e.Subject)
		if err != nil {
			return fragment{}, err
		}

		return fragment{sql: labelCond(v.labelsRef(), e.Label), typ: ftBool, prec: precCmp}, nil

	case *BinaryOp:
		return em.emitBinary(e)

	case *Not:
		operand, err := em.emitExpr(e.Operand)
		if err != nil {
			return fragment{}, err
		}

		return fragment{sql: "NOT " + operand.wrap(precNot+1), typ: ftBool, prec: precNot}, nil

	case *Neg:
		operand, err := em.emitExpr(e.Operand)
		if err != nil {
			return fragment{}, err
		}

		return fragment{sql: "-" + operand.numericSQL(), typ: ftNumeric, prec: precUnary}, nil

	case *IsNull:
		operand, err := em.emitExpr(e.Operand)
		if err != nil {
			return fragment{}, err
		}

		suffix := " IS NULL"
		if e.Negated {
			suffix = " IS NOT NULL"
		}

		return fragment{sql: operand.wrap(precCmp+1) + suffix, typ: ftBool, prec: precCmp}, nil

	case *FuncCall:
		return em.emitFunc(e)

	case *Aggregate:
		return em.emitAggregate(e)

	case *Exists:
		return em.emitExists(e)

	case *CaseExpr:
		return em.emitCase(e)

	case *ListExpr:
		items := make([]string, 0, len(e.Items))

		for _, item := range e.Items {
			frag, err := em.emitExpr(item)
			if err != nil {
				return fragment{}, err
			}

			items = append(items, frag.sql)
		}

		return atom("ARRAY["+strings.Join(items, ", ")+"]", ftList), nil

	case *MapExpr:
		args := make([]string, 0, len(e.Entries)*2)

		for _, entry := range e.Entries {
			frag, err := em.emitExpr(entry.Value)
			if err != nil {
				return fragment{}, err
			}

			args = append(args, sqlString(entry.Key), frag.sql)
		}

		return atom("jsonb_build_object("+strings.Join(args, ", ")+")", ftUnknown), nil
	}

	return fragment{}, emitErr(expr.Span(), "unsupported expression")
}

func emitLiteral(lit *Literal) fragment {
	switch lit.Kind {
	case LiteralString:
		return atom(sqlString(lit.Str), ftText)
	case LiteralInt:
		return atom(strconv.FormatInt(lit.Int, 10), ftNumeric)
	case LiteralFloat:
		return atom(formatFloat(lit.Float), ftNumeric)
	case LiteralBool:
		return atom(boolSQL(lit.Bool), ftBool)
	}

	return atom("NULL", ftNull)
}

// resolve maps an AST variable onto its emitter binding.
func (em *emitter) resolve(v *Variable) (*evar, error) {
	bound := em.scope.lookup(v.Name)
	if bound == nil {
		return nil, emitErr(v.Span(), "no alias allocated for variable %q", v.Name)
	}

	return bound, nil
}

func (em *emitter) emitVariable(v *Variable) (fragment, error) {
	bound, err := em.resolve(v)
	if err != nil {
		return fragment{}, err
	}

	switch bound.kind {
	case KindNode:
		return atom(bound.idRef(), ftID), nil

	case KindValue:
		if bound.cols != nil && bound.cols.value != "" {
			return atom(bound.cols.value, ftUnknown), nil
		}

		return fragment{}, emitErr(v.Span(), "variable %q has no value column", v.Name)

	case KindRelationship:
		return fragment{}, emitErr(v.Span(),
			"relationship variable %q cannot be used as a value", v.Name)

	case KindPath:
		return atom(bound.alias+".path", ftList), nil
	}

	return fragment{}, emitErr(v.Span(), "unsupported variable kind")
}

func (em *emitter) emitPropertyAccess(e *PropertyAccess) (fragment, error) {
	bound, err := em.resolve(e.Subject)
	if err != nil {
		return fragment{}, err
	}

	if bound.kind != KindNode && bound.kind != KindRelationship {
		return fragment{}, emitErr(e.Span(), "%q has no properties", e.Subject.Name)
	}

	sql := bound.propsRef() + "->>" + sqlString(e.Property)

	return fragment{sql: sql, typ: ftText, jsonText: true, prec: precAtom}, nil
}

var binOpSQL = map[BinOp]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
}

func (em *emitter) emitBinary(e *BinaryOp) (fragment, error) {
	switch e.Op {
	case OpAnd, OpOr:
		left, err := em.emitExpr(e.Left)
		if err != nil {
			return fragment{}, err
		}

		right, err := em.emitExpr(e.Right)
		if err != nil {
			return fragment{}, err
		}

		op, prec := " AND ", precAnd
		if e.Op == OpOr {
			op, prec = " OR ", precOr
		}

		return fragment{
			sql:  left.wrap(prec) + op + right.wrap(prec),
			typ:  ftBool,
			prec: prec,
		}, nil

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return em.emitComparison(e)

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return em.emitArithmetic(e)

	case OpIn:
		return em.emitIn(e)

	case OpContains, OpStartsWith, OpEndsWith:
		return em.emitLike(e)
	}

	return fragment{}, emitErr(e.Span(), "unsupported operator")
}

// emitComparison coerces the JSON-text side toward a typed operand; unknown
// or mixed comparisons default to text comparison.
func (em *emitter) emitComparison(e *BinaryOp) (fragment, error) {
	left, err := em.emitExpr(e.Left)
	if err != nil {
		return fragment{}, err
	}

	right, err := em.emitExpr(e.Right)
	if err != nil {
		return fragment{}, err
	}

	ls, rs := coercePair(left, right)

	return fragment{
		sql:  ls + " " + binOpSQL[e.Op] + " " + rs,
		typ:  ftBool,
		prec: precCmp,
	}, nil
}

func coercePair(left, right fragment) (string, string) {
	ls := left.wrap(precAdd)
	rs := right.wrap(precAdd)

	if left.jsonText && !right.jsonText {
		switch right.typ {
		case ftNumeric:
			ls = "(" + left.sql + ")::numeric"
		case ftBool:
			ls = "(" + left.sql + ")::boolean"
		}
	}

	if right.jsonText && !left.jsonText {
		switch left.typ {
		case ftNumeric:
			rs = "(" + right.sql + ")::numeric"
		case ftBool:
			rs = "(" + right.sql + ")::boolean"
		}
	}

	return ls, rs
}

// emitArithmetic casts JSON-text operands numerically. Addition over two
// textual operands concatenates instead.
func (em *emitter) emitArithmetic(e *BinaryOp) (fragment, error) {
	left, err := em.emitExpr(e.Left)
	if err != nil {
		return fragment{}, err
	}

	right, err := em.emitExpr(e.Right)
	if err != nil {
		return fragment{}, err
	}

	if e.Op == OpAdd && left.typ == ftText && right.typ == ftText && !left.jsonText && !right.jsonText {
		return fragment{
			sql:  left.wrap(precAdd) + " || " + right.wrap(precAdd),
			typ:  ftText,
			prec: precAdd,
		}, nil
	}

	prec := precAdd
	if e.Op == OpMul || e.Op == OpDiv || e.Op == OpMod {
		prec = precMul
	}

	return fragment{
		sql:  left.numericSQL() + " " + binOpSQL[e.Op] + " " + right.numericSQL(),
		typ:  ftNumeric,
		prec: prec,
	}, nil
}

// emitIn compiles IN over a list literal to a SQL IN list and IN over a
// parameter to = ANY, which accepts an array binding.
func (em *emitter) emitIn(e *BinaryOp) (fragment, error) {
	left, err := em.emitExpr(e.Left)
	if err != nil {
		return fragment{}, err
	}

	switch rhs := e.Right.(type) {
	case *ListExpr:
		items := make([]string, 0, len(rhs.Items))
		numeric := len(rhs.Items) > 0

		for _, item := range rhs.Items {
			frag, err := em.emitExpr(item)
			if err != nil {
				return fragment{}, err
			}

			if frag.typ != ftNumeric {
				numeric = false
			}

			items = append(items, frag.sql)
		}

		ls := left.wrap(precAdd)
		if left.jsonText && numeric {
			ls = "(" + left.sql + ")::numeric"
		}

		return fragment{
			sql:  ls + " IN (" + strings.Join(items, ", ") + ")",
			typ:  ftBool,
			prec: precCmp,
		}, nil

	case *Parameter:
		return fragment{
			sql:  left.wrap(precAdd) + " = ANY(" + em.placeholder(rhs) + ")",
			typ:  ftBool,
			prec: precCmp,
		}, nil
	}

	return fragment{}, emitErr(e.Right.Span(), "IN requires a list literal or parameter")
}

// emitLike compiles CONTAINS / STARTS WITH / ENDS WITH onto LIKE.
func (em *emitter) emitLike(e *BinaryOp) (fragment, error) {
	left, err := em.emitExpr(e.Left)
	if err != nil {
		return fragment{}, err
	}

	right, err := em.emitExpr(e.Right)
	if err != nil {
		return fragment{}, err
	}

	before := e.Op == OpContains || e.Op == OpEndsWith
	after := e.Op == OpContains || e.Op == OpStartsWith

	var pattern string
	if lit, ok := e.Right.(*Literal); ok && lit.Kind == LiteralString {
		value := lit.Str
		if before {
			value = "%" + value
		}

		if after {
			value += "%"
		}

		pattern = sqlString(value)
	} else {
		parts := []string{right.wrap(precAdd)}
		if before {
			parts = append([]string{"'%'"}, parts...)
		}

		if after {
			parts = append(parts, "'%'")
		}

		pattern = strings.Join(parts, " || ")
	}

	return fragment{
		sql:  left.wrap(precAdd) + " LIKE " + pattern,
		typ:  ftBool,
		prec: precCmp,
	}, nil
}

func (em *emitter) emitFunc(e *FuncCall) (fragment, error) {
	args := make([]fragment, 0, len(e.Args))

	for _, arg := range e.Args {
		frag, err := em.emitExpr(arg)
		if err != nil {
			return fragment{}, err
		}

		args = append(args, frag)
	}

	one := func() (fragment, error) {
		if len(args) != 1 {
			return fragment{}, emitErr(e.Span(), "%s takes exactly one argument", e.Name)
		}

		return args[0], nil
	}

	switch strings.ToLower(e.Name) {
	case "toupper":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("upper("+arg.sql+")", ftText), nil

	case "tolower":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("lower("+arg.sql+")", ftText), nil

	case "trim":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("btrim("+arg.sql+")", ftText), nil

	case "size", "length":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("length("+arg.sql+")", ftNumeric), nil

	case "abs":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("abs("+arg.numericSQL()+")", ftNumeric), nil

	case "coalesce":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.sql
		}

		return atom("coalesce("+strings.Join(parts, ", ")+")", ftUnknown), nil

	case "tostring":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("("+arg.sql+")::text", ftText), nil

	case "tointeger":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("("+arg.sql+")::integer", ftNumeric), nil

	case "tofloat":
		arg, err := one()
		if err != nil {
			return fragment{}, err
		}

		return atom("("+arg.sql+")::numeric", ftNumeric), nil

	case "id":
		v, err := em.entityArg(e)
		if err != nil {
			return fragment{}, err
		}

		if v.kind != KindNode {
			return fragment{}, emitErr(e.Span(), "id() requires a node variable")
		}

		return atom(v.idRef(), ftID), nil

	case "labels":
		v, err := em.entityArg(e)
		if err != nil {
			return fragment{}, err
		}

		return atom(v.labelsRef(), ftList), nil

	case "properties":
		v, err := em.entityArg(e)
		if err != nil {
			return fragment{}, err
		}

		return atom(v.propsRef(), ftUnknown), nil
	}

	return fragment{}, emitErr(e.Span(), "unsupported function %q", e.Name)
}

func (em *emitter) entityArg(e *FuncCall) (*evar, error) {
	if len(e.Args) != 1 {
		return nil, emitErr(e.Span(), "%s takes exactly one argument", e.Name)
	}

	v, ok := e.Args[0].(*Variable)
	if !ok {
		return nil, emitErr(e.Span(), "%s requires a node or relationship variable", e.Name)
	}

	return em.resolve(v)
}

func (em *emitter) emitAggregate(e *Aggregate) (fragment, error) {
	if e.Star {
		return atom("COUNT(*)", ftNumeric), nil
	}

	// Counting an entity variable counts rows; the distinct form counts
	// distinct entities by identity.
	if v, ok := e.Arg.(*Variable); ok && e.Name == "COUNT" {
		bound, err := em.resolve(v)
		if err != nil {
			return fragment{}, err
		}

		if bound.kind == KindNode || bound.kind == KindRelationship {
			if !e.Distinct {
				return atom("COUNT(*)", ftNumeric), nil
			}

			if bound.kind == KindNode {
				return atom("COUNT(DISTINCT "+bound.idRef()+")", ftNumeric), nil
			}

			return atom("COUNT(DISTINCT ("+bound.alias+".source, "+bound.alias+".target))", ftNumeric), nil
		}
	}

	arg, err := em.emitExpr(e.Arg)
	if err != nil {
		return fragment{}, err
	}

	distinct := ""
	if e.Distinct {
		distinct = "DISTINCT "
	}

	switch e.Name {
	case "COUNT":
		return atom("COUNT("+distinct+arg.sql+")", ftNumeric), nil
	case "SUM", "AVG":
		return atom(strings.ToUpper(e.Name)+"("+distinct+arg.numericSQL()+")", ftNumeric), nil
	case "MIN", "MAX":
		return atom(e.Name+"("+distinct+arg.sql+")", ftUnknown), nil
	case "COLLECT":
		return atom("array_agg("+distinct+arg.sql+")", ftList), nil
	}

	return fragment{}, emitErr(e.Span(), "unsupported aggregate %q", e.Name)
}

func (em *emitter) emitCase(e *CaseExpr) (fragment, error) {
	var b strings.Builder

	b.WriteString("CASE")

	if e.Operand != nil {
		operand, err := em.emitExpr(e.Operand)
		if err != nil {
			return fragment{}, err
		}

		b.WriteString(" " + operand.sql)
	}

	for _, w := range e.Whens {
		cond, err := em.emitExpr(w.Cond)
		if err != nil {
			return fragment{}, err
		}

		then, err := em.emitExpr(w.Then)
		if err != nil {
			return fragment{}, err
		}

		b.WriteString(" WHEN " + cond.sql + " THEN " + then.sql)
	}

	if e.Else != nil {
		els, err := em.emitExpr(e.Else)
		if err != nil {
			return fragment{}, err
		}

		b.WriteString(" ELSE " + els.sql)
	}

	b.WriteString(" END")

	return atom(b.String(), ftUnknown), nil
}

// emitExists compiles an existential subquery. The subquery's scope chains
// to the enclosing one, so a pattern position naming an outer variable emits
// no table of its own - its conditions reference the outer alias, which is
// what makes the subquery correlated.
func (em *emitter) emitExists(e *Exists) (fragment, error) {
	saved := em.scope
	em.scope = newEmitScope(saved)

	defer func() { em.scope = saved }()

	if err := em.emitMatch(e.Match); err != nil {
		return fragment{}, err
	}

	sql := em.renderSelect(em.scope, selectSpec{items: []string{"1"}})

	return atom("EXISTS ("+sql+")", ftBool), nil
}
