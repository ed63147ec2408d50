package cypher

import (
	"fmt"
	"strings"
)

// selectSpec is everything renderSelect needs beyond the scope's from list.
type selectSpec struct {
	distinct bool
	items    []string
	groupBy  []string
	orderBy  []string
	limit    string
	offset   string
}

// renderSelect assembles one SELECT statement from a scope and spec. The
// first from entry's ON conditions lead the WHERE clause, since a FROM head
// has no ON of its own.
func (em *emitter) renderSelect(s *emitScope, spec selectSpec) string {
	var b strings.Builder

	b.WriteString("SELECT ")

	if spec.distinct {
		b.WriteString("DISTINCT ")
	}

	b.WriteString(strings.Join(spec.items, ", "))

	var where []string

	for i, entry := range s.entries {
		switch {
		case i == 0:
			b.WriteString(" FROM " + entry.expr)

			where = append(where, entry.on...)

		case entry.kind == joinLeft:
			on := "TRUE"
			if len(entry.on) > 0 {
				on = strings.Join(entry.on, " AND ")
			}

			b.WriteString(" LEFT JOIN " + entry.expr + " ON " + on)

		case len(entry.on) == 0:
			b.WriteString(" CROSS JOIN " + entry.expr)

		default:
			b.WriteString(" JOIN " + entry.expr + " ON " + strings.Join(entry.on, " AND "))
		}
	}

	where = append(where, s.where...)

	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	if len(spec.groupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(spec.groupBy, ", "))
	}

	if len(spec.orderBy) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(spec.orderBy, ", "))
	}

	if spec.limit != "" {
		b.WriteString(" LIMIT " + spec.limit)
	}

	if spec.offset != "" {
		b.WriteString(" OFFSET " + spec.offset)
	}

	return b.String()
}

// projItem is one rendered projection plus the bookkeeping the surrounding
// clause needs: its group-by keys when it is not an aggregate, and a
// representative expression for ORDER BY alias matching.
type projItem struct {
	alias     string
	selects   []string
	groupKeys []string
	exprSQL   string
	agg       bool
}

// emitReturn renders the terminal projection over the current scope.
func (em *emitter) emitReturn(r *Return) (string, error) {
	items := make([]projItem, 0, len(r.Items))

	for _, p := range r.Items {
		item, err := em.renderProjection(p, false)
		if err != nil {
			return "", err
		}

		items = append(items, item)
	}

	spec, err := em.buildSpec(items, r.Distinct, r.OrderBy, r.Skip, r.Limit)
	if err != nil {
		return "", err
	}

	return em.renderSelect(em.scope, spec), nil
}

// emitWith wraps the accumulated query into a derived table and rebuilds the
// emission context around the projected names, which become column
// references on the outer query.
func (em *emitter) emitWith(w *With) error {
	wAlias := fmt.Sprintf("w_%d", em.withCount)
	em.withCount++

	items := make([]projItem, 0, len(w.Items))
	rebind := make([]*evar, 0, len(w.Items))
	names := make([]string, 0, len(w.Items))

	for _, p := range w.Items {
		item, err := em.renderProjection(p, true)
		if err != nil {
			return err
		}

		items = append(items, item)

		v, err := em.reboundVar(p, wAlias)
		if err != nil {
			return err
		}

		rebind = append(rebind, v)
		names = append(names, p.Alias)
	}

	spec, err := em.buildSpec(items, w.Distinct, w.OrderBy, w.Skip, w.Limit)
	if err != nil {
		return err
	}

	inner := em.renderSelect(em.scope, spec)

	outer := newEmitScope(nil)
	outer.addEntry(&fromEntry{expr: "(" + inner + ") AS " + wAlias, kind: joinInner})

	for i, v := range rebind {
		outer.bind(names[i], v)
	}

	em.scope = outer

	if w.Where != nil {
		frag, err := em.emitExpr(w.Where)
		if err != nil {
			return err
		}

		outer.where = append(outer.where, frag.boolSQL())
	}

	return nil
}

// reboundVar builds the outer-scope binding for one WITH item: entity
// variables survive as named columns of the derived table, everything else
// as a plain value column.
func (em *emitter) reboundVar(p *Projection, wAlias string) (*evar, error) {
	col := aliasBase(p.Alias, "c")

	if v, ok := p.Expr.(*Variable); ok {
		bound, err := em.resolve(v)
		if err != nil {
			return nil, err
		}

		switch bound.kind {
		case KindNode:
			return &evar{kind: KindNode, cols: &colRefs{
				id:     wAlias + "." + col + "_id",
				labels: wAlias + "." + col + "_labels",
				props:  wAlias + "." + col + "_properties",
			}}, nil

		case KindRelationship:
			return &evar{kind: KindRelationship, cols: &colRefs{
				source: wAlias + "." + col + "_source",
				target: wAlias + "." + col + "_target",
				labels: wAlias + "." + col + "_labels",
				props:  wAlias + "." + col + "_properties",
			}}, nil
		}
	}

	return &evar{kind: KindValue, cols: &colRefs{value: wAlias + "." + col}}, nil
}

// renderProjection renders one item. In a WITH (expand set) entity variables
// are decomposed into their columns so the derived table preserves them; in
// a RETURN a directly-aliased entity projects as <alias>.*.
func (em *emitter) renderProjection(p *Projection, expand bool) (projItem, error) {
	if v, ok := p.Expr.(*Variable); ok {
		bound, err := em.resolve(v)
		if err != nil {
			return projItem{}, err
		}

		switch bound.kind {
		case KindNode, KindRelationship:
			return em.renderEntity(p, v, bound, expand)

		case KindPath:
			name := p.Alias
			if name == "" {
				name = aliasBase(v.Name, "path")
			}

			sql := bound.alias + ".path"

			return projItem{
				alias:     p.Alias,
				selects:   []string{sql + " AS " + aliasBase(name, "c")},
				groupKeys: []string{sql},
				exprSQL:   sql,
			}, nil
		}
	}

	frag, err := em.emitExpr(p.Expr)
	if err != nil {
		return projItem{}, err
	}

	sel := frag.sql
	if p.Alias != "" {
		sel += " AS " + aliasBase(p.Alias, "c")
	}

	return projItem{
		alias:     p.Alias,
		selects:   []string{sel},
		groupKeys: []string{frag.sql},
		exprSQL:   frag.sql,
		agg:       containsAggregate(p.Expr),
	}, nil
}

// renderEntity projects a whole node or relationship variable.
func (em *emitter) renderEntity(p *Projection, v *Variable, bound *evar, expand bool) (projItem, error) {
	name := p.Alias
	if name == "" {
		name = v.Name
	}

	col := aliasBase(name, "c")

	if bound.cols != nil {
		// Column-backed after a WITH boundary: re-project the columns.
		item := projItem{alias: p.Alias, exprSQL: bound.idRef()}

		if bound.kind == KindNode {
			item.selects = []string{
				bound.cols.id + " AS " + col + "_id",
				bound.cols.labels + " AS " + col + "_labels",
				bound.cols.props + " AS " + col + "_properties",
			}
			item.groupKeys = []string{bound.cols.id, bound.cols.labels, bound.cols.props}

			return item, nil
		}

		item.exprSQL = bound.cols.source
		item.selects = []string{
			bound.cols.source + " AS " + col + "_source",
			bound.cols.target + " AS " + col + "_target",
			bound.cols.labels + " AS " + col + "_labels",
			bound.cols.props + " AS " + col + "_properties",
		}
		item.groupKeys = []string{bound.cols.source, bound.cols.target, bound.cols.labels, bound.cols.props}

		return item, nil
	}

	if !expand {
		// RETURN u selects every column of the alias; the adapter decides
		// how to reassemble an entity from the row.
		item := projItem{alias: p.Alias}

		if bound.kind == KindNode {
			item.selects = []string{bound.alias + ".*"}
			item.groupKeys = []string{bound.alias + ".id"}
			item.exprSQL = bound.alias + ".id"

			return item, nil
		}

		item.selects = []string{bound.alias + ".*"}
		item.groupKeys = []string{
			bound.alias + ".source",
			bound.alias + ".target",
			bound.alias + ".labels",
			bound.alias + ".properties",
		}
		item.exprSQL = bound.alias + ".source"

		return item, nil
	}

	if bound.kind == KindNode {
		return projItem{
			alias: p.Alias,
			selects: []string{
				bound.alias + ".id AS " + col + "_id",
				bound.alias + ".labels AS " + col + "_labels",
				bound.alias + ".properties AS " + col + "_properties",
			},
			groupKeys: []string{bound.alias + ".id"},
			exprSQL:   bound.alias + ".id",
		}, nil
	}

	return projItem{
		alias: p.Alias,
		selects: []string{
			bound.alias + ".source AS " + col + "_source",
			bound.alias + ".target AS " + col + "_target",
			bound.alias + ".labels AS " + col + "_labels",
			bound.alias + ".properties AS " + col + "_properties",
		},
		groupKeys: []string{
			bound.alias + ".source",
			bound.alias + ".target",
			bound.alias + ".labels",
			bound.alias + ".properties",
		},
		exprSQL: bound.alias + ".source",
	}, nil
}

// buildSpec folds the rendered items into a selectSpec: when any item
// aggregates, every non-aggregate item becomes a GROUP BY key.
func (em *emitter) buildSpec(items []projItem, distinct bool, orderBy []*OrderItem, skip, limit Expr) (selectSpec, error) {
	spec := selectSpec{distinct: distinct}

	hasAgg := false

	for _, item := range items {
		spec.items = append(spec.items, item.selects...)

		if item.agg {
			hasAgg = true
		}
	}

	if hasAgg {
		for _, item := range items {
			if !item.agg {
				spec.groupBy = append(spec.groupBy, item.groupKeys...)
			}
		}
	}

	var err error

	spec.orderBy, err = em.orderBySQL(orderBy, items)
	if err != nil {
		return selectSpec{}, err
	}

	spec.offset, err = em.pageSQL(skip)
	if err != nil {
		return selectSpec{}, err
	}

	spec.limit, err = em.pageSQL(limit)
	if err != nil {
		return selectSpec{}, err
	}

	return spec, nil
}

// orderBySQL renders ORDER BY keys, preferring projection aliases when an
// item matches the key expression.
func (em *emitter) orderBySQL(orderBy []*OrderItem, items []projItem) ([]string, error) {
	if len(orderBy) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(orderBy))

	for _, o := range orderBy {
		key, err := em.orderKey(o.Expr, items)
		if err != nil {
			return nil, err
		}

		if o.Desc {
			key += " DESC"
		}

		out = append(out, key)
	}

	return out, nil
}

func (em *emitter) orderKey(expr Expr, items []projItem) (string, error) {
	// A bare name that is a projection alias orders by the output column,
	// whether or not the name also resolves underneath.
	if v, ok := expr.(*Variable); ok {
		for _, item := range items {
			if item.alias == v.Name {
				return aliasBase(item.alias, "c"), nil
			}
		}
	}

	frag, err := em.emitExpr(expr)
	if err != nil {
		return "", err
	}

	for _, item := range items {
		if item.alias != "" && item.exprSQL == frag.sql {
			return aliasBase(item.alias, "c"), nil
		}
	}

	return frag.sql, nil
}

// pageSQL renders a SKIP or LIMIT operand: an integer literal or parameter.
func (em *emitter) pageSQL(expr Expr) (string, error) {
	switch e := expr.(type) {
	case nil:
		return "", nil
	case *Literal:
		if e.Kind == LiteralInt {
			return fmt.Sprintf("%d", e.Int), nil
		}
	case *Parameter:
		return em.placeholder(e), nil
	}

	return "", emitErr(expr.Span(), "SKIP and LIMIT require an integer literal or parameter")
}
