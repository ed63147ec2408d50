package cypher

import (
	"fmt"
	"strings"
)

// The SQL emitter walks the typed AST and assembles a single SELECT (plus
// any recursive CTEs) over the graph schema. It carries a mutable emission
// context for the duration of one query: the from list with assigned
// aliases, join and where conjuncts, the variable-to-alias map, and the
// parameter registry.

// Default emitter options.
const (
	DefaultSchema       = "pgraf"
	DefaultNodesTable   = "nodes"
	DefaultEdgesTable   = "edges"
	DefaultMaxPathDepth = 10
)

// Options configures the emitter. The zero value selects the defaults.
type Options struct {
	// Schema is the PostgreSQL schema holding the graph tables.
	Schema string
	// NodesTable and EdgesTable name the two graph tables.
	NodesTable string
	EdgesTable string
	// MaxPathDepth bounds every variable-length traversal, so every emitted
	// recursion terminates: an open upper bound becomes MaxPathDepth, and an
	// explicit upper bound above it is lowered to it.
	MaxPathDepth int
}

func (o Options) withDefaults() Options {
	if o.Schema == "" {
		o.Schema = DefaultSchema
	}

	if o.NodesTable == "" {
		o.NodesTable = DefaultNodesTable
	}

	if o.EdgesTable == "" {
		o.EdgesTable = DefaultEdgesTable
	}

	if o.MaxPathDepth <= 0 {
		o.MaxPathDepth = DefaultMaxPathDepth
	}

	return o
}

// Params is the ordered mapping from user-visible parameter names to the
// numeric placeholder positions used in the emitted SQL ($1, $2, ...).
type Params struct {
	names []string
	pos   map[string]int
}

func newParams(names []string) *Params {
	p := &Params{pos: make(map[string]int, len(names))}
	for _, name := range names {
		p.names = append(p.names, name)
		p.pos[name] = len(p.names)
	}

	return p
}

// Len returns the number of distinct parameters.
func (p *Params) Len() int { return len(p.names) }

// Names returns the parameter names in placeholder order.
func (p *Params) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)

	return out
}

// Position returns the 1-based placeholder position for name, or 0 when the
// query has no such parameter.
func (p *Params) Position(name string) int {
	return p.pos[name]
}

// Positions returns a copy of the name-to-placeholder mapping.
func (p *Params) Positions() map[string]int {
	out := make(map[string]int, len(p.pos))
	for k, v := range p.pos {
		out[k] = v
	}

	return out
}

// Args resolves named bindings into the positional argument slice the
// placeholders expect. Every parameter must be bound.
func (p *Params) Args(bindings map[string]any) ([]any, error) {
	args := make([]any, len(p.names))

	for i, name := range p.names {
		value, ok := bindings[name]
		if !ok {
			return nil, fmt.Errorf("missing binding for parameter $%s", name)
		}

		args[i] = value
	}

	return args, nil
}

type joinKind int

const (
	joinInner joinKind = iota
	joinLeft
	joinCross
)

// fromEntry is one table reference in the from list. On holds the join
// conditions fixed to this entry; the first entry's conditions are rendered
// at the head of the WHERE clause instead.
type fromEntry struct {
	expr string
	kind joinKind
	on   []string
}

// colRefs backs a variable whose entity left the base tables behind a WITH
// boundary: the named columns stand in for the original alias.
type colRefs struct {
	id     string
	source string
	target string
	labels string
	props  string
	value  string
}

// evar is the emitter's view of one bound variable.
type evar struct {
	kind  EntityKind
	alias string
	cols  *colRefs
}

func (v *evar) idRef() string {
	if v.cols != nil {
		return v.cols.id
	}

	return v.alias + ".id"
}

func (v *evar) labelsRef() string {
	if v.cols != nil {
		return v.cols.labels
	}

	return v.alias + ".labels"
}

func (v *evar) propsRef() string {
	if v.cols != nil {
		return v.cols.props
	}

	return v.alias + ".properties"
}

// emitScope is the from/where accumulator for one SELECT level. EXISTS
// subqueries chain to the enclosing scope so outer variables resolve to
// their outer aliases, which is exactly what makes the subquery correlated.
type emitScope struct {
	entries []*fromEntry
	where   []string
	vars    map[string]*evar
	outer   *emitScope
}

func newEmitScope(outer *emitScope) *emitScope {
	return &emitScope{vars: make(map[string]*evar), outer: outer}
}

func (s *emitScope) lookup(name string) *evar {
	for scope := s; scope != nil; scope = scope.outer {
		if v, ok := scope.vars[name]; ok {
			return v
		}
	}

	return nil
}

func (s *emitScope) bind(name string, v *evar) {
	s.vars[name] = v
}

func (s *emitScope) addEntry(e *fromEntry) *fromEntry {
	s.entries = append(s.entries, e)

	return e
}

type emitter struct {
	opts          Options
	params        *Params
	scope         *emitScope
	ctes          []string
	counters      map[string]int
	traverseCount int
	withCount     int
}

func newEmitter(opts Options, params *Params) *emitter {
	return &emitter{
		opts:     opts.withDefaults(),
		params:   params,
		scope:    newEmitScope(nil),
		counters: make(map[string]int),
	}
}

func (em *emitter) nodesTable() string {
	return em.opts.Schema + "." + em.opts.NodesTable
}

func (em *emitter) edgesTable() string {
	return em.opts.Schema + "." + em.opts.EdgesTable
}

// alias allocates the next alias for a base name: u -> u_0, u_1, ...
func (em *emitter) alias(base string) string {
	n := em.counters[base]
	em.counters[base]++

	return fmt.Sprintf("%s_%d", base, n)
}

// aliasBase derives the alias stem for a variable. Internal fresh names
// collapse onto a role letter; user names are sanitized for SQL.
func aliasBase(name, role string) string {
	if strings.HasPrefix(name, anonPrefix) {
		return role
	}

	var b strings.Builder

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if out == "" || out[0] >= '0' && out[0] <= '9' {
		out = role + out
	}

	return out
}

// emitQuery translates a lowered query into SQL text.
func (em *emitter) emitQuery(q *Query) (string, error) {
	var final string

	for _, clause := range q.Clauses {
		var err error

		switch c := clause.(type) {
		case *Match:
			err = em.emitMatch(c)
		case *Unwind:
			err = em.emitUnwind(c)
		case *With:
			err = em.emitWith(c)
		case *Return:
			final, err = em.emitReturn(c)
		}

		if err != nil {
			return "", err
		}
	}

	if len(em.ctes) > 0 {
		final = "WITH RECURSIVE " + strings.Join(em.ctes, ", ") + " " + final
	}

	return final, nil
}

// emitMatch adds a match clause's patterns and filter to the current scope.
// For OPTIONAL MATCH every predicate lands in ON conditions of the clause's
// LEFT JOINs so optionality survives.
func (em *emitter) emitMatch(m *Match) error {
	var lastEntry *fromEntry

	for _, pat := range m.Patterns {
		entry, err := em.emitPattern(pat, m.Optional)
		if err != nil {
			return err
		}

		if entry != nil {
			lastEntry = entry
		}
	}

	if m.Where != nil {
		frag, err := em.emitExpr(m.Where)
		if err != nil {
			return err
		}

		cond := frag.boolSQL()
		if m.Optional && lastEntry != nil {
			lastEntry.on = append(lastEntry.on, cond)
		} else {
			em.scope.where = append(em.scope.where, cond)
		}
	}

	return nil
}

// cond routes a predicate to the right place: the entry's ON conditions for
// an optional match, the scope's WHERE otherwise.
func (em *emitter) cond(optional bool, entry *fromEntry, sql string) {
	if optional && entry != nil {
		entry.on = append(entry.on, sql)

		return
	}

	em.scope.where = append(em.scope.where, sql)
}

// emitPattern walks one pattern chain, allocating aliases and join
// conditions. It returns the last from entry it created, if any.
func (em *emitter) emitPattern(pat *Pattern, optional bool) (*fromEntry, error) {
	var last *fromEntry

	entry, err := em.ensureNode(pat.Nodes[0], optional)
	if err != nil {
		return nil, err
	}

	if entry != nil {
		last = entry
	}

	for i, seg := range pat.Segments {
		target := pat.Nodes[i+1]

		if seg.Rel.Length.Variable {
			entry, err = em.emitTraversal(pat, seg, target, optional)
		} else {
			entry, err = em.emitSegment(pat, seg, target, optional)
		}

		if err != nil {
			return nil, err
		}

		if entry != nil {
			last = entry
		}
	}

	return last, nil
}

// ensureNode resolves a node pattern position to an alias, adding a from
// entry when the variable is not already backed by one, and appends the
// occurrence's label and property predicates.
func (em *emitter) ensureNode(np *NodePattern, optional bool) (*fromEntry, error) {
	var entry *fromEntry

	v := em.scope.lookup(np.Variable)

	switch {
	case v == nil:
		alias := em.alias(aliasBase(np.Variable, "n"))
		v = &evar{kind: KindNode, alias: alias}

		entry = em.scope.addEntry(&fromEntry{
			expr: em.nodesTable() + " AS " + alias,
			kind: em.joinKind(optional),
		})
		em.scope.bind(np.Variable, v)

	case v.cols != nil:
		// The variable crossed a WITH boundary: rejoin the nodes table
		// on the preserved id column and use a fresh alias from here on.
		alias := em.alias(aliasBase(np.Variable, "n"))
		rebound := &evar{kind: KindNode, alias: alias}

		entry = em.scope.addEntry(&fromEntry{
			expr: em.nodesTable() + " AS " + alias,
			kind: em.joinKind(optional),
			on:   []string{alias + ".id = " + v.cols.id},
		})
		em.scope.bind(np.Variable, rebound)
		v = rebound
	}

	for _, label := range np.Labels {
		em.cond(optional, entry, labelCond(v.labelsRef(), label))
	}

	for _, prop := range np.Props {
		cond, err := em.propCond(v.propsRef(), prop)
		if err != nil {
			return nil, err
		}

		em.cond(optional, entry, cond)
	}

	return entry, nil
}

func (em *emitter) joinKind(optional bool) joinKind {
	if optional {
		return joinLeft
	}

	return joinInner
}

// emitSegment joins a single-hop relationship between its endpoints. The
// canonical conditions are source.id = rel.source and rel.target = target.id;
// each lands on the first entry where every alias it references exists.
func (em *emitter) emitSegment(pat *Pattern, seg *Segment, target *NodePattern, optional bool) (*fromEntry, error) {
	rel := seg.Rel

	if v := em.scope.lookup(rel.Variable); v != nil && v.kind == KindRelationship && v.cols == nil {
		// Same relationship variable again: constrain through the
		// existing alias instead of joining the edges table twice.
		return nil, em.reuseSegment(pat, seg, target, v, optional)
	}

	relAlias := em.alias(aliasBase(rel.Variable, "e"))
	relVar := &evar{kind: KindRelationship, alias: relAlias}

	edgeEntry := em.scope.addEntry(&fromEntry{
		expr: em.edgesTable() + " AS " + relAlias,
		kind: em.joinKind(optional),
	})
	em.scope.bind(rel.Variable, relVar)

	if err := em.relConds(relVar, rel, optional, edgeEntry); err != nil {
		return nil, err
	}

	srcName := pat.Nodes[seg.Source].Variable
	tgtName := pat.Nodes[seg.Target].Variable

	srcCond := func() string {
		return em.scope.lookup(srcName).alias + ".id = " + relAlias + ".source"
	}
	tgtCond := func() string {
		return relAlias + ".target = " + em.scope.lookup(tgtName).alias + ".id"
	}

	if rel.Direction == DirectionBoth {
		return em.emitUndirected(pat, seg, target, relAlias, edgeEntry, optional)
	}

	// Outbound edge after canonicalization. The condition naming the
	// already-present endpoint goes on the edge entry; the one naming the
	// chain's next node follows that node's entry, unless the node is
	// already bound and both conditions can sit on the edge.
	knownCond, targetCond := srcCond, tgtCond
	if pat.Nodes[seg.Source] == target {
		knownCond, targetCond = tgtCond, srcCond
	}

	edgeEntry.on = append(edgeEntry.on, knownCond())

	existing := em.scope.lookup(target.Variable)
	if existing != nil && existing.cols == nil {
		edgeEntry.on = append(edgeEntry.on, targetCond())

		_, err := em.ensureNode(target, optional)

		return edgeEntry, err
	}

	targetEntry, err := em.ensureNode(target, optional)
	if err != nil {
		return nil, err
	}

	targetEntry.on = append([]string{targetCond()}, targetEntry.on...)

	return targetEntry, nil
}

// emitUndirected joins an undirected single hop: the edge may run either way
// between the endpoints, and self-pairs are suppressed.
func (em *emitter) emitUndirected(pat *Pattern, seg *Segment, target *NodePattern, relAlias string, edgeEntry *fromEntry, optional bool) (*fromEntry, error) {
	left := em.scope.lookup(pat.Nodes[seg.Source].Variable).alias
	edgeEntry.on = append(edgeEntry.on,
		"("+left+".id = "+relAlias+".source OR "+left+".id = "+relAlias+".target)")

	targetEntry, err := em.ensureNode(target, optional)
	if err != nil {
		return nil, err
	}

	right := em.scope.lookup(target.Variable).alias
	sym := "((" + left + ".id = " + relAlias + ".source AND " + relAlias + ".target = " + right + ".id)" +
		" OR (" + left + ".id = " + relAlias + ".target AND " + relAlias + ".source = " + right + ".id))"
	noSelf := left + ".id <> " + right + ".id"

	if targetEntry == nil {
		edgeEntry.on = append(edgeEntry.on, sym)
		em.cond(optional, edgeEntry, noSelf)

		return edgeEntry, nil
	}

	targetEntry.on = append([]string{sym}, targetEntry.on...)
	em.cond(optional, targetEntry, noSelf)

	return targetEntry, nil
}

// reuseSegment handles a relationship variable that already has an edge
// alias: the new occurrence adds endpoint equalities on that alias.
func (em *emitter) reuseSegment(pat *Pattern, seg *Segment, target *NodePattern, relVar *evar, optional bool) error {
	if _, err := em.ensureNode(target, optional); err != nil {
		return err
	}

	src := em.scope.lookup(pat.Nodes[seg.Source].Variable).alias
	tgt := em.scope.lookup(pat.Nodes[seg.Target].Variable).alias

	if seg.Rel.Direction == DirectionBoth {
		em.cond(optional, nil,
			"(("+src+".id = "+relVar.alias+".source AND "+relVar.alias+".target = "+tgt+".id)"+
				" OR ("+src+".id = "+relVar.alias+".target AND "+relVar.alias+".source = "+tgt+".id))")

		return nil
	}

	em.cond(optional, nil, src+".id = "+relVar.alias+".source")
	em.cond(optional, nil, relVar.alias+".target = "+tgt+".id")

	return nil
}

// relConds appends the relationship's own type and property predicates.
func (em *emitter) relConds(v *evar, rel *RelPattern, optional bool, entry *fromEntry) error {
	if cond := typeConds(v.labelsRef(), rel.Types); cond != "" {
		em.cond(optional, entry, cond)
	}

	for _, prop := range rel.Props {
		cond, err := em.propCond(v.propsRef(), prop)
		if err != nil {
			return err
		}

		em.cond(optional, entry, cond)
	}

	return nil
}

// typeConds builds the label-membership predicate for a relationship's type
// alternatives.
func typeConds(labelsRef string, types []string) string {
	if len(types) == 0 {
		return ""
	}

	if len(types) == 1 {
		return labelCond(labelsRef, types[0])
	}

	conds := make([]string, len(types))
	for i, t := range types {
		conds[i] = labelCond(labelsRef, t)
	}

	return "(" + strings.Join(conds, " OR ") + ")"
}

func labelCond(labelsRef, label string) string {
	return sqlString(label) + " = ANY(" + labelsRef + ")"
}

// propCond builds the equality predicate for one pattern property entry,
// coercing the JSON text accessor to the literal's type.
func (em *emitter) propCond(propsRef string, prop PropEntry) (string, error) {
	accessor := propsRef + "->>" + sqlString(prop.Key)

	switch value := prop.Value.(type) {
	case *Parameter:
		return accessor + " = " + em.placeholder(value), nil

	case *Literal:
		switch value.Kind {
		case LiteralString:
			return accessor + " = " + sqlString(value.Str), nil
		case LiteralInt:
			return "(" + accessor + ")::numeric = " + fmt.Sprintf("%d", value.Int), nil
		case LiteralFloat:
			return "(" + accessor + ")::numeric = " + formatFloat(value.Float), nil
		case LiteralBool:
			return "(" + accessor + ")::boolean = " + boolSQL(value.Bool), nil
		case LiteralNull:
			return accessor + " IS NULL", nil
		}
	}

	return "", emitErr(prop.Value.Span(), "unsupported property value")
}

func (em *emitter) placeholder(p *Parameter) string {
	pos := em.params.Position(p.Name)

	return fmt.Sprintf("$%d", pos)
}

// emitTraversal compiles a variable-length segment into a recursive CTE over
// the edges table and joins it to both endpoint aliases. The recursion
// carries a depth counter and a visited-id array for cycle suppression; an
// open upper bound, or an explicit one above the configured maximum depth,
// is capped at that maximum.
func (em *emitter) emitTraversal(pat *Pattern, seg *Segment, target *NodePattern, optional bool) (*fromEntry, error) {
	rel := seg.Rel

	maxDepth := em.opts.MaxPathDepth
	if rel.Length.Max != nil && *rel.Length.Max < maxDepth {
		maxDepth = *rel.Length.Max
	}

	var edgeConds []string
	if cond := typeConds("e.labels", rel.Types); cond != "" {
		edgeConds = append(edgeConds, cond)
	}

	for _, prop := range rel.Props {
		cond, err := em.propCond("e.properties", prop)
		if err != nil {
			return nil, err
		}

		edgeConds = append(edgeConds, cond)
	}

	cteName := fmt.Sprintf("traverse_%d", em.traverseCount)
	em.traverseCount++

	em.ctes = append(em.ctes, cteName+" AS ("+em.traversalCTE(cteName, rel, edgeConds, maxDepth)+")")

	// Both endpoints need aliases before the traversal entry can join them.
	if _, err := em.ensureNode(target, optional); err != nil {
		return nil, err
	}

	alias := em.alias(aliasBase(rel.Variable, "t"))
	em.scope.bind(rel.Variable, &evar{kind: KindPath, alias: alias})

	src := em.scope.lookup(pat.Nodes[seg.Source].Variable).alias
	tgt := em.scope.lookup(pat.Nodes[seg.Target].Variable).alias

	on := []string{
		alias + ".start_id = " + src + ".id",
		alias + ".end_id = " + tgt + ".id",
	}

	if rel.Length.Min != nil && *rel.Length.Min > 1 {
		on = append(on, fmt.Sprintf("%s.depth >= %d", alias, *rel.Length.Min))
	}

	on = append(on, fmt.Sprintf("%s.depth <= %d", alias, maxDepth))

	entry := em.scope.addEntry(&fromEntry{
		expr: cteName + " AS " + alias,
		kind: em.joinKind(optional),
		on:   on,
	})

	return entry, nil
}

func (em *emitter) traversalCTE(cteName string, rel *RelPattern, edgeConds []string, maxDepth int) string {
	edges := em.edgesTable()

	where := func(conds ...string) string {
		all := append(append([]string{}, edgeConds...), conds...)
		if len(all) == 0 {
			return ""
		}

		return " WHERE " + strings.Join(all, " AND ")
	}

	var b strings.Builder

	b.WriteString("SELECT e.source AS start_id, e.target AS end_id, 1 AS depth, ARRAY[e.source, e.target] AS path")
	b.WriteString(" FROM " + edges + " AS e")
	b.WriteString(where())

	if rel.Direction == DirectionBoth {
		b.WriteString(" UNION ALL ")
		b.WriteString("SELECT e.target AS start_id, e.source AS end_id, 1 AS depth, ARRAY[e.target, e.source] AS path")
		b.WriteString(" FROM " + edges + " AS e")
		b.WriteString(where())
	}

	b.WriteString(" UNION ALL ")

	if rel.Direction == DirectionBoth {
		next := "CASE WHEN e.source = t.end_id THEN e.target ELSE e.source END"
		b.WriteString("SELECT t.start_id, " + next + ", t.depth + 1, t.path || " + next)
		b.WriteString(" FROM " + cteName + " AS t JOIN " + edges + " AS e ON (e.source = t.end_id OR e.target = t.end_id)")
		b.WriteString(where(
			"NOT ("+next+") = ANY(t.path)",
			fmt.Sprintf("t.depth < %d", maxDepth),
		))
	} else {
		b.WriteString("SELECT t.start_id, e.target, t.depth + 1, t.path || e.target")
		b.WriteString(" FROM " + cteName + " AS t JOIN " + edges + " AS e ON e.source = t.end_id")
		b.WriteString(where(
			"NOT e.target = ANY(t.path)",
			fmt.Sprintf("t.depth < %d", maxDepth),
		))
	}

	return b.String()
}

// emitUnwind turns UNWIND into an unnest() from entry. The operand must be a
// list constructor or a parameter carrying an array.
func (em *emitter) emitUnwind(u *Unwind) error {
	var listSQL string

	switch e := u.Expr.(type) {
	case *ListExpr:
		frag, err := em.emitExpr(e)
		if err != nil {
			return err
		}

		listSQL = frag.sql

	case *Parameter:
		listSQL = em.placeholder(e)

	default:
		return emitErr(u.Expr.Span(), "UNWIND requires a list literal or parameter")
	}

	alias := em.alias(aliasBase(u.As, "u"))

	em.scope.addEntry(&fromEntry{
		expr: "unnest(" + listSQL + ") AS " + alias + "(value)",
		kind: joinCross,
	})

	em.scope.bind(u.As, &evar{
		kind: KindValue,
		cols: &colRefs{value: alias + ".value"},
	})

	return nil
}
