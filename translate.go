package cypher

// Translator converts Cypher source strings into parameterized SQL over the
// graph schema. It is stateless across calls; a zero-options Translator uses
// the default schema, table names, and traversal depth cap.
type Translator struct {
	opts Options
}

// New creates a Translator with the given options.
func New(opts Options) *Translator {
	return &Translator{opts: opts.withDefaults()}
}

// Translate runs the full pipeline - lex, parse, lower, emit - and returns
// the SQL text plus the ordered parameter binding. Placeholders are $1, $2,
// ... in order of each parameter's first appearance in the source; the
// binding maps user parameter names to those positions.
//
// Translation is deterministic and performs no I/O: the same source and
// options always produce byte-identical output.
func (t *Translator) Translate(source string) (string, *Params, error) {
	query, err := Parse(source)
	if err != nil {
		return "", nil, err
	}

	return t.TranslateQuery(query)
}

// TranslateQuery emits SQL for an already-lowered query.
func (t *Translator) TranslateQuery(query *Query) (string, *Params, error) {
	params := newParams(query.Params)

	em := newEmitter(t.opts, params)

	sql, err := em.emitQuery(query)
	if err != nil {
		return "", nil, err
	}

	return sql, params, nil
}

// Translate converts source with default options.
func Translate(source string) (string, *Params, error) {
	return New(Options{}).Translate(source)
}

// Parse lexes, parses, and lowers source into the typed AST without emitting
// SQL. Errors are LexError, ParseError, or LowerError values.
func Parse(source string) (*Query, error) {
	stmt, err := parseStatement(source)
	if err != nil {
		return nil, err
	}

	return lowerStatement(stmt)
}
