package cypher

import "github.com/alecthomas/participle/v2/lexer"

// The concrete parse tree. The annotated struct types below are the grammar
// description consumed by participle; the tree they form is an internal
// intermediate only - lowering turns it into the typed AST in ast.go.
//
// Keywords are matched as quoted literals against Ident tokens, which the
// parser compares case-insensitively (see parser.go).

type cstStatement struct {
	Pos     lexer.Position
	Clauses []*cstClause `parser:"@@+ ';'?"`
}

type cstClause struct {
	Match       *cstMatch       `parser:"  @@"`
	Unwind      *cstUnwind      `parser:"| @@"`
	With        *cstWith        `parser:"| @@"`
	Return      *cstReturn      `parser:"| @@"`
	Unsupported *cstUnsupported `parser:"| @@"`
}

// cstUnsupported swallows clauses that are recognizable but outside the
// supported read-only surface. The keyword span survives so lowering can
// point the diagnostic at it; the remaining tokens are consumed unexamined.
type cstUnsupported struct {
	Pos     lexer.Position
	Keyword string   `parser:"@('CREATE' | 'MERGE' | 'SET' | 'DELETE' | 'DETACH' | 'REMOVE' | 'CALL' | 'FOREACH' | 'UNION')"`
	Rest    []string `parser:"( @(~EOF) )*"`
}

type cstMatch struct {
	Pos      lexer.Position
	Optional bool          `parser:"@'OPTIONAL'? 'MATCH'"`
	Patterns []*cstPattern `parser:"@@ (',' @@)*"`
	Where    *cstExpr      `parser:"('WHERE' @@)?"`
}

type cstUnwind struct {
	Pos  lexer.Position
	Expr *cstExpr `parser:"'UNWIND' @@"`
	As   string   `parser:"'AS' (@Ident | @QuotedIdent)"`
}

type cstWith struct {
	Pos      lexer.Position
	Distinct bool             `parser:"'WITH' @'DISTINCT'?"`
	Star     bool             `parser:"( @'*'"`
	Items    []*cstProjection `parser:"| @@ (',' @@)* )"`
	Order    []*cstOrderItem  `parser:"('ORDER' 'BY' @@ (',' @@)*)?"`
	Skip     *cstExpr         `parser:"('SKIP' @@)?"`
	Limit    *cstExpr         `parser:"('LIMIT' @@)?"`
	Where    *cstExpr         `parser:"('WHERE' @@)?"`
}

type cstReturn struct {
	Pos      lexer.Position
	Distinct bool             `parser:"'RETURN' @'DISTINCT'?"`
	Star     bool             `parser:"( @'*'"`
	Items    []*cstProjection `parser:"| @@ (',' @@)* )"`
	Order    []*cstOrderItem  `parser:"('ORDER' 'BY' @@ (',' @@)*)?"`
	Skip     *cstExpr         `parser:"('SKIP' @@)?"`
	Limit    *cstExpr         `parser:"('LIMIT' @@)?"`
}

type cstProjection struct {
	Pos   lexer.Position
	Expr  *cstExpr `parser:"@@"`
	Alias *string  `parser:"('AS' (@Ident | @QuotedIdent))?"`
}

type cstOrderItem struct {
	Pos  lexer.Position
	Expr *cstExpr `parser:"@@"`
	Dir  *string  `parser:"@('ASC' | 'ASCENDING' | 'DESC' | 'DESCENDING')?"`
}

// Patterns.

type cstPattern struct {
	Pos      lexer.Position
	PathVar  *cstPathAssign `parser:"@@?"`
	Shortest *cstShortest   `parser:"( @@"`
	Head     *cstNode       `parser:"| @@"`
	Chain    []*cstHop      `parser:"@@* )"`
}

// cstPathAssign captures `p = (...)`; lowering rejects path variables.
type cstPathAssign struct {
	Pos  lexer.Position
	Name string `parser:"@Ident '='"`
}

// cstShortest captures shortestPath/allShortestPaths; lowering rejects them.
type cstShortest struct {
	Pos   lexer.Position
	Name  string    `parser:"@('SHORTESTPATH' | 'ALLSHORTESTPATHS')"`
	Head  *cstNode  `parser:"'(' @@"`
	Chain []*cstHop `parser:"@@* ')'"`
}

type cstHop struct {
	Rel  *cstRel  `parser:"@@"`
	Node *cstNode `parser:"@@"`
}

type cstNode struct {
	Pos      lexer.Position
	EndPos   lexer.Position
	Variable *string  `parser:"'(' (@Ident | @QuotedIdent)?"`
	Labels   []string `parser:"(':' (@Ident | @QuotedIdent))*"`
	Props    *cstMap  `parser:"@@? ')'"`
}

// cstRel covers every arrow form: -[...]->, <-[...]-, -[...]-, -->, <--, --.
// The arrowheads are sequenced from single-character tokens so that a
// comparison like `a < -1` never lexes an arrow.
type cstRel struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Left   bool        `parser:"@'<'? '-'"`
	Body   *cstRelBody `parser:"('[' @@ ']')?"`
	Right  bool        `parser:"'-' @'>'?"`
}

type cstRelBody struct {
	Pos      lexer.Position
	Variable *string    `parser:"(@Ident | @QuotedIdent)?"`
	Types    []string   `parser:"(':' (@Ident | @QuotedIdent) ('|' (':')? (@Ident | @QuotedIdent))*)?"`
	Length   *cstLength `parser:"@@?"`
	Props    *cstMap    `parser:"@@?"`
}

type cstLength struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Star   bool   `parser:"@'*'"`
	Min    *int64 `parser:"@Int?"`
	Dots   bool   `parser:"@'..'?"`
	Max    *int64 `parser:"@Int?"`
}

type cstMap struct {
	Pos     lexer.Position
	Entries []*cstMapEntry `parser:"'{' (@@ (',' @@)*)? '}'"`
}

type cstMapEntry struct {
	Pos   lexer.Position
	Key   string   `parser:"(@Ident | @QuotedIdent) ':'"`
	Value *cstExpr `parser:"@@"`
}

// Expressions, one grammar level per precedence tier:
// OR < AND < NOT < comparison < additive < multiplicative < unary < postfix.

type cstExpr struct {
	Pos   lexer.Position
	First *cstAnd   `parser:"@@"`
	Rest  []*cstAnd `parser:"('OR' @@)*"`
}

type cstAnd struct {
	Pos   lexer.Position
	First *cstNot   `parser:"@@"`
	Rest  []*cstNot `parser:"('AND' @@)*"`
}

type cstNot struct {
	Pos  lexer.Position
	Nots []string    `parser:"@'NOT'*"`
	Cmp  *cstCompare `parser:"@@"`
}

type cstCompare struct {
	Pos  lexer.Position
	Left *cstAdd      `parser:"@@"`
	Ops  []*cstCmpRHS `parser:"@@*"`
}

type cstCmpRHS struct {
	Pos    lexer.Position
	IsNull *cstIsNull `parser:"  @@"`
	Op     string     `parser:"| ( ( @('<=' | '>=' | '<>' | '=' | '<' | '>' | 'IN' | 'CONTAINS')"`
	Starts bool       `parser:"    | @'STARTS' 'WITH'"`
	Ends   bool       `parser:"    | @'ENDS' 'WITH' )"`
	Right  *cstAdd    `parser:"  @@ )"`
}

type cstIsNull struct {
	Pos lexer.Position
	Not bool `parser:"'IS' @'NOT'? 'NULL'"`
}

type cstAdd struct {
	Pos  lexer.Position
	Left *cstMul      `parser:"@@"`
	Ops  []*cstAddRHS `parser:"@@*"`
}

type cstAddRHS struct {
	Pos   lexer.Position
	Op    string  `parser:"@('+' | '-')"`
	Right *cstMul `parser:"@@"`
}

type cstMul struct {
	Pos  lexer.Position
	Left *cstUnary    `parser:"@@"`
	Ops  []*cstMulRHS `parser:"@@*"`
}

type cstMulRHS struct {
	Pos   lexer.Position
	Op    string    `parser:"@('*' | '/' | '%')"`
	Right *cstUnary `parser:"@@"`
}

type cstUnary struct {
	Pos  lexer.Position
	Sign *string     `parser:"@('-' | '+')?"`
	Post *cstPostfix `parser:"@@"`
}

type cstPostfix struct {
	Pos  lexer.Position
	Atom *cstAtom     `parser:"@@"`
	Ops  []*cstAccess `parser:"@@*"`
}

type cstAccess struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Prop   *string  `parser:"  '.' (@Ident | @QuotedIdent)"`
	Label  *string  `parser:"| ':' (@Ident | @QuotedIdent)"`
	Index  *cstExpr `parser:"| '[' @@ ']'"`
}

type cstAtom struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Case   *cstCase    `parser:"  @@"`
	Exists *cstExists  `parser:"| @@"`
	Func   *cstFunc    `parser:"| @@"`
	Lit    *cstLiteral `parser:"| @@"`
	Param  *string     `parser:"| @Param"`
	List   *cstList    `parser:"| @@"`
	Map    *cstMap     `parser:"| @@"`
	Sub    *cstExpr    `parser:"| '(' @@ ')'"`
	Var    *string     `parser:"| @Ident | @QuotedIdent"`
}

type cstLiteral struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Str    *stringLit `parser:"  @String"`
	Float  *float64   `parser:"| @Float"`
	Int    *int64     `parser:"| @Int"`
	True   bool       `parser:"| @'TRUE'"`
	False  bool       `parser:"| @'FALSE'"`
	Null   bool       `parser:"| @'NULL'"`
}

// stringLit resolves escapes at capture time; the lexer leaves quotes in.
type stringLit string

// Capture implements participle's Capture interface.
func (s *stringLit) Capture(values []string) error {
	out, err := unquoteString(values[0])
	if err != nil {
		return err
	}

	*s = stringLit(out)

	return nil
}

type cstList struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Items  []*cstExpr `parser:"'[' (@@ (',' @@)*)? ']'"`
}

type cstFunc struct {
	Pos      lexer.Position
	EndPos   lexer.Position
	Name     string     `parser:"@Ident '('"`
	Star     bool       `parser:"( @'*'"`
	Distinct bool       `parser:"| @'DISTINCT'?"`
	Args     []*cstExpr `parser:"(@@ (',' @@)*)? ) ')'"`
}

type cstCase struct {
	Pos     lexer.Position
	EndPos  lexer.Position
	Operand *cstExpr   `parser:"'CASE' ( (?! 'WHEN') @@ )?"`
	Whens   []*cstWhen `parser:"@@+"`
	Else    *cstExpr   `parser:"('ELSE' @@)? 'END'"`
}

type cstWhen struct {
	Pos  lexer.Position
	Cond *cstExpr `parser:"'WHEN' @@"`
	Then *cstExpr `parser:"'THEN' @@"`
}

type cstExists struct {
	Pos      lexer.Position
	EndPos   lexer.Position
	Match    *cstMatch     `parser:"'EXISTS' '{' ( @@"`
	Patterns []*cstPattern `parser:"| @@ (',' @@)* )"`
	Where    *cstExpr      `parser:"('WHERE' @@)? '}'"`
}
