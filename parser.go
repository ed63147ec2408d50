package cypher

import (
	"errors"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// cypherLexer is the shared, stateless lexer definition.
var cypherLexer = newCypherLexer()

var parser = participle.MustBuild[cstStatement](
	participle.Lexer(cypherLexer),
	participle.CaseInsensitive("Ident"),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(4), //nolint:mnd // Ident '(' vs Ident, `x = (` path assignment
)

// parseStatement parses a single Cypher statement into the concrete parse
// tree. Trailing tokens after the statement (including a second statement)
// are a ParseError: translation is single-statement.
func parseStatement(source string) (*cstStatement, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &ParseError{Msg: "empty query", Span: Span{}}
	}

	if err := lexCheck(source); err != nil {
		return nil, err
	}

	stmt, err := parser.ParseString("", source)
	if err != nil {
		return nil, asParseError(err)
	}

	return stmt, nil
}

// lexCheck scans the whole token stream up front so malformed tokens surface
// as LexError values rather than as wrapped parse failures.
func lexCheck(source string) error {
	lex, err := cypherLexer.LexString("", source)
	if err != nil {
		return err
	}

	for {
		tok, err := lex.Next()
		if err != nil {
			return err
		}

		if tok.EOF() {
			return nil
		}
	}
}

// asParseError maps lexer and participle failures onto the pipeline's
// diagnostic types, preserving positions and (when the parser reports it)
// the expected token set.
func asParseError(err error) error {
	var lexErr *LexError
	if errors.As(err, &lexErr) {
		return lexErr
	}

	var unexpected *participle.UnexpectedTokenError
	if errors.As(err, &unexpected) {
		tok := unexpected.Unexpected

		var expected []string
		if unexpected.Expect != "" {
			expected = []string{unexpected.Expect}
		}

		return &ParseError{
			Msg:      unexpected.Message(),
			Span:     spanAt(tok.Pos, len(tok.Value)),
			Expected: expected,
		}
	}

	var perr participle.Error
	if errors.As(err, &perr) {
		return &ParseError{
			Msg:  perr.Message(),
			Span: spanAt(perr.Position(), 1),
		}
	}

	return &ParseError{Msg: err.Error(), Span: Span{}}
}
