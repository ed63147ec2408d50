package cypher

import (
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2/lexer"
)

// Token type constants - negative values as per participle convention.
const (
	TokenEOF         lexer.TokenType = lexer.EOF
	TokenComment     lexer.TokenType = -(iota + 2) //nolint:mnd // participle convention
	TokenString                                    // quoted strings, quotes included
	TokenInt                                       // integer literals
	TokenFloat                                     // float literals
	TokenParam                                     // $name, value excludes the sigil
	TokenIdent                                     // identifiers and keywords
	TokenQuotedIdent                               // backtick-quoted identifiers, backticks stripped
	TokenOp                                        // operators including .. and <>
	TokenDot                                       // .
	TokenColon                                     // :
	TokenComma                                     // ,
	TokenSemi                                      // ;
	TokenLParen                                    // (
	TokenRParen                                    // )
	TokenLBracket                                  // [
	TokenRBracket                                  // ]
	TokenLBrace                                    // {
	TokenRBrace                                    // }
	TokenWhitespace                                // spaces, tabs, newlines
)

// Lexer errors.
var (
	ErrUnterminatedString    = &LexError{Msg: "unterminated string literal"}
	ErrUnterminatedIdent     = &LexError{Msg: "unterminated backtick identifier"}
	ErrUnterminatedComment   = &LexError{Msg: "unterminated block comment"}
	ErrEmptyParameter        = &LexError{Msg: "parameter sigil without a name"}
	ErrUnexpectedCharacter   = &LexError{Msg: "unexpected character"}
	ErrDisallowedCharacter   = &LexError{Msg: "disallowed code point"}
	ErrMalformedNumber       = &LexError{Msg: "malformed numeric literal"}
	errIncompleteEscape      = &LexError{Msg: "incomplete escape sequence"}
	errUnknownEscapeSequence = &LexError{Msg: "unknown escape sequence"}
)

// cypherDefinition implements lexer.Definition for Cypher source text.
// Keywords are not distinguished here: they stay Ident tokens and the
// grammar matches them case-insensitively, so any keyword remains usable
// as an identifier where the grammar allows one.
type cypherDefinition struct {
	symbols map[string]lexer.TokenType
}

func newCypherLexer() *cypherDefinition {
	return &cypherDefinition{
		symbols: map[string]lexer.TokenType{
			"EOF":         TokenEOF,
			"Comment":     TokenComment,
			"String":      TokenString,
			"Int":         TokenInt,
			"Float":       TokenFloat,
			"Param":       TokenParam,
			"Ident":       TokenIdent,
			"QuotedIdent": TokenQuotedIdent,
			"Op":          TokenOp,
			"Dot":         TokenDot,
			"Colon":       TokenColon,
			"Comma":       TokenComma,
			"Semi":        TokenSemi,
			"Whitespace":  TokenWhitespace,
			"(":           TokenLParen,
			")":           TokenRParen,
			"[":           TokenLBracket,
			"]":           TokenRBracket,
			"{":           TokenLBrace,
			"}":           TokenRBrace,
		},
	}
}

// Symbols returns the mapping of symbol names to token types.
func (d *cypherDefinition) Symbols() map[string]lexer.TokenType {
	return d.symbols
}

// Lex creates a new Lexer for the given reader.
//
//nolint:ireturn // Required by participle's lexer.Definition interface.
func (d *cypherDefinition) Lex(filename string, r io.Reader) (lexer.Lexer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return newLexerState(filename, string(data)), nil
}

// LexString implements lexer.StringDefinition for efficiency.
//
//nolint:ireturn // Required by participle's lexer.StringDefinition interface.
func (d *cypherDefinition) LexString(filename string, input string) (lexer.Lexer, error) {
	return newLexerState(filename, input), nil
}

// LexBytes implements lexer.BytesDefinition for efficiency.
//
//nolint:ireturn // Required by participle's lexer.BytesDefinition interface.
func (d *cypherDefinition) LexBytes(filename string, data []byte) (lexer.Lexer, error) {
	return newLexerState(filename, string(data)), nil
}

// lexerState holds the state for lexing a single source string.
type lexerState struct {
	filename string
	input    string
	offset   int
	line     int
	col      int
}

func newLexerState(filename, input string) *lexerState {
	return &lexerState{
		filename: filename,
		input:    input,
		line:     1,
		col:      1,
	}
}

// Next returns the next token.
func (l *lexerState) Next() (lexer.Token, error) {
	if l.eof() {
		return lexer.EOFToken(l.pos()), nil
	}

	start := l.pos()
	r := l.peek()

	if isSpace(r) {
		for !l.eof() && isSpace(l.peek()) {
			l.advance()
		}

		return l.token(TokenWhitespace, start), nil
	}

	// Line comment
	if r == '/' && l.peekAt(1) == '/' {
		for !l.eof() && l.peek() != '\n' {
			l.advance()
		}

		return l.token(TokenComment, start), nil
	}

	// Block comment
	if r == '/' && l.peekAt(1) == '*' {
		l.advance()
		l.advance()

		for !l.eof() {
			if l.peek() == '*' && l.peekAt(1) == '/' {
				l.advance()
				l.advance()

				return l.token(TokenComment, start), nil
			}

			l.advance()
		}

		return lexer.Token{}, ErrUnterminatedComment.withSpan(Span{Start: start, End: l.pos()})
	}

	if r == '`' {
		return l.scanQuotedIdent(start)
	}

	if r == '"' || r == '\'' {
		return l.scanString(start, r)
	}

	if isDigit(r) {
		return l.scanNumber(start)
	}

	if r == '$' {
		return l.scanParameter(start)
	}

	if isIdentStart(r) {
		l.advance()

		for !l.eof() && isIdentContinue(l.peek()) {
			l.advance()
		}

		return l.token(TokenIdent, start), nil
	}

	// Multi-character operators (check before single-char)
	if tok, ok := l.scanMultiCharOp(start); ok {
		return tok, nil
	}

	l.advance()

	switch r {
	case '.':
		return l.token(TokenDot, start), nil
	case ':':
		return l.token(TokenColon, start), nil
	case ',':
		return l.token(TokenComma, start), nil
	case ';':
		return l.token(TokenSemi, start), nil
	case '(':
		return l.token(TokenLParen, start), nil
	case ')':
		return l.token(TokenRParen, start), nil
	case '[':
		return l.token(TokenLBracket, start), nil
	case ']':
		return l.token(TokenRBracket, start), nil
	case '{':
		return l.token(TokenLBrace, start), nil
	case '}':
		return l.token(TokenRBrace, start), nil
	}

	if strings.ContainsRune("+-*/%^<>=|", r) {
		return l.token(TokenOp, start), nil
	}

	if r < ' ' || r == utf8.RuneError {
		return lexer.Token{}, ErrDisallowedCharacter.withSpan(spanAt(start, 1)).withChar(r)
	}

	return lexer.Token{}, ErrUnexpectedCharacter.withSpan(spanAt(start, 1)).withChar(r)
}

func (l *lexerState) pos() lexer.Position {
	return lexer.Position{
		Filename: l.filename,
		Offset:   l.offset,
		Line:     l.line,
		Column:   l.col,
	}
}

func (l *lexerState) eof() bool {
	return l.offset >= len(l.input)
}

func (l *lexerState) peek() rune {
	if l.eof() {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.offset:])

	return r
}

func (l *lexerState) peekAt(n int) rune {
	off := l.offset + n
	if off >= len(l.input) {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(l.input[off:])

	return r
}

func (l *lexerState) advance() rune {
	if l.eof() {
		return 0
	}

	r, size := utf8.DecodeRuneInString(l.input[l.offset:])
	l.offset += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}

	return r
}

func (l *lexerState) match(s string) bool {
	return strings.HasPrefix(l.input[l.offset:], s)
}

func (l *lexerState) token(typ lexer.TokenType, start lexer.Position) lexer.Token {
	return lexer.Token{
		Type:  typ,
		Value: l.input[start.Offset:l.offset],
		Pos:   start,
	}
}

func (l *lexerState) scanQuotedIdent(start lexer.Position) (lexer.Token, error) {
	l.advance() // opening backtick

	nameStart := l.offset

	for !l.eof() {
		if l.peek() == '`' {
			name := l.input[nameStart:l.offset]
			l.advance() // closing backtick

			return lexer.Token{Type: TokenQuotedIdent, Value: name, Pos: start}, nil
		}

		l.advance()
	}

	return lexer.Token{}, ErrUnterminatedIdent.withSpan(Span{Start: start, End: l.pos()})
}

func (l *lexerState) scanString(start lexer.Position, quote rune) (lexer.Token, error) {
	l.advance() // opening quote

	for !l.eof() {
		ch := l.peek()
		if ch == '\\' {
			if l.peekAt(1) == 0 {
				return lexer.Token{}, errIncompleteEscape.withSpan(Span{Start: start, End: l.pos()})
			}

			l.advance() // backslash
			l.advance() // escaped char

			continue
		}

		if ch == quote {
			l.advance() // closing quote

			return l.token(TokenString, start), nil
		}

		l.advance()
	}

	return lexer.Token{}, ErrUnterminatedString.withSpan(Span{Start: start, End: l.pos()})
}

func (l *lexerState) scanParameter(start lexer.Position) (lexer.Token, error) {
	l.advance() // $

	nameStart := l.offset
	for !l.eof() && isIdentContinue(l.peek()) {
		l.advance()
	}

	if l.offset == nameStart {
		return lexer.Token{}, ErrEmptyParameter.withSpan(spanAt(start, 1))
	}

	return lexer.Token{Type: TokenParam, Value: l.input[nameStart:l.offset], Pos: start}, nil
}

func (l *lexerState) scanMultiCharOp(start lexer.Position) (lexer.Token, bool) {
	// <- and -> are deliberately absent: pattern arrows are sequenced by the
	// grammar from single-character tokens so that `a < -1` lexes correctly.
	multiOps := []string{"<>", "<=", ">=", ".."}

	for _, op := range multiOps {
		if l.match(op) {
			for range len(op) {
				l.advance()
			}

			return l.token(TokenOp, start), true
		}
	}

	return lexer.Token{}, false
}

func (l *lexerState) scanNumber(start lexer.Position) (lexer.Token, error) {
	isFloat := false

	for !l.eof() && isDigit(l.peek()) {
		l.advance()
	}

	// Fractional part. A second dot is range punctuation (`1..3`), not a
	// fraction, so the dot is consumed only when a digit follows it.
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true

		l.advance() // .

		for !l.eof() && isDigit(l.peek()) {
			l.advance()
		}
	}

	// Exponent
	if l.peek() == 'e' || l.peek() == 'E' {
		isFloat = true

		l.advance()

		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}

		if !isDigit(l.peek()) {
			return lexer.Token{}, ErrMalformedNumber.withSpan(Span{Start: start, End: l.pos()})
		}

		for !l.eof() && isDigit(l.peek()) {
			l.advance()
		}
	}

	if isFloat {
		return l.token(TokenFloat, start), nil
	}

	return l.token(TokenInt, start), nil
}

// unquoteString interprets a quoted Cypher string literal, resolving the
// standard escapes. The input includes its surrounding quotes, which may be
// single or double.
func unquoteString(raw string) (string, error) {
	if len(raw) < 2 {
		return "", ErrUnterminatedString
	}

	body := raw[1 : len(raw)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}

	var out strings.Builder

	out.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out.WriteByte(c)

			continue
		}

		i++
		if i >= len(body) {
			return "", errIncompleteEscape
		}

		switch body[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case '\\', '\'', '"', '`':
			out.WriteByte(body[i])
		case 'u':
			if i+4 >= len(body) {
				return "", errIncompleteEscape
			}

			var code rune

			for _, h := range body[i+1 : i+5] {
				d := hexValue(h)
				if d < 0 {
					return "", errUnknownEscapeSequence
				}

				code = code<<4 | rune(d)
			}

			out.WriteRune(code)

			i += 4
		default:
			return "", errUnknownEscapeSequence
		}
	}

	return out.String(), nil
}

// Character helpers.

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func hexValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	}

	return -1
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
