package cypher

import (
	"errors"
	"testing"

	"github.com/alecthomas/participle/v2/lexer"
)

type tokenExpect struct {
	typ lexer.TokenType
	val string
}

func lexTokens(t *testing.T, input string) []tokenExpect {
	t.Helper()

	lex, err := cypherLexer.LexString("", input)
	if err != nil {
		t.Fatalf("LexString() error: %v", err)
	}

	var tokens []tokenExpect

	for {
		tok, err := lex.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}

		if tok.EOF() {
			break
		}

		if tok.Type == TokenWhitespace || tok.Type == TokenComment {
			continue
		}

		tokens = append(tokens, tokenExpect{typ: tok.Type, val: tok.Value})
	}

	return tokens
}

func lexError(t *testing.T, input string) error {
	t.Helper()

	lex, err := cypherLexer.LexString("", input)
	if err != nil {
		t.Fatalf("LexString() error: %v", err)
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

func TestLexer_Symbols(t *testing.T) {
	t.Parallel()

	symbols := cypherLexer.Symbols()

	expected := []string{
		"EOF", "Comment", "String", "Int", "Float", "Param", "Ident",
		"QuotedIdent", "Op", "Dot", "Colon", "Comma", "Semi", "Whitespace",
		"(", ")", "[", "]", "{", "}",
	}

	for _, name := range expected {
		if _, ok := symbols[name]; !ok {
			t.Errorf("missing symbol: %s", name)
		}
	}
}

func TestLexer_MatchReturn(t *testing.T) {
	t.Parallel()

	got := lexTokens(t, "MATCH (n:User) RETURN n.name")

	want := []tokenExpect{
		{TokenIdent, "MATCH"},
		{TokenLParen, "("},
		{TokenIdent, "n"},
		{TokenColon, ":"},
		{TokenIdent, "User"},
		{TokenRParen, ")"},
		{TokenIdent, "RETURN"},
		{TokenIdent, "n"},
		{TokenDot, "."},
		{TokenIdent, "name"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(got), len(want), got)
	}

	for i, w := range want {
		if got[i] != w {
			t.Errorf("token %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestLexer_Arrows(t *testing.T) {
	t.Parallel()

	// Arrowheads stay single-character tokens so `a < -1` never lexes <-
	got := lexTokens(t, "<- -> -- < -1 <= >= <>")

	want := []tokenExpect{
		{TokenOp, "<"}, {TokenOp, "-"},
		{TokenOp, "-"}, {TokenOp, ">"},
		{TokenOp, "-"}, {TokenOp, "-"},
		{TokenOp, "<"}, {TokenOp, "-"}, {TokenInt, "1"},
		{TokenOp, "<="}, {TokenOp, ">="}, {TokenOp, "<>"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(got), len(want), got)
	}

	for i, w := range want {
		if got[i] != w {
			t.Errorf("token %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestLexer_Numbers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []tokenExpect
	}{
		{"42", []tokenExpect{{TokenInt, "42"}}},
		{"3.14", []tokenExpect{{TokenFloat, "3.14"}}},
		{"1e10", []tokenExpect{{TokenFloat, "1e10"}}},
		{"2.5e-3", []tokenExpect{{TokenFloat, "2.5e-3"}}},
		// A second dot is range punctuation, not a fraction.
		{"1..3", []tokenExpect{{TokenInt, "1"}, {TokenOp, ".."}, {TokenInt, "3"}}},
	}

	for _, tt := range tests {
		got := lexTokens(t, tt.input)

		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.input, got, tt.want)

			continue
		}

		for i, w := range tt.want {
			if got[i] != w {
				t.Errorf("%q token %d = %+v, want %+v", tt.input, i, got[i], w)
			}
		}
	}
}

func TestLexer_Strings(t *testing.T) {
	t.Parallel()

	got := lexTokens(t, `'single' "double" 'it\'s'`)
	if len(got) != 3 {
		t.Fatalf("got %d tokens: %v", len(got), got)
	}

	for i, tok := range got {
		if tok.typ != TokenString {
			t.Errorf("token %d type = %d, want String", i, tok.typ)
		}
	}

	if got[0].val != "'single'" {
		t.Errorf("raw lexeme = %q, want quotes preserved", got[0].val)
	}
}

func TestLexer_ParamAndQuotedIdent(t *testing.T) {
	t.Parallel()

	got := lexTokens(t, "$email `weird name`")

	want := []tokenExpect{
		{TokenParam, "email"},
		{TokenQuotedIdent, "weird name"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}

	for i, w := range want {
		if got[i] != w {
			t.Errorf("token %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestLexer_Comments(t *testing.T) {
	t.Parallel()

	got := lexTokens(t, "a // line comment\n/* block\ncomment */ b")

	want := []tokenExpect{
		{TokenIdent, "a"},
		{TokenIdent, "b"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
}

func TestLexer_Positions(t *testing.T) {
	t.Parallel()

	lex, err := cypherLexer.LexString("", "MATCH\n  (n)")
	if err != nil {
		t.Fatal(err)
	}

	tok, _ := lex.Next() // MATCH
	if tok.Pos.Line != 1 || tok.Pos.Column != 1 || tok.Pos.Offset != 0 {
		t.Errorf("MATCH pos = %+v", tok.Pos)
	}

	tok, _ = lex.Next() // whitespace
	if tok.Type != TokenWhitespace {
		t.Fatalf("expected whitespace, got %v", tok)
	}

	tok, _ = lex.Next() // (
	if tok.Pos.Line != 2 || tok.Pos.Column != 3 || tok.Pos.Offset != 8 {
		t.Errorf("( pos = %+v", tok.Pos)
	}
}

func TestLexer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"unterminated string", "'abc"},
		{"unterminated backtick", "`abc"},
		{"unterminated block comment", "/* abc"},
		{"bare param sigil", "$ x"},
		{"malformed exponent", "1e+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := lexError(t, tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}

			var lexErr *LexError
			if !errors.As(err, &lexErr) {
				t.Fatalf("expected *LexError, got %T", err)
			}
		})
	}
}

func TestUnquoteString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{`'plain'`, "plain"},
		{`"double"`, "double"},
		{`'a\nb'`, "a\nb"},
		{`'a\tb'`, "a\tb"},
		{`'it\'s'`, "it's"},
		{`'A'`, "A"},
	}

	for _, tt := range tests {
		got, err := unquoteString(tt.raw)
		if err != nil {
			t.Errorf("unquoteString(%q) error: %v", tt.raw, err)

			continue
		}

		if got != tt.want {
			t.Errorf("unquoteString(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
