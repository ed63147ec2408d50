package cypher

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Span marks a contiguous region of source text.
type Span struct {
	Start lexer.Position
	End   lexer.Position
}

func spanAt(start lexer.Position, length int) Span {
	end := start
	end.Offset += length
	end.Column += length

	return Span{Start: start, End: end}
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
}

// Diagnostic is the stage-independent error shape surfaced at the public
// boundary. Kind is one of the closed set: "lex", "parse", "lower", "emit",
// optionally qualified by a lower-error subtype ("lower/unknown-variable").
type Diagnostic struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Diagnoser is implemented by every error the translation pipeline returns.
type Diagnoser interface {
	error
	Diagnostic() Diagnostic
	Spanned() Span
}

func diagnostic(kind, message string, span Span) Diagnostic {
	return Diagnostic{
		Kind:        kind,
		Message:     message,
		Line:        span.Start.Line,
		Column:      span.Start.Column,
		StartOffset: span.Start.Offset,
		EndOffset:   span.End.Offset,
	}
}

// LexError reports a malformed token.
type LexError struct {
	Msg  string
	Span Span
	Ch   rune
}

func (e *LexError) Error() string {
	if e.Ch != 0 {
		return fmt.Sprintf("%s: %s: %q", e.Span, e.Msg, e.Ch)
	}

	return fmt.Sprintf("%s: %s", e.Span, e.Msg)
}

func (e *LexError) Diagnostic() Diagnostic {
	return diagnostic("lex", e.Msg, e.Span)
}

func (e *LexError) Spanned() Span { return e.Span }

func (e *LexError) withSpan(span Span) *LexError {
	return &LexError{Msg: e.Msg, Span: span, Ch: e.Ch}
}

func (e *LexError) withChar(ch rune) *LexError {
	return &LexError{Msg: e.Msg, Span: e.Span, Ch: ch}
}

// ParseError reports a grammar violation at a specific token.
type ParseError struct {
	Msg      string
	Span     Span
	Expected []string
}

func (e *ParseError) Error() string {
	if len(e.Expected) > 0 {
		return fmt.Sprintf("%s: %s (expected %s)", e.Span, e.Msg, strings.Join(e.Expected, ", "))
	}

	return fmt.Sprintf("%s: %s", e.Span, e.Msg)
}

func (e *ParseError) Diagnostic() Diagnostic {
	return diagnostic("parse", e.Msg, e.Span)
}

func (e *ParseError) Spanned() Span { return e.Span }

// LowerErrorKind enumerates the semantic faults lowering can detect.
type LowerErrorKind int

const (
	UnknownVariable LowerErrorKind = iota
	VariableKindConflict
	InvalidPropertyAccess
	NestedAggregate
	UnsupportedConstruct
)

func (k LowerErrorKind) String() string {
	switch k {
	case UnknownVariable:
		return "unknown-variable"
	case VariableKindConflict:
		return "variable-kind-conflict"
	case InvalidPropertyAccess:
		return "invalid-property-access"
	case NestedAggregate:
		return "nested-aggregate"
	case UnsupportedConstruct:
		return "unsupported-construct"
	}

	return "unknown"
}

// LowerError reports well-formed syntax with a semantic fault. Related, when
// set, points at an earlier construct the fault conflicts with (e.g. the
// first binding of a variable rebound to a different kind).
type LowerError struct {
	Kind    LowerErrorKind
	Msg     string
	Span    Span
	Related *Span
}

func (e *LowerError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Span, e.Kind, e.Msg)
}

func (e *LowerError) Diagnostic() Diagnostic {
	return diagnostic("lower/"+e.Kind.String(), e.Msg, e.Span)
}

func (e *LowerError) Spanned() Span { return e.Span }

// EmitError reports an AST construct the emitter cannot translate. These are
// programmer errors surfaced to the caller, never retried.
type EmitError struct {
	Msg  string
	Span Span
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("%s: cannot emit: %s", e.Span, e.Msg)
}

func (e *EmitError) Diagnostic() Diagnostic {
	return diagnostic("emit", e.Msg, e.Span)
}

func (e *EmitError) Spanned() Span { return e.Span }

func lowerErr(kind LowerErrorKind, span Span, format string, args ...any) *LowerError {
	return &LowerError{Kind: kind, Msg: fmt.Sprintf(format, args...), Span: span}
}

func emitErr(span Span, format string, args ...any) *EmitError {
	return &EmitError{Msg: fmt.Sprintf(format, args...), Span: span}
}
