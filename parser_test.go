package cypher

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, source string) *cstStatement {
	t.Helper()

	stmt, err := parseStatement(source)
	if err != nil {
		t.Fatalf("parseStatement(%q) error: %v", source, err)
	}

	return stmt
}

func TestParse_SimpleMatch(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, "MATCH (n:User) RETURN n.name")

	if len(stmt.Clauses) != 2 {
		t.Fatalf("got %d clauses, want 2", len(stmt.Clauses))
	}

	m := stmt.Clauses[0].Match
	if m == nil {
		t.Fatal("first clause is not a MATCH")
	}

	if m.Optional {
		t.Error("MATCH marked optional")
	}

	head := m.Patterns[0].Head
	if head.Variable == nil || *head.Variable != "n" {
		t.Errorf("head variable = %v", head.Variable)
	}

	if len(head.Labels) != 1 || head.Labels[0] != "User" {
		t.Errorf("head labels = %v", head.Labels)
	}

	if stmt.Clauses[1].Return == nil {
		t.Fatal("second clause is not a RETURN")
	}
}

func TestParse_CaseInsensitiveKeywords(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, "match (n) return n")

	if stmt.Clauses[0].Match == nil || stmt.Clauses[1].Return == nil {
		t.Fatal("lowercase keywords not recognized")
	}
}

func TestParse_RelationshipForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		left  bool
		right bool
		types []string
	}{
		{"MATCH (a)-[:T]->(b) RETURN a", false, true, []string{"T"}},
		{"MATCH (a)<-[:T]-(b) RETURN a", true, false, []string{"T"}},
		{"MATCH (a)-[:T]-(b) RETURN a", false, false, []string{"T"}},
		{"MATCH (a)--(b) RETURN a", false, false, nil},
		{"MATCH (a)-->(b) RETURN a", false, true, nil},
		{"MATCH (a)<--(b) RETURN a", true, false, nil},
		{"MATCH (a)-[:X|Y]->(b) RETURN a", false, true, []string{"X", "Y"}},
	}

	for _, tt := range tests {
		stmt := mustParse(t, tt.input)
		rel := stmt.Clauses[0].Match.Patterns[0].Chain[0].Rel

		if rel.Left != tt.left || rel.Right != tt.right {
			t.Errorf("%q: left/right = %v/%v, want %v/%v", tt.input, rel.Left, rel.Right, tt.left, tt.right)
		}

		var types []string
		if rel.Body != nil {
			types = rel.Body.Types
		}

		if len(types) != len(tt.types) {
			t.Errorf("%q: types = %v, want %v", tt.input, types, tt.types)

			continue
		}

		for i := range types {
			if types[i] != tt.types[i] {
				t.Errorf("%q: types = %v, want %v", tt.input, types, tt.types)
			}
		}
	}
}

func TestParse_VariableLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		min, max *int64
		dots     bool
	}{
		{"MATCH (a)-[:T*]->(b) RETURN a", nil, nil, false},
		{"MATCH (a)-[:T*2]->(b) RETURN a", i64(2), nil, false},
		{"MATCH (a)-[:T*1..3]->(b) RETURN a", i64(1), i64(3), true},
		{"MATCH (a)-[:T*..3]->(b) RETURN a", nil, i64(3), true},
		{"MATCH (a)-[:T*2..]->(b) RETURN a", i64(2), nil, true},
	}

	for _, tt := range tests {
		stmt := mustParse(t, tt.input)

		length := stmt.Clauses[0].Match.Patterns[0].Chain[0].Rel.Body.Length
		if length == nil {
			t.Errorf("%q: no length parsed", tt.input)

			continue
		}

		if !eqInt64(length.Min, tt.min) || !eqInt64(length.Max, tt.max) {
			t.Errorf("%q: min/max = %v/%v, want %v/%v",
				tt.input, deref(length.Min), deref(length.Max), deref(tt.min), deref(tt.max))
		}

		if length.Dots != tt.dots {
			t.Errorf("%q: dots = %v, want %v", tt.input, length.Dots, tt.dots)
		}
	}
}

func TestParse_PropertiesAndParams(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, `MATCH (u:User {email: $email, age: 30}) RETURN u`)

	props := stmt.Clauses[0].Match.Patterns[0].Head.Props
	if props == nil || len(props.Entries) != 2 {
		t.Fatalf("props = %+v", props)
	}

	if props.Entries[0].Key != "email" {
		t.Errorf("first key = %q", props.Entries[0].Key)
	}
}

func TestParse_WhereExistsAndCase(t *testing.T) {
	t.Parallel()

	mustParse(t, `MATCH (u:User)
		WHERE EXISTS { MATCH (u)-[:POSTED]->(:Post) }
		RETURN CASE WHEN u.age > 18 THEN 'adult' ELSE 'minor' END`)
}

func TestParse_WithOrderSkipLimit(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, `MATCH (u:User)
		WITH u.name AS name, COUNT(u) AS total
		RETURN name ORDER BY total DESC, name ASC SKIP 5 LIMIT 10`)

	w := stmt.Clauses[1].With
	if w == nil {
		t.Fatal("second clause is not WITH")
	}

	if len(w.Items) != 2 {
		t.Errorf("WITH items = %d", len(w.Items))
	}

	r := stmt.Clauses[2].Return
	if len(r.Order) != 2 {
		t.Errorf("ORDER BY items = %d", len(r.Order))
	}

	if r.Skip == nil || r.Limit == nil {
		t.Error("SKIP/LIMIT not parsed")
	}
}

func TestParse_ReturnStarDistinct(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, "MATCH (a)-[r:T]->(b) RETURN DISTINCT *")

	r := stmt.Clauses[1].Return
	if !r.Distinct || !r.Star {
		t.Errorf("distinct/star = %v/%v", r.Distinct, r.Star)
	}
}

func TestParse_UnsupportedClauseCaptured(t *testing.T) {
	t.Parallel()

	stmt := mustParse(t, "CREATE (n:User)")

	bad := stmt.Clauses[0].Unsupported
	if bad == nil {
		t.Fatal("CREATE not captured as unsupported clause")
	}

	if bad.Keyword != "CREATE" {
		t.Errorf("keyword = %q", bad.Keyword)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   \n\t"},
		{"unclosed paren", "MATCH (n RETURN n"},
		{"bare where", "WHERE true RETURN 1"},
		{"two statements", "MATCH (n) RETURN n; MATCH (m) RETURN m"},
		{"map projection", "MATCH (n) RETURN n {.a, .b}"},
		{"list comprehension", "MATCH (n) RETURN [x IN n.xs | x]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseStatement(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}

			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	t.Parallel()

	_, err := parseStatement("MATCH (n) RETURN n )")

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}

	if parseErr.Span.Start.Line != 1 {
		t.Errorf("error line = %d", parseErr.Span.Start.Line)
	}
}

func i64(v int64) *int64 { return &v }

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func deref(v *int64) any {
	if v == nil {
		return nil
	}

	return *v
}
