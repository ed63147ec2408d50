package cypher_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cypher "github.com/pgraf/go-cypher"
)

// golden returns the golden-file comparer for translated SQL.
func golden(t *testing.T) *goldie.Goldie {
	t.Helper()

	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".sql"),
	)
}

func translate(t *testing.T, source string) (string, *cypher.Params) {
	t.Helper()

	sql, params, err := cypher.Translate(source)
	require.NoError(t, err)

	return sql, params
}

func TestTranslate_Golden(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
	}{
		{"s1_node_scan", "MATCH (n:User) RETURN n.name LIMIT 5"},
		{"s2_single_hop", "MATCH (a:User)-[:FOLLOWS]->(b:User) RETURN a.name, b.name"},
		{"s3_count", "MATCH (u:User) WHERE u.age > 25 RETURN COUNT(u)"},
		{"s4_exists", "MATCH (u:User) WHERE EXISTS { MATCH (u)-[:POSTED]->(:Post) } RETURN u.name"},
		{"s5_variable_length", "MATCH (a:User)-[:FOLLOWS*1..3]->(b:User) RETURN DISTINCT b.name"},
		{"optional_match", "MATCH (a:User) OPTIONAL MATCH (a)-[:FOLLOWS]->(b) RETURN a.name, b.name"},
		{"with_where", "MATCH (u:User) WITH u.name AS name WHERE name <> 'x' RETURN name"},
		{"group_by", "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN u.name, COUNT(f) ORDER BY COUNT(f) DESC"},
		{"parameters", "MATCH (u:User {email: $email}) WHERE u.age > $min RETURN u"},
		{"undirected", "MATCH (a:Person)-[r:KNOWS]-(b:Person) RETURN a.name, b.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sql, _ := translate(t, tt.source)
			golden(t).Assert(t, tt.name, []byte(sql+"\n"))
		})
	}
}

func TestTranslate_Deterministic(t *testing.T) {
	t.Parallel()

	source := `MATCH (a:User {email: $email})-[:FOLLOWS*1..3]->(b:User)
		WHERE b.age > 21 AND EXISTS { MATCH (b)-[:POSTED]->(:Post) }
		RETURN DISTINCT b.name ORDER BY b.name LIMIT 10`

	first, params1, err := cypher.Translate(source)
	require.NoError(t, err)

	second, params2, err := cypher.Translate(source)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, params1.Positions(), params2.Positions())
}

func TestTranslate_PlaceholdersMatchParams(t *testing.T) {
	t.Parallel()

	sql, params := translate(t, `MATCH (u:User {email: $email})
		WHERE u.age > $min AND u.age < $max
		RETURN u SKIP $min LIMIT $max`)

	require.Equal(t, 3, params.Len())
	assert.Equal(t, []string{"email", "min", "max"}, params.Names())

	positions := params.Positions()
	for name, pos := range positions {
		assert.Contains(t, sql, fmt.Sprintf("$%d", pos), "placeholder for %s missing", name)
	}

	// No placeholder beyond the registered ones.
	assert.NotContains(t, sql, "$4")
}

func TestTranslate_RepeatedParameterSharesPlaceholder(t *testing.T) {
	t.Parallel()

	sql, params := translate(t, "MATCH (u:User) WHERE u.a = $v AND u.b = $v RETURN u")

	require.Equal(t, 1, params.Len())
	assert.Equal(t, 2, strings.Count(sql, "$1"))
}

func TestTranslate_LabelPredicateShape(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (n:User:Admin) RETURN n")

	assert.Contains(t, sql, "'User' = ANY(n_0.labels)")
	assert.Contains(t, sql, "'Admin' = ANY(n_0.labels)")
}

func TestTranslate_JoinShape(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (a)-[:T]->(b) RETURN a")

	assert.Contains(t, sql, "a_0.id = e_0.source")
	assert.Contains(t, sql, "e_0.target = b_0.id")
}

func TestTranslate_ReversedPatternJoinsSwapped(t *testing.T) {
	t.Parallel()

	// (a)<-[:T]-(b) is equivalent to (b)-[:T]->(a).
	sql, _ := translate(t, "MATCH (a)<-[:T]-(b) RETURN a")

	assert.Contains(t, sql, "b_0.id = e_0.source")
	assert.Contains(t, sql, "e_0.target = a_0.id")
}

func TestTranslate_DefaultDepthCap(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (a)-[:T*]->(b) RETURN a")

	assert.Contains(t, sql, "WITH RECURSIVE traverse_0")
	assert.Contains(t, sql, "t.depth < 10")
	assert.Contains(t, sql, "t_0.depth <= 10")
	assert.Contains(t, sql, "NOT e.target = ANY(t.path)")
}

func TestTranslate_DepthCapOption(t *testing.T) {
	t.Parallel()

	sql, _, err := cypher.New(cypher.Options{MaxPathDepth: 4}).
		Translate("MATCH (a)-[:T*2..]->(b) RETURN a")
	require.NoError(t, err)

	assert.Contains(t, sql, "t.depth < 4")
	assert.Contains(t, sql, "t_0.depth >= 2")
	assert.Contains(t, sql, "t_0.depth <= 4")
}

func TestTranslate_SchemaOption(t *testing.T) {
	t.Parallel()

	sql, _, err := cypher.New(cypher.Options{Schema: "graph"}).
		Translate("MATCH (a)-[:T]->(b) RETURN a")
	require.NoError(t, err)

	assert.Contains(t, sql, "graph.nodes AS a_0")
	assert.Contains(t, sql, "graph.edges AS e_0")
	assert.NotContains(t, sql, "pgraf.")
}

func TestTranslate_StringOperators(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, `MATCH (u:User)
		WHERE u.name CONTAINS 'oo' AND u.email STARTS WITH $prefix AND u.slug ENDS WITH '-x'
		RETURN u`)

	assert.Contains(t, sql, "u_0.properties->>'name' LIKE '%oo%'")
	assert.Contains(t, sql, "u_0.properties->>'email' LIKE $1 || '%'")
	assert.Contains(t, sql, "u_0.properties->>'slug' LIKE '%-x'")
}

func TestTranslate_InOperator(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, `MATCH (u:User)
		WHERE u.status IN ['active', 'trial'] AND u.id IN $ids
		RETURN u`)

	assert.Contains(t, sql, "u_0.properties->>'status' IN ('active', 'trial')")
	assert.Contains(t, sql, " = ANY($1)")
}

func TestTranslate_NullChecks(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u) WHERE u.deleted_at IS NULL AND u.name IS NOT NULL RETURN u")

	assert.Contains(t, sql, "u_0.properties->>'deleted_at' IS NULL")
	assert.Contains(t, sql, "u_0.properties->>'name' IS NOT NULL")
}

func TestTranslate_LabelTestInWhere(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u) WHERE u:Admin RETURN u")

	assert.Contains(t, sql, "'Admin' = ANY(u_0.labels)")
}

func TestTranslate_BooleanCoercion(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u) WHERE u.active = true RETURN u")

	assert.Contains(t, sql, "(u_0.properties->>'active')::boolean = TRUE")
}

func TestTranslate_MultiTypeRelationship(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (a)-[:LIKES|FOLLOWS]->(b) RETURN a")

	assert.Contains(t, sql, "('LIKES' = ANY(e_0.labels) OR 'FOLLOWS' = ANY(e_0.labels))")
}

func TestTranslate_Unwind(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "UNWIND $ids AS id MATCH (u:User) WHERE u.id = id RETURN u")

	assert.Contains(t, sql, "unnest($1) AS id_0(value)")
	assert.Contains(t, sql, "u_0.properties->>'id' = id_0.value")
}

func TestTranslate_GroupByInference(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u:User) RETURN u.city, u.country, COUNT(u)")

	assert.Contains(t, sql, "GROUP BY u_0.properties->>'city', u_0.properties->>'country'")

	// An aggregate-only projection has no GROUP BY.
	sql, _ = translate(t, "MATCH (u:User) RETURN COUNT(u)")
	assert.NotContains(t, sql, "GROUP BY")
}

func TestTranslate_CollectAndSum(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u:User) RETURN COLLECT(u.name), SUM(u.age), COUNT(DISTINCT u)")

	assert.Contains(t, sql, "array_agg(u_0.properties->>'name')")
	assert.Contains(t, sql, "SUM((u_0.properties->>'age')::numeric)")
	assert.Contains(t, sql, "COUNT(DISTINCT u_0.id)")
}

func TestTranslate_AliasReuseAcrossMatches(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (a:User) MATCH (a)-[:T]->(b) RETURN b")

	// The second occurrence of a reuses the alias instead of re-joining.
	assert.Equal(t, 1, strings.Count(sql, "nodes AS a_0"))
	assert.Contains(t, sql, "a_0.id = e_0.source")
}

func TestTranslate_ErrorTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		check  func(t *testing.T, err error)
	}{
		{"MATCH (n:'User') RETURN n", func(t *testing.T, err error) {
			var parseErr *cypher.ParseError
			require.ErrorAs(t, err, &parseErr)
		}},
		{"MATCH (n RETURN n", func(t *testing.T, err error) {
			var parseErr *cypher.ParseError
			require.ErrorAs(t, err, &parseErr)
		}},
		{"MATCH (n) RETURN 'oops", func(t *testing.T, err error) {
			var lexErr *cypher.LexError
			require.ErrorAs(t, err, &lexErr)
		}},
		{"CREATE (n:User)", func(t *testing.T, err error) {
			var lowErr *cypher.LowerError
			require.ErrorAs(t, err, &lowErr)
			assert.Equal(t, cypher.UnsupportedConstruct, lowErr.Kind)
		}},
		{"MATCH (u) RETURN shaZam(u)", func(t *testing.T, err error) {
			var emitErr *cypher.EmitError
			require.ErrorAs(t, err, &emitErr)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			t.Parallel()

			_, _, err := cypher.Translate(tt.source)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTranslate_DiagnosticWireFormat(t *testing.T) {
	t.Parallel()

	_, _, err := cypher.Translate("CREATE (n:User)")
	require.Error(t, err)

	diag, ok := err.(cypher.Diagnoser)
	require.True(t, ok)

	d := diag.Diagnostic()
	assert.Equal(t, "lower/unsupported-construct", d.Kind)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, 1, d.Column)
	assert.Equal(t, 0, d.StartOffset)
	assert.Equal(t, 6, d.EndOffset)
	assert.NotEmpty(t, d.Message)
}

func TestTranslate_CaseExpression(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, `MATCH (u:User)
		RETURN CASE WHEN u.age >= 18 THEN 'adult' ELSE 'minor' END AS bracket`)

	assert.Contains(t, sql, "CASE WHEN (u_0.properties->>'age')::numeric >= 18 THEN 'adult' ELSE 'minor' END AS bracket")
}

func TestTranslate_FunctionMapping(t *testing.T) {
	t.Parallel()

	sql, _ := translate(t, "MATCH (u:User) RETURN toUpper(u.name), coalesce(u.nick, u.name), id(u)")

	assert.Contains(t, sql, "upper(u_0.properties->>'name')")
	assert.Contains(t, sql, "coalesce(u_0.properties->>'nick', u_0.properties->>'name')")
	assert.Contains(t, sql, "u_0.id")
}

func TestParams_Args(t *testing.T) {
	t.Parallel()

	_, params := translate(t, "MATCH (u) WHERE u.a = $a AND u.b = $b RETURN u")

	args, err := params.Args(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two"}, args)

	_, err = params.Args(map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$b")
}
