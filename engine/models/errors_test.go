package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileErrorMessage(t *testing.T) {
	err := NewError(CodeUnresolvedReference, "select[1].table", "unknown table %q", "custmers").
		WithSuggestion("custmers", []string{"orders", "customers"})

	assert.Equal(t, "select", err.Clause)
	assert.Equal(t, "customers", err.Suggestion)
	assert.Equal(t,
		`unresolved_reference at select[1].table: unknown table "custmers". Did you mean 'customers'?`,
		err.Error())

	root := NewError(CodeSchemaMismatch, "", "query is nil")
	assert.Equal(t, "", root.Clause)
	assert.Equal(t, "schema_mismatch: query is nil", root.Error())
}

func TestCompileErrorIs(t *testing.T) {
	err := fmt.Errorf("compile error: %w", NewError(CodeDuplicateAlias, "select[2].as", "duplicate %q", "x"))

	assert.True(t, errors.Is(err, ErrDuplicateAlias))
	assert.True(t, IsDuplicateAliasErr(err))
	assert.False(t, IsSchemaMismatchErr(err))
	assert.False(t, IsUnresolvedReferenceErr(errors.New("plain")))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "where", JoinPath("", "where"))
	assert.Equal(t, "join[0].subQuery", JoinPath(IndexPath("join", 0), "subQuery"))
	assert.Equal(t, "where[1][0]", IndexPath(IndexPath("where", 1), 0))
	assert.Equal(t, "unionWith", clauseOf("unionWith[3].query.from"))
}

func TestSuggestSimilar(t *testing.T) {
	candidates := []string{"orders", "customers", "regions"}

	assert.Equal(t, "orders", SuggestSimilar("ordrs", candidates))
	assert.Equal(t, "regions", SuggestSimilar("REGION", candidates))
	assert.Equal(t, "", SuggestSimilar("inventory", candidates))
	assert.Equal(t, "", SuggestSimilar("orders", []string{"orders"}))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
