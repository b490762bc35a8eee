package pql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/schema"
)

const groupDoc = `
select:
  - {column: g}
  - {column: y, aggFunc: sum, as: total}
from: t
group:
  - {column: g}
`

func TestCompileYAML(t *testing.T) {
	pipeline, err := Compile([]byte(groupDoc))
	require.NoError(t, err)

	want := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "g", Value: "$g"}}},
			{Key: "total", Value: bson.M{"$sum": "$y"}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "g", Value: "$_id.g"},
			{Key: "total", Value: "$total"},
		}}},
	}
	assert.Equal(t, want, pipeline)
}

func TestParseJSON(t *testing.T) {
	q, err := Parse([]byte(`{"select":[{"column":"x"}],"from":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "a", q.From)
	require.Len(t, q.Select, 1)
}

func TestCompileReportsErrors(t *testing.T) {
	_, err := Compile([]byte(`{"select":[{"table":"b","column":"x"}],"from":"a"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedReference)

	_, err = Compile([]byte(`{"select":`))
	assert.Error(t, err)
}

func TestCast(t *testing.T) {
	res := Cast(schema.KindColumn, map[string]any{"table": "a", "column": "x", "extra": 1})
	require.True(t, res.OK)
	assert.Equal(t, &models.Column{Table: "a", Column: "x"}, res.Value)

	res = Cast(schema.KindColumn, "x")
	assert.False(t, res.OK)
	assert.Nil(t, res.Value)
	require.NotNil(t, res.Err)
	assert.Equal(t, models.CodeSchemaMismatch, res.Err.Code)
}
