package mongodb

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/models"
)

// columnFields resolves every column to its bare name, or table.column for
// the joined table "c".
type columnFields struct{}

func (columnFields) Field(col *models.Column, path string) (string, error) {
	switch col.Table {
	case "", "root":
		return col.Column, nil
	case "c":
		return "c." + col.Column, nil
	}
	return "", models.NewError(models.CodeUnresolvedReference, path, "unknown table %q", col.Table)
}

func newBuilder() *ExpressionBuilder {
	return &ExpressionBuilder{Fields: columnFields{}}
}

func TestBuildFilter(t *testing.T) {
	a, b, c := bson.M{"a": 1}, bson.M{"b": 1}, bson.M{"c": 1}

	assert.Nil(t, BuildFilter(nil))
	assert.Nil(t, BuildFilter([][]interface{}{{a}, {}}))
	assert.Equal(t, a, BuildFilter([][]interface{}{{a}}))
	assert.Equal(t, bson.M{"$and": bson.A{a, b}}, BuildFilter([][]interface{}{{a, b}}))
	assert.Equal(t,
		bson.M{"$or": bson.A{bson.M{"$and": bson.A{a, b}}, c}},
		BuildFilter([][]interface{}{{a, b}, {c}}))
}

func TestParseMongoValue(t *testing.T) {
	assert.Equal(t, int64(3), ParseMongoValue(models.Value{V: float64(3)}))
	assert.Equal(t, 2.5, ParseMongoValue(models.Value{V: 2.5}))
	assert.Equal(t, "paid", ParseMongoValue(models.Value{V: "paid"}))
	assert.Equal(t, bson.M{"$literal": "$x"}, ParseMongoValue(models.Value{V: "$x"}))
	assert.Nil(t, ParseMongoValue(models.Value{V: nil}))
}

func TestBuildTerms(t *testing.T) {
	b := newBuilder()
	zero := models.Value{V: float64(0)}

	tests := []struct {
		name string
		term models.Term
		want interface{}
	}{
		{"column", &models.Column{Column: "x"}, "$x"},
		{"joined column", &models.Column{Table: "c", Column: "name"}, "$c.name"},
		{"ifNull", &models.Column{Column: "x", IfNull: &zero}, bson.M{"$ifNull": bson.A{"$x", int64(0)}}},
		{"variable", &models.Variable{Name: "NOW"}, "$$NOW"},
		{"literal", &models.Literal{Val: models.Value{V: "$x"}}, bson.M{"$literal": "$x"}},
		{
			"expression with parseFunc",
			&models.Expression{Left: &models.Column{Column: "a"}, Right: models.Value{V: float64(2)}, Operator: "/", ParseFunc: "floor"},
			bson.M{"$floor": bson.M{"$divide": bson.A{"$a", int64(2)}}},
		},
		{
			"condition",
			&models.Condition{
				If:   &models.ConditionTerm{Left: &models.Column{Column: "s"}, Right: models.Value{V: "paid"}, Operator: "="},
				Then: models.Value{V: float64(1)},
				Else: models.Value{V: float64(0)},
			},
			bson.M{"$cond": bson.D{
				{Key: "if", Value: bson.M{"$eq": bson.A{"$s", "paid"}}},
				{Key: "then", Value: int64(1)},
				{Key: "else", Value: int64(0)},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(tt.term, "select[0]")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionFlattensChains(t *testing.T) {
	cmp := func(col string) *models.ConditionTerm {
		return &models.ConditionTerm{Left: &models.Column{Column: col}, Right: models.Value{V: float64(1)}, Operator: ">"}
	}
	ct := &models.ConditionTerm{
		Left:     &models.ConditionTerm{Left: cmp("a"), Right: cmp("b"), Operator: "and"},
		Right:    &models.ConditionTerm{Left: cmp("c"), Right: cmp("d"), Operator: "or"},
		Operator: "and",
	}

	got, err := newBuilder().Condition(ct, "where[0][0]")
	require.NoError(t, err)

	gt := func(f string) bson.M { return bson.M{"$gt": bson.A{"$" + f, int64(1)}} }
	assert.Equal(t, bson.M{"$and": bson.A{
		gt("a"), gt("b"),
		bson.M{"$or": bson.A{gt("c"), gt("d")}},
	}}, got)
}

func TestBuildReportsResolverErrors(t *testing.T) {
	_, err := newBuilder().Build(&models.Expression{
		Left:     &models.Column{Table: "nope", Column: "x"},
		Right:    models.Value{V: float64(1)},
		Operator: "+",
	}, "select[2]")
	require.Error(t, err)

	var ce *models.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "select[2].leftTerm", ce.Path)
}

func TestDateDiff(t *testing.T) {
	b := newBuilder()
	b.Location = time.FixedZone("+07", 7*3600)

	got, err := b.DateDiff(&models.DateDiff{
		StartDate: &models.Column{Column: "createdAt"},
		EndDate:   models.Value{V: "2024-05-01"},
		Unit:      "day",
		TimeZone:  "+07",
	}, "select[0]")
	require.NoError(t, err)

	end := time.Date(2024, 5, 1, 0, 0, 0, 0, b.Location)
	assert.Equal(t, bson.M{"$dateDiff": bson.D{
		{Key: "startDate", Value: "$createdAt"},
		{Key: "endDate", Value: primitive.NewDateTimeFromTime(end)},
		{Key: "unit", Value: "day"},
		{Key: "timezone", Value: "+07"},
	}}, got)

	got, err = b.DateDiff(&models.DateDiff{
		StartDate: models.Value{V: float64(0)},
		EndDate:   &models.Variable{Name: "NOW"},
		Unit:      "hour",
		TimeZone:  "UTC",
	}, "select[0]")
	require.NoError(t, err)
	args := got.(bson.M)["$dateDiff"].(bson.D)
	assert.Equal(t, bson.M{"$toDate": int64(0)}, args[0].Value)
	assert.Equal(t, "$$NOW", args[1].Value)

	got, err = b.DateDiff(&models.DateDiff{
		StartDate: models.Value{V: "2024-01-01 08:00"},
		EndDate:   models.Value{V: "2024-01-02"},
		Unit:      "hour",
		TimeZone:  "-03:00",
	}, "select[0]")
	require.NoError(t, err)
	args = got.(bson.M)["$dateDiff"].(bson.D)
	minus3 := time.FixedZone("-03:00", -3*3600)
	assert.Equal(t, primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 8, 0, 0, 0, minus3)), args[0].Value)
	assert.Equal(t, primitive.NewDateTimeFromTime(time.Date(2024, 1, 2, 0, 0, 0, 0, minus3)), args[1].Value)

	_, err = b.DateDiff(&models.DateDiff{
		StartDate: models.Value{V: "not a date"},
		EndDate:   models.Value{V: "2024-01-01"},
		Unit:      "day",
		TimeZone:  "UTC",
	}, "select[0]")
	assert.True(t, models.IsSchemaMismatchErr(err))
}

func TestFunctions(t *testing.T) {
	assert.Equal(t,
		bson.M{"$dateTrunc": bson.D{{Key: "date", Value: "$at"}, {Key: "unit", Value: "minute"}}},
		DateTrunc("$at", "minute", ""))
	assert.Equal(t, bson.M{"$toString": "$_id"}, ToString("$_id"))

	conv, ok := Convert("toInt", "$x")
	require.True(t, ok)
	assert.Equal(t, bson.M{"$toInt": "$x"}, conv)
	_, ok = Convert("upper", "$x")
	assert.False(t, ok)

	acc, ok := Accumulator("avg", "$x")
	require.True(t, ok)
	assert.Equal(t, bson.M{"$avg": "$x"}, acc)
	_, ok = Accumulator("median", "$x")
	assert.False(t, ok)
}

func TestStages(t *testing.T) {
	inner := mongo.Pipeline{{{Key: "$match", Value: bson.M{"$expr": true}}}}

	lookup := BuildLookupStage("customers", "c", nil, inner)
	args := lookup[0].Value.(bson.D)
	for _, e := range args {
		assert.NotEqual(t, "let", e.Key)
	}

	assert.Equal(t,
		bson.D{{Key: "$unwind", Value: bson.D{{Key: "path", Value: "$c"}, {Key: "preserveNullAndEmptyArrays", Value: true}}}},
		BuildUnwindStage("c", true))
	assert.Equal(t,
		bson.D{{Key: "$unionWith", Value: bson.D{{Key: "coll", Value: "b"}, {Key: "pipeline", Value: inner}}}},
		BuildUnionWithStage("b", inner))
}
