package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestToList(t *testing.T) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$expr": bson.M{"$eq": bson.A{"$x", bson.M{"$literal": int64(5)}}}}}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}, {Key: "x", Value: "$x"}}}},
	}

	list, err := ToList(pipeline)
	require.NoError(t, err)
	require.Len(t, list.Values, 2)

	match := list.Values[0].GetStructValue().Fields["$match"].GetStructValue()
	require.NotNil(t, match)
	eq := match.Fields["$expr"].GetStructValue().Fields["$eq"].GetListValue()
	require.Len(t, eq.Values, 2)
	assert.Equal(t, "$x", eq.Values[0].GetStringValue())
	assert.Equal(t, float64(5), eq.Values[1].GetStructValue().Fields["$literal"].GetNumberValue())
}

func TestJSONRoundTrip(t *testing.T) {
	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$expr": bson.M{"$gt": bson.A{"$at", primitive.NewDateTimeFromTime(when)}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}}}},
	}

	data, err := MarshalJSON(pipeline, false)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"$date"`)

	got, err := UnmarshalJSON(data)
	require.NoError(t, err)
	require.Len(t, got, 2)

	want, err := bson.MarshalExtJSON(bson.D{{Key: "p", Value: bson.A{pipeline[0], pipeline[1]}}}, false, false)
	require.NoError(t, err)
	back, err := bson.MarshalExtJSON(bson.D{{Key: "p", Value: bson.A{got[0], got[1]}}}, false, false)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(back))
}

func TestMarshalJSONMultiline(t *testing.T) {
	data, err := MarshalJSON(mongo.Pipeline{{{Key: "$limit", Value: 1}}}, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n")
}

func TestUnmarshalJSONRejectsGarbage(t *testing.T) {
	_, err := UnmarshalJSON([]byte(`{"not":"a list"}`))
	assert.Error(t, err)
}
