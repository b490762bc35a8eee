package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniql-engine/pipeql/engine/models"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	var raw any
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))
	return raw
}

func TestCastValue(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name string
		raw  any
		want any
	}{
		{"string", "abc", "abc"},
		{"float", 1.5, 1.5},
		{"int normalizes to float64", 7, float64(7)},
		{"int64", int64(3), float64(3)},
		{"bool", true, true},
		{"null", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Cast(KindValue, tt.raw)
			require.True(t, res.OK)
			assert.Equal(t, models.Value{V: tt.want}, res.Value)
		})
	}

	res := reg.Cast(KindValue, []any{1})
	assert.False(t, res.OK)
	assert.Nil(t, res.Value)
	assert.True(t, models.IsSchemaMismatchErr(res.Err))
}

func TestCastColumnDropsUnknownFields(t *testing.T) {
	reg := NewRegistry()

	res := reg.Cast(KindColumn, decode(t, `{"table":"a","column":"x","color":"red","ifNull":0}`))
	require.True(t, res.OK)
	assert.Equal(t, &models.Column{Table: "a", Column: "x", IfNull: &models.Value{V: float64(0)}}, res.Value)

	res = reg.Cast(KindColumn, decode(t, `{"color":"red"}`))
	assert.False(t, res.OK)

	res = reg.Cast(KindColumn, decode(t, `{"table":1}`))
	require.False(t, res.OK)
	assert.Equal(t, "table", res.Err.Path)
}

func TestCastFirstMatchPrecedence(t *testing.T) {
	reg := NewRegistry()

	// An arithmetic node also carries a column key; the expression alternative
	// comes first and wins.
	raw := decode(t, `{"leftTerm":{"column":"x"},"rightTerm":2,"operator":"+","column":"ignored"}`)
	res := reg.Cast(KindBaseOperand, raw)
	require.True(t, res.OK)
	expr, ok := res.Value.(*models.Expression)
	require.True(t, ok)
	assert.Equal(t, "+", expr.Operator)
	assert.Equal(t, &models.Column{Column: "x"}, expr.Left)
	assert.Equal(t, models.Value{V: float64(2)}, expr.Right)

	// A comparison node inside a condition operand is a ConditionTerm, an
	// arithmetic node is an Expression.
	raw = decode(t, `{"leftTerm":{"leftTerm":1,"rightTerm":2,"operator":"*"},"rightTerm":{"leftTerm":{"column":"a"},"rightTerm":1,"operator":">"},"operator":"and"}`)
	res = reg.Cast(KindConditionTerm, raw)
	require.True(t, res.OK)
	ct := res.Value.(*models.ConditionTerm)
	assert.IsType(t, &models.Expression{}, ct.Left)
	assert.IsType(t, &models.ConditionTerm{}, ct.Right)
}

func TestCastSelectTerms(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name string
		doc  string
		want models.Term
	}{
		{"column", `{"table":"a","column":"x","as":"ax"}`, &models.Column{Table: "a", Column: "x"}},
		{"variable", `{"name":"NOW"}`, &models.Variable{Name: "NOW"}},
		{"literal", `{"val":"$notAPath"}`, &models.Literal{Val: models.Value{V: "$notAPath"}}},
		{"date diff", `{"dateDiff":{"startDate":"2024-01-01","endDate":{"column":"d"},"unit":"day","timeZone":"+07"}}`,
			&models.DateDiff{
				StartDate: models.Value{V: "2024-01-01"},
				EndDate:   &models.Column{Column: "d"},
				Unit:      "day",
				TimeZone:  "+07",
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Cast(KindSelect, decode(t, tt.doc))
			require.True(t, res.OK, "%v", res.Err)
			assert.Equal(t, tt.want, res.Value.(models.SelectItem).Term)
		})
	}
}

func TestCastSelectConditionWithExpressionOperand(t *testing.T) {
	reg := NewRegistry()

	raw := decode(t, `{
		"leftTerm": {"if": {"leftTerm": {"column":"s"}, "rightTerm": "paid", "operator": "="}, "then": 1, "else": 0},
		"rightTerm": 100,
		"operator": "*",
		"as": "paidScore"
	}`)
	res := reg.Cast(KindSelect, raw)
	require.True(t, res.OK, "%v", res.Err)
	item := res.Value.(models.SelectItem)
	assert.Equal(t, "paidScore", item.As)
	expr := item.Term.(*models.Expression)
	assert.IsType(t, &models.Condition{}, expr.Left)
}

func TestCastConditionAggFunc(t *testing.T) {
	reg := NewRegistry()

	raw := decode(t, `{"if":{"leftTerm":{"column":"x"},"rightTerm":0,"operator":">"},"then":1,"else":0,"aggFunc":"sum","as":"positive"}`)
	res := reg.Cast(KindSelect, raw)
	require.True(t, res.OK, "%v", res.Err)
	item := res.Value.(models.SelectItem)
	assert.Equal(t, "sum", item.AggFunc)
	assert.Equal(t, "sum", item.EffectiveAggFunc())
	assert.Equal(t, "sum", item.Term.(*models.Condition).AggFunc)

	raw = decode(t, `{"column":"x","aggFunc":"median"}`)
	res = reg.Cast(KindSelect, raw)
	require.False(t, res.OK)
	assert.Equal(t, "aggFunc", res.Err.Path)
}

func TestCastJoin(t *testing.T) {
	reg := NewRegistry()

	res := reg.Cast(KindJoin, decode(t, `{"type":"left","table":"b","on":[["a.id","b.aid"]]}`))
	require.True(t, res.OK, "%v", res.Err)
	assert.Equal(t, models.Join{Type: "left", Table: "b", On: []models.OnPair{{Left: "a.id", Right: "b.aid"}}}, res.Value)

	res = reg.Cast(KindJoin, decode(t, `{"type":"inner","table":"b","on":[["a.id","b.aid","extra"]]}`))
	require.False(t, res.OK)
	assert.Equal(t, "on[0]", res.Err.Path)

	res = reg.Cast(KindJoin, decode(t, `{"type":"inner","on":[]}`))
	assert.False(t, res.OK)

	res = reg.Cast(KindJoin, decode(t, `{
		"type": "inner",
		"as": "recent",
		"subQuery": {
			"select": [{"column":"aid"}],
			"from": "b",
			"unionWith": [{"coll":"c","query":{"select":[{"column":"x"}],"from":"c"}}]
		},
		"on": [["a.id","recent.aid"]]
	}`))
	require.True(t, res.OK, "%v", res.Err)
	join := res.Value.(models.Join)
	require.NotNil(t, join.SubQuery)
	assert.Equal(t, "b", join.SubQuery.From)
	assert.Nil(t, join.SubQuery.UnionWith)
	assert.Equal(t, "recent", join.JoinAlias())
}

func TestCastQueryRequiredClauses(t *testing.T) {
	reg := NewRegistry()

	res := reg.Cast(KindQuery, decode(t, `{"from":"a"}`))
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Message, "select")

	res = reg.Cast(KindQuery, decode(t, `{"select":[],"from":"a"}`))
	require.False(t, res.OK)
	assert.Equal(t, "select", res.Err.Clause)

	res = reg.Cast(KindQuery, decode(t, `{"select":[{"column":"x"}],"from":"a","where":[[{"leftTerm":1,"rightTerm":2}]]}`))
	require.False(t, res.OK)
	assert.Equal(t, "where", res.Err.Clause)
	assert.True(t, strings.HasPrefix(res.Err.Path, "where[0][0]"))
}

const fullQuery = `{
	"select": [
		{"table":"orders","column":"region"},
		{"table":"orders","column":"amount","aggFunc":"sum","as":"total"},
		{"if":{"leftTerm":{"column":"status"},"rightTerm":"paid","operator":"="},"then":1,"else":{"if":{"leftTerm":{"column":"status"},"rightTerm":"refund","operator":"="},"then":-1,"else":0},"aggFunc":"sum","as":"net"},
		{"leftTerm":{"column":"amount","ifNull":0},"rightTerm":3,"operator":"/","parseFunc":"floor","as":"third"},
		{"dateDiff":{"startDate":{"column":"createdAt"},"endDate":"2024-05-01","unit":"day","timeZone":"Asia/Bangkok"},"as":"age"},
		{"name":"NOW","as":"now"},
		{"val":42,"as":"answer","asString":true}
	],
	"from": "orders",
	"addFields": [
		{"column":"createdAt","as":"minute","aggFunc":"fulllminute"},
		{"dateDiff":{"startDate":{"column":"createdAt"},"endDate":{"column":"paidAt"},"unit":"hour","timeZone":"+07"},"as":"lag"},
		{"table":"orders","column":"_id","as":"idString"}
	],
	"join": [
		{"type":"left","table":"customers","as":"c","on":[["orders.customerId","c._id"]]}
	],
	"where": [[{"leftTerm":{"table":"orders","column":"amount"},"rightTerm":0,"operator":">"}]],
	"group": [{"table":"orders","column":"region","convertFunc":"string"}],
	"order": [{"column":"total","sort":"desc"}],
	"unionWith": [
		{"coll":"u","query":{"select":[{"column":"region"}],"from":"archive_{i}"},"loopReplaceToIndexFunc":{"from":"archive_{i}","start":0,"end":2}}
	]
}`

func TestCastIdempotent(t *testing.T) {
	reg := NewRegistry()

	first := reg.Cast(KindQuery, decode(t, fullQuery))
	require.True(t, first.OK, "%v", first.Err)
	q := first.Value.(*models.Query)

	second := reg.Cast(KindQuery, q.Raw())
	require.True(t, second.OK, "%v", second.Err)
	assert.Equal(t, q, second.Value)

	assert.Len(t, q.AddFields, 3)
	assert.IsType(t, &models.DateTrunc{}, q.AddFields[0])
	assert.IsType(t, &models.DateDiffField{}, q.AddFields[1])
	assert.IsType(t, &models.ToString{}, q.AddFields[2])
	require.Len(t, q.UnionWith, 1)
	assert.Equal(t, &models.LoopReplace{From: "archive_{i}", Start: 0, End: 2}, q.UnionWith[0].Loop)
}

func TestCastRecursionDepth(t *testing.T) {
	reg := NewRegistry(WithMaxDepth(8))

	var raw any = map[string]any{"column": "x"}
	for i := 0; i < 10; i++ {
		raw = map[string]any{"leftTerm": raw, "rightTerm": 1.0, "operator": "+"}
	}
	res := reg.Cast(KindBaseExpression, raw)
	require.False(t, res.OK)
	assert.Nil(t, res.Value)
	assert.True(t, models.IsRecursionDepthExceededErr(res.Err))

	res = NewRegistry().Cast(KindBaseExpression, raw)
	assert.True(t, res.OK, "%v", res.Err)
}

func TestRegistryUnions(t *testing.T) {
	reg := NewRegistry()

	s, ok := reg.Schema(KindSelectTerm)
	require.True(t, ok)
	assert.True(t, s.IsUnion())
	assert.Equal(t, KindColumn, s.Alternatives[len(s.Alternatives)-1])

	s, ok = reg.Schema(KindQuery)
	require.True(t, ok)
	assert.False(t, s.IsUnion())

	res := reg.Cast(Kind("Nope"), 1)
	assert.False(t, res.OK)
}
