package mongodb

import (
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/validator"
	"github.com/omniql-engine/pipeql/mapping"
)

// FieldResolver maps a column reference to a document field path
// ("amount", "c.name"). Failures are *models.CompileError values.
type FieldResolver interface {
	Field(col *models.Column, path string) (string, error)
}

// ExpressionBuilder turns terms into aggregation expressions.
type ExpressionBuilder struct {
	Fields   FieldResolver
	Location *time.Location // zone for date literals when a dateDiff names none
}

// ============================================================================
// VALUES
// ============================================================================

// ParseMongoValue converts a scalar into its pipeline form. Whole numbers
// become int64, and strings that would read as field paths are wrapped in
// $literal.
func ParseMongoValue(v models.Value) interface{} {
	if s, ok := v.V.(string); ok && strings.HasPrefix(s, "$") {
		return bson.M{"$literal": s}
	}
	return scalar(v)
}

func scalar(v models.Value) interface{} {
	if f, ok := v.V.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v.V
}

// FieldRef returns the "$path" reference for a field path.
func FieldRef(field string) string {
	return "$" + field
}

// ============================================================================
// TERMS
// ============================================================================

// Build resolves any term.
func (b *ExpressionBuilder) Build(t models.Term, path string) (interface{}, error) {
	switch n := t.(type) {
	case models.Value:
		return ParseMongoValue(n), nil
	case *models.Column:
		return b.column(n, path)
	case *models.Expression:
		return b.expression(n, path)
	case *models.ConditionTerm:
		return b.Condition(n, path)
	case *models.Condition:
		return b.ternary(n, path)
	case *models.DateDiff:
		return b.DateDiff(n, path)
	case *models.Variable:
		return "$$" + n.Name, nil
	case *models.Literal:
		return bson.M{"$literal": scalar(n.Val)}, nil
	}
	return nil, models.NewError(models.CodeSchemaMismatch, path, "unexpected term %T", t)
}

func (b *ExpressionBuilder) column(col *models.Column, path string) (interface{}, error) {
	field, err := b.Fields.Field(col, path)
	if err != nil {
		return nil, err
	}
	if col.IfNull != nil {
		return bson.M{"$ifNull": bson.A{FieldRef(field), ParseMongoValue(*col.IfNull)}}, nil
	}
	return FieldRef(field), nil
}

func (b *ExpressionBuilder) expression(e *models.Expression, path string) (interface{}, error) {
	left, err := b.Build(e.Left, models.JoinPath(path, "leftTerm"))
	if err != nil {
		return nil, err
	}
	right, err := b.Build(e.Right, models.JoinPath(path, "rightTerm"))
	if err != nil {
		return nil, err
	}

	op, ok := mapping.ArithmeticOperators[e.Operator]
	if !ok {
		return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "operator"),
			"unsupported arithmetic operator %q", e.Operator)
	}
	var result interface{} = bson.M{op: bson.A{left, right}}

	if e.ParseFunc != "" {
		fn, ok := mapping.ParseFunctions[e.ParseFunc]
		if !ok {
			return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "parseFunc"),
				"unsupported parseFunc %q", e.ParseFunc)
		}
		result = bson.M{fn: result}
	}
	return result, nil
}

// Condition resolves a comparison or a logical combination. Chains of the
// same logical operator are flattened into one $and/$or.
func (b *ExpressionBuilder) Condition(ct *models.ConditionTerm, path string) (interface{}, error) {
	if op, ok := mapping.LogicalOperators[ct.Operator]; ok {
		var args bson.A
		if err := b.flatten(ct, ct.Operator, path, &args); err != nil {
			return nil, err
		}
		return bson.M{op: args}, nil
	}

	op, ok := mapping.ComparisonOperators[ct.Operator]
	if !ok {
		return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "operator"),
			"unsupported operator %q", ct.Operator)
	}
	left, err := b.Build(ct.Left, models.JoinPath(path, "leftTerm"))
	if err != nil {
		return nil, err
	}
	right, err := b.Build(ct.Right, models.JoinPath(path, "rightTerm"))
	if err != nil {
		return nil, err
	}
	return bson.M{op: bson.A{left, right}}, nil
}

func (b *ExpressionBuilder) flatten(ct *models.ConditionTerm, op, path string, args *bson.A) error {
	sides := []struct {
		term models.Term
		path string
	}{
		{ct.Left, models.JoinPath(path, "leftTerm")},
		{ct.Right, models.JoinPath(path, "rightTerm")},
	}
	for _, side := range sides {
		if nested, ok := side.term.(*models.ConditionTerm); ok && nested.Operator == op {
			if err := b.flatten(nested, op, side.path, args); err != nil {
				return err
			}
			continue
		}
		expr, err := b.Build(side.term, side.path)
		if err != nil {
			return err
		}
		*args = append(*args, expr)
	}
	return nil
}

func (b *ExpressionBuilder) ternary(c *models.Condition, path string) (interface{}, error) {
	cond, err := b.Condition(c.If, models.JoinPath(path, "if"))
	if err != nil {
		return nil, err
	}
	then, err := b.Build(c.Then, models.JoinPath(path, "then"))
	if err != nil {
		return nil, err
	}
	els, err := b.Build(c.Else, models.JoinPath(path, "else"))
	if err != nil {
		return nil, err
	}
	return bson.M{"$cond": bson.D{
		{Key: "if", Value: cond},
		{Key: "then", Value: then},
		{Key: "else", Value: els},
	}}, nil
}

// ============================================================================
// DATES
// ============================================================================

// DateDiff resolves a date difference. String operands are parsed as dates,
// numeric operands are epoch milliseconds.
func (b *ExpressionBuilder) DateDiff(d *models.DateDiff, path string) (interface{}, error) {
	loc := b.Location
	if d.TimeZone != "" {
		zone, err := validator.LoadTimeZone(d.TimeZone)
		if err != nil {
			return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "timeZone"), "%v", err)
		}
		loc = zone
	}
	start, err := b.dateOperand(d.StartDate, loc, models.JoinPath(path, "startDate"))
	if err != nil {
		return nil, err
	}
	end, err := b.dateOperand(d.EndDate, loc, models.JoinPath(path, "endDate"))
	if err != nil {
		return nil, err
	}
	return bson.M{"$dateDiff": bson.D{
		{Key: "startDate", Value: start},
		{Key: "endDate", Value: end},
		{Key: "unit", Value: d.Unit},
		{Key: "timezone", Value: d.TimeZone},
	}}, nil
}

// dateOperand parses zone-less date literals in loc.
func (b *ExpressionBuilder) dateOperand(t models.Term, loc *time.Location, path string) (interface{}, error) {
	v, ok := t.(models.Value)
	if !ok {
		return b.Build(t, path)
	}
	switch x := v.V.(type) {
	case string:
		if loc == nil {
			loc = time.UTC
		}
		ts, err := dateparse.ParseIn(x, loc)
		if err != nil {
			return nil, models.NewError(models.CodeSchemaMismatch, path, "cannot parse date %q: %v", x, err)
		}
		return primitive.NewDateTimeFromTime(ts), nil
	case float64:
		return bson.M{"$toDate": ParseMongoValue(v)}, nil
	}
	return nil, models.NewError(models.CodeSchemaMismatch, path, "expected a date, got %v", v.V)
}

// DateTrunc truncates a date expression to a unit.
func DateTrunc(date interface{}, unit, timeZone string) interface{} {
	args := bson.D{
		{Key: "date", Value: date},
		{Key: "unit", Value: unit},
	}
	if timeZone != "" {
		args = append(args, bson.E{Key: "timezone", Value: timeZone})
	}
	return bson.M{"$dateTrunc": args}
}

// ============================================================================
// FUNCTIONS
// ============================================================================

// ToString wraps an expression in $toString.
func ToString(expr interface{}) interface{} {
	return bson.M{"$toString": expr}
}

// Convert applies a convertFunc coercion (string, toInt, ...).
func Convert(fn string, expr interface{}) (interface{}, bool) {
	op, ok := mapping.ConvertFunctions[strings.ToLower(fn)]
	if !ok {
		return nil, false
	}
	return bson.M{op: expr}, true
}

// Accumulator builds a $group accumulator. count sums 1 for every non-null input.
func Accumulator(aggFunc string, expr interface{}) (interface{}, bool) {
	op, ok := mapping.Accumulators[aggFunc]
	if !ok {
		return nil, false
	}
	if aggFunc == "count" {
		isNull := bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{expr, nil}}, nil}}
		return bson.M{op: bson.M{"$cond": bson.A{isNull, 0, 1}}}, true
	}
	return bson.M{op: expr}, true
}
