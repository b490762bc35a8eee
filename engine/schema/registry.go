// Package schema validates untyped query documents and normalizes them into
// the typed term model.
package schema

import (
	"fmt"

	"github.com/omniql-engine/pipeql/engine/models"
)

// Kind names one shape in the registry.
type Kind string

// Leaf kinds: each has a single matcher.
const (
	KindValue          Kind = "Value"
	KindColumn         Kind = "Column"
	KindBaseExpression Kind = "BaseExpression"
	KindExpression     Kind = "Expression"
	KindConditionTerm  Kind = "ConditionTerm"
	KindCondition      Kind = "Condition"
	KindDateDiff       Kind = "DateDiff"
	KindDateDiffSelect Kind = "DateDiffSelect"
	KindVariable       Kind = "Variable"
	KindLiteral        Kind = "Literal"
	KindSelect         Kind = "Select"
	KindOrder          Kind = "Order"
	KindGroup          Kind = "Group"
	KindDateTrunc      Kind = "DateTrunc"
	KindDateDiffField  Kind = "DateDiffField"
	KindToString       Kind = "ToString"
	KindJoin           Kind = "Join"
	KindWhere          Kind = "Where"
	KindLoopReplace    Kind = "LoopReplace"
	KindUnion          Kind = "Union"
	KindQuery          Kind = "Query"
	KindSubQuery       Kind = "SubQuery"
)

// Union kinds: ordered alternatives, first match wins.
const (
	KindBaseOperand       Kind = "BaseOperand"
	KindExpressionOperand Kind = "ExpressionOperand"
	KindConditionOperand  Kind = "ConditionOperand"
	KindThen              Kind = "Then"
	KindElse              Kind = "Else"
	KindDateValue         Kind = "DateValue"
	KindSelectTerm        Kind = "SelectTerm"
	KindAddField          Kind = "AddField"
)

// DefaultMaxDepth bounds how deeply shapes may nest.
const DefaultMaxDepth = 64

// Result is the outcome of a cast. Value is nil whenever OK is false.
type Result struct {
	OK    bool
	Value any
	Err   *models.CompileError
}

// Schema is one registered shape: either a leaf matcher or an ordered list
// of alternative kinds.
type Schema struct {
	Kind         Kind
	Alternatives []Kind
	match        matcher
}

// IsUnion reports whether the schema is a list of alternatives.
func (s *Schema) IsUnion() bool {
	return len(s.Alternatives) > 0
}

type matcher func(c *caster, raw any, path string) (any, *models.CompileError)

// Registry holds every shape of the query language. It is immutable once
// built and safe for concurrent use.
type Registry struct {
	schemas  map[Kind]*Schema
	maxDepth int
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxDepth sets the nesting cap. Values below 1 keep the default.
func WithMaxDepth(depth int) Option {
	return func(r *Registry) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// NewRegistry builds the registry of all query shapes.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas:  make(map[Kind]*Schema),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}

	// Leaves
	r.leaf(KindValue, matchValue)
	r.leaf(KindColumn, matchColumn)
	r.leaf(KindBaseExpression, expressionMatcher(KindBaseOperand))
	r.leaf(KindExpression, expressionMatcher(KindExpressionOperand))
	r.leaf(KindConditionTerm, matchConditionTerm)
	r.leaf(KindCondition, matchCondition)
	r.leaf(KindDateDiff, matchDateDiff)
	r.leaf(KindDateDiffSelect, matchDateDiffSelect)
	r.leaf(KindVariable, matchVariable)
	r.leaf(KindLiteral, matchLiteral)
	r.leaf(KindSelect, matchSelect)
	r.leaf(KindOrder, matchOrder)
	r.leaf(KindGroup, matchGroup)
	r.leaf(KindDateTrunc, matchDateTrunc)
	r.leaf(KindDateDiffField, matchDateDiffField)
	r.leaf(KindToString, matchToString)
	r.leaf(KindJoin, matchJoin)
	r.leaf(KindWhere, matchWhere)
	r.leaf(KindLoopReplace, matchLoopReplace)
	r.leaf(KindUnion, matchUnion)
	r.leaf(KindQuery, queryMatcher(false))
	r.leaf(KindSubQuery, queryMatcher(true))

	// Unions. TableColumnRef has only optional fields, so it goes last among
	// the object shapes.
	r.union(KindBaseOperand, KindBaseExpression, KindColumn, KindValue)
	r.union(KindExpressionOperand, KindExpression, KindCondition, KindColumn, KindValue)
	r.union(KindConditionOperand, KindConditionTerm, KindBaseExpression, KindLiteral, KindVariable, KindColumn, KindValue)
	r.union(KindThen, KindBaseExpression, KindColumn, KindValue)
	r.union(KindElse, KindCondition, KindBaseExpression, KindColumn, KindValue)
	r.union(KindDateValue, KindValue, KindExpression, KindCondition, KindColumn)
	r.union(KindSelectTerm, KindDateDiffSelect, KindVariable, KindLiteral, KindCondition, KindExpression, KindColumn)
	r.union(KindAddField, KindDateTrunc, KindDateDiffField, KindToString)

	return r
}

func (r *Registry) leaf(kind Kind, m matcher) {
	r.schemas[kind] = &Schema{Kind: kind, match: m}
}

func (r *Registry) union(kind Kind, alternatives ...Kind) {
	r.schemas[kind] = &Schema{Kind: kind, Alternatives: alternatives}
}

// Schema returns the registered shape for kind.
func (r *Registry) Schema(kind Kind) (*Schema, bool) {
	s, ok := r.schemas[kind]
	return s, ok
}

// MaxDepth returns the nesting cap.
func (r *Registry) MaxDepth() int {
	return r.maxDepth
}

// Cast validates raw against kind and returns the normalized value.
// It never panics and never returns a partial value.
func (r *Registry) Cast(kind Kind, raw any) Result {
	c := &caster{reg: r}
	v, err := c.cast(kind, raw, "")
	if err != nil {
		return Result{Err: err}
	}
	return Result{OK: true, Value: v}
}

// ============================================================================
// CASTER
// ============================================================================

type caster struct {
	reg   *Registry
	depth int
}

func (c *caster) cast(kind Kind, raw any, path string) (any, *models.CompileError) {
	s, ok := c.reg.schemas[kind]
	if !ok {
		return nil, models.NewError(models.CodeSchemaMismatch, path, "unknown shape %q", kind)
	}

	if !s.IsUnion() {
		c.depth++
		defer func() { c.depth-- }()
		if c.depth > c.reg.maxDepth {
			return nil, models.NewError(models.CodeRecursionDepthExceeded, path,
				"nesting exceeds %d levels", c.reg.maxDepth)
		}
		return s.match(c, raw, path)
	}

	var deepest *models.CompileError
	for _, alt := range s.Alternatives {
		v, err := c.cast(alt, raw, path)
		if err == nil {
			return v, nil
		}
		if err.Code == models.CodeRecursionDepthExceeded {
			return nil, err
		}
		if deepest == nil || len(err.Path) > len(deepest.Path) {
			deepest = err
		}
	}
	if deepest == nil || deepest.Path == path {
		return nil, models.NewError(models.CodeSchemaMismatch, path,
			"value matches no %s alternative (%s)", kind, describe(raw))
	}
	return nil, deepest
}

func describe(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", raw)
	}
}
