package models

// ============================================================================
// TERMS - Recursive expression/condition nodes
// ============================================================================

// Term is a node that resolves to an aggregation expression.
//
// This is a sealed interface: only types in this package implement it, so
// builders can switch over the concrete types exhaustively.
type Term interface {
	term()
	// Raw returns the canonical untyped form of the node.
	Raw() any
}

// Value is a scalar literal: string, float64, bool or nil.
type Value struct {
	V any
}

// Column references a field, optionally qualified by a table (root collection or join alias).
type Column struct {
	Table  string
	Column string
	IfNull *Value // substituted when the field is missing or null
}

// Expression is a binary arithmetic expression.
type Expression struct {
	Left      Term
	Right     Term
	Operator  string // + - * / %
	ParseFunc string // abs, floor (optional)
}

// ConditionTerm compares two operands (> < >= <= = <>) or combines two
// ConditionTerms (and, or).
type ConditionTerm struct {
	Left     Term
	Right    Term
	Operator string
}

// Condition is a ternary if/then/else.
type Condition struct {
	If      *ConditionTerm
	Then    Term
	Else    Term
	AggFunc string // only valid when the Condition is itself a select item
}

// DateDiff computes the signed difference between two dates in a unit.
type DateDiff struct {
	StartDate Term
	EndDate   Term
	Unit      string
	TimeZone  string
}

// Variable references an aggregation variable ($$NAME).
type Variable struct {
	Name string
}

// Literal wraps a value that must never be interpreted as a field path.
type Literal struct {
	Val Value
}

func (Value) term()          {}
func (*Column) term()        {}
func (*Expression) term()    {}
func (*ConditionTerm) term() {}
func (*Condition) term()     {}
func (*DateDiff) term()      {}
func (*Variable) term()      {}
func (*Literal) term()       {}

// ============================================================================
// CLAUSE ITEMS
// ============================================================================

// SelectItem is one projected output.
type SelectItem struct {
	Term     Term
	As       string
	AggFunc  string // sum, count, avg, max, min
	AsString bool
}

// EffectiveAggFunc returns the item's aggregate function, falling back to
// the aggFunc of a Condition used directly as the item's term.
func (s SelectItem) EffectiveAggFunc() string {
	if s.AggFunc != "" {
		return s.AggFunc
	}
	if cond, ok := s.Term.(*Condition); ok {
		return cond.AggFunc
	}
	return ""
}

// OrderItem sorts by a projected column.
type OrderItem struct {
	Column Column
	Sort   string // asc (default), desc
}

// GroupItem is a grouping key.
type GroupItem struct {
	Column      Column
	ConvertFunc string // coercion applied to the key before grouping
}

// AddField is a computed helper field added before joins and filters.
type AddField interface {
	addField()
	Alias() string
	Raw() any
}

// DateTrunc truncates a date column (addFields {column, as, aggFunc}).
type DateTrunc struct {
	Column string
	As     string
	Unit   string // as written: fulllminute, month, year, ...
}

// DateDiffField stores a date difference under an alias.
type DateDiffField struct {
	DateDiff *DateDiff
	As       string
}

// ToString stores the string form of a column under an alias.
type ToString struct {
	Table  string
	Column string
	As     string
}

func (*DateTrunc) addField()     {}
func (*DateDiffField) addField() {}
func (*ToString) addField()      {}

func (f *DateTrunc) Alias() string     { return f.As }
func (f *DateDiffField) Alias() string { return f.As }
func (f *ToString) Alias() string      { return f.As }

// ============================================================================
// JOINS AND UNIONS
// ============================================================================

// OnPair is one equality constraint: outer Left equals inner Right.
type OnPair struct {
	Left  string
	Right string
}

// Join correlates the current rows with a collection or a subquery.
// Exactly one of Table and SubQuery is set.
type Join struct {
	Type     string
	Table    string
	As       string
	SubQuery *Query // never carries UnionWith
	On       []OnPair
}

// LoopReplace expands one union template into a range of collections.
type LoopReplace struct {
	From  string // collection template containing the index token
	Start float64
	End   float64
}

// Union appends the results of another query.
type Union struct {
	Coll  string
	Query *Query
	Loop  *LoopReplace
}

// ============================================================================
// QUERY
// ============================================================================

// Query is a validated query document.
type Query struct {
	Select    []SelectItem
	From      string
	AddFields []AddField
	Join      []Join
	Where     [][]*ConditionTerm // OR of ANDs
	Group     []GroupItem
	Order     []OrderItem
	UnionWith []Union
}

// Aggregated reports whether the query needs a $group stage.
func (q *Query) Aggregated() bool {
	if len(q.Group) > 0 {
		return true
	}
	for _, s := range q.Select {
		if s.EffectiveAggFunc() != "" {
			return true
		}
	}
	return false
}

// JoinAlias returns the name the joined rows are stored under.
func (j *Join) JoinAlias() string {
	switch {
	case j.As != "":
		return j.As
	case j.Table != "":
		return j.Table
	case j.SubQuery != nil:
		return j.SubQuery.From
	}
	return ""
}
