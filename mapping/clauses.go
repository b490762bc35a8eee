package mapping

// Clause names used in error paths and diagnostics.
const (
	ClauseSelect    = "select"
	ClauseFrom      = "from"
	ClauseAddFields = "addFields"
	ClauseJoin      = "join"
	ClauseWhere     = "where"
	ClauseGroup     = "group"
	ClauseOrder     = "order"
	ClauseUnionWith = "unionWith"
)

// ClauseDefinition describes one top-level clause of a query document.
type ClauseDefinition struct {
	Keyword  string // JSON key of the clause
	Required bool   // must be present in every query
	InJoin   bool   // allowed inside a join subQuery
}

// QueryClauses defines all clauses of a query document, in compilation order.
var QueryClauses = []ClauseDefinition{
	{Keyword: ClauseSelect, Required: true, InJoin: true},
	{Keyword: ClauseFrom, Required: true, InJoin: true},
	{Keyword: ClauseAddFields, InJoin: true},
	{Keyword: ClauseJoin, InJoin: true},
	{Keyword: ClauseWhere, InJoin: true},
	{Keyword: ClauseGroup, InJoin: true},
	{Keyword: ClauseOrder, InJoin: true},
	{Keyword: ClauseUnionWith},
}
