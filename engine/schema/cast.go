package schema

import (
	"encoding/json"
	"math"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/mapping"
)

// ============================================================================
// FIELD HELPERS
// ============================================================================

func mismatch(path, format string, args ...any) *models.CompileError {
	return models.NewError(models.CodeSchemaMismatch, path, format, args...)
}

func asObject(raw any, path string) (map[string]any, *models.CompileError) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, mismatch(path, "expected object, got %s", describe(raw))
	}
	return m, nil
}

func asArray(raw any, path string) ([]any, *models.CompileError) {
	a, ok := raw.([]any)
	if !ok {
		return nil, mismatch(path, "expected array, got %s", describe(raw))
	}
	return a, nil
}

// toNumber accepts every Go numeric type a decoder may produce.
func toNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func optString(m map[string]any, key, path string) (string, bool, *models.CompileError) {
	raw, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, mismatch(models.JoinPath(path, key), "expected string, got %s", describe(raw))
	}
	return s, true, nil
}

func reqString(m map[string]any, key, path string) (string, *models.CompileError) {
	s, ok, err := optString(m, key, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", mismatch(path, "missing required field %q", key)
	}
	return s, nil
}

func reqNumber(m map[string]any, key, path string) (float64, *models.CompileError) {
	raw, ok := m[key]
	if !ok {
		return 0, mismatch(path, "missing required field %q", key)
	}
	n, isNumber := toNumber(raw)
	if !isNumber {
		return 0, mismatch(models.JoinPath(path, key), "expected number, got %s", describe(raw))
	}
	return n, nil
}

// reqEnum reads a required string restricted to the keys of allowed.
func reqEnum[V any](m map[string]any, key, path string, allowed map[string]V) (string, *models.CompileError) {
	s, err := reqString(m, key, path)
	if err != nil {
		return "", err
	}
	if _, ok := allowed[s]; !ok {
		return "", mismatch(models.JoinPath(path, key), "unsupported %s %q", key, s)
	}
	return s, nil
}

func optEnum[V any](m map[string]any, key, path string, allowed map[string]V) (string, *models.CompileError) {
	s, ok, err := optString(m, key, path)
	if err != nil || !ok {
		return "", err
	}
	if _, known := allowed[s]; !known {
		return "", mismatch(models.JoinPath(path, key), "unsupported %s %q", key, s)
	}
	return s, nil
}

func (c *caster) field(m map[string]any, key string, kind Kind, path string) (any, *models.CompileError) {
	raw, ok := m[key]
	if !ok {
		return nil, mismatch(path, "missing required field %q", key)
	}
	return c.cast(kind, raw, models.JoinPath(path, key))
}

func (c *caster) term(m map[string]any, key string, kind Kind, path string) (models.Term, *models.CompileError) {
	v, err := c.field(m, key, kind, path)
	if err != nil {
		return nil, err
	}
	return v.(models.Term), nil
}

// list casts every element of an optional array field. A present but empty
// array yields an empty, non-nil slice.
func list[T any](c *caster, m map[string]any, key string, kind Kind, path string) ([]T, *models.CompileError) {
	raw, ok := m[key]
	if !ok {
		return nil, nil
	}
	p := models.JoinPath(path, key)
	arr, err := asArray(raw, p)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(arr))
	for i, item := range arr {
		v, err := c.cast(kind, item, models.IndexPath(p, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v.(T))
	}
	return out, nil
}

// ============================================================================
// TERMS
// ============================================================================

func matchValue(_ *caster, raw any, path string) (any, *models.CompileError) {
	switch v := raw.(type) {
	case nil, string, bool:
		return models.Value{V: v}, nil
	}
	if n, ok := toNumber(raw); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, mismatch(path, "number is not finite")
		}
		return models.Value{V: n}, nil
	}
	return nil, mismatch(path, "expected string, number, boolean or null, got %s", describe(raw))
}

func matchColumn(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	col := &models.Column{}
	if err := fillColumn(c, m, path, col); err != nil {
		return nil, err
	}
	return col, nil
}

func fillColumn(c *caster, m map[string]any, path string, col *models.Column) *models.CompileError {
	table, hasTable, err := optString(m, "table", path)
	if err != nil {
		return err
	}
	column, hasColumn, err := optString(m, "column", path)
	if err != nil {
		return err
	}
	rawDefault, hasDefault := m["ifNull"]
	if !hasTable && !hasColumn && !hasDefault {
		return mismatch(path, "expected a table/column reference")
	}
	col.Table, col.Column = table, column
	if hasDefault {
		v, err := c.cast(KindValue, rawDefault, models.JoinPath(path, "ifNull"))
		if err != nil {
			return err
		}
		def := v.(models.Value)
		col.IfNull = &def
	}
	return nil
}

func expressionMatcher(operand Kind) matcher {
	return func(c *caster, raw any, path string) (any, *models.CompileError) {
		m, err := asObject(raw, path)
		if err != nil {
			return nil, err
		}
		op, err := reqEnum(m, "operator", path, mapping.ArithmeticOperators)
		if err != nil {
			return nil, err
		}
		parseFunc, err := optEnum(m, "parseFunc", path, mapping.ParseFunctions)
		if err != nil {
			return nil, err
		}
		left, err := c.term(m, "leftTerm", operand, path)
		if err != nil {
			return nil, err
		}
		right, err := c.term(m, "rightTerm", operand, path)
		if err != nil {
			return nil, err
		}
		return &models.Expression{Left: left, Right: right, Operator: op, ParseFunc: parseFunc}, nil
	}
}

var conditionOperators = func() map[string]string {
	ops := make(map[string]string, len(mapping.ComparisonOperators)+len(mapping.LogicalOperators))
	for k, v := range mapping.ComparisonOperators {
		ops[k] = v
	}
	for k, v := range mapping.LogicalOperators {
		ops[k] = v
	}
	return ops
}()

func matchConditionTerm(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	op, err := reqEnum(m, "operator", path, conditionOperators)
	if err != nil {
		return nil, err
	}
	left, err := c.term(m, "leftTerm", KindConditionOperand, path)
	if err != nil {
		return nil, err
	}
	right, err := c.term(m, "rightTerm", KindConditionOperand, path)
	if err != nil {
		return nil, err
	}
	return &models.ConditionTerm{Left: left, Right: right, Operator: op}, nil
}

func matchCondition(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	cond, err := c.field(m, "if", KindConditionTerm, path)
	if err != nil {
		return nil, err
	}
	then, err := c.term(m, "then", KindThen, path)
	if err != nil {
		return nil, err
	}
	els, err := c.term(m, "else", KindElse, path)
	if err != nil {
		return nil, err
	}
	agg, err := optEnum(m, "aggFunc", path, mapping.Accumulators)
	if err != nil {
		return nil, err
	}
	return &models.Condition{If: cond.(*models.ConditionTerm), Then: then, Else: els, AggFunc: agg}, nil
}

func matchDateDiff(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	unit, err := reqEnum(m, "unit", path, mapping.DateDiffUnits)
	if err != nil {
		return nil, err
	}
	tz, err := reqString(m, "timeZone", path)
	if err != nil {
		return nil, err
	}
	start, err := c.term(m, "startDate", KindDateValue, path)
	if err != nil {
		return nil, err
	}
	end, err := c.term(m, "endDate", KindDateValue, path)
	if err != nil {
		return nil, err
	}
	return &models.DateDiff{StartDate: start, EndDate: end, Unit: unit, TimeZone: tz}, nil
}

func matchDateDiffSelect(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	return c.field(m, "dateDiff", KindDateDiff, path)
}

func matchVariable(_ *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	name, err := reqString(m, "name", path)
	if err != nil {
		return nil, err
	}
	return &models.Variable{Name: name}, nil
}

func matchLiteral(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	v, err := c.field(m, "val", KindValue, path)
	if err != nil {
		return nil, err
	}
	return &models.Literal{Val: v.(models.Value)}, nil
}

// ============================================================================
// CLAUSE ITEMS
// ============================================================================

func matchSelect(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	t, err := c.cast(KindSelectTerm, raw, path)
	if err != nil {
		return nil, err
	}
	item := models.SelectItem{Term: t.(models.Term)}
	if item.As, _, err = optString(m, "as", path); err != nil {
		return nil, err
	}
	if item.AggFunc, err = optEnum(m, "aggFunc", path, mapping.Accumulators); err != nil {
		return nil, err
	}
	if rawFlag, ok := m["asString"]; ok {
		flag, isBool := rawFlag.(bool)
		if !isBool {
			return nil, mismatch(models.JoinPath(path, "asString"), "expected boolean, got %s", describe(rawFlag))
		}
		item.AsString = flag
	}
	return item, nil
}

func matchOrder(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	item := models.OrderItem{}
	if err := fillColumn(c, m, path, &item.Column); err != nil {
		return nil, err
	}
	if item.Sort, err = optEnum(m, "sort", path, mapping.SortDirections); err != nil {
		return nil, err
	}
	return item, nil
}

func matchGroup(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	item := models.GroupItem{}
	if err := fillColumn(c, m, path, &item.Column); err != nil {
		return nil, err
	}
	if item.ConvertFunc, _, err = optString(m, "convertFunc", path); err != nil {
		return nil, err
	}
	return item, nil
}

func matchDateTrunc(_ *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	unit, err := reqEnum(m, "aggFunc", path, mapping.DateTruncUnits)
	if err != nil {
		return nil, err
	}
	column, err := reqString(m, "column", path)
	if err != nil {
		return nil, err
	}
	as, err := reqString(m, "as", path)
	if err != nil {
		return nil, err
	}
	return &models.DateTrunc{Column: column, As: as, Unit: unit}, nil
}

func matchDateDiffField(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	diff, err := c.field(m, "dateDiff", KindDateDiff, path)
	if err != nil {
		return nil, err
	}
	as, err := reqString(m, "as", path)
	if err != nil {
		return nil, err
	}
	return &models.DateDiffField{DateDiff: diff.(*models.DateDiff), As: as}, nil
}

func matchToString(_ *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	table, err := reqString(m, "table", path)
	if err != nil {
		return nil, err
	}
	column, err := reqString(m, "column", path)
	if err != nil {
		return nil, err
	}
	as, err := reqString(m, "as", path)
	if err != nil {
		return nil, err
	}
	return &models.ToString{Table: table, Column: column, As: as}, nil
}

// ============================================================================
// JOINS, WHERE, UNIONS
// ============================================================================

func matchJoin(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	join := models.Join{}
	if join.Type, err = reqString(m, "type", path); err != nil {
		return nil, err
	}
	if join.Table, _, err = optString(m, "table", path); err != nil {
		return nil, err
	}
	if join.As, _, err = optString(m, "as", path); err != nil {
		return nil, err
	}
	if rawSub, ok := m["subQuery"]; ok {
		sub, err := c.cast(KindSubQuery, rawSub, models.JoinPath(path, "subQuery"))
		if err != nil {
			return nil, err
		}
		join.SubQuery = sub.(*models.Query)
	}
	if (join.Table == "") == (join.SubQuery == nil) {
		return nil, mismatch(path, "join needs exactly one of table and subQuery")
	}

	rawOn, ok := m["on"]
	if !ok {
		return nil, mismatch(path, "missing required field %q", "on")
	}
	onPath := models.JoinPath(path, "on")
	pairs, err := asArray(rawOn, onPath)
	if err != nil {
		return nil, err
	}
	join.On = make([]models.OnPair, 0, len(pairs))
	for i, rawPair := range pairs {
		pairPath := models.IndexPath(onPath, i)
		pair, err := asArray(rawPair, pairPath)
		if err != nil {
			return nil, err
		}
		if len(pair) != 2 {
			return nil, mismatch(pairPath, "expected [left, right] pair, got %d fields", len(pair))
		}
		left, okLeft := pair[0].(string)
		right, okRight := pair[1].(string)
		if !okLeft || !okRight {
			return nil, mismatch(pairPath, "join fields must be strings")
		}
		join.On = append(join.On, models.OnPair{Left: left, Right: right})
	}
	return join, nil
}

func matchWhere(c *caster, raw any, path string) (any, *models.CompileError) {
	groups, err := asArray(raw, path)
	if err != nil {
		return nil, err
	}
	out := make([][]*models.ConditionTerm, 0, len(groups))
	for i, rawGroup := range groups {
		groupPath := models.IndexPath(path, i)
		terms, err := asArray(rawGroup, groupPath)
		if err != nil {
			return nil, err
		}
		group := make([]*models.ConditionTerm, 0, len(terms))
		for j, rawTerm := range terms {
			t, err := c.cast(KindConditionTerm, rawTerm, models.IndexPath(groupPath, j))
			if err != nil {
				return nil, err
			}
			group = append(group, t.(*models.ConditionTerm))
		}
		out = append(out, group)
	}
	return out, nil
}

func matchLoopReplace(_ *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	loop := &models.LoopReplace{}
	if loop.From, err = reqString(m, "from", path); err != nil {
		return nil, err
	}
	if loop.Start, err = reqNumber(m, "start", path); err != nil {
		return nil, err
	}
	if loop.End, err = reqNumber(m, "end", path); err != nil {
		return nil, err
	}
	return loop, nil
}

func matchUnion(c *caster, raw any, path string) (any, *models.CompileError) {
	m, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	u := models.Union{}
	if u.Coll, err = reqString(m, "coll", path); err != nil {
		return nil, err
	}
	q, err := c.field(m, "query", KindQuery, path)
	if err != nil {
		return nil, err
	}
	u.Query = q.(*models.Query)
	if rawLoop, ok := m["loopReplaceToIndexFunc"]; ok {
		loop, err := c.cast(KindLoopReplace, rawLoop, models.JoinPath(path, "loopReplaceToIndexFunc"))
		if err != nil {
			return nil, err
		}
		u.Loop = loop.(*models.LoopReplace)
	}
	return u, nil
}

// ============================================================================
// QUERY
// ============================================================================

// queryMatcher casts a query document clause by clause. A join subQuery
// accepts only the clauses flagged InJoin; others are dropped like any
// unknown key.
func queryMatcher(inJoin bool) matcher {
	return func(c *caster, raw any, path string) (any, *models.CompileError) {
		m, err := asObject(raw, path)
		if err != nil {
			return nil, err
		}
		q := &models.Query{}
		for _, def := range mapping.QueryClauses {
			if inJoin && !def.InJoin {
				continue
			}
			if _, present := m[def.Keyword]; !present {
				if def.Required {
					return nil, mismatch(path, "missing required clause %q", def.Keyword)
				}
				continue
			}
			if err := castClause(c, q, m, def.Keyword, path); err != nil {
				return nil, err
			}
		}
		return q, nil
	}
}

func castClause(c *caster, q *models.Query, m map[string]any, keyword, path string) *models.CompileError {
	var err *models.CompileError
	switch keyword {
	case mapping.ClauseSelect:
		q.Select, err = list[models.SelectItem](c, m, keyword, KindSelect, path)
		if err == nil && len(q.Select) == 0 {
			err = mismatch(models.JoinPath(path, keyword), "select must not be empty")
		}
	case mapping.ClauseFrom:
		q.From, err = reqString(m, keyword, path)
		if err == nil && q.From == "" {
			err = mismatch(models.JoinPath(path, keyword), "from must not be empty")
		}
	case mapping.ClauseAddFields:
		q.AddFields, err = list[models.AddField](c, m, keyword, KindAddField, path)
	case mapping.ClauseJoin:
		q.Join, err = list[models.Join](c, m, keyword, KindJoin, path)
	case mapping.ClauseWhere:
		var v any
		if v, err = c.field(m, keyword, KindWhere, path); err == nil {
			q.Where = v.([][]*models.ConditionTerm)
		}
	case mapping.ClauseGroup:
		q.Group, err = list[models.GroupItem](c, m, keyword, KindGroup, path)
	case mapping.ClauseOrder:
		q.Order, err = list[models.OrderItem](c, m, keyword, KindOrder, path)
	case mapping.ClauseUnionWith:
		q.UnionWith, err = list[models.Union](c, m, keyword, KindUnion, path)
	}
	return err
}
