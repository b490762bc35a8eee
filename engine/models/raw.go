package models

// Raw forms mirror the query document: maps keyed by the document's field
// names, slices as []any, numbers as float64. Absent optional fields are
// omitted, so casting a Raw form yields a value deep-equal to the original.

func (v Value) Raw() any { return v.V }

func (c *Column) Raw() any {
	m := map[string]any{}
	c.fill(m)
	return m
}

func (c *Column) fill(m map[string]any) {
	if c.Table != "" {
		m["table"] = c.Table
	}
	if c.Column != "" {
		m["column"] = c.Column
	}
	if c.IfNull != nil {
		m["ifNull"] = c.IfNull.V
	}
}

func (e *Expression) Raw() any {
	m := map[string]any{
		"leftTerm":  e.Left.Raw(),
		"rightTerm": e.Right.Raw(),
		"operator":  e.Operator,
	}
	if e.ParseFunc != "" {
		m["parseFunc"] = e.ParseFunc
	}
	return m
}

func (t *ConditionTerm) Raw() any {
	return map[string]any{
		"leftTerm":  t.Left.Raw(),
		"rightTerm": t.Right.Raw(),
		"operator":  t.Operator,
	}
}

func (c *Condition) Raw() any {
	m := map[string]any{
		"if":   c.If.Raw(),
		"then": c.Then.Raw(),
		"else": c.Else.Raw(),
	}
	if c.AggFunc != "" {
		m["aggFunc"] = c.AggFunc
	}
	return m
}

func (d *DateDiff) Raw() any {
	return map[string]any{
		"startDate": d.StartDate.Raw(),
		"endDate":   d.EndDate.Raw(),
		"unit":      d.Unit,
		"timeZone":  d.TimeZone,
	}
}

func (v *Variable) Raw() any { return map[string]any{"name": v.Name} }

func (l *Literal) Raw() any { return map[string]any{"val": l.Val.V} }

// Raw merges the term's fields with the select options.
func (s SelectItem) Raw() any {
	var m map[string]any
	switch t := s.Term.(type) {
	case *DateDiff:
		m = map[string]any{"dateDiff": t.Raw()}
	default:
		m, _ = t.Raw().(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
	}
	if s.As != "" {
		m["as"] = s.As
	}
	if s.AggFunc != "" {
		m["aggFunc"] = s.AggFunc
	}
	if s.AsString {
		m["asString"] = true
	}
	return m
}

func (o OrderItem) Raw() any {
	m := map[string]any{}
	o.Column.fill(m)
	if o.Sort != "" {
		m["sort"] = o.Sort
	}
	return m
}

func (g GroupItem) Raw() any {
	m := map[string]any{}
	g.Column.fill(m)
	if g.ConvertFunc != "" {
		m["convertFunc"] = g.ConvertFunc
	}
	return m
}

func (f *DateTrunc) Raw() any {
	return map[string]any{"column": f.Column, "as": f.As, "aggFunc": f.Unit}
}

func (f *DateDiffField) Raw() any {
	return map[string]any{"dateDiff": f.DateDiff.Raw(), "as": f.As}
}

func (f *ToString) Raw() any {
	return map[string]any{"table": f.Table, "column": f.Column, "as": f.As}
}

func (j *Join) Raw() any {
	on := make([]any, len(j.On))
	for i, p := range j.On {
		on[i] = []any{p.Left, p.Right}
	}
	m := map[string]any{"type": j.Type, "on": on}
	if j.Table != "" {
		m["table"] = j.Table
	}
	if j.As != "" {
		m["as"] = j.As
	}
	if j.SubQuery != nil {
		m["subQuery"] = j.SubQuery.Raw()
	}
	return m
}

func (u *Union) Raw() any {
	m := map[string]any{"coll": u.Coll, "query": u.Query.Raw()}
	if u.Loop != nil {
		m["loopReplaceToIndexFunc"] = map[string]any{
			"from":  u.Loop.From,
			"start": u.Loop.Start,
			"end":   u.Loop.End,
		}
	}
	return m
}

func (q *Query) Raw() any {
	sel := make([]any, len(q.Select))
	for i, s := range q.Select {
		sel[i] = s.Raw()
	}
	m := map[string]any{"select": sel, "from": q.From}
	if q.AddFields != nil {
		fields := make([]any, len(q.AddFields))
		for i, f := range q.AddFields {
			fields[i] = f.Raw()
		}
		m["addFields"] = fields
	}
	if q.Join != nil {
		joins := make([]any, len(q.Join))
		for i := range q.Join {
			joins[i] = q.Join[i].Raw()
		}
		m["join"] = joins
	}
	if q.Where != nil {
		groups := make([]any, len(q.Where))
		for i, group := range q.Where {
			terms := make([]any, len(group))
			for j, t := range group {
				terms[j] = t.Raw()
			}
			groups[i] = terms
		}
		m["where"] = groups
	}
	if q.Group != nil {
		keys := make([]any, len(q.Group))
		for i, g := range q.Group {
			keys[i] = g.Raw()
		}
		m["group"] = keys
	}
	if q.Order != nil {
		order := make([]any, len(q.Order))
		for i, o := range q.Order {
			order[i] = o.Raw()
		}
		m["order"] = order
	}
	if q.UnionWith != nil {
		unions := make([]any, len(q.UnionWith))
		for i := range q.UnionWith {
			unions[i] = q.UnionWith[i].Raw()
		}
		m["unionWith"] = unions
	}
	return m
}
