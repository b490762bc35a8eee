package translator

import (
	"fmt"
	"sort"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	mongobuilders "github.com/omniql-engine/pipeql/engine/builders/mongodb"
	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/validator"
	"github.com/omniql-engine/pipeql/mapping"
)

// compiledQuery is one compiled (sub)query and the output names its
// documents carry.
type compiledQuery struct {
	stages  mongo.Pipeline
	outputs map[string]bool
}

// queryCompiler holds the per-query state of one compilation.
type queryCompiler struct {
	*Compiler
	q      *models.Query
	path   string
	ns     *namespace
	exprs  *mongobuilders.ExpressionBuilder
	stages mongo.Pipeline
}

func (c *Compiler) compileQuery(q *models.Query, path string, extraRoots []string) (*compiledQuery, error) {
	ns := newNamespace(append([]string{q.From, c.collection(q.From)}, extraRoots...)...)
	qc := &queryCompiler{
		Compiler: c,
		q:        q,
		path:     path,
		ns:       ns,
		exprs:    &mongobuilders.ExpressionBuilder{Fields: ns, Location: c.location},
	}

	// ========== STAGE ORDER ==========
	if err := qc.addFields(); err != nil {
		return nil, err
	}
	if err := qc.joins(); err != nil {
		return nil, err
	}
	if err := qc.where(); err != nil {
		return nil, err
	}
	outputs, err := qc.projection()
	if err != nil {
		return nil, err
	}
	if err := qc.order(outputs); err != nil {
		return nil, err
	}
	if err := qc.unions(); err != nil {
		return nil, err
	}

	return &compiledQuery{stages: qc.stages, outputs: outputs}, nil
}

func (qc *queryCompiler) clausePath(clause string) string {
	return models.JoinPath(qc.path, clause)
}

// ============================================================================
// ADD FIELDS
// ============================================================================

// addFields emits one $addFields stage per helper. Helpers see root columns
// and the helpers declared before them.
func (qc *queryCompiler) addFields() error {
	for i, field := range qc.q.AddFields {
		p := models.IndexPath(qc.clausePath(mapping.ClauseAddFields), i)

		var expr interface{}
		switch f := field.(type) {
		case *models.DateTrunc:
			field, err := qc.ns.Field(&models.Column{Column: f.Column}, models.JoinPath(p, "column"))
			if err != nil {
				return err
			}
			expr = mongobuilders.DateTrunc(mongobuilders.FieldRef(field), mapping.DateTruncUnits[f.Unit], qc.opts.TimeZone)
		case *models.DateDiffField:
			built, err := qc.exprs.DateDiff(f.DateDiff, models.JoinPath(p, "dateDiff"))
			if err != nil {
				return err
			}
			expr = built
		case *models.ToString:
			col := &models.Column{Table: f.Table, Column: f.Column}
			built, err := qc.exprs.Build(col, p)
			if err != nil {
				return err
			}
			expr = mongobuilders.ToString(built)
		default:
			return models.NewError(models.CodeSchemaMismatch, p, "unexpected helper %T", field)
		}
		qc.stages = append(qc.stages, mongobuilders.BuildAddFieldsStage(field.Alias(), expr))
	}
	return nil
}

// ============================================================================
// JOINS
// ============================================================================

func (qc *queryCompiler) joins() error {
	for i := range qc.q.Join {
		if err := qc.join(&qc.q.Join[i], models.IndexPath(qc.clausePath(mapping.ClauseJoin), i)); err != nil {
			return err
		}
	}
	return nil
}

func (qc *queryCompiler) join(j *models.Join, path string) error {
	kind, ok := validator.NormalizeJoinType(j.Type)
	if !ok {
		return models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "type"),
			"unsupported join type %q", j.Type)
	}
	alias := j.JoinAlias()

	// Right-hand fields may be qualified by the alias or the collection.
	var (
		from     string
		sub      mongo.Pipeline
		outputs  map[string]bool
		innerIDs = []string{alias}
	)
	if j.SubQuery != nil {
		compiled, err := qc.compileQuery(j.SubQuery, models.JoinPath(path, "subQuery"), nil)
		if err != nil {
			return err
		}
		from = qc.collection(j.SubQuery.From)
		sub = compiled.stages
		outputs = compiled.outputs
		innerIDs = append(innerIDs, j.SubQuery.From)
	} else {
		from = qc.collection(j.Table)
		sub = mongo.Pipeline{}
		innerIDs = append(innerIDs, j.Table)
	}

	// The left side is resolved before the alias is declared, so a join
	// cannot correlate with itself.
	let := bson.D{}
	eqs := bson.A{}
	for k, pair := range j.On {
		pairPath := models.IndexPath(models.JoinPath(path, "on"), k)
		outer, err := qc.ns.outerField(pair.Left, models.IndexPath(pairPath, 0))
		if err != nil {
			return err
		}
		inner, err := innerField(pair.Right, innerIDs, outputs, models.IndexPath(pairPath, 1))
		if err != nil {
			return err
		}
		name := "l" + strconv.Itoa(k)
		let = append(let, bson.E{Key: name, Value: mongobuilders.FieldRef(outer)})
		eqs = append(eqs, bson.M{"$eq": bson.A{mongobuilders.FieldRef(inner), "$$" + name}})
	}

	pipeline := append(mongo.Pipeline{}, sub...)
	if len(eqs) > 0 {
		pipeline = append(pipeline, mongobuilders.BuildMatchStage(bson.M{"$and": eqs}))
	}

	if err := qc.ns.declare(alias, path); err != nil {
		return err
	}
	qc.stages = append(qc.stages,
		mongobuilders.BuildLookupStage(from, alias, let, pipeline),
		mongobuilders.BuildUnwindStage(alias, kind == validator.JoinLeft),
	)
	return nil
}

// ============================================================================
// WHERE
// ============================================================================

func (qc *queryCompiler) where() error {
	wherePath := qc.clausePath(mapping.ClauseWhere)
	groups := make([][]interface{}, 0, len(qc.q.Where))
	for i, group := range qc.q.Where {
		built := make([]interface{}, 0, len(group))
		for j, ct := range group {
			expr, err := qc.exprs.Condition(ct, models.IndexPath(models.IndexPath(wherePath, i), j))
			if err != nil {
				return err
			}
			built = append(built, expr)
		}
		groups = append(groups, built)
	}
	if filter := mongobuilders.BuildFilter(groups); filter != nil {
		qc.stages = append(qc.stages, mongobuilders.BuildMatchStage(filter))
	}
	return nil
}

// ============================================================================
// SELECT, GROUP, PROJECT
// ============================================================================

type selectOutput struct {
	name     string
	expr     interface{}
	aggFunc  string
	asString bool
	field    string // resolved field path for plain column items
}

func (qc *queryCompiler) selectOutputs() ([]selectOutput, error) {
	selectPath := qc.clausePath(mapping.ClauseSelect)
	seen := make(map[string]bool, len(qc.q.Select))
	outs := make([]selectOutput, 0, len(qc.q.Select))

	for i, item := range qc.q.Select {
		p := models.IndexPath(selectPath, i)
		expr, err := qc.exprs.Build(item.Term, p)
		if err != nil {
			return nil, err
		}
		out := selectOutput{
			name:     item.As,
			expr:     expr,
			aggFunc:  item.EffectiveAggFunc(),
			asString: item.AsString,
		}
		if col, ok := item.Term.(*models.Column); ok && col.IfNull == nil {
			out.field, _ = qc.ns.Field(col, p)
		}
		if out.name == "" {
			out.name = qc.defaultName(item.Term, i)
		}
		if seen[out.name] {
			return nil, models.NewError(models.CodeDuplicateAlias, p, "output %q is already defined", out.name)
		}
		seen[out.name] = true
		outs = append(outs, out)
	}
	return outs, nil
}

func (qc *queryCompiler) defaultName(t models.Term, index int) string {
	switch n := t.(type) {
	case *models.Column:
		return qc.ns.outputName(n)
	case *models.Variable:
		return n.Name
	}
	return fmt.Sprintf("expr%d", index)
}

// projection emits the optional $group stage and the $project stage, and
// returns the names the output documents carry.
func (qc *queryCompiler) projection() (map[string]bool, error) {
	outs, err := qc.selectOutputs()
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]bool, len(outs))
	project := bson.D{}

	if !qc.q.Aggregated() {
		for _, out := range outs {
			outputs[out.name] = true
			project = append(project, bson.E{Key: out.name, Value: finalValue(out, out.expr)})
		}
		qc.stages = append(qc.stages, mongobuilders.BuildProjectStage(hideID(outputs, project)))
		return outputs, nil
	}

	// Group keys
	groupPath := qc.clausePath(mapping.ClauseGroup)
	var groupID interface{}
	keys := bson.D{}
	keyByField := make(map[string]string, len(qc.q.Group))
	keyFields := make(map[string]string, len(qc.q.Group)) // key name -> grouped field
	for i, g := range qc.q.Group {
		p := models.IndexPath(groupPath, i)
		col := g.Column
		field, err := qc.ns.Field(&col, p)
		if err != nil {
			return nil, err
		}
		name := qc.ns.outputName(&col)
		if _, dup := keyFields[name]; dup {
			return nil, models.NewError(models.CodeDuplicateAlias, p, "group key %q is already defined", name)
		}
		keyFields[name] = field

		var key interface{} = mongobuilders.FieldRef(field)
		if col.IfNull != nil {
			key = bson.M{"$ifNull": bson.A{key, mongobuilders.ParseMongoValue(*col.IfNull)}}
		}
		if g.ConvertFunc != "" {
			converted, ok := mongobuilders.Convert(g.ConvertFunc, key)
			if !ok {
				return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(p, "convertFunc"),
					"unknown convertFunc %q", g.ConvertFunc)
			}
			key = converted
		}
		keys = append(keys, bson.E{Key: name, Value: key})
		if g.ConvertFunc == "" && col.IfNull == nil {
			keyByField[field] = name
		}
	}
	if len(keys) > 0 {
		groupID = keys
	}

	// Accumulators
	selectPath := qc.clausePath(mapping.ClauseSelect)
	accumulators := bson.D{}
	projected := bson.D{}
	for i, out := range outs {
		if out.name == "_id" {
			return nil, models.NewError(models.CodeDuplicateAlias, models.IndexPath(selectPath, i),
				"_id is reserved for the group key")
		}
		if field, isKey := keyFields[out.name]; isKey && (out.aggFunc != "" || out.field != field) {
			return nil, models.NewError(models.CodeDuplicateAlias, models.IndexPath(selectPath, i),
				"output %q collides with the group key of the same name", out.name)
		}
		outputs[out.name] = true

		if out.aggFunc != "" {
			acc, ok := mongobuilders.Accumulator(out.aggFunc, out.expr)
			if !ok {
				return nil, models.NewError(models.CodeInvalidAggregateContext, models.IndexPath(selectPath, i),
					"unknown aggFunc %q", out.aggFunc)
			}
			accumulators = append(accumulators, bson.E{Key: out.name, Value: acc})
			projected = append(projected, bson.E{Key: out.name, Value: finalValue(out, "$"+out.name)})
			continue
		}
		if key, ok := keyByField[out.field]; ok && out.field != "" {
			projected = append(projected, bson.E{Key: out.name, Value: finalValue(out, "$_id."+key)})
			continue
		}
		accumulators = append(accumulators, bson.E{Key: out.name, Value: bson.M{"$first": out.expr}})
		projected = append(projected, bson.E{Key: out.name, Value: finalValue(out, "$"+out.name)})
	}
	qc.stages = append(qc.stages, mongobuilders.BuildGroupStage(groupID, accumulators))

	// Group keys first, unless a select item already exposes them under
	// the same name.
	for _, key := range keys {
		if outputs[key.Key] {
			continue
		}
		outputs[key.Key] = true
		project = append(project, bson.E{Key: key.Key, Value: "$_id." + key.Key})
	}
	project = append(project, projected...)
	qc.stages = append(qc.stages, mongobuilders.BuildProjectStage(hideID(outputs, project)))
	return outputs, nil
}

func finalValue(out selectOutput, value interface{}) interface{} {
	if out.asString {
		return mongobuilders.ToString(value)
	}
	return value
}

// hideID drops the document _id unless an output claims the name.
func hideID(outputs map[string]bool, project bson.D) bson.D {
	if outputs["_id"] {
		return project
	}
	return append(bson.D{{Key: "_id", Value: 0}}, project...)
}

// ============================================================================
// ORDER
// ============================================================================

func (qc *queryCompiler) order(outputs map[string]bool) error {
	if len(qc.q.Order) == 0 {
		return nil
	}
	orderPath := qc.clausePath(mapping.ClauseOrder)
	keys := bson.D{}
	for i, o := range qc.q.Order {
		p := models.IndexPath(orderPath, i)
		col := o.Column
		name := col.Column
		if col.Table != "" && !qc.ns.isRoot(col.Table) {
			name = qc.ns.outputName(&col)
		}
		if !outputs[name] {
			candidates := make([]string, 0, len(outputs))
			for out := range outputs {
				candidates = append(candidates, out)
			}
			sort.Strings(candidates)
			return models.NewError(models.CodeUnresolvedReference, p,
				"order field %q is not a selected output", name).WithSuggestion(name, candidates)
		}
		direction := mapping.SortDirections["asc"]
		if o.Sort != "" {
			direction = mapping.SortDirections[o.Sort]
		}
		keys = append(keys, bson.E{Key: name, Value: direction})
	}
	qc.stages = append(qc.stages, mongobuilders.BuildSortStage(keys))
	return nil
}
