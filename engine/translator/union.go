package translator

import (
	"math"
	"strconv"
	"strings"

	mongobuilders "github.com/omniql-engine/pipeql/engine/builders/mongodb"
	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/mapping"
)

// unions appends one $unionWith stage per union, or one per index when the
// union is a loop template.
func (qc *queryCompiler) unions() error {
	for i := range qc.q.UnionWith {
		u := &qc.q.UnionWith[i]
		p := models.IndexPath(qc.clausePath(mapping.ClauseUnionWith), i)
		if u.Loop == nil {
			compiled, err := qc.compileQuery(u.Query, models.JoinPath(p, "query"), nil)
			if err != nil {
				return err
			}
			qc.stages = append(qc.stages, mongobuilders.BuildUnionWithStage(qc.collection(u.Coll), compiled.stages))
			continue
		}

		targets, err := qc.expandLoop(u.Loop, models.JoinPath(p, "loopReplaceToIndexFunc"))
		if err != nil {
			return err
		}
		for _, target := range targets {
			// Each branch is compiled from its own copy, so the substituted
			// collection never leaks into a sibling branch.
			branch := *u.Query
			branch.From = target
			compiled, err := qc.compileQuery(&branch, models.JoinPath(p, "query"), []string{u.Query.From, u.Loop.From})
			if err != nil {
				return err
			}
			qc.stages = append(qc.stages, mongobuilders.BuildUnionWithStage(qc.collection(target), compiled.stages))
		}
	}
	return nil
}

// expandLoop lists the collections of a loop template, start and end
// inclusive.
func (qc *queryCompiler) expandLoop(loop *models.LoopReplace, path string) ([]string, error) {
	token := qc.opts.IndexToken
	if !strings.Contains(loop.From, token) {
		return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "from"),
			"template %q has no %s placeholder", loop.From, token)
	}
	for _, bound := range []struct {
		name  string
		value float64
	}{{"start", loop.Start}, {"end", loop.End}} {
		if bound.value != math.Trunc(bound.value) || math.Abs(bound.value) > math.MaxInt32 {
			return nil, models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, bound.name),
				"%s must be an integer, got %v", bound.name, bound.value)
		}
	}

	start, end := int(loop.Start), int(loop.End)
	if start > end {
		return nil, models.NewError(models.CodeSchemaMismatch, path, "start %d is after end %d", start, end)
	}
	if count := end - start + 1; count > qc.opts.MaxUnionBranches {
		return nil, models.NewError(models.CodeSchemaMismatch, path,
			"loop expands to %d branches, limit is %d", count, qc.opts.MaxUnionBranches)
	}

	targets := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		targets = append(targets, strings.ReplaceAll(loop.From, token, strconv.Itoa(i)))
	}
	return targets, nil
}
