// Package validator checks the semantic rules a cast query must satisfy
// before compilation: operator/operand agreement, aggregate placement,
// join kinds, conversion hints, time zones and MongoDB naming rules.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zone names without relying on the host database

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/mapping"
)

// Join kinds after normalization.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
)

var joinKinds = map[string]string{
	"inner":         JoinInner,
	"innerjoin":     JoinInner,
	"join":          JoinInner,
	"left":          JoinLeft,
	"leftjoin":      JoinLeft,
	"leftouter":     JoinLeft,
	"leftouterjoin": JoinLeft,
}

// NormalizeJoinType maps the accepted spellings ("inner join", "left outer",
// "leftOuter", ...) to JoinInner or JoinLeft.
func NormalizeJoinType(kind string) (string, bool) {
	key := strings.ToLower(kind)
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	normalized, ok := joinKinds[key]
	return normalized, ok
}

var offsetZone = regexp.MustCompile(`^[+-](\d{2})(:?(\d{2}))?$`)

// ValidTimeZone accepts UTC offsets (+07, -05:30, +0530) and IANA names.
func ValidTimeZone(tz string) bool {
	if tz == "" {
		return false
	}
	if m := offsetZone.FindStringSubmatch(tz); m != nil {
		return m[1] <= "14" && (m[3] == "" || m[3] < "60")
	}
	if strings.ContainsAny(tz, " +") {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LoadTimeZone resolves a zone accepted by ValidTimeZone. Offsets become
// fixed zones named as written.
func LoadTimeZone(tz string) (*time.Location, error) {
	if !ValidTimeZone(tz) {
		return nil, fmt.Errorf("invalid time zone %q", tz)
	}
	if m := offsetZone.FindStringSubmatch(tz); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[3])
		offset := hours*3600 + minutes*60
		if tz[0] == '-' {
			offset = -offset
		}
		return time.FixedZone(tz, offset), nil
	}
	return time.LoadLocation(tz)
}

// Validate checks q and every nested query (join subqueries and union
// branches). The first violation is returned as a *models.CompileError.
func Validate(q *models.Query) error {
	if err := validateQuery(q, ""); err != nil {
		return err
	}
	return nil
}

func validateQuery(q *models.Query, path string) *models.CompileError {
	if err := checkCollection(q.From, models.JoinPath(path, mapping.ClauseFrom)); err != nil {
		return err
	}

	for i, item := range q.Select {
		p := models.IndexPath(models.JoinPath(path, mapping.ClauseSelect), i)
		if err := checkAlias(item.As, models.JoinPath(p, "as")); err != nil {
			return err
		}
		if err := validateSelect(item, p); err != nil {
			return err
		}
	}

	for i, field := range q.AddFields {
		p := models.IndexPath(models.JoinPath(path, mapping.ClauseAddFields), i)
		if err := checkAlias(field.Alias(), models.JoinPath(p, "as")); err != nil {
			return err
		}
		if diff, ok := field.(*models.DateDiffField); ok {
			if err := validateDateDiff(diff.DateDiff, models.JoinPath(p, "dateDiff")); err != nil {
				return err
			}
		}
	}

	for i := range q.Join {
		if err := validateJoin(&q.Join[i], models.IndexPath(models.JoinPath(path, mapping.ClauseJoin), i)); err != nil {
			return err
		}
	}

	wherePath := models.JoinPath(path, mapping.ClauseWhere)
	for i, group := range q.Where {
		for j, ct := range group {
			if err := validateConditionTerm(ct, models.IndexPath(models.IndexPath(wherePath, i), j)); err != nil {
				return err
			}
		}
	}

	for i, g := range q.Group {
		p := models.IndexPath(models.JoinPath(path, mapping.ClauseGroup), i)
		if err := requireColumn(&g.Column, p); err != nil {
			return err
		}
		if g.ConvertFunc != "" {
			if _, ok := mapping.ConvertFunctions[strings.ToLower(g.ConvertFunc)]; !ok {
				return models.NewError(models.CodeSchemaMismatch, models.JoinPath(p, "convertFunc"),
					"unknown convertFunc %q", g.ConvertFunc)
			}
		}
	}

	for i, o := range q.Order {
		if err := requireColumn(&o.Column, models.IndexPath(models.JoinPath(path, mapping.ClauseOrder), i)); err != nil {
			return err
		}
	}

	for i, u := range q.UnionWith {
		p := models.IndexPath(models.JoinPath(path, mapping.ClauseUnionWith), i)
		if u.Loop != nil {
			if err := checkCollection(u.Loop.From, models.JoinPath(p, "loopReplaceToIndexFunc.from")); err != nil {
				return err
			}
		} else if err := checkCollection(u.Coll, models.JoinPath(p, "coll")); err != nil {
			return err
		}
		if err := validateQuery(u.Query, models.JoinPath(p, "query")); err != nil {
			return err
		}
	}
	return nil
}

func validateSelect(item models.SelectItem, path string) *models.CompileError {
	// A Condition may carry aggFunc only as the select item's own term.
	if cond, ok := item.Term.(*models.Condition); ok {
		if err := validateCondition(cond, path, true); err != nil {
			return err
		}
		return nil
	}
	if col, ok := item.Term.(*models.Column); ok {
		return requireColumn(col, path)
	}
	return validateTerm(item.Term, path)
}

func validateJoin(j *models.Join, path string) *models.CompileError {
	if _, ok := NormalizeJoinType(j.Type); !ok {
		return models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "type"),
			"unsupported join type %q, expected inner or left", j.Type)
	}
	if j.Table != "" {
		if err := checkCollection(j.Table, models.JoinPath(path, "table")); err != nil {
			return err
		}
	}
	if err := checkAlias(j.As, models.JoinPath(path, "as")); err != nil {
		return err
	}
	if j.SubQuery != nil {
		return validateQuery(j.SubQuery, models.JoinPath(path, "subQuery"))
	}
	return nil
}

// validateTerm walks a term tree. Nested Conditions never carry aggFunc.
func validateTerm(t models.Term, path string) *models.CompileError {
	switch n := t.(type) {
	case models.Value, *models.Variable, *models.Literal:
		return nil
	case *models.Column:
		return requireColumn(n, path)
	case *models.Expression:
		if err := validateOperand(n.Left, models.JoinPath(path, "leftTerm")); err != nil {
			return err
		}
		return validateOperand(n.Right, models.JoinPath(path, "rightTerm"))
	case *models.ConditionTerm:
		return validateConditionTerm(n, path)
	case *models.Condition:
		return validateCondition(n, path, false)
	case *models.DateDiff:
		return validateDateDiff(n, path)
	}
	return models.NewError(models.CodeSchemaMismatch, path, "unexpected term %T", t)
}

// validateOperand rejects condition terms where a scalar is expected.
func validateOperand(t models.Term, path string) *models.CompileError {
	if _, ok := t.(*models.ConditionTerm); ok {
		return models.NewError(models.CodeOperatorOperandMismatch, path,
			"a boolean condition cannot be used as an arithmetic operand")
	}
	return validateTerm(t, path)
}

func validateConditionTerm(ct *models.ConditionTerm, path string) *models.CompileError {
	_, leftIsCond := ct.Left.(*models.ConditionTerm)
	_, rightIsCond := ct.Right.(*models.ConditionTerm)

	switch {
	case mapping.IsLogical(ct.Operator):
		if !leftIsCond || !rightIsCond {
			return models.NewError(models.CodeOperatorOperandMismatch, path,
				"logical operator %q needs conditions on both sides", ct.Operator)
		}
	case mapping.IsComparison(ct.Operator):
		if leftIsCond || rightIsCond {
			return models.NewError(models.CodeOperatorOperandMismatch, path,
				"comparison operator %q cannot compare conditions", ct.Operator)
		}
	default:
		return models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "operator"),
			"unsupported operator %q", ct.Operator)
	}

	if err := validateTerm(ct.Left, models.JoinPath(path, "leftTerm")); err != nil {
		return err
	}
	return validateTerm(ct.Right, models.JoinPath(path, "rightTerm"))
}

func validateCondition(c *models.Condition, path string, topLevel bool) *models.CompileError {
	if c.AggFunc != "" && !topLevel {
		return models.NewError(models.CodeInvalidAggregateContext, models.JoinPath(path, "aggFunc"),
			"aggFunc is only allowed on a condition used directly as a select item")
	}
	if err := validateConditionTerm(c.If, models.JoinPath(path, "if")); err != nil {
		return err
	}
	if err := validateOperand(c.Then, models.JoinPath(path, "then")); err != nil {
		return err
	}
	return validateOperand(c.Else, models.JoinPath(path, "else"))
}

func validateDateDiff(d *models.DateDiff, path string) *models.CompileError {
	if !ValidTimeZone(d.TimeZone) {
		return models.NewError(models.CodeSchemaMismatch, models.JoinPath(path, "timeZone"),
			"invalid time zone %q", d.TimeZone)
	}
	if err := validateOperand(d.StartDate, models.JoinPath(path, "startDate")); err != nil {
		return err
	}
	return validateOperand(d.EndDate, models.JoinPath(path, "endDate"))
}

func requireColumn(c *models.Column, path string) *models.CompileError {
	if c.Column == "" {
		return models.NewError(models.CodeUnresolvedReference, path, "column reference has no column name")
	}
	return nil
}
