package translator

import (
	"sort"
	"strings"

	"github.com/omniql-engine/pipeql/engine/models"
)

// namespace tracks which table names a query may reference: the root
// collection and the join aliases declared so far.
type namespace struct {
	roots   []string // names of the root collection (as written, and any template)
	aliases []string // join aliases in declaration order
}

func newNamespace(roots ...string) *namespace {
	ns := &namespace{}
	for _, r := range roots {
		if r != "" {
			ns.roots = append(ns.roots, r)
		}
	}
	return ns
}

func (ns *namespace) isRoot(table string) bool {
	for _, r := range ns.roots {
		if r == table {
			return true
		}
	}
	return false
}

func (ns *namespace) isAlias(table string) bool {
	for _, a := range ns.aliases {
		if a == table {
			return true
		}
	}
	return false
}

func (ns *namespace) names() []string {
	out := make([]string, 0, len(ns.roots)+len(ns.aliases))
	out = append(out, ns.roots...)
	return append(out, ns.aliases...)
}

func (ns *namespace) declare(alias, path string) error {
	if ns.isRoot(alias) || ns.isAlias(alias) {
		return models.NewError(models.CodeDuplicateAlias, path, "table name %q is already in use", alias)
	}
	ns.aliases = append(ns.aliases, alias)
	return nil
}

// Field implements mongodb.FieldResolver. Root columns are top-level fields,
// joined columns live under the join alias.
func (ns *namespace) Field(col *models.Column, path string) (string, error) {
	if col.Column == "" {
		return "", models.NewError(models.CodeUnresolvedReference, path, "column reference has no column name")
	}
	switch {
	case col.Table == "" || ns.isRoot(col.Table):
		return col.Column, nil
	case ns.isAlias(col.Table):
		return col.Table + "." + col.Column, nil
	}
	return "", ns.unknownTable(col.Table, models.JoinPath(path, "table"))
}

// outputName is the default output name of a column: the column for root
// fields, alias_column for joined ones.
func (ns *namespace) outputName(col *models.Column) string {
	if col.Table == "" || ns.isRoot(col.Table) {
		return col.Column
	}
	return col.Table + "_" + col.Column
}

// outerField resolves the left side of a join pair ("orders.id", "c.id" or
// a bare root column).
func (ns *namespace) outerField(ref, path string) (string, error) {
	table, column, qualified := strings.Cut(ref, ".")
	switch {
	case !qualified:
		return ref, nil
	case column == "":
		return "", models.NewError(models.CodeUnresolvedReference, path, "empty field in %q", ref)
	case ns.isRoot(table):
		return column, nil
	case ns.isAlias(table):
		return table + "." + column, nil
	}
	return "", ns.unknownTable(table, path)
}

func (ns *namespace) unknownTable(table, path string) error {
	return models.NewError(models.CodeUnresolvedReference, path, "unknown table %q", table).
		WithSuggestion(table, ns.names())
}

// innerField resolves the right side of a join pair against the joined
// collection. names lists the accepted qualifiers (alias, collection);
// outputs, when non-nil, restricts the field to a subquery's outputs.
func innerField(ref string, names []string, outputs map[string]bool, path string) (string, error) {
	field := ref
	if table, column, qualified := strings.Cut(ref, "."); qualified {
		known := false
		for _, n := range names {
			if n == table {
				known = true
				break
			}
		}
		if !known {
			return "", models.NewError(models.CodeUnresolvedReference, path, "unknown table %q", table).
				WithSuggestion(table, names)
		}
		field = column
	}
	if field == "" {
		return "", models.NewError(models.CodeUnresolvedReference, path, "empty field in %q", ref)
	}
	if outputs != nil && !outputs[field] {
		candidates := make([]string, 0, len(outputs))
		for name := range outputs {
			candidates = append(candidates, name)
		}
		sort.Strings(candidates)
		return "", models.NewError(models.CodeUnresolvedReference, path,
			"subquery has no output %q", field).WithSuggestion(field, candidates)
	}
	return field, nil
}
