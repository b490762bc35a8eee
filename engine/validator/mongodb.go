package validator

import (
	"strings"

	"github.com/omniql-engine/pipeql/engine/models"
)

// maxNamespaceBytes is the server's limit for "<db>.<collection>"; the
// database part is unknown here, so it is checked against the collection
// alone.
const maxNamespaceBytes = 255

// ValidCollectionName reports why name cannot be a MongoDB collection, or ""
// when it can.
func ValidCollectionName(name string) string {
	switch {
	case name == "":
		return "collection name is empty"
	case strings.ContainsRune(name, 0):
		return "collection name contains a null byte"
	case strings.Contains(name, "$"):
		return "collection name contains '$'"
	case strings.HasPrefix(name, "system."):
		return "collection name uses the reserved system. prefix"
	case len(name) > maxNamespaceBytes:
		return "collection name is too long"
	}
	return ""
}

// ValidFieldName reports why name cannot be a top-level output field, or ""
// when it can. Dotted names would nest the value instead of naming it.
func ValidFieldName(name string) string {
	switch {
	case name == "":
		return "field name is empty"
	case strings.ContainsRune(name, 0):
		return "field name contains a null byte"
	case strings.HasPrefix(name, "$"):
		return "field name starts with '$'"
	case strings.Contains(name, "."):
		return "field name contains '.'"
	}
	return ""
}

func checkCollection(name, path string) *models.CompileError {
	if reason := ValidCollectionName(name); reason != "" {
		return models.NewError(models.CodeSchemaMismatch, path, "%s: %q", reason, name)
	}
	return nil
}

func checkAlias(name, path string) *models.CompileError {
	if name == "" {
		return nil
	}
	if reason := ValidFieldName(name); reason != "" {
		return models.NewError(models.CodeSchemaMismatch, path, "%s: %q", reason, name)
	}
	return nil
}
