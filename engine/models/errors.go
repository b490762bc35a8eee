package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried by CompileError.
const (
	CodeSchemaMismatch          = "SCHEMA_MISMATCH"
	CodeUnresolvedReference     = "UNRESOLVED_REFERENCE"
	CodeOperatorOperandMismatch = "OPERATOR_OPERAND_MISMATCH"
	CodeRecursionDepthExceeded  = "RECURSION_DEPTH_EXCEEDED"
	CodeInvalidAggregateContext = "INVALID_AGGREGATE_CONTEXT"
	CodeDuplicateAlias          = "DUPLICATE_ALIAS"
)

// Sentinel errors, one per code. A CompileError matches its code's sentinel
// with errors.Is.
var (
	// ErrSchemaMismatch: the value matches none of the shapes accepted for its slot.
	ErrSchemaMismatch = errors.New("pipeql: schema mismatch")

	// ErrUnresolvedReference: a table, column or alias cannot be resolved.
	ErrUnresolvedReference = errors.New("pipeql: unresolved reference")

	// ErrOperatorOperandMismatch: comparison over conditions, or logical over values.
	ErrOperatorOperandMismatch = errors.New("pipeql: operator/operand mismatch")

	// ErrRecursionDepthExceeded: the term tree is nested deeper than allowed.
	ErrRecursionDepthExceeded = errors.New("pipeql: recursion depth exceeded")

	// ErrInvalidAggregateContext: aggFunc used outside a grouped projection.
	ErrInvalidAggregateContext = errors.New("pipeql: invalid aggregate context")

	// ErrDuplicateAlias: two select items produce the same output name.
	ErrDuplicateAlias = errors.New("pipeql: duplicate alias")
)

var sentinels = map[string]error{
	CodeSchemaMismatch:          ErrSchemaMismatch,
	CodeUnresolvedReference:     ErrUnresolvedReference,
	CodeOperatorOperandMismatch: ErrOperatorOperandMismatch,
	CodeRecursionDepthExceeded:  ErrRecursionDepthExceeded,
	CodeInvalidAggregateContext: ErrInvalidAggregateContext,
	CodeDuplicateAlias:          ErrDuplicateAlias,
}

// CompileError is a structured failure identifying the offending clause and
// the path of the field inside the query document.
type CompileError struct {
	Code       string
	Clause     string // select, join, where, ...; empty when not attributable
	Path       string // e.g. select[1].leftTerm.column
	Message    string
	Suggestion string
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.Code))
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, ". Did you mean '%s'?", e.Suggestion)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrSchemaMismatch) and friends work.
func (e *CompileError) Is(target error) bool {
	return sentinels[e.Code] == target
}

// NewError creates a CompileError. The clause is derived from the first path segment.
func NewError(code, path, format string, args ...any) *CompileError {
	return &CompileError{
		Code:    code,
		Clause:  clauseOf(path),
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithSuggestion sets the closest candidate to name, if any is close enough.
func (e *CompileError) WithSuggestion(name string, candidates []string) *CompileError {
	e.Suggestion = SuggestSimilar(name, candidates)
	return e
}

func clauseOf(path string) string {
	end := strings.IndexAny(path, ".[")
	if end < 0 {
		return path
	}
	return path[:end]
}

// JoinPath appends a field name to a path.
func JoinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

// IndexPath appends an index to a path.
func IndexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// IsSchemaMismatchErr returns true if err is or wraps ErrSchemaMismatch.
func IsSchemaMismatchErr(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsUnresolvedReferenceErr returns true if err is or wraps ErrUnresolvedReference.
func IsUnresolvedReferenceErr(err error) bool {
	return errors.Is(err, ErrUnresolvedReference)
}

// IsOperatorOperandMismatchErr returns true if err is or wraps ErrOperatorOperandMismatch.
func IsOperatorOperandMismatchErr(err error) bool {
	return errors.Is(err, ErrOperatorOperandMismatch)
}

// IsRecursionDepthExceededErr returns true if err is or wraps ErrRecursionDepthExceeded.
func IsRecursionDepthExceededErr(err error) bool {
	return errors.Is(err, ErrRecursionDepthExceeded)
}

// IsInvalidAggregateContextErr returns true if err is or wraps ErrInvalidAggregateContext.
func IsInvalidAggregateContextErr(err error) bool {
	return errors.Is(err, ErrInvalidAggregateContext)
}

// IsDuplicateAliasErr returns true if err is or wraps ErrDuplicateAlias.
func IsDuplicateAliasErr(err error) bool {
	return errors.Is(err, ErrDuplicateAlias)
}

// ============================================================================
// SUGGESTIONS
// ============================================================================

// SuggestSimilar finds the closest candidate to unknown
func SuggestSimilar(unknown string, candidates []string) string {
	var bestMatch string
	bestDistance := 999
	maxDistance := 3 // Only suggest if within 3 edits

	for _, c := range candidates {
		if c == unknown {
			continue
		}
		dist := levenshtein(strings.ToLower(unknown), strings.ToLower(c))
		if dist < bestDistance && dist <= maxDistance {
			bestDistance = dist
			bestMatch = c
		}
	}
	return bestMatch
}

// levenshtein calculates edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
