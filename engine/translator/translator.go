// Package translator compiles validated queries into MongoDB aggregation
// pipelines.
package translator

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/validator"
	"github.com/omniql-engine/pipeql/mapping"
)

// Defaults for Options.
const (
	DefaultIndexToken       = "{i}"
	DefaultMaxUnionBranches = 1000
)

// Options tune compilation.
type Options struct {
	// IndexToken is replaced by the branch index in loopReplaceToIndexFunc.from.
	IndexToken string
	// MaxUnionBranches caps how many branches one loop may expand to.
	MaxUnionBranches int
	// TimeZone is used for date literals without an explicit zone and for
	// date truncation. Empty means UTC.
	TimeZone string
	// CollectionNaming is one of mapping.CollectionNamingRules.
	CollectionNaming string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		IndexToken:       DefaultIndexToken,
		MaxUnionBranches: DefaultMaxUnionBranches,
		CollectionNaming: mapping.NamingNone,
	}
}

// Compiler turns queries into pipelines. It holds no mutable state and is
// safe for concurrent use.
type Compiler struct {
	opts     Options
	location *time.Location
}

// New creates a Compiler. Zero-valued options fall back to the defaults.
func New(opts Options) (*Compiler, error) {
	defaults := DefaultOptions()
	if opts.IndexToken == "" {
		opts.IndexToken = defaults.IndexToken
	}
	if opts.MaxUnionBranches <= 0 {
		opts.MaxUnionBranches = defaults.MaxUnionBranches
	}
	if opts.CollectionNaming == "" {
		opts.CollectionNaming = defaults.CollectionNaming
	}
	if !mapping.IsSupportedNaming(opts.CollectionNaming) {
		return nil, fmt.Errorf("unsupported collection naming %q (supported: %v)",
			opts.CollectionNaming, mapping.CollectionNamingRules)
	}

	loc, err := location(opts.TimeZone)
	if err != nil {
		return nil, err
	}
	return &Compiler{opts: opts, location: loc}, nil
}

// Options returns the effective options.
func (c *Compiler) Options() Options {
	return c.opts
}

// location resolves an offset (+07, -05:30) or IANA zone name.
func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return validator.LoadTimeZone(tz)
}

// Collection returns the collection a query's pipeline runs against.
func (c *Compiler) Collection(q *models.Query) string {
	return c.collection(q.From)
}

func (c *Compiler) collection(name string) string {
	return mapping.CollectionName(name, c.opts.CollectionNaming)
}

// Compile validates q and lowers it into pipeline stages: addFields, joins,
// match, group, project, sort, then unionWith. On failure it returns a
// *models.CompileError and no stages.
func (c *Compiler) Compile(q *models.Query) (mongo.Pipeline, error) {
	if q == nil {
		return nil, models.NewError(models.CodeSchemaMismatch, "", "query is nil")
	}
	if err := validator.Validate(q); err != nil {
		return nil, err
	}
	compiled, err := c.compileQuery(q, "", nil)
	if err != nil {
		return nil, err
	}
	return compiled.stages, nil
}
