// client.go

package pql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/cache"
	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/parser"
	"github.com/omniql-engine/pipeql/engine/translator"
)

// ============================================
// CLIENT STRUCT
// ============================================

// Client compiles query documents and runs them against a MongoDB database.
// A Client is safe for concurrent use.
type Client struct {
	db       *mongo.Database
	parser   *parser.Parser
	compiler *translator.Compiler
	cache    *cache.Cache
	logger   *slog.Logger
}

// Plan is a compiled query ready to run.
type Plan struct {
	Query      *models.Query
	Collection string
	Pipeline   mongo.Pipeline
	Cached     bool
}

// ErrNoDatabase is returned by Query when the client wraps no database.
var ErrNoDatabase = errors.New("pipeql: client has no database")

// ============================================
// CONSTRUCTORS
// ============================================

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithParser replaces the default parser.
func WithParser(p *parser.Parser) ClientOption {
	return func(c *Client) { c.parser = p }
}

// WithCompiler replaces the default compiler.
func WithCompiler(compiler *translator.Compiler) ClientOption {
	return func(c *Client) { c.compiler = compiler }
}

// WithCache enables the compiled pipeline cache.
func WithCache(pc *cache.Cache) ClientOption {
	return func(c *Client) { c.cache = pc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WrapMongo wraps a MongoDB database. db may be nil for a compile-only
// client.
func WrapMongo(db *mongo.Database, opts ...ClientOption) *Client {
	c := &Client{
		db:       db,
		parser:   defaultParser,
		compiler: defaultCompiler,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================
// COMPILATION
// ============================================

// Pipeline parses raw and compiles it, consulting the cache first when one
// is configured. Cache failures are logged and never fail the call.
func (c *Client) Pipeline(ctx context.Context, raw []byte) (*Plan, error) {
	q, err := c.parser.Parse(raw, parser.FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return c.plan(ctx, q)
}

// Plan compiles an already parsed query.
func (c *Client) Plan(ctx context.Context, q *models.Query) (*Plan, error) {
	return c.plan(ctx, q)
}

func (c *Client) plan(ctx context.Context, q *models.Query) (*Plan, error) {
	if q == nil {
		return nil, fmt.Errorf("compile error: %w", models.NewError(models.CodeSchemaMismatch, "", "query is nil"))
	}
	plan := &Plan{Query: q, Collection: c.compiler.Collection(q)}

	var fingerprint string
	if c.cache != nil {
		fp, err := cache.Fingerprint(q.Raw(), c.compiler.Options())
		if err != nil {
			c.logger.Warn("pipeline cache key failed", "error", err)
		} else {
			fingerprint = fp
			pipeline, ok, err := c.cache.Get(ctx, fp)
			switch {
			case err != nil:
				c.logger.Warn("pipeline cache read failed", "key", fp, "error", err)
			case ok:
				c.logger.Debug("pipeline cache hit", "key", fp, "collection", plan.Collection)
				plan.Pipeline = pipeline
				plan.Cached = true
				return plan, nil
			default:
				c.logger.Debug("pipeline cache miss", "key", fp)
			}
		}
	}

	pipeline, err := c.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	plan.Pipeline = pipeline

	if fingerprint != "" {
		if err := c.cache.Put(ctx, fingerprint, pipeline); err != nil {
			c.logger.Warn("pipeline cache write failed", "key", fingerprint, "error", err)
		}
	}
	return plan, nil
}

// ============================================
// EXECUTION
// ============================================

// Query compiles raw and runs the pipeline with Aggregate.
func (c *Client) Query(ctx context.Context, raw []byte) ([]map[string]any, error) {
	if c.db == nil {
		return nil, ErrNoDatabase
	}
	plan, err := c.Pipeline(ctx, raw)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, plan)
}

// Run executes a compiled plan.
func (c *Client) Run(ctx context.Context, plan *Plan) ([]map[string]any, error) {
	if c.db == nil {
		return nil, ErrNoDatabase
	}
	c.logger.Debug("running aggregate",
		"collection", plan.Collection,
		"stages", len(plan.Pipeline),
		"cached", plan.Cached)

	cursor, err := c.db.Collection(plan.Collection).Aggregate(ctx, plan.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate error: %w", err)
	}
	defer cursor.Close(ctx)

	var results []map[string]any
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		results = append(results, bsonToMap(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	c.logger.Debug("aggregate finished", "collection", plan.Collection, "documents", len(results))
	return results, nil
}

// ============================================
// HELPERS
// ============================================

func bsonToMap(doc bson.M) map[string]any {
	result := make(map[string]any, len(doc))
	for k, v := range doc {
		result[k] = v
	}
	return result
}
