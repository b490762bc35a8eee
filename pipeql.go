// Package pql compiles structured query documents into MongoDB aggregation
// pipelines and runs them.
package pql

import (
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/parser"
	"github.com/omniql-engine/pipeql/engine/schema"
	"github.com/omniql-engine/pipeql/engine/translator"
)

var (
	defaultParser   = parser.New(schema.NewRegistry())
	defaultCompiler = mustCompiler(translator.New(translator.DefaultOptions()))
)

func mustCompiler(c *translator.Compiler, err error) *translator.Compiler {
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a JSON or YAML document into a validated query.
func Parse(data []byte) (*models.Query, error) {
	return defaultParser.Parse(data, parser.FormatAuto)
}

// Cast validates an already decoded value against one shape of the query
// language and returns its normalized form.
func Cast(kind schema.Kind, raw any) schema.Result {
	return defaultParser.Registry().Cast(kind, raw)
}

// Compile parses a document and compiles it with the default options.
func Compile(data []byte) (mongo.Pipeline, error) {
	q, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return defaultCompiler.Compile(q)
}
