// Package parser decodes query documents (JSON, YAML or CUE) and casts them
// into the typed query model.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"sigs.k8s.io/yaml"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/schema"
	"github.com/omniql-engine/pipeql/engine/validator"
)

// Format is a document encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// ErrUnknownFormat is returned for file extensions and format names that
// have no decoder.
var ErrUnknownFormat = errors.New("pipeql: unknown document format")

// cueQueryField is looked up first in CUE documents, so a file can hold
// definitions next to the query itself.
const cueQueryField = "query"

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatAuto, FormatJSON, FormatYAML, FormatCUE:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Decode turns a document into plain values: maps, slices, strings, bools,
// nil and json.Number. FormatAuto treats input starting with '{' as JSON and
// anything else as YAML.
func Decode(data []byte, format Format) (any, error) {
	if format == FormatAuto {
		format = sniff(data)
	}
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatYAML:
		js, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return decodeJSON(js)
	case FormatCUE:
		return decodeCUE(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func sniff(data []byte) Format {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// decodeJSON keeps numbers as json.Number so large integers survive until
// the caster normalizes them.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("decode json: empty document")
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: unexpected data after document")
	}
	return raw, nil
}

func decodeCUE(data []byte) (any, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename("query.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile cue: %w", err)
	}

	if q := value.LookupPath(cue.ParsePath(cueQueryField)); q.Exists() {
		value = q
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate cue: %w", err)
	}

	js, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export cue: %w", err)
	}
	return decodeJSON(js)
}

// Parser decodes and casts documents against one registry.
type Parser struct {
	registry *schema.Registry
}

// New creates a Parser. A nil registry uses schema.NewRegistry().
func New(registry *schema.Registry) *Parser {
	if registry == nil {
		registry = schema.NewRegistry()
	}
	return &Parser{registry: registry}
}

// Registry returns the registry documents are cast against.
func (p *Parser) Registry() *schema.Registry {
	return p.registry
}

// Parse decodes data, casts it into a query and runs semantic validation.
// Decoding failures are plain errors; everything after is a
// *models.CompileError.
func (p *Parser) Parse(data []byte, format Format) (*models.Query, error) {
	raw, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return p.Cast(raw)
}

// Cast converts an already decoded document into a validated query.
func (p *Parser) Cast(raw any) (*models.Query, error) {
	res := p.registry.Cast(schema.KindQuery, raw)
	if !res.OK {
		return nil, res.Err
	}
	q := res.Value.(*models.Query)
	if err := validator.Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

// Parse uses a parser over the default registry.
func Parse(data []byte, format Format) (*models.Query, error) {
	return New(nil).Parse(data, format)
}
