package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniql-engine/pipeql/engine/wire"
	"github.com/omniql-engine/pipeql/internal/cli"
)

// Output formats for compile.
const (
	outputExtJSON   = "extjson"
	outputJSON      = "json"
	outputProtoJSON = "protojson"
)

var (
	compileFormat  string
	compileCompact bool
)

var compileCmd = &cobra.Command{
	Use:   "compile FILE",
	Short: "Compile a query document into an aggregation pipeline",
	Long: `Compile a query document into an aggregation pipeline.

Output formats:
  extjson    canonical Extended JSON, keeps int64 and date types
  json       relaxed Extended JSON
  protojson  google.protobuf.ListValue in protojson form`,
	Example: `  # Compile a YAML query
  pipeql compile queries/revenue.yaml

  # Read from stdin and print relaxed JSON on one line
  cat q.json | pipeql compile - --format json --compact`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := readQuery(cmd, args[0])
		if err != nil {
			return err
		}
		compiler, err := newCompiler()
		if err != nil {
			return err
		}

		pipeline, err := compiler.Compile(q)
		if err != nil {
			return cli.QueryError("compiling query", err)
		}
		logger.Info("query compiled", "collection", compiler.Collection(q), "stages", len(pipeline))

		out, err := renderPipeline(pipeline, compileFormat, !compileCompact)
		if err != nil {
			return cli.GeneralError("rendering pipeline", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileFormat, "format", "f", outputExtJSON, "output format: extjson, json or protojson")
	compileCmd.Flags().BoolVar(&compileCompact, "compact", false, "print on a single line")
}

func renderPipeline(pipeline mongo.Pipeline, format string, indent bool) ([]byte, error) {
	switch format {
	case outputProtoJSON:
		return wire.MarshalJSON(pipeline, indent)
	case outputExtJSON, outputJSON:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, stage := range pipeline {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := bson.MarshalExtJSON(stage, format == outputExtJSON, false)
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		if !indent {
			return buf.Bytes(), nil
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
			return nil, err
		}
		return pretty.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}
