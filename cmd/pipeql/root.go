package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/omniql-engine/pipeql/engine/models"
	"github.com/omniql-engine/pipeql/engine/parser"
	"github.com/omniql-engine/pipeql/engine/translator"
	"github.com/omniql-engine/pipeql/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     *slog.Logger

	// Persistent flags
	cfgFile     string
	verbose     int
	quiet       bool
	inputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pipeql",
	Short: "Structured queries compiled to MongoDB aggregation pipelines",
	Long: `pipeql - structured queries for MongoDB

pipeql reads query documents written in JSON, YAML or CUE, checks them
against the query schema and compiles them into aggregation pipelines.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr())

		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		logger.Debug("configuration loaded", "path", configPath)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs
const (
	groupQuery   = "query"
	groupUtility = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover pipeql.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&inputFormat, "input-format", "", "query document format: json, yaml or cue (default: from file extension)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupQuery, Title: "Query:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	compileCmd.GroupID = groupQuery
	validateCmd.GroupID = groupQuery
	runCmd.GroupID = groupQuery
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)

	configCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case verbose == 1:
		level = slog.LevelInfo
	case verbose >= 2:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// readQuery loads and parses the query document at path ("-" reads stdin).
func readQuery(cmd *cobra.Command, path string) (*models.Query, error) {
	format, err := resolveFormat(path)
	if err != nil {
		return nil, cli.GeneralError("choosing input format", err)
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, cli.GeneralError(fmt.Sprintf("reading %s", path), err)
	}

	q, err := parser.New(cfg.Registry()).Parse(data, format)
	if err != nil {
		return nil, cli.QueryError(fmt.Sprintf("parsing %s", path), err)
	}
	logger.Debug("query parsed", "path", path, "format", string(format), "from", q.From)
	return q, nil
}

func resolveFormat(path string) (parser.Format, error) {
	if inputFormat != "" {
		return parser.ParseFormat(inputFormat)
	}
	if path == "-" {
		return parser.FormatAuto, nil
	}
	return parser.FormatFromPath(path)
}

func newCompiler() (*translator.Compiler, error) {
	compiler, err := translator.New(cfg.CompilerOptions())
	if err != nil {
		return nil, cli.ConfigError("configuring compiler", err)
	}
	return compiler, nil
}
