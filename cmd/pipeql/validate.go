package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniql-engine/pipeql/engine/translator"
	"github.com/omniql-engine/pipeql/internal/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check query documents without printing pipelines",
	Long: `Check that each document matches the query schema and compiles.
Every file is checked; the first failure decides the exit code.`,
	Example: `  # Validate every query in a directory
  pipeql validate queries/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		compiler, err := newCompiler()
		if err != nil {
			return err
		}

		var first error
		failed := 0
		for _, path := range args {
			err := validateFile(cmd, path, compiler)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				if first == nil {
					first = err
				}
				failed++
				continue
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
		}
		if first != nil {
			return &cli.ExitError{
				Code:    cli.ExitCode(first),
				Message: fmt.Sprintf("%d of %d documents failed", failed, len(args)),
			}
		}
		return nil
	},
}

func validateFile(cmd *cobra.Command, path string, compiler *translator.Compiler) error {
	q, err := readQuery(cmd, path)
	if err != nil {
		return err
	}
	if _, err := compiler.Compile(q); err != nil {
		return cli.QueryError("compiling query", err)
	}
	return nil
}
