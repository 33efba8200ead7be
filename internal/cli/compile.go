package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/querysql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	TargetOptions
	Output string // output file path
}

// CompilationResult is the document compile prints or writes.
type CompilationResult struct {
	SQL           string                    `json:"sql"`
	Meta          querysql.Meta             `json:"meta_json"`
	PostProcesses map[int][]querysql.Filter `json:"post_processes"`
	QueryHash     string                    `json:"query_hash"`
	SQLHash       string                    `json:"sql_hash"`
	Schema        string                    `json:"schema"`
	Batch         string                    `json:"batch"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query.json>",
		Short: "Compile a query to SQL",
		Long: `Compile a JSON query against a corpus descriptor.

The descriptor is read from --config or looked up in the catalog with
--corpus. Use "-" to read the query from stdin. JSON output carries the
statement, the result set description (meta_json), the post-processing
filters and the query and SQL hashes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	opts.TargetOptions.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON result to a file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.fail(ErrCodeReadFailed, err)
	}

	target := opts.TargetOptions.withDefaults(opts.defaults)
	cfg, t, err := target.resolve(cmd.Context())
	if err != nil {
		return formatter.fail(codeOf(err), err)
	}
	formatter.VerboseLog("Compiling %s against schema %q batch %q", path, t.Schema, t.Batch)

	out, err := querysql.CompileJSON(data, cfg, querysql.Options{Schema: t.Schema, Batch: t.Batch, Lang: t.Lang})
	if err != nil {
		return formatter.fail(ErrCodeGeneric, err)
	}
	slog.Info("query compiled", "query_hash", out.QueryHash, "sql_hash", out.SQLHash,
		"result_sets", len(out.Meta.ResultSets))

	batch := t.Batch
	if batch == "" {
		batch = strings.ToLower(cfg.FirstClass.Token) + "0"
	}
	result := &CompilationResult{
		SQL:           out.SQL,
		Meta:          out.Meta,
		PostProcesses: out.PostProcesses,
		QueryHash:     out.QueryHash,
		SQLHash:       out.SQLHash,
		Schema:        t.Schema,
		Batch:         batch,
	}
	if result.PostProcesses == nil {
		result.PostProcesses = map[int][]querysql.Filter{}
	}

	if opts.Output != "" {
		if err := writeJSONFile(result, opts.Output); err != nil {
			return formatter.fail(ErrCodeWriteFailed, fmt.Errorf("writing output file: %w", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "-- query_hash: %s\n", result.QueryHash)
	fmt.Fprintf(w, "-- sql_hash: %s\n", result.SQLHash)
	for _, rs := range result.Meta.ResultSets {
		fmt.Fprintf(w, "-- result set: %s (%s)\n", rs.Name, rs.Type)
	}
	fmt.Fprintln(w, result.SQL)
	if outputFile != "" {
		fmt.Fprintf(formatter.GetErrWriter(), "Wrote compiled query to %s\n", outputFile)
	}
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSONFile(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
