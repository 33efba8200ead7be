package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/ir"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	SQL    string // compiled statement file
	Schema string
	Batch  string
}

// HashResult holds the computed hashes.
type HashResult struct {
	QueryHash string `json:"query_hash"`
	SQLHash   string `json:"sql_hash,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <query.json>",
		Short: "Print the cache key of a query",
		Long: `Print the content hash of a query document.

The hash is computed over the canonical form of the document, so key order
and whitespace do not change it. With --sql the hash of a compiled
statement for --schema and --batch is printed too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SQL, "sql", "", "compiled statement file")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema the statement was compiled for")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "batch the statement was compiled for")

	return cmd
}

func runHash(opts *HashOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.fail(ErrCodeReadFailed, err)
	}
	h, err := ir.QueryHash(data)
	if err != nil {
		return formatter.fail(ErrCodeGeneric, fmt.Errorf("hash query: %w", err))
	}
	result := HashResult{QueryHash: h}

	if opts.SQL != "" {
		sql, err := readInput(cmd, opts.SQL)
		if err != nil {
			return formatter.fail(ErrCodeReadFailed, err)
		}
		schema := or(opts.Schema, opts.defaults.Schema)
		batch := or(opts.Batch, opts.defaults.Batch)
		result.SQLHash = ir.SQLHash(strings.TrimSpace(string(sql)), schema, batch)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, result.QueryHash)
	if result.SQLHash != "" {
		fmt.Fprintln(formatter.Writer, result.SQLHash)
	}
	return nil
}
