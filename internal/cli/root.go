package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Defaults string // path of the cobquec.toml defaults file

	// defaults is loaded once in PersistentPreRunE.
	defaults Defaults
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cobquec CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "cobquec",
		Short:   "cobquec - corpus query compiler",
		Version: fmt.Sprintf("%s (output format %s)", ir.CompilerVersion, ir.FormatVersion),
		Long: `Compile corpus queries to PostgreSQL.

A query is a JSON document describing token patterns, sequences and the
result sets to compute. cobquec compiles it against a corpus descriptor
into a single statement of chained CTEs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(cmd, opts.Verbose)

			d, err := LoadDefaults(opts.Defaults)
			if err != nil {
				return err
			}
			opts.defaults = d
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Defaults, "defaults", DefaultsFile, "defaults file (TOML)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewCorpusCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// configureLogging routes slog output to stderr; --verbose lowers the level
// to Info so compile progress is visible.
func configureLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
