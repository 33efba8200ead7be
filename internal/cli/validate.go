package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/querysql"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	TargetOptions
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Labels []string          `json:"labels,omitempty"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one rejected construct.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Label   string `json:"label,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <query.json>",
		Short: "Check a query without compiling it",
		Long: `Check a query document against the query schema and resolve its labels.

With --config or --corpus the query is also compiled against the corpus,
which catches unknown layers and attributes, type mismatches and invalid
operators. No SQL is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	opts.TargetOptions.addFlags(cmd)

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.fail(ErrCodeReadFailed, err)
	}

	if err := queryir.ValidateJSON(data); err != nil {
		return outputValidationErrors(formatter, []error{err})
	}
	formatter.VerboseLog("Schema check passed: %s", path)

	q, err := queryir.Decode(data)
	if err != nil {
		return outputValidationErrors(formatter, []error{err})
	}
	labels, err := queryir.Resolve(q)
	if err != nil {
		return outputValidationErrors(formatter, []error{err})
	}
	formatter.VerboseLog("Resolved %d label(s)", len(labels.Labels()))

	target := opts.TargetOptions.withDefaults(opts.defaults)
	if target.Config != "" || target.Corpus != "" {
		cfg, t, err := target.resolve(cmd.Context())
		if err != nil {
			return formatter.fail(codeOf(err), err)
		}
		if t.Schema == "" {
			t.Schema = "validate"
		}
		formatter.VerboseLog("Compiling against corpus")
		if _, err := querysql.CompileJSON(data, cfg, querysql.Options{Schema: t.Schema, Batch: t.Batch, Lang: t.Lang}); err != nil {
			return outputValidationErrors(formatter, []error{err})
		}
	}

	return outputValidateSuccess(formatter, labels.Labels())
}

func outputValidateSuccess(formatter *OutputFormatter, labels []string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Labels: labels})
	}
	fmt.Fprintln(formatter.Writer, "✓ Query valid")
	return nil
}

func toIssue(err error) ValidationIssue {
	var ce *queryir.CompileError
	if errors.As(err, &ce) {
		return ValidationIssue{Code: string(ce.Code), Message: ce.Message, Label: ce.Label}
	}
	return ValidationIssue{Code: string(queryir.ErrCodeInvalidQuery), Message: err.Error()}
}

// outputValidationErrors reports rejected queries. Validation failures exit
// with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, errs []error) error {
	issues := make([]ValidationIssue, len(errs))
	for i, err := range errs {
		issues[i] = toIssue(err)
	}
	exitErr := WrapExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)), errs[0])

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Label != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s (label %s)\n", issue.Code, issue.Message, issue.Label)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
	}
	return exitErr
}
