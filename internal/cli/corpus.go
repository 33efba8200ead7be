package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/catalog"
	"github.com/roach88/cobquec/internal/corpus"
)

// CorpusOptions holds flags shared by the corpus subcommands.
type CorpusOptions struct {
	*RootOptions
	Catalog string
	Schema  string
}

// CorpusDetail is a catalog entry with its layers.
type CorpusDetail struct {
	catalog.Summary
	Token    string          `json:"token"`
	Segment  string          `json:"segment"`
	Document string          `json:"document"`
	Layers   []string        `json:"layers"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// NewCorpusCommand creates the corpus command and its subcommands.
func NewCorpusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CorpusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the corpus catalog",
		Long: `Register corpus descriptors in a local catalog so queries can be compiled
with --corpus <name> instead of --config <file>.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Catalog, "catalog", "", "corpus catalog database")

	add := &cobra.Command{
		Use:           "add <name> <descriptor>",
		Short:         "Register or update a corpus descriptor",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusAdd(opts, args[0], args[1], cmd)
		},
	}
	add.Flags().StringVar(&opts.Schema, "schema", "", "PostgreSQL schema of the corpus tables")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List registered corpora",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusList(opts, cmd)
		},
	}

	show := &cobra.Command{
		Use:           "show <name>",
		Short:         "Show a registered corpus",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusShow(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(add, list, show)
	return cmd
}

func (o *CorpusOptions) open() (*catalog.Catalog, error) {
	path := or(o.Catalog, o.defaults.Catalog)
	if path == "" {
		return nil, &targetError{ErrCodeMissingInput, fmt.Errorf("no catalog: pass --catalog")}
	}
	c, err := catalog.Open(path)
	if err != nil {
		return nil, &targetError{ErrCodeCatalog, err}
	}
	return c, nil
}

func runCorpusAdd(opts *CorpusOptions, name, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	schema := or(opts.Schema, opts.defaults.Schema)
	if schema == "" {
		return formatter.fail(ErrCodeMissingInput, fmt.Errorf("no schema: pass --schema"))
	}
	cfg, err := corpus.Load(path)
	if err != nil {
		return formatter.fail(ErrCodeCorpus, err)
	}

	c, err := opts.open()
	if err != nil {
		return formatter.fail(codeOf(err), err)
	}
	defer c.Close()

	s, err := c.Put(cmd.Context(), name, schema, cfg)
	if err != nil {
		return formatter.fail(ErrCodeCorpus, err)
	}
	slog.Info("corpus registered", "name", s.Name, "revision", s.Revision)

	if formatter.Format == "json" {
		return formatter.Success(s)
	}
	fmt.Fprintf(formatter.Writer, "✓ Registered %s (schema %s, revision %d)\n", s.Name, s.Schema, s.Revision)
	return nil
}

func runCorpusList(opts *CorpusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	c, err := opts.open()
	if err != nil {
		return formatter.fail(codeOf(err), err)
	}
	defer c.Close()

	list, err := c.List(cmd.Context())
	if err != nil {
		return formatter.fail(ErrCodeCatalog, err)
	}

	if formatter.Format == "json" {
		if list == nil {
			list = []catalog.Summary{}
		}
		return formatter.Success(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(formatter.Writer, "No corpora registered")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(formatter.Writer, "%s\t%s\trev %d\t%s\n", s.Name, s.Schema, s.Revision, s.Hash[:12])
	}
	return nil
}

func runCorpusShow(opts *CorpusOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	c, err := opts.open()
	if err != nil {
		return formatter.fail(codeOf(err), err)
	}
	defer c.Close()

	e, err := c.Get(cmd.Context(), name)
	if err != nil {
		code := ErrCodeCatalog
		if errors.Is(err, catalog.ErrNotFound) {
			code = ErrCodeNotFound
		}
		return formatter.fail(code, err)
	}

	detail := CorpusDetail{
		Summary:  catalog.Summary{Name: e.Name, Schema: e.Schema, Hash: e.Hash, Revision: e.Revision},
		Token:    e.Config.FirstClass.Token,
		Segment:  e.Config.FirstClass.Segment,
		Document: e.Config.FirstClass.Document,
		Layers:   e.Config.LayerNames(),
	}
	if opts.Verbose {
		raw, err := json.Marshal(e.Config)
		if err != nil {
			return formatter.fail(ErrCodeGeneric, err)
		}
		detail.Config = raw
	}

	if formatter.Format == "json" {
		return formatter.Success(detail)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%s (schema %s, revision %d)\n", detail.Name, detail.Schema, detail.Revision)
	fmt.Fprintf(w, "  hash: %s\n", detail.Hash)
	fmt.Fprintf(w, "  token: %s, segment: %s, document: %s\n", detail.Token, detail.Segment, detail.Document)
	fmt.Fprintln(w, "  layers:")
	for _, l := range detail.Layers {
		fmt.Fprintf(w, "    %s\n", l)
	}
	return nil
}
