package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cobquec/internal/catalog"
	"github.com/roach88/cobquec/internal/corpus"
)

// TargetOptions selects the corpus and partition a query compiles against.
// The descriptor comes from --config, or from the catalog entry named by
// --corpus.
type TargetOptions struct {
	Schema  string
	Batch   string
	Lang    string
	Config  string
	Catalog string
	Corpus  string
}

func (o *TargetOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Schema, "schema", "", "PostgreSQL schema of the corpus tables")
	cmd.Flags().StringVar(&o.Batch, "batch", "", "token table partition (e.g. token0)")
	cmd.Flags().StringVar(&o.Lang, "lang", "", "language partition of a multilingual corpus")
	cmd.Flags().StringVar(&o.Config, "config", "", "corpus descriptor file (JSON or YAML)")
	cmd.Flags().StringVar(&o.Catalog, "catalog", "", "corpus catalog database")
	cmd.Flags().StringVar(&o.Corpus, "corpus", "", "catalog name of the corpus")
}

// withDefaults returns o with empty fields taken from d.
func (o TargetOptions) withDefaults(d Defaults) TargetOptions {
	o.Schema = or(o.Schema, d.Schema)
	o.Batch = or(o.Batch, d.Batch)
	o.Lang = or(o.Lang, d.Lang)
	o.Config = or(o.Config, d.Config)
	o.Catalog = or(o.Catalog, d.Catalog)
	o.Corpus = or(o.Corpus, d.Corpus)
	return o
}

// targetError carries the CLI code of a failed resolution.
type targetError struct {
	code string
	err  error
}

func (e *targetError) Error() string { return e.err.Error() }
func (e *targetError) Unwrap() error { return e.err }

// resolve loads the corpus descriptor. A catalog entry also supplies the
// schema when --schema is absent.
func (o TargetOptions) resolve(ctx context.Context) (*corpus.Config, corpus.Target, error) {
	t := corpus.Target{Schema: o.Schema, Batch: o.Batch, Lang: o.Lang}

	if o.Config != "" {
		cfg, err := corpus.Load(o.Config)
		if err != nil {
			return nil, t, &targetError{ErrCodeCorpus, err}
		}
		slog.Info("corpus loaded", "path", o.Config)
		return cfg, t, nil
	}

	if o.Corpus == "" {
		return nil, t, &targetError{ErrCodeMissingInput, fmt.Errorf("no corpus: pass --config or --corpus")}
	}
	if o.Catalog == "" {
		return nil, t, &targetError{ErrCodeMissingInput, fmt.Errorf("--corpus needs --catalog")}
	}
	c, err := catalog.Open(o.Catalog)
	if err != nil {
		return nil, t, &targetError{ErrCodeCatalog, err}
	}
	defer c.Close()

	e, err := c.Get(ctx, o.Corpus)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, t, &targetError{ErrCodeNotFound, err}
	}
	if err != nil {
		return nil, t, &targetError{ErrCodeCatalog, err}
	}
	t.Schema = or(t.Schema, e.Schema)
	slog.Info("corpus loaded", "catalog", o.Catalog, "corpus", e.Name, "revision", e.Revision)
	return e.Config, t, nil
}

// codeOf returns the CLI code of a resolve error.
func codeOf(err error) string {
	var te *targetError
	if errors.As(err, &te) {
		return te.code
	}
	return ErrCodeGeneric
}
