package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultsFile is read from the working directory when --defaults is not
// given.
const DefaultsFile = "cobquec.toml"

// Defaults fills flags a command was not given.
//
//	schema = "brown"
//	batch = "token0"
//	catalog = "~/.cobquec/catalog.db"
//	corpus = "brown"
type Defaults struct {
	// Schema is the PostgreSQL schema holding the corpus tables.
	Schema string `toml:"schema"`

	// Batch is the token table partition, e.g. "token0".
	Batch string `toml:"batch"`

	// Lang selects a per-language partition of a multilingual corpus.
	Lang string `toml:"lang"`

	// Config is the path of a corpus descriptor file.
	Config string `toml:"config"`

	// Catalog is the path of the corpus catalog database.
	Catalog string `toml:"catalog"`

	// Corpus is the catalog name of the default corpus.
	Corpus string `toml:"corpus"`
}

// LoadDefaults decodes the defaults file at path. A missing file yields
// zero defaults.
func LoadDefaults(path string) (Defaults, error) {
	var d Defaults
	if path == "" {
		return d, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to parse defaults %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Defaults{}, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}
	return d, nil
}

// or returns flag, or def when flag is empty.
func or(flag, def string) string {
	if flag != "" {
		return flag
	}
	return def
}
