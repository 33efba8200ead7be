package queryir

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed query.cue
var querySchema string

// ValidateJSON checks a query document against the embedded CUE schema.
//
// Validation is structural only: it catches misspelled node shapes
// (members that are not lists, comparisons without operands) before the
// compiler reports a less specific error. Semantic checks are left to
// compilation.
func ValidateJSON(data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(querySchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile query schema: %w", err)
	}

	doc := ctx.CompileBytes(data)
	if err := doc.Err(); err != nil {
		return Errorf(ErrCodeInvalidQuery, "", "parse query document: %v", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Document")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Errorf(ErrCodeInvalidQuery, "", "query document does not match schema: %v", err)
	}
	return nil
}
