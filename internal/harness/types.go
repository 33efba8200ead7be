package harness

import (
	"github.com/roach88/cobquec/internal/querysql"
)

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when the compile behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	SQL           string                    `json:"sql,omitempty"`
	Meta          querysql.Meta             `json:"meta_json"`
	PostProcesses map[int][]querysql.Filter `json:"post_processes,omitempty"`
	QueryHash     string                    `json:"query_hash,omitempty"`
	SQLHash       string                    `json:"sql_hash,omitempty"`

	// ErrorCode and ErrorMessage describe a failed compile.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Errors lists expectation and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Compiled reports whether the scenario produced SQL.
func (r *Result) Compiled() bool {
	return r.SQL != ""
}
