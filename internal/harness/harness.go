package harness

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/querysql"
)

// Harness runs scenarios, loading each corpus descriptor once.
type Harness struct {
	corpora map[string]*corpus.Config
	logger  *slog.Logger
}

// New creates a harness that discards log output.
func New() *Harness {
	return &Harness{
		corpora: map[string]*corpus.Config{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Run executes a scenario with a fresh harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(scenario)
}

// Run compiles the scenario query and checks it against the scenario's
// expectations. The returned error reports a broken scenario (unreadable
// corpus or query); compile failures and failed assertions are recorded
// in the result.
func (h *Harness) Run(scenario *Scenario) (*Result, error) {
	cfg, err := h.corpus(scenario.Corpus)
	if err != nil {
		return nil, err
	}
	query, err := scenario.QueryJSON()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	out, err := querysql.CompileJSON(query, cfg, querysql.Options{
		Schema: scenario.Schema,
		Batch:  scenario.Batch,
		Lang:   scenario.Lang,
	})
	if err != nil {
		result.ErrorCode = string(queryir.CodeOf(err))
		result.ErrorMessage = err.Error()
		h.logger.Debug("scenario compile failed", "scenario", scenario.Name, "error", err)
	} else {
		result.SQL = out.SQL
		result.Meta = out.Meta
		result.PostProcesses = out.PostProcesses
		result.QueryHash = out.QueryHash
		result.SQLHash = out.SQLHash
		h.logger.Debug("scenario compiled", "scenario", scenario.Name, "sql_hash", out.SQLHash)
	}

	switch {
	case scenario.Error != "" && result.Compiled():
		result.AddError(fmt.Sprintf("expected error %s, compile succeeded", scenario.Error))
	case scenario.Error != "" && result.ErrorCode != scenario.Error:
		result.AddError(fmt.Sprintf("expected error %s, got %s: %s", scenario.Error, result.ErrorCode, result.ErrorMessage))
	case scenario.Error == "" && !result.Compiled():
		result.AddError(fmt.Sprintf("compile failed: %s", result.ErrorMessage))
	}

	if result.Compiled() {
		for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
			result.AddError(msg)
		}
	}
	return result, nil
}

func (h *Harness) corpus(path string) (*corpus.Config, error) {
	if cfg, ok := h.corpora[path]; ok {
		return cfg, nil
	}
	cfg, err := corpus.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario corpus: %w", err)
	}
	h.corpora[path] = cfg
	return cfg, nil
}
