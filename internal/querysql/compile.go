package querysql

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/cobquec/internal/constraint"
	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/ir"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sequence"
	"github.com/roach88/cobquec/internal/sqlref"
)

// Options selects the physical partition a query is compiled against.
type Options struct {
	Schema string
	Batch  string
	Lang   string
}

// Output is a compiled query.
type Output struct {
	SQL  string
	Meta Meta

	// PostProcesses holds, per result index, filters that can only be
	// applied once the rows of every batch have been summed.
	PostProcesses map[int][]Filter

	QueryHash string
	SQLHash   string
}

// Filter is a post-processing filter on one column of a result set.
type Filter struct {
	Attribute  string `json:"attribute"`
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// CompileJSON decodes a query document and compiles it. The output carries
// the hash of the canonical document.
func CompileJSON(data []byte, cfg *corpus.Config, opts Options) (*Output, error) {
	q, err := queryir.Decode(data)
	if err != nil {
		return nil, err
	}
	out, err := Compile(q, cfg, opts)
	if err != nil {
		return nil, err
	}
	h, err := ir.QueryHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash query: %w", err)
	}
	out.QueryHash = h
	return out, nil
}

// Compile compiles q into one PostgreSQL statement for the target partition.
//
// The statement is a chain of CTEs: fixed_parts selects every entity with a
// fixed position, disjunctionN and traversalN refine it, match_list holds
// one row per match and resN shapes each requested result set. res0 counts
// the matches. Identical input always yields byte-identical SQL.
//
// Compile rewrites q in place: generated labels and default layers are
// injected into the AST.
func Compile(q *queryir.Query, cfg *corpus.Config, opts Options) (*Output, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot compile nil query")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cannot compile without a corpus descriptor")
	}
	if opts.Schema == "" {
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, "", "missing schema")
	}
	if opts.Batch == "" {
		opts.Batch = strings.ToLower(cfg.FirstClass.Token) + "0"
	}

	d, err := newQueryData(q, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := d.assemble(); err != nil {
		return nil, err
	}
	if err := d.prepareResults(); err != nil {
		return nil, err
	}
	if err := d.chooseBase(); err != nil {
		return nil, err
	}
	d.routeFTS()
	if err := d.disjunctions(); err != nil {
		return nil, err
	}
	d.traversals()
	d.gather()
	d.matchList()
	if err := d.renderResults(); err != nil {
		return nil, err
	}

	sql := d.statement()
	slog.Debug("query compiled",
		"schema", opts.Schema, "batch", opts.Batch,
		"ctes", len(d.ctes), "results", len(d.results))
	return &Output{
		SQL:           sql,
		Meta:          d.meta,
		PostProcesses: d.PostProcesses,
		SQLHash:       ir.SQLHash(sql, opts.Schema, opts.Batch),
	}, nil
}

// QueryData is the state shared by every stage of one compile. It must
// not outlive the compile: its alias counters would leak into the next.
type QueryData struct {
	Query  *queryir.Query
	Config *corpus.Config
	Target corpus.Target

	Labels      *queryir.LabelLayer
	SQL         *sqlref.Corpus
	Constraints *constraint.Compiler

	// Entities are the labels results select.
	Entities map[string]bool

	// Joins are the sources of fixed_parts and Conditions its WHERE terms.
	Joins      *sqlref.Joins
	Conditions []string

	SetObjects map[string]*queryir.Set
	Sequences  []*sequence.SQLSequence

	PostProcesses map[int][]Filter

	// columns maps a fixed_parts column to its select item; hidden
	// columns are carried along but stay out of match_list.
	columns map[string]string
	hidden  map[string]bool
	used    map[string]struct{}

	// pending are the top-level disjunctions over units; matchName the
	// labeled ones a result selects.
	pending   []*queryir.LogicalExpression
	matchName map[string]bool

	groups   []*queryir.Group
	segments []string // top-level segment labels, in declaration order
	units    []string // other top-level units, in declaration order
	counted  map[string]int

	base    string // label the FROM clause is built on
	from    string
	gathers map[string]gatherSpec
	outputs map[string]string

	ctes       []string
	last       string
	carried    []string
	accept     []string
	disjN      int
	automataN  int
	matchItems map[string]string

	results []result
	meta    Meta
}

func newQueryData(q *queryir.Query, cfg *corpus.Config, opts Options) (*QueryData, error) {
	target := corpus.Target{Schema: opts.Schema, Batch: opts.Batch, Lang: opts.Lang}
	if err := normalize(q, cfg); err != nil {
		return nil, err
	}
	labels, err := queryir.Resolve(q)
	if err != nil {
		return nil, err
	}
	refs := sqlref.New(cfg, target)
	return &QueryData{
		Query:         q,
		Config:        cfg,
		Target:        target,
		Labels:        labels,
		SQL:           refs,
		Constraints:   constraint.New(refs, labels),
		Entities:      make(map[string]bool),
		Joins:         sqlref.NewJoins(),
		SetObjects:    make(map[string]*queryir.Set),
		PostProcesses: make(map[int][]Filter),
		columns:       make(map[string]string),
		hidden:        make(map[string]bool),
		used:          make(map[string]struct{}),
		matchName:     make(map[string]bool),
		counted:       make(map[string]int),
		gathers:       make(map[string]gatherSpec),
		outputs:       make(map[string]string),
		matchItems:    make(map[string]string),
	}, nil
}

// normalize gives every unit a layer and declares the implicit context of
// plain results: a context label no item declares is the segment holding
// the match, and top-level tokens and sequences without partOf are placed
// in it.
func normalize(q *queryir.Query, cfg *corpus.Config) error {
	for _, item := range q.Items {
		if err := defaultLayers(item, cfg); err != nil {
			return err
		}
	}
	declared := queryir.CollectLabels(q)
	context := ""
	for _, r := range q.Results {
		plain, ok := r.(*queryir.PlainResult)
		if !ok || len(plain.Context) == 0 {
			continue
		}
		label := plain.Context[0]
		if _, ok := declared[label]; ok || label == "" {
			continue
		}
		q.Items = append([]queryir.Node{&queryir.Unit{Layer: cfg.FirstClass.Segment, Label: label}}, q.Items...)
		declared[label] = struct{}{}
		if context == "" {
			context = label
		}
	}
	if context == "" {
		return nil
	}
	in := []queryir.PartOf{{Kind: queryir.AnchorStream, Label: context}}
	for _, item := range q.Items {
		placeIn(item, cfg, in)
	}
	return nil
}

func defaultLayers(n queryir.Node, cfg *corpus.Config) error {
	switch v := n.(type) {
	case *queryir.Unit:
		if v.Layer == "" {
			v.Layer = cfg.FirstClass.Token
		}
		if !cfg.HasLayer(v.Layer) {
			return queryir.Errorf(queryir.ErrCodeUnknownReference, v.Label, "unknown layer %q", v.Layer)
		}
		for _, c := range v.Constraints {
			if err := defaultLayers(c, cfg); err != nil {
				return err
			}
		}
	case *queryir.Sequence:
		for _, m := range v.Members {
			if err := defaultLayers(m, cfg); err != nil {
				return err
			}
		}
	case *queryir.Set:
		for _, m := range v.Members {
			if err := defaultLayers(m, cfg); err != nil {
				return err
			}
		}
	case *queryir.LogicalExpression:
		for _, a := range v.Args {
			if err := defaultLayers(a, cfg); err != nil {
				return err
			}
		}
	case *queryir.Quantification:
		for _, a := range v.Args {
			if err := defaultLayers(a, cfg); err != nil {
				return err
			}
		}
	case *queryir.Constraint:
		return defaultLayers(v.Node, cfg)
	}
	return nil
}

func placeIn(n queryir.Node, cfg *corpus.Config, in []queryir.PartOf) {
	switch v := n.(type) {
	case *queryir.Unit:
		if len(v.PartOf) == 0 && cfg.IsToken(v.Layer) {
			v.PartOf = in
		}
	case *queryir.Sequence:
		if len(v.PartOf) == 0 {
			v.PartOf = in
		}
	case *queryir.LogicalExpression:
		for _, a := range v.Args {
			placeIn(a, cfg, in)
		}
	case *queryir.Constraint:
		placeIn(v.Node, cfg, in)
	}
}

// column registers a fixed_parts column and returns its name. The same
// expression registered twice under the same name is kept once.
func (d *QueryData) column(name, expr string, hidden bool) string {
	if item, ok := d.columns[name]; ok {
		if item == expr+" AS "+sqlref.Ident(name) {
			if !hidden {
				d.hidden[name] = false
			}
			return name
		}
		name = sqlref.UniqueLabel(name, d.used)
	}
	d.used[name] = struct{}{}
	d.columns[name] = expr + " AS " + sqlref.Ident(name)
	d.hidden[name] = hidden
	return name
}

// selectItem registers a column whose select item is rendered already,
// such as a set subquery.
func (d *QueryData) selectItem(name, item string) string {
	d.used[name] = struct{}{}
	d.columns[name] = item
	d.hidden[name] = false
	return name
}

// addJoins merges j into the sources of fixed_parts.
func (d *QueryData) addJoins(j *sqlref.Joins) {
	if j == nil {
		return
	}
	for _, k := range j.Keys() {
		if k == d.from {
			d.Conditions = append(d.Conditions, j.Conditions(k)...)
			continue
		}
		d.Joins.AddFor(j.Owner(k), k, j.Conditions(k)...)
	}
}

// pointer selects the id of a unit under its label.
func (d *QueryData) pointer(label string) string {
	layer := d.Labels.Layer(label)
	ref := d.SQL.Layer(label, layer, true)
	d.addJoins(ref.Joins)
	return d.column(label, ref.SQL, false)
}

// columnNames returns the fixed_parts columns in render order.
func (d *QueryData) columnNames() []string {
	names := make([]string, 0, len(d.columns))
	for name := range d.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// statement renders the final SQL.
func (d *QueryData) statement() string {
	var b strings.Builder
	b.WriteString("WITH RECURSIVE ")
	b.WriteString(strings.Join(d.ctes, ",\n"))
	b.WriteString("\nSELECT * FROM res0")
	for _, r := range d.results {
		b.WriteString("\nUNION ALL\nSELECT * FROM " + r.table)
	}
	return b.String()
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
