package queryir

import (
	"sort"
	"strconv"
)

// Entry is what the resolver records about one labeled entity.
type Entry struct {
	Label string
	Layer string
	Node  Node // *Unit, *Sequence, *Set, *Group or *LogicalExpression

	// Depth is the nesting depth of the declaration; top-level items have depth 0.
	Depth int

	// PartOf is the effective containment: the node's own partOf or the one
	// inherited from an enclosing sequence or set.
	PartOf []PartOf

	IsSet   bool
	IsGroup bool

	// Bound marks labels that are not independently selectable: inside a
	// repeated sequence, a set, a disjunction, a negation or a negative quantifier.
	Bound bool

	// Quantified marks labels declared inside any quantification.
	Quantified bool

	// TopLevel marks labels declared directly in the query array.
	TopLevel bool
}

// Parent returns the label of the first partOf entry, or "".
func (e *Entry) Parent() string {
	if len(e.PartOf) == 0 {
		return ""
	}
	return e.PartOf[0].Label
}

// LabelLayer maps labels to entries and hands out unique labels.
//
// A LabelLayer belongs to one compile. Reusing it across compiles leaks
// reserved labels from one query into another.
type LabelLayer struct {
	entries map[string]*Entry
	order   []string
	used    map[string]struct{}
}

// NewLabelLayer creates an empty LabelLayer.
func NewLabelLayer() *LabelLayer {
	return &LabelLayer{
		entries: make(map[string]*Entry),
		used:    make(map[string]struct{}),
	}
}

// Get returns the entry for label.
func (l *LabelLayer) Get(label string) (*Entry, bool) {
	e, ok := l.entries[label]
	return e, ok
}

// Layer returns the layer of label, or "" when unknown.
func (l *LabelLayer) Layer(label string) string {
	if e, ok := l.entries[label]; ok {
		return e.Layer
	}
	return ""
}

// Has reports whether label is declared.
func (l *LabelLayer) Has(label string) bool {
	_, ok := l.entries[label]
	return ok
}

// Labels returns declared labels in declaration order.
func (l *LabelLayer) Labels() []string {
	return append([]string(nil), l.order...)
}

// Add records an entry. The first declaration of a label wins; later ones
// return the existing entry unchanged.
func (l *LabelLayer) Add(e *Entry) *Entry {
	if existing, ok := l.entries[e.Label]; ok {
		return existing
	}
	l.entries[e.Label] = e
	l.order = append(l.order, e.Label)
	l.used[e.Label] = struct{}{}
	return e
}

// Reserve marks a label as taken without declaring it.
func (l *LabelLayer) Reserve(label string) {
	l.used[label] = struct{}{}
}

// Unique returns base if it is free, else base2, base3, ... and reserves it.
func (l *LabelLayer) Unique(base string) string {
	if base == "" {
		base = "anonymous"
	}
	candidate := base
	for n := 2; ; n++ {
		if _, taken := l.used[candidate]; !taken {
			break
		}
		candidate = base + strconv.Itoa(n)
	}
	l.used[candidate] = struct{}{}
	return candidate
}

// Bound reports whether label is declared and bound.
func (l *LabelLayer) Bound(label string) bool {
	e, ok := l.entries[label]
	return ok && e.Bound
}

// ByLayer returns the declared labels of a layer, sorted.
func (l *LabelLayer) ByLayer(layer string) []string {
	var out []string
	for _, label := range l.order {
		if l.entries[label].Layer == layer {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve labels every referenceable node of q and builds its LabelLayer.
//
// Explicit labels are collected first so generated labels never collide
// with labels declared later in the document. Unlabeled units, sequences
// and sets then receive "anonymous", "anonymous2", ... in document order,
// injected into the AST. Identical input always yields the same labels.
func Resolve(q *Query) (*LabelLayer, error) {
	l := NewLabelLayer()
	for _, item := range q.Items {
		collectLabels(item, l)
	}
	for _, item := range q.Items {
		assignLabels(item, l)
	}
	r := &resolver{labels: l}
	for _, item := range q.Items {
		if err := r.walk(item, scope{topLevel: true}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// CollectLabels returns every explicit label declared in q.
func CollectLabels(q *Query) map[string]struct{} {
	l := NewLabelLayer()
	for _, item := range q.Items {
		collectLabels(item, l)
	}
	return l.used
}

func collectLabels(n Node, l *LabelLayer) {
	switch v := n.(type) {
	case *Unit:
		if v.Label != "" {
			l.Reserve(v.Label)
		}
		for _, c := range v.Constraints {
			collectLabels(c, l)
		}
	case *Sequence:
		if v.Label != "" {
			l.Reserve(v.Label)
		}
		for _, m := range v.Members {
			collectLabels(m, l)
		}
	case *Set:
		if v.Label != "" {
			l.Reserve(v.Label)
		}
		for _, m := range v.Members {
			collectLabels(m, l)
		}
	case *Group:
		l.Reserve(v.Label)
	case *LogicalExpression:
		if v.Label != "" {
			l.Reserve(v.Label)
		}
		for _, a := range v.Args {
			collectLabels(a, l)
		}
	case *Quantification:
		for _, a := range v.Args {
			collectLabels(a, l)
		}
	case *Constraint:
		collectLabels(v.Node, l)
	}
}

func assignLabels(n Node, l *LabelLayer) {
	switch v := n.(type) {
	case *Unit:
		if v.Label == "" {
			v.Label = l.Unique("anonymous")
			v.Anonymous = true
		}
		for _, c := range v.Constraints {
			assignLabels(c, l)
		}
	case *Sequence:
		if v.Label == "" {
			v.Label = l.Unique("anonymous")
			v.Anonymous = true
		}
		for _, m := range v.Members {
			assignLabels(m, l)
		}
	case *Set:
		if v.Label == "" {
			v.Label = l.Unique("anonymous")
			v.Anonymous = true
		}
		for _, m := range v.Members {
			assignLabels(m, l)
		}
	case *LogicalExpression:
		for _, a := range v.Args {
			assignLabels(a, l)
		}
	case *Quantification:
		for _, a := range v.Args {
			assignLabels(a, l)
		}
	case *Constraint:
		assignLabels(v.Node, l)
	}
}

type scope struct {
	depth      int
	partOf     []PartOf
	bound      bool
	quantified bool
	topLevel   bool
	inSet      bool
}

func (s scope) child() scope {
	return scope{
		depth:      s.depth + 1,
		partOf:     s.partOf,
		bound:      s.bound,
		quantified: s.quantified,
		inSet:      s.inSet,
	}
}

type resolver struct {
	labels *LabelLayer
}

func (r *resolver) walk(n Node, sc scope) error {
	switch v := n.(type) {
	case *Unit:
		partOf := v.PartOf
		if len(partOf) == 0 {
			partOf = sc.partOf
		}
		r.labels.Add(&Entry{
			Label: v.Label, Layer: v.Layer, Node: v, Depth: sc.depth,
			PartOf: partOf, Bound: sc.bound, Quantified: sc.quantified, TopLevel: sc.topLevel,
		})
		inner := sc.child()
		for _, c := range v.Constraints {
			if err := r.walk(c, inner); err != nil {
				return err
			}
		}
	case *Sequence:
		partOf := v.PartOf
		if len(partOf) == 0 {
			partOf = sc.partOf
		}
		r.labels.Add(&Entry{
			Label: v.Label, Node: v, Depth: sc.depth,
			PartOf: partOf, Bound: sc.bound, Quantified: sc.quantified, TopLevel: sc.topLevel,
		})
		inner := sc.child()
		inner.partOf = partOf
		if !v.Repetition.IsOnce() {
			inner.bound = true
		}
		for _, m := range v.Members {
			if err := r.walk(m, inner); err != nil {
				return err
			}
		}
	case *Set:
		partOf := v.PartOf
		if len(partOf) == 0 {
			partOf = sc.partOf
		}
		r.labels.Add(&Entry{
			Label: v.Label, Layer: v.Layer, Node: v, Depth: sc.depth, IsSet: true,
			PartOf: partOf, Bound: sc.bound, Quantified: sc.quantified, TopLevel: sc.topLevel,
		})
		inner := sc.child()
		inner.partOf = partOf
		inner.bound = true
		inner.inSet = true
		for _, m := range v.Members {
			if err := r.walk(m, inner); err != nil {
				return err
			}
		}
	case *Group:
		r.labels.Add(&Entry{
			Label: v.Label, Node: v, Depth: sc.depth, IsGroup: true,
			Bound: sc.bound, TopLevel: sc.topLevel,
		})
	case *LogicalExpression:
		if v.Label != "" {
			r.labels.Add(&Entry{
				Label: v.Label, Layer: v.Layer, Node: v, Depth: sc.depth,
				PartOf: sc.partOf, Bound: sc.bound, TopLevel: sc.topLevel,
			})
		}
		inner := sc.child()
		inner.topLevel = false
		if v.Operator != "AND" {
			inner.bound = true
		}
		for _, a := range v.Args {
			if err := r.walk(a, inner); err != nil {
				return err
			}
		}
	case *Quantification:
		inner := sc.child()
		inner.quantified = true
		if IsNegated(v.Quantor) {
			inner.bound = true
		}
		for _, a := range v.Args {
			if err := r.walk(a, inner); err != nil {
				return err
			}
		}
	case *Constraint:
		inner := sc
		inner.topLevel = sc.topLevel
		return r.walk(v.Node, inner)
	case *Comparison:
	default:
		return Errorf(ErrCodeInvalidQuery, "", "unexpected node %T", n)
	}
	return nil
}
