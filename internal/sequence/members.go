// Package sequence compiles sequence patterns.
//
// Build decomposes a sequence node into a flat tree of members stored in an
// arena: units that land at the top level of the decomposed sequence have a
// fixed position relative to their neighbours and become plain token joins;
// every maximal run of other members (disjunctions, optional or repeated
// sub-sequences) becomes an Automaton evaluated by a recursive CTE.
package sequence

import (
	"log/slog"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
)

// Kind is the kind of a decomposed member.
type Kind int

const (
	KindUnit Kind = iota
	KindDisjunction
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindDisjunction:
		return "disjunction"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Member is one node of a decomposed sequence. Parent is an index into the
// owning Tree; the root has Parent -1.
type Member struct {
	Kind   Kind
	Parent int
	Depth  int

	// Unit is the matched unit of a KindUnit member. Its constraints are
	// compiled under Label, which is unique in the whole query.
	Unit *queryir.Unit

	// Label is the unit's internal label, or the sequence label.
	Label     string
	Anonymous bool

	Repetition queryir.Repetition
	Children   []int

	// MinLength and MaxLength bound the number of tokens the member spans.
	// MaxLength is -1 when unbounded.
	MinLength int
	MaxLength int

	PartOf []queryir.PartOf

	// NeedCTE is set on sequences that contain a disjunction or a
	// sub-sequence needing one.
	NeedCTE bool
}

// Tree is a decomposed sequence. Members[0] is the root: a (1,1) sequence
// carrying the label and partOf of the source node.
type Tree struct {
	Members []Member

	labels     *queryir.LabelLayer
	tokenLayer string
	used       map[string]bool // unit labels already handed out in this tree
	spans      []Span
}

// Span is the range of root children a labeled (1,1) sub-sequence was
// unrolled into. First and Last are positions in Root().Children.
type Span struct {
	Label       string
	First, Last int
}

// Root returns the root member.
func (t *Tree) Root() *Member { return &t.Members[0] }

// Member returns the member at index i.
func (t *Tree) Member(i int) *Member { return &t.Members[i] }

// Units returns the indexes of every unit below member i, in order.
func (t *Tree) Units(i int) []int {
	var out []int
	var walk func(int)
	walk = func(j int) {
		m := &t.Members[j]
		if m.Kind == KindUnit {
			out = append(out, j)
			return
		}
		for _, c := range m.Children {
			walk(c)
		}
	}
	walk(i)
	return out
}

// Top returns the root index reached by walking up from i.
func (t *Tree) Top(i int) int {
	for t.Members[i].Parent >= 0 {
		i = t.Members[i].Parent
	}
	return i
}

// Build decomposes seq.
//
// A unit is a member of length 1. A disjunction of units only is folded
// into one unit whose constraints are the OR of each branch's constraints;
// any other disjunction is a Disjunction member. A sub-sequence repeated at
// least min >= 1 times is unrolled into min copies of its members followed
// by an optional sequence covering the remaining repetitions. Sequences
// that may be skipped entirely, and everything below a disjunction, stay
// atomic.
//
// Units receive internal labels: the first occurrence of a unit keeps its
// label, later copies get a fresh one. Fresh labels are declared in labels
// as bound entries of tokenLayer.
func Build(seq *queryir.Sequence, labels *queryir.LabelLayer, tokenLayer string) (*Tree, error) {
	if err := checkRepetition(seq.Label, seq.Repetition); err != nil {
		return nil, err
	}
	t := &Tree{labels: labels, tokenLayer: tokenLayer, used: make(map[string]bool)}
	t.Members = append(t.Members, Member{
		Kind:       KindSequence,
		Parent:     -1,
		Label:      seq.Label,
		Anonymous:  seq.Anonymous,
		Repetition: queryir.Once,
		PartOf:     seq.PartOf,
	})
	if err := t.expand(0, seq, 1, true, seq.PartOf); err != nil {
		return nil, err
	}
	t.measure(0)
	slog.Debug("sequence decomposed", "label", seq.Label, "members", len(t.Members),
		"min", t.Root().MinLength, "max", t.Root().MaxLength)
	return t, nil
}

func checkRepetition(label string, r queryir.Repetition) error {
	if r.Min < 0 || (r.Max != -1 && r.Max < r.Min) {
		return queryir.Errorf(queryir.ErrCodeInvalidRepetition, label,
			"invalid repetition %d..%d", r.Min, r.Max)
	}
	return nil
}

func (t *Tree) add(m Member) int {
	t.Members = append(t.Members, m)
	i := len(t.Members) - 1
	if m.Parent >= 0 {
		p := &t.Members[m.Parent]
		p.Children = append(p.Children, i)
	}
	return i
}

// expand adds the members of seq under parent, applying seq's repetition
// when flatten is set.
func (t *Tree) expand(parent int, seq *queryir.Sequence, depth int, flatten bool, partOf []queryir.PartOf) error {
	if len(seq.PartOf) > 0 {
		partOf = seq.PartOf
	}
	rep := seq.Repetition
	if !flatten || rep.Min == 0 {
		return t.atomic(parent, seq, depth, partOf)
	}
	first := len(t.Members[parent].Children)
	for n := 0; n < rep.Min; n++ {
		if err := t.members(parent, seq.Members, depth, true, partOf); err != nil {
			return err
		}
	}
	last := len(t.Members[parent].Children) - 1
	if parent == 0 && rep.IsOnce() && !seq.Anonymous && seq.Label != t.Root().Label && !t.labels.Bound(seq.Label) && last >= first {
		t.spans = append(t.spans, Span{Label: seq.Label, First: first, Last: last})
	}
	if rep.Max == rep.Min {
		return nil
	}
	rest := queryir.Repetition{Min: 0, Max: -1}
	if rep.Max != -1 {
		rest.Max = rep.Max - rep.Min
	}
	return t.atomic(parent, &queryir.Sequence{
		Label:      seq.Label,
		Repetition: rest,
		Members:    seq.Members,
		PartOf:     seq.PartOf,
		Anonymous:  seq.Anonymous,
	}, depth, partOf)
}

// atomic adds seq as one Sequence member whose content is not unrolled.
func (t *Tree) atomic(parent int, seq *queryir.Sequence, depth int, partOf []queryir.PartOf) error {
	if err := checkRepetition(seq.Label, seq.Repetition); err != nil {
		return err
	}
	i := t.add(Member{
		Kind:       KindSequence,
		Parent:     parent,
		Depth:      depth,
		Label:      seq.Label,
		Anonymous:  seq.Anonymous,
		Repetition: seq.Repetition,
		PartOf:     partOf,
	})
	return t.members(i, seq.Members, depth+1, false, partOf)
}

func (t *Tree) members(parent int, nodes []queryir.Node, depth int, flatten bool, partOf []queryir.PartOf) error {
	for _, n := range nodes {
		if err := t.node(parent, n, depth, flatten, partOf); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) node(parent int, n queryir.Node, depth int, flatten bool, partOf []queryir.PartOf) error {
	switch v := n.(type) {
	case *queryir.Unit:
		return t.unit(parent, v, depth, partOf)
	case *queryir.Sequence:
		if err := checkRepetition(v.Label, v.Repetition); err != nil {
			return err
		}
		return t.expand(parent, v, depth, flatten, partOf)
	case *queryir.LogicalExpression:
		op := strings.ToUpper(strings.TrimSpace(v.Operator))
		if op != "OR" {
			return queryir.Errorf(queryir.ErrCodeUnsupported, v.Label,
				"only disjunctions can appear among the members of a sequence (got %s)", v.Operator)
		}
		return t.disjunction(parent, v, depth, partOf)
	case *queryir.Constraint:
		return t.node(parent, v.Node, depth, flatten, partOf)
	default:
		return queryir.Errorf(queryir.ErrCodeUnsupported, "",
			"%T cannot be a member of a sequence", n)
	}
}

func (t *Tree) unit(parent int, u *queryir.Unit, depth int, partOf []queryir.PartOf) error {
	if u.Quantor != "" {
		return queryir.Errorf(queryir.ErrCodeUnsupported, u.Label,
			"quantified units cannot be members of a sequence")
	}
	if u.Layer != "" && !strings.EqualFold(u.Layer, t.tokenLayer) {
		return queryir.Errorf(queryir.ErrCodeTypeMismatch, u.Label,
			"sequence members must be %s units, not %s", t.tokenLayer, u.Layer)
	}
	if len(u.PartOf) > 0 {
		partOf = u.PartOf
	}
	label := t.internalLabel(u, partOf)
	t.add(Member{
		Kind:      KindUnit,
		Parent:    parent,
		Depth:     depth,
		Unit:      u,
		Label:     label,
		Anonymous: u.Anonymous,
		MinLength: 1,
		MaxLength: 1,
		PartOf:    partOf,
	})
	return nil
}

// internalLabel keeps the unit's label for its first occurrence in the
// tree and hands out a fresh bound label for every copy.
func (t *Tree) internalLabel(u *queryir.Unit, partOf []queryir.PartOf) string {
	label := u.Label
	if label != "" && !t.used[label] {
		t.used[label] = true
		if !t.labels.Has(label) {
			t.declare(label, u, partOf)
		}
		return label
	}
	base := label
	if base == "" {
		base = "anonymous"
	}
	fresh := t.labels.Unique(base)
	t.used[fresh] = true
	t.declare(fresh, u, partOf)
	return fresh
}

func (t *Tree) declare(label string, u *queryir.Unit, partOf []queryir.PartOf) {
	t.labels.Add(&queryir.Entry{
		Label:  label,
		Layer:  t.tokenLayer,
		Node:   u,
		PartOf: partOf,
		Bound:  true,
	})
}

func (t *Tree) disjunction(parent int, e *queryir.LogicalExpression, depth int, partOf []queryir.PartOf) error {
	args := queryir.FlattenCoord(e.Args, "OR")
	if merged := t.mergeUnits(args); merged != nil {
		return t.unit(parent, merged, depth, partOf)
	}
	i := t.add(Member{
		Kind:   KindDisjunction,
		Parent: parent,
		Depth:  depth,
		Label:  e.Label,
		PartOf: partOf,
	})
	for _, a := range args {
		if err := t.node(i, a, depth+1, false, partOf); err != nil {
			return err
		}
	}
	return nil
}

// mergeUnits folds a disjunction of plain token units into one unit, or
// returns nil when any branch is something else.
func (t *Tree) mergeUnits(args []queryir.Node) *queryir.Unit {
	if len(args) == 0 {
		return nil
	}
	units := make([]*queryir.Unit, 0, len(args))
	for _, a := range args {
		u, ok := a.(*queryir.Unit)
		if !ok || u.Quantor != "" {
			return nil
		}
		if u.Layer != "" && !strings.EqualFold(u.Layer, t.tokenLayer) {
			return nil
		}
		units = append(units, u)
	}

	var branches []queryir.Node
	var partOf []queryir.PartOf
	for _, u := range units {
		if len(u.Constraints) == 0 {
			// One unconstrained branch matches any token.
			branches = nil
			partOf = u.PartOf
			break
		}
		branches = append(branches, &queryir.LogicalExpression{Operator: "AND", Args: u.Constraints})
		if partOf == nil {
			partOf = u.PartOf
		}
	}
	merged := &queryir.Unit{
		Layer:     t.tokenLayer,
		Label:     t.labels.Unique("anonymous"),
		PartOf:    partOf,
		Anonymous: true,
	}
	if len(branches) > 0 {
		merged.Constraints = []queryir.Node{&queryir.LogicalExpression{Operator: "OR", Args: branches}}
	}
	return merged
}

// measure computes the length bounds of member i and its descendants.
func (t *Tree) measure(i int) {
	m := &t.Members[i]
	switch m.Kind {
	case KindUnit:
		m.MinLength, m.MaxLength = 1, 1
	case KindDisjunction:
		for n, c := range m.Children {
			t.measure(c)
			cm := &t.Members[c]
			if n == 0 {
				m.MinLength, m.MaxLength = cm.MinLength, cm.MaxLength
				continue
			}
			if cm.MinLength < m.MinLength {
				m.MinLength = cm.MinLength
			}
			if m.MaxLength >= 0 && (cm.MaxLength < 0 || cm.MaxLength > m.MaxLength) {
				m.MaxLength = cm.MaxLength
			}
		}
	case KindSequence:
		sumMin, sumMax, unbounded := 0, 0, false
		for _, c := range m.Children {
			t.measure(c)
			cm := &t.Members[c]
			sumMin += cm.MinLength
			if cm.MaxLength < 0 {
				unbounded = true
			} else {
				sumMax += cm.MaxLength
			}
			if cm.Kind == KindDisjunction || (cm.Kind == KindSequence && cm.NeedCTE) {
				m.NeedCTE = true
			}
		}
		rep := m.Repetition
		if rep.Min == 0 {
			m.MinLength = 0
		} else {
			m.MinLength = rep.Min * sumMin
		}
		if rep.Max == -1 || unbounded {
			m.MaxLength = -1
		} else {
			m.MaxLength = rep.Max * sumMax
		}
	}
}

// Fixed reports whether member i has a single possible length.
func (m *Member) Fixed() bool {
	return m.MaxLength >= 0 && m.MinLength == m.MaxLength
}

// Simple reports whether every child of the sequence i is a unit.
func (t *Tree) Simple(i int) bool {
	m := &t.Members[i]
	if m.Kind != KindSequence {
		return false
	}
	for _, c := range m.Children {
		if t.Members[c].Kind != KindUnit {
			return false
		}
	}
	return true
}

// LabeledSpans returns the user-labeled sub-sequences that match exactly
// once whenever the whole sequence does, with the root children they were
// unrolled into. Repeated or optional sequences bind their content and
// never appear here.
func (t *Tree) LabeledSpans() []Span {
	return append([]Span(nil), t.spans...)
}
