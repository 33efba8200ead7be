package sequence

import (
	"sort"
	"strconv"
	"strings"
)

// Transition is one edge of an automaton: reading a token that matches the
// unit Label moves from Source to Dest.
type Transition struct {
	Source int
	Dest   int
	Label  string
}

// Automaton matches a run of variable-length members between two fixed
// units. States are numbered from 0, the start state, in breadth-first
// order; there are no epsilon transitions.
type Automaton struct {
	// N numbers the transition and traversal CTEs. The assembler assigns
	// it so numbering never collides across sequences.
	N int

	// Members are the tree indexes of the run, in order.
	Members []int

	// Prev and Next are the labels of the fixed units around the run, ""
	// at the edges of the sequence.
	Prev string
	Next string

	MinLength int
	MaxLength int

	Transitions []Transition
	Finals      []int

	// Units lists the labels the transitions read, in first-use order.
	Units []string

	alias      string // token alias of the recursive step
	startAlias string // token alias of the base step when Prev is ""
}

type edge struct {
	from, to int
	label    string
}

// nfa is a Thompson automaton under construction.
type nfa struct {
	eps   [][]int
	edges [][]edge
}

func (a *nfa) state() int {
	a.eps = append(a.eps, nil)
	a.edges = append(a.edges, nil)
	return len(a.eps) - 1
}

func (a *nfa) epsilon(from, to int) {
	a.eps[from] = append(a.eps[from], to)
}

func (a *nfa) addEdge(from, to int, label string) {
	a.edges[from] = append(a.edges[from], edge{from: from, to: to, label: label})
}

// fragment adds member i after state from and returns the state reached
// once the member has been read.
func (a *nfa) fragment(t *Tree, i, from int) int {
	m := t.Member(i)
	switch m.Kind {
	case KindUnit:
		to := a.state()
		a.addEdge(from, to, m.Label)
		return to
	case KindDisjunction:
		end := a.state()
		for _, c := range m.Children {
			start := a.state()
			a.epsilon(from, start)
			a.epsilon(a.fragment(t, c, start), end)
		}
		return end
	default:
		once := func(start int) int {
			cur := start
			for _, c := range m.Children {
				cur = a.fragment(t, c, cur)
			}
			return cur
		}
		cur := from
		for n := 0; n < m.Repetition.Min; n++ {
			cur = once(cur)
		}
		end := a.state()
		if m.Repetition.Max == -1 {
			loop := a.state()
			a.epsilon(cur, loop)
			a.epsilon(once(loop), loop)
			a.epsilon(loop, end)
			return end
		}
		for n := m.Repetition.Min; n < m.Repetition.Max; n++ {
			a.epsilon(cur, end)
			cur = once(cur)
		}
		a.epsilon(cur, end)
		return end
	}
}

func (a *nfa) closure(s int) []int {
	seen := map[int]bool{s: true}
	out := []int{s}
	for k := 0; k < len(out); k++ {
		for _, n := range a.eps[out[k]] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// newAutomaton compiles the run of members into an epsilon-free automaton.
func newAutomaton(t *Tree, members []int) *Automaton {
	a := &nfa{}
	start := a.state()
	cur := start
	out := &Automaton{Members: members}
	for n, i := range members {
		cur = a.fragment(t, i, cur)
		m := t.Member(i)
		out.MinLength += m.MinLength
		if n == 0 {
			out.MaxLength = m.MaxLength
		} else {
			out.MaxLength = addGap(out.MaxLength, m.MaxLength)
		}
	}
	final := cur

	// Renumber the states reachable from start breadth-first while
	// folding epsilon closures into the outgoing edges.
	number := map[int]int{start: 0}
	queue := []int{start}
	seenEdge := map[Transition]bool{}
	seenUnit := map[string]bool{}
	for k := 0; k < len(queue); k++ {
		s := queue[k]
		src := number[s]
		for _, p := range a.closure(s) {
			if p == final {
				out.Finals = appendInt(out.Finals, src)
			}
			for _, e := range a.edges[p] {
				dst, ok := number[e.to]
				if !ok {
					dst = len(queue)
					number[e.to] = dst
					queue = append(queue, e.to)
				}
				tr := Transition{Source: src, Dest: dst, Label: e.label}
				if seenEdge[tr] {
					continue
				}
				seenEdge[tr] = true
				out.Transitions = append(out.Transitions, tr)
				if !seenUnit[e.label] {
					seenUnit[e.label] = true
					out.Units = append(out.Units, e.label)
				}
			}
		}
	}
	sort.Slice(out.Transitions, func(i, j int) bool {
		x, y := out.Transitions[i], out.Transitions[j]
		if x.Source != y.Source {
			return x.Source < y.Source
		}
		if x.Dest != y.Dest {
			return x.Dest < y.Dest
		}
		return x.Label < y.Label
	})
	sort.Ints(out.Finals)
	return out
}

func appendInt(list []int, n int) []int {
	for _, x := range list {
		if x == n {
			return list
		}
	}
	return append(list, n)
}

// Table returns the name of the traversal CTE.
func (a *Automaton) Table() string { return "traversal" + strconv.Itoa(a.N) }

// TransitionTable returns the name of the transition CTE.
func (a *Automaton) TransitionTable() string { return "transition" + strconv.Itoa(a.N) }

// StateColumn, IDColumn and StartColumn name the columns the traversal
// adds: the current state, the id of the last token read and the id of the
// first token read.
func (a *Automaton) StateColumn() string { return a.Table() + "_state" }

func (a *Automaton) IDColumn() string { return a.Table() + "_id" }

func (a *Automaton) StartColumn() string { return a.Table() + "_start" }

func (a *Automaton) finalList() string {
	parts := make([]string, len(a.Finals))
	for i, f := range a.Finals {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ", ")
}
