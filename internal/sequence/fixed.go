package sequence

// Piece is one element of a fixed-offset layout: either a gap of Gap
// unconstrained tokens (-1 when its length is unknown) or a member.
type Piece struct {
	Gap    int
	Member int // -1 for a gap
}

// IsGap reports whether the piece is a gap.
func (p Piece) IsGap() bool { return p.Member < 0 }

func gap(n int) Piece { return Piece{Gap: n, Member: -1} }
func member(i int) Piece { return Piece{Member: i} }

func addGap(a, b int) int {
	if a < 0 || b < 0 {
		return -1
	}
	return a + b
}

// FixedSubsequences lays out member i as alternating gaps and members whose
// offset from the previous member is known. An unknown gap (-1) separates
// runs that cannot be aligned with each other. Units and disjunctions of
// fixed-length alternatives appear as members; anything else only
// contributes to the gaps.
//
// Optional repetitions are not laid out: a sequence that may repeat more
// than min times ends with an unknown gap.
func (t *Tree) FixedSubsequences(i int) []Piece {
	m := &t.Members[i]
	if m.Kind == KindUnit {
		return []Piece{member(i)}
	}
	if m.Kind == KindDisjunction {
		if t.fixedDisjunction(i) {
			return []Piece{member(i)}
		}
		if m.Fixed() {
			return []Piece{gap(m.MinLength)}
		}
		return []Piece{gap(-1)}
	}
	if m.Repetition.Min == 0 {
		return []Piece{gap(-1)}
	}

	var once []Piece
	sep := 0
	for _, c := range m.Children {
		for _, p := range t.FixedSubsequences(c) {
			if p.IsGap() {
				sep = addGap(sep, p.Gap)
				continue
			}
			once = append(once, gap(sep), p)
			sep = 0
		}
	}
	once = append(once, gap(sep))

	var out []Piece
	for n := 0; n < m.Repetition.Min; n++ {
		out = append(out, once...)
	}
	if m.Repetition.Max == -1 || m.Repetition.Max > m.Repetition.Min {
		out = append(out, gap(-1))
	}
	return mergeGaps(out)
}

// fixedDisjunction reports whether every alternative of disjunction i is a
// unit or a (1,1) sequence of units.
func (t *Tree) fixedDisjunction(i int) bool {
	for _, c := range t.Members[i].Children {
		cm := &t.Members[c]
		switch cm.Kind {
		case KindUnit:
		case KindSequence:
			if !cm.Repetition.IsOnce() || !t.Simple(c) {
				return false
			}
		default:
			return false
		}
	}
	return len(t.Members[i].Children) > 0
}

// mergeGaps folds consecutive gaps into one.
func mergeGaps(in []Piece) []Piece {
	var out []Piece
	for _, p := range in {
		if p.IsGap() && len(out) > 0 && out[len(out)-1].IsGap() {
			out[len(out)-1].Gap = addGap(out[len(out)-1].Gap, p.Gap)
			continue
		}
		out = append(out, p)
	}
	return out
}
