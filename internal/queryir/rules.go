package queryir

import (
	"strconv"
	"strings"
)

// NegationPrefixes are the spellings that negate a quantifier or comparator.
// Only these spellings are recognized; extend the list rather than
// guessing at others.
var NegationPrefixes = []string{"!", "~", "¬", "NOT"}

// ParseRepetition parses repetition bounds.
//
// min is a non-negative integer. max is an integer, "*" (unbounded,
// returned as -1) or empty (defaults to min). Bounds must satisfy
// min >= 0 and max >= min unless max is unbounded.
func ParseRepetition(min, max string) (Repetition, error) {
	min = strings.TrimSpace(min)
	max = strings.TrimSpace(max)
	if min == "" {
		min = "1"
	}
	lo, err := strconv.Atoi(min)
	if err != nil {
		return Repetition{}, Errorf(ErrCodeInvalidRepetition, min, "repetition minimum is not an integer")
	}
	if lo < 0 {
		return Repetition{}, Errorf(ErrCodeInvalidRepetition, min, "repetition minimum must be >= 0")
	}
	hi := lo
	switch max {
	case "":
	case "*":
		hi = -1
	default:
		hi, err = strconv.Atoi(max)
		if err != nil {
			return Repetition{}, Errorf(ErrCodeInvalidRepetition, max, "repetition maximum is not an integer or *")
		}
		if hi < lo {
			return Repetition{}, Errorf(ErrCodeInvalidRepetition, max, "repetition maximum %d is lower than minimum %d", hi, lo)
		}
	}
	if hi == 0 {
		return Repetition{}, Errorf(ErrCodeInvalidRepetition, max, "repetition maximum must be positive")
	}
	return Repetition{Min: lo, Max: hi}, nil
}

// NormalizeQuantor maps a quantifier spelling to "EXISTS" or "NOT EXISTS".
// The empty string means no quantifier and is returned unchanged.
func NormalizeQuantor(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", nil
	}
	rest, negated := StripNegation(q)
	switch strings.ToUpper(strings.TrimSpace(rest)) {
	case "EXISTS", "EXIST":
	default:
		return "", Errorf(ErrCodeInvalidQuantifier, q, "unknown quantifier")
	}
	if negated {
		return "NOT EXISTS", nil
	}
	return "EXISTS", nil
}

// StripNegation removes one leading negation prefix from s.
// The boolean reports whether a prefix was found.
func StripNegation(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	for _, p := range NegationPrefixes {
		if len(trimmed) < len(p) || !strings.EqualFold(trimmed[:len(p)], p) {
			continue
		}
		rest := trimmed[len(p):]
		// Word prefixes need a separator so "NOTE" is not "NOT E".
		if isWordPrefix(p) && rest != "" && !strings.HasPrefix(rest, " ") {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return trimmed, false
}

// IsNegated reports whether a comparator or quantifier carries a negation
// ("!=", "!contain", "NOT EXISTS").
func IsNegated(op string) bool {
	_, negated := StripNegation(op)
	return negated
}

func isWordPrefix(p string) bool {
	for _, r := range p {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// FlattenCoord lifts nested logical expressions that use the same
// operator into their parent so (a AND (b AND c)) yields [a b c].
// NOT expressions are never flattened.
func FlattenCoord(args []Node, operator string) []Node {
	var out []Node
	for _, a := range args {
		le, ok := a.(*LogicalExpression)
		if ok && operator != "NOT" && le.Operator == operator && le.Label == "" {
			out = append(out, FlattenCoord(le.Args, operator)...)
			continue
		}
		out = append(out, a)
	}
	return out
}
