// Package sqlref builds the table, column and join references a compiled
// query uses, and is the only place that quotes identifiers and literals.
//
// Every reference is memoized per compile: asking twice for the same
// (entity, attribute, pointer) key returns the same *Ref, so aliases stay
// stable across the whole statement and no join is emitted twice.
package sqlref

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/text/unicode/norm"
)

var (
	bareIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	numeric   = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?$`)
)

// reserved lists the keywords that cannot appear as bare identifiers.
var reserved = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "both": true, "case": true,
	"cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "current_date": true,
	"current_time": true, "current_user": true, "default": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true,
	"except": true, "false": true, "fetch": true, "for": true,
	"foreign": true, "from": true, "grant": true, "group": true,
	"having": true, "in": true, "initially": true, "intersect": true,
	"into": true, "lateral": true, "leading": true, "limit": true,
	"not": true, "null": true, "offset": true, "on": true, "only": true,
	"or": true, "order": true, "placing": true, "primary": true,
	"references": true, "returning": true, "select": true,
	"session_user": true, "some": true, "symmetric": true, "table": true,
	"then": true, "to": true, "trailing": true, "true": true, "union": true,
	"unique": true, "user": true, "using": true, "variadic": true,
	"when": true, "where": true, "window": true, "with": true,
}

// Ident renders an identifier. Lowercase names made of letters, digits and
// underscores are emitted bare; everything else is double-quoted.
func Ident(name string) string {
	if bareIdent.MatchString(name) && !reserved[name] {
		return name
	}
	return pq.QuoteIdentifier(name)
}

// Qualified renders a dotted identifier path such as schema.table.
func Qualified(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = Ident(p)
	}
	return strings.Join(out, ".")
}

// Literal renders a string literal. The value is NFC-normalized first so
// canonically equivalent input compiles to the same SQL.
func Literal(s string) string {
	return strings.TrimSpace(pq.QuoteLiteral(norm.NFC.String(s)))
}

// Number renders a numeric literal, or false when s is not a number.
func Number(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !numeric.MatchString(s) {
		return "", false
	}
	return s, true
}

// UniqueLabel returns base if it is not in used, else base2, base3, ...
// The returned label is recorded in used.
func UniqueLabel(base string, used map[string]struct{}) string {
	if base == "" {
		base = "anonymous"
	}
	candidate := base
	for n := 2; ; n++ {
		if _, taken := used[candidate]; !taken {
			break
		}
		candidate = base + strconv.Itoa(n)
	}
	used[candidate] = struct{}{}
	return candidate
}

// Sanitize turns arbitrary text into an alias made of letters, digits and
// underscores, without leading or trailing underscores.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
