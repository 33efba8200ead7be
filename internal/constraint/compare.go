package constraint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// Condition is a compiled comparison.
type Condition struct {
	SQL   string
	joins *sqlref.Joins
}

func (*Condition) member() {}

// Joins returns the sources the condition needs.
func (c *Condition) Joins() *sqlref.Joins { return c.joins }

var (
	ordering    = map[string]bool{"=": true, "!=": true, ">=": true, "<=": true, ">": true, "<": true}
	jsonScalar  = regexp.MustCompile(`->('[^']*')$`)
	containOps  = map[string]bool{"contain": true, "contains": true}
	overlapsOps = map[string]bool{"overlaps": true, "overlap": true}
)

// comparator is a parsed comparison operator.
type comparator struct {
	raw     string
	op      string // =, !=, <, contain, overlaps...
	negated bool
}

func parseComparator(raw string) comparator {
	op := strings.TrimSpace(raw)
	switch op {
	case "<>", "≠":
		return comparator{raw: raw, op: "!=", negated: true}
	case "!=":
		return comparator{raw: raw, op: "!=", negated: true}
	case "=", "==":
		return comparator{raw: raw, op: "="}
	case "<", ">", "<=", ">=":
		return comparator{raw: raw, op: op}
	}
	base, negated := queryir.StripNegation(op)
	base = strings.ToLower(base)
	if base == "=" && negated {
		return comparator{raw: raw, op: "!=", negated: true}
	}
	return comparator{raw: raw, op: base, negated: negated}
}

func (c comparator) equality() bool { return c.op == "=" || c.op == "!=" }

// Comparison compiles one comparison in the scope of label.
func (c *Compiler) Comparison(label, layer string, cmp *queryir.Comparison) (*Condition, error) {
	left, err := c.Expr(label, layer, cmp.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.Expr(label, layer, cmp.Right)
	if err != nil {
		return nil, err
	}
	joins := left.Joins.Clone()
	joins.Merge(right.Joins)

	sql, err := c.compare(left, parseComparator(cmp.Comparator), right, joins)
	if err != nil {
		return nil, err
	}
	return &Condition{SQL: sql, joins: joins}, nil
}

func mismatch(left *Expr, op comparator, right *Expr) error {
	return queryir.Errorf(queryir.ErrCodeTypeMismatch, left.Text+" "+op.raw+" "+right.Text,
		"cannot compare %s (%s) with %s (%s)", left.Text, left.Type, right.Text, right.Type)
}

func badOperator(left *Expr, op comparator, right *Expr, allowed string) error {
	return queryir.Errorf(queryir.ErrCodeInvalidOperator, left.Text+" "+op.raw+" "+right.Text,
		"operator %q is not valid between %s and %s (use %s)", op.raw, left.Type, right.Type, allowed)
}

// compare applies the pairing rules of the two operand types.
func (c *Compiler) compare(left *Expr, op comparator, right *Expr, joins *sqlref.Joins) (string, error) {
	lt, rt := left.Type, right.Type
	has := func(t RefType) bool { return lt == t || rt == t }

	if containOps[op.op] {
		switch {
		case lt == TypeLabels:
			return c.labelsCondition(left, op, right, joins)
		case rt == TypeLabels:
			return c.labelsCondition(right, op, left, joins)
		case lt == TypeDict && rt == TypeString:
			formed := "(" + left.SQL + ")::jsonb ? (" + right.SQL + ")::text"
			if op.negated {
				formed = "NOT (" + formed + ")"
			}
			return formed, nil
		case lt == TypeDict:
			return "", mismatch(left, op, right)
		default:
			return "", queryir.Errorf(queryir.ErrCodeInvalidOperator, left.Text,
				"cannot use %q on %s", op.raw, left.Type)
		}
	}

	switch {
	case has(TypeID):
		if !op.equality() {
			return "", badOperator(left, op, right, "= or !=")
		}
		switch {
		case lt == rt:
			return left.SQL + " " + op.op + " " + right.SQL, nil
		case lt == TypeEntity:
			return c.pointer(left) + " " + op.op + " " + right.SQL, nil
		case rt == TypeEntity:
			return left.SQL + " " + op.op + " " + c.pointer(right), nil
		case lt == TypeString && left.Literal:
			if cast, ok := idCast(left.Value); ok {
				return left.SQL + cast + " " + op.op + " " + right.SQL, nil
			}
		case rt == TypeString && right.Literal:
			if cast, ok := idCast(right.Value); ok {
				return left.SQL + " " + op.op + " " + right.SQL + cast, nil
			}
		}
		return "", mismatch(left, op, right)

	case lt == TypeEntity && rt == TypeEntity:
		if overlapsOps[op.op] {
			for _, e := range []*Expr{left, right} {
				if !c.config().IsAnchored(e.Layer, string(queryir.AnchorTime)) {
					return "", queryir.Errorf(queryir.ErrCodeTypeMismatch, e.Text,
						"%s cannot overlap because %s is not time-anchored", e.Text, e.Layer)
				}
			}
			l := c.SQL.Anchor(left.Entity, left.Layer, string(queryir.AnchorTime)).SQL
			r := c.SQL.Anchor(right.Entity, right.Layer, string(queryir.AnchorTime)).SQL
			formed := l + " && " + r
			if op.negated {
				formed = "NOT (" + formed + ")"
			}
			return formed, nil
		}
		if !op.equality() {
			return "", badOperator(left, op, right, "=, != or overlaps")
		}
		return c.pointer(left) + " " + op.op + " " + c.pointer(right), nil

	case has(TypeLabels):
		return "", badOperator(left, op, right, "contain or !contain")

	case has(TypeEntity):
		return "", mismatch(left, op, right)

	case has(TypeRegex):
		if !op.equality() {
			return "", badOperator(left, op, right, "= or !=")
		}
		str, pattern := left, right
		if lt == TypeRegex {
			str, pattern = right, left
		}
		if str.Type != TypeString || pattern.Type != TypeRegex {
			return "", mismatch(left, op, right)
		}
		sqlOp := "~"
		if op.op == "!=" {
			sqlOp = "!~"
		}
		if pattern.CaseInsensitive {
			sqlOp += "*"
		}
		return textOperand(str) + " " + sqlOp + " " + pattern.SQL, nil

	case lt == TypeDate || rt == TypeDate:
		if !ordering[op.op] {
			return "", badOperator(left, op, right, "=, !=, <, >, <= or >=")
		}
		l, err := dateOperand(left)
		if err != nil {
			return "", err
		}
		r, err := dateOperand(right)
		if err != nil {
			return "", err
		}
		return l + " " + op.op + " " + r, nil

	case lt == TypeString && rt == TypeString:
		if !ordering[op.op] {
			return "", badOperator(left, op, right, "=, !=, <, >, <= or >=")
		}
		if left.Plain && right.Plain {
			return left.SQL + " " + op.op + " " + right.SQL, nil
		}
		return textOperand(left) + " " + op.op + " " + textOperand(right), nil

	case lt == TypeNumber && rt == TypeNumber:
		if !ordering[op.op] {
			return "", badOperator(left, op, right, "=, !=, <, >, <= or >=")
		}
		return numericOperand(left) + " " + op.op + " " + numericOperand(right), nil
	}
	return "", mismatch(left, op, right)
}

// pointer returns the primary key column of an entity operand.
func (c *Compiler) pointer(e *Expr) string {
	return c.SQL.Layer(e.Entity, e.Layer, true).SQL
}

// idCast returns the cast that lets a string literal compare with an id
// column. Only UUIDs qualify; integer ids are compared through entities.
func idCast(value string) (string, bool) {
	if _, err := uuid.Parse(value); err == nil {
		return "::uuid", true
	}
	return "", false
}

func textOperand(e *Expr) string {
	if e.Plain {
		return e.SQL
	}
	return "(" + e.SQL + ")::text"
}

func numericOperand(e *Expr) string {
	if e.Literal {
		return e.SQL
	}
	return "(" + jsonScalar.ReplaceAllString(e.SQL, "->>$1") + ")::numeric"
}

func dateOperand(e *Expr) (string, error) {
	switch {
	case e.Type == TypeDate:
		return "(" + e.SQL + ")::date", nil
	case e.Literal && (e.Type == TypeString || e.Type == TypeNumber):
		d, err := ParseDate(e.Value)
		if err != nil {
			return "", err
		}
		return sqlref.Literal(d) + "::date", nil
	default:
		return "", queryir.Errorf(queryir.ErrCodeTypeMismatch, e.Text,
			"cannot compare %s (%s) with a date", e.Text, e.Type)
	}
}

// labelsCondition tests a labels bitstring against the mask of the labels
// whose name matches value. The mask is computed once per distinct
// (attribute, operator, value) and cross joined under its own alias.
func (c *Compiler) labelsCondition(ref *Expr, op comparator, value *Expr, joins *sqlref.Joins) (string, error) {
	if value.Type != TypeString && value.Type != TypeRegex {
		return "", queryir.Errorf(queryir.ErrCodeTypeMismatch, value.Text,
			"labels can only be tested against strings or regular expressions")
	}
	n := ref.NLabels
	if n <= 0 {
		n = 1
	}
	inner := "="
	if value.Type == TypeRegex {
		inner = "~"
		if value.CaseInsensitive {
			inner = "~*"
		}
	}
	key := ref.SQL + "|" + inner + "|" + value.SQL
	alias, ok := c.masks[key]
	if !ok {
		base := sqlref.Sanitize(ref.SQL)
		alias = c.SQL.Unique(base + "_mask_" + strconv.Itoa(c.nmask[base]))
		c.nmask[base]++
		c.masks[key] = alias
	}
	lookup := ref.Lookup
	if lookup == "" {
		lookup = ref.SQL[strings.LastIndex(ref.SQL, ".")+1:]
	}
	bits := fmt.Sprintf("bit(%d)", n)
	source := fmt.Sprintf("(SELECT COALESCE(bit_or(1::%s<<bit)::%s, b'%s') AS m FROM %s WHERE label %s %s) %s",
		bits, bits, strings.Repeat("0", n), sqlref.Qualified(c.SQL.Target().Schema, lookup), inner, value.SQL, alias)
	joins.Add(source)

	cmp := ">"
	if op.negated {
		cmp = "="
	}
	return fmt.Sprintf("%s & %s.m %s 0::%s", ref.SQL, alias, cmp, bits), nil
}
