// Package constraint compiles constraint trees into SQL conditions and the
// joins they need.
//
// A Compiler resolves every operand of a comparison to an Expr carrying
// its SQL text and its RefType, then applies the pairing rules of the two
// types to pick the SQL operator. Logical expressions, nested units and
// quantified units compile into a Constraints tree whose Where, Conjuncts
// and Joins methods give the assembler what it needs.
package constraint

import (
	"fmt"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// RefType is the resolved type of an operand.
type RefType int

const (
	TypeString RefType = iota
	TypeRegex
	TypeNumber
	TypeDate
	TypeEntity
	TypeID
	TypeLabels
	TypeDict
)

func (t RefType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeRegex:
		return "regex"
	case TypeNumber:
		return "number"
	case TypeDate:
		return "date"
	case TypeEntity:
		return "entity"
	case TypeID:
		return "id"
	case TypeLabels:
		return "labels"
	case TypeDict:
		return "dict"
	default:
		return fmt.Sprintf("RefType(%d)", int(t))
	}
}

func refType(typ string) RefType {
	switch typ {
	case "number":
		return TypeNumber
	case "date":
		return TypeDate
	case "entity":
		return TypeEntity
	case "id":
		return TypeID
	case "labels":
		return TypeLabels
	case "dict":
		return TypeDict
	default:
		return TypeString
	}
}

// Expr is a resolved operand.
type Expr struct {
	SQL  string
	Type RefType

	// Text is the operand as written, used for display names.
	Text string

	// Entity and Layer are set for references.
	Entity string
	Layer  string

	// Literal marks string, regex and numeric literals.
	Literal bool

	// Plain marks a text-valued column or literal that compares as text
	// without a cast.
	Plain bool

	CaseInsensitive bool
	NLabels         int
	Lookup          string

	// Value is the unquoted literal value.
	Value string

	Joins *sqlref.Joins
}

// funcs maps the functions a query may call to their result type.
var funcs = map[string]RefType{
	"length":   TypeNumber,
	"century":  TypeNumber,
	"decade":   TypeNumber,
	"year":     TypeNumber,
	"month":    TypeNumber,
	"day":      TypeNumber,
	"position": TypeNumber,
	"range":    TypeNumber,
	"start":    TypeNumber,
	"end":      TypeNumber,
	"lower":    TypeString,
	"upper":    TypeString,
}

// Compiler compiles constraints for one query.
type Compiler struct {
	SQL    *sqlref.Corpus
	Labels *queryir.LabelLayer

	masks map[string]string
	nmask map[string]int
}

// New creates a Compiler sharing refs and labels with the rest of the
// compile.
func New(refs *sqlref.Corpus, labels *queryir.LabelLayer) *Compiler {
	return &Compiler{
		SQL:    refs,
		Labels: labels,
		masks:  make(map[string]string),
		nmask:  make(map[string]int),
	}
}

func (c *Compiler) config() *corpus.Config { return c.SQL.Config() }

// Expr resolves an operand in the scope of the entity label of layer.
//
// Bare references resolve against the layer first: a dependency column of
// a relation layer, then a declared attribute, then a meta attribute.
// Anything else must be a declared label, optionally followed by a dotted
// attribute path ("t2.lemma", "d.meta.date", "t.agent.name").
func (c *Compiler) Expr(label, layer string, op queryir.Operand) (*Expr, error) {
	switch v := op.(type) {
	case queryir.StringLit:
		return &Expr{
			SQL: sqlref.Literal(string(v)), Type: TypeString, Text: string(v),
			Value: string(v), Literal: true, Plain: true, Joins: sqlref.NewJoins(),
		}, nil
	case queryir.Regex:
		return &Expr{
			SQL: sqlref.Literal(v.Pattern), Type: TypeRegex, Text: v.Pattern,
			Value: v.Pattern, Literal: true, CaseInsensitive: v.CaseInsensitive,
			Joins: sqlref.NewJoins(),
		}, nil
	case queryir.Reference:
		return c.reference(label, layer, strings.TrimSpace(string(v)))
	case *queryir.Function:
		return c.function(label, layer, v)
	case *queryir.Math:
		return c.math(label, layer, v)
	case nil:
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, label, "missing comparison operand")
	default:
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, label, "unexpected operand %T", op)
	}
}

func (c *Compiler) reference(label, layer, ref string) (*Expr, error) {
	if ref == "" {
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, label, "empty reference")
	}
	head, sub, dotted := strings.Cut(ref, ".")

	if layer != "" && label != "" {
		if _, ok := c.config().AttributeInfo(layer, head, c.SQL.Target()); ok {
			var r *sqlref.Ref
			var err error
			if dotted {
				r, err = c.SQL.SubAttribute(label, layer, head, sub)
			} else {
				r, err = c.SQL.Attribute(label, layer, head, false)
			}
			if err != nil {
				return nil, err
			}
			return fromRef(r, label+"."+ref), nil
		}
		if head == "meta" && dotted {
			return c.reference(label, layer, sub)
		}
	}

	entry, ok := c.Labels.Get(head)
	if !ok {
		if layer == "" {
			return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, ref,
				"no entity has the label %q", head)
		}
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, ref,
			"no entity has the label %q and %s has no attribute of that name", head, layer)
	}
	if entry.Layer == "" {
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, ref,
			"label %q does not name a unit", head)
	}
	if dotted {
		return c.reference(head, entry.Layer, sub)
	}
	r := c.SQL.Layer(head, entry.Layer, false)
	return &Expr{
		SQL:    r.SQL,
		Type:   TypeEntity,
		Text:   head,
		Entity: head,
		Layer:  entry.Layer,
		Joins:  r.Joins.Clone(),
	}, nil
}

func fromRef(r *sqlref.Ref, text string) *Expr {
	return &Expr{
		SQL:     r.SQL,
		Type:    refType(r.Type),
		Text:    text,
		Entity:  r.Entity,
		Layer:   r.Layer,
		Plain:   r.Plain && r.Type == "string",
		NLabels: r.NLabels,
		Lookup:  r.Lookup,
		Joins:   r.Joins.Clone(),
	}
}

func (c *Compiler) function(label, layer string, fn *queryir.Function) (*Expr, error) {
	name := strings.ToLower(fn.Name)
	typ, ok := funcs[name]
	if !ok {
		return nil, queryir.Errorf(queryir.ErrCodeUnsupported, fn.Name, "function %q is not implemented", fn.Name)
	}
	if len(fn.Args) == 0 {
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, fn.Name, "function %q needs an argument", fn.Name)
	}
	args := make([]*Expr, len(fn.Args))
	texts := make([]string, len(fn.Args))
	joins := sqlref.NewJoins()
	for i, a := range fn.Args {
		e, err := c.Expr(label, layer, a)
		if err != nil {
			return nil, err
		}
		args[i] = e
		texts[i] = e.Text
		joins.Merge(e.Joins)
	}
	first := args[0]
	out := &Expr{Type: typ, Text: name + "(" + strings.Join(texts, ",") + ")", Joins: joins}

	switch name {
	case "range", "position", "length":
		if first.Type != TypeEntity {
			if name == "length" && first.Type == TypeString {
				out.SQL = "length(" + first.SQL + ")"
				return out, nil
			}
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, first.Text,
				"%s only applies to layer annotations", name)
		}
		col := c.SQL.Anchor(first.Entity, first.Layer, string(queryir.AnchorStream)).SQL
		if name == "position" {
			out.SQL = "lower(" + col + ")"
		} else {
			out.SQL = "upper(" + col + ") - lower(" + col + ")"
		}
	case "start", "end":
		if first.Type != TypeEntity {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, first.Text,
				"%s only applies to layer annotations", name)
		}
		if !c.config().IsAnchored(first.Layer, string(queryir.AnchorTime)) {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, first.Text,
				"%s only applies to time-anchored annotations", name)
		}
		bound := "lower"
		if name == "end" {
			bound = "upper"
		}
		col := c.SQL.Anchor(first.Entity, first.Layer, string(queryir.AnchorTime)).SQL
		out.SQL = "(" + bound + "(" + col + ") / 25.0)"
	case "year", "decade", "century", "month", "day":
		if first.Type == TypeEntity {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, first.Text,
				"%s applies to dates, not annotations", name)
		}
		out.SQL = "extract('" + name + "' from (" + first.SQL + ")::date)"
	case "lower", "upper":
		if first.Type != TypeString {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, first.Text,
				"%s applies to strings", name)
		}
		out.SQL = name + "(" + first.SQL + ")"
	}
	return out, nil
}

var mathOps = map[string]bool{"+": true, "-": true, "*": true, "/": true}

func (c *Compiler) math(label, layer string, m *queryir.Math) (*Expr, error) {
	if m.Op == "" {
		n, ok := sqlref.Number(m.Number)
		if !ok {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, m.Number, "not a number")
		}
		return &Expr{SQL: n, Type: TypeNumber, Text: n, Value: n, Literal: true, Joins: sqlref.NewJoins()}, nil
	}
	if !mathOps[m.Op] {
		return nil, queryir.Errorf(queryir.ErrCodeInvalidOperator, m.Op, "unknown arithmetic operator")
	}
	left, err := c.operand(label, layer, m.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.operand(label, layer, m.Right)
	if err != nil {
		return nil, err
	}
	joins := left.Joins.Clone()
	joins.Merge(right.Joins)
	return &Expr{
		SQL:   left.SQL + " " + m.Op + " " + right.SQL,
		Type:  TypeNumber,
		Text:  left.Text + " " + m.Op + " " + right.Text,
		Joins: joins,
	}, nil
}

// operand resolves one side of an arithmetic operation. Nested operations
// are parenthesized so the written grouping survives.
func (c *Compiler) operand(label, layer string, op queryir.Operand) (*Expr, error) {
	if op == nil {
		op = &queryir.Math{Number: "0"}
	}
	e, err := c.Expr(label, layer, op)
	if err != nil {
		return nil, err
	}
	if e.Type != TypeNumber {
		return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, e.Text,
			"only numbers can appear in arithmetic (got %s)", e.Type)
	}
	if m, ok := op.(*queryir.Math); ok && m.Op != "" {
		e.SQL = "(" + e.SQL + ")"
		e.Text = "(" + e.Text + ")"
	}
	return e, nil
}
