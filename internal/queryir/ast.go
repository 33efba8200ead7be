package queryir

// Node is an item of a query or a member of one.
//
// This is a sealed interface - only types in this package implement it.
// Compilers switch exhaustively over the variants:
//   - *Unit: a single token or annotation with optional constraints
//   - *Sequence: ordered members with a repetition range
//   - *LogicalExpression: AND/OR/NOT over nested nodes
//   - *Set: a named collection selected as an aggregate
//   - *Group: a named tuple of references
//   - *Comparison: left operand, comparator, right operand
//   - *Quantification: EXISTS / NOT EXISTS wrapping a unit
//   - *Constraint: a top-level constraint wrapper
//
// All variants are used through pointers because the label resolver
// injects generated labels in place.
type Node interface {
	queryNode() // Marker method - seals interface to this package
}

// Operand is one side of a comparison.
//
// Operand variants:
//   - StringLit: a quoted string literal
//   - Regex: a regular expression literal
//   - Reference: an attribute, entity label or dotted path
//   - *Function: a named function over operands
//   - *Math: a numeric literal or a binary arithmetic operation
type Operand interface {
	operandNode() // Marker method - seals interface to this package
}

// Anchor names the kind of position shared by a parent and child entity.
type Anchor string

const (
	// AnchorStream relates entities by character range.
	AnchorStream Anchor = "stream"
	// AnchorTime relates entities by frame range.
	AnchorTime Anchor = "time"
	// AnchorLocation relates entities by bounding box.
	AnchorLocation Anchor = "location"
)

// PartOf places an entity inside the entity with the given label.
type PartOf struct {
	Kind  Anchor
	Label string
}

// Repetition is a parsed repetition range. Max is -1 when unbounded.
type Repetition struct {
	Min int
	Max int
}

// Once is the (1,1) repetition every plain sequence carries.
var Once = Repetition{Min: 1, Max: 1}

// IsOnce reports whether the range is exactly (1,1).
func (r Repetition) IsOnce() bool {
	return r.Min == 1 && r.Max == 1
}

// Query is a decoded query document.
type Query struct {
	Items   []Node
	Results []Result
}

// Unit matches one entity of a layer.
type Unit struct {
	Layer       string
	Label       string
	PartOf      []PartOf
	Constraints []Node
	Quantor     string

	// Anonymous is set by the resolver when Label was generated.
	Anonymous bool
}

func (*Unit) queryNode() {}

// Sequence matches its members at consecutive token positions.
type Sequence struct {
	Label      string
	Repetition Repetition
	Members    []Node
	PartOf     []PartOf
	Quantor    string

	Anonymous bool
}

func (*Sequence) queryNode() {}

// LogicalExpression combines its arguments. Operator is AND, OR or NOT.
type LogicalExpression struct {
	Operator string
	Args     []Node
	Label    string
	Layer    string
}

func (*LogicalExpression) queryNode() {}

// Set collects every match of its members as one aggregate.
type Set struct {
	Label   string
	Layer   string
	Members []Node
	PartOf  []PartOf

	Anonymous bool
}

func (*Set) queryNode() {}

// Group names a tuple of existing labels.
type Group struct {
	Label   string
	Members []string
}

func (*Group) queryNode() {}

// Comparison is a leaf constraint.
type Comparison struct {
	Left       Operand
	Comparator string
	Right      Operand
}

func (*Comparison) queryNode() {}

// Quantification wraps a unit in EXISTS or NOT EXISTS.
type Quantification struct {
	Quantor string
	Label   string
	Args    []Node
}

func (*Quantification) queryNode() {}

// Constraint is a top-level constraint item.
type Constraint struct {
	Node Node
}

func (*Constraint) queryNode() {}

// StringLit is a string literal operand.
type StringLit string

func (StringLit) operandNode() {}

// Regex is a regular expression operand.
type Regex struct {
	Pattern         string
	CaseInsensitive bool
}

func (Regex) operandNode() {}

// Reference names an attribute ("form"), an entity ("t") or a dotted
// path ("t.lemma", "d.meta.genre").
type Reference string

func (Reference) operandNode() {}

// Function applies a named function to its arguments.
type Function struct {
	Name string
	Args []Operand
}

func (*Function) operandNode() {}

// Math is either a numeric literal (Number set) or a binary operation.
type Math struct {
	Number string
	Op     string
	Left   Operand
	Right  Operand
}

func (*Math) operandNode() {}

// Result is one requested result set.
//
// Result variants:
//   - *PlainResult: keyword-in-context rows
//   - *AnalysisResult: frequency table over attributes
//   - *CollocationResult: observed and expected collocate counts
type Result interface {
	resultNode() // Marker method - seals interface to this package
}

// PlainResult selects a context entity plus the listed entities.
type PlainResult struct {
	Label    string
	Context  []string
	Entities []string
}

func (*PlainResult) resultNode() {}

// AnalysisResult groups matches by attributes and applies aggregate functions.
type AnalysisResult struct {
	Label      string
	Attributes []Operand
	Functions  []string
	Filters    []*Comparison
}

func (*AnalysisResult) resultNode() {}

// CollocationResult counts an attribute around a center token or inside a space.
type CollocationResult struct {
	Label     string
	Center    string
	Space     string
	Attribute string
	Window    Window
}

func (*CollocationResult) resultNode() {}

// Window is a token span relative to a center token. Empty bounds are open.
type Window struct {
	Left  string
	Right string
}
