// Package ast defines the parse tree for DeepGraph's Cypher subset
// (spec.md §6). It mirrors the shape of the teacher's ast_builder.go
// (a tagged Clause list plus a Pattern/Node/Relationship family) but is
// restricted to the closed grammar spec.md §6 defines: no WITH, CALL,
// UNWIND, aggregation, or variable-length paths.
package ast

import "github.com/deepskilling/deepgraph/graph"

// Query is one parsed statement: a single Read clause or a single Write
// clause, matching spec.md §6's `Query := Read | Write`.
type Query struct {
	Read  *ReadQuery
	Write *WriteQuery
}

// ReadQuery is `MATCH ... (WHERE ...)? RETURN ... (ORDER BY ...)? (LIMIT ...)?`.
type ReadQuery struct {
	Patterns []Pattern
	Where    Expr // nil if absent
	Return   []ReturnItem
	OrderBy  []OrderItem
	Limit    *int64
}

// WriteQuery is one of CREATE, MERGE, SET, or DELETE (spec.md §6's
// `Write` production). Exactly one field is set.
type WriteQuery struct {
	Create *CreateClause
	Merge  *MergeClause
	Set    *SetClause
	Delete *DeleteClause
}

// CreateClause creates every pattern listed, in order.
type CreateClause struct {
	Patterns []Pattern
}

// MergeClause creates Pattern's single pattern if no match exists, or
// reuses the existing match. spec.md §6 only grants MERGE a single
// pattern, unlike CREATE's comma-separated list.
type MergeClause struct {
	Pattern Pattern
}

// SetItem is `Var '.' Property '=' Expr`.
type SetItem struct {
	Variable string
	Property string
	Value    Expr
}

// SetClause is `SET SetItem (',' SetItem)*`.
type SetClause struct {
	Items []SetItem
}

// DeleteClause is `DELETE Var (',' Var)*`.
type DeleteClause struct {
	Variables []string
}

// Pattern is a chain of node patterns connected by relationship patterns:
// `NodePat (RelPat NodePat)*`.
type Pattern struct {
	Nodes []NodePattern
	Rels  []RelPattern // len(Rels) == len(Nodes)-1
}

// NodePattern is `'(' Var? (':' Label)? ('{' PropList '}')? ')'`.
type NodePattern struct {
	Variable   string // empty if anonymous
	Label      string // empty if none given
	Properties []PropItem
}

// RelPattern is `'-' '[' (':' Type)? ']' ('->' | '-')`. Direction records
// whether the arrow pointed right; an undirected `-[...]- ` pattern
// matches an edge in either direction.
type RelPattern struct {
	Type      string // empty if unconstrained
	Directed  bool   // true for `->`, false for a bare `-`
}

// PropItem is one `key : Expr` entry inside a pattern's `{...}` literal.
type PropItem struct {
	Key   string
	Value Expr
}

// ReturnItem is `Expr ('AS' Ident)?`.
type ReturnItem struct {
	Expr  Expr
	Alias string // empty when no AS given; executor falls back to the expr's rendered text
	Text  string // the expression's original source text, used as the default column name
}

// OrderItem is `Expr ('ASC'|'DESC')?`.
type OrderItem struct {
	Expr       Expr
	Descending bool
}

// Expr is any node in an expression tree: literals, variable/property
// references, unary/binary operators, and function calls.
type Expr interface{ exprMarker() }

// Literal holds one of Integer | Float | String | true | false | null,
// already converted to its Go representation.
type Literal struct {
	Kind LiteralKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
}

func (*Literal) exprMarker() {}

// Value converts the literal to the graph.PropertyValue it denotes, the
// shared conversion both the planner (index seek values) and the
// executor (expression evaluation) use.
func (l *Literal) Value() graph.PropertyValue {
	switch l.Kind {
	case LitString:
		return graph.String(l.Str)
	case LitInt:
		return graph.Int(l.Int)
	case LitFloat:
		return graph.Float(l.Flt)
	case LitBool:
		return graph.Bool(l.Bool)
	default:
		return graph.Null()
	}
}

// LiteralKind tags which field of Literal is populated.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInt
	LitFloat
	LitBool
	LitNull
)

// Var references a pattern variable bound by MATCH/CREATE, e.g. the bare
// `n` in `RETURN n`.
type Var struct{ Name string }

func (*Var) exprMarker() {}

// PropertyAccess is `Var '.' Ident`, e.g. `n.age`.
type PropertyAccess struct {
	Variable string
	Property string
}

func (*PropertyAccess) exprMarker() {}

// UnaryOp is prefix `NOT`, `-`, or `+`.
type UnaryOp struct {
	Op   UnaryOperator
	Expr Expr
}

func (*UnaryOp) exprMarker() {}

type UnaryOperator int

const (
	OpNot UnaryOperator = iota
	OpNeg
	OpPos
)

// BinaryOp covers every infix operator in spec.md §6's grammar: the
// logical (And, Or), comparison (Eq, Ne, Lt, Le, Gt, Ge), and arithmetic
// (Add, Sub, Mul, Div, Mod) families, each a distinct constant rather
// than a shared string so the planner/executor switch exhaustively.
type BinaryOp struct {
	Op    BinaryOperator
	Left  Expr
	Right Expr
}

func (*BinaryOp) exprMarker() {}

type BinaryOperator int

const (
	OpAnd BinaryOperator = iota
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

// FuncCall is `Ident '(' ArgList? ')'`, e.g. `id(n)`.
type FuncCall struct {
	Name string
	Args []Expr
}

func (*FuncCall) exprMarker() {}
