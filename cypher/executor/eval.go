package executor

import (
	"github.com/deepskilling/deepgraph/cypher/ast"
	"github.com/deepskilling/deepgraph/dgerr"
	"github.com/deepskilling/deepgraph/graph"
)

// evalScalar evaluates expr to a graph.PropertyValue, resolving a bare
// variable's bound node/edge is not supported here (use evalCell for
// projection positions where that's legal); everywhere else — WHERE,
// ORDER BY, arithmetic operands — a bare variable has no scalar meaning.
func evalScalar(expr ast.Expr, r row) (graph.PropertyValue, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return e.Value(), nil
	case *ast.Var:
		return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "variable %q used where a scalar value is required", e.Name)
	case *ast.PropertyAccess:
		b, ok := r[e.Variable]
		if !ok {
			return graph.PropertyValue{}, dgerr.New(dgerr.InvalidOperation, "unbound variable %q", e.Variable)
		}
		var props map[string]graph.PropertyValue
		switch {
		case b.Node != nil:
			props = b.Node.Properties
		case b.Edge != nil:
			props = b.Edge.Properties
		}
		v, ok := props[e.Property]
		if !ok {
			return graph.Null(), nil // absent property: null (spec.md §8 edge case)
		}
		return v, nil
	case *ast.UnaryOp:
		return evalUnary(e, r)
	case *ast.BinaryOp:
		return evalBinary(e, r)
	case *ast.FuncCall:
		return evalFunc(e, r)
	default:
		return graph.PropertyValue{}, dgerr.New(dgerr.ParserError, "unsupported expression node %T", expr)
	}
}

func evalUnary(e *ast.UnaryOp, r row) (graph.PropertyValue, error) {
	v, err := evalScalar(e.Expr, r)
	if err != nil {
		return graph.PropertyValue{}, err
	}
	switch e.Op {
	case ast.OpNot:
		b, ok := v.AsBool()
		if !ok {
			return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "NOT requires a boolean operand")
		}
		return graph.Bool(!b), nil
	case ast.OpPos:
		return v, nil
	case ast.OpNeg:
		if i, ok := v.AsInt(); ok {
			return graph.Int(-i), nil
		}
		if f, ok := v.AsFloat(); ok {
			return graph.Float(-f), nil
		}
		return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "unary '-' requires a numeric operand")
	}
	return graph.PropertyValue{}, dgerr.New(dgerr.ParserError, "unknown unary operator")
}

func evalBinary(e *ast.BinaryOp, r row) (graph.PropertyValue, error) {
	switch e.Op {
	case ast.OpAnd, ast.OpOr:
		left, err := evalBool(e.Left, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		if e.Op == ast.OpAnd && !left {
			return graph.Bool(false), nil
		}
		if e.Op == ast.OpOr && left {
			return graph.Bool(true), nil
		}
		right, err := evalBool(e.Right, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		return graph.Bool(right), nil
	}

	left, err := evalScalar(e.Left, r)
	if err != nil {
		return graph.PropertyValue{}, err
	}
	right, err := evalScalar(e.Right, r)
	if err != nil {
		return graph.PropertyValue{}, err
	}

	switch e.Op {
	case ast.OpEq:
		return graph.Bool(left.Equal(right)), nil
	case ast.OpNe:
		return graph.Bool(!left.Equal(right)), nil
	case ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		cmp, comparable := left.Compare(right)
		if !comparable {
			// Cross-tag/unorderable comparisons are "incomparable", treated
			// as false in predicate evaluation (spec.md §4.1).
			return graph.Bool(false), nil
		}
		switch e.Op {
		case ast.OpLt:
			return graph.Bool(cmp < 0), nil
		case ast.OpLe:
			return graph.Bool(cmp <= 0), nil
		case ast.OpGt:
			return graph.Bool(cmp > 0), nil
		default:
			return graph.Bool(cmp >= 0), nil
		}
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		return evalArithmetic(e.Op, left, right)
	}
	return graph.PropertyValue{}, dgerr.New(dgerr.ParserError, "unknown binary operator")
}

func evalArithmetic(op ast.BinaryOperator, left, right graph.PropertyValue) (graph.PropertyValue, error) {
	li, liOK := left.AsInt()
	ri, riOK := right.AsInt()
	if liOK && riOK {
		switch op {
		case ast.OpAdd:
			return graph.Int(li + ri), nil
		case ast.OpSub:
			return graph.Int(li - ri), nil
		case ast.OpMul:
			return graph.Int(li * ri), nil
		case ast.OpDiv:
			if ri == 0 {
				return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "division by zero")
			}
			return graph.Int(li / ri), nil
		case ast.OpMod:
			if ri == 0 {
				return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "modulo by zero")
			}
			return graph.Int(li % ri), nil
		}
	}

	lf, lfOK := asFloat(left)
	rf, rfOK := asFloat(right)
	if lfOK && rfOK {
		switch op {
		case ast.OpAdd:
			return graph.Float(lf + rf), nil
		case ast.OpSub:
			return graph.Float(lf - rf), nil
		case ast.OpMul:
			return graph.Float(lf * rf), nil
		case ast.OpDiv:
			return graph.Float(lf / rf), nil
		case ast.OpMod:
			return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "'%%' requires integer operands")
		}
	}
	return graph.PropertyValue{}, dgerr.New(dgerr.InvalidPropertyType, "arithmetic requires numeric operands of a compatible type")
}

func asFloat(v graph.PropertyValue) (float64, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	if i, ok := v.AsInt(); ok {
		return float64(i), true
	}
	return 0, false
}

// evalBool evaluates expr and requires a boolean result, used for WHERE
// and the short-circuit operands of AND/OR.
func evalBool(expr ast.Expr, r row) (bool, error) {
	v, err := evalScalar(expr, r)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, dgerr.New(dgerr.InvalidPropertyType, "expression did not evaluate to a boolean")
	}
	return b, nil
}

// evalFunc evaluates the small built-in function set spec.md §6's grammar
// makes syntactic room for (`Ident '(' ArgList? ')'`) without naming any
// function explicitly. id/labels/type/properties are Neo4j's own
// equivalents and the teacher's functions.go exposes them the same way.
func evalFunc(call *ast.FuncCall, r row) (graph.PropertyValue, error) {
	switch call.Name {
	case "id":
		b, err := singleBinding(call, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		if b.Node != nil {
			return graph.String(b.Node.ID.String()), nil
		}
		return graph.String(b.Edge.ID.String()), nil
	case "labels":
		b, err := singleBinding(call, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		if b.Node == nil {
			return graph.PropertyValue{}, dgerr.New(dgerr.InvalidOperation, "labels() requires a node argument")
		}
		vals := make([]graph.PropertyValue, len(b.Node.Labels))
		for i, l := range b.Node.Labels {
			vals[i] = graph.String(l)
		}
		return graph.List(vals), nil
	case "type":
		b, err := singleBinding(call, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		if b.Edge == nil {
			return graph.PropertyValue{}, dgerr.New(dgerr.InvalidOperation, "type() requires a relationship argument")
		}
		return graph.String(b.Edge.Type), nil
	case "properties":
		b, err := singleBinding(call, r)
		if err != nil {
			return graph.PropertyValue{}, err
		}
		var props map[string]graph.PropertyValue
		if b.Node != nil {
			props = b.Node.Properties
		} else if b.Edge != nil {
			props = b.Edge.Properties
		}
		return graph.Map(props), nil
	default:
		return graph.PropertyValue{}, dgerr.New(dgerr.ParserError, "unknown function %q", call.Name)
	}
}

func singleBinding(call *ast.FuncCall, r row) (binding, error) {
	if len(call.Args) != 1 {
		return binding{}, dgerr.New(dgerr.ParserError, "%s() takes exactly one argument", call.Name)
	}
	v, ok := call.Args[0].(*ast.Var)
	if !ok {
		return binding{}, dgerr.New(dgerr.ParserError, "%s() requires a variable argument", call.Name)
	}
	b, ok := r[v.Name]
	if !ok {
		return binding{}, dgerr.New(dgerr.InvalidOperation, "unbound variable %q", v.Name)
	}
	return b, nil
}
