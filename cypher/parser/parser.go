// Package parser turns Cypher source text into a cypher/ast.Query,
// following spec.md §6's grammar exactly: a hand-written recursive-descent
// parser for clauses and patterns, switching to explicit precedence
// climbing for expressions (Or > And > Not > Cmp > Add > Mul > Unary >
// Primary, tightest-binding last). This mirrors the teacher's staged
// parser.go/pattern_parser.go/ast_builder.go split — clause parsing, then
// pattern parsing, then expression parsing — but as a real token-stream
// parser rather than the teacher's regex-splitting approach, since
// spec.md §8 Scenario E requires an exact, checkable precedence table.
package parser

import (
	"fmt"

	"github.com/deepskilling/deepgraph/cypher/ast"
	"github.com/deepskilling/deepgraph/dgerr"
)

// Parse parses a single Cypher statement (spec.md §6: `Query := Read | Write`).
func Parse(src string) (*ast.Query, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.ParserError, err, "lexing query")
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, dgerr.Wrap(dgerr.ParserError, err, "parsing query")
	}
	if !p.at(tokEOF) {
		return nil, dgerr.New(dgerr.ParserError, "unexpected trailing input at offset %d", p.cur().pos)
	}
	return q, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) at(k tokenKind) bool { return p.cur().kind == k }
func (p *parser) atKeyword(kw string) bool {
	return p.cur().kind == tokIdent && p.cur().text == kw
}
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if !p.at(k) {
		return token{}, fmt.Errorf("expected %s at offset %d, got %q", what, p.cur().pos, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return fmt.Errorf("expected %q at offset %d, got %q", kw, p.cur().pos, p.cur().text)
	}
	p.advance()
	return nil
}

// parseQuery dispatches on the leading keyword to a Read or Write clause.
func (p *parser) parseQuery() (*ast.Query, error) {
	switch {
	case p.atKeyword("MATCH"):
		return p.parseRead()
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("MERGE"):
		return p.parseMerge()
	case p.atKeyword("SET"):
		return p.parseSet()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	default:
		return nil, fmt.Errorf("expected MATCH, CREATE, MERGE, SET, or DELETE at offset %d, got %q", p.cur().pos, p.cur().text)
	}
}

func (p *parser) parseRead() (*ast.Query, error) {
	if err := p.expectKeyword("MATCH"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	rq := &ast.ReadQuery{Patterns: patterns}

	if p.atKeyword("WHERE") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		rq.Where = expr
	}

	if err := p.expectKeyword("RETURN"); err != nil {
		return nil, err
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	rq.Return = items

	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		order, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		rq.OrderBy = order
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		tok, err := p.expect(tokInt, "integer")
		if err != nil {
			return nil, err
		}
		n := tok.ival
		rq.Limit = &n
	}

	if p.at(tokSemicolon) {
		p.advance()
	}
	return &ast.Query{Read: rq}, nil
}

func (p *parser) parseCreate() (*ast.Query, error) {
	p.advance() // CREATE
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	if p.at(tokSemicolon) {
		p.advance()
	}
	return &ast.Query{Write: &ast.WriteQuery{Create: &ast.CreateClause{Patterns: patterns}}}, nil
}

func (p *parser) parseMerge() (*ast.Query, error) {
	p.advance() // MERGE
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if p.at(tokSemicolon) {
		p.advance()
	}
	return &ast.Query{Write: &ast.WriteQuery{Merge: &ast.MergeClause{Pattern: pattern}}}, nil
}

func (p *parser) parseSet() (*ast.Query, error) {
	p.advance() // SET
	var items []ast.SetItem
	for {
		varTok, err := p.expect(tokIdent, "variable")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokDot, "'.'"); err != nil {
			return nil, err
		}
		propTok, err := p.expect(tokIdent, "property name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokEq, "'='"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, ast.SetItem{Variable: varTok.text, Property: propTok.text, Value: value})
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	if p.at(tokSemicolon) {
		p.advance()
	}
	return &ast.Query{Write: &ast.WriteQuery{Set: &ast.SetClause{Items: items}}}, nil
}

func (p *parser) parseDelete() (*ast.Query, error) {
	p.advance() // DELETE
	var vars []string
	for {
		tok, err := p.expect(tokIdent, "variable")
		if err != nil {
			return nil, err
		}
		vars = append(vars, tok.text)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	if p.at(tokSemicolon) {
		p.advance()
	}
	return &ast.Query{Write: &ast.WriteQuery{Delete: &ast.DeleteClause{Variables: vars}}}, nil
}

// --- Patterns: `NodePat (RelPat NodePat)*`, comma-separated list ---

func (p *parser) parsePatternList() ([]ast.Pattern, error) {
	var out []ast.Pattern
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		out = append(out, pat)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parsePattern() (ast.Pattern, error) {
	var pattern ast.Pattern
	node, err := p.parseNodePattern()
	if err != nil {
		return pattern, err
	}
	pattern.Nodes = append(pattern.Nodes, node)

	for p.at(tokDash) {
		rel, err := p.parseRelPattern()
		if err != nil {
			return pattern, err
		}
		pattern.Rels = append(pattern.Rels, rel)
		node, err := p.parseNodePattern()
		if err != nil {
			return pattern, err
		}
		pattern.Nodes = append(pattern.Nodes, node)
	}
	return pattern, nil
}

func (p *parser) parseNodePattern() (ast.NodePattern, error) {
	var n ast.NodePattern
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return n, err
	}
	if p.at(tokIdent) && !isClauseKeyword(p.cur().text) {
		n.Variable = p.advance().text
	}
	if p.at(tokColon) {
		p.advance()
		lbl, err := p.expect(tokIdent, "label")
		if err != nil {
			return n, err
		}
		n.Label = lbl.text
	}
	if p.at(tokLBrace) {
		props, err := p.parsePropList()
		if err != nil {
			return n, err
		}
		n.Properties = props
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return n, err
	}
	return n, nil
}

// isClauseKeyword reports whether an identifier-shaped token is actually a
// reserved keyword, so a bare `(n)` doesn't misparse a following clause
// keyword as the node's variable name.
func isClauseKeyword(text string) bool {
	switch text {
	case "MATCH", "WHERE", "RETURN", "ORDER", "BY", "ASC", "DESC", "LIMIT",
		"CREATE", "MERGE", "SET", "DELETE", "AND", "OR", "NOT", "AS",
		"TRUE", "FALSE", "NULL":
		return true
	}
	return false
}

func (p *parser) parsePropList() ([]ast.PropItem, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var items []ast.PropItem
	if p.at(tokRBrace) {
		p.advance()
		return items, nil
	}
	for {
		key, err := p.expect(tokIdent, "property key")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, ast.PropItem{Key: key.text, Value: value})
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return items, nil
}

// parseRelPattern parses `'-' '[' (':' Type)? ']' ('->' | '-')`.
func (p *parser) parseRelPattern() (ast.RelPattern, error) {
	var r ast.RelPattern
	if _, err := p.expect(tokDash, "'-'"); err != nil {
		return r, err
	}
	if _, err := p.expect(tokLBracket, "'['"); err != nil {
		return r, err
	}
	if p.at(tokIdent) { // an (unused) relationship variable, skipped
		p.advance()
	}
	if p.at(tokColon) {
		p.advance()
		typ, err := p.expect(tokIdent, "relationship type")
		if err != nil {
			return r, err
		}
		r.Type = typ.text
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return r, err
	}
	switch {
	case p.at(tokArrow):
		p.advance()
		r.Directed = true
	case p.at(tokDash):
		p.advance()
		r.Directed = false
	default:
		return r, fmt.Errorf("expected '->' or '-' to close relationship pattern at offset %d", p.cur().pos)
	}
	return r, nil
}

// --- RETURN / ORDER BY item lists ---

func (p *parser) parseReturnItems() ([]ast.ReturnItem, error) {
	var out []ast.ReturnItem
	for {
		start := p.pos
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		text := renderTokens(p.toks[start:p.pos])
		item := ast.ReturnItem{Expr: expr, Text: text}
		if p.atKeyword("AS") {
			p.advance()
			alias, err := p.expect(tokIdent, "alias")
			if err != nil {
				return nil, err
			}
			item.Alias = alias.text
		}
		out = append(out, item)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseOrderItems() ([]ast.OrderItem, error) {
	var out []ast.OrderItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ast.OrderItem{Expr: expr}
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			item.Descending = true
		}
		out = append(out, item)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

// renderTokens reconstructs source text for a token span, used only to
// give an un-aliased RETURN item a stable default column name.
func renderTokens(toks []token) string {
	out := ""
	for i, t := range toks {
		if i > 0 {
			out += " "
		}
		out += t.text
	}
	return out
}

// --- Expressions: Or > And > Not > Cmp > Add > Mul > Unary > Primary ---

func (p *parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.atKeyword("NOT") {
		p.advance()
		operand, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: ast.OpNot, Expr: operand}, nil
	}
	return p.parseCmp()
}

// parseCmp parses at most one comparison (spec.md §6: `Cmp := Add (op Add)?`
// — comparisons do not chain, unlike the arithmetic productions).
func (p *parser) parseCmp() (ast.Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	var op ast.BinaryOperator
	switch {
	case p.at(tokEq):
		op = ast.OpEq
	case p.at(tokNe):
		op = ast.OpNe
	case p.at(tokLe):
		op = ast.OpLe
	case p.at(tokGe):
		op = ast.OpGe
	case p.at(tokLt):
		op = ast.OpLt
	case p.at(tokGt):
		op = ast.OpGt
	default:
		return left, nil
	}
	p.advance()
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	return &ast.BinaryOp{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseAdd() (ast.Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.at(tokPlus) || p.at(tokDash) {
		op := ast.OpAdd
		if p.at(tokDash) {
			op = ast.OpSub
		}
		p.advance()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMul() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokStar) || p.at(tokSlash) || p.at(tokPercent) {
		var op ast.BinaryOperator
		switch {
		case p.at(tokStar):
			op = ast.OpMul
		case p.at(tokSlash):
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.at(tokDash) {
		p.advance()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: ast.OpNeg, Expr: operand}, nil
	}
	if p.at(tokPlus) {
		p.advance()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: ast.OpPos, Expr: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	tok := p.cur()
	switch tok.kind {
	case tokInt:
		p.advance()
		return &ast.Literal{Kind: ast.LitInt, Int: tok.ival}, nil
	case tokFloat:
		p.advance()
		return &ast.Literal{Kind: ast.LitFloat, Flt: tok.fval}, nil
	case tokString:
		p.advance()
		return &ast.Literal{Kind: ast.LitString, Str: tok.text}, nil
	case tokLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil
	case tokIdent:
		switch tok.text {
		case "TRUE":
			p.advance()
			return &ast.Literal{Kind: ast.LitBool, Bool: true}, nil
		case "FALSE":
			p.advance()
			return &ast.Literal{Kind: ast.LitBool, Bool: false}, nil
		case "NULL":
			p.advance()
			return &ast.Literal{Kind: ast.LitNull}, nil
		}
		p.advance()
		name := tok.text
		if p.at(tokDot) {
			p.advance()
			prop, err := p.expect(tokIdent, "property name")
			if err != nil {
				return nil, err
			}
			return &ast.PropertyAccess{Variable: name, Property: prop.text}, nil
		}
		if p.at(tokLParen) {
			p.advance()
			var args []ast.Expr
			if !p.at(tokRParen) {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.at(tokComma) {
						p.advance()
						continue
					}
					break
				}
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.FuncCall{Name: name, Args: args}, nil
		}
		return &ast.Var{Name: name}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at offset %d", tok.text, tok.pos)
	}
}
