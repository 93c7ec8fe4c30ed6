package parser

import (
	"fmt"
	"strconv"

	"hyggec/internal/ast"
	"hyggec/internal/lexer"
)

type Parser struct {
	lex  *lexer.Lexer
	curr lexer.Token
	path string
	errs []error
}

func New(path, src string) *Parser {
	lex := lexer.New(src)
	p := &Parser{lex: lex, path: path}
	p.curr = lex.Next()
	return p
}

// ParseProgram parses a whole Hygge program: a single expression,
// usually a semicolon sequence of let bindings and statements.
func (p *Parser) ParseProgram() (ast.Expr, error) {
	e := p.parseSequence()
	if p.curr.Kind != lexer.TokenEOF {
		p.errorf("unexpected %s after program end", p.curr)
	}
	if errs := p.lex.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	if len(p.errs) > 0 {
		return nil, p.errs[0]
	}
	return e, nil
}

func (p *Parser) next() {
	p.curr = p.lex.Next()
}

func (p *Parser) expect(kind lexer.TokenKind) lexer.Token {
	tok := p.curr
	if tok.Kind != kind {
		p.errorf("expected %s, found %s", kind, tok)
		return tok
	}
	p.next()
	return tok
}

func (p *Parser) accept(kind lexer.TokenKind) bool {
	if p.curr.Kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *Parser) errorf(format string, args ...interface{}) {
	pos := p.curr.Pos
	msg := fmt.Sprintf(format, args...)
	p.errs = append(p.errs, fmt.Errorf("%s:%d:%d: %s", p.path, pos.Line, pos.Col, msg))
	// Skip the offending token so the parser cannot spin in place.
	if p.curr.Kind != lexer.TokenEOF {
		p.next()
	}
}

func (p *Parser) span(start lexer.Position) ast.Span {
	return ast.Span{
		Start: ast.Position{Line: start.Line, Col: start.Col},
		End:   ast.Position{Line: p.curr.Pos.Line, Col: p.curr.Pos.Col},
	}
}

func (p *Parser) atSequenceEnd() bool {
	switch p.curr.Kind {
	case lexer.TokenEOF, lexer.TokenRParen, lexer.TokenRBrace:
		return true
	}
	return false
}

// parseSequence parses statements separated by semicolons. A let or a
// type alias swallows the remainder of the sequence as its scope.
func (p *Parser) parseSequence() ast.Expr {
	start := p.curr.Pos
	e := p.parseStatement()
	if !p.accept(lexer.TokenSemicolon) {
		p.finishScope(e, nil, start)
		return e
	}
	if p.atSequenceEnd() {
		// trailing semicolon: the scope value is unit
		p.finishScope(e, nil, start)
		return e
	}
	rest := p.parseSequence()
	if p.finishScope(e, rest, start) {
		return e
	}
	seq := &ast.Seq{}
	seq.Span = p.span(start)
	if s, ok := rest.(*ast.Seq); ok {
		seq.Items = append([]ast.Expr{e}, s.Items...)
	} else {
		seq.Items = []ast.Expr{e, rest}
	}
	return seq
}

// finishScope attaches the rest of a sequence as the scope of a let or
// type alias. With rest == nil the scope becomes the unit value.
func (p *Parser) finishScope(e ast.Expr, rest ast.Expr, start lexer.Position) bool {
	unitScope := func() ast.Expr {
		u := &ast.UnitLit{}
		u.Span = p.span(p.curr.Pos)
		return u
	}
	switch n := e.(type) {
	case *ast.Let:
		if n.Body != nil {
			return false
		}
		if rest == nil {
			rest = unitScope()
		}
		n.Body = rest
		n.Span = p.span(start)
		return true
	case *ast.TypeAlias:
		if n.Body != nil {
			return false
		}
		if rest == nil {
			rest = unitScope()
		}
		n.Body = rest
		n.Span = p.span(start)
		return true
	}
	return false
}

func (p *Parser) parseStatement() ast.Expr {
	switch p.curr.Kind {
	case lexer.TokenLet:
		return p.parseLet()
	case lexer.TokenType:
		return p.parseTypeAlias()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenDo:
		return p.parseDoWhile()
	case lexer.TokenFor:
		return p.parseFor()
	}
	return p.parseAssign()
}

func (p *Parser) parseLet() ast.Expr {
	start := p.curr.Pos
	p.expect(lexer.TokenLet)
	n := &ast.Let{}
	if p.accept(lexer.TokenMutable) {
		n.Mutable = true
	} else if p.accept(lexer.TokenRec) {
		n.Rec = true
	}
	name := p.expect(lexer.TokenIdent)
	n.Name = name.Text

	if n.Rec && p.curr.Kind == lexer.TokenLParen {
		// let rec f(x: int): int = body
		lam := &ast.Lambda{}
		lamStart := p.curr.Pos
		lam.Params = p.parseParams()
		p.expect(lexer.TokenColon)
		lam.RetAnn = p.parseType()
		p.expect(lexer.TokenEq)
		lam.Body = p.parseStatement()
		lam.Span = p.span(lamStart)
		n.Init = lam
		n.Span = p.span(start)
		return n
	}

	if p.accept(lexer.TokenColon) {
		n.Ann = p.parseType()
	}
	p.expect(lexer.TokenEq)
	n.Init = p.parseStatement()
	n.Span = p.span(start)
	return n
}

func (p *Parser) parseParams() []ast.Param {
	p.expect(lexer.TokenLParen)
	var params []ast.Param
	for p.curr.Kind != lexer.TokenRParen && p.curr.Kind != lexer.TokenEOF {
		start := p.curr.Pos
		name := p.expect(lexer.TokenIdent)
		p.expect(lexer.TokenColon)
		ann := p.parseType()
		params = append(params, ast.Param{Name: name.Text, Ann: ann, Span: p.span(start)})
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

func (p *Parser) parseTypeAlias() ast.Expr {
	start := p.curr.Pos
	p.expect(lexer.TokenType)
	n := &ast.TypeAlias{}
	n.Name = p.expect(lexer.TokenIdent).Text
	p.expect(lexer.TokenEq)
	n.Ann = p.parseType()
	n.Span = p.span(start)
	return n
}

func (p *Parser) parseWhile() ast.Expr {
	start := p.curr.Pos
	p.expect(lexer.TokenWhile)
	n := &ast.While{}
	n.Cond = p.parseAssign()
	p.expect(lexer.TokenDo)
	n.Body = p.parseStatement()
	n.Span = p.span(start)
	return n
}

func (p *Parser) parseDoWhile() ast.Expr {
	start := p.curr.Pos
	p.expect(lexer.TokenDo)
	n := &ast.DoWhile{}
	n.Body = p.parseStatement()
	p.expect(lexer.TokenWhile)
	n.Cond = p.parseAssign()
	n.Span = p.span(start)
	return n
}

func (p *Parser) parseFor() ast.Expr {
	start := p.curr.Pos
	p.expect(lexer.TokenFor)
	p.expect(lexer.TokenLParen)
	n := &ast.For{}
	n.Init = p.parseAssign()
	p.expect(lexer.TokenSemicolon)
	n.Cond = p.parseAssign()
	p.expect(lexer.TokenSemicolon)
	n.Update = p.parseAssign()
	p.expect(lexer.TokenRParen)
	n.Body = p.parseStatement()
	n.Span = p.span(start)
	return n
}

func (p *Parser) parseAssign() ast.Expr {
	start := p.curr.Pos
	lhs := p.parseBinary(0)
	switch p.curr.Kind {
	case lexer.TokenAssign:
		p.next()
		value := p.parseAssign()
		switch lhs.(type) {
		case *ast.Var, *ast.FieldSel, *ast.ArrayElem:
		default:
			p.errorf("invalid assignment target")
		}
		n := &ast.Assign{Target: lhs, Value: value}
		n.Span = p.span(start)
		return n
	case lexer.TokenPlusEq, lexer.TokenMinusEq, lexer.TokenStarEq, lexer.TokenSlashEq, lexer.TokenPercentEq:
		op := map[lexer.TokenKind]string{
			lexer.TokenPlusEq:    "+",
			lexer.TokenMinusEq:   "-",
			lexer.TokenStarEq:    "*",
			lexer.TokenSlashEq:   "/",
			lexer.TokenPercentEq: "%",
		}[p.curr.Kind]
		p.next()
		value := p.parseAssign()
		v, ok := lhs.(*ast.Var)
		if !ok {
			p.errorf("compound assignment requires a variable target")
			return lhs
		}
		n := &ast.CompoundAssign{Op: op, Target: v, Value: value}
		n.Span = p.span(start)
		return n
	}
	return lhs
}

type binLevel struct {
	kinds map[lexer.TokenKind]string
	short bool
}

var binLevels = []binLevel{
	{kinds: map[lexer.TokenKind]string{lexer.TokenOrOr: "||"}, short: true},
	{kinds: map[lexer.TokenKind]string{lexer.TokenAndAnd: "&&"}, short: true},
	{kinds: map[lexer.TokenKind]string{lexer.TokenOr: "or", lexer.TokenXor: "xor"}},
	{kinds: map[lexer.TokenKind]string{lexer.TokenAnd: "and"}},
	{kinds: map[lexer.TokenKind]string{
		lexer.TokenEq: "=", lexer.TokenLT: "<", lexer.TokenLTE: "<=",
		lexer.TokenGT: ">", lexer.TokenGTE: ">=",
	}},
	{kinds: map[lexer.TokenKind]string{lexer.TokenPlus: "+", lexer.TokenMinus: "-"}},
	{kinds: map[lexer.TokenKind]string{lexer.TokenStar: "*", lexer.TokenSlash: "/", lexer.TokenPercent: "%"}},
}

func (p *Parser) parseBinary(level int) ast.Expr {
	if level >= len(binLevels) {
		return p.parseUnary()
	}
	start := p.curr.Pos
	left := p.parseBinary(level + 1)
	for {
		op, ok := binLevels[level].kinds[p.curr.Kind]
		if !ok {
			return left
		}
		p.next()
		right := p.parseBinary(level + 1)
		if binLevels[level].short {
			n := &ast.ShortCircuit{Op: op, Left: left, Right: right}
			n.Span = p.span(start)
			left = n
		} else {
			n := &ast.BinOp{Op: op, Left: left, Right: right}
			n.Span = p.span(start)
			left = n
		}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	start := p.curr.Pos
	switch p.curr.Kind {
	case lexer.TokenNot:
		p.next()
		n := &ast.Not{Expr: p.parseUnary()}
		n.Span = p.span(start)
		return n
	case lexer.TokenMinus:
		p.next()
		n := &ast.Neg{Expr: p.parseUnary()}
		n.Span = p.span(start)
		return n
	case lexer.TokenPlusPlus, lexer.TokenMinusMinus:
		op := "++"
		if p.curr.Kind == lexer.TokenMinusMinus {
			op = "--"
		}
		p.next()
		operand := p.parseUnary()
		v, ok := operand.(*ast.Var)
		if !ok {
			p.errorf("%s requires a variable operand", op)
			return operand
		}
		n := &ast.IncDec{Op: op, Pre: true, Target: v}
		n.Span = p.span(start)
		return n
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	start := p.curr.Pos
	e := p.parsePrimary()
	for {
		switch p.curr.Kind {
		case lexer.TokenLParen:
			args := p.parseArgs()
			if v, ok := e.(*ast.Var); ok {
				if b := p.builtinCall(v, args, start); b != nil {
					e = b
					continue
				}
			}
			n := &ast.App{Fn: e, Args: args}
			n.Span = p.span(start)
			e = n
		case lexer.TokenDot:
			p.next()
			field := p.expect(lexer.TokenIdent)
			n := &ast.FieldSel{Target: e, Field: field.Text}
			n.Span = p.span(start)
			e = n
		case lexer.TokenLBracket:
			p.next()
			idx := p.parseAssign()
			p.expect(lexer.TokenRBracket)
			n := &ast.ArrayElem{Target: e, Index: idx}
			n.Span = p.span(start)
			e = n
		case lexer.TokenPlusPlus, lexer.TokenMinusMinus:
			op := "++"
			if p.curr.Kind == lexer.TokenMinusMinus {
				op = "--"
			}
			v, ok := e.(*ast.Var)
			if !ok {
				return e
			}
			p.next()
			n := &ast.IncDec{Op: op, Target: v}
			n.Span = p.span(start)
			e = n
		default:
			return e
		}
	}
}

func (p *Parser) parseArgs() []ast.Expr {
	p.expect(lexer.TokenLParen)
	var args []ast.Expr
	for p.curr.Kind != lexer.TokenRParen && p.curr.Kind != lexer.TokenEOF {
		args = append(args, p.parseAssign())
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen)
	return args
}

// builtinCall recognizes the built-in operations at call position and
// produces their dedicated AST nodes.
func (p *Parser) builtinCall(v *ast.Var, args []ast.Expr, start lexer.Position) ast.Expr {
	arity := func(n int) bool {
		if len(args) != n {
			p.errorf("%s expects %d argument(s), got %d", v.Name, n, len(args))
			return false
		}
		return true
	}
	switch v.Name {
	case "print", "println":
		if !arity(1) {
			return p.badCall(start)
		}
		n := &ast.Print{Arg: args[0], Newline: v.Name == "println"}
		n.Span = p.span(start)
		return n
	case "assert":
		if !arity(1) {
			return p.badCall(start)
		}
		n := &ast.Assertion{Cond: args[0]}
		n.Span = p.span(start)
		return n
	case "readInt":
		if !arity(0) {
			return p.badCall(start)
		}
		n := &ast.ReadInt{}
		n.Span = p.span(start)
		return n
	case "readFloat":
		if !arity(0) {
			return p.badCall(start)
		}
		n := &ast.ReadFloat{}
		n.Span = p.span(start)
		return n
	case "sqrt":
		if !arity(1) {
			return p.badCall(start)
		}
		n := &ast.MathCall{Fn: "sqrt", Args: args}
		n.Span = p.span(start)
		return n
	case "min", "max":
		if !arity(2) {
			return p.badCall(start)
		}
		n := &ast.MathCall{Fn: v.Name, Args: args}
		n.Span = p.span(start)
		return n
	case "array":
		if !arity(2) {
			return p.badCall(start)
		}
		n := &ast.ArrayCons{Length: args[0], Init: args[1]}
		n.Span = p.span(start)
		return n
	case "arrayLength":
		if !arity(1) {
			return p.badCall(start)
		}
		n := &ast.ArrayLen{Target: args[0]}
		n.Span = p.span(start)
		return n
	case "arraySlice":
		if !arity(3) {
			return p.badCall(start)
		}
		n := &ast.ArraySlice{Target: args[0], Start: args[1], End: args[2]}
		n.Span = p.span(start)
		return n
	}
	return nil
}

// badCall stands in for a builtin call that failed its arity check.
func (p *Parser) badCall(start lexer.Position) ast.Expr {
	u := &ast.UnitLit{}
	u.Span = p.span(start)
	return u
}

func (p *Parser) parsePrimary() ast.Expr {
	start := p.curr.Pos
	switch p.curr.Kind {
	case lexer.TokenInt:
		tok := p.curr
		p.next()
		value, err := strconv.ParseInt(tok.Text, 10, 32)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s:%d:%d: integer literal out of range: %s", p.path, tok.Pos.Line, tok.Pos.Col, tok.Text))
		}
		n := &ast.IntLit{Value: int32(value)}
		n.Span = p.span(start)
		return n
	case lexer.TokenFloat:
		tok := p.curr
		p.next()
		value, err := strconv.ParseFloat(tok.Text, 32)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s:%d:%d: float literal out of range: %s", p.path, tok.Pos.Line, tok.Pos.Col, tok.Text))
		}
		n := &ast.FloatLit{Value: float32(value)}
		n.Span = p.span(start)
		return n
	case lexer.TokenString:
		tok := p.curr
		p.next()
		n := &ast.StringLit{Value: tok.Text}
		n.Span = p.span(start)
		return n
	case lexer.TokenTrue, lexer.TokenFalse:
		value := p.curr.Kind == lexer.TokenTrue
		p.next()
		n := &ast.BoolLit{Value: value}
		n.Span = p.span(start)
		return n
	case lexer.TokenIdent:
		tok := p.curr
		p.next()
		if p.curr.Kind == lexer.TokenLBrace {
			p.next()
			value := p.parseSequence()
			p.expect(lexer.TokenRBrace)
			n := &ast.UnionCons{Label: tok.Text, Value: value}
			n.Span = p.span(start)
			return n
		}
		n := &ast.Var{Name: tok.Text}
		n.Span = p.span(start)
		return n
	case lexer.TokenLParen:
		p.next()
		if p.accept(lexer.TokenRParen) {
			n := &ast.UnitLit{}
			n.Span = p.span(start)
			return n
		}
		e := p.parseSequence()
		if p.accept(lexer.TokenColon) {
			ann := p.parseType()
			n := &ast.Ascription{Expr: e, Ann: ann}
			n.Span = p.span(start)
			e = n
		}
		p.expect(lexer.TokenRParen)
		return e
	case lexer.TokenIf:
		p.next()
		n := &ast.If{}
		n.Cond = p.parseAssign()
		p.expect(lexer.TokenThen)
		n.Then = p.parseStatement()
		p.expect(lexer.TokenElse)
		n.Else = p.parseStatement()
		n.Span = p.span(start)
		return n
	case lexer.TokenFun:
		p.next()
		n := &ast.Lambda{}
		n.Params = p.parseParams()
		if p.accept(lexer.TokenColon) {
			n.RetAnn = p.parseType()
		}
		p.expect(lexer.TokenArrow)
		n.Body = p.parseStatement()
		n.Span = p.span(start)
		return n
	case lexer.TokenStruct:
		p.next()
		p.expect(lexer.TokenLBrace)
		n := &ast.StructLit{}
		for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
			name := p.expect(lexer.TokenIdent)
			p.expect(lexer.TokenEq)
			value := p.parseAssign()
			n.Fields = append(n.Fields, ast.FieldInit{Name: name.Text, Value: value})
			if !p.accept(lexer.TokenSemicolon) {
				break
			}
		}
		p.expect(lexer.TokenRBrace)
		n.Span = p.span(start)
		return n
	case lexer.TokenMatch:
		p.next()
		n := &ast.Match{}
		n.Scrutinee = p.parseAssign()
		p.expect(lexer.TokenWith)
		p.expect(lexer.TokenLBrace)
		for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
			caseStart := p.curr.Pos
			label := p.expect(lexer.TokenIdent)
			p.expect(lexer.TokenLBrace)
			binder := p.expect(lexer.TokenIdent)
			p.expect(lexer.TokenRBrace)
			p.expect(lexer.TokenArrow)
			body := p.parseStatement()
			n.Cases = append(n.Cases, ast.MatchCase{
				Label: label.Text,
				Var:   binder.Text,
				Body:  body,
				Span:  p.span(caseStart),
			})
			if !p.accept(lexer.TokenSemicolon) {
				break
			}
		}
		p.expect(lexer.TokenRBrace)
		n.Span = p.span(start)
		return n
	}
	p.errorf("unexpected %s in expression", p.curr)
	u := &ast.UnitLit{}
	u.Span = p.span(start)
	return u
}

func (p *Parser) parseType() ast.TypeExpr {
	start := p.curr.Pos
	switch p.curr.Kind {
	case lexer.TokenIdent:
		tok := p.curr
		p.next()
		if tok.Text == "array" && p.curr.Kind == lexer.TokenLBrace {
			p.next()
			elem := p.parseType()
			p.expect(lexer.TokenRBrace)
			n := &ast.ArrayType{Elem: elem}
			n.Span = p.span(start)
			return n
		}
		n := &ast.NamedType{Name: tok.Text}
		n.Span = p.span(start)
		return n
	case lexer.TokenLParen:
		p.next()
		var params []ast.TypeExpr
		for p.curr.Kind != lexer.TokenRParen && p.curr.Kind != lexer.TokenEOF {
			params = append(params, p.parseType())
			if !p.accept(lexer.TokenComma) {
				break
			}
		}
		p.expect(lexer.TokenRParen)
		if p.accept(lexer.TokenArrow) {
			ret := p.parseType()
			n := &ast.FunType{Params: params, Ret: ret}
			n.Span = p.span(start)
			return n
		}
		if len(params) == 1 {
			return params[0]
		}
		p.errorf("expected -> after parenthesized parameter types")
		n := &ast.NamedType{Name: "unit"}
		n.Span = p.span(start)
		return n
	case lexer.TokenStruct:
		p.next()
		p.expect(lexer.TokenLBrace)
		n := &ast.StructType{}
		for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
			name := p.expect(lexer.TokenIdent)
			p.expect(lexer.TokenColon)
			n.Fields = append(n.Fields, ast.TypeField{Name: name.Text, Type: p.parseType()})
			if !p.accept(lexer.TokenSemicolon) {
				break
			}
		}
		p.expect(lexer.TokenRBrace)
		n.Span = p.span(start)
		return n
	case lexer.TokenUnion:
		p.next()
		p.expect(lexer.TokenLBrace)
		n := &ast.UnionType{}
		for p.curr.Kind != lexer.TokenRBrace && p.curr.Kind != lexer.TokenEOF {
			name := p.expect(lexer.TokenIdent)
			p.expect(lexer.TokenColon)
			n.Labels = append(n.Labels, ast.TypeField{Name: name.Text, Type: p.parseType()})
			if !p.accept(lexer.TokenSemicolon) {
				break
			}
		}
		p.expect(lexer.TokenRBrace)
		n.Span = p.span(start)
		return n
	}
	p.errorf("expected a type, found %s", p.curr)
	n := &ast.NamedType{Name: "unit"}
	n.Span = p.span(start)
	return n
}
