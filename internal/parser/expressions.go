package parser

import (
	"strconv"

	"quill/internal/lexer"
)

// Binary operator precedence, lowest first.
var precedence = map[lexer.TokenType]int{
	lexer.TokenNullish:     1, // ??
	lexer.TokenOr:          2, // ||
	lexer.TokenAnd:         3, // &&
	lexer.TokenDoubleEqual: 4, // ==
	lexer.TokenNotEqual:    4, // !=
	lexer.TokenTripleEqual: 4, // ===
	lexer.TokenNotDoubleEq: 4, // !==
	lexer.TokenLT:          5, // <
	lexer.TokenGT:          5, // >
	lexer.TokenLE:          5, // <=
	lexer.TokenGE:          5, // >=
	lexer.TokenPlus:        6, // +
	lexer.TokenMinus:       6, // -
	lexer.TokenStar:        7, // *
	lexer.TokenSlash:       7, // /
	lexer.TokenPercent:     7, // %
}

var assignOps = map[lexer.TokenType]bool{
	lexer.TokenEqual:        true,
	lexer.TokenPlusEqual:    true,
	lexer.TokenMinusEqual:   true,
	lexer.TokenStarEqual:    true,
	lexer.TokenSlashEqual:   true,
	lexer.TokenPercentEqual: true,
}

func (p *Parser) expression() Expr {
	start := p.peek()
	expr := p.assignment()
	if !p.check(lexer.TokenComma) {
		return expr
	}
	seq := &SequenceExpr{Pos: posOf(start), Exprs: []Expr{expr}}
	for p.match(lexer.TokenComma) {
		seq.Exprs = append(seq.Exprs, p.assignment())
	}
	return seq
}

func (p *Parser) assignment() Expr {
	if p.isArrowAhead() {
		return p.arrowFunction()
	}

	start := p.peek()
	left := p.conditional()
	if !assignOps[p.peek().Type] {
		return left
	}
	if !isAssignable(left) {
		p.errorAt(start, "Invalid left-hand side in assignment")
	}
	op := p.advance()
	value := p.assignment()
	return &AssignExpr{Pos: left.Position(), Target: left, Operator: op.Lexeme, Value: value}
}

func (p *Parser) conditional() Expr {
	test := p.parseBinary(1)
	if !p.match(lexer.TokenQuestion) {
		return test
	}
	cons := p.assignment()
	p.consume(lexer.TokenColon, "Expected ':' in conditional expression")
	alt := p.assignment()
	return &ConditionalExpr{Pos: test.Position(), Test: test, Consequent: cons, Alternate: alt}
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.unary()
	for {
		op := p.peek()
		prec, ok := precedence[op.Type]
		if !ok || prec < minPrec {
			return left
		}
		p.advance()
		right := p.parseBinary(prec + 1)
		switch op.Type {
		case lexer.TokenAnd, lexer.TokenOr, lexer.TokenNullish:
			left = &LogicalExpr{Pos: left.Position(), Left: left, Operator: op.Lexeme, Right: right}
		default:
			left = &BinaryExpr{Pos: left.Position(), Left: left, Operator: op.Lexeme, Right: right}
		}
	}
}

func (p *Parser) unary() Expr {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenNot, lexer.TokenMinus, lexer.TokenPlus, lexer.TokenTypeof:
		p.advance()
		return &UnaryExpr{Pos: posOf(tok), Operator: tok.Lexeme, Operand: p.unary()}
	case lexer.TokenPlusPlus, lexer.TokenMinusMinus:
		p.advance()
		targetTok := p.peek()
		target := p.unary()
		if !isAssignable(target) {
			p.errorAt(targetTok, "Invalid left-hand side expression in prefix operation")
		}
		return &UpdateExpr{Pos: posOf(tok), Operator: tok.Lexeme, Prefix: true, Target: target}
	}
	return p.exponent()
}

// exponent is right associative: 2 ** 3 ** 2 == 2 ** 9.
func (p *Parser) exponent() Expr {
	base := p.postfix()
	if p.match(lexer.TokenStarStar) {
		return &BinaryExpr{Pos: base.Position(), Left: base, Operator: "**", Right: p.unary()}
	}
	return base
}

func (p *Parser) postfix() Expr {
	start := p.peek()
	expr := p.call()
	tok := p.peek()
	if (tok.Type == lexer.TokenPlusPlus || tok.Type == lexer.TokenMinusMinus) && !tok.NewlineBefore {
		if !isAssignable(expr) {
			p.errorAt(start, "Invalid left-hand side expression in postfix operation")
		}
		p.advance()
		return &UpdateExpr{Pos: expr.Position(), Operator: tok.Lexeme, Target: expr}
	}
	return expr
}

func (p *Parser) call() Expr {
	expr := p.primary()
	for {
		switch {
		case p.match(lexer.TokenLParen):
			expr = p.finishCall(expr, false)
		case p.match(lexer.TokenDot):
			name := p.propertyName()
			expr = &MemberExpr{Pos: expr.Position(), Object: expr, Property: name}
		case p.match(lexer.TokenLBracket):
			index := p.expression()
			p.consume(lexer.TokenRBracket, "Expected ']' after index")
			expr = &MemberExpr{Pos: expr.Position(), Object: expr, Index: index}
		case p.match(lexer.TokenOptional):
			switch {
			case p.match(lexer.TokenLParen):
				expr = p.finishCall(expr, true)
			case p.match(lexer.TokenLBracket):
				index := p.expression()
				p.consume(lexer.TokenRBracket, "Expected ']' after index")
				expr = &MemberExpr{Pos: expr.Position(), Object: expr, Index: index, Optional: true}
			default:
				name := p.propertyName()
				expr = &MemberExpr{Pos: expr.Position(), Object: expr, Property: name, Optional: true}
			}
		default:
			return expr
		}
	}
}

func (p *Parser) finishCall(callee Expr, optional bool) Expr {
	call := &CallExpr{Pos: callee.Position(), Callee: callee, Optional: optional}
	for !p.check(lexer.TokenRParen) {
		call.Args = append(call.Args, p.assignment())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.consume(lexer.TokenRParen, "Expected ')' after arguments")
	return call
}

// propertyName accepts identifiers and reserved words after '.'.
func (p *Parser) propertyName() string {
	tok := p.peek()
	if tok.Type == lexer.TokenIdent || lexer.IsKeyword(tok.Lexeme) {
		p.advance()
		return tok.Lexeme
	}
	p.unexpected(tok)
	return ""
}

func (p *Parser) primary() Expr {
	tok := p.peek()
	pos := posOf(tok)

	switch tok.Type {
	case lexer.TokenNumber:
		p.advance()
		return &Literal{Pos: pos, Kind: LiteralNumber, Value: tok.Value}
	case lexer.TokenString:
		p.advance()
		return &Literal{Pos: pos, Kind: LiteralString, Value: tok.Value}
	case lexer.TokenTrue, lexer.TokenFalse:
		p.advance()
		return &Literal{Pos: pos, Kind: LiteralBool, Value: tok.Type == lexer.TokenTrue}
	case lexer.TokenNull:
		p.advance()
		return &Literal{Pos: pos, Kind: LiteralNull}
	case lexer.TokenUndefined:
		p.advance()
		return &Literal{Pos: pos, Kind: LiteralUndefined}
	case lexer.TokenIdent:
		p.advance()
		return &Identifier{Pos: pos, Name: tok.Lexeme}
	case lexer.TokenThis:
		p.advance()
		return &ThisExpr{Pos: pos}
	case lexer.TokenLParen:
		p.advance()
		expr := p.expression()
		p.consume(lexer.TokenRParen, "Expected ')' after expression")
		return expr
	case lexer.TokenLBracket:
		return p.parseArrayLiteral()
	case lexer.TokenLBrace:
		return p.parseObjectLiteral()
	case lexer.TokenFunction:
		p.advance()
		name := ""
		if p.check(lexer.TokenIdent) {
			name = p.advance().Lexeme
		}
		return p.functionRest(tok, name)
	}

	p.unexpected(tok)
	return nil
}

func (p *Parser) parseArrayLiteral() Expr {
	lb := p.advance()
	arr := &ArrayExpr{Pos: posOf(lb)}
	for !p.check(lexer.TokenRBracket) {
		arr.Elements = append(arr.Elements, p.assignment())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.consume(lexer.TokenRBracket, "Expected ']' after array elements")
	return arr
}

func (p *Parser) parseObjectLiteral() Expr {
	lb := p.advance()
	obj := &ObjectExpr{Pos: posOf(lb)}
	for !p.check(lexer.TokenRBrace) {
		keyTok := p.peek()
		var key string
		switch {
		case keyTok.Type == lexer.TokenString:
			key = keyTok.Value.(string)
		case keyTok.Type == lexer.TokenNumber:
			key = strconv.FormatFloat(keyTok.Value.(float64), 'f', -1, 64)
		case keyTok.Type == lexer.TokenIdent || lexer.IsKeyword(keyTok.Lexeme):
			key = keyTok.Lexeme
		default:
			p.unexpected(keyTok)
		}
		p.advance()

		prop := &Property{Pos: posOf(keyTok), Key: key}
		switch {
		case p.match(lexer.TokenColon):
			prop.Value = p.assignment()
		case p.check(lexer.TokenLParen):
			prop.Value = p.functionRest(keyTok, key)
		case keyTok.Type == lexer.TokenIdent:
			prop.Value = &Identifier{Pos: posOf(keyTok), Name: key}
		default:
			p.unexpected(p.peek())
		}
		obj.Properties = append(obj.Properties, prop)

		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after object properties")
	return obj
}

// isArrowAhead reports whether the tokens at the cursor start an arrow
// function: `x =>` or `(a, b) =>`.
func (p *Parser) isArrowAhead() bool {
	if p.check(lexer.TokenIdent) {
		return p.checkNext(lexer.TokenArrow)
	}
	if !p.check(lexer.TokenLParen) {
		return false
	}
	depth := 0
	for i := p.current; i < len(p.tokens); i++ {
		switch p.tokens[i].Type {
		case lexer.TokenLParen:
			depth++
		case lexer.TokenRParen:
			depth--
			if depth == 0 {
				next := i + 1
				return next < len(p.tokens) &&
					p.tokens[next].Type == lexer.TokenArrow &&
					!p.tokens[next].NewlineBefore
			}
		case lexer.TokenEOF:
			return false
		}
	}
	return false
}

func (p *Parser) arrowFunction() Expr {
	start := p.peek()
	var params []lexer.Token
	if p.check(lexer.TokenIdent) {
		params = append(params, p.advance())
	} else {
		p.consume(lexer.TokenLParen, "Expected '('")
		if !p.check(lexer.TokenRParen) {
			for {
				params = append(params, p.consumeName("Expected parameter name"))
				if !p.match(lexer.TokenComma) {
					break
				}
			}
		}
		p.consume(lexer.TokenRParen, "Expected ')' after parameters")
	}
	p.consume(lexer.TokenArrow, "Expected '=>'")

	fn := &FunctionExpr{Pos: posOf(start), Params: tokenNames(params), Arrow: true}
	if p.check(lexer.TokenLBrace) {
		fn.Body, fn.Strict = p.functionBody(params)
		return fn
	}

	bodyTok := p.peek()
	p.withFunctionScope(params, func() {
		value := p.assignment()
		fn.Body = []Stmt{&ReturnStmt{Pos: posOf(bodyTok), Value: value}}
	})
	return fn
}

func isAssignable(expr Expr) bool {
	switch e := expr.(type) {
	case *Identifier:
		return true
	case *MemberExpr:
		return !e.Optional
	}
	return false
}
