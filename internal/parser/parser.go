package parser

import (
	"fmt"

	"quill/internal/errors"
	"quill/internal/lexer"
)

// scope tracks the names declared directly in one block so duplicate
// lexical declarations are rejected at parse time.
type scope struct {
	lexical map[string]bool
	vars    map[string]bool
	parent  *scope
}

type Parser struct {
	tokens    []lexer.Token
	current   int
	file      string
	source    string
	scope     *scope
	loopDepth int
	funcDepth int
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

func NewParserWithSource(tokens []lexer.Token, source string, file string) *Parser {
	return &Parser{
		tokens: tokens,
		file:   file,
		source: source,
	}
}

// Parse tokenizes and parses source.
func Parse(source string) (*Program, error) {
	return ParseFile("", source)
}

// ParseFile parses source, tagging error locations with name.
func ParseFile(name, source string) (prog *Program, err error) {
	tokens, err := lexer.NewScannerWithFile(source, name).ScanTokens()
	if err != nil {
		return nil, err
	}

	p := NewParserWithSource(tokens, source, name)
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*errors.ScriptError)
			if !ok {
				panic(r)
			}
			prog, err = nil, se
		}
	}()
	return p.Parse(), nil
}

// Parse parses the whole token stream. Syntax errors panic with a
// *errors.ScriptError; use ParseFile for an error return.
func (p *Parser) Parse() *Program {
	p.pushScope()
	defer p.popScope()

	var body []Stmt
	for !p.isAtEnd() {
		body = append(body, p.statement())
	}
	return &Program{Body: body, Strict: hasStrictDirective(body)}
}

func hasStrictDirective(body []Stmt) bool {
	if len(body) == 0 {
		return false
	}
	es, ok := body[0].(*ExpressionStmt)
	if !ok {
		return false
	}
	lit, ok := es.Expr.(*Literal)
	return ok && lit.Kind == LiteralString && lit.Value == "use strict"
}

func (p *Parser) statement() Stmt {
	switch p.peek().Type {
	case lexer.TokenLBrace:
		return p.blockStatement()
	case lexer.TokenVar, lexer.TokenLet, lexer.TokenConst:
		decl := p.varDeclaration(true)
		p.consumeSemicolon()
		return decl
	case lexer.TokenFunction:
		return p.functionDeclaration()
	case lexer.TokenIf:
		return p.ifStatement()
	case lexer.TokenWhile:
		return p.whileStatement()
	case lexer.TokenDo:
		return p.doWhileStatement()
	case lexer.TokenFor:
		return p.forStatement()
	case lexer.TokenReturn:
		return p.returnStatement()
	case lexer.TokenBreak, lexer.TokenContinue:
		return p.jumpStatement()
	case lexer.TokenThrow:
		return p.throwStatement()
	case lexer.TokenTry:
		return p.tryStatement()
	case lexer.TokenSemicolon:
		return &EmptyStmt{Pos: posOf(p.advance())}
	}

	tok := p.peek()
	expr := p.expression()
	p.consumeSemicolon()
	return &ExpressionStmt{Pos: posOf(tok), Expr: expr}
}

func (p *Parser) blockStatement() *BlockStmt {
	lb := p.consume(lexer.TokenLBrace, "Expected '{'")
	p.pushScope()
	defer p.popScope()

	block := &BlockStmt{Pos: posOf(lb)}
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		block.Body = append(block.Body, p.statement())
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after block")
	return block
}

// varDeclaration parses `kind a = 1, b`. requireConstInit is false only for
// the init clause of a for statement, which reports it the same way.
func (p *Parser) varDeclaration(requireConstInit bool) *VarDecl {
	kindTok := p.advance()
	decl := &VarDecl{Pos: posOf(kindTok), Kind: DeclKind(kindTok.Lexeme)}

	for {
		nameTok := p.consumeName("Expected variable name")
		p.declare(decl.Kind, nameTok)

		d := &Declarator{Pos: posOf(nameTok), Name: nameTok.Lexeme}
		if p.match(lexer.TokenEqual) {
			d.Init = p.assignment()
		} else if decl.Kind == DeclConst && requireConstInit {
			p.errorAt(p.peek(), "Missing initializer in const declaration")
		}
		decl.Declarators = append(decl.Declarators, d)

		if !p.match(lexer.TokenComma) {
			break
		}
	}
	return decl
}

func (p *Parser) functionDeclaration() Stmt {
	fnTok := p.advance()
	nameTok := p.consumeName("Expected function name")
	p.declare(DeclVar, nameTok)
	fn := p.functionRest(fnTok, nameTok.Lexeme)
	return &FunctionDecl{Pos: posOf(fnTok), Function: fn}
}

// functionRest parses `(params) { body }`.
func (p *Parser) functionRest(start lexer.Token, name string) *FunctionExpr {
	p.consume(lexer.TokenLParen, "Expected '(' before parameters")
	var params []lexer.Token
	if !p.check(lexer.TokenRParen) {
		for {
			params = append(params, p.consumeName("Expected parameter name"))
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "Expected ')' after parameters")

	fn := &FunctionExpr{Pos: posOf(start), Name: name, Params: tokenNames(params)}
	fn.Body, fn.Strict = p.functionBody(params)
	return fn
}

// functionBody parses a braced body in a fresh function scope.
func (p *Parser) functionBody(params []lexer.Token) ([]Stmt, bool) {
	p.consume(lexer.TokenLBrace, "Expected '{' before function body")

	var body []Stmt
	p.withFunctionScope(params, func() {
		for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
			body = append(body, p.statement())
		}
	})
	p.consume(lexer.TokenRBrace, "Expected '}' after function body")
	return body, hasStrictDirective(body)
}

func (p *Parser) withFunctionScope(params []lexer.Token, fn func()) {
	savedLoop := p.loopDepth
	p.loopDepth = 0
	p.funcDepth++
	p.pushScope()
	for _, tok := range params {
		p.scope.vars[tok.Lexeme] = true
	}
	defer func() {
		p.popScope()
		p.funcDepth--
		p.loopDepth = savedLoop
	}()
	fn()
}

func (p *Parser) ifStatement() Stmt {
	ifTok := p.advance()
	p.consume(lexer.TokenLParen, "Expected '(' after 'if'")
	test := p.expression()
	p.consume(lexer.TokenRParen, "Expected ')' after condition")

	stmt := &IfStmt{Pos: posOf(ifTok), Test: test, Consequent: p.statement()}
	if p.match(lexer.TokenElse) {
		stmt.Alternate = p.statement()
	}
	return stmt
}

func (p *Parser) whileStatement() Stmt {
	whileTok := p.advance()
	p.consume(lexer.TokenLParen, "Expected '(' after 'while'")
	test := p.expression()
	p.consume(lexer.TokenRParen, "Expected ')' after condition")
	return &WhileStmt{Pos: posOf(whileTok), Test: test, Body: p.loopBody()}
}

func (p *Parser) doWhileStatement() Stmt {
	doTok := p.advance()
	body := p.loopBody()
	p.consume(lexer.TokenWhile, "Expected 'while' after do body")
	p.consume(lexer.TokenLParen, "Expected '(' after 'while'")
	test := p.expression()
	p.consume(lexer.TokenRParen, "Expected ')' after condition")
	p.match(lexer.TokenSemicolon)
	return &DoWhileStmt{Pos: posOf(doTok), Body: body, Test: test}
}

func (p *Parser) forStatement() Stmt {
	forTok := p.advance()
	p.consume(lexer.TokenLParen, "Expected '(' after 'for'")
	p.pushScope()
	defer p.popScope()

	if p.isForOf() {
		stmt := &ForOfStmt{Pos: posOf(forTok)}
		if !p.check(lexer.TokenIdent) {
			stmt.Kind = DeclKind(p.advance().Lexeme)
		}
		nameTok := p.advance()
		if stmt.Kind != "" {
			p.declare(stmt.Kind, nameTok)
		}
		stmt.Name = nameTok.Lexeme
		p.advance() // of
		stmt.Iterable = p.assignment()
		p.consume(lexer.TokenRParen, "Expected ')' after for-of iterable")
		stmt.Body = p.loopBody()
		return stmt
	}

	stmt := &ForStmt{Pos: posOf(forTok)}
	switch {
	case p.check(lexer.TokenSemicolon):
	case p.check(lexer.TokenVar), p.check(lexer.TokenLet), p.check(lexer.TokenConst):
		stmt.Init = p.varDeclaration(true)
	default:
		tok := p.peek()
		stmt.Init = &ExpressionStmt{Pos: posOf(tok), Expr: p.expression()}
	}
	p.consume(lexer.TokenSemicolon, "Expected ';' after loop initializer")

	if !p.check(lexer.TokenSemicolon) {
		stmt.Test = p.expression()
	}
	p.consume(lexer.TokenSemicolon, "Expected ';' after loop condition")

	if !p.check(lexer.TokenRParen) {
		stmt.Update = p.expression()
	}
	p.consume(lexer.TokenRParen, "Expected ')' after for clauses")
	stmt.Body = p.loopBody()
	return stmt
}

// isForOf looks ahead for `[kind] name of`.
func (p *Parser) isForOf() bool {
	i := p.current
	switch p.tokens[i].Type {
	case lexer.TokenVar, lexer.TokenLet, lexer.TokenConst:
		i++
	}
	if i+1 >= len(p.tokens) || p.tokens[i].Type != lexer.TokenIdent {
		return false
	}
	next := p.tokens[i+1]
	return next.Type == lexer.TokenIdent && next.Lexeme == "of"
}

func (p *Parser) loopBody() Stmt {
	p.loopDepth++
	defer func() { p.loopDepth-- }()
	return p.statement()
}

func (p *Parser) returnStatement() Stmt {
	retTok := p.advance()
	if p.funcDepth == 0 {
		p.errorAt(retTok, "Illegal return statement")
	}
	stmt := &ReturnStmt{Pos: posOf(retTok)}
	if !p.check(lexer.TokenSemicolon) && !p.check(lexer.TokenRBrace) && !p.isAtEnd() && !p.peek().NewlineBefore {
		stmt.Value = p.expression()
	}
	p.consumeSemicolon()
	return stmt
}

func (p *Parser) jumpStatement() Stmt {
	tok := p.advance()
	if p.loopDepth == 0 {
		p.errorAt(tok, fmt.Sprintf("Illegal %s statement", tok.Lexeme))
	}
	p.consumeSemicolon()
	if tok.Type == lexer.TokenBreak {
		return &BreakStmt{Pos: posOf(tok)}
	}
	return &ContinueStmt{Pos: posOf(tok)}
}

func (p *Parser) throwStatement() Stmt {
	throwTok := p.advance()
	if p.peek().NewlineBefore {
		p.errorAt(p.peek(), "Illegal newline after throw")
	}
	value := p.expression()
	p.consumeSemicolon()
	return &ThrowStmt{Pos: posOf(throwTok), Value: value}
}

func (p *Parser) tryStatement() Stmt {
	tryTok := p.advance()
	stmt := &TryStmt{Pos: posOf(tryTok), Block: p.blockStatement()}

	if p.match(lexer.TokenCatch) {
		p.pushScope()
		if p.match(lexer.TokenLParen) {
			paramTok := p.consumeName("Expected catch parameter name")
			p.declare(DeclLet, paramTok)
			stmt.Param = paramTok.Lexeme
			p.consume(lexer.TokenRParen, "Expected ')' after catch parameter")
		}
		stmt.Handler = p.blockStatement()
		p.popScope()
	}
	if p.match(lexer.TokenFinally) {
		stmt.Finalizer = p.blockStatement()
	}
	if stmt.Handler == nil && stmt.Finalizer == nil {
		p.errorAt(p.peek(), "Missing catch or finally after try")
	}
	return stmt
}

// consumeSemicolon accepts an explicit ';' or an inserted one before a line
// break, a '}' or the end of input.
func (p *Parser) consumeSemicolon() {
	if p.match(lexer.TokenSemicolon) {
		return
	}
	if p.check(lexer.TokenRBrace) || p.isAtEnd() || p.peek().NewlineBefore {
		return
	}
	p.unexpected(p.peek())
}

func (p *Parser) pushScope() {
	p.scope = &scope{
		lexical: make(map[string]bool),
		vars:    make(map[string]bool),
		parent:  p.scope,
	}
}

func (p *Parser) popScope() {
	p.scope = p.scope.parent
}

func (p *Parser) declare(kind DeclKind, nameTok lexer.Token) {
	name := nameTok.Lexeme
	if kind == DeclVar {
		if p.scope.lexical[name] {
			p.errorAt(nameTok, fmt.Sprintf("Identifier '%s' has already been declared", name))
		}
		p.scope.vars[name] = true
		return
	}
	if p.scope.lexical[name] || p.scope.vars[name] {
		p.errorAt(nameTok, fmt.Sprintf("Identifier '%s' has already been declared", name))
	}
	p.scope.lexical[name] = true
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	tok := p.peek()
	if tok.Type == lexer.TokenEOF {
		p.errorAt(tok, "Unexpected end of input")
	}
	p.errorAt(tok, fmt.Sprintf("%s (got '%s')", msg, tok.Lexeme))
	return tok
}

// consumeName accepts an identifier that is not a reserved word.
func (p *Parser) consumeName(msg string) lexer.Token {
	if p.check(lexer.TokenIdent) {
		return p.advance()
	}
	p.unexpected(p.peek())
	return lexer.Token{}
}

func (p *Parser) unexpected(tok lexer.Token) {
	if tok.Type == lexer.TokenEOF {
		p.errorAt(tok, "Unexpected end of input")
	}
	p.errorAt(tok, fmt.Sprintf("Unexpected token '%s'", tok.Lexeme))
}

func (p *Parser) errorAt(tok lexer.Token, msg string) {
	err := errors.NewSyntaxError(msg, tok.Location())
	if p.source != "" {
		err = err.WithSource(errors.SourceLine(p.source, tok.Line))
	}
	panic(err)
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) checkNext(t lexer.TokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.current+1].Type == t
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if !p.isAtEnd() {
		p.current++
	}
	return tok
}

func (p *Parser) previous() lexer.Token {
	return p.tokens[p.current-1]
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == lexer.TokenEOF
}

func posOf(tok lexer.Token) Pos {
	return Pos{Offset: tok.Offset, Line: tok.Line, Column: tok.Column}
}

func tokenNames(toks []lexer.Token) []string {
	if len(toks) == 0 {
		return nil
	}
	names := make([]string, len(toks))
	for i, t := range toks {
		names[i] = t.Lexeme
	}
	return names
}
