package parser

// Stmt represents a statement.
type Stmt interface {
	Node
	Accept(visitor StmtVisitor) interface{}
}

// Program is the root of a parsed script.
type Program struct {
	Body []Stmt
	// Strict is set by a leading "use strict" directive.
	Strict bool
}

type DeclKind string

const (
	DeclVar   DeclKind = "var"
	DeclLet   DeclKind = "let"
	DeclConst DeclKind = "const"
)

// Declarator binds one name inside a VarDecl.
type Declarator struct {
	Pos
	Name string
	Init Expr
}

// VarDecl represents var/let/const declarations; declarators keep source order.
type VarDecl struct {
	Pos
	Kind        DeclKind
	Declarators []*Declarator
}

func (v *VarDecl) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitVarDecl(v)
}

// ExpressionStmt wraps a raw expression as a statement.
type ExpressionStmt struct {
	Pos
	Expr Expr
}

func (e *ExpressionStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitExpressionStmt(e)
}

type BlockStmt struct {
	Pos
	Body []Stmt
}

func (b *BlockStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitBlockStmt(b)
}

type IfStmt struct {
	Pos
	Test       Expr
	Consequent Stmt
	Alternate  Stmt
}

func (i *IfStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitIfStmt(i)
}

type WhileStmt struct {
	Pos
	Test Expr
	Body Stmt
}

func (w *WhileStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitWhileStmt(w)
}

type DoWhileStmt struct {
	Pos
	Body Stmt
	Test Expr
}

func (d *DoWhileStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitDoWhileStmt(d)
}

// ForStmt represents for (init; test; update) body. Init is a *VarDecl, an
// *ExpressionStmt or nil.
type ForStmt struct {
	Pos
	Init   Stmt
	Test   Expr
	Update Expr
	Body   Stmt
}

func (f *ForStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitForStmt(f)
}

// ForOfStmt represents for (let x of iterable) body. An empty Kind assigns an
// existing binding.
type ForOfStmt struct {
	Pos
	Kind     DeclKind
	Name     string
	Iterable Expr
	Body     Stmt
}

func (f *ForOfStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitForOfStmt(f)
}

type BreakStmt struct {
	Pos
}

func (b *BreakStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitBreakStmt(b)
}

type ContinueStmt struct {
	Pos
}

func (c *ContinueStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitContinueStmt(c)
}

// ReturnStmt represents a return statement.
type ReturnStmt struct {
	Pos
	Value Expr
}

func (r *ReturnStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitReturnStmt(r)
}

// FunctionDecl represents a hoisted function declaration.
type FunctionDecl struct {
	Pos
	Function *FunctionExpr
}

func (f *FunctionDecl) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitFunctionDecl(f)
}

type ThrowStmt struct {
	Pos
	Value Expr
}

func (t *ThrowStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitThrowStmt(t)
}

// TryStmt represents try/catch/finally. Handler or Finalizer may be nil, not both.
type TryStmt struct {
	Pos
	Block     *BlockStmt
	Param     string
	Handler   *BlockStmt
	Finalizer *BlockStmt
}

func (t *TryStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitTryStmt(t)
}

type EmptyStmt struct {
	Pos
}

func (e *EmptyStmt) Accept(visitor StmtVisitor) interface{} {
	return visitor.VisitEmptyStmt(e)
}

// StmtVisitor handles all statement types.
type StmtVisitor interface {
	VisitVarDecl(stmt *VarDecl) interface{}
	VisitExpressionStmt(stmt *ExpressionStmt) interface{}
	VisitBlockStmt(stmt *BlockStmt) interface{}
	VisitIfStmt(stmt *IfStmt) interface{}
	VisitWhileStmt(stmt *WhileStmt) interface{}
	VisitDoWhileStmt(stmt *DoWhileStmt) interface{}
	VisitForStmt(stmt *ForStmt) interface{}
	VisitForOfStmt(stmt *ForOfStmt) interface{}
	VisitBreakStmt(stmt *BreakStmt) interface{}
	VisitContinueStmt(stmt *ContinueStmt) interface{}
	VisitReturnStmt(stmt *ReturnStmt) interface{}
	VisitFunctionDecl(stmt *FunctionDecl) interface{}
	VisitThrowStmt(stmt *ThrowStmt) interface{}
	VisitTryStmt(stmt *TryStmt) interface{}
	VisitEmptyStmt(stmt *EmptyStmt) interface{}
}
