package parser

// Pos is the source position of a node's first token.
type Pos struct {
	Offset int
	Line   int
	Column int
}

// Position returns the node position.
func (p Pos) Position() Pos { return p }

type Node interface {
	Position() Pos
}

type Expr interface {
	Node
	Accept(visitor ExprVisitor) interface{}
}

type LiteralKind int

const (
	LiteralUndefined LiteralKind = iota
	LiteralNull
	LiteralBool
	LiteralNumber
	LiteralString
)

// Literal expression: 42, "s", true, null, undefined
type Literal struct {
	Pos
	Kind  LiteralKind
	Value interface{}
}

func (l *Literal) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitLiteralExpr(l)
}

// Identifier expression: x
type Identifier struct {
	Pos
	Name string
}

func (i *Identifier) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitIdentifierExpr(i)
}

// This expression: this
type ThisExpr struct {
	Pos
}

func (t *ThisExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitThisExpr(t)
}

// Array expression: [1, 2, 3]
type ArrayExpr struct {
	Pos
	Elements []Expr
}

func (a *ArrayExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitArrayExpr(a)
}

// Property is one key/value entry of an object literal.
type Property struct {
	Pos
	Key   string
	Value Expr
}

// Object expression: {a: 1, "b": 2, c}
type ObjectExpr struct {
	Pos
	Properties []*Property
}

func (o *ObjectExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitObjectExpr(o)
}

// Function expression: function name(a, b) { ... } or (a, b) => a + b
type FunctionExpr struct {
	Pos
	Name   string
	Params []string
	Body   []Stmt
	// Arrow functions take `this` from the enclosing scope.
	Arrow  bool
	Strict bool
}

func (f *FunctionExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitFunctionExpr(f)
}

// Unary expression: -x, !x, typeof x
type UnaryExpr struct {
	Pos
	Operator string
	Operand  Expr
}

func (u *UnaryExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitUnaryExpr(u)
}

// Update expression: ++x, x--
type UpdateExpr struct {
	Pos
	Operator string
	Prefix   bool
	Target   Expr
}

func (u *UpdateExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitUpdateExpr(u)
}

// Binary expression: a + b
type BinaryExpr struct {
	Pos
	Left     Expr
	Operator string
	Right    Expr
}

func (b *BinaryExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitBinaryExpr(b)
}

// Logical expression: a && b, a || b, a ?? b
type LogicalExpr struct {
	Pos
	Left     Expr
	Operator string
	Right    Expr
}

func (l *LogicalExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitLogicalExpr(l)
}

// Assignment expression: x = 1, o.k += 2
type AssignExpr struct {
	Pos
	Target   Expr
	Operator string
	Value    Expr
}

func (a *AssignExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitAssignExpr(a)
}

// Conditional expression: test ? a : b
type ConditionalExpr struct {
	Pos
	Test       Expr
	Consequent Expr
	Alternate  Expr
}

func (c *ConditionalExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitConditionalExpr(c)
}

// Call expression: callee(args...)
type CallExpr struct {
	Pos
	Callee   Expr
	Args     []Expr
	Optional bool
}

func (c *CallExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitCallExpr(c)
}

// Member expression: obj.name, obj[index], obj?.name
type MemberExpr struct {
	Pos
	Object Expr
	// Property is the dotted name; Index is set instead for computed access.
	Property string
	Index    Expr
	Optional bool
}

// Computed reports whether the member uses bracket syntax.
func (m *MemberExpr) Computed() bool { return m.Index != nil }

func (m *MemberExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitMemberExpr(m)
}

// Sequence expression: a, b, c
type SequenceExpr struct {
	Pos
	Exprs []Expr
}

func (s *SequenceExpr) Accept(visitor ExprVisitor) interface{} {
	return visitor.VisitSequenceExpr(s)
}

// ExprVisitor handles all expression types.
type ExprVisitor interface {
	VisitLiteralExpr(expr *Literal) interface{}
	VisitIdentifierExpr(expr *Identifier) interface{}
	VisitThisExpr(expr *ThisExpr) interface{}
	VisitArrayExpr(expr *ArrayExpr) interface{}
	VisitObjectExpr(expr *ObjectExpr) interface{}
	VisitFunctionExpr(expr *FunctionExpr) interface{}
	VisitUnaryExpr(expr *UnaryExpr) interface{}
	VisitUpdateExpr(expr *UpdateExpr) interface{}
	VisitBinaryExpr(expr *BinaryExpr) interface{}
	VisitLogicalExpr(expr *LogicalExpr) interface{}
	VisitAssignExpr(expr *AssignExpr) interface{}
	VisitConditionalExpr(expr *ConditionalExpr) interface{}
	VisitCallExpr(expr *CallExpr) interface{}
	VisitMemberExpr(expr *MemberExpr) interface{}
	VisitSequenceExpr(expr *SequenceExpr) interface{}
}
