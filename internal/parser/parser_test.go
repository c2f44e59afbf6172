package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/errors"
)

var ignorePos = cmpopts.IgnoreTypes(Pos{})

// Test helper to check if parsing succeeds
func assertParseSuccess(t *testing.T, input string) *Program {
	t.Helper()
	prog, err := Parse(input)
	require.NoError(t, err, "input: %q", input)
	require.NotNil(t, prog)
	return prog
}

// Test helper to check if parsing fails with a SyntaxError
func assertParseError(t *testing.T, input string) *errors.ScriptError {
	t.Helper()
	_, err := Parse(input)
	require.Error(t, err, "input: %q", input)
	se, ok := errors.As(err)
	require.True(t, ok, "expected ScriptError, got %T", err)
	assert.Equal(t, errors.SyntaxError, se.Type)
	return se
}

func num(v float64) *Literal        { return &Literal{Kind: LiteralNumber, Value: v} }
func ident(name string) *Identifier { return &Identifier{Name: name} }

func TestMissingInitializerLocation(t *testing.T) {
	se := assertParseError(t, "var a = ;")
	assert.Equal(t, "Unexpected token ';'", se.Message)
	assert.Equal(t, 1, se.Location.Line)
	assert.Equal(t, 9, se.Location.Column)
	assert.Equal(t, 8, se.Location.Index)
	assert.Equal(t, "var a = ;", se.Source)
}

func TestErrorLocations(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
		line    int
		column  int
	}{
		{"second line", "var a = 1;\nvar b = );", "Unexpected token ')'", 2, 9},
		{"end of input", "var a = (1 + ", "Unexpected end of input", 1, 14},
		{"missing semicolon same line", "var a = 1 var b = 2", "Unexpected token 'var'", 1, 11},
		{"wide runes counted once", "var ü = 'ß'; )", "Unexpected token ')'", 1, 14},
		{"const without init", "const c;", "Missing initializer in const declaration", 1, 8},
		{"duplicate let", "let x = 1;\nlet x = 2;", "Identifier 'x' has already been declared", 2, 5},
		{"duplicate const in declarator list", "const a = 1, a = 2;", "Identifier 'a' has already been declared", 1, 14},
		{"let after var", "var v; let v;", "Identifier 'v' has already been declared", 1, 12},
		{"break outside loop", "break;", "Illegal break statement", 1, 1},
		{"return at top level", "return 1;", "Illegal return statement", 1, 1},
		{"invalid assignment target", "1 = 2;", "Invalid left-hand side in assignment", 1, 1},
		{"unterminated string", "var s = 'abc", "Unterminated string literal", 1, 9},
		{"illegal character", "var x = #;", "Invalid or unexpected token '#'", 1, 9},
		{"try without handler", "try {} var x;", "Missing catch or finally after try", 1, 8},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			se := assertParseError(t, test.input)
			assert.Equal(t, test.message, se.Message)
			assert.Equal(t, test.line, se.Location.Line, "line")
			assert.Equal(t, test.column, se.Location.Column, "column")
		})
	}
}

func TestDeclaratorOrder(t *testing.T) {
	prog := assertParseSuccess(t, "var a = 1, b, c = a + 2;")
	want := &Program{Body: []Stmt{
		&VarDecl{Kind: DeclVar, Declarators: []*Declarator{
			{Name: "a", Init: num(1)},
			{Name: "b"},
			{Name: "c", Init: &BinaryExpr{Left: ident("a"), Operator: "+", Right: num(2)}},
		}},
	}}
	if diff := cmp.Diff(want, prog, ignorePos); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIsPure(t *testing.T) {
	src := "function f(x) { return x * 2 }\nlet y = f(3) ?? 0\ny++"
	first := assertParseSuccess(t, src)
	second := assertParseSuccess(t, src)
	assert.True(t, cmp.Equal(first, second))
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  Expr
	}{
		{"1 + 2 * 3", &BinaryExpr{Left: num(1), Operator: "+", Right: &BinaryExpr{Left: num(2), Operator: "*", Right: num(3)}}},
		{"2 ** 3 ** 2", &BinaryExpr{Left: num(2), Operator: "**", Right: &BinaryExpr{Left: num(3), Operator: "**", Right: num(2)}}},
		{"a || b && c", &LogicalExpr{Left: ident("a"), Operator: "||", Right: &LogicalExpr{Left: ident("b"), Operator: "&&", Right: ident("c")}}},
		{"a = b = 1", &AssignExpr{Target: ident("a"), Operator: "=", Value: &AssignExpr{Target: ident("b"), Operator: "=", Value: num(1)}}},
		{"a ? b : c ? d : e", &ConditionalExpr{Test: ident("a"), Consequent: ident("b"), Alternate: &ConditionalExpr{Test: ident("c"), Consequent: ident("d"), Alternate: ident("e")}}},
		{"-x ** 2", &UnaryExpr{Operator: "-", Operand: &BinaryExpr{Left: ident("x"), Operator: "**", Right: num(2)}}},
		{"a.b[c](d)", &CallExpr{Callee: &MemberExpr{Object: &MemberExpr{Object: ident("a"), Property: "b"}, Index: ident("c")}, Args: []Expr{ident("d")}}},
		{"o?.p", &MemberExpr{Object: ident("o"), Property: "p", Optional: true}},
		{"typeof x === 'number'", &BinaryExpr{Left: &UnaryExpr{Operator: "typeof", Operand: ident("x")}, Operator: "===", Right: &Literal{Kind: LiteralString, Value: "number"}}},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			prog := assertParseSuccess(t, test.input)
			require.Len(t, prog.Body, 1)
			got := prog.Body[0].(*ExpressionStmt).Expr
			if diff := cmp.Diff(test.want, got, ignorePos); diff != "" {
				t.Errorf("AST mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAutomaticSemicolons(t *testing.T) {
	prog := assertParseSuccess(t, "let a = 1\nlet b = 2\na\n++b")
	require.Len(t, prog.Body, 4)
	update, ok := prog.Body[3].(*ExpressionStmt).Expr.(*UpdateExpr)
	require.True(t, ok)
	assert.True(t, update.Prefix)

	prog = assertParseSuccess(t, "function f() {\n  return\n  1\n}")
	fn := prog.Body[0].(*FunctionDecl).Function
	require.Len(t, fn.Body, 2)
	assert.Nil(t, fn.Body[0].(*ReturnStmt).Value)

	assertParseSuccess(t, "if (x) { y() }")
	assertParseSuccess(t, "do x++; while (x < 3) y()")
}

func TestFunctions(t *testing.T) {
	prog := assertParseSuccess(t, "const add = (a, b) => a + b; const id = x => x; const f = function named() {};")
	add := prog.Body[0].(*VarDecl).Declarators[0].Init.(*FunctionExpr)
	assert.True(t, add.Arrow)
	assert.Equal(t, []string{"a", "b"}, add.Params)
	require.Len(t, add.Body, 1)
	assert.IsType(t, &ReturnStmt{}, add.Body[0])

	id := prog.Body[1].(*VarDecl).Declarators[0].Init.(*FunctionExpr)
	assert.Equal(t, []string{"x"}, id.Params)

	named := prog.Body[2].(*VarDecl).Declarators[0].Init.(*FunctionExpr)
	assert.Equal(t, "named", named.Name)
	assert.False(t, named.Arrow)
}

func TestObjectAndArrayLiterals(t *testing.T) {
	prog := assertParseSuccess(t, "var o = {a: 1, 'b c': [1, 2,], n, m() { return this.a }, 3: true,};")
	obj := prog.Body[0].(*VarDecl).Declarators[0].Init.(*ObjectExpr)
	keys := make([]string, len(obj.Properties))
	for i, p := range obj.Properties {
		keys[i] = p.Key
	}
	assert.Equal(t, []string{"a", "b c", "n", "m", "3"}, keys)
	assert.Len(t, obj.Properties[1].Value.(*ArrayExpr).Elements, 2)
	assert.Equal(t, "n", obj.Properties[2].Value.(*Identifier).Name)
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Stmt
	}{
		{"for of", "for (const x of xs) {}", &ForOfStmt{Kind: DeclConst, Name: "x", Iterable: ident("xs"), Body: &BlockStmt{}}},
		{"for", "for (let i = 0; i < 3; i++) ;", &ForStmt{
			Init:   &VarDecl{Kind: DeclLet, Declarators: []*Declarator{{Name: "i", Init: num(0)}}},
			Test:   &BinaryExpr{Left: ident("i"), Operator: "<", Right: num(3)},
			Update: &UpdateExpr{Operator: "++", Target: ident("i")},
			Body:   &EmptyStmt{},
		}},
		{"try", "try { f() } catch (e) { g(e) } finally { h() }", &TryStmt{
			Block:     &BlockStmt{Body: []Stmt{&ExpressionStmt{Expr: &CallExpr{Callee: ident("f")}}}},
			Param:     "e",
			Handler:   &BlockStmt{Body: []Stmt{&ExpressionStmt{Expr: &CallExpr{Callee: ident("g"), Args: []Expr{ident("e")}}}}},
			Finalizer: &BlockStmt{Body: []Stmt{&ExpressionStmt{Expr: &CallExpr{Callee: ident("h")}}}},
		}},
		{"if else", "if (a) b; else c;", &IfStmt{Test: ident("a"), Consequent: &ExpressionStmt{Expr: ident("b")}, Alternate: &ExpressionStmt{Expr: ident("c")}}},
		{"throw", "throw 'boom'", &ThrowStmt{Value: &Literal{Kind: LiteralString, Value: "boom"}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			prog := assertParseSuccess(t, test.input)
			require.Len(t, prog.Body, 1)
			if diff := cmp.Diff(test.want, prog.Body[0], ignorePos); diff != "" {
				t.Errorf("AST mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStrictDirective(t *testing.T) {
	assert.True(t, assertParseSuccess(t, "'use strict'; x = 1").Strict)
	assert.False(t, assertParseSuccess(t, "x = 1; 'use strict'").Strict)

	prog := assertParseSuccess(t, "function f() { \"use strict\"; return 1 }")
	assert.True(t, prog.Body[0].(*FunctionDecl).Function.Strict)
}

func TestPositions(t *testing.T) {
	prog := assertParseSuccess(t, "var a = 1;\n  foo(a);")
	call := prog.Body[1].(*ExpressionStmt).Expr.(*CallExpr)
	assert.Equal(t, Pos{Offset: 13, Line: 2, Column: 3}, call.Position())
}

func TestCache(t *testing.T) {
	c := NewCache(2)

	p1, err := c.Parse("", "var a = 1")
	require.NoError(t, err)
	p2, err := c.Parse("", "var a = 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = c.Parse("", "var a = ;")
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())

	_, _ = c.Parse("", "1")
	_, _ = c.Parse("", "2")
	assert.Equal(t, 2, c.Len())

	p3, err := c.Parse("", "var a = 1")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3, "oldest entry is evicted")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(5), misses)

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestDisabledCache(t *testing.T) {
	c := NewCache(0)
	p1, _ := c.Parse("", "1")
	p2, _ := c.Parse("", "1")
	assert.NotSame(t, p1, p2)
}
