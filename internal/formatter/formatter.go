// Package formatter prints parsed quill programs back as source in one
// canonical layout. Comments are not part of the syntax tree and are dropped.
package formatter

import (
	"math"
	"strconv"
	"strings"

	"quill/internal/lexer"
	"quill/internal/parser"
)

type Formatter struct {
	indent    int
	indentStr string
	output    strings.Builder
	lineBreak string
}

func NewFormatter() *Formatter {
	return &Formatter{
		indentStr: "    ", // 4 spaces
		lineBreak: "\n",
	}
}

// Source parses src and returns it formatted.
func Source(file, src string) (string, error) {
	prog, err := parser.ParseFile(file, src)
	if err != nil {
		return "", err
	}
	return NewFormatter().Format(prog), nil
}

func (f *Formatter) Format(prog *parser.Program) string {
	f.output.Reset()
	f.indent = 0
	f.formatBody(prog.Body)
	return f.output.String()
}

func (f *Formatter) formatBody(stmts []parser.Stmt) {
	for i, stmt := range stmts {
		f.formatStmt(stmt)
		if i < len(stmts)-1 && f.needsBlankLine(stmt, stmts[i+1]) {
			f.output.WriteString(f.lineBreak)
		}
	}
}

// needsBlankLine separates function declarations from their neighbours.
func (f *Formatter) needsBlankLine(curr, next parser.Stmt) bool {
	_, currIsFunc := curr.(*parser.FunctionDecl)
	_, nextIsFunc := next.(*parser.FunctionDecl)
	return currIsFunc || nextIsFunc
}

func (f *Formatter) writeIndent() {
	for i := 0; i < f.indent; i++ {
		f.output.WriteString(f.indentStr)
	}
}

func (f *Formatter) write(s string) { f.output.WriteString(s) }

func (f *Formatter) formatStmt(stmt parser.Stmt) {
	f.writeIndent()
	f.formatStmtInline(stmt)
	f.write(f.lineBreak)
}

// formatStmtInline writes stmt starting at the current column without a
// trailing line break.
func (f *Formatter) formatStmtInline(stmt parser.Stmt) {
	switch s := stmt.(type) {
	case *parser.VarDecl:
		f.formatVarDecl(s)
		f.write(";")

	case *parser.ExpressionStmt:
		if startsAmbiguously(s.Expr) {
			f.write("(")
			f.formatExpr(s.Expr, precSequence)
			f.write(")")
		} else {
			f.formatExpr(s.Expr, precSequence)
		}
		f.write(";")

	case *parser.BlockStmt:
		f.formatBlock(s.Body)

	case *parser.IfStmt:
		f.write("if (")
		f.formatExpr(s.Test, precSequence)
		f.write(")")
		cons := s.Consequent
		if s.Alternate != nil && hasDanglingIf(cons) {
			cons = &parser.BlockStmt{Pos: cons.Position(), Body: []parser.Stmt{cons}}
		}
		f.formatClause(cons)
		if s.Alternate == nil {
			return
		}
		if _, ok := cons.(*parser.BlockStmt); ok {
			f.write(" else")
		} else {
			f.write(f.lineBreak)
			f.writeIndent()
			f.write("else")
		}
		if elseIf, ok := s.Alternate.(*parser.IfStmt); ok {
			f.write(" ")
			f.formatStmtInline(elseIf)
			return
		}
		f.formatClause(s.Alternate)

	case *parser.WhileStmt:
		f.write("while (")
		f.formatExpr(s.Test, precSequence)
		f.write(")")
		f.formatClause(s.Body)

	case *parser.DoWhileStmt:
		f.write("do")
		f.formatClause(s.Body)
		if _, ok := s.Body.(*parser.BlockStmt); ok {
			f.write(" ")
		} else {
			f.write(f.lineBreak)
			f.writeIndent()
		}
		f.write("while (")
		f.formatExpr(s.Test, precSequence)
		f.write(");")

	case *parser.ForStmt:
		f.write("for (")
		switch init := s.Init.(type) {
		case *parser.VarDecl:
			f.formatVarDecl(init)
		case *parser.ExpressionStmt:
			f.formatExpr(init.Expr, precSequence)
		}
		f.write(";")
		if s.Test != nil {
			f.write(" ")
			f.formatExpr(s.Test, precSequence)
		}
		f.write(";")
		if s.Update != nil {
			f.write(" ")
			f.formatExpr(s.Update, precSequence)
		}
		f.write(")")
		f.formatClause(s.Body)

	case *parser.ForOfStmt:
		f.write("for (")
		if s.Kind != "" {
			f.write(string(s.Kind))
			f.write(" ")
		}
		f.write(s.Name)
		f.write(" of ")
		f.formatExpr(s.Iterable, precAssign)
		f.write(")")
		f.formatClause(s.Body)

	case *parser.BreakStmt:
		f.write("break;")

	case *parser.ContinueStmt:
		f.write("continue;")

	case *parser.ReturnStmt:
		f.write("return")
		if s.Value != nil {
			f.write(" ")
			f.formatExpr(s.Value, precSequence)
		}
		f.write(";")

	case *parser.FunctionDecl:
		f.formatFunction(s.Function, "function ")

	case *parser.ThrowStmt:
		f.write("throw ")
		f.formatExpr(s.Value, precSequence)
		f.write(";")

	case *parser.TryStmt:
		f.write("try ")
		f.formatBlock(s.Block.Body)
		if s.Handler != nil {
			f.write(" catch ")
			if s.Param != "" {
				f.write("(" + s.Param + ") ")
			}
			f.formatBlock(s.Handler.Body)
		}
		if s.Finalizer != nil {
			f.write(" finally ")
			f.formatBlock(s.Finalizer.Body)
		}

	case *parser.EmptyStmt:
		f.write(";")
	}
}

// formatClause writes the body of a compound statement: a block stays on
// the header line, anything else goes on its own indented line.
func (f *Formatter) formatClause(body parser.Stmt) {
	if block, ok := body.(*parser.BlockStmt); ok {
		f.write(" ")
		f.formatBlock(block.Body)
		return
	}
	f.write(f.lineBreak)
	f.indent++
	f.writeIndent()
	f.formatStmtInline(body)
	f.indent--
}

func (f *Formatter) formatBlock(body []parser.Stmt) {
	if len(body) == 0 {
		f.write("{}")
		return
	}
	f.write("{")
	f.write(f.lineBreak)
	f.indent++
	f.formatBody(body)
	f.indent--
	f.writeIndent()
	f.write("}")
}

func (f *Formatter) formatVarDecl(decl *parser.VarDecl) {
	f.write(string(decl.Kind))
	f.write(" ")
	for i, d := range decl.Declarators {
		if i > 0 {
			f.write(", ")
		}
		f.write(d.Name)
		if d.Init != nil {
			f.write(" = ")
			f.formatExpr(d.Init, precAssign)
		}
	}
}

func (f *Formatter) formatFunction(fn *parser.FunctionExpr, keyword string) {
	f.write(keyword)
	f.write(fn.Name)
	f.write("(")
	f.write(strings.Join(fn.Params, ", "))
	f.write(") ")
	f.formatBlock(fn.Body)
}

func (f *Formatter) formatArrow(fn *parser.FunctionExpr) {
	if len(fn.Params) == 1 {
		f.write(fn.Params[0])
	} else {
		f.write("(" + strings.Join(fn.Params, ", ") + ")")
	}
	f.write(" => ")
	if ret, ok := conciseBody(fn); ok {
		if startsAmbiguously(ret) {
			f.write("(")
			f.formatExpr(ret, precSequence)
			f.write(")")
			return
		}
		f.formatExpr(ret, precAssign)
		return
	}
	f.formatBlock(fn.Body)
}

// conciseBody returns the expression of an arrow whose body is a single
// return of a value.
func conciseBody(fn *parser.FunctionExpr) (parser.Expr, bool) {
	if len(fn.Body) != 1 {
		return nil, false
	}
	ret, ok := fn.Body[0].(*parser.ReturnStmt)
	if !ok || ret.Value == nil {
		return nil, false
	}
	return ret.Value, true
}

// Printing precedence, lowest first.
const (
	precSequence = iota
	precAssign
	precConditional
	precNullish
	precOr
	precAnd
	precEquality
	precRelational
	precAdditive
	precMultiplicative
	precExponent
	precUnary
	precPostfix
	precCall
	precPrimary
)

var binaryPrec = map[string]int{
	"??": precNullish,
	"||": precOr,
	"&&": precAnd,
	"==": precEquality, "!=": precEquality, "===": precEquality, "!==": precEquality,
	"<": precRelational, ">": precRelational, "<=": precRelational, ">=": precRelational,
	"+": precAdditive, "-": precAdditive,
	"*": precMultiplicative, "/": precMultiplicative, "%": precMultiplicative,
	"**": precExponent,
}

func precOf(expr parser.Expr) int {
	switch e := expr.(type) {
	case *parser.SequenceExpr:
		return precSequence
	case *parser.AssignExpr:
		return precAssign
	case *parser.FunctionExpr:
		if e.Arrow {
			return precAssign
		}
	case *parser.ConditionalExpr:
		return precConditional
	case *parser.BinaryExpr:
		return binaryPrec[e.Operator]
	case *parser.LogicalExpr:
		return binaryPrec[e.Operator]
	case *parser.UnaryExpr:
		return precUnary
	case *parser.UpdateExpr:
		if e.Prefix {
			return precUnary
		}
		return precPostfix
	case *parser.CallExpr, *parser.MemberExpr:
		return precCall
	}
	return precPrimary
}

// formatExpr writes expr, parenthesized when it binds looser than min.
func (f *Formatter) formatExpr(expr parser.Expr, min int) {
	if precOf(expr) < min {
		f.write("(")
		f.formatExpr(expr, precSequence)
		f.write(")")
		return
	}

	switch e := expr.(type) {
	case *parser.Literal:
		f.write(literal(e))

	case *parser.Identifier:
		f.write(e.Name)

	case *parser.ThisExpr:
		f.write("this")

	case *parser.ArrayExpr:
		f.write("[")
		for i, el := range e.Elements {
			if i > 0 {
				f.write(", ")
			}
			f.formatExpr(el, precAssign)
		}
		f.write("]")

	case *parser.ObjectExpr:
		f.formatObject(e)

	case *parser.FunctionExpr:
		if e.Arrow {
			f.formatArrow(e)
		} else {
			f.formatFunction(e, "function ")
		}

	case *parser.UnaryExpr:
		f.write(e.Operator)
		if e.Operator == "typeof" || needsOperatorSpace(e.Operator, e.Operand) {
			f.write(" ")
		}
		f.formatExpr(e.Operand, precUnary)

	case *parser.UpdateExpr:
		if e.Prefix {
			f.write(e.Operator)
			f.formatExpr(e.Target, precCall)
		} else {
			f.formatExpr(e.Target, precCall)
			f.write(e.Operator)
		}

	case *parser.BinaryExpr:
		f.formatBinary(e.Left, e.Operator, e.Right)

	case *parser.LogicalExpr:
		f.formatBinary(e.Left, e.Operator, e.Right)

	case *parser.AssignExpr:
		f.formatExpr(e.Target, precCall)
		f.write(" " + e.Operator + " ")
		f.formatExpr(e.Value, precAssign)

	case *parser.ConditionalExpr:
		f.formatExpr(e.Test, precNullish)
		f.write(" ? ")
		f.formatExpr(e.Consequent, precAssign)
		f.write(" : ")
		f.formatExpr(e.Alternate, precAssign)

	case *parser.CallExpr:
		f.formatExpr(e.Callee, precCall)
		if e.Optional {
			f.write("?.")
		}
		f.write("(")
		for i, arg := range e.Args {
			if i > 0 {
				f.write(", ")
			}
			f.formatExpr(arg, precAssign)
		}
		f.write(")")

	case *parser.MemberExpr:
		if lit, ok := e.Object.(*parser.Literal); ok && lit.Kind == parser.LiteralNumber {
			f.write("(" + literal(lit) + ")")
		} else {
			f.formatExpr(e.Object, precCall)
		}
		switch {
		case e.Computed() && e.Optional:
			f.write("?.[")
		case e.Computed():
			f.write("[")
		case e.Optional:
			f.write("?." + e.Property)
		default:
			f.write("." + e.Property)
		}
		if e.Computed() {
			f.formatExpr(e.Index, precSequence)
			f.write("]")
		}

	case *parser.SequenceExpr:
		for i, sub := range e.Exprs {
			if i > 0 {
				f.write(", ")
			}
			f.formatExpr(sub, precAssign)
		}
	}
}

func (f *Formatter) formatBinary(left parser.Expr, op string, right parser.Expr) {
	prec := binaryPrec[op]
	if op == "**" {
		// Right associative, and a unary base must keep its parentheses.
		f.formatExpr(left, precPostfix)
		f.write(" ** ")
		f.formatExpr(right, precExponent)
		return
	}
	f.formatOperand(left, op, prec)
	f.write(" " + op + " ")
	f.formatOperand(right, op, prec+1)
}

// formatOperand always parenthesizes ?? mixed with || or &&.
func (f *Formatter) formatOperand(expr parser.Expr, op string, min int) {
	if l, ok := expr.(*parser.LogicalExpr); ok && (op == "??") != (l.Operator == "??") && isLogical(op) {
		f.write("(")
		f.formatExpr(expr, precSequence)
		f.write(")")
		return
	}
	f.formatExpr(expr, min)
}

func isLogical(op string) bool {
	return op == "??" || op == "||" || op == "&&"
}

func (f *Formatter) formatObject(obj *parser.ObjectExpr) {
	if len(obj.Properties) == 0 {
		f.write("{}")
		return
	}
	f.write("{ ")
	for i, prop := range obj.Properties {
		if i > 0 {
			f.write(", ")
		}
		key := propertyKey(prop.Key)
		switch v := prop.Value.(type) {
		case *parser.Identifier:
			if v.Name == prop.Key {
				f.write(v.Name)
				continue
			}
		case *parser.FunctionExpr:
			if !v.Arrow && v.Name == prop.Key {
				f.write(key)
				f.write("(" + strings.Join(v.Params, ", ") + ") ")
				f.formatBlock(v.Body)
				continue
			}
		}
		f.write(key)
		f.write(": ")
		f.formatExpr(prop.Value, precAssign)
	}
	f.write(" }")
}

// needsOperatorSpace keeps "- -x" and "+ ++x" from fusing into one token.
func needsOperatorSpace(op string, operand parser.Expr) bool {
	var next string
	switch e := operand.(type) {
	case *parser.UnaryExpr:
		next = e.Operator
	case *parser.UpdateExpr:
		if e.Prefix {
			next = e.Operator
		}
	case *parser.Literal:
		if e.Kind == parser.LiteralNumber {
			if v, _ := e.Value.(float64); v < 0 || math.Signbit(v) {
				next = "-"
			}
		}
	}
	return next != "" && next[0] == op[0]
}

// startsAmbiguously reports whether an expression statement would begin
// with '{' or 'function' and so be read as a block or a declaration.
func startsAmbiguously(expr parser.Expr) bool {
	for {
		switch e := expr.(type) {
		case *parser.ObjectExpr:
			return true
		case *parser.FunctionExpr:
			return !e.Arrow
		case *parser.CallExpr:
			expr = e.Callee
		case *parser.MemberExpr:
			expr = e.Object
		case *parser.BinaryExpr:
			expr = e.Left
		case *parser.LogicalExpr:
			expr = e.Left
		case *parser.AssignExpr:
			expr = e.Target
		case *parser.ConditionalExpr:
			expr = e.Test
		case *parser.SequenceExpr:
			expr = e.Exprs[0]
		case *parser.UpdateExpr:
			if e.Prefix {
				return false
			}
			expr = e.Target
		default:
			return false
		}
	}
}

// hasDanglingIf reports whether an else following stmt would attach to an
// inner if instead.
func hasDanglingIf(stmt parser.Stmt) bool {
	switch s := stmt.(type) {
	case *parser.IfStmt:
		if s.Alternate == nil {
			return true
		}
		return hasDanglingIf(s.Alternate)
	case *parser.WhileStmt:
		return hasDanglingIf(s.Body)
	case *parser.ForStmt:
		return hasDanglingIf(s.Body)
	case *parser.ForOfStmt:
		return hasDanglingIf(s.Body)
	}
	return false
}

func literal(lit *parser.Literal) string {
	switch lit.Kind {
	case parser.LiteralNull:
		return "null"
	case parser.LiteralUndefined:
		return "undefined"
	case parser.LiteralBool:
		if b, _ := lit.Value.(bool); b {
			return "true"
		}
		return "false"
	case parser.LiteralNumber:
		v, _ := lit.Value.(float64)
		if v == math.Trunc(v) && math.Abs(v) < 1e21 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case parser.LiteralString:
		s, _ := lit.Value.(string)
		return quote(s)
	}
	return ""
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\v':
			sb.WriteString(`\v`)
		default:
			if c < 0x20 || c == 0x7f {
				sb.WriteString(`\x`)
				sb.WriteString(strconv.FormatUint(uint64(c)>>4, 16))
				sb.WriteString(strconv.FormatUint(uint64(c)&0xf, 16))
				continue
			}
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func propertyKey(key string) string {
	if isIdentifier(key) || lexer.IsKeyword(key) {
		return key
	}
	return quote(key)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
