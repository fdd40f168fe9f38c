package cir

import (
	"strconv"
	"strings"
)

const indentUnit = "  "

const (
	precAssign  = 1
	precCond    = 2
	precUnary   = 13
	precPostfix = 14
	precPrimary = 15
)

// Print renders statements as C source, one statement per line, each line
// terminated by a newline.
func Print(stmts []Stmt) string {
	var b strings.Builder
	for _, s := range stmts {
		printStmt(&b, s, 0)
	}
	return b.String()
}

// PrintFunc renders a function definition.
func PrintFunc(f *FuncDecl) string {
	var b strings.Builder
	if f.Qual != "" {
		b.WriteString(f.Qual)
		b.WriteByte(' ')
	}
	b.WriteString(f.Result)
	b.WriteByte(' ')
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type)
		b.WriteByte(' ')
		b.WriteString(strings.Repeat("*", p.Ptr))
		b.WriteString(p.Name)
	}
	b.WriteString(") ")
	printBlock(&b, f.Body, 0)
	b.WriteByte('\n')
	return b.String()
}

// PrintExpr renders one expression.
func PrintExpr(e Expr) string {
	return exprString(e, 0)
}

func printStmt(b *strings.Builder, s Stmt, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	switch s := s.(type) {
	case *ExprStmt:
		b.WriteString(ind + exprString(s.X, 0) + ";\n")
	case *Decl:
		b.WriteString(ind + declString(s) + ";\n")
	case *Block:
		if s.Flat {
			for _, st := range s.Stmts {
				printStmt(b, st, depth)
			}
			return
		}
		b.WriteString(ind)
		printBlock(b, s, depth)
		b.WriteByte('\n')
	case *If:
		b.WriteString(ind + "if (" + exprString(s.Cond, 0) + ")")
		printBody(b, s.Then, depth)
		if s.Else != nil {
			b.WriteString(ind + "else")
			printBody(b, s.Else, depth)
		}
	case *For:
		b.WriteString(ind + "for (")
		switch init := s.Init.(type) {
		case *ExprStmt:
			b.WriteString(exprString(init.X, 0))
		case *Decl:
			b.WriteString(declString(init))
		}
		b.WriteString("; ")
		if s.Cond != nil {
			b.WriteString(exprString(s.Cond, 0))
		}
		b.WriteString("; ")
		if s.Post != nil {
			b.WriteString(exprString(s.Post, 0))
		}
		b.WriteByte(')')
		printBody(b, s.Body, depth)
	case *Launch:
		b.WriteString(ind + s.Kernel + "<<<" + exprString(s.Grid, precAssign) + "," + exprString(s.Block, precAssign))
		if s.Stream != nil {
			b.WriteString(",0," + exprString(s.Stream, precAssign))
		}
		b.WriteString(">>>(" + exprList(s.Args) + ");\n")
	case *Comment:
		b.WriteString(ind + "/* " + s.Text + " */\n")
	case *Empty:
		b.WriteString(ind + ";\n")
	}
}

// printBody writes a loop or branch body after its header.
func printBody(b *strings.Builder, s Stmt, depth int) {
	if blk, ok := s.(*Block); ok {
		b.WriteByte(' ')
		printBlock(b, blk, depth)
		b.WriteByte('\n')
		return
	}
	b.WriteByte('\n')
	printStmt(b, s, depth+1)
}

func printBlock(b *strings.Builder, blk *Block, depth int) {
	b.WriteString("{\n")
	for _, s := range blk.Stmts {
		printStmt(b, s, depth+1)
	}
	b.WriteString(strings.Repeat(indentUnit, depth) + "}")
}

func declString(d *Decl) string {
	parts := make([]string, len(d.Vars))
	for i, v := range d.Vars {
		var s strings.Builder
		s.WriteString(strings.Repeat("*", v.Ptr))
		s.WriteString(v.Name)
		for _, dim := range v.Dims {
			s.WriteString("[" + exprString(dim, 0) + "]")
		}
		if v.Init != nil {
			s.WriteString(" = " + exprString(v.Init, precAssign))
		}
		parts[i] = s.String()
	}
	return d.Type + " " + strings.Join(parts, ", ")
}

func exprList(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = exprString(a, precAssign)
	}
	return strings.Join(parts, ",")
}

func exprPrec(e Expr) int {
	switch e := e.(type) {
	case *Assign:
		return precAssign
	case *Cond:
		return precCond
	case *Binary:
		return binaryPrec[e.Op] + 2
	case *Unary, *Cast, *Sizeof:
		return precUnary
	case *Postfix, *Index, *Member, *Call:
		return precPostfix
	case *IntLit:
		if e.Val < 0 {
			return precUnary
		}
	case *FloatLit:
		if e.Val < 0 {
			return precUnary
		}
	}
	return precPrimary
}

var spacedOps = map[string]bool{
	"<": true, ">": true, "<=": true, ">=": true, "==": true, "!=": true,
	"&&": true, "||": true,
}

func exprString(e Expr, ctx int) string {
	s := exprText(e)
	if exprPrec(e) < ctx {
		return "(" + s + ")"
	}
	return s
}

func exprText(e Expr) string {
	switch e := e.(type) {
	case *Ident:
		return e.Name
	case *IntLit:
		return strconv.FormatInt(e.Val, 10)
	case *FloatLit:
		if e.Text != "" {
			return e.Text
		}
		s := strconv.FormatFloat(e.Val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case *StringLit:
		return strconv.Quote(e.Val)
	case *Index:
		return exprString(e.X, precPostfix) + "[" + exprString(e.Index, 0) + "]"
	case *Member:
		return exprString(e.X, precPostfix) + "." + e.Sel
	case *Call:
		return e.Fun + "(" + exprList(e.Args) + ")"
	case *Unary:
		x := exprString(e.X, precUnary)
		if (e.Op == "-" || e.Op == "+" || e.Op == "&") && strings.HasPrefix(x, e.Op) {
			x = "(" + x + ")"
		}
		return e.Op + x
	case *Postfix:
		return exprString(e.X, precPostfix) + e.Op
	case *Binary:
		p := binaryPrec[e.Op] + 2
		x := exprString(e.X, p)
		y := exprString(e.Y, p+1)
		last := e.Op[len(e.Op)-1]
		if (last == '-' || last == '+') && len(y) > 0 && y[0] == last {
			y = "(" + y + ")"
		}
		if spacedOps[e.Op] {
			return x + " " + e.Op + " " + y
		}
		return x + e.Op + y
	case *Assign:
		return exprString(e.LHS, precUnary) + " " + e.Op + " " + exprString(e.RHS, precAssign)
	case *Paren:
		return "(" + exprString(e.X, 0) + ")"
	case *Cast:
		return "(" + e.Type + ")" + exprString(e.X, precUnary)
	case *Sizeof:
		return "sizeof(" + e.Type + ")"
	case *Cond:
		return exprString(e.C, precCond+1) + " ? " + exprString(e.T, precAssign) + " : " + exprString(e.F, precCond)
	}
	return "/* ? */"
}
