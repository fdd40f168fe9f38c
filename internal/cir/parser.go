package cir

import (
	"fmt"
	"strconv"
	"strings"
)

var typeWords = map[string]bool{
	"int": true, "double": true, "float": true, "long": true, "short": true,
	"char": true, "unsigned": true, "signed": true, "void": true, "size_t": true,
	"cudaStream_t": true, "cudaEvent_t": true, "dim3": true,
}

var qualWords = map[string]bool{
	"register": true, "const": true, "static": true, "volatile": true, "extern": true,
}

type parser struct {
	toks []tok
	pos  int
}

// ParseStmts parses a statement sequence.
func ParseStmts(src string) ([]Stmt, error) {
	u, err := ParseUnit(src)
	if err != nil {
		return nil, err
	}
	if len(u.Funcs) > 0 {
		return nil, &Error{Line: 1, Col: 1, Msg: "unexpected function definition"}
	}
	return u.Stmts, nil
}

// ParseExpr parses a single expression.
func ParseExpr(src string) (Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tEOF {
		return nil, p.errorf("unexpected %q after expression", p.peek().text)
	}
	return e, nil
}

// ParseUnit parses kernel definitions and statements.
func ParseUnit(src string) (*Unit, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	u := &Unit{}
	for p.peek().kind != tEOF {
		if p.isFuncStart() {
			f, err := p.funcDecl()
			if err != nil {
				return nil, err
			}
			u.Funcs = append(u.Funcs, f)
			continue
		}
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		u.Stmts = append(u.Stmts, s)
	}
	return u, nil
}

func (p *parser) peek() tok { return p.toks[p.pos] }

func (p *parser) peekAt(n int) tok {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return (t.kind == tOp || t.kind == tIdent) && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.is(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, found %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	return &Error{Line: t.line, Col: t.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isTypeStart() bool {
	t := p.peek()
	return t.kind == tIdent && (typeWords[t.text] || qualWords[t.text])
}

func (p *parser) isFuncStart() bool {
	if p.is("__global__") || p.is("__device__") {
		return true
	}
	if !p.isTypeStart() {
		return false
	}
	i := 0
	for {
		t := p.peekAt(i)
		if t.kind == tIdent && (typeWords[t.text] || qualWords[t.text]) || (t.kind == tOp && t.text == "*") {
			i++
			continue
		}
		break
	}
	return p.peekAt(i).kind == tIdent && p.peekAt(i+1).text == "("
}

// typeName consumes qualifier and type words.
func (p *parser) typeName() string {
	var words []string
	for p.isTypeStart() {
		words = append(words, p.next().text)
	}
	return strings.Join(words, " ")
}

func (p *parser) stars() int {
	n := 0
	for p.accept("*") {
		n++
	}
	return n
}

func (p *parser) funcDecl() (*FuncDecl, error) {
	f := &FuncDecl{}
	if p.is("__global__") || p.is("__device__") {
		f.Qual = p.next().text
	}
	f.Result = p.typeName()
	if f.Result == "" {
		return nil, p.errorf("expected a result type")
	}
	f.Result += strings.Repeat("*", p.stars())
	name := p.next()
	if name.kind != tIdent {
		return nil, p.errorf("expected a function name")
	}
	f.Name = name.text
	if err := p.expect("("); err != nil {
		return nil, err
	}
	for !p.is(")") {
		typ := p.typeName()
		if typ == "" {
			return nil, p.errorf("expected a parameter type, found %q", p.peek().text)
		}
		prm := &Param{Type: typ, Ptr: p.stars()}
		nt := p.next()
		if nt.kind != tIdent {
			return nil, p.errorf("expected a parameter name")
		}
		prm.Name = nt.text
		f.Params = append(f.Params, prm)
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

func (p *parser) block() (*Block, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	b := &Block{}
	for !p.is("}") {
		if p.peek().kind == tEOF {
			return nil, p.errorf("unclosed block")
		}
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	p.next()
	return b, nil
}

func (p *parser) stmt() (Stmt, error) {
	switch {
	case p.is("{"):
		return p.block()
	case p.accept(";"):
		return &Empty{}, nil
	case p.is("if"):
		return p.ifStmt()
	case p.is("for"):
		return p.forStmt()
	case p.isTypeStart():
		d, err := p.decl()
		if err != nil {
			return nil, err
		}
		return d, p.expect(";")
	case p.peek().kind == tIdent && p.peekAt(1).text == "<<<":
		return p.launch()
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ExprStmt{X: e}, p.expect(";")
}

func (p *parser) ifStmt() (Stmt, error) {
	p.next()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.stmt()
	if err != nil {
		return nil, err
	}
	s := &If{Cond: cond, Then: then}
	if p.accept("else") {
		if s.Else, err = p.stmt(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) forStmt() (Stmt, error) {
	p.next()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	f := &For{}
	switch {
	case p.is(";"):
	case p.isTypeStart():
		d, err := p.decl()
		if err != nil {
			return nil, err
		}
		f.Init = d
	default:
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		f.Init = &ExprStmt{X: e}
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.is(";") {
		c, err := p.expr()
		if err != nil {
			return nil, err
		}
		f.Cond = c
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.is(")") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		f.Post = e
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.stmt()
	if err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

func (p *parser) decl() (*Decl, error) {
	d := &Decl{Type: p.typeName()}
	for {
		v := &Var{Ptr: p.stars()}
		nt := p.next()
		if nt.kind != tIdent {
			return nil, p.errorf("expected a variable name, found %q", nt.text)
		}
		v.Name = nt.text
		for p.accept("[") {
			dim, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			v.Dims = append(v.Dims, dim)
		}
		if p.accept("=") {
			init, err := p.assign()
			if err != nil {
				return nil, err
			}
			v.Init = init
		}
		d.Vars = append(d.Vars, v)
		if !p.accept(",") {
			return d, nil
		}
	}
}

func (p *parser) launch() (Stmt, error) {
	l := &Launch{Kernel: p.next().text}
	p.next()
	cfg, err := p.argList(">>>")
	if err != nil {
		return nil, err
	}
	if len(cfg) < 2 || len(cfg) > 4 {
		return nil, p.errorf("launch configuration needs two to four values")
	}
	l.Grid, l.Block = cfg[0], cfg[1]
	if len(cfg) == 4 {
		l.Stream = cfg[3]
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	if l.Args, err = p.argList(")"); err != nil {
		return nil, err
	}
	return l, p.expect(";")
}

// argList parses comma separated expressions up to and including closer.
func (p *parser) argList(closer string) ([]Expr, error) {
	var args []Expr
	for !p.accept(closer) {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		a, err := p.assign()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func (p *parser) expr() (Expr, error) {
	return p.assign()
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

func (p *parser) assign() (Expr, error) {
	lhs, err := p.cond()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tOp && assignOps[t.text] {
		p.next()
		rhs, err := p.assign()
		if err != nil {
			return nil, err
		}
		return &Assign{Op: t.text, LHS: lhs, RHS: rhs}, nil
	}
	return lhs, nil
}

func (p *parser) cond() (Expr, error) {
	c, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return c, nil
	}
	t, err := p.assign()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	f, err := p.cond()
	if err != nil {
		return nil, err
	}
	return &Cond{C: c, T: t, F: f}, nil
}

// binaryPrec gives C precedence levels; higher binds tighter.
var binaryPrec = map[string]int{
	"||": 1, "&&": 2, "|": 3, "^": 4, "&": 5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

func (p *parser) binary(minPrec int) (Expr, error) {
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		prec, ok := binaryPrec[t.text]
		if t.kind != tOp || !ok || prec < minPrec {
			return x, nil
		}
		p.next()
		y, err := p.binary(prec + 1)
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: t.text, X: x, Y: y}
	}
}

func (p *parser) unary() (Expr, error) {
	t := p.peek()
	if t.kind == tOp {
		switch t.text {
		case "-", "+", "!", "~", "&", "*", "++", "--":
			p.next()
			x, err := p.unary()
			if err != nil {
				return nil, err
			}
			return &Unary{Op: t.text, X: x}, nil
		case "(":
			if next := p.peekAt(1); next.kind == tIdent && (typeWords[next.text] || qualWords[next.text]) {
				p.next()
				typ := p.typeName()
				typ += strings.Repeat("*", p.stars())
				if err := p.expect(")"); err != nil {
					return nil, err
				}
				x, err := p.unary()
				if err != nil {
					return nil, err
				}
				return &Cast{Type: typ, X: x}, nil
			}
		}
	}
	if t.kind == tIdent && t.text == "sizeof" {
		p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		typ := p.typeName() + strings.Repeat("*", p.stars())
		if typ == "" {
			return nil, p.errorf("sizeof needs a type")
		}
		return &Sizeof{Type: typ}, p.expect(")")
	}
	return p.postfix()
}

func (p *parser) postfix() (Expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("["):
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Index: idx}
		case p.accept("."):
			sel := p.next()
			if sel.kind != tIdent {
				return nil, p.errorf("expected a field name")
			}
			x = &Member{X: x, Sel: sel.text}
		case p.is("++") || p.is("--"):
			x = &Postfix{Op: p.next().text, X: x}
		case p.is("("):
			id, ok := x.(*Ident)
			if !ok {
				return nil, p.errorf("only named functions can be called")
			}
			p.next()
			args, err := p.argList(")")
			if err != nil {
				return nil, err
			}
			x = &Call{Fun: id.Name, Args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tIdent:
		return &Ident{Name: t.text}, nil
	case tInt:
		s := strings.TrimRight(t.text, "uUlL")
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, &Error{Line: t.line, Col: t.col, Msg: fmt.Sprintf("invalid integer %q", t.text)}
		}
		return &IntLit{Val: v}, nil
	case tFloat:
		s := strings.TrimRight(t.text, "fFlL")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &Error{Line: t.line, Col: t.col, Msg: fmt.Sprintf("invalid number %q", t.text)}
		}
		return &FloatLit{Val: v, Text: t.text}, nil
	case tString:
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, &Error{Line: t.line, Col: t.col, Msg: "invalid string literal"}
		}
		return &StringLit{Val: s}, nil
	case tChar:
		r, _, _, err := strconv.UnquoteChar(t.text[1:len(t.text)-1], '\'')
		if err != nil {
			return nil, &Error{Line: t.line, Col: t.col, Msg: "invalid character literal"}
		}
		return &IntLit{Val: int64(r)}, nil
	case tOp:
		if t.text == "(" {
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return &Paren{X: x}, nil
		}
	}
	return nil, &Error{Line: t.line, Col: t.col, Msg: fmt.Sprintf("unexpected %q", t.text)}
}
