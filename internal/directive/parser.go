package directive

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

var kindsByKeyword = map[string]Kind{
	"Loop":       KindLoop,
	"PerfTuning": KindPerfTuning,
	"SpMV":       KindSpMV,
}

var stmtKeywords = map[string]StmtKind{
	"param":      StmtParam,
	"arg":        StmtArg,
	"decl":       StmtDecl,
	"let":        StmtLet,
	"constraint": StmtConstraint,
}

type parser struct {
	lex     *lexer
	tok     token
	prevEnd hcl.Pos
	text    string
	base    hcl.Pos
}

// Parse parses the text of one begin marker, for example
// `SpMV(num_rows = m; out_vector = y)`. start is the position of the text
// within its file and anchors every reported range.
func Parse(filename, text string, start hcl.Pos) (*Directive, error) {
	p := &parser{lex: newLexer(filename, text, start), text: text, base: start}
	p.prevEnd = start
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, errorf(p.tok.rng, "expected a directive kind, found %q", p.tok.text)
	}
	kindTok := p.tok
	kind, ok := kindsByKeyword[kindTok.text]
	if !ok {
		return nil, errorf(kindTok.rng, "unknown directive kind %q", kindTok.text)
	}
	if err := checkBalance(filename, text, start, kind != KindLoop); err != nil {
		return nil, err
	}
	p.lex.hashComments = kind != KindLoop
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}

	var d *Directive
	var err error
	switch kind {
	case KindLoop:
		d, err = p.parseLoop()
	case KindSpMV:
		d, err = p.parseSpMV()
	case KindPerfTuning:
		d, err = p.parsePerfTuning()
	}
	if err != nil {
		return nil, err
	}
	d.Range = hcl.Range{Filename: filename, Start: start, End: p.lex.pos}
	return d, nil
}

func (p *parser) advance() error {
	p.prevEnd = p.tok.rng.End
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) isPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) isIdent(s string) bool {
	return p.tok.kind == tokIdent && p.tok.text == s
}

func (p *parser) expectPunct(s string) (token, error) {
	if !p.isPunct(s) {
		return token{}, errorf(p.tok.rng, "expected %q, found %s", s, describe(p.tok))
	}
	tok := p.tok
	return tok, p.advance()
}

func (p *parser) expectIdent() (token, error) {
	if p.tok.kind != tokIdent {
		return token{}, errorf(p.tok.rng, "expected a name, found %s", describe(p.tok))
	}
	tok := p.tok
	return tok, p.advance()
}

func (p *parser) skipSeparator() error {
	if p.isPunct(";") || p.isPunct(",") {
		return p.advance()
	}
	return nil
}

func (p *parser) expectEnd() error {
	if p.tok.kind != tokEOF {
		return errorf(p.tok.rng, "unexpected %s after directive", describe(p.tok))
	}
	return nil
}

// slice returns the directive text between two absolute positions.
func (p *parser) slice(from, to hcl.Pos) string {
	return p.text[from.Byte-p.base.Byte : to.Byte-p.base.Byte]
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of directive"
	case tokString:
		return "string " + FormatCty(cty.StringVal(t.text))
	}
	return "\"" + t.text + "\""
}

func (p *parser) parseLoop() (*Directive, error) {
	d := &Directive{Kind: KindLoop, Options: NewOptions()}

	trimmed := strings.TrimRight(p.text, " \t\r\n")
	if !strings.HasSuffix(trimmed, ")") {
		return nil, errorf(p.tok.rng, "Loop directive must end with ')'")
	}
	closeOff := len(trimmed) - 1

	for p.isIdent("transform") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		call, err := p.parseCall(name)
		if err != nil {
			return nil, err
		}
		d.Transforms = append(d.Transforms, call)
		d.Options.Set(call.Name, call)
	}
	if len(d.Transforms) == 0 {
		return nil, errorf(p.tok.rng, "Loop directive declares no transform")
	}

	codeFrom := p.prevEnd.Byte - p.base.Byte
	if codeFrom > closeOff {
		codeFrom = closeOff
	}
	d.Code = p.text[codeFrom:closeOff]
	d.CodeStart = p.prevEnd

	if len(d.Transforms) > 1 || strings.EqualFold(d.Transforms[0].Name, "Composite") {
		d.Kind = KindComposite
	}
	p.lex.advance(len(p.text) - p.lex.off)
	return d, nil
}

func (p *parser) parseSpMV() (*Directive, error) {
	d := &Directive{Kind: KindSpMV, Options: NewOptions()}
	for !p.isPunct(")") {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct("="); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		d.Options.Set(key.text, v)
		if err := p.skipSeparator(); err != nil {
			return nil, err
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return d, p.expectEnd()
}

func (p *parser) parsePerfTuning() (*Directive, error) {
	d := &Directive{Kind: KindPerfTuning, Options: NewOptions()}
	for !p.isPunct(")") {
		switch {
		case p.isIdent("def"):
			s, err := p.parseSection()
			if err != nil {
				return nil, err
			}
			d.Sections = append(d.Sections, s)
		case p.isIdent("let"):
			st, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			d.Options.Set(st.Name, st.Value)
		default:
			return nil, errorf(p.tok.rng, "expected 'def' or 'let', found %s", describe(p.tok))
		}
		if err := p.skipSeparator(); err != nil {
			return nil, err
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return d, p.expectEnd()
}

func (p *parser) parseSection() (*Section, error) {
	start := p.tok.rng.Start
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	s := &Section{Name: name.text}
	for !p.isPunct("}") {
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		s.Stmts = append(s.Stmts, st)
	}
	end := p.tok.rng.End
	if err := p.advance(); err != nil {
		return nil, err
	}
	s.Range = hcl.Range{Filename: name.rng.Filename, Start: start, End: end}
	return s, nil
}

func (p *parser) parseStmt() (*Stmt, error) {
	kwTok := p.tok
	kind, ok := stmtKeywords[kwTok.text]
	if kwTok.kind != tokIdent || !ok {
		return nil, errorf(kwTok.rng, "unknown statement %s", describe(kwTok))
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	st := &Stmt{Kind: kind}

	if kind == StmtDecl {
		if err := p.parseDecl(st); err != nil {
			return nil, err
		}
	} else {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		st.Name = name.text
		if kind == StmtParam && p.isPunct("[") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			st.Domain = true
		}
		if _, err := p.expectPunct("="); err != nil {
			return nil, err
		}
		if kind == StmtConstraint {
			if err := p.parseRawExpr(st); err != nil {
				return nil, err
			}
		} else {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			st.Value = v
		}
	}

	st.Range = hcl.Range{Filename: kwTok.rng.Filename, Start: kwTok.rng.Start, End: p.prevEnd}
	return st, p.skipSeparator()
}

// parseRawExpr captures a constraint expression verbatim up to the next
// separator or statement keyword at nesting depth zero.
func (p *parser) parseRawExpr(st *Stmt) error {
	start := p.tok.rng.Start
	depth := 0
	for {
		switch {
		case p.tok.kind == tokEOF:
			return errorf(p.tok.rng, "unterminated constraint expression")
		case p.tok.kind == tokPunct && (p.tok.text == "(" || p.tok.text == "["):
			depth++
		case p.tok.kind == tokPunct && (p.tok.text == ")" || p.tok.text == "]"):
			depth--
		}
		if depth == 0 {
			if p.isPunct(";") || p.isPunct("}") {
				break
			}
			if _, kw := stmtKeywords[p.tok.text]; kw && p.tok.kind == tokIdent {
				break
			}
		}
		if depth < 0 {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.prevEnd.Byte <= start.Byte {
		return errorf(p.tok.rng, "empty constraint expression")
	}
	st.Expr = strings.TrimSpace(p.slice(start, p.prevEnd))
	st.ExprRange = hcl.Range{Filename: p.tok.rng.Filename, Start: start, End: p.prevEnd}
	return nil
}

func (p *parser) parseDecl(st *Stmt) error {
	var words []token
	for p.tok.kind == tokIdent {
		words = append(words, p.tok)
		if err := p.advance(); err != nil {
			return err
		}
	}
	if len(words) > 0 && (words[0].text == "static" || words[0].text == "dynamic") {
		st.Decl = &Decl{Storage: words[0].text}
		words = words[1:]
	} else {
		st.Decl = &Decl{}
	}
	if len(words) < 2 {
		return errorf(p.tok.rng, "decl needs a type and a name")
	}
	name := words[len(words)-1]
	st.Name = name.text
	types := make([]string, 0, len(words)-1)
	for _, w := range words[:len(words)-1] {
		types = append(types, w.text)
	}
	st.Decl.Type = strings.Join(types, " ")

	for p.isPunct("[") {
		open := p.tok
		if err := p.advance(); err != nil {
			return err
		}
		start := p.tok.rng.Start
		depth := 0
		for !(depth == 0 && p.isPunct("]")) {
			if p.tok.kind == tokEOF {
				return errorf(open.rng, "unclosed '['")
			}
			if p.isPunct("[") {
				depth++
			} else if p.isPunct("]") {
				depth--
			}
			if err := p.advance(); err != nil {
				return err
			}
		}
		if p.prevEnd.Byte <= start.Byte {
			return errorf(open.rng, "empty array dimension for %q", st.Name)
		}
		dim := strings.TrimSpace(p.slice(start, p.prevEnd))
		st.Decl.Dims = append(st.Decl.Dims, dim)
		if err := p.advance(); err != nil {
			return err
		}
	}

	if p.isPunct("=") {
		if err := p.advance(); err != nil {
			return err
		}
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		st.Value = v
	}
	return nil
}

func (p *parser) parseValue() (Value, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		n, err := cty.ParseNumberVal(tok.text)
		if err != nil {
			return nil, errorf(tok.rng, "invalid number %q", tok.text)
		}
		return &Scalar{Val: n, Rng: tok.rng}, p.advance()
	case tokString:
		return &Scalar{Val: cty.StringVal(tok.text), Rng: tok.rng}, p.advance()
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch tok.text {
		case "True":
			return &Scalar{Val: cty.True, Rng: tok.rng}, nil
		case "False":
			return &Scalar{Val: cty.False, Rng: tok.rng}, nil
		}
		if p.isPunct("(") {
			call, err := p.parseCall(tok)
			if err != nil {
				return nil, err
			}
			if call.Name == "range" {
				return rangeFromCall(call)
			}
			return call, nil
		}
		return &Identifier{Name: tok.text, Rng: tok.rng}, nil
	case tokPunct:
		switch tok.text {
		case "[":
			return p.parseList("]")
		case "(":
			return p.parseList(")")
		case "-":
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokNumber {
				return nil, errorf(tok.rng, "expected a number after '-'")
			}
			n, err := cty.ParseNumberVal(p.tok.text)
			if err != nil {
				return nil, errorf(p.tok.rng, "invalid number %q", p.tok.text)
			}
			rng := hcl.RangeBetween(tok.rng, p.tok.rng)
			return &Scalar{Val: n.Negate(), Rng: rng}, p.advance()
		}
	}
	return nil, errorf(tok.rng, "cannot classify %s as a value", describe(tok))
}

func (p *parser) parseList(closer string) (Value, error) {
	open := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	list := &List{Tuple: closer == ")"}
	sawComma := false
	for !p.isPunct(closer) {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, v)
		if p.isPunct(",") {
			sawComma = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if !p.isPunct(closer) {
			return nil, errorf(p.tok.rng, "expected ',' or %q, found %s", closer, describe(p.tok))
		}
	}
	list.Rng = hcl.RangeBetween(open.rng, p.tok.rng)
	if err := p.advance(); err != nil {
		return nil, err
	}
	if list.Tuple && len(list.Elems) == 1 && !sawComma {
		return list.Elems[0], nil
	}
	return list, nil
}

// parseCall parses an argument list following an already consumed name.
func (p *parser) parseCall(name token) (*Call, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	call := &Call{Name: name.text}
	for !p.isPunct(")") {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arg := &Arg{Value: v}
		if id, ok := v.(*Identifier); ok && p.isPunct("=") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			val, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			arg = &Arg{Name: id.Name, Value: val}
		}
		call.Args = append(call.Args, arg)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if !p.isPunct(")") {
			return nil, errorf(p.tok.rng, "expected ',' or ')', found %s", describe(p.tok))
		}
	}
	call.Rng = hcl.RangeBetween(name.rng, p.tok.rng)
	return call, p.advance()
}

func rangeFromCall(call *Call) (Value, error) {
	args := call.Positional()
	if len(args) != len(call.Args) || len(args) == 0 || len(args) > 3 {
		return nil, errorf(call.Rng, "range takes one to three positional arguments")
	}
	r := &Range{Rng: call.Rng}
	switch len(args) {
	case 1:
		r.Lo = &Scalar{Val: cty.Zero, Rng: call.Rng}
		r.Hi = args[0]
	case 2:
		r.Lo, r.Hi = args[0], args[1]
	case 3:
		r.Lo, r.Hi, r.Step = args[0], args[1], args[2]
	}
	return r, nil
}
