package directive

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string // unquoted for strings
	rng  hcl.Range
}

// lexer tokenizes directive text. Positions are absolute within the file,
// starting from the position handed to newLexer.
type lexer struct {
	src          string
	off          int
	pos          hcl.Pos
	filename     string
	hashComments bool
}

func newLexer(filename, src string, start hcl.Pos) *lexer {
	return &lexer{src: src, pos: start, filename: filename, hashComments: true}
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.pos.Line++
			l.pos.Column = 1
		} else {
			l.pos.Column++
		}
		l.pos.Byte++
		l.off++
	}
}

func (l *lexer) rangeFrom(start hcl.Pos) hcl.Range {
	return hcl.Range{Filename: l.filename, Start: start, End: l.pos}
}

func (l *lexer) skipSpace() {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			l.advance(1)
		case c == '#' && l.hashComments:
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance(1)
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.off >= len(l.src) {
		return token{kind: tokEOF, rng: l.rangeFrom(start)}, nil
	}
	c := l.src[l.off]
	switch {
	case isIdentStart(c):
		begin := l.off
		for l.off < len(l.src) && isIdentPart(l.src[l.off]) {
			l.advance(1)
		}
		return token{kind: tokIdent, text: l.src[begin:l.off], rng: l.rangeFrom(start)}, nil
	case isDigit(c) || (c == '.' && l.off+1 < len(l.src) && isDigit(l.src[l.off+1])):
		begin := l.off
		l.scanNumber()
		return token{kind: tokNumber, text: l.src[begin:l.off], rng: l.rangeFrom(start)}, nil
	case c == '\'' || c == '"':
		s, err := l.scanString(c)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, rng: l.rangeFrom(start)}, nil
	}
	l.advance(1)
	return token{kind: tokPunct, text: string(c), rng: l.rangeFrom(start)}, nil
}

func (l *lexer) scanNumber() {
	for l.off < len(l.src) && isDigit(l.src[l.off]) {
		l.advance(1)
	}
	if l.off < len(l.src) && l.src[l.off] == '.' {
		l.advance(1)
		for l.off < len(l.src) && isDigit(l.src[l.off]) {
			l.advance(1)
		}
	}
	if l.off < len(l.src) && (l.src[l.off] == 'e' || l.src[l.off] == 'E') {
		save, savePos := l.off, l.pos
		l.advance(1)
		if l.off < len(l.src) && (l.src[l.off] == '+' || l.src[l.off] == '-') {
			l.advance(1)
		}
		if l.off >= len(l.src) || !isDigit(l.src[l.off]) {
			l.off, l.pos = save, savePos
			return
		}
		for l.off < len(l.src) && isDigit(l.src[l.off]) {
			l.advance(1)
		}
	}
}

func (l *lexer) scanString(quote byte) (string, error) {
	start := l.pos
	l.advance(1)
	var b strings.Builder
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch c {
		case quote:
			l.advance(1)
			return b.String(), nil
		case '\\':
			if l.off+1 < len(l.src) {
				switch e := l.src[l.off+1]; e {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(e)
				}
				l.advance(2)
				continue
			}
		case '\n':
			return "", errorf(l.rangeFrom(start), "unterminated string literal")
		}
		b.WriteByte(c)
		l.advance(1)
	}
	return "", errorf(l.rangeFrom(start), "unterminated string literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// checkBalance verifies that (), [] and {} are balanced outside string
// literals and reports the first offending delimiter.
func checkBalance(filename, src string, start hcl.Pos, hashComments bool) error {
	l := newLexer(filename, src, start)
	l.hashComments = hashComments
	type open struct {
		c   byte
		rng hcl.Range
	}
	var stack []open
	closers := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for {
		tok, err := l.next()
		if err != nil {
			return err
		}
		if tok.kind == tokEOF {
			break
		}
		if tok.kind != tokPunct {
			continue
		}
		c := tok.text[0]
		switch c {
		case '(', '[', '{':
			stack = append(stack, open{c: c, rng: tok.rng})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].c != closers[c] {
				return errorf(tok.rng, "unbalanced %q", c)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return errorf(top.rng, "unclosed %q", top.c)
	}
	return nil
}
