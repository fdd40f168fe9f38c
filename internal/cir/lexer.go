package cir

import (
	"fmt"
	"strings"
)

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tInt
	tFloat
	tString
	tChar
	tOp
)

type tok struct {
	kind tokKind
	text string
	line int
	col  int
}

// Error is a C-subset syntax error with a 1-based line and column relative
// to the parsed fragment.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// Operators ordered longest first so the scanner is greedy.
var operators = []string{
	"<<<", ">>>", "<<=", ">>=",
	"++", "--", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"==", "!=", "<=", ">=", "&&", "||", "<<", ">>", "->",
	"+", "-", "*", "/", "%", "=", "<", ">", "!", "~", "&", "|", "^",
	"(", ")", "[", "]", "{", "}", ",", ";", ".", "?", ":",
}

func tokenize(src string) ([]tok, error) {
	var toks []tok
	line, col := 1, 1
	i := 0
	adv := func(n int) {
		for k := 0; k < n; k++ {
			if src[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			adv(1)
			continue
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				adv(1)
			}
			continue
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &Error{Line: line, Col: col, Msg: "unterminated comment"}
			}
			adv(end + 4)
			continue
		case c == '#' && col == 1:
			for i < len(src) && src[i] != '\n' {
				adv(1)
			}
			continue
		}

		t := tok{line: line, col: col}
		start := i
		switch {
		case isLetter(c):
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i])) {
				adv(1)
			}
			t.kind = tIdent
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			t.kind = tInt
			for i < len(src) && (isDigit(src[i]) || isLetter(src[i]) || src[i] == '.' ||
				((src[i] == '+' || src[i] == '-') && (src[i-1] == 'e' || src[i-1] == 'E') && !isHex(src[start:i]))) {
				if src[i] == '.' || ((src[i] == 'e' || src[i] == 'E') && !isHex(src[start:i])) {
					t.kind = tFloat
				}
				adv(1)
			}
		case c == '"' || c == '\'':
			adv(1)
			for i < len(src) && src[i] != c {
				if src[i] == '\\' {
					adv(1)
				}
				if i < len(src) && src[i] == '\n' {
					return nil, &Error{Line: t.line, Col: t.col, Msg: "unterminated literal"}
				}
				if i < len(src) {
					adv(1)
				}
			}
			if i >= len(src) {
				return nil, &Error{Line: t.line, Col: t.col, Msg: "unterminated literal"}
			}
			adv(1)
			t.kind = tString
			if c == '\'' {
				t.kind = tChar
			}
		default:
			matched := ""
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					matched = op
					break
				}
			}
			if matched == "" {
				return nil, &Error{Line: line, Col: col, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			adv(len(matched))
			t.kind = tOp
		}
		t.text = src[start:i]
		toks = append(toks, t)
	}
	toks = append(toks, tok{kind: tEOF, line: line, col: col})
	return toks, nil
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}
