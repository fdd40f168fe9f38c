package synth

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/extract"
)

// Choice is the code selected for one transform region.
type Choice struct {
	// Host replaces the region.
	Host string
	// Kernels are file-scope definitions Host depends on.
	Kernels []string
}

// Chooser returns the code of a transform region. A nil Choice keeps the
// region as it is written, markers included.
type Chooser func(r *extract.Region) (*Choice, error)

// Splice replaces span of src by text. Every line of text after the first
// is prefixed with indent, the first continuing the line the span starts
// on.
func Splice(src []byte, span extract.Span, text, indent string) ([]byte, error) {
	if span.Begin < 0 || span.End > len(src) || span.Begin > span.End {
		return nil, fmt.Errorf("span [%d, %d) is outside the %d byte source", span.Begin, span.End, len(src))
	}
	out := make([]byte, 0, len(src)-span.Len()+len(text))
	out = append(out, src[:span.Begin]...)
	out = append(out, Reindent(text, indent)...)
	return append(out, src[span.End:]...), nil
}

// Reindent prefixes every non-empty line of text but the first with
// indent.
func Reindent(text, indent string) string {
	if indent == "" || !strings.Contains(text, "\n") {
		return text
	}
	lines := strings.Split(text, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = indent + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// Render renders every region of tree. The kernels of all choices, in
// region order and without duplicates, form a prelude set off by blank
// lines. The prelude follows the last file-scope preprocessor line or
// typedef before the first region, so kernels see the file's macros and
// types.
func Render(tree *extract.Tree, choose Chooser) ([]byte, error) {
	r := renderer{src: tree.Src, choose: choose}
	body, err := r.span(extract.Span{Begin: 0, End: len(tree.Src)}, tree.Roots)
	if err != nil {
		return nil, err
	}
	if len(r.kernels) == 0 {
		return body, nil
	}
	kernels := make([]string, len(r.kernels))
	for i, k := range r.kernels {
		kernels[i] = strings.TrimRight(k, "\n")
	}
	prelude := strings.Join(kernels, "\n\n")

	limit := len(tree.Src)
	if len(tree.Roots) > 0 {
		limit = tree.Roots[0].Span.Begin
	}
	at := preludeOffset(tree.Src, limit)
	if at == 0 {
		return Splice(body, extract.Span{}, prelude+"\n\n", "")
	}
	text := "\n" + prelude + "\n"
	if !bytes.HasPrefix(body[at:], []byte("\n")) {
		text += "\n"
	}
	return Splice(body, extract.Span{Begin: at, End: at}, text, "")
}

// Body renders the code of region reg with its nested regions rendered,
// and returns it with the kernels the nested choices depend on.
func Body(src []byte, reg *extract.Region, choose Chooser) (string, []string, error) {
	r := renderer{src: src, choose: choose}
	body, err := r.span(reg.Body, reg.Children)
	if err != nil {
		return "", nil, err
	}
	return string(body), r.kernels, nil
}

type renderer struct {
	src     []byte
	choose  Chooser
	kernels []string
}

// span copies within, rendering the given regions it contains.
func (r *renderer) span(within extract.Span, regions []*extract.Region) ([]byte, error) {
	type edit struct {
		span   extract.Span
		text   string
		indent string
	}
	// regions are rendered in order so the kernel prelude is stable
	edits := make([]edit, len(regions))
	for i, reg := range regions {
		text, indent, err := r.region(reg)
		if err != nil {
			return nil, err
		}
		edits[i] = edit{
			span:   extract.Span{Begin: reg.Span.Begin - within.Begin, End: reg.Span.End - within.Begin},
			text:   text,
			indent: indent,
		}
	}
	out := bytes.Clone(r.src[within.Begin:within.End])
	for i := len(edits) - 1; i >= 0; i-- {
		var err error
		if out, err = Splice(out, edits[i].span, edits[i].text, edits[i].indent); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// region returns the text replacing reg and the indent of its lines after
// the first.
func (r *renderer) region(reg *extract.Region) (string, string, error) {
	if reg.Directive.Kind == directive.KindPerfTuning {
		body, err := r.span(reg.Body, reg.Children)
		if err != nil {
			return "", "", err
		}
		return strings.TrimSpace(string(body)), "", nil
	}
	c, err := r.choose(reg)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", reg, err)
	}
	if c == nil {
		return string(r.src[reg.Span.Begin:reg.Span.End]), "", nil
	}
	for _, k := range c.Kernels {
		if !slices.Contains(r.kernels, k) {
			r.kernels = append(r.kernels, k)
		}
	}
	return strings.TrimRight(c.Host, "\n"), reg.Indent, nil
}

// preludeOffset returns the offset just past the last file-scope
// preprocessor line or typedef before limit, or 0 when there is none.
func preludeOffset(src []byte, limit int) int {
	at, depth := 0, 0
	lineStart := true
	for i := 0; i < limit; {
		c := src[i]
		if lineStart && depth == 0 {
			switch {
			case c == ' ' || c == '\t' || c == '\r':
				i++
				continue
			case c == '#':
				i = lineEnd(src, i, limit)
				at = i
				continue
			case hasKeyword(src[i:limit], "typedef"):
				end := statementEnd(src, i, limit)
				if end < 0 {
					return at
				}
				i = lineEnd(src, end, limit)
				at = i
				continue
			}
		}
		lineStart = false
		switch {
		case c == '\n':
			lineStart = true
			i++
		case c == '{':
			depth++
			i++
		case c == '}':
			depth = max(depth-1, 0)
			i++
		case c == '/' && i+1 < limit && (src[i+1] == '*' || src[i+1] == '/'):
			i = skipComment(src, i, limit)
		case c == '"' || c == '\'':
			i = skipQuoted(src, i, limit)
		default:
			i++
		}
	}
	return at
}

// lineEnd returns the offset after the line containing i, following
// backslash continuations.
func lineEnd(src []byte, i, limit int) int {
	for i < limit {
		j := bytes.IndexByte(src[i:limit], '\n')
		if j < 0 {
			return limit
		}
		i += j + 1
		if k := i - 2; k < 0 || src[k] != '\\' {
			return i
		}
	}
	return limit
}

// statementEnd returns the offset after the ';' ending the statement that
// starts at i, or -1 when it does not end before limit.
func statementEnd(src []byte, i, limit int) int {
	depth := 0
	for i < limit {
		switch c := src[i]; {
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ';' && depth == 0:
			return i + 1
		case c == '/' && i+1 < limit && (src[i+1] == '*' || src[i+1] == '/'):
			i = skipComment(src, i, limit)
			continue
		case c == '"' || c == '\'':
			i = skipQuoted(src, i, limit)
			continue
		}
		i++
	}
	return -1
}

// skipComment returns the offset after the comment starting at i. A line
// comment ends before its newline.
func skipComment(src []byte, i, limit int) int {
	if src[i+1] == '/' {
		if j := bytes.IndexByte(src[i:limit], '\n'); j >= 0 {
			return i + j
		}
		return limit
	}
	if j := bytes.Index(src[i+2:limit], []byte("*/")); j >= 0 {
		return i + 2 + j + 2
	}
	return limit
}

// skipQuoted returns the offset after the string or character literal
// starting at i.
func skipQuoted(src []byte, i, limit int) int {
	quote := src[i]
	for i++; i < limit; i++ {
		switch src[i] {
		case '\\':
			i++
		case quote, '\n':
			return i + 1
		}
	}
	return limit
}

func hasKeyword(s []byte, word string) bool {
	if !bytes.HasPrefix(s, []byte(word)) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	c := s[len(word)]
	return c != '_' && !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') && !('0' <= c && c <= '9')
}
