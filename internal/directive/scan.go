package directive

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
)

const (
	openDelim  = "/*@"
	closeDelim = "@*/"
)

// MarkerKind distinguishes begin and end markers.
type MarkerKind int

const (
	MarkerBegin MarkerKind = iota
	MarkerEnd
)

// Marker is one directive comment found in a source file.
type Marker struct {
	Kind MarkerKind

	// Start and End are the byte offsets of the whole comment, delimiters
	// included.
	Start, End int
	Range      hcl.Range

	// Directive is set for begin markers.
	Directive *Directive
}

// posTracker converts increasing byte offsets into hcl positions.
type posTracker struct {
	src string
	pos hcl.Pos
}

func (t *posTracker) at(off int) hcl.Pos {
	for t.pos.Byte < off && t.pos.Byte < len(t.src) {
		if t.src[t.pos.Byte] == '\n' {
			t.pos.Line++
			t.pos.Column = 1
		} else {
			t.pos.Column++
		}
		t.pos.Byte++
	}
	return t.pos
}

// Scan finds every directive comment in src and parses the begin markers.
// Markers are returned in source order.
func Scan(filename string, src []byte) ([]*Marker, error) {
	text := string(src)
	tr := &posTracker{src: text, pos: hcl.InitialPos}
	var markers []*Marker

	off := 0
	for {
		idx := strings.Index(text[off:], openDelim)
		if idx < 0 {
			break
		}
		start := off + idx
		startPos := tr.at(start)
		closeIdx := strings.Index(text[start+len(openDelim):], closeDelim)
		if closeIdx < 0 {
			rng := hcl.Range{Filename: filename, Start: startPos, End: tr.at(start + len(openDelim))}
			return nil, errorf(rng, "unterminated directive comment")
		}
		bodyStart := start + len(openDelim)
		end := bodyStart + closeIdx + len(closeDelim)
		body := text[bodyStart : bodyStart+closeIdx]

		m := &Marker{Start: start, End: end}
		trimmed := strings.TrimLeft(body, " \t\r\n")
		lead := len(body) - len(trimmed)
		word, rest := splitWord(trimmed)

		switch word {
		case "begin":
			textOff := bodyStart + lead + len(word)
			d, err := Parse(filename, rest, tr.at(textOff))
			if err != nil {
				return nil, err
			}
			m.Kind = MarkerBegin
			m.Directive = d
		case "end":
			if strings.TrimSpace(rest) != "" {
				rng := hcl.Range{Filename: filename, Start: startPos, End: tr.at(end)}
				return nil, errorf(rng, "unexpected text after end marker")
			}
			m.Kind = MarkerEnd
		default:
			rng := hcl.Range{Filename: filename, Start: tr.at(start), End: tr.at(end)}
			return nil, errorf(rng, "directive comment must start with 'begin' or 'end'")
		}
		m.Range = hcl.Range{Filename: filename, Start: startPos, End: tr.at(end)}
		markers = append(markers, m)
		off = end
	}
	return markers, nil
}

func splitWord(s string) (string, string) {
	i := 0
	for i < len(s) && isIdentPart(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
