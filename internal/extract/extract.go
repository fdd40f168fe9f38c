package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/directive"
)

// Span is a half-open byte range [Begin, End) of a source file.
type Span struct {
	Begin, End int
}

// Len returns the number of bytes in the span.
func (s Span) Len() int { return s.End - s.Begin }

// Contains reports whether o lies within s.
func (s Span) Contains(o Span) bool { return s.Begin <= o.Begin && o.End <= s.End }

// Region is one matched begin/end block.
type Region struct {
	// ID numbers regions in the order their begin markers appear.
	ID        int
	Directive *directive.Directive

	// Span covers the begin marker through the end of the end marker.
	Span Span
	// Body covers the reference code between the markers.
	Body      Span
	Reference string

	// Indent is the whitespace preceding the begin marker on its line.
	Indent string

	// Range locates the begin marker.
	Range hcl.Range

	Parent   *Region
	Children []*Region
}

// Tree holds the regions of one source file.
type Tree struct {
	Filename string
	Src      []byte
	Roots    []*Region
	all      []*Region
}

// Extract matches the directive markers of src. An end marker without a
// begin, or a begin marker left open, is a *directive.ParseError.
func Extract(ctx context.Context, filename string, src []byte) (*Tree, error) {
	logger := ctxlog.FromContext(ctx)
	markers, err := directive.Scan(filename, src)
	if err != nil {
		return nil, err
	}
	logger.Debug("Extract: Markers scanned.", "file", filename, "marker_count", len(markers))

	t := &Tree{Filename: filename, Src: src}
	var stack []*Region
	for _, m := range markers {
		switch m.Kind {
		case directive.MarkerBegin:
			r := &Region{
				ID:        len(t.all),
				Directive: m.Directive,
				Span:      Span{Begin: m.Start},
				Body:      Span{Begin: m.End},
				Indent:    indentAt(src, m.Start),
				Range:     m.Range,
			}
			if n := len(stack); n > 0 {
				r.Parent = stack[n-1]
				r.Parent.Children = append(r.Parent.Children, r)
			} else {
				t.Roots = append(t.Roots, r)
			}
			t.all = append(t.all, r)
			stack = append(stack, r)
		case directive.MarkerEnd:
			n := len(stack)
			if n == 0 {
				return nil, &directive.ParseError{Range: m.Range, Msg: "end marker without a matching begin marker"}
			}
			r := stack[n-1]
			stack = stack[:n-1]
			r.Body.End = m.Start
			r.Span.End = m.End
			r.Reference = string(src[r.Body.Begin:r.Body.End])
			logger.Debug("Extract: Region matched.", "region", r.ID, "kind", r.Directive.Kind, "depth", n-1)
		}
	}
	if n := len(stack); n > 0 {
		open := stack[n-1]
		return nil, &directive.ParseError{Range: open.Range, Msg: "begin marker without a matching end marker"}
	}
	return t, nil
}

// Regions returns every region, children before their parents and siblings
// in source order.
func (t *Tree) Regions() []*Region {
	out := make([]*Region, 0, len(t.all))
	var visit func(r *Region)
	visit = func(r *Region) {
		for _, c := range r.Children {
			visit(c)
		}
		out = append(out, r)
	}
	for _, r := range t.Roots {
		visit(r)
	}
	return out
}

// Find returns the regions whose directive has the given kind, in source
// order.
func (t *Tree) Find(kinds ...directive.Kind) []*Region {
	var out []*Region
	for _, r := range t.all {
		for _, k := range kinds {
			if r.Directive.Kind == k {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Enclosing returns the nearest PerfTuning ancestor of r, or nil.
func (r *Region) Enclosing() *Region {
	for p := r.Parent; p != nil; p = p.Parent {
		if p.Directive.Kind == directive.KindPerfTuning {
			return p
		}
	}
	return nil
}

func (r *Region) String() string {
	return fmt.Sprintf("%s region %d at %s", r.Directive.Kind, r.ID, r.Range)
}

func indentAt(src []byte, off int) string {
	lineStart := off
	for lineStart > 0 && src[lineStart-1] != '\n' {
		lineStart--
	}
	prefix := string(src[lineStart:off])
	if strings.TrimLeft(prefix, " \t") != "" {
		// marker follows code on the same line
		return prefix[:len(prefix)-len(strings.TrimLeft(prefix, " \t"))]
	}
	return prefix
}
