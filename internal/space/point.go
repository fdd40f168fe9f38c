package space

import (
	"strings"

	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/zclconf/go-cty/cty"
)

// Point is one total assignment of values to the declared parameters, in
// declaration order.
type Point struct {
	// Seq is the position of the point in enumeration order.
	Seq    int
	Names  []string
	Values []cty.Value
}

// Get returns the value bound to name.
func (p Point) Get(name string) (cty.Value, bool) {
	for i, n := range p.Names {
		if n == name {
			return p.Values[i], true
		}
	}
	return cty.NilVal, false
}

// Len returns the number of bound parameters.
func (p Point) Len() int { return len(p.Names) }

// Map returns the bindings as a map, suitable for an hcl.EvalContext.
func (p Point) Map() map[string]cty.Value {
	m := make(map[string]cty.Value, len(p.Names))
	for i, n := range p.Names {
		m[n] = p.Values[i]
	}
	return m
}

// Merge returns a point holding the bindings of p followed by those of o.
// Bindings of o win on name clashes. The sequence number of p is kept.
func (p Point) Merge(o Point) Point {
	out := Point{Seq: p.Seq}
	for i, n := range p.Names {
		if _, clash := o.Get(n); clash {
			continue
		}
		out.Names = append(out.Names, n)
		out.Values = append(out.Values, p.Values[i])
	}
	out.Names = append(out.Names, o.Names...)
	out.Values = append(out.Values, o.Values...)
	return out
}

// String renders the point as space separated name=value pairs.
func (p Point) String() string {
	parts := make([]string, len(p.Names))
	for i, n := range p.Names {
		parts[i] = n + "=" + directive.FormatCty(p.Values[i])
	}
	return strings.Join(parts, " ")
}
