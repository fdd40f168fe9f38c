package directive

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Value is one parsed option value. It is one of *Scalar, *Identifier,
// *List, *Range or *Call.
type Value interface {
	// SrcRange returns the location of the value in the source file.
	SrcRange() hcl.Range
	// String renders the value back in directive syntax.
	String() string

	isValue()
}

// Scalar is a literal number, string or boolean. The literal is held as a
// cty.Number, cty.String or cty.Bool.
type Scalar struct {
	Val cty.Value
	Rng hcl.Range
}

// Identifier is a bare name, resolved later against a search point or a
// let binding.
type Identifier struct {
	Name string
	Rng  hcl.Range
}

// List is a bracketed or parenthesised sequence of values. Tuple records
// the parenthesised form.
type List struct {
	Elems []Value
	Tuple bool
	Rng   hcl.Range
}

// Range is a range(lo, hi, step) call. The upper bound is exclusive. Step
// is nil when the call omits it.
type Range struct {
	Lo, Hi, Step Value
	Rng          hcl.Range
}

// Call is a call-like expression such as product(...), map(join, ...) or a
// transform invocation.
type Call struct {
	Name string
	Args []*Arg
	Rng  hcl.Range
}

// Arg is one call argument. Name is empty for positional arguments.
type Arg struct {
	Name  string
	Value Value
}

func (*Scalar) isValue()     {}
func (*Identifier) isValue() {}
func (*List) isValue()       {}
func (*Range) isValue()      {}
func (*Call) isValue()       {}

func (v *Scalar) SrcRange() hcl.Range     { return v.Rng }
func (v *Identifier) SrcRange() hcl.Range { return v.Rng }
func (v *List) SrcRange() hcl.Range       { return v.Rng }
func (v *Range) SrcRange() hcl.Range      { return v.Rng }
func (v *Call) SrcRange() hcl.Range       { return v.Rng }

func (v *Scalar) String() string { return FormatCty(v.Val) }

func (v *Identifier) String() string { return v.Name }

func (v *List) String() string {
	parts := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		parts[i] = e.String()
	}
	if v.Tuple {
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *Range) String() string {
	s := "range(" + v.Lo.String() + ", " + v.Hi.String()
	if v.Step != nil {
		s += ", " + v.Step.String()
	}
	return s + ")"
}

func (v *Call) String() string {
	parts := make([]string, len(v.Args))
	for i, a := range v.Args {
		if a.Name != "" {
			parts[i] = a.Name + "=" + a.Value.String()
		} else {
			parts[i] = a.Value.String()
		}
	}
	return v.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Positional returns the unnamed arguments of the call in order.
func (v *Call) Positional() []Value {
	var out []Value
	for _, a := range v.Args {
		if a.Name == "" {
			out = append(out, a.Value)
		}
	}
	return out
}

// Named returns the value of the named argument, matched case-insensitively.
func (v *Call) Named(name string) (Value, bool) {
	for _, a := range v.Args {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return nil, false
}

// FormatCty renders a primitive or collection cty value in directive
// syntax. Whole numbers print without a fractional part.
func FormatCty(v cty.Value) string {
	if v.IsNull() {
		return "None"
	}
	if !v.IsKnown() {
		return "?"
	}
	ty := v.Type()
	switch {
	case ty == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case ty == cty.String:
		return "'" + strings.ReplaceAll(v.AsString(), "'", `\'`) + "'"
	case ty == cty.Bool:
		if v.True() {
			return "True"
		}
		return "False"
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var parts []string
		it := v.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			parts = append(parts, FormatCty(ev))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.GoString()
}
