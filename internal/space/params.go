package space

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/zclconf/go-cty/cty"
)

// Param is a parameter with its finite, non-empty domain.
type Param struct {
	Name   string
	Domain []cty.Value
	Range  hcl.Range
}

// Params evaluates the param statements of a section in declaration order.
// `param X[] = seq` takes the elements of seq as its domain, `param X = v`
// the single value v. lets supplies identifier bindings and is extended by
// let statements of the section.
func Params(s *directive.Section, lets map[string]cty.Value) ([]Param, error) {
	if s == nil {
		return nil, nil
	}
	vars := make(map[string]cty.Value, len(lets))
	for k, v := range lets {
		vars[k] = v
	}
	var params []Param
	seen := make(map[string]bool)
	for _, st := range s.Stmts {
		switch st.Kind {
		case directive.StmtLet:
			v, err := Eval(st.Value, vars)
			if err != nil {
				return nil, err
			}
			vars[st.Name] = v
		case directive.StmtParam:
			if seen[st.Name] {
				return nil, fmt.Errorf("%s: parameter %q declared twice", st.Range, st.Name)
			}
			seen[st.Name] = true
			v, err := Eval(st.Value, vars)
			if err != nil {
				return nil, err
			}
			domain := []cty.Value{v}
			if st.Domain {
				if domain, err = elements(v); err != nil {
					return nil, fmt.Errorf("%s: domain of %s: %w", st.Range, st.Name, err)
				}
			}
			if len(domain) == 0 {
				return nil, fmt.Errorf("%s: parameter %q has an empty domain", st.Range, st.Name)
			}
			params = append(params, Param{Name: st.Name, Domain: domain, Range: st.Range})
		}
	}
	return params, nil
}

// MaxPoints bounds the number of points a search may materialize.
const MaxPoints = 1 << 20

// ErrTooLarge is returned for spaces that cannot be enumerated.
var ErrTooLarge = errors.New("search space too large")

// Size returns the number of points of the Cartesian product of params.
// It fails with ErrTooLarge when the count does not fit in an int.
func Size(params []Param) (int, error) {
	n := 1
	for _, p := range params {
		d := len(p.Domain)
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: the product of %d parameter domains overflows", ErrTooLarge, len(params))
		}
		n *= d
	}
	return n, nil
}

// At returns the point with enumeration index seq, decoding it as a
// mixed-radix number whose last digit belongs to the last parameter.
func At(params []Param, seq int) Point {
	pt := Point{Seq: seq, Names: make([]string, len(params)), Values: make([]cty.Value, len(params))}
	rest := seq
	for i := len(params) - 1; i >= 0; i-- {
		d := len(params[i].Domain)
		pt.Names[i] = params[i].Name
		pt.Values[i] = params[i].Domain[rest%d]
		rest /= d
	}
	return pt
}

// Enumerate returns the full Cartesian product of params in declaration
// order, the last parameter varying fastest. With no params it returns the
// single empty point. Products above MaxPoints fail with ErrTooLarge.
func Enumerate(params []Param) ([]Point, error) {
	n, err := Size(params)
	if err != nil {
		return nil, err
	}
	if n > MaxPoints {
		return nil, fmt.Errorf("%w: %d points, at most %d can be enumerated", ErrTooLarge, n, MaxPoints)
	}
	out := make([]Point, n)
	for i := range out {
		out[i] = At(params, i)
	}
	return out, nil
}
