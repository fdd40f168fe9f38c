package space

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Eval evaluates a directive value to a cty value. Identifiers resolve
// against vars.
func Eval(v directive.Value, vars map[string]cty.Value) (cty.Value, error) {
	switch v := v.(type) {
	case *directive.Scalar:
		return v.Val, nil
	case *directive.Identifier:
		if val, ok := vars[v.Name]; ok {
			return val, nil
		}
		return cty.NilVal, fmt.Errorf("%s: unbound identifier %q", v.Rng, v.Name)
	case *directive.List:
		elems := make([]cty.Value, len(v.Elems))
		for i, e := range v.Elems {
			ev, err := Eval(e, vars)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = ev
		}
		return tupleOf(elems), nil
	case *directive.Range:
		args := []directive.Value{v.Lo, v.Hi}
		if v.Step != nil {
			args = append(args, v.Step)
		}
		vals := make([]cty.Value, len(args))
		for i, a := range args {
			av, err := Eval(a, vars)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = av
		}
		out, err := Functions["range"].Call(vals)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%s: %w", v.Rng, err)
		}
		return out, nil
	case *directive.Call:
		return evalCall(v, vars)
	}
	return cty.NilVal, fmt.Errorf("unsupported value %T", v)
}

func evalCall(c *directive.Call, vars map[string]cty.Value) (cty.Value, error) {
	if len(c.Positional()) != len(c.Args) {
		return cty.NilVal, fmt.Errorf("%s: %s takes positional arguments only", c.Rng, c.Name)
	}
	if c.Name == "map" {
		return evalMap(c, vars)
	}
	fn, ok := Functions[c.Name]
	if !ok {
		return cty.NilVal, fmt.Errorf("%s: unknown function %q", c.Rng, c.Name)
	}
	args := make([]cty.Value, len(c.Args))
	for i, a := range c.Args {
		av, err := Eval(a.Value, vars)
		if err != nil {
			return cty.NilVal, err
		}
		args[i] = av
	}
	out, err := fn.Call(args)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s: %s: %w", c.Rng, c.Name, err)
	}
	return out, nil
}

// evalMap applies the function named by the first argument to every
// element of the second.
func evalMap(c *directive.Call, vars map[string]cty.Value) (cty.Value, error) {
	if len(c.Args) != 2 {
		return cty.NilVal, fmt.Errorf("%s: map takes a function name and a sequence", c.Rng)
	}
	id, ok := c.Args[0].Value.(*directive.Identifier)
	if !ok {
		return cty.NilVal, fmt.Errorf("%s: map needs a function name", c.Rng)
	}
	fn, ok := Functions[id.Name]
	if !ok {
		return cty.NilVal, fmt.Errorf("%s: unknown function %q", id.Rng, id.Name)
	}
	seq, err := Eval(c.Args[1].Value, vars)
	if err != nil {
		return cty.NilVal, err
	}
	elems, err := elements(seq)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s: map: %w", c.Rng, err)
	}
	out := make([]cty.Value, len(elems))
	for i, e := range elems {
		if out[i], err = fn.Call([]cty.Value{e}); err != nil {
			return cty.NilVal, fmt.Errorf("%s: %s: %w", c.Rng, id.Name, err)
		}
	}
	return tupleOf(out), nil
}

func elements(v cty.Value) ([]cty.Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, errors.New("expected a known sequence")
	}
	ty := v.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return nil, fmt.Errorf("expected a sequence, found %s", ty.FriendlyName())
	}
	out := make([]cty.Value, 0, v.LengthInt())
	it := v.ElementIterator()
	for it.Next() {
		_, e := it.Element()
		out = append(out, e)
	}
	return out, nil
}

func tupleOf(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vals)
}

func stringOf(v cty.Value) (string, error) {
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	if s.IsNull() {
		return "", nil
	}
	return s.AsString(), nil
}

// Int converts a whole number value to int64.
func Int(v cty.Value) (int64, error) {
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, err
	}
	if n.IsNull() || !n.IsKnown() {
		return 0, errors.New("expected a number")
	}
	bf := n.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("%s is not a whole number", bf.Text('g', -1))
	}
	i, acc := bf.Int64()
	if acc != big.Exact {
		return 0, fmt.Errorf("%s is out of range", bf.Text('g', -1))
	}
	return i, nil
}
