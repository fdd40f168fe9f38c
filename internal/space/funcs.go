package space

import (
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// ProductFunc returns the Cartesian product of its sequence arguments as a
// tuple of tuples, the last argument varying fastest.
var ProductFunc = function.New(&function.Spec{
	Description: "Cartesian product of sequences.",
	VarParam: &function.Parameter{
		Name: "seqs",
		Type: cty.DynamicPseudoType,
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		lists := make([][]cty.Value, len(args))
		for i, a := range args {
			elems, err := elements(a)
			if err != nil {
				return cty.NilVal, function.NewArgError(i, err)
			}
			lists[i] = elems
		}
		combos := [][]cty.Value{nil}
		for _, l := range lists {
			var next [][]cty.Value
			for _, c := range combos {
				for _, e := range l {
					combo := append(append([]cty.Value(nil), c...), e)
					next = append(next, combo)
				}
			}
			combos = next
		}
		out := make([]cty.Value, len(combos))
		for i, c := range combos {
			out[i] = tupleOf(c)
		}
		return tupleOf(out), nil
	},
})

// JoinFunc joins the non-empty strings of a sequence with single spaces.
// It is the join of map(join, product(...)) flag compositions.
var JoinFunc = function.New(&function.Spec{
	Description: "Joins the non-empty elements of a sequence with a space.",
	Params: []function.Parameter{
		{Name: "parts", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		elems, err := elements(args[0])
		if err != nil {
			return cty.NilVal, function.NewArgError(0, err)
		}
		var parts []string
		for _, e := range elems {
			s, err := stringOf(e)
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return cty.StringVal(strings.Join(parts, " ")), nil
	},
})

// Functions are available to domain values and constraint expressions.
var Functions = map[string]function.Function{
	"range":   stdlib.RangeFunc,
	"product": ProductFunc,
	"join":    JoinFunc,
	"len":     stdlib.LengthFunc,
	"min":     stdlib.MinFunc,
	"max":     stdlib.MaxFunc,
	"concat":  stdlib.ConcatFunc,
	"abs":     stdlib.AbsoluteFunc,
}
