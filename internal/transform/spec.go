package transform

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Transform names, matched case-insensitively in directives.
const (
	NameCUDA          = "CUDA"
	NameUnrollJam     = "UnrollJam"
	NameScalarReplace = "ScalarReplace"
	NameSpMV          = "SpMV"
	NameComposite     = "Composite"
)

// Spec is a resolved transform: one of *CUDA, *UnrollJam, *ScalarReplace,
// *SpMV or *Composite.
type Spec interface {
	Name() string
	SrcRange() hcl.Range
}

// CUDA offloads a loop to a GPU kernel.
type CUDA struct {
	ThreadCount  int64
	BlockCount   int64
	StreamCount  int64
	CacheBlocks  bool
	PreferL1Size int64
	UnrollInner  int64
	Range        hcl.Range
}

// UnrollJam unrolls the loops over Vars by the matching Factors. An empty
// variable name selects the outermost loop.
type UnrollJam struct {
	Vars    []string
	Factors []int64
	Range   hcl.Range
}

// ScalarReplace replaces repeated array element references by temporaries.
type ScalarReplace struct {
	On bool
	// DType overrides the temporaries' type; empty uses the array's
	// element type.
	DType  string
	Prefix string
	Range  hcl.Range
}

// SpMV generates a compressed sparse row matrix-vector product.
type SpMV struct {
	// Roles maps role names such as num_rows to the C names filling them.
	Roles     map[string]string
	OutUnroll int64
	InUnroll  int64
	Range     hcl.Range
}

// Composite applies its stages in order.
type Composite struct {
	Stages []Spec
	Range  hcl.Range
}

func (*CUDA) Name() string          { return NameCUDA }
func (*UnrollJam) Name() string     { return NameUnrollJam }
func (*ScalarReplace) Name() string { return NameScalarReplace }
func (*SpMV) Name() string          { return NameSpMV }
func (*Composite) Name() string     { return NameComposite }

func (s *CUDA) SrcRange() hcl.Range          { return s.Range }
func (s *UnrollJam) SrcRange() hcl.Range     { return s.Range }
func (s *ScalarReplace) SrcRange() hcl.Range { return s.Range }
func (s *SpMV) SrcRange() hcl.Range          { return s.Range }
func (s *Composite) SrcRange() hcl.Range     { return s.Range }

// Defaults of omitted parameters.
const (
	DefaultThreadCount = 32
	DefaultBlockCount  = 14
	DefaultPrefix      = "scv_"
)

var cudaParams = []string{"threadCount", "blockCount", "streamCount", "cacheBlocks", "preferL1Size", "unrollInner"}

var scalarReplaceParams = []string{"on", "dtype", "prefix"}

// SpMV roles. Every required role must be assigned.
var (
	spmvRequired = []string{
		"num_rows", "out_vector", "in_vector", "in_matrix",
		"row_inds", "col_inds", "out_loop_var", "in_loop_var",
	}
	spmvDefaults = map[string]string{"elm_type": "double", "init_val": "0"}
)

// Resolve maps a transform directive and a search point to a typed Spec.
// Identifiers in option values resolve against the point. It also returns
// the option keys no transform recognised, as "Transform.key".
func Resolve(d *directive.Directive, pt space.Point) (Spec, []string, error) {
	r := &resolver{vars: pt.Map(), pt: pt}
	switch d.Kind {
	case directive.KindSpMV:
		return r.spmv(d.Options, d.Range)
	case directive.KindLoop, directive.KindComposite:
		if len(d.Transforms) == 1 {
			return r.call(d.Transforms[0])
		}
		c := &Composite{Range: d.Range}
		for _, call := range d.Transforms {
			s, err := r.stage(call)
			if err != nil {
				return nil, nil, err
			}
			c.Stages = append(c.Stages, s)
		}
		return c, r.ignored, nil
	}
	return nil, nil, &TransformError{Transform: d.Kind.String(), Reason: "directive does not describe a transform", Range: d.Range, Point: pt}
}

type resolver struct {
	vars    map[string]cty.Value
	pt      space.Point
	ignored []string
}

func (r *resolver) call(c *directive.Call) (Spec, []string, error) {
	s, err := r.stage(c)
	if err != nil {
		return nil, nil, err
	}
	return s, r.ignored, nil
}

func (r *resolver) errorf(transform, param string, rng hcl.Range, format string, args ...any) error {
	return &TransformError{Transform: transform, Param: param, Reason: fmt.Sprintf(format, args...), Range: rng, Point: r.pt}
}

// stage resolves one transform invocation.
func (r *resolver) stage(c *directive.Call) (Spec, error) {
	switch canonicalName(c.Name) {
	case NameCUDA:
		return r.cuda(c)
	case NameUnrollJam:
		return r.unrollJam(c)
	case NameScalarReplace:
		return r.scalarReplace(c)
	case NameComposite:
		return r.composite(c)
	case NameSpMV:
		opts := directive.NewOptions()
		for _, a := range c.Args {
			if a.Name == "" {
				return nil, r.errorf(NameSpMV, "", c.Rng, "roles must be named")
			}
			opts.Set(a.Name, a.Value)
		}
		s, _, err := r.spmv(opts, c.Rng)
		return s, err
	}
	return nil, r.errorf(c.Name, "", c.Rng, "unknown transform")
}

func canonicalName(name string) string {
	for _, n := range []string{NameCUDA, NameUnrollJam, NameScalarReplace, NameSpMV, NameComposite} {
		if strings.EqualFold(n, name) {
			return n
		}
	}
	return ""
}

// bind matches the arguments of c to params, positionally then by name.
// Unknown names are recorded as ignored.
func (r *resolver) bind(c *directive.Call, transform string, params []string) (map[string]directive.Value, error) {
	out := make(map[string]directive.Value)
	pos := 0
	for _, a := range c.Args {
		if a.Name == "" {
			if pos >= len(params) {
				return nil, r.errorf(transform, "", c.Rng, "takes at most %d positional arguments", len(params))
			}
			out[params[pos]] = a.Value
			pos++
			continue
		}
		known := ""
		for _, p := range params {
			if strings.EqualFold(p, a.Name) {
				known = p
			}
		}
		if known == "" {
			r.ignored = append(r.ignored, transform+"."+a.Name)
			continue
		}
		out[known] = a.Value
	}
	return out, nil
}

func (r *resolver) cuda(c *directive.Call) (Spec, error) {
	args, err := r.bind(c, NameCUDA, cudaParams)
	if err != nil {
		return nil, err
	}
	s := &CUDA{ThreadCount: DefaultThreadCount, BlockCount: DefaultBlockCount, StreamCount: 1, UnrollInner: 1, Range: c.Rng}
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"threadCount", &s.ThreadCount},
		{"blockCount", &s.BlockCount},
		{"streamCount", &s.StreamCount},
		{"preferL1Size", &s.PreferL1Size},
		{"unrollInner", &s.UnrollInner},
	} {
		v, ok := args[f.name]
		if !ok {
			continue
		}
		if *f.dst, err = r.int(NameCUDA, f.name, v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["cacheBlocks"]; ok {
		if s.CacheBlocks, err = r.bool(NameCUDA, "cacheBlocks", v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *resolver) unrollJam(c *directive.Call) (Spec, error) {
	s := &UnrollJam{Range: c.Rng}
	pos := c.Positional()
	if v, ok := c.Named("ufactor"); ok {
		n, err := r.int(NameUnrollJam, "ufactor", v)
		if err != nil {
			return nil, err
		}
		s.Vars, s.Factors = []string{""}, []int64{n}
	}
	for _, a := range c.Args {
		if a.Name != "" && !strings.EqualFold(a.Name, "ufactor") {
			r.ignored = append(r.ignored, NameUnrollJam+"."+a.Name)
		}
	}
	switch len(pos) {
	case 0:
	case 1:
		n, err := r.int(NameUnrollJam, "ufactor", pos[0])
		if err != nil {
			return nil, err
		}
		s.Vars, s.Factors = []string{""}, []int64{n}
	case 2:
		vars, err := r.words(NameUnrollJam, "vars", pos[0])
		if err != nil {
			return nil, err
		}
		fv, err := r.eval(NameUnrollJam, "factors", pos[1])
		if err != nil {
			return nil, err
		}
		elems, err := elementsOf(fv)
		if err != nil {
			return nil, r.errorf(NameUnrollJam, "factors", pos[1].SrcRange(), "%s", err)
		}
		if len(elems) != len(vars) {
			return nil, r.errorf(NameUnrollJam, "factors", c.Rng, "%d variables but %d factors", len(vars), len(elems))
		}
		for _, e := range elems {
			n, err := space.Int(e)
			if err != nil {
				return nil, r.errorf(NameUnrollJam, "factors", pos[1].SrcRange(), "%s", err)
			}
			s.Factors = append(s.Factors, n)
		}
		s.Vars = vars
	default:
		return nil, r.errorf(NameUnrollJam, "", c.Rng, "takes a list of variables and a list of factors")
	}
	if len(s.Vars) == 0 {
		return nil, r.errorf(NameUnrollJam, "ufactor", c.Rng, "no unroll factor given")
	}
	return s, nil
}

func (r *resolver) scalarReplace(c *directive.Call) (Spec, error) {
	args, err := r.bind(c, NameScalarReplace, scalarReplaceParams)
	if err != nil {
		return nil, err
	}
	s := &ScalarReplace{On: true, Prefix: DefaultPrefix, Range: c.Rng}
	if v, ok := args["on"]; ok {
		if s.On, err = r.bool(NameScalarReplace, "on", v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["dtype"]; ok {
		if s.DType, err = r.word(NameScalarReplace, "dtype", v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["prefix"]; ok {
		if s.Prefix, err = r.word(NameScalarReplace, "prefix", v); err != nil {
			return nil, err
		}
		if !isCIdent(s.Prefix) {
			return nil, r.errorf(NameScalarReplace, "prefix", v.SrcRange(), "%q cannot start a C identifier", s.Prefix)
		}
	}
	return s, nil
}

// composite resolves Composite(stage, ...). A stage is a bare transform
// name (defaults), a call, or name=args where args is a tuple of
// positional arguments, a single argument, True (defaults) or False
// (stage skipped).
func (r *resolver) composite(c *directive.Call) (Spec, error) {
	out := &Composite{Range: c.Rng}
	for _, a := range c.Args {
		var call *directive.Call
		switch {
		case a.Name != "":
			call = &directive.Call{Name: a.Name, Rng: a.Value.SrcRange()}
			switch v := a.Value.(type) {
			case *directive.List:
				for _, e := range v.Elems {
					call.Args = append(call.Args, &directive.Arg{Value: e})
				}
			case *directive.Call:
				call.Args = v.Args
			default:
				val, err := r.eval(NameComposite, a.Name, v)
				if err != nil {
					return nil, err
				}
				if val.Type() == cty.Bool {
					if val.False() {
						continue
					}
				} else {
					call.Args = []*directive.Arg{{Value: v}}
				}
			}
		default:
			switch v := a.Value.(type) {
			case *directive.Identifier:
				call = &directive.Call{Name: v.Name, Rng: v.Rng}
			case *directive.Call:
				call = v
			default:
				return nil, r.errorf(NameComposite, "", a.Value.SrcRange(), "%s does not name a transform", a.Value)
			}
		}
		s, err := r.stage(call)
		if err != nil {
			return nil, err
		}
		out.Stages = append(out.Stages, s)
	}
	return out, nil
}

func (r *resolver) spmv(opts *directive.Options, rng hcl.Range) (Spec, []string, error) {
	s := &SpMV{Roles: make(map[string]string), OutUnroll: 1, InUnroll: 1, Range: rng}
	for role, def := range spmvDefaults {
		s.Roles[role] = def
	}
	known := make(map[string]bool)
	for _, role := range spmvRequired {
		known[role] = true
	}
	for _, k := range opts.Keys() {
		v, _ := opts.Get(k)
		var err error
		switch key := strings.ToLower(k); {
		case key == "out_unroll_factor":
			s.OutUnroll, err = r.int(NameSpMV, k, v)
		case key == "in_unroll_factor":
			s.InUnroll, err = r.int(NameSpMV, k, v)
		case known[key] || spmvDefaults[key] != "":
			s.Roles[key], err = r.word(NameSpMV, k, v)
		default:
			r.ignored = append(r.ignored, NameSpMV+"."+k)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	for _, role := range spmvRequired {
		if s.Roles[role] == "" {
			return nil, nil, r.errorf(NameSpMV, role, rng, "role %s is not assigned", role)
		}
	}
	return s, r.ignored, nil
}

func (r *resolver) eval(transform, param string, v directive.Value) (cty.Value, error) {
	val, err := space.Eval(v, r.vars)
	if err != nil {
		return cty.NilVal, r.errorf(transform, param, v.SrcRange(), "%s", err)
	}
	if val.IsNull() || !val.IsKnown() {
		return cty.NilVal, r.errorf(transform, param, v.SrcRange(), "value is not known")
	}
	return val, nil
}

func (r *resolver) int(transform, param string, v directive.Value) (int64, error) {
	val, err := r.eval(transform, param, v)
	if err != nil {
		return 0, err
	}
	n, err := space.Int(val)
	if err != nil {
		return 0, r.errorf(transform, param, v.SrcRange(), "%s", err)
	}
	return n, nil
}

func (r *resolver) bool(transform, param string, v directive.Value) (bool, error) {
	val, err := r.eval(transform, param, v)
	if err != nil {
		return false, err
	}
	if val.Type() == cty.Number {
		return !val.Equals(cty.Zero).True(), nil
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, r.errorf(transform, param, v.SrcRange(), "expected a boolean, found %s", directive.FormatCty(val))
	}
	return b.True(), nil
}

// word resolves a name-like value. Identifiers unbound in the point stand
// for themselves.
func (r *resolver) word(transform, param string, v directive.Value) (string, error) {
	if id, ok := v.(*directive.Identifier); ok {
		if _, bound := r.vars[id.Name]; !bound {
			return id.Name, nil
		}
	}
	val, err := r.eval(transform, param, v)
	if err != nil {
		return "", err
	}
	if val.Type() == cty.Number {
		return directive.FormatCty(val), nil
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", r.errorf(transform, param, v.SrcRange(), "expected a name, found %s", directive.FormatCty(val))
	}
	return str.AsString(), nil
}

func (r *resolver) words(transform, param string, v directive.Value) ([]string, error) {
	if l, ok := v.(*directive.List); ok {
		out := make([]string, len(l.Elems))
		for i, e := range l.Elems {
			w, err := r.word(transform, param, e)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	}
	val, err := r.eval(transform, param, v)
	if err != nil {
		return nil, err
	}
	elems, err := elementsOf(val)
	if err != nil {
		return nil, r.errorf(transform, param, v.SrcRange(), "%s", err)
	}
	out := make([]string, len(elems))
	for i, e := range elems {
		s, err := convert.Convert(e, cty.String)
		if err != nil {
			return nil, r.errorf(transform, param, v.SrcRange(), "expected names, found %s", directive.FormatCty(e))
		}
		out[i] = s.AsString()
	}
	return out, nil
}

func elementsOf(v cty.Value) ([]cty.Value, error) {
	ty := v.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return []cty.Value{v}, nil
	}
	var out []cty.Value
	it := v.ElementIterator()
	for it.Next() {
		_, e := it.Element()
		out = append(out, e)
	}
	return out, nil
}

func isCIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !letter && (i == 0 || c < '0' || c > '9') {
			return false
		}
	}
	return true
}
