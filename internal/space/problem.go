package space

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/zclconf/go-cty/cty"
)

// Section names of a PerfTuning directive.
const (
	SectionPerformanceParams  = "performance_params"
	SectionBuild              = "build"
	SectionInputParams        = "input_params"
	SectionInputVars          = "input_vars"
	SectionPerformanceCounter = "performance_counter"
	SectionSearch             = "search"
)

// Search algorithms.
const (
	Exhaustive = "Exhaustive"
	Random     = "Random"
)

// InputVar is a declared input variable of the timing driver.
type InputVar struct {
	Name    string
	Type    string
	Storage string   // "static", "dynamic" or empty
	Dims    []string // C expressions over input parameters
	// Init is "random", a numeric literal, or empty.
	Init  string
	Range hcl.Range
}

// Search holds the settings of the search section.
type Search struct {
	Algorithm string
	// TotalRuns bounds the number of evaluated points; zero means all.
	TotalRuns int
	// TimeLimit stops scheduling new points once elapsed; zero means none.
	TimeLimit time.Duration
	Seed      uint64
}

// Problem is the search problem declared by one PerfTuning directive.
type Problem struct {
	Directive *directive.Directive

	Params      []Param
	InputParams []Param
	Constraints []*Constraint
	InputVars   []InputVar

	// BuildCommand is the compiler command template, with @NAME
	// placeholders for parameters. Empty when the directive has none.
	BuildCommand string
	Libs         string

	Method      string
	Repetitions int

	Search Search
}

// New builds the problem declared by a PerfTuning directive.
func New(d *directive.Directive) (*Problem, error) {
	if d.Kind != directive.KindPerfTuning {
		return nil, fmt.Errorf("%s: expected a PerfTuning directive, found %s", d.Range, d.Kind)
	}
	lets := make(map[string]cty.Value)
	for _, k := range d.Options.Keys() {
		v, _ := d.Options.Get(k)
		val, err := Eval(v, lets)
		if err != nil {
			return nil, err
		}
		lets[k] = val
	}

	p := &Problem{Directive: d, Method: "basic timer", Repetitions: 1, Search: Search{Algorithm: Exhaustive}}
	var err error
	if p.Params, err = Params(d.Section(SectionPerformanceParams), lets); err != nil {
		return nil, err
	}
	if p.InputParams, err = Params(d.Section(SectionInputParams), lets); err != nil {
		return nil, err
	}
	for _, s := range d.Sections {
		for _, st := range s.Find(directive.StmtConstraint) {
			c, err := ParseConstraint(st.Name, st.Expr, st.ExprRange)
			if err != nil {
				return nil, err
			}
			p.Constraints = append(p.Constraints, c)
		}
	}
	if s := d.Section(SectionInputVars); s != nil {
		for _, st := range s.Find(directive.StmtDecl) {
			iv := InputVar{Name: st.Name, Type: st.Decl.Type, Storage: st.Decl.Storage, Dims: st.Decl.Dims, Range: st.Range}
			if st.Value != nil {
				iv.Init = strings.Trim(st.Value.String(), "'")
			}
			p.InputVars = append(p.InputVars, iv)
		}
	}

	build := d.Section(SectionBuild)
	if p.BuildCommand, err = argString(build, "build_command", lets); err != nil {
		return nil, err
	}
	if p.Libs, err = argString(build, "libs", lets); err != nil {
		return nil, err
	}
	counter := d.Section(SectionPerformanceCounter)
	if m, err := argString(counter, "method", lets); err != nil {
		return nil, err
	} else if m != "" {
		p.Method = m
	}
	if n, ok, err := argInt(counter, "repetitions", lets); err != nil {
		return nil, err
	} else if ok {
		if n < 1 {
			return nil, fmt.Errorf("%s: repetitions must be at least 1", counter.Range)
		}
		p.Repetitions = int(n)
	}
	if p.Search, err = searchSettings(d.Section(SectionSearch), lets); err != nil {
		return nil, err
	}
	if _, _, err := p.count(); err != nil {
		return nil, fmt.Errorf("%s: performance_params: %w", d.Range, err)
	}
	if _, err := p.Inputs(); err != nil {
		return nil, fmt.Errorf("%s: input_params: %w", d.Range, err)
	}
	return p, nil
}

func searchSettings(s *directive.Section, lets map[string]cty.Value) (Search, error) {
	out := Search{Algorithm: Exhaustive}
	alg, err := argString(s, "algorithm", lets)
	if err != nil {
		return out, err
	}
	switch {
	case alg == "" || strings.EqualFold(alg, Exhaustive):
	case strings.EqualFold(alg, Random):
		out.Algorithm = Random
	default:
		return out, fmt.Errorf("%s: unsupported search algorithm %q", s.Range, alg)
	}
	if n, ok, err := argInt(s, "total_runs", lets); err != nil {
		return out, err
	} else if ok {
		if n < 0 {
			return out, fmt.Errorf("%s: total_runs must not be negative", s.Range)
		}
		out.TotalRuns = int(n)
	}
	if n, ok, err := argInt(s, "time_limit", lets); err != nil {
		return out, err
	} else if ok {
		out.TimeLimit = time.Duration(n) * time.Second
	}
	if n, ok, err := argInt(s, "seed", lets); err != nil {
		return out, err
	} else if ok {
		out.Seed = uint64(n)
	}
	return out, nil
}

func argString(s *directive.Section, name string, lets map[string]cty.Value) (string, error) {
	v, ok := s.Arg(name)
	if !ok {
		return "", nil
	}
	if id, isIdent := v.(*directive.Identifier); isIdent {
		if _, bound := lets[id.Name]; !bound {
			// bare words such as Exhaustive
			return id.Name, nil
		}
	}
	val, err := Eval(v, lets)
	if err != nil {
		return "", err
	}
	str, err := stringOf(val)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", v.SrcRange(), name, err)
	}
	return str, nil
}

func argInt(s *directive.Section, name string, lets map[string]cty.Value) (int64, bool, error) {
	v, ok := s.Arg(name)
	if !ok {
		return 0, false, nil
	}
	val, err := Eval(v, lets)
	if err != nil {
		return 0, false, err
	}
	n, err := Int(val)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %s: %w", v.SrcRange(), name, err)
	}
	return n, true, nil
}

// Points returns the performance points to evaluate, in evaluation order.
// Exhaustive search visits the points in enumeration order. Random search
// samples TotalRuns distinct points (all when zero) with the configured
// seed, so a sweep is reproducible. More than MaxPoints points to evaluate
// fail with ErrTooLarge.
func (p *Problem) Points() ([]Point, error) {
	n, k, err := p.count()
	if err != nil {
		return nil, err
	}
	if p.Search.Algorithm != Random {
		pts := make([]Point, k)
		for i := range pts {
			pts[i] = At(p.Params, i)
		}
		return pts, nil
	}
	rng := rand.New(rand.NewPCG(p.Search.Seed, p.Search.Seed^0x9e3779b97f4a7c15))
	pts := make([]Point, k)
	for i, seq := range sample(rng, n, k) {
		pts[i] = At(p.Params, seq)
	}
	return pts, nil
}

// count returns the size of the performance space and the number of points
// a search over it evaluates.
func (p *Problem) count() (n, k int, err error) {
	if n, err = Size(p.Params); err != nil {
		return 0, 0, err
	}
	k = n
	if p.Search.TotalRuns > 0 && p.Search.TotalRuns < n {
		k = p.Search.TotalRuns
	}
	if k > MaxPoints {
		return 0, 0, fmt.Errorf("%w: %d points to evaluate, at most %d; set total_runs", ErrTooLarge, k, MaxPoints)
	}
	return n, k, nil
}

// sample returns k distinct indices below n in random order. It draws
// them with Floyd's algorithm, so memory grows with k only.
func sample(rng *rand.Rand, n, k int) []int {
	picked := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.IntN(j + 1)
		if _, dup := picked[t]; dup {
			t = j
		}
		picked[t] = struct{}{}
		out = append(out, t)
	}
	rng.Shuffle(len(out), func(a, b int) { out[a], out[b] = out[b], out[a] })
	return out
}

// Inputs returns the input points; one sweep runs per input point.
func (p *Problem) Inputs() ([]Point, error) {
	return Enumerate(p.InputParams)
}

// Allows reports whether pt satisfies every constraint.
func (p *Problem) Allows(pt Point) (bool, error) {
	for _, c := range p.Constraints {
		ok, err := c.Allows(pt)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
