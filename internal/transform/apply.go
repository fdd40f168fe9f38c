package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/cir"
	"github.com/specialistvlad/looptune/internal/extract"
	"github.com/specialistvlad/looptune/internal/space"
)

// genPrefix starts every identifier the engine introduces.
const genPrefix = "lt_"

// Options controls code generation details that do not come from the
// directive.
type Options struct {
	// Timing wraps kernel launches in event pairs and accumulates the
	// device time into the variables listed in GeneratedCode.TimerVars.
	Timing bool
	// ID distinguishes generated names of different regions of one file.
	// Empty uses the region ID.
	ID string
}

// GeneratedCode is the output of Apply.
type GeneratedCode struct {
	// Host replaces the region's reference code.
	Host []cir.Stmt
	// Kernels are file-scope definitions the host code launches.
	Kernels []*cir.FuncDecl
	// BuildFlags are compiler flags the generated code relies on.
	BuildFlags []string
	// TimerVars are float variables, declared and zeroed by the caller,
	// that the host code adds elapsed device milliseconds to.
	TimerVars []string
}

// HostText renders the host code.
func (g *GeneratedCode) HostText() string {
	return cir.Print(g.Host)
}

// KernelText renders the kernel definitions, separated by blank lines.
func (g *GeneratedCode) KernelText() string {
	parts := make([]string, len(g.Kernels))
	for i, k := range g.Kernels {
		parts[i] = cir.PrintFunc(k)
	}
	return strings.Join(parts, "\n")
}

// program is the code under construction. focus is the flat block the
// next stage rewrites; it lives either in host or in a kernel body.
type program struct {
	id      string
	host    []cir.Stmt
	focus   *cir.Block
	kernels []*cir.FuncDecl
	flags   []string
	timers  []string
	// offloaded is set once the focus moved into a kernel.
	offloaded bool
	temps     int

	syms   cir.Symbols
	opts   Options
	pt     space.Point
	region hcl.Range
}

// Apply runs spec over a copy of the loop region's code. The region itself
// is not modified.
func Apply(loop *extract.LoopRegion, spec Spec, pt space.Point, opts Options) (*GeneratedCode, error) {
	id := opts.ID
	if id == "" {
		id = strconv.Itoa(loop.Region.ID)
	}
	focus := &cir.Block{Flat: true, Stmts: cir.CloneStmts(loop.Stmts)}
	p := &program{
		id:     id,
		host:   []cir.Stmt{focus},
		focus:  focus,
		syms:   loop.Symbols,
		opts:   opts,
		pt:     pt,
		region: loop.SrcRange(),
	}
	if p.syms == nil {
		p.syms = make(cir.Symbols)
	}
	if err := p.apply(spec); err != nil {
		return nil, err
	}
	return &GeneratedCode{Host: p.host, Kernels: p.kernels, BuildFlags: p.flags, TimerVars: p.timers}, nil
}

func (p *program) apply(spec Spec) error {
	switch s := spec.(type) {
	case *CUDA:
		return p.cuda(s)
	case *UnrollJam:
		return p.unrollJam(s)
	case *ScalarReplace:
		return p.scalarReplace(s)
	case *SpMV:
		return p.spmv(s)
	case *Composite:
		for _, st := range s.Stages {
			if err := p.apply(st); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported transform %T", spec)
}

func (p *program) errorf(transform, param string, rng hcl.Range, format string, args ...any) error {
	if rng.Filename == "" {
		rng = p.region
	}
	return &TransformError{Transform: transform, Param: param, Reason: fmt.Sprintf(format, args...), Range: rng, Point: p.pt}
}

func (p *program) addFlag(f string) {
	for _, have := range p.flags {
		if have == f {
			return
		}
	}
	p.flags = append(p.flags, f)
}

// loopSite is a for loop and the statement list holding it.
type loopSite struct {
	owner []cir.Stmt
	index int
	loop  *cir.For
}

func (s loopSite) replace(st cir.Stmt) {
	s.owner[s.index] = st
}

// following returns the statements after the loop in its list.
func (s loopSite) following() []cir.Stmt {
	return s.owner[s.index+1:]
}

// firstLoop finds the first for loop among stmts, looking through blocks
// but not into loop or branch bodies.
func firstLoop(stmts []cir.Stmt) (loopSite, bool) {
	for i, s := range stmts {
		switch s := s.(type) {
		case *cir.For:
			return loopSite{owner: stmts, index: i, loop: s}, true
		case *cir.Block:
			if site, ok := firstLoop(s.Stmts); ok {
				return site, true
			}
		}
	}
	return loopSite{}, false
}

// findLoop finds the first loop over v anywhere under stmts, in source
// order.
func findLoop(stmts []cir.Stmt, v string) (loopSite, bool) {
	for i, s := range stmts {
		switch s := s.(type) {
		case *cir.For:
			if sh, err := cir.Shape(s); err == nil && sh.Var == v {
				return loopSite{owner: stmts, index: i, loop: s}, true
			}
			if site, ok := findLoop(bodyBlock(&s.Body).Stmts, v); ok {
				return site, true
			}
		case *cir.Block:
			if site, ok := findLoop(s.Stmts, v); ok {
				return site, true
			}
		case *cir.If:
			if site, ok := findLoop(bodyBlock(&s.Then).Stmts, v); ok {
				return site, true
			}
			if s.Else != nil {
				if site, ok := findLoop(bodyBlock(&s.Else).Stmts, v); ok {
					return site, true
				}
			}
		}
	}
	return loopSite{}, false
}

// bodyBlock makes *s a braced block, wrapping a single statement, and
// returns it.
func bodyBlock(s *cir.Stmt) *cir.Block {
	if b, ok := (*s).(*cir.Block); ok {
		return b
	}
	b := &cir.Block{Stmts: []cir.Stmt{*s}}
	*s = b
	return b
}

// loopBodies calls f for the body block of every loop under stmts,
// innermost loops first.
func loopBodies(stmts []cir.Stmt, f func(*cir.Block)) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *cir.For:
			b := bodyBlock(&s.Body)
			loopBodies(b.Stmts, f)
			f(b)
		case *cir.Block:
			loopBodies(s.Stmts, f)
		case *cir.If:
			loopBodies(bodyBlock(&s.Then).Stmts, f)
			if s.Else != nil {
				loopBodies(bodyBlock(&s.Else).Stmts, f)
			}
		}
	}
}

func (p *program) tempName(prefix string) string {
	p.temps++
	return prefix + strconv.Itoa(p.temps)
}
