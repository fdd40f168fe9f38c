package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/looptune/internal/cir"
	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/driver"
	"github.com/specialistvlad/looptune/internal/extract"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/synth"
	"github.com/specialistvlad/looptune/internal/transform"
	"golang.org/x/sync/errgroup"
)

// plan is the extracted form of a source file and the point chosen for
// every PerfTuning region so far.
type plan struct {
	tree     *extract.Tree
	loops    map[int]*extract.LoopRegion
	problems map[int]*space.Problem
	// tuning lists the PerfTuning regions in source order.
	tuning []*extract.Region
	// chosen is only written between sweeps.
	chosen map[int]space.Point
}

func newPlan(ctx context.Context, filename string, src []byte) (*plan, error) {
	logger := ctxlog.FromContext(ctx)
	tree, err := extract.Extract(ctx, filename, src)
	if err != nil {
		return nil, err
	}
	loops, err := prepareLoops(ctx, tree, cir.ScanSymbols(string(src)))
	if err != nil {
		return nil, err
	}
	p := &plan{
		tree:     tree,
		loops:    loops,
		problems: make(map[int]*space.Problem),
		chosen:   make(map[int]space.Point),
	}
	for _, r := range tree.Find(directive.KindPerfTuning) {
		prob, err := space.New(r.Directive)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r, err)
		}
		p.problems[r.ID] = prob
		p.tuning = append(p.tuning, r)
		pts, err := prob.Points()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r, err)
		}
		ins, err := prob.Inputs()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r, err)
		}
		if len(pts) > 0 && len(ins) > 0 {
			p.chosen[r.ID] = ins[0].Merge(pts[0])
		}
	}
	logger.Debug("Plan: Source prepared.", "regions", len(tree.Regions()), "tuning_regions", len(p.tuning))
	return p, nil
}

// prepareLoops parses the loop of every transform region concurrently.
func prepareLoops(ctx context.Context, tree *extract.Tree, syms cir.Symbols) (map[int]*extract.LoopRegion, error) {
	regions := tree.Regions()
	loops := make([]*extract.LoopRegion, len(regions))
	g, _ := errgroup.WithContext(ctx)
	for i, r := range regions {
		if r.Directive.Kind == directive.KindPerfTuning {
			continue
		}
		g.Go(func() error {
			l, err := r.Loop(syms)
			if err != nil {
				return err
			}
			loops[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	byID := make(map[int]*extract.LoopRegion, len(regions))
	for _, l := range loops {
		if l != nil {
			byID[l.Region.ID] = l
		}
	}
	return byID, nil
}

// pointFor returns the point a region outside the current sweep is
// rendered with.
func (p *plan) pointFor(r *extract.Region) space.Point {
	if e := r.Enclosing(); e != nil {
		return p.chosen[e.ID]
	}
	return space.Point{}
}

// generated collects what the transforms of one rendering need from the
// build and the driver.
type generated struct {
	flags   []string
	timers  []string
	kernels int
}

func (g *generated) add(code *transform.GeneratedCode) {
	for _, f := range code.BuildFlags {
		if !slices.Contains(g.flags, f) {
			g.flags = append(g.flags, f)
		}
	}
	g.timers = append(g.timers, code.TimerVars...)
	g.kernels += len(code.Kernels)
}

// choose transforms region r at pt.
func (p *plan) choose(r *extract.Region, pt space.Point, opts transform.Options, g *generated) (*synth.Choice, error) {
	loop, ok := p.loops[r.ID]
	if !ok {
		return nil, fmt.Errorf("no loop prepared for %s", r)
	}
	spec, _, err := transform.Resolve(r.Directive, pt)
	if err != nil {
		return nil, err
	}
	code, err := transform.Apply(loop, spec, pt, opts)
	if err != nil {
		return nil, err
	}
	if g != nil {
		g.add(code)
	}
	kernels := make([]string, len(code.Kernels))
	for i, k := range code.Kernels {
		kernels[i] = cir.PrintFunc(k)
	}
	return &synth.Choice{Host: code.HostText(), Kernels: kernels}, nil
}

// render synthesizes the whole file with the chosen points.
func (p *plan) render() ([]byte, error) {
	return synth.Render(p.tree, func(r *extract.Region) (*synth.Choice, error) {
		return p.choose(r, p.pointFor(r), transform.Options{}, nil)
	})
}

// ignoredOptions lists the transform options no transform understands, per
// region, at the region's chosen point.
func (p *plan) ignoredOptions() map[int][]string {
	out := make(map[int][]string)
	for _, r := range p.tree.Regions() {
		if r.Directive.Kind == directive.KindPerfTuning {
			continue
		}
		if _, ignored, err := transform.Resolve(r.Directive, p.pointFor(r)); err == nil && len(ignored) > 0 {
			out[r.ID] = ignored
		}
	}
	return out
}

// locals returns the loop variables the transform regions inside r use
// without declaring them.
func (p *plan) locals(r *extract.Region) []driver.Local {
	var out []driver.Local
	seen := make(map[string]bool)
	for _, reg := range p.tree.Regions() {
		if !r.Span.Contains(reg.Span) || reg == r {
			continue
		}
		loop, ok := p.loops[reg.ID]
		if !ok {
			continue
		}
		declared := make(map[string]bool)
		var vars []string
		for _, st := range loop.Stmts {
			cir.Inspect(st, func(n cir.Node) bool {
				switch n := n.(type) {
				case *cir.Decl:
					for _, v := range n.Vars {
						declared[v.Name] = true
					}
				case *cir.For:
					if shape, err := cir.Shape(n); err == nil && shape.Type == "" {
						vars = append(vars, shape.Var)
					}
				}
				return true
			})
		}
		for _, v := range vars {
			if declared[v] || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, driver.Local{Name: v, Type: loop.Symbols.Scalar(v, "int")})
		}
	}
	return out
}
