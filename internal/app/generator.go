package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/looptune/internal/driver"
	"github.com/specialistvlad/looptune/internal/explorer"
	"github.com/specialistvlad/looptune/internal/extract"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/synth"
	"github.com/specialistvlad/looptune/internal/transform"
)

// variantGenerator produces the programs of one sweep: the region's
// problem at one input point.
//
// A problem that declares input variables is measured through a generated
// timing driver around the region's body. Otherwise the whole file is
// synthesized and must report its own latency.
type variantGenerator struct {
	plan    *plan
	region  *extract.Region
	problem *space.Problem
	input   space.Point
	locals  []driver.Local
	ext     string
}

func newVariantGenerator(p *plan, r *extract.Region, input space.Point) *variantGenerator {
	ext := filepath.Ext(p.tree.Filename)
	if ext == "" {
		ext = ".c"
	}
	return &variantGenerator{
		plan:    p,
		region:  r,
		problem: p.problems[r.ID],
		input:   input,
		locals:  p.locals(r),
		ext:     ext,
	}
}

func (g *variantGenerator) useDriver() bool {
	return len(g.problem.InputVars) > 0
}

// Generate implements explorer.Generator.
func (g *variantGenerator) Generate(_ context.Context, pt space.Point) (*explorer.Variant, error) {
	return g.variant(g.input.Merge(pt), true)
}

// Reference implements explorer.Generator.
func (g *variantGenerator) Reference(_ context.Context) (*explorer.Variant, error) {
	return g.variant(g.input, false)
}

func (g *variantGenerator) variant(pt space.Point, transformed bool) (*explorer.Variant, error) {
	var gen generated
	opts := transform.Options{Timing: g.useDriver()}
	choose := func(r *extract.Region) (*synth.Choice, error) {
		switch {
		case !transformed:
			return nil, nil
		case r.Enclosing() == g.region:
			return g.plan.choose(r, pt, opts, &gen)
		}
		return g.plan.choose(r, g.plan.pointFor(r), transform.Options{}, &gen)
	}

	var src string
	if g.useDriver() {
		body, kernels, err := synth.Body(g.plan.tree.Src, g.region, choose)
		if err != nil {
			return nil, err
		}
		src, err = driver.Generate(driver.Program{
			Problem:   g.problem,
			Input:     g.input,
			Prelude:   strings.Join(kernels, "\n\n"),
			Body:      body,
			Locals:    g.locals,
			TimerVars: gen.timers,
		})
		if err != nil {
			return nil, err
		}
	} else {
		out, err := synth.Render(g.plan.tree, choose)
		if err != nil {
			return nil, err
		}
		src = string(out)
	}

	ext := g.ext
	if gen.kernels > 0 {
		ext = ".cu"
	}
	flags := append(gen.flags, strings.Fields(g.problem.Libs)...)
	return &explorer.Variant{Source: src, SourceName: "variant" + ext, Flags: flags}, nil
}
