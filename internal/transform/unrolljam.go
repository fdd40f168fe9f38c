package transform

import (
	"github.com/specialistvlad/looptune/internal/cir"
)

func (p *program) unrollJam(s *UnrollJam) error {
	for i, v := range s.Vars {
		factor := s.Factors[i]
		param := "factors"
		if v == "" {
			param = "ufactor"
		}
		if factor < 1 {
			return p.errorf(NameUnrollJam, param, s.Range, "unroll factor must be at least 1, got %d", factor)
		}
		var (
			site loopSite
			ok   bool
		)
		if v == "" {
			site, ok = firstLoop(p.focus.Stmts)
		} else {
			site, ok = findLoop(p.focus.Stmts, v)
		}
		if !ok {
			if v == "" {
				return p.errorf(NameUnrollJam, "", s.Range, "no loop to unroll")
			}
			return p.errorf(NameUnrollJam, "vars", s.Range, "no loop over %s", v)
		}
		shape, err := cir.Shape(site.loop)
		if err != nil {
			return p.errorf(NameUnrollJam, "", s.Range, "%s", err)
		}
		if factor == 1 {
			continue
		}
		site.replace(unroll(site.loop, shape, factor, true))
	}
	return nil
}

// unroll returns loop f unrolled by factor: a main loop whose body holds
// factor copies of the original body with the loop variable offset by
// 0..factor-1 steps, then a tail loop running the remaining iterations one
// at a time. With jam set, a body that is a single inner loop with bounds
// independent of the variable keeps one inner loop around the copies.
func unroll(f *cir.For, shape *cir.LoopShape, factor int64, jam bool) cir.Stmt {
	v := shape.Var
	body := cir.Body(f.Body)

	copies := func(stmts []cir.Stmt) []cir.Stmt {
		scoped := false
		for _, s := range stmts {
			if _, ok := s.(*cir.Decl); ok {
				scoped = true
			}
		}
		var out []cir.Stmt
		for k := int64(0); k < factor; k++ {
			repl := map[string]cir.Expr{v: cir.Add(cir.Id(v), cir.Mul(cir.Int(k), shape.Step))}
			c := cir.SubstStmts(stmts, repl)
			if scoped {
				out = append(out, &cir.Block{Stmts: c})
			} else {
				out = append(out, c...)
			}
		}
		return out
	}

	var mainBody []cir.Stmt
	if inner := jammable(body, v); jam && inner != nil {
		j := cir.CloneStmt(inner).(*cir.For)
		j.Body = &cir.Block{Stmts: copies(cir.Body(inner.Body))}
		mainBody = []cir.Stmt{j}
	} else {
		mainBody = copies(body)
	}

	upper := cir.Sub(shape.Upper, cir.Mul(cir.Int(factor-1), shape.Step))
	main := cir.Canonical(v, cir.CloneExpr(shape.Lower), upper, cir.Mul(cir.Int(factor), shape.Step), mainBody)
	tail := cir.Canonical(v, nil, cir.CloneExpr(shape.Upper), cir.CloneExpr(shape.Step), cir.CloneStmts(body))

	if shape.Type != "" {
		// the variable was declared by the loop; keep it alive for the tail
		decl := &cir.Decl{Type: shape.Type, Vars: []*cir.Var{{Name: v}}}
		return &cir.Block{Stmts: []cir.Stmt{decl, main, tail}}
	}
	return &cir.Block{Flat: true, Stmts: []cir.Stmt{main, tail}}
}

// jammable returns the single inner loop of body when its header does not
// depend on v.
func jammable(body []cir.Stmt, v string) *cir.For {
	if len(body) != 1 {
		return nil
	}
	inner, ok := body[0].(*cir.For)
	if !ok {
		return nil
	}
	if _, err := cir.Shape(inner); err != nil {
		return nil
	}
	for _, n := range []cir.Node{inner.Init, inner.Cond, inner.Post} {
		if n != nil && cir.Idents(n)[v] {
			return nil
		}
	}
	return inner
}
