package transform

import (
	"strconv"

	"github.com/specialistvlad/looptune/internal/cir"
)

// spmv replaces the region's loop with a compressed sparse row product
// built from the declared roles. Rows are processed OutUnroll at a time,
// each accumulating into its own temporary; the entries of a row are
// consumed InUnroll at a time. Both levels end with a remainder loop.
// Every row sums its entries left to right, as the reference loop does.
func (p *program) spmv(s *SpMV) error {
	if s.OutUnroll < 1 {
		return p.errorf(NameSpMV, "out_unroll_factor", s.Range, "must be at least 1, got %d", s.OutUnroll)
	}
	if s.InUnroll < 1 {
		return p.errorf(NameSpMV, "in_unroll_factor", s.Range, "must be at least 1, got %d", s.InUnroll)
	}
	exprs := make(map[string]cir.Expr)
	for _, role := range append([]string{"init_val"}, spmvRequired...) {
		e, err := cir.ParseExpr(s.Roles[role])
		if err != nil {
			return p.errorf(NameSpMV, role, s.Range, "%q is not a C expression: %s", s.Roles[role], err)
		}
		exprs[role] = e
	}
	for _, role := range []string{"out_vector", "in_vector", "in_matrix", "row_inds", "col_inds", "out_loop_var", "in_loop_var"} {
		if _, ok := exprs[role].(*cir.Ident); !ok {
			return p.errorf(NameSpMV, role, s.Range, "%q must be a name", s.Roles[role])
		}
	}
	site, ok := firstLoop(p.focus.Stmts)
	if !ok {
		return p.errorf(NameSpMV, "", s.Range, "no loop to replace")
	}

	g := &spmvGen{
		rows: exprs["num_rows"], y: s.Roles["out_vector"], x: s.Roles["in_vector"],
		aa: s.Roles["in_matrix"], ai: s.Roles["row_inds"], aj: s.Roles["col_inds"],
		i: s.Roles["out_loop_var"], j: s.Roles["in_loop_var"],
		elem: s.Roles["elm_type"], init: exprs["init_val"],
	}
	last := cir.Sub(cir.CloneExpr(g.rows), cir.Int(1))

	var out []cir.Stmt
	u := s.OutUnroll
	main := cir.Canonical(g.i, cir.Int(0), cir.Sub(last, cir.Int(u-1)), cir.Int(u), g.rowGroup(u, s.InUnroll))
	out = append(out, main)
	if u > 1 {
		out = append(out, cir.Canonical(g.i, nil, cir.CloneExpr(last), cir.Int(1), g.rowGroup(1, s.InUnroll)))
	}
	site.replace(&cir.Block{Flat: true, Stmts: out})
	return nil
}

type spmvGen struct {
	rows             cir.Expr
	y, x, aa, ai, aj string
	i, j             string
	elem             string
	init             cir.Expr
}

func (g *spmvGen) temp(k int64) string {
	return genPrefix + g.y + strconv.FormatInt(k, 10)
}

// rowGroup returns the statements computing rows i..i+rows-1.
func (g *spmvGen) rowGroup(rows, inner int64) []cir.Stmt {
	decl := &cir.Decl{Type: g.elem}
	for k := range rows {
		decl.Vars = append(decl.Vars, &cir.Var{Name: g.temp(k), Init: cir.CloneExpr(g.init)})
	}
	out := []cir.Stmt{decl}
	for k := range rows {
		out = append(out, g.row(k, inner)...)
	}
	for k := range rows {
		out = append(out, cir.Set(cir.At(cir.Id(g.y), cir.Add(cir.Id(g.i), cir.Int(k))), cir.Id(g.temp(k))))
	}
	return out
}

// row returns the loops summing the entries of row i+k into its
// temporary.
func (g *spmvGen) row(k, inner int64) []cir.Stmt {
	t := g.temp(k)
	lb := cir.At(cir.Id(g.ai), cir.Add(cir.Id(g.i), cir.Int(k)))
	ub := cir.Sub(cir.At(cir.Id(g.ai), cir.Add(cir.Id(g.i), cir.Int(k+1))), cir.Int(1))

	product := func(off int64) cir.Expr {
		idx := cir.Add(cir.Id(g.j), cir.Int(off))
		return cir.Mul(cir.At(cir.Id(g.aa), idx), cir.At(cir.Id(g.x), cir.At(cir.Id(g.aj), cir.CloneExpr(idx))))
	}
	sum := func(n int64) cir.Stmt {
		var e cir.Expr = cir.Id(t)
		for off := range n {
			e = cir.Bin("+", e, product(off))
		}
		return cir.Set(cir.Id(t), e)
	}

	out := []cir.Stmt{cir.Canonical(g.j, lb, cir.Sub(ub, cir.Int(inner-1)), cir.Int(inner), []cir.Stmt{sum(inner)})}
	if inner > 1 {
		out = append(out, cir.Canonical(g.j, nil, cir.CloneExpr(ub), cir.Int(1), []cir.Stmt{sum(1)}))
	}
	return out
}
