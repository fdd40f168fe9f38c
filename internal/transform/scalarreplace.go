package transform

import (
	"github.com/specialistvlad/looptune/internal/cir"
)

func (p *program) scalarReplace(s *ScalarReplace) error {
	if !s.On {
		return nil
	}
	loopBodies(p.focus.Stmts, func(b *cir.Block) {
		p.replaceScalars(b, s)
	})
	return nil
}

// elemRef is one array element reference of a straight-line statement.
type elemRef struct {
	key     string
	array   string
	index   *cir.Index
	stmt    int
	written bool
}

// replaceScalars rewrites one block. An element is replaced when it is
// referenced at least twice, only by expression statements of the block,
// with a subscript the block does not change. Elements of a written array
// are replaced only when its subscripts provably name distinct elements.
func (p *program) replaceScalars(b *cir.Block, s *ScalarReplace) {
	assigned := cir.Assigned(b)
	bad := make(map[string]bool)
	var refs []elemRef

	idents := make(map[string]int)
	bases := make(map[string]int)
	cir.Inspect(b, func(n cir.Node) bool {
		switch n := n.(type) {
		case *cir.Ident:
			idents[n.Name]++
		case *cir.Index:
			if id, ok := n.X.(*cir.Ident); ok {
				bases[id.Name]++
			}
		}
		return true
	})

	for i, st := range b.Stmts {
		es, ok := st.(*cir.ExprStmt)
		if !ok {
			cir.Inspect(st, func(n cir.Node) bool {
				if ix, ok := n.(*cir.Index); ok {
					markBases(ix, bad)
				}
				return true
			})
			continue
		}
		writes := make(map[*cir.Index]bool)
		cir.Inspect(es, func(n cir.Node) bool {
			var target cir.Expr
			switch n := n.(type) {
			case *cir.Assign:
				target = n.LHS
			case *cir.Postfix:
				target = n.X
			case *cir.Unary:
				switch n.Op {
				case "++", "--":
					target = n.X
				case "&":
					if ix, ok := n.X.(*cir.Index); ok {
						markBases(ix, bad)
					}
				}
			}
			if ix, ok := target.(*cir.Index); ok {
				writes[ix] = true
			}
			return true
		})
		cir.Inspect(es, func(n cir.Node) bool {
			ix, ok := n.(*cir.Index)
			if !ok {
				return true
			}
			id, ok := ix.X.(*cir.Ident)
			if !ok {
				markBases(ix, bad)
				return true
			}
			if !invariantSubscript(ix.Index, assigned) {
				bad[id.Name] = true
			}
			refs = append(refs, elemRef{
				key:     cir.PrintExpr(ix),
				array:   id.Name,
				index:   ix,
				stmt:    i,
				written: writes[ix],
			})
			return true
		})
	}
	for name, n := range idents {
		if n > bases[name] && bases[name] > 0 {
			// the array is also used as a plain pointer
			bad[name] = true
		}
	}

	keysOf := make(map[string]map[string]cir.Expr)
	writtenArr := make(map[string]bool)
	count := make(map[string]int)
	var order []string
	first := make(map[string]elemRef)
	writtenKey := make(map[string]bool)
	for _, r := range refs {
		if keysOf[r.array] == nil {
			keysOf[r.array] = make(map[string]cir.Expr)
		}
		keysOf[r.array][r.key] = r.index.Index
		if r.written {
			writtenArr[r.array] = true
			writtenKey[r.key] = true
		}
		if count[r.key] == 0 {
			order = append(order, r.key)
			first[r.key] = r
		}
		count[r.key]++
	}

	temps := make(map[string]string)
	var chosen []string
	for _, key := range order {
		r := first[key]
		if bad[r.array] || count[key] < 2 {
			continue
		}
		if writtenArr[r.array] && !disjoint(keysOf[r.array]) {
			continue
		}
		chosen = append(chosen, key)
		temps[key] = p.tempName(s.Prefix)
	}
	if len(chosen) == 0 {
		return
	}

	rewrite := func(e cir.Expr) cir.Expr {
		if ix, ok := e.(*cir.Index); ok {
			if t, ok := temps[cir.PrintExpr(ix)]; ok {
				return cir.Id(t)
			}
		}
		return nil
	}
	loads := make(map[int][]cir.Stmt)
	for _, key := range chosen {
		r := first[key]
		typ := s.DType
		if typ == "" {
			typ = p.syms.Elem(r.array)
		}
		v := &cir.Var{Name: temps[key]}
		if !pureStore(b.Stmts[r.stmt], key) {
			v.Init = cir.CloneExpr(r.index)
		}
		loads[r.stmt] = append(loads[r.stmt], &cir.Decl{Type: typ, Vars: []*cir.Var{v}})
	}

	var out []cir.Stmt
	for i, st := range b.Stmts {
		out = append(out, loads[i]...)
		if es, ok := st.(*cir.ExprStmt); ok {
			st = &cir.ExprStmt{X: cir.RewriteExpr(es.X, rewrite)}
		}
		out = append(out, st)
	}
	for _, key := range chosen {
		if writtenKey[key] {
			out = append(out, cir.Set(cir.CloneExpr(first[key].index), cir.Id(temps[key])))
		}
	}
	b.Stmts = out
}

// pureStore reports whether st is a plain assignment to the element key
// whose right-hand side does not read it.
func pureStore(st cir.Stmt, key string) bool {
	es, ok := st.(*cir.ExprStmt)
	if !ok {
		return false
	}
	a, ok := es.X.(*cir.Assign)
	if !ok || a.Op != "=" || cir.PrintExpr(a.LHS) != key {
		return false
	}
	reads := false
	cir.Inspect(a.RHS, func(n cir.Node) bool {
		if ix, ok := n.(*cir.Index); ok && cir.PrintExpr(ix) == key {
			reads = true
		}
		return !reads
	})
	return !reads
}

func invariantSubscript(sub cir.Expr, assigned map[string]bool) bool {
	ok := true
	cir.Inspect(sub, func(n cir.Node) bool {
		switch n := n.(type) {
		case *cir.Index, *cir.Call, *cir.Assign, *cir.Postfix:
			ok = false
		case *cir.Unary:
			if n.Op == "++" || n.Op == "--" || n.Op == "*" {
				ok = false
			}
		case *cir.Ident:
			if assigned[n.Name] {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// markBases marks every array name subscripted within ix.
func markBases(ix *cir.Index, bad map[string]bool) {
	cir.Inspect(ix, func(n cir.Node) bool {
		if in, ok := n.(*cir.Index); ok {
			if id, ok := in.X.(*cir.Ident); ok {
				bad[id.Name] = true
			}
		}
		return true
	})
}

// disjoint reports whether the subscripts differ pairwise by a constant
// offset from a common expression, so no two name the same element.
func disjoint(subs map[string]cir.Expr) bool {
	base := ""
	offsets := make(map[int64]bool)
	for _, sub := range subs {
		b, off := splitOffset(sub)
		if len(offsets) > 0 && b != base {
			return false
		}
		base = b
		if offsets[off] {
			return false
		}
		offsets[off] = true
	}
	return true
}

// splitOffset splits e into e' + c for an integer literal c.
func splitOffset(e cir.Expr) (string, int64) {
	if b, ok := e.(*cir.Binary); ok {
		if lit, ok := b.Y.(*cir.IntLit); ok && (b.Op == "+" || b.Op == "-") {
			base, off := splitOffset(b.X)
			if b.Op == "+" {
				return base, off + lit.Val
			}
			return base, off - lit.Val
		}
	}
	if lit, ok := e.(*cir.IntLit); ok {
		return "", lit.Val
	}
	return cir.PrintExpr(e), 0
}
