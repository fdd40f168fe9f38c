package cir

// Inspect traverses the tree rooted at n in depth-first order. If f returns
// false the children of that node are skipped.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	switch n := n.(type) {
	case *Index:
		Inspect(n.X, f)
		Inspect(n.Index, f)
	case *Member:
		Inspect(n.X, f)
	case *Call:
		for _, a := range n.Args {
			Inspect(a, f)
		}
	case *Unary:
		Inspect(n.X, f)
	case *Postfix:
		Inspect(n.X, f)
	case *Binary:
		Inspect(n.X, f)
		Inspect(n.Y, f)
	case *Assign:
		Inspect(n.LHS, f)
		Inspect(n.RHS, f)
	case *Paren:
		Inspect(n.X, f)
	case *Cast:
		Inspect(n.X, f)
	case *Cond:
		Inspect(n.C, f)
		Inspect(n.T, f)
		Inspect(n.F, f)
	case *ExprStmt:
		Inspect(n.X, f)
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *If:
		Inspect(n.Cond, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *For:
		if n.Init != nil {
			Inspect(n.Init, f)
		}
		if n.Cond != nil {
			Inspect(n.Cond, f)
		}
		if n.Post != nil {
			Inspect(n.Post, f)
		}
		Inspect(n.Body, f)
	case *Decl:
		for _, v := range n.Vars {
			for _, d := range v.Dims {
				Inspect(d, f)
			}
			if v.Init != nil {
				Inspect(v.Init, f)
			}
		}
	case *Launch:
		Inspect(n.Grid, f)
		Inspect(n.Block, f)
		if n.Stream != nil {
			Inspect(n.Stream, f)
		}
		for _, a := range n.Args {
			Inspect(a, f)
		}
	case *FuncDecl:
		Inspect(n.Body, f)
	}
}

// CloneExpr returns a deep copy of e.
func CloneExpr(e Expr) Expr {
	return SubstExpr(e, nil)
}

// CloneStmt returns a deep copy of s.
func CloneStmt(s Stmt) Stmt {
	return SubstStmt(s, nil)
}

// CloneStmts returns deep copies of stmts.
func CloneStmts(stmts []Stmt) []Stmt {
	out := make([]Stmt, len(stmts))
	for i, s := range stmts {
		out[i] = CloneStmt(s)
	}
	return out
}

// CloneFunc returns a deep copy of f.
func CloneFunc(f *FuncDecl) *FuncDecl {
	c := *f
	c.Params = make([]*Param, len(f.Params))
	for i, p := range f.Params {
		pc := *p
		c.Params[i] = &pc
	}
	c.Body = CloneStmt(f.Body).(*Block)
	return &c
}

// SubstExpr returns a copy of e in which every identifier named in repl is
// replaced by a copy of its replacement.
func SubstExpr(e Expr, repl map[string]Expr) Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *Ident:
		if r, ok := repl[e.Name]; ok {
			return SubstExpr(r, nil)
		}
		return &Ident{Name: e.Name}
	case *IntLit:
		c := *e
		return &c
	case *FloatLit:
		c := *e
		return &c
	case *StringLit:
		c := *e
		return &c
	case *Index:
		return &Index{X: SubstExpr(e.X, repl), Index: SubstExpr(e.Index, repl)}
	case *Member:
		return &Member{X: SubstExpr(e.X, repl), Sel: e.Sel}
	case *Call:
		return &Call{Fun: e.Fun, Args: substExprs(e.Args, repl)}
	case *Unary:
		return &Unary{Op: e.Op, X: SubstExpr(e.X, repl)}
	case *Postfix:
		return &Postfix{Op: e.Op, X: SubstExpr(e.X, repl)}
	case *Binary:
		return &Binary{Op: e.Op, X: SubstExpr(e.X, repl), Y: SubstExpr(e.Y, repl)}
	case *Assign:
		return &Assign{Op: e.Op, LHS: SubstExpr(e.LHS, repl), RHS: SubstExpr(e.RHS, repl)}
	case *Paren:
		return &Paren{X: SubstExpr(e.X, repl)}
	case *Cast:
		return &Cast{Type: e.Type, X: SubstExpr(e.X, repl)}
	case *Sizeof:
		return &Sizeof{Type: e.Type}
	case *Cond:
		return &Cond{C: SubstExpr(e.C, repl), T: SubstExpr(e.T, repl), F: SubstExpr(e.F, repl)}
	}
	panic("cir: unknown expression type")
}

func substExprs(es []Expr, repl map[string]Expr) []Expr {
	if es == nil {
		return nil
	}
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = SubstExpr(e, repl)
	}
	return out
}

// SubstStmt returns a copy of s with identifiers replaced as in SubstExpr.
func SubstStmt(s Stmt, repl map[string]Expr) Stmt {
	if s == nil {
		return nil
	}
	switch s := s.(type) {
	case *ExprStmt:
		return &ExprStmt{X: SubstExpr(s.X, repl)}
	case *Block:
		return &Block{Stmts: SubstStmts(s.Stmts, repl), Flat: s.Flat}
	case *If:
		return &If{Cond: SubstExpr(s.Cond, repl), Then: SubstStmt(s.Then, repl), Else: SubstStmt(s.Else, repl)}
	case *For:
		return &For{
			Init: SubstStmt(s.Init, repl),
			Cond: SubstExpr(s.Cond, repl),
			Post: SubstExpr(s.Post, repl),
			Body: SubstStmt(s.Body, repl),
		}
	case *Decl:
		d := &Decl{Type: s.Type}
		for _, v := range s.Vars {
			d.Vars = append(d.Vars, &Var{
				Name: v.Name,
				Ptr:  v.Ptr,
				Dims: substExprs(v.Dims, repl),
				Init: SubstExpr(v.Init, repl),
			})
		}
		return d
	case *Launch:
		return &Launch{
			Kernel: s.Kernel,
			Grid:   SubstExpr(s.Grid, repl),
			Block:  SubstExpr(s.Block, repl),
			Stream: SubstExpr(s.Stream, repl),
			Args:   substExprs(s.Args, repl),
		}
	case *Comment:
		return &Comment{Text: s.Text}
	case *Empty:
		return &Empty{}
	}
	panic("cir: unknown statement type")
}

// SubstStmts applies SubstStmt to each statement.
func SubstStmts(stmts []Stmt, repl map[string]Expr) []Stmt {
	out := make([]Stmt, len(stmts))
	for i, s := range stmts {
		out[i] = SubstStmt(s, repl)
	}
	return out
}

// Idents returns the set of identifier names referenced under n.
func Idents(n Node) map[string]bool {
	out := make(map[string]bool)
	Inspect(n, func(n Node) bool {
		if id, ok := n.(*Ident); ok {
			out[id.Name] = true
		}
		return true
	})
	return out
}

// Assigned returns the names of scalar variables written under n, by
// assignment or increment.
func Assigned(n Node) map[string]bool {
	out := make(map[string]bool)
	Inspect(n, func(n Node) bool {
		var target Expr
		switch n := n.(type) {
		case *Assign:
			target = n.LHS
		case *Postfix:
			target = n.X
		case *Unary:
			if n.Op == "++" || n.Op == "--" {
				target = n.X
			}
		case *Decl:
			for _, v := range n.Vars {
				out[v.Name] = true
			}
		}
		if id, ok := target.(*Ident); ok {
			out[id.Name] = true
		}
		return true
	})
	return out
}

// RewriteExpr returns a copy of e in which every subexpression for which f
// returns a non-nil replacement is replaced. Replacements are not
// revisited.
func RewriteExpr(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	if r := f(e); r != nil {
		return r
	}
	rw := func(x Expr) Expr { return RewriteExpr(x, f) }
	switch e := e.(type) {
	case *Index:
		return &Index{X: rw(e.X), Index: rw(e.Index)}
	case *Member:
		return &Member{X: rw(e.X), Sel: e.Sel}
	case *Call:
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = rw(a)
		}
		return &Call{Fun: e.Fun, Args: args}
	case *Unary:
		return &Unary{Op: e.Op, X: rw(e.X)}
	case *Postfix:
		return &Postfix{Op: e.Op, X: rw(e.X)}
	case *Binary:
		return &Binary{Op: e.Op, X: rw(e.X), Y: rw(e.Y)}
	case *Assign:
		return &Assign{Op: e.Op, LHS: rw(e.LHS), RHS: rw(e.RHS)}
	case *Paren:
		return &Paren{X: rw(e.X)}
	case *Cast:
		return &Cast{Type: e.Type, X: rw(e.X)}
	case *Cond:
		return &Cond{C: rw(e.C), T: rw(e.T), F: rw(e.F)}
	}
	return CloneExpr(e)
}
