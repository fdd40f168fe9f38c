package cir

import "fmt"

// LoopShape is the canonical form of a counted for loop:
// for (Var = Lower; Var <= Upper; Var += Step). Step is a positive
// integer literal or a loop-invariant expression assumed positive.
type LoopShape struct {
	Var   string
	Lower Expr
	Upper Expr // inclusive
	Step  Expr
	// Type is set when the loop declares its variable in the init clause.
	Type string
}

// Shape recognises counted upward loops. Strict upper bounds are
// normalised to inclusive ones.
func Shape(f *For) (*LoopShape, error) {
	s := &LoopShape{}
	switch init := f.Init.(type) {
	case *ExprStmt:
		a, ok := init.X.(*Assign)
		if !ok || a.Op != "=" {
			return nil, fmt.Errorf("loop initialiser must assign the loop variable")
		}
		id, ok := a.LHS.(*Ident)
		if !ok {
			return nil, fmt.Errorf("loop initialiser must assign a variable")
		}
		s.Var, s.Lower = id.Name, a.RHS
	case *Decl:
		if len(init.Vars) != 1 || init.Vars[0].Init == nil {
			return nil, fmt.Errorf("loop initialiser must declare one variable")
		}
		s.Var, s.Lower, s.Type = init.Vars[0].Name, init.Vars[0].Init, init.Type
	default:
		return nil, fmt.Errorf("loop has no initialiser")
	}

	cond, ok := unparen(f.Cond).(*Binary)
	if !ok {
		return nil, fmt.Errorf("loop condition must compare %s with a bound", s.Var)
	}
	if id, ok := cond.X.(*Ident); !ok || id.Name != s.Var {
		return nil, fmt.Errorf("loop condition must start with %s", s.Var)
	}
	switch cond.Op {
	case "<=":
		s.Upper = cond.Y
	case "<":
		s.Upper = Sub(cond.Y, Int(1))
	default:
		return nil, fmt.Errorf("unsupported loop condition operator %s", cond.Op)
	}
	if Idents(s.Upper)[s.Var] {
		return nil, fmt.Errorf("loop bound depends on %s", s.Var)
	}

	step, err := loopStep(f.Post, s.Var)
	if err != nil {
		return nil, err
	}
	s.Step = step
	assigned := Assigned(f.Body)
	if assigned[s.Var] {
		return nil, fmt.Errorf("loop body assigns %s", s.Var)
	}
	for name := range Idents(s.Step) {
		if assigned[name] {
			return nil, fmt.Errorf("loop step depends on %s, which the body assigns", name)
		}
	}
	return s, nil
}

// ConstStep returns the step when it is an integer literal.
func (s *LoopShape) ConstStep() (int64, bool) {
	if lit, ok := s.Step.(*IntLit); ok {
		return lit.Val, true
	}
	return 0, false
}

func loopStep(post Expr, v string) (Expr, error) {
	isVar := func(e Expr) bool {
		id, ok := e.(*Ident)
		return ok && id.Name == v
	}
	valid := func(step Expr) bool {
		if lit, ok := step.(*IntLit); ok {
			return lit.Val > 0
		}
		if _, ok := step.(*FloatLit); ok {
			return false
		}
		return !Idents(step)[v]
	}
	var step Expr
	switch p := post.(type) {
	case *Postfix:
		if p.Op == "++" && isVar(p.X) {
			step = Int(1)
		}
	case *Unary:
		if p.Op == "++" && isVar(p.X) {
			step = Int(1)
		}
	case *Assign:
		if !isVar(p.LHS) {
			break
		}
		if p.Op == "+=" {
			step = unparen(p.RHS)
		}
		if b, ok := unparen(p.RHS).(*Binary); ok && p.Op == "=" && b.Op == "+" && isVar(b.X) {
			step = unparen(b.Y)
		}
	}
	if step == nil || !valid(step) {
		return nil, fmt.Errorf("loop increment must be a positive step of %s", v)
	}
	return step, nil
}

func unparen(e Expr) Expr {
	for {
		p, ok := e.(*Paren)
		if !ok {
			return e
		}
		e = p.X
	}
}

// Body returns the statements of a loop or branch body.
func Body(s Stmt) []Stmt {
	if b, ok := s.(*Block); ok {
		return b.Stmts
	}
	return []Stmt{s}
}

// Canonical returns a for loop over v from lower to upper inclusive with
// the given step and body. A nil lower leaves the initialiser empty.
func Canonical(v string, lower, upper, step Expr, body []Stmt) *For {
	f := &For{
		Cond: Bin("<=", Id(v), upper),
		Post: Increment(v, step),
		Body: &Block{Stmts: body},
	}
	if lower != nil {
		f.Init = Set(Id(v), lower)
	}
	return f
}

// Increment returns v++ for a unit step, else v += step.
func Increment(v string, step Expr) Expr {
	if lit, ok := step.(*IntLit); ok && lit.Val == 1 {
		return &Postfix{Op: "++", X: Id(v)}
	}
	return &Assign{Op: "+=", LHS: Id(v), RHS: step}
}
