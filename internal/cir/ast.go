package cir

// Node is any expression, statement or function of the C subset.
type Node interface {
	node()
}

// Expr is an expression node.
type Expr interface {
	Node
	expr()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

type (
	// Ident is a variable or constant name.
	Ident struct {
		Name string
	}

	// IntLit is an integer literal.
	IntLit struct {
		Val int64
	}

	// FloatLit is a floating point literal. Text keeps the source spelling.
	FloatLit struct {
		Val  float64
		Text string
	}

	// StringLit is a string literal, used by generated printf calls.
	StringLit struct {
		Val string
	}

	// Index is an array subscript X[Index].
	Index struct {
		X     Expr
		Index Expr
	}

	// Member is a field selection such as blockIdx.x.
	Member struct {
		X   Expr
		Sel string
	}

	// Call is a function call.
	Call struct {
		Fun  string
		Args []Expr
	}

	// Unary is a prefix operator: - + ! ~ & * ++ --.
	Unary struct {
		Op string
		X  Expr
	}

	// Postfix is a postfix ++ or --.
	Postfix struct {
		Op string
		X  Expr
	}

	// Binary is an infix arithmetic, comparison or logical operator.
	Binary struct {
		Op   string
		X, Y Expr
	}

	// Assign is a simple or compound assignment.
	Assign struct {
		Op       string
		LHS, RHS Expr
	}

	// Paren is an explicitly parenthesised expression from source.
	Paren struct {
		X Expr
	}

	// Cast is a C cast (Type)X.
	Cast struct {
		Type string
		X    Expr
	}

	// Sizeof is sizeof(Type).
	Sizeof struct {
		Type string
	}

	// Cond is the ternary operator.
	Cond struct {
		C, T, F Expr
	}
)

type (
	// ExprStmt is an expression evaluated for its side effects.
	ExprStmt struct {
		X Expr
	}

	// Block is a braced statement list with its own scope. A Flat block
	// groups statements without braces or scope; it prints braced only
	// where C needs a single statement.
	Block struct {
		Stmts []Stmt
		Flat  bool
	}

	// If is a conditional statement. Else may be nil.
	If struct {
		Cond Expr
		Then Stmt
		Else Stmt
	}

	// For is a C for loop. Init is nil, an *ExprStmt or a *Decl.
	For struct {
		Init Stmt
		Cond Expr
		Post Expr
		Body Stmt
	}

	// Decl declares one or more variables of a common base type.
	Decl struct {
		Type string
		Vars []*Var
	}

	// Launch is a CUDA kernel launch Kernel<<<Grid, Block, 0, Stream>>>(Args).
	Launch struct {
		Kernel string
		Grid   Expr
		Block  Expr
		Stream Expr
		Args   []Expr
	}

	// Comment is a generated /* */ comment line.
	Comment struct {
		Text string
	}

	// Empty is a lone semicolon.
	Empty struct{}
)

// Var is one declarator of a Decl.
type Var struct {
	Name string
	Ptr  int
	Dims []Expr
	Init Expr
}

// FuncDecl is a function definition. Qual carries __global__ for kernels.
type FuncDecl struct {
	Qual   string
	Result string
	Name   string
	Params []*Param
	Body   *Block
}

// Param is one function parameter.
type Param struct {
	Type string
	Ptr  int
	Name string
}

// Unit is a parsed translation fragment: function definitions followed by
// or interleaved with statements.
type Unit struct {
	Funcs []*FuncDecl
	Stmts []Stmt
}

func (*Ident) node()     {}
func (*IntLit) node()    {}
func (*FloatLit) node()  {}
func (*StringLit) node() {}
func (*Index) node()     {}
func (*Member) node()    {}
func (*Call) node()      {}
func (*Unary) node()     {}
func (*Postfix) node()   {}
func (*Binary) node()    {}
func (*Assign) node()    {}
func (*Paren) node()     {}
func (*Cast) node()      {}
func (*Sizeof) node()    {}
func (*Cond) node()      {}
func (*ExprStmt) node()  {}
func (*Block) node()     {}
func (*If) node()        {}
func (*For) node()       {}
func (*Decl) node()      {}
func (*Launch) node()    {}
func (*Comment) node()   {}
func (*Empty) node()     {}
func (*FuncDecl) node()  {}

func (*Ident) expr()     {}
func (*IntLit) expr()    {}
func (*FloatLit) expr()  {}
func (*StringLit) expr() {}
func (*Index) expr()     {}
func (*Member) expr()    {}
func (*Call) expr()      {}
func (*Unary) expr()     {}
func (*Postfix) expr()   {}
func (*Binary) expr()    {}
func (*Assign) expr()    {}
func (*Paren) expr()     {}
func (*Cast) expr()      {}
func (*Sizeof) expr()    {}
func (*Cond) expr()      {}

func (*ExprStmt) stmt() {}
func (*Block) stmt()    {}
func (*If) stmt()       {}
func (*For) stmt()      {}
func (*Decl) stmt()     {}
func (*Launch) stmt()   {}
func (*Comment) stmt()  {}
func (*Empty) stmt()    {}

// Helpers for building generated code.

// Id returns an identifier expression.
func Id(name string) *Ident { return &Ident{Name: name} }

// Int returns an integer literal.
func Int(v int64) *IntLit { return &IntLit{Val: v} }

// Bin returns a binary expression.
func Bin(op string, x, y Expr) *Binary { return &Binary{Op: op, X: x, Y: y} }

// Set returns the statement lhs = rhs;.
func Set(lhs, rhs Expr) *ExprStmt { return &ExprStmt{X: &Assign{Op: "=", LHS: lhs, RHS: rhs}} }

// CallStmt returns a call statement.
func CallStmt(fun string, args ...Expr) *ExprStmt { return &ExprStmt{X: &Call{Fun: fun, Args: args}} }

// Addr returns &x.
func Addr(x Expr) *Unary { return &Unary{Op: "&", X: x} }

// At returns x[i].
func At(x Expr, i Expr) *Index { return &Index{X: x, Index: i} }

// Add returns x+y, folding integer literals and zero operands.
func Add(x, y Expr) Expr {
	if a, ok := x.(*IntLit); ok {
		if b, ok := y.(*IntLit); ok {
			return Int(a.Val + b.Val)
		}
		if a.Val == 0 {
			return y
		}
	}
	if b, ok := y.(*IntLit); ok {
		if b.Val == 0 {
			return x
		}
		if b.Val < 0 {
			return Bin("-", x, Int(-b.Val))
		}
	}
	return Bin("+", x, y)
}

// Sub returns x-y, folding integer literals and a zero right operand.
func Sub(x, y Expr) Expr {
	if a, ok := x.(*IntLit); ok {
		if b, ok := y.(*IntLit); ok {
			return Int(a.Val - b.Val)
		}
	}
	if b, ok := y.(*IntLit); ok {
		if b.Val == 0 {
			return x
		}
		if b.Val < 0 {
			return Bin("+", x, Int(-b.Val))
		}
	}
	return Bin("-", x, y)
}

// Mul returns x*y, folding integer literals and unit operands.
func Mul(x, y Expr) Expr {
	if a, ok := x.(*IntLit); ok {
		if b, ok := y.(*IntLit); ok {
			return Int(a.Val * b.Val)
		}
		if a.Val == 1 {
			return y
		}
	}
	if b, ok := y.(*IntLit); ok && b.Val == 1 {
		return x
	}
	return Bin("*", x, y)
}
