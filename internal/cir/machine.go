package cir

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

type valKind int

const (
	vInt valKind = iota
	vFloat
	vPtr
	vRef
)

// value is a runtime value of the interpreter.
type value struct {
	kind valKind
	i    int64
	f    float64
	ptr  pointer
	ref  *lvalue
}

type pointer struct {
	arr *Array
	off int
}

// Array is a block of memory on the host or the simulated device.
type Array struct {
	Name   string
	Data   []float64
	Int    bool
	Device bool
	elem   int64
	freed  bool
}

type cell struct {
	typ string
	val value
}

// lvalue is an assignable location: a variable cell or an array element.
type lvalue struct {
	cell *cell
	arr  *Array
	off  int
}

type scope struct {
	vars   map[string]*cell
	parent *scope
}

func (s *scope) lookup(name string) *cell {
	for sc := s; sc != nil; sc = sc.parent {
		if c, ok := sc.vars[name]; ok {
			return c
		}
	}
	return nil
}

type stream struct{ live bool }

type event struct {
	live     bool
	recorded bool
	stream   int64
	at       int
}

// Machine interprets the C subset, simulating the CUDA runtime calls and
// kernel launches that generated code uses. Kernel launches execute every
// thread of every block sequentially.
type Machine struct {
	// MaxSteps bounds the number of executed statements.
	MaxSteps int

	// Launches counts executed kernel launches.
	Launches int

	// Stdout receives printf output when set.
	Stdout io.Writer

	kernels  map[string]*FuncDecl
	globals  *scope
	cur      *scope
	inKernel bool
	steps    int
	streams  []*stream
	events   []*event
	seed     uint64
}

// ErrStepLimit is returned when execution exceeds MaxSteps.
var ErrStepLimit = errors.New("step limit exceeded")

// NewMachine returns a machine with an empty global scope.
func NewMachine() *Machine {
	g := &scope{vars: make(map[string]*cell)}
	m := &Machine{MaxSteps: 50_000_000, kernels: make(map[string]*FuncDecl), globals: g, cur: g, seed: 1}
	for name, v := range map[string]int64{
		"cudaMemcpyHostToHost":     0,
		"cudaMemcpyHostToDevice":   1,
		"cudaMemcpyDeviceToHost":   2,
		"cudaMemcpyDeviceToDevice": 3,
		"cudaFuncCachePreferL1":    2,
		"cudaSuccess":              0,
	} {
		g.vars[name] = &cell{typ: "int", val: value{kind: vInt, i: v}}
	}
	// stream 0 is the default stream
	m.streams = append(m.streams, &stream{live: true})
	return m
}

// SetInt defines an integer global.
func (m *Machine) SetInt(name string, v int64) {
	m.globals.vars[name] = &cell{typ: "int", val: value{kind: vInt, i: v}}
}

// SetFloat defines a double global.
func (m *Machine) SetFloat(name string, v float64) {
	m.globals.vars[name] = &cell{typ: "double", val: value{kind: vFloat, f: v}}
}

// SetArray defines a host double array global holding a copy of data.
func (m *Machine) SetArray(name string, data []float64) {
	arr := &Array{Name: name, Data: append([]float64(nil), data...), elem: 8}
	m.globals.vars[name] = &cell{typ: "double*", val: value{kind: vPtr, ptr: pointer{arr: arr}}}
}

// SetIntArray defines a host int array global.
func (m *Machine) SetIntArray(name string, data []int64) {
	arr := &Array{Name: name, Int: true, Data: make([]float64, len(data)), elem: 4}
	for i, v := range data {
		arr.Data[i] = float64(v)
	}
	m.globals.vars[name] = &cell{typ: "int*", val: value{kind: vPtr, ptr: pointer{arr: arr}}}
}

// Float returns the value of a scalar global.
func (m *Machine) Float(name string) (float64, error) {
	c := m.globals.lookup(name)
	if c == nil {
		return 0, fmt.Errorf("undefined %s", name)
	}
	return c.val.float(), nil
}

// Array returns a copy of the contents of a global array.
func (m *Machine) Array(name string) ([]float64, error) {
	c := m.globals.lookup(name)
	if c == nil || c.val.kind != vPtr || c.val.ptr.arr == nil {
		return nil, fmt.Errorf("%s is not an array", name)
	}
	src := c.val.ptr.arr.Data[c.val.ptr.off:]
	out := make([]float64, len(src))
	copy(out, src)
	return out, nil
}

// Define registers kernel functions for launches.
func (m *Machine) Define(funcs ...*FuncDecl) {
	for _, f := range funcs {
		m.kernels[f.Name] = f
	}
}

// Exec runs statements in the global scope.
func (m *Machine) Exec(stmts []Stmt) error {
	for _, s := range stmts {
		if err := m.exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Run parses src as a unit, defines its functions and executes its
// statements.
func (m *Machine) Run(src string) error {
	u, err := ParseUnit(src)
	if err != nil {
		return err
	}
	m.Define(u.Funcs...)
	return m.Exec(u.Stmts)
}

func (m *Machine) push() func() {
	prev := m.cur
	m.cur = &scope{vars: make(map[string]*cell), parent: prev}
	return func() { m.cur = prev }
}

func (m *Machine) exec(s Stmt) error {
	m.steps++
	if m.MaxSteps > 0 && m.steps > m.MaxSteps {
		return ErrStepLimit
	}
	switch s := s.(type) {
	case *ExprStmt:
		_, err := m.eval(s.X)
		return err
	case *Block:
		if !s.Flat {
			defer m.push()()
		}
		for _, st := range s.Stmts {
			if err := m.exec(st); err != nil {
				return err
			}
		}
		return nil
	case *If:
		c, err := m.eval(s.Cond)
		if err != nil {
			return err
		}
		if c.truthy() {
			return m.exec(s.Then)
		}
		if s.Else != nil {
			return m.exec(s.Else)
		}
		return nil
	case *For:
		defer m.push()()
		if s.Init != nil {
			if err := m.exec(s.Init); err != nil {
				return err
			}
		}
		for {
			if s.Cond != nil {
				c, err := m.eval(s.Cond)
				if err != nil {
					return err
				}
				if !c.truthy() {
					return nil
				}
			}
			if err := m.exec(s.Body); err != nil {
				return err
			}
			if s.Post != nil {
				if _, err := m.eval(s.Post); err != nil {
					return err
				}
			}
			m.steps++
			if m.MaxSteps > 0 && m.steps > m.MaxSteps {
				return ErrStepLimit
			}
		}
	case *Decl:
		return m.declare(s)
	case *Launch:
		return m.launch(s)
	case *Comment, *Empty:
		return nil
	}
	return fmt.Errorf("cannot execute %T", s)
}

func (m *Machine) declare(d *Decl) error {
	base := baseType(d.Type)
	for _, v := range d.Vars {
		c := &cell{typ: base + strings.Repeat("*", v.Ptr)}
		switch {
		case len(v.Dims) > 0:
			n := int64(1)
			for _, dim := range v.Dims {
				dv, err := m.eval(dim)
				if err != nil {
					return err
				}
				n *= dv.int()
			}
			if n < 0 {
				return fmt.Errorf("negative size for %s", v.Name)
			}
			arr := &Array{Name: v.Name, Data: make([]float64, n), Int: isIntType(base), Device: m.inKernel, elem: sizeOf(base)}
			c.typ = base + "*"
			c.val = value{kind: vPtr, ptr: pointer{arr: arr}}
		case v.Init != nil:
			iv, err := m.eval(v.Init)
			if err != nil {
				return err
			}
			c.val = convert(iv, c.typ)
		default:
			c.val = convert(value{}, c.typ)
		}
		m.cur.vars[v.Name] = c
	}
	return nil
}

func (m *Machine) launch(l *Launch) error {
	if m.inKernel {
		return errors.New("nested kernel launch")
	}
	k, ok := m.kernels[l.Kernel]
	if !ok {
		return fmt.Errorf("undefined kernel %s", l.Kernel)
	}
	gv, err := m.eval(l.Grid)
	if err != nil {
		return err
	}
	bv, err := m.eval(l.Block)
	if err != nil {
		return err
	}
	grid, block := gv.int(), bv.int()
	if grid <= 0 || block <= 0 {
		return fmt.Errorf("invalid launch configuration %d x %d", grid, block)
	}
	if l.Stream != nil {
		sv, err := m.eval(l.Stream)
		if err != nil {
			return err
		}
		if err := m.checkStream(sv.int()); err != nil {
			return err
		}
	}
	if len(l.Args) != len(k.Params) {
		return fmt.Errorf("kernel %s takes %d arguments, got %d", k.Name, len(k.Params), len(l.Args))
	}
	args := make([]value, len(l.Args))
	for i, a := range l.Args {
		if args[i], err = m.eval(a); err != nil {
			return err
		}
		if args[i].kind == vPtr && args[i].ptr.arr != nil && !args[i].ptr.arr.Device {
			return fmt.Errorf("kernel %s: argument %s points to host memory", k.Name, k.Params[i].Name)
		}
	}

	m.Launches++
	saved := m.cur
	m.inKernel = true
	defer func() {
		m.inKernel = false
		m.cur = saved
	}()
	for b := int64(0); b < grid; b++ {
		for t := int64(0); t < block; t++ {
			sc := &scope{vars: make(map[string]*cell), parent: m.globals}
			for i, p := range k.Params {
				typ := baseType(p.Type) + strings.Repeat("*", p.Ptr)
				sc.vars[p.Name] = &cell{typ: typ, val: convert(args[i], typ)}
			}
			for name, v := range map[string]int64{
				"blockIdx.x": b, "threadIdx.x": t, "blockDim.x": block, "gridDim.x": grid,
			} {
				sc.vars[name] = &cell{typ: "int", val: value{kind: vInt, i: v}}
			}
			m.cur = sc
			if err := m.exec(k.Body); err != nil {
				return fmt.Errorf("kernel %s block %d thread %d: %w", k.Name, b, t, err)
			}
		}
	}
	return nil
}

func (m *Machine) eval(e Expr) (value, error) {
	switch e := e.(type) {
	case *Ident:
		c := m.cur.lookup(e.Name)
		if c == nil {
			return value{}, fmt.Errorf("undefined %s", e.Name)
		}
		return c.val, nil
	case *IntLit:
		return value{kind: vInt, i: e.Val}, nil
	case *FloatLit:
		return value{kind: vFloat, f: e.Val}, nil
	case *StringLit:
		return value{}, nil
	case *Paren:
		return m.eval(e.X)
	case *Member:
		id, ok := e.X.(*Ident)
		if !ok {
			return value{}, errors.New("unsupported member expression")
		}
		c := m.cur.lookup(id.Name + "." + e.Sel)
		if c == nil {
			return value{}, fmt.Errorf("undefined %s.%s", id.Name, e.Sel)
		}
		return c.val, nil
	case *Index:
		lv, err := m.lvalue(e)
		if err != nil {
			return value{}, err
		}
		return lv.load(), nil
	case *Unary:
		return m.unary(e)
	case *Postfix:
		lv, err := m.lvalue(e.X)
		if err != nil {
			return value{}, err
		}
		old := lv.load()
		delta := int64(1)
		if e.Op == "--" {
			delta = -1
		}
		lv.store(arith("+", old, value{kind: vInt, i: delta}))
		return old, nil
	case *Binary:
		return m.binary(e)
	case *Assign:
		lv, err := m.lvalue(e.LHS)
		if err != nil {
			return value{}, err
		}
		rhs, err := m.eval(e.RHS)
		if err != nil {
			return value{}, err
		}
		if e.Op != "=" {
			rhs = arith(strings.TrimSuffix(e.Op, "="), lv.load(), rhs)
		}
		lv.store(rhs)
		return lv.load(), nil
	case *Cast:
		if c, ok := e.X.(*Call); ok && c.Fun == "malloc" && strings.HasSuffix(e.Type, "*") {
			return m.malloc(c, strings.TrimSuffix(e.Type, "*"))
		}
		x, err := m.eval(e.X)
		if err != nil {
			return value{}, err
		}
		if strings.Contains(e.Type, "*") {
			return x, nil
		}
		return convert(x, baseType(e.Type)), nil
	case *Sizeof:
		return value{kind: vInt, i: sizeOf(e.Type)}, nil
	case *Cond:
		c, err := m.eval(e.C)
		if err != nil {
			return value{}, err
		}
		if c.truthy() {
			return m.eval(e.T)
		}
		return m.eval(e.F)
	case *Call:
		return m.call(e)
	}
	return value{}, fmt.Errorf("cannot evaluate %T", e)
}

func (m *Machine) unary(e *Unary) (value, error) {
	switch e.Op {
	case "&":
		lv, err := m.lvalue(e.X)
		if err != nil {
			return value{}, err
		}
		if lv.arr != nil {
			return value{kind: vPtr, ptr: pointer{arr: lv.arr, off: lv.off}}, nil
		}
		return value{kind: vRef, ref: lv}, nil
	case "*":
		lv, err := m.lvalue(e)
		if err != nil {
			return value{}, err
		}
		return lv.load(), nil
	case "++", "--":
		lv, err := m.lvalue(e.X)
		if err != nil {
			return value{}, err
		}
		op := "+"
		if e.Op == "--" {
			op = "-"
		}
		lv.store(arith(op, lv.load(), value{kind: vInt, i: 1}))
		return lv.load(), nil
	}
	x, err := m.eval(e.X)
	if err != nil {
		return value{}, err
	}
	switch e.Op {
	case "-":
		if x.kind == vFloat {
			return value{kind: vFloat, f: -x.f}, nil
		}
		return value{kind: vInt, i: -x.i}, nil
	case "+":
		return x, nil
	case "!":
		return boolVal(!x.truthy()), nil
	case "~":
		return value{kind: vInt, i: ^x.int()}, nil
	}
	return value{}, fmt.Errorf("unsupported operator %s", e.Op)
}

func (m *Machine) binary(e *Binary) (value, error) {
	x, err := m.eval(e.X)
	if err != nil {
		return value{}, err
	}
	switch e.Op {
	case "&&":
		if !x.truthy() {
			return boolVal(false), nil
		}
		y, err := m.eval(e.Y)
		if err != nil {
			return value{}, err
		}
		return boolVal(y.truthy()), nil
	case "||":
		if x.truthy() {
			return boolVal(true), nil
		}
		y, err := m.eval(e.Y)
		if err != nil {
			return value{}, err
		}
		return boolVal(y.truthy()), nil
	}
	y, err := m.eval(e.Y)
	if err != nil {
		return value{}, err
	}
	if x.kind == vPtr || y.kind == vPtr {
		return pointerArith(e.Op, x, y)
	}
	switch e.Op {
	case "<", ">", "<=", ">=", "==", "!=":
		return compare(e.Op, x, y), nil
	}
	if (e.Op == "/" || e.Op == "%") && x.kind != vFloat && y.kind != vFloat && y.i == 0 {
		return value{}, errors.New("integer division by zero")
	}
	return arith(e.Op, x, y), nil
}

func (m *Machine) lvalue(e Expr) (*lvalue, error) {
	switch e := e.(type) {
	case *Ident:
		c := m.cur.lookup(e.Name)
		if c == nil {
			return nil, fmt.Errorf("undefined %s", e.Name)
		}
		return &lvalue{cell: c}, nil
	case *Paren:
		return m.lvalue(e.X)
	case *Index:
		base, err := m.eval(e.X)
		if err != nil {
			return nil, err
		}
		idx, err := m.eval(e.Index)
		if err != nil {
			return nil, err
		}
		return m.element(base, idx.int(), PrintExpr(e))
	case *Unary:
		if e.Op == "*" {
			base, err := m.eval(e.X)
			if err != nil {
				return nil, err
			}
			if base.kind == vRef {
				return base.ref, nil
			}
			return m.element(base, 0, PrintExpr(e))
		}
	}
	return nil, fmt.Errorf("%s is not assignable", PrintExpr(e))
}

func (m *Machine) element(base value, idx int64, what string) (*lvalue, error) {
	if base.kind != vPtr || base.ptr.arr == nil {
		return nil, fmt.Errorf("%s: subscript of a non-array value", what)
	}
	arr := base.ptr.arr
	if arr.freed {
		return nil, fmt.Errorf("%s: use of freed memory", what)
	}
	if arr.Device != m.inKernel {
		if arr.Device {
			return nil, fmt.Errorf("%s: device memory accessed from host code", what)
		}
		return nil, fmt.Errorf("%s: host memory accessed from a kernel", what)
	}
	off := int64(base.ptr.off) + idx
	if off < 0 || off >= int64(len(arr.Data)) {
		return nil, fmt.Errorf("%s: index %d out of range [0, %d)", what, off, len(arr.Data))
	}
	return &lvalue{arr: arr, off: int(off)}, nil
}

func (l *lvalue) load() value {
	if l.arr != nil {
		if l.arr.Int {
			return value{kind: vInt, i: int64(l.arr.Data[l.off])}
		}
		return value{kind: vFloat, f: l.arr.Data[l.off]}
	}
	return l.cell.val
}

func (l *lvalue) store(v value) {
	if l.arr != nil {
		if l.arr.Int {
			l.arr.Data[l.off] = float64(v.int())
		} else {
			l.arr.Data[l.off] = v.float()
		}
		return
	}
	l.cell.val = convert(v, l.cell.typ)
}

func (v value) int() int64 {
	switch v.kind {
	case vFloat:
		return int64(v.f)
	case vInt:
		return v.i
	}
	return 0
}

func (v value) float() float64 {
	switch v.kind {
	case vFloat:
		return v.f
	case vInt:
		return float64(v.i)
	}
	return 0
}

func (v value) truthy() bool {
	switch v.kind {
	case vFloat:
		return v.f != 0
	case vPtr:
		return v.ptr.arr != nil
	case vRef:
		return v.ref != nil
	}
	return v.i != 0
}

func boolVal(b bool) value {
	if b {
		return value{kind: vInt, i: 1}
	}
	return value{kind: vInt}
}

func convert(v value, typ string) value {
	switch {
	case strings.HasSuffix(typ, "*"):
		return v
	case typ == "float":
		return value{kind: vFloat, f: float64(float32(v.float()))}
	case typ == "double":
		return value{kind: vFloat, f: v.float()}
	case isIntType(typ):
		return value{kind: vInt, i: v.int()}
	}
	return v
}

func arith(op string, x, y value) value {
	if x.kind == vFloat || y.kind == vFloat {
		a, b := x.float(), y.float()
		var r float64
		switch op {
		case "+":
			r = a + b
		case "-":
			r = a - b
		case "*":
			r = a * b
		case "/":
			r = a / b
		case "%":
			r = math.Mod(a, b)
		}
		return value{kind: vFloat, f: r}
	}
	a, b := x.i, y.i
	var r int64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		r = a / b
	case "%":
		r = a % b
	case "&":
		r = a & b
	case "|":
		r = a | b
	case "^":
		r = a ^ b
	case "<<":
		r = a << uint(b)
	case ">>":
		r = a >> uint(b)
	}
	return value{kind: vInt, i: r}
}

func compare(op string, x, y value) value {
	a, b := x.float(), y.float()
	if x.kind == vInt && y.kind == vInt {
		a, b = float64(x.i), float64(y.i)
	}
	switch op {
	case "<":
		return boolVal(a < b)
	case ">":
		return boolVal(a > b)
	case "<=":
		return boolVal(a <= b)
	case ">=":
		return boolVal(a >= b)
	case "==":
		return boolVal(a == b)
	}
	return boolVal(a != b)
}

func pointerArith(op string, x, y value) (value, error) {
	switch {
	case x.kind == vPtr && y.kind != vPtr && (op == "+" || op == "-"):
		d := y.int()
		if op == "-" {
			d = -d
		}
		return value{kind: vPtr, ptr: pointer{arr: x.ptr.arr, off: x.ptr.off + int(d)}}, nil
	case y.kind == vPtr && x.kind != vPtr && op == "+":
		return value{kind: vPtr, ptr: pointer{arr: y.ptr.arr, off: y.ptr.off + int(x.int())}}, nil
	case x.kind == vPtr && y.kind == vPtr && (op == "==" || op == "!="):
		same := x.ptr == y.ptr
		return boolVal(same == (op == "==")), nil
	}
	return value{}, fmt.Errorf("unsupported pointer operation %s", op)
}

func baseType(t string) string {
	words := strings.Fields(strings.ReplaceAll(t, "*", " "))
	base := ""
	for _, w := range words {
		if qualWords[w] {
			continue
		}
		base = w
	}
	switch base {
	case "cudaStream_t", "cudaEvent_t", "size_t", "unsigned", "signed", "short", "char":
		return "int"
	}
	return base
}

func isIntType(t string) bool {
	switch t {
	case "int", "long":
		return true
	}
	return false
}

func sizeOf(t string) int64 {
	if strings.Contains(t, "*") {
		return 8
	}
	switch baseType(t) {
	case "double", "long":
		return 8
	case "float", "int":
		return 4
	}
	return 8
}
