package transform

import (
	"fmt"
	"strconv"

	"github.com/specialistvlad/looptune/internal/cir"
)

// Flags recorded for the CUDA cache options.
const (
	FlagCacheBlocks = "-Xptxas -dlcm=ca"
	flagPreferL1    = "-DPREFER_L1_SIZE="
)

var threadBuiltins = map[string]bool{"blockIdx": true, "threadIdx": true, "blockDim": true, "gridDim": true}

func (p *program) cuda(s *CUDA) error {
	if p.offloaded {
		return p.errorf(NameCUDA, "", s.Range, "the loop already runs in a kernel")
	}
	for _, c := range []struct {
		name string
		v    int64
	}{
		{"threadCount", s.ThreadCount},
		{"blockCount", s.BlockCount},
		{"streamCount", s.StreamCount},
		{"unrollInner", s.UnrollInner},
	} {
		if c.v < 1 {
			return p.errorf(NameCUDA, c.name, s.Range, "must be at least 1, got %d", c.v)
		}
	}
	if s.PreferL1Size < 0 {
		return p.errorf(NameCUDA, "preferL1Size", s.Range, "must not be negative, got %d", s.PreferL1Size)
	}

	site, ok := firstLoop(p.focus.Stmts)
	if !ok {
		return p.errorf(NameCUDA, "", s.Range, "no loop to offload")
	}
	shape, err := cir.Shape(site.loop)
	if err != nil {
		return p.errorf(NameCUDA, "", s.Range, "%s", err)
	}
	acc, err := analyze(site.loop, shape, p.syms)
	if err != nil {
		return p.errorf(NameCUDA, "", s.Range, "%s", err)
	}

	name := genPrefix + "kernel" + p.id
	kernel, focus := p.kernel(name, site.loop, shape, acc)
	if s.UnrollInner > 1 {
		if err := unrollInnermost(cir.Body(focus.Stmts[0].(*cir.For).Body), s.UnrollInner); err != nil {
			return p.errorf(NameCUDA, "unrollInner", s.Range, "%s", err)
		}
	}

	host := p.hostLaunch(name, s, shape, acc)
	if cir.Idents(&cir.Block{Stmts: site.following()})[shape.Var] && shape.Type == "" {
		host.Stmts = append(host.Stmts, exitValue(shape))
	}
	site.replace(host)

	if s.CacheBlocks {
		p.addFlag(FlagCacheBlocks)
	}
	if s.PreferL1Size > 0 {
		p.addFlag(flagPreferL1 + strconv.FormatInt(s.PreferL1Size, 10))
	}
	p.kernels = append(p.kernels, kernel)
	p.focus = focus
	p.offloaded = true
	return nil
}

// access summarises how a loop uses the names it references.
type access struct {
	arrays  []string
	written map[string]bool
	subs    map[string][]cir.Expr
	// params are scalars read by the loop and passed by value.
	params []string
	// locals are scalars the body assigns; each thread keeps its own.
	locals []string
	// counters are names used in subscripts or loop headers.
	counters map[string]bool
	// bounds holds the shapes of the loop and its canonical inner loops.
	bounds map[string]*cir.LoopShape
}

func analyze(f *cir.For, shape *cir.LoopShape, syms cir.Symbols) (*access, error) {
	a := &access{
		written:  make(map[string]bool),
		subs:     make(map[string][]cir.Expr),
		counters: make(map[string]bool),
		bounds:   map[string]*cir.LoopShape{shape.Var: shape},
	}
	declared := make(map[string]bool)
	isArray := make(map[string]bool)
	var order []string
	seen := make(map[string]bool)
	var err error

	markCounters := func(n cir.Node) {
		for name := range cir.Idents(n) {
			a.counters[name] = true
		}
	}
	markCounters(shape.Lower)
	markCounters(shape.Upper)

	visit := func(n cir.Node) bool {
		switch n := n.(type) {
		case *cir.Decl:
			for _, v := range n.Vars {
				declared[v.Name] = true
			}
		case *cir.For:
			if sh, e := cir.Shape(n); e == nil {
				a.bounds[sh.Var] = sh
				markCounters(sh.Lower)
				markCounters(sh.Upper)
				markCounters(sh.Step)
			}
		case *cir.Index:
			id, ok := n.X.(*cir.Ident)
			if !ok {
				if err == nil {
					err = fmt.Errorf("multi-dimensional subscript %s is not supported", cir.PrintExpr(n))
				}
				return false
			}
			isArray[id.Name] = true
			a.subs[id.Name] = append(a.subs[id.Name], n.Index)
			markCounters(n.Index)
		case *cir.Ident:
			if !seen[n.Name] {
				seen[n.Name] = true
				order = append(order, n.Name)
			}
		}
		return true
	}
	// a symbolic step is needed by the kernel's stride
	cir.Inspect(shape.Step, visit)
	cir.Inspect(f.Body, visit)
	if err != nil {
		return nil, err
	}
	cir.Inspect(f.Body, func(n cir.Node) bool {
		var target cir.Expr
		switch n := n.(type) {
		case *cir.Assign:
			target = n.LHS
		case *cir.Postfix:
			target = n.X
		case *cir.Unary:
			if n.Op == "++" || n.Op == "--" {
				target = n.X
			}
		}
		if ix, ok := target.(*cir.Index); ok {
			if id, ok := ix.X.(*cir.Ident); ok {
				a.written[id.Name] = true
			}
		}
		return true
	})

	assigned := cir.Assigned(f.Body)
	for name := range seen {
		if sym, ok := syms[name]; ok && sym.Array && !isArray[name] {
			// pointer passed whole, e.g. to a call
			isArray[name] = true
		}
	}
	for _, name := range order {
		switch {
		case name == shape.Var || declared[name] || threadBuiltins[name]:
		case isArray[name]:
			a.arrays = append(a.arrays, name)
		case assigned[name]:
			a.locals = append(a.locals, name)
		default:
			a.params = append(a.params, name)
		}
	}
	for _, name := range a.arrays {
		if assigned[name] {
			return nil, fmt.Errorf("loop body reassigns pointer %s", name)
		}
	}
	private := make(map[string]bool)
	for _, name := range a.locals {
		private[name] = true
	}
	if name := carried(cir.Body(f.Body), private, make(map[string]bool)); name != "" {
		return nil, fmt.Errorf("%s carries a value across iterations", name)
	}
	return a, nil
}

// carried walks stmts in execution order and returns the first private
// scalar read before the iteration assigns it.
func carried(stmts []cir.Stmt, private, defined map[string]bool) string {
	readsIn := func(n cir.Node) string {
		found := ""
		cir.Inspect(n, func(n cir.Node) bool {
			if id, ok := n.(*cir.Ident); ok && private[id.Name] && !defined[id.Name] && found == "" {
				found = id.Name
			}
			return found == ""
		})
		return found
	}
	expr := func(e cir.Expr) string {
		if a, ok := e.(*cir.Assign); ok && a.Op == "=" {
			if id, ok := a.LHS.(*cir.Ident); ok {
				if name := readsIn(a.RHS); name != "" {
					return name
				}
				defined[id.Name] = true
				return ""
			}
		}
		return readsIn(e)
	}
	for _, s := range stmts {
		switch s := s.(type) {
		case *cir.ExprStmt:
			if name := expr(s.X); name != "" {
				return name
			}
		case *cir.Decl:
			if name := readsIn(s); name != "" {
				return name
			}
		case *cir.Block:
			if name := carried(s.Stmts, private, defined); name != "" {
				return name
			}
		case *cir.If:
			if name := readsIn(s.Cond); name != "" {
				return name
			}
			thenDef, elseDef := copySet(defined), copySet(defined)
			if name := carried(cir.Body(s.Then), private, thenDef); name != "" {
				return name
			}
			if s.Else != nil {
				if name := carried(cir.Body(s.Else), private, elseDef); name != "" {
					return name
				}
			}
			for k := range thenDef {
				if elseDef[k] {
					defined[k] = true
				}
			}
		case *cir.For:
			if s.Init != nil {
				if name := carried([]cir.Stmt{s.Init}, private, defined); name != "" {
					return name
				}
			}
			if s.Cond != nil {
				if name := readsIn(s.Cond); name != "" {
					return name
				}
			}
			inner := copySet(defined)
			if name := carried(cir.Body(s.Body), private, inner); name != "" {
				return name
			}
			if s.Post != nil {
				if name := expr(s.Post); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p *program) scalarType(name string, acc *access) string {
	def := "double"
	if acc.counters[name] {
		def = "int"
	}
	return p.syms.Scalar(name, def)
}

// kernel builds the __global__ function running the loop as a grid-stride
// loop over [lt_lo, lt_hi]. It returns the function and the flat block
// holding the device loop.
func (p *program) kernel(name string, f *cir.For, shape *cir.LoopShape, acc *access) (*cir.FuncDecl, *cir.Block) {
	params := []*cir.Param{{Type: "int", Name: genPrefix + "lo"}, {Type: "int", Name: genPrefix + "hi"}}
	for _, s := range acc.params {
		params = append(params, &cir.Param{Type: p.scalarType(s, acc), Name: s})
	}
	for _, arr := range acc.arrays {
		params = append(params, &cir.Param{Type: p.syms.Elem(arr), Ptr: 1, Name: arr})
	}

	varType := shape.Type
	if varType == "" {
		varType = p.syms.Scalar(shape.Var, "int")
	}
	body := []cir.Stmt{&cir.Decl{Type: varType, Vars: []*cir.Var{{Name: shape.Var}}}}
	for _, l := range acc.locals {
		body = append(body, &cir.Decl{Type: p.scalarType(l, acc), Vars: []*cir.Var{{Name: l}}})
	}

	member := func(x, sel string) cir.Expr { return &cir.Member{X: cir.Id(x), Sel: sel} }
	tid := cir.Bin("+", cir.Mul(member("blockIdx", "x"), member("blockDim", "x")), member("threadIdx", "x"))
	start := cir.Add(cir.Mul(tid, cir.CloneExpr(shape.Step)), cir.Id(genPrefix+"lo"))
	stride := cir.Mul(cir.Mul(member("blockDim", "x"), member("gridDim", "x")), cir.CloneExpr(shape.Step))
	loop := cir.Canonical(shape.Var, start, cir.Id(genPrefix+"hi"), stride, cir.CloneStmts(cir.Body(f.Body)))

	focus := &cir.Block{Flat: true, Stmts: []cir.Stmt{loop}}
	body = append(body, focus)
	return &cir.FuncDecl{Qual: "__global__", Result: "void", Name: name, Params: params, Body: &cir.Block{Stmts: body}}, focus
}

// unrollInnermost unrolls every loop under stmts that contains no loop.
func unrollInnermost(stmts []cir.Stmt, factor int64) error {
	for i, s := range stmts {
		switch s := s.(type) {
		case *cir.For:
			body := bodyBlock(&s.Body)
			if containsLoop(body) {
				if err := unrollInnermost(body.Stmts, factor); err != nil {
					return err
				}
				continue
			}
			shape, err := cir.Shape(s)
			if err != nil {
				return err
			}
			stmts[i] = unroll(s, shape, factor, false)
		case *cir.Block:
			if err := unrollInnermost(s.Stmts, factor); err != nil {
				return err
			}
		case *cir.If:
			if err := unrollInnermost(bodyBlock(&s.Then).Stmts, factor); err != nil {
				return err
			}
			if s.Else != nil {
				if err := unrollInnermost(bodyBlock(&s.Else).Stmts, factor); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containsLoop(n cir.Node) bool {
	found := false
	cir.Inspect(n, func(n cir.Node) bool {
		if _, ok := n.(*cir.For); ok {
			found = true
		}
		return !found
	})
	return found
}

// arraySize returns a host expression for the number of elements of arr
// the loop can touch: the largest subscript over the iteration space plus
// one. Subscripts that read memory or private scalars fall back to the
// trip bound of the offloaded loop.
func arraySize(arr string, shape *cir.LoopShape, acc *access) cir.Expr {
	private := make(map[string]bool)
	for _, l := range acc.locals {
		if _, isLoop := acc.bounds[l]; !isLoop {
			private[l] = true
		}
	}
	var sizes []cir.Expr
	seen := make(map[string]bool)
	add := func(e cir.Expr) {
		key := cir.PrintExpr(e)
		if !seen[key] {
			seen[key] = true
			sizes = append(sizes, e)
		}
	}
	for _, sub := range acc.subs[arr] {
		if !affine(sub, private) {
			add(cir.Add(cir.CloneExpr(shape.Upper), cir.Int(1)))
			continue
		}
		add(cir.Add(extreme(sub, acc.bounds, true), cir.Int(1)))
		if !increasing(sub, acc.bounds) {
			add(cir.Add(extreme(sub, acc.bounds, false), cir.Int(1)))
		}
	}
	if len(sizes) == 0 {
		return cir.Add(cir.CloneExpr(shape.Upper), cir.Int(1))
	}
	size := sizes[0]
	for _, s := range sizes[1:] {
		size = &cir.Cond{C: cir.Bin(">", size, s), T: cir.CloneExpr(size), F: cir.CloneExpr(s)}
	}
	return size
}

func affine(sub cir.Expr, private map[string]bool) bool {
	ok := true
	cir.Inspect(sub, func(n cir.Node) bool {
		switch n := n.(type) {
		case *cir.Index, *cir.Call:
			ok = false
		case *cir.Ident:
			if private[n.Name] {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// extreme substitutes every loop variable by its upper (or lower) bound,
// repeating while bounds mention other loop variables.
func extreme(e cir.Expr, bounds map[string]*cir.LoopShape, upper bool) cir.Expr {
	out := cir.CloneExpr(e)
	for range len(bounds) + 1 {
		repl := make(map[string]cir.Expr)
		for v, sh := range bounds {
			if upper {
				repl[v] = sh.Upper
			} else {
				repl[v] = sh.Lower
			}
		}
		if !mentionsAny(out, bounds) {
			break
		}
		out = cir.SubstExpr(out, repl)
	}
	return out
}

func mentionsAny(e cir.Expr, bounds map[string]*cir.LoopShape) bool {
	for name := range cir.Idents(e) {
		if _, ok := bounds[name]; ok {
			return true
		}
	}
	return false
}

// increasing reports whether e grows with every loop variable it
// mentions, judged syntactically.
func increasing(e cir.Expr, bounds map[string]*cir.LoopShape) bool {
	ok := true
	cir.Inspect(e, func(n cir.Node) bool {
		switch n := n.(type) {
		case *cir.Binary:
			if (n.Op == "-" || n.Op == "/" || n.Op == "%") && mentionsAny(n.Y, bounds) {
				ok = false
			}
		case *cir.Unary:
			if n.Op == "-" && mentionsAny(n.X, bounds) {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// hostLaunch builds the braced host block that moves data to the device,
// launches the kernel on each stream and copies written arrays back.
func (p *program) hostLaunch(kernel string, s *CUDA, shape *cir.LoopShape, acc *access) *cir.Block {
	var out []cir.Stmt
	emit := func(st ...cir.Stmt) { out = append(out, st...) }
	dev := func(arr string) string { return genPrefix + "dev_" + arr }
	size := func(arr string) string { return genPrefix + "size_" + arr }
	bytes := func(arr string) cir.Expr {
		return cir.Mul(cir.Id(size(arr)), &cir.Sizeof{Type: p.syms.Elem(arr)})
	}

	for _, arr := range acc.arrays {
		emit(&cir.Decl{Type: p.syms.Elem(arr), Vars: []*cir.Var{{Name: dev(arr), Ptr: 1}}})
		emit(&cir.Decl{Type: "int", Vars: []*cir.Var{{Name: size(arr), Init: arraySize(arr, shape, acc)}}})
	}
	for _, arr := range acc.arrays {
		emit(cir.CallStmt("cudaMalloc", &cir.Cast{Type: "void**", X: cir.Addr(cir.Id(dev(arr)))}, bytes(arr)))
	}
	for _, arr := range acc.arrays {
		emit(cir.CallStmt("cudaMemcpy", cir.Id(dev(arr)), cir.Id(arr), bytes(arr), cir.Id("cudaMemcpyHostToDevice")))
	}
	if s.PreferL1Size > 0 {
		emit(cir.CallStmt("cudaFuncSetCacheConfig", cir.Id(kernel), cir.Id(cacheConfig(s.PreferL1Size))))
	}

	args := func(lo, hi cir.Expr) []cir.Expr {
		out := []cir.Expr{lo, hi}
		for _, sc := range acc.params {
			out = append(out, cir.Id(sc))
		}
		for _, arr := range acc.arrays {
			out = append(out, cir.Id(dev(arr)))
		}
		return out
	}
	grid, block := cir.Int(s.BlockCount), cir.Int(s.ThreadCount)

	var timer string
	if p.opts.Timing {
		timer = genPrefix + "elapsed" + p.id
		p.timers = append(p.timers, timer)
	}
	start, stop, ms := genPrefix+"start", genPrefix+"stop", genPrefix+"ms"

	if s.StreamCount == 1 {
		launch := &cir.Launch{Kernel: kernel, Grid: grid, Block: block,
			Args: args(cir.CloneExpr(shape.Lower), cir.CloneExpr(shape.Upper))}
		if timer == "" {
			emit(launch)
		} else {
			emit(
				&cir.Decl{Type: "cudaEvent_t", Vars: []*cir.Var{{Name: start}, {Name: stop}}},
				&cir.Decl{Type: "float", Vars: []*cir.Var{{Name: ms}}},
				cir.CallStmt("cudaEventCreate", cir.Addr(cir.Id(start))),
				cir.CallStmt("cudaEventCreate", cir.Addr(cir.Id(stop))),
				cir.CallStmt("cudaEventRecord", cir.Id(start), cir.Int(0)),
				launch,
				cir.CallStmt("cudaEventRecord", cir.Id(stop), cir.Int(0)),
				cir.CallStmt("cudaEventSynchronize", cir.Id(stop)),
				cir.CallStmt("cudaEventElapsedTime", cir.Addr(cir.Id(ms)), cir.Id(start), cir.Id(stop)),
				&cir.ExprStmt{X: &cir.Assign{Op: "+=", LHS: cir.Id(timer), RHS: cir.Id(ms)}},
				cir.CallStmt("cudaEventDestroy", cir.Id(start)),
				cir.CallStmt("cudaEventDestroy", cir.Id(stop)),
			)
		}
	} else {
		emit(p.streamLaunches(kernel, s, shape, grid, block, args, timer)...)
	}

	for _, arr := range acc.arrays {
		if acc.written[arr] {
			emit(cir.CallStmt("cudaMemcpy", cir.Id(arr), cir.Id(dev(arr)), bytes(arr), cir.Id("cudaMemcpyDeviceToHost")))
		}
	}
	for _, arr := range acc.arrays {
		emit(cir.CallStmt("cudaFree", cir.Id(dev(arr))))
	}
	return &cir.Block{Stmts: out}
}

// streamLaunches partitions [lb, ub] into StreamCount contiguous chunks,
// one launch per stream. With a timer, each stream records its own event
// pair and the slowest stream's time is accumulated.
func (p *program) streamLaunches(kernel string, s *CUDA, shape *cir.LoopShape, grid, block cir.Expr,
	args func(lo, hi cir.Expr) []cir.Expr, timer string) []cir.Stmt {
	n := s.StreamCount
	k, chunk := genPrefix+"k", genPrefix+"chunk"
	lo, hi := genPrefix+"lo", genPrefix+"hi"
	streams := genPrefix + "stream"
	start, stop, ms, slowest := genPrefix+"start", genPrefix+"stop", genPrefix+"ms", genPrefix+"max"

	each := func(body ...cir.Stmt) cir.Stmt {
		return &cir.For{
			Init: cir.Set(cir.Id(k), cir.Int(0)),
			Cond: cir.Bin("<", cir.Id(k), cir.Int(n)),
			Post: &cir.Postfix{Op: "++", X: cir.Id(k)},
			Body: &cir.Block{Stmts: body},
		}
	}
	at := func(arr string) cir.Expr { return cir.At(cir.Id(arr), cir.Id(k)) }

	out := []cir.Stmt{
		&cir.Decl{Type: "cudaStream_t", Vars: []*cir.Var{{Name: streams, Dims: []cir.Expr{cir.Int(n)}}}},
		&cir.Decl{Type: "int", Vars: []*cir.Var{{Name: k}, {Name: chunk}, {Name: lo}, {Name: hi}}},
	}
	if timer != "" {
		out = append(out,
			&cir.Decl{Type: "cudaEvent_t", Vars: []*cir.Var{
				{Name: start, Dims: []cir.Expr{cir.Int(n)}},
				{Name: stop, Dims: []cir.Expr{cir.Int(n)}},
			}},
			&cir.Decl{Type: "float", Vars: []*cir.Var{{Name: ms}, {Name: slowest}}},
		)
	}
	create := []cir.Stmt{cir.CallStmt("cudaStreamCreate", cir.Addr(at(streams)))}
	if timer != "" {
		create = append(create,
			cir.CallStmt("cudaEventCreate", cir.Addr(at(start))),
			cir.CallStmt("cudaEventCreate", cir.Addr(at(stop))))
	}
	out = append(out, each(create...))

	// chunk = ceil(trips / n), trips = (ub-lb)/step + 1
	trips := cir.Add(cir.Bin("/", cir.Sub(cir.CloneExpr(shape.Upper), cir.CloneExpr(shape.Lower)), cir.CloneExpr(shape.Step)), cir.Int(1))
	out = append(out, cir.Set(cir.Id(chunk), cir.Bin("/", cir.Add(trips, cir.Int(n-1)), cir.Int(n))))

	launch := &cir.Launch{Kernel: kernel, Grid: grid, Block: block, Stream: at(streams), Args: args(cir.Id(lo), cir.Id(hi))}
	body := []cir.Stmt{
		cir.Set(cir.Id(lo), cir.Add(cir.CloneExpr(shape.Lower), cir.Mul(cir.Mul(cir.Id(k), cir.Id(chunk)), cir.CloneExpr(shape.Step)))),
		cir.Set(cir.Id(hi), cir.Add(cir.Id(lo), cir.Mul(cir.Sub(cir.Id(chunk), cir.Int(1)), cir.CloneExpr(shape.Step)))),
		&cir.If{Cond: cir.Bin(">", cir.Id(hi), cir.CloneExpr(shape.Upper)), Then: cir.Set(cir.Id(hi), cir.CloneExpr(shape.Upper))},
	}
	if timer != "" {
		body = append(body, cir.CallStmt("cudaEventRecord", at(start), at(streams)), launch, cir.CallStmt("cudaEventRecord", at(stop), at(streams)))
	} else {
		body = append(body, launch)
	}
	out = append(out, each(body...))

	if timer != "" {
		out = append(out,
			cir.Set(cir.Id(slowest), cir.Int(0)),
			each(
				cir.CallStmt("cudaEventSynchronize", at(stop)),
				cir.CallStmt("cudaEventElapsedTime", cir.Addr(cir.Id(ms)), at(start), at(stop)),
				&cir.If{Cond: cir.Bin(">", cir.Id(ms), cir.Id(slowest)), Then: cir.Set(cir.Id(slowest), cir.Id(ms))},
			),
			&cir.ExprStmt{X: &cir.Assign{Op: "+=", LHS: cir.Id(timer), RHS: cir.Id(slowest)}},
			each(
				cir.CallStmt("cudaEventDestroy", at(start)),
				cir.CallStmt("cudaEventDestroy", at(stop)),
			),
		)
	} else {
		out = append(out, each(cir.CallStmt("cudaStreamSynchronize", at(streams))))
	}
	out = append(out, each(cir.CallStmt("cudaStreamDestroy", at(streams))))
	return out
}

// exitValue sets the loop variable to the value the host loop would have
// left in it, for code that continues from there.
func exitValue(shape *cir.LoopShape) cir.Stmt {
	v := shape.Var
	trips := cir.Add(cir.Bin("/", cir.Sub(cir.CloneExpr(shape.Upper), cir.CloneExpr(shape.Lower)), cir.CloneExpr(shape.Step)), cir.Int(1))
	return &cir.If{
		Cond: cir.Bin(">=", cir.CloneExpr(shape.Upper), cir.CloneExpr(shape.Lower)),
		Then: cir.Set(cir.Id(v), cir.Add(cir.CloneExpr(shape.Lower), cir.Mul(trips, cir.CloneExpr(shape.Step)))),
		Else: cir.Set(cir.Id(v), cir.CloneExpr(shape.Lower)),
	}
}

func cacheConfig(preferL1 int64) string {
	switch {
	case preferL1 >= 48:
		return "cudaFuncCachePreferL1"
	case preferL1 <= 16:
		return "cudaFuncCachePreferShared"
	}
	return "cudaFuncCachePreferEqual"
}
