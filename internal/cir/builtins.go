package cir

import (
	"fmt"
	"math"
	"strings"
)

// stepMillis converts executed statements into simulated event time.
const stepMillis = 1e-6

var mathFuncs = map[string]func(float64) float64{
	"sqrt": math.Sqrt, "fabs": math.Abs, "sin": math.Sin, "cos": math.Cos,
	"exp": math.Exp, "log": math.Log, "floor": math.Floor, "ceil": math.Ceil,
}

func (m *Machine) call(c *Call) (value, error) {
	switch c.Fun {
	case "cudaFuncSetCacheConfig":
		// the first argument names a kernel, not a value
		if len(c.Args) != 2 {
			return value{}, fmt.Errorf("%s takes 2 arguments", c.Fun)
		}
		return value{kind: vInt}, nil
	}

	args := make([]value, len(c.Args))
	for i, a := range c.Args {
		v, err := m.eval(a)
		if err != nil {
			return value{}, err
		}
		args[i] = v
	}
	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d arguments, got %d", c.Fun, n, len(args))
		}
		return nil
	}
	ok := value{kind: vInt}

	if f, found := mathFuncs[c.Fun]; found {
		if err := arity(1); err != nil {
			return value{}, err
		}
		return value{kind: vFloat, f: f(args[0].float())}, nil
	}

	switch c.Fun {
	case "pow", "fmin", "fmax":
		if err := arity(2); err != nil {
			return value{}, err
		}
		a, b := args[0].float(), args[1].float()
		switch c.Fun {
		case "pow":
			return value{kind: vFloat, f: math.Pow(a, b)}, nil
		case "fmin":
			return value{kind: vFloat, f: math.Min(a, b)}, nil
		}
		return value{kind: vFloat, f: math.Max(a, b)}, nil
	case "abs":
		if err := arity(1); err != nil {
			return value{}, err
		}
		if v := args[0].int(); v < 0 {
			return value{kind: vInt, i: -v}, nil
		}
		return value{kind: vInt, i: args[0].int()}, nil
	case "srand":
		if err := arity(1); err != nil {
			return value{}, err
		}
		m.seed = uint64(args[0].int())
		return ok, nil
	case "rand":
		m.seed = m.seed*6364136223846793005 + 1442695040888963407
		return value{kind: vInt, i: int64(m.seed>>33) & 0x7fffffff}, nil
	case "printf":
		return m.printf(args, c)
	case "malloc":
		return m.malloc(c, "double")
	case "free":
		if err := arity(1); err != nil {
			return value{}, err
		}
		return ok, m.free(args[0], false)

	case "cudaMalloc":
		if err := arity(2); err != nil {
			return value{}, err
		}
		ref := args[0]
		if ref.kind != vRef || ref.ref.cell == nil {
			return value{}, fmt.Errorf("cudaMalloc needs the address of a pointer variable")
		}
		elem := sizeOf(strings.TrimSuffix(ref.ref.cell.typ, "*"))
		n := args[1].int()
		if n < 0 || n%elem != 0 {
			return value{}, fmt.Errorf("cudaMalloc: %d bytes is not a whole number of %d byte elements", n, elem)
		}
		base := baseType(ref.ref.cell.typ)
		arr := &Array{Data: make([]float64, n/elem), Int: isIntType(base), Device: true, elem: elem}
		ref.ref.cell.val = value{kind: vPtr, ptr: pointer{arr: arr}}
		return ok, nil
	case "cudaFree":
		if err := arity(1); err != nil {
			return value{}, err
		}
		return ok, m.free(args[0], true)
	case "cudaMemcpy":
		if err := arity(4); err != nil {
			return value{}, err
		}
		return ok, m.memcpy(args[0], args[1], args[2].int(), args[3].int())
	case "cudaMemcpyAsync":
		if err := arity(5); err != nil {
			return value{}, err
		}
		if err := m.checkStream(args[4].int()); err != nil {
			return value{}, err
		}
		return ok, m.memcpy(args[0], args[1], args[2].int(), args[3].int())

	case "cudaStreamCreate":
		if err := arity(1); err != nil {
			return value{}, err
		}
		m.streams = append(m.streams, &stream{live: true})
		return ok, m.storeThrough(args[0], value{kind: vInt, i: int64(len(m.streams) - 1)})
	case "cudaStreamSynchronize":
		if err := arity(1); err != nil {
			return value{}, err
		}
		return ok, m.checkStream(args[0].int())
	case "cudaStreamDestroy":
		if err := arity(1); err != nil {
			return value{}, err
		}
		id := args[0].int()
		if err := m.checkStream(id); err != nil {
			return value{}, err
		}
		if id == 0 {
			return value{}, fmt.Errorf("cudaStreamDestroy: cannot destroy the default stream")
		}
		m.streams[id].live = false
		return ok, nil

	case "cudaEventCreate":
		if err := arity(1); err != nil {
			return value{}, err
		}
		m.events = append(m.events, &event{live: true})
		return ok, m.storeThrough(args[0], value{kind: vInt, i: int64(len(m.events) - 1)})
	case "cudaEventRecord":
		if len(args) != 1 && len(args) != 2 {
			return value{}, fmt.Errorf("cudaEventRecord takes 1 or 2 arguments, got %d", len(args))
		}
		ev, err := m.event(args[0].int())
		if err != nil {
			return value{}, err
		}
		var s int64
		if len(args) == 2 {
			s = args[1].int()
			if err := m.checkStream(s); err != nil {
				return value{}, err
			}
		}
		ev.recorded, ev.stream, ev.at = true, s, m.steps
		return ok, nil
	case "cudaEventSynchronize":
		if err := arity(1); err != nil {
			return value{}, err
		}
		ev, err := m.event(args[0].int())
		if err != nil {
			return value{}, err
		}
		if !ev.recorded {
			return value{}, fmt.Errorf("cudaEventSynchronize: event %d was never recorded", args[0].int())
		}
		return ok, nil
	case "cudaEventElapsedTime":
		if err := arity(3); err != nil {
			return value{}, err
		}
		start, err := m.event(args[1].int())
		if err != nil {
			return value{}, err
		}
		stop, err := m.event(args[2].int())
		if err != nil {
			return value{}, err
		}
		if !start.recorded || !stop.recorded {
			return value{}, fmt.Errorf("cudaEventElapsedTime: event not recorded")
		}
		if start.stream != stop.stream {
			if err := m.storeThrough(args[0], value{kind: vFloat}); err != nil {
				return value{}, err
			}
			return value{}, fmt.Errorf("cudaEventElapsedTime: events recorded on streams %d and %d", start.stream, stop.stream)
		}
		ms := float64(stop.at-start.at) * stepMillis
		return ok, m.storeThrough(args[0], value{kind: vFloat, f: ms})
	case "cudaEventDestroy":
		if err := arity(1); err != nil {
			return value{}, err
		}
		ev, err := m.event(args[0].int())
		if err != nil {
			return value{}, err
		}
		ev.live = false
		return ok, nil

	case "cudaDeviceSynchronize", "cudaThreadSynchronize", "cudaGetLastError", "cudaDeviceSetCacheConfig":
		return ok, nil
	}
	return value{}, fmt.Errorf("call of undefined function %s", c.Fun)
}

func (m *Machine) malloc(c *Call, elemType string) (value, error) {
	if len(c.Args) != 1 {
		return value{}, fmt.Errorf("malloc takes 1 argument")
	}
	n, err := m.eval(c.Args[0])
	if err != nil {
		return value{}, err
	}
	elem := sizeOf(elemType)
	if n.int() < 0 {
		return value{}, fmt.Errorf("malloc: negative size")
	}
	arr := &Array{Data: make([]float64, n.int()/elem), Int: isIntType(baseType(elemType)), elem: elem}
	return value{kind: vPtr, ptr: pointer{arr: arr}}, nil
}

func (m *Machine) free(p value, device bool) error {
	if p.kind != vPtr || p.ptr.arr == nil {
		return fmt.Errorf("free of a non-pointer value")
	}
	if p.ptr.arr.Device != device {
		if device {
			return fmt.Errorf("cudaFree of host memory")
		}
		return fmt.Errorf("free of device memory")
	}
	if p.ptr.arr.freed {
		return fmt.Errorf("double free of %s", p.ptr.arr.Name)
	}
	p.ptr.arr.freed = true
	return nil
}

func (m *Machine) memcpy(dst, src value, bytes, kind int64) error {
	if dst.kind != vPtr || src.kind != vPtr || dst.ptr.arr == nil || src.ptr.arr == nil {
		return fmt.Errorf("cudaMemcpy needs two pointers")
	}
	d, s := dst.ptr.arr, src.ptr.arr
	if d.freed || s.freed {
		return fmt.Errorf("cudaMemcpy on freed memory")
	}
	var wantDst, wantSrc bool
	switch kind {
	case 0:
	case 1:
		wantDst = true
	case 2:
		wantSrc = true
	case 3:
		wantDst, wantSrc = true, true
	default:
		return fmt.Errorf("cudaMemcpy: invalid kind %d", kind)
	}
	if d.Device != wantDst || s.Device != wantSrc {
		return fmt.Errorf("cudaMemcpy: direction %d does not match the memory of its operands", kind)
	}
	if bytes%d.elem != 0 {
		return fmt.Errorf("cudaMemcpy: %d bytes is not a whole number of elements", bytes)
	}
	n := int(bytes / d.elem)
	if dst.ptr.off+n > len(d.Data) || src.ptr.off+n > len(s.Data) || dst.ptr.off < 0 || src.ptr.off < 0 {
		return fmt.Errorf("cudaMemcpy: %d elements out of range (dst %d/%d, src %d/%d)",
			n, dst.ptr.off, len(d.Data), src.ptr.off, len(s.Data))
	}
	copy(d.Data[dst.ptr.off:dst.ptr.off+n], s.Data[src.ptr.off:src.ptr.off+n])
	return nil
}

// storeThrough writes v to the location p points to.
func (m *Machine) storeThrough(p, v value) error {
	switch {
	case p.kind == vRef:
		p.ref.store(v)
		return nil
	case p.kind == vPtr && p.ptr.arr != nil:
		lv, err := m.element(p, 0, "out parameter")
		if err != nil {
			return err
		}
		lv.store(v)
		return nil
	}
	return fmt.Errorf("expected an address")
}

func (m *Machine) checkStream(id int64) error {
	if id < 0 || id >= int64(len(m.streams)) || !m.streams[id].live {
		return fmt.Errorf("invalid stream %d", id)
	}
	return nil
}

func (m *Machine) event(id int64) (*event, error) {
	if id < 0 || id >= int64(len(m.events)) || !m.events[id].live {
		return nil, fmt.Errorf("invalid event %d", id)
	}
	return m.events[id], nil
}

func (m *Machine) printf(args []value, c *Call) (value, error) {
	if len(c.Args) == 0 {
		return value{}, fmt.Errorf("printf needs a format")
	}
	lit, ok := c.Args[0].(*StringLit)
	if !ok {
		return value{}, fmt.Errorf("printf format must be a string literal")
	}
	if m.Stdout == nil {
		return value{kind: vInt}, nil
	}
	format := strings.NewReplacer("%lf", "%f", "%ld", "%d", "%lu", "%d", "%i", "%d").Replace(lit.Val)
	vals := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		if a.kind == vFloat {
			vals = append(vals, a.f)
		} else {
			vals = append(vals, a.int())
		}
	}
	n, err := fmt.Fprintf(m.Stdout, format, vals...)
	return value{kind: vInt, i: int64(n)}, err
}
