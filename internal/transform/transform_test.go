package transform

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/specialistvlad/looptune/internal/cir"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/extract"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"gonum.org/v1/gonum/floats"
)

const vecSig = "void VecAXPBYPCZ(int n, double a, double *x, double b, double *y, double c, double *z)"

const vecLoop = `for (i=0; i<=n-1; i++)
    y[i]=a*x[i]+b*y[i]+c*z[i];`

// loopSource wraps code in a function with a Loop region using transform.
func loopSource(sig, transform, code string) string {
	return sig + ` {
  register int i, j;
  /*@ begin Loop(transform ` + transform + `
  ` + code + `
  ) @*/
  ` + code + `
  /*@ end @*/
}
`
}

func regionOf(t *testing.T, src string, kind directive.Kind) *extract.LoopRegion {
	t.Helper()
	tree, err := extract.Extract(testutil.Context(t), "kernel.c", []byte(src))
	require.NoError(t, err)
	regions := tree.Find(kind)
	require.Len(t, regions, 1)
	loop, err := regions[0].Loop(cir.ScanSymbols(src))
	require.NoError(t, err)
	return loop
}

// env is the global state a machine starts from.
type env struct {
	ints      map[string]int64
	floats    map[string]float64
	arrays    map[string][]float64
	intArrays map[string][]int64
}

func (e env) machine() *cir.Machine {
	m := cir.NewMachine()
	for k, v := range e.ints {
		m.SetInt(k, v)
	}
	for k, v := range e.floats {
		m.SetFloat(k, v)
	}
	for k, v := range e.arrays {
		m.SetArray(k, v)
	}
	for k, v := range e.intArrays {
		m.SetIntArray(k, v)
	}
	return m
}

func runReference(t *testing.T, e env, loop *extract.LoopRegion) *cir.Machine {
	t.Helper()
	m := e.machine()
	require.NoError(t, m.Exec(loop.Stmts))
	return m
}

func runGenerated(t *testing.T, e env, gen *GeneratedCode) *cir.Machine {
	t.Helper()
	m := e.machine()
	for _, v := range gen.TimerVars {
		m.SetFloat(v, 0)
	}
	m.Define(gen.Kernels...)
	require.NoError(t, m.Exec(gen.Host), "host code:\n%s\nkernels:\n%s", gen.HostText(), gen.KernelText())
	return m
}

func assertArraysMatch(t *testing.T, want, got *cir.Machine, names ...string) {
	t.Helper()
	for _, name := range names {
		w, err := want.Array(name)
		require.NoError(t, err)
		g, err := got.Array(name)
		require.NoError(t, err)
		require.Len(t, g, len(w), name)
		assert.True(t, floats.EqualApprox(w, g, 1e-12), "%s: want %v, got %v", name, w, g)
	}
}

func randomSlice(r *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Float64()*2 - 1
	}
	return out
}

func vecEnv(n int) env {
	r := rand.New(rand.NewPCG(uint64(n), 7))
	return env{
		ints:   map[string]int64{"n": int64(n), "i": 0, "j": 0},
		floats: map[string]float64{"a": 1.5, "b": -0.25, "c": 3},
		arrays: map[string][]float64{"x": randomSlice(r, n), "y": randomSlice(r, n), "z": randomSlice(r, n)},
	}
}

func TestApply_CUDAMatchesReference(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		spec   *CUDA
		timing bool
	}{
		{name: "defaults", spec: &CUDA{ThreadCount: 32, BlockCount: 14, StreamCount: 1, UnrollInner: 1}},
		{name: "large grid with timing", spec: &CUDA{ThreadCount: 64, BlockCount: 28, StreamCount: 1, UnrollInner: 1}, timing: true},
		{name: "odd grid two streams", spec: &CUDA{ThreadCount: 7, BlockCount: 3, StreamCount: 2, UnrollInner: 1}},
		{name: "four streams with timing", spec: &CUDA{ThreadCount: 32, BlockCount: 14, StreamCount: 4, UnrollInner: 1}, timing: true},
		{name: "single thread three streams", spec: &CUDA{ThreadCount: 1, BlockCount: 1, StreamCount: 3, UnrollInner: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			loop := regionOf(t, loopSource(vecSig, "CUDA()", vecLoop), directive.KindLoop)
			e := vecEnv(1000)

			// --- Act ---
			gen, err := Apply(loop, tc.spec, space.Point{}, Options{Timing: tc.timing})
			require.NoError(t, err)
			got := runGenerated(t, e, gen)

			// --- Assert ---
			want := runReference(t, e, loop)
			assertArraysMatch(t, want, got, "x", "y", "z")
			require.Len(t, gen.Kernels, 1)
			assert.Equal(t, "__global__", gen.Kernels[0].Qual)
			assert.Equal(t, tc.spec.StreamCount, int64(got.Launches))

			if !tc.timing {
				assert.Empty(t, gen.TimerVars)
				return
			}
			require.Len(t, gen.TimerVars, 1)
			assert.True(t, strings.HasPrefix(gen.TimerVars[0], "lt_elapsed"))
			ms, err := got.Float(gen.TimerVars[0])
			require.NoError(t, err)
			assert.Greater(t, ms, 0.0)
		})
	}
}

func TestApply_CUDAVisitsEveryIterationOnce(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		loop  string
		first int
		step  int
	}{
		{loop: "for (i=0; i<=n-1; i++)\n    cnt[i] = cnt[i] + 1;", first: 0, step: 1},
		{loop: "for (i=2; i<=n-1; i+=3)\n    cnt[i] = cnt[i] + 1;", first: 2, step: 3},
	}
	sizes := []int{0, 1, 2, 31, 100}
	grids := []struct{ tc, bc, sc int64 }{{32, 14, 1}, {4, 2, 1}, {3, 5, 2}, {32, 1, 7}}

	for _, tc := range testCases {
		for _, n := range sizes {
			for _, g := range grids {
				name := fmt.Sprintf("step %d n=%d TC=%d BC=%d S=%d", tc.step, n, g.tc, g.bc, g.sc)
				t.Run(name, func(t *testing.T) {
					t.Parallel()

					// --- Arrange ---
					src := loopSource("void count(int n, double *cnt)", "CUDA()", tc.loop)
					loop := regionOf(t, src, directive.KindLoop)
					e := env{ints: map[string]int64{"n": int64(n), "i": 0}, arrays: map[string][]float64{"cnt": make([]float64, n)}}
					spec := &CUDA{ThreadCount: g.tc, BlockCount: g.bc, StreamCount: g.sc, UnrollInner: 1}

					// --- Act ---
					gen, err := Apply(loop, spec, space.Point{}, Options{})
					require.NoError(t, err)
					m := runGenerated(t, e, gen)

					// --- Assert ---
					cnt, err := m.Array("cnt")
					require.NoError(t, err)
					want := make([]float64, n)
					for i := tc.first; i < n; i += tc.step {
						want[i] = 1
					}
					assert.Equal(t, want, cnt)
				})
			}
		}
	}
}

func TestApply_CUDAKeepsExitValue(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			code := "for (i=0; i<=n-1; i++)\n    y[i] = 2*y[i];\n  last = i;"
			loop := regionOf(t, loopSource("void scale(int n, double *y, double last)", "CUDA()", code), directive.KindLoop)
			e := env{
				ints:   map[string]int64{"n": int64(n), "i": -5},
				floats: map[string]float64{"last": -1},
				arrays: map[string][]float64{"y": randomSlice(rand.New(rand.NewPCG(1, 2)), n)},
			}

			// --- Act ---
			gen, err := Apply(loop, &CUDA{ThreadCount: 8, BlockCount: 2, StreamCount: 1, UnrollInner: 1}, space.Point{}, Options{})
			require.NoError(t, err)
			got := runGenerated(t, e, gen)

			// --- Assert ---
			want := runReference(t, e, loop)
			assertArraysMatch(t, want, got, "y")
			last, err := got.Float("last")
			require.NoError(t, err)
			assert.Equal(t, float64(n), last)
		})
	}
}

const matVecSig = "void MatMult(double* A, double* x, double* y, int m, int n)"

const matVecLoop = `for(i=0; i<=m-1; i++) {
    for(j=0; j<=n-1; j++)
      y[i] += A[i+j*m] * x[j];
  }`

func TestApply_CUDAUnrollsInnerLoops(t *testing.T) {
	t.Parallel()

	for _, u := range []int64{1, 2, 3, 8} {
		t.Run(fmt.Sprintf("unrollInner=%d", u), func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			loop := regionOf(t, loopSource(matVecSig, "CUDA()", matVecLoop), directive.KindLoop)
			r := rand.New(rand.NewPCG(3, 4))
			m, n := 9, 5
			e := env{
				ints:   map[string]int64{"m": int64(m), "n": int64(n), "i": 0, "j": 0},
				arrays: map[string][]float64{"A": randomSlice(r, m*n), "x": randomSlice(r, n), "y": make([]float64, m)},
			}

			// --- Act ---
			gen, err := Apply(loop, &CUDA{ThreadCount: 4, BlockCount: 2, StreamCount: 1, UnrollInner: u}, space.Point{}, Options{})
			require.NoError(t, err)
			got := runGenerated(t, e, gen)

			// --- Assert ---
			want := runReference(t, e, loop)
			assertArraysMatch(t, want, got, "y")
			if u > 1 {
				assert.Contains(t, gen.KernelText(), fmt.Sprintf("j += %d", u))
			}
		})
	}
}

func TestApply_CUDAFlags(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(vecSig, "CUDA()", vecLoop), directive.KindLoop)
	spec := &CUDA{ThreadCount: 32, BlockCount: 14, StreamCount: 1, UnrollInner: 1, CacheBlocks: true, PreferL1Size: 48}

	// --- Act ---
	gen, err := Apply(loop, spec, space.Point{}, Options{})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{FlagCacheBlocks, "-DPREFER_L1_SIZE=48"}, gen.BuildFlags)
	assert.Contains(t, gen.HostText(), "cudaFuncCachePreferL1")
	assert.Contains(t, gen.HostText(), "<<<14,32>>>")
}

func TestApply_InvalidParameters(t *testing.T) {
	t.Parallel()

	pt := space.Point{Names: []string{"TC"}, Values: []cty.Value{cty.NumberIntVal(0)}}
	cuda := func(f func(*CUDA)) *CUDA {
		s := &CUDA{ThreadCount: 32, BlockCount: 14, StreamCount: 1, UnrollInner: 1}
		f(s)
		return s
	}
	testCases := []struct {
		name      string
		spec      Spec
		transform string
		param     string
		reason    string
	}{
		{name: "zero threads", spec: cuda(func(s *CUDA) { s.ThreadCount = 0 }), transform: NameCUDA, param: "threadCount", reason: "at least 1"},
		{name: "negative blocks", spec: cuda(func(s *CUDA) { s.BlockCount = -1 }), transform: NameCUDA, param: "blockCount", reason: "at least 1"},
		{name: "zero streams", spec: cuda(func(s *CUDA) { s.StreamCount = 0 }), transform: NameCUDA, param: "streamCount", reason: "at least 1"},
		{name: "negative L1 size", spec: cuda(func(s *CUDA) { s.PreferL1Size = -4 }), transform: NameCUDA, param: "preferL1Size", reason: "negative"},
		{name: "zero unroll factor", spec: &UnrollJam{Vars: []string{""}, Factors: []int64{0}}, transform: NameUnrollJam, param: "ufactor", reason: "at least 1"},
		{name: "unknown loop variable", spec: &UnrollJam{Vars: []string{"k"}, Factors: []int64{2}}, transform: NameUnrollJam, param: "vars", reason: "no loop over k"},
		{name: "zero row unroll", spec: &SpMV{Roles: validRoles(), OutUnroll: 0, InUnroll: 1}, transform: NameSpMV, param: "out_unroll_factor", reason: "at least 1"},
		{
			name:      "offloaded twice",
			spec:      &Composite{Stages: []Spec{cuda(func(*CUDA) {}), cuda(func(*CUDA) {})}},
			transform: NameCUDA,
			reason:    "already runs in a kernel",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			loop := regionOf(t, loopSource(vecSig, "CUDA()", vecLoop), directive.KindLoop)

			// --- Act ---
			gen, err := Apply(loop, tc.spec, pt, Options{})

			// --- Assert ---
			require.Error(t, err)
			assert.Nil(t, gen)
			var te *TransformError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.transform, te.Transform)
			assert.Equal(t, tc.param, te.Param)
			assert.Contains(t, te.Reason, tc.reason)
			assert.Equal(t, "TC=0", te.Point.String())
			assert.Equal(t, "kernel.c", te.Range.Filename)
			assert.Contains(t, err.Error(), "(point TC=0)")
		})
	}
}

func TestApply_UnrollJamText(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	code := "for (i=0; i<=n-1; i++)\n    y[i] = y[i] + x[i];"
	loop := regionOf(t, loopSource("void add(int n, double *x, double *y)", "UnrollJam(ufactor=2)", code), directive.KindLoop)

	// --- Act ---
	gen, err := Apply(loop, &UnrollJam{Vars: []string{""}, Factors: []int64{2}}, space.Point{}, Options{})

	// --- Assert ---
	require.NoError(t, err)
	want := `for (i = 0; i <= n-1-1; i += 2) {
  y[i] = y[i]+x[i];
  y[i+1] = y[i+1]+x[i+1];
}
for (; i <= n-1; i++) {
  y[i] = y[i]+x[i];
}`
	assert.Equal(t, want, strings.TrimSpace(gen.HostText()))
	assert.Empty(t, gen.Kernels)
	assert.Empty(t, gen.BuildFlags)
}

func TestApply_UnrollJamMatchesReference(t *testing.T) {
	t.Parallel()

	for _, factor := range []int64{1, 2, 3, 4, 5} {
		for _, n := range []int{0, 1, 4, 7, 13} {
			t.Run(fmt.Sprintf("factor=%d n=%d", factor, n), func(t *testing.T) {
				t.Parallel()

				// --- Arrange ---
				loop := regionOf(t, loopSource(vecSig, "UnrollJam()", vecLoop), directive.KindLoop)
				e := vecEnv(n)

				// --- Act ---
				gen, err := Apply(loop, &UnrollJam{Vars: []string{"i"}, Factors: []int64{factor}}, space.Point{}, Options{})
				require.NoError(t, err)
				got := runGenerated(t, e, gen)

				// --- Assert ---
				want := runReference(t, e, loop)
				assertArraysMatch(t, want, got, "y")
				wi, err := want.Float("i")
				require.NoError(t, err)
				gi, err := got.Float("i")
				require.NoError(t, err)
				assert.Equal(t, wi, gi, "loop variable after the loop")
			})
		}
	}
}

func TestApply_UnrollJamJamsOuterLoop(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(matVecSig, "UnrollJam()", matVecLoop), directive.KindLoop)
	r := rand.New(rand.NewPCG(5, 6))
	m, n := 7, 3
	e := env{
		ints:   map[string]int64{"m": int64(m), "n": int64(n), "i": 0, "j": 0},
		arrays: map[string][]float64{"A": randomSlice(r, m*n), "x": randomSlice(r, n), "y": randomSlice(r, m)},
	}

	// --- Act ---
	gen, err := Apply(loop, &UnrollJam{Vars: []string{"i", "j"}, Factors: []int64{2, 2}}, space.Point{}, Options{})
	require.NoError(t, err)
	got := runGenerated(t, e, gen)

	// --- Assert ---
	want := runReference(t, e, loop)
	assertArraysMatch(t, want, got, "y")
	assert.Contains(t, gen.HostText(), "y[i+1] += A[i+1+j*m]*x[j];")
}

func TestApply_ScalarReplaceText(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(vecSig, "ScalarReplace()", vecLoop), directive.KindLoop)

	// --- Act ---
	gen, err := Apply(loop, &ScalarReplace{On: true, Prefix: DefaultPrefix}, space.Point{}, Options{})

	// --- Assert ---
	require.NoError(t, err)
	want := `for (i = 0; i <= n-1; i++) {
  double scv_1 = y[i];
  scv_1 = a*x[i]+b*scv_1+c*z[i];
  y[i] = scv_1;
}`
	assert.Equal(t, want, strings.TrimSpace(gen.HostText()))
}

func TestApply_ScalarReplace(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		sig      string
		code     string
		spec     *ScalarReplace
		contains []string
		absent   []string
	}{
		{
			name:     "off leaves the loop alone",
			sig:      vecSig,
			code:     vecLoop,
			spec:     &ScalarReplace{On: false, Prefix: DefaultPrefix},
			absent:   []string{"scv_"},
			contains: []string{"y[i] = a*x[i]+b*y[i]+c*z[i];"},
		},
		{
			name:     "dtype and prefix",
			sig:      vecSig,
			code:     vecLoop,
			spec:     &ScalarReplace{On: true, DType: "float", Prefix: "t_"},
			contains: []string{"float t_1 = y[i];", "y[i] = t_1;"},
		},
		{
			name:     "read-only element",
			sig:      "void sq(int n, double *x, double *y)",
			code:     "for (i=0; i<=n-1; i++)\n    y[i] = x[i]*x[i];",
			spec:     &ScalarReplace{On: true, Prefix: DefaultPrefix},
			contains: []string{"double scv_1 = x[i];", "y[i] = scv_1*scv_1;"},
			absent:   []string{"x[i] = scv_1"},
		},
		{
			name:   "single reference is kept",
			sig:    "void cp(int n, double *x, double *y)",
			code:   "for (i=0; i<=n-1; i++)\n    y[i] = x[i];",
			spec:   &ScalarReplace{On: true, Prefix: DefaultPrefix},
			absent: []string{"scv_"},
		},
		{
			name:   "overlapping writes are kept",
			sig:    "void sh(int n, int k, double *y)",
			code:   "for (i=0; i<=n-1; i++) {\n    y[i] = y[i] + 1;\n    y[k] = y[k] * 2;\n  }",
			spec:   &ScalarReplace{On: true, Prefix: DefaultPrefix},
			absent: []string{"scv_"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			loop := regionOf(t, loopSource(tc.sig, "ScalarReplace()", tc.code), directive.KindLoop)

			// --- Act ---
			gen, err := Apply(loop, tc.spec, space.Point{}, Options{})

			// --- Assert ---
			require.NoError(t, err)
			text := gen.HostText()
			for _, s := range tc.contains {
				assert.Contains(t, text, s)
			}
			for _, s := range tc.absent {
				assert.NotContains(t, text, s)
			}
		})
	}
}

func TestApply_ScalarReplaceAfterUnroll(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(vecSig, "UnrollJam()", vecLoop), directive.KindLoop)
	spec := &Composite{Stages: []Spec{
		&UnrollJam{Vars: []string{"i"}, Factors: []int64{3}},
		&ScalarReplace{On: true, Prefix: DefaultPrefix},
	}}
	e := vecEnv(11)

	// --- Act ---
	gen, err := Apply(loop, spec, space.Point{}, Options{})
	require.NoError(t, err)
	got := runGenerated(t, e, gen)

	// --- Assert ---
	want := runReference(t, e, loop)
	assertArraysMatch(t, want, got, "y")
	assert.Contains(t, gen.HostText(), "double scv_2 = y[i+1];")
	assert.Contains(t, gen.HostText(), "y[i+2] = scv_3;")
}

const spmvSrc = `void spmv(int m, double *y, double *x, double *aa, int *ai, int *aj) {
  int i, j;
  /*@ begin SpMV(
    num_rows = m;
    out_vector = y;
    in_vector = x;
    in_matrix = aa;
    row_inds = ai;
    col_inds = aj;
    out_loop_var = i;
    in_loop_var = j;
    out_unroll_factor = OU;
    in_unroll_factor = IU;
    fancy_knob = 1
  ) @*/
  for (i=0; i<=m-1; i++) {
    y[i] = 0.0;
    for (j=ai[i]; j<=ai[i+1]-1; j++)
      y[i] = y[i] + aa[j]*x[aj[j]];
  }
  /*@ end @*/
}
`

func validRoles() map[string]string {
	return map[string]string{
		"num_rows": "m", "out_vector": "y", "in_vector": "x", "in_matrix": "aa",
		"row_inds": "ai", "col_inds": "aj", "out_loop_var": "i", "in_loop_var": "j",
		"elm_type": "double", "init_val": "0",
	}
}

func spmvEnv() env {
	r := rand.New(rand.NewPCG(9, 9))
	lengths := []int64{3, 0, 1, 4, 2, 0, 5}
	ai := []int64{0}
	var aj []int64
	for _, l := range lengths {
		ai = append(ai, ai[len(ai)-1]+l)
		for range l {
			aj = append(aj, r.Int64N(6))
		}
	}
	return env{
		ints:      map[string]int64{"m": int64(len(lengths)), "i": 0, "j": 0},
		arrays:    map[string][]float64{"y": make([]float64, len(lengths)), "x": randomSlice(r, 6), "aa": randomSlice(r, len(aj))},
		intArrays: map[string][]int64{"ai": ai, "aj": aj},
	}
}

func TestApply_SpMVMatchesReference(t *testing.T) {
	t.Parallel()

	testCases := []struct{ out, in int64 }{{1, 1}, {3, 3}, {2, 4}, {4, 1}, {7, 2}, {8, 8}}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("out=%d in=%d", tc.out, tc.in), func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			tree, err := extract.Extract(testutil.Context(t), "spmv.c", []byte(spmvSrc))
			require.NoError(t, err)
			region := tree.Find(directive.KindSpMV)[0]
			loop, err := region.Loop(cir.ScanSymbols(spmvSrc))
			require.NoError(t, err)
			pt := space.Point{Names: []string{"OU", "IU"}, Values: []cty.Value{cty.NumberIntVal(tc.out), cty.NumberIntVal(tc.in)}}
			spec, ignored, err := Resolve(region.Directive, pt)
			require.NoError(t, err)
			e := spmvEnv()

			// --- Act ---
			gen, err := Apply(loop, spec, pt, Options{})
			require.NoError(t, err)
			got := runGenerated(t, e, gen)

			// --- Assert ---
			assert.Equal(t, []string{"SpMV.fancy_knob"}, ignored)
			want := runReference(t, e, loop)
			assertArraysMatch(t, want, got, "y")
		})
	}
}

func TestApply_SpMVText(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, spmvSrc, directive.KindSpMV)

	// --- Act ---
	gen, err := Apply(loop, &SpMV{Roles: validRoles(), OutUnroll: 1, InUnroll: 1}, space.Point{}, Options{})

	// --- Assert ---
	require.NoError(t, err)
	want := `for (i = 0; i <= m-1; i++) {
  double lt_y0 = 0;
  for (j = ai[i]; j <= ai[i+1]-1; j++) {
    lt_y0 = lt_y0+aa[j]*x[aj[j]];
  }
  y[i] = lt_y0;
}`
	assert.Equal(t, want, strings.TrimSpace(gen.HostText()))
}

func TestApply_CompositeOrderMatters(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	forward := "Composite(cuda, scalarreplace, unrolljam(['i'],[2]))"
	backward := "Composite(unrolljam(['i'],[2]), scalarreplace, cuda)"
	e := vecEnv(37)

	gens := make(map[string]*GeneratedCode)
	for _, tr := range []string{forward, backward} {
		loop := regionOf(t, loopSource(vecSig, tr, vecLoop), directive.KindComposite)
		spec, _, err := Resolve(loop.Region.Directive, space.Point{})
		require.NoError(t, err)

		// --- Act ---
		gen, err := Apply(loop, spec, space.Point{}, Options{})
		require.NoError(t, err)
		gens[tr] = gen

		// --- Assert ---
		got := runGenerated(t, e, gen)
		assertArraysMatch(t, runReference(t, e, loop), got, "y")
	}

	f, b := gens[forward], gens[backward]
	assert.NotEqual(t, f.HostText()+f.KernelText(), b.HostText()+b.KernelText())
	assert.Contains(t, f.KernelText(), "scv_1")
	assert.Contains(t, b.HostText(), "for (; i <= n-1; i++)", "the remainder stays on the host")
}

func TestApply_CompositeEqualsSequence(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(vecSig, "Composite(cuda, scalarreplace, unrolljam(['i'],[2]))", vecLoop), directive.KindComposite)
	resolved, _, err := Resolve(loop.Region.Directive, space.Point{})
	require.NoError(t, err)
	manual := &Composite{Stages: []Spec{
		&CUDA{ThreadCount: DefaultThreadCount, BlockCount: DefaultBlockCount, StreamCount: 1, UnrollInner: 1},
		&ScalarReplace{On: true, Prefix: DefaultPrefix},
		&UnrollJam{Vars: []string{"i"}, Factors: []int64{2}},
	}}

	// --- Act ---
	a, err := Apply(loop, resolved, space.Point{}, Options{})
	require.NoError(t, err)
	b, err := Apply(loop, manual, space.Point{}, Options{})
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, b.HostText(), a.HostText())
	assert.Equal(t, b.KernelText(), a.KernelText())
}

func TestApply_DoesNotModifyRegion(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	loop := regionOf(t, loopSource(vecSig, "CUDA()", vecLoop), directive.KindLoop)
	before := cir.Print(loop.Stmts)

	// --- Act ---
	_, err := Apply(loop, &Composite{Stages: []Spec{
		&ScalarReplace{On: true, Prefix: DefaultPrefix},
		&UnrollJam{Vars: []string{""}, Factors: []int64{4}},
		&CUDA{ThreadCount: 32, BlockCount: 14, StreamCount: 2, UnrollInner: 1},
	}}, space.Point{}, Options{Timing: true})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, before, cir.Print(loop.Stmts))
}
