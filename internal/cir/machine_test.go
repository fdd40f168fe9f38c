package cir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintExpr_InsertsParentheses(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(a+b)*c", PrintExpr(Bin("*", Bin("+", Id("a"), Id("b")), Id("c"))))
	assert.Equal(t, "a-(b-c)", PrintExpr(Bin("-", Id("a"), Bin("-", Id("b"), Id("c")))))
	assert.Equal(t, "a-b-c", PrintExpr(Bin("-", Bin("-", Id("a"), Id("b")), Id("c"))))
	assert.Equal(t, "i <= n-1", PrintExpr(Bin("<=", Id("i"), Sub(Id("n"), Int(1)))))
	assert.Equal(t, "n+2", PrintExpr(Sub(Id("n"), Int(-2))))
	assert.Equal(t, "x", PrintExpr(Mul(Int(1), Id("x"))))
}

func TestMachine_HostLoop(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	m := NewMachine()
	m.SetInt("n", 4)
	m.SetFloat("a", 2)
	m.SetArray("x", []float64{1, 2, 3, 4})
	m.SetArray("y", []float64{10, 20, 30, 40})

	// --- Act ---
	err := m.Run("int i; for (i=0; i<=n-1; i++) y[i] = y[i] + a*x[i];")

	// --- Assert ---
	require.NoError(t, err)
	y, err := m.Array("y")
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 24, 36, 48}, y)
}

func TestMachine_CSemantics(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		src  string
		want float64
	}{
		{name: "integer division truncates", src: "int a = 7; r = a/2;", want: 3},
		{name: "mixed arithmetic promotes", src: "int a = 7; r = a/2.0;", want: 3.5},
		{name: "int cell truncates on store", src: "int a; a = 2.9; r = a;", want: 2},
		{name: "float cell rounds", src: "float f = 0.1; r = f;", want: float64(float32(0.1))},
		{name: "short circuit and", src: "int z = 0; r = 1; if (z != 0 && 1/z) r = 5;", want: 1},
		{name: "ternary", src: "r = 3 > 2 ? 8 : 9;", want: 8},
		{name: "compound assignment", src: "r = 2; r *= 3; r -= 1;", want: 5},
		{name: "pre and post increment", src: "int i = 1; int j = i++; r = j*10 + ++i;", want: 13},
		{name: "math builtins", src: "r = sqrt(16.0) + fabs(-1.5) + pow(2.0, 3.0);", want: 13.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			m := NewMachine()
			m.SetFloat("r", 0)

			// --- Act ---
			err := m.Run(tc.src)

			// --- Assert ---
			require.NoError(t, err)
			r, err := m.Float("r")
			require.NoError(t, err)
			assert.Equal(t, tc.want, r)
		})
	}
}

func TestMachine_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "out of range", src: "x[4] = 1;", wantErr: "out of range"},
		{name: "undefined", src: "q = 1;", wantErr: "undefined q"},
		{name: "division by zero", src: "int z = 0; int q = 1/z;", wantErr: "division by zero"},
		{name: "unknown function", src: "frobnicate(1);", wantErr: "undefined function"},
		{name: "device memory from host", src: "double *d; cudaMalloc((void**)&d, 8); d[0] = 1;", wantErr: "device memory accessed from host"},
		{name: "host memory in kernel", src: "__global__ void k(double *p) { p[0] = 1; }\nk<<<1,1>>>(x);", wantErr: "points to host memory"},
		{name: "wrong copy direction", src: "double *d; cudaMalloc((void**)&d, 32); cudaMemcpy(x, d, 32, cudaMemcpyHostToDevice);", wantErr: "direction"},
		{name: "copy overrun", src: "double *d; cudaMalloc((void**)&d, 16); cudaMemcpy(d, x, 32, cudaMemcpyHostToDevice);", wantErr: "out of range"},
		{name: "empty grid", src: "__global__ void k(int n) { }\nk<<<0,32>>>(1);", wantErr: "invalid launch configuration"},
		{name: "step limit", src: "for (;;) ;", wantErr: "step limit"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			m := NewMachine()
			m.MaxSteps = 10_000
			m.SetArray("x", []float64{1, 2, 3, 4})

			// --- Act ---
			err := m.Run(tc.src)

			// --- Assert ---
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestMachine_KernelLaunchWithStreams(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := `__global__ void scale(int lo, int hi, double a, double *y) {
  int i;
  for (i = blockIdx.x*blockDim.x+threadIdx.x+lo; i <= hi; i += blockDim.x*gridDim.x)
    y[i] = a*y[i];
}
double *dy;
cudaStream_t s[2];
cudaEvent_t start, stop;
float ms;
int k;
cudaMalloc((void**)&dy, n*sizeof(double));
cudaMemcpy(dy, y, n*sizeof(double), cudaMemcpyHostToDevice);
for (k = 0; k < 2; k++) cudaStreamCreate(&s[k]);
cudaEventCreate(&start);
cudaEventCreate(&stop);
cudaEventRecord(start, 0);
for (k = 0; k < 2; k++)
  scale<<<2,2,0,s[k]>>>(k*(n/2), k*(n/2)+n/2-1, 3.0, dy);
cudaEventRecord(stop, 0);
cudaEventSynchronize(stop);
cudaEventElapsedTime(&ms, start, stop);
total += ms;
cudaMemcpy(y, dy, n*sizeof(double), cudaMemcpyDeviceToHost);
for (k = 0; k < 2; k++) cudaStreamDestroy(s[k]);
cudaFree(dy);
printf("%d launches\n", 2);
`
	m := NewMachine()
	var out bytes.Buffer
	m.Stdout = &out
	m.SetInt("n", 10)
	m.SetFloat("total", 0)
	m.SetArray("y", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	// --- Act ---
	err := m.Run(src)

	// --- Assert ---
	require.NoError(t, err)
	y, err := m.Array("y")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6, 9, 12, 15, 18, 21, 24, 27, 30}, y)
	assert.Equal(t, 2, m.Launches)
	total, err := m.Float("total")
	require.NoError(t, err)
	assert.Greater(t, total, 0.0)
	assert.Equal(t, "2 launches\n", out.String())
}

func TestMachine_EventsOnDifferentStreams(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	err := m.Run(`cudaStream_t s;
cudaEvent_t a, b;
float ms = 7;
cudaStreamCreate(&s);
cudaEventCreate(&a);
cudaEventCreate(&b);
cudaEventRecord(a, 0);
cudaEventRecord(b, s);
cudaEventElapsedTime(&ms, a, b);
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "streams 0 and 1")
}

func TestMachine_ArrayEmpty(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	m := NewMachine()
	m.SetArray("y", []float64{})

	// --- Act ---
	y, err := m.Array("y")

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []float64{}, y)
}
