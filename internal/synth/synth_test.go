package synth

import (
	"errors"
	"testing"

	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/extract"
	"github.com/specialistvlad/looptune/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tuned = `void f(double *y, int n) {
  register int i;
  /*@ begin PerfTuning(
        def performance_params { param U[] = [2]; }
  ) @*/
  int k = 0;
  /*@ begin Loop(transform UnrollJam(ufactor=U)
  for (i=0; i<=n-1; i++) y[i] = k;
  ) @*/
  for (i=0; i<=n-1; i++) y[i] = k;
  /*@ end @*/
  /*@ end @*/
  /*@ begin Loop(transform CUDA(threadCount=32)
  for (i=0; i<=n-1; i++) y[i] = 0;
  ) @*/
  for (i=0; i<=n-1; i++) y[i] = 0;
  /*@ end @*/
}
`

const kernel = "__global__ void kern(double *y, int n) {\n}\n"

func choices(t *testing.T) Chooser {
	t.Helper()
	return func(r *extract.Region) (*Choice, error) {
		switch r.ID {
		case 1:
			return &Choice{Host: "for (i = 0; i <= n-2; i += 2) {\n  y[i] = k;\n  y[i+1] = k;\n}\n"}, nil
		case 2:
			return &Choice{Host: "kern<<<1,32>>>(y,n);", Kernels: []string{kernel}}, nil
		}
		t.Fatalf("unexpected region %d", r.ID)
		return nil, nil
	}
}

func extractTree(t *testing.T, src string) *extract.Tree {
	t.Helper()
	tree, err := extract.Extract(testutil.Context(t), "f.c", []byte(src))
	require.NoError(t, err)
	return tree
}

func TestSplice(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		src    string
		span   extract.Span
		text   string
		indent string
		want   string
	}{
		{
			name: "multi-line text is indented",
			src:  "a;\n  OLD\nb;\n", span: extract.Span{Begin: 5, End: 8},
			text: "for (;;) {\n  x;\n\n}", indent: "  ",
			want: "a;\n  for (;;) {\n    x;\n\n  }\nb;\n",
		},
		{
			name: "single line", src: "xOLDy", span: extract.Span{Begin: 1, End: 4},
			text: "new", indent: "\t", want: "xnewy",
		},
		{
			name: "empty span inserts", src: "ab", span: extract.Span{Begin: 1, End: 1},
			text: "1\n2", indent: "\t", want: "a1\n\t2b",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Act ---
			got, err := Splice([]byte(tc.src), tc.span, tc.text, tc.indent)

			// --- Assert ---
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
			assert.Equal(t, tc.src[:tc.span.Begin], string(got[:tc.span.Begin]))
			assert.Equal(t, tc.src[tc.span.End:], string(got[len(got)-(len(tc.src)-tc.span.End):]))
		})
	}
}

func TestSplice_SpanOutsideSource(t *testing.T) {
	t.Parallel()

	for _, span := range []extract.Span{{Begin: -1, End: 2}, {Begin: 2, End: 9}, {Begin: 3, End: 2}} {
		_, err := Splice([]byte("abcd"), span, "x", "")
		assert.Error(t, err, "%+v", span)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	tree := extractTree(t, tuned)
	want := kernel + `
void f(double *y, int n) {
  register int i;
  int k = 0;
  for (i = 0; i <= n-2; i += 2) {
    y[i] = k;
    y[i+1] = k;
  }
  kern<<<1,32>>>(y,n);
}
`

	// --- Act ---
	first, err := Render(tree, choices(t))
	require.NoError(t, err)
	second, err := Render(tree, choices(t))
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, want, string(first))
	assert.Equal(t, first, second)
}

func TestRender_NilChoiceKeepsSource(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := "int g;\n  /*@ begin Loop(transform CUDA()\n  for (i=0; i<=9; i++) y[i]=0;\n) @*/\n  for (i=0; i<=9; i++) y[i]=0;\n  /*@ end @*/\n"
	tree := extractTree(t, src)

	// --- Act ---
	got, err := Render(tree, func(*extract.Region) (*Choice, error) { return nil, nil })

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, src, string(got))
}

func TestRender_ChooserError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	tree := extractTree(t, tuned)
	boom := errors.New("no measurement")

	// --- Act ---
	_, err := Render(tree, func(*extract.Region) (*Choice, error) { return nil, boom })

	// --- Assert ---
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "region 1")
}

func TestBody(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	tree := extractTree(t, tuned)
	perf := tree.Find(directive.KindPerfTuning)[0]
	chooser := func(r *extract.Region) (*Choice, error) {
		return &Choice{Host: "lt_k<<<1,1>>>();\nsync();", Kernels: []string{"K", "K"}}, nil
	}

	// --- Act ---
	body, kernels, err := Body(tree.Src, perf, chooser)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "\n  int k = 0;\n  lt_k<<<1,1>>>();\n  sync();\n  ", body)
	assert.Equal(t, []string{"K"}, kernels)
}

func TestRender_PreludeFollowsDefinitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		head string
		want string
	}{
		{
			name: "includes and defines",
			head: "#include <stdio.h>\n#define N 4\n\nint g;\n",
			want: "#include <stdio.h>\n#define N 4\n\n" + kernel + "\nint g;\n",
		},
		{
			name: "continued macro and typedef",
			head: "#define ADD(a, b) \\\n  ((a) + (b))\ntypedef struct {\n  double v; /* ; */\n} elm_t;\nint g;\n",
			want: "#define ADD(a, b) \\\n  ((a) + (b))\ntypedef struct {\n  double v; /* ; */\n} elm_t;\n\n" + kernel + "\nint g;\n",
		},
		{
			name: "definitions inside functions stay",
			head: "// #define X\nint h(void) {\n  typedef int T;\n#ifdef X\n  return 1;\n#endif\n}\n",
			want: kernel + "\n// #define X\nint h(void) {\n  typedef int T;\n#ifdef X\n  return 1;\n#endif\n}\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			loop := "void f(double *y) {\n  /*@ begin Loop(transform CUDA()\n  for (i=0; i<=9; i++) y[i]=0;\n) @*/\n  for (i=0; i<=9; i++) y[i]=0;\n  /*@ end @*/\n}\n"
			tree := extractTree(t, tc.head+loop)
			chooser := func(*extract.Region) (*Choice, error) {
				return &Choice{Host: "kern<<<1,32>>>(y,10);", Kernels: []string{kernel}}, nil
			}

			// --- Act ---
			got, err := Render(tree, chooser)

			// --- Assert ---
			require.NoError(t, err)
			assert.Equal(t, tc.want+"void f(double *y) {\n  kern<<<1,32>>>(y,10);\n}\n", string(got))
		})
	}
}
