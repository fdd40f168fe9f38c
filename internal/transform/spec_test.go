package transform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const body = " for (i=0;i<=n-1;i++) y[i]=x[i];)"

func parseDirective(t *testing.T, text string) *directive.Directive {
	t.Helper()
	d, err := directive.Parse("tune.c", text, hcl.InitialPos)
	require.NoError(t, err)
	return d
}

func point(kv ...any) space.Point {
	var pt space.Point
	for i := 0; i < len(kv); i += 2 {
		pt.Names = append(pt.Names, kv[i].(string))
		switch v := kv[i+1].(type) {
		case int:
			pt.Values = append(pt.Values, cty.NumberIntVal(int64(v)))
		case bool:
			pt.Values = append(pt.Values, cty.BoolVal(v))
		case string:
			pt.Values = append(pt.Values, cty.StringVal(v))
		}
	}
	return pt
}

func TestResolve(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		text    string
		pt      space.Point
		want    Spec
		ignored []string
	}{
		{
			name: "cuda with point values",
			text: "Loop(transform CUDA(threadCount=TC, blockCount=BC, streamCount=2, cacheBlocks=CB, preferL1Size=PL, unrollInner=UIF)" + body,
			pt:   point("TC", 64, "BC", 28, "CB", true, "PL", 48, "UIF", 2),
			want: &CUDA{ThreadCount: 64, BlockCount: 28, StreamCount: 2, CacheBlocks: true, PreferL1Size: 48, UnrollInner: 2},
		},
		{
			name: "cuda defaults and unknown keys",
			text: "Loop(transform cuda(fancy=1, Threadcount=16)" + body,
			want: &CUDA{ThreadCount: 16, BlockCount: DefaultBlockCount, StreamCount: 1, UnrollInner: 1},
			ignored: []string{"CUDA.fancy"},
		},
		{
			name: "positional cuda arguments",
			text: "Loop(transform CUDA(TC, 7)" + body,
			pt:   point("TC", 128),
			want: &CUDA{ThreadCount: 128, BlockCount: 7, StreamCount: 1, UnrollInner: 1},
		},
		{
			name: "unroll factor",
			text: "Loop(transform UnrollJam(ufactor=UF)" + body,
			pt:   point("UF", 4),
			want: &UnrollJam{Vars: []string{""}, Factors: []int64{4}},
		},
		{
			name: "unroll variables and factors",
			text: "Loop(transform unrolljam(['i','j'], [U, 2])" + body,
			pt:   point("U", 3),
			want: &UnrollJam{Vars: []string{"i", "j"}, Factors: []int64{3, 2}},
		},
		{
			name: "scalar replacement options",
			text: "Loop(transform ScalarReplace(dtype='float', prefix='t_')" + body,
			want: &ScalarReplace{On: true, DType: "float", Prefix: "t_"},
		},
		{
			name: "scalar replacement defaults",
			text: "Loop(transform ScalarReplace()" + body,
			want: &ScalarReplace{On: true, Prefix: DefaultPrefix},
		},
		{
			name: "several transforms compose",
			text: "Loop(\n transform CUDA(threadCount=32)\n transform UnrollJam(ufactor=2)\n" + body,
			want: &Composite{Stages: []Spec{
				&CUDA{ThreadCount: 32, BlockCount: DefaultBlockCount, StreamCount: 1, UnrollInner: 1},
				&UnrollJam{Vars: []string{""}, Factors: []int64{2}},
			}},
		},
		{
			name: "composite stage forms",
			text: "Loop(transform Composite(cuda=(TC,14), scalarreplace=False, unrolljam=(['i'],[2]))" + body,
			pt:   point("TC", 64),
			want: &Composite{Stages: []Spec{
				&CUDA{ThreadCount: 64, BlockCount: 14, StreamCount: 1, UnrollInner: 1},
				&UnrollJam{Vars: []string{"i"}, Factors: []int64{2}},
			}},
		},
		{
			name: "composite of bare names",
			text: "Loop(transform Composite(scalarreplace=True, cuda)" + body,
			want: &Composite{Stages: []Spec{
				&ScalarReplace{On: true, Prefix: DefaultPrefix},
				&CUDA{ThreadCount: DefaultThreadCount, BlockCount: DefaultBlockCount, StreamCount: 1, UnrollInner: 1},
			}},
		},
		{
			name: "spmv roles",
			text: "SpMV(num_rows = m; out_vector = y; in_vector = x; in_matrix = aa; row_inds = ai; col_inds = aj; " +
				"out_loop_var = i; in_loop_var = j; elm_type = float; out_unroll_factor = OU; extra = 1)",
			pt: point("OU", 2),
			want: &SpMV{
				Roles: map[string]string{
					"num_rows": "m", "out_vector": "y", "in_vector": "x", "in_matrix": "aa",
					"row_inds": "ai", "col_inds": "aj", "out_loop_var": "i", "in_loop_var": "j",
					"elm_type": "float", "init_val": "0",
				},
				OutUnroll: 2,
				InUnroll:  1,
			},
			ignored: []string{"SpMV.extra"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			d := parseDirective(t, tc.text)

			// --- Act ---
			got, ignored, err := Resolve(d, tc.pt)

			// --- Assert ---
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got, cmpopts.IgnoreTypes(hcl.Range{})); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tc.ignored, ignored)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		text      string
		pt        space.Point
		transform string
		param     string
		reason    string
	}{
		{
			name:      "unbound identifier",
			text:      "Loop(transform CUDA(threadCount=TC)" + body,
			transform: NameCUDA, param: "threadCount", reason: "TC",
		},
		{
			name:      "non-integer thread count",
			text:      "Loop(transform CUDA(threadCount=TC)" + body,
			pt:        point("TC", "many"),
			transform: NameCUDA, param: "threadCount",
		},
		{
			name:      "unknown transform",
			text:      "Loop(transform Tile(4)" + body,
			transform: "Tile", reason: "unknown transform",
		},
		{
			name:      "mismatched unroll lists",
			text:      "Loop(transform UnrollJam(['i','j'], [2])" + body,
			transform: NameUnrollJam, param: "factors", reason: "2 variables but 1 factors",
		},
		{
			name:      "bad prefix",
			text:      "Loop(transform ScalarReplace(prefix='9x')" + body,
			transform: NameScalarReplace, param: "prefix", reason: "C identifier",
		},
		{
			name:      "missing spmv role",
			text:      "SpMV(num_rows = m; out_vector = y; in_vector = x; in_matrix = aa; row_inds = ai; out_loop_var = i; in_loop_var = j)",
			transform: NameSpMV, param: "col_inds", reason: "not assigned",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			d := parseDirective(t, tc.text)

			// --- Act ---
			got, _, err := Resolve(d, tc.pt)

			// --- Assert ---
			require.Error(t, err)
			assert.Nil(t, got)
			var te *TransformError
			require.True(t, errors.As(err, &te), "got %T: %v", err, err)
			assert.Equal(t, tc.transform, te.Transform)
			assert.Equal(t, tc.param, te.Param)
			assert.Contains(t, te.Reason, tc.reason)

			diag := te.Diagnostic()
			assert.Equal(t, hcl.DiagError, diag.Severity)
			assert.Contains(t, diag.Summary, "Invalid "+tc.transform+" transform")
		})
	}
}
