package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_NestedMarkers(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := "void f() {\n" +
		"  /*@ begin PerfTuning (\n" +
		"    def performance_params { param TC[] = [32, 64]; }\n" +
		"  ) @*/\n" +
		"  /*@ begin Loop(transform CUDA(threadCount=TC)\n" +
		"  for (i=0; i<=n-1; i++) y[i]=x[i];\n" +
		"  ) @*/\n" +
		"  for (i=0; i<=n-1; i++) y[i]=x[i];\n" +
		"  /*@ end @*/\n" +
		"  /*@ end @*/\n" +
		"}\n"

	// --- Act ---
	markers, err := Scan("f.c", []byte(src))

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, markers, 4)
	assert.Equal(t, MarkerBegin, markers[0].Kind)
	assert.Equal(t, KindPerfTuning, markers[0].Directive.Kind)
	assert.Equal(t, MarkerBegin, markers[1].Kind)
	assert.Equal(t, KindLoop, markers[1].Directive.Kind)
	assert.Equal(t, MarkerEnd, markers[2].Kind)
	assert.Equal(t, MarkerEnd, markers[3].Kind)

	assert.Equal(t, 2, markers[0].Range.Start.Line)
	assert.Equal(t, 3, markers[0].Range.Start.Column)
	assert.Equal(t, "/*@ end @*/", src[markers[3].Start:markers[3].End])

	// Option ranges are absolute within the file.
	tc := markers[1].Directive.Transforms[0].Args[0].Value
	assert.Equal(t, 5, tc.SrcRange().Start.Line)
	assert.Equal(t, "TC", src[tc.SrcRange().Start.Byte:tc.SrcRange().End.Byte])
}

func TestScan_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		src         string
		errContains string
	}{
		{name: "unterminated comment", src: "x /*@ begin SpMV(a=1)", errContains: "unterminated directive comment"},
		{name: "neither begin nor end", src: "/*@ start SpMV(a=1) @*/", errContains: "must start with"},
		{name: "text after end", src: "/*@ end now @*/", errContains: "after end marker"},
		{name: "bad directive", src: "\n\n/*@ begin SpMV(a=) @*/", errContains: "f.c:3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Scan("f.c", []byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestScan_IgnoresPlainComments(t *testing.T) {
	t.Parallel()

	markers, err := Scan("f.c", []byte("/* plain */ int x; // @ nothing\n"))

	require.NoError(t, err)
	assert.Empty(t, markers)
}
