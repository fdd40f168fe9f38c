package explorer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/resultstore"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/testutil"
	"github.com/specialistvlad/looptune/internal/toolchain"
	"github.com/specialistvlad/looptune/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGen renders the point into the variant source so the fake
// toolchain can find it again.
type fakeGen struct {
	errs   map[int]error
	refErr error
}

func (g *fakeGen) Generate(_ context.Context, pt space.Point) (*Variant, error) {
	if err := g.errs[pt.Seq]; err != nil {
		return nil, err
	}
	return &Variant{Source: pt.String(), Flags: []string{"-O3"}}, nil
}

func (g *fakeGen) Reference(context.Context) (*Variant, error) {
	if g.refErr != nil {
		return nil, g.refErr
	}
	return &Variant{Source: "reference"}, nil
}

// fakeToolchain builds by creating the directory and runs by looking the
// variant source up in latency.
type fakeToolchain struct {
	latency   func(src string, rep int) float64
	buildErrs map[string]error
	runErrs   map[string]error
	// hang lists sources whose run blocks until the context ends.
	hang map[string]bool

	mu      sync.Mutex
	dirs    []string
	built   []string
	reps    map[string]int
	running atomic.Int32
	maxRun  atomic.Int32
}

func (f *fakeToolchain) Build(ctx context.Context, req toolchain.BuildRequest) (*toolchain.Artifact, error) {
	f.mu.Lock()
	f.dirs = append(f.dirs, req.Dir)
	f.built = append(f.built, req.Source)
	f.mu.Unlock()
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, err
	}
	if err := f.buildErrs[req.Source]; err != nil {
		return nil, err
	}
	return &toolchain.Artifact{Dir: req.Dir, Src: req.Source, Exe: "variant", Point: req.Point}, nil
}

func (f *fakeToolchain) Run(ctx context.Context, art *toolchain.Artifact) (float64, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxRun.Load()
		if n <= m || f.maxRun.CompareAndSwap(m, n) {
			break
		}
	}
	if f.hang[art.Src] {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, &toolchain.TimeoutError{Phase: "run", Command: "./variant"}
		}
		return 0, ctx.Err()
	}
	if err := f.runErrs[art.Src]; err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	if f.reps == nil {
		f.reps = make(map[string]int)
	}
	rep := f.reps[art.Src]
	f.reps[art.Src]++
	f.mu.Unlock()
	return f.latency(art.Src, rep), nil
}

func newProblem(t *testing.T, body string) *space.Problem {
	t.Helper()
	d, err := directive.Parse("tune.c", "PerfTuning(\n"+body+"\n)", hcl.InitialPos)
	require.NoError(t, err)
	p, err := space.New(d)
	require.NoError(t, err)
	return p
}

const fourPoints = `def performance_params { param TC[] = range(32,129,32); }`

// byTC maps "TC=<n>" sources to |n-64|+1 milliseconds.
func byTC(src string, _ int) float64 {
	switch src {
	case "TC=32", "TC=96":
		return 33
	case "TC=64":
		return 1
	case "TC=128":
		return 65
	}
	return 1000
}

func newExplorer(t *testing.T, cfg Config, tc *fakeToolchain) (*Explorer, *resultstore.Memory) {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	store := resultstore.NewMemory()
	return New(cfg, tc, tc, store, nil), store
}

func TestSweep_PicksFastestPoint(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: byTC}
	e, store := newExplorer(t, Config{Workers: 3}, tc)
	sw := Sweep{Region: 2, Problem: newProblem(t, fourPoints), Generator: &fakeGen{}}

	// --- Act ---
	res, err := e.Sweep(ctx, sw)

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.Best.Seq)
	assert.Equal(t, "TC=64", res.BestPoint.String())
	assert.Equal(t, 1.0, res.Best.Mean)
	require.Len(t, res.Records, 4)
	for i, r := range res.Records {
		assert.Equal(t, i, r.Seq)
		assert.Equal(t, resultstore.StatusOK, r.Status)
		assert.Equal(t, 2, r.Region)
		assert.Equal(t, e.RunID(), r.RunID)
		assert.Equal(t, []string{"-O3"}, r.BuildFlags)
	}
	logged, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Records, logged)
	assert.Equal(t, ProgressSnapshot{Sweeps: 1, Total: 4, Scheduled: 4, Succeeded: 4}, e.Progress().Snapshot())
}

func TestSweep_TiesGoToEarliestPoint(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: func(string, int) float64 { return 7 }}
	e, _ := newExplorer(t, Config{Workers: 4}, tc)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, res.Best.Seq)
}

func TestSweep_PointFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{
		latency:   byTC,
		buildErrs: map[string]error{"TC=64": &toolchain.BuildError{Command: "nvcc", Err: errors.New("exit status 2")}},
		runErrs:   map[string]error{"TC=96": &toolchain.RuntimeError{Command: "./variant", Err: errors.New("exit status 1")}},
		hang:      map[string]bool{"TC=128": true},
	}
	e, _ := newExplorer(t, Config{Workers: 2, RunConcurrency: 2, Timeout: 50 * time.Millisecond}, tc)

	// --- Act ---
	start := time.Now()
	res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, res.Best.Seq)
	require.Len(t, res.Records, 4)
	kinds := make([]string, len(res.Records))
	for i, r := range res.Records {
		kinds[i] = r.ErrorKind
	}
	assert.Equal(t, []string{"", resultstore.KindBuild, resultstore.KindRuntime, resultstore.KindTimeout}, kinds)
	assert.Equal(t, resultstore.StatusFailed, res.Records[3].Status)
	assert.Contains(t, res.Records[3].Error, "run timed out after 50ms")
	assert.Equal(t, int64(3), e.Progress().Snapshot().Failed)
}

func TestSweep_TransformErrors(t *testing.T) {
	t.Parallel()

	badTC := &transform.TransformError{Transform: transform.NameCUDA, Param: "threadCount", Reason: "must be at least 1"}

	testCases := []struct {
		name      string
		failSeq   int
		wantFatal bool
	}{
		{name: "on the default point the sweep stops", failSeq: 0, wantFatal: true},
		{name: "on another point only that point fails", failSeq: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			ctx := testutil.Context(t)
			tool := &fakeToolchain{latency: byTC}
			e, _ := newExplorer(t, Config{Workers: 1}, tool)
			gen := &fakeGen{errs: map[int]error{tc.failSeq: badTC}}

			// --- Act ---
			res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: gen})

			// --- Assert ---
			if tc.wantFatal {
				require.Error(t, err)
				assert.Nil(t, res)
				var te *transform.TransformError
				require.True(t, errors.As(err, &te))
				assert.Contains(t, err.Error(), "default point TC=32")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, resultstore.KindTransform, res.Records[tc.failSeq].ErrorKind)
			assert.Equal(t, 1, res.Best.Seq)
		})
	}
}

func TestSweep_ConstraintsPrunePoints(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: byTC}
	e, _ := newExplorer(t, Config{Workers: 2}, tc)
	p := newProblem(t, `def performance_params {
    param TC[] = range(32,129,32);
    constraint not_64 = TC != 64 and True;
  }`)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, resultstore.StatusPruned, res.Records[1].Status)
	assert.NotContains(t, tc.built, "TC=64")
	assert.Equal(t, 0, res.Best.Seq)
	assert.Equal(t, 33.0, res.Best.Mean)
	assert.Equal(t, int64(1), e.Progress().Snapshot().Pruned)
}

func TestSweep_TotalFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	boom := &toolchain.BuildError{Command: "nvcc", Err: errors.New("exit status 1")}
	tc := &fakeToolchain{
		latency:   byTC,
		buildErrs: map[string]error{"TC=32": boom, "TC=64": boom, "TC=96": boom, "TC=128": boom},
	}
	e, _ := newExplorer(t, Config{Workers: 2}, tc)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

	// --- Assert ---
	require.ErrorIs(t, err, ErrNoSuccess)
	require.NotNil(t, res)
	assert.Nil(t, res.Best)
	assert.Len(t, res.Records, 4)
}

func TestSweep_RepetitionsAreAggregated(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: func(_ string, rep int) float64 { return float64(rep + 1) }}
	e, _ := newExplorer(t, Config{Repetitions: 3}, tc)
	p := newProblem(t, `def performance_params { param TC[] = [32]; }`)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, res.Best.Samples)
	assert.InDelta(t, 2.0, res.Best.Mean, 1e-12)
	assert.InDelta(t, 1.0, res.Best.StdDev, 1e-12)
}

func TestSweep_RunConcurrencyIsBounded(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: func(string, int) float64 { return 1 }}
	e, _ := newExplorer(t, Config{Workers: 8, RunConcurrency: 2, Repetitions: 2}, tc)
	p := newProblem(t, `def performance_params { param A[] = range(0,16); }`)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Len(t, res.Records, 16)
	assert.LessOrEqual(t, tc.maxRun.Load(), int32(2))
}

func TestSweep_Baseline(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: func(src string, rep int) float64 {
		if src == "reference" {
			return 0.5
		}
		return byTC(src, rep)
	}}
	e, _ := newExplorer(t, Config{Workers: 2, Baseline: true}, tc)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, res.Baseline)
	assert.Equal(t, -1, res.Baseline.Seq)
	assert.Nil(t, res.Baseline.Point)
	assert.Equal(t, 0.5, res.Baseline.Mean)
	assert.Equal(t, 1, res.Best.Seq, "the baseline is never the best point")
	assert.Len(t, res.Records, 5)
}

func TestSweep_TimeLimitStopsScheduling(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(400 * time.Millisecond)
		return now
	}
	tc := &fakeToolchain{latency: byTC}
	e, _ := newExplorer(t, Config{Workers: 1, Now: clock}, tc)
	p := newProblem(t, fourPoints+"\n def search { arg time_limit = 1; }")

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, ProgressSnapshot{Sweeps: 1, Total: 4, Scheduled: 2, Succeeded: 2}, e.Progress().Snapshot())
}

func TestSweep_RandomSearch(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	tc := &fakeToolchain{latency: func(string, int) float64 { return 1 }}
	e, _ := newExplorer(t, Config{Workers: 2}, tc)
	p := newProblem(t, `def performance_params { param A[] = range(0,10); }
  def search { arg algorithm = 'Random'; arg total_runs = 3; arg seed = 7; }`)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	pts, err := p.Points()
	require.NoError(t, err)
	var want []int
	for _, pt := range pts {
		want = append(want, pt.Seq)
	}
	var got []int
	for _, r := range res.Records {
		got = append(got, r.Seq)
	}
	assert.ElementsMatch(t, want, got)
}

func TestSweep_WorkDirs(t *testing.T) {
	t.Parallel()

	for _, keep := range []bool{false, true} {
		t.Run(map[bool]string{false: "removed", true: "kept"}[keep], func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			ctx := testutil.Context(t)
			tc := &fakeToolchain{latency: byTC}
			root := t.TempDir()
			e, _ := newExplorer(t, Config{Workers: 2, WorkDir: root, KeepWorkDirs: keep}, tc)

			// --- Act ---
			_, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

			// --- Assert ---
			require.NoError(t, err)
			require.Len(t, tc.dirs, 4)
			seen := make(map[string]bool)
			for _, dir := range tc.dirs {
				assert.Equal(t, root, filepath.Dir(dir))
				assert.True(t, strings.HasPrefix(filepath.Base(dir), "lt-"))
				assert.False(t, seen[dir], "every point gets its own directory")
				seen[dir] = true
				_, statErr := os.Stat(dir)
				assert.Equal(t, keep, statErr == nil)
			}
		})
	}
}

func TestSweep_InputPointReachesBuilds(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx := testutil.Context(t)
	var got []string
	var mu sync.Mutex
	tc := &fakeToolchain{latency: byTC}
	e := New(Config{Workers: 1, WorkDir: t.TempDir()}, builderFunc(func(ctx context.Context, req toolchain.BuildRequest) (*toolchain.Artifact, error) {
		mu.Lock()
		got = append(got, req.Point.String())
		mu.Unlock()
		return tc.Build(ctx, req)
	}), tc, resultstore.NewMemory(), nil)
	p := newProblem(t, `def performance_params { param TC[] = [32]; }
  def input_params { param n[] = [8, 16]; }`)
	inputs, err := p.Inputs()
	require.NoError(t, err)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{InputSeq: 1, Input: inputs[1], Problem: p, Generator: &fakeGen{}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"n=16 TC=32"}, got)
	assert.Equal(t, 1, res.Best.InputSeq)
	assert.Equal(t, resultstore.Assignments{{Name: "n", Value: "16"}}, res.Best.Input)
}

func TestSweep_Cancelled(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	ctx, cancel := context.WithCancel(testutil.Context(t))
	tc := &fakeToolchain{latency: byTC, hang: map[string]bool{"TC=32": true, "TC=64": true, "TC=96": true, "TC=128": true}}
	e, store := newExplorer(t, Config{Workers: 2}, tc)
	time.AfterFunc(20*time.Millisecond, cancel)

	// --- Act ---
	res, err := e.Sweep(ctx, Sweep{Problem: newProblem(t, fourPoints), Generator: &fakeGen{}})

	// --- Assert ---
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	recs, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

type builderFunc func(ctx context.Context, req toolchain.BuildRequest) (*toolchain.Artifact, error)

func (f builderFunc) Build(ctx context.Context, req toolchain.BuildRequest) (*toolchain.Artifact, error) {
	return f(ctx, req)
}
