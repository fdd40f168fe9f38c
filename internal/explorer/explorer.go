package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/resultstore"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/toolchain"
	"golang.org/x/sync/semaphore"
)

// ErrNoSuccess is returned when no point of a sweep produced a
// measurement.
var ErrNoSuccess = errors.New("no point of the search space succeeded")

// Variant is the complete program built for one point.
type Variant struct {
	Source string
	// SourceName overrides the source file name in the build directory.
	SourceName string
	Flags      []string
}

// Generator produces the program to measure for a point.
type Generator interface {
	Generate(ctx context.Context, pt space.Point) (*Variant, error)
	// Reference returns the program built from the untransformed code.
	Reference(ctx context.Context) (*Variant, error)
}

// Builder compiles a variant.
type Builder interface {
	Build(ctx context.Context, req toolchain.BuildRequest) (*toolchain.Artifact, error)
}

// Runner runs a built variant once and returns its latency in
// milliseconds.
type Runner interface {
	Run(ctx context.Context, art *toolchain.Artifact) (float64, error)
}

// Config holds the settings of an Explorer.
type Config struct {
	// Workers bounds the number of points evaluated at once.
	Workers int
	// RunConcurrency bounds the number of variants running at once, across
	// all sweeps of the Explorer.
	RunConcurrency int
	// Timeout bounds the evaluation of one point; zero means none.
	Timeout time.Duration
	// Repetitions is the number of runs of every variant.
	Repetitions int
	// WorkDir holds the per-point build directories.
	WorkDir      string
	KeepWorkDirs bool
	// Baseline also measures the untransformed reference code.
	Baseline bool
	// Now is the clock the search time limit is checked against.
	Now func() time.Time
}

// Explorer evaluates search points with a Builder and a Runner and logs
// every measurement to a Store.
type Explorer struct {
	cfg      Config
	builder  Builder
	runner   Runner
	store    resultstore.Store
	progress *Progress
	runID    string
	runs     *semaphore.Weighted
}

// New creates an Explorer. A nil progress gets a private counter set.
func New(cfg Config, b Builder, r Runner, store resultstore.Store, progress *Progress) *Explorer {
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.RunConcurrency < 1 {
		cfg.RunConcurrency = 1
	}
	if cfg.Repetitions < 1 {
		cfg.Repetitions = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if progress == nil {
		progress = &Progress{}
	}
	return &Explorer{
		cfg:      cfg,
		builder:  b,
		runner:   r,
		store:    store,
		progress: progress,
		runID:    uuid.NewString(),
		runs:     semaphore.NewWeighted(int64(cfg.RunConcurrency)),
	}
}

// RunID identifies the records this Explorer writes.
func (e *Explorer) RunID() string { return e.runID }

// Progress returns the counters the Explorer updates.
func (e *Explorer) Progress() *Progress { return e.progress }

// Sweep is one search over the points of a problem for one input point.
type Sweep struct {
	Region    int
	InputSeq  int
	Input     space.Point
	Problem   *space.Problem
	Generator Generator
	// BuildCommand overrides the Builder's command template.
	BuildCommand string
}

// Result summarizes a finished sweep.
type Result struct {
	// Best is the successful record with the lowest mean latency, the
	// earliest enumerated one on ties. Nil when nothing succeeded.
	Best      *resultstore.Record
	BestPoint space.Point
	Baseline  *resultstore.Record
	// Records are the records of the sweep, sorted by sequence number.
	Records []resultstore.Record
}

// sweep is the state shared by the workers of one Sweep call.
type sweep struct {
	e      *Explorer
	sw     Sweep
	logger *slog.Logger
	cancel context.CancelFunc
	// first is the sequence number of the default point.
	first int

	mu      sync.Mutex
	records []resultstore.Record

	fatalOnce sync.Once
	fatal     error
}

// Sweep evaluates the points of sw.Problem and returns the best one.
//
// Failures of single points are recorded and do not stop the sweep. A
// transform error on the first point, a results log failure or the
// cancellation of ctx do. When every point failed the Result is returned
// together with an error wrapping ErrNoSuccess.
func (e *Explorer) Sweep(ctx context.Context, sw Sweep) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("region", sw.Region, "input", sw.Input.String())
	points, err := sw.Problem.Points()
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", sw.Region, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("region %d: empty search space", sw.Region)
	}
	e.progress.sweeps.Add(1)
	e.progress.total.Add(int64(len(points)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := &sweep{e: e, sw: sw, logger: logger, cancel: cancel, first: points[0].Seq}

	if e.cfg.Baseline {
		var lc Lifecycle
		s.evaluate(runCtx, &lc, logger, space.Point{Seq: -1}, true)
	}

	workers := min(e.cfg.Workers, len(points))
	jobs := make(chan space.Point)
	var wg sync.WaitGroup
	logger.Info("Explorer: Sweep started.", "points", len(points), "workers", workers, "algorithm", sw.Problem.Search.Algorithm)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(runCtx, jobs, i)
		}()
	}
	s.feed(runCtx, jobs, points)
	wg.Wait()

	if s.fatal != nil {
		return nil, s.fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := s.result(points)
	if res.Best == nil {
		logger.Error("Explorer: No point succeeded.")
		return res, fmt.Errorf("region %d, input %d: %w", sw.Region, sw.InputSeq, ErrNoSuccess)
	}
	logger.Info("Explorer: Best point selected.", "point", res.BestPoint.String(), "mean_ms", res.Best.Mean)
	return res, nil
}

// feed schedules points until they run out, the time limit passes or ctx
// is cancelled.
func (s *sweep) feed(ctx context.Context, jobs chan<- space.Point, points []space.Point) {
	defer close(jobs)
	limit := s.sw.Problem.Search.TimeLimit
	start := s.e.cfg.Now()
	for _, pt := range points {
		if limit > 0 && s.e.cfg.Now().Sub(start) >= limit {
			s.logger.Info("Explorer: Time limit reached, no more points scheduled.", "limit", limit)
			return
		}
		select {
		case jobs <- pt:
			s.e.progress.scheduled.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// fail stops the sweep with err; the first fatal error wins.
func (s *sweep) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatal = err
		s.cancel()
	})
}

func (s *sweep) worker(ctx context.Context, jobs <-chan space.Point, workerID int) {
	logger := s.logger.With("workerID", workerID)
	logger.Debug("Explorer: Worker started.")
	var lc Lifecycle
	for pt := range jobs {
		if ctx.Err() != nil {
			continue
		}
		s.evaluate(ctx, &lc, logger.With("point", pt.String()), pt, false)
	}
	if err := lc.Transition(Done); err != nil {
		s.fail(err)
	}
	logger.Debug("Explorer: Worker finished.")
}

// evaluate measures one point, or the reference code when baseline is
// set, and records the outcome.
func (s *sweep) evaluate(ctx context.Context, lc *Lifecycle, logger *slog.Logger, pt space.Point, baseline bool) {
	if err := s.enter(logger, lc, Generating); err != nil {
		s.fail(err)
		return
	}
	rec := resultstore.Record{
		RunID:    s.e.runID,
		Region:   s.sw.Region,
		InputSeq: s.sw.InputSeq,
		Input:    assignments(s.sw.Input),
		Seq:      pt.Seq,
		Baseline: baseline,
	}
	if !baseline {
		rec.Point = assignments(pt)
	}
	if err := s.measure(ctx, lc, logger, pt, &rec); err != nil {
		s.fail(err)
		return
	}
	if lc.State() != Recording {
		if err := s.enter(logger, lc, Recording); err != nil {
			s.fail(err)
			return
		}
	}
	if ctx.Err() != nil {
		// the sweep is stopping; a partial measurement is not a result
		return
	}
	if err := s.e.store.Append(ctx, rec); err != nil {
		s.fail(fmt.Errorf("failed to record point %s: %w", pt, err))
		return
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	switch rec.Status {
	case resultstore.StatusOK:
		s.e.progress.succeeded.Add(1)
		logger.Debug("Explorer: Point measured.", "mean_ms", rec.Mean, "stddev_ms", rec.StdDev)
	case resultstore.StatusPruned:
		s.e.progress.pruned.Add(1)
		logger.Debug("Explorer: Point pruned by a constraint.")
	default:
		s.e.progress.failed.Add(1)
		logger.Warn("Explorer: Point failed.", "kind", rec.ErrorKind, "error", rec.Error)
	}
}

// assignments renders the values of pt for the results log.
func assignments(pt space.Point) resultstore.Assignments {
	if pt.Len() == 0 {
		return nil
	}
	out := make(resultstore.Assignments, pt.Len())
	for i, name := range pt.Names {
		out[i] = resultstore.Assignment{Name: name, Value: directive.FormatCty(pt.Values[i])}
	}
	return out
}

func (s *sweep) enter(logger *slog.Logger, lc *Lifecycle, to State) error {
	if err := lc.Transition(to); err != nil {
		return err
	}
	logger.Debug("Explorer: State changed.", "state", to)
	return nil
}

// result collects the records of the sweep and picks the best point.
func (s *sweep) result(points []space.Point) *Result {
	s.mu.Lock()
	recs := append([]resultstore.Record(nil), s.records...)
	s.mu.Unlock()
	resultstore.Sort(recs)

	bySeq := make(map[int]space.Point, len(points))
	for _, pt := range points {
		bySeq[pt.Seq] = pt
	}
	res := &Result{Records: recs}
	for i := range recs {
		r := &recs[i]
		if r.Baseline {
			res.Baseline = r
			continue
		}
		if r.Status != resultstore.StatusOK {
			continue
		}
		// records are in sequence order, so the first minimum wins ties
		if res.Best == nil || r.Mean < res.Best.Mean {
			res.Best = r
		}
	}
	if res.Best != nil {
		res.BestPoint = bySeq[res.Best.Seq]
	}
	return res
}
