package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/specialistvlad/looptune/internal/resultstore"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/specialistvlad/looptune/internal/toolchain"
	"github.com/specialistvlad/looptune/internal/transform"
	"gonum.org/v1/gonum/stat"
)

// workDirPrefix starts the name of every build directory.
const workDirPrefix = "lt-"

// measure fills rec with the outcome of evaluating pt. The returned error
// is fatal to the sweep; point failures are stored in rec.
func (s *sweep) measure(ctx context.Context, lc *Lifecycle, logger *slog.Logger, pt space.Point, rec *resultstore.Record) error {
	if !rec.Baseline {
		ok, err := s.sw.Problem.Allows(pt)
		if err != nil {
			setFailure(rec, resultstore.KindInternal, err)
			return nil
		}
		if !ok {
			rec.Status = resultstore.StatusPruned
			return nil
		}
	}

	pctx := ctx
	if s.e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.e.cfg.Timeout)
		defer cancel()
	}

	var (
		v   *Variant
		err error
	)
	if rec.Baseline {
		v, err = s.sw.Generator.Reference(pctx)
	} else {
		v, err = s.sw.Generator.Generate(pctx, pt)
	}
	if err != nil {
		var te *transform.TransformError
		if errors.As(err, &te) && !rec.Baseline && pt.Seq == s.first {
			return fmt.Errorf("default point %s: %w", pt, err)
		}
		s.classify(pctx, lc, rec, err)
		return nil
	}
	rec.BuildFlags = v.Flags

	dir := filepath.Join(s.e.cfg.WorkDir, workDirPrefix+uuid.NewString())
	if !s.e.cfg.KeepWorkDirs {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("Explorer: Failed to remove build directory.", "dir", dir, "error", err)
			}
		}()
	}

	if err := s.enter(logger, lc, Building); err != nil {
		return err
	}
	art, err := s.e.builder.Build(pctx, toolchain.BuildRequest{
		Dir:        dir,
		Source:     v.Source,
		SourceName: v.SourceName,
		Point:      s.sw.Input.Merge(pt),
		Flags:      v.Flags,
		Command:    s.sw.BuildCommand,
	})
	if err != nil {
		s.classify(pctx, lc, rec, err)
		return nil
	}

	if err := s.enter(logger, lc, Running); err != nil {
		return err
	}
	samples, err := s.run(pctx, art)
	if err != nil {
		s.classify(pctx, lc, rec, err)
		return nil
	}

	if err := s.enter(logger, lc, Measuring); err != nil {
		return err
	}
	rec.Status = resultstore.StatusOK
	rec.Samples = samples
	rec.Mean, rec.StdDev = aggregate(samples)
	return nil
}

// run executes the artifact Repetitions times while holding a run slot.
func (s *sweep) run(ctx context.Context, art *toolchain.Artifact) ([]float64, error) {
	if err := s.e.runs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.e.runs.Release(1)

	samples := make([]float64, 0, s.e.cfg.Repetitions)
	for range s.e.cfg.Repetitions {
		ms, err := s.e.runner.Run(ctx, art)
		if err != nil {
			return nil, err
		}
		samples = append(samples, ms)
	}
	return samples, nil
}

// classify records err as the failure of the current stage.
func (s *sweep) classify(pctx context.Context, lc *Lifecycle, rec *resultstore.Record, err error) {
	var (
		timeoutErr   *toolchain.TimeoutError
		buildErr     *toolchain.BuildError
		runErr       *toolchain.RuntimeError
		transformErr *transform.TransformError
	)
	switch {
	case errors.As(err, &timeoutErr):
		timeoutErr.Limit = s.e.cfg.Timeout
		setFailure(rec, resultstore.KindTimeout, err)
	case errors.Is(err, context.DeadlineExceeded) && pctx.Err() != nil:
		// the budget ran out outside a command, e.g. waiting for a run slot
		setFailure(rec, resultstore.KindTimeout, &toolchain.TimeoutError{Phase: phase(lc.State()), Limit: s.e.cfg.Timeout})
	case errors.As(err, &buildErr):
		setFailure(rec, resultstore.KindBuild, err)
	case errors.As(err, &runErr):
		setFailure(rec, resultstore.KindRuntime, err)
	case errors.As(err, &transformErr):
		setFailure(rec, resultstore.KindTransform, err)
	default:
		setFailure(rec, resultstore.KindInternal, err)
	}
}

func phase(s State) string {
	switch s {
	case Building:
		return "build"
	case Running:
		return "run"
	}
	return "generate"
}

func setFailure(rec *resultstore.Record, kind string, err error) {
	rec.Status = resultstore.StatusFailed
	rec.ErrorKind = kind
	rec.Error = err.Error()
}

// aggregate returns the mean and sample standard deviation of samples.
func aggregate(samples []float64) (mean, stddev float64) {
	if len(samples) < 2 {
		return samples[0], 0
	}
	return stat.MeanStdDev(samples, nil)
}
