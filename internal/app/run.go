package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/directive"
	"github.com/specialistvlad/looptune/internal/explorer"
	"github.com/specialistvlad/looptune/internal/fsutil"
	"github.com/specialistvlad/looptune/internal/resultstore"
	"github.com/specialistvlad/looptune/internal/transform"
)

// sourceExtensions are searched for when the source is a directory.
var sourceExtensions = []string{".c", ".cu"}

// Run tunes the configured sources and writes the synthesized sources.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthCheckServer()
		defer func() {
			if err := a.closeHealthCheckServer(); err != nil {
				a.logger.Warn("Health check server did not shut down cleanly.", "error", err)
			}
		}()
	}

	info, err := os.Stat(a.config.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	if !info.IsDir() {
		out := a.config.OutputPath
		if out == "" {
			out = DefaultOutputPath(a.config.SourcePath)
		}
		if err := a.runFile(ctx, a.config.SourcePath, out); err != nil {
			return err
		}
		a.logger.Debug("App.Run method finished.")
		return nil
	}

	if a.config.OutputPath != "" {
		return fmt.Errorf("an output path cannot be set when the source %s is a directory", a.config.SourcePath)
	}
	files, err := fsutil.FindFilesByExtension(a.config.SourcePath, OutputPrefix, sourceExtensions...)
	if err != nil {
		return fmt.Errorf("failed to search for sources: %w", err)
	}
	if len(files) == 0 {
		a.logger.Warn("No source files found.", "path", a.config.SourcePath)
	}
	for _, path := range files {
		if err := a.runFile(ctx, path, DefaultOutputPath(path)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// runFile tunes one source file and writes the result to outPath.
func (a *App) runFile(ctx context.Context, path, outPath string) error {
	ctx, logger := ctxlog.With(ctx, "source", path)
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	out, err := a.tune(ctx, path, src)
	if err != nil {
		a.writeDiagnostic(path, src, err)
		return err
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("🏁 Synthesized source written.", "path", outPath)
	return nil
}

func (a *App) tune(ctx context.Context, path string, src []byte) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)
	p, err := newPlan(ctx, path, src)
	if err != nil {
		return nil, err
	}
	if len(p.tuning) == 0 {
		logger.Info("No PerfTuning regions found, rendering with the declared transforms.")
	}

	if a.config.DryRun {
		logger.Info("Dry run: rendering the first point of every region.")
	} else if err := a.sweep(ctx, p); err != nil {
		return nil, err
	}

	for id, opts := range p.ignoredOptions() {
		logger.Warn("Unknown transform options ignored.", "region", id, "options", opts)
	}
	return p.render()
}

// sweep searches every PerfTuning region, one input point at a time, and
// keeps the best point of the first input point for rendering.
func (a *App) sweep(ctx context.Context, p *plan) error {
	logger := ctxlog.FromContext(ctx)
	if len(p.tuning) == 0 {
		return nil
	}
	store, err := a.resultsStore()
	if err != nil {
		return err
	}
	e := explorer.New(explorer.Config{
		Workers:        a.config.Workers,
		RunConcurrency: a.config.RunConcurrency,
		Timeout:        a.config.Timeout,
		Repetitions:    a.config.Repetitions,
		WorkDir:        a.config.WorkDir,
		KeepWorkDirs:   a.config.KeepWorkDirs,
		Baseline:       a.config.Baseline,
	}, a.builder, a.runner, store, a.progress)
	logger.Info("🚀 Starting search.", "run_id", e.RunID(), "regions", len(p.tuning))

	for _, r := range p.tuning {
		prob := p.problems[r.ID]
		if prob.BuildCommand == "" && a.config.BuildCommand == "" {
			return fmt.Errorf("%s: no build command: set build_command in the region or in the configuration", r)
		}
		inputs, err := prob.Inputs()
		if err != nil {
			return fmt.Errorf("%s: %w", r, err)
		}
		for _, in := range inputs {
			res, err := e.Sweep(ctx, explorer.Sweep{
				Region:       r.ID,
				InputSeq:     in.Seq,
				Input:        in,
				Problem:      prob,
				Generator:    newVariantGenerator(p, r, in),
				BuildCommand: prob.BuildCommand,
			})
			if err != nil {
				return err
			}
			logBest(logger, r.ID, in.String(), res)
			if in.Seq == 0 {
				p.chosen[r.ID] = in.Merge(res.BestPoint)
			}
		}
	}
	logger.Info("Search finished.", "progress", e.Progress().Snapshot())
	return nil
}

func logBest(logger *slog.Logger, region int, input string, res *explorer.Result) {
	args := []any{"region", region, "input", input, "point", res.BestPoint.String(), "mean_ms", res.Best.Mean}
	if b := res.Baseline; b != nil && b.Status == resultstore.StatusOK && res.Best.Mean > 0 {
		args = append(args, "baseline_ms", b.Mean, "speedup", b.Mean/res.Best.Mean)
	}
	logger.Info("Best point found.", args...)
}

func (a *App) resultsStore() (resultstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.config.ResultsPath == "" {
		return resultstore.NewMemory(), nil
	}
	return resultstore.OpenFile(a.config.ResultsPath)
}

// writeDiagnostic renders located errors with a snippet of the source.
func (a *App) writeDiagnostic(path string, src []byte, err error) {
	var (
		parseErr     *directive.ParseError
		transformErr *transform.TransformError
		diag         *hcl.Diagnostic
	)
	switch {
	case errors.As(err, &parseErr):
		diag = parseErr.Diagnostic()
	case errors.As(err, &transformErr):
		diag = transformErr.Diagnostic()
	default:
		return
	}
	files := map[string]*hcl.File{path: {Bytes: src}}
	w := hcl.NewDiagnosticTextWriter(a.outW, files, 78, false)
	if werr := w.WriteDiagnostic(diag); werr != nil {
		a.logger.Debug("Failed to render diagnostic.", "error", werr)
	}
}
