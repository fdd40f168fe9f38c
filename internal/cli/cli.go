package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/looptune/internal/app"
	"github.com/specialistvlad/looptune/internal/config"
	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/spf13/cobra"
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

type options struct {
	output          string
	results         string
	session         string
	logFormat       string
	logLevel        string
	healthcheckPort int
	workers         int
	runConcurrency  int
	repetitions     int
	timeout         time.Duration
	workDir         string
	keepWorkDirs    bool
	baseline        bool
	buildCommand    string
	runCommand      string
	dryRun          bool
}

// Parse processes command-line arguments. It returns the configuration, a
// flag telling the caller to exit cleanly (help was printed), or an
// *ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var (
		opts       options
		cfg        *app.Config
		shouldExit = true
	)
	cmd := &cobra.Command{
		Use:   "looptune [flags] SOURCE",
		Short: "Transform and autotune annotated C/CUDA loops.",
		Long: `looptune rewrites the loops of a C/CUDA source file that carry
/*@ begin ... @*/ directives. PerfTuning regions are searched by building
and running every point of their parameter space; the fastest variant is
written to the output file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				slog.Debug("No source path provided, printing usage and exiting.")
				return cmd.Usage()
			}
			c, err := newConfig(cmd, args[0], &opts)
			if err != nil {
				return err
			}
			cfg, shouldExit = c, false
			return nil
		},
	}
	if args == nil {
		// cobra falls back to os.Args for nil
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Path of the synthesized source. Defaults to the source name prefixed with '_'.")
	f.StringVar(&opts.results, "results", "", "Path of the YAML results log. Results are kept in memory when empty.")
	f.StringVar(&opts.session, "session", "", "Path of an HCL session file with default settings.")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	f.StringVar(&opts.logLevel, "log-level", "info", "Logging level. Options: 'debug', 'info', 'warn', 'error'.")
	f.IntVar(&opts.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health and progress server. 0 is disabled.")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Number of points evaluated at once. 0 uses the number of CPUs.")
	f.IntVar(&opts.runConcurrency, "run-concurrency", 1, "Number of variants running at once.")
	f.IntVar(&opts.repetitions, "repetitions", 1, "Number of runs of every variant.")
	f.DurationVar(&opts.timeout, "timeout", 0, "Time limit for evaluating one point. 0 is unlimited.")
	f.StringVar(&opts.workDir, "work-dir", "", "Directory for the per-point build directories.")
	f.BoolVar(&opts.keepWorkDirs, "keep-work-dirs", false, "Keep the build directories after measuring.")
	f.BoolVar(&opts.baseline, "baseline", false, "Also measure the untransformed code.")
	f.StringVar(&opts.buildCommand, "build-command", "", "Build command template for regions that declare none, e.g. 'nvcc -arch=sm_20 @CFLAGS'.")
	f.StringVar(&opts.runCommand, "run-command", "", "Run command template. Defaults to './@EXE'.")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Synthesize the first point of every region without building.")

	if err := cmd.Execute(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if shouldExit {
		return nil, true, nil
	}
	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}

// newConfig layers the flags the user set over the session file.
func newConfig(cmd *cobra.Command, source string, opts *options) (*app.Config, error) {
	cfg := app.Config{
		SourcePath:     source,
		LogFormat:      "text",
		LogLevel:       "info",
		RunConcurrency: 1,
		Repetitions:    1,
	}
	if opts.session != "" {
		if err := applySession(&cfg, opts.session); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("output", func() { cfg.OutputPath = opts.output })
	set("results", func() { cfg.ResultsPath = opts.results })
	set("log-format", func() { cfg.LogFormat = strings.ToLower(opts.logFormat) })
	set("log-level", func() { cfg.LogLevel = strings.ToLower(opts.logLevel) })
	set("healthcheck-port", func() { cfg.HealthcheckPort = opts.healthcheckPort })
	set("workers", func() { cfg.Workers = opts.workers })
	set("run-concurrency", func() { cfg.RunConcurrency = opts.runConcurrency })
	set("repetitions", func() { cfg.Repetitions = opts.repetitions })
	set("timeout", func() { cfg.Timeout = opts.timeout })
	set("work-dir", func() { cfg.WorkDir = opts.workDir })
	set("keep-work-dirs", func() { cfg.KeepWorkDirs = opts.keepWorkDirs })
	set("baseline", func() { cfg.Baseline = opts.baseline })
	set("build-command", func() { cfg.BuildCommand = opts.buildCommand })
	set("run-command", func() { cfg.RunCommand = opts.runCommand })
	cfg.DryRun = opts.dryRun
	slog.Debug("CLI parameter merge complete.")

	return app.NewConfig(cfg)
}

func applySession(cfg *app.Config, path string) error {
	ctx := ctxlog.WithLogger(context.Background(), slog.Default())
	s, err := config.NewLoader().Load(ctx, path)
	if err != nil {
		return err
	}
	cfg.SessionPath = path
	timeout, err := s.TimeoutDuration()
	if err != nil {
		return err
	}
	cfg.Timeout = timeout

	setFrom(&cfg.Workers, s.Workers)
	setFrom(&cfg.RunConcurrency, s.RunConcurrency)
	setFrom(&cfg.Repetitions, s.Repetitions)
	setFrom(&cfg.WorkDir, s.WorkDir)
	setFrom(&cfg.BuildCommand, s.BuildCommand)
	setFrom(&cfg.RunCommand, s.RunCommand)
	setFrom(&cfg.ResultsPath, s.Results)
	setFrom(&cfg.OutputPath, s.Output)
	setFrom(&cfg.KeepWorkDirs, s.KeepWorkDirs)
	setFrom(&cfg.Baseline, s.Baseline)
	if s.Log != nil {
		setFrom(&cfg.LogLevel, s.Log.Level)
		setFrom(&cfg.LogFormat, s.Log.Format)
	}
	return nil
}

func setFrom[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
