package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/looptune/internal/ctxlog"
)

// Session is the content of a session file. Unset attributes are nil.
type Session struct {
	Workers        *int    `hcl:"workers,optional"`
	Timeout        *string `hcl:"timeout,optional"`
	RunConcurrency *int    `hcl:"run_concurrency,optional"`
	Repetitions    *int    `hcl:"repetitions,optional"`
	WorkDir        *string `hcl:"work_dir,optional"`
	KeepWorkDirs   *bool   `hcl:"keep_work_dirs,optional"`
	BuildCommand   *string `hcl:"build_command,optional"`
	RunCommand     *string `hcl:"run_command,optional"`
	Baseline       *bool   `hcl:"baseline,optional"`
	Results        *string `hcl:"results,optional"`
	Output         *string `hcl:"output,optional"`

	Log *Log `hcl:"log,block"`
}

// Log is the log block of a session file.
type Log struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// TimeoutDuration parses the timeout attribute. It returns zero when the
// attribute is unset.
func (s *Session) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", *s.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", *s.Timeout)
	}
	return d, nil
}

// Loader parses session files. It keeps the parsed files so that
// diagnostics can be rendered with source snippets.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Files returns the files parsed so far, keyed by name.
func (l *Loader) Files() map[string]*hcl.File {
	return l.parser.Files()
}

// Load parses and decodes the session file at path.
func (l *Loader) Load(ctx context.Context, path string) (*Session, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Config: Loading session file.", "path", path)

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, diags)
	}
	s, err := decode(file.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", path, err)
	}
	logger.Debug("Config: Session file loaded.", "path", path)
	return s, nil
}

// Parse decodes a session file held in memory.
func (l *Loader) Parse(src []byte, filename string) (*Session, error) {
	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse session file %s: %w", filename, diags)
	}
	s, err := decode(file.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", filename, err)
	}
	return s, nil
}

func decode(body hcl.Body) (*Session, error) {
	var s Session
	if diags := gohcl.DecodeBody(body, nil, &s); diags.HasErrors() {
		return nil, diags
	}
	if _, err := s.TimeoutDuration(); err != nil {
		return nil, err
	}
	for _, v := range []struct {
		name string
		val  *int
		min  int
	}{
		{"workers", s.Workers, 1},
		{"run_concurrency", s.RunConcurrency, 1},
		{"repetitions", s.Repetitions, 1},
	} {
		if v.val != nil && *v.val < v.min {
			return nil, fmt.Errorf("%s must be at least %d, got %d", v.name, v.min, *v.val)
		}
	}
	return &s, nil
}
