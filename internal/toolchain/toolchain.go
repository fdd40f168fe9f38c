package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/space"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Defaults of the file names inside a variant directory.
const (
	DefaultSourceName = "variant.cu"
	DefaultExeName    = "variant"
	DefaultRunCommand = "./@EXE"
)

// BuildRequest describes one variant to build.
type BuildRequest struct {
	// Dir is the variant's private directory. It is created if missing.
	Dir        string
	Source     string
	SourceName string
	Point      space.Point
	Flags      []string
	// Command overrides the Shell's build command template.
	Command string
}

// Artifact is a built variant.
type Artifact struct {
	Dir   string
	Src   string
	Exe   string
	Point space.Point
}

// Shell builds and runs variants with sh -c.
type Shell struct {
	// BuildCommand is the compiler command template.
	BuildCommand string
	// RunCommand is the run template; empty uses DefaultRunCommand.
	RunCommand string
	// Env is added to the environment of every command.
	Env []string
}

// Build writes the source and runs the build command in req.Dir.
//
// Build flags go where the template says @FLAGS, else right after the
// command name. When the template names neither @SRC nor @EXE,
// "<src> -o <exe>" is appended.
func (s *Shell) Build(ctx context.Context, req BuildRequest) (*Artifact, error) {
	logger := ctxlog.FromContext(ctx)
	tmpl := req.Command
	if strings.TrimSpace(tmpl) == "" {
		tmpl = s.BuildCommand
	}
	if strings.TrimSpace(tmpl) == "" {
		return nil, errors.New("no build command configured")
	}
	name := req.SourceName
	if name == "" {
		name = DefaultSourceName
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.Dir, name), []byte(req.Source), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write variant source: %w", err)
	}
	art := &Artifact{Dir: req.Dir, Src: name, Exe: DefaultExeName, Point: req.Point}

	vars, err := PointVars(req.Point)
	if err != nil {
		return nil, err
	}
	flags := strings.Join(req.Flags, " ")
	vars["SRC"], vars["EXE"], vars["FLAGS"] = art.Src, art.Exe, flags

	if !strings.Contains(tmpl, "@FLAGS") && flags != "" {
		tmpl = insertAfterCommand(tmpl, flags)
	}
	if !strings.Contains(tmpl, "@SRC") && !strings.Contains(tmpl, "@EXE") {
		tmpl += " @SRC -o @EXE"
	}
	line, err := Substitute(tmpl, vars)
	if err != nil {
		return nil, err
	}

	logger.Debug("Toolchain: Building variant.", "dir", req.Dir, "command", line)
	_, output, err := s.exec(ctx, req.Dir, line)
	if err != nil {
		if te := timeout(ctx, "build", line); te != nil {
			return nil, te
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &BuildError{Command: line, Output: output, Err: err}
	}
	logger.Debug("Toolchain: Variant built.", "dir", req.Dir)
	return art, nil
}

// Run executes a built variant and returns the latency it printed.
func (s *Shell) Run(ctx context.Context, art *Artifact) (float64, error) {
	logger := ctxlog.FromContext(ctx)
	vars, err := PointVars(art.Point)
	if err != nil {
		return 0, err
	}
	vars["SRC"], vars["EXE"], vars["DIR"] = art.Src, art.Exe, art.Dir
	tmpl := s.RunCommand
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultRunCommand
	}
	line, err := Substitute(tmpl, vars)
	if err != nil {
		return 0, err
	}

	logger.Debug("Toolchain: Running variant.", "dir", art.Dir, "command", line)
	stdout, output, err := s.exec(ctx, art.Dir, line)
	if err != nil {
		if te := timeout(ctx, "run", line); te != nil {
			return 0, te
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &RuntimeError{Command: line, Output: output, Err: err}
	}
	ms, err := ParseLatency(stdout)
	if err != nil {
		return 0, &RuntimeError{Command: line, Output: output, Err: err}
	}
	logger.Debug("Toolchain: Variant ran.", "dir", art.Dir, "latency_ms", ms)
	return ms, nil
}

// exec runs line and returns its stdout and its combined output.
func (s *Shell) exec(ctx context.Context, dir, line string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), s.Env...)
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	var stdout, all bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &all)
	cmd.Stderr = &all
	err := cmd.Run()
	return stdout.String(), all.String(), err
}

func timeout(ctx context.Context, phase, line string) *TimeoutError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Phase: phase, Command: line}
	}
	return nil
}

func insertAfterCommand(tmpl, flags string) string {
	trimmed := strings.TrimLeft(tmpl, " \t")
	i := strings.IndexAny(trimmed, " \t")
	if i < 0 {
		return trimmed + " " + flags
	}
	return trimmed[:i] + " " + flags + trimmed[i:]
}

// PointVars renders every value of pt as placeholder text.
func PointVars(pt space.Point) (map[string]string, error) {
	vars := make(map[string]string, pt.Len()+3)
	for i, name := range pt.Names {
		v := pt.Values[i]
		if v.IsNull() || !v.IsKnown() {
			return nil, fmt.Errorf("parameter %s has no value", name)
		}
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("parameter %s cannot be used in a command: %w", name, err)
		}
		vars[name] = s.AsString()
	}
	return vars, nil
}

// Substitute replaces every @NAME of tmpl by vars[NAME]. A placeholder
// with no binding is an error.
func Substitute(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '@' || i+1 >= len(tmpl) || !identStart(tmpl[i+1]) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(tmpl) && identPart(tmpl[j]) {
			j++
		}
		name := tmpl[i+1 : j]
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("command %q: unbound placeholder @%s", tmpl, name)
		}
		b.WriteString(v)
		i = j - 1
	}
	return b.String(), nil
}

func identStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identPart(c byte) bool {
	return identStart(c) || (c >= '0' && c <= '9')
}

// ParseLatency returns the last number printed in out.
func ParseLatency(out string) (float64, error) {
	fields := strings.Fields(out)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := strings.Trim(fields[i], ",;:()[]=")
		v, err := strconv.ParseFloat(tok, 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	return 0, errors.New("no numeric latency in output")
}
