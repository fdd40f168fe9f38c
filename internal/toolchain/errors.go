package toolchain

import (
	"fmt"
	"strings"
	"time"
)

// BuildError reports a build command that did not exit with status 0.
type BuildError struct {
	Command string
	Output  string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %s: %v%s", e.Command, e.Err, tail(e.Output))
}

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeError reports a run that failed or printed no latency.
type RuntimeError struct {
	Command string
	Output  string
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("run failed: %s: %v%s", e.Command, e.Err, tail(e.Output))
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// TimeoutError reports a command killed because the point's time budget
// ran out.
type TimeoutError struct {
	Phase   string // "build" or "run"
	Command string
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	msg := e.Phase + " timed out"
	if e.Limit > 0 {
		msg += " after " + e.Limit.String()
	}
	if e.Command != "" {
		msg += ": " + e.Command
	}
	return msg
}

// tail returns the last lines of command output for error messages.
func tail(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return "\n" + strings.Join(lines, "\n")
}
