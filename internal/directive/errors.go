package directive

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// ParseError reports a malformed directive. It is fatal for the whole run.
type ParseError struct {
	Range hcl.Range
	Msg   string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Range.String(), e.Msg)
}

// Diagnostic converts the error into an hcl.Diagnostic for rendering with a
// source snippet.
func (e *ParseError) Diagnostic() *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Malformed directive",
		Detail:   e.Msg,
		Subject:  e.Range.Ptr(),
	}
}

func errorf(rng hcl.Range, format string, args ...any) *ParseError {
	return &ParseError{Range: rng, Msg: fmt.Sprintf(format, args...)}
}
