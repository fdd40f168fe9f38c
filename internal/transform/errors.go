package transform

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/space"
)

// TransformError reports a parameter value or loop shape a transform
// cannot handle. Values are never clamped into range.
type TransformError struct {
	Transform string
	// Param names the offending parameter; empty for loop shape errors.
	Param  string
	Reason string
	Range  hcl.Range
	Point  space.Point
}

// Error implements the error interface for TransformError.
func (e *TransformError) Error() string {
	where := e.Transform
	if e.Param != "" {
		where += "." + e.Param
	}
	msg := fmt.Sprintf("%s: %s: %s", e.Range.String(), where, e.Reason)
	if e.Point.Len() > 0 {
		msg += " (point " + e.Point.String() + ")"
	}
	return msg
}

// Diagnostic converts the error into an hcl.Diagnostic.
func (e *TransformError) Diagnostic() *hcl.Diagnostic {
	detail := e.Reason
	if e.Point.Len() > 0 {
		detail += "\nAt point: " + e.Point.String()
	}
	summary := "Invalid " + e.Transform + " transform"
	if e.Param != "" {
		summary += " parameter " + e.Param
	}
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  e.Range.Ptr(),
	}
}
