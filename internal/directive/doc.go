// Package directive parses the transformation and tuning DSL embedded in
// C/CUDA source comments.
//
// A directive block opens with a begin marker and closes with an end marker:
//
//	/*@ begin SpMV(num_rows = m; out_vector = y; ...) @*/
//	...reference code...
//	/*@ end @*/
//
// Three kinds are recognised by their leading keyword: Loop, PerfTuning and
// SpMV. A Loop directive that requests a Composite transform, or more than
// one transform, is reported with kind Composite.
//
// Option values are parsed by a small recursive-descent grammar into the
// Value variants Scalar, Identifier, List, Range and Call. Option order is
// preserved. Unknown option names are kept, and deciding their relevance is
// left to the transformation engine.
//
// All positions are hcl.Range values so that errors can be rendered with the
// hcl diagnostic writer.
package directive
