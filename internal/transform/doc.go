// Package transform rewrites a captured loop region into an alternate
// implementation. Resolve turns a directive and a search point into a typed
// Spec; Apply runs the spec's stages over a copy of the region's loop and
// returns the host code to splice plus any kernel definitions.
//
// Stages share a focus: the statements the next stage rewrites. Offloading
// a loop to CUDA moves the focus into the generated kernel, so stages that
// follow CUDA in a composite act on the device loop.
package transform
