// Package app wires the tuning pipeline together: it extracts the
// annotated regions of a source file, sweeps the search space of every
// PerfTuning region and writes the synthesized source. It is decoupled
// from any entrypoint such as the CLI.
package app
