// Package synth writes generated code back into a source file.
//
// Only the bytes of a replaced region change. A transform region becomes
// the host code chosen for it, re-indented to the column of its begin
// marker. A tuning region becomes its own code with the regions nested in
// it rendered. Kernel definitions cannot live inside a function, so they
// are collected into a prelude at the top of the file.
package synth
