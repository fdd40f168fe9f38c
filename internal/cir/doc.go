// Package cir parses, rewrites and prints the subset of C and CUDA that
// annotated loop bodies and generated code are written in, and interprets
// it with a simulated CUDA runtime so transformed code can be checked
// against the loop it came from.
package cir
