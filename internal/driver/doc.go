// Package driver generates the timing program a variant is built into.
//
// The program defines the input parameters as macros, declares and fills
// the input variables, runs the code under test a fixed number of times
// and prints the mean latency of one repetition in milliseconds as the
// last line of its output.
package driver
