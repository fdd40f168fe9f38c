// Package space turns a PerfTuning directive into a search problem: the
// performance parameters and their finite domains, the input parameters,
// constraints over points, build and measurement settings, and the order
// in which points are visited.
//
// Domain values are go-cty values. range, product and map(join, ...) are
// evaluated with cty functions so the same functions are available to
// constraint expressions.
package space
