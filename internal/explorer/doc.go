// Package explorer sweeps the performance-parameter space of a region.
//
// Every point is generated, built, run and measured by a bounded pool of
// workers, each point in its own build directory. Build, run and timeout
// failures are recorded against their point and the sweep continues. A
// transform error on the first point stops the sweep, since the default
// configuration of the region is broken.
package explorer
