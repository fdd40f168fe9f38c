// Package resultstore keeps the ordered log of measurements a sweep
// produces. Records are appended once and never modified.
//
// Two implementations are provided: Memory, which lives for one process,
// and File, which appends one YAML document per record so a log survives
// the run and can be read back with Records.
package resultstore
