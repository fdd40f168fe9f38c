// Package extract matches the begin and end directive markers of a source
// file into a tree of annotated regions and turns a region's reference code
// into a loop the transforms can rewrite.
//
// Regions may nest, typically a PerfTuning block wrapping one or more Loop
// blocks. Tree.Regions lists them innermost first so inner transforms are
// resolved before an enclosing sweep uses them.
package extract
