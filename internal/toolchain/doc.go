// Package toolchain builds and runs generated variants with external
// commands.
//
// A Shell is both the Builder and the Runner of a sweep. Commands are
// templates: @NAME is replaced by the value of parameter NAME of the
// point being evaluated, @SRC by the source file, @EXE by the executable
// and @FLAGS by the build flags the transforms asked for. Commands run
// through sh -c in the variant's own directory, in their own process
// group, so a timeout kills everything they started.
package toolchain
