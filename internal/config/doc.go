// Package config loads session files: HCL files holding the defaults of a
// tuning session, such as the worker count, the per-point timeout and the
// build and run command templates.
//
//	workers         = 4
//	timeout         = "30s"
//	build_command   = "nvcc -arch=sm_20 @CFLAGS"
//	results         = "results.yaml"
//
//	log {
//	  level  = "debug"
//	  format = "text"
//	}
//
// Every attribute is optional. Command-line flags override the values of a
// session file.
package config
