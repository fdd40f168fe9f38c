// Package cli parses command-line arguments and the optional session file
// into the application's configuration, and handles process-level concerns
// like exit codes.
package cli
