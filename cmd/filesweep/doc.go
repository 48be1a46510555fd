// Package main hosts the filesweep CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, opens the object store
// and the state database for the selected environment, and hands the wired
// components to internal/sweep. Commands render their results as rounded
// tables or, with --json, as indented JSON on stdout; logs go to stderr and
// the run log file.
//
// Exit status is 0 on success, 1 on a fatal error or an interrupted run, and
// 2 when a run finished but some objects could not be moved.
package main
