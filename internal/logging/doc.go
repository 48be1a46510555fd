// Package logging assembles the structured slog loggers used by filesweep.
//
// It owns the console and JSON handlers, tees every record into the run log
// file under the state directory, and exposes context helpers so components
// tag lines with run_id, environment and phase without threading them through
// every call. WarnWithContext is the required path for per-item problems
// (data-quality warnings, move failures) so each WARN carries an event type,
// a hint and an impact.
package logging
