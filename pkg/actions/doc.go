// Package actions provides engine.ResourceActions implementations.
//
// Exec runs a configured shell command per step phase. The request reaches
// the command as DEPLOYKIT_* environment variables and as JSON on stdin, and
// the command reports {"resourceId": ..., "cost": ...} on stdout.
//
// Simulator performs no side effects and is used for preview runs. Its
// resource IDs are deterministic, so repeated previews of an unchanged
// scenario report the same IDs.
//
// Instrument wraps either one with Prometheus call metrics and a span per
// action.
package actions
