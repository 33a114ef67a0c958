// Package runner owns client-side tool run coordination.
//
// Ownership boundary:
// - runner lifecycle (uninitialized -> inactive <-> active -> destroyed)
//
// - environment registry and current environment selection
//
// - per-run Runtime state (idle <-> running)
//
// Runner does not launch processes. Every remote effect goes through an
// injected Backend, and every remote outcome is delivered through a Future.
// Lifecycle and contract violations are returned synchronously as errors.
package runner
