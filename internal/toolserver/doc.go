// Package toolserver is the reference remote execution server for toolrun.
//
// Ownership boundary:
// - environment and tool catalog loaded from configuration
//
// - current environment selection
//
// - run table keyed by client run id, process launch and stop, exit tracking
//
// - control protocol handler (remote.Handler) and HTTP status surface
package toolserver
