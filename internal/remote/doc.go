// Package remote carries runner backend calls over a line-delimited JSON TCP
// control protocol.
//
// Ownership boundary:
// - Client: runner.Backend and runner.CompletionWatcher over one dial per call
//
// - Serve: accept loop, per-peer rate limiting, request decode and response encode
//
// One request and one response per line. Failures carry a runner.ErrorCode so
// clients can rebuild runner.RemoteError without string matching.
package remote
