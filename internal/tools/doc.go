// Package tools launches and supervises local tool processes for the execution server.
//
// Ownership boundary:
// - process launch, stop, and exit-code mapping
//
// - bounded output capture
package tools
