// Package extension hosts lifecycle-managed extensions such as the runner.
package extension
