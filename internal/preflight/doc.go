// Package preflight validates the environment before ingestion starts.
//
// The package checks:
//   - Disk space availability (minimum 100MB)
//   - Available memory (minimum 1GB, advisory where unreadable)
//   - Write permissions in the corpus directory
//   - File descriptor limits (minimum 1024)
//   - Embedding service reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithEmbedder(provider, endpoint))
//	results := checker.RunAll(ctx, corpusRoot)
//	if checker.HasCriticalFailures(results) {
//	    // Refuse to ingest
//	}
package preflight
