// Package preflight checks that the index directory and the model services
// are usable before a build or when diagnosing a deployment.
//
// Checks:
//   - Disk space under the index directory (minimum 100MB)
//   - Write permissions in the index directory
//   - Snapshot presence and integrity
//   - Embedding service availability
//   - Reranker availability
//
// Only the filesystem checks are required; a missing snapshot or an
// unreachable model service degrades search but does not stop it.
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Target{IndexDir: dir})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
