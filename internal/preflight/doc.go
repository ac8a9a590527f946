// Package preflight runs the environment checks behind `nexus doctor`:
// the configuration, the store volume, memory, the file descriptor limit,
// the embedding backend and the OCR tools.
//
//	checker := preflight.New(cfg, storeRoot)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to index
//	}
package preflight
