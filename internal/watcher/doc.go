// Package watcher provides real-time corpus watching with automatic
// debouncing and ignore-rule filtering.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from editors and sync
// tools, and filtered against the corpus ignore rules so index churn is
// limited to documents that actually matter.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/corpus"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate, watcher.OpModify:
//	            // Re-ingest the document
//	        case watcher.OpDelete:
//	            // Drop the document from the index
//	        }
//	    }
//	}
package watcher
