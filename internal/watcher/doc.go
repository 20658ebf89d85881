// Package watcher reports changes to a directory of document files.
//
// DirWatcher uses fsnotify and falls back to polling where fsnotify fails
// (network mounts, some container volumes). Only files with a configured
// extension are reported; hidden files and hidden directories are skipped.
// Events for the same path are coalesced by a Debouncer so an editor save
// produces one event.
//
// Usage:
//
//	w, err := watcher.NewDirWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "/path/to/docs") }()
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        // event.Path is relative to the watched root
//	    }
//	}
package watcher
