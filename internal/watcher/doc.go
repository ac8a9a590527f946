// Package watcher keeps a store current while files change. It watches
// directory trees with fsnotify, coalesces bursts of events per path, and
// applies each batch as single-file index or remove operations.
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	if err := w.Add(root); err != nil {
//	    return err
//	}
//	return watcher.Apply(ctx, w, lib, nil)
package watcher
