// Package internal contains the implementation packages of docsmith.
//
// # Package Organization
//
//   - watcher: fsnotify watches on the source and template trees, folded
//     into semantic events on an unbounded queue
//   - rebuild: the single consumer of that queue; applies one event at a
//     time to the builder and signals a reload afterwards
//   - build: maps source paths to output paths and owns every write to
//     the output tree
//   - renderer: markdown to HTML fragments (goldmark, chroma)
//   - template: page and index templates of the selected site template
//   - reload: reload fan-out to SSE and WebSocket subscribers
//   - server: static file resolution with .html and index.html fallback
//   - config, logging, errors, version: ambient concerns
//
// # Data Flow
//
//	fsnotify -> watcher.Funnel -> watcher.Queue -> rebuild.Driver
//	    -> build.Builder (output tree) -> reload.Broadcaster -> browsers
//	browsers -> server.Resolver (reads output tree)
//
// # Concurrency
//
// Only the rebuild driver mutates the output tree, one event at a time.
// HTTP handlers read it concurrently without locks; every file is written
// to a temp file and renamed into place, so a reader sees either the old
// or the new content.
package internal
