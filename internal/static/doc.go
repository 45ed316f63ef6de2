// Package static resolves request paths to files under the document
// root and serves them.
//
// Resolution enforces containment (no traversal above the root),
// refuses dotfile segments, and falls back to the configured index
// file for directories. Serving goes through http.ServeContent so
// range and conditional requests work; content types come from a
// fixed extension table.
//
// An optional TTL cache keeps small hot files in memory, invalidated
// by an fsnotify watcher on the document root.
package static
