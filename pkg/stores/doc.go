// Package stores provides the persistence layer for deploykit progress.
//
// A progress document records, per step, whether the step's resource has
// been created and configured for one (environment, scenario, mode) key.
// Every mutation rewrites the whole document through a Backend before it
// becomes visible in memory, so the persisted form is always one complete
// snapshot. Three backends are provided: FileBackend (one JSON file per key),
// SQLiteBackend (one row per key, plus the run journal) and MemoryBackend.
package stores
