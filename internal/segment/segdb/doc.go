// Package segdb records segmentation runs in a SQLite database.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary. All SQL for run records lives here so the pipeline and the layer
// packages stay free of storage concerns.
//
// Dependency rule: segdb may import pipeline and the segment layers; nothing
// below the CLI imports segdb.
package segdb
