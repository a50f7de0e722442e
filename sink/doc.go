// Package sink persists attendance windows: CSV logs (one file per run, append-only)
// and an SQLite database shared between runs.
package sink
