// Package progress carries run and page milestones from the scraper to
// pluggable sinks. Emit never blocks the caller; a background goroutine
// batches events and fans them out to the log, Prometheus, and run-history
// sinks.
package progress
