// Package store defines the run history repository used by the progress
// sinks and the status API. Implementations live in other packages; this
// package must not import database drivers.
package store
