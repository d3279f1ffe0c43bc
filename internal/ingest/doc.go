// Package ingest drives the bundle pipeline over a staging source.
//
// A run lists candidate files, then takes each one through
// validate, checksum, signature, process and write. Every failure is
// local to its bundle: it is logged, reported, counted by kind and the
// run moves on. Only listing the source can fail a whole run.
//
// Watcher repeats runs on filesystem events or a poll interval.
package ingest
