// Package workspace manages the temporary run roots used while an ensemble
// prediction is in progress.
//
// Every run gets its own directory, named run-<unix nanoseconds>, inside a
// shared base directory. Per-model scratch directories are allocated inside
// the run root, and the whole tree is removed when the run ends, whether it
// succeeded, failed or was cancelled. CleanStale and ListDirectories deal
// with roots leaked by processes that were killed mid-run.
package workspace
