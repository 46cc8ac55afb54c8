// Package logs tails the lyroi log file for `lyroi logs`.
//
// Negative offsets mean "last N lines"; otherwise reads resume from a byte
// offset and only complete lines are returned. Follow mode wakes on file
// system notifications for the log file and falls back to polling. Lines
// can be filtered by a substring such as a run id.
package logs
