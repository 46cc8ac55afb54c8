// Package ensemble drives a mode's models one after another over the same
// input and merges their delineations.
//
// Models run strictly in the mode's declared order and never concurrently,
// since each may claim the whole compute device. Every model writes to its
// own directory inside a workspace run root; the merge only starts after the
// last model succeeded, and the run root is removed whatever the outcome.
package ensemble
