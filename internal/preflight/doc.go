// Package preflight provides readiness checks for the directories and
// external binaries lyroi depends on.
//
// The CLI "lyroi status" command runs RunAll and renders the results; the
// predict command calls CheckBinary before spending time on workspace setup
// so a missing predictor fails fast.
package preflight
