// Package config loads, normalizes, and validates lyroi configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LYROI_DIR and nnUNet_def_n_proc. Directories derived from the base directory
// (models, scratch, logs) are resolved in one pass so the workspace manager and
// the predictor receive absolute, sanitized paths.
//
// Always obtain settings through this package; nothing downstream reads the
// process environment for search paths.
package config
