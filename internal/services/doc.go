// Package services defines shared utilities consumed by the ensemble runner and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, mode names, and the active ensemble
//     member for logging.
//   - Structured error markers plus the Wrap helper that separate precondition
//     failures from external tool failures and "already exists" conditions.
//
// Use these helpers when wiring new run logic so error classification and
// observability stay uniform across the pipeline.
package services
