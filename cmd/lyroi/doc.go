// Package main hosts the lyroi CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, builds the logger, and
// hands off to the internal packages: predict drives the ensemble
// orchestrator, merge calls the delineation merger directly, watch runs an
// arbitrary predictor command under the process supervisor, and the
// remaining commands report on models, history, scratch space, and
// readiness.
package main
