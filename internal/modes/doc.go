// Package modes holds the read-only registry of operating modes.
//
// A mode names the input channels a case needs (by filename suffix), the
// ensemble of trained models that predict it, and the fold set each member
// evaluates. The built-in registry is embedded YAML; an alternative document
// can be loaded for custom installations.
package modes
