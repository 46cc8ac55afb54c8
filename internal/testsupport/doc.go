// Package testsupport holds fixtures shared by package tests: temp-dir
// configs, stub executables, mask volumes, and installed model trees.
package testsupport
