// Package modelstore inspects local model installations and compares them
// with a published version.
package modelstore
