//go:build !gpuresdebug

package gpures

// debugChecks turns contract violations into panics when built with
// -tags gpuresdebug.
const debugChecks = false
