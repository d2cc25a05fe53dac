//go:build gpuresdebug

package gpures

const debugChecks = true
