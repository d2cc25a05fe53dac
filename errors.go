// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"errors"
	"fmt"
)

// Resource management errors.
var (
	// ErrManagerClosed is returned when registering with a closed manager.
	ErrManagerClosed = errors.New("gpures: resource manager closed")

	// ErrAlreadyRegistered is returned when a resource is registered twice.
	ErrAlreadyRegistered = errors.New("gpures: resource already registered")

	// ErrNilResource is returned when a nil resource is passed to the manager.
	ErrNilResource = errors.New("gpures: resource is nil")

	// ErrGuardReleased is returned when a guard is used after Unlock.
	ErrGuardReleased = errors.New("gpures: guard used after unlock")

	// ErrOutOfVideoMemory reports that a device allocation failed because
	// video memory is exhausted. Allocation wrappers match it with errors.Is
	// to decide whether eviction can help.
	ErrOutOfVideoMemory = errors.New("gpures: out of video memory")
)

// FailureCode classifies the failure that triggered out-of-memory recovery.
type FailureCode uint8

const (
	// FailureNone is the zero value. It never triggers eviction.
	FailureNone FailureCode = iota

	// FailureOutOfVideoMemory means the device ran out of dedicated memory.
	FailureOutOfVideoMemory

	// FailureOutOfMemory means the device ran out of system memory
	// (for example staging or shared allocations).
	FailureOutOfMemory

	// FailureDeviceLost means the device is gone. Eviction cannot help;
	// the owner must tear everything down.
	FailureDeviceLost

	// FailureOther is any other creation failure.
	FailureOther
)

// String returns a human-readable name for the failure code.
func (c FailureCode) String() string {
	switch c {
	case FailureNone:
		return "None"
	case FailureOutOfVideoMemory:
		return "OutOfVideoMemory"
	case FailureOutOfMemory:
		return "OutOfMemory"
	case FailureDeviceLost:
		return "DeviceLost"
	case FailureOther:
		return "Other"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Recoverable reports whether freeing memory may let the failed
// allocation succeed on retry.
func (c FailureCode) Recoverable() bool {
	return c == FailureOutOfVideoMemory || c == FailureOutOfMemory
}

// violation reports a broken calling contract: double destruction,
// use-context underflow, mutation through a released guard and similar.
// Debug builds (tag gpuresdebug) panic. Release builds log a warning and
// let the caller fall through to its safe no-op path.
func (m *Manager) violation(msg string, args ...any) {
	m.violations.Add(1)
	if debugChecks {
		panic(fmt.Sprintf("gpures: contract violation: %s %v", msg, args))
	}
	m.log().Warn("gpures: contract violation: "+msg, args...)
}
